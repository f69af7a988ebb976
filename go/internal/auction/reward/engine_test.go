package reward

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/codebid/go/internal/apperr"
	"github.com/mcdev12/codebid/go/internal/models"
	"github.com/mcdev12/codebid/go/internal/store"
	"github.com/mcdev12/codebid/go/internal/store/memory"
)

func intPtr(v int) *int { return &v }

func TestAdjust(t *testing.T) {
	e := NewEngine(nil, DefaultPolicy(), clockwork.NewFakeClock())

	tests := []struct {
		name       string
		category   models.Category
		coins      int
		bid        int
		result     models.Result
		wantCoins  int
		wantDelta  int
		wantActive bool
	}{
		{"easy correct", models.CategoryEasy, 500, 300, models.ResultCorrect, 600, 100, true},
		{"medium correct", models.CategoryMedium, 500, 300, models.ResultCorrect, 700, 200, true},
		{"hard correct", models.CategoryHard, 500, 300, models.ResultCorrect, 900, 400, true},
		{"wrong debits the bid", models.CategoryHard, 500, 300, models.ResultWrong, 200, -300, true},
		{"wrong to exactly zero eliminates", models.CategoryEasy, 200, 200, models.ResultWrong, 0, -200, false},
		{"wrong floors at zero", models.CategoryEasy, 100, 250, models.ResultWrong, 0, -100, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			round := models.Round{Category: tt.category, WinningBid: intPtr(tt.bid)}
			team := models.Team{Coins: tt.coins, IsActive: true}

			got, delta := e.Adjust(round, team, tt.result)

			assert.Equal(t, tt.wantCoins, got.Coins)
			assert.Equal(t, tt.wantDelta, delta)
			assert.Equal(t, tt.wantActive, got.IsActive)
			assert.Equal(t, 1, got.TotalBids)
			if tt.result == models.ResultCorrect {
				assert.Equal(t, 1, got.CorrectAnswers)
			} else {
				assert.Equal(t, 1, got.WrongAnswers)
			}
		})
	}
}

func TestAdjustWithoutElimination(t *testing.T) {
	policy := DefaultPolicy()
	policy.EliminateAtZero = false
	e := NewEngine(nil, policy, clockwork.NewFakeClock())

	got, _ := e.Adjust(models.Round{WinningBid: intPtr(50)}, models.Team{Coins: 50, IsActive: true}, models.ResultWrong)
	assert.Zero(t, got.Coins)
	assert.True(t, got.IsActive)
}

func TestPolicyValidate(t *testing.T) {
	require.NoError(t, DefaultPolicy().Validate())

	p := DefaultPolicy()
	delete(p.Rewards, models.CategoryHard)
	assert.Error(t, p.Validate())

	p = DefaultPolicy()
	p.Rewards[models.CategoryEasy] = -1
	assert.Error(t, p.Validate())
}

func reviewingRound(t *testing.T, s *memory.Store, coins, bid int) (*models.Round, *models.Team) {
	t.Helper()
	ctx := context.Background()

	team, err := s.CreateTeam(ctx, store.CreateTeamParams{
		TeamName: "alpha", Email: "alpha@example.com", PasswordHash: "x", Coins: coins,
	})
	require.NoError(t, err)

	r, err := s.CreateRound(ctx, models.Round{
		RoundNumber: 1, Title: "q1", Category: models.CategoryMedium, Status: models.RoundStatusBidding,
		BidDuration: 30, AnswerDuration: 60, BiddingStartedAt: time.Now(),
	})
	require.NoError(t, err)

	_, err = s.AppendBid(ctx, r.ID, models.Bid{TeamID: team.ID, TeamName: team.TeamName, Amount: bid, Timestamp: time.Now()})
	require.NoError(t, err)

	r, err = s.CloseBidding(ctx, r.ID, time.Now(), func(bids []models.Bid) store.CloseOutcome {
		b := bids[0]
		return store.CloseOutcome{WinnerID: &b.TeamID, WinnerName: &b.TeamName, WinningBid: &b.Amount}
	})
	require.NoError(t, err)
	return r, team
}

func TestApplyResultEliminatesAtZero(t *testing.T) {
	s := memory.New(clockwork.NewRealClock())
	round, team := reviewingRound(t, s, 200, 200)
	e := NewEngine(s, DefaultPolicy(), clockwork.NewRealClock())

	settled, err := e.ApplyResult(context.Background(), Verdict{RoundID: round.ID, Result: models.ResultWrong})
	require.NoError(t, err)

	assert.Equal(t, 0, settled.Team.Coins)
	assert.False(t, settled.Team.IsActive)
	assert.True(t, settled.Eliminated)
	assert.Equal(t, -200, settled.Delta)
	assert.Equal(t, models.RoundStatusCompleted, settled.Round.Status)

	stored, err := s.GetTeam(context.Background(), team.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.Coins)
	assert.False(t, stored.IsActive)
}

func TestApplyResultRunsOnce(t *testing.T) {
	s := memory.New(clockwork.NewRealClock())
	round, team := reviewingRound(t, s, 500, 100)
	e := NewEngine(s, DefaultPolicy(), clockwork.NewRealClock())
	ctx := context.Background()

	_, err := e.ApplyResult(ctx, Verdict{RoundID: round.ID, Result: models.ResultCorrect})
	require.NoError(t, err)

	_, err = e.ApplyResult(ctx, Verdict{RoundID: round.ID, Result: models.ResultWrong, TimedOut: true})
	assert.True(t, apperr.Is(err, apperr.KindConflict))

	stored, err := s.GetTeam(ctx, team.ID)
	require.NoError(t, err)
	assert.Equal(t, 700, stored.Coins)
	assert.Equal(t, 1, stored.CorrectAnswers)
	assert.Zero(t, stored.WrongAnswers)
}

func TestApplyResultRejectsUnknownVerdict(t *testing.T) {
	e := NewEngine(memory.New(nil), DefaultPolicy(), clockwork.NewRealClock())
	_, err := e.ApplyResult(context.Background(), Verdict{RoundID: uuid.New(), Result: "maybe"})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}
