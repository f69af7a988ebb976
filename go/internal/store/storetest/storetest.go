// Package storetest is a contract suite every store backend must pass.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/codebid/go/internal/models"
	"github.com/mcdev12/codebid/go/internal/store"
)

// Store is the full surface a backend exposes
type Store interface {
	CreateTeam(ctx context.Context, p store.CreateTeamParams) (*models.Team, error)
	GetTeam(ctx context.Context, id uuid.UUID) (*models.Team, error)
	GetTeamByEmail(ctx context.Context, email string) (*models.Team, error)
	ListTeams(ctx context.Context) ([]models.Team, error)
	ClaimBidAttempt(ctx context.Context, teamID uuid.UUID, at time.Time, cooldown time.Duration) error
	SwapActiveConnection(ctx context.Context, teamID uuid.UUID, connID string) (*string, error)
	ClearActiveConnection(ctx context.Context, teamID uuid.UUID, connID string) (bool, error)
	SetTeamActive(ctx context.Context, id uuid.UUID, active bool) (*models.Team, error)
	SetCoins(ctx context.Context, id uuid.UUID, coins int) (*models.Team, error)
	ResetAllTeams(ctx context.Context, coins int) (int, error)
	DeleteTeam(ctx context.Context, id uuid.UUID) error

	CreateRound(ctx context.Context, r models.Round) (*models.Round, error)
	GetRound(ctx context.Context, id uuid.UUID) (*models.Round, error)
	GetLiveRound(ctx context.Context) (*models.Round, error)
	LastRoundNumber(ctx context.Context) (int, error)
	ListRounds(ctx context.Context, limit int) ([]models.Round, error)
	AppendBid(ctx context.Context, roundID uuid.UUID, bid models.Bid) (*models.Round, error)
	CloseBidding(ctx context.Context, roundID uuid.UUID, endedAt time.Time, decide store.CloseFunc) (*models.Round, error)
	SubmitAnswer(ctx context.Context, roundID, teamID uuid.UUID, answer string) (*models.Round, error)
	SettleRound(ctx context.Context, st store.Settlement) (*models.Round, *models.Team, error)
	ForceComplete(ctx context.Context, roundID uuid.UUID, completedAt time.Time) (*models.Round, error)
}

// Factory returns an empty store for one subtest.
type Factory func(t *testing.T) Store

// Run executes the contract suite against fresh stores from newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s Store)
	}{
		{"TeamLifecycle", testTeamLifecycle},
		{"DuplicateTeam", testDuplicateTeam},
		{"BidCooldown", testBidCooldown},
		{"ConnectionCompareAndClear", testConnectionCompareAndClear},
		{"SingleLiveRound", testSingleLiveRound},
		{"AppendBidOncePerTeam", testAppendBidOncePerTeam},
		{"ConcurrentAppendBid", testConcurrentAppendBid},
		{"CloseBiddingOnce", testCloseBiddingOnce},
		{"CloseWithoutBids", testCloseWithoutBids},
		{"SubmitAnswer", testSubmitAnswer},
		{"SettleRoundOnce", testSettleRoundOnce},
		{"ForceComplete", testForceComplete},
		{"RoundHistory", testRoundHistory},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

func mustTeam(t *testing.T, s Store, name string, coins int) *models.Team {
	t.Helper()
	team, err := s.CreateTeam(context.Background(), store.CreateTeamParams{
		TeamName:     name,
		RepName:      name + " rep",
		Email:        fmt.Sprintf("%s@example.com", name),
		PasswordHash: "hash",
		Coins:        coins,
	})
	require.NoError(t, err)
	return team
}

func mustRound(t *testing.T, s Store, number int) *models.Round {
	t.Helper()
	r, err := s.CreateRound(context.Background(), models.Round{
		ID:               uuid.New(),
		RoundNumber:      number,
		Title:            fmt.Sprintf("Question %d", number),
		Category:         models.CategoryMedium,
		Status:           models.RoundStatusBidding,
		BidDuration:      30,
		AnswerDuration:   60,
		BiddingStartedAt: now(),
	})
	require.NoError(t, err)
	return r
}

func highestBid(bids []models.Bid) store.CloseOutcome {
	if len(bids) == 0 {
		return store.CloseOutcome{}
	}
	best := bids[0]
	for _, b := range bids[1:] {
		if b.Amount > best.Amount || (b.Amount == best.Amount && b.Timestamp.Before(best.Timestamp)) {
			best = b
		}
	}
	return store.CloseOutcome{WinnerID: &best.TeamID, WinnerName: &best.TeamName, WinningBid: &best.Amount}
}

func testTeamLifecycle(t *testing.T, s Store) {
	ctx := context.Background()
	team := mustTeam(t, s, "alpha", models.StartingCoins)
	assert.True(t, team.IsActive)
	assert.Equal(t, models.StartingCoins, team.Coins)

	byEmail, err := s.GetTeamByEmail(ctx, "ALPHA@example.com")
	require.NoError(t, err)
	assert.Equal(t, team.ID, byEmail.ID)

	updated, err := s.SetCoins(ctx, team.ID, 750)
	require.NoError(t, err)
	assert.Equal(t, 750, updated.Coins)

	disabled, err := s.SetTeamActive(ctx, team.ID, false)
	require.NoError(t, err)
	assert.False(t, disabled.IsActive)

	mustTeam(t, s, "beta", 100)
	n, err := s.ResetAllTeams(ctx, models.StartingCoins)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	teams, err := s.ListTeams(ctx)
	require.NoError(t, err)
	require.Len(t, teams, 2)
	for _, tm := range teams {
		assert.Equal(t, models.StartingCoins, tm.Coins)
		assert.True(t, tm.IsActive)
		assert.Zero(t, tm.TotalBids)
	}

	require.NoError(t, s.DeleteTeam(ctx, team.ID))
	_, err = s.GetTeam(ctx, team.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, s.DeleteTeam(ctx, team.ID), store.ErrNotFound)
}

func testDuplicateTeam(t *testing.T, s Store) {
	mustTeam(t, s, "alpha", 10)
	_, err := s.CreateTeam(context.Background(), store.CreateTeamParams{
		TeamName: "other", Email: "alpha@example.com", PasswordHash: "x", Coins: 10,
	})
	assert.ErrorIs(t, err, store.ErrDuplicate)
}

func testBidCooldown(t *testing.T, s Store) {
	ctx := context.Background()
	team := mustTeam(t, s, "alpha", 100)
	cooldown := 1500 * time.Millisecond
	t0 := now()

	require.NoError(t, s.ClaimBidAttempt(ctx, team.ID, t0, cooldown))
	assert.ErrorIs(t, s.ClaimBidAttempt(ctx, team.ID, t0.Add(500*time.Millisecond), cooldown), store.ErrConditionFailed)
	require.NoError(t, s.ClaimBidAttempt(ctx, team.ID, t0.Add(2000*time.Millisecond), cooldown))

	got, err := s.GetTeam(ctx, team.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastBidAt)
	assert.WithinDuration(t, t0.Add(2000*time.Millisecond), *got.LastBidAt, time.Millisecond)

	assert.ErrorIs(t, s.ClaimBidAttempt(ctx, uuid.New(), t0, cooldown), store.ErrNotFound)
}

func testConnectionCompareAndClear(t *testing.T, s Store) {
	ctx := context.Background()
	team := mustTeam(t, s, "alpha", 100)

	prev, err := s.SwapActiveConnection(ctx, team.ID, "conn-a")
	require.NoError(t, err)
	assert.Nil(t, prev)

	prev, err = s.SwapActiveConnection(ctx, team.ID, "conn-b")
	require.NoError(t, err)
	require.NotNil(t, prev)
	assert.Equal(t, "conn-a", *prev)

	cleared, err := s.ClearActiveConnection(ctx, team.ID, "conn-a")
	require.NoError(t, err)
	assert.False(t, cleared, "stale disconnect must not clear the newer connection")

	got, err := s.GetTeam(ctx, team.ID)
	require.NoError(t, err)
	assert.True(t, got.HoldsConnection("conn-b"))

	cleared, err = s.ClearActiveConnection(ctx, team.ID, "conn-b")
	require.NoError(t, err)
	assert.True(t, cleared)
}

func testSingleLiveRound(t *testing.T, s Store) {
	ctx := context.Background()
	first := mustRound(t, s, 1)

	_, err := s.CreateRound(ctx, models.Round{
		ID: uuid.New(), RoundNumber: 2, Title: "second", Category: models.CategoryEasy,
		Status: models.RoundStatusBidding, BidDuration: 30, AnswerDuration: 60, BiddingStartedAt: now(),
	})
	assert.ErrorIs(t, err, store.ErrLiveRoundExists)

	live, err := s.GetLiveRound(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, live.ID)

	_, err = s.ForceComplete(ctx, first.ID, now())
	require.NoError(t, err)
	_, err = s.GetLiveRound(ctx)
	assert.ErrorIs(t, err, store.ErrNotFound)

	mustRound(t, s, 2)
}

func testAppendBidOncePerTeam(t *testing.T, s Store) {
	ctx := context.Background()
	team := mustTeam(t, s, "alpha", 100)
	r := mustRound(t, s, 1)

	bid := models.Bid{TeamID: team.ID, TeamName: team.TeamName, Amount: 40, Timestamp: now()}
	updated, err := s.AppendBid(ctx, r.ID, bid)
	require.NoError(t, err)
	require.Len(t, updated.Bids, 1)
	assert.Equal(t, 40, updated.Bids[0].Amount)

	bid.Amount = 60
	_, err = s.AppendBid(ctx, r.ID, bid)
	assert.ErrorIs(t, err, store.ErrDuplicate)

	got, err := s.GetRound(ctx, r.ID)
	require.NoError(t, err)
	assert.Len(t, got.Bids, 1)
}

func testConcurrentAppendBid(t *testing.T, s Store) {
	ctx := context.Background()
	team := mustTeam(t, s, "alpha", 1000)
	r := mustRound(t, s, 1)

	const attempts = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(amount int) {
			defer wg.Done()
			_, err := s.AppendBid(ctx, r.ID, models.Bid{
				TeamID: team.ID, TeamName: team.TeamName, Amount: amount, Timestamp: now(),
			})
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}(i + 1)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	got, err := s.GetRound(ctx, r.ID)
	require.NoError(t, err)
	assert.Len(t, got.Bids, 1)
}

func testCloseBiddingOnce(t *testing.T, s Store) {
	ctx := context.Background()
	a := mustTeam(t, s, "alpha", 500)
	b := mustTeam(t, s, "beta", 500)
	r := mustRound(t, s, 1)
	t0 := now()

	_, err := s.AppendBid(ctx, r.ID, models.Bid{TeamID: a.ID, TeamName: a.TeamName, Amount: 80, Timestamp: t0.Add(2 * time.Second)})
	require.NoError(t, err)
	_, err = s.AppendBid(ctx, r.ID, models.Bid{TeamID: b.ID, TeamName: b.TeamName, Amount: 80, Timestamp: t0})
	require.NoError(t, err)

	calls := 0
	decide := func(bids []models.Bid) store.CloseOutcome {
		calls++
		return highestBid(bids)
	}

	closed, err := s.CloseBidding(ctx, r.ID, t0.Add(5*time.Second), decide)
	require.NoError(t, err)
	assert.Equal(t, models.RoundStatusReviewing, closed.Status)
	require.NotNil(t, closed.WinnerID)
	assert.Equal(t, b.ID, *closed.WinnerID)
	assert.Equal(t, 80, *closed.WinningBid)
	require.NotNil(t, closed.BiddingEndedAt)

	_, err = s.CloseBidding(ctx, r.ID, t0.Add(6*time.Second), decide)
	assert.ErrorIs(t, err, store.ErrConditionFailed)

	_, err = s.AppendBid(ctx, r.ID, models.Bid{TeamID: uuid.New(), TeamName: "late", Amount: 1, Timestamp: t0})
	assert.ErrorIs(t, err, store.ErrConditionFailed)
	assert.GreaterOrEqual(t, calls, 1)
}

func testCloseWithoutBids(t *testing.T, s Store) {
	ctx := context.Background()
	r := mustRound(t, s, 1)

	closed, err := s.CloseBidding(ctx, r.ID, now(), highestBid)
	require.NoError(t, err)
	assert.Equal(t, models.RoundStatusCompleted, closed.Status)
	assert.Nil(t, closed.WinnerID)
	assert.NotNil(t, closed.CompletedAt)

	_, err = s.GetLiveRound(ctx)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func closedWithWinner(t *testing.T, s Store, team *models.Team, amount int) *models.Round {
	t.Helper()
	ctx := context.Background()
	r := mustRound(t, s, 1)
	_, err := s.AppendBid(ctx, r.ID, models.Bid{TeamID: team.ID, TeamName: team.TeamName, Amount: amount, Timestamp: now()})
	require.NoError(t, err)
	closed, err := s.CloseBidding(ctx, r.ID, now(), highestBid)
	require.NoError(t, err)
	return closed
}

func testSubmitAnswer(t *testing.T, s Store) {
	ctx := context.Background()
	winner := mustTeam(t, s, "alpha", 500)
	other := mustTeam(t, s, "beta", 500)
	r := closedWithWinner(t, s, winner, 100)

	_, err := s.SubmitAnswer(ctx, r.ID, other.ID, "B")
	assert.ErrorIs(t, err, store.ErrConditionFailed)

	answered, err := s.SubmitAnswer(ctx, r.ID, winner.ID, "C")
	require.NoError(t, err)
	require.NotNil(t, answered.SubmittedAnswer)
	assert.Equal(t, "C", *answered.SubmittedAnswer)

	_, err = s.SubmitAnswer(ctx, r.ID, winner.ID, "D")
	assert.ErrorIs(t, err, store.ErrConditionFailed)
}

func testSettleRoundOnce(t *testing.T, s Store) {
	ctx := context.Background()
	winner := mustTeam(t, s, "alpha", 200)
	r := closedWithWinner(t, s, winner, 200)

	calls := 0
	settle := store.Settlement{
		RoundID:     r.ID,
		Result:      models.ResultWrong,
		CompletedAt: now(),
		Adjust: func(round models.Round, team models.Team) (models.Team, int) {
			calls++
			before := team.Coins
			team.Coins -= *round.WinningBid
			if team.Coins <= 0 {
				team.Coins = 0
				team.IsActive = false
			}
			team.WrongAnswers++
			team.TotalBids++
			return team, team.Coins - before
		},
	}

	round, team, err := s.SettleRound(ctx, settle)
	require.NoError(t, err)
	assert.Equal(t, models.RoundStatusCompleted, round.Status)
	require.NotNil(t, round.Result)
	assert.Equal(t, models.ResultWrong, *round.Result)
	assert.Equal(t, -200, round.CoinsAwarded)
	assert.Equal(t, 0, team.Coins)
	assert.False(t, team.IsActive)
	assert.Equal(t, 1, team.WrongAnswers)

	_, _, err = s.SettleRound(ctx, settle)
	assert.ErrorIs(t, err, store.ErrConditionFailed)
	assert.Equal(t, 1, calls)

	stored, err := s.GetTeam(ctx, winner.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.Coins)
	assert.Equal(t, 1, stored.TotalBids)
}

func testForceComplete(t *testing.T, s Store) {
	ctx := context.Background()
	team := mustTeam(t, s, "alpha", 500)
	r := closedWithWinner(t, s, team, 50)

	done, err := s.ForceComplete(ctx, r.ID, now())
	require.NoError(t, err)
	assert.Equal(t, models.RoundStatusCompleted, done.Status)
	assert.Nil(t, done.Result)

	_, err = s.ForceComplete(ctx, r.ID, now())
	assert.ErrorIs(t, err, store.ErrConditionFailed)

	unchanged, err := s.GetTeam(ctx, team.ID)
	require.NoError(t, err)
	assert.Equal(t, 500, unchanged.Coins)
}

func testRoundHistory(t *testing.T, s Store) {
	ctx := context.Background()
	last, err := s.LastRoundNumber(ctx)
	require.NoError(t, err)
	assert.Zero(t, last)

	for i := 1; i <= 3; i++ {
		r := mustRound(t, s, i)
		_, err := s.ForceComplete(ctx, r.ID, now())
		require.NoError(t, err)
	}

	last, err = s.LastRoundNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, last)

	rounds, err := s.ListRounds(ctx, 2)
	require.NoError(t, err)
	require.Len(t, rounds, 2)
	assert.Equal(t, 3, rounds[0].RoundNumber)
	assert.Equal(t, 2, rounds[1].RoundNumber)
}
