package bid

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/codebid/go/internal/apperr"
	"github.com/mcdev12/codebid/go/internal/auction/events"
	"github.com/mcdev12/codebid/go/internal/auction/events/eventstest"
	"github.com/mcdev12/codebid/go/internal/models"
	"github.com/mcdev12/codebid/go/internal/store"
	"github.com/mcdev12/codebid/go/internal/store/memory"
)

var t0 = time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)

type fixture struct {
	ctx    context.Context
	clock  *clockwork.FakeClock
	store  *memory.Store
	rec    *eventstest.Recorder
	ledger *Ledger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := clockwork.NewFakeClockAt(t0)
	s := memory.New(clock)
	rec := &eventstest.Recorder{}
	return &fixture{
		ctx:    context.Background(),
		clock:  clock,
		store:  s,
		rec:    rec,
		ledger: NewLedger(s, rec, clock, DefaultCooldown),
	}
}

func (f *fixture) team(t *testing.T, name string, coins int) models.Identity {
	t.Helper()
	team, err := f.store.CreateTeam(f.ctx, store.CreateTeamParams{
		TeamName:     name,
		RepName:      name + " rep",
		Email:        name + "@example.com",
		PasswordHash: "hash",
		Coins:        coins,
	})
	require.NoError(t, err)
	return models.TeamIdentity(team.ID, team.TeamName, team.Email)
}

func (f *fixture) biddingRound(t *testing.T) *models.Round {
	t.Helper()
	r, err := f.store.CreateRound(f.ctx, models.Round{
		RoundNumber:      1,
		Title:            "Reverse a linked list",
		Category:         models.CategoryMedium,
		Status:           models.RoundStatusBidding,
		BidDuration:      30,
		AnswerDuration:   60,
		BiddingStartedAt: f.clock.Now(),
	})
	require.NoError(t, err)
	return r
}

func (f *fixture) bid(identity models.Identity, amount int) error {
	_, err := f.ledger.PlaceBid(f.ctx, PlaceBidRequest{Identity: identity, Amount: amount})
	return err
}

func TestPlaceBidCheckOrder(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, f *fixture) PlaceBidRequest
		want  apperr.Kind
	}{
		{
			name: "admin cannot bid even with a bad amount",
			setup: func(t *testing.T, f *fixture) PlaceBidRequest {
				return PlaceBidRequest{Identity: models.AdminIdentity("admin@example.com"), Amount: 0}
			},
			want: apperr.KindForbidden,
		},
		{
			name: "non positive amount",
			setup: func(t *testing.T, f *fixture) PlaceBidRequest {
				return PlaceBidRequest{Identity: models.TeamIdentity(uuid.New(), "ghost", "g@example.com"), Amount: -5}
			},
			want: apperr.KindValidation,
		},
		{
			name: "unknown team",
			setup: func(t *testing.T, f *fixture) PlaceBidRequest {
				return PlaceBidRequest{Identity: models.TeamIdentity(uuid.New(), "ghost", "g@example.com"), Amount: 10}
			},
			want: apperr.KindNotFound,
		},
		{
			name: "disabled team over its balance",
			setup: func(t *testing.T, f *fixture) PlaceBidRequest {
				id := f.team(t, "alpha", 100)
				_, err := f.store.SetTeamActive(f.ctx, id.TeamID, false)
				require.NoError(t, err)
				return PlaceBidRequest{Identity: id, Amount: 500}
			},
			want: apperr.KindForbidden,
		},
		{
			name: "superseded connection",
			setup: func(t *testing.T, f *fixture) PlaceBidRequest {
				id := f.team(t, "alpha", 100)
				_, err := f.store.SwapActiveConnection(f.ctx, id.TeamID, "new-conn")
				require.NoError(t, err)
				return PlaceBidRequest{Identity: id, ConnectionID: "old-conn", Amount: 10}
			},
			want: apperr.KindForbidden,
		},
		{
			name: "sessionless bid while connected live",
			setup: func(t *testing.T, f *fixture) PlaceBidRequest {
				id := f.team(t, "alpha", 100)
				_, err := f.store.SwapActiveConnection(f.ctx, id.TeamID, "live-conn")
				require.NoError(t, err)
				return PlaceBidRequest{Identity: id, Amount: 10}
			},
			want: apperr.KindForbidden,
		},
		{
			name: "over balance",
			setup: func(t *testing.T, f *fixture) PlaceBidRequest {
				f.biddingRound(t)
				return PlaceBidRequest{Identity: f.team(t, "alpha", 100), Amount: 101}
			},
			want: apperr.KindInsufficientFunds,
		},
		{
			name: "inside cooldown",
			setup: func(t *testing.T, f *fixture) PlaceBidRequest {
				id := f.team(t, "alpha", 100)
				require.NoError(t, f.store.ClaimBidAttempt(f.ctx, id.TeamID, f.clock.Now(), DefaultCooldown))
				f.clock.Advance(time.Second)
				return PlaceBidRequest{Identity: id, Amount: 10}
			},
			want: apperr.KindRateLimited,
		},
		{
			name: "no live round",
			setup: func(t *testing.T, f *fixture) PlaceBidRequest {
				return PlaceBidRequest{Identity: f.team(t, "alpha", 100), Amount: 10}
			},
			want: apperr.KindConflict,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			req := tt.setup(t, f)

			_, err := f.ledger.PlaceBid(f.ctx, req)
			require.Error(t, err)
			assert.Equal(t, tt.want, apperr.KindOf(err), "got %v", err)
			assert.Empty(t, f.rec.OfType(events.TypeBidReceived))
		})
	}
}

func TestPlaceBidRecordsAndBroadcasts(t *testing.T) {
	f := newFixture(t)
	round := f.biddingRound(t)
	alpha := f.team(t, "alpha", 500)

	_, err := f.store.SwapActiveConnection(f.ctx, alpha.TeamID, "conn-1")
	require.NoError(t, err)

	got, err := f.ledger.PlaceBid(f.ctx, PlaceBidRequest{Identity: alpha, ConnectionID: "conn-1", Amount: 500})
	require.NoError(t, err)
	assert.Equal(t, 500, got.Amount)
	assert.Equal(t, "alpha", got.TeamName)
	assert.True(t, got.Timestamp.Equal(t0))

	stored, err := f.store.GetRound(f.ctx, round.ID)
	require.NoError(t, err)
	require.Len(t, stored.Bids, 1)
	assert.Equal(t, alpha.TeamID, stored.Bids[0].TeamID)

	team, err := f.store.GetTeam(f.ctx, alpha.TeamID)
	require.NoError(t, err)
	require.NotNil(t, team.LastBidAt)
	assert.True(t, team.LastBidAt.Equal(t0))
	assert.Equal(t, 500, team.Coins, "coins only move at settlement")

	published := f.rec.OfType(events.TypeBidReceived)
	require.Len(t, published, 1)
	assert.True(t, published[0].To.Public())
	payload := eventstest.Decode[events.BidReceivedPayload](t, published[0].Event)
	assert.Equal(t, "alpha", payload.TeamName)
	assert.Equal(t, 500, payload.Amount)
	assert.Equal(t, 1, payload.BidCount)
}

func TestPlaceBidOncePerRound(t *testing.T) {
	f := newFixture(t)
	f.biddingRound(t)
	alpha := f.team(t, "alpha", 500)

	require.NoError(t, f.bid(alpha, 100))

	f.clock.Advance(2 * time.Second)
	err := f.bid(alpha, 200)
	assert.True(t, apperr.Is(err, apperr.KindConflict), "got %v", err)
}

func TestCooldownCountsAttemptsNotSuccesses(t *testing.T) {
	f := newFixture(t)
	alpha := f.team(t, "alpha", 500)

	// No round yet: the attempt is rejected but still starts the cooldown.
	assert.True(t, apperr.Is(f.bid(alpha, 50), apperr.KindConflict))

	f.biddingRound(t)
	f.clock.Advance(time.Second)
	assert.True(t, apperr.Is(f.bid(alpha, 50), apperr.KindRateLimited))

	f.clock.Advance(1500 * time.Millisecond)
	assert.NoError(t, f.bid(alpha, 50))
}

func TestEarlierRejectionsDoNotStartCooldown(t *testing.T) {
	f := newFixture(t)
	f.biddingRound(t)
	alpha := f.team(t, "alpha", 100)

	assert.True(t, apperr.Is(f.bid(alpha, 0), apperr.KindValidation))
	assert.True(t, apperr.Is(f.bid(alpha, 1000), apperr.KindInsufficientFunds))
	assert.NoError(t, f.bid(alpha, 100), "balance equal to the bid is allowed")
}

func TestBidAfterDeadlineIsRejected(t *testing.T) {
	f := newFixture(t)
	f.biddingRound(t)
	alpha := f.team(t, "alpha", 100)

	f.clock.Advance(30 * time.Second)
	err := f.bid(alpha, 10)
	assert.True(t, apperr.Is(err, apperr.KindConflict), "got %v", err)
}

func TestBidWhileReviewingIsRejected(t *testing.T) {
	f := newFixture(t)
	round := f.biddingRound(t)
	alpha, beta := f.team(t, "alpha", 100), f.team(t, "beta", 100)

	require.NoError(t, f.bid(alpha, 10))
	_, err := f.store.CloseBidding(f.ctx, round.ID, f.clock.Now(), CloseOutcome)
	require.NoError(t, err)

	assert.True(t, apperr.Is(f.bid(beta, 10), apperr.KindConflict))
}

func TestConcurrentBidsFromManyTeams(t *testing.T) {
	f := newFixture(t)
	round := f.biddingRound(t)

	const n = 20
	teams := make([]models.Identity, n)
	for i := range teams {
		teams[i] = f.team(t, fmt.Sprintf("team-%02d", i), 1000)
	}

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := range teams {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = f.bid(teams[i], 10+i)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "team %d", i)
	}
	stored, err := f.store.GetRound(f.ctx, round.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Bids, n)
	assert.Len(t, f.rec.OfType(events.TypeBidReceived), n)
}

func TestConcurrentBidsFromOneTeam(t *testing.T) {
	f := newFixture(t)
	round := f.biddingRound(t)
	alpha := f.team(t, "alpha", 1000)

	const n = 10
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(amount int) {
			defer wg.Done()
			errs <- f.bid(alpha, amount)
		}(100 + i)
	}
	wg.Wait()
	close(errs)

	ok := 0
	for err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.True(t, apperr.Is(err, apperr.KindRateLimited) || apperr.Is(err, apperr.KindConflict), "got %v", err)
	}
	assert.Equal(t, 1, ok)

	stored, err := f.store.GetRound(f.ctx, round.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Bids, 1)
}

func TestSelectWinner(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	bids := []models.Bid{
		{TeamID: a, TeamName: "a", Amount: 300, Timestamp: t0.Add(3 * time.Second)},
		{TeamID: b, TeamName: "b", Amount: 500, Timestamp: t0.Add(5 * time.Second)},
		{TeamID: c, TeamName: "c", Amount: 500, Timestamp: t0.Add(4 * time.Second)},
	}

	w, ok := SelectWinner(bids)
	require.True(t, ok)
	assert.Equal(t, c, w.TeamID, "earlier bid wins a tie")

	_, ok = SelectWinner(nil)
	assert.False(t, ok)

	outcome := CloseOutcome(bids[:1])
	require.NotNil(t, outcome.WinnerID)
	assert.Equal(t, a, *outcome.WinnerID)
	assert.Equal(t, 300, *outcome.WinningBid)
	assert.Equal(t, models.RoundStatusReviewing, outcome.Status())

	assert.Equal(t, models.RoundStatusCompleted, CloseOutcome(nil).Status())
}
