package teams

import (
	"context"
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

type kickRecorder struct {
	mu      sync.Mutex
	reasons map[uuid.UUID]string
}

func (k *kickRecorder) KickTeam(teamID uuid.UUID, reason string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.reasons == nil {
		k.reasons = make(map[uuid.UUID]string)
	}
	k.reasons[teamID] = reason
}

var resetTime = time.Date(2026, 3, 14, 21, 30, 0, 0, time.UTC)

func setup(t *testing.T) (*App, *memory.Store, *eventstest.Recorder, *kickRecorder) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(resetTime)
	s := memory.New(clock)
	rec := &eventstest.Recorder{}
	kicker := &kickRecorder{}
	app := NewApp(s, rec, clock, models.StartingCoins)
	app.SetSessionKicker(kicker)
	return app, s, rec, kicker
}

func createTeam(t *testing.T, s *memory.Store, name string, coins int) *models.Team {
	t.Helper()
	team, err := s.CreateTeam(context.Background(), store.CreateTeamParams{
		TeamName: name, RepName: name + " rep", Email: name + "@example.com", PasswordHash: "hash", Coins: coins,
	})
	require.NoError(t, err)
	return team
}

func TestLeaderboard(t *testing.T) {
	app, s, _, _ := setup(t)
	ctx := context.Background()

	createTeam(t, s, "alpha", 1500)
	beta := createTeam(t, s, "beta", 2500)
	gamma := createTeam(t, s, "gamma", 3000)
	createTeam(t, s, "delta", 1500)

	_, err := s.SetTeamActive(ctx, gamma.ID, false)
	require.NoError(t, err)

	board, err := app.Leaderboard(ctx)
	require.NoError(t, err)
	require.Len(t, board, 3, "inactive teams are left out")

	assert.Equal(t, beta.ID.String(), board[0].TeamID)
	assert.Equal(t, 1, board[0].Rank)
	assert.Equal(t, "alpha", board[1].TeamName, "ties break by name")
	assert.Equal(t, 2, board[1].Rank)
	assert.Equal(t, "delta", board[2].TeamName)
	assert.Equal(t, 3, board[2].Rank)
}

func TestDisableAndEnable(t *testing.T) {
	app, s, rec, kicker := setup(t)
	ctx := context.Background()
	alpha := createTeam(t, s, "alpha", 2000)

	_, err := s.SwapActiveConnection(ctx, alpha.ID, "conn-1")
	require.NoError(t, err)

	disabled, err := app.DisableTeam(ctx, alpha.ID)
	require.NoError(t, err)
	assert.False(t, disabled.IsActive)
	assert.Nil(t, disabled.ActiveConnectionID)
	assert.Equal(t, "disabled", kicker.reasons[alpha.ID])

	published := rec.OfType(events.TypeTeamDisabled)
	require.Len(t, published, 1)
	assert.Equal(t, alpha.ID.String(), eventstest.Decode[events.TeamDisabledPayload](t, published[0].Event).TeamID)

	enabled, err := app.EnableTeam(ctx, alpha.ID)
	require.NoError(t, err)
	assert.True(t, enabled.IsActive)

	_, err = app.DisableTeam(ctx, uuid.New())
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestSetCoins(t *testing.T) {
	app, s, rec, _ := setup(t)
	ctx := context.Background()
	alpha := createTeam(t, s, "alpha", 2000)

	_, err := app.SetCoins(ctx, alpha.ID, -1)
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	team, err := app.SetCoins(ctx, alpha.ID, 750)
	require.NoError(t, err)
	assert.Equal(t, 750, team.Coins)

	updated := rec.OfType(events.TypeCoinsUpdated)
	require.Len(t, updated, 1)
	payload := eventstest.Decode[events.CoinsUpdatedPayload](t, updated[0].Event)
	assert.Equal(t, 750, payload.Coins)
	assert.Equal(t, "alpha", payload.TeamName)
	assert.NotEmpty(t, rec.OfType(events.TypeLeaderboard))

	_, err = app.SetCoins(ctx, uuid.New(), 10)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestResetAll(t *testing.T) {
	app, s, rec, _ := setup(t)
	ctx := context.Background()
	alpha := createTeam(t, s, "alpha", 10)
	beta := createTeam(t, s, "beta", 0)
	_, err := s.SetTeamActive(ctx, beta.ID, false)
	require.NoError(t, err)

	n, err := app.ResetAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, id := range []uuid.UUID{alpha.ID, beta.ID} {
		team, err := app.GetTeam(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.StartingCoins, team.Coins)
		assert.True(t, team.IsActive)
		assert.Zero(t, team.TotalBids)
	}

	reset := rec.OfType(events.TypeGameReset)
	require.Len(t, reset, 1)
	payload := eventstest.Decode[events.GameResetPayload](t, reset[0].Event)
	assert.Equal(t, models.StartingCoins, payload.StartingCoins)
	assert.True(t, resetTime.Equal(payload.ResetAt), "reset is stamped from the app clock")
}

func TestDeleteTeam(t *testing.T) {
	app, s, _, kicker := setup(t)
	ctx := context.Background()
	alpha := createTeam(t, s, "alpha", 2000)

	require.NoError(t, app.DeleteTeam(ctx, alpha.ID))
	assert.Equal(t, "deleted", kicker.reasons[alpha.ID])

	_, err := app.GetTeam(ctx, alpha.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	assert.True(t, apperr.Is(app.DeleteTeam(ctx, alpha.ID), apperr.KindNotFound))
}
