package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/codebid/go/internal/auction/bid"
	"github.com/mcdev12/codebid/go/internal/auction/events/eventstest"
	"github.com/mcdev12/codebid/go/internal/auction/recovery"
	"github.com/mcdev12/codebid/go/internal/auction/reward"
	"github.com/mcdev12/codebid/go/internal/auction/round"
	"github.com/mcdev12/codebid/go/internal/auction/timer"
	"github.com/mcdev12/codebid/go/internal/auth"
	"github.com/mcdev12/codebid/go/internal/models"
	"github.com/mcdev12/codebid/go/internal/store/memory"
	"github.com/mcdev12/codebid/go/internal/teams"
)

const (
	adminEmail    = "host@example.com"
	adminPassword = "quizmaster"
)

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Code    string          `json:"code"`
	Data    json.RawMessage `json:"data"`
}

type harness struct {
	t      *testing.T
	clock  *clockwork.FakeClock
	store  *memory.Store
	server *httptest.Server
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC))
	s := memory.New(clock)
	rec := &eventstest.Recorder{}

	tokens, err := auth.NewTokenManager("api-test-secret", time.Hour, clock)
	require.NoError(t, err)
	hash, err := auth.HashPassword(adminPassword)
	require.NoError(t, err)

	authority := timer.NewAuthority(clock, rec)
	t.Cleanup(authority.Close)

	teamsApp := teams.NewApp(s, rec, clock, models.StartingCoins)
	rounds := round.NewApp(s, reward.NewEngine(s, reward.DefaultPolicy(), clock), teamsApp, authority, rec, clock, round.DefaultConfig())
	states := recovery.NewManager(s, rounds, teamsApp, rec, clock)

	h := NewHandler(
		tokens,
		auth.NewApp(s, tokens, []auth.Admin{{Email: adminEmail, PasswordHash: hash}}, models.StartingCoins),
		rounds,
		bid.NewLedger(s, rec, clock, bid.DefaultCooldown),
		teamsApp,
		states,
	)

	r := chi.NewRouter()
	h.RegisterRoutes(r)
	server := httptest.NewServer(r)
	t.Cleanup(server.Close)

	return &harness{t: t, clock: clock, store: s, server: server}
}

func (h *harness) do(method, path, token string, body any) (int, envelope) {
	h.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(h.t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, h.server.URL+path, &buf)
	require.NoError(h.t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := h.server.Client().Do(req)
	require.NoError(h.t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(h.t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func (h *harness) login(email, password string) string {
	h.t.Helper()
	status, env := h.do(http.MethodPost, "/api/auth/login", "", auth.LoginRequest{Email: email, Password: password})
	require.Equal(h.t, http.StatusOK, status, env.Message)
	var session auth.Session
	require.NoError(h.t, json.Unmarshal(env.Data, &session))
	return session.Token
}

func (h *harness) signup(name string) (*models.Team, string) {
	h.t.Helper()
	email := name + "@example.com"
	status, env := h.do(http.MethodPost, "/api/auth/signup", "", auth.SignupRequest{
		TeamName: name,
		RepName:  name + " rep",
		Email:    email,
		Password: "hunter22",
	})
	require.Equal(h.t, http.StatusCreated, status, env.Message)
	var team models.Team
	require.NoError(h.t, json.Unmarshal(env.Data, &team))
	return &team, h.login(email, "hunter22")
}

func decodeData[T any](t *testing.T, env envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

func TestFullRoundOverREST(t *testing.T) {
	h := newHarness(t)
	admin := h.login(adminEmail, adminPassword)
	alpha, alphaToken := h.signup("alpha")
	_, bravoToken := h.signup("bravo")

	status, env := h.do(http.MethodPost, "/api/admin/rounds/start", admin, round.StartRoundRequest{
		Title:    "Two pointers",
		Category: models.CategoryMedium,
	})
	require.Equal(t, http.StatusCreated, status, env.Message)
	assert.True(t, env.Success)

	status, env = h.do(http.MethodPost, "/api/game/bid", alphaToken, map[string]int{"amount": 5000})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "INSUFFICIENT_FUNDS", env.Code)
	assert.False(t, env.Success)

	status, env = h.do(http.MethodPost, "/api/game/bid", alphaToken, map[string]int{"amount": 400})
	require.Equal(t, http.StatusOK, status, env.Message)
	status, env = h.do(http.MethodPost, "/api/game/bid", bravoToken, map[string]int{"amount": 250})
	require.Equal(t, http.StatusOK, status, env.Message)

	status, env = h.do(http.MethodGet, "/api/game/state", alphaToken, nil)
	require.Equal(t, http.StatusOK, status)
	snap := decodeData[recovery.Snapshot](t, env)
	assert.Equal(t, "bidding", snap.Phase)
	assert.Len(t, snap.Round.Bids, 2)
	require.NotNil(t, snap.Team)
	assert.Equal(t, alpha.ID, snap.Team.ID)

	status, env = h.do(http.MethodPost, "/api/admin/rounds/end", admin, nil)
	require.Equal(t, http.StatusOK, status, env.Message)
	ended := decodeData[models.Round](t, env)
	assert.Equal(t, models.RoundStatusReviewing, ended.Status)
	assert.True(t, ended.IsWinner(alpha.ID))

	status, env = h.do(http.MethodPost, "/api/game/answer", bravoToken, map[string]string{"answer": "sort first"})
	assert.Equal(t, http.StatusForbidden, status)

	status, env = h.do(http.MethodPost, "/api/game/answer", alphaToken, map[string]string{"answer": "sort, then walk inward"})
	require.Equal(t, http.StatusOK, status, env.Message)

	status, env = h.do(http.MethodPost, "/api/admin/rounds/result", admin, map[string]string{"result": "correct"})
	require.Equal(t, http.StatusOK, status, env.Message)
	settled := decodeData[reward.Settlement](t, env)
	assert.Equal(t, 200, settled.Delta)
	assert.Equal(t, models.StartingCoins+200, settled.Team.Coins)

	status, env = h.do(http.MethodPost, "/api/admin/rounds/result", admin, map[string]string{"result": "correct"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "CONFLICT", env.Code)

	status, env = h.do(http.MethodGet, "/api/leaderboard", "", nil)
	require.Equal(t, http.StatusOK, status)
	var board []struct {
		Rank     int    `json:"rank"`
		TeamName string `json:"team_name"`
		Coins    int    `json:"coins"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &board))
	require.Len(t, board, 2)
	assert.Equal(t, "alpha", board[0].TeamName)
	assert.Equal(t, 2200, board[0].Coins)

	status, env = h.do(http.MethodGet, "/api/game/rounds?limit=5", admin, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, decodeData[[]models.Round](t, env), 1)
}

func TestAuthBoundaries(t *testing.T) {
	h := newHarness(t)
	admin := h.login(adminEmail, adminPassword)
	_, teamToken := h.signup("alpha")

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		status int
		code   string
	}{
		{"no token", http.MethodGet, "/api/game/state", "", http.StatusUnauthorized, "AUTH"},
		{"garbage token", http.MethodGet, "/api/auth/me", "not-a-jwt", http.StatusUnauthorized, "AUTH"},
		{"team on admin route", http.MethodPost, "/api/admin/rounds/start", teamToken, http.StatusForbidden, "FORBIDDEN"},
		{"admin bidding", http.MethodPost, "/api/game/bid", admin, http.StatusForbidden, "FORBIDDEN"},
		{"team listing teams", http.MethodGet, "/api/admin/teams", teamToken, http.StatusForbidden, "FORBIDDEN"},
		{"team closing the answer window", http.MethodPost, "/api/admin/rounds/auto-wrong", teamToken, http.StatusForbidden, "FORBIDDEN"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, env := h.do(tt.method, tt.path, tt.token, map[string]int{"amount": 10})
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, env.Code)
			assert.False(t, env.Success)
		})
	}
}

func TestSignupAndMe(t *testing.T) {
	h := newHarness(t)
	team, token := h.signup("alpha")
	assert.Equal(t, models.StartingCoins, team.Coins)

	status, env := h.do(http.MethodPost, "/api/auth/signup", "", auth.SignupRequest{
		TeamName: "alpha again",
		RepName:  "rep",
		Email:    "alpha@example.com",
		Password: "hunter22",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "CONFLICT", env.Code)

	status, env = h.do(http.MethodGet, "/api/auth/me", token, nil)
	require.Equal(t, http.StatusOK, status)
	me := decodeData[auth.Session](t, env)
	assert.Equal(t, team.ID, me.Identity.TeamID)
	require.NotNil(t, me.Team)
	assert.Equal(t, "alpha", me.Team.TeamName)

	status, env = h.do(http.MethodPost, "/api/auth/login", "", auth.LoginRequest{Email: "alpha@example.com", Password: "wrong-pass"})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "AUTH", env.Code)
}

func TestMalformedBodies(t *testing.T) {
	h := newHarness(t)
	admin := h.login(adminEmail, adminPassword)

	status, env := h.do(http.MethodPost, "/api/admin/rounds/start", admin, map[string]string{"titel": "typo"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION", env.Code)

	status, env = h.do(http.MethodPost, "/api/admin/rounds/start", admin, round.StartRoundRequest{Title: "x", Category: "Impossible"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION", env.Code)

	status, env = h.do(http.MethodGet, "/api/game/rounds?limit=abc", admin, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION", env.Code)
}

func TestTeamAdministration(t *testing.T) {
	h := newHarness(t)
	admin := h.login(adminEmail, adminPassword)
	alpha, alphaToken := h.signup("alpha")
	path := "/api/admin/teams/" + alpha.ID.String()

	status, env := h.do(http.MethodPut, path+"/coins", admin, map[string]int{"coins": 750})
	require.Equal(t, http.StatusOK, status, env.Message)
	assert.Equal(t, 750, decodeData[models.Team](t, env).Coins)

	status, env = h.do(http.MethodPut, path+"/coins", admin, map[string]int{"coins": -1})
	assert.Equal(t, http.StatusBadRequest, status)

	status, env = h.do(http.MethodPut, path+"/coins", admin, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION", env.Code)

	status, env = h.do(http.MethodPost, path+"/disable", admin, nil)
	require.Equal(t, http.StatusOK, status, env.Message)
	assert.False(t, decodeData[models.Team](t, env).IsActive)

	_, env = h.do(http.MethodPost, "/api/admin/rounds/start", admin, round.StartRoundRequest{Title: "Heaps", Category: models.CategoryEasy})
	require.True(t, env.Success, env.Message)
	status, env = h.do(http.MethodPost, "/api/game/bid", alphaToken, map[string]int{"amount": 100})
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = h.do(http.MethodPost, path+"/enable", admin, nil)
	require.Equal(t, http.StatusOK, status)

	status, env = h.do(http.MethodPost, "/api/admin/teams/reset", admin, nil)
	require.Equal(t, http.StatusOK, status, env.Message)
	assert.Equal(t, map[string]int{"teams_reset": 1}, decodeData[map[string]int](t, env))

	team, err := h.store.GetTeam(context.Background(), alpha.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StartingCoins, team.Coins)

	status, env = h.do(http.MethodGet, "/api/admin/teams", admin, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, decodeData[[]models.Team](t, env), 1)

	status, _ = h.do(http.MethodDelete, path, admin, nil)
	require.Equal(t, http.StatusOK, status)
	status, env = h.do(http.MethodDelete, path, admin, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", env.Code)

	status, env = h.do(http.MethodPost, "/api/admin/teams/not-a-uuid/disable", admin, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION", env.Code)
}

func TestForceResetWithoutLiveRound(t *testing.T) {
	h := newHarness(t)
	admin := h.login(adminEmail, adminPassword)

	status, env := h.do(http.MethodPost, "/api/admin/rounds/force-reset", admin, nil)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, env.Success)
	assert.Equal(t, "no live round to reset", env.Message)

	status, env = h.do(http.MethodPost, "/api/admin/rounds/end", admin, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", env.Code)

	status, env = h.do(http.MethodPost, "/api/admin/rounds/auto-wrong", admin, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "CONFLICT", env.Code)
}
