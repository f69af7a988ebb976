// Package api exposes the auction over REST. Every reply uses the
// {success, message, data} envelope from httpx.
package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mcdev12/codebid/go/internal/apperr"
	"github.com/mcdev12/codebid/go/internal/auction/bid"
	"github.com/mcdev12/codebid/go/internal/auction/events"
	"github.com/mcdev12/codebid/go/internal/auction/recovery"
	"github.com/mcdev12/codebid/go/internal/auction/reward"
	"github.com/mcdev12/codebid/go/internal/auction/round"
	"github.com/mcdev12/codebid/go/internal/auth"
	"github.com/mcdev12/codebid/go/internal/httpx"
	"github.com/mcdev12/codebid/go/internal/models"
)

// Accounts handles signup and login
type Accounts interface {
	Signup(ctx context.Context, req auth.SignupRequest) (*models.Team, error)
	Login(ctx context.Context, req auth.LoginRequest) (*auth.Session, error)
	Me(ctx context.Context, identity models.Identity) (*auth.Session, error)
}

// Rounds drives the round lifecycle
type Rounds interface {
	StartRound(ctx context.Context, req round.StartRoundRequest) (*models.Round, error)
	EndBidding(ctx context.Context) (*models.Round, error)
	SubmitAnswer(ctx context.Context, identity models.Identity, answer string) (*models.Round, error)
	RecordResult(ctx context.Context, result models.Result) (*reward.Settlement, error)
	ForceReset(ctx context.Context) (*models.Round, error)
	AutoWrong(ctx context.Context) (*reward.Settlement, error)
	ListRounds(ctx context.Context, limit int) ([]models.Round, error)
}

// Bids places bids
type Bids interface {
	PlaceBid(ctx context.Context, req bid.PlaceBidRequest) (*models.Bid, error)
}

// Teams handles team administration
type Teams interface {
	ListTeams(ctx context.Context) ([]models.Team, error)
	Leaderboard(ctx context.Context) ([]events.Standing, error)
	DisableTeam(ctx context.Context, id uuid.UUID) (*models.Team, error)
	EnableTeam(ctx context.Context, id uuid.UUID) (*models.Team, error)
	SetCoins(ctx context.Context, id uuid.UUID, coins int) (*models.Team, error)
	ResetAll(ctx context.Context) (int, error)
	DeleteTeam(ctx context.Context, id uuid.UUID) error
}

// States snapshots the game for a caller
type States interface {
	Snapshot(ctx context.Context, identity models.Identity) (*recovery.Snapshot, error)
}

// Handler serves the REST surface
type Handler struct {
	verifier auth.Verifier
	accounts Accounts
	rounds   Rounds
	bids     Bids
	teams    Teams
	states   States
}

func NewHandler(verifier auth.Verifier, accounts Accounts, rounds Rounds, bids Bids, teams Teams, states States) *Handler {
	return &Handler{
		verifier: verifier,
		accounts: accounts,
		rounds:   rounds,
		bids:     bids,
		teams:    teams,
		states:   states,
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/signup", h.signup)
		r.Post("/auth/login", h.login)
		r.Get("/leaderboard", h.leaderboard)

		r.Group(func(r chi.Router) {
			r.Use(Authenticate(h.verifier))

			r.Get("/auth/me", h.me)
			r.Get("/game/state", h.state)
			r.Get("/game/rounds", h.listRounds)

			r.Group(func(r chi.Router) {
				r.Use(RequireRole(models.RoleTeam))
				r.Post("/game/bid", h.placeBid)
				r.Post("/game/answer", h.submitAnswer)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(RequireRole(models.RoleAdmin))

				r.Post("/rounds/start", h.startRound)
				r.Post("/rounds/end", h.endBidding)
				r.Post("/rounds/result", h.recordResult)
				r.Post("/rounds/force-reset", h.forceReset)
				r.Post("/rounds/auto-wrong", h.autoWrong)

				r.Get("/teams", h.listTeams)
				r.Post("/teams/reset", h.resetTeams)
				r.Post("/teams/{teamID}/disable", h.disableTeam)
				r.Post("/teams/{teamID}/enable", h.enableTeam)
				r.Put("/teams/{teamID}/coins", h.setCoins)
				r.Delete("/teams/{teamID}", h.deleteTeam)
			})
		})
	})
}

func (h *Handler) signup(w http.ResponseWriter, r *http.Request) {
	var req auth.SignupRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, r, err)
		return
	}
	team, err := h.accounts.Signup(r.Context(), req)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.Created(w, "team registered", team)
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, r, err)
		return
	}
	session, err := h.accounts.Login(r.Context(), req)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.OK(w, "logged in", session)
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFrom(r.Context())
	session, err := h.accounts.Me(r.Context(), identity)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.OK(w, "", session)
}

func (h *Handler) leaderboard(w http.ResponseWriter, r *http.Request) {
	standings, err := h.teams.Leaderboard(r.Context())
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.OK(w, "", standings)
}

func (h *Handler) state(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFrom(r.Context())
	snap, err := h.states.Snapshot(r.Context(), identity)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.OK(w, "", snap)
}

func (h *Handler) listRounds(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			httpx.Error(w, r, apperr.Validation("limit must be a non-negative integer"))
			return
		}
		limit = n
	}
	rounds, err := h.rounds.ListRounds(r.Context(), limit)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.OK(w, "", rounds)
}

type placeBidBody struct {
	Amount int `json:"amount"`
}

func (h *Handler) placeBid(w http.ResponseWriter, r *http.Request) {
	var body placeBidBody
	if err := httpx.Decode(r, &body); err != nil {
		httpx.Error(w, r, err)
		return
	}
	identity, _ := IdentityFrom(r.Context())
	placed, err := h.bids.PlaceBid(r.Context(), bid.PlaceBidRequest{Identity: identity, Amount: body.Amount})
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.OK(w, "bid placed", placed)
}

type submitAnswerBody struct {
	Answer string `json:"answer"`
}

func (h *Handler) submitAnswer(w http.ResponseWriter, r *http.Request) {
	var body submitAnswerBody
	if err := httpx.Decode(r, &body); err != nil {
		httpx.Error(w, r, err)
		return
	}
	identity, _ := IdentityFrom(r.Context())
	rnd, err := h.rounds.SubmitAnswer(r.Context(), identity, body.Answer)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.OK(w, "answer submitted", rnd)
}

func (h *Handler) startRound(w http.ResponseWriter, r *http.Request) {
	var req round.StartRoundRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, r, err)
		return
	}
	rnd, err := h.rounds.StartRound(r.Context(), req)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.Created(w, "round started", rnd)
}

func (h *Handler) endBidding(w http.ResponseWriter, r *http.Request) {
	rnd, err := h.rounds.EndBidding(r.Context())
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.OK(w, "bidding ended", rnd)
}

type recordResultBody struct {
	Result models.Result `json:"result"`
}

func (h *Handler) recordResult(w http.ResponseWriter, r *http.Request) {
	var body recordResultBody
	if err := httpx.Decode(r, &body); err != nil {
		httpx.Error(w, r, err)
		return
	}
	settlement, err := h.rounds.RecordResult(r.Context(), body.Result)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.OK(w, "result recorded", settlement)
}

func (h *Handler) autoWrong(w http.ResponseWriter, r *http.Request) {
	settlement, err := h.rounds.AutoWrong(r.Context())
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.OK(w, "answer window closed", settlement)
}

func (h *Handler) forceReset(w http.ResponseWriter, r *http.Request) {
	rnd, err := h.rounds.ForceReset(r.Context())
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	if rnd == nil {
		httpx.OK(w, "no live round to reset", nil)
		return
	}
	httpx.OK(w, "round force reset", rnd)
}

func (h *Handler) listTeams(w http.ResponseWriter, r *http.Request) {
	teams, err := h.teams.ListTeams(r.Context())
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.OK(w, "", teams)
}

func (h *Handler) resetTeams(w http.ResponseWriter, r *http.Request) {
	n, err := h.teams.ResetAll(r.Context())
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.OK(w, "all teams reset", map[string]int{"teams_reset": n})
}

func (h *Handler) disableTeam(w http.ResponseWriter, r *http.Request) {
	h.withTeamID(w, r, func(id uuid.UUID) (any, string, error) {
		team, err := h.teams.DisableTeam(r.Context(), id)
		return team, "team disabled", err
	})
}

func (h *Handler) enableTeam(w http.ResponseWriter, r *http.Request) {
	h.withTeamID(w, r, func(id uuid.UUID) (any, string, error) {
		team, err := h.teams.EnableTeam(r.Context(), id)
		return team, "team enabled", err
	})
}

type setCoinsBody struct {
	Coins *int `json:"coins"`
}

func (h *Handler) setCoins(w http.ResponseWriter, r *http.Request) {
	var body setCoinsBody
	if err := httpx.Decode(r, &body); err != nil {
		httpx.Error(w, r, err)
		return
	}
	if body.Coins == nil {
		httpx.Error(w, r, apperr.Validation("coins is required"))
		return
	}
	h.withTeamID(w, r, func(id uuid.UUID) (any, string, error) {
		team, err := h.teams.SetCoins(r.Context(), id, *body.Coins)
		return team, "coins updated", err
	})
}

func (h *Handler) deleteTeam(w http.ResponseWriter, r *http.Request) {
	h.withTeamID(w, r, func(id uuid.UUID) (any, string, error) {
		return nil, "team deleted", h.teams.DeleteTeam(r.Context(), id)
	})
}

func (h *Handler) withTeamID(w http.ResponseWriter, r *http.Request, fn func(uuid.UUID) (any, string, error)) {
	id, err := uuid.Parse(chi.URLParam(r, "teamID"))
	if err != nil {
		httpx.Error(w, r, apperr.Validation("invalid team id"))
		return
	}
	data, msg, err := fn(id)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.OK(w, msg, data)
}
