package round

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/codebid/go/internal/apperr"
	"github.com/mcdev12/codebid/go/internal/auction/bid"
	"github.com/mcdev12/codebid/go/internal/auction/events"
	"github.com/mcdev12/codebid/go/internal/auction/reward"
	"github.com/mcdev12/codebid/go/internal/auction/timer"
	"github.com/mcdev12/codebid/go/internal/models"
	"github.com/mcdev12/codebid/go/internal/store"
)

// DefaultHistoryLimit caps ListRounds when no limit is given.
const DefaultHistoryLimit = 20

// Repository defines what the round app needs from the store
type Repository interface {
	CreateRound(ctx context.Context, r models.Round) (*models.Round, error)
	GetRound(ctx context.Context, id uuid.UUID) (*models.Round, error)
	GetLiveRound(ctx context.Context) (*models.Round, error)
	LastRoundNumber(ctx context.Context) (int, error)
	ListRounds(ctx context.Context, limit int) ([]models.Round, error)
	CloseBidding(ctx context.Context, roundID uuid.UUID, endedAt time.Time, decide store.CloseFunc) (*models.Round, error)
	SubmitAnswer(ctx context.Context, roundID, teamID uuid.UUID, answer string) (*models.Round, error)
	ForceComplete(ctx context.Context, roundID uuid.UUID, completedAt time.Time) (*models.Round, error)
}

// Rewarder settles a reviewing round
type Rewarder interface {
	ApplyResult(ctx context.Context, v reward.Verdict) (*reward.Settlement, error)
}

// Leaderboard supplies the standings attached to round:completed
type Leaderboard interface {
	Leaderboard(ctx context.Context) ([]events.Standing, error)
}

// Countdown is the slice of the timer authority the round app drives
type Countdown interface {
	Start(roundID uuid.UUID, phase timer.Phase, deadline time.Time, onExpire timer.ExpireFunc)
	Stop(roundID uuid.UUID)
}

// SessionKicker drops a team's live connection
type SessionKicker interface {
	KickTeam(teamID uuid.UUID, reason string)
}

// Config holds the round windows captured into every new round
type Config struct {
	BidDuration    time.Duration
	AnswerDuration time.Duration
}

func DefaultConfig() Config {
	return Config{BidDuration: 30 * time.Second, AnswerDuration: 60 * time.Second}
}

// StartRoundRequest opens a new round
type StartRoundRequest struct {
	Title    string          `json:"title"`
	Category models.Category `json:"category"`
}

// App is the round state machine. Every transition is a status-conditional
// store update run inside a commit, so its events leave in commit order.
type App struct {
	repo        Repository
	rewards     Rewarder
	leaderboard Leaderboard
	timer       Countdown
	commits     events.Committer
	clock       clockwork.Clock
	cfg         Config
	kicker      SessionKicker
}

func NewApp(
	repo Repository,
	rewards Rewarder,
	leaderboard Leaderboard,
	countdown Countdown,
	commits events.Committer,
	clock clockwork.Clock,
	cfg Config,
) *App {
	return &App{
		repo:        repo,
		rewards:     rewards,
		leaderboard: leaderboard,
		timer:       countdown,
		commits:     commits,
		clock:       clock,
		cfg:         cfg,
	}
}

// SetSessionKicker wires the gateway after construction.
func (a *App) SetSessionKicker(k SessionKicker) {
	a.kicker = k
}

// StartRound creates the next round in bidding and arms its countdown.
func (a *App) StartRound(ctx context.Context, req StartRoundRequest) (*models.Round, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, apperr.Validation("round title is required")
	}
	if !req.Category.Valid() {
		return nil, apperr.Validation("category must be one of Easy, Medium or Hard")
	}

	live, err := a.repo.GetLiveRound(ctx)
	switch {
	case err == nil:
		return nil, apperr.Conflict("round %d is still %s", live.RoundNumber, live.Status)
	case !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("failed to check live round: %w", err)
	}

	last, err := a.repo.LastRoundNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get last round number: %w", err)
	}

	now := a.clock.Now()
	var r *models.Round
	err = a.commits.Commit(func(p events.Publisher) error {
		var err error
		r, err = a.repo.CreateRound(ctx, models.Round{
			RoundNumber:      last + 1,
			Title:            title,
			Category:         req.Category,
			Status:           models.RoundStatusBidding,
			Bids:             []models.Bid{},
			BidDuration:      int(a.cfg.BidDuration / time.Second),
			AnswerDuration:   int(a.cfg.AnswerDuration / time.Second),
			BiddingStartedAt: now,
		})
		if err != nil {
			return err
		}

		events.Emit(p, events.ToAll(), events.TypeRoundStarted, r.ID, events.RoundStartedPayload{
			RoundID:     r.ID.String(),
			RoundNumber: r.RoundNumber,
			Title:       r.Title,
			Category:    r.Category,
			DurationSec: r.BidDuration,
			StartedAt:   r.BiddingStartedAt,
			DeadlineAt:  r.BiddingDeadline(),
		})
		a.ArmTimer(r)
		return nil
	})
	switch {
	case errors.Is(err, store.ErrLiveRoundExists), errors.Is(err, store.ErrDuplicate):
		return nil, apperr.Conflict("another round was started concurrently")
	case err != nil:
		return nil, fmt.Errorf("failed to create round: %w", err)
	}

	log.Info().
		Str("round_id", r.ID.String()).
		Int("round_number", r.RoundNumber).
		Str("category", string(r.Category)).
		Msg("round started")
	return r, nil
}

// EndBidding closes the bidding round. Admin calls and timer expiry race
// through the same conditional close, so only one of them wins.
func (a *App) EndBidding(ctx context.Context) (*models.Round, error) {
	live, err := a.repo.GetLiveRound(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("no round is accepting bids")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get live round: %w", err)
	}
	if live.Status != models.RoundStatusBidding {
		return nil, apperr.NotFound("no round is accepting bids")
	}
	return a.closeBidding(ctx, live.ID)
}

func (a *App) closeBidding(ctx context.Context, roundID uuid.UUID) (*models.Round, error) {
	now := a.clock.Now()
	var r *models.Round
	err := a.commits.Commit(func(p events.Publisher) error {
		var err error
		r, err = a.repo.CloseBidding(ctx, roundID, now, bid.CloseOutcome)
		if err != nil {
			return err
		}
		a.timer.Stop(r.ID)

		payload := events.BiddingEndedPayload{
			Bids:           r.Bids,
			EndedAt:        now,
			RoundCompleted: r.Status == models.RoundStatusCompleted,
		}
		if r.WinnerID != nil {
			deadline, _ := r.AnswerDeadline()
			payload.Winner = winnerInfo(r)
			payload.AnswerDeadline = &deadline
			payload.AnswerDuration = r.AnswerDuration
		}
		events.Emit(p, events.ToAll(), events.TypeBiddingEnded, r.ID, payload)
		a.ArmTimer(r)
		return nil
	})
	switch {
	case errors.Is(err, store.ErrConditionFailed), errors.Is(err, store.ErrNotFound):
		return nil, apperr.NotFound("no round is accepting bids")
	case err != nil:
		return nil, fmt.Errorf("failed to close bidding: %w", err)
	}

	logEvent := log.Info().
		Str("round_id", r.ID.String()).
		Int("bid_count", len(r.Bids)).
		Str("status", string(r.Status))
	if r.WinnerID != nil {
		logEvent = logEvent.Str("winner_id", r.WinnerID.String()).Int("winning_bid", *r.WinningBid)
	}
	logEvent.Msg("bidding ended")
	return r, nil
}

// SubmitAnswer records the winner's answer once and stops the answer
// countdown; the round then waits for the admin verdict.
func (a *App) SubmitAnswer(ctx context.Context, identity models.Identity, answer string) (*models.Round, error) {
	if !identity.IsTeam() {
		return nil, apperr.Forbidden("only teams can submit answers")
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return nil, apperr.Validation("answer is required")
	}

	live, err := a.repo.GetLiveRound(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.Conflict("no round is awaiting an answer")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get live round: %w", err)
	}
	if live.Status != models.RoundStatusReviewing {
		return nil, apperr.Conflict("no round is awaiting an answer")
	}
	if !live.IsWinner(identity.TeamID) {
		return nil, apperr.Forbidden("only the winning team can answer")
	}
	if live.SubmittedAnswer != nil {
		return nil, apperr.Conflict("an answer was already submitted")
	}
	if deadline, ok := live.AnswerDeadline(); ok && !a.clock.Now().Before(deadline) {
		return nil, apperr.Conflict("the answer window has closed")
	}

	payload := events.AnswerSubmittedPayload{TeamName: identity.Name, Answer: answer}
	var r *models.Round
	err = a.commits.Commit(func(p events.Publisher) error {
		var err error
		r, err = a.repo.SubmitAnswer(ctx, live.ID, identity.TeamID, answer)
		if err != nil {
			return err
		}
		a.timer.Stop(r.ID)
		events.Emit(p, events.ToAll(), events.TypeAnswerSubmitted, r.ID, payload)
		events.Emit(p, events.ToAdmins(), events.TypeAnswerReceived, r.ID, payload)
		return nil
	})
	switch {
	case errors.Is(err, store.ErrConditionFailed), errors.Is(err, store.ErrNotFound):
		return nil, apperr.Conflict("no round is awaiting an answer")
	case err != nil:
		return nil, fmt.Errorf("failed to submit answer: %w", err)
	}

	log.Info().
		Str("round_id", r.ID.String()).
		Str("team_id", identity.TeamID.String()).
		Msg("answer submitted")
	return r, nil
}

// RecordResult applies the admin verdict to the reviewing round.
func (a *App) RecordResult(ctx context.Context, result models.Result) (*reward.Settlement, error) {
	if !result.Valid() {
		return nil, apperr.Validation("result must be %q or %q", models.ResultCorrect, models.ResultWrong)
	}

	live, err := a.awaitingVerdict(ctx)
	if err != nil {
		return nil, err
	}
	return a.settle(ctx, reward.Verdict{RoundID: live.ID, Result: result})
}

// AutoWrong settles the reviewing round as a timed-out wrong answer without
// waiting for the answer window to run out.
func (a *App) AutoWrong(ctx context.Context) (*reward.Settlement, error) {
	live, err := a.awaitingVerdict(ctx)
	if err != nil {
		return nil, err
	}

	log.Info().Str("round_id", live.ID.String()).Msg("answer window closed by admin, recording wrong answer")
	return a.settle(ctx, reward.Verdict{RoundID: live.ID, Result: models.ResultWrong, TimedOut: true})
}

func (a *App) awaitingVerdict(ctx context.Context) (*models.Round, error) {
	live, err := a.repo.GetLiveRound(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.Conflict("no round is awaiting a verdict")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get live round: %w", err)
	}
	if live.Status != models.RoundStatusReviewing || live.WinnerID == nil {
		return nil, apperr.Conflict("no round is awaiting a verdict")
	}
	return live, nil
}

func (a *App) settle(ctx context.Context, v reward.Verdict) (*reward.Settlement, error) {
	var s *reward.Settlement
	err := a.commits.Commit(func(p events.Publisher) error {
		var err error
		s, err = a.rewards.ApplyResult(ctx, v)
		if err != nil {
			return err
		}
		a.timer.Stop(s.Round.ID)
		a.publishSettlement(ctx, p, v, s)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (a *App) publishSettlement(ctx context.Context, p events.Publisher, v reward.Verdict, s *reward.Settlement) {
	standings, err := a.standings(ctx)
	if err != nil {
		log.Error().Err(err).Str("round_id", s.Round.ID.String()).Msg("failed to build leaderboard")
	}

	events.Emit(p, events.ToAll(), events.TypeRoundCompleted, s.Round.ID, events.RoundCompletedPayload{
		RoundNumber:  s.Round.RoundNumber,
		Result:       v.Result,
		TimedOut:     v.TimedOut,
		Winner:       winnerInfo(s.Round),
		CoinsAwarded: s.Delta,
		NewBalance:   s.Team.Coins,
		Eliminated:   s.Eliminated,
		Leaderboard:  standings,
	})
	events.Emit(p, events.ToAll(), events.TypeCoinsUpdated, s.Round.ID, events.CoinsUpdatedPayload{
		TeamID:   s.Team.ID.String(),
		TeamName: s.Team.TeamName,
		Coins:    s.Team.Coins,
	})
	if standings != nil {
		events.Emit(p, events.ToAll(), events.TypeLeaderboard, s.Round.ID, events.LeaderboardPayload{Standings: standings})
	}

	if s.Eliminated {
		events.Emit(p, events.ToAll(), events.TypeTeamDisabled, s.Round.ID, events.TeamDisabledPayload{
			TeamID:   s.Team.ID.String(),
			TeamName: s.Team.TeamName,
			Reason:   "eliminated",
		})
		if a.kicker != nil {
			a.kicker.KickTeam(s.Team.ID, "eliminated")
		}
	}
}

// ForceReset completes the live round without touching any ledger. It
// returns nil when nothing was live.
func (a *App) ForceReset(ctx context.Context) (*models.Round, error) {
	live, err := a.repo.GetLiveRound(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get live round: %w", err)
	}

	now := a.clock.Now()
	var r *models.Round
	err = a.commits.Commit(func(p events.Publisher) error {
		var err error
		r, err = a.repo.ForceComplete(ctx, live.ID, now)
		if err != nil {
			return err
		}
		a.timer.Stop(r.ID)
		events.Emit(p, events.ToAll(), events.TypeRoundForceReset, r.ID, events.RoundForceResetPayload{
			RoundNumber: r.RoundNumber,
			ResetAt:     now,
		})
		return nil
	})
	if errors.Is(err, store.ErrConditionFailed) {
		// Completed by a verdict or close that committed first.
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to force complete round: %w", err)
	}

	log.Warn().
		Str("round_id", r.ID.String()).
		Int("round_number", r.RoundNumber).
		Msg("round force reset")
	return r, nil
}

// CurrentRound returns the live round, or nil.
func (a *App) CurrentRound(ctx context.Context) (*models.Round, error) {
	r, err := a.repo.GetLiveRound(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get live round: %w", err)
	}
	return r, nil
}

// ListRounds returns recent rounds, newest first.
func (a *App) ListRounds(ctx context.Context, limit int) ([]models.Round, error) {
	if limit <= 0 || limit > 100 {
		limit = DefaultHistoryLimit
	}
	rounds, err := a.repo.ListRounds(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list rounds: %w", err)
	}
	return rounds, nil
}

// ArmTimer starts the countdown matching the round's phase. A reviewing
// round whose answer is already in has nothing to count down.
func (a *App) ArmTimer(r *models.Round) {
	switch r.Status {
	case models.RoundStatusBidding:
		a.timer.Start(r.ID, timer.PhaseBidding, r.BiddingDeadline(), a.onBiddingExpired(r.ID))
	case models.RoundStatusReviewing:
		if r.WinnerID == nil || r.SubmittedAnswer != nil {
			return
		}
		deadline, ok := r.AnswerDeadline()
		if !ok {
			return
		}
		a.timer.Start(r.ID, timer.PhaseAnswer, deadline, a.onAnswerExpired(r.ID))
	}
}

func (a *App) onBiddingExpired(roundID uuid.UUID) timer.ExpireFunc {
	return func(ctx context.Context) {
		r, err := a.repo.GetRound(ctx, roundID)
		if err != nil {
			log.Error().Err(err).Str("round_id", roundID.String()).Msg("failed to load round on bidding expiry")
			return
		}
		if r.Status != models.RoundStatusBidding {
			return
		}
		if _, err := a.closeBidding(ctx, roundID); err != nil && !apperr.Is(err, apperr.KindNotFound) {
			log.Error().Err(err).Str("round_id", roundID.String()).Msg("failed to end bidding on expiry")
		}
	}
}

func (a *App) onAnswerExpired(roundID uuid.UUID) timer.ExpireFunc {
	return func(ctx context.Context) {
		r, err := a.repo.GetRound(ctx, roundID)
		if err != nil {
			log.Error().Err(err).Str("round_id", roundID.String()).Msg("failed to load round on answer expiry")
			return
		}
		if r.Status != models.RoundStatusReviewing || r.SubmittedAnswer != nil {
			return
		}

		log.Info().Str("round_id", roundID.String()).Msg("answer window expired, recording wrong answer")
		_, err = a.settle(ctx, reward.Verdict{RoundID: roundID, Result: models.ResultWrong, TimedOut: true})
		if err != nil && !apperr.Is(err, apperr.KindConflict) {
			log.Error().Err(err).Str("round_id", roundID.String()).Msg("failed to settle timed out round")
		}
	}
}

func (a *App) standings(ctx context.Context) ([]events.Standing, error) {
	if a.leaderboard == nil {
		return nil, nil
	}
	return a.leaderboard.Leaderboard(ctx)
}

func winnerInfo(r *models.Round) *events.WinnerInfo {
	if r.WinnerID == nil {
		return nil
	}
	info := &events.WinnerInfo{TeamID: r.WinnerID.String()}
	if r.WinnerName != nil {
		info.TeamName = *r.WinnerName
	}
	if r.WinningBid != nil {
		info.Amount = *r.WinningBid
	}
	return info
}
