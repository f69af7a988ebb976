package reward

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/codebid/go/internal/apperr"
	"github.com/mcdev12/codebid/go/internal/models"
	"github.com/mcdev12/codebid/go/internal/store"
)

// Policy decides how a verdict moves coins
type Policy struct {
	// Rewards is the flat credit for a correct answer, by category.
	Rewards map[models.Category]int
	// EliminateAtZero marks a team inactive once its balance reaches zero.
	EliminateAtZero bool
}

// DefaultPolicy credits Easy 100, Medium 200 and Hard 400, and eliminates
// broke teams.
func DefaultPolicy() Policy {
	return Policy{
		Rewards: map[models.Category]int{
			models.CategoryEasy:   100,
			models.CategoryMedium: 200,
			models.CategoryHard:   400,
		},
		EliminateAtZero: true,
	}
}

// Validate rejects tables missing a category or holding negative rewards.
func (p Policy) Validate() error {
	for _, c := range []models.Category{models.CategoryEasy, models.CategoryMedium, models.CategoryHard} {
		v, ok := p.Rewards[c]
		if !ok {
			return fmt.Errorf("reward for category %s is not configured", c)
		}
		if v < 0 {
			return fmt.Errorf("reward for category %s must not be negative", c)
		}
	}
	return nil
}

// Repository defines what the engine needs from the store
type Repository interface {
	SettleRound(ctx context.Context, st store.Settlement) (*models.Round, *models.Team, error)
}

// Verdict is the outcome to apply to a reviewing round
type Verdict struct {
	RoundID  uuid.UUID
	Result   models.Result
	TimedOut bool
}

// Settlement reports what a verdict did to the winner
type Settlement struct {
	Round      *models.Round `json:"round"`
	Team       *models.Team  `json:"team"`
	Delta      int           `json:"delta"`
	Eliminated bool          `json:"eliminated"`
	TimedOut   bool          `json:"timed_out"`
}

// Engine applies verdicts to the winner's ledger
type Engine struct {
	repo   Repository
	policy Policy
	clock  clockwork.Clock
}

func NewEngine(repo Repository, policy Policy, clock clockwork.Clock) *Engine {
	return &Engine{repo: repo, policy: policy, clock: clock}
}

// Adjust computes the winner's ledger after result. It is pure; the store
// calls it inside the settlement so it sees the committed balance.
func (e *Engine) Adjust(round models.Round, team models.Team, result models.Result) (models.Team, int) {
	before := team.Coins

	switch result {
	case models.ResultCorrect:
		team.Coins += e.policy.Rewards[round.Category]
		team.CorrectAnswers++
	case models.ResultWrong:
		bid := 0
		if round.WinningBid != nil {
			bid = *round.WinningBid
		}
		team.Coins -= bid
		if team.Coins < 0 {
			team.Coins = 0
		}
		team.WrongAnswers++
	}
	team.TotalBids++

	if e.policy.EliminateAtZero && team.Coins == 0 {
		team.IsActive = false
	}
	return team, team.Coins - before
}

// ApplyResult settles the round exactly once. A round that already left
// reviewing yields a ConflictError and no ledger change.
func (e *Engine) ApplyResult(ctx context.Context, v Verdict) (*Settlement, error) {
	if !v.Result.Valid() {
		return nil, apperr.Validation("result must be %q or %q", models.ResultCorrect, models.ResultWrong)
	}

	wasActive := true
	round, team, err := e.repo.SettleRound(ctx, store.Settlement{
		RoundID:     v.RoundID,
		Result:      v.Result,
		CompletedAt: e.clock.Now(),
		Adjust: func(r models.Round, t models.Team) (models.Team, int) {
			wasActive = t.IsActive
			return e.Adjust(r, t, v.Result)
		},
	})
	switch {
	case errors.Is(err, store.ErrConditionFailed):
		return nil, apperr.Conflict("no round is awaiting a verdict")
	case errors.Is(err, store.ErrNotFound):
		return nil, apperr.Wrap(apperr.KindNotFound, err, "round winner not found")
	case err != nil:
		return nil, fmt.Errorf("failed to settle round: %w", err)
	}

	s := &Settlement{
		Round:      round,
		Team:       team,
		Delta:      round.CoinsAwarded,
		Eliminated: wasActive && !team.IsActive,
		TimedOut:   v.TimedOut,
	}

	log.Info().
		Str("round_id", round.ID.String()).
		Str("team_id", team.ID.String()).
		Str("result", string(v.Result)).
		Bool("timed_out", v.TimedOut).
		Int("delta", s.Delta).
		Int("balance", team.Coins).
		Bool("eliminated", s.Eliminated).
		Msg("round settled")

	return s, nil
}
