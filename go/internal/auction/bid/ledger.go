package bid

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/codebid/go/internal/apperr"
	"github.com/mcdev12/codebid/go/internal/auction/events"
	"github.com/mcdev12/codebid/go/internal/models"
	"github.com/mcdev12/codebid/go/internal/store"
)

// DefaultCooldown is the minimum gap between two bid attempts by one team.
const DefaultCooldown = 1500 * time.Millisecond

// Repository defines what the ledger needs from the store
type Repository interface {
	GetTeam(ctx context.Context, id uuid.UUID) (*models.Team, error)
	ClaimBidAttempt(ctx context.Context, teamID uuid.UUID, at time.Time, cooldown time.Duration) error
	GetLiveRound(ctx context.Context) (*models.Round, error)
	AppendBid(ctx context.Context, roundID uuid.UUID, bid models.Bid) (*models.Round, error)
}

// PlaceBidRequest is one bid attempt. ConnectionID is set when the bid
// arrives over a websocket and must then be the team's active connection.
// Without one the bid is accepted only while the team has no live
// connection.
type PlaceBidRequest struct {
	Identity     models.Identity
	ConnectionID string
	Amount       int
}

// Ledger validates and records bids
type Ledger struct {
	repo     Repository
	commits  events.Committer
	clock    clockwork.Clock
	cooldown time.Duration
}

func NewLedger(repo Repository, commits events.Committer, clock clockwork.Clock, cooldown time.Duration) *Ledger {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Ledger{
		repo:     repo,
		commits:  commits,
		clock:    clock,
		cooldown: cooldown,
	}
}

// PlaceBid runs the bid checks in a fixed order and appends the bid to the
// bidding round. Each failed check maps to its own error kind.
func (l *Ledger) PlaceBid(ctx context.Context, req PlaceBidRequest) (*models.Bid, error) {
	if !req.Identity.IsTeam() {
		return nil, apperr.Forbidden("only teams can place bids")
	}
	if req.Amount <= 0 {
		return nil, apperr.Validation("bid amount must be a positive number of coins")
	}

	team, err := l.repo.GetTeam(ctx, req.Identity.TeamID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("team not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load team: %w", err)
	}
	if !team.IsActive {
		return nil, apperr.Forbidden("team %s is disabled", team.TeamName)
	}
	switch {
	case req.ConnectionID != "" && !team.HoldsConnection(req.ConnectionID):
		return nil, apperr.Forbidden("this session has been replaced by a newer login")
	case req.ConnectionID == "" && team.ActiveConnectionID != nil:
		// A logged-out device keeps a valid token; only the live session may bid.
		return nil, apperr.Forbidden("team %s is connected live; bid from that session", team.TeamName)
	}
	if req.Amount > team.Coins {
		return nil, apperr.InsufficientFunds("bid of %d exceeds balance of %d", req.Amount, team.Coins)
	}

	now := l.clock.Now()
	err = l.repo.ClaimBidAttempt(ctx, team.ID, now, l.cooldown)
	if errors.Is(err, store.ErrConditionFailed) {
		return nil, apperr.RateLimited("wait %.1fs between bids", l.cooldown.Seconds())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to record bid attempt: %w", err)
	}

	round, err := l.repo.GetLiveRound(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.Conflict("no round is accepting bids")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load live round: %w", err)
	}
	if round.Status != models.RoundStatusBidding {
		return nil, apperr.Conflict("no round is accepting bids")
	}
	if !now.Before(round.BiddingDeadline()) {
		return nil, apperr.Conflict("bidding for round %d has closed", round.RoundNumber)
	}

	bid := models.Bid{
		TeamID:    team.ID,
		TeamName:  team.TeamName,
		Amount:    req.Amount,
		Timestamp: now,
	}
	var updated *models.Round
	err = l.commits.Commit(func(p events.Publisher) error {
		var err error
		updated, err = l.repo.AppendBid(ctx, round.ID, bid)
		if err != nil {
			return err
		}
		events.Emit(p, events.ToAll(), events.TypeBidReceived, round.ID, events.BidReceivedPayload{
			TeamName:  bid.TeamName,
			Amount:    bid.Amount,
			Timestamp: bid.Timestamp,
			BidCount:  len(updated.Bids),
		})
		return nil
	})
	switch {
	case errors.Is(err, store.ErrDuplicate):
		return nil, apperr.Conflict("team %s already placed a bid this round", team.TeamName)
	case errors.Is(err, store.ErrConditionFailed), errors.Is(err, store.ErrNotFound):
		return nil, apperr.Conflict("no round is accepting bids")
	case err != nil:
		return nil, fmt.Errorf("failed to append bid: %w", err)
	}

	log.Info().
		Str("round_id", round.ID.String()).
		Str("team_id", team.ID.String()).
		Int("amount", bid.Amount).
		Int("bid_count", len(updated.Bids)).
		Msg("bid placed")

	return &bid, nil
}

// SelectWinner returns the highest bid, earliest first on a tie. ok is
// false when there are no bids.
func SelectWinner(bids []models.Bid) (winner models.Bid, ok bool) {
	for i, b := range bids {
		if i == 0 || b.Amount > winner.Amount ||
			(b.Amount == winner.Amount && b.Timestamp.Before(winner.Timestamp)) {
			winner = b
			ok = true
		}
	}
	return winner, ok
}

// CloseOutcome turns the committed bids into the store's close outcome.
func CloseOutcome(bids []models.Bid) store.CloseOutcome {
	w, ok := SelectWinner(bids)
	if !ok {
		return store.CloseOutcome{}
	}
	return store.CloseOutcome{
		WinnerID:   &w.TeamID,
		WinnerName: &w.TeamName,
		WinningBid: &w.Amount,
	}
}
