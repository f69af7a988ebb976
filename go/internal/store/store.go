// Package store holds the persistence contract shared by the memory,
// postgres and mongo backends.
package store

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/codebid/go/internal/models"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrConditionFailed = errors.New("condition failed")
	ErrDuplicate       = errors.New("duplicate")
	ErrLiveRoundExists = errors.New("a live round already exists")
)

// CreateTeamParams holds the fields needed to register a team
type CreateTeamParams struct {
	TeamName     string
	RepName      string
	Email        string
	PasswordHash string
	Coins        int
}

// CloseOutcome is what the bid ledger decides when bidding closes.
// A nil WinnerID means the round completes without a reviewing phase.
type CloseOutcome struct {
	WinnerID   *uuid.UUID
	WinnerName *string
	WinningBid *int
}

// CloseFunc picks the outcome from the bids committed at close time.
type CloseFunc func(bids []models.Bid) CloseOutcome

// AdjustFunc computes the winner's new ledger entry and the signed coin
// delta that was applied. It runs inside the settlement so it sees the
// committed balance.
type AdjustFunc func(round models.Round, team models.Team) (models.Team, int)

// Settlement is the verdict applied to a reviewing round
type Settlement struct {
	RoundID     uuid.UUID
	Result      models.Result
	CompletedAt time.Time
	Adjust      AdjustFunc
}

// Status returns the round status implied by the outcome.
func (o CloseOutcome) Status() models.RoundStatus {
	if o.WinnerID == nil {
		return models.RoundStatusCompleted
	}
	return models.RoundStatusReviewing
}
