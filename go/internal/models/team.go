package models

import (
	"time"

	"github.com/google/uuid"
)

// StartingCoins is the balance every team signs up with.
const StartingCoins = 2000

// Team represents a competing team and its coin ledger
type Team struct {
	ID                 uuid.UUID  `json:"id"`
	TeamName           string     `json:"team_name"`
	RepName            string     `json:"rep_name"`
	Email              string     `json:"email"`
	PasswordHash       string     `json:"-"`
	Coins              int        `json:"coins"`
	CorrectAnswers     int        `json:"correct_answers"`
	WrongAnswers       int        `json:"wrong_answers"`
	TotalBids          int        `json:"total_bids"`
	IsActive           bool       `json:"is_active"`
	LastBidAt          *time.Time `json:"last_bid_at,omitempty"`
	ActiveConnectionID *string    `json:"-"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// Accuracy returns the rounded percentage of answered rounds the team got right.
func (t *Team) Accuracy() int {
	if t.TotalBids == 0 {
		return 0
	}
	return int(float64(t.CorrectAnswers)/float64(t.TotalBids)*100 + 0.5)
}

// HoldsConnection reports whether connID is the team's active connection.
func (t *Team) HoldsConnection(connID string) bool {
	return t.ActiveConnectionID != nil && *t.ActiveConnectionID == connID
}
