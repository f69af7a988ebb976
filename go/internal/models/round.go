package models

import (
	"time"

	"github.com/google/uuid"
)

// RoundStatus is the lifecycle state of a round
type RoundStatus string

const (
	RoundStatusIdle      RoundStatus = "idle"
	RoundStatusBidding   RoundStatus = "bidding"
	RoundStatusReviewing RoundStatus = "reviewing"
	RoundStatusCompleted RoundStatus = "completed"
)

// IsLive reports whether the status belongs to the single live round.
func (s RoundStatus) IsLive() bool {
	return s == RoundStatusBidding || s == RoundStatusReviewing
}

// Category is the question difficulty that drives the reward table
type Category string

const (
	CategoryEasy   Category = "Easy"
	CategoryMedium Category = "Medium"
	CategoryHard   Category = "Hard"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryEasy, CategoryMedium, CategoryHard:
		return true
	}
	return false
}

// Result is the admin verdict on the winner's answer
type Result string

const (
	ResultCorrect Result = "correct"
	ResultWrong   Result = "wrong"
)

// Valid reports whether r is a known verdict.
func (r Result) Valid() bool {
	return r == ResultCorrect || r == ResultWrong
}

// Bid is a single team's stake in a round
type Bid struct {
	TeamID    uuid.UUID `json:"team_id"`
	TeamName  string    `json:"team_name"`
	Amount    int       `json:"amount"`
	Timestamp time.Time `json:"timestamp"`
}

// Round is one question and auction cycle
type Round struct {
	ID               uuid.UUID   `json:"id"`
	RoundNumber      int         `json:"round_number"`
	Title            string      `json:"title"`
	Category         Category    `json:"category"`
	Status           RoundStatus `json:"status"`
	Bids             []Bid       `json:"bids"`
	WinnerID         *uuid.UUID  `json:"winner_id,omitempty"`
	WinnerName       *string     `json:"winner_name,omitempty"`
	WinningBid       *int        `json:"winning_bid,omitempty"`
	SubmittedAnswer  *string     `json:"submitted_answer,omitempty"`
	Result           *Result     `json:"result,omitempty"`
	CoinsAwarded     int         `json:"coins_awarded"`
	BidDuration      int         `json:"bid_duration_sec"`
	AnswerDuration   int         `json:"answer_duration_sec"`
	BiddingStartedAt time.Time   `json:"bidding_started_at"`
	BiddingEndedAt   *time.Time  `json:"bidding_ended_at,omitempty"`
	CompletedAt      *time.Time  `json:"completed_at,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// HasBidFrom reports whether teamID already holds a bid in the round.
func (r *Round) HasBidFrom(teamID uuid.UUID) bool {
	for _, b := range r.Bids {
		if b.TeamID == teamID {
			return true
		}
	}
	return false
}

// BiddingDeadline is when the bidding window closes.
func (r *Round) BiddingDeadline() time.Time {
	return r.BiddingStartedAt.Add(time.Duration(r.BidDuration) * time.Second)
}

// AnswerDeadline is when the winner's answer window closes. It is only
// meaningful once bidding has ended.
func (r *Round) AnswerDeadline() (time.Time, bool) {
	if r.BiddingEndedAt == nil {
		return time.Time{}, false
	}
	return r.BiddingEndedAt.Add(time.Duration(r.AnswerDuration) * time.Second), true
}

// IsWinner reports whether teamID won the round's auction.
func (r *Round) IsWinner(teamID uuid.UUID) bool {
	return r.WinnerID != nil && *r.WinnerID == teamID
}
