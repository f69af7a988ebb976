package mongodb

import (
	"time"

	"github.com/google/uuid"

	"github.com/mcdev12/codebid/go/internal/models"
)

type teamDoc struct {
	ID                 string     `bson:"_id"`
	TeamName           string     `bson:"team_name"`
	RepName            string     `bson:"rep_name"`
	Email              string     `bson:"email"`
	PasswordHash       string     `bson:"password_hash"`
	Coins              int        `bson:"coins"`
	CorrectAnswers     int        `bson:"correct_answers"`
	WrongAnswers       int        `bson:"wrong_answers"`
	TotalBids          int        `bson:"total_bids"`
	IsActive           bool       `bson:"is_active"`
	LastBidAt          *time.Time `bson:"last_bid_at"`
	ActiveConnectionID *string    `bson:"active_connection_id"`
	CreatedAt          time.Time  `bson:"created_at"`
	UpdatedAt          time.Time  `bson:"updated_at"`
}

type bidDoc struct {
	TeamID    string    `bson:"team_id"`
	TeamName  string    `bson:"team_name"`
	Amount    int       `bson:"amount"`
	Timestamp time.Time `bson:"timestamp"`
}

// roundDoc keeps bids embedded so every bid append is a single-document
// conditional update. Live mirrors status in {bidding, reviewing} and backs
// the partial unique index.
type roundDoc struct {
	ID               string     `bson:"_id"`
	RoundNumber      int        `bson:"round_number"`
	Title            string     `bson:"title"`
	Category         string     `bson:"category"`
	Status           string     `bson:"status"`
	Live             bool       `bson:"live"`
	Bids             []bidDoc   `bson:"bids"`
	WinnerID         *string    `bson:"winner_id"`
	WinnerName       *string    `bson:"winner_name"`
	WinningBid       *int       `bson:"winning_bid"`
	SubmittedAnswer  *string    `bson:"submitted_answer"`
	Result           *string    `bson:"result"`
	CoinsAwarded     int        `bson:"coins_awarded"`
	BidDuration      int        `bson:"bid_duration_sec"`
	AnswerDuration   int        `bson:"answer_duration_sec"`
	BiddingStartedAt time.Time  `bson:"bidding_started_at"`
	BiddingEndedAt   *time.Time `bson:"bidding_ended_at"`
	CompletedAt      *time.Time `bson:"completed_at"`
	CreatedAt        time.Time  `bson:"created_at"`
	UpdatedAt        time.Time  `bson:"updated_at"`
}

func (d *teamDoc) toModel() *models.Team {
	return &models.Team{
		ID:                 uuid.MustParse(d.ID),
		TeamName:           d.TeamName,
		RepName:            d.RepName,
		Email:              d.Email,
		PasswordHash:       d.PasswordHash,
		Coins:              d.Coins,
		CorrectAnswers:     d.CorrectAnswers,
		WrongAnswers:       d.WrongAnswers,
		TotalBids:          d.TotalBids,
		IsActive:           d.IsActive,
		LastBidAt:          d.LastBidAt,
		ActiveConnectionID: d.ActiveConnectionID,
		CreatedAt:          d.CreatedAt,
		UpdatedAt:          d.UpdatedAt,
	}
}

func (d *roundDoc) toModel() *models.Round {
	r := &models.Round{
		ID:               uuid.MustParse(d.ID),
		RoundNumber:      d.RoundNumber,
		Title:            d.Title,
		Category:         models.Category(d.Category),
		Status:           models.RoundStatus(d.Status),
		Bids:             make([]models.Bid, len(d.Bids)),
		WinnerName:       d.WinnerName,
		WinningBid:       d.WinningBid,
		SubmittedAnswer:  d.SubmittedAnswer,
		CoinsAwarded:     d.CoinsAwarded,
		BidDuration:      d.BidDuration,
		AnswerDuration:   d.AnswerDuration,
		BiddingStartedAt: d.BiddingStartedAt,
		BiddingEndedAt:   d.BiddingEndedAt,
		CompletedAt:      d.CompletedAt,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
	}
	for i, b := range d.Bids {
		r.Bids[i] = models.Bid{
			TeamID:    uuid.MustParse(b.TeamID),
			TeamName:  b.TeamName,
			Amount:    b.Amount,
			Timestamp: b.Timestamp,
		}
	}
	if d.WinnerID != nil {
		id := uuid.MustParse(*d.WinnerID)
		r.WinnerID = &id
	}
	if d.Result != nil {
		res := models.Result(*d.Result)
		r.Result = &res
	}
	return r
}

func bidsFromDocs(docs []bidDoc) []models.Bid {
	return (&roundDoc{ID: uuid.Nil.String(), Bids: docs}).toModel().Bids
}

func idPtr(id *uuid.UUID) *string {
	if id == nil {
		return nil
	}
	s := id.String()
	return &s
}
