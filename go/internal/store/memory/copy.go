package memory

import "github.com/mcdev12/codebid/go/internal/models"

func copyTeam(t *models.Team) *models.Team {
	c := *t
	if t.LastBidAt != nil {
		v := *t.LastBidAt
		c.LastBidAt = &v
	}
	if t.ActiveConnectionID != nil {
		v := *t.ActiveConnectionID
		c.ActiveConnectionID = &v
	}
	return &c
}

func copyRound(r *models.Round) *models.Round {
	c := *r
	c.Bids = append([]models.Bid(nil), r.Bids...)
	if c.Bids == nil {
		c.Bids = []models.Bid{}
	}
	c.WinnerID = clonePtr(r.WinnerID)
	c.WinnerName = clonePtr(r.WinnerName)
	c.WinningBid = clonePtr(r.WinningBid)
	c.SubmittedAnswer = clonePtr(r.SubmittedAnswer)
	c.Result = clonePtr(r.Result)
	c.BiddingEndedAt = clonePtr(r.BiddingEndedAt)
	c.CompletedAt = clonePtr(r.CompletedAt)
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
