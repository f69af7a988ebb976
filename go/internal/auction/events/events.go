package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Event is the envelope for everything pushed to clients and the relay
type Event struct {
	ID        string          `json:"id"`                 // Event UUID
	Seq       uint64          `json:"seq,omitempty"`      // Commit order, set by the Sequencer
	Type      Type            `json:"type"`               // Event type
	RoundID   string          `json:"round_id,omitempty"` // Round UUID, if any
	Timestamp time.Time       `json:"timestamp"`          // Event creation time
	Data      json.RawMessage `json:"data"`               // Event-specific payload
}

// Type names an event on the wire
type Type string

const (
	TypeRoundStarted    Type = "round:started"
	TypeBidReceived     Type = "bid:received"
	TypeBiddingEnded    Type = "bidding:ended"
	TypeAnswerSubmitted Type = "answer:submitted"
	TypeAnswerReceived  Type = "admin:answer-received"
	TypeRoundCompleted  Type = "round:completed"
	TypeRoundForceReset Type = "round:force-reset"
	TypeTimerTick       Type = "timer:tick"
	TypeTimerExpired    Type = "timer:expired"
	TypeRoundRestore    Type = "round:restore"
	TypeTeamsOnline     Type = "teams:online"
	TypeForceLogout     Type = "session:force-logout"
	TypeTeamDisabled    Type = "team:disabled"
	TypeCoinsUpdated    Type = "coins:updated"
	TypeGameReset       Type = "game:reset"
	TypeLeaderboard     Type = "leaderboard:update"
	TypeCommandAck      Type = "command:ack"
	TypeCommandError    Type = "command:error"
)

// New wraps payload in an envelope. roundID may be uuid.Nil.
func New(t Type, roundID uuid.UUID, payload any) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	e := &Event{
		ID:        uuid.New().String(),
		Type:      t,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
	if roundID != uuid.Nil {
		e.RoundID = roundID.String()
	}
	return e, nil
}

// Publisher delivers committed events to an audience
type Publisher interface {
	Publish(to Audience, event *Event)
}

// Emit builds and publishes an event, logging instead of failing.
func Emit(p Publisher, to Audience, t Type, roundID uuid.UUID, payload any) {
	if p == nil {
		return
	}
	e, err := New(t, roundID, payload)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(t)).Msg("failed to build event")
		return
	}
	p.Publish(to, e)
}

// Fanout publishes to every publisher in order.
type Fanout []Publisher

func (f Fanout) Publish(to Audience, event *Event) {
	for _, p := range f {
		p.Publish(to, event)
	}
}
