package events

import (
	"time"

	"github.com/mcdev12/codebid/go/internal/models"
)

// Event payload types shared between the auction packages and the gateway

// RoundStartedPayload is the payload for a round:started event
type RoundStartedPayload struct {
	RoundID     string          `json:"round_id"`
	RoundNumber int             `json:"round_number"`
	Title       string          `json:"title"`
	Category    models.Category `json:"category"`
	DurationSec int             `json:"duration_sec"`
	StartedAt   time.Time       `json:"started_at"`
	DeadlineAt  time.Time       `json:"deadline_at"`
}

// BidReceivedPayload is the payload for a bid:received event
type BidReceivedPayload struct {
	TeamName  string    `json:"team_name"`
	Amount    int       `json:"amount"`
	Timestamp time.Time `json:"timestamp"`
	BidCount  int       `json:"bid_count"`
}

// WinnerInfo identifies the auction winner
type WinnerInfo struct {
	TeamID   string `json:"team_id"`
	TeamName string `json:"team_name"`
	Amount   int    `json:"amount"`
}

// BiddingEndedPayload is the payload for a bidding:ended event. Winner is
// null when nobody bid.
type BiddingEndedPayload struct {
	Winner         *WinnerInfo  `json:"winner"`
	Bids           []models.Bid `json:"bids"`
	EndedAt        time.Time    `json:"ended_at"`
	AnswerDeadline *time.Time   `json:"answer_deadline,omitempty"`
	AnswerDuration int          `json:"answer_duration_sec,omitempty"`
	RoundCompleted bool         `json:"round_completed"`
}

// AnswerSubmittedPayload is the payload for answer:submitted and
// admin:answer-received events
type AnswerSubmittedPayload struct {
	TeamName string `json:"team_name"`
	Answer   string `json:"answer"`
}

// RoundCompletedPayload is the payload for a round:completed event
type RoundCompletedPayload struct {
	RoundNumber  int           `json:"round_number"`
	Result       models.Result `json:"result"`
	TimedOut     bool          `json:"timed_out"`
	Winner       *WinnerInfo   `json:"winner"`
	CoinsAwarded int           `json:"coins_awarded"`
	NewBalance   int           `json:"new_balance"`
	Eliminated   bool          `json:"eliminated"`
	Leaderboard  []Standing    `json:"leaderboard"`
}

// RoundForceResetPayload is the payload for a round:force-reset event
type RoundForceResetPayload struct {
	RoundNumber int       `json:"round_number"`
	ResetAt     time.Time `json:"reset_at"`
}

// TimerTickPayload contains the once-per-second countdown
type TimerTickPayload struct {
	Phase            string    `json:"phase"`
	TimeRemainingSec int       `json:"time_remaining_sec"`
	DeadlineAt       time.Time `json:"deadline_at"`
	TickedAt         time.Time `json:"ticked_at"`
}

// TimerExpiredPayload is the payload for a timer:expired event
type TimerExpiredPayload struct {
	Phase     string    `json:"phase"`
	ExpiredAt time.Time `json:"expired_at"`
}

// Standing is one leaderboard row
type Standing struct {
	Rank           int    `json:"rank"`
	TeamID         string `json:"team_id"`
	TeamName       string `json:"team_name"`
	RepName        string `json:"rep_name"`
	Coins          int    `json:"coins"`
	CorrectAnswers int    `json:"correct_answers"`
	WrongAnswers   int    `json:"wrong_answers"`
	TotalBids      int    `json:"total_bids"`
	Accuracy       int    `json:"accuracy"`
}

// LeaderboardPayload is the payload for a leaderboard:update event
type LeaderboardPayload struct {
	Standings []Standing `json:"standings"`
}

// TeamsOnlinePayload is the payload for a teams:online event
type TeamsOnlinePayload struct {
	Count int `json:"count"`
}

// ForceLogoutPayload is sent to a superseded or disabled connection
type ForceLogoutPayload struct {
	Reason string `json:"reason"`
}

// TeamDisabledPayload is the payload for a team:disabled event
type TeamDisabledPayload struct {
	TeamID   string `json:"team_id"`
	TeamName string `json:"team_name"`
	Reason   string `json:"reason"`
}

// CoinsUpdatedPayload is the payload for a coins:updated event
type CoinsUpdatedPayload struct {
	TeamID   string `json:"team_id"`
	TeamName string `json:"team_name"`
	Coins    int    `json:"coins"`
}

// GameResetPayload is the payload for a game:reset event
type GameResetPayload struct {
	TeamsReset    int       `json:"teams_reset"`
	StartingCoins int       `json:"starting_coins"`
	ResetAt       time.Time `json:"reset_at"`
}

// CommandAckPayload answers a websocket command that succeeded
type CommandAckPayload struct {
	Command   string `json:"command"`
	RequestID string `json:"request_id,omitempty"`
	Data      any    `json:"data,omitempty"`
}

// CommandErrorPayload answers a websocket command that failed
type CommandErrorPayload struct {
	Command   string `json:"command"`
	RequestID string `json:"request_id,omitempty"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}
