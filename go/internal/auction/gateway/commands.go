package gateway

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/codebid/go/internal/apperr"
	"github.com/mcdev12/codebid/go/internal/auction/bid"
	"github.com/mcdev12/codebid/go/internal/auction/events"
	"github.com/mcdev12/codebid/go/internal/auction/reward"
	"github.com/mcdev12/codebid/go/internal/auction/round"
	"github.com/mcdev12/codebid/go/internal/models"
)

// Command names accepted from clients
const (
	CommandPlaceBid     = "team:place-bid"
	CommandSubmitAnswer = "team:submit-answer"
	CommandStartRound   = "admin:start-round"
	CommandEndBidding   = "admin:end-bidding"
	CommandResult       = "admin:result"
	CommandForceReset   = "admin:force-reset"
	CommandAutoWrong    = "admin:auto-wrong"
	CommandStateSync    = "state:sync"
)

// Command is an inbound client message
type Command struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// RoundController is the round state machine as seen by the gateway
type RoundController interface {
	StartRound(ctx context.Context, req round.StartRoundRequest) (*models.Round, error)
	EndBidding(ctx context.Context) (*models.Round, error)
	SubmitAnswer(ctx context.Context, identity models.Identity, answer string) (*models.Round, error)
	RecordResult(ctx context.Context, result models.Result) (*reward.Settlement, error)
	ForceReset(ctx context.Context) (*models.Round, error)
	AutoWrong(ctx context.Context) (*reward.Settlement, error)
}

// BidPlacer is the bid ledger as seen by the gateway
type BidPlacer interface {
	PlaceBid(ctx context.Context, req bid.PlaceBidRequest) (*models.Bid, error)
}

// CommandRouter dispatches client commands to the auction
type CommandRouter struct {
	rounds   RoundController
	bids     BidPlacer
	restorer Restorer
}

func NewCommandRouter(rounds RoundController, bids BidPlacer, restorer Restorer) *CommandRouter {
	return &CommandRouter{rounds: rounds, bids: bids, restorer: restorer}
}

type placeBidData struct {
	Amount int `json:"amount"`
}

type submitAnswerData struct {
	Answer string `json:"answer"`
}

type resultData struct {
	Result models.Result `json:"result"`
}

// Handle runs cmd on behalf of conn and returns the ack payload.
func (r *CommandRouter) Handle(ctx context.Context, conn *Connection, cmd Command) (any, error) {
	identity := conn.Identity

	switch cmd.Type {
	case CommandPlaceBid:
		var d placeBidData
		if err := decodeData(cmd, &d); err != nil {
			return nil, err
		}
		return r.bids.PlaceBid(ctx, bid.PlaceBidRequest{
			Identity:     identity,
			ConnectionID: conn.ID,
			Amount:       d.Amount,
		})

	case CommandSubmitAnswer:
		var d submitAnswerData
		if err := decodeData(cmd, &d); err != nil {
			return nil, err
		}
		return r.rounds.SubmitAnswer(ctx, identity, d.Answer)

	case CommandStateSync:
		if r.restorer != nil {
			r.restorer.RestoreConnection(ctx, identity, conn.ID)
		}
		return nil, nil
	}

	if !identity.IsAdmin() {
		if isAdminCommand(cmd.Type) {
			return nil, apperr.Forbidden("admin access required")
		}
		return nil, apperr.Validation("unknown command %q", cmd.Type)
	}

	switch cmd.Type {
	case CommandStartRound:
		var req round.StartRoundRequest
		if err := decodeData(cmd, &req); err != nil {
			return nil, err
		}
		return r.rounds.StartRound(ctx, req)
	case CommandEndBidding:
		return r.rounds.EndBidding(ctx)
	case CommandResult:
		var d resultData
		if err := decodeData(cmd, &d); err != nil {
			return nil, err
		}
		return r.rounds.RecordResult(ctx, d.Result)
	case CommandForceReset:
		return r.rounds.ForceReset(ctx)
	case CommandAutoWrong:
		return r.rounds.AutoWrong(ctx)
	default:
		return nil, apperr.Validation("unknown command %q", cmd.Type)
	}
}

func isAdminCommand(t string) bool {
	switch t {
	case CommandStartRound, CommandEndBidding, CommandResult, CommandForceReset, CommandAutoWrong:
		return true
	}
	return false
}

func decodeData(cmd Command, v any) error {
	if len(cmd.Data) == 0 {
		return apperr.Validation("%s requires data", cmd.Type)
	}
	if err := json.Unmarshal(cmd.Data, v); err != nil {
		return apperr.Wrap(apperr.KindValidation, err, "malformed %s data", cmd.Type)
	}
	return nil
}

// handleClientMessage decodes, throttles and dispatches one client message,
// answering the sender with command:ack or command:error.
func (c *Connection) handleClientMessage(message []byte) {
	var cmd Command
	if err := json.Unmarshal(message, &cmd); err != nil || cmd.Type == "" {
		c.replyError(cmd, apperr.Validation("malformed command"))
		return
	}
	if !c.limiter.Allow() {
		c.replyError(cmd, apperr.RateLimited("too many messages"))
		return
	}

	router := c.Manager.commands
	if router == nil {
		c.replyError(cmd, apperr.New(apperr.KindInternal, "commands are not available"))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.Manager.config.CommandTimeout)
	defer cancel()

	data, err := router.Handle(ctx, c, cmd)
	if err != nil {
		c.replyError(cmd, err)
		return
	}

	events.Emit(c.Manager, events.ToConnection(c.ID), events.TypeCommandAck, uuid.Nil, events.CommandAckPayload{
		Command:   cmd.Type,
		RequestID: cmd.RequestID,
		Data:      data,
	})
}

func (c *Connection) replyError(cmd Command, err error) {
	kind := apperr.KindOf(err)
	if kind == apperr.KindInternal {
		log.Error().Err(err).Str("connection_id", c.ID).Str("command", cmd.Type).Msg("command failed")
	} else {
		log.Debug().Err(err).Str("connection_id", c.ID).Str("command", cmd.Type).Msg("command rejected")
	}

	events.Emit(c.Manager, events.ToConnection(c.ID), events.TypeCommandError, uuid.Nil, events.CommandErrorPayload{
		Command:   cmd.Type,
		RequestID: cmd.RequestID,
		Code:      kind.Code(),
		Message:   apperr.Message(err),
	})
}
