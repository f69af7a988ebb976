package main

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/codebid/go/internal/auction/api"
	"github.com/mcdev12/codebid/go/internal/auction/bid"
	"github.com/mcdev12/codebid/go/internal/auction/events"
	"github.com/mcdev12/codebid/go/internal/auction/gateway"
	"github.com/mcdev12/codebid/go/internal/auction/recovery"
	"github.com/mcdev12/codebid/go/internal/auction/relay"
	"github.com/mcdev12/codebid/go/internal/auction/reward"
	"github.com/mcdev12/codebid/go/internal/auction/round"
	"github.com/mcdev12/codebid/go/internal/auction/timer"
	"github.com/mcdev12/codebid/go/internal/auth"
	"github.com/mcdev12/codebid/go/internal/teams"
)

type Services struct {
	Store    Store
	Gateway  *gateway.Service
	Relay    *relay.Relay // nil when NATS_URL is unset
	Timers   *timer.Authority
	Recovery *recovery.Manager
	API      *api.Handler
}

func setupServices(ctx context.Context, config *Config, st Store) (*Services, error) {
	// Wire up dependency injection chain
	// Store → App layer → Gateway / REST
	clock := clockwork.NewRealClock()

	tokens, err := auth.NewTokenManager(config.Auth.JWTSecret, config.tokenTTL(), clock)
	if err != nil {
		return nil, fmt.Errorf("failed to create token manager: %w", err)
	}

	// Events fan out to live connections first, then to the relay
	gatewayService := gateway.NewService(gateway.DefaultConfig(), st, tokens)
	connections := gatewayService.Connections()
	publisher := events.Fanout{connections}

	var eventRelay *relay.Relay
	if config.Relay.NATSURL != "" {
		relayConfig := relay.DefaultConfig()
		relayConfig.URL = config.Relay.NATSURL
		if config.Relay.StreamName != "" {
			relayConfig.StreamName = config.Relay.StreamName
		}
		if config.Relay.SubjectPrefix != "" {
			relayConfig.SubjectPrefix = config.Relay.SubjectPrefix
		}
		eventRelay, err = relay.Connect(ctx, relayConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to start event relay: %w", err)
		}
		publisher = append(publisher, eventRelay)
		log.Info().Str("stream", relayConfig.StreamName).Msg("event relay enabled")
	} else {
		log.Info().Msg("NATS_URL not set, event relay disabled")
	}

	// Every state change and the events reporting it commit through one sequencer
	sequencer := events.NewSequencer(publisher)

	// Teams
	teamsApp := teams.NewApp(st, sequencer, clock, config.Game.StartingCoins)

	// Rounds
	timers := timer.NewAuthority(clock, sequencer)
	rewards := reward.NewEngine(st, config.rewardPolicy(), clock)
	rounds := round.NewApp(st, rewards, teamsApp, timers, sequencer, clock, config.roundConfig())
	ledger := bid.NewLedger(st, sequencer, clock, config.bidCooldown())
	recoveryManager := recovery.NewManager(st, rounds, teamsApp, sequencer, clock)

	// Back-references into the connection registry
	rounds.SetSessionKicker(connections)
	teamsApp.SetSessionKicker(connections)
	connections.SetRestorer(recoveryManager)
	connections.SetCommandRouter(gateway.NewCommandRouter(rounds, ledger, recoveryManager))

	// Auth
	accounts := auth.NewApp(st, tokens, config.Auth.Admins, config.Game.StartingCoins)

	return &Services{
		Store:    st,
		Gateway:  gatewayService,
		Relay:    eventRelay,
		Timers:   timers,
		Recovery: recoveryManager,
		API:      api.NewHandler(tokens, accounts, rounds, ledger, teamsApp, recoveryManager),
	}, nil
}

// Run starts the background workers. It returns once they are running.
func (s *Services) Run(ctx context.Context) {
	go s.Gateway.Start(ctx)
	if s.Relay != nil {
		go s.Relay.Run(ctx)
	}
}

func (s *Services) Close() {
	s.Timers.Close()
	if s.Relay != nil {
		s.Relay.Close()
	}
}
