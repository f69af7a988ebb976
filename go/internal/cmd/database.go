package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/codebid/go/internal/auction/bid"
	"github.com/mcdev12/codebid/go/internal/auction/gateway"
	"github.com/mcdev12/codebid/go/internal/auction/recovery"
	"github.com/mcdev12/codebid/go/internal/auction/reward"
	"github.com/mcdev12/codebid/go/internal/auction/round"
	"github.com/mcdev12/codebid/go/internal/auth"
	"github.com/mcdev12/codebid/go/internal/dbconfig"
	"github.com/mcdev12/codebid/go/internal/store/memory"
	"github.com/mcdev12/codebid/go/internal/store/mongodb"
	"github.com/mcdev12/codebid/go/internal/store/postgres"
	"github.com/mcdev12/codebid/go/internal/teams"
)

// Store is everything the services need from a backend
type Store interface {
	auth.TeamsRepository
	teams.TeamsRepository
	round.Repository
	bid.Repository
	reward.Repository
	recovery.Repository
	gateway.TeamSessions

	Ping(ctx context.Context) error
	Close()
}

func setupStore(ctx context.Context, driver string) (Store, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	switch driver {
	case "postgres":
		dbCfg := dbconfig.NewConfigFromEnv()
		s, err := postgres.Open(ctx, dbCfg.DSN())
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			s.Close()
			return nil, err
		}
		log.Info().
			Str("host", dbCfg.Host).
			Int("port", dbCfg.Port).
			Str("database", dbCfg.Database).
			Msg("connected to postgres")
		return s, nil

	case "mongodb":
		mCfg := dbconfig.NewMongoConfigFromEnv()
		s, err := mongodb.Open(ctx, mCfg.URI, mCfg.Database)
		if err != nil {
			return nil, err
		}
		if err := s.EnsureIndexes(ctx); err != nil {
			s.Close()
			return nil, err
		}
		log.Info().Str("database", mCfg.Database).Msg("connected to mongodb")
		return s, nil

	case "memory":
		log.Warn().Msg("using in-memory store, state is lost on restart")
		return memory.New(clockwork.NewRealClock()), nil
	}
	return nil, fmt.Errorf("unknown store driver %q", driver)
}
