package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/mcdev12/codebid/go/internal/auth"
	"github.com/mcdev12/codebid/go/internal/dbconfig"
	"github.com/mcdev12/codebid/go/internal/models"
	"github.com/mcdev12/codebid/go/internal/store"
	"github.com/mcdev12/codebid/go/internal/store/mongodb"
	"github.com/mcdev12/codebid/go/internal/store/postgres"
)

// Team mirrors the JSON roster
type Team struct {
	TeamName string `json:"team_name"`
	RepName  string `json:"rep_name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type teamCreator interface {
	CreateTeam(ctx context.Context, p store.CreateTeamParams) (*models.Team, error)
}

type summary struct {
	total, inserted, skipped, errs int
}

func main() {
	path := "go/internal/assets/teams.json"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}

	// 1) Load the JSON roster
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read JSON: %v\n", err)
		os.Exit(1)
	}
	var teams []Team
	if err := json.Unmarshal(data, &teams); err != nil {
		fmt.Fprintf(os.Stderr, "unmarshal JSON: %v\n", err)
		os.Exit(1)
	}

	// 2) Connect using shared dbconfig
	ctx := context.Background()
	var (
		repo       teamCreator
		closeStore func()
	)
	switch driver := os.Getenv("STORE_DRIVER"); driver {
	case "", "postgres":
		s, err := postgres.Open(ctx, dbconfig.NewConfigFromEnv().DSN())
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
			os.Exit(1)
		}
		if err := s.Migrate(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "failed to migrate: %v\n", err)
			os.Exit(1)
		}
		repo, closeStore = s, s.Close
	case "mongodb":
		cfg := dbconfig.NewMongoConfigFromEnv()
		s, err := mongodb.Open(ctx, cfg.URI, cfg.Database)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
			os.Exit(1)
		}
		if err := s.EnsureIndexes(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "failed to create indexes: %v\n", err)
			os.Exit(1)
		}
		repo, closeStore = s, s.Close
	default:
		fmt.Fprintf(os.Stderr, "cannot seed store driver %q\n", driver)
		os.Exit(1)
	}
	defer closeStore()

	// 3) Insert and count
	sum := seed(ctx, repo, teams, models.StartingCoins)

	// 4) Print summary
	fmt.Printf(
		"Teams seed complete: %d total, %d inserted, %d skipped, %d errors\n",
		sum.total, sum.inserted, sum.skipped, sum.errs,
	)
}

func seed(ctx context.Context, repo teamCreator, teams []Team, coins int) summary {
	sum := summary{total: len(teams)}
	for _, t := range teams {
		if t.TeamName == "" || t.Email == "" || t.Password == "" {
			fmt.Fprintf(os.Stderr, "skipping incomplete team %q\n", t.TeamName)
			sum.errs++
			continue
		}
		hash, err := auth.HashPassword(t.Password)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error hashing password for %s: %v\n", t.TeamName, err)
			sum.errs++
			continue
		}

		_, err = repo.CreateTeam(ctx, store.CreateTeamParams{
			TeamName:     t.TeamName,
			RepName:      t.RepName,
			Email:        t.Email,
			PasswordHash: hash,
			Coins:        coins,
		})
		switch {
		case errors.Is(err, store.ErrDuplicate):
			sum.skipped++
		case err != nil:
			fmt.Fprintf(os.Stderr, "error inserting team %s: %v\n", t.TeamName, err)
			sum.errs++
		default:
			sum.inserted++
		}
	}
	return sum
}
