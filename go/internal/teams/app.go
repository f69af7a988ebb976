package teams

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/codebid/go/internal/apperr"
	"github.com/mcdev12/codebid/go/internal/auction/events"
	"github.com/mcdev12/codebid/go/internal/models"
	"github.com/mcdev12/codebid/go/internal/store"
)

// TeamsRepository defines what the app layer needs from the repository
type TeamsRepository interface {
	GetTeam(ctx context.Context, id uuid.UUID) (*models.Team, error)
	ListTeams(ctx context.Context) ([]models.Team, error)
	SetTeamActive(ctx context.Context, id uuid.UUID, active bool) (*models.Team, error)
	SetCoins(ctx context.Context, id uuid.UUID, coins int) (*models.Team, error)
	ResetAllTeams(ctx context.Context, coins int) (int, error)
	DeleteTeam(ctx context.Context, id uuid.UUID) error
}

// SessionKicker drops a team's live connection
type SessionKicker interface {
	KickTeam(teamID uuid.UUID, reason string)
}

// App handles team administration and the leaderboard
type App struct {
	repo          TeamsRepository
	commits       events.Committer
	clock         clockwork.Clock
	kicker        SessionKicker
	startingCoins int
}

// NewApp creates a new teams App
func NewApp(repo TeamsRepository, commits events.Committer, clock clockwork.Clock, startingCoins int) *App {
	if startingCoins <= 0 {
		startingCoins = models.StartingCoins
	}
	return &App{
		repo:          repo,
		commits:       commits,
		clock:         clock,
		startingCoins: startingCoins,
	}
}

// SetSessionKicker wires the connection registry after construction.
func (a *App) SetSessionKicker(k SessionKicker) {
	a.kicker = k
}

// GetTeam retrieves a team by ID
func (a *App) GetTeam(ctx context.Context, id uuid.UUID) (*models.Team, error) {
	team, err := a.repo.GetTeam(ctx, id)
	if err != nil {
		return nil, notFound(err, "failed to get team")
	}
	return team, nil
}

// ListTeams retrieves every team, richest first
func (a *App) ListTeams(ctx context.Context) ([]models.Team, error) {
	teams, err := a.repo.ListTeams(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list teams: %w", err)
	}
	return teams, nil
}

// Leaderboard ranks the active teams by balance.
func (a *App) Leaderboard(ctx context.Context) ([]events.Standing, error) {
	teams, err := a.repo.ListTeams(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list teams: %w", err)
	}

	standings := make([]events.Standing, 0, len(teams))
	for i := range teams {
		t := &teams[i]
		if !t.IsActive {
			continue
		}
		standings = append(standings, events.Standing{
			Rank:           len(standings) + 1,
			TeamID:         t.ID.String(),
			TeamName:       t.TeamName,
			RepName:        t.RepName,
			Coins:          t.Coins,
			CorrectAnswers: t.CorrectAnswers,
			WrongAnswers:   t.WrongAnswers,
			TotalBids:      t.TotalBids,
			Accuracy:       t.Accuracy(),
		})
	}
	return standings, nil
}

// DisableTeam deactivates a team and kicks its live connection
func (a *App) DisableTeam(ctx context.Context, id uuid.UUID) (*models.Team, error) {
	var team *models.Team
	err := a.commits.Commit(func(p events.Publisher) error {
		var err error
		team, err = a.repo.SetTeamActive(ctx, id, false)
		if err != nil {
			return err
		}
		if a.kicker != nil {
			a.kicker.KickTeam(team.ID, "disabled")
		}
		events.Emit(p, events.ToAll(), events.TypeTeamDisabled, uuid.Nil, events.TeamDisabledPayload{
			TeamID:   team.ID.String(),
			TeamName: team.TeamName,
			Reason:   "disabled",
		})
		a.publishLeaderboard(ctx, p)
		return nil
	})
	if err != nil {
		return nil, notFound(err, "failed to disable team")
	}

	log.Info().Str("team_id", team.ID.String()).Str("team_name", team.TeamName).Msg("team disabled")
	return team, nil
}

// EnableTeam reactivates a team
func (a *App) EnableTeam(ctx context.Context, id uuid.UUID) (*models.Team, error) {
	var team *models.Team
	err := a.commits.Commit(func(p events.Publisher) error {
		var err error
		team, err = a.repo.SetTeamActive(ctx, id, true)
		if err != nil {
			return err
		}
		a.publishLeaderboard(ctx, p)
		return nil
	})
	if err != nil {
		return nil, notFound(err, "failed to enable team")
	}

	log.Info().Str("team_id", team.ID.String()).Str("team_name", team.TeamName).Msg("team enabled")
	return team, nil
}

// SetCoins overwrites a team's balance
func (a *App) SetCoins(ctx context.Context, id uuid.UUID, coins int) (*models.Team, error) {
	if coins < 0 {
		return nil, apperr.Validation("coins must not be negative")
	}

	var team *models.Team
	err := a.commits.Commit(func(p events.Publisher) error {
		var err error
		team, err = a.repo.SetCoins(ctx, id, coins)
		if err != nil {
			return err
		}
		events.Emit(p, events.ToAll(), events.TypeCoinsUpdated, uuid.Nil, events.CoinsUpdatedPayload{
			TeamID:   team.ID.String(),
			TeamName: team.TeamName,
			Coins:    team.Coins,
		})
		a.publishLeaderboard(ctx, p)
		return nil
	})
	if err != nil {
		return nil, notFound(err, "failed to set coins")
	}

	log.Info().Str("team_id", team.ID.String()).Int("coins", coins).Msg("team coins set")
	return team, nil
}

// ResetAll restores every team to the starting stake with clean counters
func (a *App) ResetAll(ctx context.Context) (int, error) {
	var n int
	err := a.commits.Commit(func(p events.Publisher) error {
		var err error
		n, err = a.repo.ResetAllTeams(ctx, a.startingCoins)
		if err != nil {
			return err
		}
		events.Emit(p, events.ToAll(), events.TypeGameReset, uuid.Nil, events.GameResetPayload{
			TeamsReset:    n,
			StartingCoins: a.startingCoins,
			ResetAt:       a.clock.Now().UTC(),
		})
		a.publishLeaderboard(ctx, p)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to reset teams: %w", err)
	}

	log.Warn().Int("teams_reset", n).Int("starting_coins", a.startingCoins).Msg("game reset")
	return n, nil
}

// DeleteTeam removes a team and drops its connection
func (a *App) DeleteTeam(ctx context.Context, id uuid.UUID) error {
	team, err := a.repo.GetTeam(ctx, id)
	if err != nil {
		return notFound(err, "failed to get team")
	}

	err = a.commits.Commit(func(p events.Publisher) error {
		if err := a.repo.DeleteTeam(ctx, id); err != nil {
			return err
		}
		if a.kicker != nil {
			a.kicker.KickTeam(id, "deleted")
		}
		a.publishLeaderboard(ctx, p)
		return nil
	})
	if err != nil {
		return notFound(err, "failed to delete team")
	}

	log.Info().Str("team_id", id.String()).Str("team_name", team.TeamName).Msg("team deleted")
	return nil
}

func (a *App) publishLeaderboard(ctx context.Context, p events.Publisher) {
	standings, err := a.Leaderboard(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to build leaderboard")
		return
	}
	events.Emit(p, events.ToAll(), events.TypeLeaderboard, uuid.Nil, events.LeaderboardPayload{Standings: standings})
}

func notFound(err error, msg string) error {
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFound("team not found")
	}
	return fmt.Errorf("%s: %w", msg, err)
}
