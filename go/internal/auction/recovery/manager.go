// Package recovery rebuilds live state after a restart and replays it to
// every new connection.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/codebid/go/internal/auction/events"
	"github.com/mcdev12/codebid/go/internal/auction/timer"
	"github.com/mcdev12/codebid/go/internal/models"
	"github.com/mcdev12/codebid/go/internal/store"
)

// PhaseVerdict marks a reviewing round whose answer is in.
const PhaseVerdict = "verdict"

// Repository defines what recovery reads from the store
type Repository interface {
	GetLiveRound(ctx context.Context) (*models.Round, error)
	GetTeam(ctx context.Context, id uuid.UUID) (*models.Team, error)
}

// TimerArmer restarts the countdown for a live round
type TimerArmer interface {
	ArmTimer(r *models.Round)
}

// Leaderboard supplies standings for snapshots
type Leaderboard interface {
	Leaderboard(ctx context.Context) ([]events.Standing, error)
}

// Snapshot is the full public state of the game at one instant
type Snapshot struct {
	Round            *models.Round     `json:"round"`
	Phase            string            `json:"phase,omitempty"`
	TimeRemainingSec int               `json:"time_remaining_sec"`
	DeadlineAt       *time.Time        `json:"deadline_at,omitempty"`
	Leaderboard      []events.Standing `json:"leaderboard,omitempty"`
	Team             *models.Team      `json:"team,omitempty"`
	ServerTime       time.Time         `json:"server_time"`
}

// Manager restores rounds on boot and snapshots them on connect
type Manager struct {
	repo        Repository
	timers      TimerArmer
	leaderboard Leaderboard
	commits     events.Committer
	clock       clockwork.Clock
}

func NewManager(repo Repository, timers TimerArmer, leaderboard Leaderboard, commits events.Committer, clock clockwork.Clock) *Manager {
	return &Manager{
		repo:        repo,
		timers:      timers,
		leaderboard: leaderboard,
		commits:     commits,
		clock:       clock,
	}
}

// Recover republishes the live round, if any, and re-arms its countdown
// from the stored timestamps. A deadline that passed while the server was
// down fires at once.
func (m *Manager) Recover(ctx context.Context) error {
	var (
		live *models.Round
		snap *Snapshot
	)
	err := m.commits.Commit(func(p events.Publisher) error {
		var err error
		live, err = m.repo.GetLiveRound(ctx)
		if err != nil {
			return err
		}
		snap = m.build(ctx, live, nil)
		events.Emit(p, events.ToAll(), events.TypeRoundRestore, live.ID, snap)
		m.timers.ArmTimer(live)
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		log.Info().Msg("no live round to recover")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load live round: %w", err)
	}

	log.Info().
		Str("round_id", live.ID.String()).
		Int("round_number", live.RoundNumber).
		Str("status", string(live.Status)).
		Str("phase", snap.Phase).
		Int("time_remaining_sec", snap.TimeRemainingSec).
		Msg("live round recovered after restart")
	return nil
}

// RestoreConnection sends the current snapshot to one connection only. The
// snapshot is read inside a commit, so every event queued after it reports
// a later change.
func (m *Manager) RestoreConnection(ctx context.Context, identity models.Identity, connectionID string) {
	err := m.commits.Commit(func(p events.Publisher) error {
		snap, err := m.Snapshot(ctx, identity)
		if err != nil {
			return err
		}
		roundID := uuid.Nil
		if snap.Round != nil {
			roundID = snap.Round.ID
		}
		events.Emit(p, events.ToConnection(connectionID), events.TypeRoundRestore, roundID, snap)
		return nil
	})
	if err != nil {
		log.Error().Err(err).Str("connection_id", connectionID).Msg("failed to build restore snapshot")
	}
}

// Snapshot builds the state seen by identity: the live round with its
// remaining time, the leaderboard, and the caller's own ledger for teams.
func (m *Manager) Snapshot(ctx context.Context, identity models.Identity) (*Snapshot, error) {
	live, err := m.repo.GetLiveRound(ctx)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to load live round: %w", err)
	}

	var team *models.Team
	if identity.IsTeam() {
		team, err = m.repo.GetTeam(ctx, identity.TeamID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("failed to load team: %w", err)
		}
	}

	return m.build(ctx, live, team), nil
}

func (m *Manager) build(ctx context.Context, live *models.Round, team *models.Team) *Snapshot {
	now := m.clock.Now()
	snap := &Snapshot{Round: live, Team: team, ServerTime: now}

	if m.leaderboard != nil {
		standings, err := m.leaderboard.Leaderboard(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("snapshot without leaderboard")
		}
		snap.Leaderboard = standings
	}

	if live == nil {
		return snap
	}

	var deadline time.Time
	switch {
	case live.Status == models.RoundStatusBidding:
		snap.Phase = string(timer.PhaseBidding)
		deadline = live.BiddingDeadline()
	case live.Status == models.RoundStatusReviewing && live.SubmittedAnswer != nil:
		snap.Phase = PhaseVerdict
		return snap
	case live.Status == models.RoundStatusReviewing:
		d, ok := live.AnswerDeadline()
		if !ok {
			return snap
		}
		snap.Phase = string(timer.PhaseAnswer)
		deadline = d
	default:
		return snap
	}

	snap.DeadlineAt = &deadline
	snap.TimeRemainingSec = timer.SecondsLeft(deadline, now)
	return snap
}
