// Package postgres persists teams, rounds and bids in Postgres through pgx.
// Conditional updates are expressed as status-guarded UPDATE statements and
// row locks inside short transactions.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/codebid/go/internal/models"
	"github.com/mcdev12/codebid/go/internal/sqlutil"
	"github.com/mcdev12/codebid/go/internal/store"
)

//go:embed schema.sql
var schema string

const uniqueViolation = "23505"

type Store struct {
	pool    *pgxpool.Pool
	queries *Queries
}

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return NewStore(pool), nil
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, queries: New(pool)}
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	log.Info().Msg("postgres schema applied")
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *Store) Close() { s.pool.Close() }

func (s *Store) tx(ctx context.Context, fn func(q *Queries) error) error {
	return sqlutil.Run(ctx, s.pool, func(tx pgx.Tx) *Queries { return New(tx) }, fn)
}

// mapErr translates driver errors into store sentinels.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		if pgErr.ConstraintName == "rounds_single_live" {
			return store.ErrLiveRoundExists
		}
		return store.ErrDuplicate
	}
	return err
}

// ---- teams ----

func (s *Store) CreateTeam(ctx context.Context, p store.CreateTeamParams) (*models.Team, error) {
	row, err := s.queries.InsertTeam(ctx, insertTeamParams{
		ID:           uuid.New(),
		TeamName:     p.TeamName,
		RepName:      p.RepName,
		Email:        strings.ToLower(p.Email),
		PasswordHash: p.PasswordHash,
		Coins:        int32(p.Coins),
	})
	if err != nil {
		return nil, mapErr(err)
	}
	return teamToModel(row), nil
}

func (s *Store) GetTeam(ctx context.Context, id uuid.UUID) (*models.Team, error) {
	row, err := s.queries.GetTeam(ctx, id)
	if err != nil {
		return nil, mapErr(err)
	}
	return teamToModel(row), nil
}

func (s *Store) GetTeamByEmail(ctx context.Context, email string) (*models.Team, error) {
	row, err := s.queries.GetTeamByEmail(ctx, email)
	if err != nil {
		return nil, mapErr(err)
	}
	return teamToModel(row), nil
}

func (s *Store) ListTeams(ctx context.Context) ([]models.Team, error) {
	rows, err := s.queries.ListTeams(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list teams: %w", err)
	}
	teams := make([]models.Team, len(rows))
	for i, row := range rows {
		teams[i] = *teamToModel(row)
	}
	return teams, nil
}

func (s *Store) ClaimBidAttempt(ctx context.Context, teamID uuid.UUID, at time.Time, cooldown time.Duration) error {
	n, err := s.queries.ClaimBidAttempt(ctx, teamID, at, at.Add(-cooldown))
	if err != nil {
		return fmt.Errorf("failed to claim bid attempt: %w", err)
	}
	if n == 1 {
		return nil
	}
	if _, err := s.queries.GetTeam(ctx, teamID); err != nil {
		return mapErr(err)
	}
	return store.ErrConditionFailed
}

func (s *Store) SwapActiveConnection(ctx context.Context, teamID uuid.UUID, connID string) (*string, error) {
	prev, err := s.queries.SwapActiveConnection(ctx, teamID, connID)
	if err != nil {
		return nil, mapErr(err)
	}
	return sqlutil.FromPgText(prev), nil
}

func (s *Store) ClearActiveConnection(ctx context.Context, teamID uuid.UUID, connID string) (bool, error) {
	n, err := s.queries.ClearActiveConnection(ctx, teamID, connID)
	if err != nil {
		return false, fmt.Errorf("failed to clear active connection: %w", err)
	}
	if n == 0 {
		if _, err := s.queries.GetTeam(ctx, teamID); err != nil {
			return false, mapErr(err)
		}
	}
	return n == 1, nil
}

func (s *Store) SetTeamActive(ctx context.Context, id uuid.UUID, active bool) (*models.Team, error) {
	row, err := s.queries.SetTeamActive(ctx, id, active)
	if err != nil {
		return nil, mapErr(err)
	}
	return teamToModel(row), nil
}

func (s *Store) SetCoins(ctx context.Context, id uuid.UUID, coins int) (*models.Team, error) {
	row, err := s.queries.SetCoins(ctx, id, int32(coins))
	if err != nil {
		return nil, mapErr(err)
	}
	return teamToModel(row), nil
}

func (s *Store) ResetAllTeams(ctx context.Context, coins int) (int, error) {
	n, err := s.queries.ResetAllTeams(ctx, int32(coins))
	if err != nil {
		return 0, fmt.Errorf("failed to reset teams: %w", err)
	}
	return int(n), nil
}

func (s *Store) DeleteTeam(ctx context.Context, id uuid.UUID) error {
	n, err := s.queries.DeleteTeam(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to delete team: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ---- rounds ----

func (s *Store) CreateRound(ctx context.Context, r models.Round) (*models.Round, error) {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	row, err := s.queries.InsertRound(ctx, insertRoundParams{
		ID:               r.ID,
		RoundNumber:      int32(r.RoundNumber),
		Title:            r.Title,
		Category:         string(r.Category),
		Status:           string(r.Status),
		BidDurationSec:   int32(r.BidDuration),
		AnswerDuration:   int32(r.AnswerDuration),
		BiddingStartedAt: r.BiddingStartedAt,
	})
	if err != nil {
		return nil, mapErr(err)
	}
	return roundToModel(row, nil), nil
}

func (s *Store) GetRound(ctx context.Context, id uuid.UUID) (*models.Round, error) {
	row, err := s.queries.GetRound(ctx, id)
	if err != nil {
		return nil, mapErr(err)
	}
	return s.withBids(ctx, s.queries, row)
}

func (s *Store) GetLiveRound(ctx context.Context) (*models.Round, error) {
	row, err := s.queries.GetLiveRound(ctx)
	if err != nil {
		return nil, mapErr(err)
	}
	return s.withBids(ctx, s.queries, row)
}

func (s *Store) LastRoundNumber(ctx context.Context) (int, error) {
	n, err := s.queries.LastRoundNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get last round number: %w", err)
	}
	return int(n), nil
}

func (s *Store) ListRounds(ctx context.Context, limit int) ([]models.Round, error) {
	rows, err := s.queries.ListRounds(ctx, int32(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list rounds: %w", err)
	}
	rounds := make([]models.Round, 0, len(rows))
	for _, row := range rows {
		r, err := s.withBids(ctx, s.queries, row)
		if err != nil {
			return nil, err
		}
		rounds = append(rounds, *r)
	}
	return rounds, nil
}

// AppendBid inserts the bid under a shared lock on the round, so it either
// lands before bidding closes or not at all.
func (s *Store) AppendBid(ctx context.Context, roundID uuid.UUID, bid models.Bid) (*models.Round, error) {
	var out *models.Round
	err := s.tx(ctx, func(q *Queries) error {
		row, err := q.LockRound(ctx, roundID, true)
		if err != nil {
			return mapErr(err)
		}
		if row.Status != string(models.RoundStatusBidding) {
			return store.ErrConditionFailed
		}

		n, err := q.InsertBid(ctx, roundID, bidRow{
			TeamID:   bid.TeamID,
			TeamName: bid.TeamName,
			Amount:   int32(bid.Amount),
			PlacedAt: bid.Timestamp,
		})
		if err != nil {
			return fmt.Errorf("failed to insert bid: %w", err)
		}
		if n == 0 {
			return store.ErrDuplicate
		}

		out, err = s.withBids(ctx, q, row)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) CloseBidding(ctx context.Context, roundID uuid.UUID, endedAt time.Time, decide store.CloseFunc) (*models.Round, error) {
	var out *models.Round
	err := s.tx(ctx, func(q *Queries) error {
		row, err := q.LockRound(ctx, roundID, false)
		if err != nil {
			return mapErr(err)
		}
		if row.Status != string(models.RoundStatusBidding) {
			return store.ErrConditionFailed
		}

		current, err := s.withBids(ctx, q, row)
		if err != nil {
			return err
		}
		outcome := decide(current.Bids)

		params := closeRoundParams{
			ID:             roundID,
			Status:         string(outcome.Status()),
			WinnerID:       sqlutil.ToPgUUID(outcome.WinnerID),
			WinnerName:     sqlutil.ToPgText(outcome.WinnerName),
			WinningBid:     sqlutil.ToPgInt4(outcome.WinningBid),
			BiddingEndedAt: endedAt,
		}
		if outcome.WinnerID == nil {
			params.CompletedAt = sqlutil.ToPgTimestamptz(&endedAt)
		}

		closed, err := q.CloseRound(ctx, params)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return store.ErrConditionFailed
			}
			return fmt.Errorf("failed to close round: %w", err)
		}
		out = roundToModel(closed, current.Bids)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) SubmitAnswer(ctx context.Context, roundID, teamID uuid.UUID, answer string) (*models.Round, error) {
	row, err := s.queries.SubmitAnswer(ctx, roundID, teamID, answer)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if _, getErr := s.queries.GetRound(ctx, roundID); getErr != nil {
				return nil, mapErr(getErr)
			}
			return nil, store.ErrConditionFailed
		}
		return nil, fmt.Errorf("failed to submit answer: %w", err)
	}
	return s.withBids(ctx, s.queries, row)
}

// SettleRound completes the round and rewrites the winner's ledger in one
// transaction. The round row is locked first so a second verdict waits and
// then sees status=completed.
func (s *Store) SettleRound(ctx context.Context, st store.Settlement) (*models.Round, *models.Team, error) {
	var (
		outRound *models.Round
		outTeam  *models.Team
	)
	err := s.tx(ctx, func(q *Queries) error {
		row, err := q.LockRound(ctx, st.RoundID, false)
		if err != nil {
			return mapErr(err)
		}
		if row.Status != string(models.RoundStatusReviewing) || !row.WinnerID.Valid {
			return store.ErrConditionFailed
		}
		round, err := s.withBids(ctx, q, row)
		if err != nil {
			return err
		}

		teamRow, err := q.GetTeamForUpdate(ctx, *round.WinnerID)
		if err != nil {
			return mapErr(err)
		}
		adjusted, delta := st.Adjust(*round, *teamToModel(teamRow))

		updated, err := q.UpdateLedger(ctx, updateLedgerParams{
			ID:             adjusted.ID,
			Coins:          int32(adjusted.Coins),
			IsActive:       adjusted.IsActive,
			CorrectAnswers: int32(adjusted.CorrectAnswers),
			WrongAnswers:   int32(adjusted.WrongAnswers),
			TotalBids:      int32(adjusted.TotalBids),
		})
		if err != nil {
			return fmt.Errorf("failed to update team ledger: %w", err)
		}

		completed, err := q.CompleteRound(ctx, st.RoundID, string(st.Result), int32(delta), st.CompletedAt)
		if err != nil {
			return fmt.Errorf("failed to complete round: %w", err)
		}

		outRound = roundToModel(completed, round.Bids)
		outTeam = teamToModel(updated)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return outRound, outTeam, nil
}

func (s *Store) ForceComplete(ctx context.Context, roundID uuid.UUID, completedAt time.Time) (*models.Round, error) {
	row, err := s.queries.ForceComplete(ctx, roundID, completedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if _, getErr := s.queries.GetRound(ctx, roundID); getErr != nil {
				return nil, mapErr(getErr)
			}
			return nil, store.ErrConditionFailed
		}
		return nil, fmt.Errorf("failed to force complete round: %w", err)
	}
	return s.withBids(ctx, s.queries, row)
}

func (s *Store) withBids(ctx context.Context, q *Queries, row roundRow) (*models.Round, error) {
	rows, err := q.ListBids(ctx, row.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list bids: %w", err)
	}
	bids := make([]models.Bid, len(rows))
	for i, b := range rows {
		bids[i] = models.Bid{TeamID: b.TeamID, TeamName: b.TeamName, Amount: int(b.Amount), Timestamp: b.PlacedAt}
	}
	return roundToModel(row, bids), nil
}

func teamToModel(row teamRow) *models.Team {
	return &models.Team{
		ID:                 row.ID,
		TeamName:           row.TeamName,
		RepName:            row.RepName,
		Email:              row.Email,
		PasswordHash:       row.PasswordHash,
		Coins:              int(row.Coins),
		CorrectAnswers:     int(row.CorrectAnswers),
		WrongAnswers:       int(row.WrongAnswers),
		TotalBids:          int(row.TotalBids),
		IsActive:           row.IsActive,
		LastBidAt:          sqlutil.FromPgTimestamptz(row.LastBidAt),
		ActiveConnectionID: sqlutil.FromPgText(row.ActiveConnectionID),
		CreatedAt:          row.CreatedAt,
		UpdatedAt:          row.UpdatedAt,
	}
}

func roundToModel(row roundRow, bids []models.Bid) *models.Round {
	if bids == nil {
		bids = []models.Bid{}
	}
	r := &models.Round{
		ID:               row.ID,
		RoundNumber:      int(row.RoundNumber),
		Title:            row.Title,
		Category:         models.Category(row.Category),
		Status:           models.RoundStatus(row.Status),
		Bids:             bids,
		WinnerID:         sqlutil.FromPgUUID(row.WinnerID),
		WinnerName:       sqlutil.FromPgText(row.WinnerName),
		WinningBid:       sqlutil.FromPgInt4(row.WinningBid),
		SubmittedAnswer:  sqlutil.FromPgText(row.SubmittedAnswer),
		CoinsAwarded:     int(row.CoinsAwarded),
		BidDuration:      int(row.BidDurationSec),
		AnswerDuration:   int(row.AnswerDuration),
		BiddingStartedAt: row.BiddingStartedAt,
		BiddingEndedAt:   sqlutil.FromPgTimestamptz(row.BiddingEndedAt),
		CompletedAt:      sqlutil.FromPgTimestamptz(row.CompletedAt),
		CreatedAt:        row.CreatedAt,
		UpdatedAt:        row.UpdatedAt,
	}
	if row.Result.Valid {
		res := models.Result(row.Result.String)
		r.Result = &res
	}
	return r
}
