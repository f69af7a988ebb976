package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Queries binds the hand-written statements to a pool or transaction
type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type teamRow struct {
	ID                 uuid.UUID
	TeamName           string
	RepName            string
	Email              string
	PasswordHash       string
	Coins              int32
	CorrectAnswers     int32
	WrongAnswers       int32
	TotalBids          int32
	IsActive           bool
	LastBidAt          pgtype.Timestamptz
	ActiveConnectionID pgtype.Text
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

type roundRow struct {
	ID               uuid.UUID
	RoundNumber      int32
	Title            string
	Category         string
	Status           string
	WinnerID         pgtype.UUID
	WinnerName       pgtype.Text
	WinningBid       pgtype.Int4
	SubmittedAnswer  pgtype.Text
	Result           pgtype.Text
	CoinsAwarded     int32
	BidDurationSec   int32
	AnswerDuration   int32
	BiddingStartedAt time.Time
	BiddingEndedAt   pgtype.Timestamptz
	CompletedAt      pgtype.Timestamptz
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type bidRow struct {
	TeamID   uuid.UUID
	TeamName string
	Amount   int32
	PlacedAt time.Time
}

const teamColumns = `id, team_name, rep_name, email, password_hash, coins, correct_answers,
	wrong_answers, total_bids, is_active, last_bid_at, active_connection_id, created_at, updated_at`

const roundColumns = `id, round_number, title, category, status, winner_id, winner_name, winning_bid,
	submitted_answer, result, coins_awarded, bid_duration_sec, answer_duration_sec,
	bidding_started_at, bidding_ended_at, completed_at, created_at, updated_at`

func scanTeam(row pgx.Row) (teamRow, error) {
	var t teamRow
	err := row.Scan(
		&t.ID, &t.TeamName, &t.RepName, &t.Email, &t.PasswordHash, &t.Coins, &t.CorrectAnswers,
		&t.WrongAnswers, &t.TotalBids, &t.IsActive, &t.LastBidAt, &t.ActiveConnectionID,
		&t.CreatedAt, &t.UpdatedAt,
	)
	return t, err
}

func scanRound(row pgx.Row) (roundRow, error) {
	var r roundRow
	err := row.Scan(
		&r.ID, &r.RoundNumber, &r.Title, &r.Category, &r.Status, &r.WinnerID, &r.WinnerName,
		&r.WinningBid, &r.SubmittedAnswer, &r.Result, &r.CoinsAwarded, &r.BidDurationSec,
		&r.AnswerDuration, &r.BiddingStartedAt, &r.BiddingEndedAt, &r.CompletedAt,
		&r.CreatedAt, &r.UpdatedAt,
	)
	return r, err
}

type insertTeamParams struct {
	ID           uuid.UUID
	TeamName     string
	RepName      string
	Email        string
	PasswordHash string
	Coins        int32
}

func (q *Queries) InsertTeam(ctx context.Context, arg insertTeamParams) (teamRow, error) {
	return scanTeam(q.db.QueryRow(ctx, `
		INSERT INTO teams (id, team_name, rep_name, email, password_hash, coins)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+teamColumns,
		arg.ID, arg.TeamName, arg.RepName, arg.Email, arg.PasswordHash, arg.Coins,
	))
}

func (q *Queries) GetTeam(ctx context.Context, id uuid.UUID) (teamRow, error) {
	return scanTeam(q.db.QueryRow(ctx, `SELECT `+teamColumns+` FROM teams WHERE id = $1`, id))
}

func (q *Queries) GetTeamForUpdate(ctx context.Context, id uuid.UUID) (teamRow, error) {
	return scanTeam(q.db.QueryRow(ctx, `SELECT `+teamColumns+` FROM teams WHERE id = $1 FOR UPDATE`, id))
}

func (q *Queries) GetTeamByEmail(ctx context.Context, email string) (teamRow, error) {
	return scanTeam(q.db.QueryRow(ctx, `SELECT `+teamColumns+` FROM teams WHERE email = lower($1)`, email))
}

func (q *Queries) ListTeams(ctx context.Context) ([]teamRow, error) {
	rows, err := q.db.Query(ctx, `SELECT `+teamColumns+` FROM teams ORDER BY coins DESC, team_name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var teams []teamRow
	for rows.Next() {
		t, err := scanTeam(rows)
		if err != nil {
			return nil, err
		}
		teams = append(teams, t)
	}
	return teams, rows.Err()
}

// ClaimBidAttempt stamps last_bid_at only when the cooldown has elapsed.
func (q *Queries) ClaimBidAttempt(ctx context.Context, id uuid.UUID, at, notAfter time.Time) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE teams SET last_bid_at = $2, updated_at = now()
		WHERE id = $1 AND (last_bid_at IS NULL OR last_bid_at <= $3)`,
		id, at, notAfter,
	)
	return tag.RowsAffected(), err
}

// SwapActiveConnection returns the connection id that was replaced.
func (q *Queries) SwapActiveConnection(ctx context.Context, id uuid.UUID, connID string) (pgtype.Text, error) {
	var prev pgtype.Text
	err := q.db.QueryRow(ctx, `
		UPDATE teams t SET active_connection_id = $2
		FROM (SELECT id, active_connection_id FROM teams WHERE id = $1 FOR UPDATE) old
		WHERE t.id = old.id
		RETURNING old.active_connection_id`,
		id, connID,
	).Scan(&prev)
	return prev, err
}

func (q *Queries) ClearActiveConnection(ctx context.Context, id uuid.UUID, connID string) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE teams SET active_connection_id = NULL
		WHERE id = $1 AND active_connection_id = $2`,
		id, connID,
	)
	return tag.RowsAffected(), err
}

func (q *Queries) SetTeamActive(ctx context.Context, id uuid.UUID, active bool) (teamRow, error) {
	return scanTeam(q.db.QueryRow(ctx, `
		UPDATE teams SET is_active = $2,
			active_connection_id = CASE WHEN $2 THEN active_connection_id ELSE NULL END,
			updated_at = now()
		WHERE id = $1
		RETURNING `+teamColumns,
		id, active,
	))
}

func (q *Queries) SetCoins(ctx context.Context, id uuid.UUID, coins int32) (teamRow, error) {
	return scanTeam(q.db.QueryRow(ctx, `
		UPDATE teams SET coins = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+teamColumns,
		id, coins,
	))
}

type updateLedgerParams struct {
	ID             uuid.UUID
	Coins          int32
	IsActive       bool
	CorrectAnswers int32
	WrongAnswers   int32
	TotalBids      int32
}

func (q *Queries) UpdateLedger(ctx context.Context, arg updateLedgerParams) (teamRow, error) {
	return scanTeam(q.db.QueryRow(ctx, `
		UPDATE teams SET coins = $2, is_active = $3, correct_answers = $4,
			wrong_answers = $5, total_bids = $6, updated_at = now()
		WHERE id = $1
		RETURNING `+teamColumns,
		arg.ID, arg.Coins, arg.IsActive, arg.CorrectAnswers, arg.WrongAnswers, arg.TotalBids,
	))
}

func (q *Queries) ResetAllTeams(ctx context.Context, coins int32) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE teams SET coins = $1, correct_answers = 0, wrong_answers = 0, total_bids = 0,
			last_bid_at = NULL, is_active = TRUE, updated_at = now()`,
		coins,
	)
	return tag.RowsAffected(), err
}

func (q *Queries) DeleteTeam(ctx context.Context, id uuid.UUID) (int64, error) {
	tag, err := q.db.Exec(ctx, `DELETE FROM teams WHERE id = $1`, id)
	return tag.RowsAffected(), err
}

type insertRoundParams struct {
	ID               uuid.UUID
	RoundNumber      int32
	Title            string
	Category         string
	Status           string
	BidDurationSec   int32
	AnswerDuration   int32
	BiddingStartedAt time.Time
}

func (q *Queries) InsertRound(ctx context.Context, arg insertRoundParams) (roundRow, error) {
	return scanRound(q.db.QueryRow(ctx, `
		INSERT INTO rounds (id, round_number, title, category, status, bid_duration_sec,
			answer_duration_sec, bidding_started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+roundColumns,
		arg.ID, arg.RoundNumber, arg.Title, arg.Category, arg.Status, arg.BidDurationSec,
		arg.AnswerDuration, arg.BiddingStartedAt,
	))
}

func (q *Queries) GetRound(ctx context.Context, id uuid.UUID) (roundRow, error) {
	return scanRound(q.db.QueryRow(ctx, `SELECT `+roundColumns+` FROM rounds WHERE id = $1`, id))
}

// LockRound takes a row lock on the round. shared=true lets concurrent
// bidders proceed together while still excluding a closing transaction.
func (q *Queries) LockRound(ctx context.Context, id uuid.UUID, shared bool) (roundRow, error) {
	lock := "FOR UPDATE"
	if shared {
		lock = "FOR SHARE"
	}
	return scanRound(q.db.QueryRow(ctx, `SELECT `+roundColumns+` FROM rounds WHERE id = $1 `+lock, id))
}

func (q *Queries) GetLiveRound(ctx context.Context) (roundRow, error) {
	return scanRound(q.db.QueryRow(ctx, `
		SELECT `+roundColumns+` FROM rounds
		WHERE status IN ('bidding', 'reviewing')
		LIMIT 1`))
}

func (q *Queries) LastRoundNumber(ctx context.Context) (int32, error) {
	var n int32
	err := q.db.QueryRow(ctx, `SELECT COALESCE(MAX(round_number), 0) FROM rounds`).Scan(&n)
	return n, err
}

func (q *Queries) ListRounds(ctx context.Context, limit int32) ([]roundRow, error) {
	rows, err := q.db.Query(ctx, `SELECT `+roundColumns+` FROM rounds ORDER BY round_number DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rounds []roundRow
	for rows.Next() {
		r, err := scanRound(rows)
		if err != nil {
			return nil, err
		}
		rounds = append(rounds, r)
	}
	return rounds, rows.Err()
}

func (q *Queries) ListBids(ctx context.Context, roundID uuid.UUID) ([]bidRow, error) {
	rows, err := q.db.Query(ctx, `
		SELECT team_id, team_name, amount, placed_at FROM bids
		WHERE round_id = $1
		ORDER BY seq ASC`, roundID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bids []bidRow
	for rows.Next() {
		var b bidRow
		if err := rows.Scan(&b.TeamID, &b.TeamName, &b.Amount, &b.PlacedAt); err != nil {
			return nil, err
		}
		bids = append(bids, b)
	}
	return bids, rows.Err()
}

func (q *Queries) InsertBid(ctx context.Context, roundID uuid.UUID, b bidRow) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		INSERT INTO bids (round_id, team_id, team_name, amount, placed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (round_id, team_id) DO NOTHING`,
		roundID, b.TeamID, b.TeamName, b.Amount, b.PlacedAt,
	)
	return tag.RowsAffected(), err
}

type closeRoundParams struct {
	ID             uuid.UUID
	Status         string
	WinnerID       pgtype.UUID
	WinnerName     pgtype.Text
	WinningBid     pgtype.Int4
	BiddingEndedAt time.Time
	CompletedAt    pgtype.Timestamptz
}

func (q *Queries) CloseRound(ctx context.Context, arg closeRoundParams) (roundRow, error) {
	return scanRound(q.db.QueryRow(ctx, `
		UPDATE rounds SET status = $2, winner_id = $3, winner_name = $4, winning_bid = $5,
			bidding_ended_at = $6, completed_at = $7, updated_at = now()
		WHERE id = $1 AND status = 'bidding'
		RETURNING `+roundColumns,
		arg.ID, arg.Status, arg.WinnerID, arg.WinnerName, arg.WinningBid,
		arg.BiddingEndedAt, arg.CompletedAt,
	))
}

func (q *Queries) SubmitAnswer(ctx context.Context, id, teamID uuid.UUID, answer string) (roundRow, error) {
	return scanRound(q.db.QueryRow(ctx, `
		UPDATE rounds SET submitted_answer = $3, updated_at = now()
		WHERE id = $1 AND status = 'reviewing' AND winner_id = $2 AND submitted_answer IS NULL
		RETURNING `+roundColumns,
		id, teamID, answer,
	))
}

func (q *Queries) CompleteRound(ctx context.Context, id uuid.UUID, result string, coinsAwarded int32, completedAt time.Time) (roundRow, error) {
	return scanRound(q.db.QueryRow(ctx, `
		UPDATE rounds SET status = 'completed', result = $2, coins_awarded = $3,
			completed_at = $4, updated_at = now()
		WHERE id = $1 AND status = 'reviewing'
		RETURNING `+roundColumns,
		id, result, coinsAwarded, completedAt,
	))
}

func (q *Queries) ForceComplete(ctx context.Context, id uuid.UUID, completedAt time.Time) (roundRow, error) {
	return scanRound(q.db.QueryRow(ctx, `
		UPDATE rounds SET status = 'completed', completed_at = $2, updated_at = now()
		WHERE id = $1 AND status IN ('bidding', 'reviewing')
		RETURNING `+roundColumns,
		id, completedAt,
	))
}
