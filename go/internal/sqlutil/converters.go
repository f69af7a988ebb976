package sqlutil

import (
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

// Helper functions for converting between Go pointers and pgtype nullable values

// ToPgText converts a Go string pointer to pgtype.Text
func ToPgText(val *string) pgtype.Text {
	if val == nil {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: *val, Valid: true}
}

// FromPgText converts pgtype.Text to a Go string pointer
func FromPgText(val pgtype.Text) *string {
	if !val.Valid {
		return nil
	}
	s := val.String
	return &s
}

// ToPgInt4 converts a Go int pointer to pgtype.Int4
func ToPgInt4(val *int) pgtype.Int4 {
	if val == nil {
		return pgtype.Int4{Valid: false}
	}
	return pgtype.Int4{Int32: int32(*val), Valid: true}
}

// FromPgInt4 converts pgtype.Int4 to a Go int pointer
func FromPgInt4(val pgtype.Int4) *int {
	if !val.Valid {
		return nil
	}
	i := int(val.Int32)
	return &i
}

// ToPgTimestamptz converts a Go time pointer to pgtype.Timestamptz
func ToPgTimestamptz(val *time.Time) pgtype.Timestamptz {
	if val == nil {
		return pgtype.Timestamptz{Valid: false}
	}
	return pgtype.Timestamptz{Time: *val, Valid: true}
}

// FromPgTimestamptz converts pgtype.Timestamptz to a Go time pointer
func FromPgTimestamptz(val pgtype.Timestamptz) *time.Time {
	if !val.Valid {
		return nil
	}
	t := val.Time
	return &t
}

// ToPgUUID converts a uuid pointer to pgtype.UUID
func ToPgUUID(val *uuid.UUID) pgtype.UUID {
	if val == nil {
		return pgtype.UUID{Valid: false}
	}
	return pgtype.UUID{Bytes: *val, Valid: true}
}

// FromPgUUID converts pgtype.UUID to a uuid pointer
func FromPgUUID(val pgtype.UUID) *uuid.UUID {
	if !val.Valid {
		return nil
	}
	id := uuid.UUID(val.Bytes)
	return &id
}
