package sqlutil

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestNullableRoundTrip(t *testing.T) {
	s := "answer"
	assert.Equal(t, &s, FromPgText(ToPgText(&s)))
	assert.Nil(t, FromPgText(ToPgText(nil)))

	n := 250
	assert.Equal(t, &n, FromPgInt4(ToPgInt4(&n)))
	assert.Nil(t, FromPgInt4(ToPgInt4(nil)))

	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, &ts, FromPgTimestamptz(ToPgTimestamptz(&ts)))
	assert.Nil(t, FromPgTimestamptz(ToPgTimestamptz(nil)))

	id := uuid.New()
	assert.Equal(t, &id, FromPgUUID(ToPgUUID(&id)))
	assert.Nil(t, FromPgUUID(ToPgUUID(nil)))
}
