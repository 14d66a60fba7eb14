package id

import (
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAt_EmbedsTimestamp(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	parsed, err := ulid.Parse(At(ts))
	require.NoError(t, err)
	assert.Equal(t, ulid.Timestamp(ts), parsed.Time())
}

func TestAt_SortsWithinSameMillisecond(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	prev := At(ts)
	for i := 0; i < 50; i++ {
		next := At(ts)
		assert.Less(t, prev, next)
		prev = next
	}
}

func TestAt_SortsByTime(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	assert.Less(t, At(ts), At(ts.Add(time.Minute)))
}
