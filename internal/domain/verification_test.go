package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOTPRecord_State(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	base := OTPRecord{CreatedAt: t0, ExpiresAt: t0.Add(10 * time.Minute)}

	pending := base
	assert.Equal(t, OTPPending, pending.State(t0.Add(time.Minute)))
	assert.Equal(t, OTPPending, pending.State(t0.Add(10*time.Minute)), "expiry instant is still valid")
	assert.Equal(t, OTPExpired, pending.State(t0.Add(10*time.Minute+time.Nanosecond)))

	consumed := base
	consumed.Consumed = true
	assert.Equal(t, OTPConsumed, consumed.State(t0.Add(time.Hour)))

	inv := t0.Add(time.Minute)
	superseded := base
	superseded.ExpiresAt = inv
	superseded.InvalidatedAt = &inv
	assert.Equal(t, OTPSuperseded, superseded.State(inv))
}

func TestResetTokenRecord_Valid(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := ResetTokenRecord{CreatedAt: t0, ExpiresAt: t0.Add(24 * time.Hour)}

	assert.True(t, rec.Valid(t0))
	assert.True(t, rec.Valid(t0.Add(24*time.Hour)))
	assert.False(t, rec.Valid(t0.Add(24*time.Hour+time.Second)))

	rec.Used = true
	assert.False(t, rec.Valid(t0))
}

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "alice@example.com", NormalizeEmail("  Alice@Example.COM "))
}
