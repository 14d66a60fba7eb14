package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, StoreDynamo, cfg.StoreDriver)
	assert.Equal(t, 10*time.Minute, cfg.OTPTTL)
	assert.Equal(t, 24*time.Hour, cfg.ResetTokenTTL)
	assert.Equal(t, 8, cfg.Password.MinLength)
	assert.True(t, cfg.Password.RequireSymbols)
	assert.False(t, cfg.MaskUnknownEmail)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "SQLite")
	t.Setenv("OTP_TTL", "5m")
	t.Setenv("PASSWORD_MIN_LENGTH", "12")
	t.Setenv("PASSWORD_REQUIRE_SYMBOLS", "false")
	t.Setenv("MASK_UNKNOWN_EMAIL", "true")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example,https://b.example")

	cfg := Load()

	assert.Equal(t, StoreSQLite, cfg.StoreDriver)
	assert.Equal(t, 5*time.Minute, cfg.OTPTTL)
	assert.Equal(t, 12, cfg.Password.MinLength)
	assert.False(t, cfg.Password.RequireSymbols)
	assert.True(t, cfg.MaskUnknownEmail)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("OTP_TTL", "soon")
	t.Setenv("RATE_LIMIT_BURST", "many")

	cfg := Load()

	assert.Equal(t, 10*time.Minute, cfg.OTPTTL)
	assert.Equal(t, 10, cfg.RateLimitBurst)
}
