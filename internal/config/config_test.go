package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "batch"
	cfg.Market.Owner = "not-an-address"
	cfg.Market.FeeBps = 10_001
	cfg.Server.Port = 70000

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
	assert.Contains(t, err.Error(), "not a hex address")
	assert.Contains(t, err.Error(), "fee_bps")
	assert.Contains(t, err.Error(), "out of range")
}

func TestValidateArchiveNeedsS3(t *testing.T) {
	cfg := Defaults()
	cfg.Archive.Enabled = true

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires s3")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MARKETD_MARKET_FEE_BPS", "500")
	t.Setenv("MARKETD_MARKET_EXPIRY_GRACE", "2m")
	t.Setenv("MARKETD_MODE", "simulate")
	t.Setenv("MARKETD_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	assert.Equal(t, uint64(500), cfg.Market.FeeBps)
	assert.Equal(t, 2*time.Minute, cfg.Market.ExpiryGrace.Duration)
	assert.Equal(t, "simulate", cfg.Mode)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
}
