package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultHorizonURL, cfg.HorizonURL)
	assert.Equal(t, "testnet", cfg.Network)
	assert.Equal(t, DefaultAnalysisTimeout, cfg.AnalysisTimeout)
	assert.Equal(t, DefaultConcurrency, cfg.PortfolioConcurrency)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("HORIZON_URL", "https://horizon.example.org")
	t.Setenv("NETWORK", "public")
	t.Setenv("SIGNAL_TIMEOUT", "500ms")
	t.Setenv("RATE_LIMIT_RPM", "30")
	t.Setenv("LARGE_TRANSFER_THRESHOLD", "2500")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://horizon.example.org", cfg.HorizonURL)
	assert.Equal(t, "public", cfg.Network)
	assert.Equal(t, 500*time.Millisecond, cfg.SignalTimeout)
	assert.Equal(t, 30, cfg.RateLimitRPM)
	assert.Equal(t, 2500.0, cfg.LargeTransferThreshold)
}

func TestValidateRejectsBadNetwork(t *testing.T) {
	t.Setenv("NETWORK", "mainnet")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NETWORK")
}

func TestValidateRejectsBadHorizonURL(t *testing.T) {
	t.Setenv("HORIZON_URL", "not a url")
	_, err := Load()
	require.Error(t, err)
}

func TestValidateRejectsInvertedTimeouts(t *testing.T) {
	t.Setenv("SIGNAL_TIMEOUT", "30s")
	t.Setenv("ANALYSIS_TIMEOUT", "5s")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SIGNAL_TIMEOUT")
}

func TestEnvHelpers(t *testing.T) {
	cfg := &Config{
		HorizonURL:           DefaultHorizonURL,
		Network:              "testnet",
		Env:                  "production",
		AnalysisTimeout:      DefaultAnalysisTimeout,
		SignalTimeout:        DefaultSignalTimeout,
		PortfolioConcurrency: 1,
	}
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.IsProduction())
	assert.False(t, cfg.IsDevelopment())
}
