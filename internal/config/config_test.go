package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	assert.Equal(t, int64(3600), cfg.Protocol.MinRebalanceIntervalSec)
	assert.Equal(t, 24, cfg.Protocol.MaxRebalanceFrequency)
	assert.Equal(t, uint16(50), cfg.Protocol.DefaultSlippageToleranceBps)
	assert.Equal(t, uint64(1_000_000_000_000), cfg.Protocol.MaxPositionSize)
	assert.Equal(t, uint64(100_000_000_000), cfg.Protocol.MaxSingleTradeSize)
	assert.Equal(t, uint64(500_000_000_000), cfg.Protocol.HumanApprovalThreshold)
	assert.Equal(t, "serve", cfg.Mode)

	require.NoError(t, cfg.Validate())
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flowguard.toml")
	data := `
mode = "paper"

[protocol]
max_rebalance_frequency = 12

[server]
port = 9090
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "paper", cfg.Mode)
	assert.Equal(t, 12, cfg.Protocol.MaxRebalanceFrequency)
	assert.Equal(t, 9090, cfg.Server.Port)
	// Untouched fields keep their defaults.
	assert.Equal(t, uint16(50), cfg.Protocol.DefaultSlippageToleranceBps)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FLOWGUARD_MODE", "full")
	t.Setenv("FLOWGUARD_PROTOCOL_DEFAULT_SLIPPAGE_TOLERANCE_BPS", "75")
	t.Setenv("FLOWGUARD_VENUE_LOCAL_ONLY", "true")
	t.Setenv("FLOWGUARD_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "full", cfg.Mode)
	assert.Equal(t, uint16(75), cfg.Protocol.DefaultSlippageToleranceBps)
	assert.True(t, cfg.Venue.LocalOnly)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad mode", func(c *Config) { c.Mode = "observer" }},
		{"zero frequency", func(c *Config) { c.Protocol.MaxRebalanceFrequency = 0 }},
		{"zero slippage", func(c *Config) { c.Protocol.DefaultSlippageToleranceBps = 0 }},
		{"zero trade cap", func(c *Config) { c.Protocol.MaxSingleTradeSize = 0 }},
		{"fee over 100%", func(c *Config) { c.Protocol.ProtocolFeeBps = 10_001 }},
		{"bad port", func(c *Config) { c.Server.Port = -1 }},
		{"archive without bucket", func(c *Config) { c.Archive.Enabled = true; c.S3.Bucket = "" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Defaults()
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
