package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
license: "test-license-key"
follower_address: "0xfollower"
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultPollIntervalSeconds, cfg.PollIntervalSeconds)
	assert.Equal(t, DefaultSafetyBuffer, cfg.SafetyBufferPercent)
	assert.Equal(t, DefaultMaxScalingFactor, cfg.MaxScalingFactor)
	assert.Equal(t, DefaultSizeTolerance, cfg.SizeChangeTolerancePercent)
	assert.Equal(t, "combine", cfg.ConflictStrategy)
	assert.Equal(t, "equal", cfg.AllocationStrategy)
	assert.Equal(t, "hyperliquid", cfg.FollowerPlatform)
	assert.True(t, cfg.DryRun)
}

func TestLoadConfigOverrides(t *testing.T) {
	path := writeConfig(t, `
license: "test-license-key"
follower_address: "0xfollower"
poll_interval_seconds: 10
conflict_strategy: largest
allocation_strategy: sharpe
size_change_tolerance_percent: 35
dry_run: false
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.PollIntervalSeconds)
	assert.Equal(t, "largest", cfg.ConflictStrategy)
	assert.Equal(t, "sharpe", cfg.AllocationStrategy)
	assert.Equal(t, 35.0, cfg.SizeChangeTolerancePercent)
	assert.False(t, cfg.DryRun)
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"missing license":   "keygen_account_id: \"acct\"\nfollower_address: \"0xf\"\n",
		"missing follower":  "license: \"key\"\n",
		"bad strategy":      "license: \"key\"\nfollower_address: \"0xf\"\nconflict_strategy: merge\n",
		"bad allocation":    "license: \"key\"\nfollower_address: \"0xf\"\nallocation_strategy: random\n",
		"bad poll interval": "license: \"key\"\nfollower_address: \"0xf\"\npoll_interval_seconds: 0\n",
		"bad buffer":        "license: \"key\"\nfollower_address: \"0xf\"\nsafety_buffer_percent: 150\n",
		"bad tolerance":     "license: \"key\"\nfollower_address: \"0xf\"\nsize_change_tolerance_percent: 0\n",
	}
	for name, body := range cases {
		_, err := LoadConfig(writeConfig(t, body))
		assert.Error(t, err, name)
	}
}
