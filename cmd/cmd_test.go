package cmd

import (
	"bytes"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	require.NoError(t, rootCmd.Execute())
	return out.String()
}

func TestVersion(t *testing.T) {
	assert.Contains(t, run(t, "version"), version)
}

func TestResetHardClearsRoster(t *testing.T) {
	mr := miniredis.RunT(t)
	t.Setenv("REDIS_ADDR", mr.Addr())
	t.Setenv("KEY_PREFIX", "cli")
	mr.RPush("cli:players", `{"id":"1","name":"Alice","joinedAt":"2024-01-01T00:00:00Z"}`)

	out := run(t, "reset", "--kind", "hard")
	assert.Contains(t, out, "roster")
	assert.False(t, mr.Exists("cli:players"))
	resetKind = "soft"
}

func TestRepairRemovesCorruptKeys(t *testing.T) {
	mr := miniredis.RunT(t)
	t.Setenv("REDIS_ADDR", mr.Addr())
	t.Setenv("KEY_PREFIX", "cli")
	require.NoError(t, mr.Set("cli:session:mode", `"waiting"`))
	require.NoError(t, mr.Set("cli:session:round", `{not json`))

	out := run(t, "repair")
	assert.Contains(t, out, "cli:session:round")
	assert.Contains(t, out, "1 corrupt keys removed")
	assert.True(t, mr.Exists("cli:session:mode"))
}

func TestHelpListsEveryEnvironmentVariable(t *testing.T) {
	for _, name := range []string{
		"PORT", "APP_ENV", "LOG_LEVEL", "REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB",
		"KEY_PREFIX", "STATE_TTL", "STORE_MAX_ATTEMPTS", "STORE_BACKOFF",
		"SECONDS_PER_ROUND", "SETTLE_DELAY", "ONLINE_WINDOW", "ADMIN_USER", "ADMIN_PASS",
		"EVENT_TOPIC", "REDIS_EVENTS", "NATS_URL", "NATS_SUBJECT", "HISTORY_FILE",
		"HISTORY_DSN", "PHOTO_DIR",
	} {
		assert.Contains(t, rootCmd.Long, name)
	}
}
