package config

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

const minimal = `
sink:
  url: http://recsys.local:9000
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "eventrelay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimal))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "data/events.db", cfg.Store.DSN)
	assert.Equal(t, 500, cfg.Delivery.FlushBatch)
	assert.Equal(t, 200, cfg.Delivery.RetryBatch)
	assert.Equal(t, 30*time.Second, cfg.Delivery.ResolveTimeout)
	assert.Equal(t, 10*time.Minute, cfg.Delivery.StaleAfter)
	assert.Equal(t, 1000, cfg.Limits.MaxBatch)
	assert.False(t, cfg.Scheduler.Enabled)
}

func TestParseDurationsAndRules(t *testing.T) {
	cfg, err := Parse([]byte(`
store:
  driver: postgres
  dsn: postgres://relay@db/events?sslmode=disable
delivery:
  flush_batch: 50
  resolve_timeout: 2s
scheduler:
  enabled: true
  flush_interval: 1500ms
  retry_base: 10s
  retry_max: 5m
sink:
  url: https://recsys.example.com
  breaker_reset: 1m
hooks:
  enabled: true
  rules:
    - name: cold-start
      when: meta.coldStart == true
    - name: big-spend
      when: type == "purchase" AND value > 500
`))
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, 50, cfg.Delivery.FlushBatch)
	assert.Equal(t, 2*time.Second, cfg.Delivery.ResolveTimeout)
	assert.Equal(t, 1500*time.Millisecond, cfg.Scheduler.FlushInterval)
	assert.Equal(t, 5*time.Minute, cfg.Scheduler.RetryMax)
	assert.Equal(t, time.Minute, cfg.Sink.BreakerReset)
	require.Len(t, cfg.Hooks.Rules, 2)
	assert.Equal(t, "big-spend", cfg.Hooks.Rules[1].Name)
}

func TestValidateCollectsAllErrors(t *testing.T) {
	_, err := Parse([]byte(`
store:
  driver: mysql
delivery:
  flush_batch: -1
sink:
  url: ftp://nope
hooks:
  rules:
    - name: a
      when: type = "view"
    - name: a
      when: type == "view"
    - name: b
`))
	require.Error(t, err)
	msg := err.Error()
	for _, want := range []string{
		`unknown driver "mysql"`,
		"store.dsn is required",
		"delivery.flush_batch must be between",
		"sink.url",
		"hooks.rules[0]",
		`duplicate hook rule name "a"`,
		"hooks.rules[2]: when is required",
	} {
		assert.Contains(t, msg, want)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvStoreDSN, "/tmp/override.db")
	t.Setenv(EnvSinkToken, "s3cret")
	t.Setenv(EnvNATSURL, "nats://bus:4222")

	cfg, err := Parse([]byte(minimal))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/override.db", cfg.Store.DSN)
	assert.Equal(t, "s3cret", cfg.Sink.Token)
	assert.Equal(t, "nats://bus:4222", cfg.Hooks.NATSURL)
}

func TestLoaderReloadKeepsPreviousOnError(t *testing.T) {
	path := writeConfig(t, minimal)
	l, err := NewLoader(path, nil)
	require.NoError(t, err)

	var seen atomic.Int64
	l.OnChange(func(c *Config) { seen.Store(int64(c.Delivery.FlushBatch)) })

	require.NoError(t, os.WriteFile(path, []byte(minimal+"delivery:\n  flush_batch: 42\n"), 0o644))
	cfg, err := l.Reload()
	require.NoError(t, err)
	assert.Equal(t, 42, cfg.Delivery.FlushBatch)
	assert.EqualValues(t, 42, seen.Load())

	require.NoError(t, os.WriteFile(path, []byte("sink: [broken"), 0o644))
	_, err = l.Reload()
	require.Error(t, err)
	assert.Equal(t, 42, l.Config().Delivery.FlushBatch)
}

func TestLoaderWatchHotReloads(t *testing.T) {
	defer goleak.VerifyNone(t)

	path := writeConfig(t, minimal)
	l, err := NewLoader(path, nil)
	require.NoError(t, err)

	var seen atomic.Int64
	l.OnChange(func(c *Config) { seen.Store(int64(c.Delivery.RetryBatch)) })

	stop, err := l.Watch()
	require.NoError(t, err)
	defer stop()

	require.NoError(t, os.WriteFile(path, []byte(minimal+"delivery:\n  retry_batch: 7\n"), 0o644))
	require.Eventually(t, func() bool { return seen.Load() == 7 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 7, l.Config().Delivery.RetryBatch)
}

func TestNewLoaderRejectsInvalidFile(t *testing.T) {
	_, err := NewLoader(writeConfig(t, "store:\n  driver: sqlite\n"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sink.url is required")
}
