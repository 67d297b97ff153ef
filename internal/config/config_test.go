package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dslock/pkg/locker"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "app:\n  name: dslock\n"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.App.Port)
	assert.Equal(t, "localhost:6379", cfg.Redis.Primary.Addr())
	assert.Empty(t, cfg.Redis.Replica.Addr())
	assert.Equal(t, 3*time.Second, cfg.Redis.Pool.MaxWait)
	assert.Equal(t, "lease", cfg.Lock.Backend)
	assert.Equal(t, int64(2048), cfg.Lock.Expression.CacheSize)
	assert.Equal(t, 30*time.Minute, cfg.Lock.Expression.CacheTTL)
	assert.Equal(t, time.Minute, cfg.Audit.Interval)
	assert.Equal(t, "none", cfg.Tracing.Exporter)
	assert.Equal(t, 24*time.Hour, cfg.Lock.Submission.Retention)

	decl, err := cfg.Lock.Defaults.Declaration()
	require.NoError(t, err)
	assert.Equal(t, locker.DefaultDeclaration(), decl)
}

func TestLoad_FileOverrides(t *testing.T) {
	path := writeConfig(t, `
redis:
  primary:
    host: redis-primary
    port: 6380
  replica:
    host: redis-replica
lock:
  backend: redlock
  release_mode: atomic
  defaults:
    reject_policy: repeat_abort
    type: hold
    expire_seconds: 5
    blocking: false
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "redis-primary:6380", cfg.Redis.Primary.Addr())
	assert.Equal(t, "redis-replica:6379", cfg.Redis.Replica.Addr())
	assert.Equal(t, "redlock", cfg.Lock.Backend)

	decl, err := cfg.Lock.Defaults.Declaration()
	require.NoError(t, err)
	assert.Equal(t, locker.RepeatAbort, decl.RejectPolicy)
	assert.Equal(t, locker.Hold, decl.Type)
	assert.Equal(t, int64(5), decl.ExpireSeconds)
	assert.False(t, decl.Blocking)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DSLOCK_REDIS_PRIMARY_HOST", "from-env")
	t.Setenv("DSLOCK_APP_PORT", "9090")

	cfg, err := Load(writeConfig(t, "app:\n  name: dslock\n"))
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Redis.Primary.Host)
	assert.Equal(t, 9090, cfg.App.Port)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown backend", "lock:\n  backend: zookeeper\n"},
		{"unknown release mode", "lock:\n  release_mode: lua\n"},
		{"unknown policy", "lock:\n  defaults:\n    reject_policy: retry\n"},
		{"zero expiry", "lock:\n  defaults:\n    expire_seconds: 0\n"},
		{"audit interval too short", "audit:\n  interval: 10ms\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoad_InvalidTracingExporter(t *testing.T) {
	_, err := Load(writeConfig(t, "tracing:\n  exporter: zipkin\n"))
	assert.ErrorContains(t, err, "tracing.exporter")
}
