package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// clearEnv blanks every override so the host environment cannot leak in.
func clearEnv(t *testing.T) {
	for _, k := range []string{"DB_PATH", "LOG_LEVEL", "LOG_FORMAT", "JWT_SECRET", "PORT"} {
		t.Setenv(k, "")
	}
}

func TestLoad_YAML(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "config.yaml", `
server:
  port: 9090
database:
  path: /tmp/ledger.db
  max_tx_attempts: 3
auth:
  jwt_secret: yaml-secret
log:
  level: debug
  format: json
ledger:
  max_members: 10
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "/tmp/ledger.db", cfg.Database.Path)
	assert.Equal(t, 3, cfg.Database.MaxTxAttempts)
	assert.Equal(t, "yaml-secret", cfg.Auth.JWTSecret)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 10, cfg.Ledger.MaxMembers)
	// Unset keys keep their defaults.
	assert.Equal(t, 7*24, cfg.Ledger.ShareLinkTTLHours)
	assert.Equal(t, 5*time.Second, cfg.BusyTimeout())
}

func TestLoad_TOML(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "config.toml", `
[server]
port = 7070

[auth]
jwt_secret = "toml-secret"

[notifications]
poll_interval_ms = 250
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Address())
	assert.Equal(t, "toml-secret", cfg.Auth.JWTSecret)
	assert.Equal(t, 250*time.Millisecond, cfg.PollInterval())
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "config.yaml", "auth:\n  jwt_secret: from-file\n")
	t.Setenv("JWT_SECRET", "from-env")
	t.Setenv("DB_PATH", "/var/lib/ledger.db")
	t.Setenv("PORT", "1234")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
	assert.Equal(t, "/var/lib/ledger.db", cfg.Database.Path)
	assert.Equal(t, 1234, cfg.Server.Port)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		env     map[string]string
	}{
		{name: "missing secret", file: "c.yaml", content: "server:\n  port: 80\n"},
		{name: "unknown extension", file: "c.json", content: "{}"},
		{name: "bad yaml", file: "c.yaml", content: "server: [\n"},
		{name: "bad port env", file: "c.yaml", content: "auth:\n  jwt_secret: s\n", env: map[string]string{"PORT": "http"}},
		{name: "bad log level", file: "c.yaml", content: "auth:\n  jwt_secret: s\nlog:\n  level: loud\n"},
		{name: "ttl over max", file: "c.yaml", content: "auth:\n  jwt_secret: s\nledger:\n  share_link_ttl_hours: 1000\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(writeFile(t, tt.file, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoad_NoFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("JWT_SECRET", "env-only")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Database.Path, cfg.Database.Path)
	assert.Equal(t, 24*time.Hour, cfg.TokenTTL())
}
