package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/tenantcast/pkg/auth"
	"github.com/cuemby/tenantcast/pkg/hub"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, 100, cfg.Hub.HistorySize)
	assert.Equal(t, 256, cfg.Hub.SendQueueSize)
	assert.Equal(t, 10000, cfg.Hub.MaxConnections)
	assert.Equal(t, 16, cfg.Hub.MaxConnectionsPerUser)
	assert.Equal(t, 5*time.Minute, cfg.Registry.Interval)
	assert.Equal(t, 20*time.Second, cfg.Registry.Timeout)
	assert.Equal(t, 3*time.Second, cfg.Registry.RetryDelay)
	assert.Equal(t, "memory", cfg.Sessions.Backend)
	assert.Equal(t, 24*time.Hour, cfg.Sessions.InvitationTTL)
	assert.Equal(t, "tenantcast.events", cfg.NATS.Subject)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.True(t, cfg.UsesDevSecret())
}

func TestLoadFileEnvAndFlags(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "tenantcast.yaml"), []byte(`
server:
  address: ":9000"
  allowedOrigins: ["app.example.com"]
hub:
  historySize: 50
registry:
  url: http://registry.local/agents
  interval: 30s
sessions:
  maxMembers: 4
`), 0o600))

	t.Setenv("TENANTCAST_HUB_HISTORYSIZE", "75")
	t.Setenv("TENANTCAST_AUTH_JWTSECRET", "from-env")

	flags := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	flags.String("address", ":8080", "")
	flags.String("log-level", "info", "")
	require.NoError(t, flags.Parse([]string{"--log-level", "debug"}))

	cfg, err := Load("", flags)
	require.NoError(t, err)

	// File value wins over an unset flag's default
	assert.Equal(t, ":9000", cfg.Server.Address)
	assert.Equal(t, []string{"app.example.com"}, cfg.Server.AllowedOrigins)
	// Env beats the file
	assert.Equal(t, 75, cfg.Hub.HistorySize)
	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
	assert.False(t, cfg.UsesDevSecret())
	// Explicit flag beats everything
	assert.Equal(t, "debug", cfg.Log.Level)

	assert.Equal(t, "http://registry.local/agents", cfg.Registry.URL)
	assert.Equal(t, 30*time.Second, cfg.Registry.Interval)
	assert.Equal(t, 4, cfg.SessionOptions().MaxMembers)
}

func TestLoadExplicitFile(t *testing.T) {
	chdir(t, t.TempDir())
	path := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sessions:\n  backend: bolt\n  dataDir: /var/lib/tenantcast\n"), 0o600))

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "bolt", cfg.Sessions.Backend)
	assert.Equal(t, "/var/lib/tenantcast", cfg.Sessions.DataDir)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	chdir(t, t.TempDir())
	base, err := Load("", nil)
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"empty address", func(c *Config) { c.Server.Address = "" }},
		{"empty secret", func(c *Config) { c.Auth.JWTSecret = "" }},
		{"zero history", func(c *Config) { c.Hub.HistorySize = 0 }},
		{"unknown backend", func(c *Config) { c.Sessions.Backend = "redis" }},
		{"bolt without dir", func(c *Config) { c.Sessions.Backend = "bolt"; c.Sessions.DataDir = "" }},
		{"zero interval", func(c *Config) { c.Registry.Interval = 0 }},
		{"queue below replay", func(c *Config) { c.Hub.HistorySize = 200 }},
		{"small queue", func(c *Config) { c.Hub.SendQueueSize = 64 }},
		{"user without id", func(c *Config) { c.Auth.Users = []UserConfig{{Name: "Ada"}} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := *base
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDerivedOptions(t *testing.T) {
	chdir(t, t.TempDir())
	cfg, err := Load("", nil)
	require.NoError(t, err)

	hubCfg := cfg.HubOptions()
	assert.Equal(t, 100, hubCfg.HistorySize)
	assert.Equal(t, 16, hubCfg.MaxConnectionsPerUser)

	conn := cfg.ConnectionOptions()
	assert.Equal(t, 256, conn.QueueSize)
	assert.Equal(t, 10*time.Second, conn.WriteTimeout)
	assert.Equal(t, int64(1<<20), conn.ReadLimit)

	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout())
}

func TestDirectoryUsersFromFile(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "tenantcast.yaml"), []byte(`
auth:
  users:
    - id: u1
      name: Ada Lovelace
      email: ada@example.com
    - id: u2
`), 0o600))

	cfg, err := Load("", nil)
	require.NoError(t, err)

	users := cfg.DirectoryUsers()
	require.Len(t, users, 2)
	assert.Equal(t, "u1", users[0].UserID)
	assert.Equal(t, "Ada Lovelace", users[0].DisplayName)
	assert.Equal(t, "ada@example.com", users[0].Email)
	assert.Equal(t, "u2", users[1].UserID)

	directory := auth.NewMemoryDirectory(users...)
	profile, found := directory.Lookup(context.Background(), "u1")
	require.True(t, found)
	assert.Equal(t, "Ada Lovelace", profile.DisplayName)
}

func TestValidateAcceptsQueueSizedForHistory(t *testing.T) {
	chdir(t, t.TempDir())
	cfg, err := Load("", nil)
	require.NoError(t, err)

	cfg.Hub.HistorySize = 200
	cfg.Hub.SendQueueSize = hub.ReplayFrames(200)
	assert.NoError(t, cfg.Validate())
}
