package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cuemby/tenantcast/pkg/auth"
	"github.com/cuemby/tenantcast/pkg/hub"
	"github.com/cuemby/tenantcast/pkg/log"
	"github.com/cuemby/tenantcast/pkg/session"
	"github.com/cuemby/tenantcast/pkg/transport"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	// EnvPrefix prefixes every environment override, e.g. TENANTCAST_SERVER_ADDRESS
	EnvPrefix = "TENANTCAST"
	// FileName is the config file looked up in the working directory
	FileName = "tenantcast"

	// DevJWTSecret is the default secret; serve warns when it is still in use
	DevJWTSecret = "tenantcast-dev-secret-change-me"
)

// FlagKeys maps command-line flag names to config keys
var FlagKeys = map[string]string{
	"address":         "server.address",
	"jwt-secret":      "auth.jwtSecret",
	"registry-url":    "registry.url",
	"registry-file":   "registry.file",
	"session-backend": "sessions.backend",
	"data-dir":        "sessions.dataDir",
	"nats-url":        "nats.url",
	"log-level":       "log.level",
	"log-json":        "log.json",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.allowedOrigins", []string{})
	v.SetDefault("server.shutdownTimeout", "10s")

	v.SetDefault("auth.jwtSecret", DevJWTSecret)
	v.SetDefault("auth.issuer", "")

	v.SetDefault("hub.historySize", 100)
	v.SetDefault("hub.sendQueueSize", 256)
	v.SetDefault("hub.maxConnections", 10000)
	v.SetDefault("hub.maxConnectionsPerUser", 16)

	v.SetDefault("transport.readTimeout", "0s")
	v.SetDefault("transport.writeTimeout", "10s")
	v.SetDefault("transport.readLimit", 1<<20)

	v.SetDefault("registry.url", "")
	v.SetDefault("registry.file", "")
	v.SetDefault("registry.interval", "5m")
	v.SetDefault("registry.timeout", "20s")
	v.SetDefault("registry.retryDelay", "3s")

	v.SetDefault("sessions.backend", "memory")
	v.SetDefault("sessions.dataDir", "./data")
	v.SetDefault("sessions.invitationTTL", "24h")
	v.SetDefault("sessions.maxMembers", 0)

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject", "tenantcast.events")
	v.SetDefault("nats.queue", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
}

// Load reads configuration from defaults, an optional config file, the
// environment and flags, in increasing order of precedence. An empty file
// looks for tenantcast.yaml in the working directory.
func Load(file string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	// 1. Set default values
	setDefaults(v)

	// 2. Set config file details
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// 3. Set up environment variable handling
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 4. Bind flags that were defined on the command
	if flags != nil {
		for name, key := range FlagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	// 5. Read the configuration file
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		log.Logger.Debug().Msg("Config file not found, relying on defaults and environment")
	}

	// 6. Unmarshal the configuration into our struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would otherwise fail later at startup
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return errors.New("server.address is required")
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwtSecret is required")
	}
	for i, u := range c.Auth.Users {
		if u.ID == "" {
			return fmt.Errorf("auth.users[%d].id is required", i)
		}
	}
	if c.Hub.HistorySize <= 0 {
		return fmt.Errorf("hub.historySize must be positive, got %d", c.Hub.HistorySize)
	}
	if need := hub.ReplayFrames(c.Hub.HistorySize); c.Hub.SendQueueSize < need {
		return fmt.Errorf("hub.sendQueueSize must be at least %d for hub.historySize %d, got %d",
			need, c.Hub.HistorySize, c.Hub.SendQueueSize)
	}
	switch c.Sessions.Backend {
	case "memory":
	case "bolt":
		if c.Sessions.DataDir == "" {
			return errors.New("sessions.dataDir is required for the bolt backend")
		}
	default:
		return fmt.Errorf("sessions.backend must be memory or bolt, got %q", c.Sessions.Backend)
	}
	if c.Registry.Interval <= 0 {
		return fmt.Errorf("registry.interval must be positive, got %s", c.Registry.Interval)
	}
	return nil
}

// UsesDevSecret reports whether the JWT secret was left at its default
func (c *Config) UsesDevSecret() bool {
	return c.Auth.JWTSecret == DevJWTSecret
}

// HubOptions returns the hub limits
func (c *Config) HubOptions() hub.Config {
	cfg := hub.DefaultConfig()
	cfg.HistorySize = c.Hub.HistorySize
	cfg.MaxConnections = c.Hub.MaxConnections
	cfg.MaxConnectionsPerUser = c.Hub.MaxConnectionsPerUser
	return cfg
}

// ConnectionOptions returns the per-connection transport settings
func (c *Config) ConnectionOptions() transport.Config {
	return transport.Config{
		ReadTimeout:  c.Transport.ReadTimeout,
		WriteTimeout: c.Transport.WriteTimeout,
		ReadLimit:    c.Transport.ReadLimit,
		QueueSize:    c.Hub.SendQueueSize,
	}
}

// DirectoryUsers returns the configured user profiles
func (c *Config) DirectoryUsers() []auth.Identity {
	users := make([]auth.Identity, 0, len(c.Auth.Users))
	for _, u := range c.Auth.Users {
		users = append(users, auth.Identity{UserID: u.ID, DisplayName: u.Name, Email: u.Email})
	}
	return users
}

// SessionOptions returns the collaborative session limits
func (c *Config) SessionOptions() session.Options {
	return session.Options{
		InvitationTTL: c.Sessions.InvitationTTL,
		MaxMembers:    c.Sessions.MaxMembers,
	}
}

// LogOptions returns the logger configuration
func (c *Config) LogOptions() log.Config {
	return log.Config{
		Level:      log.ParseLevel(c.Log.Level),
		JSONOutput: c.Log.JSON,
	}
}

// ShutdownTimeout returns the graceful shutdown budget
func (c *Config) ShutdownTimeout() time.Duration {
	if c.Server.ShutdownTimeout <= 0 {
		return 10 * time.Second
	}
	return c.Server.ShutdownTimeout
}
