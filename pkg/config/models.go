package config

import "time"

type Config struct {
	Server    ServerConfig
	Auth      AuthConfig
	Hub       HubConfig
	Transport TransportConfig
	Registry  RegistryConfig
	Sessions  SessionsConfig
	NATS      NATSConfig `mapstructure:"nats"`
	Log       LogConfig
}

type ServerConfig struct {
	Address         string
	AllowedOrigins  []string      `mapstructure:"allowedOrigins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwtSecret"`
	Issuer    string `mapstructure:"issuer"`
	// Users seeds the profile directory used for display names and token gaps
	Users []UserConfig `mapstructure:"users"`
}

type UserConfig struct {
	ID    string `mapstructure:"id"`
	Name  string `mapstructure:"name"`
	Email string `mapstructure:"email"`
}

type HubConfig struct {
	HistorySize           int `mapstructure:"historySize"`
	SendQueueSize         int `mapstructure:"sendQueueSize"`
	MaxConnections        int `mapstructure:"maxConnections"`
	MaxConnectionsPerUser int `mapstructure:"maxConnectionsPerUser"`
}

type TransportConfig struct {
	ReadTimeout  time.Duration `mapstructure:"readTimeout"`
	WriteTimeout time.Duration `mapstructure:"writeTimeout"`
	ReadLimit    int64         `mapstructure:"readLimit"`
}

type RegistryConfig struct {
	URL        string        `mapstructure:"url"`
	File       string        `mapstructure:"file"`
	Interval   time.Duration `mapstructure:"interval"`
	Timeout    time.Duration `mapstructure:"timeout"`
	RetryDelay time.Duration `mapstructure:"retryDelay"`
}

type SessionsConfig struct {
	Backend       string        `mapstructure:"backend"` // "memory" or "bolt"
	DataDir       string        `mapstructure:"dataDir"`
	InvitationTTL time.Duration `mapstructure:"invitationTTL"`
	MaxMembers    int           `mapstructure:"maxMembers"`
}

type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
	Queue   string `mapstructure:"queue"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}
