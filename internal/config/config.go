package config

import "time"

// Config is the complete application configuration, assembled from three
// layers: embedded defaults, an optional user config file, and GRIDLENS_*
// environment variables (credentials may also come from a .env file).
type Config struct {
	Account Account       `mapstructure:"account"`
	API     APIConfig     `mapstructure:"api"`
	Rate    RateConfig    `mapstructure:"rate"`
	Store   StoreConfig   `mapstructure:"store"`
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// Account holds upstream credentials and the home to report on.
type Account struct {
	Email    string `mapstructure:"email"`
	Password string `mapstructure:"password"`
	HomeID   string `mapstructure:"home_id"`
}

// APIConfig tunes the upstream client.
type APIConfig struct {
	AuthURL        string        `mapstructure:"auth_url"`
	GraphQLURL     string        `mapstructure:"graphql_url"`
	MaxRetries     int           `mapstructure:"max_retries"`
	BaseDelay      time.Duration `mapstructure:"base_delay"`
	MaxDelay       time.Duration `mapstructure:"max_delay"`
	AuthTimeout    time.Duration `mapstructure:"auth_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// RateConfig tunes the multi-tier limiter.
type RateConfig struct {
	HourlyLimit  float64       `mapstructure:"hourly_limit"`
	HourlyWindow time.Duration `mapstructure:"hourly_window"`
	BurstLimit   float64       `mapstructure:"burst_limit"`
	BurstWindow  time.Duration `mapstructure:"burst_window"`
	SaveInterval time.Duration `mapstructure:"save_interval"`
}

// StoreConfig contains libsql/Turso connection settings for limiter
// persistence. An empty path disables persistence.
type StoreConfig struct {
	Driver    string `mapstructure:"driver"`
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`
}

// ServerConfig contains HTTP server settings for the admin surface.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	StatsInterval   time.Duration `mapstructure:"stats_interval"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `mapstructure:"level"`
}
