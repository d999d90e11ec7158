// Package config loads the server settings from the environment, optionally
// seeded from a .env file. Invalid values fall back to defaults.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

var ErrMissingSecret = errors.New("JWT_SECRET is not set")

type Config struct {
	Port           string
	JWTSecret      string
	AllowedOrigins []string
	DBPath         string
	LogLevel       string
	LogFormat      string

	MaxMessageSize int64
	SendBuffer     int
	EventBuffer    int
	PingInterval   time.Duration
	PongTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxMissedPings int

	allowAll bool
	allowed  map[string]struct{}
}

func defaultConfig() Config {
	return Config{
		Port: "3000",
		AllowedOrigins: []string{
			"http://localhost:5173",
			"http://localhost:3000",
			"http://localhost:4173",
		},
		DBPath:         "drawit.db",
		LogLevel:       "info",
		LogFormat:      "console",
		MaxMessageSize: 16 << 20,
		SendBuffer:     256,
		EventBuffer:    1024,
		PingInterval:   30 * time.Second,
		PongTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxMissedPings: 2,
	}
}

// Default returns the defaults with origins normalised. JWTSecret is empty.
func Default() *Config {
	cfg := defaultConfig()
	cfg.sanitize()
	return &cfg
}

// Load reads envFiles (".env" when none are given; missing files are
// ignored) and then the process environment.
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil {
		log.Debug().Str("module", "config").Err(err).Msg("no .env file loaded, using environment")
	}
	return FromEnv()
}

// FromEnv builds a Config from the process environment only.
func FromEnv() (*Config, error) {
	cfg := defaultConfig()

	if port := os.Getenv("PORT"); port != "" {
		cfg.Port = strings.TrimPrefix(port, ":")
	}
	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseList(origins)
	}
	if path := os.Getenv("DRAWIT_DB_PATH"); path != "" {
		cfg.DBPath = path
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = strings.ToLower(level)
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		cfg.LogFormat = strings.ToLower(format)
	}

	cfg.MaxMessageSize = parseInt64(os.Getenv("MAX_MESSAGE_SIZE"), cfg.MaxMessageSize)
	cfg.SendBuffer = parseInt(os.Getenv("SEND_BUFFER"), cfg.SendBuffer)
	cfg.EventBuffer = parseInt(os.Getenv("EVENT_BUFFER"), cfg.EventBuffer)
	cfg.MaxMissedPings = parseInt(os.Getenv("MAX_MISSED_PINGS"), cfg.MaxMissedPings)
	cfg.PingInterval = parseDuration(os.Getenv("PING_INTERVAL"), cfg.PingInterval)
	cfg.PongTimeout = parseDuration(os.Getenv("PONG_TIMEOUT"), cfg.PongTimeout)
	cfg.WriteTimeout = parseDuration(os.Getenv("WRITE_TIMEOUT"), cfg.WriteTimeout)

	cfg.sanitize()
	if cfg.JWTSecret == "" {
		return &cfg, ErrMissingSecret
	}
	return &cfg, nil
}

// Addr is the listen address for net/http.
func (c *Config) Addr() string { return ":" + c.Port }

func (c *Config) sanitize() {
	d := defaultConfig()
	if c.Port == "" {
		c.Port = d.Port
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = d.MaxMessageSize
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = d.SendBuffer
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = d.EventBuffer
	}
	if c.PingInterval <= 0 {
		c.PingInterval = d.PingInterval
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = d.PongTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.MaxMissedPings <= 0 {
		c.MaxMissedPings = d.MaxMissedPings
	}
	c.SetAllowedOrigins(c.AllowedOrigins)
}

func parseList(value string) []string {
	parts := strings.Split(value, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseInt(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

func parseInt64(value string, defaultValue int64) int64 {
	if parsed, err := strconv.ParseInt(value, 10, 64); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

// parseDuration accepts Go durations ("30s") or whole seconds ("30").
func parseDuration(value string, defaultValue time.Duration) time.Duration {
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
