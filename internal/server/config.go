// Package server provides configuration helpers that define runtime defaults,
// validation, and tuning parameters for the notification service.
package server

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// RateLimitConfig bounds new connection attempts per remote address within a
// fixed window.
type RateLimitConfig struct {
	Window         time.Duration
	MaxConnections int
}

// MessageRateConfig defines the parameters for per-connection message rate
// limiting.
type MessageRateConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// HeartbeatConfig controls the liveness probe loop.
type HeartbeatConfig struct {
	Interval time.Duration
	Timeout  time.Duration
}

// RoomConfig bounds room membership and room count, and controls how long an
// empty room lingers before the cleanup sweep reclaims it.
type RoomConfig struct {
	MaxClientsPerRoom int
	MaxRooms          int
	MaxRoomsPerClient int
	GracePeriod       time.Duration
}

// ReconnectConfig is advertised to clients in the connected frame so their
// backoff matches server expectations.
type ReconnectConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// BlockchainConfig points at the upstream blockchain API polled for new
// blocks. An empty URL disables the poller.
type BlockchainConfig struct {
	URL          string
	PollInterval time.Duration
}

// Config holds the full server configuration sourced from the environment.
type Config struct {
	Host            string
	Port            int
	WSPath          string
	JWTSecret       string
	AllowedOrigins  []string
	MaxMessageSize  int64
	MaxConnections  int
	SendQueueSize   int
	AuthTimeout     time.Duration
	ShutdownTimeout time.Duration
	LogLevel        string
	RateLimit       RateLimitConfig
	MessageRate     MessageRateConfig
	Heartbeat       HeartbeatConfig
	Rooms           RoomConfig
	Reconnect       ReconnectConfig
	Blockchain      BlockchainConfig
}

// DefaultConfig returns a Config populated with production defaults. The JWT
// secret has no default and must be supplied before Validate passes.
func DefaultConfig() *Config {
	return &Config{
		Host:   "0.0.0.0",
		Port:   3001,
		WSPath: "/ws",
		AllowedOrigins: []string{
			"http://localhost:3000",
			"http://localhost:8000",
		},
		MaxMessageSize:  1 << 20,
		MaxConnections:  1000,
		SendQueueSize:   256,
		AuthTimeout:     5 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		LogLevel:        "info",
		RateLimit: RateLimitConfig{
			Window:         15 * time.Minute,
			MaxConnections: 100,
		},
		MessageRate: MessageRateConfig{
			Burst:          5,
			RefillInterval: time.Second,
		},
		Heartbeat: HeartbeatConfig{
			Interval: 30 * time.Second,
			Timeout:  60 * time.Second,
		},
		Rooms: RoomConfig{
			MaxClientsPerRoom: 1000,
			MaxRooms:          100,
			MaxRoomsPerClient: 10,
			GracePeriod:       60 * time.Second,
		},
		Reconnect: ReconnectConfig{
			MaxAttempts:  5,
			InitialDelay: time.Second,
			MaxDelay:     30 * time.Second,
		},
		Blockchain: BlockchainConfig{
			URL:          "http://localhost:5000",
			PollInterval: 10 * time.Second,
		},
	}
}

// LoadConfig builds a Config from environment variables, falling back to
// defaults for anything unset, and validates the result.
func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	if host := os.Getenv("HOST"); host != "" {
		cfg.Host = host
	}
	cfg.Port = parseIntValue(os.Getenv("PORT"), cfg.Port)
	if path := os.Getenv("WS_PATH"); path != "" {
		cfg.WSPath = path
	}
	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}
	cfg.MaxMessageSize = parseInt64Value(os.Getenv("MAX_MESSAGE_SIZE"), cfg.MaxMessageSize)
	cfg.MaxConnections = parseIntValue(os.Getenv("MAX_CONNECTIONS"), cfg.MaxConnections)
	cfg.SendQueueSize = parseIntValue(os.Getenv("SEND_QUEUE_SIZE"), cfg.SendQueueSize)
	cfg.ShutdownTimeout = parseMillis(os.Getenv("SHUTDOWN_TIMEOUT_MS"), cfg.ShutdownTimeout)
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	cfg.RateLimit.Window = parseMillis(os.Getenv("RATE_LIMIT_WINDOW_MS"), cfg.RateLimit.Window)
	cfg.RateLimit.MaxConnections = parseIntValue(os.Getenv("RATE_LIMIT_MAX_CONNECTIONS"), cfg.RateLimit.MaxConnections)

	cfg.MessageRate.Burst = parseIntValue(os.Getenv("MESSAGE_RATE_BURST"), cfg.MessageRate.Burst)
	cfg.MessageRate.RefillInterval = parseMillis(os.Getenv("MESSAGE_RATE_REFILL_MS"), cfg.MessageRate.RefillInterval)

	cfg.Heartbeat.Interval = parseMillis(os.Getenv("HEARTBEAT_INTERVAL"), cfg.Heartbeat.Interval)
	cfg.Heartbeat.Timeout = parseMillis(os.Getenv("HEARTBEAT_TIMEOUT"), cfg.Heartbeat.Timeout)

	cfg.Rooms.MaxClientsPerRoom = parseIntValue(os.Getenv("MAX_CLIENTS_PER_ROOM"), cfg.Rooms.MaxClientsPerRoom)
	cfg.Rooms.MaxRooms = parseIntValue(os.Getenv("MAX_ROOMS"), cfg.Rooms.MaxRooms)
	cfg.Rooms.MaxRoomsPerClient = parseIntValue(os.Getenv("MAX_ROOMS_PER_CLIENT"), cfg.Rooms.MaxRoomsPerClient)
	cfg.Rooms.GracePeriod = parseMillis(os.Getenv("ROOM_GRACE_PERIOD_MS"), cfg.Rooms.GracePeriod)

	cfg.Reconnect.MaxAttempts = parseIntValue(os.Getenv("RECONNECT_MAX_ATTEMPTS"), cfg.Reconnect.MaxAttempts)
	cfg.Reconnect.InitialDelay = parseMillis(os.Getenv("RECONNECT_INITIAL_DELAY_MS"), cfg.Reconnect.InitialDelay)
	cfg.Reconnect.MaxDelay = parseMillis(os.Getenv("RECONNECT_MAX_DELAY_MS"), cfg.Reconnect.MaxDelay)

	if url := os.Getenv("BLOCKCHAIN_API_URL"); url != "" {
		cfg.Blockchain.URL = url
	}
	cfg.Blockchain.PollInterval = parseMillis(os.Getenv("BLOCKCHAIN_POLL_INTERVAL"), cfg.Blockchain.PollInterval)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the invariants that must hold before the server starts.
// Violations are fatal: the process must not come up half-configured.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port number: %d", c.Port)
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("missing required environment variable: JWT_SECRET")
	}
	if !strings.HasPrefix(c.WSPath, "/") {
		return fmt.Errorf("WS_PATH must start with '/': %q", c.WSPath)
	}
	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("MAX_MESSAGE_SIZE must be positive")
	}
	if c.MaxConnections <= 0 {
		return fmt.Errorf("MAX_CONNECTIONS must be positive")
	}
	if c.SendQueueSize <= 0 {
		return fmt.Errorf("SEND_QUEUE_SIZE must be positive")
	}
	if c.RateLimit.Window <= 0 || c.RateLimit.MaxConnections <= 0 {
		return fmt.Errorf("rate limit window and max connections must be positive")
	}
	if c.Heartbeat.Interval <= 0 || c.Heartbeat.Timeout <= 0 {
		return fmt.Errorf("heartbeat interval and timeout must be positive")
	}
	if c.Heartbeat.Timeout <= c.Heartbeat.Interval {
		return fmt.Errorf("HEARTBEAT_TIMEOUT must exceed HEARTBEAT_INTERVAL")
	}
	if c.Rooms.MaxClientsPerRoom <= 0 || c.Rooms.MaxRooms <= 0 || c.Rooms.MaxRoomsPerClient <= 0 {
		return fmt.Errorf("room capacity limits must be positive")
	}
	// The default room holds every connection, so its membership is bounded
	// by the global connection cap. That bound must fit the room capacity.
	if c.MaxConnections > c.Rooms.MaxClientsPerRoom {
		return fmt.Errorf("MAX_CONNECTIONS (%d) must not exceed MAX_CLIENTS_PER_ROOM (%d)",
			c.MaxConnections, c.Rooms.MaxClientsPerRoom)
	}
	return nil
}

// Addr returns the listen address in host:port form.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

func parseInt64Value(value string, defaultValue int64) int64 {
	if parsed, err := strconv.ParseInt(value, 10, 64); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

func parseMillis(value string, defaultValue time.Duration) time.Duration {
	if ms, err := strconv.Atoi(value); err == nil && ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}
