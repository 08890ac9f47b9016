package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultAddr is the default TCP address the arena server listens on.
	DefaultAddr = ":43180"
	// DefaultPingInterval controls the keepalive cadence for WebSocket connections.
	DefaultPingInterval = 30 * time.Second
	// DefaultMaxPayloadBytes limits inbound WebSocket frame size.
	DefaultMaxPayloadBytes int64 = 1 << 16

	// DefaultTickInterval is the fixed simulation step for match sessions.
	DefaultTickInterval = 20 * time.Millisecond
	// DefaultScorePause is how long the simulation rests after a point.
	DefaultScorePause = time.Second
	// DefaultCasualWinScore ends a casual match.
	DefaultCasualWinScore = 5
	// DefaultBracketWinScore ends a tournament match.
	DefaultBracketWinScore = 3
	// DefaultCountdownFrom is the first value broadcast before a bracket final.
	DefaultCountdownFrom = 5

	// DefaultRedisAddr points presence tracking at a local Redis.
	DefaultRedisAddr = "localhost:6379"
	// DefaultPresenceTTL bounds how long a stale presence key survives.
	DefaultPresenceTTL = time.Hour

	// DefaultLogLevel controls verbosity for arena logs.
	DefaultLogLevel = "info"
	// DefaultLogPath is where structured logs are written.
	DefaultLogPath = "arena.log"
	// DefaultLogMaxSizeMB caps the size of a single log file before rotation.
	DefaultLogMaxSizeMB = 100
	// DefaultLogMaxBackups limits retained rotated log files.
	DefaultLogMaxBackups = 10
	// DefaultLogCompress toggles gzip compression for rotated log files.
	DefaultLogCompress = true
)

// Config captures all runtime tunables for the arena service.
type Config struct {
	Address         string
	AllowedOrigins  []string
	MaxPayloadBytes int64
	PingInterval    time.Duration

	TickInterval    time.Duration
	ScorePause      time.Duration
	CasualWinScore  int
	BracketWinScore int
	CountdownFrom   int

	RedisAddr     string
	RedisPassword string
	PresenceTTL   time.Duration

	PostgresDSN   string
	LedgerBaseURL string

	Logging LoggingConfig
}

// LoggingConfig captures structured logging configuration options.
type LoggingConfig struct {
	Level      string
	Path       string
	MaxSizeMB  int
	MaxBackups int
	Compress   bool
}

// Load reads the arena configuration from environment variables, applying sane
// defaults and returning descriptive errors for invalid overrides.
func Load() (*Config, error) {
	cfg := &Config{
		Address:         getString("ARENA_ADDR", DefaultAddr),
		AllowedOrigins:  parseList(os.Getenv("ARENA_ALLOWED_ORIGINS")),
		MaxPayloadBytes: DefaultMaxPayloadBytes,
		PingInterval:    DefaultPingInterval,
		TickInterval:    DefaultTickInterval,
		ScorePause:      DefaultScorePause,
		CasualWinScore:  DefaultCasualWinScore,
		BracketWinScore: DefaultBracketWinScore,
		CountdownFrom:   DefaultCountdownFrom,
		RedisAddr:       getString("ARENA_REDIS_ADDR", DefaultRedisAddr),
		RedisPassword:   strings.TrimSpace(os.Getenv("ARENA_REDIS_PASSWORD")),
		PresenceTTL:     DefaultPresenceTTL,
		PostgresDSN:     strings.TrimSpace(os.Getenv("ARENA_POSTGRES_DSN")),
		LedgerBaseURL:   strings.TrimSpace(os.Getenv("ARENA_LEDGER_URL")),
		Logging: LoggingConfig{
			Level:      strings.TrimSpace(getString("ARENA_LOG_LEVEL", DefaultLogLevel)),
			Path:       strings.TrimSpace(getString("ARENA_LOG_PATH", DefaultLogPath)),
			MaxSizeMB:  DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
			Compress:   DefaultLogCompress,
		},
	}

	var problems []string

	if raw := strings.TrimSpace(os.Getenv("ARENA_MAX_PAYLOAD_BYTES")); raw != "" {
		value, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("ARENA_MAX_PAYLOAD_BYTES must be a positive integer, got %q", raw))
		} else {
			cfg.MaxPayloadBytes = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("ARENA_PING_INTERVAL")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("ARENA_PING_INTERVAL must be a positive duration, got %q", raw))
		} else {
			cfg.PingInterval = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("ARENA_TICK_INTERVAL")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("ARENA_TICK_INTERVAL must be a positive duration, got %q", raw))
		} else {
			cfg.TickInterval = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("ARENA_SCORE_PAUSE")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration < 0 {
			problems = append(problems, fmt.Sprintf("ARENA_SCORE_PAUSE must be a non-negative duration, got %q", raw))
		} else {
			cfg.ScorePause = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("ARENA_CASUAL_WIN_SCORE")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("ARENA_CASUAL_WIN_SCORE must be a positive integer, got %q", raw))
		} else {
			cfg.CasualWinScore = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("ARENA_BRACKET_WIN_SCORE")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("ARENA_BRACKET_WIN_SCORE must be a positive integer, got %q", raw))
		} else {
			cfg.BracketWinScore = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("ARENA_COUNTDOWN_FROM")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("ARENA_COUNTDOWN_FROM must be a positive integer, got %q", raw))
		} else {
			cfg.CountdownFrom = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("ARENA_PRESENCE_TTL")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("ARENA_PRESENCE_TTL must be a positive duration, got %q", raw))
		} else {
			cfg.PresenceTTL = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("ARENA_LOG_MAX_SIZE_MB")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("ARENA_LOG_MAX_SIZE_MB must be a positive integer, got %q", raw))
		} else {
			cfg.Logging.MaxSizeMB = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("ARENA_LOG_MAX_BACKUPS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("ARENA_LOG_MAX_BACKUPS must be a non-negative integer, got %q", raw))
		} else {
			cfg.Logging.MaxBackups = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("ARENA_LOG_COMPRESS")); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("ARENA_LOG_COMPRESS must be a boolean value, got %q", raw))
		} else {
			cfg.Logging.Compress = value
		}
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("%s", strings.Join(problems, "; "))
	}

	return cfg, nil
}

func getString(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func parseList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if item := strings.TrimSpace(part); item != "" {
			values = append(values, item)
		}
	}
	return values
}
