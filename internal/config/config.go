package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

type AppConfig struct {
	HTTPAddr string

	RedisURL    string
	DatabaseURL string

	PairingInterval time.Duration
	MatchTTL        time.Duration

	RulesetFile string
	MessagesDir string

	// BroadcastMode is one of http, ws, auto, log.
	BroadcastMode      string
	GatewayBaseURL     string
	GatewayWSURL       string
	GatewayToken       string
	BroadcastQueueSize int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		HTTPAddr:           ":8080",
		PairingInterval:    1200 * time.Millisecond,
		MatchTTL:           24 * time.Hour,
		BroadcastMode:      "log",
		BroadcastQueueSize: 1024,
		ReadTimeout:        10 * time.Second,
		WriteTimeout:       10 * time.Second,
	}

	if v := strings.TrimSpace(os.Getenv("HTTP_ADDR")); v != "" {
		cfg.HTTPAddr = v
	}
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))

	if v := strings.TrimSpace(os.Getenv("PAIRING_INTERVAL")); v != "" {
		d, err := parseDuration(v)
		if err != nil || d <= 0 {
			return nil, errors.New("PAIRING_INTERVAL must be a positive duration (e.g. 1200ms)")
		}
		cfg.PairingInterval = d
	}
	if v := strings.TrimSpace(os.Getenv("MATCH_TTL")); v != "" {
		if d, err := parseDuration(v); err == nil && d > 0 {
			cfg.MatchTTL = d
		}
	}

	cfg.RulesetFile = strings.TrimSpace(os.Getenv("RULESET_FILE"))
	cfg.MessagesDir = strings.TrimSpace(os.Getenv("MESSAGES_DIR"))

	if v := strings.TrimSpace(os.Getenv("BROADCAST_MODE")); v != "" {
		cfg.BroadcastMode = strings.ToLower(v)
	}
	cfg.GatewayBaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("GATEWAY_BASE_URL")), "/")
	cfg.GatewayWSURL = strings.TrimSpace(os.Getenv("GATEWAY_WS_URL"))
	cfg.GatewayToken = strings.TrimSpace(os.Getenv("GATEWAY_TOKEN"))
	if v := strings.TrimSpace(os.Getenv("BROADCAST_QUEUE_SIZE")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.BroadcastQueueSize = n
		}
	}

	if v := strings.TrimSpace(os.Getenv("HTTP_READ_TIMEOUT")); v != "" {
		if d, err := parseDuration(v); err == nil && d > 0 {
			cfg.ReadTimeout = d
		}
	}
	if v := strings.TrimSpace(os.Getenv("HTTP_WRITE_TIMEOUT")); v != "" {
		if d, err := parseDuration(v); err == nil && d > 0 {
			cfg.WriteTimeout = d
		}
	}

	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	switch cfg.BroadcastMode {
	case "log":
	case "http":
		if cfg.GatewayBaseURL == "" {
			return nil, errors.New("GATEWAY_BASE_URL is required for BROADCAST_MODE=http")
		}
	case "ws":
		if cfg.GatewayWSURL == "" {
			return nil, errors.New("GATEWAY_WS_URL is required for BROADCAST_MODE=ws")
		}
	case "auto":
		if cfg.GatewayBaseURL == "" || cfg.GatewayWSURL == "" {
			return nil, errors.New("GATEWAY_BASE_URL and GATEWAY_WS_URL are required for BROADCAST_MODE=auto")
		}
	default:
		return nil, errors.New("BROADCAST_MODE must be one of log, http, ws, auto")
	}

	return cfg, nil
}

// parseDuration accepts Go durations ("1500ms") and bare milliseconds ("1500").
func parseDuration(v string) (time.Duration, error) {
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Millisecond, nil
	}
	return time.ParseDuration(v)
}
