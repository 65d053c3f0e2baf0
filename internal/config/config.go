package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rassi0429/eew4reso/internal/policy"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Misskey sink configuration.
	MisskeyURL     string
	MisskeyToken   string
	MisskeyTimeout time.Duration
	NoteVisibility string

	// Posting policy.
	MinSeverity          float64
	OnlyWarnings         bool
	IncludeCancellations bool
	MinMagnitude         float64
	MaxDepth             float64
	AllowedRegions       []string
	BlockedRegions       []string
	RateLimitInterval    time.Duration

	// Optional Kafka source. Empty brokers disable it; alerts then
	// arrive only via the HTTP ingest endpoint.
	KafkaBrokers   []string
	KafkaTopic     string
	KafkaGroupID   string
	KafkaBatchSize int
}

// Load reads configuration from environment variables, applying defaults
// where unset. Validation failures name the offending variable.
func Load() (*Config, error) {
	shutdownTimeout, err := parsePositiveDuration("SHUTDOWN_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	misskeyTimeout, err := parsePositiveDuration("MISSKEY_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	rateLimitInterval, err := parsePositiveDuration("RATE_LIMIT_INTERVAL", "60s")
	if err != nil {
		return nil, err
	}

	minSeverity, err := parseNonNegativeFloat("MIN_SEVERITY", 0)
	if err != nil {
		return nil, err
	}
	minMagnitude, err := parseNonNegativeFloat("MIN_MAGNITUDE", 0)
	if err != nil {
		return nil, err
	}
	maxDepth, err := parseNonNegativeFloat("MAX_DEPTH", 0)
	if err != nil {
		return nil, err
	}

	onlyWarnings, err := parseBool("ONLY_WARNINGS", false)
	if err != nil {
		return nil, err
	}
	includeCancellations, err := parseBool("INCLUDE_CANCELLATIONS", true)
	if err != nil {
		return nil, err
	}
	kafkaBatchSize, err := parsePositiveInt("KAFKA_BATCH_SIZE", 32)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		HTTPAddr:        envOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        envOrDefault("LOG_LEVEL", "info"),
		LogFormat:       envOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		MisskeyURL:     strings.TrimRight(os.Getenv("MISSKEY_URL"), "/"),
		MisskeyToken:   os.Getenv("MISSKEY_TOKEN"),
		MisskeyTimeout: misskeyTimeout,
		NoteVisibility: envOrDefault("NOTE_VISIBILITY", "home"),

		MinSeverity:          minSeverity,
		OnlyWarnings:         onlyWarnings,
		IncludeCancellations: includeCancellations,
		MinMagnitude:         minMagnitude,
		MaxDepth:             maxDepth,
		AllowedRegions:       splitCSV(os.Getenv("ALLOWED_REGIONS")),
		BlockedRegions:       splitCSV(os.Getenv("BLOCKED_REGIONS")),
		RateLimitInterval:    rateLimitInterval,

		KafkaBrokers:   splitCSV(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:     envOrDefault("KAFKA_TOPIC", "eew-raw-alerts"),
		KafkaGroupID:   envOrDefault("KAFKA_GROUP_ID", "eew4reso"),
		KafkaBatchSize: kafkaBatchSize,
	}

	if cfg.MisskeyURL == "" {
		return nil, errors.New("MISSKEY_URL is required")
	}
	if cfg.MisskeyToken == "" {
		return nil, errors.New("MISSKEY_TOKEN is required")
	}
	switch cfg.NoteVisibility {
	case "public", "home", "followers":
	default:
		return nil, fmt.Errorf("invalid NOTE_VISIBILITY %q: must be public, home, or followers", cfg.NoteVisibility)
	}
	if cfg.KafkaEnabled() && cfg.KafkaTopic == "" {
		return nil, errors.New("KAFKA_TOPIC is required when KAFKA_BROKERS is set")
	}

	return cfg, nil
}

// Policy assembles the posting policy from the loaded configuration.
func (c *Config) Policy() policy.Policy {
	return policy.Policy{
		MinSeverity:          c.MinSeverity,
		OnlyWarnings:         c.OnlyWarnings,
		IncludeCancellations: c.IncludeCancellations,
		MinMagnitude:         c.MinMagnitude,
		MaxDepth:             c.MaxDepth,
		AllowedRegions:       policy.RegionSet(c.AllowedRegions),
		BlockedRegions:       policy.RegionSet(c.BlockedRegions),
	}
}

// KafkaEnabled reports whether the optional Kafka source is configured.
func (c *Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parsePositiveDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(envOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be a positive duration", key)
	}
	return d, nil
}

func parsePositiveInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be a positive integer", key)
	}
	return n, nil
}

func parseNonNegativeFloat(key string, def float64) (float64, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid %s: must be a non-negative number", key)
	}
	return v, nil
}

func parseBool(key string, def bool) (bool, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s: must be true or false", key)
	}
	return v, nil
}

// splitCSV splits a comma-separated list, trimming whitespace and
// dropping empty entries. Returns nil for an empty input.
func splitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
