package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env string

	Log         LogConfig
	Input       InputConfig
	Negotiation NegotiationConfig
	Directory   DirectoryConfig
	Store       StoreConfig
	Metrics     MetricsConfig
}

type LogConfig struct {
	Level  string
	Format string
}

// InputConfig points at the JSON files describing the agent populations.
type InputConfig struct {
	Professors string
	Classrooms string
}

// NegotiationConfig carries the contract-net timing knobs shared by every
// professor agent.
type NegotiationConfig struct {
	BaseTimeout      time.Duration
	BackoffOffset    time.Duration
	MaxRetries       int
	MinCollectWindow time.Duration
	InformTimeout    time.Duration
	CleanupWatchdog  time.Duration
	InboxBuffer      int
}

// DirectoryConfig tunes heartbeat eviction.
type DirectoryConfig struct {
	TTL           time.Duration
	EvictInterval time.Duration
}

// StoreConfig governs buffered schedule persistence.
type StoreConfig struct {
	OutputDir      string
	FlushThreshold int
	WriteRetries   int
	RetryDelay     time.Duration
}

// MetricsConfig toggles the Prometheus listener.
type MetricsConfig struct {
	Enabled bool
	Port    int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Input = InputConfig{
		Professors: v.GetString("INPUT_PROFESSORS"),
		Classrooms: v.GetString("INPUT_CLASSROOMS"),
	}

	cfg.Negotiation = NegotiationConfig{
		BaseTimeout:      parseDuration(v.GetString("NEG_BASE_TIMEOUT"), 5*time.Second),
		BackoffOffset:    parseDuration(v.GetString("NEG_BACKOFF_OFFSET"), time.Second),
		MaxRetries:       v.GetInt("NEG_MAX_RETRIES"),
		MinCollectWindow: parseDuration(v.GetString("NEG_MIN_COLLECT_WINDOW"), 500*time.Millisecond),
		InformTimeout:    parseDuration(v.GetString("NEG_INFORM_TIMEOUT"), time.Second),
		CleanupWatchdog:  parseDuration(v.GetString("NEG_CLEANUP_WATCHDOG"), 10*time.Second),
		InboxBuffer:      v.GetInt("NEG_INBOX_BUFFER"),
	}

	cfg.Directory = DirectoryConfig{
		TTL:           parseDuration(v.GetString("DIRECTORY_TTL"), 300*time.Second),
		EvictInterval: parseDuration(v.GetString("DIRECTORY_EVICT_INTERVAL"), 30*time.Second),
	}

	cfg.Store = StoreConfig{
		OutputDir:      v.GetString("STORE_OUTPUT_DIR"),
		FlushThreshold: v.GetInt("STORE_FLUSH_THRESHOLD"),
		WriteRetries:   v.GetInt("STORE_WRITE_RETRIES"),
		RetryDelay:     parseDuration(v.GetString("STORE_RETRY_DELAY"), 100*time.Millisecond),
	}

	cfg.Metrics = MetricsConfig{
		Enabled: v.GetBool("METRICS_ENABLED"),
		Port:    v.GetInt("METRICS_PORT"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("INPUT_PROFESSORS", "./data/profesores.json")
	v.SetDefault("INPUT_CLASSROOMS", "./data/salas.json")

	v.SetDefault("NEG_BASE_TIMEOUT", "5s")
	v.SetDefault("NEG_BACKOFF_OFFSET", "1s")
	v.SetDefault("NEG_MAX_RETRIES", 3)
	v.SetDefault("NEG_MIN_COLLECT_WINDOW", "500ms")
	v.SetDefault("NEG_INFORM_TIMEOUT", "1s")
	v.SetDefault("NEG_CLEANUP_WATCHDOG", "10s")
	v.SetDefault("NEG_INBOX_BUFFER", 64)

	v.SetDefault("DIRECTORY_TTL", "300s")
	v.SetDefault("DIRECTORY_EVICT_INTERVAL", "30s")

	v.SetDefault("STORE_OUTPUT_DIR", "./output")
	v.SetDefault("STORE_FLUSH_THRESHOLD", 20)
	v.SetDefault("STORE_WRITE_RETRIES", 3)
	v.SetDefault("STORE_RETRY_DELAY", "100ms")

	v.SetDefault("METRICS_ENABLED", false)
	v.SetDefault("METRICS_PORT", 9090)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}
