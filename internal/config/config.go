package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/mohamedkhairy/session-features/internal/levels"
	"github.com/mohamedkhairy/session-features/internal/pipeline"
	"github.com/mohamedkhairy/session-features/internal/session"
	"github.com/mohamedkhairy/session-features/internal/volatility"
)

// Market presets select the default session window. Individual
// SESSION_* variables still override the preset values.
const (
	PresetEquities = "equities"
	PresetFX       = "fx"
)

// Config holds all configuration for the application
type Config struct {
	// Common
	Environment string
	LogLevel    string

	// Database
	Database DatabaseConfig

	// Redis
	Redis RedisConfig

	// Pipeline stages
	Session    session.Config
	Volatility volatility.Config
	Levels     levels.Config

	// Service
	Enricher EnricherConfig
}

// DatabaseConfig holds TimescaleDB configuration
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxConnections  int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host         string
	Port         int
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
}

// EnricherConfig holds enricher service configuration
type EnricherConfig struct {
	Port            int
	HealthCheckPort int

	BarStream      string
	EnrichedStream string
	ConsumerGroup  string
	BatchSize      int

	// Recompute window
	WindowSize        int
	RecomputeInterval time.Duration

	// Database write configuration
	DBWriteBatchSize int
	DBWriteInterval  time.Duration
	DBWriteQueueSize int
	DBMaxRetries     int
	DBRetryDelay     time.Duration
}

// Pipeline returns the three stage configurations bundled for
// pipeline.New.
func (c *Config) Pipeline() pipeline.Config {
	return pipeline.Config{
		Session:    c.Session,
		Volatility: c.Volatility,
		Levels:     c.Levels,
	}
}

// Load loads configuration from environment variables
// It automatically loads .env file if it exists in the current directory or parent directories
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	sessionCfg, err := loadSessionConfig()
	if err != nil {
		return nil, err
	}
	volCfg, err := loadVolatilityConfig()
	if err != nil {
		return nil, err
	}
	levelsCfg, err := loadLevelsConfig()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvAsInt("DB_PORT", 5432),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", "postgres"),
			Database:        getEnv("DB_NAME", "session_features"),
			SSLMode:         getEnv("DB_SSL_MODE", "disable"),
			MaxConnections:  getEnvAsInt("DB_MAX_CONNECTIONS", 25),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			Host:         getEnv("REDIS_HOST", "localhost"),
			Port:         getEnvAsInt("REDIS_PORT", 6379),
			Password:     getEnv("REDIS_PASSWORD", ""),
			DB:           getEnvAsInt("REDIS_DB", 0),
			PoolSize:     getEnvAsInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getEnvAsInt("REDIS_MIN_IDLE_CONNS", 5),
		},
		Session:    sessionCfg,
		Volatility: volCfg,
		Levels:     levelsCfg,
		Enricher: EnricherConfig{
			Port:              getEnvAsInt("ENRICHER_PORT", 8080),
			HealthCheckPort:   getEnvAsInt("ENRICHER_HEALTH_PORT", 8081),
			BarStream:         getEnv("ENRICHER_BAR_STREAM", "bars"),
			EnrichedStream:    getEnv("ENRICHER_ENRICHED_STREAM", "bars.enriched"),
			ConsumerGroup:     getEnv("ENRICHER_CONSUMER_GROUP", "enricher"),
			BatchSize:         getEnvAsInt("ENRICHER_BATCH_SIZE", 100),
			WindowSize:        getEnvAsInt("ENRICHER_WINDOW_SIZE", 50000),
			RecomputeInterval: getEnvAsDuration("ENRICHER_RECOMPUTE_INTERVAL", 5*time.Second),
			DBWriteBatchSize:  getEnvAsInt("ENRICHER_DB_WRITE_BATCH_SIZE", 1000),
			DBWriteInterval:   getEnvAsDuration("ENRICHER_DB_WRITE_INTERVAL", 1*time.Second),
			DBWriteQueueSize:  getEnvAsInt("ENRICHER_DB_WRITE_QUEUE_SIZE", 10000),
			DBMaxRetries:      getEnvAsInt("ENRICHER_DB_MAX_RETRIES", 3),
			DBRetryDelay:      getEnvAsDuration("ENRICHER_DB_RETRY_DELAY", 100*time.Millisecond),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// presetSession returns the session defaults for a market preset.
func presetSession(preset string) (session.Config, error) {
	switch preset {
	case PresetEquities:
		return session.DefaultConfig(), nil
	case PresetFX:
		// FX trades an effectively continuous UTC day, so the session
		// window spans the whole day.
		return session.Config{
			Zone:         "UTC",
			OpenLocal:    session.WallClock{Hour: 0, Minute: 0},
			CloseLocal:   session.WallClock{Hour: 23, Minute: 59},
			Warmup:       30 * time.Minute,
			RollWeekends: true,
			Ambiguous:    session.AmbiguousEarliest,
		}, nil
	default:
		return session.Config{}, fmt.Errorf("unknown MARKET_PRESET %q", preset)
	}
}

func loadSessionConfig() (session.Config, error) {
	cfg, err := presetSession(getEnv("MARKET_PRESET", PresetEquities))
	if err != nil {
		return session.Config{}, err
	}

	cfg.Zone = getEnv("SESSION_ZONE", cfg.Zone)
	if v := os.Getenv("SESSION_OPEN"); v != "" {
		wc, err := session.ParseWallClock(v)
		if err != nil {
			return session.Config{}, fmt.Errorf("SESSION_OPEN: %w", err)
		}
		cfg.OpenLocal = wc
	}
	if v := os.Getenv("SESSION_CLOSE"); v != "" {
		wc, err := session.ParseWallClock(v)
		if err != nil {
			return session.Config{}, fmt.Errorf("SESSION_CLOSE: %w", err)
		}
		cfg.CloseLocal = wc
	}
	cfg.Warmup = getEnvAsDuration("SESSION_WARMUP", cfg.Warmup)
	cfg.RollWeekends = getEnvAsBool("SESSION_ROLL_WEEKENDS", cfg.RollWeekends)
	if v := os.Getenv("SESSION_AMBIGUOUS"); v != "" {
		policy, err := session.ParseAmbiguousPolicy(v)
		if err != nil {
			return session.Config{}, fmt.Errorf("SESSION_AMBIGUOUS: %w", err)
		}
		cfg.Ambiguous = policy
	}
	return cfg, nil
}

func loadVolatilityConfig() (volatility.Config, error) {
	cfg := volatility.DefaultConfig()
	cfg.Lookback = getEnvAsInt("VOL_LOOKBACK", cfg.Lookback)
	if v := os.Getenv("VOL_SMOOTHING"); v != "" {
		smoothing, err := volatility.ParseSmoothing(v)
		if err != nil {
			return volatility.Config{}, fmt.Errorf("VOL_SMOOTHING: %w", err)
		}
		cfg.Smoothing = smoothing
	}
	cfg.Threshold = getEnvAsFloat("VOL_THRESHOLD", cfg.Threshold)
	cfg.ClipLo = getEnvAsFloat("VOL_CLIP_LO", cfg.ClipLo)
	cfg.ClipHi = getEnvAsFloat("VOL_CLIP_HI", cfg.ClipHi)
	return cfg, nil
}

func loadLevelsConfig() (levels.Config, error) {
	cfg := levels.DefaultConfig()
	cfg.BlendVWAP = getEnvAsBool("LEVELS_BLEND_VWAP", cfg.BlendVWAP)
	cfg.VWAPBlendAlpha = getEnvAsFloat("LEVELS_VWAP_BLEND_ALPHA", cfg.VWAPBlendAlpha)
	cfg.VWAPWindow = getEnvAsDuration("LEVELS_VWAP_WINDOW", cfg.VWAPWindow)
	cfg.IBGapMultiplier = getEnvAsFloat("LEVELS_IB_GAP_MULTIPLIER", cfg.IBGapMultiplier)
	cfg.VolScaleFV = getEnvAsBool("LEVELS_VOL_SCALE_FV", cfg.VolScaleFV)
	cfg.VolScaleL1 = getEnvAsBool("LEVELS_VOL_SCALE_L1", cfg.VolScaleL1)
	if v := os.Getenv("LEVELS_SCALE_MODE"); v != "" {
		mode, err := levels.ParseScaleMode(v)
		if err != nil {
			return levels.Config{}, fmt.Errorf("LEVELS_SCALE_MODE: %w", err)
		}
		cfg.ScaleMode = mode
	}
	cfg.GapCapLo = getEnvAsOptionalFloat("LEVELS_GAP_CAP_LO", cfg.GapCapLo)
	cfg.GapCapHi = getEnvAsOptionalFloat("LEVELS_GAP_CAP_HI", cfg.GapCapHi)
	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return fmt.Errorf("DB_HOST is required")
	}
	if c.Redis.Host == "" {
		return fmt.Errorf("REDIS_HOST is required")
	}
	if c.Enricher.BarStream == "" {
		return fmt.Errorf("ENRICHER_BAR_STREAM is required")
	}
	if c.Enricher.EnrichedStream == "" {
		return fmt.Errorf("ENRICHER_ENRICHED_STREAM is required")
	}
	if c.Enricher.WindowSize <= 0 {
		return fmt.Errorf("ENRICHER_WINDOW_SIZE must be positive")
	}
	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return intValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	boolValue, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return boolValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	floatValue, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return floatValue
}

func getEnvAsOptionalFloat(key string, defaultValue *float64) *float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	floatValue, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return &floatValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return duration
}
