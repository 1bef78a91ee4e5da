package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const defaultDSN = "host=localhost user=postgres password=postgres dbname=inventory port=5432 sslmode=disable"

type Config struct {
	HTTPPort    string
	DatabaseDSN string
	JWTSecret   string
	CORSOrigins string
	LogLevel    string

	RedisAddress  string // empty disables redis notifications and locks
	NotifyChannel string

	RateLimitRPS   float64
	RateLimitBurst int

	MetricsEnabled bool

	ABC ABCConfig
}

// ABCConfig holds the abc sampling tier boundaries (cumulative value shares)
// and how much of a sample each tier receives.
type ABCConfig struct {
	AThreshold float64
	BThreshold float64
	WeightA    float64
	WeightB    float64
	WeightC    float64
}

func (c ABCConfig) Validate() error {
	if c.AThreshold <= 0 || c.AThreshold >= 1 {
		return fmt.Errorf("ABC_A_THRESHOLD must be in (0,1), got %v", c.AThreshold)
	}
	if c.BThreshold <= c.AThreshold || c.BThreshold > 1 {
		return fmt.Errorf("ABC_B_THRESHOLD must be in (A threshold,1], got %v", c.BThreshold)
	}
	if c.WeightA < 0 || c.WeightB < 0 || c.WeightC < 0 || c.WeightA+c.WeightB+c.WeightC <= 0 {
		return errors.New("ABC weights must be non-negative and not all zero")
	}
	return nil
}

// DefaultABC: A = top 80% of value, B = next 15%, C = the rest.
func DefaultABC() ABCConfig {
	return ABCConfig{AThreshold: 0.80, BThreshold: 0.95, WeightA: 0.6, WeightB: 0.3, WeightC: 0.1}
}

func newViper() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("HTTP_PORT", "8080")
	v.SetDefault("DATABASE_DSN", defaultDSN)
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "http://localhost:5173")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("REDIS_ADDRESS", "")
	v.SetDefault("NOTIFY_CHANNEL", "cyclecount.events")
	v.SetDefault("RATE_LIMIT_RPS", 20.0)
	v.SetDefault("RATE_LIMIT_BURST", 40)
	v.SetDefault("METRICS_ENABLED", true)

	abc := DefaultABC()
	v.SetDefault("ABC_A_THRESHOLD", abc.AThreshold)
	v.SetDefault("ABC_B_THRESHOLD", abc.BThreshold)
	v.SetDefault("ABC_WEIGHT_A", abc.WeightA)
	v.SetDefault("ABC_WEIGHT_B", abc.WeightB)
	v.SetDefault("ABC_WEIGHT_C", abc.WeightC)
	return v
}

// Parse reads the environment (and an optional .env file) into a Config.
func Parse() (*Config, error) {
	_ = godotenv.Load()

	v := newViper()
	cfg := &Config{
		HTTPPort:       v.GetString("HTTP_PORT"),
		DatabaseDSN:    v.GetString("DATABASE_DSN"),
		JWTSecret:      v.GetString("JWT_SECRET"),
		CORSOrigins:    v.GetString("CORS_ALLOWED_ORIGINS"),
		LogLevel:       strings.ToLower(v.GetString("LOG_LEVEL")),
		RedisAddress:   strings.TrimSpace(v.GetString("REDIS_ADDRESS")),
		NotifyChannel:  v.GetString("NOTIFY_CHANNEL"),
		RateLimitRPS:   v.GetFloat64("RATE_LIMIT_RPS"),
		RateLimitBurst: v.GetInt("RATE_LIMIT_BURST"),
		MetricsEnabled: v.GetBool("METRICS_ENABLED"),
		ABC: ABCConfig{
			AThreshold: v.GetFloat64("ABC_A_THRESHOLD"),
			BThreshold: v.GetFloat64("ABC_B_THRESHOLD"),
			WeightA:    v.GetFloat64("ABC_WEIGHT_A"),
			WeightB:    v.GetFloat64("ABC_WEIGHT_B"),
			WeightC:    v.GetFloat64("ABC_WEIGHT_C"),
		},
	}

	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is not set")
	}
	if len(cfg.JWTSecret) < 32 {
		return nil, errors.New("JWT_SECRET must be at least 32 characters")
	}
	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	if err := cfg.ABC.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load is Parse for main: configuration errors are fatal.
func Load(logger *logrus.Logger) *Config {
	cfg, err := Parse()
	if err != nil {
		logger.Fatalf("[FATAL] configuration: %v", err)
	}

	if cfg.DatabaseDSN == defaultDSN {
		logger.Warn("DATABASE_DSN is using the default value, set your own Postgres DSN in production")
	}
	if cfg.CORSOrigins == "http://localhost:5173" {
		logger.Warn("CORS_ALLOWED_ORIGINS is using the default value, set your own domain in production")
	}
	return cfg
}
