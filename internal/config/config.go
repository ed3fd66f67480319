// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Covariance estimators accepted by COVARIANCE_ESTIMATOR.
const (
	EstimatorSample     = "sample"
	EstimatorLedoitWolf = "ledoit_wolf"
)

// Config holds application configuration
type Config struct {
	DataDir   string // Base directory for all databases, always absolute
	Port      int
	LogLevel  string
	LogPretty bool
	DevMode   bool

	// Engine parameters
	RiskFreeRate               float64
	LookbackPeriods            int
	PeriodsPerYear             int
	MinObservations            int
	CoverageThreshold          float64
	CovarianceEstimator        string
	SolverMaxIterations        int
	DiversificationFloorWeight float64
	RiskPolicyFile             string // Optional JSON override of the risk-tier table

	// Statistics cache
	CacheTTL time.Duration

	// Data sources: local path or s3://bucket/key
	UniverseSource string
	PricesSource   string

	// Cron schedules (with seconds field); empty disables the job
	ImportSchedule  string
	WarmSchedule    string
	CleanupSchedule string

	// Object storage
	AWSRegion         string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("RECOMMENDER_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:   absDataDir,
		Port:      getEnvAsInt("PORT", 8080),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogPretty: getEnvAsBool("LOG_PRETTY", false),
		DevMode:   getEnvAsBool("DEV_MODE", false),

		RiskFreeRate:               getEnvAsFloat("RISK_FREE_RATE", 0.04),
		LookbackPeriods:            getEnvAsInt("LOOKBACK_PERIODS", 252),
		PeriodsPerYear:             getEnvAsInt("PERIODS_PER_YEAR", 252),
		MinObservations:            getEnvAsInt("MIN_OBSERVATIONS", 30),
		CoverageThreshold:          getEnvAsFloat("COVERAGE_THRESHOLD", 0.95),
		CovarianceEstimator:        getEnv("COVARIANCE_ESTIMATOR", EstimatorSample),
		SolverMaxIterations:        getEnvAsInt("SOLVER_MAX_ITERATIONS", 5000),
		DiversificationFloorWeight: getEnvAsFloat("DIVERSIFICATION_FLOOR_WEIGHT", 0.02),
		RiskPolicyFile:             getEnv("RISK_POLICY_FILE", ""),

		CacheTTL: getEnvAsDuration("STATISTICS_CACHE_TTL", 6*time.Hour),

		UniverseSource: getEnv("UNIVERSE_SOURCE", ""),
		PricesSource:   getEnv("PRICES_SOURCE", ""),

		ImportSchedule:  getEnv("IMPORT_SCHEDULE", "0 30 6 * * *"),
		WarmSchedule:    getEnv("WARM_SCHEDULE", "0 45 6 * * *"),
		CleanupSchedule: getEnv("CLEANUP_SCHEDULE", "0 0 * * * *"),

		AWSRegion:         getEnv("AWS_REGION", "us-east-1"),
		S3Endpoint:        getEnv("S3_ENDPOINT", ""),
		S3AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
		S3SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that engine parameters are usable
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.LookbackPeriods <= 0 {
		return fmt.Errorf("lookback periods must be positive, got %d", c.LookbackPeriods)
	}
	if c.PeriodsPerYear <= 0 {
		return fmt.Errorf("periods per year must be positive, got %d", c.PeriodsPerYear)
	}
	if c.MinObservations < 2 {
		return fmt.Errorf("min observations must be at least 2, got %d", c.MinObservations)
	}
	if c.RiskFreeRate < 0 || c.RiskFreeRate > 1 {
		return fmt.Errorf("risk-free rate %.4f outside [0, 1]", c.RiskFreeRate)
	}
	if c.CoverageThreshold <= 0 || c.CoverageThreshold > 1 {
		return fmt.Errorf("coverage threshold %.4f outside (0, 1]", c.CoverageThreshold)
	}
	if c.SolverMaxIterations <= 0 {
		return fmt.Errorf("solver max iterations must be positive, got %d", c.SolverMaxIterations)
	}
	if c.DiversificationFloorWeight <= 0 || c.DiversificationFloorWeight >= 1 {
		return fmt.Errorf("diversification floor weight %.4f outside (0, 1)", c.DiversificationFloorWeight)
	}
	switch c.CovarianceEstimator {
	case EstimatorSample, EstimatorLedoitWolf:
	default:
		return fmt.Errorf("unknown covariance estimator %q", c.CovarianceEstimator)
	}
	return nil
}

// HistoryDBPath returns the path of the price history database
func (c *Config) HistoryDBPath() string {
	return filepath.Join(c.DataDir, "history.db")
}

// CacheDBPath returns the path of the calculation cache database
func (c *Config) CacheDBPath() string {
	return filepath.Join(c.DataDir, "cache.db")
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
