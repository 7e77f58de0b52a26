package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all pipeline configuration, loaded from the environment with
// defaults. CLI flags may override individual fields after loading.
type Config struct {
	Logging  LoggingConfig
	Data     DataConfig
	Pipeline PipelineConfig
	Metrics  MetricsConfig
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level string
}

// DataConfig points at the three input stores and the metadata table.
type DataConfig struct {
	CountDir        string
	TemperatureFile string
	WindDBDir       string
	DeploymentsFile string
	NightPeriodFile string
}

// PipelineConfig holds aggregation thresholds and nominal sampling rates.
type PipelineConfig struct {
	MinPhotosPerDay int
	MaxPhotosPerDay int

	TempThresholdC  float64
	GustThresholdMS float64

	TempIntervalMin  int
	WindIntervalMin  int
	PhotoIntervalMin int

	SeasonStart string // YYYY-MM-DD, anchor for days_since_season_start
	Workers     int
}

// MetricsConfig controls the optional in-run metrics endpoint.
type MetricsConfig struct {
	ListenAddr string // empty disables the endpoint
}

// LoadConfig loads configuration from the environment, reading a local .env
// file first when present.
func LoadConfig() (*Config, error) {
	// Missing .env is not an error; the environment may be set directly.
	_ = godotenv.Load()

	cfg := &Config{
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Data: DataConfig{
			CountDir:        getEnv("COUNT_DIR", "data/deployments"),
			TemperatureFile: getEnv("TEMPERATURE_FILE", "data/temperature_data_2023.csv"),
			WindDBDir:       getEnv("WIND_DB_DIR", "data/wind"),
			DeploymentsFile: getEnv("DEPLOYMENTS_FILE", "data/deployments_combined.csv"),
			NightPeriodFile: getEnv("NIGHT_PERIOD_FILE", ""),
		},
		Pipeline: PipelineConfig{
			MinPhotosPerDay:  getEnvInt("MIN_PHOTOS_PER_DAY", 15),
			MaxPhotosPerDay:  getEnvInt("MAX_PHOTOS_PER_DAY", 25),
			TempThresholdC:   getEnvFloat("TEMP_THRESHOLD_C", 15),
			GustThresholdMS:  getEnvFloat("GUST_THRESHOLD_MS", 2),
			TempIntervalMin:  getEnvInt("TEMP_INTERVAL_MIN", 30),
			WindIntervalMin:  getEnvInt("WIND_INTERVAL_MIN", 1),
			PhotoIntervalMin: getEnvInt("PHOTO_INTERVAL_MIN", 30),
			SeasonStart:      getEnv("SEASON_START", "2023-10-15"),
			Workers:          getEnvInt("PIPELINE_WORKERS", 4),
		},
		Metrics: MetricsConfig{
			ListenAddr: getEnv("METRICS_LISTEN_ADDR", ""),
		},
	}

	return cfg, nil
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Pipeline.MinPhotosPerDay < 1 {
		return fmt.Errorf("MIN_PHOTOS_PER_DAY must be >= 1, got %d", c.Pipeline.MinPhotosPerDay)
	}
	if c.Pipeline.MaxPhotosPerDay < c.Pipeline.MinPhotosPerDay {
		return fmt.Errorf("MAX_PHOTOS_PER_DAY (%d) must be >= MIN_PHOTOS_PER_DAY (%d)",
			c.Pipeline.MaxPhotosPerDay, c.Pipeline.MinPhotosPerDay)
	}
	if c.Pipeline.TempIntervalMin <= 0 || c.Pipeline.WindIntervalMin <= 0 || c.Pipeline.PhotoIntervalMin <= 0 {
		return fmt.Errorf("nominal sampling intervals must be positive")
	}
	if c.Pipeline.Workers < 1 {
		return fmt.Errorf("PIPELINE_WORKERS must be >= 1, got %d", c.Pipeline.Workers)
	}
	if _, err := time.Parse("2006-01-02", c.Pipeline.SeasonStart); err != nil {
		return fmt.Errorf("SEASON_START must be YYYY-MM-DD: %w", err)
	}
	return nil
}

// SeasonStartDate returns the parsed season anchor date.
func (c *Config) SeasonStartDate() time.Time {
	ts, _ := time.Parse("2006-01-02", c.Pipeline.SeasonStart)
	return ts
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}
