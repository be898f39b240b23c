package config

import (
	"os"
	"strconv"
	"time"
)

// SchedulerConfig controls the periodic balance-fetch batches.
type SchedulerConfig struct {
	Interval      time.Duration
	Workers       int
	FetchAttempts int
	FetchTimeout  time.Duration
}

func LoadSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		Interval:      getEnvAsDuration("FETCH_INTERVAL", 1*time.Hour),
		Workers:       getEnvAsInt("FETCH_WORKERS", 8),
		FetchAttempts: getEnvAsInt("FETCH_ATTEMPTS", 3),
		FetchTimeout:  getEnvAsDuration("FETCH_TIMEOUT", 30*time.Second),
	}
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			return duration
		}
	}
	return defaultVal
}
