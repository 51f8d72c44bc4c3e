// Package config provides configuration loading from environment variables.
package config

import (
	"fmt"
	"os"
	"time"
)

// TrackerConfig holds configuration for the job tracking framework.
type TrackerConfig struct {
	DatabaseURL     string        // Postgres connection string; empty selects the in-memory store
	WorkerID        string        // Identity of this worker process on persisted log entries
	WriteBuffer     int           // Detached write queue capacity per job
	WriteRetries    int           // Retry attempts per persistence write
	BreakerCooldown time.Duration // Circuit breaker cooldown before probing the store again
}

// LoadTrackerConfig loads framework configuration from environment variables.
func LoadTrackerConfig() *TrackerConfig {
	return &TrackerConfig{
		DatabaseURL:     GetEnv("DATABASE_URL", ""),
		WorkerID:        GetEnv("WORKER_ID", DefaultWorkerID()),
		WriteBuffer:     GetIntEnv("JOB_WRITE_BUFFER", 64),
		WriteRetries:    GetIntEnv("JOB_WRITE_RETRIES", 3),
		BreakerCooldown: GetDurationEnv("JOB_BREAKER_COOLDOWN", 10*time.Second),
	}
}

// DefaultWorkerID derives a worker identity from the host name and pid.
// Log entries carry it so multi-worker deployments can attribute entries.
func DefaultWorkerID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
