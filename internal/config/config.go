// Package config provides centralized configuration for the scheduling
// engine. All knobs are runtime-tunable; components receive Settings by
// handle rather than reading the environment themselves.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Settings holds every tunable of the engine.
type Settings struct {
	// Planner
	BatchSize      int // max tasks per batch
	MaxParallelism int // global per-batch parallelism cap

	// Distribution algorithm (capability_based, load_balanced,
	// priority_first, round_robin, smart)
	Algorithm string

	// Priority
	MinPriorityFloor float64
	MaxPriorityBoost float64
	DecayEnabled     bool
	DecayRate        float64       // per hour, in (0,1)
	RebalanceAfter   time.Duration // score staleness window

	// Pool
	MinWorkers         int
	MaxWorkers         int
	ScaleUpThreshold   int // queue depth that triggers scale-up
	ScaleDownThreshold int
	ScaleUpCooldown    time.Duration
	ScaleDownCooldown  time.Duration

	// Per-task resource ceilings
	MaxMemoryMB      float64
	MaxCPUPercent    float64
	MaxExecutionTime time.Duration

	// Retry / circuit breaker
	MaxRetries       int
	BackoffStrategy  string // "fixed" or "exponential"
	BaseDelay        time.Duration
	MaxDelay         time.Duration
	BreakerEnabled   bool
	BreakerThreshold float64 // failure rate in (0,1] that opens the breaker
	BreakerRecovery  time.Duration

	// Metrics / alerting
	MetricsInterval time.Duration
	AlertErrorRate  float64
	AlertQueueDepth int
	AlertLatency    time.Duration
	MetricsPort     int

	// Optional graph persistence (empty URI disables the plan store)
	GraphURI      string
	GraphUser     string
	GraphPassword string

	// History store path (empty disables sqlite persistence)
	HistoryDir string
}

// Default returns the baseline settings.
func Default() Settings {
	return Settings{
		BatchSize:          5,
		MaxParallelism:     4,
		Algorithm:          "smart",
		MinPriorityFloor:   10,
		MaxPriorityBoost:   50,
		DecayEnabled:       true,
		DecayRate:          0.05,
		RebalanceAfter:     15 * time.Minute,
		MinWorkers:         1,
		MaxWorkers:         8,
		ScaleUpThreshold:   10,
		ScaleDownThreshold: 2,
		ScaleUpCooldown:    30 * time.Second,
		ScaleDownCooldown:  2 * time.Minute,
		MaxMemoryMB:        1024,
		MaxCPUPercent:      80,
		MaxExecutionTime:   10 * time.Minute,
		MaxRetries:         3,
		BackoffStrategy:    "exponential",
		BaseDelay:          time.Second,
		MaxDelay:           time.Minute,
		BreakerEnabled:     true,
		BreakerThreshold:   0.5,
		BreakerRecovery:    time.Minute,
		MetricsInterval:    10 * time.Second,
		AlertErrorRate:     0.25,
		AlertQueueDepth:    50,
		AlertLatency:       5 * time.Minute,
		MetricsPort:        9464,
	}
}

// FromEnv overlays TASKMESH_* environment variables on the defaults.
func FromEnv() Settings {
	s := Default()
	s.BatchSize = envInt("TASKMESH_BATCH_SIZE", s.BatchSize)
	s.MaxParallelism = envInt("TASKMESH_MAX_PARALLELISM", s.MaxParallelism)
	s.MinWorkers = envInt("TASKMESH_MIN_WORKERS", s.MinWorkers)
	s.MaxWorkers = envInt("TASKMESH_MAX_WORKERS", s.MaxWorkers)
	s.ScaleUpThreshold = envInt("TASKMESH_SCALE_UP_THRESHOLD", s.ScaleUpThreshold)
	s.ScaleDownThreshold = envInt("TASKMESH_SCALE_DOWN_THRESHOLD", s.ScaleDownThreshold)
	s.MaxRetries = envInt("TASKMESH_MAX_RETRIES", s.MaxRetries)
	s.MetricsPort = envInt("TASKMESH_METRICS_PORT", s.MetricsPort)
	s.DecayRate = envFloat("TASKMESH_DECAY_RATE", s.DecayRate)
	s.BreakerThreshold = envFloat("TASKMESH_BREAKER_THRESHOLD", s.BreakerThreshold)
	s.BackoffStrategy = envDefault("TASKMESH_BACKOFF", s.BackoffStrategy)
	s.Algorithm = envDefault("TASKMESH_ALGORITHM", s.Algorithm)
	s.GraphURI = envDefault("TASKMESH_GRAPH_URI", s.GraphURI)
	s.GraphUser = envDefault("TASKMESH_GRAPH_USER", s.GraphUser)
	s.GraphPassword = envDefault("TASKMESH_GRAPH_PASSWORD", s.GraphPassword)
	s.HistoryDir = envDefault("TASKMESH_HISTORY_DIR", s.HistoryDir)
	s.MaxExecutionTime = envDuration("TASKMESH_MAX_EXECUTION_TIME", s.MaxExecutionTime)
	s.BaseDelay = envDuration("TASKMESH_BASE_DELAY", s.BaseDelay)
	s.MaxDelay = envDuration("TASKMESH_MAX_DELAY", s.MaxDelay)
	s.MetricsInterval = envDuration("TASKMESH_METRICS_INTERVAL", s.MetricsInterval)
	return s
}

// Validate rejects impossible settings before the engine starts.
func (s Settings) Validate() error {
	if s.BatchSize < 1 {
		return fmt.Errorf("batch size must be >= 1, got %d", s.BatchSize)
	}
	if s.MinWorkers < 1 {
		return fmt.Errorf("min workers must be >= 1, got %d", s.MinWorkers)
	}
	if s.MaxWorkers < s.MinWorkers {
		return fmt.Errorf("max workers (%d) must be >= min workers (%d)", s.MaxWorkers, s.MinWorkers)
	}
	if s.DecayRate < 0 || s.DecayRate >= 1 {
		return fmt.Errorf("decay rate must be in [0,1), got %g", s.DecayRate)
	}
	if s.BackoffStrategy != "fixed" && s.BackoffStrategy != "exponential" {
		return fmt.Errorf("unknown backoff strategy %q", s.BackoffStrategy)
	}
	if s.BreakerThreshold <= 0 || s.BreakerThreshold > 1 {
		return fmt.Errorf("breaker threshold must be in (0,1], got %g", s.BreakerThreshold)
	}
	if s.MinPriorityFloor < 0 {
		return fmt.Errorf("priority floor must be >= 0, got %g", s.MinPriorityFloor)
	}
	return nil
}

func envDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
