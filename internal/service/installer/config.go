package installer

import (
	"time"

	"github.com/vertextoedge/app-installer/internal/domain"
)

// Config holds installer configuration
type Config struct {
	// AttemptTimeout bounds a single transfer attempt; zero disables it
	AttemptTimeout      time.Duration
	BufferSize          int
	MaxRetryAttempts    int
	RetryBaseDelay      time.Duration
	EnableResume        bool
	PreservePartial     bool
	CheckpointBytes     int64
	MaxBytesPerSecond   int64
	MaxConcurrent       int
	DependencyTimeout   time.Duration
	ElevateDependencies bool
	ProgressLogInterval time.Duration
}

// DefaultConfig returns the default installer configuration
func DefaultConfig() Config {
	return Config{
		AttemptTimeout:      30 * time.Minute,
		BufferSize:          64 * 1024,
		MaxRetryAttempts:    domain.DefaultMaxRetryAttempts,
		RetryBaseDelay:      domain.DefaultRetryBaseDelay,
		EnableResume:        true,
		PreservePartial:     true,
		CheckpointBytes:     512 * 1024,
		MaxConcurrent:       2,
		DependencyTimeout:   10 * time.Minute,
		ElevateDependencies: true,
		ProgressLogInterval: 5 * time.Second,
	}
}

// withDefaults fills zero values from DefaultConfig
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BufferSize <= 0 {
		c.BufferSize = d.BufferSize
	}
	if c.MaxRetryAttempts <= 0 {
		c.MaxRetryAttempts = d.MaxRetryAttempts
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = d.RetryBaseDelay
	}
	if c.CheckpointBytes <= 0 {
		c.CheckpointBytes = d.CheckpointBytes
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = d.MaxConcurrent
	}
	if c.DependencyTimeout <= 0 {
		c.DependencyTimeout = d.DependencyTimeout
	}
	if c.ProgressLogInterval <= 0 {
		c.ProgressLogInterval = d.ProgressLogInterval
	}
	return c
}
