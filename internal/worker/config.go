// Package worker provides background board refresh for stationboard.
package worker

import (
	"time"
)

// RefreshConfig holds configuration for the board refresh job.
type RefreshConfig struct {
	// Interval between periodic refreshes. Zero disables the periodic loop;
	// refreshes then only run when triggered.
	// Default: 2 minutes
	Interval time.Duration

	// Timeout bounds one refresh of every selected station.
	// Default: 30 seconds
	Timeout time.Duration
}

// DefaultRefreshConfig returns the default refresh configuration.
func DefaultRefreshConfig() RefreshConfig {
	return RefreshConfig{
		Interval: 2 * time.Minute,
		Timeout:  30 * time.Second,
	}
}

func (c RefreshConfig) withDefaults() RefreshConfig {
	if c.Timeout <= 0 {
		c.Timeout = DefaultRefreshConfig().Timeout
	}
	if c.Interval < 0 {
		c.Interval = 0
	}
	return c
}
