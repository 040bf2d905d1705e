// Package scheduler assigns queued flight plans to available workers and
// dispatches them.
package scheduler

import "time"

// Config defines the scheduler configuration.
type Config struct {
	// Interval is the polling cadence while work is flowing.
	Interval time.Duration
	// MaxInterval caps the idle backoff.
	MaxInterval time.Duration
	// LockTTL bounds how long a crashed holder can block the tick lock.
	LockTTL time.Duration
	// DispatchTimeout bounds one worker round trip.
	DispatchTimeout time.Duration
	// HolderID identifies this scheduler in the tick lock. Generated when empty.
	HolderID string
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() *Config {
	return &Config{
		Interval:        time.Second,
		MaxInterval:     30 * time.Second,
		LockTTL:         30 * time.Second,
		DispatchTimeout: 5 * time.Minute,
	}
}

func (c *Config) withDefaults() *Config {
	d := DefaultConfig()
	if c == nil {
		return d
	}
	out := *c
	if out.Interval <= 0 {
		out.Interval = d.Interval
	}
	if out.MaxInterval < out.Interval {
		out.MaxInterval = out.Interval
	}
	if out.LockTTL <= 0 {
		out.LockTTL = d.LockTTL
	}
	if out.DispatchTimeout <= 0 {
		out.DispatchTimeout = d.DispatchTimeout
	}
	return &out
}
