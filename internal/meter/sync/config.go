package sync

import "time"

// Config controls the billing sync worker loop.
type Config struct {
	Enabled    bool
	Interval   time.Duration
	BatchSize  int
	RunTimeout time.Duration
	LockKey    string
	LockTTL    time.Duration
}

func DefaultConfig() Config {
	return Config{
		Enabled:    true,
		Interval:   5 * time.Minute,
		BatchSize:  500,
		RunTimeout: 2 * time.Minute,
		LockKey:    "meterd:sync:lock",
		LockTTL:    4 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = defaults.Interval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = defaults.RunTimeout
	}
	if c.LockKey == "" {
		c.LockKey = defaults.LockKey
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	return c
}
