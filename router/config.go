// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package router

import (
	"strconv"
	"time"
)

// Class tells whether an operation reads or writes.
type Class int

const (
	// Read operations may be served by replicas.
	Read Class = iota
	// Write operations always go to the primary.
	Write
)

// String implements fmt.Stringer.
func (class Class) String() string {
	switch class {
	case Read:
		return "read"
	case Write:
		return "write"
	default:
		return "class(" + strconv.Itoa(int(class)) + ")"
	}
}

// ParseClass parses "read" or "write".
func ParseClass(s string) (Class, error) {
	switch s {
	case "read", "r":
		return Read, nil
	case "write", "w":
		return Write, nil
	}
	return 0, Error.New("unknown operation class %q", s)
}

// Policy selects a replica among the usable ones.
type Policy string

const (
	// RoundRobin rotates through the usable replicas of a shard.
	RoundRobin Policy = "round-robin"
	// Ordered always picks the first usable replica in configuration order.
	Ordered Policy = "ordered"
)

// Config configures the router.
type Config struct {
	Policy Policy      `help:"replica selection policy: round-robin or ordered" default:"round-robin"`
	Retry  RetryConfig `mapstructure:"retry"`
}

// RetryConfig configures retries of transient failures.
type RetryConfig struct {
	MaxAttempts int           `help:"maximum attempts per operation" default:"3"`
	Backoff     time.Duration `help:"delay before the first retry, doubled on every following one" default:"50ms"`
	MaxBackoff  time.Duration `help:"upper bound of the retry delay" default:"1s"`
}

func (config Config) normalize() (Config, error) {
	switch config.Policy {
	case "":
		config.Policy = RoundRobin
	case RoundRobin, Ordered:
	default:
		return config, Error.New("unknown policy %q", config.Policy)
	}
	if config.Retry.MaxAttempts <= 0 {
		config.Retry.MaxAttempts = 1
	}
	if config.Retry.Backoff < 0 {
		config.Retry.Backoff = 0
	}
	if config.Retry.MaxBackoff < config.Retry.Backoff {
		config.Retry.MaxBackoff = config.Retry.Backoff
	}
	return config, nil
}
