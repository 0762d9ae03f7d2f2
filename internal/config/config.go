// Package config loads and clamps the fanout core's tunables (spec §6).
// It follows the teacher corpus's SetDefaults convention (see the
// retrieved teleport FanoutV2Config.SetDefaults pattern): a plain struct
// with a method that fills in zero/invalid fields, loaded from the
// environment by a small os.Getenv-based reader rather than a flags/viper
// stack, since this core has no CLI surface of its own (see DESIGN.md).
package config

import (
	"math"
	"os"
	"strconv"
	"time"
)

// Config holds every tunable named in spec §6, with its documented default.
type Config struct {
	// EstuaryTTLSeconds is the TTL applied on subscribe/touch.
	EstuaryTTLSeconds int64
	// FanoutQueueThreshold is the subscriber-count threshold above which
	// publish prefers the queued dispatch path.
	FanoutQueueThreshold int
	// FanoutQueueBatchSize is the max estuary ids per queue message.
	FanoutQueueBatchSize int
	// FanoutBatchSize is the inline dispatch parallelism chunk size.
	FanoutBatchSize int
	// FanoutRPCTimeout is the per-call deadline for fanout writes.
	FanoutRPCTimeout time.Duration
	// CircuitBreakerFailureThreshold is the consecutive-failure trigger.
	CircuitBreakerFailureThreshold int
	// CircuitBreakerRecovery is the open->half-open delay.
	CircuitBreakerRecovery time.Duration
}

// Defaults, per spec §6's table.
const (
	DefaultEstuaryTTLSeconds              = 86_400
	DefaultFanoutQueueThreshold           = 200
	DefaultFanoutQueueBatchSize           = 50
	DefaultFanoutBatchSize                = 50
	DefaultFanoutRPCTimeoutMS             = 10_000
	DefaultCircuitBreakerFailureThreshold = 5
	DefaultCircuitBreakerRecoveryMS       = 60_000
)

// SetDefaults fills in any field that is zero, negative, or otherwise
// invalid with the compiled-in default. Call this once after populating a
// Config by hand or via FromEnv.
func (c *Config) SetDefaults() {
	c.EstuaryTTLSeconds = clampInt64(c.EstuaryTTLSeconds, DefaultEstuaryTTLSeconds)
	c.FanoutQueueThreshold = clampInt(c.FanoutQueueThreshold, DefaultFanoutQueueThreshold)
	c.FanoutQueueBatchSize = clampInt(c.FanoutQueueBatchSize, DefaultFanoutQueueBatchSize)
	c.FanoutBatchSize = clampInt(c.FanoutBatchSize, DefaultFanoutBatchSize)
	if c.FanoutRPCTimeout <= 0 {
		c.FanoutRPCTimeout = DefaultFanoutRPCTimeoutMS * time.Millisecond
	}
	c.CircuitBreakerFailureThreshold = clampInt(c.CircuitBreakerFailureThreshold, DefaultCircuitBreakerFailureThreshold)
	if c.CircuitBreakerRecovery <= 0 {
		c.CircuitBreakerRecovery = DefaultCircuitBreakerRecoveryMS * time.Millisecond
	}
}

func clampInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func clampInt64(v int64, def int64) int64 {
	if v <= 0 {
		return def
	}
	return v
}

// Default returns a Config populated entirely with documented defaults.
func Default() Config {
	var c Config
	c.SetDefaults()
	return c
}

// FromEnv loads overrides from the environment, falling back to defaults
// for anything absent, non-numeric, non-finite, or <= 0 (spec §6).
// Recognized variables: ESTUARY_TTL_SECONDS, FANOUT_QUEUE_THRESHOLD,
// FANOUT_QUEUE_BATCH_SIZE, FANOUT_BATCH_SIZE, FANOUT_RPC_TIMEOUT_MS,
// CIRCUIT_BREAKER_FAILURE_THRESHOLD, CIRCUIT_BREAKER_RECOVERY_MS.
func FromEnv() Config {
	var c = Config{
		EstuaryTTLSeconds:              envInt64("ESTUARY_TTL_SECONDS"),
		FanoutQueueThreshold:           envInt("FANOUT_QUEUE_THRESHOLD"),
		FanoutQueueBatchSize:           envInt("FANOUT_QUEUE_BATCH_SIZE"),
		FanoutBatchSize:                envInt("FANOUT_BATCH_SIZE"),
		FanoutRPCTimeout:               envMillis("FANOUT_RPC_TIMEOUT_MS"),
		CircuitBreakerFailureThreshold: envInt("CIRCUIT_BREAKER_FAILURE_THRESHOLD"),
		CircuitBreakerRecovery:         envMillis("CIRCUIT_BREAKER_RECOVERY_MS"),
	}
	c.SetDefaults()
	return c
}

func envInt64(name string) int64 {
	var v, ok = os.LookupEnv(name)
	if !ok {
		return 0
	}
	var f, err = strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return int64(f)
}

func envInt(name string) int {
	return int(envInt64(name))
}

func envMillis(name string) time.Duration {
	var n = envInt64(name)
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Millisecond
}
