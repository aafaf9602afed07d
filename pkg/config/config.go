// Package config holds engine-wide configuration: a thin env-var Config for
// scalar knobs (window size, base AM id, transport-tier thresholds), loaded
// the way the teacher's pkg/config/config.go loads its server Config, plus a
// richer YAML+JSON-Schema algorithm-selection policy document (see policy.go)
// for the plan catalog's explicit-override fallback.
package config

import (
	"os"
	"strconv"
)

// Config holds the scalar engine knobs sourced from the environment.
type Config struct {
	// WindowSize bounds the number of concurrent in-flight collectives per
	// group (spec section 3's slot ring). Must be a power of two <= 256 so
	// coll_id mod WindowSize stays a cheap mask.
	WindowSize int
	// BaseAMID is the first active-message id the engine claims; one id is
	// reserved above it for the bootstrap listener's group-info broadcast.
	BaseAMID uint8
	// MaxShortOne/MaxShortMax bound the short-message transport tier.
	MaxShortOne int
	MaxShortMax int
	// MaxBcopyOne/MaxBcopyMax bound the bcopy transport tier.
	MaxBcopyOne int
	MaxBcopyMax int
	// MaxZcopyOne is the largest single zcopy fragment; larger messages
	// fragment at min(MaxBcopyMax, MaxZcopyOne) bytes per fragment.
	MaxZcopyOne int
	// RegisteredMemoryCap bounds how much memory a single op may register
	// for zcopy at once.
	RegisteredMemoryCap int
	// RecursiveKFactor is the default K for recursive-K plan builders when
	// neither config policy nor the caller overrides it.
	RecursiveKFactor int
	// LogLevel is forwarded to the slog handler the caller constructs.
	LogLevel string
}

// Load reads Config from the environment, falling back to defaults tuned for
// a single-process development loopback transport.
func Load() *Config {
	return &Config{
		WindowSize:          envInt("UCG_WINDOW_SIZE", 16),
		BaseAMID:            uint8(envInt("UCG_BASE_AM_ID", 64)),
		MaxShortOne:         envInt("UCG_MAX_SHORT_ONE", 176),
		MaxShortMax:         envInt("UCG_MAX_SHORT_MAX", 2048),
		MaxBcopyOne:         envInt("UCG_MAX_BCOPY_ONE", 8192),
		MaxBcopyMax:         envInt("UCG_MAX_BCOPY_MAX", 65536),
		MaxZcopyOne:         envInt("UCG_MAX_ZCOPY_ONE", 1<<20),
		RegisteredMemoryCap: envInt("UCG_REG_MEM_CAP", 256<<20),
		RecursiveKFactor:    envInt("UCG_RECURSIVE_K", 2),
		LogLevel:            envString("UCG_LOG_LEVEL", "INFO"),
	}
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
