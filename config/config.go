// Package config provides centralized configuration for the DECAF index
// engine.
//
// All configuration values are loaded from environment variables with
// sensible defaults. Load() builds a fresh Config from the environment
// and the defaults alone; it does not merge into a Config the caller
// has already filled in. An explicit value is applied by setting the
// field on the Config that Load returns.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"

	"github.com/nlpnorth/decaf/models"
)

// LiteralLevel selects the granularity at which ingestion emits Literals.
type LiteralLevel string

const (
	// LiteralLevelCharacter emits one Literal per character.
	LiteralLevelCharacter LiteralLevel = "character"
	// LiteralLevelToken emits one Literal per surface token.
	LiteralLevelToken LiteralLevel = "token"
)

// Config holds every option the core exposes.
//
// Index-root configuration
// ========================
//
// DataPath is the directory holding shard-<n>.decaf files.
// Environment: DECAF_DATA_PATH
// Default: "./var/decaf"
//
// Ingestion configuration
// =======================
//
// LiteralLevel: granularity of Literals ("character" or "token").
// Environment: DECAF_LITERAL_LEVEL
// Default: "character"
//
// ForceAlignment: reconstruct exact inter-token spacing from a sentence's
// "text" metadata instead of inserting a single space after every token.
// Environment: DECAF_FORCE_ALIGNMENT
// Default: false
//
// SentenceTerminator: optional Literal appended after every sentence
// (e.g. "\n"). Empty string means no terminator Literal is appended.
// Environment: DECAF_SENTENCE_TERMINATOR
// Default: "" (none)
//
// BatchSize: approximate number of sentences per ingestion batch. A batch
// never crosses a document boundary.
// Environment: DECAF_BATCH_SIZE
// Default: 1000
//
// ShardSize: approximate number of sentences per shard.
// Environment: DECAF_SHARD_SIZE
// Default: 100000
//
// CommitSteps: if > 0, force a backup commit to the active shard every
// CommitSteps sentences, independent of batch/shard boundaries.
// Environment: DECAF_COMMIT_STEPS
// Default: 0 (disabled)
//
// Threads: size of the ingestion parser worker pool.
// Environment: DECAF_THREADS
// Default: 0, meaning runtime.NumCPU()
type Config struct {
	DataPath string

	LiteralLevel       LiteralLevel
	ForceAlignment     bool
	SentenceTerminator string
	BatchSize          int
	ShardSize          int
	CommitSteps        int
	Threads            int
}

// Load builds a Config from environment variables, falling back to
// documented defaults for anything unset.
func Load() *Config {
	return &Config{
		DataPath: getEnv("DECAF_DATA_PATH", "./var/decaf"),

		LiteralLevel:       LiteralLevel(getEnv("DECAF_LITERAL_LEVEL", string(LiteralLevelCharacter))),
		ForceAlignment:     getEnvBool("DECAF_FORCE_ALIGNMENT", false),
		SentenceTerminator: getEnv("DECAF_SENTENCE_TERMINATOR", ""),
		BatchSize:          getEnvInt("DECAF_BATCH_SIZE", 1000),
		ShardSize:          getEnvInt("DECAF_SHARD_SIZE", 100000),
		CommitSteps:        getEnvInt("DECAF_COMMIT_STEPS", 0),
		Threads:            getEnvInt("DECAF_THREADS", 0),
	}
}

// Validate checks that the configuration is internally consistent,
// returning a *models.Error with Kind Configuration on the first problem
// found.
func (c *Config) Validate() error {
	switch c.LiteralLevel {
	case LiteralLevelCharacter, LiteralLevelToken:
	default:
		return models.NewError(models.Configuration, "config.Validate",
			fmt.Errorf("unknown literal_level %q (want %q or %q)", c.LiteralLevel, LiteralLevelCharacter, LiteralLevelToken))
	}
	if c.BatchSize <= 0 {
		return models.NewError(models.Configuration, "config.Validate", fmt.Errorf("batch_size must be positive, got %d", c.BatchSize))
	}
	if c.ShardSize <= 0 {
		return models.NewError(models.Configuration, "config.Validate", fmt.Errorf("shard_size must be positive, got %d", c.ShardSize))
	}
	return nil
}

// ShardPath returns the on-disk path of shard N within the index
// directory.
func (c *Config) ShardPath(n int) string {
	return fmt.Sprintf("%s/shard-%d.decaf", c.DataPath, n)
}

// ResolvedThreads returns Threads, resolving the documented "0 means
// runtime.NumCPU()" default for callers (ingest.Batcher.RunAuto)
// that need an actual worker-pool size rather than the raw
// may-be-zero config value.
func (c *Config) ResolvedThreads() int {
	if c.Threads <= 0 {
		return runtime.NumCPU()
	}
	return c.Threads
}

// getEnv retrieves a string environment variable with a default fallback.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable with a default
// fallback; an unparseable value falls back to defaultValue rather than
// erroring, consistent with the rest of the load path (Validate is the
// single place invalid configuration is rejected).
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable with a default
// fallback. "true" and "1" are true; anything else (including unset) is
// the default.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}
