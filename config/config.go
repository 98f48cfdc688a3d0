// Package config holds the engine-scoped settings that size the
// storage core: attribute-vector paging, the WAL buffer and
// group-commit window, MVCC garbage-collection thresholds, and merge
// concurrency. Session, network, and query-optimizer sections the
// teacher's own Config carries are out of scope here.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Config is the top-level settings struct, loaded from an explicit JSON
// file path or constructed with DefaultConfig.
type Config struct {
	Storage StorageConfig `json:"storage"`
	WAL     WALConfig     `json:"wal"`
	MVCC    MVCCConfig    `json:"mvcc"`
	Merge   MergeConfig   `json:"merge"`
}

// StorageConfig sizes the attribute-vector and paged-index layout.
type StorageConfig struct {
	PageSize     int `json:"page_size"`
	PageCacheLen int `json:"page_cache_len"`
}

// WALConfig sizes the durability log.
type WALConfig struct {
	BufferSize        int           `json:"buffer_size"`
	GroupCommitWindow time.Duration `json:"group_commit_window"`
	Fsync             bool          `json:"fsync"`
}

// MVCCConfig bounds how much dead version state the engine tolerates
// before a merge is worth triggering.
type MVCCConfig struct {
	GCAgeThreshold time.Duration `json:"gc_age_threshold"`
	MaxActiveTxns  int           `json:"max_active_txns"`
}

// MergeConfig bounds the TableMerger's own parallelism.
type MergeConfig struct {
	Concurrency int `json:"concurrency"`
}

// DefaultConfig returns sane defaults for a single-process deployment.
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			PageSize:     1024,
			PageCacheLen: 64,
		},
		WAL: WALConfig{
			BufferSize:        4 << 20, // 4 MiB
			GroupCommitWindow: 10 * time.Microsecond,
			Fsync:             true,
		},
		MVCC: MVCCConfig{
			GCAgeThreshold: 1 * time.Hour,
			MaxActiveTxns:  10000,
		},
		Merge: MergeConfig{
			Concurrency: 0, // 0 means unbounded (errgroup.Group default)
		},
	}
}

// Load reads and validates config from an explicit JSON file path.
// Unlike the teacher's LoadConfigOrDefault, this never searches
// well-known locations or environment variables: config-file discovery
// is explicitly out of scope (spec.md §1's non-goals extend to this
// module's own config surface).
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Storage.PageSize < 1 {
		return fmt.Errorf("storage.page_size must be positive, got %d", c.Storage.PageSize)
	}
	if c.Storage.PageCacheLen < 1 {
		return fmt.Errorf("storage.page_cache_len must be positive, got %d", c.Storage.PageCacheLen)
	}
	if c.WAL.BufferSize < 1 {
		return fmt.Errorf("wal.buffer_size must be positive, got %d", c.WAL.BufferSize)
	}
	if c.MVCC.MaxActiveTxns < 1 {
		return fmt.Errorf("mvcc.max_active_txns must be positive, got %d", c.MVCC.MaxActiveTxns)
	}
	if c.Merge.Concurrency < 0 {
		return fmt.Errorf("merge.concurrency must not be negative, got %d", c.Merge.Concurrency)
	}
	return nil
}
