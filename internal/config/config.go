// Package config loads and validates the options recognized by the core
// (spec §6's configuration table), following the same JSON-file
// load-or-create-default pattern as the teacher's cmd/auctiond/config.go
// (DefaultConfig / LoadConfig / SaveConfig / Validate).
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/shieldedpool/client/pkg/field"
	"github.com/shieldedpool/client/pkg/poseidon"
)

// Config holds every option the core recognizes.
type Config struct {
	CircuitName    string `json:"circuit_name"`
	CircuitBinaryURL string `json:"circuit_binary_url,omitempty"`
	ProvingKeyURL  string `json:"proving_key_url,omitempty"`
	ConstraintsURL string `json:"constraints_url,omitempty"`

	CacheName string `json:"cache_name"`

	PoolTreeDepth     uint32 `json:"pool_tree_depth"`
	ApprovedTreeDepth uint32 `json:"approved_tree_depth"`
	SMTDepth          uint32 `json:"smt_depth"`

	ZeroLeafHex string `json:"zero_leaf"`

	RetentionWindowLedgers uint64 `json:"retention_window_ledgers,omitempty"`

	LogLevel string `json:"log_level"`
	LogFile  string `json:"log_file,omitempty"`
}

// DefaultConfig mirrors the teacher's DefaultConfig(): conservative values
// safe to run with no external overrides.
func DefaultConfig() *Config {
	return &Config{
		CircuitName:            "privacy-pool-v1",
		CacheName:              "zk-proving-artifacts",
		PoolTreeDepth:          20,
		ApprovedTreeDepth:      20,
		SMTDepth:               20,
		ZeroLeafHex:            "0x", // filled in by ZeroLeaf() from the domain constant
		RetentionWindowLedgers: 0,
		LogLevel:               "info",
	}
}

// Load reads path; if it does not exist, it writes and returns
// DefaultConfig(), exactly the teacher's "create on first run" convention.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()
		if err := Save(cfg, path); err != nil {
			return nil, fmt.Errorf("config: writing default config: %w", err)
		}
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes cfg to path as indented JSON, creating parent directories as
// needed, mirroring the teacher's SaveConfig.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: creating directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshaling: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: writing %s: %w", path, err)
	}
	return nil
}

// Validate checks the positive-value and consistency constraints the
// tree-depth/circuit-depth design note calls out: implementers must refuse
// to start if configured depths are nonsensical (the match against the
// reference circuit's compiled depths is CheckCircuitDepths, called from
// pool.Manager.Initialize and CLI/daemon startup — see DESIGN.md OQ-2).
func (c *Config) Validate() error {
	if c.PoolTreeDepth == 0 || c.PoolTreeDepth > 64 {
		return fmt.Errorf("config: pool_tree_depth out of range: %d", c.PoolTreeDepth)
	}
	if c.ApprovedTreeDepth == 0 || c.ApprovedTreeDepth > 64 {
		return fmt.Errorf("config: approved_tree_depth out of range: %d", c.ApprovedTreeDepth)
	}
	if c.SMTDepth == 0 || c.SMTDepth > 256 {
		return fmt.Errorf("config: smt_depth out of range: %d", c.SMTDepth)
	}
	if c.CacheName == "" {
		return fmt.Errorf("config: cache_name must not be empty")
	}
	return nil
}

// ZeroLeaf resolves the zero_leaf option: an explicit 0x-hex override, or
// the domain constant poseidon.ZeroLeaf() when unset/"0x".
func (c *Config) ZeroLeaf() (field.Element, error) {
	if c.ZeroLeafHex == "" || c.ZeroLeafHex == "0x" {
		return poseidon.ZeroLeaf(), nil
	}
	return field.HexToField(c.ZeroLeafHex)
}

// CheckCircuitDepths refuses to start if the configured tree/SMT depths do
// not match the reference circuit's compile-time constants (spec §9 Open
// Question: depth is configuration-fixed and MUST equal the circuit's
// declared depth — implementers must refuse to start on mismatch, not
// silently truncate or pad).
func (c *Config) CheckCircuitDepths(poolDepth, approvedDepth, smtDepth uint32) error {
	if c.PoolTreeDepth != poolDepth {
		return fmt.Errorf("config: pool_tree_depth %d does not match circuit depth %d", c.PoolTreeDepth, poolDepth)
	}
	if c.ApprovedTreeDepth != approvedDepth {
		return fmt.Errorf("config: approved_tree_depth %d does not match circuit depth %d", c.ApprovedTreeDepth, approvedDepth)
	}
	if c.SMTDepth != smtDepth {
		return fmt.Errorf("config: smt_depth %d does not match circuit depth %d", c.SMTDepth, smtDepth)
	}
	return nil
}
