// Package config loads and validates node configuration from TOML.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/tolelom/tolescrow/crypto"
	"github.com/tolelom/tolescrow/internal/logging"
)

// GenesisConfig describes the chain's initial state.
type GenesisConfig struct {
	ChainID string            `toml:"chain_id"`
	Alloc   map[string]uint64 `toml:"alloc"` // pubkey hex → initial balance
}

// EscrowConfig tunes the escrow module.
type EscrowConfig struct {
	// CancelDelay is a Go duration string, e.g. "24h".
	CancelDelay string `toml:"cancel_delay"`
}

// Config holds all node configuration.
type Config struct {
	NodeID        string   `toml:"node_id"`
	DataDir       string   `toml:"data_dir"`
	RPCAddr       string   `toml:"rpc_addr"`
	RPCAuthToken  string   `toml:"rpc_auth_token"` // empty disables bearer auth
	RPCRateLimit  float64  `toml:"rpc_rate_limit"` // requests per second per client; 0 disables
	BlockInterval string   `toml:"block_interval"`
	MaxBlockTxs   int      `toml:"max_block_txs"`
	MempoolSize   int      `toml:"mempool_size"`
	Validators    []string `toml:"validators"` // authorised proposer pubkey hexes

	Log     logging.Config `toml:"log"`
	Escrow  EscrowConfig   `toml:"escrow"`
	Genesis GenesisConfig  `toml:"genesis"`

	blockInterval time.Duration
	cancelDelay   time.Duration
}

// DefaultConfig returns a single-node development configuration.
func DefaultConfig() *Config {
	return &Config{
		NodeID:        "node0",
		DataDir:       "./data",
		RPCAddr:       "127.0.0.1:8545",
		RPCRateLimit:  50,
		BlockInterval: "2s",
		MaxBlockTxs:   500,
		MempoolSize:   10_000,
		Log:           logging.DefaultConfig(),
		Escrow:        EscrowConfig{CancelDelay: "24h"},
		Genesis: GenesisConfig{
			ChainID: "tolescrow-dev",
			Alloc:   map[string]uint64{},
		},
		blockInterval: 2 * time.Second,
		cancelDelay:   24 * time.Hour,
	}
}

// Load reads a TOML config file from path on top of the defaults and
// validates the result. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("%s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the config to path as TOML.
func Save(cfg *Config, path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Validate checks every field and caches the parsed durations.
func (c *Config) Validate() error {
	var errs []error
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is required"))
	}
	if c.RPCAddr == "" {
		errs = append(errs, errors.New("rpc_addr is required"))
	}
	if c.RPCRateLimit < 0 {
		errs = append(errs, errors.New("rpc_rate_limit must not be negative"))
	}
	if c.MaxBlockTxs <= 0 {
		errs = append(errs, errors.New("max_block_txs must be positive"))
	}
	if c.MempoolSize < 0 {
		errs = append(errs, errors.New("mempool_size must not be negative"))
	}
	if d, err := time.ParseDuration(c.BlockInterval); err != nil || d <= 0 {
		errs = append(errs, fmt.Errorf("block_interval %q must be a positive duration", c.BlockInterval))
	} else {
		c.blockInterval = d
	}
	if d, err := time.ParseDuration(c.Escrow.CancelDelay); err != nil || d <= 0 {
		errs = append(errs, fmt.Errorf("escrow.cancel_delay %q must be a positive duration", c.Escrow.CancelDelay))
	} else {
		c.cancelDelay = d
	}
	for _, v := range c.Validators {
		if _, err := crypto.PubKeyFromHex(v); err != nil {
			errs = append(errs, fmt.Errorf("validator %q: %w", v, err))
		}
	}
	if c.Genesis.ChainID == "" {
		errs = append(errs, errors.New("genesis.chain_id is required"))
	}
	for addr := range c.Genesis.Alloc {
		if _, err := crypto.IdentityBytes(addr); err != nil {
			errs = append(errs, fmt.Errorf("genesis.alloc %q: %w", addr, err))
		}
	}
	if err := c.Log.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// BlockIntervalDuration returns the parsed block_interval.
func (c *Config) BlockIntervalDuration() time.Duration { return c.blockInterval }

// CancelDelay returns the parsed escrow.cancel_delay.
func (c *Config) CancelDelay() time.Duration { return c.cancelDelay }
