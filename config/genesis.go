package config

import (
	"fmt"
	"sort"

	"github.com/tolelom/tolescrow/core"
	"github.com/tolelom/tolescrow/crypto"
)

// GenesisHash is the previous hash of block #0.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// CreateGenesisBlock credits the alloc accounts, commits state and returns the
// signed block #0. TxRoot carries the chain id hash so nodes on different
// chains never share a genesis.
func CreateGenesisBlock(cfg *Config, state core.State, proposerPriv crypto.PrivateKey, timestamp int64) (*core.Block, error) {
	addrs := make([]string, 0, len(cfg.Genesis.Alloc))
	for addr := range cfg.Genesis.Alloc {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	for _, addr := range addrs {
		canonical, err := crypto.CanonicalIdentity(addr)
		if err != nil {
			return nil, fmt.Errorf("genesis alloc %q: %w", addr, err)
		}
		acc := &core.Account{Address: canonical, Balance: cfg.Genesis.Alloc[addr]}
		if err := state.SetAccount(acc); err != nil {
			return nil, err
		}
	}

	stateRoot := state.ComputeRoot()
	if err := state.Commit(); err != nil {
		return nil, err
	}

	block := core.NewBlockAt(0, GenesisHash, proposerPriv.Public().Hex(), nil, timestamp)
	block.Header.StateRoot = stateRoot
	block.Header.TxRoot = crypto.Hash([]byte(cfg.Genesis.ChainID))
	block.Sign(proposerPriv)
	return block, nil
}
