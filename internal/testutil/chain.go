package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tolelom/tolescrow/core"
	"github.com/tolelom/tolescrow/wallet"
)

// ChainID is the chain id used by test transactions.
const ChainID = "tolescrow-test"

// Fund credits amount to address directly in state.
func Fund(t testing.TB, state core.State, address string, amount uint64) {
	t.Helper()
	acc, err := state.GetAccount(address)
	require.NoError(t, err)
	acc.Balance += amount
	require.NoError(t, state.SetAccount(acc))
}

// Balance returns the native balance of address.
func Balance(t testing.TB, state core.State, address string) uint64 {
	t.Helper()
	acc, err := state.GetAccount(address)
	require.NoError(t, err)
	return acc.Balance
}

// Nonce returns the next nonce of address.
func Nonce(t testing.TB, state core.State, address string) uint64 {
	t.Helper()
	acc, err := state.GetAccount(address)
	require.NoError(t, err)
	return acc.Nonce
}

// NewWallet generates a wallet and funds it in state.
func NewWallet(t testing.TB, state core.State, amount uint64) *wallet.Wallet {
	t.Helper()
	w, err := wallet.Generate()
	require.NoError(t, err)
	if amount > 0 {
		Fund(t, state, w.PubKey(), amount)
	}
	return w
}

// BlockAt returns an unsigned block at height with timestamp ts, for feeding
// transactions straight into an executor.
func BlockAt(height int64, ts int64) *core.Block {
	return &core.Block{Header: core.BlockHeader{Height: height, Timestamp: ts}}
}
