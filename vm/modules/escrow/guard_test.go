package escrow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/tolescrow/core"
	"github.com/tolelom/tolescrow/internal/testutil"
	"github.com/tolelom/tolescrow/vm"
)

func TestGuardIsTransactionWide(t *testing.T) {
	state := testutil.NewStateDB()
	ctx := vm.NewContext(state, testutil.BlockAt(1, genesisTime), &core.Transaction{From: "aa"}, nil)
	g := NewGuard(ModuleName)

	release, err := g.Enter(ctx)
	require.NoError(t, err)
	assert.True(t, g.Held(ctx))

	_, err = g.Enter(ctx)
	assert.ErrorIs(t, err, ErrReentrant)

	release()
	assert.False(t, g.Held(ctx))
	release, err = g.Enter(ctx)
	require.NoError(t, err)
	release()

	var none *Guard
	release, err = none.Enter(ctx)
	require.NoError(t, err)
	release()
}

// reenterOnce installs a hook on the buyer that calls Cancel again the first
// time the vault pays it, and records the nested call's result.
func reenterOnce(h *harness) *error {
	var nested error
	fired := false
	h.exec.SetReceiver(h.buyer.PubKey(), vm.ReceiverFunc(func(ctx *vm.Context, from string, amount uint64) error {
		if from != h.machine.Vault() || fired {
			return nil
		}
		fired = true
		nested = h.machine.Cancel(ctx, itemID)
		return nil
	}))
	return &nested
}

// fundVault opens and fully funds an unrelated purchase so the vault holds
// more than the attacked agreement.
func fundVault(t *testing.T, h *harness, amount uint64) {
	other := testutil.NewWallet(t, h.state, amount)
	requireOK(t, h.send(other, core.TxEscrowCreate, CreateParams{
		Buyer:   other.PubKey(),
		Seller:  h.seller.PubKey(),
		Arbiter: h.arbiter.PubKey(),
		ItemID:  itemID,
		Price:   amount,
	}))
	requireOK(t, h.send(other, core.TxEscrowDeposit, core.EscrowDepositPayload{ItemID: itemID, Amount: amount}))
}

func setupReentry(t *testing.T, m Machine) (*harness, *error) {
	h := newHarness(t, m)
	fundVault(t, h, 2_000)
	requireOK(t, h.create(h.buyer, h.params()))
	requireOK(t, h.deposit(h.buyer, price))
	h.advance(DefaultCancelDelay)
	return h, reenterOnce(h)
}

func TestOrderingAloneStopsReentry(t *testing.T) {
	h, nested := setupReentry(t, New(Config{DisableGuard: true}))
	before := h.balance(h.buyer)

	requireOK(t, h.cancel(h.buyer))
	assert.ErrorIs(t, *nested, ErrWrongState)
	assert.Equal(t, before+price, h.balance(h.buyer))
	assert.Equal(t, uint64(2_000), h.vault())
}

func TestGuardAloneStopsReentry(t *testing.T) {
	h, nested := setupReentry(t, &Compromised{Engine: New(Config{})})
	before := h.balance(h.buyer)

	requireOK(t, h.cancel(h.buyer))
	assert.ErrorIs(t, *nested, ErrReentrant)
	assert.Equal(t, before+price, h.balance(h.buyer))
	assert.Equal(t, uint64(2_000), h.vault())
	assert.Equal(t, core.StatusCancelled, h.purchase().Status)
}

func TestWithoutEitherDefenseRefundIsPaidTwice(t *testing.T) {
	h, nested := setupReentry(t, NewCompromised(Config{}))
	before := h.balance(h.buyer)

	requireOK(t, h.cancel(h.buyer))
	assert.NoError(t, *nested)
	assert.Equal(t, before+2*price, h.balance(h.buyer))
	assert.Equal(t, uint64(2_000-price), h.vault())
}

func TestCompromisedCompleteOrdering(t *testing.T) {
	h := newHarness(t, NewCompromised(Config{}))
	requireOK(t, h.create(h.buyer, h.params()))
	requireOK(t, h.deposit(h.buyer, price))
	requireOK(t, h.complete(h.arbiter))
	assert.Equal(t, uint64(price), h.balance(h.seller))
	assert.Equal(t, core.StatusCompleted, h.purchase().Status)
}

func TestNestedFailureRollsBackOuterCall(t *testing.T) {
	h := newHarness(t, New(Config{}))
	requireOK(t, h.create(h.buyer, h.params()))
	requireOK(t, h.deposit(h.buyer, price))
	h.advance(DefaultCancelDelay)

	h.exec.SetReceiver(h.buyer.PubKey(), vm.ReceiverFunc(func(ctx *vm.Context, from string, amount uint64) error {
		return h.machine.Cancel(ctx, itemID)
	}))
	before := h.balance(h.buyer)
	r := h.cancel(h.buyer)
	requireRejected(t, r, ErrReentrant)

	p := h.purchase()
	assert.Equal(t, core.StatusFullyDeposited, p.Status)
	assert.Equal(t, uint64(price), p.EscrowBalance)
	assert.Equal(t, uint64(price), h.vault())
	assert.Equal(t, before, h.balance(h.buyer))

	h.exec.SetReceiver(h.buyer.PubKey(), nil)
	h.advance(time.Second)
	requireOK(t, h.cancel(h.buyer))
}
