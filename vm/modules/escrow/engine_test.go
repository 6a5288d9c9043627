package escrow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/tolescrow/core"
	"github.com/tolelom/tolescrow/events"
	"github.com/tolelom/tolescrow/internal/testutil"
	"github.com/tolelom/tolescrow/storage"
	"github.com/tolelom/tolescrow/vm"
	"github.com/tolelom/tolescrow/wallet"
)

const (
	itemID = 7
	price  = 1_000
)

var genesisTime = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).UnixNano()

type harness struct {
	t       *testing.T
	state   *storage.StateDB
	exec    *vm.Executor
	machine Machine
	emitted []events.Event
	height  int64
	now     int64

	buyer, seller, arbiter *wallet.Wallet
}

func newHarness(t *testing.T, m Machine) *harness {
	t.Helper()
	state := testutil.NewStateDB()
	reg := vm.NewRegistry()
	Register(reg, m)

	h := &harness{t: t, state: state, machine: m, now: genesisTime}
	em := events.NewEmitter(nil)
	em.SubscribeAll(func(ev events.Event) { h.emitted = append(h.emitted, ev) })
	h.exec = vm.NewExecutor(state, em, vm.WithRegistry(reg))

	h.buyer = testutil.NewWallet(t, state, 10_000)
	h.seller = testutil.NewWallet(t, state, 0)
	h.arbiter = testutil.NewWallet(t, state, 100)
	return h
}

func (h *harness) advance(d time.Duration) { h.now += int64(d) }

func (h *harness) send(w *wallet.Wallet, typ core.TxType, payload any) *core.Receipt {
	h.t.Helper()
	nonce := testutil.Nonce(h.t, h.state, w.PubKey())
	tx, err := w.NewTx(testutil.ChainID, typ, nonce, 0, payload)
	require.NoError(h.t, err)
	h.height++
	receipt, err := h.exec.ExecuteTx(testutil.BlockAt(h.height, h.now), tx)
	require.NoError(h.t, err)
	return receipt
}

func (h *harness) create(by *wallet.Wallet, p CreateParams) *core.Receipt {
	return h.send(by, core.TxEscrowCreate, p)
}

func (h *harness) params() CreateParams {
	return CreateParams{
		Buyer:   h.buyer.PubKey(),
		Seller:  h.seller.PubKey(),
		Arbiter: h.arbiter.PubKey(),
		ItemID:  itemID,
		Price:   price,
	}
}

func (h *harness) deposit(by *wallet.Wallet, amount uint64) *core.Receipt {
	return h.send(by, core.TxEscrowDeposit, core.EscrowDepositPayload{ItemID: itemID, Amount: amount})
}

func (h *harness) complete(by *wallet.Wallet) *core.Receipt {
	return h.send(by, core.TxEscrowComplete, core.EscrowCompletePayload{Buyer: h.buyer.PubKey(), ItemID: itemID})
}

func (h *harness) cancel(by *wallet.Wallet) *core.Receipt {
	return h.send(by, core.TxEscrowCancel, core.EscrowCancelPayload{ItemID: itemID})
}

func (h *harness) purchase() *core.Purchase {
	h.t.Helper()
	p, err := LookupItem(h.state, h.buyer.PubKey(), itemID)
	require.NoError(h.t, err)
	return p
}

func (h *harness) balance(w *wallet.Wallet) uint64 {
	return testutil.Balance(h.t, h.state, w.PubKey())
}

func (h *harness) vault() uint64 {
	return testutil.Balance(h.t, h.state, h.machine.Vault())
}

func requireOK(t *testing.T, r *core.Receipt) {
	t.Helper()
	require.Equal(t, core.ReceiptOK, r.Status, r.Error)
}

func requireRejected(t *testing.T, r *core.Receipt, want *Error) {
	t.Helper()
	require.Equal(t, core.ReceiptFailed, r.Status)
	require.Equal(t, want.Msg, r.Error)
}

func TestCreateByBuyerOrArbiter(t *testing.T) {
	h := newHarness(t, New(Config{}))
	requireOK(t, h.create(h.buyer, h.params()))

	p := h.purchase()
	assert.Equal(t, core.StatusCreated, p.Status)
	assert.Zero(t, p.EscrowBalance)
	assert.Equal(t, h.now, p.CreatedAt)
	assert.Equal(t, h.seller.PubKey(), p.Seller)
	assert.Equal(t, h.arbiter.PubKey(), p.Arbiter)

	other := h.params()
	other.ItemID = itemID + 1
	requireOK(t, h.create(h.arbiter, other))
}

func TestCreateRejections(t *testing.T) {
	h := newHarness(t, New(Config{}))

	requireRejected(t, h.create(h.seller, h.params()), ErrCreateUnauthorized)

	zero := h.params()
	zero.Price = 0
	requireRejected(t, h.create(h.buyer, zero), ErrZeroPrice)

	bad := h.params()
	bad.Seller = "not-hex"
	requireRejected(t, h.create(h.buyer, bad), ErrInvalidParty)

	requireOK(t, h.create(h.buyer, h.params()))
	requireRejected(t, h.create(h.arbiter, h.params()), ErrItemInEscrow)
}

func TestCreateCanonicalisesParties(t *testing.T) {
	h := newHarness(t, New(Config{}))
	p := h.params()
	p.Seller = "0x" + p.Seller
	requireOK(t, h.create(h.buyer, p))
	assert.Equal(t, h.seller.PubKey(), h.purchase().Seller)
}

func TestDepositAccumulates(t *testing.T) {
	h := newHarness(t, New(Config{}))
	requireOK(t, h.create(h.buyer, h.params()))

	requireOK(t, h.deposit(h.buyer, 400))
	p := h.purchase()
	assert.Equal(t, core.StatusPartiallyDeposited, p.Status)
	assert.Equal(t, uint64(400), p.EscrowBalance)
	assert.Equal(t, h.now, p.DepositedAt)
	assert.Equal(t, uint64(400), h.vault())

	h.advance(time.Hour)
	requireOK(t, h.deposit(h.buyer, 600))
	p = h.purchase()
	assert.Equal(t, core.StatusFullyDeposited, p.Status)
	assert.Equal(t, uint64(price), p.EscrowBalance)
	assert.Equal(t, h.now, p.DepositedAt, "every deposit restarts the time-lock")
	assert.Equal(t, uint64(price), h.vault())
	assert.Equal(t, uint64(10_000-price), h.balance(h.buyer))
}

func TestDepositRejections(t *testing.T) {
	h := newHarness(t, New(Config{}))
	requireRejected(t, h.deposit(h.buyer, 10), ErrOnlyBuyerDeposit)

	requireOK(t, h.create(h.buyer, h.params()))
	requireRejected(t, h.deposit(h.arbiter, 10), ErrOnlyBuyerDeposit)
	requireRejected(t, h.deposit(h.buyer, 0), ErrZeroDeposit)
	requireRejected(t, h.deposit(h.buyer, price+1), ErrDepositExceedsPrice)

	requireOK(t, h.deposit(h.buyer, 900))
	requireRejected(t, h.deposit(h.buyer, 101), ErrDepositExceedsPrice)
	requireOK(t, h.deposit(h.buyer, 100))
	requireRejected(t, h.deposit(h.buyer, 1), ErrWrongState)
}

func TestDepositWithoutFundsLeavesRecord(t *testing.T) {
	h := newHarness(t, New(Config{}))
	p := h.params()
	p.Price = 50_000
	requireOK(t, h.create(h.buyer, p))

	nonce := testutil.Nonce(t, h.state, h.buyer.PubKey())
	r := h.deposit(h.buyer, 20_000)
	require.Equal(t, core.ReceiptFailed, r.Status)
	assert.Contains(t, r.Error, vm.ErrInsufficientBalance.Error())

	got := h.purchase()
	assert.Equal(t, core.StatusCreated, got.Status)
	assert.Zero(t, got.EscrowBalance)
	assert.Zero(t, h.vault())
	assert.Equal(t, nonce+1, testutil.Nonce(t, h.state, h.buyer.PubKey()), "failed tx still consumes its nonce")
}

func TestCompletePaysSeller(t *testing.T) {
	h := newHarness(t, New(Config{}))
	requireOK(t, h.create(h.buyer, h.params()))
	requireOK(t, h.deposit(h.buyer, 500))

	requireRejected(t, h.complete(h.arbiter), ErrWrongState)
	requireOK(t, h.deposit(h.buyer, 500))
	requireRejected(t, h.complete(h.buyer), ErrOnlyArbiter)
	requireRejected(t, h.complete(h.seller), ErrOnlyArbiter)

	requireOK(t, h.complete(h.arbiter))
	p := h.purchase()
	assert.Equal(t, core.StatusCompleted, p.Status)
	assert.Zero(t, p.EscrowBalance)
	assert.Equal(t, h.now, p.CompletedAt)
	assert.Equal(t, uint64(price), h.balance(h.seller))
	assert.Zero(t, h.vault())

	requireRejected(t, h.complete(h.arbiter), ErrWrongState)
	requireRejected(t, h.cancel(h.buyer), ErrWrongState)
	requireRejected(t, h.deposit(h.buyer, 1), ErrWrongState)
}

func TestCompleteUnknownPurchase(t *testing.T) {
	h := newHarness(t, New(Config{}))
	requireRejected(t, h.complete(h.arbiter), ErrOnlyArbiter)
}

func TestCancelTimeLock(t *testing.T) {
	h := newHarness(t, New(Config{}))
	requireOK(t, h.create(h.buyer, h.params()))
	requireOK(t, h.deposit(h.buyer, 300))

	h.advance(DefaultCancelDelay - time.Nanosecond)
	requireRejected(t, h.cancel(h.buyer), ErrTimeLocked)
	requireRejected(t, h.cancel(h.arbiter), ErrOnlyBuyerCancel)

	h.advance(time.Nanosecond)
	before := h.balance(h.buyer)
	requireOK(t, h.cancel(h.buyer))

	p := h.purchase()
	assert.Equal(t, core.StatusCancelled, p.Status)
	assert.Zero(t, p.EscrowBalance)
	assert.Equal(t, h.now, p.CancelledAt)
	assert.Equal(t, before+300, h.balance(h.buyer))
	assert.Zero(t, h.vault())

	requireRejected(t, h.cancel(h.buyer), ErrWrongState)
}

func TestCancelConfiguredDelay(t *testing.T) {
	h := newHarness(t, New(Config{CancelDelay: time.Minute}))
	requireOK(t, h.create(h.buyer, h.params()))
	requireOK(t, h.deposit(h.buyer, 300))

	h.advance(30 * time.Second)
	requireRejected(t, h.cancel(h.buyer), ErrTimeLocked)
	h.advance(30 * time.Second)
	requireOK(t, h.cancel(h.buyer))
}

func TestCancelBeforeDepositIsImmediate(t *testing.T) {
	h := newHarness(t, New(Config{}))
	requireOK(t, h.create(h.buyer, h.params()))
	requireOK(t, h.cancel(h.buyer))
	assert.Equal(t, core.StatusCancelled, h.purchase().Status)
}

func TestRecreateAfterTerminalArchivesRound(t *testing.T) {
	h := newHarness(t, New(Config{}))
	requireOK(t, h.create(h.buyer, h.params()))
	requireOK(t, h.cancel(h.buyer))
	first := h.purchase()

	h.advance(time.Second)
	requireOK(t, h.create(h.buyer, h.params()))
	p := h.purchase()
	assert.Equal(t, core.StatusCreated, p.Status)
	assert.Equal(t, uint64(1), p.Round)
	assert.Equal(t, h.now, p.CreatedAt)
	assert.Zero(t, p.CancelledAt)

	hist, err := History(h.state, p.ID)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, first, hist[0])
}

func TestEventsFollowTransitions(t *testing.T) {
	h := newHarness(t, New(Config{}))
	requireOK(t, h.create(h.buyer, h.params()))
	requireOK(t, h.deposit(h.buyer, 400))
	requireRejected(t, h.deposit(h.buyer, 0), ErrZeroDeposit)
	requireOK(t, h.deposit(h.buyer, 600))
	requireOK(t, h.complete(h.arbiter))

	var escrowEvents []events.Event
	for _, ev := range h.emitted {
		switch ev.Type {
		case events.EventEscrowNew, events.EventEscrowDeposit, events.EventEscrowComplete, events.EventEscrowCancel:
			escrowEvents = append(escrowEvents, ev)
		}
	}
	require.Len(t, escrowEvents, 4)
	assert.Equal(t, events.EventEscrowNew, escrowEvents[0].Type)
	assert.Equal(t, DepositPartial, escrowEvents[1].Data["kind"])
	assert.Equal(t, uint64(400), escrowEvents[1].Data["amount"])
	assert.Equal(t, DepositComplete, escrowEvents[2].Data["kind"])
	assert.Equal(t, events.EventEscrowComplete, escrowEvents[3].Type)
	assert.Equal(t, uint64(price), escrowEvents[3].Data["amount"])
	assert.Equal(t, h.purchase().ID, escrowEvents[3].Data["purchase_id"])
}

func TestLookupByID(t *testing.T) {
	h := newHarness(t, New(Config{}))
	requireOK(t, h.create(h.buyer, h.params()))

	id, err := PurchaseID(h.buyer.PubKey(), itemID)
	require.NoError(t, err)
	p, err := Lookup(h.state, id.Hex())
	require.NoError(t, err)
	assert.Equal(t, id.Hex(), p.ID)

	_, err = Lookup(h.state, "0x1234")
	assert.ErrorIs(t, err, ErrInvalidPurchaseID)

	missing, err := PurchaseID(h.seller.PubKey(), itemID)
	require.NoError(t, err)
	_, err = Lookup(h.state, missing.Hex())
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestKindOf(t *testing.T) {
	kind, ok := KindOf(ErrReentrant)
	require.True(t, ok)
	assert.Equal(t, KindReentrancy, kind)

	kind, ok = KindOf(ErrOnlyArbiter)
	require.True(t, ok)
	assert.Equal(t, KindAuthorization, kind)

	_, ok = KindOf(core.ErrNotFound)
	assert.False(t, ok)
}
