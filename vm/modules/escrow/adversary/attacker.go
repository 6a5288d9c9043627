// Package adversary provides an account with malicious receive code that
// tries to drain an escrow vault by re-entering Cancel from inside its own
// refund.
package adversary

import (
	"go.uber.org/zap"

	"github.com/tolelom/tolescrow/core"
	"github.com/tolelom/tolescrow/vm"
	"github.com/tolelom/tolescrow/vm/modules/escrow"
	"github.com/tolelom/tolescrow/wallet"
)

// Target is the escrow entry point the attacker calls back into.
type Target interface {
	Cancel(ctx *vm.Context, itemID uint64) error
}

// Config describes an attacker.
type Config struct {
	Wallet *wallet.Wallet
	Target Target
	// Vault is the account the escrow pays refunds from.
	Vault string
	// ItemID is the purchase the attacker opens and cancels.
	ItemID uint64
	// Deposit is the amount the attacker pays in. A re-entry is attempted
	// only while the vault holds at least this much.
	Deposit uint64
	// Propagate returns a refused re-entry to the escrow instead of
	// swallowing it, which aborts the attacker's whole transaction.
	Propagate bool
	Logger    *zap.Logger
}

// Attacker is a vm.Receiver. Install it on its own address with
// Executor.SetReceiver.
type Attacker struct {
	cfg Config
	log *zap.Logger

	reentries int
	blocked   []error
	received  uint64
}

var _ vm.Receiver = (*Attacker)(nil)

func New(cfg Config) *Attacker {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Attacker{cfg: cfg, log: log.Named("attacker")}
}

// Address is the attacker's account, which is also the buyer identity of its
// purchase.
func (a *Attacker) Address() string { return a.cfg.Wallet.PubKey() }

// Receive runs whenever the attacker is credited. On a payment from the vault
// it cancels the same purchase again while the vault still has funds.
func (a *Attacker) Receive(ctx *vm.Context, from string, amount uint64) error {
	if from != a.cfg.Vault {
		return nil
	}
	a.received += amount

	vault, err := ctx.State.GetAccount(a.cfg.Vault)
	if err != nil {
		return err
	}
	if a.cfg.Deposit == 0 || vault.Balance < a.cfg.Deposit {
		return nil
	}

	a.reentries++
	a.log.Debug("re-entering cancel",
		zap.Int("depth", ctx.Depth),
		zap.Uint64("vault_balance", vault.Balance))
	if err := a.cfg.Target.Cancel(ctx, a.cfg.ItemID); err != nil {
		a.blocked = append(a.blocked, err)
		if a.cfg.Propagate {
			return err
		}
	}
	return nil
}

// Reentries is how many nested Cancel calls were attempted.
func (a *Attacker) Reentries() int { return a.reentries }

// Blocked returns the errors that refused nested calls.
func (a *Attacker) Blocked() []error {
	out := make([]error, len(a.blocked))
	copy(out, a.blocked)
	return out
}

// Received is the total credited from the vault, including credits later
// rolled back by a failing transaction.
func (a *Attacker) Received() uint64 { return a.received }

// Reset clears the counters between runs.
func (a *Attacker) Reset() {
	a.reentries = 0
	a.blocked = nil
	a.received = 0
}

// OpenTx creates the attacker's purchase with itself as buyer.
func (a *Attacker) OpenTx(chainID, seller, arbiter string, price, nonce, fee uint64) (*core.Transaction, error) {
	return a.cfg.Wallet.CreateEscrow(chainID, escrow.CreateParams{
		Buyer:   a.Address(),
		Seller:  seller,
		Arbiter: arbiter,
		ItemID:  a.cfg.ItemID,
		Price:   price,
	}, nonce, fee)
}

// DepositTx pays the configured deposit into the purchase.
func (a *Attacker) DepositTx(chainID string, nonce, fee uint64) (*core.Transaction, error) {
	return a.cfg.Wallet.Deposit(chainID, a.cfg.ItemID, a.cfg.Deposit, nonce, fee)
}

// CancelTx starts the attack.
func (a *Attacker) CancelTx(chainID string, nonce, fee uint64) (*core.Transaction, error) {
	return a.cfg.Wallet.Cancel(chainID, a.cfg.ItemID, nonce, fee)
}
