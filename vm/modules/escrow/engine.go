// Package escrow implements the three-party purchase escrow: a buyer pays
// into a vault in one or more deposits, an arbiter releases the funds to the
// seller, and the buyer may reclaim them once the cancellation delay has
// passed since the last deposit.
package escrow

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tolelom/tolescrow/core"
	"github.com/tolelom/tolescrow/crypto"
	"github.com/tolelom/tolescrow/metrics"
	"github.com/tolelom/tolescrow/vm"
)

// ModuleName names the escrow vault and the guard lock.
const ModuleName = "escrow"

// DefaultCancelDelay is how long a buyer must wait after the latest deposit
// before cancelling.
const DefaultCancelDelay = 24 * time.Hour

const (
	opCreate   = "create"
	opDeposit  = "deposit"
	opComplete = "complete"
	opCancel   = "cancel"
)

// CreateParams describes a new agreement.
type CreateParams = core.EscrowCreatePayload

// Machine is the escrow entry-point surface shared by the engine and its
// compromised variant.
type Machine interface {
	Create(ctx *vm.Context, p CreateParams) error
	Deposit(ctx *vm.Context, itemID, amount uint64) error
	Complete(ctx *vm.Context, buyer string, itemID uint64) error
	Cancel(ctx *vm.Context, itemID uint64) error
	Vault() string
}

// Config tunes an Engine. Zero values select the defaults.
type Config struct {
	CancelDelay time.Duration
	// Vault is the account holding escrowed funds.
	Vault string
	// DisableGuard drops the reentrancy lock, leaving ordering as the only
	// protection. Used to test each defense on its own.
	DisableGuard bool
	Logger       *zap.Logger
	Metrics      *metrics.EscrowMetrics
}

// Engine is the escrow state machine.
type Engine struct {
	vault       string
	cancelDelay int64
	guard       *Guard
	log         *zap.Logger
	metrics     *metrics.EscrowMetrics
}

var _ Machine = (*Engine)(nil)

func New(cfg Config) *Engine {
	if cfg.CancelDelay <= 0 {
		cfg.CancelDelay = DefaultCancelDelay
	}
	if cfg.Vault == "" {
		cfg.Vault = VaultAddress()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	e := &Engine{
		vault:       cfg.Vault,
		cancelDelay: int64(cfg.CancelDelay),
		log:         cfg.Logger.Named(ModuleName),
		metrics:     cfg.Metrics,
	}
	if !cfg.DisableGuard {
		e.guard = NewGuard(ModuleName)
	}
	return e
}

// VaultAddress is the default module account that holds escrowed funds.
func VaultAddress() string {
	return crypto.ModuleAddress(ModuleName)
}

func (e *Engine) Vault() string { return e.vault }

// CancelDelay returns the configured time-lock.
func (e *Engine) CancelDelay() time.Duration { return time.Duration(e.cancelDelay) }

// run executes one entry point under the guard and a state checkpoint. Any
// error rolls back registry writes, transfers and buffered events made by fn,
// including those of nested frames it spawned.
func (e *Engine) run(ctx *vm.Context, op string, fn func(reg *Registry) error) error {
	release, err := e.guard.Enter(ctx)
	if err != nil {
		e.observe(ctx, op, err)
		return err
	}
	defer release()

	cp, err := ctx.Checkpoint()
	if err != nil {
		return err
	}
	if err = fn(NewRegistry(ctx.State)); err != nil {
		if rerr := ctx.Revert(cp); rerr != nil {
			return fmt.Errorf("%w (revert: %v)", err, rerr)
		}
	}
	e.observe(ctx, op, err)
	return err
}

func (e *Engine) observe(ctx *vm.Context, op string, err error) {
	if err == nil {
		e.metrics.ObserveTransition(op)
		return
	}
	kind, _ := KindOf(err)
	e.metrics.ObserveRejection(op, string(kind))
	if errors.Is(err, ErrReentrant) {
		e.metrics.ObserveReentryBlocked()
	}
	e.log.Debug("entry point rejected",
		zap.String("op", op),
		zap.String("caller", ctx.Caller),
		zap.Int("depth", ctx.Depth),
		zap.Error(err))
}

// Create opens an agreement for (p.Buyer, p.ItemID). A finished agreement on
// the same id is archived and replaced by a new round.
func (e *Engine) Create(ctx *vm.Context, p CreateParams) error {
	return e.run(ctx, opCreate, func(reg *Registry) error {
		return e.create(ctx, reg, p)
	})
}

func (e *Engine) create(ctx *vm.Context, reg *Registry, p CreateParams) error {
	p, err := authorizeCreate(ctx.Caller, p)
	if err != nil {
		return err
	}
	if p.Price == 0 {
		return ErrZeroPrice
	}
	id, err := PurchaseID(p.Buyer, p.ItemID)
	if err != nil {
		return err
	}

	var round uint64
	prev, err := reg.Get(id.Hex())
	switch {
	case err == nil:
		if !prev.Status.Terminal() {
			return ErrItemInEscrow
		}
		if err := reg.Archive(prev); err != nil {
			return err
		}
		round = prev.Round + 1
	case errors.Is(err, core.ErrNotFound):
	default:
		return err
	}

	purchase := &core.Purchase{
		ID:        id.Hex(),
		Buyer:     p.Buyer,
		Seller:    p.Seller,
		Arbiter:   p.Arbiter,
		ItemID:    p.ItemID,
		Price:     p.Price,
		Status:    core.StatusCreated,
		CreatedAt: ctx.Now(),
		Round:     round,
	}
	if err := reg.Put(purchase); err != nil {
		return err
	}
	emitCreated(ctx, purchase)
	e.log.Info("escrow created",
		zap.String("purchase_id", purchase.ID),
		zap.Uint64("item_id", purchase.ItemID),
		zap.Uint64("price", purchase.Price),
		zap.Uint64("round", round))
	return nil
}

// Deposit moves amount from the caller into the vault against the caller's
// purchase of itemID.
func (e *Engine) Deposit(ctx *vm.Context, itemID, amount uint64) error {
	return e.run(ctx, opDeposit, func(reg *Registry) error {
		return e.deposit(ctx, reg, itemID, amount)
	})
}

func (e *Engine) deposit(ctx *vm.Context, reg *Registry, itemID, amount uint64) error {
	p, err := loadAs(reg, ctx.Caller, itemID, ErrOnlyBuyerDeposit)
	if err != nil {
		return err
	}
	if err := requireBuyer(p, ctx.Caller, ErrOnlyBuyerDeposit); err != nil {
		return err
	}
	if p.Status != core.StatusCreated && p.Status != core.StatusPartiallyDeposited {
		return ErrWrongState
	}
	if amount == 0 {
		return ErrZeroDeposit
	}
	if amount > p.Price-p.EscrowBalance {
		return ErrDepositExceedsPrice
	}

	p.EscrowBalance += amount
	p.DepositedAt = ctx.Now()
	kind := DepositPartial
	p.Status = core.StatusPartiallyDeposited
	if p.EscrowBalance == p.Price {
		kind = DepositComplete
		p.Status = core.StatusFullyDeposited
	}
	if err := reg.Put(p); err != nil {
		return err
	}

	if err := ctx.Transfer(ctx.Caller, e.vault, amount); err != nil {
		return err
	}
	emitDeposit(ctx, p, amount, kind)
	return nil
}

// Complete releases a fully funded purchase to the seller. Only the arbiter
// may call it. The record is finalised before the seller is paid.
func (e *Engine) Complete(ctx *vm.Context, buyer string, itemID uint64) error {
	return e.run(ctx, opComplete, func(reg *Registry) error {
		return e.complete(ctx, reg, buyer, itemID)
	})
}

func (e *Engine) complete(ctx *vm.Context, reg *Registry, buyer string, itemID uint64) error {
	p, err := loadAs(reg, buyer, itemID, ErrOnlyArbiter)
	if err != nil {
		return err
	}
	if err := requireArbiter(p, ctx.Caller); err != nil {
		return err
	}
	if p.Status != core.StatusFullyDeposited {
		return ErrWrongState
	}

	amount := p.EscrowBalance
	p.EscrowBalance = 0
	p.Status = core.StatusCompleted
	p.CompletedAt = ctx.Now()
	if err := reg.Put(p); err != nil {
		return err
	}

	if err := ctx.Transfer(e.vault, p.Seller, amount); err != nil {
		return err
	}
	emitCompleted(ctx, p, amount)
	return nil
}

// Cancel refunds the caller's purchase of itemID. A purchase holding funds
// can only be cancelled once the cancellation delay has elapsed since the
// latest deposit. The record is finalised before the refund is sent.
func (e *Engine) Cancel(ctx *vm.Context, itemID uint64) error {
	return e.run(ctx, opCancel, func(reg *Registry) error {
		return e.cancel(ctx, reg, itemID)
	})
}

func (e *Engine) cancel(ctx *vm.Context, reg *Registry, itemID uint64) error {
	p, err := e.checkCancel(ctx, reg, itemID)
	if err != nil {
		return err
	}

	amount := p.EscrowBalance
	p.EscrowBalance = 0
	p.Status = core.StatusCancelled
	p.CancelledAt = ctx.Now()
	if err := reg.Put(p); err != nil {
		return err
	}

	if err := ctx.Transfer(e.vault, p.Buyer, amount); err != nil {
		return err
	}
	emitCancelled(ctx, p, amount)
	return nil
}

func (e *Engine) checkCancel(ctx *vm.Context, reg *Registry, itemID uint64) (*core.Purchase, error) {
	p, err := loadAs(reg, ctx.Caller, itemID, ErrOnlyBuyerCancel)
	if err != nil {
		return nil, err
	}
	if err := requireBuyer(p, ctx.Caller, ErrOnlyBuyerCancel); err != nil {
		return nil, err
	}
	if !p.Status.Active() {
		return nil, ErrWrongState
	}
	if p.DepositedAt != 0 && ctx.Now()-p.DepositedAt < e.cancelDelay {
		return nil, ErrTimeLocked
	}
	return p, nil
}

// Lookup returns the live record for a purchase id.
func Lookup(state core.State, id string) (*core.Purchase, error) {
	h, err := ParsePurchaseID(id)
	if err != nil {
		return nil, err
	}
	return NewRegistry(state).Get(h.Hex())
}

// LookupItem returns the live record for buyer's purchase of itemID.
func LookupItem(state core.State, buyer string, itemID uint64) (*core.Purchase, error) {
	return NewRegistry(state).Item(buyer, itemID)
}

// History returns the archived rounds of a purchase id, oldest first.
func History(state core.State, id string) ([]*core.Purchase, error) {
	h, err := ParsePurchaseID(id)
	if err != nil {
		return nil, err
	}
	return NewRegistry(state).History(h.Hex())
}
