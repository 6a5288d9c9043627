package escrow

import (
	"github.com/tolelom/tolescrow/core"
	"github.com/tolelom/tolescrow/vm"
)

// Compromised is an escrow engine whose Complete and Cancel pay out before
// finalising the record and take no reentrancy lock. A receive hook on the
// payee can call Cancel again while the record still shows the funds, and
// each nested call pays out once more. It exists to demonstrate the drain
// that Engine prevents and must never be registered on a live node.
type Compromised struct {
	*Engine
}

var _ Machine = (*Compromised)(nil)

func NewCompromised(cfg Config) *Compromised {
	cfg.DisableGuard = true
	return &Compromised{Engine: New(cfg)}
}

func (c *Compromised) Complete(ctx *vm.Context, buyer string, itemID uint64) error {
	return c.run(ctx, opComplete, func(reg *Registry) error {
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
		if err := ctx.Transfer(c.vault, p.Seller, amount); err != nil {
			return err
		}

		p.EscrowBalance = 0
		p.Status = core.StatusCompleted
		p.CompletedAt = ctx.Now()
		if err := reg.Put(p); err != nil {
			return err
		}
		emitCompleted(ctx, p, amount)
		return nil
	})
}

func (c *Compromised) Cancel(ctx *vm.Context, itemID uint64) error {
	return c.run(ctx, opCancel, func(reg *Registry) error {
		p, err := c.checkCancel(ctx, reg, itemID)
		if err != nil {
			return err
		}

		amount := p.EscrowBalance
		if err := ctx.Transfer(c.vault, p.Buyer, amount); err != nil {
			return err
		}

		p.EscrowBalance = 0
		p.Status = core.StatusCancelled
		p.CancelledAt = ctx.Now()
		if err := reg.Put(p); err != nil {
			return err
		}
		emitCancelled(ctx, p, amount)
		return nil
	})
}
