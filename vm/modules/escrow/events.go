package escrow

import (
	"github.com/tolelom/tolescrow/core"
	"github.com/tolelom/tolescrow/events"
	"github.com/tolelom/tolescrow/vm"
)

// Deposit kinds carried in escrow_deposit events.
const (
	DepositPartial  = "partial"
	DepositComplete = "complete"
)

func purchaseFields(p *core.Purchase) map[string]any {
	return map[string]any{
		"purchase_id": p.ID,
		"buyer":       p.Buyer,
		"seller":      p.Seller,
		"arbiter":     p.Arbiter,
		"item_id":     p.ItemID,
		"price":       p.Price,
		"round":       p.Round,
	}
}

func emitCreated(ctx *vm.Context, p *core.Purchase) {
	ctx.Emit(events.EventEscrowNew, purchaseFields(p))
}

func emitDeposit(ctx *vm.Context, p *core.Purchase, amount uint64, kind string) {
	data := purchaseFields(p)
	data["amount"] = amount
	data["kind"] = kind
	ctx.Emit(events.EventEscrowDeposit, data)
}

func emitCompleted(ctx *vm.Context, p *core.Purchase, amount uint64) {
	data := purchaseFields(p)
	data["amount"] = amount
	ctx.Emit(events.EventEscrowComplete, data)
}

func emitCancelled(ctx *vm.Context, p *core.Purchase, amount uint64) {
	data := purchaseFields(p)
	data["amount"] = amount
	ctx.Emit(events.EventEscrowCancel, data)
}
