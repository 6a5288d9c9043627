package escrow

import (
	"encoding/json"
	"fmt"

	"github.com/tolelom/tolescrow/core"
	"github.com/tolelom/tolescrow/vm"
)

func init() {
	Register(vm.Default(), New(Config{}))
}

// Register installs the escrow transaction handlers for m into r.
func Register(r *vm.Registry, m Machine) {
	r.Register(core.TxEscrowCreate, func(ctx *vm.Context, payload json.RawMessage) error {
		var p core.EscrowCreatePayload
		if err := decode(payload, &p); err != nil {
			return err
		}
		return m.Create(ctx, p)
	})
	r.Register(core.TxEscrowDeposit, func(ctx *vm.Context, payload json.RawMessage) error {
		var p core.EscrowDepositPayload
		if err := decode(payload, &p); err != nil {
			return err
		}
		return m.Deposit(ctx, p.ItemID, p.Amount)
	})
	r.Register(core.TxEscrowComplete, func(ctx *vm.Context, payload json.RawMessage) error {
		var p core.EscrowCompletePayload
		if err := decode(payload, &p); err != nil {
			return err
		}
		return m.Complete(ctx, p.Buyer, p.ItemID)
	})
	r.Register(core.TxEscrowCancel, func(ctx *vm.Context, payload json.RawMessage) error {
		var p core.EscrowCancelPayload
		if err := decode(payload, &p); err != nil {
			return err
		}
		return m.Cancel(ctx, p.ItemID)
	})
}

func decode(payload json.RawMessage, v any) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("decode escrow payload: %w", err)
	}
	return nil
}
