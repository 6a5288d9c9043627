// Package economy implements native token transfers between accounts.
package economy

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tolelom/tolescrow/core"
	"github.com/tolelom/tolescrow/events"
	"github.com/tolelom/tolescrow/vm"
)

func init() {
	Register(vm.Default())
}

// Register installs the transfer handler into r.
func Register(r *vm.Registry) {
	r.Register(core.TxTransfer, handleTransfer)
}

func handleTransfer(ctx *vm.Context, payload json.RawMessage) error {
	var p core.TransferPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode transfer payload: %w", err)
	}
	if p.Amount == 0 {
		return errors.New("transfer amount must be > 0")
	}
	if p.To == "" {
		return errors.New("transfer to address required")
	}
	if p.To == ctx.Caller {
		return errors.New("cannot transfer to self")
	}

	if err := ctx.Transfer(ctx.Caller, p.To, p.Amount); err != nil {
		return err
	}

	ctx.Emit(events.EventTokenTransfer, map[string]any{
		"from":   ctx.Caller,
		"to":     p.To,
		"amount": p.Amount,
	})
	return nil
}
