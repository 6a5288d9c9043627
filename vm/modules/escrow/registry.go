package escrow

import (
	"errors"
	"fmt"

	"github.com/tolelom/tolescrow/core"
)

// ErrInvariant is returned by Registry.Put for a record whose fields
// contradict each other. It signals a bug in the caller, never bad input.
var ErrInvariant = errors.New("escrow: purchase record invariant violated")

// Registry is the escrow view over ledger state: the live record of each
// purchase id plus the archive of finished rounds.
type Registry struct {
	state core.State
}

func NewRegistry(state core.State) *Registry {
	return &Registry{state: state}
}

// Get returns the live record for id, or core.ErrNotFound.
func (r *Registry) Get(id string) (*core.Purchase, error) {
	return r.state.GetPurchase(id)
}

// Item returns the live record for buyer's purchase of itemID.
func (r *Registry) Item(buyer string, itemID uint64) (*core.Purchase, error) {
	id, err := PurchaseID(buyer, itemID)
	if err != nil {
		return nil, err
	}
	return r.Get(id.Hex())
}

// Put validates p and stores it as the live record for p.ID.
func (r *Registry) Put(p *core.Purchase) error {
	if err := Validate(p); err != nil {
		return err
	}
	return r.state.SetPurchase(p)
}

// Archive moves a finished record into the history of its id.
func (r *Registry) Archive(p *core.Purchase) error {
	if !p.Status.Terminal() {
		return fmt.Errorf("%w: archiving %s in status %s", ErrInvariant, p.ID, p.Status)
	}
	return r.state.ArchivePurchase(p)
}

// History returns the archived rounds of id, oldest first.
func (r *Registry) History(id string) ([]*core.Purchase, error) {
	return r.state.PurchaseHistory(id)
}

// Validate checks the shape of a purchase record: the escrowed balance never
// exceeds the price, terminal records hold nothing, and timestamps agree with
// the status.
func Validate(p *core.Purchase) error {
	fail := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s: %s", ErrInvariant, p.ID, fmt.Sprintf(format, args...))
	}
	if p.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvariant)
	}
	if p.Price == 0 {
		return fail("zero price")
	}
	if p.EscrowBalance > p.Price {
		return fail("balance %d exceeds price %d", p.EscrowBalance, p.Price)
	}
	switch p.Status {
	case core.StatusCreated:
		if p.EscrowBalance != 0 || p.DepositedAt != 0 {
			return fail("created record carries a deposit")
		}
	case core.StatusPartiallyDeposited:
		if p.EscrowBalance == 0 || p.EscrowBalance == p.Price {
			return fail("partial record with balance %d of %d", p.EscrowBalance, p.Price)
		}
		if p.DepositedAt == 0 {
			return fail("deposit without timestamp")
		}
	case core.StatusFullyDeposited:
		if p.EscrowBalance != p.Price {
			return fail("fully deposited record with balance %d of %d", p.EscrowBalance, p.Price)
		}
		if p.DepositedAt == 0 {
			return fail("deposit without timestamp")
		}
	case core.StatusCompleted:
		if p.EscrowBalance != 0 || p.CompletedAt == 0 || p.CancelledAt != 0 {
			return fail("inconsistent completed record")
		}
	case core.StatusCancelled:
		if p.EscrowBalance != 0 || p.CancelledAt == 0 || p.CompletedAt != 0 {
			return fail("inconsistent cancelled record")
		}
	default:
		return fail("status %d", p.Status)
	}
	if p.Status.Active() && (p.CompletedAt != 0 || p.CancelledAt != 0) {
		return fail("live record carries a terminal timestamp")
	}
	return nil
}
