package escrow

import (
	"errors"

	"github.com/tolelom/tolescrow/core"
	"github.com/tolelom/tolescrow/crypto"
)

// authorizeCreate canonicalises the parties of p and admits the prospective
// buyer or arbiter.
func authorizeCreate(caller string, p CreateParams) (CreateParams, error) {
	for _, party := range []*string{&p.Buyer, &p.Seller, &p.Arbiter} {
		id, err := crypto.CanonicalIdentity(*party)
		if err != nil {
			return p, ErrInvalidParty
		}
		*party = id
	}
	if caller != p.Buyer && caller != p.Arbiter {
		return p, ErrCreateUnauthorized
	}
	return p, nil
}

// loadAs fetches buyer's purchase of itemID. A missing record is reported as
// denied: nobody holds a role on an agreement that does not exist.
func loadAs(reg *Registry, buyer string, itemID uint64, denied error) (*core.Purchase, error) {
	p, err := reg.Item(buyer, itemID)
	switch {
	case err == nil:
		return p, nil
	case errors.Is(err, core.ErrNotFound), errors.Is(err, ErrInvalidParty):
		return nil, denied
	default:
		return nil, err
	}
}

func requireBuyer(p *core.Purchase, caller string, denied error) error {
	if p.Buyer != caller {
		return denied
	}
	return nil
}

func requireArbiter(p *core.Purchase, caller string) error {
	if p.Arbiter != caller {
		return ErrOnlyArbiter
	}
	return nil
}
