package escrow

import "errors"

// Kind classifies why an entry point rejected a call.
type Kind string

const (
	KindAuthorization Kind = "authorization"
	KindState         Kind = "state"
	KindAccounting    Kind = "accounting"
	KindReentrancy    Kind = "reentrancy"
	KindInput         Kind = "input"
)

// Error is a named rejection. Msg is surfaced to callers verbatim.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func newError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

var (
	ErrCreateUnauthorized  = newError(KindAuthorization, "only the buyer or arbiter can create escrow")
	ErrOnlyBuyerDeposit    = newError(KindAuthorization, "only the buyer can deposit")
	ErrOnlyBuyerCancel     = newError(KindAuthorization, "only the buyer can cancel")
	ErrOnlyArbiter         = newError(KindAuthorization, "only arbiter can complete the purchase")
	ErrItemInEscrow        = newError(KindState, "item already in escrow")
	ErrWrongState          = newError(KindState, "escrow not in correct state")
	ErrTimeLocked          = newError(KindState, "cancellation not allowed within 24 hours of deposit")
	ErrDepositExceedsPrice = newError(KindAccounting, "deposit exceeds price")
	ErrZeroDeposit         = newError(KindAccounting, "deposit must be greater than zero")
	ErrZeroPrice           = newError(KindAccounting, "price must be greater than zero")
	ErrReentrant           = newError(KindReentrancy, "reentrant call blocked")
	ErrInvalidParty        = newError(KindInput, "invalid party identity")
	ErrInvalidPurchaseID   = newError(KindInput, "invalid purchase id")
)

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
