package core

// Account holds a participant's native balance and replay-protection nonce.
// Address is the hex-encoded ed25519 public key, or a module address.
type Account struct {
	Address string `json:"address"`
	Balance uint64 `json:"balance"`
	Nonce   uint64 `json:"nonce"`
}

// PurchaseStatus is the escrow lifecycle state of a Purchase. The numeric
// values are part of the wire format and must not be reordered.
type PurchaseStatus uint8

const (
	StatusNone PurchaseStatus = iota
	StatusCreated
	StatusPartiallyDeposited
	StatusFullyDeposited
	StatusCompleted
	StatusCancelled
)

var statusNames = [...]string{
	StatusNone:               "none",
	StatusCreated:            "created",
	StatusPartiallyDeposited: "partially_deposited",
	StatusFullyDeposited:     "fully_deposited",
	StatusCompleted:          "completed",
	StatusCancelled:          "cancelled",
}

func (s PurchaseStatus) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "unknown"
}

// Terminal reports whether no further transition can leave s.
func (s PurchaseStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Active reports whether s is a live, non-terminal escrow state.
func (s PurchaseStatus) Active() bool {
	return s == StatusCreated || s == StatusPartiallyDeposited || s == StatusFullyDeposited
}

// Purchase is one escrow agreement between a buyer, seller and arbiter for
// one catalog item. Timestamps are block timestamps in unix nanoseconds, 0
// when unset.
type Purchase struct {
	ID            string         `json:"id"` // 0x-prefixed keccak256 hex
	Buyer         string         `json:"buyer"`
	Seller        string         `json:"seller"`
	Arbiter       string         `json:"arbiter"`
	ItemID        uint64         `json:"item_id"`
	Price         uint64         `json:"price"`
	Status        PurchaseStatus `json:"status"`
	EscrowBalance uint64         `json:"escrow_balance"`
	CreatedAt     int64          `json:"created_at"`
	DepositedAt   int64          `json:"deposited_at"`
	CompletedAt   int64          `json:"completed_at"`
	CancelledAt   int64          `json:"cancelled_at"`
	Round         uint64         `json:"round"` // 0 for the first agreement on this id
}

// Receipt records the outcome of one executed transaction. Error carries the
// rejection message verbatim when Status is ReceiptFailed.
type Receipt struct {
	TxID        string `json:"tx_id"`
	BlockHeight int64  `json:"block_height"`
	Status      string `json:"status"`
	Error       string `json:"error,omitempty"`
}

const (
	ReceiptOK     = "ok"
	ReceiptFailed = "failed"
)

// State is the full ledger state interface. Implementations must be
// snapshot-able so the executor can roll back failed transactions.
type State interface {
	// Accounts
	GetAccount(address string) (*Account, error)
	SetAccount(account *Account) error

	// Purchases. GetPurchase returns ErrNotFound for an unknown id.
	GetPurchase(id string) (*Purchase, error)
	SetPurchase(p *Purchase) error
	// ArchivePurchase stores a terminal round under its (id, round) key.
	ArchivePurchase(p *Purchase) error
	// PurchaseHistory returns the archived rounds of id, oldest first.
	PurchaseHistory(id string) ([]*Purchase, error)

	// Snapshot / rollback / commit
	Snapshot() (int, error)
	RevertToSnapshot(id int) error
	// ComputeRoot returns the deterministic state root from the current write
	// buffer without flushing. Call this before signing a block.
	ComputeRoot() string
	// Commit flushes the write buffer to the underlying DB and clears it.
	// Always call ComputeRoot() first to obtain the root for the block header.
	Commit() error
}
