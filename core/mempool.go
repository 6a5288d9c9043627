package core

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	// DefaultMempoolSize bounds the pool when no explicit capacity is given.
	DefaultMempoolSize = 10_000
	maxTxAge           = int64(time.Hour)       // reject txs older than 1 hour
	maxTxFuture        = int64(5 * time.Minute) // reject txs more than 5 min in the future
)

var (
	ErrMempoolFull  = errors.New("mempool full")
	ErrDuplicateTx  = errors.New("tx already in pool")
	ErrTxExpired    = errors.New("transaction expired")
	ErrTxFromFuture = errors.New("transaction timestamp too far in the future")
)

// Mempool is a thread-safe pending-transaction pool for one chain.
type Mempool struct {
	chainID  string
	capacity int
	now      func() int64

	mu  sync.RWMutex
	txs map[string]*Transaction
	ord []string // insertion-ordered IDs for deterministic pending iteration
}

// NewMempool creates an empty mempool accepting only chainID transactions.
// capacity <= 0 selects DefaultMempoolSize.
func NewMempool(chainID string, capacity int) *Mempool {
	if capacity <= 0 {
		capacity = DefaultMempoolSize
	}
	return &Mempool{
		chainID:  chainID,
		capacity: capacity,
		now:      func() int64 { return time.Now().UnixNano() },
		txs:      make(map[string]*Transaction),
	}
}

// Add validates and inserts a transaction. Returns an error if the pool is
// full, the tx is already present, the signature is invalid, the chain ID
// differs, or the timestamp is out of the acceptable window (-1 h / +5 min).
func (m *Mempool) Add(tx *Transaction) error {
	if tx.ChainID != m.chainID {
		return fmt.Errorf("chain ID mismatch: got %q want %q", tx.ChainID, m.chainID)
	}
	if err := tx.Verify(); err != nil {
		return fmt.Errorf("invalid tx signature: %w", err)
	}
	now := m.now()
	if now-tx.Timestamp > maxTxAge {
		return ErrTxExpired
	}
	if tx.Timestamp-now > maxTxFuture {
		return ErrTxFromFuture
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.txs) >= m.capacity {
		return ErrMempoolFull
	}
	if _, exists := m.txs[tx.ID]; exists {
		return ErrDuplicateTx
	}
	m.txs[tx.ID] = tx
	m.ord = append(m.ord, tx.ID)
	return nil
}

// Get returns a transaction by ID.
func (m *Mempool) Get(id string) (*Transaction, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tx, ok := m.txs[id]
	return tx, ok
}

// Pending returns up to n pending transactions in insertion order.
func (m *Mempool) Pending(n int) []*Transaction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*Transaction, 0, min(n, len(m.ord)))
	for _, id := range m.ord {
		if tx, ok := m.txs[id]; ok {
			result = append(result, tx)
			if len(result) >= n {
				break
			}
		}
	}
	return result
}

// Remove deletes transactions by ID (called after block commit).
func (m *Mempool) Remove(ids []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := make(map[string]bool, len(ids))
	for _, id := range ids {
		delete(m.txs, id)
		removed[id] = true
	}
	filtered := m.ord[:0]
	for _, id := range m.ord {
		if !removed[id] {
			filtered = append(filtered, id)
		}
	}
	m.ord = filtered
}

// Size returns the current number of pending transactions.
func (m *Mempool) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.txs)
}
