// Package indexer maintains secondary indexes fed by chain events so clients
// can list purchases by party and fetch receipts without scanning state.
package indexer

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/tolelom/tolescrow/core"
	"github.com/tolelom/tolescrow/events"
	"github.com/tolelom/tolescrow/storage"
)

const (
	prefixPartyPurchases = "idx:party:purchase:"
	prefixReceipt        = "idx:receipt:"
)

// Indexer subscribes to chain events and updates secondary lookup tables.
// Index keys live outside the state prefixes and do not affect the state root.
type Indexer struct {
	db  storage.DB
	log *zap.Logger
}

// New creates an Indexer backed by db and subscribes it to emitter.
func New(db storage.DB, emitter *events.Emitter, log *zap.Logger) *Indexer {
	if log == nil {
		log = zap.NewNop()
	}
	idx := &Indexer{db: db, log: log.Named("indexer")}
	emitter.Subscribe(events.EventEscrowNew, idx.onEscrowNew)
	emitter.Subscribe(events.EventTxExecuted, idx.onTxExecuted)
	emitter.Subscribe(events.EventTxFailed, idx.onTxFailed)
	return idx
}

// PurchasesByParty returns the ids of every purchase in which party is the
// buyer, seller or arbiter, in first-seen order.
func (idx *Indexer) PurchasesByParty(party string) ([]string, error) {
	return idx.getList(prefixPartyPurchases + party)
}

// Receipt returns the receipt of a committed transaction.
func (idx *Indexer) Receipt(txID string) (*core.Receipt, error) {
	data, err := idx.db.Get([]byte(prefixReceipt + txID))
	if err != nil {
		return nil, err
	}
	var r core.Receipt
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("indexer unmarshal receipt: %w", err)
	}
	return &r, nil
}

// ---- event handlers ----

func (idx *Indexer) onEscrowNew(ev events.Event) {
	id, _ := ev.Data["purchase_id"].(string)
	if id == "" {
		return
	}
	for _, field := range []string{"buyer", "seller", "arbiter"} {
		party, _ := ev.Data[field].(string)
		if party == "" {
			continue
		}
		if err := idx.addToList(prefixPartyPurchases+party, id); err != nil {
			idx.log.Error("index purchase", zap.String("purchase_id", id), zap.Error(err))
		}
	}
}

func (idx *Indexer) onTxExecuted(ev events.Event) {
	idx.putReceipt(&core.Receipt{TxID: ev.TxID, BlockHeight: ev.BlockHeight, Status: core.ReceiptOK})
}

func (idx *Indexer) onTxFailed(ev events.Event) {
	msg, _ := ev.Data["error"].(string)
	idx.putReceipt(&core.Receipt{TxID: ev.TxID, BlockHeight: ev.BlockHeight, Status: core.ReceiptFailed, Error: msg})
}

func (idx *Indexer) putReceipt(r *core.Receipt) {
	if r.TxID == "" {
		return
	}
	data, err := json.Marshal(r)
	if err == nil {
		err = idx.db.Set([]byte(prefixReceipt+r.TxID), data)
	}
	if err != nil {
		idx.log.Error("index receipt", zap.String("tx_id", r.TxID), zap.Error(err))
	}
}

// ---- list helpers ----

func (idx *Indexer) getList(key string) ([]string, error) {
	data, err := idx.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, nil // empty list
		}
		return nil, err
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("indexer unmarshal: %w", err)
	}
	return ids, nil
}

// addToList appends value unless already present; a purchase id recurs when
// an agreement is re-created after finishing.
func (idx *Indexer) addToList(key, value string) error {
	ids, err := idx.getList(key)
	if err != nil {
		return err
	}
	if slices.Contains(ids, value) {
		return nil
	}
	data, err := json.Marshal(append(ids, value))
	if err != nil {
		return err
	}
	return idx.db.Set([]byte(key), data)
}
