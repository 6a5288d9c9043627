// Package events is the in-process notification bus: state transitions are
// published here after their transaction commits, and indexers, metrics and
// external observers subscribe.
package events

import (
	"sync"

	"go.uber.org/zap"
)

// EventType labels what happened.
type EventType string

const (
	EventBlockCommit    EventType = "block_commit"
	EventTxExecuted     EventType = "tx_executed"
	EventTxFailed       EventType = "tx_failed"
	EventTokenTransfer  EventType = "token_transfer"
	EventEscrowNew      EventType = "escrow_new"
	EventEscrowDeposit  EventType = "escrow_deposit"
	EventEscrowComplete EventType = "escrow_complete"
	EventEscrowCancel   EventType = "escrow_cancel"
)

// Event carries a typed payload emitted after a state change.
type Event struct {
	Type        EventType      `json:"type"`
	TxID        string         `json:"tx_id"`
	BlockHeight int64          `json:"block_height"`
	Data        map[string]any `json:"data"`
}

// Handler is a callback invoked for matching events.
type Handler func(Event)

// Emitter is a simple pub/sub broker. Subscribe before Emit.
type Emitter struct {
	log *zap.Logger

	mu       sync.RWMutex
	handlers map[EventType][]Handler
	all      []Handler
}

// NewEmitter creates an Emitter with no subscribers. A nil logger is
// replaced by a no-op logger.
func NewEmitter(log *zap.Logger) *Emitter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Emitter{log: log, handlers: make(map[EventType][]Handler)}
}

// Subscribe registers h to be called whenever typ is emitted.
func (e *Emitter) Subscribe(typ EventType, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[typ] = append(e.handlers[typ], h)
}

// SubscribeAll registers h for every event type.
func (e *Emitter) SubscribeAll(h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.all = append(e.all, h)
}

// Emit delivers ev to all subscribers for ev.Type synchronously.
// Each handler is guarded by panic recovery so a misbehaving subscriber
// cannot crash the node or halt block production.
func (e *Emitter) Emit(ev Event) {
	e.mu.RLock()
	handlers := make([]Handler, 0, len(e.handlers[ev.Type])+len(e.all))
	handlers = append(handlers, e.handlers[ev.Type]...)
	handlers = append(handlers, e.all...)
	e.mu.RUnlock()
	for _, h := range handlers {
		e.deliver(h, ev)
	}
}

func (e *Emitter) deliver(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("event handler panicked",
				zap.String("type", string(ev.Type)),
				zap.String("tx_id", ev.TxID),
				zap.Any("panic", r))
		}
	}()
	h(ev)
}
