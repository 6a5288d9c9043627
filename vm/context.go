package vm

import (
	"errors"
	"fmt"
	"math"

	"github.com/tolelom/tolescrow/core"
	"github.com/tolelom/tolescrow/events"
)

// MaxCallDepth bounds how deeply receive hooks may nest inside one
// transaction.
const MaxCallDepth = 64

var (
	ErrCallDepth           = errors.New("vm: max call depth exceeded")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrBalanceOverflow     = errors.New("balance overflow")
)

// Receiver is code attached to an account. Receive runs synchronously inside
// the Transfer that credited the account, before the code that issued the
// transfer resumes, and may call back into any module with ctx.
type Receiver interface {
	Receive(ctx *Context, from string, amount uint64) error
}

// ReceiverFunc adapts a function to Receiver.
type ReceiverFunc func(ctx *Context, from string, amount uint64) error

func (f ReceiverFunc) Receive(ctx *Context, from string, amount uint64) error {
	return f(ctx, from, amount)
}

// callState is shared by every frame of one transaction.
type callState struct {
	locks     map[string]bool
	events    []events.Event
	receivers map[string]Receiver
}

// Context is passed to every Handler. It is one call frame: the top-level
// frame's Caller is the transaction sender; frames opened by a receive hook
// carry the hook's account as Caller and share locks and buffered events
// with their parent.
type Context struct {
	State  core.State
	Block  *core.Block
	Tx     *core.Transaction
	Caller string
	Depth  int

	call *callState
}

// NewContext builds a top-level frame for tx executing in block. receivers
// may be nil.
func NewContext(state core.State, block *core.Block, tx *core.Transaction, receivers map[string]Receiver) *Context {
	return &Context{
		State:  state,
		Block:  block,
		Tx:     tx,
		Caller: tx.From,
		call: &callState{
			locks:     make(map[string]bool),
			receivers: receivers,
		},
	}
}

// Now is the block timestamp in unix nanoseconds. Every frame of every
// transaction in a block observes the same value.
func (c *Context) Now() int64 {
	return c.Block.Header.Timestamp
}

// Emit buffers an event. Buffered events are published by the executor only
// once the whole transaction has succeeded.
func (c *Context) Emit(typ events.EventType, data map[string]any) {
	c.call.events = append(c.call.events, events.Event{
		Type:        typ,
		TxID:        c.Tx.ID,
		BlockHeight: c.Block.Header.Height,
		Data:        data,
	})
}

// Events returns the events buffered so far.
func (c *Context) Events() []events.Event {
	out := make([]events.Event, len(c.call.events))
	copy(out, c.call.events)
	return out
}

// TryLock takes the named transaction-wide lock. It returns false, without
// blocking, when any frame of the transaction already holds it.
func (c *Context) TryLock(name string) bool {
	if c.call.locks[name] {
		return false
	}
	c.call.locks[name] = true
	return true
}

// Unlock releases a lock taken by TryLock.
func (c *Context) Unlock(name string) {
	delete(c.call.locks, name)
}

// Locked reports whether name is currently held.
func (c *Context) Locked(name string) bool {
	return c.call.locks[name]
}

// Checkpoint marks the state and event buffer so a failing call can be
// undone without discarding the rest of the transaction.
type Checkpoint struct {
	snapshot int
	events   int
}

// Checkpoint snapshots state and remembers the event buffer length.
func (c *Context) Checkpoint() (Checkpoint, error) {
	id, err := c.State.Snapshot()
	if err != nil {
		return Checkpoint{}, fmt.Errorf("snapshot: %w", err)
	}
	return Checkpoint{snapshot: id, events: len(c.call.events)}, nil
}

// Revert rolls state and buffered events back to cp.
func (c *Context) Revert(cp Checkpoint) error {
	if err := c.State.RevertToSnapshot(cp.snapshot); err != nil {
		return fmt.Errorf("revert snapshot %d: %w", cp.snapshot, err)
	}
	if cp.events < len(c.call.events) {
		c.call.events = c.call.events[:cp.events]
	}
	return nil
}

// Transfer moves amount of native balance from one account to another and
// then runs the recipient's Receiver, if any. An error from the receiver is
// returned unchanged; the caller decides how much to roll back.
func (c *Context) Transfer(from, to string, amount uint64) error {
	if amount == 0 {
		return nil
	}
	src, err := c.State.GetAccount(from)
	if err != nil {
		return fmt.Errorf("load %s: %w", from, err)
	}
	if src.Balance < amount {
		return fmt.Errorf("%w: %s has %d need %d", ErrInsufficientBalance, from, src.Balance, amount)
	}
	src.Balance -= amount
	if err := c.State.SetAccount(src); err != nil {
		return err
	}

	dst, err := c.State.GetAccount(to)
	if err != nil {
		return fmt.Errorf("load %s: %w", to, err)
	}
	if dst.Balance > math.MaxUint64-amount {
		return fmt.Errorf("%w: crediting %s", ErrBalanceOverflow, to)
	}
	dst.Balance += amount
	if err := c.State.SetAccount(dst); err != nil {
		return err
	}

	r, ok := c.call.receivers[to]
	if !ok || r == nil {
		return nil
	}
	if c.Depth+1 > MaxCallDepth {
		return ErrCallDepth
	}
	return r.Receive(c.frame(to), from, amount)
}

func (c *Context) frame(caller string) *Context {
	return &Context{
		State:  c.State,
		Block:  c.Block,
		Tx:     c.Tx,
		Caller: caller,
		Depth:  c.Depth + 1,
		call:   c.call,
	}
}
