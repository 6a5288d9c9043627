package vm

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"

	"github.com/tolelom/tolescrow/core"
	"github.com/tolelom/tolescrow/events"
)

// ErrInvalidTx marks a transaction that cannot be included in a block at all
// (bad signature, nonce or fee). Such a transaction changes no state.
var ErrInvalidTx = errors.New("invalid transaction")

// Executor applies transactions to the state. Calls are serialised: each
// transaction runs as one atomic unit against the shared state.
type Executor struct {
	mu        sync.Mutex
	state     core.State
	emitter   *events.Emitter
	registry  *Registry
	receivers map[string]Receiver
	log       *zap.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithRegistry makes the executor dispatch through r instead of the
// package-level registry that modules self-register into.
func WithRegistry(r *Registry) Option {
	return func(e *Executor) { e.registry = r }
}

// WithLogger sets the executor logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Executor) { e.log = l }
}

// NewExecutor creates an Executor with the given state and event emitter.
// emitter may be nil.
func NewExecutor(state core.State, emitter *events.Emitter, opts ...Option) *Executor {
	e := &Executor{
		state:     state,
		emitter:   emitter,
		registry:  globalRegistry,
		receivers: make(map[string]Receiver),
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetReceiver installs r as the code run when address is credited. A nil r
// removes it.
func (e *Executor) SetReceiver(address string, r Receiver) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if r == nil {
		delete(e.receivers, address)
		return
	}
	e.receivers[address] = r
}

// ExecuteBlock applies all transactions in block sequentially and stores
// their receipts on the block. A transaction whose handler rejects it still
// belongs to the block with a failed receipt; an invalid transaction rejects
// the whole block.
func (e *Executor) ExecuteBlock(block *core.Block) error {
	receipts := make([]*core.Receipt, 0, len(block.Transactions))
	for _, tx := range block.Transactions {
		r, err := e.ExecuteTx(block, tx)
		if err != nil {
			return fmt.Errorf("tx %s failed: %w", tx.ID, err)
		}
		receipts = append(receipts, r)
	}
	block.Receipts = receipts
	return nil
}

// ExecuteTx verifies and executes a single transaction. The returned error is
// non-nil only for invalid transactions, which leave state untouched. A
// handler rejection yields a failed receipt: fee and nonce are consumed but
// every other effect of the handler is rolled back.
func (e *Executor) ExecuteTx(block *core.Block, tx *core.Transaction) (*core.Receipt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := tx.Verify(); err != nil {
		return nil, fmt.Errorf("%w: signature: %v", ErrInvalidTx, err)
	}

	snapID, err := e.state.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	if err := e.chargeTx(tx); err != nil {
		if revertErr := e.state.RevertToSnapshot(snapID); revertErr != nil {
			return nil, fmt.Errorf("revert snapshot after charge failure: %w (revert: %v)", err, revertErr)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidTx, err)
	}

	ctx := NewContext(e.state, block, tx, e.receivers)
	cp, err := ctx.Checkpoint()
	if err != nil {
		return nil, err
	}

	receipt := &core.Receipt{TxID: tx.ID, BlockHeight: block.Header.Height, Status: core.ReceiptOK}
	if herr := e.registry.Execute(tx.Type, ctx, tx.Payload); herr != nil {
		if revertErr := ctx.Revert(cp); revertErr != nil {
			return nil, fmt.Errorf("revert after handler failure: %w (handler: %v)", revertErr, herr)
		}
		receipt.Status = core.ReceiptFailed
		receipt.Error = herr.Error()
		e.log.Debug("tx rejected",
			zap.String("tx_id", tx.ID),
			zap.String("type", string(tx.Type)),
			zap.Error(herr))
		e.emit(events.Event{
			Type:        events.EventTxFailed,
			TxID:        tx.ID,
			BlockHeight: block.Header.Height,
			Data:        map[string]any{"type": string(tx.Type), "from": tx.From, "error": herr.Error()},
		})
		return receipt, nil
	}

	for _, ev := range ctx.Events() {
		e.emit(ev)
	}
	e.emit(events.Event{
		Type:        events.EventTxExecuted,
		TxID:        tx.ID,
		BlockHeight: block.Header.Height,
		Data:        map[string]any{"type": string(tx.Type), "from": tx.From},
	})
	return receipt, nil
}

// chargeTx deducts the fee and increments the nonce.
func (e *Executor) chargeTx(tx *core.Transaction) error {
	acc, err := e.state.GetAccount(tx.From)
	if err != nil {
		return fmt.Errorf("get account: %w", err)
	}
	if acc.Nonce != tx.Nonce {
		return fmt.Errorf("invalid nonce: expected %d got %d", acc.Nonce, tx.Nonce)
	}
	if acc.Balance < tx.Fee {
		return fmt.Errorf("insufficient balance for fee: have %d need %d", acc.Balance, tx.Fee)
	}
	if acc.Nonce == math.MaxUint64 {
		return fmt.Errorf("nonce overflow for account %s", tx.From)
	}
	acc.Balance -= tx.Fee
	acc.Nonce++
	return e.state.SetAccount(acc)
}

func (e *Executor) emit(ev events.Event) {
	if e.emitter != nil {
		e.emitter.Emit(ev)
	}
}
