// Package consensus implements Proof-of-Authority block production.
// Validators propose blocks in round-robin order. Each block is signed by
// the proposer; other nodes verify the signature before accepting the block.
package consensus

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tolelom/tolescrow/config"
	"github.com/tolelom/tolescrow/core"
	"github.com/tolelom/tolescrow/crypto"
	"github.com/tolelom/tolescrow/events"
	"github.com/tolelom/tolescrow/metrics"
	"github.com/tolelom/tolescrow/vm"
)

// ErrNotProposer is returned by ProduceBlock when another validator owns the
// next height.
var ErrNotProposer = errors.New("not the proposer for this round")

// PoA is the Proof-of-Authority consensus engine.
type PoA struct {
	cfg     *config.Config
	bc      *core.Blockchain
	state   core.State
	mempool *core.Mempool
	exec    *vm.Executor
	emitter *events.Emitter
	privKey crypto.PrivateKey
	pubKey  crypto.PublicKey

	log     *zap.Logger
	metrics *metrics.ChainMetrics
	now     func() time.Time
}

// Option configures a PoA engine.
type Option func(*PoA)

func WithLogger(l *zap.Logger) Option { return func(p *PoA) { p.log = l } }

func WithMetrics(m *metrics.ChainMetrics) Option { return func(p *PoA) { p.metrics = m } }

// WithClock replaces the wall clock used to stamp blocks.
func WithClock(now func() time.Time) Option { return func(p *PoA) { p.now = now } }

// New creates a PoA engine for the local validator identified by privKey.
func New(
	cfg *config.Config,
	bc *core.Blockchain,
	state core.State,
	mempool *core.Mempool,
	exec *vm.Executor,
	emitter *events.Emitter,
	privKey crypto.PrivateKey,
	opts ...Option,
) *PoA {
	p := &PoA{
		cfg:     cfg,
		bc:      bc,
		state:   state,
		mempool: mempool,
		exec:    exec,
		emitter: emitter,
		privKey: privKey,
		pubKey:  privKey.Public(),
		log:     zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.Named("consensus")
	return p
}

// IsProposer reports whether this node should propose the next block.
func (p *PoA) IsProposer() bool {
	if len(p.cfg.Validators) == 0 {
		return false
	}
	nextHeight := p.bc.Height() + 1
	idx := int(nextHeight) % len(p.cfg.Validators)
	return p.cfg.Validators[idx] == p.pubKey.Hex()
}

// ProduceBlock executes pending transactions on top of the tip and commits
// the resulting block. Transactions the executor rejects as invalid are
// dropped from the mempool and left out of the block; handler rejections are
// included with a failed receipt.
func (p *PoA) ProduceBlock() (*core.Block, error) {
	if !p.IsProposer() {
		return nil, ErrNotProposer
	}
	tip := p.bc.Tip()
	if tip == nil {
		return nil, errors.New("chain has no genesis block")
	}

	// Block time never runs backwards, so escrow time-locks see a
	// monotonic clock even if the host clock is adjusted.
	ts := p.now().UnixNano()
	if ts < tip.Header.Timestamp {
		ts = tip.Header.Timestamp
	}
	block := core.NewBlockAt(tip.Header.Height+1, tip.Hash, p.pubKey.Hex(), nil, ts)

	snapID, err := p.state.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}

	pending := p.mempool.Pending(p.cfg.MaxBlockTxs)
	processed := make([]string, 0, len(pending))
	for _, tx := range pending {
		processed = append(processed, tx.ID)
		receipt, err := p.exec.ExecuteTx(block, tx)
		if err != nil {
			p.metrics.ObserveTx("invalid")
			p.log.Warn("dropping invalid tx", zap.String("tx_id", tx.ID), zap.Error(err))
			continue
		}
		p.metrics.ObserveTx(receipt.Status)
		block.Transactions = append(block.Transactions, tx)
		block.Receipts = append(block.Receipts, receipt)
	}
	block.Header.TxRoot = core.ComputeTxRoot(block.Transactions)

	// Compute root from the write buffer BEFORE flushing so that if AddBlock
	// fails the state has not yet been persisted and the node stays consistent.
	block.Header.StateRoot = p.state.ComputeRoot()
	block.Sign(p.privKey)

	if err := p.bc.AddBlock(block); err != nil {
		if rerr := p.state.RevertToSnapshot(snapID); rerr != nil {
			p.log.Error("revert after failed add block", zap.Error(rerr))
		}
		return nil, fmt.Errorf("add block: %w", err)
	}

	// Flush state only after the block is safely stored.
	if err := p.state.Commit(); err != nil {
		p.log.Fatal("block stored but state commit failed",
			zap.Int64("height", block.Header.Height), zap.Error(err))
	}
	p.mempool.Remove(processed)
	p.metrics.SetHeight(block.Header.Height)

	p.emitter.Emit(events.Event{
		Type:        events.EventBlockCommit,
		BlockHeight: block.Header.Height,
		Data:        map[string]any{"hash": block.Hash, "txs": len(block.Transactions)},
	})
	p.log.Debug("block committed",
		zap.Int64("height", block.Header.Height),
		zap.Int("txs", len(block.Transactions)),
		zap.Int("dropped", len(processed)-len(block.Transactions)))
	return block, nil
}

// ValidateBlock checks that block was proposed by the expected validator and
// extends the current tip.
func (p *PoA) ValidateBlock(block *core.Block) error {
	if len(p.cfg.Validators) == 0 {
		return errors.New("no validators configured")
	}
	idx := int(block.Header.Height) % len(p.cfg.Validators)
	expected := p.cfg.Validators[idx]
	if block.Header.Proposer != expected {
		return fmt.Errorf("wrong proposer: got %s want %s", block.Header.Proposer, expected)
	}
	if err := block.Verify(); err != nil {
		return fmt.Errorf("block signature invalid: %w", err)
	}

	tip := p.bc.Tip()
	if tip == nil {
		if block.Header.PrevHash != config.GenesisHash {
			return errors.New("first block must reference genesis prev-hash")
		}
		return nil
	}
	if block.Header.PrevHash != tip.Hash {
		return fmt.Errorf("prev_hash mismatch: got %s want %s", block.Header.PrevHash, tip.Hash)
	}
	if block.Header.Height != tip.Header.Height+1 {
		return fmt.Errorf("height mismatch: got %d want %d", block.Header.Height, tip.Header.Height+1)
	}
	if block.Header.Timestamp < tip.Header.Timestamp {
		return fmt.Errorf("timestamp %d precedes tip %d", block.Header.Timestamp, tip.Header.Timestamp)
	}
	return nil
}

// Run starts the block-production loop with the given interval. It blocks
// until done is closed.
func (p *PoA) Run(interval time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if !p.IsProposer() {
				continue
			}
			if _, err := p.ProduceBlock(); err != nil {
				p.log.Error("produce block", zap.Error(err))
			}
		}
	}
}
