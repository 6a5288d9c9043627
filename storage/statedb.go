package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/tolelom/tolescrow/core"
	"github.com/tolelom/tolescrow/crypto"
)

// registerPrefix records a state-key prefix into statePrefixes so that
// ComputeRoot() always covers it.  All prefix constants must be declared
// via this function; manually editing statePrefixes is not required.
func registerPrefix(p string) string {
	statePrefixes = append(statePrefixes, p)
	return p
}

// statePrefixes is populated automatically by registerPrefix() below.
// ComputeRoot() iterates these prefixes to build the full world-state view.
var statePrefixes []string

var (
	prefixAccount  = registerPrefix("acct:")
	prefixPurchase = registerPrefix("purch:")
	prefixHistory  = registerPrefix("purchhist:")
)

type stateSnapshot struct {
	dirty   map[string][]byte
	deleted map[string]bool
}

// StateDB implements core.State on top of a DB with in-memory write buffer,
// snapshot/rollback, and deterministic state-root computation. The mutex
// only protects the buffer against concurrent RPC readers; transaction
// execution itself is serialised by the executor.
type StateDB struct {
	mu        sync.RWMutex
	db        DB
	dirty     map[string][]byte
	deleted   map[string]bool
	snapshots []stateSnapshot
}

// NewStateDB creates a StateDB backed by db.
func NewStateDB(db DB) *StateDB {
	return &StateDB{
		db:      db,
		dirty:   make(map[string][]byte),
		deleted: make(map[string]bool),
	}
}

// ---- internal helpers ----

func (s *StateDB) get(key string) ([]byte, error) {
	s.mu.RLock()
	if s.deleted[key] {
		s.mu.RUnlock()
		return nil, core.ErrNotFound
	}
	if v, ok := s.dirty[key]; ok {
		s.mu.RUnlock()
		return v, nil
	}
	s.mu.RUnlock()
	return s.db.Get([]byte(key))
}

func (s *StateDB) set(key string, val []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.deleted, key)
	s.dirty[key] = val
}

// ---- Account ----

func (s *StateDB) GetAccount(address string) (*core.Account, error) {
	data, err := s.get(prefixAccount + address)
	if errors.Is(err, core.ErrNotFound) {
		return &core.Account{Address: address}, nil // zero-value account
	}
	if err != nil {
		return nil, err
	}
	var acc core.Account
	if err := json.Unmarshal(data, &acc); err != nil {
		return nil, fmt.Errorf("decode account %s: %w", address, err)
	}
	return &acc, nil
}

func (s *StateDB) SetAccount(acc *core.Account) error {
	data, err := json.Marshal(acc)
	if err != nil {
		return err
	}
	s.set(prefixAccount+acc.Address, data)
	return nil
}

// ---- Purchase ----

func (s *StateDB) GetPurchase(id string) (*core.Purchase, error) {
	data, err := s.get(prefixPurchase + id)
	if err != nil {
		return nil, err
	}
	var p core.Purchase
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode purchase %s: %w", id, err)
	}
	return &p, nil
}

func (s *StateDB) SetPurchase(p *core.Purchase) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	s.set(prefixPurchase+p.ID, data)
	return nil
}

func (s *StateDB) ArchivePurchase(p *core.Purchase) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	s.set(historyKey(p.ID, p.Round), data)
	return nil
}

// PurchaseHistory merges persisted and buffered archive entries for id.
// Keys embed a zero-padded round, so lexical order is round order.
func (s *StateDB) PurchaseHistory(id string) ([]*core.Purchase, error) {
	prefix := prefixHistory + id + ":"
	entries, err := s.scan(prefix)
	if err != nil {
		return nil, err
	}
	out := make([]*core.Purchase, 0, len(entries))
	for _, kv := range entries {
		var p core.Purchase
		if err := json.Unmarshal(kv.value, &p); err != nil {
			return nil, fmt.Errorf("decode purchase history %s: %w", kv.key, err)
		}
		out = append(out, &p)
	}
	return out, nil
}

func historyKey(id string, round uint64) string {
	return fmt.Sprintf("%s%s:%020d", prefixHistory, id, round)
}

type entry struct {
	key   string
	value []byte
}

// scan returns every live entry under prefix, merged with the write buffer,
// sorted by key.
func (s *StateDB) scan(prefix string) ([]entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	merged := make(map[string][]byte)
	it := s.db.NewIterator([]byte(prefix))
	for it.Next() {
		v := make([]byte, len(it.Value()))
		copy(v, it.Value())
		merged[string(it.Key())] = v
	}
	it.Release()
	if err := it.Error(); err != nil {
		return nil, err
	}
	for k, v := range s.dirty {
		if strings.HasPrefix(k, prefix) {
			merged[k] = v
		}
	}
	for k := range s.deleted {
		delete(merged, k)
	}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]entry, len(keys))
	for i, k := range keys {
		out[i] = entry{key: k, value: merged[k]}
	}
	return out, nil
}

// ---- Snapshot / Rollback / Commit ----

// Snapshot saves the current write buffer and returns a snapshot ID.
func (s *StateDB) Snapshot() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := stateSnapshot{
		dirty:   make(map[string][]byte, len(s.dirty)),
		deleted: make(map[string]bool, len(s.deleted)),
	}
	for k, v := range s.dirty {
		cp := make([]byte, len(v))
		copy(cp, v)
		snap.dirty[k] = cp
	}
	for k, v := range s.deleted {
		snap.deleted[k] = v
	}
	s.snapshots = append(s.snapshots, snap)
	return len(s.snapshots) - 1, nil
}

// RevertToSnapshot restores the write buffer to a previously saved snapshot.
// The snapshot maps are deep-copied so that subsequent writes cannot corrupt them.
func (s *StateDB) RevertToSnapshot(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id < 0 || id >= len(s.snapshots) {
		return fmt.Errorf("invalid snapshot id %d", id)
	}
	snap := s.snapshots[id]

	dirty := make(map[string][]byte, len(snap.dirty))
	for k, v := range snap.dirty {
		cp := make([]byte, len(v))
		copy(cp, v)
		dirty[k] = cp
	}
	deleted := make(map[string]bool, len(snap.deleted))
	for k, v := range snap.deleted {
		deleted[k] = v
	}

	s.dirty = dirty
	s.deleted = deleted
	s.snapshots = s.snapshots[:id]
	return nil
}

// ComputeRoot returns the deterministic hash of the complete world state.
// It merges all persisted state entries (scanned from DB by the known state
// prefixes) with the current write buffer, then hashes the sorted key-value
// pairs using length-prefix encoding.  It does NOT flush or modify state,
// so it is safe to call before signing a block.
func (s *StateDB) ComputeRoot() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Step 1: collect all persisted state entries from DB.
	merged := make(map[string][]byte)
	for _, prefix := range statePrefixes {
		it := s.db.NewIterator([]byte(prefix))
		for it.Next() {
			k := string(it.Key())
			v := make([]byte, len(it.Value()))
			copy(v, it.Value())
			merged[k] = v
		}
		it.Release()
	}

	// Step 2: apply in-memory write buffer (uncommitted changes this block).
	for k, v := range s.dirty {
		merged[k] = v
	}

	// Step 3: exclude deleted keys.
	for k := range s.deleted {
		delete(merged, k)
	}

	// Step 4: sort keys for determinism.
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	// Step 5: length-prefix encode each key-value pair and hash.
	var buf bytes.Buffer
	var lenBuf [4]byte
	for _, k := range keys {
		v := merged[k]
		kb := []byte(k)
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(kb)))
		buf.Write(lenBuf[:])
		buf.Write(kb)
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(v)))
		buf.Write(lenBuf[:])
		buf.Write(v)
	}
	return crypto.Hash(buf.Bytes())
}

// Commit atomically flushes the write buffer to the underlying DB via a
// WriteBatch and then clears it. Call ComputeRoot() before signing the block,
// then call Commit() after the block is safely stored.
func (s *StateDB) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch := s.db.NewBatch()
	for k, v := range s.dirty {
		batch.Set([]byte(k), v)
	}
	for k := range s.deleted {
		batch.Delete([]byte(k))
	}
	if err := batch.Write(); err != nil {
		return err
	}
	s.dirty = make(map[string][]byte)
	s.deleted = make(map[string]bool)
	s.snapshots = nil
	return nil
}
