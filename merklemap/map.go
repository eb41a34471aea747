package merklemap

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/zkdelegate-org/zkdelegate/order"
)

var (
	ErrInvalidValue    = errors.New("merklemap: leaf value out of range")
	ErrValueRegression = errors.New("merklemap: delegated bit cannot be cleared")
	ErrKeyOutOfRange   = errors.New("merklemap: key exceeds the 254-bit path space")
)

// validateKey rejects keys wider than Depth bits. Order hashes are canonical
// field elements and always pass; the guard keeps arbitrary 256-bit keys from
// silently sharing a leaf path with the key they match in the low 254 bits.
func validateKey(key [32]byte) error {
	if key[0]&0xc0 != 0 {
		return ErrKeyOutOfRange
	}
	return nil
}

type nodePos struct {
	level int
	index string
}

// Map is a sparse Merkle map from 254-bit keys to single-bit values. All keys
// absent from the map hold zero, so the empty map has a well-known root and
// writing a leaf touches only the nodes along its path.
//
// Reads and writes are safe for concurrent use. The map itself performs no
// compare-and-swap logic: callers that mirror an authoritative root decide
// what to do when their witnesses go stale.
type Map struct {
	mu     sync.RWMutex
	nodes  map[nodePos][32]byte
	leaves map[[32]byte]uint8
	root   [32]byte
	store  *Store
}

// New returns an empty in-memory map.
func New() *Map {
	return &Map{
		nodes:  make(map[nodePos][32]byte),
		leaves: make(map[[32]byte]uint8),
		root:   EmptyRoot(),
	}
}

// NewWithStore returns a map backed by a persistent store, restored to the
// store's last committed root. The map takes over the store; callers close
// the map, not the store.
func NewWithStore(store *Store) (*Map, error) {
	m := New()
	m.store = store

	root, ok, err := store.loadRoot()
	if err != nil {
		return nil, err
	}
	if ok {
		m.root = root
	}
	if err := store.loadLeaves(func(key [32]byte, value uint8) {
		m.leaves[key] = value
	}); err != nil {
		return nil, err
	}
	return m, nil
}

// Close releases the backing store, if any.
func (m *Map) Close() error {
	if m.store == nil {
		return nil
	}
	return m.store.Close()
}

// Root returns the root identifying the map's current state.
func (m *Map) Root() [32]byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.root
}

// Get returns the value stored under key. Absent keys read as zero.
func (m *Map) Get(key [32]byte) uint8 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.leaves[key]
}

// Len returns the number of keys that have ever been written.
func (m *Map) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.leaves)
}

// Set writes value under key and returns the new root. Values only move from
// zero to one; clearing a set bit fails with ErrValueRegression.
func (m *Map) Set(key [32]byte, value uint8) ([32]byte, error) {
	if err := validateKey(key); err != nil {
		return [32]byte{}, err
	}
	if value > 1 {
		return [32]byte{}, fmt.Errorf("%w: %d", ErrInvalidValue, value)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setLocked(key, value)
}

func (m *Map) setLocked(key [32]byte, value uint8) ([32]byte, error) {
	old := m.leaves[key]
	if old == value {
		return m.root, nil
	}
	if old == 1 && value == 0 {
		return [32]byte{}, ErrValueRegression
	}

	// The recomputed path is staged and merged into the cache only once the
	// store commit has succeeded. A failed commit must leave the map at its
	// old state, leaf, path and root alike.
	staged := make([]nodeRecord, 0, Depth+1)

	pos := new(big.Int).SetBytes(key[:])
	cur := leafBytes(value)
	staged = append(staged, nodeRecord{level: 0, index: indexBytes(pos), hash: cur})

	sibIdx := new(big.Int)
	for level := 0; level < Depth; level++ {
		sibIdx.Xor(pos, bigOne)
		sib, err := m.node(level, sibIdx)
		if err != nil {
			return [32]byte{}, err
		}
		if pos.Bit(0) == 0 {
			cur = hashNodes(cur, sib)
		} else {
			cur = hashNodes(sib, cur)
		}
		pos.Rsh(pos, 1)
		staged = append(staged, nodeRecord{level: level + 1, index: indexBytes(pos), hash: cur})
	}

	if m.store != nil {
		if err := m.store.commit(staged, key, value, cur); err != nil {
			return [32]byte{}, err
		}
	}
	for _, n := range staged {
		m.nodes[nodePos{n.level, string(n.index)}] = n.hash
	}
	m.leaves[key] = value
	m.root = cur
	return cur, nil
}

// indexBytes snapshots a tree index that keeps mutating during the path walk.
func indexBytes(index *big.Int) []byte {
	b := index.Bytes()
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

var bigOne = big.NewInt(1)

// node returns the digest at a tree position, falling back to the store and
// then to the all-empty subtree digest for that level.
func (m *Map) node(level int, index *big.Int) ([32]byte, error) {
	idxBytes := index.Bytes()
	if n, ok := m.nodes[nodePos{level, string(idxBytes)}]; ok {
		return n, nil
	}
	if m.store != nil {
		n, ok, err := m.store.getNode(level, idxBytes)
		if err != nil {
			return [32]byte{}, err
		}
		if ok {
			return n, nil
		}
	}
	return zeroHash(level), nil
}

// Witness builds a membership witness for key against the current root.
func (m *Map) Witness(key [32]byte) (*MembershipWitness, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.witnessLocked(key)
}

func (m *Map) witnessLocked(key [32]byte) (*MembershipWitness, error) {
	w := &MembershipWitness{
		Key:   key,
		Value: m.leaves[key],
		Root:  m.root,
	}
	pos := new(big.Int).SetBytes(key[:])
	sibIdx := new(big.Int)
	for level := 0; level < Depth; level++ {
		sibIdx.Xor(pos, bigOne)
		sib, err := m.node(level, sibIdx)
		if err != nil {
			return nil, err
		}
		w.Siblings[level] = sib
		pos.Rsh(pos, 1)
	}
	return w, nil
}

// RecordCandidate prepares a delegation recording for ord. If the order is
// already delegated in this mirror, it reports absence. Otherwise it flips
// the local bit and returns a witness describing the state before the flip,
// which is the witness a recording against the old root needs.
//
// The mirror moves ahead of any authoritative root the caller tracks; on a
// lost race the caller rebuilds the mirror from the refreshed root.
func (m *Map) RecordCandidate(ord *order.DelegationOrder) (*MembershipWitness, bool, error) {
	key := order.Hash(ord)
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.leaves[key] == 1 {
		return nil, false, nil
	}
	w, err := m.witnessLocked(key)
	if err != nil {
		return nil, false, err
	}
	if _, err := m.setLocked(key, 1); err != nil {
		return nil, false, err
	}
	return w, true, nil
}

// QueryCandidate builds a witness for confirming ord's delegation. It reports
// absence when the order is not delegated in this mirror.
func (m *Map) QueryCandidate(ord *order.DelegationOrder) (*MembershipWitness, bool, error) {
	key := order.Hash(ord)
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.leaves[key] != 1 {
		return nil, false, nil
	}
	w, err := m.witnessLocked(key)
	if err != nil {
		return nil, false, err
	}
	return w, true, nil
}
