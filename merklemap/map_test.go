package merklemap

import (
	"encoding/hex"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"

	"github.com/zkdelegate-org/zkdelegate/order"
)

func testKey(fill byte) [32]byte {
	var key [32]byte
	for i := 1; i < len(key); i++ {
		key[i] = fill
	}
	key[0] = 0x01
	return key
}

func newTestOrder(t *testing.T, targetScalar int64, privHex string) *order.DelegationOrder {
	t.Helper()
	privBytes, err := hex.DecodeString(privHex)
	require.NoError(t, err)
	_, pub := btcec.PrivKeyFromBytes(privBytes)
	signer, err := order.SignerKeyFromPublic(pub.ToECDSA())
	require.NoError(t, err)
	target, err := order.DeriveTargetAccount(big.NewInt(targetScalar))
	require.NoError(t, err)
	ord, err := order.NewDelegationOrder(target, signer)
	require.NoError(t, err)
	return ord
}

const testPrivHex = "0000000000000000000000000000000000000000000000000000000000003039"

func TestEmptyMapRoot(t *testing.T) {
	m := New()
	require.Equal(t, EmptyRoot(), m.Root())

	// A witness for any key in the empty map recomputes the same root from
	// a zero leaf.
	w, err := m.Witness(testKey(0xaa))
	require.NoError(t, err)
	require.Equal(t, uint8(0), w.Value)
	require.Equal(t, EmptyRoot(), w.Recompute(0))
}

func TestGetDefaultsToZero(t *testing.T) {
	m := New()
	require.Equal(t, uint8(0), m.Get(testKey(0x11)))
	require.Equal(t, 0, m.Len())
}

func TestSetAndWitnessAgree(t *testing.T) {
	m := New()
	k1 := testKey(0x11)
	k2 := testKey(0x22)

	root, err := m.Set(k1, 1)
	require.NoError(t, err)
	require.Equal(t, root, m.Root())
	require.NotEqual(t, EmptyRoot(), root)

	w1, err := m.Witness(k1)
	require.NoError(t, err)
	require.Equal(t, uint8(1), w1.Value)
	require.True(t, w1.Consistent(root, 1))
	require.False(t, w1.Consistent(root, 0))

	w2, err := m.Witness(k2)
	require.NoError(t, err)
	require.Equal(t, uint8(0), w2.Value)
	require.True(t, w2.Consistent(root, 0))
}

func TestSetIsMonotonic(t *testing.T) {
	m := New()
	key := testKey(0x33)

	root, err := m.Set(key, 1)
	require.NoError(t, err)

	_, err = m.Set(key, 0)
	require.ErrorIs(t, err, ErrValueRegression)
	require.Equal(t, root, m.Root(), "failed write must not move the root")

	again, err := m.Set(key, 1)
	require.NoError(t, err)
	require.Equal(t, root, again)
}

func TestSetRejectsInvalidValue(t *testing.T) {
	m := New()
	_, err := m.Set(testKey(0x44), 2)
	require.ErrorIs(t, err, ErrInvalidValue)
}

func TestWitnessGoesStaleAcrossWrites(t *testing.T) {
	m := New()
	k1 := testKey(0x11)
	k2 := testKey(0x22)

	rootBefore := m.Root()
	w1, err := m.Witness(k1)
	require.NoError(t, err)
	require.True(t, w1.Consistent(rootBefore, 0))

	_, err = m.Set(k2, 1)
	require.NoError(t, err)
	rootAfter := m.Root()

	require.False(t, w1.Consistent(rootAfter, 0),
		"a witness issued against the old root must not verify against the new one")
	require.True(t, w1.Consistent(rootBefore, 0),
		"the witness still proves the old state")
}

func TestWitnessRootTracksInsertOrderIndependence(t *testing.T) {
	k1 := testKey(0x11)
	k2 := testKey(0x22)

	mA := New()
	_, err := mA.Set(k1, 1)
	require.NoError(t, err)
	_, err = mA.Set(k2, 1)
	require.NoError(t, err)

	mB := New()
	_, err = mB.Set(k2, 1)
	require.NoError(t, err)
	_, err = mB.Set(k1, 1)
	require.NoError(t, err)

	require.Equal(t, mA.Root(), mB.Root(), "the root identifies the set, not the history")
}

func TestRecordCandidate(t *testing.T) {
	m := New()
	ord := newTestOrder(t, 7, testPrivHex)
	key := order.Hash(ord)

	rootBefore := m.Root()
	w, ok, err := m.RecordCandidate(ord)
	require.NoError(t, err)
	require.True(t, ok)

	require.Equal(t, key, w.Key)
	require.Equal(t, uint8(0), w.Value, "the witness describes the state before the flip")
	require.Equal(t, rootBefore, w.Root)
	require.True(t, w.Consistent(rootBefore, 0))
	require.Equal(t, m.Root(), w.Recompute(1), "flipping the witnessed leaf lands on the mirror's new root")

	require.Equal(t, uint8(1), m.Get(key))

	_, ok, err = m.RecordCandidate(ord)
	require.NoError(t, err)
	require.False(t, ok, "an already delegated order yields no candidate")
}

func TestQueryCandidate(t *testing.T) {
	m := New()
	ord := newTestOrder(t, 7, testPrivHex)

	_, ok, err := m.QueryCandidate(ord)
	require.NoError(t, err)
	require.False(t, ok, "nothing to confirm before recording")

	_, ok, err = m.RecordCandidate(ord)
	require.NoError(t, err)
	require.True(t, ok)

	w, ok, err := m.QueryCandidate(ord)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint8(1), w.Value)
	require.True(t, w.Consistent(m.Root(), 1))
}

func TestMapWithMemoryStore(t *testing.T) {
	store, err := OpenStore("", false)
	require.NoError(t, err)
	m, err := NewWithStore(store)
	require.NoError(t, err)
	defer func() { require.NoError(t, m.Close()) }()

	_, err = m.Set(testKey(0x55), 1)
	require.NoError(t, err)

	w, err := m.Witness(testKey(0x55))
	require.NoError(t, err)
	require.True(t, w.Consistent(m.Root(), 1))
}

func TestSetFailedStoreLeavesMapUnchanged(t *testing.T) {
	store, err := OpenStore("", false)
	require.NoError(t, err)
	m, err := NewWithStore(store)
	require.NoError(t, err)

	k1 := testKey(0x11)
	root, err := m.Set(k1, 1)
	require.NoError(t, err)

	// Closing the backing database makes the next write fail partway
	// through. The failure must not apply any part of the write.
	require.NoError(t, m.Close())

	k2 := testKey(0x22)
	_, err = m.Set(k2, 1)
	require.Error(t, err)

	require.Equal(t, root, m.Root(), "a failed write must not move the root")
	require.Equal(t, uint8(0), m.Get(k2))
	require.Equal(t, uint8(1), m.Get(k1))

	// Nothing from the failed write may reach the node cache: a cached
	// value-1 leaf for k2 would contradict both Get and the unchanged root,
	// poisoning every witness whose path crosses it.
	_, dirty := m.nodes[nodePos{0, string(indexBytes(new(big.Int).SetBytes(k2[:])))}]
	require.False(t, dirty, "failed write leaked into the node cache")
}

func TestRejectsOversizedKey(t *testing.T) {
	m := New()

	for _, prefix := range []byte{0x40, 0x80, 0xc0} {
		key := testKey(0x11)
		key[0] = prefix

		_, err := m.Set(key, 1)
		require.ErrorIs(t, err, ErrKeyOutOfRange)

		_, err = m.Witness(key)
		require.ErrorIs(t, err, ErrKeyOutOfRange)
	}
	require.Equal(t, EmptyRoot(), m.Root())

	// The key sharing the low 254 bits stays independently writable.
	_, err := m.Set(testKey(0x11), 1)
	require.NoError(t, err)
}

func TestMapPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "map.db")
	k1 := testKey(0x11)
	k2 := testKey(0x22)

	store, err := OpenStore(path, false)
	require.NoError(t, err)
	m, err := NewWithStore(store)
	require.NoError(t, err)

	_, err = m.Set(k1, 1)
	require.NoError(t, err)
	root, err := m.Set(k2, 1)
	require.NoError(t, err)
	require.NoError(t, m.Close())

	store, err = OpenStore(path, true)
	require.NoError(t, err)
	reopened, err := NewWithStore(store)
	require.NoError(t, err)
	defer func() { require.NoError(t, reopened.Close()) }()

	require.Equal(t, root, reopened.Root())
	require.Equal(t, uint8(1), reopened.Get(k1))
	require.Equal(t, uint8(1), reopened.Get(k2))

	w, err := reopened.Witness(k1)
	require.NoError(t, err)
	require.True(t, w.Consistent(root, 1))

	// Writing after reopen keeps extending the same tree.
	k3 := testKey(0x33)
	newRoot, err := reopened.Set(k3, 1)
	require.NoError(t, err)
	require.NotEqual(t, root, newRoot)

	w3, err := reopened.Witness(k3)
	require.NoError(t, err)
	require.True(t, w3.Consistent(newRoot, 1))
}
