package registry

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/zkdelegate-org/zkdelegate/merklemap"
	"github.com/zkdelegate-org/zkdelegate/order"
	"github.com/zkdelegate-org/zkdelegate/zk"
)

const (
	testPrivHexA = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	testPrivHexB = "8a1f9a8f95be41cd7ccb6168179afb4504aefe388d1e14474d32c45c72ce7b7a"
)

func testOrderAndSig(t *testing.T, scalar int64, privHex string) (*order.DelegationOrder, *order.Signature) {
	t.Helper()

	priv, err := crypto.HexToECDSA(privHex)
	require.NoError(t, err)

	target, err := order.DeriveTargetAccount(big.NewInt(scalar))
	require.NoError(t, err)
	signer, err := order.SignerKeyFromPublic(&priv.PublicKey)
	require.NoError(t, err)
	ord, err := order.NewDelegationOrder(target, signer)
	require.NoError(t, err)

	sig, err := order.Sign(ord, priv)
	require.NoError(t, err)
	return ord, sig
}

// record drives the usual caller flow: capture the transition witness from
// the map, then commit it through the registry.
func record(t *testing.T, m *merklemap.Map, reg *Registry, ord *order.DelegationOrder, sig *order.Signature) [32]byte {
	t.Helper()

	w, recorded, err := m.RecordCandidate(ord)
	require.NoError(t, err)
	require.True(t, recorded)

	newRoot, err := reg.Record(ord, w, sig)
	require.NoError(t, err)
	require.Equal(t, m.Root(), newRoot, "registry and map must agree on the committed root")
	return newRoot
}

func TestRecordAdvancesRoot(t *testing.T) {
	m := merklemap.New()
	reg := New(nil, nil)
	require.Equal(t, merklemap.EmptyRoot(), reg.CurrentRoot())

	ord, sig := testOrderAndSig(t, 7, testPrivHexA)
	newRoot := record(t, m, reg, ord, sig)

	require.Equal(t, newRoot, reg.CurrentRoot())
	require.NotEqual(t, merklemap.EmptyRoot(), newRoot)

	audit := reg.AuditLog()
	require.Len(t, audit, 1)
	require.Equal(t, uint64(1), audit[0].Seq)
	require.Equal(t, order.Hash(ord), audit[0].OrderHash)
	require.Equal(t, newRoot, audit[0].Root)
	require.False(t, audit[0].Time.IsZero())
}

func TestRecordReplayReportsAlreadyDelegated(t *testing.T) {
	m := merklemap.New()
	reg := New(nil, nil)
	ord, sig := testOrderAndSig(t, 7, testPrivHexA)

	w, recorded, err := m.RecordCandidate(ord)
	require.NoError(t, err)
	require.True(t, recorded)
	committed, err := reg.Record(ord, w, sig)
	require.NoError(t, err)

	// Replaying the pre-record witness proposes a transition the registry
	// already holds.
	root, err := reg.Record(ord, w, sig)
	require.ErrorIs(t, err, ErrAlreadyDelegated)
	require.Equal(t, committed, root)
	require.Equal(t, committed, reg.CurrentRoot())
	require.Len(t, reg.AuditLog(), 1, "a duplicate must not append an audit record")
}

func TestRecordRejectsCorruptedSignature(t *testing.T) {
	m := merklemap.New()
	reg := New(nil, nil)
	ord, sig := testOrderAndSig(t, 7, testPrivHexA)

	compact := sig.Compact()
	compact[10] ^= 0x01
	corrupted, err := order.SignatureFromCompact(compact[:])
	require.NoError(t, err)

	w, recorded, err := m.RecordCandidate(ord)
	require.NoError(t, err)
	require.True(t, recorded)

	_, err = reg.Record(ord, w, corrupted)
	require.ErrorIs(t, err, ErrSignatureInvalid)
	require.ErrorIs(t, err, order.ErrSignatureInvalid)
	require.Equal(t, merklemap.EmptyRoot(), reg.CurrentRoot(), "a rejected record must not move the root")
	require.Empty(t, reg.AuditLog())
}

func TestRecordRejectsStaleWitness(t *testing.T) {
	m := merklemap.New()
	reg := New(nil, nil)
	ordA, sigA := testOrderAndSig(t, 7, testPrivHexA)
	ordB, sigB := testOrderAndSig(t, 9, testPrivHexB)

	// Witness for B captured against the empty root, then invalidated by
	// recording A.
	staleB, err := m.Witness(order.Hash(ordB))
	require.NoError(t, err)
	record(t, m, reg, ordA, sigA)

	before := reg.CurrentRoot()
	_, err = reg.Record(ordB, staleB, sigB)
	require.ErrorIs(t, err, ErrWitnessStale)
	require.Equal(t, before, reg.CurrentRoot())
}

func TestConfirmBeforeRecord(t *testing.T) {
	m := merklemap.New()
	reg := New(nil, nil)
	ord, _ := testOrderAndSig(t, 7, testPrivHexA)

	w, err := m.Witness(order.Hash(ord))
	require.NoError(t, err)
	require.ErrorIs(t, reg.Confirm(ord, w), ErrNotYetDelegated)
}

func TestConfirmAfterRecord(t *testing.T) {
	m := merklemap.New()
	reg := New(nil, nil)
	ord, sig := testOrderAndSig(t, 7, testPrivHexA)
	record(t, m, reg, ord, sig)

	w, err := m.Witness(order.Hash(ord))
	require.NoError(t, err)
	require.Equal(t, uint8(1), w.Value)
	require.NoError(t, reg.Confirm(ord, w))
}

func TestConfirmRejectsStaleWitness(t *testing.T) {
	m := merklemap.New()
	reg := New(nil, nil)
	ordA, sigA := testOrderAndSig(t, 7, testPrivHexA)
	ordB, sigB := testOrderAndSig(t, 9, testPrivHexB)
	record(t, m, reg, ordA, sigA)

	wA, err := m.Witness(order.Hash(ordA))
	require.NoError(t, err)
	require.NoError(t, reg.Confirm(ordA, wA))

	// Recording B moves the root; the witness for A no longer proves
	// anything about the current state.
	record(t, m, reg, ordB, sigB)
	require.ErrorIs(t, reg.Confirm(ordA, wA), ErrWitnessStale)

	// A fresh witness settles it.
	wA, err = m.Witness(order.Hash(ordA))
	require.NoError(t, err)
	require.NoError(t, reg.Confirm(ordA, wA))
}

func TestConfirmRejectsForeignWitness(t *testing.T) {
	m := merklemap.New()
	reg := New(nil, nil)
	ordA, sigA := testOrderAndSig(t, 7, testPrivHexA)
	ordB, _ := testOrderAndSig(t, 9, testPrivHexB)
	record(t, m, reg, ordA, sigA)

	wA, err := m.Witness(order.Hash(ordA))
	require.NoError(t, err)
	require.ErrorIs(t, reg.Confirm(ordB, wA), ErrWitnessStale)
}

func TestProposeTransitionValidatesWitnessKey(t *testing.T) {
	m := merklemap.New()
	reg := New(nil, nil)
	ordA, _ := testOrderAndSig(t, 7, testPrivHexA)
	ordB, _ := testOrderAndSig(t, 9, testPrivHexB)

	wA, err := m.Witness(order.Hash(ordA))
	require.NoError(t, err)

	_, err = reg.ProposeTransition(order.Hash(ordB), 0, 1, wA)
	require.ErrorIs(t, err, ErrWitnessStale)

	_, err = reg.ProposeTransition(order.Hash(ordA), 0, 1, nil)
	require.ErrorIs(t, err, ErrWitnessStale)
}

func TestProposeTransitionRejectsVacuousTransition(t *testing.T) {
	m := merklemap.New()
	reg := New(nil, nil)
	ord, sig := testOrderAndSig(t, 7, testPrivHexA)
	record(t, m, reg, ord, sig)

	w, err := m.Witness(order.Hash(ord))
	require.NoError(t, err)
	require.True(t, w.Consistent(reg.CurrentRoot(), 1))

	// A proposal that changes nothing is a caller bug, not a transition; it
	// must neither advance the sequence nor append to the audit trail.
	before := reg.CurrentRoot()
	_, err = reg.ProposeTransition(order.Hash(ord), 1, 1, w)
	require.Error(t, err)
	require.Equal(t, before, reg.CurrentRoot())
	require.Len(t, reg.AuditLog(), 1)

	_, err = reg.ProposeTransition(order.Hash(ord), 0, 0, nil)
	require.Error(t, err)
	require.Len(t, reg.AuditLog(), 1)
}

func TestRegistryResumesFromCommittedRoot(t *testing.T) {
	m := merklemap.New()
	reg := New(nil, nil)
	ordA, sigA := testOrderAndSig(t, 7, testPrivHexA)
	record(t, m, reg, ordA, sigA)

	resumed := NewWithRoot(reg.CurrentRoot(), nil, nil)
	require.Equal(t, reg.CurrentRoot(), resumed.CurrentRoot())

	wA, err := m.Witness(order.Hash(ordA))
	require.NoError(t, err)
	require.NoError(t, resumed.Confirm(ordA, wA))

	ordB, sigB := testOrderAndSig(t, 9, testPrivHexB)
	record(t, m, resumed, ordB, sigB)
}

func TestSubmitTransitionRejectsMalformedProof(t *testing.T) {
	reg := New(zk.NewMultiVerifier(), nil)

	_, err := reg.SubmitTransition(nil)
	require.Error(t, err)

	_, err = reg.SubmitTransition(&zk.Proof{ProofData: []byte{0x01}, PublicInputs: []byte{0xde, 0xad}})
	require.Error(t, err)
}
