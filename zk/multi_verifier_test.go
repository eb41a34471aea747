package zk

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCircuitKindString(t *testing.T) {
	require.Equal(t, "Delegate", CircuitDelegate.String())
	require.Equal(t, "Record", CircuitRecord.String())
	require.Equal(t, "Unknown", CircuitKind(99).String())
}

func TestMultiVerifierRequiresRegisteredKind(t *testing.T) {
	mv := NewMultiVerifier()
	require.False(t, mv.HasCircuit(CircuitDelegate))
	require.False(t, mv.HasCircuit(CircuitRecord))

	err := mv.VerifyProof(CircuitDelegate, testFramedProof())
	require.Error(t, err)

	err = mv.VerifyProof(CircuitRecord, testFramedProof())
	require.Error(t, err)
}

func TestMultiVerifierRejectsGarbageVerifyingKey(t *testing.T) {
	mv := NewMultiVerifier()
	err := mv.RegisterCircuitFromBytes(CircuitDelegate, []byte("not a verifying key"))
	require.Error(t, err)
	require.False(t, mv.HasCircuit(CircuitDelegate))
}

func TestNewVerifierFromBytesRejectsGarbage(t *testing.T) {
	_, err := NewVerifierFromBytes([]byte{0x00, 0x01, 0x02})
	require.Error(t, err)
}
