package merklemap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWitnessBinaryRoundTrip(t *testing.T) {
	m := New()
	key := testKey(0x77)
	_, err := m.Set(key, 1)
	require.NoError(t, err)

	w, err := m.Witness(key)
	require.NoError(t, err)

	data, err := w.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, data, WitnessEncodedLen)

	var decoded MembershipWitness
	require.NoError(t, decoded.UnmarshalBinary(data))
	require.Equal(t, *w, decoded)
	require.True(t, decoded.Consistent(m.Root(), 1))
}

func TestWitnessUnmarshalRejectsBadLength(t *testing.T) {
	var w MembershipWitness
	err := w.UnmarshalBinary(make([]byte, WitnessEncodedLen-1))
	require.ErrorIs(t, err, ErrMalformedWitness)
}

func TestWitnessUnmarshalRejectsBadValue(t *testing.T) {
	m := New()
	w, err := m.Witness(testKey(0x01))
	require.NoError(t, err)

	data, err := w.MarshalBinary()
	require.NoError(t, err)
	data[32] = 7

	var decoded MembershipWitness
	require.ErrorIs(t, decoded.UnmarshalBinary(data), ErrMalformedWitness)
}

func TestWitnessRecomputeDetectsSiblingTampering(t *testing.T) {
	m := New()
	key := testKey(0x42)
	root, err := m.Set(key, 1)
	require.NoError(t, err)

	w, err := m.Witness(key)
	require.NoError(t, err)
	require.True(t, w.Consistent(root, 1))

	w.Siblings[17][31] ^= 0x01
	require.False(t, w.Consistent(root, 1))
}
