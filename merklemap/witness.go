package merklemap

import (
	"errors"
	"fmt"
)

// WitnessEncodedLen is the size of the fixed binary encoding of a witness.
const WitnessEncodedLen = 32 + 1 + 32 + Depth*32

var ErrMalformedWitness = errors.New("merklemap: malformed witness encoding")

// MembershipWitness proves what value a single key held in the map state
// identified by Root. The witness pins both the claimed value and the leaf's
// authentication path; it stays re-checkable after the map has moved on, which
// is exactly how stale witnesses are detected.
type MembershipWitness struct {
	Key      [32]byte
	Value    uint8
	Root     [32]byte
	Siblings [Depth][32]byte
}

// Recompute folds the authentication path over a hypothetical leaf value and
// returns the root that value would produce. Recompute(w.Value) == w.Root for
// any witness the map issued.
func (w *MembershipWitness) Recompute(value uint8) [32]byte {
	cur := leafBytes(value)
	for level := 0; level < Depth; level++ {
		if keyBit(w.Key, level) == 0 {
			cur = hashNodes(cur, w.Siblings[level])
		} else {
			cur = hashNodes(w.Siblings[level], cur)
		}
	}
	return cur
}

// Consistent reports whether the witness proves the given value under the
// given root.
func (w *MembershipWitness) Consistent(root [32]byte, value uint8) bool {
	return w.Recompute(value) == root
}

// MarshalBinary encodes the witness as key || value || root || siblings.
func (w *MembershipWitness) MarshalBinary() ([]byte, error) {
	out := make([]byte, 0, WitnessEncodedLen)
	out = append(out, w.Key[:]...)
	out = append(out, w.Value)
	out = append(out, w.Root[:]...)
	for i := range w.Siblings {
		out = append(out, w.Siblings[i][:]...)
	}
	return out, nil
}

// UnmarshalBinary decodes a witness produced by MarshalBinary.
func (w *MembershipWitness) UnmarshalBinary(data []byte) error {
	if len(data) != WitnessEncodedLen {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrMalformedWitness, len(data), WitnessEncodedLen)
	}
	copy(w.Key[:], data[:32])
	w.Value = data[32]
	if w.Value > 1 {
		return fmt.Errorf("%w: leaf value %d out of range", ErrMalformedWitness, w.Value)
	}
	copy(w.Root[:], data[33:65])
	for i := 0; i < Depth; i++ {
		copy(w.Siblings[i][:], data[65+i*32:65+(i+1)*32])
	}
	return nil
}
