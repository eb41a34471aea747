package zk

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark/backend/witness"

	"github.com/zkdelegate-org/zkdelegate/order"
)

// Proof represents a serialized PLONK proof with its public inputs.
type Proof struct {
	ProofData    []byte // Serialized PLONK proof
	PublicInputs []byte // Serialized public witness
}

// Bytes frames the proof for transmission:
//
//	[4-byte proof length][proof data][public inputs]
func (p *Proof) Bytes() []byte {
	result := make([]byte, 4+len(p.ProofData)+len(p.PublicInputs))
	result[0] = byte(len(p.ProofData) >> 24)
	result[1] = byte(len(p.ProofData) >> 16)
	result[2] = byte(len(p.ProofData) >> 8)
	result[3] = byte(len(p.ProofData))
	copy(result[4:], p.ProofData)
	copy(result[4+len(p.ProofData):], p.PublicInputs)
	return result
}

// ProofFromBytes parses a framed proof. It returns defensive copies so the
// result does not alias the caller's buffer.
func ProofFromBytes(data []byte) (*Proof, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("proof data too short")
	}
	proofLen := int(data[0])<<24 | int(data[1])<<16 | int(data[2])<<8 | int(data[3])
	if proofLen < MinProofDataLen || proofLen > MaxProofDataLen {
		return nil, fmt.Errorf("invalid proof length: %d", proofLen)
	}
	if len(data) < 4+proofLen {
		return nil, fmt.Errorf("proof data truncated")
	}

	proofData := make([]byte, proofLen)
	copy(proofData, data[4:4+proofLen])

	publicInputs := make([]byte, len(data)-(4+proofLen))
	copy(publicInputs, data[4+proofLen:])

	return &Proof{
		ProofData:    proofData,
		PublicInputs: publicInputs,
	}, nil
}

const (
	// delegatePublicCount is the public witness length of the delegate
	// circuit: two target coordinates plus four limbs per signer coordinate.
	delegatePublicCount = 2 + 4 + 4
	// recordPublicCount adds the two roots.
	recordPublicCount = delegatePublicCount + 2
)

// RecordPublics is the decoded public witness of a recording proof.
type RecordPublics struct {
	Order   *order.DelegationOrder
	OldRoot [32]byte
	NewRoot [32]byte
}

// ExtractDelegateOrder decodes the order embedded in an authorization proof's
// public witness. Decoding revalidates both points, so a successfully
// extracted order is always well-formed.
func ExtractDelegateOrder(p *Proof) (*order.DelegationOrder, error) {
	vec, err := publicVector(p.PublicInputs)
	if err != nil {
		return nil, err
	}
	if len(vec) != delegatePublicCount {
		return nil, fmt.Errorf("unexpected public input count: got %d, want %d", len(vec), delegatePublicCount)
	}
	return orderFromPublics(vec)
}

// ExtractRecordPublics decodes the order and root pair embedded in a
// recording proof's public witness.
func ExtractRecordPublics(p *Proof) (*RecordPublics, error) {
	vec, err := publicVector(p.PublicInputs)
	if err != nil {
		return nil, err
	}
	if len(vec) != recordPublicCount {
		return nil, fmt.Errorf("unexpected public input count: got %d, want %d", len(vec), recordPublicCount)
	}
	ord, err := orderFromPublics(vec[:delegatePublicCount])
	if err != nil {
		return nil, err
	}
	out := &RecordPublics{Order: ord}
	oldRoot := vec[delegatePublicCount].Bytes()
	newRoot := vec[delegatePublicCount+1].Bytes()
	copy(out.OldRoot[:], oldRoot[:])
	copy(out.NewRoot[:], newRoot[:])
	return out, nil
}

// publicVector deserializes a public witness into its field element vector.
func publicVector(data []byte) (fr.Vector, error) {
	w, err := witness.New(ecc.BN254.ScalarField())
	if err != nil {
		return nil, fmt.Errorf("failed to allocate witness: %w", err)
	}
	if _, err := w.ReadFrom(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("failed to deserialize public inputs: %w", err)
	}
	vec, ok := w.Vector().(fr.Vector)
	if !ok {
		return nil, fmt.Errorf("unexpected public witness vector type %T", w.Vector())
	}
	return vec, nil
}

// orderFromPublics rebuilds a delegation order from the leading ten public
// elements: target X, target Y, then four limbs per signer coordinate.
func orderFromPublics(vec fr.Vector) (*order.DelegationOrder, error) {
	targetX := vec[0].BigInt(new(big.Int))
	targetY := vec[1].BigInt(new(big.Int))
	target, err := order.NewTargetAccount(targetX, targetY)
	if err != nil {
		return nil, fmt.Errorf("proof carries malformed target: %w", err)
	}

	signerX, err := limbsToBigInt(vec[2:6])
	if err != nil {
		return nil, err
	}
	signerY, err := limbsToBigInt(vec[6:10])
	if err != nil {
		return nil, err
	}
	signer, err := order.NewSignerKey(signerX, signerY)
	if err != nil {
		return nil, fmt.Errorf("proof carries malformed signer: %w", err)
	}

	return order.NewDelegationOrder(target, signer)
}

// limbsToBigInt recomposes a 256-bit integer from four 64-bit limbs, least
// significant first.
func limbsToBigInt(limbs fr.Vector) (*big.Int, error) {
	out := new(big.Int)
	for i := len(limbs) - 1; i >= 0; i-- {
		limb := limbs[i].BigInt(new(big.Int))
		if limb.BitLen() > 64 {
			return nil, fmt.Errorf("public limb %d exceeds 64 bits", i)
		}
		out.Lsh(out, 64)
		out.Or(out, limb)
	}
	return out, nil
}
