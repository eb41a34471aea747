package zk

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/plonk"
	"github.com/consensys/gnark/backend/witness"
	"github.com/consensys/gnark/frontend"

	"github.com/zkdelegate-org/zkdelegate/order"
)

// ErrProofInvalid marks a proof that deserialized cleanly but failed the
// pairing check.
var ErrProofInvalid = errors.New("zk: proof invalid")

// Verifier checks PLONK proofs against a single verifying key. Verification
// needs no SRS and no constraint system, so verifiers are cheap enough to
// embed anywhere a proof shows up.
type Verifier struct {
	vk plonk.VerifyingKey
}

// NewVerifier creates a verifier from a verifying key.
func NewVerifier(vk plonk.VerifyingKey) *Verifier {
	return &Verifier{vk: vk}
}

// NewVerifierFromBytes creates a verifier from a serialized verifying key.
func NewVerifierFromBytes(vkBytes []byte) (*Verifier, error) {
	vk, err := DeserializeVerifyingKey(vkBytes)
	if err != nil {
		return nil, err
	}
	return NewVerifier(vk), nil
}

// VerifyProof checks a proof against the public inputs it carries. It makes
// no claim about what those inputs are; callers pair it with the extraction
// helpers when they need the statement itself.
func (v *Verifier) VerifyProof(p *Proof) error {
	plonkProof, err := decodeProof(p)
	if err != nil {
		return err
	}

	publicWitness, err := witness.New(ecc.BN254.ScalarField())
	if err != nil {
		return fmt.Errorf("failed to allocate witness: %w", err)
	}
	if _, err := publicWitness.ReadFrom(bytes.NewReader(p.PublicInputs)); err != nil {
		return fmt.Errorf("failed to deserialize public inputs: %w", err)
	}

	if err := plonk.Verify(plonkProof, v.vk, publicWitness); err != nil {
		return fmt.Errorf("%w: %v", ErrProofInvalid, err)
	}
	return nil
}

// VerifyDelegateProof checks that p proves the authorization of exactly ord.
// The expected public witness is rebuilt from the order, so a proof for any
// other order fails even if it is valid in isolation.
func (v *Verifier) VerifyDelegateProof(p *Proof, ord *order.DelegationOrder) error {
	assignment := &DelegateCircuit{}
	assignment.TargetX = ord.Target.X()
	assignment.TargetY = ord.Target.Y()
	assignment.SignerX.Limbs = bigIntToLimbs(ord.Signer.X())
	assignment.SignerY.Limbs = bigIntToLimbs(ord.Signer.Y())
	return v.verifyAgainst(p, assignment)
}

// VerifyRecordProof checks that p proves the recording of ord moving the map
// from oldRoot to newRoot.
func (v *Verifier) VerifyRecordProof(p *Proof, ord *order.DelegationOrder, oldRoot, newRoot [32]byte) error {
	assignment := &RecordCircuit{}
	assignment.TargetX = ord.Target.X()
	assignment.TargetY = ord.Target.Y()
	assignment.SignerX.Limbs = bigIntToLimbs(ord.Signer.X())
	assignment.SignerY.Limbs = bigIntToLimbs(ord.Signer.Y())
	assignment.OldRoot = new(big.Int).SetBytes(oldRoot[:])
	assignment.NewRoot = new(big.Int).SetBytes(newRoot[:])
	return v.verifyAgainst(p, assignment)
}

// verifyAgainst verifies p against the public part of an expected assignment.
func (v *Verifier) verifyAgainst(p *Proof, assignment frontend.Circuit) error {
	plonkProof, err := decodeProof(p)
	if err != nil {
		return err
	}

	expectedWitness, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return fmt.Errorf("failed to build expected public witness: %w", err)
	}

	if err := plonk.Verify(plonkProof, v.vk, expectedWitness); err != nil {
		return fmt.Errorf("%w: %v", ErrProofInvalid, err)
	}
	return nil
}

func decodeProof(p *Proof) (plonk.Proof, error) {
	if p == nil {
		return nil, fmt.Errorf("nil proof")
	}
	if len(p.ProofData) < MinProofDataLen || len(p.ProofData) > MaxProofDataLen {
		return nil, fmt.Errorf("invalid proof length: %d", len(p.ProofData))
	}
	plonkProof := plonk.NewProof(ecc.BN254)
	if _, err := plonkProof.ReadFrom(bytes.NewReader(p.ProofData)); err != nil {
		return nil, fmt.Errorf("failed to deserialize proof: %w", err)
	}
	return plonkProof, nil
}
