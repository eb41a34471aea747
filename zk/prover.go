package zk

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/plonk"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"

	"github.com/zkdelegate-org/zkdelegate/merklemap"
	"github.com/zkdelegate-org/zkdelegate/order"
)

// Prover generates delegation authorization proofs. The signature never
// leaves the prover; only the order itself ends up in the public inputs.
type Prover struct {
	cs constraint.ConstraintSystem
	pk plonk.ProvingKey
}

// NewProver creates a prover from a compiled circuit and proving key.
func NewProver(cs constraint.ConstraintSystem, pk plonk.ProvingKey) *Prover {
	return &Prover{cs: cs, pk: pk}
}

// ProverFromSetup creates a prover from a delegate circuit setup result.
func ProverFromSetup(setup *SetupResult) *Prover {
	return NewProver(setup.ConstraintSystem, setup.ProvingKey)
}

// GenerateProof proves that sig authorizes ord. The signature is checked
// natively first: proving is expensive and an invalid signature could only
// ever produce an unsatisfiable witness.
func (p *Prover) GenerateProof(ord *order.DelegationOrder, sig *order.Signature) (*Proof, error) {
	if err := order.Verify(ord, sig); err != nil {
		return nil, fmt.Errorf("refusing to prove: %w", err)
	}

	assignment := &DelegateCircuit{}
	assignment.TargetX = ord.Target.X()
	assignment.TargetY = ord.Target.Y()
	assignment.SignerX.Limbs = bigIntToLimbs(ord.Signer.X())
	assignment.SignerY.Limbs = bigIntToLimbs(ord.Signer.Y())
	assignment.SigR.Limbs = bigIntToLimbs(sig.R())
	assignment.SigS.Limbs = bigIntToLimbs(sig.S())

	return generateProof(p.cs, p.pk, assignment)
}

// RecordProver generates recording proofs: one statement covering both the
// authorization signature and the zero-to-one map transition for the order's
// leaf.
type RecordProver struct {
	cs constraint.ConstraintSystem
	pk plonk.ProvingKey
}

// NewRecordProver creates a record prover from a compiled circuit and proving key.
func NewRecordProver(cs constraint.ConstraintSystem, pk plonk.ProvingKey) *RecordProver {
	return &RecordProver{cs: cs, pk: pk}
}

// RecordProverFromSetup creates a record prover from a record circuit setup result.
func RecordProverFromSetup(setup *SetupResult) *RecordProver {
	return NewRecordProver(setup.ConstraintSystem, setup.ProvingKey)
}

// GenerateProof proves the recording of ord under signature sig, transitioning
// the map from w.Root to the root with the order's leaf set. The witness must
// describe the order's leaf at zero; its sibling path pins everything else in
// the map across the transition.
func (p *RecordProver) GenerateProof(ord *order.DelegationOrder, sig *order.Signature, w *merklemap.MembershipWitness) (*Proof, error) {
	if err := order.Verify(ord, sig); err != nil {
		return nil, fmt.Errorf("refusing to prove: %w", err)
	}
	key := order.Hash(ord)
	if w == nil || w.Key != key {
		return nil, fmt.Errorf("witness does not belong to the order being recorded")
	}
	if !w.Consistent(w.Root, 0) {
		return nil, fmt.Errorf("witness does not prove a zero leaf under its root")
	}
	newRoot := w.Recompute(1)

	assignment := &RecordCircuit{}
	assignment.TargetX = ord.Target.X()
	assignment.TargetY = ord.Target.Y()
	assignment.SignerX.Limbs = bigIntToLimbs(ord.Signer.X())
	assignment.SignerY.Limbs = bigIntToLimbs(ord.Signer.Y())
	assignment.OldRoot = new(big.Int).SetBytes(w.Root[:])
	assignment.NewRoot = new(big.Int).SetBytes(newRoot[:])
	assignment.SigR.Limbs = bigIntToLimbs(sig.R())
	assignment.SigS.Limbs = bigIntToLimbs(sig.S())
	for i := 0; i < merklemap.Depth; i++ {
		assignment.Siblings[i] = new(big.Int).SetBytes(w.Siblings[i][:])
	}

	return generateProof(p.cs, p.pk, assignment)
}

// generateProof runs the PLONK prover over a full assignment and packs the
// proof together with its serialized public witness.
func generateProof(cs constraint.ConstraintSystem, pk plonk.ProvingKey, assignment frontend.Circuit) (*Proof, error) {
	witness, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		return nil, fmt.Errorf("failed to create witness: %w", err)
	}

	proof, err := plonk.Prove(cs, pk, witness)
	if err != nil {
		return nil, fmt.Errorf("failed to generate proof: %w", err)
	}

	var proofBuf bytes.Buffer
	_, err = proof.WriteTo(&proofBuf)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize proof: %w", err)
	}

	publicWitness, err := witness.Public()
	if err != nil {
		return nil, fmt.Errorf("failed to get public witness: %w", err)
	}

	var publicBuf bytes.Buffer
	_, err = publicWitness.WriteTo(&publicBuf)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize public inputs: %w", err)
	}

	return &Proof{
		ProofData:    proofBuf.Bytes(),
		PublicInputs: publicBuf.Bytes(),
	}, nil
}

// bigIntToLimbs converts a big.Int to 4 limbs of 64 bits each for emulated field elements
func bigIntToLimbs(n *big.Int) []frontend.Variable {
	limbs := make([]frontend.Variable, 4)

	if n == nil {
		for i := range 4 {
			limbs[i] = big.NewInt(0)
		}
		return limbs
	}

	// Pad to 32 bytes
	nBytes := n.Bytes()
	padded := make([]byte, 32)
	copy(padded[32-len(nBytes):], nBytes)

	// Convert to limbs (little-endian limb order, big-endian within limb)
	for i := range 4 {
		limb := new(big.Int)
		limbBytes := padded[24-i*8 : 32-i*8]
		limb.SetBytes(limbBytes)
		limbs[i] = limb
	}

	return limbs
}
