package zk

import (
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash/mimc"
	"github.com/consensys/gnark/std/math/emulated"

	"github.com/zkdelegate-org/zkdelegate/merklemap"
	"github.com/zkdelegate-org/zkdelegate/order"
)

// RecordCircuit proves a full recording transition in one statement: a valid
// authorization signature for the public order, plus the map moving from
// OldRoot to NewRoot by flipping exactly that order's leaf from zero to one.
//
// The map key is not an input. The circuit recomputes the order hash from its
// own public inputs and derives the leaf path from it, so a proof cannot
// claim a transition at any key other than the order's. Both root folds share
// one sibling path: whatever else the map contains is held fixed across the
// transition.
type RecordCircuit struct {
	TargetX frontend.Variable `gnark:",public"`
	TargetY frontend.Variable `gnark:",public"`

	SignerX emulated.Element[Secp256k1Fp] `gnark:",public"`
	SignerY emulated.Element[Secp256k1Fp] `gnark:",public"`

	// OldRoot and NewRoot identify the map states before and after the
	// recording.
	OldRoot frontend.Variable `gnark:",public"`
	NewRoot frontend.Variable `gnark:",public"`

	SigR emulated.Element[Secp256k1Fr] `gnark:",secret"`
	SigS emulated.Element[Secp256k1Fr] `gnark:",secret"`

	// Siblings is the authentication path of the order's leaf, leaf level
	// first.
	Siblings [merklemap.Depth]frontend.Variable `gnark:",secret"`
}

// Define declares the recording constraints.
func (c *RecordCircuit) Define(api frontend.API) error {
	if err := assertOrderSignature(api, c.TargetX, c.TargetY, c.SignerX, c.SignerY, c.SigR, c.SigS); err != nil {
		return err
	}

	key, err := orderKeyVariable(api, c.TargetX, c.TargetY, c.SignerX, c.SignerY)
	if err != nil {
		return err
	}
	keyBits := api.ToBinary(key, merklemap.Depth)

	h, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}

	oldAcc := frontend.Variable(0)
	newAcc := frontend.Variable(1)
	for level := 0; level < merklemap.Depth; level++ {
		pathBit := keyBits[level]
		sibling := c.Siblings[level]

		h.Reset()
		h.Write(api.Select(pathBit, sibling, oldAcc), api.Select(pathBit, oldAcc, sibling))
		oldAcc = h.Sum()

		h.Reset()
		h.Write(api.Select(pathBit, sibling, newAcc), api.Select(pathBit, newAcc, sibling))
		newAcc = h.Sum()
	}

	api.AssertIsEqual(oldAcc, c.OldRoot)
	api.AssertIsEqual(newAcc, c.NewRoot)
	return nil
}

// NewRecordCircuitPlaceholder creates an empty circuit for compilation.
func NewRecordCircuitPlaceholder() *RecordCircuit {
	return &RecordCircuit{}
}

// orderKeyVariable recomputes the order hash from the circuit's public
// inputs, mirroring the native derivation of the order's map key: the domain
// separator, the target coordinates and the signer coordinate limbs absorbed
// into MiMC in that exact sequence.
func orderKeyVariable(
	api frontend.API,
	targetX, targetY frontend.Variable,
	signerX, signerY emulated.Element[Secp256k1Fp],
) (frontend.Variable, error) {
	h, err := mimc.NewMiMC(api)
	if err != nil {
		return nil, err
	}
	h.Write(order.HashDomain())
	h.Write(targetX, targetY)
	for i := range signerX.Limbs {
		h.Write(signerX.Limbs[i])
	}
	for i := range signerY.Limbs {
		h.Write(signerY.Limbs[i])
	}
	return h.Sum(), nil
}
