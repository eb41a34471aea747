package order

import (
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
)

// orderHashTag seeds the domain separator absorbed ahead of the order fields,
// keeping order hashes disjoint from any other MiMC use of the same curve.
const orderHashTag = "zkdelegate-hash-v1"

var orderHashDomain = new(big.Int).SetBytes([]byte(orderHashTag))

// HashDomain returns the domain separator absorbed first by Hash. The record
// circuit absorbs the same constant when it rebinds an order to its map key.
func HashDomain() *big.Int {
	return new(big.Int).Set(orderHashDomain)
}

// signerLimbs splits a secp256k1 coordinate into four 64-bit limbs, least
// significant first. The layout matches the limb decomposition the circuits
// use for non-native field elements, so the native hash and the in-circuit
// hash absorb identical sequences.
func signerLimbs(coord *big.Int) [4]*big.Int {
	var limbs [4]*big.Int
	var padded [32]byte
	coord.FillBytes(padded[:])
	for i := 0; i < 4; i++ {
		limbs[i] = new(big.Int).SetBytes(padded[24-i*8 : 32-i*8])
	}
	return limbs
}

// Hash derives the order's map key: a MiMC digest over the domain separator,
// the target coordinates and the signer coordinates in limb form. Unlike the
// canonical message, the hash does commit to the signer key, so the same
// target delegated to two different signers occupies two distinct keys.
func Hash(o *DelegationOrder) [32]byte {
	h := mimc.NewMiMC()
	writeInt := func(v *big.Int) {
		var e fr.Element
		e.SetBigInt(v)
		b := e.Bytes()
		_, _ = h.Write(b[:])
	}
	writeInt(orderHashDomain)
	writeInt(o.Target.X())
	writeInt(o.Target.Y())
	for _, limb := range signerLimbs(o.Signer.X()) {
		writeInt(limb)
	}
	for _, limb := range signerLimbs(o.Signer.Y()) {
		writeInt(limb)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
