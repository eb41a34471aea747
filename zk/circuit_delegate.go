package zk

import (
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/algebra/emulated/sw_emulated"
	keccak "github.com/consensys/gnark/std/hash/sha3"
	"github.com/consensys/gnark/std/math/emulated"
	"github.com/consensys/gnark/std/math/uints"
	"github.com/consensys/gnark/std/signature/ecdsa"

	"github.com/zkdelegate-org/zkdelegate/order"
)

// DelegateCircuit proves that a secp256k1 signature authorizes the delegation
// of a target account, without revealing the signature. The target point and
// the signer key are public; the signature scalars are the only secrets.
//
// The circuit rebuilds the exact byte string the native signer committed to:
// the personal-sign envelope over the canonical order message, keccak-hashed
// and reduced into the secp256k1 scalar field.
type DelegateCircuit struct {
	// TargetX and TargetY are the coordinates of the target account on the
	// embedded twisted Edwards curve, native field elements.
	TargetX frontend.Variable `gnark:",public"`
	TargetY frontend.Variable `gnark:",public"`

	// SignerX and SignerY are the secp256k1 public key coordinates.
	SignerX emulated.Element[Secp256k1Fp] `gnark:",public"`
	SignerY emulated.Element[Secp256k1Fp] `gnark:",public"`

	// SigR and SigS are the ECDSA signature scalars.
	SigR emulated.Element[Secp256k1Fr] `gnark:",secret"`
	SigS emulated.Element[Secp256k1Fr] `gnark:",secret"`
}

// Define declares the delegation authorization constraints.
func (c *DelegateCircuit) Define(api frontend.API) error {
	return assertOrderSignature(api, c.TargetX, c.TargetY, c.SignerX, c.SignerY, c.SigR, c.SigS)
}

// NewDelegateCircuitPlaceholder creates an empty circuit for compilation.
func NewDelegateCircuitPlaceholder() *DelegateCircuit {
	return &DelegateCircuit{}
}

// assertOrderSignature constrains (sigR, sigS) to be a valid ECDSA signature
// by (signerX, signerY) over the signing digest of the order whose target is
// (targetX, targetY). Shared by every circuit that authenticates an order.
func assertOrderSignature(
	api frontend.API,
	targetX, targetY frontend.Variable,
	signerX, signerY emulated.Element[Secp256k1Fp],
	sigR, sigS emulated.Element[Secp256k1Fr],
) error {
	uapi, err := uints.New[uints.U32](api)
	if err != nil {
		return err
	}
	scalarField, err := emulated.NewField[Secp256k1Fr](api)
	if err != nil {
		return err
	}

	envelope := envelopeBytes(api, uapi, targetX, targetY)

	h, err := keccak.NewLegacyKeccak256(api)
	if err != nil {
		return err
	}
	h.Write(envelope)
	digest := h.Sum()

	msgScalar := digestToScalar(api, scalarField, digest)

	pubKey := ecdsa.PublicKey[Secp256k1Fp, Secp256k1Fr]{X: signerX, Y: signerY}
	sig := &ecdsa.Signature[Secp256k1Fr]{R: sigR, S: sigS}
	pubKey.Verify(api, sw_emulated.GetSecp256k1Params(), msgScalar, sig)
	return nil
}

// envelopeBytes assembles the fixed-length signing envelope. Everything but
// the compressed target encoding is constant, so the keccak input width never
// depends on the witness.
func envelopeBytes(api frontend.API, uapi *uints.BinaryField[uints.U32], targetX, targetY frontend.Variable) []uints.U8 {
	out := make([]uints.U8, 0, order.EnvelopeLen)
	out = append(out, uints.NewU8Array(order.EnvelopeHeader())...)
	out = append(out, compressedTargetBytes(api, uapi, targetX, targetY)...)
	return out
}

// compressedTargetBytes encodes the target point exactly the way the native
// compressed encoding does: a parity prefix byte (0x02 or 0x03 depending on
// the low bit of Y) followed by X as 32 big-endian bytes.
func compressedTargetBytes(api frontend.API, uapi *uints.BinaryField[uints.U32], targetX, targetY frontend.Variable) []uints.U8 {
	fieldBits := api.Compiler().FieldBitLen()
	xBits := api.ToBinary(targetX, fieldBits)
	yBits := api.ToBinary(targetY, fieldBits)

	out := make([]uints.U8, 0, order.CompressedTargetLen)
	out = append(out, uapi.ByteValueOf(api.Add(2, yBits[0])))

	for byteIdx := 0; byteIdx < 32; byteIdx++ {
		var byteVal frontend.Variable = 0
		for bitIdx := 0; bitIdx < 8; bitIdx++ {
			srcBitIdx := (31-byteIdx)*8 + bitIdx
			if srcBitIdx >= fieldBits {
				continue
			}
			byteVal = api.Add(byteVal, api.Mul(xBits[srcBitIdx], 1<<uint(bitIdx)))
		}
		out = append(out, uapi.ByteValueOf(byteVal))
	}
	return out
}

// digestToScalar reduces the big-endian keccak digest into the secp256k1
// scalar field, matching the native verifier's interpretation of the digest.
func digestToScalar(api frontend.API, field *emulated.Field[Secp256k1Fr], digest []uints.U8) *emulated.Element[Secp256k1Fr] {
	digestBits := make([]frontend.Variable, 256)
	for i := 0; i < 32; i++ {
		byteBits := api.ToBinary(digest[31-i].Val, 8)
		copy(digestBits[i*8:], byteBits)
	}
	return field.FromBits(digestBits...)
}
