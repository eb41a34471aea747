package order

import (
	stdecdsa "crypto/ecdsa"
	"fmt"
	"math/big"

	btcecdsa "github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signature is a secp256k1 ECDSA signature over an order's signing digest.
// Construction normalizes S to the low half of the scalar group, so a
// signature value is always in its canonical malleability-free form.
type Signature struct {
	r, s *big.Int
}

// NewSignature validates the scalar ranges and normalizes S.
func NewSignature(r, s *big.Int) (*Signature, error) {
	n := crypto.S256().Params().N
	if r == nil || s == nil {
		return nil, fmt.Errorf("%w: nil scalar", ErrSignatureInvalid)
	}
	if r.Sign() <= 0 || r.Cmp(n) >= 0 {
		return nil, fmt.Errorf("%w: r out of range", ErrSignatureInvalid)
	}
	if s.Sign() <= 0 || s.Cmp(n) >= 0 {
		return nil, fmt.Errorf("%w: s out of range", ErrSignatureInvalid)
	}
	sig := &Signature{
		r: new(big.Int).Set(r),
		s: new(big.Int).Set(s),
	}
	halfN := new(big.Int).Rsh(n, 1)
	if sig.s.Cmp(halfN) > 0 {
		sig.s.Sub(n, sig.s)
	}
	return sig, nil
}

// SignatureFromCompact parses a 64-byte R || S encoding. A trailing recovery
// byte is tolerated and ignored.
func SignatureFromCompact(b []byte) (*Signature, error) {
	if len(b) != 64 && len(b) != 65 {
		return nil, fmt.Errorf("%w: compact encoding must be 64 or 65 bytes, got %d", ErrSignatureInvalid, len(b))
	}
	r := new(big.Int).SetBytes(b[:32])
	s := new(big.Int).SetBytes(b[32:64])
	return NewSignature(r, s)
}

// SignatureFromDER parses a DER-encoded signature as emitted by most
// secp256k1 signers.
func SignatureFromDER(der []byte) (*Signature, error) {
	parsed, err := btcecdsa.ParseDERSignature(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	rScalar := parsed.R()
	sScalar := parsed.S()
	rBytes := rScalar.Bytes()
	sBytes := sScalar.Bytes()
	return NewSignature(new(big.Int).SetBytes(rBytes[:]), new(big.Int).SetBytes(sBytes[:]))
}

// R returns a copy of the R scalar.
func (sig *Signature) R() *big.Int {
	return new(big.Int).Set(sig.r)
}

// S returns a copy of the normalized S scalar.
func (sig *Signature) S() *big.Int {
	return new(big.Int).Set(sig.s)
}

// Compact returns the 64-byte R || S encoding.
func (sig *Signature) Compact() [64]byte {
	var out [64]byte
	sig.r.FillBytes(out[:32])
	sig.s.FillBytes(out[32:])
	return out
}

// Sign authorizes an order with the given secp256k1 private key. The key must
// belong to the order's signer for the result to verify.
func Sign(o *DelegationOrder, priv *stdecdsa.PrivateKey) (*Signature, error) {
	digest := SigningDigest(o)
	sigBytes, err := crypto.Sign(digest[:], priv)
	if err != nil {
		return nil, fmt.Errorf("order: sign: %w", err)
	}
	return SignatureFromCompact(sigBytes)
}

// Verify checks the signature against the order's signing digest and signer
// key. It returns ErrSignatureInvalid when the signature does not verify.
func Verify(o *DelegationOrder, sig *Signature) error {
	if o == nil || sig == nil {
		return fmt.Errorf("%w: nil input", ErrSignatureInvalid)
	}
	pub := make([]byte, 65)
	pub[0] = 0x04
	o.Signer.x.FillBytes(pub[1:33])
	o.Signer.y.FillBytes(pub[33:])
	digest := SigningDigest(o)
	compact := sig.Compact()
	if !crypto.VerifySignature(pub, digest[:], compact[:]) {
		return ErrSignatureInvalid
	}
	return nil
}
