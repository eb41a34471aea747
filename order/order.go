// Package order defines delegation orders: the pairing of a target account
// on the BN254 twisted Edwards curve with the secp256k1 key that authorizes
// operating it. The package owns the canonical byte encodings, the signing
// digest and the order hash that every other layer (circuits, map, registry)
// agrees on.
package order

import (
	stdecdsa "crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/twistededwards"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrInvalidTargetAccount = errors.New("order: invalid target account")
	ErrInvalidSignerKey     = errors.New("order: invalid signer key")
	ErrSignatureInvalid     = errors.New("order: signature invalid")
)

// CompressedTargetLen is the length of a compressed target account encoding:
// one prefix byte carrying the Y parity followed by the 32-byte big-endian X
// coordinate.
const CompressedTargetLen = 33

// TargetAccount is a point on the twisted Edwards curve embedded in the BN254
// scalar field. Construction validates the curve equation, so a TargetAccount
// value always holds a well-formed point.
type TargetAccount struct {
	point twistededwards.PointAffine
}

// NewTargetAccount builds a target account from affine coordinates. Both
// coordinates must be canonical field elements and the pair must satisfy the
// curve equation.
func NewTargetAccount(x, y *big.Int) (*TargetAccount, error) {
	if x == nil || y == nil {
		return nil, fmt.Errorf("%w: nil coordinate", ErrInvalidTargetAccount)
	}
	if x.Sign() < 0 || x.Cmp(fr.Modulus()) >= 0 {
		return nil, fmt.Errorf("%w: x out of field range", ErrInvalidTargetAccount)
	}
	if y.Sign() < 0 || y.Cmp(fr.Modulus()) >= 0 {
		return nil, fmt.Errorf("%w: y out of field range", ErrInvalidTargetAccount)
	}
	var t TargetAccount
	t.point.X.SetBigInt(x)
	t.point.Y.SetBigInt(y)
	if !t.point.IsOnCurve() {
		return nil, fmt.Errorf("%w: point not on curve", ErrInvalidTargetAccount)
	}
	return &t, nil
}

// DeriveTargetAccount multiplies the curve base point by scalar. It is the
// keygen path: the scalar stays with the account owner, the resulting point
// is what gets delegated to.
func DeriveTargetAccount(scalar *big.Int) (*TargetAccount, error) {
	if scalar == nil || scalar.Sign() <= 0 {
		return nil, fmt.Errorf("%w: scalar must be positive", ErrInvalidTargetAccount)
	}
	curve := twistededwards.GetEdwardsCurve()
	var t TargetAccount
	t.point.ScalarMultiplication(&curve.Base, scalar)
	return &t, nil
}

// TargetAccountFromCompressed decodes the 33-byte compressed encoding. The Y
// coordinate is recovered by solving the curve equation and choosing the root
// whose parity matches the prefix byte.
func TargetAccountFromCompressed(b []byte) (*TargetAccount, error) {
	if len(b) != CompressedTargetLen {
		return nil, fmt.Errorf("%w: compressed encoding must be %d bytes, got %d", ErrInvalidTargetAccount, CompressedTargetLen, len(b))
	}
	if b[0] != 0x02 && b[0] != 0x03 {
		return nil, fmt.Errorf("%w: unknown prefix byte 0x%02x", ErrInvalidTargetAccount, b[0])
	}
	x := new(big.Int).SetBytes(b[1:])
	if x.Cmp(fr.Modulus()) >= 0 {
		return nil, fmt.Errorf("%w: x out of field range", ErrInvalidTargetAccount)
	}
	var xe fr.Element
	xe.SetBigInt(x)

	// Solve a*x^2 + y^2 = 1 + d*x^2*y^2 for y:
	// y^2 = (1 - a*x^2) / (1 - d*x^2).
	curve := twistededwards.GetEdwardsCurve()
	var x2, ax2, dx2, num, den, y2, y fr.Element
	x2.Square(&xe)
	ax2.Mul(&curve.A, &x2)
	dx2.Mul(&curve.D, &x2)
	var one fr.Element
	one.SetOne()
	num.Sub(&one, &ax2)
	den.Sub(&one, &dx2)
	if den.IsZero() {
		return nil, fmt.Errorf("%w: x has no matching y", ErrInvalidTargetAccount)
	}
	den.Inverse(&den)
	y2.Mul(&num, &den)
	if y.Sqrt(&y2) == nil {
		return nil, fmt.Errorf("%w: x has no matching y", ErrInvalidTargetAccount)
	}
	wantOdd := b[0] == 0x03
	isOdd := y.BigInt(new(big.Int)).Bit(0) == 1
	if isOdd != wantOdd {
		y.Neg(&y)
	}

	var t TargetAccount
	t.point.X.Set(&xe)
	t.point.Y.Set(&y)
	if !t.point.IsOnCurve() {
		return nil, fmt.Errorf("%w: point not on curve", ErrInvalidTargetAccount)
	}
	return &t, nil
}

// X returns a copy of the big-endian X coordinate.
func (t *TargetAccount) X() *big.Int {
	return t.point.X.BigInt(new(big.Int))
}

// Y returns a copy of the big-endian Y coordinate.
func (t *TargetAccount) Y() *big.Int {
	return t.point.Y.BigInt(new(big.Int))
}

// Compressed returns the 33-byte encoding: 0x02 or 0x03 depending on the
// parity of Y, followed by X as 32 big-endian bytes.
func (t *TargetAccount) Compressed() [CompressedTargetLen]byte {
	var out [CompressedTargetLen]byte
	yInt := t.point.Y.BigInt(new(big.Int))
	out[0] = 0x02 + byte(yInt.Bit(0))
	xBytes := t.point.X.Bytes()
	copy(out[1:], xBytes[:])
	return out
}

// Equal reports whether two target accounts are the same curve point.
func (t *TargetAccount) Equal(other *TargetAccount) bool {
	if t == nil || other == nil {
		return t == other
	}
	return t.point.Equal(&other.point)
}

// SignerKey is a secp256k1 public key in affine coordinates. Construction
// validates that the point lies on the curve.
type SignerKey struct {
	x, y *big.Int
}

// NewSignerKey builds a signer key from affine coordinates.
func NewSignerKey(x, y *big.Int) (*SignerKey, error) {
	if x == nil || y == nil {
		return nil, fmt.Errorf("%w: nil coordinate", ErrInvalidSignerKey)
	}
	if x.Sign() < 0 || y.Sign() < 0 || x.BitLen() > 256 || y.BitLen() > 256 {
		return nil, fmt.Errorf("%w: coordinate out of range", ErrInvalidSignerKey)
	}
	uncompressed := make([]byte, 65)
	uncompressed[0] = 0x04
	x.FillBytes(uncompressed[1:33])
	y.FillBytes(uncompressed[33:])
	if _, err := crypto.UnmarshalPubkey(uncompressed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignerKey, err)
	}
	return &SignerKey{
		x: new(big.Int).Set(x),
		y: new(big.Int).Set(y),
	}, nil
}

// SignerKeyFromPublic converts an ECDSA public key on secp256k1.
func SignerKeyFromPublic(pub *stdecdsa.PublicKey) (*SignerKey, error) {
	if pub == nil {
		return nil, fmt.Errorf("%w: nil key", ErrInvalidSignerKey)
	}
	return NewSignerKey(pub.X, pub.Y)
}

// SignerKeyFromCompressed decodes a 33-byte compressed secp256k1 public key.
func SignerKeyFromCompressed(b []byte) (*SignerKey, error) {
	pub, err := crypto.DecompressPubkey(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignerKey, err)
	}
	return &SignerKey{
		x: new(big.Int).Set(pub.X),
		y: new(big.Int).Set(pub.Y),
	}, nil
}

// X returns a copy of the X coordinate.
func (k *SignerKey) X() *big.Int {
	return new(big.Int).Set(k.x)
}

// Y returns a copy of the Y coordinate.
func (k *SignerKey) Y() *big.Int {
	return new(big.Int).Set(k.y)
}

// Compressed returns the standard 33-byte compressed encoding.
func (k *SignerKey) Compressed() []byte {
	pub := &stdecdsa.PublicKey{Curve: crypto.S256(), X: k.x, Y: k.y}
	return crypto.CompressPubkey(pub)
}

// Equal reports whether two signer keys have identical coordinates.
func (k *SignerKey) Equal(other *SignerKey) bool {
	if k == nil || other == nil {
		return k == other
	}
	return k.x.Cmp(other.x) == 0 && k.y.Cmp(other.y) == 0
}

// DelegationOrder pairs a target account with the signer key authorized to
// operate it. Orders are immutable once constructed.
type DelegationOrder struct {
	Target *TargetAccount
	Signer *SignerKey
}

// NewDelegationOrder builds an order from its two components.
func NewDelegationOrder(target *TargetAccount, signer *SignerKey) (*DelegationOrder, error) {
	if target == nil {
		return nil, fmt.Errorf("%w: nil target", ErrInvalidTargetAccount)
	}
	if signer == nil {
		return nil, fmt.Errorf("%w: nil signer", ErrInvalidSignerKey)
	}
	return &DelegationOrder{Target: target, Signer: signer}, nil
}

// Equal reports whether two orders bind the same target to the same signer.
func (o *DelegationOrder) Equal(other *DelegationOrder) bool {
	if o == nil || other == nil {
		return o == other
	}
	return o.Target.Equal(other.Target) && o.Signer.Equal(other.Signer)
}
