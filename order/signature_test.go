package order

import (
	stdecdsa "crypto/ecdsa"
	"math/big"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	btcecdsa "github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

// testECDSAKey converts a btcec key into the stdlib form Sign expects.
// go-ethereum's Sign compares the key's Curve by identity against its own
// S256 wrapper, so the curve must be swapped to that instance.
func testECDSAKey(priv *btcec.PrivateKey) *stdecdsa.PrivateKey {
	key := priv.ToECDSA()
	key.Curve = crypto.S256()
	return key
}

func TestSignVerifyRoundTrip(t *testing.T) {
	priv, signer := testSignerKey(t, testPrivHexA)
	target, err := DeriveTargetAccount(big.NewInt(7))
	require.NoError(t, err)
	ord, err := NewDelegationOrder(target, signer)
	require.NoError(t, err)

	sig, err := Sign(ord, testECDSAKey(priv))
	require.NoError(t, err)
	require.NoError(t, Verify(ord, sig))
}

func TestVerifyRejectsCorruptedSignature(t *testing.T) {
	priv, signer := testSignerKey(t, testPrivHexA)
	target, err := DeriveTargetAccount(big.NewInt(7))
	require.NoError(t, err)
	ord, err := NewDelegationOrder(target, signer)
	require.NoError(t, err)

	sig, err := Sign(ord, testECDSAKey(priv))
	require.NoError(t, err)

	compact := sig.Compact()
	compact[10] ^= 0xFF
	corrupted, err := SignatureFromCompact(compact[:])
	require.NoError(t, err)
	require.ErrorIs(t, Verify(ord, corrupted), ErrSignatureInvalid)
}

func TestVerifyRejectsWrongSigner(t *testing.T) {
	privA, _ := testSignerKey(t, testPrivHexA)
	_, signerB := testSignerKey(t, testPrivHexB)
	target, err := DeriveTargetAccount(big.NewInt(7))
	require.NoError(t, err)

	ord, err := NewDelegationOrder(target, signerB)
	require.NoError(t, err)

	sig, err := Sign(ord, testECDSAKey(privA))
	require.NoError(t, err)
	require.ErrorIs(t, Verify(ord, sig), ErrSignatureInvalid)
}

func TestNewSignatureNormalizesHighS(t *testing.T) {
	priv, signer := testSignerKey(t, testPrivHexA)
	target, err := DeriveTargetAccount(big.NewInt(7))
	require.NoError(t, err)
	ord, err := NewDelegationOrder(target, signer)
	require.NoError(t, err)

	sig, err := Sign(ord, testECDSAKey(priv))
	require.NoError(t, err)

	n := crypto.S256().Params().N
	highS := new(big.Int).Sub(n, sig.S())
	normalized, err := NewSignature(sig.R(), highS)
	require.NoError(t, err)
	require.Equal(t, sig.S(), normalized.S())
	require.NoError(t, Verify(ord, normalized))
}

func TestNewSignatureRejectsOutOfRangeScalars(t *testing.T) {
	n := crypto.S256().Params().N

	_, err := NewSignature(big.NewInt(0), big.NewInt(1))
	require.ErrorIs(t, err, ErrSignatureInvalid)

	_, err = NewSignature(big.NewInt(1), new(big.Int).Set(n))
	require.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestSignatureFromDER(t *testing.T) {
	priv, signer := testSignerKey(t, testPrivHexA)
	target, err := DeriveTargetAccount(big.NewInt(7))
	require.NoError(t, err)
	ord, err := NewDelegationOrder(target, signer)
	require.NoError(t, err)

	digest := SigningDigest(ord)
	derSig := btcecdsa.Sign(priv, digest[:])

	sig, err := SignatureFromDER(derSig.Serialize())
	require.NoError(t, err)
	require.NoError(t, Verify(ord, sig))
}

func TestSignatureCompactRoundTrip(t *testing.T) {
	priv, signer := testSignerKey(t, testPrivHexA)
	target, err := DeriveTargetAccount(big.NewInt(7))
	require.NoError(t, err)
	ord, err := NewDelegationOrder(target, signer)
	require.NoError(t, err)

	sig, err := Sign(ord, testECDSAKey(priv))
	require.NoError(t, err)

	compact := sig.Compact()
	decoded, err := SignatureFromCompact(compact[:])
	require.NoError(t, err)
	require.Equal(t, sig.R(), decoded.R())
	require.Equal(t, sig.S(), decoded.S())
}
