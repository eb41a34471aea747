package zk

import (
	"math/big"
	"testing"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/test"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/zkdelegate-org/zkdelegate/order"
)

const (
	circuitTestPrivHexA = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	circuitTestPrivHexB = "8a1f9a8f95be41cd7ccb6168179afb4504aefe388d1e14474d32c45c72ce7b7a"
)

// circuitTestOrder builds an order targeting the account derived from scalar,
// authorized by the key behind privHex, together with a valid signature.
func circuitTestOrder(t *testing.T, scalar int64, privHex string) (*order.DelegationOrder, *order.Signature) {
	t.Helper()

	priv, err := crypto.HexToECDSA(privHex)
	require.NoError(t, err)

	target, err := order.DeriveTargetAccount(big.NewInt(scalar))
	require.NoError(t, err)
	signer, err := order.SignerKeyFromPublic(&priv.PublicKey)
	require.NoError(t, err)
	ord, err := order.NewDelegationOrder(target, signer)
	require.NoError(t, err)

	sig, err := order.Sign(ord, priv)
	require.NoError(t, err)
	return ord, sig
}

// scalarWithTargetParity finds a small derivation scalar whose target account
// compresses with the requested parity prefix, so both prefix branches of the
// in-circuit encoding get exercised.
func scalarWithTargetParity(t *testing.T, prefix byte) int64 {
	t.Helper()
	for scalar := int64(1); scalar <= 64; scalar++ {
		target, err := order.DeriveTargetAccount(big.NewInt(scalar))
		require.NoError(t, err)
		if target.Compressed()[0] == prefix {
			return scalar
		}
	}
	t.Fatalf("no derivation scalar in [1,64] yields compressed prefix %#x", prefix)
	return 0
}

func delegateAssignment(ord *order.DelegationOrder, sig *order.Signature) *DelegateCircuit {
	assignment := &DelegateCircuit{}
	assignment.TargetX = ord.Target.X()
	assignment.TargetY = ord.Target.Y()
	assignment.SignerX.Limbs = bigIntToLimbs(ord.Signer.X())
	assignment.SignerY.Limbs = bigIntToLimbs(ord.Signer.Y())
	assignment.SigR.Limbs = bigIntToLimbs(sig.R())
	assignment.SigS.Limbs = bigIntToLimbs(sig.S())
	return assignment
}

func TestDelegateCircuitSolvesForSignedOrder(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping circuit test in short mode")
	}

	t.Run("even parity target", func(t *testing.T) {
		scalar := scalarWithTargetParity(t, 0x02)
		ord, sig := circuitTestOrder(t, scalar, circuitTestPrivHexA)
		err := test.IsSolved(&DelegateCircuit{}, delegateAssignment(ord, sig), ecc.BN254.ScalarField())
		require.NoError(t, err)
	})

	t.Run("odd parity target", func(t *testing.T) {
		scalar := scalarWithTargetParity(t, 0x03)
		ord, sig := circuitTestOrder(t, scalar, circuitTestPrivHexA)
		err := test.IsSolved(&DelegateCircuit{}, delegateAssignment(ord, sig), ecc.BN254.ScalarField())
		require.NoError(t, err)
	})
}

func TestDelegateCircuitRejectsTamperedSignature(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping circuit test in short mode")
	}

	ord, sig := circuitTestOrder(t, 7, circuitTestPrivHexA)
	assignment := delegateAssignment(ord, sig)
	assignment.SigS.Limbs = bigIntToLimbs(new(big.Int).Add(sig.S(), big.NewInt(1)))

	err := test.IsSolved(&DelegateCircuit{}, assignment, ecc.BN254.ScalarField())
	require.Error(t, err, "a corrupted signature scalar must not satisfy the circuit")
}

func TestDelegateCircuitRejectsForeignSigner(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping circuit test in short mode")
	}

	// Signature produced by key A, public inputs claiming key B.
	_, sig := circuitTestOrder(t, 7, circuitTestPrivHexA)
	ordB, _ := circuitTestOrder(t, 7, circuitTestPrivHexB)

	err := test.IsSolved(&DelegateCircuit{}, delegateAssignment(ordB, sig), ecc.BN254.ScalarField())
	require.Error(t, err, "a signature by another key must not satisfy the circuit")
}

func TestDelegateCircuitRejectsWrongTarget(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping circuit test in short mode")
	}

	// The signature commits to the target of ord; swapping in a different,
	// individually valid target changes the signed message.
	ord, sig := circuitTestOrder(t, 7, circuitTestPrivHexA)
	other, err := order.DeriveTargetAccount(big.NewInt(8))
	require.NoError(t, err)
	require.False(t, other.Equal(ord.Target))

	assignment := delegateAssignment(ord, sig)
	assignment.TargetX = other.X()
	assignment.TargetY = other.Y()

	err = test.IsSolved(&DelegateCircuit{}, assignment, ecc.BN254.ScalarField())
	require.Error(t, err, "a signature for a different target must not satisfy the circuit")
}
