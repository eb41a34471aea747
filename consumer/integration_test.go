//go:build testing

package consumer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zkdelegate-org/zkdelegate/zk"
)

// TestAssertDelegationWithProof_Integration drives the proof-carrying
// evidence path end to end: a delegation proved off to the side is accepted
// without any registry state, and only for the target it names.
func TestAssertDelegationWithProof_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	t.Log("Step 1: Running PLONK setup for the delegate circuit...")
	setup, err := zk.SetupDelegateWithOptions(zk.TestSetupOptions())
	require.NoError(t, err, "setup should succeed")

	mv := zk.NewMultiVerifier()
	mv.RegisterCircuit(zk.CircuitDelegate, setup.VerifyingKey)
	deps := Dependencies{Verifiers: mv}

	ord, sig := testOrderAndSig(t, 7, testPrivHexA)

	t.Log("Step 2: Generating the authorization proof...")
	prover := zk.ProverFromSetup(setup)
	proof, err := prover.GenerateProof(ord, sig)
	require.NoError(t, err)

	t.Log("Step 3: Asserting the delegation from the proof...")
	require.NoError(t, AssertDelegation(RecursiveProof{Proof: proof}, ord, ord.Target, deps))

	t.Run("wrong caller", func(t *testing.T) {
		other, _ := testOrderAndSig(t, 9, testPrivHexB)
		err := AssertDelegation(RecursiveProof{Proof: proof}, ord, other.Target, deps)
		require.ErrorIs(t, err, ErrCallerMismatch)
	})

	t.Run("proof for a different order", func(t *testing.T) {
		other, _ := testOrderAndSig(t, 9, testPrivHexB)
		err := AssertDelegation(RecursiveProof{Proof: proof}, other, other.Target, deps)
		require.ErrorContains(t, err, "different order")
	})

	t.Run("tampered proof", func(t *testing.T) {
		tampered := &zk.Proof{
			ProofData:    append([]byte(nil), proof.ProofData...),
			PublicInputs: append([]byte(nil), proof.PublicInputs...),
		}
		tampered.ProofData[24] ^= 0x01
		err := AssertDelegation(RecursiveProof{Proof: tampered}, ord, ord.Target, deps)
		require.Error(t, err)
	})
}
