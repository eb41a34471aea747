//go:build testing

package registry

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zkdelegate-org/zkdelegate/merklemap"
	"github.com/zkdelegate-org/zkdelegate/order"
	"github.com/zkdelegate-org/zkdelegate/zk"
)

// TestSubmitTransition_Integration lands a proved recording in the registry:
// the prover holds the map and the signature, the registry sees only the
// proof and its public inputs.
func TestSubmitTransition_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	t.Log("Step 1: Running PLONK setup for the record circuit...")
	setup, err := zk.SetupRecordWithOptions(zk.TestSetupOptions())
	require.NoError(t, err, "setup should succeed")

	mv := zk.NewMultiVerifier()
	mv.RegisterCircuit(zk.CircuitRecord, setup.VerifyingKey)
	reg := New(mv, nil)

	m := merklemap.New()
	ord, sig := testOrderAndSig(t, 7, testPrivHexA)
	w, recorded, err := m.RecordCandidate(ord)
	require.NoError(t, err)
	require.True(t, recorded)

	t.Log("Step 2: Generating the recording proof...")
	prover := zk.RecordProverFromSetup(setup)
	proof, err := prover.GenerateProof(ord, sig, w)
	require.NoError(t, err)

	t.Log("Step 3: Submitting the transition...")
	newRoot, err := reg.SubmitTransition(proof)
	require.NoError(t, err)
	require.Equal(t, m.Root(), newRoot)
	require.Equal(t, newRoot, reg.CurrentRoot())

	audit := reg.AuditLog()
	require.Len(t, audit, 1)
	require.Equal(t, order.Hash(ord), audit[0].OrderHash)

	t.Log("Step 4: Confirming with a fresh witness...")
	fresh, err := m.Witness(order.Hash(ord))
	require.NoError(t, err)
	require.NoError(t, reg.Confirm(ord, fresh))

	t.Run("replayed proof is stale", func(t *testing.T) {
		_, err := reg.SubmitTransition(proof)
		require.ErrorIs(t, err, ErrWitnessStale)
	})

	t.Run("tampered proof is rejected", func(t *testing.T) {
		tampered := &zk.Proof{
			ProofData:    append([]byte(nil), proof.ProofData...),
			PublicInputs: append([]byte(nil), proof.PublicInputs...),
		}
		tampered.ProofData[16] ^= 0x01
		_, err := reg.SubmitTransition(tampered)
		require.Error(t, err)
		require.NotErrorIs(t, err, ErrWitnessStale)
	})
}
