package zk

import (
	"errors"
	"fmt"
	"sync"

	"github.com/consensys/gnark/backend/plonk"

	"github.com/zkdelegate-org/zkdelegate/order"
)

// ErrVerifierAlreadyInitialized is returned when a second global verifier
// registration is attempted.
var ErrVerifierAlreadyInitialized = errors.New("zk: verifier already initialized")

// CircuitKind identifies which circuit a proof was generated for.
type CircuitKind int

const (
	// CircuitDelegate is the authorization circuit: signature validity only.
	CircuitDelegate CircuitKind = iota
	// CircuitRecord is the recording circuit: signature validity plus the
	// map root transition.
	CircuitRecord
)

// String returns a human-readable name for the circuit kind.
func (k CircuitKind) String() string {
	switch k {
	case CircuitDelegate:
		return "Delegate"
	case CircuitRecord:
		return "Record"
	default:
		return "Unknown"
	}
}

// MultiVerifier holds one verifier per circuit kind.
type MultiVerifier struct {
	verifiers map[CircuitKind]*Verifier
	mu        sync.RWMutex
}

// NewMultiVerifier creates an empty multi-circuit verifier.
func NewMultiVerifier() *MultiVerifier {
	return &MultiVerifier{
		verifiers: make(map[CircuitKind]*Verifier),
	}
}

// RegisterCircuit registers a verifying key for a circuit kind.
func (mv *MultiVerifier) RegisterCircuit(kind CircuitKind, vk plonk.VerifyingKey) {
	mv.mu.Lock()
	defer mv.mu.Unlock()
	mv.verifiers[kind] = NewVerifier(vk)
}

// RegisterCircuitFromBytes registers a serialized verifying key for a circuit kind.
func (mv *MultiVerifier) RegisterCircuitFromBytes(kind CircuitKind, vkBytes []byte) error {
	vk, err := DeserializeVerifyingKey(vkBytes)
	if err != nil {
		return fmt.Errorf("failed to deserialize VK for %s: %w", kind, err)
	}
	mv.RegisterCircuit(kind, vk)
	return nil
}

// HasCircuit returns true if a VK is registered for the given circuit kind.
func (mv *MultiVerifier) HasCircuit(kind CircuitKind) bool {
	mv.mu.RLock()
	defer mv.mu.RUnlock()
	_, ok := mv.verifiers[kind]
	return ok
}

func (mv *MultiVerifier) verifierFor(kind CircuitKind) (*Verifier, error) {
	mv.mu.RLock()
	defer mv.mu.RUnlock()
	verifier, ok := mv.verifiers[kind]
	if !ok {
		return nil, fmt.Errorf("%s circuit not registered", kind)
	}
	return verifier, nil
}

// VerifyDelegateProof verifies an authorization proof for exactly ord.
func (mv *MultiVerifier) VerifyDelegateProof(proof *Proof, ord *order.DelegationOrder) error {
	verifier, err := mv.verifierFor(CircuitDelegate)
	if err != nil {
		return err
	}
	if proof == nil || proof.ProofData == nil {
		return fmt.Errorf("proof cannot be nil")
	}
	return verifier.VerifyDelegateProof(proof, ord)
}

// VerifyRecordProof verifies a recording proof for ord over the given root pair.
func (mv *MultiVerifier) VerifyRecordProof(proof *Proof, ord *order.DelegationOrder, oldRoot, newRoot [32]byte) error {
	verifier, err := mv.verifierFor(CircuitRecord)
	if err != nil {
		return err
	}
	if proof == nil || proof.ProofData == nil {
		return fmt.Errorf("proof cannot be nil")
	}
	return verifier.VerifyRecordProof(proof, ord, oldRoot, newRoot)
}

// VerifyProof verifies a proof of the given kind against its embedded public
// inputs.
func (mv *MultiVerifier) VerifyProof(kind CircuitKind, proof *Proof) error {
	verifier, err := mv.verifierFor(kind)
	if err != nil {
		return err
	}
	if proof == nil || proof.ProofData == nil {
		return fmt.Errorf("proof cannot be nil")
	}
	return verifier.VerifyProof(proof)
}

// globalMultiVerifierState holds the global multi-verifier state
type globalMultiVerifierState struct {
	mu          sync.RWMutex
	verifier    *MultiVerifier
	initialized bool
}

var globalMultiState = &globalMultiVerifierState{}

// RegisterMultiVerifier registers the global multi-verifier.
// SECURITY: Once initialized, no new verifier can replace it.
func RegisterMultiVerifier(mv *MultiVerifier) error {
	globalMultiState.mu.Lock()
	defer globalMultiState.mu.Unlock()

	if globalMultiState.initialized {
		return ErrVerifierAlreadyInitialized
	}

	globalMultiState.verifier = mv
	globalMultiState.initialized = true
	return nil
}

// GetMultiVerifier returns the global multi-verifier
func GetMultiVerifier() (*MultiVerifier, error) {
	globalMultiState.mu.RLock()
	defer globalMultiState.mu.RUnlock()

	if globalMultiState.verifier == nil {
		return nil, fmt.Errorf("multi-verifier not initialized")
	}
	return globalMultiState.verifier, nil
}

// IsMultiVerifierInitialized returns true if the global multi-verifier is initialized
func IsMultiVerifierInitialized() bool {
	globalMultiState.mu.RLock()
	defer globalMultiState.mu.RUnlock()
	return globalMultiState.initialized
}
