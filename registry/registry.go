// Package registry tracks committed delegation state as a single map root
// moving forward through verified transitions. The registry never stores the
// map itself: callers hold witnesses, the registry holds the root they must
// agree with.
package registry

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zkdelegate-org/zkdelegate/merklemap"
	"github.com/zkdelegate-org/zkdelegate/metrics"
	"github.com/zkdelegate-org/zkdelegate/order"
	"github.com/zkdelegate-org/zkdelegate/zk"
)

var (
	// ErrSignatureInvalid aliases the order package sentinel so callers can
	// match every registry rejection against one taxonomy.
	ErrSignatureInvalid = order.ErrSignatureInvalid

	// ErrWitnessStale is returned when a witness or proof was built against
	// a root the registry has since moved past.
	ErrWitnessStale = errors.New("registry: witness stale")

	// ErrAlreadyDelegated is returned when the requested transition is
	// already committed. Callers treat it as success already achieved.
	ErrAlreadyDelegated = errors.New("registry: order already delegated")

	// ErrNotYetDelegated is returned by Confirm when the order's leaf is not
	// set under the current root.
	ErrNotYetDelegated = errors.New("registry: order not yet delegated")
)

// AuditEntry records one accepted transition.
type AuditEntry struct {
	Seq       uint64
	Time      time.Time
	OrderHash [32]byte
	Root      [32]byte
}

// Registry is the delegation state machine. The committed root only ever
// moves forward; concurrent writers race through witness staleness, not
// locks. The internal mutex makes the root swap itself atomic in-process.
type Registry struct {
	mu    sync.RWMutex
	root  [32]byte
	seq   uint64
	audit []AuditEntry

	logger    zerolog.Logger
	metrics   *metrics.Metrics
	verifiers *zk.MultiVerifier
}

// New creates a registry starting from the empty map root. Both the verifier
// and the metrics sink may be nil; SubmitTransition then falls back to the
// process-global verifier.
func New(verifiers *zk.MultiVerifier, m *metrics.Metrics) *Registry {
	return NewWithRoot(merklemap.EmptyRoot(), verifiers, m)
}

// NewWithRoot creates a registry resuming from a previously committed root.
func NewWithRoot(root [32]byte, verifiers *zk.MultiVerifier, m *metrics.Metrics) *Registry {
	return &Registry{
		root:      root,
		logger:    log.With().Str("module", "registry").Logger(),
		metrics:   m,
		verifiers: verifiers,
	}
}

// CurrentRoot returns the committed root.
func (r *Registry) CurrentRoot() [32]byte {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.root
}

// Record commits the delegation of ord: the signature is asserted natively,
// then the order's leaf moves from zero to one under the caller's witness.
// The witness must have been built against the current root; losing that
// race returns ErrWitnessStale and the caller refetches and retries. A
// transition that is already committed returns the current root together
// with ErrAlreadyDelegated.
func (r *Registry) Record(ord *order.DelegationOrder, w *merklemap.MembershipWitness, sig *order.Signature) ([32]byte, error) {
	if err := order.Verify(ord, sig); err != nil {
		r.metrics.IncrCounter(metrics.MetricNameRecordsRejected)
		return [32]byte{}, err
	}

	newRoot, err := r.ProposeTransition(order.Hash(ord), 0, 1, w)
	if err != nil {
		if !errors.Is(err, ErrAlreadyDelegated) {
			r.metrics.IncrCounter(metrics.MetricNameRecordsRejected)
		}
		return newRoot, err
	}
	return newRoot, nil
}

// ProposeTransition is the compare-and-swap core: it commits the witness's
// recomputed newVal root if and only if the witness at oldVal reproduces the
// current root. The witness pins every other leaf, so a successful swap
// changes exactly the one leaf at key.
func (r *Registry) ProposeTransition(key [32]byte, oldVal, newVal uint8, w *merklemap.MembershipWitness) ([32]byte, error) {
	if oldVal == newVal {
		return [32]byte{}, fmt.Errorf("registry: %d -> %d is not a transition", oldVal, newVal)
	}
	if w == nil || w.Key != key {
		return [32]byte{}, fmt.Errorf("witness does not cover key %s: %w", hex.EncodeToString(key[:]), ErrWitnessStale)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if w.Recompute(oldVal) != r.root {
		if w.Recompute(newVal) == r.root {
			return r.root, ErrAlreadyDelegated
		}
		return [32]byte{}, ErrWitnessStale
	}

	newRoot := w.Recompute(newVal)
	r.commitLocked(key, newRoot)
	return newRoot, nil
}

// Confirm checks that ord is delegated under the current root. It is
// read-only and freely concurrent with transitions; a witness that predates
// the latest transition reports ErrWitnessStale rather than a verdict.
func (r *Registry) Confirm(ord *order.DelegationOrder, w *merklemap.MembershipWitness) error {
	key := order.Hash(ord)
	if w == nil || w.Key != key {
		r.metrics.IncrCounter(metrics.MetricNameConfirmsRejected)
		return fmt.Errorf("witness does not cover key %s: %w", hex.EncodeToString(key[:]), ErrWitnessStale)
	}
	if w.Value != 1 {
		r.metrics.IncrCounter(metrics.MetricNameConfirmsRejected)
		return ErrNotYetDelegated
	}
	if !w.Consistent(r.CurrentRoot(), 1) {
		r.metrics.IncrCounter(metrics.MetricNameConfirmsRejected)
		return ErrWitnessStale
	}
	r.metrics.IncrCounter(metrics.MetricNameConfirmsAccepted)
	return nil
}

// SubmitTransition lands a recording proved elsewhere: the proof carries the
// order and both roots as public inputs, so the prover never reveals the
// signature or the sibling path to the registry. The proof's old root must
// equal the current root, which gives proofs the same compare-and-swap
// semantics as witnesses.
func (r *Registry) SubmitTransition(p *zk.Proof) ([32]byte, error) {
	if p == nil {
		r.metrics.IncrCounter(metrics.MetricNameRecordsRejected)
		return [32]byte{}, fmt.Errorf("proof cannot be nil")
	}

	publics, err := zk.ExtractRecordPublics(p)
	if err != nil {
		r.metrics.IncrCounter(metrics.MetricNameRecordsRejected)
		return [32]byte{}, err
	}

	mv := r.verifiers
	if mv == nil {
		mv, err = zk.GetMultiVerifier()
		if err != nil {
			r.metrics.IncrCounter(metrics.MetricNameRecordsRejected)
			return [32]byte{}, err
		}
	}
	if err := mv.VerifyProof(zk.CircuitRecord, p); err != nil {
		r.metrics.IncrCounter(metrics.MetricNameRecordsRejected)
		return [32]byte{}, err
	}
	r.metrics.IncrCounter(metrics.MetricNameProofsVerified)

	r.mu.Lock()
	defer r.mu.Unlock()

	if publics.OldRoot != r.root {
		r.metrics.IncrCounter(metrics.MetricNameRecordsRejected)
		return [32]byte{}, fmt.Errorf("proof built against root %s, current root %s: %w",
			hex.EncodeToString(publics.OldRoot[:]), hex.EncodeToString(r.root[:]), ErrWitnessStale)
	}

	r.commitLocked(order.Hash(publics.Order), publics.NewRoot)
	return publics.NewRoot, nil
}

// AuditLog returns a snapshot of the audit trail.
func (r *Registry) AuditLog() []AuditEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]AuditEntry, len(r.audit))
	copy(out, r.audit)
	return out
}

// commitLocked advances the root and appends the audit record. Callers hold
// the write lock.
func (r *Registry) commitLocked(orderHash, newRoot [32]byte) {
	r.seq++
	r.root = newRoot
	r.audit = append(r.audit, AuditEntry{
		Seq:       r.seq,
		Time:      time.Now().UTC(),
		OrderHash: orderHash,
		Root:      newRoot,
	})

	r.logger.Info().
		Uint64("seq", r.seq).
		Str("order_hash", hex.EncodeToString(orderHash[:])).
		Str("root", hex.EncodeToString(newRoot[:])).
		Msg("delegation recorded")
	r.metrics.IncrCounter(metrics.MetricNameRecordsAccepted)
}
