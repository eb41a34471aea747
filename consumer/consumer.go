// Package consumer is the verification side of a delegation: code that is
// about to act on behalf of a target account asserts, from either kind of
// evidence, that the delegation exists and that the caller is its target.
package consumer

import (
	"errors"
	"fmt"

	"github.com/zkdelegate-org/zkdelegate/merklemap"
	"github.com/zkdelegate-org/zkdelegate/order"
	"github.com/zkdelegate-org/zkdelegate/registry"
	"github.com/zkdelegate-org/zkdelegate/zk"
)

// ErrCallerMismatch is returned when the presenting caller is not the target
// account of the delegation order. The verdict is final for that identity;
// retrying with the same caller cannot succeed.
var ErrCallerMismatch = errors.New("consumer: caller is not the delegated target")

// Evidence is what a caller presents to prove a delegation. Exactly two
// forms exist: a proof that verifies on its own, and a map witness that the
// registry checks against its committed root.
type Evidence interface {
	isEvidence()
}

// RecursiveProof carries an authorization proof. Verification is pure; no
// registry state is consulted.
type RecursiveProof struct {
	Proof *zk.Proof
}

func (RecursiveProof) isEvidence() {}

// MapWitness carries a membership witness to be confirmed against the
// registry's current root.
type MapWitness struct {
	Witness *merklemap.MembershipWitness
}

func (MapWitness) isEvidence() {}

// Dependencies names what the evidence paths verify against. Verifiers may
// be nil, in which case the proof path uses the process-global verifier; the
// witness path requires Registry.
type Dependencies struct {
	Verifiers *zk.MultiVerifier
	Registry  *registry.Registry
}

// AssertDelegation checks that ev proves the delegation described by ord and
// that caller is the delegated target. Evidence is judged first; the caller
// identity check is the same for both evidence forms.
func AssertDelegation(ev Evidence, ord *order.DelegationOrder, caller *order.TargetAccount, deps Dependencies) error {
	if ord == nil {
		return fmt.Errorf("consumer: nil order")
	}

	switch e := ev.(type) {
	case RecursiveProof:
		if err := assertProof(e.Proof, ord, deps); err != nil {
			return err
		}
	case MapWitness:
		if deps.Registry == nil {
			return fmt.Errorf("consumer: witness evidence requires a registry")
		}
		if err := deps.Registry.Confirm(ord, e.Witness); err != nil {
			return err
		}
	default:
		return fmt.Errorf("consumer: unsupported evidence %T", ev)
	}

	if caller == nil || !caller.Equal(ord.Target) {
		return ErrCallerMismatch
	}
	return nil
}

// assertProof verifies an authorization proof and requires its embedded
// public order to be exactly ord. Extraction runs before the pairing check,
// so a valid proof for some other order reports the order mismatch.
func assertProof(p *zk.Proof, ord *order.DelegationOrder, deps Dependencies) error {
	if p == nil {
		return fmt.Errorf("consumer: nil proof")
	}

	mv := deps.Verifiers
	if mv == nil {
		var err error
		mv, err = zk.GetMultiVerifier()
		if err != nil {
			return err
		}
	}

	extracted, err := zk.ExtractDelegateOrder(p)
	if err != nil {
		return err
	}
	if !extracted.Equal(ord) {
		return fmt.Errorf("consumer: proof covers a different order")
	}

	return mv.VerifyProof(zk.CircuitDelegate, p)
}
