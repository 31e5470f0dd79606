// Package prover implements the pluggable Spend/Output proof
// orchestrator (C9): input validation, a local gnark Groth16 backend
// over BLS12-381, a remote HTTP fallback, and the typed error/retry
// contract the spec requires.
//
// Grounded on the teacher's internal/zkp/circuits.go CircuitManager
// (compile once, Setup once, Prove/Verify per witness) generalized
// from its toy BN254 value-conservation circuit to the real Sapling
// Spend and Output statements, compiled over BLS12-381 — the curve
// Jubjub embeds in, per gnark-crypto's twistededwards sub-package.
package prover

import (
	"context"
	"errors"

	"github.com/ccoin/shielded/internal/curve"
	"github.com/ccoin/shielded/internal/notes"
)

// MaxValue mirrors the note-value bound (§4.9: "negative or > 2^63-1").
const MaxValue = notes.MaxValue

// ErrorKind classifies a ProverError for the backend-fallback policy
// (§4.9: "Backend fallback applies only to Unavailable, Transient, or
// Timeout; InvalidInput is never retried").
type ErrorKind int

const (
	KindInvalidInput ErrorKind = iota
	KindUnavailable
	KindTransient
	KindTimeout
	KindInternal
)

// ProverError is the typed error every orchestrator operation returns
// on failure.
type ProverError struct {
	Kind   ErrorKind
	Field  string
	Reason string
}

func (e *ProverError) Error() string {
	if e.Field != "" {
		return "prover: " + e.Field + ": " + e.Reason
	}
	return "prover: " + e.Reason
}

// Retryable reports whether the backend-selection fallback chain may
// retry on a different backend after this error.
func (e *ProverError) Retryable() bool {
	switch e.Kind {
	case KindUnavailable, KindTransient, KindTimeout:
		return true
	default:
		return false
	}
}

func invalidInput(field, reason string) error {
	return &ProverError{Kind: KindInvalidInput, Field: field, Reason: reason}
}

// SpendInputs is the private witness for a Spend proof (§4.9).
type SpendInputs struct {
	Ask        curve.Scalar
	Nsk        curve.Scalar
	Value      uint64
	Rcv        curve.Scalar
	Alpha      curve.Scalar
	Anchor     curve.FieldElement
	MerklePath [32]curve.FieldElement
	PathBits   [32]bool
	Position   uint64
}

// SpendProof is the output of prove_spend.
type SpendProof struct {
	Proof [192]byte
	Cv    [32]byte
	Rk    [32]byte
}

// OutputInputs is the private witness for an Output proof (§4.9).
type OutputInputs struct {
	Value       uint64
	Rcv         curve.Scalar
	Rcm         curve.Scalar
	Diversifier [11]byte
	PkD         curve.Point
	Esk         curve.Scalar
}

// OutputProof is the output of prove_output.
type OutputProof struct {
	Proof [192]byte
	Cv    [32]byte
	Cmu   [32]byte
}

// Prover is the abstract proof-generation interface (§4.9); ChainProver
// is the concrete composition of a local and a remote backend.
type Prover interface {
	ProveSpend(ctx context.Context, in SpendInputs) (SpendProof, error)
	ProveOutput(ctx context.Context, in OutputInputs) (OutputProof, error)
}

// validateSpend rejects malformed inputs before any backend is
// invoked (§4.9 Validation).
func validateSpend(in SpendInputs) error {
	if in.Value > MaxValue {
		return invalidInput("value", "exceeds 2^63-1")
	}
	if in.Ask.IsZero() && in.Nsk.IsZero() {
		return invalidInput("spending_key", "all-zero spending key")
	}
	if in.Anchor == (curve.FieldElement{}) {
		return invalidInput("anchor", "missing anchor")
	}
	return nil
}

// validateOutput rejects malformed inputs before any backend is
// invoked (§4.9 Validation).
func validateOutput(in OutputInputs) error {
	if in.Value > MaxValue {
		return invalidInput("value", "exceeds 2^63-1")
	}
	if in.PkD.IsIdentity() {
		return invalidInput("pk_d", "identity point is not a valid diversified address key")
	}
	return nil
}

// validateProofShape rejects a generated proof that is not exactly
// 192 bytes or is all-zero (§4.9: "Generated proofs are validated for
// exact length (192) and non-zero before return").
func validateProofShape(proof [192]byte) error {
	allZero := true
	for _, b := range proof {
		if b != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		return &ProverError{Kind: KindInternal, Reason: "backend returned an all-zero proof"}
	}
	return nil
}

var errNoBackend = errors.New("prover: no backend configured")
