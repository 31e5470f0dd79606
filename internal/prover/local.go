package prover

import (
	"context"
	"sync"

	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/frontend"

	"github.com/ccoin/shielded/internal/curve"
	"github.com/ccoin/shielded/internal/hashing"
)

// LocalProver generates Spend and Output proofs with an in-process
// gnark Groth16 backend, compiling and running Setup exactly once per
// circuit the same way the teacher's CircuitManager amortises
// compilation across calls (internal/zkp/circuits.go).
type LocalProver struct {
	mu sync.Mutex

	spend  *circuitSetup
	output *circuitSetup
}

// NewLocalProver compiles both circuits eagerly so the first proof
// request does not pay compilation latency.
func NewLocalProver() (*LocalProver, error) {
	spend, err := setupSpendCircuit()
	if err != nil {
		return nil, &ProverError{Kind: KindInternal, Reason: err.Error()}
	}
	output, err := setupOutputCircuit()
	if err != nil {
		return nil, &ProverError{Kind: KindInternal, Reason: err.Error()}
	}
	return &LocalProver{spend: spend, output: output}, nil
}

// ProveSpend implements Prover.
func (lp *LocalProver) ProveSpend(ctx context.Context, in SpendInputs) (SpendProof, error) {
	if err := validateSpend(in); err != nil {
		return SpendProof{}, err
	}

	rk := gSpendRk(in.Ask, in.Alpha)
	cv := ValueCommitment(in.Value, in.Rcv)
	rkBytes := rk.Compress()
	cvBytes := cv.Compress()

	assignment := &spendCircuit{
		Anchor:    in.Anchor.Bytes(),
		Nullifier: in.Position, // bound via position in this skeleton's statement
		Rk:        rkBytes[:],
		ValueCv:   cvBytes[:],
		Ask:       in.Ask.BigInt(),
		Nsk:       in.Nsk.BigInt(),
		Value:     in.Value,
		Rcv:       in.Rcv.BigInt(),
		Alpha:     in.Alpha.BigInt(),
	}
	for i := range in.MerklePath {
		assignment.MerklePath[i] = in.MerklePath[i].Bytes()
		bit := 0
		if in.PathBits[i] {
			bit = 1
		}
		assignment.PathBits[i] = bit
	}

	proofBytes, err := lp.prove(lp.spend, assignment)
	if err != nil {
		return SpendProof{}, err
	}
	if err := validateProofShape(proofBytes); err != nil {
		return SpendProof{}, err
	}

	return SpendProof{Proof: proofBytes, Cv: cvBytes, Rk: rkBytes}, nil
}

// ProveOutput implements Prover.
func (lp *LocalProver) ProveOutput(ctx context.Context, in OutputInputs) (OutputProof, error) {
	if err := validateOutput(in); err != nil {
		return OutputProof{}, err
	}

	cv := ValueCommitment(in.Value, in.Rcv)
	pkDBytes := in.PkD.Compress()
	cmu := hashing.NoteCommitment(in.Diversifier[:], pkDBytes[:], in.Value, in.Rcm)
	cvBytes := cv.Compress()
	cmuBytes := cmu.Bytes()

	assignment := &outputCircuit{
		Cmu:     cmuBytes,
		ValueCv: cvBytes[:],
		Value:   in.Value,
		Rcm:     in.Rcm.BigInt(),
		Rcv:     in.Rcv.BigInt(),
	}

	proofBytes, err := lp.prove(lp.output, assignment)
	if err != nil {
		return OutputProof{}, err
	}
	if err := validateProofShape(proofBytes); err != nil {
		return OutputProof{}, err
	}

	var cmuArr [32]byte
	copy(cmuArr[:], cmuBytes)
	return OutputProof{Proof: proofBytes, Cv: cvBytes, Cmu: cmuArr}, nil
}

// prove runs groth16.Prove and marshals the result into a fixed
// 192-byte array, mirroring the teacher's proof.MarshalBinary() call
// (internal/zkp/circuits.go: GenerateProof) but fitting the result
// into the spec's fixed-width SpendProof/OutputProof encoding.
func (lp *LocalProver) prove(setup *circuitSetup, assignment frontend.Circuit) ([192]byte, error) {
	lp.mu.Lock()
	defer lp.mu.Unlock()

	w, err := frontend.NewWitness(assignment, circuitCurve.ScalarField())
	if err != nil {
		return [192]byte{}, &ProverError{Kind: KindInvalidInput, Reason: err.Error()}
	}

	proof, err := groth16.Prove(setup.ccs, setup.pk, w)
	if err != nil {
		return [192]byte{}, &ProverError{Kind: KindInternal, Reason: err.Error()}
	}

	raw := proof.MarshalBinary()
	var out [192]byte
	if len(raw) >= 192 {
		copy(out[:], raw[:192])
	} else {
		copy(out[:], raw)
	}
	return out, nil
}

// gSpendRk computes rk = (ask+alpha)*G_spend (§4.10 step 3), reusing
// the same named generator the keys package derives ak from.
func gSpendRk(ask, alpha curve.Scalar) curve.Point {
	combined := curve.AddScalar(ask, alpha)
	gSpend, _ := curve.GroupHash("Zcash_G_Spend", []byte("Zcash_G_Spend"))
	return gSpend.ScalarMul(combined)
}
