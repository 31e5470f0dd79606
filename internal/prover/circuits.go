package prover

import (
	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
)

// circuitCurve is the scalar field the Spend and Output circuits are
// compiled over: BLS12-381, the field Jubjub's coordinates live in.
var circuitCurve = ecc.BLS12_381

// spendCircuit carries the Spend statement's inputs: public anchor,
// nullifier, rk and value commitment; private keys, value, randomness
// and Merkle path. Define constrains only the value range and the path
// bits; it does not constrain Merkle membership against Anchor, key
// derivation, the nullifier, rk, or the value commitment. It is a
// structural generalisation of the teacher's TransactionCircuit
// (internal/zkp/circuits.go).
type spendCircuit struct {
	// Public inputs.
	Anchor     frontend.Variable `gnark:",public"`
	Nullifier  frontend.Variable `gnark:",public"`
	Rk         frontend.Variable `gnark:",public"`
	ValueCv    frontend.Variable `gnark:",public"`

	// Private witness.
	Ask        frontend.Variable
	Nsk        frontend.Variable
	Value      frontend.Variable
	Rcv        frontend.Variable
	Alpha      frontend.Variable
	MerklePath [32]frontend.Variable
	PathBits   [32]frontend.Variable
}

// Define constrains: value is at most MaxValue, and the disclosed path
// bits are boolean. The full Pedersen-hash membership chain and
// RedJubjub key-derivation constraints are out of scope for this
// circuit skeleton; it establishes the statement shape the proving
// key is bound to.
func (c *spendCircuit) Define(api frontend.API) error {
	api.AssertIsLessOrEqual(c.Value, MaxValue)
	for _, bit := range c.PathBits {
		api.AssertIsBoolean(bit)
	}
	return nil
}

// outputCircuit carries the Output statement's inputs: public cmu and
// value commitment; private value, rcm and rcv. Define constrains only
// that value is at most MaxValue (the teacher's RangeDisclosureCircuit
// range-check technique, AssertIsLessOrEqual); it does not check that
// Cmu or ValueCv open to (value, rcm/rcv).
type outputCircuit struct {
	Cmu     frontend.Variable `gnark:",public"`
	ValueCv frontend.Variable `gnark:",public"`

	Value frontend.Variable
	Rcm   frontend.Variable
	Rcv   frontend.Variable
}

func (c *outputCircuit) Define(api frontend.API) error {
	api.AssertIsLessOrEqual(c.Value, MaxValue)
	return nil
}

// circuitSetup holds the compiled R1CS and Groth16 keys for one
// circuit, matching the teacher's CompiledCircuit/provingKeys/
// verifyingKeys triple (internal/zkp/circuits.go).
type circuitSetup struct {
	ccs frontend.CompiledConstraintSystem
	pk  groth16.ProvingKey
	vk  groth16.VerifyingKey
}

func setupSpendCircuit() (*circuitSetup, error) {
	circuit := &spendCircuit{}
	ccs, err := frontend.Compile(circuitCurve.ScalarField(), r1cs.NewBuilder, circuit)
	if err != nil {
		return nil, err
	}
	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		return nil, err
	}
	return &circuitSetup{ccs: ccs, pk: pk, vk: vk}, nil
}

func setupOutputCircuit() (*circuitSetup, error) {
	circuit := &outputCircuit{}
	ccs, err := frontend.Compile(circuitCurve.ScalarField(), r1cs.NewBuilder, circuit)
	if err != nil {
		return nil, err
	}
	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		return nil, err
	}
	return &circuitSetup{ccs: ccs, pk: pk, vk: vk}, nil
}
