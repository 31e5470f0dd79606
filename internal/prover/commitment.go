package prover

import "github.com/ccoin/shielded/internal/curve"

// gValue and hValue are the two Jubjub generators used for the
// Pedersen value commitment cv = value*gValue + rcv*hValue, derived
// deterministically the same way the teacher derives its secondary
// Pedersen generator (internal/zkp/pedersen.go: InitializeGenerators)
// rather than from a trusted setup.
var (
	gValue = mustGenerator("Zcash_cv_G")
	hValue = mustGenerator("Zcash_cv_H")
)

func mustGenerator(tag string) curve.Point {
	p, ok := curve.GroupHash(tag, []byte(tag))
	if !ok {
		panic("prover: generator group hash failed for " + tag)
	}
	return p
}

// ValueCommitment computes cv = value*gValue + rcv*hValue (§4.5/§4.9).
func ValueCommitment(value uint64, rcv curve.Scalar) curve.Point {
	valueScalar := curve.ScalarFromBytes(uint64LEBytes(value))
	return gValue.ScalarMul(valueScalar).Add(hValue.ScalarMul(rcv))
}

func uint64LEBytes(v uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * uint(i)))
	}
	return b
}
