package txbuilder

import (
	"bytes"
	"context"
	"testing"

	"github.com/ccoin/shielded/internal/address"
	"github.com/ccoin/shielded/internal/curve"
	"github.com/ccoin/shielded/internal/hashing"
	"github.com/ccoin/shielded/internal/merkle"
	"github.com/ccoin/shielded/internal/notes"
	"github.com/ccoin/shielded/internal/prover"
)

type fakeProver struct{}

func (fakeProver) ProveSpend(ctx context.Context, in prover.SpendInputs) (prover.SpendProof, error) {
	return prover.SpendProof{Proof: [192]byte{1}, Cv: [32]byte{2}, Rk: [32]byte{3}}, nil
}

// ProveOutput computes cmu the same way notes.Note.Cmu() does, since
// the builder now cross-checks the prover's returned cmu against the
// output note's own commitment.
func (fakeProver) ProveOutput(ctx context.Context, in prover.OutputInputs) (prover.OutputProof, error) {
	pkD := in.PkD.Compress()
	cmu := hashing.NoteCommitment(in.Diversifier[:], pkD[:], in.Value, in.Rcm)
	var cmuArr [32]byte
	copy(cmuArr[:], cmu.Bytes())
	return prover.OutputProof{Proof: [192]byte{1}, Cv: [32]byte{4}, Cmu: cmuArr}, nil
}

func testAddress(t *testing.T) address.PaymentAddress {
	t.Helper()
	var d [address.DiversifierSize]byte
	d[0] = 0x01
	return address.PaymentAddress{D: d, PkD: curve.Generator()}
}

// fixture appends a single note to a fresh tree, registers its
// witness, and returns everything a spend input needs.
func fixture(t *testing.T, value uint64) (*merkle.Tree, notes.Note, merkle.Witness) {
	t.Helper()
	n := notes.Note{PkD: curve.Generator(), Value: value}
	copy(n.Rseed[:], bytes.Repeat([]byte{0x07}, 32))

	ctx := context.Background()
	tree := merkle.NewTree(merkle.NewMemStore(), 100)
	pos, err := tree.Append(ctx, n.Cmu())
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	n.Position = pos
	if err := tree.RegisterWitness(ctx, pos); err != nil {
		t.Fatalf("RegisterWitness: %v", err)
	}
	w, err := tree.WitnessFor(pos)
	if err != nil {
		t.Fatalf("WitnessFor: %v", err)
	}
	return tree, n, w
}

func TestBuildProducesBalancedSingleSpendSingleOutput(t *testing.T) {
	tree, note, w := fixture(t, 200000)
	ctx := context.Background()

	memo, err := notes.PadMemo([]byte("memo"))
	if err != nil {
		t.Fatalf("PadMemo: %v", err)
	}

	params := Params{
		Spends: []SpendInput{{
			Note:    note,
			Witness: w,
			Ask:     curve.ScalarFromBytes([]byte{9}),
			Nsk:     curve.ScalarFromBytes([]byte{10}),
			Nk:      curve.Generator(),
		}},
		Outputs: []OutputTarget{{
			To:    testAddress(t),
			Value: 190000,
			Memo:  memo,
		}},
		Fee: 10000,
	}

	signed, err := Build(ctx, params, Ovk{}, fakeProver{}, tree)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if len(signed.Bundle.Spends) != 1 {
		t.Fatalf("spends = %d, want 1", len(signed.Bundle.Spends))
	}
	if len(signed.Bundle.Outputs) != 1 {
		t.Fatalf("outputs = %d, want 1", len(signed.Bundle.Outputs))
	}
	if signed.Bundle.ValueBalance != 0 {
		t.Fatalf("value_balance = %d, want 0", signed.Bundle.ValueBalance)
	}

	spend := signed.Bundle.Spends[0]
	if allZero(spend.SpendAuthSig[:]) {
		t.Fatal("spend_auth_sig must not be all-zero")
	}
	if allZero(spend.Zkproof[:]) || len(spend.Zkproof) != 192 {
		t.Fatal("spend proof must be exactly 192 bytes and non-zero")
	}
	if allZero(signed.Bundle.BindingSig[:]) {
		t.Fatal("binding_sig must not be all-zero")
	}

	serialized := signed.Bundle.Encode()
	if len(serialized) <= 2048 {
		t.Fatalf("serialized bundle size = %d, want > 2048", len(serialized))
	}
}

func TestBuildRejectsUnbalancedTransaction(t *testing.T) {
	tree, note, w := fixture(t, 100000)
	ctx := context.Background()

	memo, _ := notes.PadMemo(nil)
	params := Params{
		Spends: []SpendInput{{
			Note:    note,
			Witness: w,
			Ask:     curve.ScalarFromBytes([]byte{1}),
			Nsk:     curve.ScalarFromBytes([]byte{2}),
			Nk:      curve.Generator(),
		}},
		Outputs: []OutputTarget{{To: testAddress(t), Value: 200000, Memo: memo}},
		Fee:     10000,
	}

	if _, err := Build(ctx, params, Ovk{}, fakeProver{}, tree); err != ErrUnbalanced {
		t.Fatalf("Build = %v, want ErrUnbalanced", err)
	}
}

func TestBuildRejectsEmptyParams(t *testing.T) {
	tree := merkle.NewTree(merkle.NewMemStore(), 100)
	if _, err := Build(context.Background(), Params{}, Ovk{}, fakeProver{}, tree); err != ErrNoSpendsOrOut {
		t.Fatalf("Build(empty) = %v, want ErrNoSpendsOrOut", err)
	}
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
