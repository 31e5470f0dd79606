package scanner

import (
	"bytes"
	"context"
	"testing"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/ccoin/shielded/internal/curve"
	"github.com/ccoin/shielded/internal/hashing"
	"github.com/ccoin/shielded/internal/merkle"
	"github.com/ccoin/shielded/internal/notecache"
	"github.com/ccoin/shielded/internal/notes"
)

// buildOutput encrypts a synthetic note plaintext to ivk exactly as a
// real sender would, so processOutput can authenticate and recover it.
func buildOutput(t *testing.T, ivk curve.Scalar, value uint64) Output {
	t.Helper()

	var d [11]byte
	var gd curve.Point
	found := false
	for counter := byte(0); counter < 255; counter++ {
		d[0] = counter
		if p, ok := curve.GroupHash("Zcash_gd", d[:]); ok {
			gd = p
			found = true
			break
		}
	}
	if !found {
		t.Fatal("could not find a valid diversifier for test")
	}

	pkD := gd.ScalarMul(ivk)

	esk := curve.ScalarFromBytes(bytes.Repeat([]byte{0x11}, 32))
	epk := gd.ScalarMul(esk)
	sharedSecret := pkD.ScalarMul(esk)

	epkBytes := epk.Compress()
	sharedBytes := sharedSecret.Compress()
	kEnc := hashing.KDFSapling(sharedBytes[:], epkBytes[:])

	var rseed [32]byte
	copy(rseed[:], bytes.Repeat([]byte{0x22}, 32))

	memo, err := notes.PadMemo(nil)
	if err != nil {
		t.Fatalf("PadMemo: %v", err)
	}

	plaintext := notes.Plaintext{D: d, Value: value, Rseed: rseed, Memo: memo}
	encoded := plaintext.Encode()

	aead, err := chacha20poly1305.New(kEnc[:])
	if err != nil {
		t.Fatalf("new aead: %v", err)
	}
	ciphertext := aead.Seal(nil, zeroNonce[:], encoded[:], nil)

	n := notes.Note{D: d, PkD: pkD, Value: value, Rseed: rseed}
	cmuBytes := n.Cmu().Bytes()
	var cmu [32]byte
	copy(cmu[:], cmuBytes)

	return Output{Cmu: cmu, EphemeralKey: epkBytes, EncCiphertext: ciphertext}
}

func newTestScanner() (*Scanner, curve.Scalar) {
	ivk := curve.ScalarFromBytes(bytes.Repeat([]byte{0x05}, 32))
	nk := curve.Generator()
	tree := merkle.NewTree(merkle.NewMemStore(), 100)
	cache := notecache.New(nil)
	return New(ivk, nk, tree, cache), ivk
}

func TestProcessOutputRecoversOwnNote(t *testing.T) {
	s, ivk := newTestScanner()
	out := buildOutput(t, ivk, 1000)

	ctx := context.Background()
	found, err := s.processOutput(ctx, out)
	if err != nil {
		t.Fatalf("processOutput: %v", err)
	}
	if !found {
		t.Fatal("expected the output to be recognised as ours")
	}
	if s.cache.Balance() != 1000 {
		t.Fatalf("balance = %d, want 1000", s.cache.Balance())
	}
}

func TestProcessOutputRejectsForeignOutput(t *testing.T) {
	s, _ := newTestScanner()

	foreignIvk := curve.ScalarFromBytes(bytes.Repeat([]byte{0x09}, 32))
	out := buildOutput(t, foreignIvk, 500)

	found, err := s.processOutput(context.Background(), out)
	if err != nil {
		t.Fatalf("processOutput: %v", err)
	}
	if found {
		t.Fatal("output encrypted to a different ivk must not be recognised as ours")
	}
	stats := s.Stats()
	if stats.Attempts != 1 || stats.Successes != 0 {
		t.Fatalf("stats = %+v, want one failed attempt", stats)
	}
}

func TestProcessOutputRejectsWrongLength(t *testing.T) {
	s, _ := newTestScanner()
	out := Output{EncCiphertext: make([]byte, 52)}

	found, err := s.processOutput(context.Background(), out)
	if err != nil {
		t.Fatalf("processOutput: %v", err)
	}
	if found {
		t.Fatal("compact-only ciphertext must never be reported as found")
	}
}

func TestProcessOutputAppendsForeignCommitmentToTree(t *testing.T) {
	s, _ := newTestScanner()

	foreignIvk := curve.ScalarFromBytes(bytes.Repeat([]byte{0x09}, 32))
	out := buildOutput(t, foreignIvk, 500)

	sizeBefore := s.tree.Size()
	found, err := s.processOutput(context.Background(), out)
	if err != nil {
		t.Fatalf("processOutput: %v", err)
	}
	if found {
		t.Fatal("a foreign output must not be recognised as ours")
	}
	if s.tree.Size() != sizeBefore+1 {
		t.Fatalf("tree size = %d, want %d: every commitment must be appended, not just ours", s.tree.Size(), sizeBefore+1)
	}
}

func TestScanRangeAssignsPositionsInOutputOrderAcrossForeignOutputs(t *testing.T) {
	s, ivk := newTestScanner()
	foreignIvk := curve.ScalarFromBytes(bytes.Repeat([]byte{0x09}, 32))

	foreign := buildOutput(t, foreignIvk, 10)
	ours := buildOutput(t, ivk, 777)

	block := Block{Height: 1, Txs: []Transaction{{Outputs: []Output{foreign, ours}}}}
	if err := s.ScanRange(context.Background(), []Block{block}, 1, nil); err != nil {
		t.Fatalf("ScanRange: %v", err)
	}

	if s.tree.Size() != 2 {
		t.Fatalf("tree size = %d, want 2 (both outputs committed)", s.tree.Size())
	}
	if s.cache.Balance() != 777 {
		t.Fatalf("balance = %d, want 777", s.cache.Balance())
	}

	// Our note is the second output, so its witness position is 1.
	w, err := s.tree.WitnessFor(1)
	if err != nil {
		t.Fatalf("WitnessFor(1): %v", err)
	}
	if w.Position != 1 {
		t.Fatalf("witness position = %d, want 1", w.Position)
	}
}

func TestScanRangeReportsProgress(t *testing.T) {
	s, ivk := newTestScanner()
	out := buildOutput(t, ivk, 250)

	block := Block{Height: 10, Txs: []Transaction{{Outputs: []Output{out}}}}

	var lastProgress Progress
	err := s.ScanRange(context.Background(), []Block{block}, 10, func(p Progress) {
		lastProgress = p
	})
	if err != nil {
		t.Fatalf("ScanRange: %v", err)
	}
	if lastProgress.NotesFound != 1 || lastProgress.CurrentHeight != 10 {
		t.Fatalf("progress = %+v, want NotesFound=1 CurrentHeight=10", lastProgress)
	}
}
