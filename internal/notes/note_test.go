package notes

import (
	"bytes"
	"testing"

	"github.com/ccoin/shielded/internal/address"
	"github.com/ccoin/shielded/internal/curve"
)

func TestPlaintextRoundTrip(t *testing.T) {
	var d [address.DiversifierSize]byte
	copy(d[:], []byte("diversifier"))

	var rseed [32]byte
	copy(rseed[:], bytes.Repeat([]byte{0x07}, 32))

	memo, err := PadMemo([]byte("hello"))
	if err != nil {
		t.Fatalf("PadMemo: %v", err)
	}

	p := Plaintext{D: d, Value: 12345, Rseed: rseed, Memo: memo}
	encoded := p.Encode()
	if len(encoded) != PlaintextSize {
		t.Fatalf("encoded length = %d, want %d", len(encoded), PlaintextSize)
	}

	decoded, err := DecodePlaintext(encoded[:])
	if err != nil {
		t.Fatalf("DecodePlaintext: %v", err)
	}
	if decoded.D != p.D || decoded.Value != p.Value || decoded.Rseed != p.Rseed || decoded.Memo != p.Memo {
		t.Fatalf("round trip mismatch: got %+v, want %+v", decoded, p)
	}
}

func TestDecodePlaintextRejectsWrongLength(t *testing.T) {
	if _, err := DecodePlaintext(make([]byte, PlaintextSize-1)); err != ErrPlaintextLength {
		t.Fatalf("got %v, want ErrPlaintextLength", err)
	}
}

func TestDecodePlaintextRejectsUnknownTag(t *testing.T) {
	buf := make([]byte, PlaintextSize)
	buf[0] = 0xFF
	if _, err := DecodePlaintext(buf); err != ErrUnknownRseedForm {
		t.Fatalf("got %v, want ErrUnknownRseedForm", err)
	}
}

func TestPadMemoRejectsOversize(t *testing.T) {
	if _, err := PadMemo(make([]byte, MemoSize)); err != ErrMemoSize {
		t.Fatalf("got %v, want ErrMemoSize", err)
	}
}

func TestNewOutgoingRejectsOverflow(t *testing.T) {
	var addr address.PaymentAddress
	if _, err := NewOutgoing(addr, MaxValue+1, [MemoSize]byte{}); err != ErrValueOverflow {
		t.Fatalf("got %v, want ErrValueOverflow", err)
	}
}

func TestCmuIsDeterministic(t *testing.T) {
	gen := curve.Generator()
	n := Note{PkD: gen, Value: 42}
	copy(n.Rseed[:], bytes.Repeat([]byte{0x09}, 32))

	c1 := n.Cmu()
	c2 := n.Cmu()
	if !c1.Equal(c2) {
		t.Fatal("Cmu is not deterministic for identical inputs")
	}

	n2 := n
	n2.Value = 43
	if c1.Equal(n2.Cmu()) {
		t.Fatal("Cmu did not change when value changed")
	}
}

func TestNullifierVariesByPosition(t *testing.T) {
	gen := curve.Generator()
	n := Note{PkD: gen, Value: 7, Position: 0}
	copy(n.Rseed[:], bytes.Repeat([]byte{0x03}, 32))

	nk := curve.Generator()
	nf0 := n.Nullifier(nk)
	n.Position = 1
	nf1 := n.Nullifier(nk)
	if nf0 == nf1 {
		t.Fatal("nullifier did not change when position changed")
	}
}
