package hashing

import (
	"bytes"
	"testing"

	"github.com/ccoin/shielded/internal/curve"
)

func TestPRFExpandDeterministic(t *testing.T) {
	sk := bytes.Repeat([]byte{0x42}, 32)
	a := PRFExpand(sk, 0x00)
	b := PRFExpand(sk, 0x00)
	if a != b {
		t.Fatal("PRFExpand is not deterministic")
	}
	c := PRFExpand(sk, 0x01)
	if a == c {
		t.Fatal("PRFExpand must differ across tags")
	}
}

func TestPRFExpandScalarWithinSubgroup(t *testing.T) {
	sk := bytes.Repeat([]byte{0x07}, 32)
	s := PRFExpandScalar(sk, 0x00)
	// round-trips through the curve without panicking and is usable as
	// a scalar multiplier.
	g := curve.Generator()
	_ = g.ScalarMul(s)
}

func TestKDFSaplingDeterministicAndTagSeparated(t *testing.T) {
	shared := bytes.Repeat([]byte{0x01}, 32)
	epk := bytes.Repeat([]byte{0x02}, 32)
	k1 := KDFSapling(shared, epk)
	k2 := KDFSapling(shared, epk)
	if k1 != k2 {
		t.Fatal("KDFSapling is not deterministic")
	}

	otherEpk := bytes.Repeat([]byte{0x03}, 32)
	k3 := KDFSapling(shared, otherEpk)
	if k1 == k3 {
		t.Fatal("KDFSapling must depend on epk")
	}
}

func TestCRHIvkCropsTo251Bits(t *testing.T) {
	ak := bytes.Repeat([]byte{0xAA}, 32)
	nk := bytes.Repeat([]byte{0xBB}, 32)
	ivk := CRHIvk(ak, nk)
	top := ivk.Bytes()[31]
	if top&0xF8 != 0 {
		t.Fatalf("ivk top byte %08b has bits above bit 250 set", top)
	}
}

func TestNullifierKeyDiffersByRho(t *testing.T) {
	nk := bytes.Repeat([]byte{0x01}, 32)
	rho1 := Rho([]byte("cmu-a"), 0)
	rho2 := Rho([]byte("cmu-a"), 1)
	if bytes.Equal(rho1, rho2) {
		t.Fatal("Rho must depend on position")
	}
	n1 := NullifierKey(nk, rho1)
	n2 := NullifierKey(nk, rho2)
	if n1 == n2 {
		t.Fatal("NullifierKey must differ when rho differs")
	}
}

func TestNoteCommitmentDeterministic(t *testing.T) {
	d := bytes.Repeat([]byte{0x01}, 11)
	pkD := bytes.Repeat([]byte{0x02}, 32)
	rcm := curve.ScalarFromBytes([]byte{9})

	c1 := NoteCommitment(d, pkD, 1000, rcm)
	c2 := NoteCommitment(d, pkD, 1000, rcm)
	if !c1.Equal(c2) {
		t.Fatal("NoteCommitment is not deterministic")
	}

	c3 := NoteCommitment(d, pkD, 1001, rcm)
	if c1.Equal(c3) {
		t.Fatal("NoteCommitment must depend on value")
	}
}

func TestPedersenHashEmptyInput(t *testing.T) {
	h := PedersenHash(0, nil)
	// Must not panic and must be a stable, reproducible value.
	h2 := PedersenHash(0, nil)
	if !h.Equal(h2) {
		t.Fatal("PedersenHash(empty) is not deterministic")
	}
}
