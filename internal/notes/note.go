// Package notes implements note primitives (C5): commitments,
// nullifiers, value commitments, rcm/rseed handling, and the note
// plaintext wire codec.
//
// Adapted from the teacher's internal/zkp/pedersen.go
// (PedersenCommitment, value conservation) and internal/zkp/nullifier.go
// (DeriveNullifier), generalized from the teacher's BN254/SHA-256
// scheme to Jubjub/Pedersen-hash, and from the teacher's toy
// fixed-width Note (internal/zkp/transaction.go) to the full Sapling
// note layout.
package notes

import (
	"crypto/rand"
	"encoding/binary"
	"errors"

	"github.com/ccoin/shielded/internal/address"
	"github.com/ccoin/shielded/internal/curve"
	"github.com/ccoin/shielded/internal/hashing"
)

// MaxValue is the largest representable note value, 2^63 - 1 zatoshi.
const MaxValue = (uint64(1) << 63) - 1

// MemoSize is the fixed memo field length.
const MemoSize = 512

// PlaintextSize is the wire size of a note plaintext: a 1-byte rseed
// format tag, the 11-byte diversifier, an 8-byte value, the 32-byte
// rseed, and the 512-byte memo.
const PlaintextSize = 1 + address.DiversifierSize + 8 + 32 + MemoSize

// Note errors.
var (
	ErrValueOverflow    = errors.New("notes: value exceeds 2^63-1")
	ErrMemoSize         = errors.New("notes: memo must be exactly 512 bytes")
	ErrPlaintextLength  = errors.New("notes: plaintext is not 564 bytes")
	ErrUnknownRseedForm = errors.New("notes: unrecognised rseed format tag")
)

// rseedFormat identifies how rcm is derived from rseed. ZIP-212 (tag 2)
// is the format mandated by §9's open-question resolution; tag 1 is
// accepted on decode for notes created before the ZIP-212 rule, since a
// wallet may still hold them.
const (
	rseedFormatBeforeZIP212 byte = 0x01
	rseedFormatZIP212       byte = 0x02
)

// Note is a decrypted or freshly-created shielded note (§3).
type Note struct {
	D        [address.DiversifierSize]byte
	PkD      curve.Point
	Value    uint64
	Rseed    [32]byte
	Position uint64
	Memo     [MemoSize]byte
	Spent    bool
}

// NewOutgoing creates a fresh note for a send, drawing rseed from a
// CSPRNG as required for notes the wallet itself creates (§4.5).
func NewOutgoing(to address.PaymentAddress, value uint64, memo [MemoSize]byte) (Note, error) {
	if value > MaxValue {
		return Note{}, ErrValueOverflow
	}
	var rseed [32]byte
	if _, err := rand.Read(rseed[:]); err != nil {
		return Note{}, err
	}
	return Note{D: to.D, PkD: to.PkD, Value: value, Rseed: rseed, Memo: memo}, nil
}

// Rcm derives the commitment randomness from rseed via PRF_expand tag
// 0x04 (§4.5).
func (n Note) Rcm() curve.Scalar {
	return hashing.PRFExpandScalar(n.Rseed[:], 0x04)
}

// Cmu computes the note commitment (§4.2).
func (n Note) Cmu() curve.FieldElement {
	compressed := n.PkD.Compress()
	return hashing.NoteCommitment(n.D[:], compressed[:], n.Value, n.Rcm())
}

// Nullifier computes nf = BLAKE2s-256(repr(nk) || rho), personalised
// with "Zcash_Ex", where rho hashes the note's commitment and position
// (hashing.NullifierKey, hashing.Rho).
func (n Note) Nullifier(nk curve.Point) [32]byte {
	cmuBytes := n.Cmu().Bytes()
	rho := hashing.Rho(cmuBytes, n.Position)
	nkBytes := nk.Compress()
	return hashing.NullifierKey(nkBytes[:], rho)
}

// Plaintext is the decrypted layout carried in enc_ciphertext.
type Plaintext struct {
	D     [address.DiversifierSize]byte
	Value uint64
	Rseed [32]byte
	Memo  [MemoSize]byte
}

// Encode serialises the plaintext to its fixed 564-byte wire form.
func (p Plaintext) Encode() [PlaintextSize]byte {
	var out [PlaintextSize]byte
	out[0] = rseedFormatZIP212
	off := 1
	copy(out[off:], p.D[:])
	off += address.DiversifierSize
	binary.LittleEndian.PutUint64(out[off:], p.Value)
	off += 8
	copy(out[off:], p.Rseed[:])
	off += 32
	copy(out[off:], p.Memo[:])
	return out
}

// DecodePlaintext is the inverse of Encode, failing ErrPlaintextLength
// or ErrUnknownRseedForm on malformed input.
func DecodePlaintext(data []byte) (Plaintext, error) {
	if len(data) != PlaintextSize {
		return Plaintext{}, ErrPlaintextLength
	}
	tag := data[0]
	if tag != rseedFormatZIP212 && tag != rseedFormatBeforeZIP212 {
		return Plaintext{}, ErrUnknownRseedForm
	}

	var p Plaintext
	off := 1
	copy(p.D[:], data[off:off+address.DiversifierSize])
	off += address.DiversifierSize
	p.Value = binary.LittleEndian.Uint64(data[off : off+8])
	off += 8
	copy(p.Rseed[:], data[off:off+32])
	off += 32
	copy(p.Memo[:], data[off:off+MemoSize])
	return p, nil
}

// ToNote reconstructs a Note from a decrypted plaintext and the
// recipient's pk_d (the scanner recomputes it from the wallet's ivk and
// the plaintext's diversifier), setting Position to the tree position the scanner is
// about to append it at.
func (p Plaintext) ToNote(pkD curve.Point, position uint64) Note {
	return Note{D: p.D, PkD: pkD, Value: p.Value, Rseed: p.Rseed, Position: position, Memo: p.Memo}
}

// PadMemo pads a short memo to 512 bytes with the 0xF6 unused sentinel
// followed by zero bytes, per §4.5.
func PadMemo(text []byte) ([MemoSize]byte, error) {
	if len(text) > MemoSize-1 {
		return [MemoSize]byte{}, ErrMemoSize
	}
	var memo [MemoSize]byte
	copy(memo[:], text)
	if len(text) < MemoSize {
		memo[len(text)] = 0xF6
	}
	return memo, nil
}
