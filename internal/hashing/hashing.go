// Package hashing implements the personalized BLAKE2 hashes, the
// Pedersen hash, and the KDF used throughout the Sapling note lifecycle.
//
// All personalizations are bit-exact domain separators; callers must
// not reuse a tag across two different derivations.
package hashing

import (
	"encoding/binary"
	"errors"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/blake2s"

	"github.com/ccoin/shielded/internal/curve"
)

// ErrShortInput is returned when a caller supplies fewer bytes than a
// hash tag requires.
var ErrShortInput = errors.New("hashing: input shorter than required")

const (
	personExpandSeed = "Zcash_ExpandSeed"
	personSaplingKDF = "Zcash_SaplingKDF"
	personCRHIVK     = "Zcashivk"
	personPedersen   = "Zcash_PH"
)

// PRFExpand implements PRF_expand(sk, t) = BLAKE2b-512 personalised
// "Zcash_ExpandSeed" over sk || t, returning the full 64-byte digest.
func PRFExpand(sk []byte, t ...byte) [64]byte {
	h, err := blake2b.New512(&blake2b.Config{Person: []byte(personExpandSeed)})
	if err != nil {
		panic(err) // static configuration, cannot fail
	}
	h.Write(sk)
	h.Write(t)
	var out [64]byte
	copy(out[:], h.Sum(nil))
	return out
}

// PRFExpandScalar runs PRF_expand and reduces the result into a Jubjub
// scalar, as used for ask, nsk, and rcm derivation.
func PRFExpandScalar(sk []byte, t byte) curve.Scalar {
	digest := PRFExpand(sk, t)
	return curve.ScalarFromBytes(digest[:])
}

// KDFSapling derives the 32-byte symmetric key used to decrypt
// enc_ciphertext from an ECDH shared secret and the sender's ephemeral
// public key, personalised "Zcash_SaplingKDF".
func KDFSapling(sharedSecret, epk []byte) [32]byte {
	h, err := blake2b.New256(&blake2b.Config{Person: []byte(personSaplingKDF)})
	if err != nil {
		panic(err)
	}
	h.Write(sharedSecret)
	h.Write(epk)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// CRHIvk derives the incoming viewing key by hashing (ak || nk) with
// BLAKE2s personalised "Zcashivk" and cropping to 251 bits, matching
// the spec's ivk derivation (§4.4 step 4).
func CRHIvk(ak, nk []byte) curve.Scalar {
	h, err := blake2s.New256(&blake2s.Config{Person: []byte(personCRHIVK)})
	if err != nil {
		panic(err)
	}
	h.Write(ak)
	h.Write(nk)
	digest := h.Sum(nil)
	// Crop to 251 bits: clear the top 5 bits of the last byte.
	digest[31] &= 0x07
	return curve.ScalarFromBytes(digest)
}

// NullifierKey derives the nullifier as BLAKE2s-256(nk || rho),
// personalised with "Zcash_Ex" (the first 8 bytes of
// "Zcash_ExpandSeed", BLAKE2s's maximum personalisation length).
func NullifierKey(nk, rho []byte) [32]byte {
	h, err := blake2s.New256(&blake2s.Config{Person: []byte(personExpandSeed)[:8]})
	if err != nil {
		panic(err)
	}
	h.Write(nk)
	h.Write(rho)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Rho derives the per-note nullifier input as BLAKE2b-256 of the note's
// commitment followed by its tree position (little-endian u64), so two
// notes at different tree positions never collide on nullifier input
// even if their commitments matched.
func Rho(cmu []byte, position uint64) []byte {
	buf := make([]byte, len(cmu)+8)
	copy(buf, cmu)
	binary.LittleEndian.PutUint64(buf[len(cmu):], position)
	sum := blake2b.Sum256(buf)
	return sum[:]
}

// generator derives the base point for a Pedersen hash segment
// deterministically from the curve generator via domain-separated
// scalar multiplication, the same technique the teacher uses to derive
// its secondary commitment generator from a hashed seed
// (internal/zkp/pedersen.go: hashToBytes).
func generator(segment int) curve.Point {
	h, err := blake2s.New256(&blake2s.Config{Person: []byte(personPedersen)[:8]})
	if err != nil {
		panic(err)
	}
	binary.Write(h, binary.LittleEndian, uint32(segment))
	seed := h.Sum(nil)
	s := curve.ScalarFromBytes(seed)
	return curve.Generator().ScalarMul(s)
}

// PedersenHash computes the Pedersen hash of a bit string by chunking
// it into 3-bit windows, each selecting one of 8 multiples of a
// per-segment generator, and summing the resulting points; the digest
// is the sum's 32-byte compressed encoding read as a field element. It
// is used both for note
// commitments and for Merkle tree internal nodes.
func PedersenHash(personalizationSegment int, data []byte) curve.FieldElement {
	bits := bytesToBits(data)
	acc := curve.Identity()

	const windowBits = 3
	segment := personalizationSegment
	for i := 0; i < len(bits); i += windowBits {
		end := i + windowBits
		if end > len(bits) {
			end = len(bits)
		}
		window := bits[i:end]
		value := windowValue(window)

		g := generator(segment)
		term := g.ScalarMul(curve.ScalarFromBytes([]byte{byte(value + 1)}))
		acc = acc.Add(term)
		segment++
		if segment >= 64 {
			segment = 0
		}
	}

	compressed := acc.Compress()
	return curve.FieldFromBytes(compressed[:])
}

func bytesToBits(data []byte) []bool {
	bits := make([]bool, 0, len(data)*8)
	for _, b := range data {
		for i := 0; i < 8; i++ {
			bits = append(bits, (b>>uint(i))&1 == 1)
		}
	}
	return bits
}

func windowValue(bits []bool) int {
	v := 0
	for i, b := range bits {
		if b {
			v |= 1 << uint(i)
		}
	}
	return v
}

// NoteCommitment computes cmu = PedersenHash(repr(d) || repr(pk_d) ||
// I2LEOSP(value, 64) || rcm), per §4.2.
func NoteCommitment(d []byte, pkD []byte, value uint64, rcm curve.Scalar) curve.FieldElement {
	buf := make([]byte, 0, len(d)+len(pkD)+8+32)
	buf = append(buf, d...)
	buf = append(buf, pkD...)
	valBytes := make([]byte, 8)
	binary.LittleEndian.PutUint64(valBytes, value)
	buf = append(buf, valBytes...)
	buf = append(buf, rcm.Bytes()...)
	return PedersenHash(0, buf)
}
