// Package scanner implements the block-to-note scan (C8): trial
// decryption of every shielded output against a wallet's incoming
// viewing key, nullifier observation, and tree/witness maintenance.
//
// Grounded on the teacher's internal/zkp/merkle.go append loop and
// internal/zkp/nullifier.go double-spend bookkeeping, combined into
// the single per-block pipeline the spec describes: decrypt, append,
// persist, advance.
package scanner

import (
	"bytes"
	"context"
	"errors"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/ccoin/shielded/internal/curve"
	"github.com/ccoin/shielded/internal/hashing"
	"github.com/ccoin/shielded/internal/merkle"
	"github.com/ccoin/shielded/internal/notecache"
	"github.com/ccoin/shielded/internal/notes"
	"github.com/ccoin/shielded/internal/txformat"
)

// Scan errors.
var ErrCmuMismatch = errors.New("scanner: recovered plaintext's cmu does not match the output's cmu")

// zeroNonce is the fixed 12-byte nonce used for note-encryption AEAD.
// Safe only because k_enc is derived fresh per output from an
// ephemeral ECDH secret and is never reused across two outputs.
var zeroNonce [chacha20poly1305.NonceSize]byte

// Output is one shielded output as delivered by the RPC adapter.
// EncCiphertext is either the 580-byte full form or the 52-byte
// compact form (§4.8).
type Output struct {
	Cv            [32]byte
	Cmu           [32]byte
	EphemeralKey  [32]byte
	EncCiphertext []byte
}

// SpendRef is the minimal shape the scanner needs from a shielded
// spend description to observe its nullifier.
type SpendRef struct {
	Nullifier [32]byte
}

// Transaction groups the shielded outputs and spends of one block
// transaction, processed output-then-spend in index order (§4.8
// Ordering).
type Transaction struct {
	Outputs []Output
	Spends  []SpendRef
}

// Block is a finite, ordered sequence of transactions.
type Block struct {
	Height uint64
	Txs    []Transaction
}

// Progress is reported to the caller after every processed block
// (§4.8 Progress contract).
type Progress struct {
	CurrentHeight uint64
	TargetHeight  uint64
	NotesFound    uint64
}

// FailureReason classifies a trial-decrypt failure for the stats
// histogram (§4.8 Decryption statistics).
type FailureReason int

const (
	FailureAuthentication FailureReason = iota
	FailurePlaintextLength
	FailureCmuMismatch
)

// Stats accumulates (attempts, successes, failures) plus a histogram
// of failure reasons. A cmu mismatch after successful authentication
// is always counted as a failure, never a success (§4.8's historical
// note: a correct implementation MUST NOT report cmu mismatch as
// success).
type Stats struct {
	Attempts  uint64
	Successes uint64
	Failures  map[FailureReason]uint64
}

func newStats() *Stats {
	return &Stats{Failures: make(map[FailureReason]uint64)}
}

// Scanner decrypts blocks against one viewing key and feeds recovered
// notes into a Cache and a Tree.
type Scanner struct {
	ivk   curve.Scalar
	nk    curve.Point
	tree  *merkle.Tree
	cache *notecache.Cache

	stats *Stats
	log   *logrus.Entry
}

// New constructs a Scanner bound to ivk (for detection/decryption) and
// nk (for nullifier derivation of notes this scanner recovers). Log
// fields follow the teacher's logrus.WithFields convention rather than
// bare fmt/log output.
func New(ivk curve.Scalar, nk curve.Point, tree *merkle.Tree, cache *notecache.Cache) *Scanner {
	return &Scanner{
		ivk: ivk, nk: nk, tree: tree, cache: cache,
		stats: newStats(),
		log:   logrus.WithField("component", "scanner"),
	}
}

// Stats returns a snapshot of the running decryption statistics.
func (s *Scanner) Stats() Stats {
	out := Stats{Attempts: s.stats.Attempts, Successes: s.stats.Successes, Failures: make(map[FailureReason]uint64, len(s.stats.Failures))}
	for k, v := range s.stats.Failures {
		out.Failures[k] = v
	}
	return out
}

// ProgressFunc is invoked after every processed block.
type ProgressFunc func(Progress)

// ScanRange processes blocks in order, returning early (with ctx.Err())
// if ctx is cancelled at a block boundary (§4.8 cooperative
// cancellation).
func (s *Scanner) ScanRange(ctx context.Context, blocks []Block, targetHeight uint64, onProgress ProgressFunc) error {
	var notesFound uint64

	for _, block := range blocks {
		select {
		case <-ctx.Done():
			s.log.WithField("height", block.Height).Debug("scan cancelled at block boundary")
			return ctx.Err()
		default:
		}

		s.tree.Checkpoint()

		for _, tx := range block.Txs {
			for _, out := range tx.Outputs {
				found, err := s.processOutput(ctx, out)
				if err != nil {
					return err
				}
				if found {
					notesFound++
				}
			}
			for _, sp := range tx.Spends {
				if err := s.cache.MarkSpent(ctx, s.nk, sp.Nullifier); err != nil {
					return err
				}
			}
		}

		s.log.WithFields(logrus.Fields{
			"height":      block.Height,
			"target":      targetHeight,
			"notes_found": notesFound,
		}).Debug("block scanned")

		if onProgress != nil {
			onProgress(Progress{CurrentHeight: block.Height, TargetHeight: targetHeight, NotesFound: notesFound})
		}
	}
	return nil
}

// processOutput appends out's cmu to the tree unconditionally — the
// tree is a shared structure over every commitment the network has
// ever seen, not just this wallet's own notes (§2: "Merkle tree
// appends every commitment (not just ours) and updates stored
// witnesses") — then attempts to decrypt it as ours. Only on a
// successful, cmu-verified recovery does it register a witness for
// the new position and insert the note into the cache; every other
// outcome still leaves the tree correctly advanced; a storage or tree
// failure is the only error surfaced.
func (s *Scanner) processOutput(ctx context.Context, out Output) (bool, error) {
	position, err := s.tree.Append(ctx, curve.FieldFromBytes(out.Cmu[:]))
	if err != nil {
		return false, err
	}

	plaintext, pkD, ok := s.decrypt(out)
	if !ok {
		return false, nil
	}

	if err := s.tree.RegisterWitness(ctx, position); err != nil {
		return false, err
	}
	w, err := s.tree.WitnessFor(position)
	if err != nil {
		return false, err
	}

	n := plaintext.ToNote(pkD, position)
	if err := s.cache.Add(ctx, n, w); err != nil {
		return false, err
	}

	s.stats.Successes++
	s.log.WithField("position", position).Debug("note recovered")
	return true, nil
}

// decrypt attempts to trial-decrypt out as ours, returning ok=false
// (not an error) whenever decryption or verification fails, since that
// is the expected outcome for every output not addressed to this
// wallet.
//
// Full recovery requires the 580-byte form: it alone carries the
// Poly1305 tag over the complete 564-byte plaintext, so only it can be
// authenticated. A 52-byte compact-only input (§4.8) is treated as a
// fast pre-filter rather than a complete decrypt path: it cannot carry
// enough ciphertext to authenticate on its own, so the scanner records
// it as an authentication failure and waits for the output's full form
// before a note can actually be recovered.
func (s *Scanner) decrypt(out Output) (notes.Plaintext, curve.Point, bool) {
	s.stats.Attempts++

	if len(out.EncCiphertext) != txformat.EncCiphertextSize {
		s.stats.Failures[FailureAuthentication]++
		return notes.Plaintext{}, curve.Point{}, false
	}

	epkPoint, err := curve.Decompress(out.EphemeralKey[:])
	if err != nil {
		s.stats.Failures[FailureAuthentication]++
		return notes.Plaintext{}, curve.Point{}, false
	}

	sharedSecret := epkPoint.ScalarMul(s.ivk).Compress()
	kEnc := hashing.KDFSapling(sharedSecret[:], out.EphemeralKey[:])

	aead, err := chacha20poly1305.New(kEnc[:])
	if err != nil {
		s.stats.Failures[FailureAuthentication]++
		return notes.Plaintext{}, curve.Point{}, false
	}

	plaintextBytes, err := aead.Open(nil, zeroNonce[:], out.EncCiphertext, nil)
	if err != nil {
		s.stats.Failures[FailureAuthentication]++
		return notes.Plaintext{}, curve.Point{}, false
	}

	plaintext, err := notes.DecodePlaintext(plaintextBytes)
	if err != nil {
		s.stats.Failures[FailurePlaintextLength]++
		return notes.Plaintext{}, curve.Point{}, false
	}

	pkD, ok := derivePkD(s.ivk, plaintext.D)
	if !ok {
		s.stats.Failures[FailureAuthentication]++
		return notes.Plaintext{}, curve.Point{}, false
	}

	recomputedCmu := notes.Note{D: plaintext.D, PkD: pkD, Value: plaintext.Value, Rseed: plaintext.Rseed}.Cmu().Bytes()
	if !bytes.Equal(recomputedCmu, out.Cmu[:]) {
		s.stats.Failures[FailureCmuMismatch]++
		return notes.Plaintext{}, curve.Point{}, false
	}

	return plaintext, pkD, true
}

// derivePkD recomputes pk_d = ivk * DiversifyHash(d), used to populate
// the recovered note's pk_d field without needing it on the wire.
func derivePkD(ivk curve.Scalar, d [11]byte) (curve.Point, bool) {
	gd, ok := curve.GroupHash("Zcash_gd", d[:])
	if !ok {
		return curve.Point{}, false
	}
	return gd.ScalarMul(ivk), true
}
