// Package notecache implements the note bookkeeping layer (C7): a
// cmu-keyed store of decrypted notes, a spent-nullifier set, and the
// greedy coin-selection policy the transaction builder relies on.
//
// Adapted from the teacher's internal/zkp/nullifier.go (NullifierSet:
// cache plus persistent store, IsSpent/MarkSpent) generalized from a
// bare double-spend guard into the full note lifecycle the spec
// describes, and from internal/mempool/mempool.go's locking discipline
// (a single RWMutex guarding a handful of maps).
package notecache

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/ccoin/shielded/internal/curve"
	"github.com/ccoin/shielded/internal/merkle"
	"github.com/ccoin/shielded/internal/notes"
)

// Cache errors (§4.7).
var (
	ErrDuplicate         = errors.New("notecache: note already present")
	ErrInsufficientFunds = errors.New("notecache: spendable balance below amount+fee")
	ErrNotFound          = errors.New("notecache: no note for that commitment")
)

// Store persists the cache's state so a restart can resume without a
// full rescan. A context.Context on every method matches the teacher's
// NullifierStore/TreeStore convention of passing ctx to storage calls.
type Store interface {
	PutNote(ctx context.Context, cmu curve.FieldElement, n notes.Note) error
	PutNullifier(ctx context.Context, nullifier [32]byte, cmu curve.FieldElement) error
	Notes(ctx context.Context) (map[curve.FieldElement]notes.Note, error)
	Nullifiers(ctx context.Context) (map[[32]byte]curve.FieldElement, error)
}

// entry pairs a note with the witness passed to Add, or the latest one
// passed to UpdateWitness. The cache does not refresh it when the tree
// grows.
type entry struct {
	note    notes.Note
	witness merkle.Witness
}

// Cache is the in-memory note index, optionally durable via Store.
type Cache struct {
	mu sync.RWMutex

	byCmu        map[curve.FieldElement]*entry
	nullifierIdx map[[32]byte]curve.FieldElement

	store Store
}

// New creates an empty cache. store may be nil for a pure in-memory
// instance (tests, or a one-shot CLI invocation).
func New(store Store) *Cache {
	return &Cache{
		byCmu:        make(map[curve.FieldElement]*entry),
		nullifierIdx: make(map[[32]byte]curve.FieldElement),
		store:        store,
	}
}

// Add inserts a newly-scanned note with its initial witness (§4.7).
func (c *Cache) Add(ctx context.Context, n notes.Note, w merkle.Witness) error {
	cmu := n.Cmu()

	c.mu.Lock()
	if _, exists := c.byCmu[cmu]; exists {
		c.mu.Unlock()
		return ErrDuplicate
	}
	c.byCmu[cmu] = &entry{note: n, witness: w}
	c.mu.Unlock()

	if c.store != nil {
		return c.store.PutNote(ctx, cmu, n)
	}
	return nil
}

// UpdateWitness replaces the stored witness for cmu. The scanner does
// not call it, so a cached witness stays as captured at Add; the tree
// itself keeps every registered position's witness current
// (merkle.Tree.WitnessFor).
func (c *Cache) UpdateWitness(cmu curve.FieldElement, w merkle.Witness) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.byCmu[cmu]; ok {
		e.witness = w
	}
}

// MarkSpent flips spent=true on the note whose nullifier matches, and
// is idempotent: marking an already-spent or unknown nullifier is not
// an error (§4.7, observed nullifiers may belong to another wallet's
// note).
func (c *Cache) MarkSpent(ctx context.Context, nk curve.Point, nullifier [32]byte) error {
	c.mu.Lock()
	var found *curve.FieldElement
	for cmu, e := range c.byCmu {
		if e.note.Spent {
			continue
		}
		if e.note.Nullifier(nk) == nullifier {
			e.note.Spent = true
			cmuCopy := cmu
			found = &cmuCopy
			break
		}
	}
	if found != nil {
		c.nullifierIdx[nullifier] = *found
	}
	c.mu.Unlock()

	if found == nil || c.store == nil {
		return nil
	}
	return c.store.PutNullifier(ctx, nullifier, *found)
}

// IsSpent reports whether nullifier belongs to one of this cache's own
// notes that MarkSpent has marked spent. Observed nullifiers that match
// no cached note are not recorded and report false.
func (c *Cache) IsSpent(nullifier [32]byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.nullifierIdx[nullifier]
	return ok
}

// Get returns the note and witness stored under cmu.
func (c *Cache) Get(cmu curve.FieldElement) (notes.Note, merkle.Witness, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.byCmu[cmu]
	if !ok {
		return notes.Note{}, merkle.Witness{}, false
	}
	return e.note, e.witness, true
}

// Balance sums the value of every unspent note.
func (c *Cache) Balance() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var total uint64
	for _, e := range c.byCmu {
		if !e.note.Spent {
			total += e.note.Value
		}
	}
	return total
}

// Selected is one note chosen by Select, paired with the witness the
// transaction builder needs to compute its Merkle authentication path.
type Selected struct {
	Note    notes.Note
	Witness merkle.Witness
}

// Select implements the largest_first policy (§4.7): spendable notes
// are sorted by descending value and taken until their sum covers
// amount+fee. Returns the chosen notes and the change amount (zero if
// the sum matches exactly).
func (c *Cache) Select(amount, fee uint64) ([]Selected, uint64, error) {
	target := amount + fee

	c.mu.RLock()
	candidates := make([]Selected, 0, len(c.byCmu))
	for _, e := range c.byCmu {
		if e.note.Spent {
			continue
		}
		candidates = append(candidates, Selected{Note: e.note, Witness: e.witness})
	}
	c.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Note.Value > candidates[j].Note.Value
	})

	var sum uint64
	chosen := make([]Selected, 0, len(candidates))
	for _, cand := range candidates {
		if sum >= target {
			break
		}
		chosen = append(chosen, cand)
		sum += cand.Note.Value
	}

	if sum < target {
		return nil, 0, ErrInsufficientFunds
	}
	return chosen, sum - target, nil
}

// Snapshot is the versioned, self-describing export format (§4.7,
// §6): a flat list of notes plus the nullifier index, tagged with a
// format version so a future engine can detect and migrate older
// exports instead of misreading them.
type Snapshot struct {
	Version     uint32
	Notes       []notes.Note
	Nullifiers  map[[32]byte]curve.FieldElement
}

// SnapshotVersion is the current export format tag.
const SnapshotVersion = 1

// Export produces a Snapshot of the cache's current state.
func (c *Cache) Export() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := Snapshot{
		Version:    SnapshotVersion,
		Notes:      make([]notes.Note, 0, len(c.byCmu)),
		Nullifiers: make(map[[32]byte]curve.FieldElement, len(c.nullifierIdx)),
	}
	for _, e := range c.byCmu {
		out.Notes = append(out.Notes, e.note)
	}
	for nf, cmu := range c.nullifierIdx {
		out.Nullifiers[nf] = cmu
	}
	return out
}

// Import restores a cache from a Snapshot, taking witnesses from the
// supplied tree, in which every note's position must already be a
// tracked witness (merkle.Tree.RegisterWitness); an untracked position
// fails with merkle.ErrPositionNotTracked. A version mismatch is
// rejected rather than guessed at.
func Import(snap Snapshot, tree *merkle.Tree) (*Cache, error) {
	if snap.Version != SnapshotVersion {
		return nil, errUnsupportedVersion{snap.Version}
	}
	c := New(nil)
	for _, n := range snap.Notes {
		w, err := tree.WitnessFor(n.Position)
		if err != nil {
			return nil, err
		}
		cmu := n.Cmu()
		c.byCmu[cmu] = &entry{note: n, witness: w}
	}
	for nf, cmu := range snap.Nullifiers {
		c.nullifierIdx[nf] = cmu
	}
	return c, nil
}

type errUnsupportedVersion struct{ got uint32 }

func (e errUnsupportedVersion) Error() string {
	return "notecache: unsupported snapshot version"
}
