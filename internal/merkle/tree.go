// Package merkle implements the 32-level incremental Pedersen-hash
// commitment tree (C6), including checkpointing and per-leaf witness
// maintenance.
//
// The structure mirrors the teacher's internal/zkp/merkle.go
// CommitmentTree: a mutex-guarded struct over a pluggable node store
// addressed by (level, index), with siblings that are missing in the
// store treated as the empty-subtree constant for that level. This
// generalizes the teacher's SHA-256 tree of arbitrary leaves to a
// Pedersen-hash tree of note commitments with witness tracking and
// reorg-safe checkpoints.
package merkle

import (
	"context"
	"errors"
	"sync"

	"github.com/ccoin/shielded/internal/curve"
	"github.com/ccoin/shielded/internal/hashing"
)

// Depth is the fixed depth of the Sapling commitment tree.
const Depth = 32

// Tree errors.
var (
	ErrFull               = errors.New("merkle: tree is full")
	ErrPositionNotTracked = errors.New("merkle: position is not a tracked witness")
	ErrInvalidPosition    = errors.New("merkle: position out of range")
	ErrNoCheckpoint       = errors.New("merkle: no checkpoint to rewind to")
	ErrRewindTooDeep      = errors.New("merkle: rewind exceeds reorg-safe depth")
)

// Store persists tree nodes so a crash between blocks can resume from
// the last committed height (§4.8 Persistence).
type Store interface {
	GetNode(ctx context.Context, level int, index uint64) (curve.FieldElement, bool, error)
	SetNode(ctx context.Context, level int, index uint64, value curve.FieldElement) error
	GetSize(ctx context.Context) (uint64, error)
	SetSize(ctx context.Context, size uint64) error
}

// Witness is a Merkle authentication path for a tracked leaf.
type Witness struct {
	Position            uint64
	AuthPath            [Depth]curve.FieldElement
	LastUpdatedTreeSize uint64
}

// checkpoint snapshots enough state to rewind the tree to an earlier
// size: its size and the witnesses of every tracked leaf at that point.
// Stored nodes are not snapshotted: Rewind recomputes the ones that
// covered leaves beyond the restored size.
type checkpoint struct {
	size    uint64
	tracked map[uint64]Witness
}

// Tree is the append-only Pedersen commitment tree.
type Tree struct {
	mu sync.RWMutex

	store Store

	size    uint64
	emptyAt [Depth + 1]curve.FieldElement

	tracked map[uint64]*Witness

	checkpoints []checkpoint
	reorgDepth  int
}

// NewTree constructs a tree backed by store, with the given bounded
// checkpoint depth (default 100 per REORG_DEPTH).
func NewTree(store Store, reorgDepth int) *Tree {
	if reorgDepth <= 0 {
		reorgDepth = 100
	}
	t := &Tree{
		store:      store,
		tracked:    make(map[uint64]*Witness),
		reorgDepth: reorgDepth,
	}
	t.emptyAt[0] = hashing.PedersenHash(63, []byte("Sapling empty leaf"))
	for lvl := 1; lvl <= Depth; lvl++ {
		t.emptyAt[lvl] = hashPair(t.emptyAt[lvl-1], t.emptyAt[lvl-1], lvl-1)
	}
	return t
}

// Load restores the tree's size from the store.
func (t *Tree) Load(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	size, err := t.store.GetSize(ctx)
	if err != nil {
		return err
	}
	t.size = size
	return nil
}

func hashPair(left, right curve.FieldElement, level int) curve.FieldElement {
	buf := append(append([]byte{}, left.Bytes()...), right.Bytes()...)
	return hashing.PedersenHash(level%64, buf)
}

// Size returns the number of committed leaves.
func (t *Tree) Size() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.size
}

func (t *Tree) nodeOrEmpty(ctx context.Context, level int, index uint64) curve.FieldElement {
	v, ok, err := t.store.GetNode(ctx, level, index)
	if err != nil || !ok {
		return t.emptyAt[level]
	}
	return v
}

// Root returns the current tree root.
func (t *Tree) Root(ctx context.Context) curve.FieldElement {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.size == 0 {
		return t.emptyAt[Depth]
	}
	return t.nodeOrEmpty(ctx, Depth, 0)
}

// Append inserts cmu as the next leaf, propagates the hash up to the
// root, updates every tracked witness, and returns the new leaf's
// position.
func (t *Tree) Append(ctx context.Context, cmu curve.FieldElement) (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	maxLeaves := uint64(1) << Depth
	if t.size >= maxLeaves {
		return 0, ErrFull
	}

	position := t.size
	if err := t.store.SetNode(ctx, 0, position, cmu); err != nil {
		return 0, err
	}

	cur := cmu
	idx := position
	for lvl := 0; lvl < Depth; lvl++ {
		siblingIdx := idx ^ 1
		sibling := t.nodeOrEmpty(ctx, lvl, siblingIdx)

		var parent curve.FieldElement
		if idx%2 == 0 {
			parent = hashPair(cur, sibling, lvl)
		} else {
			parent = hashPair(sibling, cur, lvl)
		}
		idx /= 2
		if err := t.store.SetNode(ctx, lvl+1, idx, parent); err != nil {
			return 0, err
		}
		cur = parent
	}

	t.size = position + 1
	if err := t.store.SetSize(ctx, t.size); err != nil {
		return 0, err
	}

	for pos, w := range t.tracked {
		t.refreshWitnessLocked(ctx, pos, w)
	}

	return position, nil
}

// refreshWitnessLocked recomputes w's auth path by reading siblings
// directly from the store. Called with the lock held.
func (t *Tree) refreshWitnessLocked(ctx context.Context, pos uint64, w *Witness) {
	idx := pos
	for lvl := 0; lvl < Depth; lvl++ {
		w.AuthPath[lvl] = t.nodeOrEmpty(ctx, lvl, idx^1)
		idx /= 2
	}
	w.LastUpdatedTreeSize = t.size
}

// RegisterWitness begins tracking position so its authentication path
// is kept current on every subsequent append. Only tracked positions
// may be queried with WitnessFor.
func (t *Tree) RegisterWitness(ctx context.Context, position uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if position >= t.size {
		return ErrInvalidPosition
	}
	w := &Witness{Position: position}
	t.refreshWitnessLocked(ctx, position, w)
	t.tracked[position] = w
	return nil
}

// ForgetWitness stops tracking position, e.g. once its note is spent
// and no longer needed for future proofs.
func (t *Tree) ForgetWitness(position uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.tracked, position)
}

// WitnessFor returns the current witness for a tracked position.
func (t *Tree) WitnessFor(position uint64) (Witness, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	w, ok := t.tracked[position]
	if !ok {
		return Witness{}, ErrPositionNotTracked
	}
	return *w, nil
}

// Fold computes the root obtained by folding leaf up w's auth path,
// used to validate invariant 3: the note's witness reproduces the
// tree's root at the size it was last updated against.
func Fold(leaf curve.FieldElement, w Witness) curve.FieldElement {
	cur := leaf
	idx := w.Position
	for lvl := 0; lvl < Depth; lvl++ {
		sibling := w.AuthPath[lvl]
		if idx%2 == 0 {
			cur = hashPair(cur, sibling, lvl)
		} else {
			cur = hashPair(sibling, cur, lvl)
		}
		idx /= 2
	}
	return cur
}

// Checkpoint snapshots the tree's current size and tracked witnesses,
// to be called before each scanned block. Checkpoints older than the
// configured reorg depth are discarded.
func (t *Tree) Checkpoint() {
	t.mu.Lock()
	defer t.mu.Unlock()

	cp := checkpoint{size: t.size, tracked: make(map[uint64]Witness, len(t.tracked))}
	for pos, w := range t.tracked {
		cp.tracked[pos] = *w
	}

	t.checkpoints = append(t.checkpoints, cp)
	if len(t.checkpoints) > t.reorgDepth {
		t.checkpoints = t.checkpoints[len(t.checkpoints)-t.reorgDepth:]
	}
}

// Rewind restores the tree to the most recent checkpoint at exactly
// targetSize. Stored nodes lying wholly beyond targetSize are reset to
// the empty-subtree constant of their level, and the one node per level
// that spans targetSize is rehashed from its children, so Root and later
// Appends see the tree exactly as it was at targetSize. It fails if no
// such checkpoint exists within the bounded history, signalling that a
// full rescan is required (§4.6).
func (t *Tree) Rewind(ctx context.Context, targetSize uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := len(t.checkpoints) - 1; i >= 0; i-- {
		cp := t.checkpoints[i]
		if cp.size != targetSize {
			continue
		}
		oldSize := t.size
		t.size = cp.size
		t.tracked = make(map[uint64]*Witness, len(cp.tracked))
		for pos, w := range cp.tracked {
			wCopy := w
			t.tracked[pos] = &wCopy
		}
		for lvl := 0; lvl <= Depth && oldSize > cp.size; lvl++ {
			for idx := cp.size >> uint(lvl); idx <= (oldSize-1)>>uint(lvl); idx++ {
				v := t.emptyAt[lvl]
				if lvl > 0 && idx<<uint(lvl) < cp.size {
					v = hashPair(t.nodeOrEmpty(ctx, lvl-1, 2*idx), t.nodeOrEmpty(ctx, lvl-1, 2*idx+1), lvl-1)
				}
				if err := t.store.SetNode(ctx, lvl, idx, v); err != nil {
					return err
				}
			}
		}
		t.checkpoints = t.checkpoints[:i]
		if err := t.store.SetSize(ctx, t.size); err != nil {
			return err
		}
		return nil
	}
	if len(t.checkpoints) == 0 {
		return ErrNoCheckpoint
	}
	return ErrRewindTooDeep
}
