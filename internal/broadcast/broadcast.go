// Package broadcast implements transaction submission and confirmation
// tracking (C11): Submit posts a raw transaction to the node; Tracker
// polls for its inclusion and classifies it into the mempool →
// confirmed → final lifecycle, or a terminal expired/conflicted state.
//
// The Tracker's RWMutex-guarded map-of-state shape mirrors the
// teacher's sync.RWMutex-guarded structs convention (CommitmentTree,
// NullifierSet before adaptation) applied to a txid → State map instead
// of a cmu or nullifier set.
package broadcast

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ccoin/shielded/internal/rpcadapter"
	"github.com/ccoin/shielded/pkg/engineerr"
)

// State is one txid's position in the confirmation lifecycle (§4.11).
type State int

const (
	StateMempool State = iota
	StateConfirmed
	StateFinal
	StateExpired
	StateConflicted
)

func (s State) String() string {
	switch s {
	case StateMempool:
		return "mempool"
	case StateConfirmed:
		return "confirmed"
	case StateFinal:
		return "final"
	case StateExpired:
		return "expired"
	case StateConflicted:
		return "conflicted"
	default:
		return "unknown"
	}
}

// FinalConfirmations is how many confirmations promote a transaction
// from Confirmed to the terminal Final state.
const FinalConfirmations = 10

// DefaultPollInterval and MaxPollInterval bound the tracker's polling
// cadence (§4.11, §6 POLL_INTERVAL_MS).
const (
	DefaultPollInterval = 30 * time.Second
	MaxPollInterval     = 5 * time.Minute
	QuietPollsForBackoff = 10
)

// Broadcaster submits raw transactions (§4.11 submit).
type Broadcaster struct {
	rpc *rpcadapter.Client
	log *logrus.Entry
}

// NewBroadcaster wraps an RPC client for transaction submission.
func NewBroadcaster(rpc *rpcadapter.Client) *Broadcaster {
	return &Broadcaster{rpc: rpc, log: logrus.WithField("component", "broadcast")}
}

// Submit posts raw to the node, returning its txid. A node rejection
// (double-spend, policy) is classified Rejected and is terminal.
func (b *Broadcaster) Submit(ctx context.Context, rawTxHex string) (string, error) {
	txid, err := b.rpc.SendRawTransaction(ctx, rawTxHex)
	if err != nil {
		if engineerr.Is(err, engineerr.Rejected) {
			b.log.WithError(err).Warn("node rejected raw transaction")
			return "", err
		}
		return "", engineerr.Wrap("broadcast.Submit", err)
	}
	b.log.WithField("txid", txid).Info("transaction submitted")
	return txid, nil
}

// entry is one tracked transaction's observed state plus the quiet-poll
// counter driving backoff.
type entry struct {
	state         State
	confirmations int64
	quietPolls    int
	nextPoll      time.Time
}

// Tracker polls the node for the inclusion status of submitted
// transactions (§4.11).
type Tracker struct {
	mu  sync.RWMutex
	rpc *rpcadapter.Client
	log *logrus.Entry

	expiryHeight map[string]uint64
	entries      map[string]*entry
}

// NewTracker constructs an empty Tracker bound to rpc.
func NewTracker(rpc *rpcadapter.Client) *Tracker {
	return &Tracker{
		rpc:          rpc,
		log:          logrus.WithField("component", "broadcast"),
		expiryHeight: make(map[string]uint64),
		entries:      make(map[string]*entry),
	}
}

// Track begins tracking txid, expiring it if it never appears in the
// mempool or a block by expiryHeight.
func (t *Tracker) Track(txid string, expiryHeight uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.expiryHeight[txid] = expiryHeight
	t.entries[txid] = &entry{state: StateMempool, nextPoll: time.Now()}
}

// State returns the last-observed state for txid.
func (t *Tracker) State(txid string) (State, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[txid]
	if !ok {
		return 0, false
	}
	return e.state, true
}

var errNotTracked = errors.New("broadcast: txid is not tracked")

// Poll checks one txid's current confirmation status against the
// node, advancing its state machine and its backoff schedule. It is a
// cancellation boundary: ctx is checked before issuing the RPC call
// (§5 "per poll for broadcast tracking").
func (t *Tracker) Poll(ctx context.Context, txid string, currentHeight uint64) (State, error) {
	select {
	case <-ctx.Done():
		return 0, engineerr.New(engineerr.Cancelled, "broadcast.Poll", "poll cancelled", ctx.Err())
	default:
	}

	t.mu.Lock()
	e, ok := t.entries[txid]
	t.mu.Unlock()
	if !ok {
		return 0, errNotTracked
	}
	if e.state == StateFinal || e.state == StateExpired || e.state == StateConflicted {
		return e.state, nil
	}

	raw, err := t.rpc.GetRawTransaction(ctx, txid)
	if err != nil {
		t.mu.Lock()
		e.quietPolls++
		e.nextPoll = time.Now().Add(t.backoff(e.quietPolls))
		t.mu.Unlock()

		t.mu.RLock()
		expiry := t.expiryHeight[txid]
		t.mu.RUnlock()
		if currentHeight > expiry {
			t.setState(txid, StateExpired)
			return StateExpired, nil
		}
		return e.state, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	e.quietPolls = 0
	e.confirmations = raw.Confirmations
	prev := e.state
	switch {
	case raw.Confirmations >= FinalConfirmations:
		e.state = StateFinal
	case raw.Confirmations > 0:
		e.state = StateConfirmed
	default:
		e.state = StateMempool
	}
	e.nextPoll = time.Now().Add(DefaultPollInterval)
	if t.log != nil && e.state != prev {
		t.log.WithFields(logrus.Fields{"txid": txid, "state": e.state}).Info("tracked transaction changed state")
	}
	return e.state, nil
}

func (t *Tracker) setState(txid string, s State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[txid]; ok {
		e.state = s
		if t.log != nil {
			t.log.WithFields(logrus.Fields{"txid": txid, "state": s}).Info("tracked transaction changed state")
		}
	}
}

// backoff returns the poll interval for a tracked transaction after
// quietPolls consecutive polls found nothing new: the default interval
// until QuietPollsForBackoff is reached, then an exponential ramp
// capped at MaxPollInterval (§4.11: "exponential backoff to 5 min
// after 10 quiet polls").
func (t *Tracker) backoff(quietPolls int) time.Duration {
	if quietPolls < QuietPollsForBackoff {
		return DefaultPollInterval
	}
	shift := quietPolls - QuietPollsForBackoff
	if shift > 10 {
		shift = 10
	}
	d := DefaultPollInterval << uint(shift)
	if d > MaxPollInterval || d <= 0 {
		return MaxPollInterval
	}
	return d
}

// Run polls every tracked, non-terminal transaction whose nextPoll has
// elapsed, once per call, until ctx is cancelled. Callers typically
// invoke Run from a single long-lived goroutine; sweepInterval only
// bounds the *minimum* sleep between sweeps, since individual entries
// may have backed off further.
func (t *Tracker) Run(ctx context.Context, currentHeight func() uint64, sweepInterval time.Duration) error {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			t.sweep(ctx, currentHeight())
		}
	}
}

func (t *Tracker) sweep(ctx context.Context, currentHeight uint64) {
	t.mu.RLock()
	due := make([]string, 0, len(t.entries))
	now := time.Now()
	for txid, e := range t.entries {
		if e.state == StateFinal || e.state == StateExpired || e.state == StateConflicted {
			continue
		}
		if now.After(e.nextPoll) {
			due = append(due, txid)
		}
	}
	t.mu.RUnlock()

	for _, txid := range due {
		select {
		case <-ctx.Done():
			return
		default:
		}
		t.Poll(ctx, txid, currentHeight)
	}
}
