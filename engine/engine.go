// Package engine implements the public façade (C13): a single
// ShieldedEngine value composing key derivation, the commitment tree,
// the note cache, the scanner, the proof orchestrator, the transaction
// builder, and the broadcast tracker behind a small method set.
//
// Per §9's design note, the teacher's singleton "Zcash module" and its
// caches become one value owned by the host, which passes it
// explicitly to operations; the teacher's "only one operation at a
// time" global guard (a mutex shared across its P2P/consensus/mempool
// packages) becomes this engine's own internal exclusive lock, held
// only while the tree and cache are mutated (§5).
package engine

import (
	"context"
	"encoding/hex"
	"sync"

	"github.com/ccoin/shielded/internal/address"
	"github.com/ccoin/shielded/internal/broadcast"
	"github.com/ccoin/shielded/internal/keys"
	"github.com/ccoin/shielded/internal/merkle"
	"github.com/ccoin/shielded/internal/notecache"
	"github.com/ccoin/shielded/internal/prover"
	"github.com/ccoin/shielded/internal/rpcadapter"
	"github.com/ccoin/shielded/internal/scanner"
	"github.com/ccoin/shielded/internal/txbuilder"
	"github.com/ccoin/shielded/pkg/engineerr"
	"github.com/ccoin/shielded/pkg/types"
)

// Config is the engine's typed configuration, replacing the teacher's
// dynamically-typed config objects with an enumerated struct populated
// from the §6 CLI/env surface by cmd/shieldedd and cmd/shieldedctl.
type Config struct {
	Network       types.Network
	RPCEndpoint   string
	RPCAuth       rpcadapter.AuthMode
	RPCUser       string
	RPCPassword   string
	RPCAPIKey     string
	ProverBackend string // "local", "remote", "auto"
	ProverRemoteURL string
	ScanBatchBlocks int
	ReorgDepth      int
}

// ShieldedEngine is the single value a host wallet owns and passes
// explicitly to every operation; the engine itself holds no process
// singletons (§5, §9).
type ShieldedEngine struct {
	cfg Config

	mu sync.Mutex // exclusive lock: held across cache+tree mutation (§5)

	tree  *merkle.Tree
	cache *notecache.Cache
	rpc   *rpcadapter.Client
	chain prover.Prover

	tracker *broadcast.Tracker
	bcast   *broadcast.Broadcaster

	keys keys.KeySet
}

// New constructs a ShieldedEngine bound to cfg, wiring the tree store,
// RPC adapter, and proof backends. treeStore/cacheStore may be nil for
// an in-memory engine (tests, a one-shot CLI invocation). The stores
// receive every write, but New does not read an earlier tree size,
// nodes, notes or nullifiers back from them.
func New(cfg Config, treeStore merkle.Store, cacheStore notecache.Store) (*ShieldedEngine, error) {
	if treeStore == nil {
		treeStore = merkle.NewMemStore()
	}
	reorgDepth := cfg.ReorgDepth
	if reorgDepth <= 0 {
		reorgDepth = 100
	}
	tree := merkle.NewTree(treeStore, reorgDepth)
	cache := notecache.New(cacheStore)

	var rpc *rpcadapter.Client
	if cfg.RPCEndpoint != "" {
		rpc = rpcadapter.New(rpcadapter.Config{
			Endpoint: cfg.RPCEndpoint,
			Auth:     cfg.RPCAuth,
			User:     cfg.RPCUser,
			Password: cfg.RPCPassword,
			APIKey:   cfg.RPCAPIKey,
		})
	}

	chain, err := buildProver(cfg)
	if err != nil {
		return nil, err
	}

	e := &ShieldedEngine{cfg: cfg, tree: tree, cache: cache, rpc: rpc, chain: chain}
	if rpc != nil {
		e.bcast = broadcast.NewBroadcaster(rpc)
		e.tracker = broadcast.NewTracker(rpc)
	}
	return e, nil
}

func buildProver(cfg Config) (prover.Prover, error) {
	switch cfg.ProverBackend {
	case "remote":
		if cfg.ProverRemoteURL == "" {
			return nil, engineerr.New(engineerr.InvalidInput, "engine.New", "PROVER_REMOTE_URL is required when PROVER_BACKEND=remote", nil)
		}
		return prover.NewRemoteProver(cfg.ProverRemoteURL), nil
	case "local":
		local, err := prover.NewLocalProver()
		if err != nil {
			return nil, engineerr.Wrap("engine.New", err)
		}
		return local, nil
	default: // "auto" or unset: local with remote fallback (§4.9 Backend selection)
		local, err := prover.NewLocalProver()
		if err != nil {
			local = nil
		}
		var remote prover.Prover
		if cfg.ProverRemoteURL != "" {
			remote = prover.NewRemoteProver(cfg.ProverRemoteURL)
		}
		cp := &prover.ChainProver{Remote: remote}
		if local != nil {
			cp.Local = local
		}
		return cp, nil
	}
}

// DeriveKeys runs the key-bridge contract (C4) and retains the
// resulting key set on the engine. secret is zeroised by the caller;
// the engine does not retain a copy of it.
func (e *ShieldedEngine) DeriveKeys(secret [32]byte) (keys.KeySet, error) {
	ks, err := keys.Derive(secret, e.cfg.Network)
	if err != nil {
		return keys.KeySet{}, engineerr.Wrap("engine.DeriveKeys", err)
	}
	e.keys = ks
	return ks, nil
}

// DefaultAddress returns the Bech32-encoded default payment address
// for the engine's currently-derived keys.
func (e *ShieldedEngine) DefaultAddress() (string, error) {
	s, err := address.Encode(e.cfg.Network, e.keys.DefaultAddress)
	if err != nil {
		return "", engineerr.Wrap("engine.DefaultAddress", err)
	}
	return s, nil
}

// DecodeAddress parses a Bech32 shielded address under the engine's
// configured network.
func (e *ShieldedEngine) DecodeAddress(s string) (address.PaymentAddress, error) {
	addr, err := address.Decode(e.cfg.Network, s)
	if err != nil {
		return address.PaymentAddress{}, engineerr.Wrap("engine.DecodeAddress", err)
	}
	return addr, nil
}

// Balance returns the sum of unspent note values the cache currently
// holds.
func (e *ShieldedEngine) Balance() uint64 {
	return e.cache.Balance()
}

// Scan runs the scanner over blocks under the engine's exclusive lock,
// so a concurrent Send cannot observe a half-applied block (§5: "A send
// operation reads a consistent snapshot... performed while holding an
// exclusive lock").
func (e *ShieldedEngine) Scan(ctx context.Context, blocks []scanner.Block, targetHeight uint64, onProgress scanner.ProgressFunc) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := scanner.New(e.keys.Ivk, e.keys.FullViewing.Nk, e.tree, e.cache)
	if err := s.ScanRange(ctx, blocks, targetHeight, onProgress); err != nil {
		if ctx.Err() != nil {
			return engineerr.New(engineerr.Cancelled, "engine.Scan", "scan cancelled at a block boundary", err)
		}
		return engineerr.Wrap("engine.Scan", err)
	}
	return nil
}

// SendParams describes one requested shielded payment.
type SendParams struct {
	Outputs []txbuilder.OutputTarget
	Fee     uint64
}

// Send selects notes, builds and signs a transaction, and (if an RPC
// endpoint is configured) submits it, returning the resulting txid and
// the signed transaction. Selection, witness extraction, and anchor
// read happen under the exclusive lock; proof generation and broadcast
// happen after it is released (§5).
func (e *ShieldedEngine) Send(ctx context.Context, p SendParams) (string, txbuilder.SignedTransaction, error) {
	var amount uint64
	for _, o := range p.Outputs {
		amount += o.Value
	}

	e.mu.Lock()
	selected, _, err := e.cache.Select(amount, p.Fee)
	if err != nil {
		e.mu.Unlock()
		return "", txbuilder.SignedTransaction{}, engineerr.Wrap("engine.Send", err)
	}
	spends := make([]txbuilder.SpendInput, 0, len(selected))
	for _, sel := range selected {
		w, err := e.tree.WitnessFor(sel.Note.Position)
		if err != nil {
			e.mu.Unlock()
			return "", txbuilder.SignedTransaction{}, engineerr.Wrap("engine.Send", err)
		}
		spends = append(spends, txbuilder.SpendInput{
			Note:    sel.Note,
			Witness: w,
			Ask:     e.keys.Spending.Ask,
			Nsk:     e.keys.Spending.Nsk,
			Nk:      e.keys.FullViewing.Nk,
		})
	}
	tree := e.tree
	e.mu.Unlock()

	signed, err := txbuilder.Build(ctx, txbuilder.Params{Spends: spends, Outputs: p.Outputs, Fee: p.Fee}, txbuilder.Ovk(e.keys.Spending.Ovk), e.chain, tree)
	if err != nil {
		return "", txbuilder.SignedTransaction{}, engineerr.Wrap("engine.Send", err)
	}

	if e.bcast == nil {
		return "", signed, nil
	}

	rawHex := hex.EncodeToString(signed.Bundle.Encode())
	txid, err := e.bcast.Submit(ctx, rawHex)
	if err != nil {
		return "", signed, engineerr.Wrap("engine.Send", err)
	}
	return txid, signed, nil
}

// Track begins confirmation tracking for a previously-submitted txid.
func (e *ShieldedEngine) Track(txid string, expiryHeight uint64) {
	if e.tracker != nil {
		e.tracker.Track(txid, expiryHeight)
	}
}

// TrackedState returns the last-observed state for a tracked txid.
func (e *ShieldedEngine) TrackedState(txid string) (broadcast.State, bool) {
	if e.tracker == nil {
		return 0, false
	}
	return e.tracker.State(txid)
}

// Tree exposes the engine's commitment tree for read-only diagnostic
// queries (root, size); callers must not mutate it directly.
func (e *ShieldedEngine) Tree() *merkle.Tree { return e.tree }

// RPC exposes the engine's RPC adapter, e.g. for the transparent peer
// component to issue getreceivedbyaddress/listunspent calls outside
// this engine's core scope.
func (e *ShieldedEngine) RPC() *rpcadapter.Client { return e.rpc }
