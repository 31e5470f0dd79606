// Shielded Daemon - continuously scans a node's blocks against one
// wallet's viewing key and tracks submitted transactions to
// confirmation.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ccoin/shielded/engine"
	"github.com/ccoin/shielded/internal/rpcadapter"
	"github.com/ccoin/shielded/internal/scanner"
	"github.com/ccoin/shielded/internal/txformat"
	"github.com/ccoin/shielded/pkg/types"
)

const (
	version = "0.1.0"
	banner  = `
  Shielded Daemon v%s
  Sapling-compatible shielded transaction engine
`
)

// Config holds daemon configuration, read from the §6 env surface.
type Config struct {
	Network types.Network

	RPCEndpoint string
	RPCAuth     rpcadapter.AuthMode
	RPCUser     string
	RPCPassword string
	RPCAPIKey   string

	ProverBackend   string
	ProverRemoteURL string

	ScanBatchBlocks int
	ReorgDepth      int
	PollInterval    time.Duration

	WalletSeedHex string
}

func main() {
	cfg := loadConfig()
	fmt.Printf(banner, version)

	log := logrus.WithField("component", "shieldedd")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutdown signal received")
		cancel()
	}()

	if err := run(ctx, cfg, log); err != nil {
		log.WithError(err).Error("daemon exited with error")
		os.Exit(1)
	}
}

func loadConfig() Config {
	cfg := Config{}

	network, _ := types.ParseNetwork(getenv("ZCASH_NETWORK", "mainnet"))
	cfg.Network = network

	cfg.RPCEndpoint = getenv("ZCASH_RPC_ENDPOINT", "http://127.0.0.1:8232")
	if apiKey := os.Getenv("ZCASH_RPC_API_KEY"); apiKey != "" {
		cfg.RPCAuth = rpcadapter.AuthAPIKey
		cfg.RPCAPIKey = apiKey
	} else if user := os.Getenv("ZCASH_RPC_USER"); user != "" {
		cfg.RPCAuth = rpcadapter.AuthBasic
		cfg.RPCUser = user
		cfg.RPCPassword = os.Getenv("ZCASH_RPC_PASSWORD")
	}

	cfg.ProverBackend = getenv("PROVER_BACKEND", "auto")
	cfg.ProverRemoteURL = os.Getenv("PROVER_REMOTE_URL")

	cfg.ScanBatchBlocks = getenvInt("SCAN_BATCH_BLOCKS", 100)
	cfg.ReorgDepth = getenvInt("REORG_DEPTH", 100)
	cfg.PollInterval = time.Duration(getenvInt("POLL_INTERVAL_MS", 30000)) * time.Millisecond

	cfg.WalletSeedHex = os.Getenv("WALLET_SEED_HEX")

	return cfg
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func run(ctx context.Context, cfg Config, log *logrus.Entry) error {
	if cfg.WalletSeedHex == "" {
		return fmt.Errorf("WALLET_SEED_HEX is required")
	}
	seedBytes, err := hex.DecodeString(cfg.WalletSeedHex)
	if err != nil || len(seedBytes) != 32 {
		return fmt.Errorf("WALLET_SEED_HEX must be 64 hex characters (32 bytes)")
	}
	var secret [32]byte
	copy(secret[:], seedBytes)

	e, err := engine.New(engine.Config{
		Network:         cfg.Network,
		RPCEndpoint:     cfg.RPCEndpoint,
		RPCAuth:         cfg.RPCAuth,
		RPCUser:         cfg.RPCUser,
		RPCPassword:     cfg.RPCPassword,
		RPCAPIKey:       cfg.RPCAPIKey,
		ProverBackend:   cfg.ProverBackend,
		ProverRemoteURL: cfg.ProverRemoteURL,
		ScanBatchBlocks: cfg.ScanBatchBlocks,
		ReorgDepth:      cfg.ReorgDepth,
	}, nil, nil)
	if err != nil {
		return fmt.Errorf("failed to construct engine: %w", err)
	}

	if _, err := e.DeriveKeys(secret); err != nil {
		return fmt.Errorf("failed to derive wallet keys: %w", err)
	}
	addr, err := e.DefaultAddress()
	if err != nil {
		return fmt.Errorf("failed to compute default address: %w", err)
	}
	log.WithField("address", addr).Info("wallet keys derived")

	rpc := e.RPC()
	if rpc == nil {
		return fmt.Errorf("ZCASH_RPC_ENDPOINT is required")
	}

	height, err := rpc.GetBlockCount(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch initial block height: %w", err)
	}
	var cursor uint64 // always starts at 0: no persisted scan cursor is read

	log.WithField("target_height", height).Info("starting scan loop")
	for {
		select {
		case <-ctx.Done():
			log.Info("scan loop stopped")
			return nil
		default:
		}

		tip, err := rpc.GetBlockCount(ctx)
		if err != nil {
			log.WithError(err).Warn("failed to refresh chain tip, retrying")
			if !sleepCtx(ctx, cfg.PollInterval) {
				return nil
			}
			continue
		}

		if cursor >= tip {
			if !sleepCtx(ctx, cfg.PollInterval) {
				return nil
			}
			continue
		}

		end := cursor + uint64(cfg.ScanBatchBlocks)
		if end > tip {
			end = tip
		}

		blocks, err := fetchBlocks(ctx, rpc, cursor+1, end)
		if err != nil {
			log.WithError(err).Warn("failed to fetch block batch, retrying")
			if !sleepCtx(ctx, cfg.PollInterval) {
				return nil
			}
			continue
		}

		if err := e.Scan(ctx, blocks, tip, func(p scanner.Progress) {
			log.WithFields(logrus.Fields{
				"height":      p.CurrentHeight,
				"target":      p.TargetHeight,
				"notes_found": p.NotesFound,
			}).Info("scan progress")
		}); err != nil {
			log.WithError(err).Warn("scan batch failed, will retry")
			if !sleepCtx(ctx, cfg.PollInterval) {
				return nil
			}
			continue
		}

		cursor = end
	}
}

// fetchBlocks retrieves and decodes every shielded bundle in the
// height range [from, to].
func fetchBlocks(ctx context.Context, rpc *rpcadapter.Client, from, to uint64) ([]scanner.Block, error) {
	blocks := make([]scanner.Block, 0, to-from+1)
	for h := from; h <= to; h++ {
		hash, err := rpc.GetBlockHash(ctx, h)
		if err != nil {
			return nil, err
		}
		header, err := rpc.GetBlock(ctx, hash)
		if err != nil {
			return nil, err
		}

		block := scanner.Block{Height: h}
		for _, txid := range header.Tx {
			raw, err := rpc.GetRawTransaction(ctx, txid)
			if err != nil {
				return nil, err
			}
			rawBytes, err := hex.DecodeString(raw.Hex)
			if err != nil {
				continue // not a shielded-bundle-carrying transaction this engine understands
			}
			bundle, err := txformat.DecodeShieldedBundle(rawBytes)
			if err != nil {
				continue // transparent-only transaction, nothing to scan
			}
			block.Txs = append(block.Txs, bundleToTx(bundle))
		}
		blocks = append(blocks, block)
	}
	return blocks, nil
}

func bundleToTx(bundle txformat.ShieldedBundle) scanner.Transaction {
	tx := scanner.Transaction{
		Outputs: make([]scanner.Output, 0, len(bundle.Outputs)),
		Spends:  make([]scanner.SpendRef, 0, len(bundle.Spends)),
	}
	for _, o := range bundle.Outputs {
		tx.Outputs = append(tx.Outputs, scanner.Output{
			Cv:            o.Cv,
			Cmu:           o.Cmu,
			EphemeralKey:  o.EphemeralKey,
			EncCiphertext: o.EncCiphertext[:],
		})
	}
	for _, s := range bundle.Spends {
		tx.Spends = append(tx.Spends, scanner.SpendRef{Nullifier: s.Nullifier})
	}
	return tx
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
