// Shielded CLI - command-line interface for deriving keys, inspecting
// wallet state, sending, and tracking shielded transactions.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"

	"github.com/ccoin/shielded/engine"
	"github.com/ccoin/shielded/internal/broadcast"
	"github.com/ccoin/shielded/internal/merkle"
	"github.com/ccoin/shielded/internal/notecache"
	"github.com/ccoin/shielded/internal/rpcadapter"
	"github.com/ccoin/shielded/internal/storage"
	"github.com/ccoin/shielded/internal/txbuilder"
	"github.com/ccoin/shielded/pkg/types"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version":
		fmt.Printf("shieldedctl v%s\n", version)
	case "help":
		printUsage()
	case "derive":
		cmdDerive()
	case "address":
		cmdAddress()
	case "balance":
		cmdBalance()
	case "scan":
		cmdScan(os.Args[2:])
	case "send":
		cmdSend(os.Args[2:])
	case "track":
		cmdTrack(os.Args[2:])
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("shieldedctl - command-line interface for the shielded transaction engine")
	fmt.Println()
	fmt.Println("Usage: shieldedctl <command> [arguments]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  version           Show version information")
	fmt.Println("  help              Show this help message")
	fmt.Println("  derive            Derive and print the wallet's key set")
	fmt.Println("  address           Print the default shielded payment address")
	fmt.Println("  balance           Print the spendable balance")
	fmt.Println("  scan <height>     Does not scan; points to shieldedd")
	fmt.Println("  send <addr> <zatoshi> <fee>   Build and submit a payment")
	fmt.Println("  track <txid> <expiry_height>  Begin tracking a submitted txid")
	fmt.Println()
	fmt.Println("Configuration is read from the environment: ZCASH_NETWORK,")
	fmt.Println("ZCASH_RPC_ENDPOINT, ZCASH_RPC_API_KEY / ZCASH_RPC_USER /")
	fmt.Println("ZCASH_RPC_PASSWORD, PROVER_BACKEND, PROVER_REMOTE_URL,")
	fmt.Println("WALLET_SEED_HEX, WALLET_ID, and the DATABASE_* variables for")
	fmt.Println("persistent storage (falls back to an in-memory wallet otherwise).")
}

// newEngine wires an engine from the environment, with Postgres-backed
// tree/cache stores whenever DATABASE_HOST is set and an in-memory
// wallet otherwise. The stores only receive writes (engine.New reads
// nothing back from them), so every invocation starts from an empty
// tree and cache either way.
func newEngine(ctx context.Context) (*engine.ShieldedEngine, [32]byte, error) {
	var secret [32]byte
	seedHex := os.Getenv("WALLET_SEED_HEX")
	if seedHex == "" {
		return nil, secret, fmt.Errorf("WALLET_SEED_HEX is required")
	}
	seedBytes, err := hex.DecodeString(seedHex)
	if err != nil || len(seedBytes) != 32 {
		return nil, secret, fmt.Errorf("WALLET_SEED_HEX must be 64 hex characters (32 bytes)")
	}
	copy(secret[:], seedBytes)

	network, _ := types.ParseNetwork(getenv("ZCASH_NETWORK", "mainnet"))

	var treeStore merkle.Store
	var cacheStore notecache.Store
	if host := os.Getenv("DATABASE_HOST"); host != "" {
		cfg := storage.DefaultConfig()
		cfg.Host = host
		if port := os.Getenv("DATABASE_PORT"); port != "" {
			if p, err := strconv.Atoi(port); err == nil {
				cfg.Port = p
			}
		}
		cfg.User = getenv("DATABASE_USER", cfg.User)
		cfg.Password = os.Getenv("DATABASE_PASSWORD")
		cfg.Database = getenv("DATABASE_NAME", cfg.Database)

		db, err := storage.NewPostgresStore(ctx, cfg)
		if err != nil {
			return nil, secret, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			return nil, secret, fmt.Errorf("failed to migrate database: %w", err)
		}
		walletID := getenv("WALLET_ID", "default")
		treeStore = storage.NewTreeStore(db, walletID)
		cacheStore = storage.NewCacheStore(db, walletID)
	}

	var rpcAuth rpcadapter.AuthMode
	var rpcUser, rpcPassword, rpcAPIKey string
	if apiKey := os.Getenv("ZCASH_RPC_API_KEY"); apiKey != "" {
		rpcAuth = rpcadapter.AuthAPIKey
		rpcAPIKey = apiKey
	} else if user := os.Getenv("ZCASH_RPC_USER"); user != "" {
		rpcAuth = rpcadapter.AuthBasic
		rpcUser = user
		rpcPassword = os.Getenv("ZCASH_RPC_PASSWORD")
	}

	e, err := engine.New(engine.Config{
		Network:         network,
		RPCEndpoint:     os.Getenv("ZCASH_RPC_ENDPOINT"),
		RPCAuth:         rpcAuth,
		RPCUser:         rpcUser,
		RPCPassword:     rpcPassword,
		RPCAPIKey:       rpcAPIKey,
		ProverBackend:   getenv("PROVER_BACKEND", "local"),
		ProverRemoteURL: os.Getenv("PROVER_REMOTE_URL"),
	}, treeStore, cacheStore)
	if err != nil {
		return nil, secret, fmt.Errorf("failed to construct engine: %w", err)
	}
	return e, secret, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func cmdDerive() {
	ctx := context.Background()
	e, secret, err := newEngine(ctx)
	if err != nil {
		fatal(err)
	}
	ks, err := e.DeriveKeys(secret)
	if err != nil {
		fatal(err)
	}
	fmt.Println("Wallet keys derived.")
	fmt.Printf("  Diversifier:  %x\n", ks.DefaultAddress.D)
}

func cmdAddress() {
	ctx := context.Background()
	e, secret, err := newEngine(ctx)
	if err != nil {
		fatal(err)
	}
	if _, err := e.DeriveKeys(secret); err != nil {
		fatal(err)
	}
	addr, err := e.DefaultAddress()
	if err != nil {
		fatal(err)
	}
	fmt.Println(addr)
}

func cmdBalance() {
	ctx := context.Background()
	e, secret, err := newEngine(ctx)
	if err != nil {
		fatal(err)
	}
	if _, err := e.DeriveKeys(secret); err != nil {
		fatal(err)
	}
	fmt.Printf("%d zatoshi\n", e.Balance())
}

func cmdScan(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: shieldedctl scan <target_height>")
		os.Exit(1)
	}
	fmt.Println("Live block fetching is the daemon's job (cmd/shieldedd); this")
	fmt.Println("subcommand does not scan or report wallet state.")
}

func cmdSend(args []string) {
	if len(args) < 3 {
		fmt.Println("Usage: shieldedctl send <address> <zatoshi> <fee>")
		os.Exit(1)
	}
	toAddr := args[0]
	amount, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		fatal(fmt.Errorf("invalid amount: %w", err))
	}
	fee, err := strconv.ParseUint(args[2], 10, 64)
	if err != nil {
		fatal(fmt.Errorf("invalid fee: %w", err))
	}

	ctx := context.Background()
	e, secret, err := newEngine(ctx)
	if err != nil {
		fatal(err)
	}
	if _, err := e.DeriveKeys(secret); err != nil {
		fatal(err)
	}

	payTo, err := e.DecodeAddress(toAddr)
	if err != nil {
		fatal(fmt.Errorf("invalid recipient address: %w", err))
	}

	var memo [512]byte
	txid, signed, err := e.Send(ctx, engine.SendParams{
		Outputs: []txbuilder.OutputTarget{{To: payTo, Value: amount, Memo: memo}},
		Fee:     fee,
	})
	if err != nil {
		fatal(err)
	}
	if txid != "" {
		fmt.Printf("Submitted. txid=%s\n", txid)
	} else {
		fmt.Printf("Built and signed (no RPC endpoint configured, not submitted). %d spends, %d outputs.\n",
			len(signed.Bundle.Spends), len(signed.Bundle.Outputs))
	}
}

func cmdTrack(args []string) {
	if len(args) < 2 {
		fmt.Println("Usage: shieldedctl track <txid> <expiry_height>")
		os.Exit(1)
	}
	txid := args[0]
	expiry, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		fatal(fmt.Errorf("invalid expiry height: %w", err))
	}

	ctx := context.Background()
	e, secret, err := newEngine(ctx)
	if err != nil {
		fatal(err)
	}
	if _, err := e.DeriveKeys(secret); err != nil {
		fatal(err)
	}

	e.Track(txid, expiry)
	state, ok := e.TrackedState(txid)
	if !ok {
		state = broadcast.StateMempool
	}
	fmt.Printf("Tracking %s (expiry height %d): %s\n", txid, expiry, state)
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
