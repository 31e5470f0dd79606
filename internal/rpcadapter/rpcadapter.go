// Package rpcadapter implements the typed JSON-RPC client (C12) used
// by the scanner, the broadcast/tracker, and (as a typed stub) the
// transparent peer component. It is the only package in this engine
// that talks to the chain node; the remote prover backend in
// internal/prover makes its own HTTP calls.
//
// No dependency in the example corpus offers a generic JSON-RPC-1.0
// client matching this node's surface (getblockcount, getblock,
// sendrawtransaction, ...); net/http plus encoding/json is the
// idiomatic stdlib choice for a thin request/response wrapper like
// this one, the same way the teacher's own internal/storage reaches
// for database/sql-adjacent pgx directly rather than an ORM (see
// DESIGN.md).
package rpcadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ccoin/shielded/pkg/engineerr"
)

// DefaultTimeout is the §5 default RPC request timeout.
const DefaultTimeout = 30 * time.Second

// AuthMode selects which credential scheme is attached to outgoing
// requests (§6: "Authentication MAY be HTTP Basic... OR an api-key /
// x-api-key header").
type AuthMode int

const (
	AuthNone AuthMode = iota
	AuthBasic
	AuthAPIKey
)

// Config configures one RPC endpoint.
type Config struct {
	Endpoint string
	Auth     AuthMode

	User     string // AuthBasic
	Password string // AuthBasic
	APIKey   string // AuthAPIKey

	// Version is the JSON-RPC version string sent on the wire. Both
	// "1.0" (node-style) and "2.0" (some gateways) are accepted server
	// responses regardless of what the client sends (§6), but the
	// client still must pick one to send.
	Version string

	Timeout time.Duration
}

// Client is a typed JSON-RPC-1.0-like client bound to one node.
type Client struct {
	cfg  Config
	http *http.Client

	nextID int64
}

// New constructs a Client, defaulting Version to "1.0" and Timeout to
// DefaultTimeout when unset.
func New(cfg Config) *Client {
	if cfg.Version == "" {
		cfg.Version = "1.0"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}
}

type request struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int64         `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type response struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
	ID     int64           `json:"id"`
}

// ErrUnsupportedMethod is returned for RPC methods a provider does not
// implement (§9 Open Questions: "the spec treats transparent send as a
// peer component that fails RpcError::UnsupportedMethod on such
// providers").
type ErrUnsupportedMethod struct{ Method string }

func (e *ErrUnsupportedMethod) Error() string {
	return fmt.Sprintf("rpcadapter: method %q not supported by this provider", e.Method)
}

// call performs one JSON-RPC round trip, mapping transport and
// protocol errors into the §7 taxonomy.
func (c *Client) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	c.nextID++
	body, err := json.Marshal(request{JSONRPC: c.cfg.Version, Method: method, Params: params, ID: c.nextID})
	if err != nil {
		return engineerr.New(engineerr.Internal, "rpcadapter.call", "failed to marshal request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return engineerr.New(engineerr.InvalidInput, "rpcadapter.call", "bad endpoint", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.attachAuth(req)

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return engineerr.New(engineerr.Transient, "rpcadapter.call", "request timed out", err)
		}
		if errors.Is(ctx.Err(), context.Canceled) {
			return engineerr.New(engineerr.Cancelled, "rpcadapter.call", "request cancelled", err)
		}
		return engineerr.New(engineerr.Transient, "rpcadapter.call", "network error", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return engineerr.New(engineerr.Transient, "rpcadapter.call", "failed to read response body", err)
	}

	var parsed response
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return engineerr.New(engineerr.Internal, "rpcadapter.call", "malformed JSON-RPC response", err)
	}

	if parsed.Error != nil {
		return classifyRPCError(method, *parsed.Error)
	}
	if out != nil && len(parsed.Result) > 0 {
		if err := json.Unmarshal(parsed.Result, out); err != nil {
			return engineerr.New(engineerr.Internal, "rpcadapter.call", "failed to decode result", err)
		}
	}
	return nil
}

func (c *Client) attachAuth(req *http.Request) {
	switch c.cfg.Auth {
	case AuthBasic:
		req.SetBasicAuth(c.cfg.User, c.cfg.Password)
	case AuthAPIKey:
		req.Header.Set("api-key", c.cfg.APIKey)
		req.Header.Set("x-api-key", c.cfg.APIKey)
	}
}

// classifyRPCError maps the §6 error-code table into the §7 taxonomy.
func classifyRPCError(method string, e rpcError) error {
	switch e.Code {
	case -28:
		return engineerr.New(engineerr.Transient, "rpcadapter."+method, "node reindexing", errors.New(e.Message))
	case -4:
		return engineerr.New(engineerr.InvalidInput, "rpcadapter."+method, "wallet locked", errors.New(e.Message))
	case -32601:
		return &ErrUnsupportedMethod{Method: method}
	default:
		if e.Code <= -32000 && e.Code >= -32768 {
			return engineerr.New(engineerr.InvalidInput, "rpcadapter."+method, "invalid JSON-RPC request", errors.New(e.Message))
		}
		return engineerr.New(engineerr.Rejected, "rpcadapter."+method, e.Message, nil)
	}
}

// BlockHeader is the subset of getblock(hash, 2) this engine consumes.
type BlockHeader struct {
	Hash          string   `json:"hash"`
	Height        uint64   `json:"height"`
	Confirmations int64    `json:"confirmations"`
	Tx            []string `json:"tx"`
}

// GetBlockCount implements getblockcount.
func (c *Client) GetBlockCount(ctx context.Context) (uint64, error) {
	var height uint64
	if err := c.call(ctx, "getblockcount", nil, &height); err != nil {
		return 0, err
	}
	return height, nil
}

// GetBlockHash implements getblockhash(height).
func (c *Client) GetBlockHash(ctx context.Context, height uint64) (string, error) {
	var hash string
	if err := c.call(ctx, "getblockhash", []interface{}{height}, &hash); err != nil {
		return "", err
	}
	return hash, nil
}

// GetBlock implements getblock(hash, verbosity=2), returning the full
// decoded header and transaction ID list the scanner iterates.
func (c *Client) GetBlock(ctx context.Context, hash string) (BlockHeader, error) {
	var out BlockHeader
	if err := c.call(ctx, "getblock", []interface{}{hash, 2}, &out); err != nil {
		return BlockHeader{}, err
	}
	return out, nil
}

// RawTransaction is the subset of getrawtransaction this engine
// consumes; Hex carries the wire bytes the scanner and builder parse.
type RawTransaction struct {
	Txid          string `json:"txid"`
	Hex           string `json:"hex"`
	Confirmations int64  `json:"confirmations"`
}

// GetRawTransaction implements getrawtransaction(txid, verbose).
func (c *Client) GetRawTransaction(ctx context.Context, txid string) (RawTransaction, error) {
	var out RawTransaction
	if err := c.call(ctx, "getrawtransaction", []interface{}{txid, true}, &out); err != nil {
		return RawTransaction{}, err
	}
	return out, nil
}

// SendRawTransaction implements sendrawtransaction(hex), returning the
// accepted transaction's txid.
func (c *Client) SendRawTransaction(ctx context.Context, hexTx string) (string, error) {
	var txid string
	if err := c.call(ctx, "sendrawtransaction", []interface{}{hexTx}, &txid); err != nil {
		return "", err
	}
	return txid, nil
}

// GetReceivedByAddress implements getreceivedbyaddress(address), used
// by the transparent peer component.
func (c *Client) GetReceivedByAddress(ctx context.Context, addr string) (float64, error) {
	var amount float64
	if err := c.call(ctx, "getreceivedbyaddress", []interface{}{addr}, &amount); err != nil {
		return 0, err
	}
	return amount, nil
}

// Utxo is one entry of listunspent, for providers that implement it.
type Utxo struct {
	Txid   string  `json:"txid"`
	Vout   uint32  `json:"vout"`
	Amount float64 `json:"amount"`
}

// ListUnspent implements the optional listunspent method. Several
// providers lack it entirely; per §9 Open Questions this is expected
// and surfaced as ErrUnsupportedMethod rather than silently returning
// an empty list, since the transparent-send caller needs to
// distinguish "no UTXOs" from "this provider can't tell me".
func (c *Client) ListUnspent(ctx context.Context) ([]Utxo, error) {
	var out []Utxo
	if err := c.call(ctx, "listunspent", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}
