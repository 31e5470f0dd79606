package rpcadapter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ccoin/shielded/pkg/engineerr"
)

func TestGetBlockCountReturnsResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(response{Result: json.RawMessage(`123456`)})
	}))
	defer srv.Close()

	c := New(Config{Endpoint: srv.URL})
	height, err := c.GetBlockCount(context.Background())
	if err != nil {
		t.Fatalf("GetBlockCount: %v", err)
	}
	if height != 123456 {
		t.Fatalf("height = %d, want 123456", height)
	}
}

func TestBasicAuthIsAttached(t *testing.T) {
	var gotUser, gotPass string
	var gotOK bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, gotPass, gotOK = r.BasicAuth()
		json.NewEncoder(w).Encode(response{Result: json.RawMessage(`0`)})
	}))
	defer srv.Close()

	c := New(Config{Endpoint: srv.URL, Auth: AuthBasic, User: "alice", Password: "secret"})
	if _, err := c.GetBlockCount(context.Background()); err != nil {
		t.Fatalf("GetBlockCount: %v", err)
	}
	if !gotOK || gotUser != "alice" || gotPass != "secret" {
		t.Fatalf("basic auth not attached correctly: ok=%v user=%q pass=%q", gotOK, gotUser, gotPass)
	}
}

func TestReindexingErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(response{Error: &rpcError{Code: -28, Message: "reindexing"}})
	}))
	defer srv.Close()

	c := New(Config{Endpoint: srv.URL})
	_, err := c.GetBlockCount(context.Background())
	if !engineerr.Is(err, engineerr.Transient) {
		t.Fatalf("expected a Transient error, got %v", err)
	}
}

func TestMethodNotFoundBecomesUnsupportedMethod(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(response{Error: &rpcError{Code: -32601, Message: "method not found"}})
	}))
	defer srv.Close()

	c := New(Config{Endpoint: srv.URL})
	_, err := c.ListUnspent(context.Background())
	var unsupported *ErrUnsupportedMethod
	if err == nil {
		t.Fatal("expected an error")
	}
	if !isUnsupportedMethod(err, &unsupported) {
		t.Fatalf("expected ErrUnsupportedMethod, got %v (%T)", err, err)
	}
}

func isUnsupportedMethod(err error, target **ErrUnsupportedMethod) bool {
	if e, ok := err.(*ErrUnsupportedMethod); ok {
		*target = e
		return true
	}
	return false
}

func TestWalletLockedIsInvalidInput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(response{Error: &rpcError{Code: -4, Message: "locked"}})
	}))
	defer srv.Close()

	c := New(Config{Endpoint: srv.URL})
	_, err := c.GetBlockCount(context.Background())
	if !engineerr.Is(err, engineerr.InvalidInput) {
		t.Fatalf("expected InvalidInput, got %v", err)
	}
}
