package engine

import (
	"context"
	"testing"

	"github.com/ccoin/shielded/pkg/types"
)

func testEngine(t *testing.T) *ShieldedEngine {
	t.Helper()
	e, err := New(Config{Network: types.Testnet, ProverBackend: "local"}, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func TestDeriveKeysIsDeterministic(t *testing.T) {
	e := testEngine(t)
	var secret [32]byte
	for i := range secret {
		secret[i] = byte(i)
	}

	ks1, err := e.DeriveKeys(secret)
	if err != nil {
		t.Fatalf("DeriveKeys: %v", err)
	}
	ks2, err := e.DeriveKeys(secret)
	if err != nil {
		t.Fatalf("DeriveKeys: %v", err)
	}
	if ks1.Ivk != ks2.Ivk {
		t.Fatal("DeriveKeys is not deterministic: ivk differs across calls with the same secret")
	}
}

func TestDefaultAddressRoundTrips(t *testing.T) {
	e := testEngine(t)
	var secret [32]byte
	secret[0] = 7
	if _, err := e.DeriveKeys(secret); err != nil {
		t.Fatalf("DeriveKeys: %v", err)
	}

	encoded, err := e.DefaultAddress()
	if err != nil {
		t.Fatalf("DefaultAddress: %v", err)
	}

	decoded, err := e.DecodeAddress(encoded)
	if err != nil {
		t.Fatalf("DecodeAddress: %v", err)
	}
	if decoded.D != e.keys.DefaultAddress.D {
		t.Fatal("round-tripped diversifier does not match")
	}
}

func TestBalanceStartsAtZero(t *testing.T) {
	e := testEngine(t)
	if got := e.Balance(); got != 0 {
		t.Fatalf("Balance() = %d, want 0 on a fresh engine", got)
	}
}

func TestSendWithoutFundsFails(t *testing.T) {
	e := testEngine(t)
	var secret [32]byte
	if _, err := e.DeriveKeys(secret); err != nil {
		t.Fatalf("DeriveKeys: %v", err)
	}

	_, _, err := e.Send(context.Background(), SendParams{
		Outputs: nil,
		Fee:     1000,
	})
	if err == nil {
		t.Fatal("expected an error building a fee-only transaction with no spends or outputs")
	}
}
