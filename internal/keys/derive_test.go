package keys

import (
	"bytes"
	"testing"

	"github.com/ccoin/shielded/internal/address"
	"github.com/ccoin/shielded/pkg/types"
)

func testSecret(seed byte) [32]byte {
	var s [32]byte
	for i := range s {
		s[i] = seed
	}
	return s
}

func TestDeriveIsDeterministic(t *testing.T) {
	secret := testSecret(0x11)
	k1, err := Derive(secret, types.Mainnet)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	k2, err := Derive(secret, types.Mainnet)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	if !bytes.Equal(k1.Spending.Ask.Bytes(), k2.Spending.Ask.Bytes()) {
		t.Fatal("Derive is not deterministic on ask")
	}
	if k1.DefaultAddress.D != k2.DefaultAddress.D {
		t.Fatal("Derive is not deterministic on default diversifier")
	}
}

func TestDeriveDiffersByNetwork(t *testing.T) {
	secret := testSecret(0x22)
	mainnet, err := Derive(secret, types.Mainnet)
	if err != nil {
		t.Fatalf("Derive mainnet: %v", err)
	}
	testnet, err := Derive(secret, types.Testnet)
	if err != nil {
		t.Fatalf("Derive testnet: %v", err)
	}
	if bytes.Equal(mainnet.Spending.Ask.Bytes(), testnet.Spending.Ask.Bytes()) {
		t.Fatal("same secret must derive unrelated keys across networks")
	}
}

func TestDefaultAddressEncodesAndDecodes(t *testing.T) {
	secret := testSecret(0x33)
	ks, err := Derive(secret, types.Mainnet)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}

	encoded, err := address.Encode(types.Mainnet, ks.DefaultAddress)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := address.Decode(types.Mainnet, encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.D != ks.DefaultAddress.D {
		t.Fatal("default address diversifier did not round-trip")
	}
	if !decoded.PkD.Equal(ks.DefaultAddress.PkD) {
		t.Fatal("default address pk_d did not round-trip")
	}
}

func TestZeroizeClearsSpendingKey(t *testing.T) {
	secret := testSecret(0x44)
	ks, err := Derive(secret, types.Mainnet)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	ks.Zeroize()
	if !ks.Spending.Ask.IsZero() {
		t.Fatal("Zeroize must clear ask")
	}
	if !ks.Spending.Nsk.IsZero() {
		t.Fatal("Zeroize must clear nsk")
	}
	for _, b := range ks.Spending.Ovk {
		if b != 0 {
			t.Fatal("Zeroize must clear ovk")
		}
	}
}
