package address

import (
	"strings"
	"testing"

	"github.com/ccoin/shielded/internal/curve"
	"github.com/ccoin/shielded/pkg/types"
)

func testPoint(t *testing.T) curve.Point {
	t.Helper()
	two := []byte{2}
	return curve.Generator().ScalarMul(curve.ScalarFromBytes(two))
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	var d [DiversifierSize]byte
	for i := range d {
		d[i] = 0x01
	}
	addr := PaymentAddress{D: d, PkD: testPoint(t)}

	encoded, err := Encode(types.Mainnet, addr)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	decoded, err := Decode(types.Mainnet, encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if decoded.D != addr.D {
		t.Fatalf("diversifier mismatch: got %x, want %x", decoded.D, addr.D)
	}
	if !decoded.PkD.Equal(addr.PkD) {
		t.Fatal("pk_d did not round-trip")
	}
}

func TestDecodeRejectsWrongHRP(t *testing.T) {
	var d [DiversifierSize]byte
	addr := PaymentAddress{D: d, PkD: testPoint(t)}
	encoded, err := Encode(types.Testnet, addr)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, err := Decode(types.Mainnet, encoded); err != ErrBadHRP {
		t.Fatalf("Decode cross-network = %v, want ErrBadHRP", err)
	}
}

func TestDecodeRejectsBadChecksum(t *testing.T) {
	var d [DiversifierSize]byte
	addr := PaymentAddress{D: d, PkD: testPoint(t)}
	encoded, err := Encode(types.Mainnet, addr)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	corrupt := encoded[:len(encoded)-1] + flipChar(encoded[len(encoded)-1])
	if _, err := Decode(types.Mainnet, corrupt); err != ErrBadChecksum {
		t.Fatalf("Decode corrupted = %v, want ErrBadChecksum", err)
	}
}

func flipChar(c byte) string {
	if c == 'q' {
		return "p"
	}
	return "q"
}

func TestDecodeAcceptsFullyUppercase(t *testing.T) {
	var d [DiversifierSize]byte
	addr := PaymentAddress{D: d, PkD: testPoint(t)}
	encoded, err := Encode(types.Mainnet, addr)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	upper := strings.ToUpper(encoded)
	if _, err := Decode(types.Mainnet, upper); err != nil {
		t.Fatalf("Decode uppercase = %v, want success", err)
	}
}

func TestDecodeRejectsMixedCase(t *testing.T) {
	var d [DiversifierSize]byte
	addr := PaymentAddress{D: d, PkD: testPoint(t)}
	encoded, err := Encode(types.Mainnet, addr)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	mixed := strings.ToUpper(encoded[:len(encoded)/2]) + encoded[len(encoded)/2:]
	if _, err := Decode(types.Mainnet, mixed); err == nil {
		t.Fatal("expected mixed-case input to be rejected")
	}
}
