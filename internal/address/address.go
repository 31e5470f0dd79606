// Package address implements the Bech32 codec for shielded payment
// addresses (C3): an 11-byte diversifier concatenated with a 32-byte
// compressed pk_d, encoded under the network's HRP.
//
// Grounded on github.com/btcsuite/btcutil/bech32, a dependency already
// present in Alex110709-obsidian-core's go.mod (that repo reaches for
// the sibling base58 sub-package for its own z-address; this engine
// uses the bech32 sub-package of the same module for the real Sapling
// wire format).
package address

import (
	"errors"

	"github.com/btcsuite/btcutil/bech32"

	"github.com/ccoin/shielded/internal/curve"
	"github.com/ccoin/shielded/pkg/types"
)

// Address errors, named per the codec contract (§4.3).
var (
	ErrBadHRP      = errors.New("address: unexpected human-readable part")
	ErrBadChecksum = errors.New("address: bech32 checksum mismatch")
	ErrBadLength   = errors.New("address: payload is not 43 bytes")
	ErrNotOnCurve  = errors.New("address: pk_d does not decode to a valid point")
)

// DiversifierSize and PkDSize are the two payload fields; their sum is
// the 43-byte payload the spec requires bit-exact.
const (
	DiversifierSize = 11
	PkDSize         = 32
	PayloadSize     = DiversifierSize + PkDSize
)

// PaymentAddress is (d, pk_d) as defined in §3.
type PaymentAddress struct {
	D   [DiversifierSize]byte
	PkD curve.Point
}

// Encode renders addr as a Bech32 string under network's HRP.
// The ErrBadLength check never fires in practice: D is 11 bytes and
// Compress always yields 32, so the payload is always 43 bytes, and a
// zero-value PkD is encoded like any other point.
func Encode(network types.Network, addr PaymentAddress) (string, error) {
	compressed := addr.PkD.Compress()

	payload := make([]byte, 0, PayloadSize)
	payload = append(payload, addr.D[:]...)
	payload = append(payload, compressed[:]...)
	if len(payload) != PayloadSize {
		return "", ErrBadLength
	}

	converted, err := bech32.ConvertBits(payload, 8, 5, true)
	if err != nil {
		return "", err
	}
	return bech32.Encode(network.AddressHRP(), converted)
}

// Decode parses a Bech32-encoded shielded address for network, failing
// with ErrBadHRP, ErrBadChecksum, ErrBadLength, or ErrNotOnCurve.
//
// Bech32's own decoder rejects mixed-case input while accepting
// fully-uppercase strings, satisfying the spec's case-handling rule
// without extra logic here.
func Decode(network types.Network, s string) (PaymentAddress, error) {
	hrp, data, err := bech32.Decode(s)
	if err != nil {
		return PaymentAddress{}, ErrBadChecksum
	}
	if hrp != network.AddressHRP() {
		return PaymentAddress{}, ErrBadHRP
	}

	payload, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return PaymentAddress{}, ErrBadChecksum
	}
	if len(payload) != PayloadSize {
		return PaymentAddress{}, ErrBadLength
	}

	var addr PaymentAddress
	copy(addr.D[:], payload[:DiversifierSize])

	pt, err := curve.Decompress(payload[DiversifierSize:])
	if err != nil {
		return PaymentAddress{}, ErrNotOnCurve
	}
	addr.PkD = pt
	return addr, nil
}
