// Package keys implements Sapling key derivation (C4): from a 32-byte
// wallet-supplied secret, deterministically derive a spending key, a
// full viewing key, an incoming viewing key, and a default payment
// address.
package keys

import (
	"crypto/sha256"

	"golang.org/x/crypto/hkdf"

	"github.com/ccoin/shielded/internal/address"
	"github.com/ccoin/shielded/internal/curve"
	"github.com/ccoin/shielded/internal/hashing"
	"github.com/ccoin/shielded/pkg/types"
)

// Named generators for ak and nk derivation (§4.4 step 3). Derived
// deterministically via domain-separated group hashing, the same
// technique the teacher uses to derive its secondary Pedersen
// generator from a hashed seed (internal/zkp/pedersen.go).
var (
	gSpend = mustGenerator("Zcash_G_Spend")
	gNk    = mustGenerator("Zcash_G_NK")
)

func mustGenerator(tag string) curve.Point {
	p, ok := curve.GroupHash(tag, []byte(tag))
	if !ok {
		panic("keys: generator group hash failed for " + tag)
	}
	return p
}

// SpendingKey holds the secrets required only during send (§3).
// Callers must call Zeroize once the key is no longer needed.
type SpendingKey struct {
	Ask curve.Scalar
	Nsk curve.Scalar
	Ovk [32]byte
}

// Zeroize overwrites the spending key's secret bytes, matching the
// §5 memory-safety discipline ("private scalars... live in
// zero-on-drop containers").
func (sk *SpendingKey) Zeroize() {
	sk.Ask = curve.Scalar{}
	sk.Nsk = curve.Scalar{}
	for i := range sk.Ovk {
		sk.Ovk[i] = 0
	}
}

// FullViewingKey is shareable and enables detection/decryption of both
// received and (via Ovk) sent notes (§3).
type FullViewingKey struct {
	Ak  curve.Point
	Nk  curve.Point
	Ovk [32]byte
}

// KeySet is everything Derive produces for one wallet account.
type KeySet struct {
	Spending       SpendingKey
	FullViewing    FullViewingKey
	Ivk            curve.Scalar
	DefaultAddress address.PaymentAddress
}

// Zeroize clears the spending key and the derived ivk (ivk is
// sensitive enough, as it lets a holder decrypt every incoming note,
// that it is cleared alongside the spending key).
func (k *KeySet) Zeroize() {
	k.Spending.Zeroize()
	k.Ivk = curve.Scalar{}
}

// Derive implements the key-bridge contract: derive(secret, network) ->
// KeySet (§4.4). It is fully deterministic: the same secret and network
// always yield the same keys.
func Derive(secret [32]byte, network types.Network) (KeySet, error) {
	sk := hkdfExtract(network.KDFSalt(), secret[:])

	ask := hashing.PRFExpandScalar(sk[:], 0x00)
	nsk := hashing.PRFExpandScalar(sk[:], 0x01)
	ovkDigest := hashing.PRFExpand(sk[:], 0x02)

	var ovk [32]byte
	copy(ovk[:], ovkDigest[:32])

	ak := gSpend.ScalarMul(ask)
	nk := gNk.ScalarMul(nsk)

	akBytes := ak.Compress()
	nkBytes := nk.Compress()
	ivk := hashing.CRHIvk(akBytes[:], nkBytes[:])

	defaultAddr, err := defaultDiversifiedAddress(ivk)
	if err != nil {
		return KeySet{}, err
	}

	return KeySet{
		Spending:    SpendingKey{Ask: ask, Nsk: nsk, Ovk: ovk},
		FullViewing: FullViewingKey{Ak: ak, Nk: nk, Ovk: ovk},
		Ivk:         ivk,
		DefaultAddress: defaultAddr,
	}, nil
}

// hkdfExtract runs HKDF-SHA256 with the given salt and ikm, producing
// the 32-byte intermediate key sk (§4.4 step 1).
func hkdfExtract(salt, ikm []byte) [32]byte {
	reader := hkdf.New(sha256.New, ikm, salt, []byte("Zcash_WalletSK"))
	var out [32]byte
	if _, err := reader.Read(out[:]); err != nil {
		panic(err) // hkdf.Read only fails once the expansion limit is exhausted
	}
	return out
}

// ErrDiversifierExhausted is returned if no diversifier in the first
// 2^16 counters yields a valid point — astronomically unlikely, kept
// only so the loop has a defined terminal error instead of spinning
// forever on a broken curve configuration.
var ErrDiversifierExhausted = errDiversifierExhausted{}

type errDiversifierExhausted struct{}

func (errDiversifierExhausted) Error() string {
	return "keys: no valid diversifier found in bounded search"
}

// defaultDiversifiedAddress iterates d = 0, 1, 2, ... as little-endian
// 11-byte counters until DiversifyHash(d) is a valid prime-order point,
// then sets pk_d = ivk * DiversifyHash(d) (§4.4 step 5).
func defaultDiversifiedAddress(ivk curve.Scalar) (address.PaymentAddress, error) {
	var d [address.DiversifierSize]byte
	for counter := uint64(0); counter < 1<<16; counter++ {
		putUint64LE(d[:], counter)
		gd, ok := curve.GroupHash("Zcash_gd", d[:])
		if !ok {
			continue
		}
		pkD := gd.ScalarMul(ivk)
		return address.PaymentAddress{D: d, PkD: pkD}, nil
	}
	return address.PaymentAddress{}, ErrDiversifierExhausted
}

func putUint64LE(dst []byte, v uint64) {
	for i := 0; i < len(dst) && i < 8; i++ {
		dst[i] = byte(v >> (8 * uint(i)))
	}
}
