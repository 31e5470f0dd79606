// Package txformat defines the wire-level shielded transaction
// structures shared by the scanner, prover, transaction builder, and
// broadcast packages: SpendDescription, OutputDescription, and the
// canonical Sapling/NU5 bundle serialisation.
//
// Grounded on the teacher's internal/zkp/transaction.go, which defines
// an analogous (if simplified) ShieldedTransaction wire struct with
// fixed-size proof and commitment fields; generalized here to the real
// Sapling description layout and byte lengths.
package txformat

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

// Fixed field widths per the canonical wire format.
const (
	CVSize            = 32
	AnchorSize        = 32
	NullifierSize     = 32
	RkSize            = 32
	ProofSize         = 192
	SpendAuthSigSize  = 64
	CmuSize           = 32
	EphemeralKeySize  = 32
	EncCiphertextSize = 580
	OutCiphertextSize = 80
	BindingSigSize    = 64
	CompactEncSize    = 52
)

// Wire format errors.
var (
	ErrTruncated        = errors.New("txformat: input truncated")
	ErrBadCompactLength = errors.New("txformat: compact enc_ciphertext must be 52 bytes")
)

// SpendDescription is one shielded input (§3).
type SpendDescription struct {
	Cv           [CVSize]byte
	Anchor       [AnchorSize]byte
	Nullifier    [NullifierSize]byte
	Rk           [RkSize]byte
	Zkproof      [ProofSize]byte
	SpendAuthSig [SpendAuthSigSize]byte
}

// Encode serialises a SpendDescription as cv‖anchor‖nullifier‖rk‖zkproof‖spend_auth_sig.
func (s SpendDescription) Encode() []byte {
	buf := make([]byte, 0, CVSize+AnchorSize+NullifierSize+RkSize+ProofSize+SpendAuthSigSize)
	buf = append(buf, s.Cv[:]...)
	buf = append(buf, s.Anchor[:]...)
	buf = append(buf, s.Nullifier[:]...)
	buf = append(buf, s.Rk[:]...)
	buf = append(buf, s.Zkproof[:]...)
	buf = append(buf, s.SpendAuthSig[:]...)
	return buf
}

// DecodeSpendDescription is the inverse of Encode.
func DecodeSpendDescription(r *bytes.Reader) (SpendDescription, error) {
	var s SpendDescription
	for _, field := range []struct {
		dst []byte
	}{
		{s.Cv[:]}, {s.Anchor[:]}, {s.Nullifier[:]}, {s.Rk[:]}, {s.Zkproof[:]}, {s.SpendAuthSig[:]},
	} {
		if _, err := io.ReadFull(r, field.dst); err != nil {
			return SpendDescription{}, ErrTruncated
		}
	}
	return s, nil
}

// OutputDescription is one shielded output (§3).
type OutputDescription struct {
	Cv             [CVSize]byte
	Cmu            [CmuSize]byte
	EphemeralKey   [EphemeralKeySize]byte
	EncCiphertext  [EncCiphertextSize]byte
	OutCiphertext  [OutCiphertextSize]byte
	Zkproof        [ProofSize]byte
}

// Encode serialises an OutputDescription as
// cv‖cmu‖ephemeral_key‖enc_ciphertext‖out_ciphertext‖zkproof.
func (o OutputDescription) Encode() []byte {
	buf := make([]byte, 0, CVSize+CmuSize+EphemeralKeySize+EncCiphertextSize+OutCiphertextSize+ProofSize)
	buf = append(buf, o.Cv[:]...)
	buf = append(buf, o.Cmu[:]...)
	buf = append(buf, o.EphemeralKey[:]...)
	buf = append(buf, o.EncCiphertext[:]...)
	buf = append(buf, o.OutCiphertext[:]...)
	buf = append(buf, o.Zkproof[:]...)
	return buf
}

// DecodeOutputDescription is the inverse of Encode.
func DecodeOutputDescription(r *bytes.Reader) (OutputDescription, error) {
	var o OutputDescription
	for _, field := range []struct {
		dst []byte
	}{
		{o.Cv[:]}, {o.Cmu[:]}, {o.EphemeralKey[:]}, {o.EncCiphertext[:]}, {o.OutCiphertext[:]}, {o.Zkproof[:]},
	} {
		if _, err := io.ReadFull(r, field.dst); err != nil {
			return OutputDescription{}, ErrTruncated
		}
	}
	return o, nil
}

// CompactOutput is the 52-byte subset of enc_ciphertext sufficient for
// trial decryption, extracted by CompactFromFull when a node only
// returns the full form (§4.8 Compact-output extraction).
type CompactOutput [CompactEncSize]byte

// CompactFromFull extracts encrypted_data[0:36] ‖ tag[564:580] from the
// full 580-byte enc_ciphertext.
func CompactFromFull(full [EncCiphertextSize]byte) CompactOutput {
	var out CompactOutput
	copy(out[:36], full[:36])
	copy(out[36:], full[564:580])
	return out
}

// NormalizeCompact accepts either an already-compact 52-byte slice or
// a full 580-byte one, rejecting any other length (§4.8: "Inputs of
// length 52 are used as-is; any other length is rejected").
func NormalizeCompact(encCiphertext []byte) (CompactOutput, error) {
	switch len(encCiphertext) {
	case CompactEncSize:
		var out CompactOutput
		copy(out[:], encCiphertext)
		return out, nil
	case EncCiphertextSize:
		var full [EncCiphertextSize]byte
		copy(full[:], encCiphertext)
		return CompactFromFull(full), nil
	default:
		return CompactOutput{}, ErrBadCompactLength
	}
}

// ShieldedBundle is the complete set of shielded descriptions attached
// to one transaction (§3). ValueBalance is signed zatoshi: positive
// means the transparent pool gains value (net shielded spend), negative
// means it loses value (net shielded output).
type ShieldedBundle struct {
	Spends       []SpendDescription
	Outputs      []OutputDescription
	ValueBalance int64
	BindingSig   [BindingSigSize]byte
}

// Encode serialises the bundle in canonical order: spend count,
// spends, output count, outputs, value balance, binding signature.
func (b ShieldedBundle) Encode() []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, uint32(len(b.Spends)))
	for _, s := range b.Spends {
		buf.Write(s.Encode())
	}
	binary.Write(&buf, binary.LittleEndian, uint32(len(b.Outputs)))
	for _, o := range b.Outputs {
		buf.Write(o.Encode())
	}
	binary.Write(&buf, binary.LittleEndian, b.ValueBalance)
	buf.Write(b.BindingSig[:])
	return buf.Bytes()
}

// DecodeShieldedBundle is the inverse of Encode.
func DecodeShieldedBundle(data []byte) (ShieldedBundle, error) {
	r := bytes.NewReader(data)

	var nSpends uint32
	if err := binary.Read(r, binary.LittleEndian, &nSpends); err != nil {
		return ShieldedBundle{}, ErrTruncated
	}
	spends := make([]SpendDescription, 0, nSpends)
	for i := uint32(0); i < nSpends; i++ {
		s, err := DecodeSpendDescription(r)
		if err != nil {
			return ShieldedBundle{}, err
		}
		spends = append(spends, s)
	}

	var nOutputs uint32
	if err := binary.Read(r, binary.LittleEndian, &nOutputs); err != nil {
		return ShieldedBundle{}, ErrTruncated
	}
	outputs := make([]OutputDescription, 0, nOutputs)
	for i := uint32(0); i < nOutputs; i++ {
		o, err := DecodeOutputDescription(r)
		if err != nil {
			return ShieldedBundle{}, err
		}
		outputs = append(outputs, o)
	}

	var valueBalance int64
	if err := binary.Read(r, binary.LittleEndian, &valueBalance); err != nil {
		return ShieldedBundle{}, ErrTruncated
	}

	var bindingSig [BindingSigSize]byte
	if _, err := io.ReadFull(r, bindingSig[:]); err != nil {
		return ShieldedBundle{}, ErrTruncated
	}

	return ShieldedBundle{Spends: spends, Outputs: outputs, ValueBalance: valueBalance, BindingSig: bindingSig}, nil
}
