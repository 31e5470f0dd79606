package txformat

import "testing"

func sampleBundle() ShieldedBundle {
	var sd SpendDescription
	sd.Cv[0] = 1
	sd.Anchor[0] = 2
	sd.Nullifier[0] = 3
	sd.Rk[0] = 4
	sd.Zkproof[0] = 5
	sd.SpendAuthSig[0] = 6

	var od OutputDescription
	od.Cv[0] = 7
	od.Cmu[0] = 8
	od.EphemeralKey[0] = 9
	od.EncCiphertext[0] = 10
	od.OutCiphertext[0] = 11
	od.Zkproof[0] = 12

	return ShieldedBundle{
		Spends:       []SpendDescription{sd},
		Outputs:      []OutputDescription{od},
		ValueBalance: -12345,
		BindingSig:   [BindingSigSize]byte{13},
	}
}

func TestShieldedBundleRoundTrip(t *testing.T) {
	b := sampleBundle()
	encoded := b.Encode()
	decoded, err := DecodeShieldedBundle(encoded)
	if err != nil {
		t.Fatalf("DecodeShieldedBundle: %v", err)
	}
	if decoded.ValueBalance != b.ValueBalance {
		t.Fatalf("value_balance = %d, want %d", decoded.ValueBalance, b.ValueBalance)
	}
	if len(decoded.Spends) != 1 || decoded.Spends[0] != b.Spends[0] {
		t.Fatal("spend description did not round-trip")
	}
	if len(decoded.Outputs) != 1 || decoded.Outputs[0] != b.Outputs[0] {
		t.Fatal("output description did not round-trip")
	}
	if decoded.BindingSig != b.BindingSig {
		t.Fatal("binding_sig did not round-trip")
	}
}

func TestDecodeShieldedBundleRejectsTruncated(t *testing.T) {
	b := sampleBundle()
	encoded := b.Encode()
	if _, err := DecodeShieldedBundle(encoded[:len(encoded)-10]); err != ErrTruncated {
		t.Fatalf("Decode truncated = %v, want ErrTruncated", err)
	}
}

func TestCompactFromFullExtractsCorrectRanges(t *testing.T) {
	var full [EncCiphertextSize]byte
	for i := 0; i < 36; i++ {
		full[i] = byte(i + 1)
	}
	for i := 564; i < 580; i++ {
		full[i] = byte(i)
	}
	compact := CompactFromFull(full)
	for i := 0; i < 36; i++ {
		if compact[i] != byte(i+1) {
			t.Fatalf("compact[%d] = %d, want %d", i, compact[i], i+1)
		}
	}
	for i := 0; i < 16; i++ {
		if compact[36+i] != byte(564+i) {
			t.Fatalf("compact tag[%d] mismatch", i)
		}
	}
}

func TestNormalizeCompactAcceptsBothLengths(t *testing.T) {
	if _, err := NormalizeCompact(make([]byte, CompactEncSize)); err != nil {
		t.Fatalf("NormalizeCompact(52) = %v", err)
	}
	if _, err := NormalizeCompact(make([]byte, EncCiphertextSize)); err != nil {
		t.Fatalf("NormalizeCompact(580) = %v", err)
	}
}

func TestNormalizeCompactRejectsOtherLengths(t *testing.T) {
	if _, err := NormalizeCompact(make([]byte, 53)); err != ErrBadCompactLength {
		t.Fatalf("NormalizeCompact(53) = %v, want ErrBadCompactLength", err)
	}
}

func TestFixedFieldWidths(t *testing.T) {
	var sd SpendDescription
	if len(sd.Encode()) != CVSize+AnchorSize+NullifierSize+RkSize+ProofSize+SpendAuthSigSize {
		t.Fatal("SpendDescription.Encode length mismatch")
	}
	var od OutputDescription
	if len(od.Encode()) != CVSize+CmuSize+EphemeralKeySize+EncCiphertextSize+OutCiphertextSize+ProofSize {
		t.Fatal("OutputDescription.Encode length mismatch")
	}
}
