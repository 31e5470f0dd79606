package curve

import "testing"

func TestScalarMulIdentityAndOne(t *testing.T) {
	g := Generator()

	if got := g.ScalarMul(Scalar{}); !got.Equal(Identity()) {
		t.Fatalf("scalar_mul(P, 0) = %v, want infinity", got)
	}

	one := ScalarFromBytes([]byte{1})
	if got := g.ScalarMul(one); !got.Equal(g) {
		t.Fatalf("scalar_mul(P, 1) != P")
	}
}

func TestIdentityIsOnCurveAndNotPrimeOrder(t *testing.T) {
	id := Identity()
	if !id.IsOnCurve() {
		t.Fatal("identity must be considered on curve")
	}
	if id.IsPrimeOrder() {
		t.Fatal("identity is not of prime order")
	}
}

func TestGeneratorIsOnCurveAndPrimeOrder(t *testing.T) {
	g := Generator()
	if !g.IsOnCurve() {
		t.Fatal("generator must be on curve")
	}
	if !g.IsPrimeOrder() {
		t.Fatal("generator must be of prime order")
	}
}

func TestCompressDecompressRoundTrip(t *testing.T) {
	g := Generator()
	two := ScalarFromBytes([]byte{2})
	p := g.ScalarMul(two)

	compressed := p.Compress()
	decoded, err := Decompress(compressed[:])
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if !decoded.Equal(p) {
		t.Fatal("decompress(compress(p)) != p")
	}
}

func TestDecompressRejectsInvalidLength(t *testing.T) {
	if _, err := Decompress(make([]byte, 31)); err != ErrInvalidEncoding {
		t.Fatalf("got %v, want ErrInvalidEncoding", err)
	}
}

func TestDecompressInfinityRoundTrip(t *testing.T) {
	compressed := Identity().Compress()
	decoded, err := Decompress(compressed[:])
	if err != nil {
		t.Fatalf("Decompress(infinity): %v", err)
	}
	if !decoded.IsIdentity() {
		t.Fatal("decompressed infinity marker did not round-trip to identity")
	}
}

func TestFieldFromBytesRoundTrip(t *testing.T) {
	b := make([]byte, 32)
	b[0] = 0x2a
	f := FieldFromBytes(b)
	out := f.Bytes()
	if out[0] != 0x2a {
		t.Fatalf("Bytes()[0] = %x, want 0x2a", out[0])
	}
}

func TestAddSubScalarInverse(t *testing.T) {
	a := ScalarFromBytes([]byte{7})
	b := ScalarFromBytes([]byte{3})
	sum := AddScalar(a, b)
	back := SubScalar(sum, b)
	if back.Bytes()[0] != a.Bytes()[0] {
		t.Fatal("(a+b)-b != a")
	}
}

func TestPointAddMatchesDouble(t *testing.T) {
	g := Generator()
	if !g.Add(g).Equal(g.Double()) {
		t.Fatal("p+p != p.Double()")
	}
}
