// Package curve implements Jubjub point and field arithmetic.
//
// Jubjub is a twisted Edwards curve whose base field is the scalar
// field of BLS12-381, so every commitment and key produced here is a
// native element of the same field gnark circuits operate over.
package curve

import (
	"crypto/subtle"
	"errors"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"
	"github.com/consensys/gnark-crypto/ecc/bls12-381/twistededwards"
)

// Curve errors, named per the field/curve contract.
var (
	ErrNotOnCurve      = errors.New("curve: point is not on the jubjub curve")
	ErrNotPrimeOrder   = errors.New("curve: point is not of prime order")
	ErrInvalidEncoding = errors.New("curve: invalid compressed encoding")
)

var params = twistededwards.GetEdwardsCurve()

// FieldElement is an element of Jubjub's base field (BLS12-381's scalar field).
type FieldElement struct {
	inner fr.Element
}

// FieldFromBytes decodes 32 little-endian bytes into a FieldElement.
// It never fails: values are reduced modulo the field prime, matching
// the behaviour of gnark-crypto's fr.Element.SetBytes.
func FieldFromBytes(b []byte) FieldElement {
	var buf [fr.Bytes]byte
	copy(buf[:], b)
	var e fr.Element
	e.SetBytes(reverse(buf[:]))
	return FieldElement{inner: e}
}

// Bytes returns the 32-byte little-endian encoding of f.
func (f FieldElement) Bytes() []byte {
	b := f.inner.Bytes()
	return reverse(b[:])
}

// Equal reports whether two field elements represent the same value.
func (f FieldElement) Equal(other FieldElement) bool {
	return f.inner.Equal(&other.inner)
}

func reverse(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return out
}

// Scalar is an element of Jubjub's scalar field, i.e. an integer modulo
// the prime-order subgroup order.
type Scalar struct {
	inner big.Int
}

// ScalarFromBytes reduces 64 bytes (as produced by PRF_expand) modulo
// the subgroup order into a Scalar.
func ScalarFromBytes(b []byte) Scalar {
	v := new(big.Int).SetBytes(reverseCopy(b))
	v.Mod(v, &params.Order)
	return Scalar{inner: *v}
}

func reverseCopy(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return out
}

// Bytes returns the little-endian encoding of the scalar, left-padded
// to 32 bytes.
func (s Scalar) Bytes() []byte {
	raw := s.inner.Bytes()
	out := make([]byte, 32)
	copy(out[32-len(raw):], raw)
	return reverse(out)
}

// BigInt returns the scalar as a big.Int, for passing into gnark-crypto
// scalar multiplication routines.
func (s Scalar) BigInt() *big.Int {
	return new(big.Int).Set(&s.inner)
}

// IsZero reports whether the scalar is zero.
func (s Scalar) IsZero() bool {
	return s.inner.Sign() == 0
}

// AddScalar returns a+b mod order.
func AddScalar(a, b Scalar) Scalar {
	v := new(big.Int).Add(&a.inner, &b.inner)
	v.Mod(v, &params.Order)
	return Scalar{inner: *v}
}

// SubScalar returns a-b mod order.
func SubScalar(a, b Scalar) Scalar {
	v := new(big.Int).Sub(&a.inner, &b.inner)
	v.Mod(v, &params.Order)
	return Scalar{inner: *v}
}

// MulScalar returns a*b mod order.
func MulScalar(a, b Scalar) Scalar {
	v := new(big.Int).Mul(&a.inner, &b.inner)
	v.Mod(v, &params.Order)
	return Scalar{inner: *v}
}

// Point is a point on the Jubjub curve, including the point at infinity.
type Point struct {
	inner    twistededwards.PointAffine
	infinity bool
}

// Identity returns the point at infinity (the group identity).
func Identity() Point {
	p := Point{infinity: true}
	p.inner.X.SetZero()
	p.inner.Y.SetOne()
	return p
}

// IsIdentity reports whether p is the point at infinity.
func (p Point) IsIdentity() bool {
	return p.infinity
}

// Generator returns the curve's canonical base point. internal/hashing
// derives its Pedersen segment generators from it by domain-separated
// scalar multiplication (mirrors the teacher's hash-derived-generator
// technique in its Pedersen commitment setup); G_spend and G_nk come
// from GroupHash instead (internal/keys).
func Generator() Point {
	return Point{inner: params.Base}
}

// IsOnCurve reports whether (x, y) satisfies the twisted Edwards
// equation -x^2 + y^2 = 1 + d*x^2*y^2.
func (p Point) IsOnCurve() bool {
	if p.infinity {
		return true
	}
	return p.inner.IsOnCurve()
}

// IsPrimeOrder reports whether p generates the prime-order subgroup,
// i.e. p scalar-multiplied by the subgroup order yields infinity and p
// itself is not infinity.
func (p Point) IsPrimeOrder() bool {
	if p.infinity {
		return false
	}
	var check twistededwards.PointAffine
	check.ScalarMultiplication(&p.inner, &params.Order)
	return check.X.IsZero() && check.Y.IsOne()
}

// Add returns p+q.
func (p Point) Add(q Point) Point {
	if p.infinity {
		return q
	}
	if q.infinity {
		return p
	}
	var r twistededwards.PointAffine
	r.Add(&p.inner, &q.inner)
	return Point{inner: r}
}

// Double returns p+p.
func (p Point) Double() Point {
	if p.infinity {
		return p
	}
	var r twistededwards.PointAffine
	r.Double(&p.inner)
	return Point{inner: r}
}

// Neg returns -p.
func (p Point) Neg() Point {
	if p.infinity {
		return p
	}
	var r twistededwards.PointAffine
	r.Neg(&p.inner)
	return Point{inner: r}
}

// ScalarMul returns k*p, handling k=0 (-> infinity) and k=1 (passthrough)
// as required by the spec.
func (p Point) ScalarMul(k Scalar) Point {
	if k.IsZero() || p.infinity {
		return Identity()
	}
	one := big.NewInt(1)
	if k.inner.Cmp(one) == 0 {
		return p
	}
	var r twistededwards.PointAffine
	r.ScalarMultiplication(&p.inner, &k.inner)
	return Point{inner: r}
}

// Equal reports whether p and q are the same point.
func (p Point) Equal(q Point) bool {
	if p.infinity || q.infinity {
		return p.infinity == q.infinity
	}
	return p.inner.X.Equal(&q.inner.X) && p.inner.Y.Equal(&q.inner.Y)
}

// Compress encodes p as 32 bytes: y in the low 255 bits, the sign of x
// in the top bit.
func (p Point) Compress() [32]byte {
	var out [32]byte
	if p.infinity {
		out[31] = 0x40 // distinguished, all-zero-y infinity marker with sign bit clear
		return out
	}
	yBytes := p.inner.Y.Bytes()
	copy(out[:], reverse(yBytes[:]))

	xBytes := p.inner.X.Bytes()
	xLE := reverse(xBytes[:])
	if isOdd(xLE) {
		out[31] |= 0x80
	}
	return out
}

func isOdd(leBytes []byte) bool {
	return leBytes[0]&1 == 1
}

// Decompress reconstructs a point from its 32-byte compressed form,
// failing if the encoded point is not on the curve or not of prime
// order, per the spec's decompress contract.
func Decompress(data []byte) (Point, error) {
	if len(data) != 32 {
		return Point{}, ErrInvalidEncoding
	}
	if subtle.ConstantTimeCompare([]byte{data[31] & 0x7f}, []byte{0x40}) == 1 &&
		data[31]&0x80 == 0 && allZero(data[:31]) {
		return Identity(), nil
	}

	sign := data[31]&0x80 != 0
	yBuf := make([]byte, 32)
	copy(yBuf, data)
	yBuf[31] &= 0x7f

	var y fr.Element
	y.SetBytes(reverse(yBuf))

	x, err := recoverX(y, sign)
	if err != nil {
		return Point{}, err
	}

	pt := twistededwards.PointAffine{X: x, Y: y}
	p := Point{inner: pt}
	if !p.IsOnCurve() {
		return Point{}, ErrNotOnCurve
	}
	if !p.IsPrimeOrder() {
		return Point{}, ErrNotPrimeOrder
	}
	return p, nil
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

// recoverX solves -x^2 + y^2 = 1 + d*x^2*y^2 for x given y, selecting the
// root whose parity matches sign.
func recoverX(y fr.Element, sign bool) (fr.Element, error) {
	var one, d, y2, num, den, x2 fr.Element
	one.SetOne()
	d.Set(&params.D)

	y2.Square(&y)
	num.Sub(&y2, &one) // y^2 - 1
	den.Mul(&d, &y2)
	den.Add(&den, &one) // 1 + d*y^2
	if den.IsZero() {
		return fr.Element{}, ErrInvalidEncoding
	}
	var denInv fr.Element
	denInv.Inverse(&den)
	x2.Mul(&num, &denInv)

	var x fr.Element
	if x.Sqrt(&x2) == nil {
		return fr.Element{}, ErrNotOnCurve
	}

	xBytes := x.Bytes()
	odd := isOdd(reverse(xBytes[:]))
	if odd != sign {
		x.Neg(&x)
	}
	return x, nil
}
