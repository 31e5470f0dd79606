package curve

import "golang.org/x/crypto/blake2s"

// GroupHash maps an arbitrary byte string into a candidate curve point
// by hashing it into 32 bytes and attempting to decompress the result,
// trying both sign bits. It returns ok=false when neither candidate
// lies on the curve or is of prime order, matching the spec's
// DiversifyHash contract: "returns None for some d; key derivation MUST
// try the next d."
func GroupHash(personalization string, data []byte) (Point, bool) {
	person := make([]byte, 8)
	copy(person, personalization)

	h, err := blake2s.New256(&blake2s.Config{Person: person})
	if err != nil {
		panic(err)
	}
	h.Write(data)
	digest := h.Sum(nil)

	for _, sign := range [2]bool{false, true} {
		candidate := make([]byte, 32)
		copy(candidate, digest)
		if sign {
			candidate[31] |= 0x80
		} else {
			candidate[31] &= 0x7f
		}
		if p, err := Decompress(candidate); err == nil {
			return p, true
		}
	}
	return Point{}, false
}
