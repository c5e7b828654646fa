package cryptoprim

import (
	"crypto/sha512"

	"github.com/gtank/ristretto255"

	"github.com/botho-project/botho/internal/types"
)

// HashToScalar derives a Ristretto255 scalar from a domain tag and an
// arbitrary number of byte strings, using wide (64-byte) SHA-512 output
// reduced modulo the group order.
func HashToScalar(domain string, parts ...[]byte) *ristretto255.Scalar {
	h := sha512.New()
	h.Write([]byte(domain))
	for _, p := range parts {
		h.Write(p)
	}
	wide := h.Sum(nil)
	return ristretto255.NewScalar().FromUniformBytes(wide)
}

// HashToPoint derives a Ristretto255 group element from a domain tag and an
// arbitrary number of byte strings, using the Elligator2 uniform-bytes
// mapping so the element's discrete log is unknown to any party. Used to derive the key-image base point H_p(P) and
// the amount-commitment generator H.
func HashToPoint(domain string, parts ...[]byte) *ristretto255.Element {
	h := sha512.New()
	h.Write([]byte(domain))
	for _, p := range parts {
		h.Write(p)
	}
	wide := h.Sum(nil)
	return ristretto255.NewElement().FromUniformBytes(wide)
}

// AmountGenerator is the fixed, nothing-up-my-sleeve second generator H used
// for Pedersen commitments, derived once by hashing the Ristretto255 base
// point's encoding under a dedicated domain tag.
func AmountGenerator() *ristretto255.Element {
	base := ristretto255.NewElement().Base()
	return HashToPoint(domainPedersenH, base.Encode(nil))
}

// DecodeScalar parses a 32-byte scalar encoding.
func DecodeScalar(b types.Scalar) (*ristretto255.Scalar, error) {
	s := ristretto255.NewScalar()
	if err := s.Decode(b[:]); err != nil {
		return nil, err
	}
	return s, nil
}

// EncodeScalar writes a ristretto255 scalar into the wire Scalar type.
func EncodeScalar(s *ristretto255.Scalar) types.Scalar {
	var out types.Scalar
	copy(out[:], s.Encode(nil))
	return out
}

// DecodePoint parses a 32-byte Ristretto255 element encoding.
func DecodePoint(b [32]byte) (*ristretto255.Element, error) {
	e := ristretto255.NewElement()
	if err := e.Decode(b[:]); err != nil {
		return nil, err
	}
	return e, nil
}

// EncodePublicKey writes a ristretto255 element into the wire PublicKey type.
func EncodePublicKey(e *ristretto255.Element) types.PublicKey {
	var out types.PublicKey
	copy(out[:], e.Encode(nil))
	return out
}

// EncodeCommitment writes a ristretto255 element into the wire Commitment
// type.
func EncodeCommitment(e *ristretto255.Element) types.Commitment {
	var out types.Commitment
	copy(out[:], e.Encode(nil))
	return out
}
