package wallet

import (
	"fmt"

	"github.com/mr-tron/base58"

	"github.com/botho-project/botho/internal/types"
)

// Address is a wallet's public receiving identity: the view and spend keys
// the stealth derivation targets, plus the Kyber public key senders
// encapsulate output secrets to.
type Address struct {
	View      types.PublicKey
	Spend     types.PublicKey
	KEMPublic []byte
}

// String encodes the address as base58 over view || spend || kem_public.
func (a Address) String() string {
	buf := make([]byte, 0, 64+len(a.KEMPublic))
	buf = append(buf, a.View[:]...)
	buf = append(buf, a.Spend[:]...)
	buf = append(buf, a.KEMPublic...)
	return base58.Encode(buf)
}

// ParseAddress decodes a base58 address string.
func ParseAddress(s string) (Address, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return Address{}, fmt.Errorf("wallet: decode address: %w", err)
	}
	if len(raw) <= 64 {
		return Address{}, fmt.Errorf("wallet: address too short (%d bytes)", len(raw))
	}
	var a Address
	copy(a.View[:], raw[:32])
	copy(a.Spend[:], raw[32:64])
	a.KEMPublic = append([]byte(nil), raw[64:]...)
	return a, nil
}
