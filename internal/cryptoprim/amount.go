package cryptoprim

import (
	"crypto/sha512"
	"encoding/binary"

	"github.com/gtank/ristretto255"

	"github.com/botho-project/botho/internal/types"
)

// DeriveAmountBlinding derives an output's commitment blinding factor from
// the sender/recipient shared secret, so the recipient can reconstruct the
// commitment without any extra wire data.
func DeriveAmountBlinding(sharedSecret []byte) *ristretto255.Scalar {
	return HashToScalar(domainAmountBlinding, sharedSecret)
}

// amountMask derives the 8-byte pad the output amount is XORed with.
func amountMask(sharedSecret []byte) [8]byte {
	h := sha512.New()
	h.Write([]byte(domainAmountValue))
	h.Write(sharedSecret)
	var mask [8]byte
	copy(mask[:], h.Sum(nil)[:8])
	return mask
}

// MaskAmount hides an output's amount under the shared-secret pad,
// producing the masked value carried on the wire.
func MaskAmount(sharedSecret []byte, value uint64) types.MaskedValue {
	mask := amountMask(sharedSecret)
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], value)
	var out types.MaskedValue
	for i := range out {
		out[i] = buf[i] ^ mask[i]
	}
	return out
}

// UnmaskAmount recovers the amount from a masked value given the same
// shared secret. The caller must confirm the recovered amount by
// recomputing the output's commitment.
func UnmaskAmount(sharedSecret []byte, masked types.MaskedValue) uint64 {
	mask := amountMask(sharedSecret)
	var buf [8]byte
	for i := range buf {
		buf[i] = masked[i] ^ mask[i]
	}
	return binary.LittleEndian.Uint64(buf[:])
}
