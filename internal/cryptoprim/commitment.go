package cryptoprim

import (
	"crypto/rand"
	"encoding/binary"

	"github.com/gtank/ristretto255"

	"github.com/botho-project/botho/internal/types"
)

// Commit builds a Pedersen commitment v*H + r*G for an amount v and a
// blinding factor r. G is the Ristretto255 base
// point; H is the fixed second generator returned by AmountGenerator.
func Commit(value uint64, blinding *ristretto255.Scalar) *ristretto255.Element {
	valueScalar := scalarFromUint64(value)

	h := AmountGenerator()
	g := ristretto255.NewElement().Base()

	vH := ristretto255.NewElement().ScalarMult(valueScalar, h)
	rG := ristretto255.NewElement().ScalarMult(blinding, g)
	return ristretto255.NewElement().Add(vH, rG)
}

func scalarFromUint64(v uint64) *ristretto255.Scalar {
	var wide [64]byte
	binary.LittleEndian.PutUint64(wide[:8], v)
	return ristretto255.NewScalar().FromUniformBytes(wide[:])
}

// RandomBlindingFactor draws a fresh uniformly random scalar for use as a
// commitment's blinding factor.
func RandomBlindingFactor() (*ristretto255.Scalar, error) {
	var wide [64]byte
	if _, err := rand.Read(wide[:]); err != nil {
		return nil, err
	}
	return ristretto255.NewScalar().FromUniformBytes(wide[:]), nil
}

// VerifyBalance checks the aggregate balance identity
// "commitment_balances": the sum of a transaction's pseudo-output
// commitments must equal the sum of its real output commitments plus the
// fee committed with a zero blinding factor (fee*H).
func VerifyBalance(pseudoInputs []types.Commitment, outputs []types.Commitment, fee uint64) (bool, error) {
	sumIn := ristretto255.NewElement().Zero()
	for _, c := range pseudoInputs {
		e, err := DecodePoint([32]byte(c))
		if err != nil {
			return false, err
		}
		sumIn = ristretto255.NewElement().Add(sumIn, e)
	}

	sumOut := ristretto255.NewElement().Zero()
	for _, c := range outputs {
		e, err := DecodePoint([32]byte(c))
		if err != nil {
			return false, err
		}
		sumOut = ristretto255.NewElement().Add(sumOut, e)
	}

	feeCommit := ristretto255.NewElement().ScalarMult(scalarFromUint64(fee), AmountGenerator())
	sumOutPlusFee := ristretto255.NewElement().Add(sumOut, feeCommit)

	return sumIn.Equal(sumOutPlusFee) == 1, nil
}
