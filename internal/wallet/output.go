package wallet

import (
	"github.com/gtank/ristretto255"

	"github.com/botho-project/botho/internal/cryptoprim"
	"github.com/botho-project/botho/internal/types"
)

// BuildOutput derives a fresh stealth output paying value to an address:
// one-time target key, masked amount, shared-secret blinding, range proof,
// and the Kyber ciphertext the recipient unwraps. Returns the output and
// its commitment blinding (the sender needs it to balance the pseudo
// commitments).
func BuildOutput(to Address, value uint64) (*types.TxOutput, *ristretto255.Scalar, error) {
	stealth, ephPriv, err := cryptoprim.DeriveStealthOutput(to.View, to.Spend)
	if err != nil {
		return nil, nil, err
	}

	viewPoint, err := cryptoprim.DecodePoint([32]byte(to.View))
	if err != nil {
		return nil, nil, err
	}
	shared := ristretto255.NewElement().ScalarMult(ephPriv, viewPoint).Encode(nil)

	blinding := cryptoprim.DeriveAmountBlinding(shared)
	proof, err := cryptoprim.ProveRange(value, blinding)
	if err != nil {
		return nil, nil, err
	}

	kemCipher, _, err := cryptoprim.KyberEncapsulate(to.KEMPublic)
	if err != nil {
		return nil, nil, err
	}

	return &types.TxOutput{
		TargetKey:    stealth.TargetKey,
		EphemeralKey: stealth.EphemeralKey,
		KEMCipher:    kemCipher,
		Commitment:   cryptoprim.EncodeCommitment(cryptoprim.Commit(value, blinding)),
		MaskedValue:  cryptoprim.MaskAmount(shared, value),
		RangeProof:   proof,
	}, blinding, nil
}
