package wallet

import (
	"encoding/binary"

	"github.com/gtank/ristretto255"

	"github.com/botho-project/botho/internal/cryptoprim"
	"github.com/botho-project/botho/internal/ledger"
	"github.com/botho-project/botho/internal/types"
)

// ScanBlock walks an applied block for outputs this wallet owns and for key
// images that spend them, updating the owned set. Blocks must be scanned in
// height order.
func (w *Wallet) ScanBlock(block *types.Block) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, tx := range block.Transactions {
		for _, in := range tx.Prefix.Inputs {
			if target, mine := w.byKeyImage[in.KeyImage]; mine {
				w.owned[target].Spent = true
			}
		}
		for _, out := range tx.Prefix.Outputs {
			if err := w.tryClaimLocked(out.TargetKey, out.EphemeralKey, out.Commitment, out.MaskedValue, block.Header.Height); err != nil {
				return err
			}
		}
	}

	if reward := ledger.RewardOutput(block); reward != nil {
		if err := w.tryClaimLocked(reward.TargetKey, reward.EphemeralKey, reward.Commitment, reward.MaskedValue, block.Header.Height); err != nil {
			return err
		}
	}

	w.scannedHeight = block.Header.Height
	w.hasScanned = true
	return nil
}

// tryClaimLocked records an output if this wallet's keys produced it. The
// amount is recovered from the masked value via the stealth shared secret,
// or read in the clear for reward outputs whose commitment carries a zero
// blinding; either way the recomputed commitment must match before the
// output is trusted.
func (w *Wallet) tryClaimLocked(target, ephemeral types.PublicKey, commitment types.Commitment, masked types.MaskedValue, height uint64) error {
	mine, err := w.keys.OwnsOutput(target, ephemeral)
	if err != nil || !mine {
		return nil
	}
	if _, seen := w.owned[target]; seen {
		return nil
	}

	oneTime, err := w.keys.DeriveSpendScalar(ephemeral)
	if err != nil {
		return err
	}

	shared, err := w.sharedSecret(ephemeral)
	if err != nil {
		return err
	}

	value := cryptoprim.UnmaskAmount(shared, masked)
	blinding := cryptoprim.DeriveAmountBlinding(shared)
	if cryptoprim.EncodeCommitment(cryptoprim.Commit(value, blinding)) != commitment {
		// Reward outputs commit with a zero blinding and a cleartext amount.
		value = binary.LittleEndian.Uint64(masked[:])
		blinding = ristretto255.NewScalar()
		if cryptoprim.EncodeCommitment(cryptoprim.Commit(value, blinding)) != commitment {
			return nil
		}
	}

	keyImage := cryptoprim.KeyImage(oneTime, target)
	w.owned[target] = &OwnedOutput{
		TargetKey:   target,
		Commitment:  commitment,
		Value:       value,
		Blinding:    blinding,
		OneTimePriv: oneTime,
		KeyImage:    keyImage,
		Height:      height,
	}
	w.byKeyImage[keyImage] = target
	return nil
}

// sharedSecret recomputes the recipient-side Diffie-Hellman point
// view_priv * ephemeral, the secret amounts are masked under.
func (w *Wallet) sharedSecret(ephemeral types.PublicKey) ([]byte, error) {
	point, err := cryptoprim.DecodePoint([32]byte(ephemeral))
	if err != nil {
		return nil, err
	}
	return ristretto255.NewElement().ScalarMult(w.keys.View.Private, point).Encode(nil), nil
}

// MarkSpent flags the owned output behind a key image as spent, used when a
// pending transaction of our own has been accepted into the mempool before
// its block lands.
func (w *Wallet) MarkSpent(keyImage types.KeyImage) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if target, mine := w.byKeyImage[keyImage]; mine {
		w.owned[target].Spent = true
	}
}
