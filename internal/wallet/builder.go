package wallet

import (
	"fmt"

	"github.com/gtank/ristretto255"

	"github.com/botho-project/botho/internal/cryptoprim"
	"github.com/botho-project/botho/internal/errkind"
	"github.com/botho-project/botho/internal/types"
)

// DefaultTombstoneOffset is how many blocks past the current tip a built
// transaction stays valid before expiring from mempools.
const DefaultTombstoneOffset = 100

// maxTxInputs mirrors the validator's structural input cap.
const maxTxInputs = 16

// DecoySource supplies ring decoys: up to count UTXO members whose target
// keys are not in exclude. ledger.Store.SampleOutputs satisfies this; the
// RPC client provides a remote-backed implementation for the CLI wallet.
type DecoySource func(count int, exclude map[types.PublicKey]bool) ([]types.RingMember, error)

// BuildTransaction assembles a fully signed transfer of amount picocredits
// to recipient, spending this wallet's unspent outputs. tipHeight anchors
// the tombstone; decoys populates the non-real ring slots.
func (w *Wallet) BuildTransaction(recipient Address, amount, fee, tipHeight uint64, decoys DecoySource) (*types.Transaction, error) {
	if amount == 0 {
		return nil, errkind.New(errkind.Structural, "cannot send a zero amount")
	}

	inputsOwned, total, err := w.selectInputs(amount, fee)
	if err != nil {
		return nil, err
	}
	change := total - amount - fee

	// Outputs: one to the recipient, one change output back to ourselves
	// when the selection overshoots.
	var (
		outputs   []*types.TxOutput
		blindings []*ristretto255.Scalar
	)
	recipOut, recipBlind, err := BuildOutput(recipient, amount)
	if err != nil {
		return nil, err
	}
	outputs = append(outputs, recipOut)
	blindings = append(blindings, recipBlind)

	if change > 0 {
		changeOut, changeBlind, err := BuildOutput(w.Address(), change)
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, changeOut)
		blindings = append(blindings, changeBlind)
	}

	blindingSum := ristretto255.NewScalar()
	for _, b := range blindings {
		blindingSum = ristretto255.NewScalar().Add(blindingSum, b)
	}

	// Rings: the real output sits at the same random slot in every ring,
	// decoys fill the rest. Pseudo-output blindings are chosen so their sum
	// equals the output blinding sum, closing the balance identity.
	realIndex, err := randRingIndex()
	if err != nil {
		return nil, err
	}

	exclude := make(map[types.PublicKey]bool, len(inputsOwned))
	for _, o := range inputsOwned {
		exclude[o.TargetKey] = true
	}

	txInputs := make([]*types.TxInput, len(inputsOwned))
	oneTimePrivs := make([]*ristretto255.Scalar, len(inputsOwned))
	blindingDiffs := make([]*ristretto255.Scalar, len(inputsOwned))
	pseudoSum := ristretto255.NewScalar()

	for j, o := range inputsOwned {
		var pseudoBlind *ristretto255.Scalar
		if j == len(inputsOwned)-1 {
			pseudoBlind = ristretto255.NewScalar().Subtract(blindingSum, pseudoSum)
		} else {
			pseudoBlind, err = cryptoprim.RandomBlindingFactor()
			if err != nil {
				return nil, err
			}
			pseudoSum = ristretto255.NewScalar().Add(pseudoSum, pseudoBlind)
		}

		in := &types.TxInput{
			PseudoCommitment: cryptoprim.EncodeCommitment(cryptoprim.Commit(o.Value, pseudoBlind)),
			KeyImage:         o.KeyImage,
		}
		if err := fillRing(in, o, realIndex, exclude, decoys); err != nil {
			return nil, err
		}
		txInputs[j] = in
		oneTimePrivs[j] = o.OneTimePriv
		blindingDiffs[j] = ristretto255.NewScalar().Subtract(o.Blinding, pseudoBlind)
	}

	tx := &types.Transaction{
		Prefix: types.TxPrefix{
			Version:   1,
			Inputs:    txInputs,
			Outputs:   outputs,
			Fee:       fee,
			Tombstone: tipHeight + DefaultTombstoneOffset,
		},
	}

	msg := tx.Hash()
	sig, err := cryptoprim.SignRing(msg[:], txInputs, realIndex, oneTimePrivs, blindingDiffs)
	if err != nil {
		return nil, err
	}
	tx.Signature = *sig
	return tx, nil
}

// selectInputs picks unspent owned outputs, largest first, until they cover
// amount+fee, within the structural input cap.
func (w *Wallet) selectInputs(amount, fee uint64) ([]*OwnedOutput, uint64, error) {
	need := amount + fee
	if need < amount {
		return nil, 0, errkind.New(errkind.Structural, "amount plus fee overflows")
	}

	var (
		selected []*OwnedOutput
		total    uint64
	)
	for _, o := range w.UnspentOutputs() {
		if len(selected) == maxTxInputs {
			break
		}
		selected = append(selected, o)
		total += o.Value
		if total >= need {
			return selected, total, nil
		}
	}
	return nil, 0, errkind.New(errkind.Conflict, fmt.Sprintf(
		"insufficient spendable balance: have %d, need %d", total, need))
}

// fillRing populates an input's ring with the real member at realIndex and
// sampled decoys elsewhere. On a young chain with fewer distinct outputs
// than ring slots, decoys repeat.
func fillRing(in *types.TxInput, real *OwnedOutput, realIndex int, exclude map[types.PublicKey]bool, decoys DecoySource) error {
	members, err := decoys(types.RingSize-1, exclude)
	if err != nil {
		return err
	}
	if len(members) == 0 {
		return errkind.New(errkind.Conflict, "no decoy outputs available for ring construction")
	}

	d := 0
	for i := 0; i < types.RingSize; i++ {
		if i == realIndex {
			in.Ring[i] = types.RingMember{TargetKey: real.TargetKey, Commitment: real.Commitment}
			continue
		}
		in.Ring[i] = members[d%len(members)]
		d++
	}
	return nil
}

func randRingIndex() (int, error) {
	nonce, err := cryptoprim.RandomNonce()
	if err != nil {
		return 0, err
	}
	return int(nonce[0]) % types.RingSize, nil
}
