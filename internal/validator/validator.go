// Package validator runs ordered, cheap-first admission checks
// against a candidate transaction and a ledger snapshot.
package validator

import (
	"fmt"

	"github.com/botho-project/botho/internal/cryptoprim"
	"github.com/botho-project/botho/internal/errkind"
	"github.com/botho-project/botho/internal/types"
)

const (
	minInputs        = 1
	maxInputs        = 16
	maxOutputs       = 16
	maxEncodedSize   = 100 * 1024
	maxTombstoneSpan = 20160
	minFee           = 100_000_000
)

// Snapshot is the read-only ledger view the validator checks candidate
// transactions against. internal/ledger.Store satisfies this interface;
// it is kept narrow so tests can supply an in-memory fake.
type Snapshot interface {
	TipHeight() uint64
	Membership(targetKeys []types.PublicKey) (map[types.PublicKey]bool, error)
	KeyImageExists(ki types.KeyImage) (bool, error)
	Output(targetKey types.PublicKey) (*types.Output, bool, error)
}

// Validate runs every admission check in cheap-first order and
// returns nil if the transaction is acceptable, or the first classified
// error encountered.
func Validate(tx *types.Transaction, snap Snapshot) error {
	if err := checkStructural(tx, snap.TipHeight()); err != nil {
		return err
	}
	if err := checkRingMembership(tx, snap); err != nil {
		return err
	}
	if err := checkKeyImageFreshness(tx, snap); err != nil {
		return err
	}
	if err := checkRangeProofs(tx); err != nil {
		return err
	}
	if err := checkRingSignature(tx); err != nil {
		return err
	}
	if err := checkBalance(tx); err != nil {
		return err
	}
	return nil
}

func checkStructural(tx *types.Transaction, tip uint64) error {
	n := len(tx.Prefix.Inputs)
	if n < minInputs || n > maxInputs {
		return errkind.New(errkind.Structural, fmt.Sprintf("input count %d out of range [1,16]", n))
	}
	if len(tx.Prefix.Outputs) < 1 || len(tx.Prefix.Outputs) > maxOutputs {
		return errkind.New(errkind.Structural, fmt.Sprintf("output count %d out of range [1,16]", len(tx.Prefix.Outputs)))
	}
	for i, in := range tx.Prefix.Inputs {
		if len(in.Ring) != types.RingSize {
			return errkind.New(errkind.Structural, fmt.Sprintf("input %d ring size %d != %d", i, len(in.Ring), types.RingSize))
		}
	}
	if size := tx.EncodedSize(); size > maxEncodedSize {
		return errkind.New(errkind.Structural, fmt.Sprintf("encoded size %d exceeds %d", size, maxEncodedSize))
	}
	if tx.Prefix.Tombstone <= tip || tx.Prefix.Tombstone > tip+maxTombstoneSpan {
		return errkind.New(errkind.Structural, fmt.Sprintf(
			"tombstone %d outside (%d, %d]", tx.Prefix.Tombstone, tip, tip+maxTombstoneSpan))
	}
	if tx.Prefix.Fee < minFee {
		return errkind.New(errkind.Structural, fmt.Sprintf("fee %d below minimum %d", tx.Prefix.Fee, minFee))
	}
	return nil
}

func checkRingMembership(tx *types.Transaction, snap Snapshot) error {
	var targets []types.PublicKey
	for _, in := range tx.Prefix.Inputs {
		for _, m := range in.Ring {
			targets = append(targets, m.TargetKey)
		}
	}
	present, err := snap.Membership(targets)
	if err != nil {
		return errkind.Wrap(errkind.TransientIO, "ring membership lookup", err)
	}
	for _, k := range targets {
		if !present[k] {
			return errkind.New(errkind.Structural, fmt.Sprintf("ring member %s not in UTXO set", k))
		}
	}
	return nil
}

func checkKeyImageFreshness(tx *types.Transaction, snap Snapshot) error {
	seen := make(map[types.KeyImage]struct{}, len(tx.Prefix.Inputs))
	for _, in := range tx.Prefix.Inputs {
		if _, dup := seen[in.KeyImage]; dup {
			return errkind.ErrConflictingKeyImage
		}
		seen[in.KeyImage] = struct{}{}

		exists, err := snap.KeyImageExists(in.KeyImage)
		if err != nil {
			return errkind.Wrap(errkind.TransientIO, "key image lookup", err)
		}
		if exists {
			return errkind.Wrap(errkind.Conflict, "key image already spent", fmt.Errorf("%s", in.KeyImage))
		}
	}
	return nil
}

func checkRangeProofs(tx *types.Transaction) error {
	for i, out := range tx.Prefix.Outputs {
		ok, err := cryptoprim.VerifyRangeProof([]types.Commitment{out.Commitment}, out.RangeProof)
		if err != nil {
			return errkind.Wrap(errkind.Structural, fmt.Sprintf("output %d range proof decode", i), err)
		}
		if !ok {
			return errkind.New(errkind.Cryptographic, fmt.Sprintf("output %d range proof invalid", i))
		}
	}
	return nil
}

func checkRingSignature(tx *types.Transaction) error {
	msg := tx.Hash()
	ok, err := cryptoprim.VerifyRingSignature(msg[:], tx.Prefix.Inputs, &tx.Signature)
	if err != nil {
		return errkind.Wrap(errkind.Structural, "ring signature decode", err)
	}
	if !ok {
		return errkind.New(errkind.Cryptographic, "ring signature invalid")
	}
	return nil
}

func checkBalance(tx *types.Transaction) error {
	pseudo := make([]types.Commitment, len(tx.Prefix.Inputs))
	for i, in := range tx.Prefix.Inputs {
		pseudo[i] = in.PseudoCommitment
	}
	outputs := make([]types.Commitment, len(tx.Prefix.Outputs))
	for i, out := range tx.Prefix.Outputs {
		outputs[i] = out.Commitment
	}

	ok, err := cryptoprim.VerifyBalance(pseudo, outputs, tx.Prefix.Fee)
	if err != nil {
		return errkind.Wrap(errkind.Structural, "balance commitment decode", err)
	}
	if !ok {
		return errkind.New(errkind.Cryptographic, "balance identity does not hold")
	}
	return nil
}
