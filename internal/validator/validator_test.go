package validator_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/botho-project/botho/internal/errkind"
	"github.com/botho-project/botho/internal/testutil"
	"github.com/botho-project/botho/internal/types"
	"github.com/botho-project/botho/internal/validator"
)

const (
	fundValue = 10_000_000_000
	sendValue = 1_000_000_000
	minFee    = 100_000_000
)

func kindOf(t *testing.T, err error) errkind.Kind {
	t.Helper()
	kind, ok := errkind.Of(err)
	require.True(t, ok, "error %v must be classified", err)
	return kind
}

func TestValidTransactionPassesAllChecks(t *testing.T) {
	chain := testutil.NewFundedChain(t, 25, fundValue)
	recipient := testutil.OtherWallet(t)

	tx := chain.BuildSpend(t, recipient.Address(), sendValue, minFee)
	require.NoError(t, validator.Validate(tx, chain.Store))
}

func TestStructuralLimits(t *testing.T) {
	chain := testutil.NewFundedChain(t, 25, fundValue)
	recipient := testutil.OtherWallet(t)
	tx := chain.BuildSpend(t, recipient.Address(), sendValue, minFee)

	t.Run("no inputs", func(t *testing.T) {
		bad := *tx
		bad.Prefix.Inputs = nil
		err := validator.Validate(&bad, chain.Store)
		require.Equal(t, errkind.Structural, kindOf(t, err))
		require.Contains(t, err.Error(), "input count")
	})

	t.Run("too many inputs", func(t *testing.T) {
		bad := *tx
		bad.Prefix.Inputs = make([]*types.TxInput, 17)
		for i := range bad.Prefix.Inputs {
			bad.Prefix.Inputs[i] = tx.Prefix.Inputs[0]
		}
		err := validator.Validate(&bad, chain.Store)
		require.Equal(t, errkind.Structural, kindOf(t, err))
		require.Contains(t, err.Error(), "input count")
	})

	t.Run("no outputs", func(t *testing.T) {
		bad := *tx
		bad.Prefix.Outputs = nil
		err := validator.Validate(&bad, chain.Store)
		require.Equal(t, errkind.Structural, kindOf(t, err))
		require.Contains(t, err.Error(), "output count")
	})

	t.Run("fee below floor", func(t *testing.T) {
		bad := *tx
		bad.Prefix.Fee = minFee - 1
		err := validator.Validate(&bad, chain.Store)
		require.Equal(t, errkind.Structural, kindOf(t, err))
		require.Contains(t, err.Error(), "fee")
	})
}

func TestTombstoneBoundaries(t *testing.T) {
	chain := testutil.NewFundedChain(t, 25, fundValue)
	recipient := testutil.OtherWallet(t)
	tx := chain.BuildSpend(t, recipient.Address(), sendValue, minFee)
	tip := chain.Store.TipHeight()

	// Tombstone <= tip has already expired.
	expired := *tx
	expired.Prefix.Tombstone = tip
	err := validator.Validate(&expired, chain.Store)
	require.Equal(t, errkind.Structural, kindOf(t, err))
	require.Contains(t, err.Error(), "tombstone")

	// Tombstone past tip+20160 is too far out.
	tooFar := *tx
	tooFar.Prefix.Tombstone = tip + 20161
	err = validator.Validate(&tooFar, chain.Store)
	require.Equal(t, errkind.Structural, kindOf(t, err))
	require.Contains(t, err.Error(), "tombstone")

	// Tombstone exactly tip+20160 clears the structural check; the
	// tampered prefix then fails at the signature, not the tombstone.
	boundary := *tx
	boundary.Prefix.Tombstone = tip + 20160
	err = validator.Validate(&boundary, chain.Store)
	require.Error(t, err)
	require.False(t, strings.Contains(err.Error(), "tombstone"))
}

func TestRingMembership(t *testing.T) {
	chain := testutil.NewFundedChain(t, 25, fundValue)
	recipient := testutil.OtherWallet(t)
	tx := chain.BuildSpend(t, recipient.Address(), sendValue, minFee)

	// Point one ring slot at an output the UTXO set has never held.
	bad := *tx
	in := *bad.Prefix.Inputs[0]
	in.Ring[4].TargetKey = types.PublicKey{0xDE, 0xAD}
	bad.Prefix.Inputs = []*types.TxInput{&in}
	err := validator.Validate(&bad, chain.Store)
	require.Equal(t, errkind.Structural, kindOf(t, err))
	require.Contains(t, err.Error(), "not in UTXO set")
}

func TestSpentKeyImageConflicts(t *testing.T) {
	chain := testutil.NewFundedChain(t, 25, fundValue)
	chain.RestrictToSingleInput(t)
	recipient := testutil.OtherWallet(t)
	tx := chain.BuildSpend(t, recipient.Address(), sendValue, minFee)

	// Mark the transaction's key image as spent by applying a block
	// containing it, then re-validate: the double spend is a Conflict.
	spendBlock := &types.Block{
		Header: types.BlockHeader{
			Version:   1,
			PrevHash:  chain.Genesis.Header.Hash(),
			Timestamp: chain.Genesis.Header.Timestamp + 20,
			Height:    1,
		},
		Transactions: []*types.Transaction{tx},
	}
	require.NoError(t, chain.Store.Apply(spendBlock))

	// The wallet has not seen the applied block, so it re-selects the same
	// owned output and reveals the same key image.
	second := chain.BuildSpend(t, recipient.Address(), sendValue, minFee)
	require.Equal(t, tx.Prefix.Inputs[0].KeyImage, second.Prefix.Inputs[0].KeyImage)

	err := validator.Validate(second, chain.Store)
	require.Equal(t, errkind.Conflict, kindOf(t, err))
}

func TestCorruptedSignatureRejected(t *testing.T) {
	chain := testutil.NewFundedChain(t, 25, fundValue)
	recipient := testutil.OtherWallet(t)
	tx := chain.BuildSpend(t, recipient.Address(), sendValue, minFee)

	bad := *tx
	bad.Signature.C0[0] ^= 0x01
	err := validator.Validate(&bad, chain.Store)
	require.Equal(t, errkind.Cryptographic, kindOf(t, err))
}

func TestCorruptedRangeProofRejected(t *testing.T) {
	chain := testutil.NewFundedChain(t, 25, fundValue)
	recipient := testutil.OtherWallet(t)
	tx := chain.BuildSpend(t, recipient.Address(), sendValue, minFee)

	bad := *tx
	out := *bad.Prefix.Outputs[0]
	out.RangeProof = append(types.RangeProof(nil), tx.Prefix.Outputs[0].RangeProof...)
	out.RangeProof[50] ^= 0x01
	bad.Prefix.Outputs = append([]*types.TxOutput{&out}, tx.Prefix.Outputs[1:]...)

	err := validator.Validate(&bad, chain.Store)
	kind := kindOf(t, err)
	require.True(t, kind == errkind.Cryptographic || kind == errkind.Structural)
}
