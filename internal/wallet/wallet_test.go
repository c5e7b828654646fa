package wallet_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/botho-project/botho/internal/cryptoprim"
	"github.com/botho-project/botho/internal/testutil"
	"github.com/botho-project/botho/internal/types"
	"github.com/botho-project/botho/internal/validator"
	"github.com/botho-project/botho/internal/wallet"
)

const (
	fundValue = 10_000_000_000
	sendValue = 1_000_000_000
	minFee    = 100_000_000
)

func TestScanRecoversBalance(t *testing.T) {
	chain := testutil.NewFundedChain(t, 5, fundValue)
	require.Equal(t, uint64(5*fundValue), chain.Wallet.Balance())
	require.Len(t, chain.Wallet.UnspentOutputs(), 5)

	scanned, ok := chain.Wallet.ScannedHeight()
	require.True(t, ok)
	require.Equal(t, uint64(0), scanned)
}

func TestScanIgnoresForeignOutputs(t *testing.T) {
	chain := testutil.NewFundedChain(t, 5, fundValue)
	stranger := testutil.OtherWallet(t)

	require.NoError(t, stranger.ScanBlock(chain.Genesis))
	require.Zero(t, stranger.Balance())
}

func TestBuildTransactionBalancesAndVerifies(t *testing.T) {
	chain := testutil.NewFundedChain(t, 25, fundValue)
	recipient := testutil.OtherWallet(t)

	tx := chain.BuildSpend(t, recipient.Address(), sendValue, minFee)

	// The pseudo/output commitment identity holds exactly.
	pseudo := make([]types.Commitment, len(tx.Prefix.Inputs))
	for i, in := range tx.Prefix.Inputs {
		pseudo[i] = in.PseudoCommitment
	}
	outs := make([]types.Commitment, len(tx.Prefix.Outputs))
	for i, out := range tx.Prefix.Outputs {
		outs[i] = out.Commitment
	}
	ok, err := cryptoprim.VerifyBalance(pseudo, outs, tx.Prefix.Fee)
	require.NoError(t, err)
	require.True(t, ok)

	// And the whole transaction clears the validator.
	require.NoError(t, validator.Validate(tx, chain.Store))
}

func TestRecipientClaimsTransfer(t *testing.T) {
	chain := testutil.NewFundedChain(t, 25, fundValue)
	recipient := testutil.OtherWallet(t)
	tx := chain.BuildSpend(t, recipient.Address(), sendValue, minFee)

	block := &types.Block{
		Header: types.BlockHeader{
			Version:   1,
			PrevHash:  chain.Genesis.Header.Hash(),
			Timestamp: chain.Genesis.Header.Timestamp + 20,
			Height:    1,
		},
		Transactions: []*types.Transaction{tx},
	}
	require.NoError(t, chain.Store.Apply(block))

	// The recipient recovers the exact amount from the masked value.
	require.NoError(t, recipient.ScanBlock(block))
	require.Equal(t, uint64(sendValue), recipient.Balance())

	// The sender sees the spend and its change output.
	require.NoError(t, chain.Wallet.ScanBlock(block))
	require.Equal(t, uint64(25*fundValue-sendValue-minFee), chain.Wallet.Balance())
}

func TestInsufficientBalance(t *testing.T) {
	chain := testutil.NewFundedChain(t, 2, fundValue)
	recipient := testutil.OtherWallet(t)

	_, err := chain.Wallet.BuildTransaction(recipient.Address(), 3*fundValue, minFee, 0, chain.Decoys)
	require.Error(t, err)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	w, err := wallet.Generate()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "wallet.json")
	require.NoError(t, w.Save(path))

	loaded, err := wallet.Load(path)
	require.NoError(t, err)
	require.Equal(t, w.Address().String(), loaded.Address().String())

	// The reloaded wallet still recognizes outputs paid to the original.
	out, _, err := wallet.BuildOutput(w.Address(), 500)
	require.NoError(t, err)
	block := &types.Block{
		Header: types.BlockHeader{Version: 1, PrevHash: cryptoprim.GenesisPrevHash},
		Transactions: []*types.Transaction{{
			Prefix: types.TxPrefix{Version: 1, Outputs: []*types.TxOutput{out}},
		}},
	}
	require.NoError(t, loaded.ScanBlock(block))
	require.Equal(t, uint64(500), loaded.Balance())
}

func TestAddressRoundTrip(t *testing.T) {
	w, err := wallet.Generate()
	require.NoError(t, err)

	addr := w.Address()
	parsed, err := wallet.ParseAddress(addr.String())
	require.NoError(t, err)
	require.Equal(t, addr.View, parsed.View)
	require.Equal(t, addr.Spend, parsed.Spend)
	require.Equal(t, addr.KEMPublic, parsed.KEMPublic)

	_, err = wallet.ParseAddress("not!base58!!")
	require.Error(t, err)

	_, err = wallet.ParseAddress("")
	require.Error(t, err)
}
