// Package testutil builds the funded-chain fixtures the package test
// suites share: a Badger ledger in a temp directory, a genesis block
// carrying spendable outputs, and a wallet that already scanned them.
package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/botho-project/botho/internal/blockbuilder"
	"github.com/botho-project/botho/internal/cryptoprim"
	"github.com/botho-project/botho/internal/ledger"
	"github.com/botho-project/botho/internal/types"
	"github.com/botho-project/botho/internal/wallet"
)

// GenesisTimestamp is the fixed timestamp test genesis blocks carry.
const GenesisTimestamp = 1_700_000_000

// Chain is a funded single-block chain fixture.
type Chain struct {
	Store   *ledger.Store
	Wallet  *wallet.Wallet
	Genesis *types.Block
}

// NewFundedChain opens a fresh ledger, applies a genesis block whose one
// funding transaction pays `outputs` outputs of `value` picocredits each to
// a fresh wallet, and scans the wallet up to date.
func NewFundedChain(t *testing.T, outputs int, value uint64) *Chain {
	t.Helper()

	store, err := ledger.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	w, err := wallet.Generate()
	require.NoError(t, err)

	genesis := FundedGenesis(t, w, outputs, value)
	require.NoError(t, store.Apply(genesis))
	require.NoError(t, w.ScanBlock(genesis))

	return &Chain{Store: store, Wallet: w, Genesis: genesis}
}

// FundedGenesis builds a height-0 block whose single transaction mints
// `outputs` outputs of `value` each to w. The funding transaction carries
// no inputs and no signature; the ledger applies blocks structurally, so
// the fixture stays cheap.
func FundedGenesis(t *testing.T, w *wallet.Wallet, outputs int, value uint64) *types.Block {
	t.Helper()

	fundingTx := &types.Transaction{
		Prefix: types.TxPrefix{Version: 1, Tombstone: 1},
	}
	for i := 0; i < outputs; i++ {
		out, _, err := wallet.BuildOutput(w.Address(), value)
		require.NoError(t, err)
		fundingTx.Prefix.Outputs = append(fundingTx.Prefix.Outputs, out)
	}

	txs := []*types.Transaction{fundingTx}
	return &types.Block{
		Header: types.BlockHeader{
			Version:    1,
			PrevHash:   cryptoprim.GenesisPrevHash,
			TxRoot:     blockbuilder.MerkleRoot(txs),
			Timestamp:  GenesisTimestamp,
			Height:     0,
			Difficulty: 1 << 48, // threshold: roughly one hash in 2^16 passes
		},
		Transactions: txs,
	}
}

// Decoys adapts the chain's UTXO sampler to the wallet's DecoySource.
func (c *Chain) Decoys(count int, exclude map[types.PublicKey]bool) ([]types.RingMember, error) {
	return c.Store.SampleOutputs(count, exclude)
}

// BuildSpend assembles a fully valid signed transfer from the chain's
// wallet.
func (c *Chain) BuildSpend(t *testing.T, to wallet.Address, amount, fee uint64) *types.Transaction {
	t.Helper()
	tip := c.Store.TipHeight()
	tx, err := c.Wallet.BuildTransaction(to, amount, fee, tip, c.Decoys)
	require.NoError(t, err)
	return tx
}

// RestrictToSingleInput marks all but one of the wallet's outputs spent,
// so consecutive BuildSpend calls deterministically select the same owned
// output (and thus reveal the same key image). The outputs stay in the
// UTXO set as ring decoys.
func (c *Chain) RestrictToSingleInput(t *testing.T) {
	t.Helper()
	outs := c.Wallet.UnspentOutputs()
	require.NotEmpty(t, outs)
	for _, o := range outs[1:] {
		c.Wallet.MarkSpent(o.KeyImage)
	}
}

// OtherWallet returns a fresh recipient wallet.
func OtherWallet(t *testing.T) *wallet.Wallet {
	t.Helper()
	w, err := wallet.Generate()
	require.NoError(t, err)
	return w
}
