package ledger

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/botho-project/botho/internal/cryptoprim"
	"github.com/botho-project/botho/internal/errkind"
	"github.com/botho-project/botho/internal/types"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testOutput(seed byte) *types.TxOutput {
	out := &types.TxOutput{}
	out.TargetKey[0] = seed
	out.Commitment[0] = seed + 1
	return out
}

func testSpend(seed byte, outputs ...*types.TxOutput) *types.Transaction {
	in := &types.TxInput{}
	in.KeyImage[0] = seed
	return &types.Transaction{
		Prefix: types.TxPrefix{
			Version: 1,
			Inputs:  []*types.TxInput{in},
			Outputs: outputs,
		},
	}
}

func genesisBlock(txs ...*types.Transaction) *types.Block {
	return &types.Block{
		Header: types.BlockHeader{
			Version:   1,
			PrevHash:  cryptoprim.GenesisPrevHash,
			Timestamp: 1000,
			Height:    0,
		},
		Transactions: txs,
	}
}

func childBlock(parent *types.Block, txs ...*types.Transaction) *types.Block {
	return &types.Block{
		Header: types.BlockHeader{
			Version:   1,
			PrevHash:  parent.Header.Hash(),
			Timestamp: parent.Header.Timestamp + 20,
			Height:    parent.Header.Height + 1,
		},
		Transactions: txs,
	}
}

func TestGenesisApply(t *testing.T) {
	s := openStore(t)

	_, _, ok := s.Tip()
	require.False(t, ok)

	// A genesis block without the sentinel prev-hash is rejected.
	bad := genesisBlock()
	bad.Header.PrevHash = types.Hash{}
	err := s.Apply(bad)
	require.ErrorIs(t, err, errkind.New(errkind.Structural, ""))

	genesis := genesisBlock(testSpend(1, testOutput(10)))
	require.NoError(t, s.Apply(genesis))

	height, hash, ok := s.Tip()
	require.True(t, ok)
	require.Equal(t, uint64(0), height)
	require.Equal(t, genesis.Header.Hash(), hash)
}

func TestMonotoneTip(t *testing.T) {
	s := openStore(t)

	genesis := genesisBlock(testSpend(1, testOutput(10)))
	require.NoError(t, s.Apply(genesis))

	parent := genesis
	for i := byte(0); i < 3; i++ {
		block := childBlock(parent, testSpend(20+i, testOutput(30+i)))
		require.NoError(t, s.Apply(block))

		height, hash, _ := s.Tip()
		require.Equal(t, parent.Header.Height+1, height)
		require.Equal(t, block.Header.Hash(), hash)
		parent = block
	}
}

func TestApplyRejectsWrongPlacement(t *testing.T) {
	s := openStore(t)

	genesis := genesisBlock(testSpend(1, testOutput(10)))
	require.NoError(t, s.Apply(genesis))

	// Re-applying the tip block fails: its prev-hash no longer matches.
	err := s.Apply(genesis)
	require.Error(t, err)

	// A block whose prev-hash is stale is classified Stale.
	wrongPrev := childBlock(genesis, testSpend(2, testOutput(11)))
	wrongPrev.Header.PrevHash = types.Hash{0xFF}
	err = s.Apply(wrongPrev)
	kind, ok := errkind.Of(err)
	require.True(t, ok)
	require.Equal(t, errkind.Stale, kind)

	// A height gap is structural.
	gap := childBlock(genesis, testSpend(3, testOutput(12)))
	gap.Header.Height = 5
	err = s.Apply(gap)
	kind, ok = errkind.Of(err)
	require.True(t, ok)
	require.Equal(t, errkind.Structural, kind)
}

func TestKeyImageUniquenessAcrossBlocks(t *testing.T) {
	s := openStore(t)

	genesis := genesisBlock(testSpend(7, testOutput(10)))
	require.NoError(t, s.Apply(genesis))

	spent, err := s.KeyImageExists(genesis.Transactions[0].Prefix.Inputs[0].KeyImage)
	require.NoError(t, err)
	require.True(t, spent)

	// A later block reusing key image 7 violates the all-time uniqueness
	// invariant and leaves no partial state behind.
	preHeight, preHash, _ := s.Tip()
	double := childBlock(genesis, testSpend(7, testOutput(11)))
	err = s.Apply(double)
	require.ErrorIs(t, err, errkind.ErrKeyImageCollision)

	height, hash, _ := s.Tip()
	require.Equal(t, preHeight, height)
	require.Equal(t, preHash, hash)

	present, err := s.Membership([]types.PublicKey{double.Transactions[0].Prefix.Outputs[0].TargetKey})
	require.NoError(t, err)
	require.False(t, present[double.Transactions[0].Prefix.Outputs[0].TargetKey])
}

func TestNoPartialApplyOnOutputCollision(t *testing.T) {
	s := openStore(t)

	genesis := genesisBlock(testSpend(1, testOutput(10)))
	require.NoError(t, s.Apply(genesis))

	// Output key 10 already exists; the new block's fresh key image 2 must
	// not survive the failed apply.
	collide := childBlock(genesis, testSpend(2, testOutput(10)))
	err := s.Apply(collide)
	require.ErrorIs(t, err, errkind.ErrOutputKeyCollision)

	spent, err := s.KeyImageExists(collide.Transactions[0].Prefix.Inputs[0].KeyImage)
	require.NoError(t, err)
	require.False(t, spent)

	height, _, _ := s.Tip()
	require.Equal(t, uint64(0), height)
}

func TestMembershipAndOutputLookup(t *testing.T) {
	s := openStore(t)

	out := testOutput(10)
	out.MaskedValue[0] = 0x5A
	genesis := genesisBlock(testSpend(1, out))
	require.NoError(t, s.Apply(genesis))

	present, err := s.Membership([]types.PublicKey{out.TargetKey, {0xEE}})
	require.NoError(t, err)
	require.True(t, present[out.TargetKey])
	require.False(t, present[types.PublicKey{0xEE}])

	stored, found, err := s.Output(out.TargetKey)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, out.Commitment, stored.Commitment)
	require.Equal(t, out.MaskedValue, stored.MaskedValue)
	require.Equal(t, uint64(0), stored.Height)
}

func TestRewardOutputInserted(t *testing.T) {
	s := openStore(t)

	genesis := genesisBlock(testSpend(1, testOutput(10)))
	require.NoError(t, s.Apply(genesis))

	block := childBlock(genesis)
	block.Attestation.TargetKey[0] = 0x77
	block.Attestation.Reward = 5000
	require.NoError(t, s.Apply(block))

	stored, found, err := s.Output(block.Attestation.TargetKey)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint64(1), stored.Height)

	// The reward commitment is recomputable from the cleartext amount.
	reward := RewardOutput(block)
	require.Equal(t, reward.Commitment, stored.Commitment)
}

func TestTransactionLocation(t *testing.T) {
	s := openStore(t)

	tx := testSpend(1, testOutput(10))
	genesis := genesisBlock(tx)
	require.NoError(t, s.Apply(genesis))

	height, offset, found, err := s.TransactionLocation(tx.Hash())
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint64(0), height)
	require.Equal(t, uint32(0), offset)

	_, _, found, err = s.TransactionLocation(types.Hash{0xAB})
	require.NoError(t, err)
	require.False(t, found)
}

func TestSampleOutputs(t *testing.T) {
	s := openStore(t)

	outs := []*types.TxOutput{testOutput(10), testOutput(20), testOutput(30)}
	genesis := genesisBlock(testSpend(1, outs...))
	require.NoError(t, s.Apply(genesis))

	members, err := s.SampleOutputs(10, nil)
	require.NoError(t, err)
	require.Len(t, members, 3)

	exclude := map[types.PublicKey]bool{outs[0].TargetKey: true}
	members, err = s.SampleOutputs(10, exclude)
	require.NoError(t, err)
	require.Len(t, members, 2)
	for _, m := range members {
		require.NotEqual(t, outs[0].TargetKey, m.TargetKey)
	}
}

func TestTipSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir)
	require.NoError(t, err)
	genesis := genesisBlock(testSpend(1, testOutput(10)))
	require.NoError(t, s.Apply(genesis))
	require.NoError(t, s.Close())

	reopened, err := Open(dir)
	require.NoError(t, err)
	defer reopened.Close()

	height, hash, ok := reopened.Tip()
	require.True(t, ok)
	require.Equal(t, uint64(0), height)
	require.Equal(t, genesis.Header.Hash(), hash)

	block, err := reopened.GetBlock(0)
	require.NoError(t, err)
	require.Equal(t, genesis.Header.Hash(), block.Header.Hash())
}
