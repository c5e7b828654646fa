package blockbuilder_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/botho-project/botho/internal/blockbuilder"
	"github.com/botho-project/botho/internal/cryptoprim"
	"github.com/botho-project/botho/internal/errkind"
	"github.com/botho-project/botho/internal/testutil"
	"github.com/botho-project/botho/internal/types"
)

const (
	fundValue = 10_000_000_000
	sendValue = 1_000_000_000
	minFee    = 100_000_000
)

func TestMerkleRoot(t *testing.T) {
	empty := blockbuilder.MerkleRoot(nil)
	require.NotEqual(t, types.Hash{}, empty)

	tx := &types.Transaction{Prefix: types.TxPrefix{Version: 1, Fee: 1}}
	single := blockbuilder.MerkleRoot([]*types.Transaction{tx})
	require.Equal(t, tx.Hash(), single)

	tx2 := &types.Transaction{Prefix: types.TxPrefix{Version: 1, Fee: 2}}
	pair := blockbuilder.MerkleRoot([]*types.Transaction{tx, tx2})
	require.NotEqual(t, single, pair)

	// Order matters.
	swapped := blockbuilder.MerkleRoot([]*types.Transaction{tx2, tx})
	require.NotEqual(t, pair, swapped)

	// An odd count duplicates the trailing leaf deterministically.
	tx3 := &types.Transaction{Prefix: types.TxPrefix{Version: 1, Fee: 3}}
	odd := blockbuilder.MerkleRoot([]*types.Transaction{tx, tx2, tx3})
	require.Equal(t, odd, blockbuilder.MerkleRoot([]*types.Transaction{tx, tx2, tx3}))
}

func TestBlockRewardHalves(t *testing.T) {
	initial := blockbuilder.BlockReward(0)
	require.Equal(t, uint64(50_000_000_000_000), initial)
	require.Equal(t, initial, blockbuilder.BlockReward(2_099_999))
	require.Equal(t, initial/2, blockbuilder.BlockReward(2_100_000))
	require.Equal(t, uint64(0), blockbuilder.BlockReward(2_100_000*70))
}

func TestCandidateCache(t *testing.T) {
	cache := blockbuilder.NewCache(50 * time.Millisecond)

	att := types.MintingAttestation{Height: 1, Nonce: 7}
	cand := blockbuilder.NewCandidate(att, nil)
	cache.Put(cand)

	got, ok := cache.Get(cand.Value)
	require.True(t, ok)
	require.Equal(t, cand, got)

	time.Sleep(80 * time.Millisecond)
	cache.Prune()
	_, ok = cache.Get(cand.Value)
	require.False(t, ok)
}

// signedAttestation builds a fully valid attestation extending the chain's
// genesis: proof-of-work at the genesis difficulty, scheduled reward, Dilithium
// signature.
func signedAttestation(t *testing.T, chain *testutil.Chain, txs []*types.Transaction, now time.Time) types.MintingAttestation {
	t.Helper()
	pqPub, pqPriv, err := cryptoprim.PQGenerateKeyPair()
	require.NoError(t, err)

	var minterID types.PublicKey
	minterID[0] = 0x42

	att := types.MintingAttestation{
		Height:        1,
		Reward:        blockbuilder.BlockReward(1),
		MinterID:      minterID,
		PrevBlockHash: chain.Genesis.Header.Hash(),
		Difficulty:    chain.Genesis.Header.Difficulty,
		Timestamp:     now.Unix(),
		PQVerifyKey:   pqPub,
	}
	att.TargetKey[0] = 0x43

	for !cryptoprim.CheckProofOfWork(att.Nonce, att.PrevBlockHash, att.MinterID, att.Difficulty) {
		att.Nonce++
	}
	att.Signature = cryptoprim.PQSign(pqPriv, types.EncodeMintingAttestationUnsigned(&att))
	return att
}

func TestMaterializeBuildsBlock(t *testing.T) {
	chain := testutil.NewFundedChain(t, 25, fundValue)
	recipient := testutil.OtherWallet(t)
	tx := chain.BuildSpend(t, recipient.Address(), sendValue, minFee)

	now := time.Unix(testutil.GenesisTimestamp+30, 0)
	txs := []*types.Transaction{tx}
	att := signedAttestation(t, chain, txs, now)

	cache := blockbuilder.NewCache(time.Minute)
	cand := blockbuilder.NewCandidate(att, txs)
	cache.Put(cand)

	tip := blockbuilder.TipInfo{
		Height:     0,
		Hash:       chain.Genesis.Header.Hash(),
		Timestamp:  chain.Genesis.Header.Timestamp,
		Difficulty: chain.Genesis.Header.Difficulty,
	}

	block, err := blockbuilder.Materialize(cand.Value, cache, chain.Store, tip, now)
	require.NoError(t, err)

	require.Equal(t, uint64(1), block.Header.Height)
	require.Equal(t, tip.Hash, block.Header.PrevHash)
	require.Equal(t, blockbuilder.MerkleRoot(txs), block.Header.TxRoot)
	require.Equal(t, att.Nonce, block.Header.Nonce)
	require.Len(t, block.Transactions, 1)

	// The materialized block applies cleanly.
	require.NoError(t, chain.Store.Apply(block))
}

func TestMaterializeMissingCandidateIsStale(t *testing.T) {
	chain := testutil.NewFundedChain(t, 25, fundValue)
	cache := blockbuilder.NewCache(time.Minute)

	var value types.ConsensusValue
	value[0] = 0xFF
	_, err := blockbuilder.Materialize(value, cache, chain.Store, blockbuilder.TipInfo{}, time.Now())
	kind, ok := errkind.Of(err)
	require.True(t, ok)
	require.Equal(t, errkind.Stale, kind)
}

func TestMaterializeRejectsStaleTip(t *testing.T) {
	chain := testutil.NewFundedChain(t, 25, fundValue)
	now := time.Unix(testutil.GenesisTimestamp+30, 0)
	att := signedAttestation(t, chain, nil, now)

	cache := blockbuilder.NewCache(time.Minute)
	cand := blockbuilder.NewCandidate(att, nil)
	cache.Put(cand)

	// The ledger tip moved to a different hash since the attestation.
	tip := blockbuilder.TipInfo{Height: 0, Hash: types.Hash{0x99}, Timestamp: testutil.GenesisTimestamp}
	_, err := blockbuilder.Materialize(cand.Value, cache, chain.Store, tip, now)
	kind, ok := errkind.Of(err)
	require.True(t, ok)
	require.Equal(t, errkind.Stale, kind)
}

func TestMaterializeRejectsFutureTimestamp(t *testing.T) {
	chain := testutil.NewFundedChain(t, 25, fundValue)
	now := time.Unix(testutil.GenesisTimestamp+30, 0)
	att := signedAttestation(t, chain, nil, now.Add(time.Hour))

	cache := blockbuilder.NewCache(time.Minute)
	cand := blockbuilder.NewCandidate(att, nil)
	cache.Put(cand)

	tip := blockbuilder.TipInfo{
		Height:     0,
		Hash:       chain.Genesis.Header.Hash(),
		Timestamp:  chain.Genesis.Header.Timestamp,
		Difficulty: chain.Genesis.Header.Difficulty,
	}
	_, err := blockbuilder.Materialize(cand.Value, cache, chain.Store, tip, now)
	kind, ok := errkind.Of(err)
	require.True(t, ok)
	require.Equal(t, errkind.Structural, kind)
}
