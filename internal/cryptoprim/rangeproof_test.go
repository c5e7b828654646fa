package cryptoprim

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/botho-project/botho/internal/types"
)

func proveAndCommit(t *testing.T, value uint64) (types.Commitment, types.RangeProof) {
	t.Helper()
	blinding, err := RandomBlindingFactor()
	require.NoError(t, err)
	proof, err := ProveRange(value, blinding)
	require.NoError(t, err)
	return EncodeCommitment(Commit(value, blinding)), proof
}

func TestRangeProofRoundTrip(t *testing.T) {
	for _, value := range []uint64{0, 1, 255, 1_000_000_000_000, ^uint64(0)} {
		commitment, proof := proveAndCommit(t, value)
		ok, err := VerifyRangeProof([]types.Commitment{commitment}, proof)
		require.NoError(t, err)
		require.True(t, ok, "proof for value %d should verify", value)
	}
}

func TestRangeProofWrongCommitment(t *testing.T) {
	_, proof := proveAndCommit(t, 42)

	otherBlinding, err := RandomBlindingFactor()
	require.NoError(t, err)
	otherCommit := EncodeCommitment(Commit(42, otherBlinding))

	ok, err := VerifyRangeProof([]types.Commitment{otherCommit}, proof)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRangeProofTamperRejected(t *testing.T) {
	commitment, proof := proveAndCommit(t, 42)

	tampered := make(types.RangeProof, len(proof))
	copy(tampered, proof)
	tampered[40] ^= 0x01

	ok, err := VerifyRangeProof([]types.Commitment{commitment}, tampered)
	if err == nil {
		require.False(t, ok)
	}
}

func TestRangeProofStructuralErrors(t *testing.T) {
	commitment, proof := proveAndCommit(t, 7)

	_, err := VerifyRangeProof([]types.Commitment{commitment}, proof[:10])
	require.Error(t, err)

	_, err = VerifyRangeProof(nil, proof)
	require.Error(t, err)

	_, err = VerifyRangeProof([]types.Commitment{commitment, commitment}, proof)
	require.Error(t, err)
}
