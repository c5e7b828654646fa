package cryptoprim

import (
	"testing"

	"github.com/gtank/ristretto255"
	"github.com/stretchr/testify/require"

	"github.com/botho-project/botho/internal/types"
)

func commit(t *testing.T, value uint64, blinding *ristretto255.Scalar) types.Commitment {
	t.Helper()
	return EncodeCommitment(Commit(value, blinding))
}

func TestBalanceIdentityHolds(t *testing.T) {
	// Two inputs worth 600 and 400 cover outputs of 700 and 200 plus a fee
	// of 100; pseudo blindings sum to the output blinding sum.
	outBlind1, err := RandomBlindingFactor()
	require.NoError(t, err)
	outBlind2, err := RandomBlindingFactor()
	require.NoError(t, err)

	pseudoBlind1, err := RandomBlindingFactor()
	require.NoError(t, err)
	outSum := ristretto255.NewScalar().Add(outBlind1, outBlind2)
	pseudoBlind2 := ristretto255.NewScalar().Subtract(outSum, pseudoBlind1)

	pseudo := []types.Commitment{
		commit(t, 600, pseudoBlind1),
		commit(t, 400, pseudoBlind2),
	}
	outputs := []types.Commitment{
		commit(t, 700, outBlind1),
		commit(t, 200, outBlind2),
	}

	ok, err := VerifyBalance(pseudo, outputs, 100)
	require.NoError(t, err)
	require.True(t, ok)

	// A different fee breaks the curve identity exactly.
	ok, err = VerifyBalance(pseudo, outputs, 99)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestBalanceRejectsInflation(t *testing.T) {
	blind, err := RandomBlindingFactor()
	require.NoError(t, err)

	pseudo := []types.Commitment{commit(t, 100, blind)}
	outputs := []types.Commitment{commit(t, 200, blind)}

	ok, err := VerifyBalance(pseudo, outputs, 0)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCommitDeterministic(t *testing.T) {
	blind, err := RandomBlindingFactor()
	require.NoError(t, err)
	require.Equal(t, commit(t, 12345, blind), commit(t, 12345, blind))

	other, err := RandomBlindingFactor()
	require.NoError(t, err)
	require.NotEqual(t, commit(t, 12345, blind), commit(t, 12345, other))
}
