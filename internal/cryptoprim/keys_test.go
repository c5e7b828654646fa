package cryptoprim

import (
	"testing"

	"github.com/gtank/ristretto255"
	"github.com/stretchr/testify/require"
)

func TestStealthOwnership(t *testing.T) {
	recipient, err := GenerateWalletKeys()
	require.NoError(t, err)
	stranger, err := GenerateWalletKeys()
	require.NoError(t, err)

	stealth, _, err := DeriveStealthOutput(
		EncodePublicKey(recipient.View.Public),
		EncodePublicKey(recipient.Spend.Public))
	require.NoError(t, err)

	mine, err := recipient.OwnsOutput(stealth.TargetKey, stealth.EphemeralKey)
	require.NoError(t, err)
	require.True(t, mine)

	theirs, err := stranger.OwnsOutput(stealth.TargetKey, stealth.EphemeralKey)
	require.NoError(t, err)
	require.False(t, theirs)
}

func TestDeriveSpendScalarMatchesTarget(t *testing.T) {
	recipient, err := GenerateWalletKeys()
	require.NoError(t, err)

	stealth, _, err := DeriveStealthOutput(
		EncodePublicKey(recipient.View.Public),
		EncodePublicKey(recipient.Spend.Public))
	require.NoError(t, err)

	oneTime, err := recipient.DeriveSpendScalar(stealth.EphemeralKey)
	require.NoError(t, err)

	derived := ristretto255.NewElement().ScalarMult(oneTime, ristretto255.NewElement().Base())
	require.Equal(t, stealth.TargetKey, EncodePublicKey(derived))
}

func TestKeyImageDeterministic(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	img1 := KeyImage(kp.Private, kp.PublicKey())
	img2 := KeyImage(kp.Private, kp.PublicKey())
	require.Equal(t, img1, img2)

	other, err := GenerateKeyPair()
	require.NoError(t, err)
	require.NotEqual(t, img1, KeyImage(other.Private, other.PublicKey()))
}
