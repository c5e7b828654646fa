package consensus

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ed25519"

	"github.com/botho-project/botho/internal/types"
)

func TestMessageRoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	var sender types.PublicKey
	copy(sender[:], pub)

	var v1, v2 types.ConsensusValue
	v1[0], v2[63] = 0x11, 0x22

	msg := &Message{
		Slot:      42,
		Phase:     PhasePrepare,
		Nominated: []types.ConsensusValue{v1, v2},
		Accepted:  []types.ConsensusValue{v2},
		Ballot:    Ballot{Counter: 3, Value: v1},
		Prepared:  Ballot{Counter: 2, Value: v2},
		CommitN:   1,
		HighN:     3,
		Accept:    true,
	}
	msg.Sign(priv, sender)

	decoded, err := DecodeMessage(msg.Encode())
	require.NoError(t, err)
	require.Equal(t, msg, decoded)
	require.True(t, decoded.Verify())
}

func TestDecodeMessageRejectsTruncation(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	var sender types.PublicKey
	copy(sender[:], pub)

	msg := &Message{Slot: 1, Phase: PhaseNominate}
	msg.Sign(priv, sender)
	encoded := msg.Encode()

	for _, cut := range []int{0, 5, len(encoded) / 2, len(encoded) - 1} {
		_, err := DecodeMessage(encoded[:cut])
		require.Error(t, err, "truncation at %d must fail", cut)
	}
}

func TestTamperedFieldBreaksSignature(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	var sender types.PublicKey
	copy(sender[:], pub)

	msg := &Message{Slot: 9, Phase: PhaseCommit, Ballot: Ballot{Counter: 1}}
	msg.Sign(priv, sender)
	require.True(t, msg.Verify())

	msg.Accept = true
	require.False(t, msg.Verify(), "the accept flag is part of the signed transcript")
}
