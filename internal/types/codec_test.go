package types

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleTxInput(seed byte) *TxInput {
	in := &TxInput{}
	for i := 0; i < RingSize; i++ {
		in.Ring[i].TargetKey[0] = seed
		in.Ring[i].TargetKey[1] = byte(i)
		in.Ring[i].Commitment[0] = seed + 1
		in.Ring[i].Commitment[1] = byte(i)
	}
	in.PseudoCommitment[0] = seed + 2
	in.KeyImage[0] = seed + 3
	return in
}

func sampleTxOutput(seed byte) *TxOutput {
	out := &TxOutput{
		Memo:       []byte{seed, 1, 2, 3},
		RangeProof: RangeProof{seed, 9, 8, 7, 6},
	}
	out.TargetKey[0] = seed
	out.EphemeralKey[0] = seed + 1
	out.KEMCipher[0] = seed + 2
	out.KEMCipher[1087] = seed + 3
	out.Commitment[0] = seed + 4
	out.MaskedValue[0] = seed + 5
	return out
}

func sampleTransaction() *Transaction {
	tx := &Transaction{
		Prefix: TxPrefix{
			Version:   1,
			Inputs:    []*TxInput{sampleTxInput(10), sampleTxInput(40)},
			Outputs:   []*TxOutput{sampleTxOutput(70)},
			Fee:       100_000_000,
			Tombstone: 4242,
		},
	}
	tx.Signature.C0[0] = 0xAA
	tx.Signature.Responses = make([][RingSize]Scalar, 2)
	tx.Signature.CommitmentImages = make([]Commitment, 2)
	for i := range tx.Signature.Responses {
		for j := 0; j < RingSize; j++ {
			tx.Signature.Responses[i][j][0] = byte(i + 1)
			tx.Signature.Responses[i][j][1] = byte(j)
		}
		tx.Signature.CommitmentImages[i][0] = byte(0xB0 + i)
	}
	return tx
}

func sampleAttestation() *MintingAttestation {
	att := &MintingAttestation{
		Height:     7,
		Reward:     50_000_000_000_000,
		Difficulty: 0xFFFF,
		Nonce:      991,
		Timestamp:  1_700_000_123,
		Signature:  []byte{1, 2, 3, 4, 5},
	}
	att.MinterID[0] = 1
	att.TargetKey[0] = 2
	att.EphemeralKey[0] = 3
	att.KEMCipher[0] = 4
	att.PrevBlockHash[0] = 5
	att.PQVerifyKey[0] = 6
	att.PQVerifyKey[1951] = 7
	return att
}

func TestBlockHeaderRoundTrip(t *testing.T) {
	h := &BlockHeader{
		Version:    1,
		Timestamp:  1_700_000_000,
		Height:     12,
		Difficulty: 0xABCD,
		Nonce:      42,
	}
	h.PrevHash[0] = 0x11
	h.TxRoot[0] = 0x22
	h.MinterView[0] = 0x33
	h.MinterSpend[0] = 0x44

	encoded := EncodeBlockHeader(h)
	require.Len(t, encoded, BlockHeaderSize)

	decoded, err := DecodeBlockHeader(encoded)
	require.NoError(t, err)
	require.Equal(t, h, decoded)

	_, err = DecodeBlockHeader(encoded[:BlockHeaderSize-1])
	require.Error(t, err)
}

func TestHeaderWireLayout(t *testing.T) {
	h := &BlockHeader{Version: 0x01020304, Timestamp: 0x1122334455667788}
	encoded := EncodeBlockHeader(h)

	// version is little-endian at offset 0; timestamp at offset 68.
	require.Equal(t, uint32(0x01020304), binary.LittleEndian.Uint32(encoded[0:4]))
	require.Equal(t, uint64(0x1122334455667788), binary.LittleEndian.Uint64(encoded[68:76]))
}

func TestTransactionRoundTrip(t *testing.T) {
	tx := sampleTransaction()
	decoded, err := DecodeTransaction(EncodeTransaction(tx))
	require.NoError(t, err)
	require.Equal(t, tx, decoded)
	require.Equal(t, tx.Hash(), decoded.Hash())
}

func TestTxInputRejectsWrongRingSize(t *testing.T) {
	in := sampleTxInput(1)
	encoded := EncodeTxInput(in)

	for _, ringSize := range []uint32{19, 21} {
		tampered := make([]byte, len(encoded))
		copy(tampered, encoded)
		binary.LittleEndian.PutUint32(tampered, ringSize)
		_, _, err := DecodeTxInput(tampered)
		require.Error(t, err, "ring size %d must be rejected", ringSize)
	}

	decoded, n, err := DecodeTxInput(encoded)
	require.NoError(t, err)
	require.Equal(t, len(encoded), n)
	require.Equal(t, in, decoded)
}

func TestMintingAttestationRoundTrip(t *testing.T) {
	att := sampleAttestation()
	decoded, n, err := DecodeMintingAttestation(EncodeMintingAttestation(att))
	require.NoError(t, err)
	require.Equal(t, len(EncodeMintingAttestation(att)), n)
	require.Equal(t, att, decoded)

	// The unsigned encoding is a strict prefix excluding the signature.
	unsigned := EncodeMintingAttestationUnsigned(att)
	full := EncodeMintingAttestation(att)
	require.Equal(t, full[:len(full)-4-len(att.Signature)], unsigned)
}

func TestBlockRoundTrip(t *testing.T) {
	block := &Block{
		Header:       BlockHeader{Version: 1, Height: 3, Timestamp: 99, Difficulty: 5, Nonce: 6},
		Attestation:  *sampleAttestation(),
		Transactions: []*Transaction{sampleTransaction(), sampleTransaction()},
	}
	decoded, err := DecodeBlock(EncodeBlock(block))
	require.NoError(t, err)
	require.Equal(t, block, decoded)
}

func TestConsensusValueHalves(t *testing.T) {
	var attHash, txRoot Hash
	attHash[0] = 0xAA
	txRoot[0] = 0xBB

	v := NewConsensusValue(attHash, txRoot)
	require.Equal(t, attHash, v.AttestationHash())
	require.Equal(t, txRoot, v.TxRoot())
}

func TestConsensusValueOrdering(t *testing.T) {
	var a, b ConsensusValue
	b[63] = 1
	require.True(t, a.Less(b))
	require.False(t, b.Less(a))
	require.False(t, a.Less(a))
}

func TestQuorumSetValidity(t *testing.T) {
	var v1, v2 PublicKey
	v1[0], v2[0] = 1, 2

	valid := QuorumSet{Threshold: 2, Validators: []PublicKey{v1, v2}}
	require.True(t, valid.Valid())

	tooHigh := QuorumSet{Threshold: 3, Validators: []PublicKey{v1, v2}}
	require.False(t, tooHigh.Valid())

	nestedBad := QuorumSet{
		Threshold:  1,
		Validators: []PublicKey{v1},
		InnerSets:  []QuorumSet{{Threshold: 2, Validators: []PublicKey{v2}}},
	}
	require.False(t, nestedBad.Valid())
}
