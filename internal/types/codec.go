package types

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Wire layout constants.
const (
	BlockHeaderSize  = 164
	RingMemberSize   = 32 + 32 // target key + commitment
	TxInputFixedSize = 4 + RingSize*RingMemberSize + 32 + 32
)

var errShortBuffer = errors.New("types: buffer too short")

// --- BlockHeader ---

// EncodeBlockHeader writes the fixed 164-byte header layout:
// version(u32 LE) || prev_hash(32) || tx_root(32) || timestamp(u64 LE) ||
// height(u64 LE) || difficulty(u64 LE) || nonce(u64 LE) || minter_view(32)
// || minter_spend(32).
func EncodeBlockHeader(h *BlockHeader) []byte {
	buf := make([]byte, BlockHeaderSize)
	off := 0
	binary.LittleEndian.PutUint32(buf[off:], h.Version)
	off += 4
	copy(buf[off:], h.PrevHash[:])
	off += 32
	copy(buf[off:], h.TxRoot[:])
	off += 32
	binary.LittleEndian.PutUint64(buf[off:], h.Timestamp)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], h.Height)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], h.Difficulty)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], h.Nonce)
	off += 8
	copy(buf[off:], h.MinterView[:])
	off += 32
	copy(buf[off:], h.MinterSpend[:])
	off += 32
	return buf
}

// DecodeBlockHeader parses the fixed 164-byte header layout.
func DecodeBlockHeader(b []byte) (*BlockHeader, error) {
	if len(b) != BlockHeaderSize {
		return nil, fmt.Errorf("%w: header must be %d bytes, got %d", errShortBuffer, BlockHeaderSize, len(b))
	}
	h := &BlockHeader{}
	off := 0
	h.Version = binary.LittleEndian.Uint32(b[off:])
	off += 4
	copy(h.PrevHash[:], b[off:])
	off += 32
	copy(h.TxRoot[:], b[off:])
	off += 32
	h.Timestamp = binary.LittleEndian.Uint64(b[off:])
	off += 8
	h.Height = binary.LittleEndian.Uint64(b[off:])
	off += 8
	h.Difficulty = binary.LittleEndian.Uint64(b[off:])
	off += 8
	h.Nonce = binary.LittleEndian.Uint64(b[off:])
	off += 8
	copy(h.MinterView[:], b[off:])
	off += 32
	copy(h.MinterSpend[:], b[off:])
	off += 32
	return h, nil
}

// --- TxInput ---

func encodeRingMember(m RingMember) []byte {
	b := make([]byte, RingMemberSize)
	copy(b[:32], m.TargetKey[:])
	copy(b[32:], m.Commitment[:])
	return b
}

func decodeRingMember(b []byte) RingMember {
	var m RingMember
	copy(m.TargetKey[:], b[:32])
	copy(m.Commitment[:], b[32:64])
	return m
}

// EncodeTxInput writes ring_size(u32 LE)=20, the 20 ring members,
// pseudo-commitment(32), key image(32).
func EncodeTxInput(in *TxInput) []byte {
	buf := make([]byte, TxInputFixedSize)
	off := 0
	binary.LittleEndian.PutUint32(buf[off:], RingSize)
	off += 4
	for _, m := range in.Ring {
		copy(buf[off:], encodeRingMember(m))
		off += RingMemberSize
	}
	copy(buf[off:], in.PseudoCommitment[:])
	off += 32
	copy(buf[off:], in.KeyImage[:])
	off += 32
	return buf
}

// DecodeTxInput parses one encoded transaction input, rejecting any
// ring_size other than exactly RingSize.
func DecodeTxInput(b []byte) (*TxInput, int, error) {
	if len(b) < 4 {
		return nil, 0, errShortBuffer
	}
	ringSize := binary.LittleEndian.Uint32(b)
	if ringSize != RingSize {
		return nil, 0, fmt.Errorf("types: ring size must be %d, got %d", RingSize, ringSize)
	}
	if len(b) < TxInputFixedSize {
		return nil, 0, errShortBuffer
	}
	in := &TxInput{}
	off := 4
	for i := 0; i < RingSize; i++ {
		in.Ring[i] = decodeRingMember(b[off : off+RingMemberSize])
		off += RingMemberSize
	}
	copy(in.PseudoCommitment[:], b[off:off+32])
	off += 32
	copy(in.KeyImage[:], b[off:off+32])
	off += 32
	return in, off, nil
}

// --- TxOutput ---

func encodeTxOutput(o *TxOutput) []byte {
	buf := make([]byte, 0, 32+32+1088+32+8+4+len(o.Memo)+4+len(o.RangeProof))
	buf = append(buf, o.TargetKey[:]...)
	buf = append(buf, o.EphemeralKey[:]...)
	buf = append(buf, o.KEMCipher[:]...)
	buf = append(buf, o.Commitment[:]...)
	buf = append(buf, o.MaskedValue[:]...)
	buf = appendLenPrefixed(buf, o.Memo)
	buf = appendLenPrefixed(buf, o.RangeProof)
	return buf
}

func decodeTxOutput(b []byte) (*TxOutput, int, error) {
	const fixed = 32 + 32 + 1088 + 32 + 8
	if len(b) < fixed {
		return nil, 0, errShortBuffer
	}
	o := &TxOutput{}
	off := 0
	copy(o.TargetKey[:], b[off:])
	off += 32
	copy(o.EphemeralKey[:], b[off:])
	off += 32
	copy(o.KEMCipher[:], b[off:])
	off += 1088
	copy(o.Commitment[:], b[off:])
	off += 32
	copy(o.MaskedValue[:], b[off:])
	off += 8

	memo, n, err := readLenPrefixed(b[off:])
	if err != nil {
		return nil, 0, err
	}
	o.Memo = memo
	off += n

	rp, n, err := readLenPrefixed(b[off:])
	if err != nil {
		return nil, 0, err
	}
	o.RangeProof = RangeProof(rp)
	off += n

	return o, off, nil
}

func appendLenPrefixed(buf []byte, data []byte) []byte {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(data)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, data...)
	return buf
}

func readLenPrefixed(b []byte) ([]byte, int, error) {
	if len(b) < 4 {
		return nil, 0, errShortBuffer
	}
	n := binary.LittleEndian.Uint32(b)
	if len(b) < int(4+n) {
		return nil, 0, errShortBuffer
	}
	data := make([]byte, n)
	copy(data, b[4:4+n])
	return data, int(4 + n), nil
}

// --- TxPrefix / Transaction ---

// EncodeTxPrefix encodes a transaction's unsigned body: counts, the inputs,
// the outputs, the fee, and the tombstone height.
func EncodeTxPrefix(p *TxPrefix) []byte {
	buf := make([]byte, 0, 512)
	buf = append(buf, p.Version)
	var u32 [4]byte
	binary.LittleEndian.PutUint32(u32[:], uint32(len(p.Inputs)))
	buf = append(buf, u32[:]...)
	for _, in := range p.Inputs {
		buf = append(buf, EncodeTxInput(in)...)
	}
	binary.LittleEndian.PutUint32(u32[:], uint32(len(p.Outputs)))
	buf = append(buf, u32[:]...)
	for _, out := range p.Outputs {
		buf = append(buf, encodeTxOutput(out)...)
	}
	var u64 [8]byte
	binary.LittleEndian.PutUint64(u64[:], p.Fee)
	buf = append(buf, u64[:]...)
	binary.LittleEndian.PutUint64(u64[:], p.Tombstone)
	buf = append(buf, u64[:]...)
	return buf
}

// DecodeTxPrefix is the inverse of EncodeTxPrefix.
func DecodeTxPrefix(b []byte) (*TxPrefix, int, error) {
	if len(b) < 1+4 {
		return nil, 0, errShortBuffer
	}
	p := &TxPrefix{}
	off := 0
	p.Version = b[off]
	off++

	numInputs := binary.LittleEndian.Uint32(b[off:])
	off += 4
	p.Inputs = make([]*TxInput, numInputs)
	for i := range p.Inputs {
		in, n, err := DecodeTxInput(b[off:])
		if err != nil {
			return nil, 0, err
		}
		p.Inputs[i] = in
		off += n
	}

	if len(b) < off+4 {
		return nil, 0, errShortBuffer
	}
	numOutputs := binary.LittleEndian.Uint32(b[off:])
	off += 4
	p.Outputs = make([]*TxOutput, numOutputs)
	for i := range p.Outputs {
		out, n, err := decodeTxOutput(b[off:])
		if err != nil {
			return nil, 0, err
		}
		p.Outputs[i] = out
		off += n
	}

	if len(b) < off+16 {
		return nil, 0, errShortBuffer
	}
	p.Fee = binary.LittleEndian.Uint64(b[off:])
	off += 8
	p.Tombstone = binary.LittleEndian.Uint64(b[off:])
	off += 8

	return p, off, nil
}

// EncodeTransaction encodes the full transaction: prefix plus ring
// signature.
func EncodeTransaction(tx *Transaction) []byte {
	buf := EncodeTxPrefix(&tx.Prefix)
	buf = append(buf, tx.Signature.C0[:]...)
	var u32 [4]byte
	binary.LittleEndian.PutUint32(u32[:], uint32(len(tx.Signature.Responses)))
	buf = append(buf, u32[:]...)
	for _, resp := range tx.Signature.Responses {
		for _, s := range resp {
			buf = append(buf, s[:]...)
		}
	}
	for _, d := range tx.Signature.CommitmentImages {
		buf = append(buf, d[:]...)
	}
	return buf
}

// DecodeTransaction is the inverse of EncodeTransaction.
func DecodeTransaction(b []byte) (*Transaction, error) {
	prefix, off, err := DecodeTxPrefix(b)
	if err != nil {
		return nil, err
	}
	tx := &Transaction{Prefix: *prefix}

	if len(b) < off+32+4 {
		return nil, errShortBuffer
	}
	copy(tx.Signature.C0[:], b[off:])
	off += 32
	numResp := binary.LittleEndian.Uint32(b[off:])
	off += 4
	tx.Signature.Responses = make([][RingSize]Scalar, numResp)
	for i := range tx.Signature.Responses {
		for j := 0; j < RingSize; j++ {
			if len(b) < off+32 {
				return nil, errShortBuffer
			}
			copy(tx.Signature.Responses[i][j][:], b[off:])
			off += 32
		}
	}
	tx.Signature.CommitmentImages = make([]Commitment, numResp)
	for i := range tx.Signature.CommitmentImages {
		if len(b) < off+32 {
			return nil, errShortBuffer
		}
		copy(tx.Signature.CommitmentImages[i][:], b[off:])
		off += 32
	}
	return tx, nil
}

// --- MintingAttestation ---

// EncodeMintingAttestation encodes an attestation for hashing, signing, and
// wire transmission.
func EncodeMintingAttestation(a *MintingAttestation) []byte {
	buf := make([]byte, 0, 256+len(a.Signature))
	var u64 [8]byte
	binary.LittleEndian.PutUint64(u64[:], a.Height)
	buf = append(buf, u64[:]...)
	binary.LittleEndian.PutUint64(u64[:], a.Reward)
	buf = append(buf, u64[:]...)
	buf = append(buf, a.MinterID[:]...)
	buf = append(buf, a.TargetKey[:]...)
	buf = append(buf, a.EphemeralKey[:]...)
	buf = append(buf, a.KEMCipher[:]...)
	buf = append(buf, a.PrevBlockHash[:]...)
	binary.LittleEndian.PutUint64(u64[:], a.Difficulty)
	buf = append(buf, u64[:]...)
	binary.LittleEndian.PutUint64(u64[:], a.Nonce)
	buf = append(buf, u64[:]...)
	var i64 [8]byte
	binary.LittleEndian.PutUint64(i64[:], uint64(a.Timestamp))
	buf = append(buf, i64[:]...)
	buf = append(buf, a.PQVerifyKey[:]...)
	buf = appendLenPrefixed(buf, a.Signature)
	return buf
}

// EncodeMintingAttestationUnsigned encodes the attestation fields a
// signature is computed over, excluding the signature itself.
func EncodeMintingAttestationUnsigned(a *MintingAttestation) []byte {
	full := EncodeMintingAttestation(a)
	return full[:len(full)-4-len(a.Signature)]
}

// DecodeMintingAttestation is the inverse of EncodeMintingAttestation.
func DecodeMintingAttestation(b []byte) (*MintingAttestation, int, error) {
	const fixed = 8 + 8 + 32 + 32 + 32 + 1088 + 32 + 8 + 8 + 8 + 1952
	if len(b) < fixed+4 {
		return nil, 0, errShortBuffer
	}
	a := &MintingAttestation{}
	off := 0
	a.Height = binary.LittleEndian.Uint64(b[off:])
	off += 8
	a.Reward = binary.LittleEndian.Uint64(b[off:])
	off += 8
	copy(a.MinterID[:], b[off:])
	off += 32
	copy(a.TargetKey[:], b[off:])
	off += 32
	copy(a.EphemeralKey[:], b[off:])
	off += 32
	copy(a.KEMCipher[:], b[off:])
	off += 1088
	copy(a.PrevBlockHash[:], b[off:])
	off += 32
	a.Difficulty = binary.LittleEndian.Uint64(b[off:])
	off += 8
	a.Nonce = binary.LittleEndian.Uint64(b[off:])
	off += 8
	a.Timestamp = int64(binary.LittleEndian.Uint64(b[off:]))
	off += 8
	copy(a.PQVerifyKey[:], b[off:])
	off += 1952

	sig, n, err := readLenPrefixed(b[off:])
	if err != nil {
		return nil, 0, err
	}
	a.Signature = sig
	off += n

	return a, off, nil
}

// --- Block ---

// EncodeBlock writes the header, then a length-prefixed attestation, then a
// length-prefixed list of transactions.
func EncodeBlock(b *Block) []byte {
	out := make([]byte, 0, BlockHeaderSize+4096)
	out = append(out, EncodeBlockHeader(&b.Header)...)
	out = appendLenPrefixed(out, EncodeMintingAttestation(&b.Attestation))

	var u32 [4]byte
	binary.LittleEndian.PutUint32(u32[:], uint32(len(b.Transactions)))
	out = append(out, u32[:]...)
	for _, tx := range b.Transactions {
		out = appendLenPrefixed(out, EncodeTransaction(tx))
	}
	return out
}

// DecodeBlock is the inverse of EncodeBlock.
func DecodeBlock(raw []byte) (*Block, error) {
	if len(raw) < BlockHeaderSize {
		return nil, errShortBuffer
	}
	header, err := DecodeBlockHeader(raw[:BlockHeaderSize])
	if err != nil {
		return nil, err
	}
	off := BlockHeaderSize

	attBytes, n, err := readLenPrefixed(raw[off:])
	if err != nil {
		return nil, err
	}
	off += n
	attestation, _, err := DecodeMintingAttestation(attBytes)
	if err != nil {
		return nil, err
	}

	if len(raw) < off+4 {
		return nil, errShortBuffer
	}
	numTx := binary.LittleEndian.Uint32(raw[off:])
	off += 4

	txs := make([]*Transaction, numTx)
	for i := range txs {
		txBytes, n, err := readLenPrefixed(raw[off:])
		if err != nil {
			return nil, err
		}
		off += n
		tx, err := DecodeTransaction(txBytes)
		if err != nil {
			return nil, err
		}
		txs[i] = tx
	}

	return &Block{Header: *header, Attestation: *attestation, Transactions: txs}, nil
}
