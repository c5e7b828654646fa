package ledger

import (
	"encoding/binary"
	"fmt"

	"github.com/botho-project/botho/internal/types"
)

// encodeOutput and decodeOutput give a stored UTXO entry its own on-disk
// layout, distinct from the wire TxOutput encoding in internal/types: it
// additionally carries the inclusion height and omits the range proof,
// which is only needed once, at validation time.
func encodeOutput(o *types.Output) []byte {
	buf := make([]byte, 0, 32+32+1088+32+8+4+len(o.Memo)+8)
	buf = append(buf, o.TargetKey[:]...)
	buf = append(buf, o.EphemeralKey[:]...)
	buf = append(buf, o.KEMCipher[:]...)
	buf = append(buf, o.Commitment[:]...)
	buf = append(buf, o.MaskedValue[:]...)

	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(o.Memo)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, o.Memo...)

	var heightBuf [8]byte
	binary.LittleEndian.PutUint64(heightBuf[:], o.Height)
	buf = append(buf, heightBuf[:]...)
	return buf
}

func decodeOutput(b []byte) (*types.Output, error) {
	const fixed = 32 + 32 + 1088 + 32 + 8
	if len(b) < fixed+4 {
		return nil, fmt.Errorf("ledger: stored output record too short")
	}
	o := &types.Output{}
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

	memoLen := binary.LittleEndian.Uint32(b[off:])
	off += 4
	if len(b) < off+int(memoLen)+8 {
		return nil, fmt.Errorf("ledger: stored output record truncated")
	}
	o.Memo = append([]byte(nil), b[off:off+int(memoLen)]...)
	off += int(memoLen)

	o.Height = binary.LittleEndian.Uint64(b[off:])
	return o, nil
}
