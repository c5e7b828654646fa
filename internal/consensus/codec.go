package consensus

import (
	"encoding/binary"
	"fmt"

	"github.com/botho-project/botho/internal/types"
)

var errShortMessage = fmt.Errorf("consensus: message buffer too short")

func appendBallot(buf []byte, b Ballot) []byte {
	var counterBuf [4]byte
	binary.LittleEndian.PutUint32(counterBuf[:], b.Counter)
	buf = append(buf, counterBuf[:]...)
	buf = append(buf, b.Value[:]...)
	return buf
}

func readBallot(b []byte) (Ballot, int, error) {
	if len(b) < 4+64 {
		return Ballot{}, 0, errShortMessage
	}
	var ballot Ballot
	ballot.Counter = binary.LittleEndian.Uint32(b)
	copy(ballot.Value[:], b[4:68])
	return ballot, 68, nil
}

// Encode serializes a Message for network transport.
func (m *Message) Encode() []byte {
	buf := make([]byte, 0, 512)
	var slotBuf [8]byte
	binary.LittleEndian.PutUint64(slotBuf[:], m.Slot)
	buf = append(buf, slotBuf[:]...)
	buf = append(buf, byte(m.Phase))
	buf = append(buf, m.Sender[:]...)

	var countBuf [4]byte
	binary.LittleEndian.PutUint32(countBuf[:], uint32(len(m.Nominated)))
	buf = append(buf, countBuf[:]...)
	for _, v := range m.Nominated {
		buf = append(buf, v[:]...)
	}
	binary.LittleEndian.PutUint32(countBuf[:], uint32(len(m.Accepted)))
	buf = append(buf, countBuf[:]...)
	for _, v := range m.Accepted {
		buf = append(buf, v[:]...)
	}

	buf = appendBallot(buf, m.Ballot)
	buf = appendBallot(buf, m.Prepared)

	var u32 [4]byte
	binary.LittleEndian.PutUint32(u32[:], m.CommitN)
	buf = append(buf, u32[:]...)
	binary.LittleEndian.PutUint32(u32[:], m.HighN)
	buf = append(buf, u32[:]...)
	if m.Accept {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}

	buf = append(buf, m.Signature[:]...)
	return buf
}

// DecodeMessage is the inverse of Message.Encode.
func DecodeMessage(b []byte) (*Message, error) {
	const fixedHead = 8 + 1 + 32
	if len(b) < fixedHead+4 {
		return nil, errShortMessage
	}
	m := &Message{}
	off := 0
	m.Slot = binary.LittleEndian.Uint64(b[off:])
	off += 8
	m.Phase = Phase(b[off])
	off++
	copy(m.Sender[:], b[off:])
	off += 32

	numNominated := int(binary.LittleEndian.Uint32(b[off:]))
	off += 4
	if len(b) < off+numNominated*64 {
		return nil, errShortMessage
	}
	m.Nominated = make([]types.ConsensusValue, numNominated)
	for i := 0; i < numNominated; i++ {
		copy(m.Nominated[i][:], b[off:])
		off += 64
	}

	if len(b) < off+4 {
		return nil, errShortMessage
	}
	numAccepted := int(binary.LittleEndian.Uint32(b[off:]))
	off += 4
	if len(b) < off+numAccepted*64 {
		return nil, errShortMessage
	}
	m.Accepted = make([]types.ConsensusValue, numAccepted)
	for i := 0; i < numAccepted; i++ {
		copy(m.Accepted[i][:], b[off:])
		off += 64
	}

	ballot, n, err := readBallot(b[off:])
	if err != nil {
		return nil, err
	}
	m.Ballot = ballot
	off += n

	prepared, n, err := readBallot(b[off:])
	if err != nil {
		return nil, err
	}
	m.Prepared = prepared
	off += n

	if len(b) < off+8+1+64 {
		return nil, errShortMessage
	}
	m.CommitN = binary.LittleEndian.Uint32(b[off:])
	off += 4
	m.HighN = binary.LittleEndian.Uint32(b[off:])
	off += 4
	m.Accept = b[off] == 1
	off++
	copy(m.Signature[:], b[off:])

	return m, nil
}
