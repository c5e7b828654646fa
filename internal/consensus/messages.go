package consensus

import (
	"encoding/binary"

	"golang.org/x/crypto/ed25519"

	"github.com/botho-project/botho/internal/types"
)

// Phase tags the kind of payload a Message carries, used both for dispatch
// and as part of the signed transcript: every signature covers the slot,
// the phase tag, and the payload fields.
type Phase uint8

const (
	PhaseNominate Phase = iota
	PhasePrepare
	PhaseCommit
)

func (p Phase) String() string {
	switch p {
	case PhaseNominate:
		return "nominate"
	case PhasePrepare:
		return "prepare"
	case PhaseCommit:
		return "commit"
	default:
		return "unknown"
	}
}

// Ballot is a (counter, value) pair; a nil-equivalent Value with Counter 0
// represents the absence of a ballot.
type Ballot struct {
	Counter uint32
	Value   types.ConsensusValue
}

// Message is one federated-voting protocol message for a single slot,
// signed by its sender. Accept
// distinguishes the two federated-voting levels in the ballot phases: a
// plain message votes for its ballot, an Accept message asserts the sender
// has accepted it (seen a blocking set accept or a quorum vote).
type Message struct {
	Slot      uint64
	Phase     Phase
	Sender    types.PublicKey
	Nominated []types.ConsensusValue // PhaseNominate: X (voted)
	Accepted  []types.ConsensusValue // PhaseNominate: Y (accepted)
	Ballot    Ballot                 // PhasePrepare / PhaseCommit: current ballot B
	Prepared  Ballot                 // PhasePrepare: highest accepted-prepared P
	CommitN   uint32                 // commit counter cn
	HighN     uint32                 // hn
	Accept    bool                   // ballot phases: acceptance assertion
	Signature types.Ed25519Signature
}

// signingTranscript builds the byte string a message's signature is
// computed over: slot, phase tag, and the payload fields.
func (m *Message) signingTranscript() []byte {
	buf := make([]byte, 0, 256)
	var slotBuf [8]byte
	binary.LittleEndian.PutUint64(slotBuf[:], m.Slot)
	buf = append(buf, slotBuf[:]...)
	buf = append(buf, byte(m.Phase))

	for _, v := range m.Nominated {
		buf = append(buf, v[:]...)
	}
	for _, v := range m.Accepted {
		buf = append(buf, v[:]...)
	}

	var counterBuf [4]byte
	binary.LittleEndian.PutUint32(counterBuf[:], m.Ballot.Counter)
	buf = append(buf, counterBuf[:]...)
	buf = append(buf, m.Ballot.Value[:]...)
	binary.LittleEndian.PutUint32(counterBuf[:], m.Prepared.Counter)
	buf = append(buf, counterBuf[:]...)
	buf = append(buf, m.Prepared.Value[:]...)
	binary.LittleEndian.PutUint32(counterBuf[:], m.CommitN)
	buf = append(buf, counterBuf[:]...)
	binary.LittleEndian.PutUint32(counterBuf[:], m.HighN)
	buf = append(buf, counterBuf[:]...)
	if m.Accept {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}

	return buf
}

// Sign fills in m.Sender and m.Signature using priv.
func (m *Message) Sign(priv ed25519.PrivateKey, sender types.PublicKey) {
	m.Sender = sender
	sig := ed25519.Sign(priv, m.signingTranscript())
	copy(m.Signature[:], sig)
}

// Verify checks the message's signature against its claimed sender.
// Unsigned or mis-signed messages are dropped without state change.
func (m *Message) Verify() bool {
	pub := ed25519.PublicKey(m.Sender[:])
	return ed25519.Verify(pub, m.signingTranscript(), m.Signature[:])
}
