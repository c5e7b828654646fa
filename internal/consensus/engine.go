// Package consensus implements the federated byzantine agreement state
// machine: an independent instance per slot, nominating,
// preparing, and committing over opaque consensus values until exactly one
// externalizes.
package consensus

import (
	"fmt"
	"sort"
	"sync"

	"golang.org/x/crypto/ed25519"

	"github.com/botho-project/botho/internal/types"
)

// SlotPhase is one of the four states a slot moves through, Externalized
// being terminal.
type SlotPhase int

const (
	Nominating SlotPhase = iota
	Preparing
	Committing
	Externalized
)

func (p SlotPhase) String() string {
	switch p {
	case Nominating:
		return "nominating"
	case Preparing:
		return "preparing"
	case Committing:
		return "committing"
	case Externalized:
		return "externalized"
	default:
		return "unknown"
	}
}

func ballotKey(b Ballot) string {
	return fmt.Sprintf("%d:%s", b.Counter, b.Value.String())
}

type slotState struct {
	phase SlotPhase

	voted              map[types.ConsensusValue]map[types.PublicKey]bool // nomination X, per peer
	accepted           map[types.ConsensusValue]map[types.PublicKey]bool // nomination Y, per peer
	confirmedNominated map[types.ConsensusValue]bool

	ballot        Ballot
	prepared      Ballot
	preparedPrime Ballot
	commitN       uint32
	highN         uint32

	preparedVotes    map[string]map[types.PublicKey]bool
	acceptedPrepared map[string]map[types.PublicKey]bool
	commitVotes      map[string]map[types.PublicKey]bool
	acceptedCommit   map[string]map[types.PublicKey]bool

	externalizedValue   types.ConsensusValue
	externalizedCounter uint32
}

func newSlotState() *slotState {
	return &slotState{
		phase:              Nominating,
		voted:              make(map[types.ConsensusValue]map[types.PublicKey]bool),
		accepted:           make(map[types.ConsensusValue]map[types.PublicKey]bool),
		confirmedNominated: make(map[types.ConsensusValue]bool),
		preparedVotes:      make(map[string]map[types.PublicKey]bool),
		acceptedPrepared:   make(map[string]map[types.PublicKey]bool),
		commitVotes:        make(map[string]map[types.PublicKey]bool),
		acceptedCommit:     make(map[string]map[types.PublicKey]bool),
	}
}

func record(m map[string]map[types.PublicKey]bool, key string, who types.PublicKey) {
	if m[key] == nil {
		m[key] = make(map[types.PublicKey]bool)
	}
	m[key][who] = true
}

// ExternalizeFunc is invoked exactly once per slot, when the state machine
// reaches the terminal Externalized phase.
type ExternalizeFunc func(slot uint64, value types.ConsensusValue, commitCounter uint32)

// Engine drives one federated byzantine agreement instance per slot. A
// single Engine instance is owned by the orchestrator task; its internal
// mutex serializes message handling.
type Engine struct {
	mu sync.Mutex

	selfID    types.PublicKey
	selfPriv  ed25519.PrivateKey
	quorumSet types.QuorumSet

	slots map[uint64]*slotState

	onExternalize ExternalizeFunc
}

// NewEngine creates an engine for a validator identity and its configured
// quorum set.
func NewEngine(selfID types.PublicKey, selfPriv ed25519.PrivateKey, quorumSet types.QuorumSet, onExternalize ExternalizeFunc) *Engine {
	return &Engine{
		selfID:        selfID,
		selfPriv:      selfPriv,
		quorumSet:     quorumSet,
		slots:         make(map[uint64]*slotState),
		onExternalize: onExternalize,
	}
}

func (e *Engine) slot(slotNum uint64) *slotState {
	s, ok := e.slots[slotNum]
	if !ok {
		s = newSlotState()
		e.slots[slotNum] = s
	}
	return s
}

// Nominate casts this node's own vote for a candidate value in a slot's
// nomination phase, broadcasts the resulting message via send, and runs
// the federated-voting evaluation so that a single-node quorum progresses
// without any inbound traffic.
func (e *Engine) Nominate(slotNum uint64, value types.ConsensusValue, send func(*Message)) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.slot(slotNum)
	if s.phase != Nominating {
		return
	}
	e.recordVote(s, value, e.selfID)

	msg := &Message{Slot: slotNum, Phase: PhaseNominate, Nominated: valuesOf(s.voted), Accepted: valuesOf(s.accepted)}
	msg.Sign(e.selfPriv, e.selfID)
	send(msg)

	e.progressNomination(slotNum, s, send)
}

func valuesOf(m map[types.ConsensusValue]map[types.PublicKey]bool) []types.ConsensusValue {
	out := make([]types.ConsensusValue, 0, len(m))
	for v := range m {
		out = append(out, v)
	}
	return out
}

// HandleMessage processes an inbound, already-delivered consensus message.
// The caller must have already checked the message is for a non-stale
// slot; HandleMessage verifies the signature and otherwise drops
// unsigned/mis-signed messages without any state change.
func (e *Engine) HandleMessage(msg *Message, send func(*Message)) {
	if !msg.Verify() {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.slot(msg.Slot)
	if s.phase == Externalized {
		return
	}

	switch msg.Phase {
	case PhaseNominate:
		e.handleNominate(msg, s, send)
	case PhasePrepare:
		e.handlePrepare(msg, s, send)
	case PhaseCommit:
		e.handleCommit(msg, s, send)
	}
}

func (e *Engine) recordVote(s *slotState, value types.ConsensusValue, voter types.PublicKey) {
	if s.voted[value] == nil {
		s.voted[value] = make(map[types.PublicKey]bool)
	}
	s.voted[value][voter] = true
}

func (e *Engine) recordAccept(s *slotState, value types.ConsensusValue, voter types.PublicKey) {
	if s.accepted[value] == nil {
		s.accepted[value] = make(map[types.PublicKey]bool)
	}
	s.accepted[value][voter] = true
}

func (e *Engine) handleNominate(msg *Message, s *slotState, send func(*Message)) {
	if s.phase != Nominating {
		return
	}

	for _, v := range msg.Nominated {
		e.recordVote(s, v, msg.Sender)
	}
	for _, v := range msg.Accepted {
		e.recordAccept(s, v, msg.Sender)
	}

	e.progressNomination(msg.Slot, s, send)
}

// progressNomination runs the nomination federated-voting rules: accept a
// candidate once a blocking set has voted or accepted it, or a quorum has
// voted for it; confirm on a quorum's acceptance; move to Preparing once
// anything is confirmed.
func (e *Engine) progressNomination(slotNum uint64, s *slotState, send func(*Message)) {
	changed := false
	for v, voters := range s.voted {
		if s.accepted[v] != nil && s.accepted[v][e.selfID] {
			continue
		}
		support := make(map[types.PublicKey]bool, len(voters)+len(s.accepted[v]))
		for who := range voters {
			support[who] = true
		}
		for who := range s.accepted[v] {
			support[who] = true
		}
		if isBlockingSet(support, e.quorumSet) || satisfiesQuorumSet(voters, e.quorumSet) {
			e.recordAccept(s, v, e.selfID)
			changed = true
		}
	}

	for v, accepters := range s.accepted {
		if s.confirmedNominated[v] {
			continue
		}
		if satisfiesQuorumSet(accepters, e.quorumSet) {
			s.confirmedNominated[v] = true
			changed = true
		}
	}

	if changed {
		reply := &Message{Slot: slotNum, Phase: PhaseNominate, Nominated: valuesOf(s.voted), Accepted: valuesOf(s.accepted)}
		reply.Sign(e.selfPriv, e.selfID)
		send(reply)
	}

	if len(s.confirmedNominated) > 0 {
		e.beginPreparing(slotNum, s, send)
	}
}

// beginPreparing selects the composite nominated value (the
// lexicographically greatest confirmed candidate) and moves the slot into
// its Preparing phase.
func (e *Engine) beginPreparing(slotNum uint64, s *slotState, send func(*Message)) {
	if s.phase != Nominating {
		return
	}
	values := make([]types.ConsensusValue, 0, len(s.confirmedNominated))
	for v := range s.confirmedNominated {
		values = append(values, v)
	}
	sort.Slice(values, func(i, j int) bool { return values[j].Less(values[i]) })

	s.phase = Preparing
	s.ballot = Ballot{Counter: 1, Value: values[0]}
	record(s.preparedVotes, ballotKey(s.ballot), e.selfID)

	msg := &Message{Slot: slotNum, Phase: PhasePrepare, Ballot: s.ballot, Prepared: s.prepared, CommitN: s.commitN, HighN: s.highN}
	msg.Sign(e.selfPriv, e.selfID)
	send(msg)

	e.progressPrepare(slotNum, s, s.ballot, send)
}

func (e *Engine) handlePrepare(msg *Message, s *slotState, send func(*Message)) {
	if s.phase != Preparing && s.phase != Committing {
		return
	}

	key := ballotKey(msg.Ballot)
	record(s.preparedVotes, key, msg.Sender)
	if msg.Accept {
		record(s.acceptedPrepared, key, msg.Sender)
	} else if s.acceptedPrepared[key] != nil && s.acceptedPrepared[key][e.selfID] {
		// A peer is still voting for a ballot this node already accepted:
		// re-announce the acceptance so late joiners can confirm.
		reply := &Message{Slot: msg.Slot, Phase: PhasePrepare, Ballot: msg.Ballot, Prepared: s.prepared,
			CommitN: s.commitN, HighN: s.highN, Accept: true}
		reply.Sign(e.selfPriv, e.selfID)
		send(reply)
	}

	e.progressPrepare(msg.Slot, s, msg.Ballot, send)
}

// progressPrepare runs the federated-voting rules for one prepare ballot:
// accept-prepared when a blocking set has accepted it or a quorum has
// voted for it, announcing the acceptance; confirm-prepared when a quorum
// has accepted, which opens the commit phase.
func (e *Engine) progressPrepare(slotNum uint64, s *slotState, ballot Ballot, send func(*Message)) {
	key := ballotKey(ballot)

	if s.acceptedPrepared[key] == nil || !s.acceptedPrepared[key][e.selfID] {
		if isBlockingSet(s.acceptedPrepared[key], e.quorumSet) || satisfiesQuorumSet(s.preparedVotes[key], e.quorumSet) {
			record(s.acceptedPrepared, key, e.selfID)
			if ballot.Counter > s.prepared.Counter {
				if s.prepared.Counter > 0 && s.prepared.Value != ballot.Value {
					s.preparedPrime = s.prepared
				}
				s.prepared = ballot
			}

			reply := &Message{Slot: slotNum, Phase: PhasePrepare, Ballot: ballot, Prepared: s.prepared,
				CommitN: s.commitN, HighN: s.highN, Accept: true}
			reply.Sign(e.selfPriv, e.selfID)
			send(reply)
		}
	}

	if satisfiesQuorumSet(s.acceptedPrepared[key], e.quorumSet) {
		if s.commitN == 0 || ballot.Counter < s.commitN {
			s.commitN = ballot.Counter
		}
		if ballot.Counter > s.highN {
			s.highN = ballot.Counter
		}
		e.beginCommitting(slotNum, s, send)
	}
}

func (e *Engine) beginCommitting(slotNum uint64, s *slotState, send func(*Message)) {
	if s.phase != Preparing {
		return
	}
	if s.commitN == 0 || s.commitN > s.highN {
		return
	}
	s.phase = Committing
	record(s.commitVotes, ballotKey(s.ballot), e.selfID)

	msg := &Message{Slot: slotNum, Phase: PhaseCommit, Ballot: s.ballot, CommitN: s.commitN, HighN: s.highN}
	msg.Sign(e.selfPriv, e.selfID)
	send(msg)

	e.progressCommit(slotNum, s, s.ballot, send)
}

func (e *Engine) handleCommit(msg *Message, s *slotState, send func(*Message)) {
	if s.phase != Preparing && s.phase != Committing {
		return
	}

	key := ballotKey(msg.Ballot)
	record(s.commitVotes, key, msg.Sender)
	if msg.Accept {
		record(s.acceptedCommit, key, msg.Sender)
	} else if s.acceptedCommit[key] != nil && s.acceptedCommit[key][e.selfID] {
		reply := &Message{Slot: msg.Slot, Phase: PhaseCommit, Ballot: msg.Ballot,
			CommitN: s.commitN, HighN: s.highN, Accept: true}
		reply.Sign(e.selfPriv, e.selfID)
		send(reply)
	}

	// Votes and accepts are recorded while still Preparing (a peer may be
	// a phase ahead), but this node only progresses them once Committing.
	if s.phase == Committing {
		e.progressCommit(msg.Slot, s, msg.Ballot, send)
	}
}

// progressCommit runs the federated-voting rules for one commit ballot:
// accept-committed on blocking-set acceptance or quorum votes, announcing
// it; confirm-committed (the terminal transition) on quorum acceptance.
func (e *Engine) progressCommit(slotNum uint64, s *slotState, ballot Ballot, send func(*Message)) {
	key := ballotKey(ballot)

	if s.acceptedCommit[key] == nil || !s.acceptedCommit[key][e.selfID] {
		if isBlockingSet(s.acceptedCommit[key], e.quorumSet) || satisfiesQuorumSet(s.commitVotes[key], e.quorumSet) {
			record(s.acceptedCommit, key, e.selfID)

			reply := &Message{Slot: slotNum, Phase: PhaseCommit, Ballot: ballot,
				CommitN: s.commitN, HighN: s.highN, Accept: true}
			reply.Sign(e.selfPriv, e.selfID)
			send(reply)
		}
	}

	if satisfiesQuorumSet(s.acceptedCommit[key], e.quorumSet) {
		s.phase = Externalized
		s.externalizedValue = ballot.Value
		s.externalizedCounter = ballot.Counter
		if e.onExternalize != nil {
			e.onExternalize(slotNum, s.externalizedValue, s.externalizedCounter)
		}
	}
}

// Externalized reports the externalized value and commit counter for a
// slot, if it has reached the terminal phase.
func (e *Engine) Externalized(slotNum uint64) (types.ConsensusValue, uint32, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.slots[slotNum]
	if !ok || s.phase != Externalized {
		return types.ConsensusValue{}, 0, false
	}
	return s.externalizedValue, s.externalizedCounter, true
}

// Phase reports a slot's current phase.
func (e *Engine) Phase(slotNum uint64) SlotPhase {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.slots[slotNum]
	if !ok {
		return Nominating
	}
	return s.phase
}

// RaiseBallotCounter advances the ballot counter on a timer firing without
// progress, and re-broadcasts a prepare message for the new ballot,
// retrying with the highest prepared value.
func (e *Engine) RaiseBallotCounter(slotNum uint64, send func(*Message)) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.slots[slotNum]
	if !ok || s.phase != Preparing {
		return
	}
	s.ballot.Counter++
	if s.prepared.Counter > 0 {
		s.ballot.Value = s.prepared.Value
	}
	record(s.preparedVotes, ballotKey(s.ballot), e.selfID)

	msg := &Message{Slot: slotNum, Phase: PhasePrepare, Ballot: s.ballot, Prepared: s.prepared, CommitN: s.commitN, HighN: s.highN}
	msg.Sign(e.selfPriv, e.selfID)
	send(msg)
}

// Cancel discards all state for a slot because the ledger tip has already
// advanced past it, or an explicit reset was requested.
func (e *Engine) Cancel(slotNum uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.slots, slotNum)
}

// QuorumSatisfiable reports whether enough validators are currently
// reachable to form a quorum for this node's quorum set, gating the
// minter's worker pool.
func (e *Engine) QuorumSatisfiable(reachable map[types.PublicKey]bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return satisfiesQuorumSet(reachable, e.quorumSet)
}

// QuorumsIntersect reports whether two nodes' quorum sets share a
// validator, the structural precondition agreement safety rests on.
func QuorumsIntersect(a, b types.QuorumSet) bool {
	return quorumsIntersect(a, b)
}
