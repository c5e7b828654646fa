package consensus

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ed25519"

	"github.com/botho-project/botho/internal/types"
)

type testNode struct {
	id     types.PublicKey
	priv   ed25519.PrivateKey
	engine *Engine

	externalized map[uint64]types.ConsensusValue
}

// testNet delivers messages through a FIFO queue, matching the
// orchestrator's asynchronous broadcast: a send enqueues for every OTHER
// node, and Pump drains until quiescent.
type testNet struct {
	t     *testing.T
	nodes []*testNode
	queue []queuedMsg
}

type queuedMsg struct {
	to  *testNode
	msg *Message
}

func newTestNode(t *testing.T) *testNode {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	n := &testNode{priv: priv, externalized: make(map[uint64]types.ConsensusValue)}
	copy(n.id[:], pub)
	return n
}

func newTestNet(t *testing.T, count, threshold int) *testNet {
	t.Helper()
	net := &testNet{t: t}
	for i := 0; i < count; i++ {
		net.nodes = append(net.nodes, newTestNode(t))
	}

	qs := types.QuorumSet{Threshold: threshold}
	for _, n := range net.nodes {
		qs.Validators = append(qs.Validators, n.id)
	}
	require.True(t, qs.Valid())

	for _, n := range net.nodes {
		node := n
		node.engine = NewEngine(node.id, node.priv, qs,
			func(slot uint64, value types.ConsensusValue, counter uint32) {
				_, dup := node.externalized[slot]
				require.False(t, dup, "slot %d externalized twice", slot)
				node.externalized[slot] = value
			})
	}
	return net
}

func (net *testNet) sendFrom(from *testNode) func(*Message) {
	return func(m *Message) {
		for _, n := range net.nodes {
			if n != from {
				net.queue = append(net.queue, queuedMsg{to: n, msg: m})
			}
		}
	}
}

// Pump delivers queued messages until the network is quiescent.
func (net *testNet) Pump() {
	for len(net.queue) > 0 {
		next := net.queue[0]
		net.queue = net.queue[1:]
		next.to.engine.HandleMessage(next.msg, net.sendFrom(next.to))
	}
}

func value(b byte) types.ConsensusValue {
	var v types.ConsensusValue
	v[0] = b
	return v
}

func TestSingleNodeQuorumExternalizes(t *testing.T) {
	net := newTestNet(t, 1, 1)
	node := net.nodes[0]

	node.engine.Nominate(5, value(1), net.sendFrom(node))

	got, counter, ok := node.engine.Externalized(5)
	require.True(t, ok)
	require.Equal(t, value(1), got)
	require.NotZero(t, counter)
}

func TestTwoNodesAgreeOnSameValue(t *testing.T) {
	net := newTestNet(t, 2, 2)
	a, b := net.nodes[0], net.nodes[1]

	a.engine.Nominate(1, value(7), net.sendFrom(a))
	b.engine.Nominate(1, value(7), net.sendFrom(b))
	net.Pump()

	va, ok := a.externalized[1]
	require.True(t, ok, "node a must externalize")
	vb, ok := b.externalized[1]
	require.True(t, ok, "node b must externalize")
	require.Equal(t, va, vb)
	require.Equal(t, value(7), va)
}

func TestCompetingNominationsConverge(t *testing.T) {
	// Scenario: two nodes propose distinct values simultaneously for the
	// same slot with full quorum intersection. Exactly one of the two is
	// externalized by both.
	net := newTestNet(t, 2, 2)
	a, b := net.nodes[0], net.nodes[1]

	a.engine.Nominate(3, value(10), net.sendFrom(a))
	b.engine.Nominate(3, value(20), net.sendFrom(b))
	net.Pump()

	va, ok := a.externalized[3]
	require.True(t, ok)
	vb, ok := b.externalized[3]
	require.True(t, ok)
	require.Equal(t, va, vb)
	require.Contains(t, []types.ConsensusValue{value(10), value(20)}, va)
}

func TestThreeNodesThresholdTwo(t *testing.T) {
	net := newTestNet(t, 3, 2)

	for _, n := range net.nodes {
		n.engine.Nominate(9, value(42), net.sendFrom(n))
	}
	net.Pump()

	for i, n := range net.nodes {
		v, ok := n.externalized[9]
		require.True(t, ok, "node %d must externalize", i)
		require.Equal(t, value(42), v)
	}
}

func TestMisSignedMessageDropped(t *testing.T) {
	net := newTestNet(t, 2, 2)
	a, b := net.nodes[0], net.nodes[1]

	msg := &Message{Slot: 1, Phase: PhaseNominate, Nominated: []types.ConsensusValue{value(1)}}
	msg.Sign(a.priv, a.id)
	msg.Nominated[0] = value(2) // invalidates the signature

	delivered := false
	b.engine.HandleMessage(msg, func(*Message) { delivered = true })
	require.False(t, delivered, "mis-signed message must cause no state change")
	require.Equal(t, Nominating, b.engine.Phase(1))
}

func TestExternalizedSlotIgnoresFurtherMessages(t *testing.T) {
	net := newTestNet(t, 1, 1)
	node := net.nodes[0]

	node.engine.Nominate(2, value(5), net.sendFrom(node))
	_, _, ok := node.engine.Externalized(2)
	require.True(t, ok)

	other := newTestNode(t)
	msg := &Message{Slot: 2, Phase: PhaseNominate, Nominated: []types.ConsensusValue{value(9)}}
	msg.Sign(other.priv, other.id)
	node.engine.HandleMessage(msg, net.sendFrom(node))

	got, _, _ := node.engine.Externalized(2)
	require.Equal(t, value(5), got)
}

func TestCancelFreesSlotState(t *testing.T) {
	net := newTestNet(t, 2, 2)
	a := net.nodes[0]

	a.engine.Nominate(4, value(1), net.sendFrom(a))
	require.Equal(t, Nominating, a.engine.Phase(4))

	a.engine.Cancel(4)
	require.Equal(t, Nominating, a.engine.Phase(4))
	_, _, ok := a.engine.Externalized(4)
	require.False(t, ok)
}

func TestRaiseBallotCounter(t *testing.T) {
	net := newTestNet(t, 2, 2)
	a, b := net.nodes[0], net.nodes[1]

	// Drive a into Preparing, but drop every message addressed to b so b
	// never answers and a stalls there.
	a.engine.Nominate(6, value(3), net.sendFrom(a))
	b.engine.Nominate(6, value(3), net.sendFrom(b))
	for len(net.queue) > 0 {
		next := net.queue[0]
		net.queue = net.queue[1:]
		if next.to == a {
			a.engine.HandleMessage(next.msg, net.sendFrom(a))
		}
	}
	if a.engine.Phase(6) == Externalized {
		t.Skip("slot completed without needing a ballot raise")
	}

	raised := false
	a.engine.RaiseBallotCounter(6, func(m *Message) {
		raised = true
		require.Greater(t, m.Ballot.Counter, uint32(1))
	})
	require.True(t, raised)
}

func TestQuorumSatisfiable(t *testing.T) {
	net := newTestNet(t, 3, 2)
	a := net.nodes[0]

	reachable := map[types.PublicKey]bool{a.id: true}
	require.False(t, a.engine.QuorumSatisfiable(reachable))

	reachable[net.nodes[1].id] = true
	require.True(t, a.engine.QuorumSatisfiable(reachable))
}

func TestQuorumsIntersect(t *testing.T) {
	n1, n2, n3 := newTestNode(t), newTestNode(t), newTestNode(t)

	qsA := types.QuorumSet{Threshold: 2, Validators: []types.PublicKey{n1.id, n2.id}}
	qsB := types.QuorumSet{Threshold: 2, Validators: []types.PublicKey{n2.id, n3.id}}
	require.True(t, QuorumsIntersect(qsA, qsB))

	qsC := types.QuorumSet{Threshold: 1, Validators: []types.PublicKey{n3.id}}
	require.False(t, QuorumsIntersect(qsA, qsC))
}

func TestBlockingSetDetection(t *testing.T) {
	n1, n2, n3 := newTestNode(t), newTestNode(t), newTestNode(t)
	qs := types.QuorumSet{Threshold: 2, Validators: []types.PublicKey{n1.id, n2.id, n3.id}}

	// Two of three leave fewer than threshold outside: blocking.
	require.True(t, isBlockingSet(map[types.PublicKey]bool{n1.id: true, n2.id: true}, qs))
	// One of three leaves two outside, enough to form a quorum without it.
	require.False(t, isBlockingSet(map[types.PublicKey]bool{n1.id: true}, qs))
}
