package network

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"github.com/botho-project/botho/internal/types"
)

const (
	protocolID       = "/botho/1.0.0"
	topicBlocks      = "blocks"
	topicTx          = "transactions"
	topicConsensus   = "consensus"
	topicCompact     = "compact-blocks"
	topicSyncRequest = "sync-requests"
	topicSyncResp    = "sync-responses"

	peerTimeout = 5 * time.Minute

	// maxSyncResponseBytes is the protocol's 10 MiB response cap.
	maxSyncResponseBytes = 10 * 1024 * 1024
)

// wireTxRequest tags a transaction-hash request envelope; it shares the
// EventKind byte space but never surfaces as an Event kind of its own (it
// dispatches as EventSyncRequest with the hash list attached).
const wireTxRequest = EventKind(100)

// wireEnvelope tags every gossiped payload with its kind; one topic per
// event kind with one subscription goroutine each keeps the pubsub
// plumbing simple.
type wireEnvelope struct {
	kind EventKind
	body []byte
}

func encodeEnvelope(kind EventKind, body []byte) []byte {
	buf := make([]byte, 0, len(body)+1)
	buf = append(buf, byte(kind))
	buf = append(buf, body...)
	return buf
}

func decodeEnvelope(raw []byte) (wireEnvelope, error) {
	if len(raw) < 1 {
		return wireEnvelope{}, fmt.Errorf("network: empty envelope")
	}
	return wireEnvelope{kind: EventKind(raw[0]), body: raw[1:]}, nil
}

// LibP2PAdapter implements Adapter over go-libp2p and go-libp2p-pubsub's
// gossipsub: one topic per message kind, a goroutine draining each
// subscription, plus the compact-block and sync request/response topics.
type LibP2PAdapter struct {
	host   host.Host
	pubsub *pubsub.PubSub
	ctx    context.Context
	cancel context.CancelFunc
	log    *zap.Logger

	reputation *ReputationTracker
	events     chan Event

	blockTopic     *pubsub.Topic
	txTopic        *pubsub.Topic
	consensusTopic *pubsub.Topic
	compactTopic   *pubsub.Topic
	syncReqTopic   *pubsub.Topic
	syncRespTopic  *pubsub.Topic
}

// NewLibP2PAdapter creates and starts a gossipsub-backed adapter listening
// on listenPort, connecting to the given bootstrap peer multiaddresses.
func NewLibP2PAdapter(log *zap.Logger, listenPort int, bootstrapPeers []string) (*LibP2PAdapter, error) {
	ctx, cancel := context.WithCancel(context.Background())

	h, err := libp2p.New(libp2p.ListenAddrStrings(fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", listenPort)))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("network: create libp2p host: %w", err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		cancel()
		h.Close()
		return nil, fmt.Errorf("network: create gossipsub: %w", err)
	}

	a := &LibP2PAdapter{
		host:       h,
		pubsub:     ps,
		ctx:        ctx,
		cancel:     cancel,
		log:        log,
		reputation: NewReputationTracker(peerTimeout),
		events:     make(chan Event, 256),
	}

	if err := a.subscribeAll(); err != nil {
		a.Close(context.Background())
		return nil, err
	}

	for _, addrStr := range bootstrapPeers {
		if err := a.connect(addrStr); err != nil {
			log.Warn("bootstrap peer connect failed", zap.String("addr", addrStr), zap.Error(err))
		}
	}

	go a.manageStalePeers()

	return a, nil
}

func (a *LibP2PAdapter) subscribeAll() error {
	subs := []struct {
		topic string
		dst   **pubsub.Topic
	}{
		{topicBlocks, &a.blockTopic},
		{topicTx, &a.txTopic},
		{topicConsensus, &a.consensusTopic},
		{topicCompact, &a.compactTopic},
		{topicSyncRequest, &a.syncReqTopic},
		{topicSyncResp, &a.syncRespTopic},
	}

	for _, s := range subs {
		topic, err := a.pubsub.Join(s.topic)
		if err != nil {
			return fmt.Errorf("network: join topic %s: %w", s.topic, err)
		}
		*s.dst = topic

		sub, err := topic.Subscribe()
		if err != nil {
			return fmt.Errorf("network: subscribe topic %s: %w", s.topic, err)
		}
		go a.drain(sub)
	}
	return nil
}

func (a *LibP2PAdapter) drain(sub *pubsub.Subscription) {
	for {
		msg, err := sub.Next(a.ctx)
		if err != nil {
			if a.ctx.Err() != nil {
				return
			}
			a.log.Warn("subscription read failed", zap.Error(err))
			continue
		}
		if msg.ReceivedFrom == a.host.ID() {
			continue
		}

		peerID := msg.ReceivedFrom.String()
		if a.reputation.IsBanned(peerID) {
			continue
		}
		a.reputation.Touch(peerID)

		env, err := decodeEnvelope(msg.Data)
		if err != nil {
			a.reputation.Penalize(peerID, PenaltyStructural)
			continue
		}
		a.dispatch(peerID, env)
	}
}

func (a *LibP2PAdapter) dispatch(peerID string, env wireEnvelope) {
	switch env.kind {
	case EventNewTransaction:
		tx, err := types.DecodeTransaction(env.body)
		if err != nil {
			a.reputation.Penalize(peerID, PenaltyStructural)
			return
		}
		a.emit(Event{Kind: EventNewTransaction, Transaction: tx, PeerID: peerID})
	case EventNewBlock:
		block, err := types.DecodeBlock(env.body)
		if err != nil {
			a.reputation.Penalize(peerID, PenaltyStructural)
			return
		}
		a.emit(Event{Kind: EventNewBlock, Block: block, PeerID: peerID})
	case EventConsensusMessage:
		a.emit(Event{Kind: EventConsensusMessage, Consensus: env.body, PeerID: peerID})
	case EventNewCompactBlock:
		cb, err := decodeCompactBlock(env.body)
		if err != nil {
			a.reputation.Penalize(peerID, PenaltyStructural)
			return
		}
		a.emit(Event{Kind: EventNewCompactBlock, Compact: cb, PeerID: peerID})
	case EventSyncRequest:
		if len(env.body) < 12 {
			a.reputation.Penalize(peerID, PenaltyStructural)
			return
		}
		req := &SyncRequest{
			StartHeight: binary.LittleEndian.Uint64(env.body[:8]),
			Count:       binary.LittleEndian.Uint32(env.body[8:12]),
		}
		a.emit(Event{Kind: EventSyncRequest, SyncReq: req, PeerID: peerID})
	case EventSyncResponse:
		resp, err := decodeSyncResponse(env.body)
		if err != nil {
			a.reputation.Penalize(peerID, PenaltyStructural)
			return
		}
		a.emit(Event{Kind: EventSyncResponse, SyncResp: resp, PeerID: peerID})
	case wireTxRequest:
		if len(env.body)%32 != 0 {
			a.reputation.Penalize(peerID, PenaltyStructural)
			return
		}
		hashes := make([]types.Hash, len(env.body)/32)
		for i := range hashes {
			copy(hashes[i][:], env.body[i*32:])
		}
		a.emit(Event{Kind: EventSyncRequest, TxRequest: hashes, PeerID: peerID})
	}
}

func (a *LibP2PAdapter) emit(ev Event) {
	select {
	case a.events <- ev:
	case <-a.ctx.Done():
	}
}

func (a *LibP2PAdapter) manageStalePeers() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			for _, id := range a.reputation.Stale() {
				a.reputation.Forget(id)
			}
		case <-a.ctx.Done():
			return
		}
	}
}

func (a *LibP2PAdapter) connect(addrStr string) error {
	addr, err := multiaddr.NewMultiaddr(addrStr)
	if err != nil {
		return err
	}
	info, err := peer.AddrInfoFromP2pAddr(addr)
	if err != nil {
		return err
	}
	return a.host.Connect(a.ctx, *info)
}

// BroadcastTransaction publishes a transfer transaction to the tx topic.
func (a *LibP2PAdapter) BroadcastTransaction(tx *types.Transaction) error {
	return a.txTopic.Publish(a.ctx, encodeEnvelope(EventNewTransaction, types.EncodeTransaction(tx)))
}

// BroadcastBlock publishes a full block to the block topic.
func (a *LibP2PAdapter) BroadcastBlock(block *types.Block) error {
	return a.blockTopic.Publish(a.ctx, encodeEnvelope(EventNewBlock, types.EncodeBlock(block)))
}

// encodeCompactBlock lays out a compact block as header || len-prefixed
// attestation || tx hash count (u32 LE) || hashes, mirroring the
// length-prefixing convention types.EncodeBlock uses for full blocks.
func encodeCompactBlock(cb *CompactBlock) []byte {
	var buf bytes.Buffer
	buf.Write(types.EncodeBlockHeader(&cb.Header))
	attBytes := types.EncodeMintingAttestation(&cb.Attestation)
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(attBytes)))
	buf.Write(lenBuf[:])
	buf.Write(attBytes)
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(cb.TxHashes)))
	buf.Write(lenBuf[:])
	for _, h := range cb.TxHashes {
		buf.Write(h[:])
	}
	return buf.Bytes()
}

func decodeCompactBlock(b []byte) (*CompactBlock, error) {
	if len(b) < types.BlockHeaderSize {
		return nil, fmt.Errorf("network: compact block too short")
	}
	header, err := types.DecodeBlockHeader(b[:types.BlockHeaderSize])
	if err != nil {
		return nil, err
	}
	off := types.BlockHeaderSize

	if len(b) < off+4 {
		return nil, fmt.Errorf("network: compact block missing attestation length")
	}
	attLen := int(binary.LittleEndian.Uint32(b[off:]))
	off += 4
	if len(b) < off+attLen {
		return nil, fmt.Errorf("network: compact block attestation truncated")
	}
	attestation, _, err := types.DecodeMintingAttestation(b[off : off+attLen])
	if err != nil {
		return nil, err
	}
	off += attLen

	if len(b) < off+4 {
		return nil, fmt.Errorf("network: compact block missing hash count")
	}
	count := int(binary.LittleEndian.Uint32(b[off:]))
	off += 4

	hashes := make([]types.Hash, count)
	for i := 0; i < count; i++ {
		if len(b) < off+32 {
			return nil, fmt.Errorf("network: compact block hash list truncated")
		}
		copy(hashes[i][:], b[off:])
		off += 32
	}

	return &CompactBlock{Header: *header, Attestation: *attestation, TxHashes: hashes}, nil
}

// BroadcastCompactBlock publishes a compact block summary.
func (a *LibP2PAdapter) BroadcastCompactBlock(cb *CompactBlock) error {
	return a.compactTopic.Publish(a.ctx, encodeEnvelope(EventNewCompactBlock, encodeCompactBlock(cb)))
}

// BroadcastConsensus publishes an opaque consensus message envelope.
func (a *LibP2PAdapter) BroadcastConsensus(payload []byte) error {
	return a.consensusTopic.Publish(a.ctx, encodeEnvelope(EventConsensusMessage, payload))
}

// RequestTransactions asks connected peers for the given transaction
// hashes, enforcing the protocol's 1 KiB request size limit.
func (a *LibP2PAdapter) RequestTransactions(hashes []types.Hash) error {
	buf := make([]byte, 0, len(hashes)*32)
	for _, h := range hashes {
		buf = append(buf, h[:]...)
	}
	if len(buf) > 1024 {
		return fmt.Errorf("network: transaction request exceeds 1 KiB limit")
	}
	return a.txTopic.Publish(a.ctx, encodeEnvelope(wireTxRequest, buf))
}

// RequestBlocks asks peers for up to count blocks starting at start.
func (a *LibP2PAdapter) RequestBlocks(start uint64, count uint32) error {
	if count > 100 {
		return fmt.Errorf("network: request_blocks count %d exceeds 100", count)
	}
	buf := make([]byte, 12)
	binary.LittleEndian.PutUint64(buf[:8], start)
	binary.LittleEndian.PutUint32(buf[8:], count)
	return a.syncReqTopic.Publish(a.ctx, encodeEnvelope(EventSyncRequest, buf))
}

func encodeSyncResponse(resp *SyncResponse) []byte {
	var buf bytes.Buffer
	var u32 [4]byte
	binary.LittleEndian.PutUint32(u32[:], uint32(len(resp.Blocks)))
	buf.Write(u32[:])
	for _, b := range resp.Blocks {
		encoded := types.EncodeBlock(b)
		binary.LittleEndian.PutUint32(u32[:], uint32(len(encoded)))
		buf.Write(u32[:])
		buf.Write(encoded)
	}
	return buf.Bytes()
}

func decodeSyncResponse(b []byte) (*SyncResponse, error) {
	if len(b) > maxSyncResponseBytes {
		return nil, fmt.Errorf("network: sync response exceeds 10 MiB limit")
	}
	if len(b) < 4 {
		return nil, fmt.Errorf("network: sync response too short")
	}
	count := int(binary.LittleEndian.Uint32(b))
	off := 4
	resp := &SyncResponse{Blocks: make([]*types.Block, 0, count)}
	for i := 0; i < count; i++ {
		if len(b) < off+4 {
			return nil, fmt.Errorf("network: sync response truncated")
		}
		blockLen := int(binary.LittleEndian.Uint32(b[off:]))
		off += 4
		if len(b) < off+blockLen {
			return nil, fmt.Errorf("network: sync response block truncated")
		}
		block, err := types.DecodeBlock(b[off : off+blockLen])
		if err != nil {
			return nil, err
		}
		resp.Blocks = append(resp.Blocks, block)
		off += blockLen
	}
	return resp, nil
}

// SendSyncResponse publishes blocks answering a peer's sync request,
// enforcing the 10 MiB response cap.
func (a *LibP2PAdapter) SendSyncResponse(resp *SyncResponse) error {
	encoded := encodeSyncResponse(resp)
	if len(encoded) > maxSyncResponseBytes {
		return fmt.Errorf("network: sync response exceeds 10 MiB limit")
	}
	return a.syncRespTopic.Publish(a.ctx, encodeEnvelope(EventSyncResponse, encoded))
}

// Penalize decrements a peer's reputation score.
func (a *LibP2PAdapter) Penalize(peerID string, amount int) {
	a.reputation.Penalize(peerID, amount)
}

// Events returns the adapter's inbound event channel.
func (a *LibP2PAdapter) Events() <-chan Event { return a.events }

// PeerCount reports the number of connected peers.
func (a *LibP2PAdapter) PeerCount() int {
	return len(a.host.Network().Peers())
}

// Close cancels background goroutines and closes the libp2p host.
func (a *LibP2PAdapter) Close(ctx context.Context) error {
	a.cancel()
	return a.host.Close()
}
