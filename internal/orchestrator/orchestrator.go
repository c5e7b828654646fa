// Package orchestrator wires the validator, mempool, consensus engine,
// block builder, minter, and ledger into one event loop driving slot
// progression.
package orchestrator

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ed25519"

	"github.com/botho-project/botho/internal/blockbuilder"
	"github.com/botho-project/botho/internal/consensus"
	"github.com/botho-project/botho/internal/errkind"
	"github.com/botho-project/botho/internal/ledger"
	"github.com/botho-project/botho/internal/mempool"
	"github.com/botho-project/botho/internal/metrics"
	"github.com/botho-project/botho/internal/minter"
	"github.com/botho-project/botho/internal/network"
	"github.com/botho-project/botho/internal/nodeconfig"
	"github.com/botho-project/botho/internal/types"
	"github.com/botho-project/botho/internal/wallet"
)

// reachableWindow is how recently a validator must have spoken for the
// quorum-satisfiability gate to count it as reachable.
const reachableWindow = 30 * time.Second

// Limits a selected transfer set must respect.
const (
	maxBlockBytes     = 20 * 1024 * 1024
	maxBlockTransfers = 5000
)

type externalizedEvent struct {
	slot    uint64
	value   types.ConsensusValue
	counter uint32
}

// Orchestrator owns the node's single-threaded event loop: every
// cross-component interaction funnels through Run's select.
type Orchestrator struct {
	log     *zap.Logger
	cfg     *nodeconfig.Config
	store   *ledger.Store
	pool    *mempool.Pool
	engine  *consensus.Engine
	adapter network.Adapter
	cache   *blockbuilder.Cache
	met     *metrics.Set
	wallet  *wallet.Wallet // may be nil; scanned for owned outputs when set

	minterPool *minter.Pool // nil unless minting is enabled

	selfID types.PublicKey

	externalized chan externalizedEvent

	tip       blockbuilder.TipInfo
	hasTip    bool
	reachable map[types.PublicKey]time.Time

	slotRaises   int
	slotDeadline time.Time
}

// Options carries the collaborators New wires together.
type Options struct {
	Log        *zap.Logger
	Config     *nodeconfig.Config
	Store      *ledger.Store
	Pool       *mempool.Pool
	Adapter    network.Adapter
	Metrics    *metrics.Set
	Wallet     *wallet.Wallet
	MinterPool *minter.Pool

	SelfID    types.PublicKey
	SelfPriv  ed25519.PrivateKey
	QuorumSet types.QuorumSet
}

// New builds the orchestrator and its consensus engine. The engine's
// externalize callback only enqueues; all consequences run on the event
// loop goroutine.
func New(opts Options) (*Orchestrator, error) {
	o := &Orchestrator{
		log:          opts.Log,
		cfg:          opts.Config,
		store:        opts.Store,
		pool:         opts.Pool,
		adapter:      opts.Adapter,
		met:          opts.Metrics,
		wallet:       opts.Wallet,
		minterPool:   opts.MinterPool,
		selfID:       opts.SelfID,
		cache:        blockbuilder.NewCache(10 * time.Minute),
		externalized: make(chan externalizedEvent, 8),
		reachable:    make(map[types.PublicKey]time.Time),
	}

	o.engine = consensus.NewEngine(opts.SelfID, opts.SelfPriv, opts.QuorumSet,
		func(slot uint64, value types.ConsensusValue, counter uint32) {
			select {
			case o.externalized <- externalizedEvent{slot: slot, value: value, counter: counter}:
			default:
				o.log.Warn("externalize queue full, dropping slot", zap.Uint64("slot", slot))
			}
		})

	if err := o.reloadTip(); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *Orchestrator) reloadTip() error {
	height, hash, ok := o.store.Tip()
	if !ok {
		o.hasTip = false
		return nil
	}
	block, err := o.store.GetBlock(height)
	if err != nil {
		return err
	}
	o.tip = blockbuilder.TipInfo{
		Height:     height,
		Hash:       hash,
		Timestamp:  block.Header.Timestamp,
		Difficulty: block.Header.Difficulty,
	}
	o.hasTip = true
	return nil
}

// Engine exposes the consensus engine for RPC introspection.
func (o *Orchestrator) Engine() *consensus.Engine { return o.engine }

// Cache exposes the candidate cache; the minter's found candidates are
// stored here before nomination.
func (o *Orchestrator) Cache() *blockbuilder.Cache { return o.cache }

// Run drives the event loop until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var found <-chan minter.Found
	if o.minterPool != nil {
		found = o.minterPool.Found()
		o.refreshMinterWork()
	}
	o.resetSlotTimer()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-o.adapter.Events():
			if !ok {
				return errors.New("orchestrator: network adapter closed")
			}
			o.handleEvent(ev)

		case f := <-found:
			o.handleMinterHit(f)

		case ext := <-o.externalized:
			o.handleExternalized(ext)

		case <-ticker.C:
			o.handleTick()
		}
	}
}

// handleEvent pattern-matches the tagged network event variant.
func (o *Orchestrator) handleEvent(ev network.Event) {
	switch ev.Kind {
	case network.EventNewTransaction:
		o.handleInboundTx(ev.Transaction, ev.PeerID)
	case network.EventNewBlock:
		o.handleInboundBlock(ev.Block, ev.PeerID)
	case network.EventNewCompactBlock:
		o.handleCompactBlock(ev.Compact, ev.PeerID)
	case network.EventConsensusMessage:
		o.handleConsensus(ev.Consensus)
	case network.EventPeerDiscovered, network.EventPeerDisconnected:
		o.met.PeerCount.Set(float64(o.adapter.PeerCount()))
		o.updateQuorumGate()
	case network.EventSyncRequest:
		if ev.SyncReq != nil {
			o.handleSyncRequest(ev.SyncReq)
		}
		if len(ev.TxRequest) > 0 {
			o.handleTxRequest(ev.TxRequest)
		}
	case network.EventSyncResponse:
		if ev.SyncResp != nil {
			for _, block := range ev.SyncResp.Blocks {
				o.handleInboundBlock(block, ev.PeerID)
			}
		}
	}
}

// SubmitTransaction admits a locally-sourced transaction and gossips it on
// success; the classified error is surfaced to the caller.
func (o *Orchestrator) SubmitTransaction(tx *types.Transaction) error {
	if err := o.pool.Admit(tx, o.store, time.Now().Unix()); err != nil {
		if kind, ok := errkind.Of(err); ok {
			o.met.TxRejected.WithLabelValues(kind.String()).Inc()
		}
		return err
	}
	o.syncMempoolMetrics()
	if o.wallet != nil {
		for _, in := range tx.Prefix.Inputs {
			o.wallet.MarkSpent(in.KeyImage)
		}
	}
	return o.adapter.BroadcastTransaction(tx)
}

func (o *Orchestrator) handleInboundTx(tx *types.Transaction, peerID string) {
	if tx == nil {
		return
	}
	err := o.pool.Admit(tx, o.store, time.Now().Unix())
	if err == nil {
		o.syncMempoolMetrics()
		return
	}

	kind, _ := errkind.Of(err)
	o.met.TxRejected.WithLabelValues(kind.String()).Inc()
	switch kind {
	case errkind.Cryptographic:
		o.adapter.Penalize(peerID, network.PenaltyCryptographic)
		o.log.Debug("rejected gossiped transaction", zap.String("peer", peerID), zap.Error(err))
	case errkind.Conflict, errkind.Stale:
		// Gossiped conflicts are dropped silently.
	default:
		o.adapter.Penalize(peerID, network.PenaltyStructural)
		o.log.Debug("rejected gossiped transaction", zap.String("peer", peerID), zap.Error(err))
	}
}

func (o *Orchestrator) handleConsensus(payload []byte) {
	msg, err := consensus.DecodeMessage(payload)
	if err != nil {
		return
	}
	if o.hasTip && msg.Slot <= o.tip.Height {
		return
	}

	o.reachable[msg.Sender] = time.Now()
	o.updateQuorumGate()

	o.engine.HandleMessage(msg, o.sendConsensus)
}

func (o *Orchestrator) sendConsensus(m *consensus.Message) {
	if err := o.adapter.BroadcastConsensus(m.Encode()); err != nil {
		o.log.Warn("consensus broadcast failed", zap.Error(err))
	}
}

func (o *Orchestrator) handleMinterHit(f minter.Found) {
	cand := f.Candidate
	o.cache.Put(cand)
	o.engine.Nominate(cand.Attestation.Height, cand.Value, o.sendConsensus)
	o.log.Info("nominated minted candidate",
		zap.Uint64("height", cand.Attestation.Height),
		zap.String("value", cand.Value.String()))
}

func (o *Orchestrator) handleExternalized(ext externalizedEvent) {
	if !o.hasTip || ext.slot != o.tip.Height+1 {
		o.engine.Cancel(ext.slot)
		return
	}

	block, err := blockbuilder.Materialize(ext.value, o.cache, o.store, o.tip, time.Now())
	if err != nil {
		// The quorum agreed on a value this node cannot materialize:
		// abandon the slot and catch up over block sync.
		o.log.Warn("cannot materialize externalized value, falling back to sync",
			zap.Uint64("slot", ext.slot), zap.Error(err))
		if reqErr := o.adapter.RequestBlocks(ext.slot, 10); reqErr != nil {
			o.log.Warn("block sync request failed", zap.Error(reqErr))
		}
		return
	}

	if err := o.applyBlock(block); err != nil {
		o.log.Error("failed to apply externalized block", zap.Error(err))
		return
	}

	if err := o.adapter.BroadcastBlock(block); err != nil {
		o.log.Warn("block broadcast failed", zap.Error(err))
	}
	cb := &network.CompactBlock{Header: block.Header, Attestation: block.Attestation}
	for _, tx := range block.Transactions {
		cb.TxHashes = append(cb.TxHashes, tx.Hash())
	}
	if err := o.adapter.BroadcastCompactBlock(cb); err != nil {
		o.log.Warn("compact block broadcast failed", zap.Error(err))
	}
}

func (o *Orchestrator) handleInboundBlock(block *types.Block, peerID string) {
	if block == nil {
		return
	}
	if o.hasTip && block.Header.Height <= o.tip.Height {
		return
	}
	if o.hasTip && block.Header.Height > o.tip.Height+1 {
		// A gap: request the missing ancestors.
		count := block.Header.Height - o.tip.Height
		if count > 100 {
			count = 100
		}
		if err := o.adapter.RequestBlocks(o.tip.Height+1, uint32(count)); err != nil {
			o.log.Warn("ancestor request failed", zap.Error(err))
		}
		return
	}

	if err := o.validateFullBlock(block); err != nil {
		kind, _ := errkind.Of(err)
		if kind == errkind.Cryptographic {
			o.adapter.Penalize(peerID, network.PenaltyCryptographic)
		}
		o.log.Debug("rejected inbound block", zap.Uint64("height", block.Header.Height),
			zap.String("peer", peerID), zap.Error(err))
		return
	}

	if err := o.applyBlock(block); err != nil {
		o.log.Debug("inbound block did not apply", zap.Error(err))
	}
}

func (o *Orchestrator) handleCompactBlock(cb *network.CompactBlock, peerID string) {
	if cb == nil {
		return
	}
	if o.hasTip && cb.Header.Height <= o.tip.Height {
		return
	}

	txs := make([]*types.Transaction, 0, len(cb.TxHashes))
	var missing []types.Hash
	for _, h := range cb.TxHashes {
		if tx, ok := o.pool.Get(h); ok {
			txs = append(txs, tx)
		} else {
			missing = append(missing, h)
		}
	}
	if len(missing) > 0 {
		if err := o.adapter.RequestTransactions(missing); err != nil {
			o.log.Warn("transaction request failed", zap.Error(err))
		}
		return
	}

	block := &types.Block{Header: cb.Header, Attestation: cb.Attestation, Transactions: txs}
	o.handleInboundBlock(block, peerID)
}

func (o *Orchestrator) handleSyncRequest(req *network.SyncRequest) {
	count := req.Count
	if count > 100 {
		count = 100
	}
	resp := &network.SyncResponse{}
	for h := req.StartHeight; h < req.StartHeight+uint64(count); h++ {
		block, err := o.store.GetBlock(h)
		if err != nil {
			break
		}
		resp.Blocks = append(resp.Blocks, block)
	}
	if len(resp.Blocks) == 0 {
		return
	}
	if err := o.adapter.SendSyncResponse(resp); err != nil {
		o.log.Warn("sync response failed", zap.Error(err))
	}
}

func (o *Orchestrator) handleTxRequest(hashes []types.Hash) {
	for _, h := range hashes {
		if tx, ok := o.pool.Get(h); ok {
			if err := o.adapter.BroadcastTransaction(tx); err != nil {
				o.log.Warn("transaction rebroadcast failed", zap.Error(err))
			}
		}
	}
}

func (o *Orchestrator) handleTick() {
	o.cache.Prune()
	o.updateQuorumGate()
	o.syncMempoolMetrics()
	o.met.PeerCount.Set(float64(o.adapter.PeerCount()))
	if o.minterPool != nil {
		o.met.MinterHashes.Set(float64(o.minterPool.HashRate()))
	}

	// Ballot timers: without progress on the current slot, raise the
	// counter and retry with exponential backoff.
	if !o.hasTip {
		return
	}
	slot := o.tip.Height + 1
	if o.engine.Phase(slot) == consensus.Preparing && time.Now().After(o.slotDeadline) {
		o.engine.RaiseBallotCounter(slot, o.sendConsensus)
		o.slotRaises++
		o.slotDeadline = time.Now().Add(o.cfg.Consensus.TimerBase << uint(o.slotRaises))
	}
}

func (o *Orchestrator) resetSlotTimer() {
	o.slotRaises = 0
	o.slotDeadline = time.Now().Add(o.cfg.Consensus.TimerBase)
}
