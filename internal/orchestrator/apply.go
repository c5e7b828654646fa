package orchestrator

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/botho-project/botho/internal/blockbuilder"
	"github.com/botho-project/botho/internal/cryptoprim"
	"github.com/botho-project/botho/internal/errkind"
	"github.com/botho-project/botho/internal/minter"
	"github.com/botho-project/botho/internal/types"
	"github.com/botho-project/botho/internal/validator"
)

// validateFullBlock runs the complete sync-path checks: the
// header's internal consistency with the attestation, the proof-of-work
// and post-quantum signature, the Merkle root, timestamp monotonicity, and
// every transfer transaction against the current (pre-apply) snapshot.
func (o *Orchestrator) validateFullBlock(block *types.Block) error {
	h := &block.Header
	att := &block.Attestation

	if att.PrevBlockHash != h.PrevHash || att.Height != h.Height ||
		att.Difficulty != h.Difficulty || att.Nonce != h.Nonce ||
		uint64(att.Timestamp) != h.Timestamp ||
		att.TargetKey != h.MinterView || att.EphemeralKey != h.MinterSpend {
		return errkind.New(errkind.Structural, "block header disagrees with its attestation")
	}
	if att.Reward != blockbuilder.BlockReward(h.Height) {
		return errkind.New(errkind.Structural, "attestation reward does not match schedule")
	}
	if len(block.Transactions) > maxBlockTransfers {
		return errkind.New(errkind.Structural, "block exceeds transfer count cap")
	}
	if len(types.EncodeBlock(block)) > maxBlockBytes {
		return errkind.New(errkind.Structural, "block exceeds size cap")
	}

	if !cryptoprim.CheckProofOfWork(h.Nonce, h.PrevHash, att.MinterID, h.Difficulty) {
		return errkind.New(errkind.Cryptographic, "block proof-of-work does not meet difficulty")
	}
	ok, err := cryptoprim.PQVerify(att.PQVerifyKey, types.EncodeMintingAttestationUnsigned(att), att.Signature)
	if err != nil || !ok {
		return errkind.New(errkind.Cryptographic, "attestation post-quantum signature invalid")
	}

	if blockbuilder.MerkleRoot(block.Transactions) != h.TxRoot {
		return errkind.New(errkind.Structural, "transaction merkle root mismatch")
	}
	if o.hasTip && h.Timestamp <= o.tip.Timestamp {
		return errkind.New(errkind.Structural, "block timestamp does not exceed parent timestamp")
	}

	for i, tx := range block.Transactions {
		if err := validator.Validate(tx, o.store); err != nil {
			return errkind.Wrap(errkind.Cryptographic,
				fmt.Sprintf("block transaction %d failed validation", i), err)
		}
	}
	return nil
}

// applyBlock commits a block to the ledger and fans the consequences out:
// mempool eviction, wallet scanning, minter restart, slot advancement. An
// invariant violation halts the node by propagating a fatal error to Run's
// caller via panic-free explicit return at the CLI layer.
func (o *Orchestrator) applyBlock(block *types.Block) error {
	start := time.Now()
	err := o.store.Apply(block)
	o.met.ApplyLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, errkind.ErrKeyImageCollision) || errors.Is(err, errkind.ErrOutputKeyCollision) {
			// Fatal by policy: halt rather than self-repair.
			o.log.Error("ledger invariant violation, halting", zap.Error(err))
			return err
		}
		return err
	}

	o.pool.NotifyApplied(block, block.Header.Height)
	o.syncMempoolMetrics()

	if o.wallet != nil {
		if err := o.wallet.ScanBlock(block); err != nil {
			o.log.Warn("wallet scan failed", zap.Error(err))
		}
	}

	o.engine.Cancel(block.Header.Height)
	o.tip = blockbuilder.TipInfo{
		Height:     block.Header.Height,
		Hash:       block.Header.Hash(),
		Timestamp:  block.Header.Timestamp,
		Difficulty: block.Header.Difficulty,
	}
	o.hasTip = true
	o.met.TipHeight.Set(float64(block.Header.Height))
	o.resetSlotTimer()
	o.refreshMinterWork()

	o.log.Info("applied block",
		zap.Uint64("height", block.Header.Height),
		zap.Int("transactions", len(block.Transactions)),
		zap.String("hash", o.tip.Hash.String()))
	return nil
}

// refreshMinterWork points the worker pool at the new tip: next height,
// fresh transfer selection, rolled-forward difficulty, and a stealth
// reward output to this node's own wallet.
func (o *Orchestrator) refreshMinterWork() {
	if o.minterPool == nil || !o.hasTip || o.wallet == nil {
		return
	}

	next := o.tip.Height + 1
	difficulty, err := o.nextDifficulty(next)
	if err != nil {
		o.log.Warn("difficulty rollforward failed", zap.Error(err))
		return
	}

	addr := o.wallet.Address()
	stealth, _, err := cryptoprim.DeriveStealthOutput(addr.View, addr.Spend)
	if err != nil {
		o.log.Warn("reward stealth derivation failed", zap.Error(err))
		return
	}
	kemCipher, _, err := cryptoprim.KyberEncapsulate(addr.KEMPublic)
	if err != nil {
		o.log.Warn("reward encapsulation failed", zap.Error(err))
		return
	}

	o.minterPool.SetWork(minter.Work{
		Height:       next,
		PrevHash:     o.tip.Hash,
		Difficulty:   difficulty,
		Transactions: o.pool.Select(maxBlockBytes, maxBlockTransfers),
		Reward: minter.Reward{
			TargetKey:    stealth.TargetKey,
			EphemeralKey: stealth.EphemeralKey,
			KEMCipher:    kemCipher,
			Amount:       blockbuilder.BlockReward(next),
		},
	})
}

// nextDifficulty rolls the difficulty forward per schedule: unchanged
// inside an epoch, retargeted at each epoch boundary from the epoch's
// actual elapsed time against its target.
func (o *Orchestrator) nextDifficulty(nextHeight uint64) (uint64, error) {
	epoch := o.cfg.Consensus.EpochBlocks
	if nextHeight == 0 || nextHeight%epoch != 0 || nextHeight < epoch {
		return o.tip.Difficulty, nil
	}

	startBlock, err := o.store.GetBlock(nextHeight - epoch)
	if err != nil {
		return 0, err
	}
	actual := int64(o.tip.Timestamp) - int64(startBlock.Header.Timestamp)
	target := int64(epoch) * int64(o.cfg.Consensus.TargetBlockInterval/time.Second)
	return cryptoprim.RetargetDifficulty(o.tip.Difficulty, actual, target), nil
}

// updateQuorumGate recomputes minter gating from the validators heard from
// recently; the node itself always counts.
func (o *Orchestrator) updateQuorumGate() {
	now := time.Now()
	active := make(map[types.PublicKey]bool, len(o.reachable)+1)
	active[o.selfID] = true
	for v, seen := range o.reachable {
		if now.Sub(seen) <= reachableWindow {
			active[v] = true
		}
	}

	open := o.engine.QuorumSatisfiable(active)
	if o.minterPool != nil {
		o.minterPool.SetGate(open)
	}
	if open {
		o.met.QuorumGate.Set(1)
	} else {
		o.met.QuorumGate.Set(0)
	}
}

func (o *Orchestrator) syncMempoolMetrics() {
	o.met.MempoolSize.Set(float64(o.pool.Size()))
	o.met.MempoolBytes.Set(float64(o.pool.TotalBytes()))
}

// Status is the snapshot the CLI `status` command prints.
type Status struct {
	Height      uint64 `json:"height"`
	TipHash     string `json:"tip_hash"`
	Peers       int    `json:"peers"`
	MempoolSize int    `json:"mempool_size"`
}

// Status reports the node's current tip, peer count, and mempool size.
func (o *Orchestrator) Status() Status {
	height, hash, _ := o.store.Tip()
	return Status{
		Height:      height,
		TipHash:     hash.String(),
		Peers:       o.adapter.PeerCount(),
		MempoolSize: o.pool.Size(),
	}
}
