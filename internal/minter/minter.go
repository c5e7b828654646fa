// Package minter couples proof-of-work search to consensus liveness: a
// pool of workers searches for a winning nonce only while this node's
// quorum set is satisfiable, restarting whenever the ledger tip advances.
package minter

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cloudflare/circl/sign/dilithium/mode3"

	"github.com/botho-project/botho/internal/blockbuilder"
	"github.com/botho-project/botho/internal/cryptoprim"
	"github.com/botho-project/botho/internal/types"
)

// Reward is a minting candidate's payout: the stealth output to credit and
// its amount, independent of whatever transfer transactions accompany it.
type Reward struct {
	TargetKey    types.PublicKey
	EphemeralKey types.PublicKey
	KEMCipher    types.KEMCiphertext
	Amount       uint64
}

// Work is one round's inputs: the parent the candidate extends, the
// current difficulty, and the transfer set selected from the mempool.
type Work struct {
	Height       uint64
	PrevHash     types.Hash
	Difficulty   uint64
	Transactions []*types.Transaction
	Reward       Reward
}

// Found is delivered once a worker discovers a winning nonce.
type Found struct {
	Candidate *blockbuilder.Candidate
}

// noncesPerCheck bounds how many attempts a worker makes between checks of
// its pause/restart signals, keeping restart latency low without paying a
// channel-select cost on every single hash attempt.
const noncesPerCheck = 4096

// Pool runs workerCount goroutines, each searching a disjoint nonce range,
// gated on a quorum-satisfiable signal so that proof-of-work is never
// wasted on a slot this node cannot help externalize.
type Pool struct {
	workerCount int
	minterID    types.PublicKey
	pqPriv      *mode3.PrivateKey
	pqPub       types.PQVerifyKey

	mu         sync.Mutex
	work       Work
	generation uint64
	gatedOpen  bool

	totalHashes uint64

	found chan Found
}

// NewPool creates a minter worker pool around the minter's Dilithium3
// attestation signing identity.
func NewPool(workerCount int, minterID types.PublicKey, pqPriv *mode3.PrivateKey, pqPub types.PQVerifyKey) *Pool {
	if workerCount < 1 {
		workerCount = 1
	}
	return &Pool{
		workerCount: workerCount,
		minterID:    minterID,
		pqPriv:      pqPriv,
		pqPub:       pqPub,
		found:       make(chan Found, workerCount),
	}
}

// Found returns the channel winning candidates are delivered on.
func (p *Pool) Found() <-chan Found { return p.found }

// SetWork installs the current round's inputs and bumps the generation
// counter, which causes every running worker to abandon its in-flight
// search and restart against the new parameters.
func (p *Pool) SetWork(w Work) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.work = w
	p.generation++
}

// SetGate opens or closes proof-of-work search. Closing the gate pauses
// every worker within one check interval without tearing down goroutines.
func (p *Pool) SetGate(open bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gatedOpen == open {
		return
	}
	p.gatedOpen = open
	p.generation++
}

func (p *Pool) snapshot() (Work, uint64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.work, p.generation, p.gatedOpen
}

// Run starts workerCount workers, each with a disjoint nonce stride, and
// blocks until ctx is cancelled.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(p.workerCount)
	for i := 0; i < p.workerCount; i++ {
		go func(offset uint64) {
			defer wg.Done()
			p.runWorker(ctx, offset, uint64(p.workerCount))
		}(uint64(i))
	}
	wg.Wait()
}

func (p *Pool) runWorker(ctx context.Context, offset, stride uint64) {
	work, generation, gated := p.snapshot()
	nonce := offset

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		curWork, curGen, curGated := p.snapshot()
		if curGen != generation {
			work, generation, gated = curWork, curGen, curGated
			nonce = offset
		}
		if !gated || (work.Height == 0 && work.PrevHash.IsZero()) {
			time.Sleep(50 * time.Millisecond)
			continue
		}

		for n := uint64(0); n < noncesPerCheck; n++ {
			if cryptoprim.CheckProofOfWork(nonce, work.PrevHash, p.minterID, work.Difficulty) {
				p.emitWin(work, nonce)
				nonce += stride
				break
			}
			nonce += stride
		}
		atomic.AddUint64(&p.totalHashes, noncesPerCheck)
	}
}

func (p *Pool) emitWin(work Work, nonce uint64) {
	att := types.MintingAttestation{
		Height:        work.Height,
		Reward:        work.Reward.Amount,
		MinterID:      p.minterID,
		TargetKey:     work.Reward.TargetKey,
		EphemeralKey:  work.Reward.EphemeralKey,
		KEMCipher:     work.Reward.KEMCipher,
		PrevBlockHash: work.PrevHash,
		Difficulty:    work.Difficulty,
		Nonce:         nonce,
		Timestamp:     time.Now().Unix(),
		PQVerifyKey:   p.pqPub,
	}
	att.Signature = cryptoprim.PQSign(p.pqPriv, types.EncodeMintingAttestationUnsigned(&att))

	cand := blockbuilder.NewCandidate(att, work.Transactions)
	select {
	case p.found <- Found{Candidate: cand}:
	default:
	}
}

// HashRate reports the approximate cumulative nonces attempted, for the
// minting hash-rate metric.
func (p *Pool) HashRate() uint64 {
	return atomic.LoadUint64(&p.totalHashes)
}
