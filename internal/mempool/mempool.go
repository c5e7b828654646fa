// Package mempool holds validated, pending transfer transactions ordered
// by priority for block selection.
package mempool

import (
	"bytes"
	"sort"
	"sync"

	"github.com/botho-project/botho/internal/errkind"
	"github.com/botho-project/botho/internal/types"
	"github.com/botho-project/botho/internal/validator"
)

type entry struct {
	tx         *types.Transaction
	admittedAt int64
	feePerByte uint64
	hash       types.Hash
}

// Pool is the single-writer mempool: admission, selection, and
// post-application eviction all serialize through its mutex.
type Pool struct {
	maxBytes int
	maxCount int

	mu         sync.Mutex
	byHash     map[types.Hash]*entry
	byKeyImage map[types.KeyImage]types.Hash
	totalBytes int
}

// New creates an empty pool bounded by maxBytes total encoded size and
// maxCount total transaction count.
func New(maxBytes, maxCount int) *Pool {
	return &Pool{
		maxBytes:   maxBytes,
		maxCount:   maxCount,
		byHash:     make(map[types.Hash]*entry),
		byKeyImage: make(map[types.KeyImage]types.Hash),
	}
}

// Admit validates tx against snap, then inserts it, evicting any
// lower-priority transaction sharing one of its key images. Admission is
// atomic: on any rejection no state changes.
func (p *Pool) Admit(tx *types.Transaction, snap validator.Snapshot, now int64) error {
	if err := validator.Validate(tx, snap); err != nil {
		return err
	}

	hash := tx.Hash()

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.byHash[hash]; exists {
		return errkind.ErrDuplicateTx
	}

	candidate := &entry{
		tx:         tx,
		admittedAt: now,
		feePerByte: tx.FeePerByte(),
		hash:       hash,
	}

	conflicts := make(map[types.Hash]*entry)
	for _, in := range tx.Prefix.Inputs {
		if existingHash, claimed := p.byKeyImage[in.KeyImage]; claimed {
			existing := p.byHash[existingHash]
			if !higherPriority(candidate, existing) {
				return errkind.ErrConflictingKeyImage
			}
			conflicts[existingHash] = existing
		}
	}

	for h := range conflicts {
		p.removeLocked(h)
	}

	p.insertLocked(candidate)
	p.enforceCapsLocked()
	return nil
}

// higherPriority reports whether a outranks b: higher fee-per-byte wins,
// ties broken by hash lexicographic order.
func higherPriority(a, b *entry) bool {
	if a.feePerByte != b.feePerByte {
		return a.feePerByte > b.feePerByte
	}
	return bytes.Compare(a.hash[:], b.hash[:]) < 0
}

// ranksAbove is the pool's priority order for selection and cap eviction:
// higher fee-per-byte first, then earlier admission, then hash order.
func ranksAbove(a, b *entry) bool {
	if a.feePerByte == b.feePerByte && a.admittedAt != b.admittedAt {
		return a.admittedAt < b.admittedAt
	}
	return higherPriority(a, b)
}

func (p *Pool) insertLocked(e *entry) {
	p.byHash[e.hash] = e
	for _, in := range e.tx.Prefix.Inputs {
		p.byKeyImage[in.KeyImage] = e.hash
	}
	p.totalBytes += e.tx.EncodedSize()
}

func (p *Pool) removeLocked(hash types.Hash) {
	e, ok := p.byHash[hash]
	if !ok {
		return
	}
	delete(p.byHash, hash)
	for _, in := range e.tx.Prefix.Inputs {
		if p.byKeyImage[in.KeyImage] == hash {
			delete(p.byKeyImage, in.KeyImage)
		}
	}
	p.totalBytes -= e.tx.EncodedSize()
}

// enforceCapsLocked evicts lowest-priority entries until both the byte and
// count caps are satisfied.
func (p *Pool) enforceCapsLocked() {
	for (p.maxBytes > 0 && p.totalBytes > p.maxBytes) || (p.maxCount > 0 && len(p.byHash) > p.maxCount) {
		var worst *entry
		for _, e := range p.byHash {
			if worst == nil || ranksAbove(worst, e) {
				worst = e
			}
		}
		if worst == nil {
			return
		}
		p.removeLocked(worst.hash)
	}
}

// Select returns a non-conflicting subset respecting maxBytes and
// maxCount, highest priority first.
func (p *Pool) Select(maxBytes, maxCount int) []*types.Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()

	ordered := make([]*entry, 0, len(p.byHash))
	for _, e := range p.byHash {
		ordered = append(ordered, e)
	}
	sort.Slice(ordered, func(i, j int) bool { return ranksAbove(ordered[i], ordered[j]) })

	var (
		result       []*types.Transaction
		usedBytes    int
		usedKeyImage = make(map[types.KeyImage]struct{})
	)
	for _, e := range ordered {
		if maxCount > 0 && len(result) >= maxCount {
			break
		}
		size := e.tx.EncodedSize()
		if maxBytes > 0 && usedBytes+size > maxBytes {
			continue
		}
		conflict := false
		for _, in := range e.tx.Prefix.Inputs {
			if _, used := usedKeyImage[in.KeyImage]; used {
				conflict = true
				break
			}
		}
		if conflict {
			continue
		}
		for _, in := range e.tx.Prefix.Inputs {
			usedKeyImage[in.KeyImage] = struct{}{}
		}
		usedBytes += size
		result = append(result, e.tx)
	}
	return result
}

// NotifyApplied removes every transaction included in the applied block
// plus any now-conflicting or tombstone-expired transaction.
func (p *Pool) NotifyApplied(block *types.Block, newTip uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	included := make(map[types.Hash]struct{}, len(block.Transactions))
	spentKeyImages := make(map[types.KeyImage]struct{})
	for _, tx := range block.Transactions {
		included[tx.Hash()] = struct{}{}
		for _, in := range tx.Prefix.Inputs {
			spentKeyImages[in.KeyImage] = struct{}{}
		}
	}

	for hash, e := range p.byHash {
		if _, done := included[hash]; done {
			p.removeLocked(hash)
			continue
		}
		if e.tx.Prefix.Tombstone <= newTip {
			p.removeLocked(hash)
			continue
		}
		for _, in := range e.tx.Prefix.Inputs {
			if _, spent := spentKeyImages[in.KeyImage]; spent {
				p.removeLocked(hash)
				break
			}
		}
	}
}

// Size reports the number of pending transactions, used by the CLI
// `status` command.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.byHash)
}

// TotalBytes reports the summed encoded size of pending transactions.
func (p *Pool) TotalBytes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.totalBytes
}

// Get returns a pending transaction by hash, used by the block builder to
// resolve an externalized transfer set and by peers' transaction requests.
func (p *Pool) Get(hash types.Hash) (*types.Transaction, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.byHash[hash]
	if !ok {
		return nil, false
	}
	return e.tx, true
}
