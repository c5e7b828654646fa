package blockbuilder

import (
	"sync"
	"time"

	"github.com/botho-project/botho/internal/types"
)

// Candidate is a locally-assembled block payload awaiting externalization:
// the attestation and transfer set a minter or block-builder proposed,
// keyed by the consensus value it nominates.
type Candidate struct {
	Attestation  types.MintingAttestation
	Transactions []*types.Transaction
	Value        types.ConsensusValue
	cachedAt     time.Time
}

// NewCandidate builds a candidate and its consensus value from an
// attestation and a chosen transfer set.
func NewCandidate(attestation types.MintingAttestation, txs []*types.Transaction) *Candidate {
	value := types.NewConsensusValue(attestation.Hash(), MerkleRoot(txs))
	return &Candidate{Attestation: attestation, Transactions: txs, Value: value}
}

// Cache holds candidates this node has proposed or received in full, so
// that once a value externalizes the corresponding payload can be
// recovered without a network round trip when this node was the one that
// built it.
type Cache struct {
	mu      sync.Mutex
	byValue map[types.ConsensusValue]*Candidate
	ttl     time.Duration
}

// NewCache creates a candidate cache; entries older than ttl are dropped by
// Prune, bounding memory for candidates that never externalize.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{byValue: make(map[types.ConsensusValue]*Candidate), ttl: ttl}
}

// Put stores a candidate, keyed by its own consensus value.
func (c *Cache) Put(cand *Candidate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cand.cachedAt = time.Now()
	c.byValue[cand.Value] = cand
}

// Get retrieves a candidate by consensus value, if still cached.
func (c *Cache) Get(value types.ConsensusValue) (*Candidate, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cand, ok := c.byValue[value]
	return cand, ok
}

// Prune discards candidates cached longer than the configured TTL.
func (c *Cache) Prune() {
	c.mu.Lock()
	defer c.mu.Unlock()
	cutoff := time.Now().Add(-c.ttl)
	for v, cand := range c.byValue {
		if cand.cachedAt.Before(cutoff) {
			delete(c.byValue, v)
		}
	}
}
