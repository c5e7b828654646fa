package network

import (
	"sync"
	"time"
)

// banThreshold is the cumulative penalty at which a peer is disconnected
// and barred from reconnecting until the ban expires.
const banThreshold = 100

// banDuration is how long a banned peer stays banned.
const banDuration = 1 * time.Hour

// Penalty values applied per classified error kind a peer's gossiped
// message triggers.
const (
	PenaltyCryptographic = 20
	PenaltyStructural    = 10
	PenaltyRateLimit     = 5
)

type peerRecord struct {
	lastSeen time.Time
	score    int
	bannedAt time.Time
}

// ReputationTracker is a scored banlist with staleness tracking: a peer
// accumulates penalty for bad messages and is disconnected once it
// crosses the ban threshold.
type ReputationTracker struct {
	mu      sync.Mutex
	records map[string]*peerRecord
	timeout time.Duration
}

// NewReputationTracker creates a tracker that considers a peer stale
// (eligible for disconnection) after timeout without activity.
func NewReputationTracker(timeout time.Duration) *ReputationTracker {
	return &ReputationTracker{
		records: make(map[string]*peerRecord),
		timeout: timeout,
	}
}

// Touch records activity from a peer, resetting its staleness clock.
func (r *ReputationTracker) Touch(peerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.recordLocked(peerID)
	rec.lastSeen = time.Now()
}

// Penalize applies a penalty to a peer's score and reports whether it has
// now crossed the ban threshold.
func (r *ReputationTracker) Penalize(peerID string, amount int) (banned bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.recordLocked(peerID)
	rec.score += amount
	if rec.score >= banThreshold && rec.bannedAt.IsZero() {
		rec.bannedAt = time.Now()
		return true
	}
	return !rec.bannedAt.IsZero()
}

// IsBanned reports whether a peer is currently serving out a ban.
func (r *ReputationTracker) IsBanned(peerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[peerID]
	if !ok || rec.bannedAt.IsZero() {
		return false
	}
	if time.Since(rec.bannedAt) > banDuration {
		rec.bannedAt = time.Time{}
		rec.score = 0
		return false
	}
	return true
}

func (r *ReputationTracker) recordLocked(peerID string) *peerRecord {
	rec, ok := r.records[peerID]
	if !ok {
		rec = &peerRecord{}
		r.records[peerID] = rec
	}
	return rec
}

// Stale returns the peer IDs that have not been touched within the
// tracker's timeout, for periodic disconnection.
func (r *ReputationTracker) Stale() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	var stale []string
	for id, rec := range r.records {
		if now.Sub(rec.lastSeen) > r.timeout {
			stale = append(stale, id)
		}
	}
	return stale
}

// Forget removes a peer's record entirely, used once a stale peer has
// been disconnected.
func (r *ReputationTracker) Forget(peerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, peerID)
}
