package cryptoprim

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/botho-project/botho/internal/types"
)

// CheckProofOfWork reports whether SHA-256(nonce ∥ prev_hash ∥ minter_id),
// read as a big-endian 64-bit prefix, is strictly less than difficulty
// Difficulty is the threshold itself: a smaller value admits fewer
// hashes. The minter varies nonce between attempts.
func CheckProofOfWork(nonce uint64, prevHash types.Hash, minterID types.PublicKey, difficulty uint64) bool {
	buf := make([]byte, 0, 8+32+32)
	var nonceBuf [8]byte
	binary.BigEndian.PutUint64(nonceBuf[:], nonce)
	buf = append(buf, nonceBuf[:]...)
	buf = append(buf, prevHash[:]...)
	buf = append(buf, minterID[:]...)

	digest := sha256.Sum256(buf)
	prefix := binary.BigEndian.Uint64(digest[:8])
	return prefix < difficulty
}

// RetargetDifficulty adjusts the difficulty threshold at an epoch boundary
// given the actual elapsed time for the last epoch against its target
// duration, clamping the ratio to [1/4, 4] to resist oscillation. An epoch that finished too fast shrinks the threshold, admitting
// fewer hashes.
func RetargetDifficulty(current uint64, actualEpochSeconds, targetEpochSeconds int64) uint64 {
	if actualEpochSeconds <= 0 {
		actualEpochSeconds = 1
	}
	if targetEpochSeconds <= 0 {
		targetEpochSeconds = 1
	}
	ratio := float64(actualEpochSeconds) / float64(targetEpochSeconds)
	if ratio > 4 {
		ratio = 4
	}
	if ratio < 0.25 {
		ratio = 0.25
	}
	next := float64(current) * ratio
	if next < 1 {
		next = 1
	}
	return uint64(next)
}

// GenesisPrevHash is the sentinel previous-block hash the first block
// must carry.
var GenesisPrevHash = types.Hash(sha256.Sum256([]byte("BOTHO_MAINNET_GENESIS_V1")))
