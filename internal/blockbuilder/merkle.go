// Package blockbuilder materializes an externalized consensus value into a
// concrete, re-validated block.
package blockbuilder

import (
	"crypto/sha256"

	"github.com/botho-project/botho/internal/types"
)

// MerkleRoot computes the transfer-set Merkle root a consensus value's
// second half commits to. An empty set of
// transactions hashes to SHA-256 of empty input, matching an all-reward block.
func MerkleRoot(txs []*types.Transaction) types.Hash {
	if len(txs) == 0 {
		return sha256.Sum256(nil)
	}
	level := make([]types.Hash, len(txs))
	for i, tx := range txs {
		level[i] = tx.Hash()
	}
	for len(level) > 1 {
		next := make([]types.Hash, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				next = append(next, hashPair(level[i], level[i]))
				continue
			}
			next = append(next, hashPair(level[i], level[i+1]))
		}
		level = next
	}
	return level[0]
}

func hashPair(a, b types.Hash) types.Hash {
	buf := make([]byte, 0, 64)
	buf = append(buf, a[:]...)
	buf = append(buf, b[:]...)
	return sha256.Sum256(buf)
}
