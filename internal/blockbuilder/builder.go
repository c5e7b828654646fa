package blockbuilder

import (
	"fmt"
	"time"

	"github.com/botho-project/botho/internal/cryptoprim"
	"github.com/botho-project/botho/internal/errkind"
	"github.com/botho-project/botho/internal/types"
	"github.com/botho-project/botho/internal/validator"
)

// blockVersion is the wire version this core emits. Inbound blocks are not
// checked against it.
const blockVersion = 1

// maxClockSkew bounds how far into the future a block's timestamp may sit
// ahead of the local clock.
const maxClockSkew = 10 * time.Second

// TipInfo is the parent block state a materialized block extends.
type TipInfo struct {
	Height     uint64
	Hash       types.Hash
	Timestamp  uint64
	Difficulty uint64
}

// Materialize recovers the cached candidate for an externalized consensus
// value and assembles it into a verifiable block. now is the local clock, passed in rather than read
// internally so tests can supply a fixed value.
func Materialize(value types.ConsensusValue, cache *Cache, snap validator.Snapshot, tip TipInfo, now time.Time) (*types.Block, error) {
	cand, ok := cache.Get(value)
	if !ok {
		return nil, errkind.New(errkind.Stale, "no cached candidate for externalized value")
	}

	root := MerkleRoot(cand.Transactions)
	if root != value.TxRoot() {
		return nil, errkind.New(errkind.Structural, "recomputed tx root does not match externalized value")
	}
	if cand.Attestation.Hash() != value.AttestationHash() {
		return nil, errkind.New(errkind.Structural, "cached attestation hash does not match externalized value")
	}

	for _, tx := range cand.Transactions {
		if err := validator.Validate(tx, snap); err != nil {
			return nil, errkind.Wrap(errkind.Cryptographic, "materialized transaction failed re-validation", err)
		}
	}

	att := cand.Attestation
	if !cryptoprim.CheckProofOfWork(att.Nonce, att.PrevBlockHash, att.MinterID, att.Difficulty) {
		return nil, errkind.New(errkind.Cryptographic, "attestation fails proof-of-work check at materialization")
	}
	ok, err := cryptoprim.PQVerify(att.PQVerifyKey, types.EncodeMintingAttestationUnsigned(&att), att.Signature)
	if err != nil || !ok {
		return nil, errkind.New(errkind.Cryptographic, "attestation post-quantum signature invalid")
	}

	if att.Reward != BlockReward(att.Height) {
		return nil, errkind.New(errkind.Structural, "attestation reward does not match schedule")
	}
	if att.PrevBlockHash != tip.Hash {
		return nil, errkind.New(errkind.Stale, "attestation prev-hash no longer matches tip")
	}
	if att.Height != tip.Height+1 {
		return nil, errkind.New(errkind.Structural, fmt.Sprintf("attestation height %d is not tip+1 (%d)", att.Height, tip.Height+1))
	}
	if att.Timestamp <= int64(tip.Timestamp) {
		return nil, errkind.New(errkind.Structural, "block timestamp does not exceed parent timestamp")
	}
	if time.Unix(att.Timestamp, 0).After(now.Add(maxClockSkew)) {
		return nil, errkind.New(errkind.Structural, "block timestamp exceeds allowed clock skew")
	}

	header := types.BlockHeader{
		Version:     blockVersion,
		PrevHash:    tip.Hash,
		TxRoot:      root,
		Timestamp:   uint64(att.Timestamp),
		Height:      att.Height,
		Difficulty:  att.Difficulty,
		Nonce:       att.Nonce,
		MinterView:  att.TargetKey,
		MinterSpend: att.EphemeralKey,
	}

	return &types.Block{
		Header:       header,
		Attestation:  att,
		Transactions: cand.Transactions,
	}, nil
}
