// Package types holds the wire-level data model shared by every component:
// outputs, key images, ring inputs, transfer transactions, minting
// attestations, blocks, and the opaque consensus value the agreement state
// machine carries.
package types

import (
	"crypto/sha256"
	"encoding/hex"
)

// Ring size is fixed at 20.
const RingSize = 20

// Hash is a 32-byte SHA-256 digest.
type Hash [32]byte

func (h Hash) String() string { return hex.EncodeToString(h[:]) }

// IsZero reports whether h is the all-zero hash (used for the absent-parent
// sentinel before genesis).
func (h Hash) IsZero() bool { return h == Hash{} }

// PublicKey is a 32-byte Ristretto255 group element encoding, used for
// one-time target keys, ephemeral keys, and validator/minter identities.
type PublicKey [32]byte

func (pk PublicKey) String() string { return hex.EncodeToString(pk[:]) }

// KeyImage is the 32-byte value derived from an output's one-time private
// key. Unique across the entire chain once an applied transaction has
// revealed it.
type KeyImage [32]byte

func (k KeyImage) String() string { return hex.EncodeToString(k[:]) }

// Commitment is a 32-byte Pedersen commitment v*H + r*G.
type Commitment [32]byte

// Scalar is a 32-byte Ristretto255 scalar encoding (a ring-signature
// response, or a blinding factor in transit).
type Scalar [32]byte

// Ed25519Signature is a validator's consensus-message authentication
// signature, distinct from the post-quantum minting
// attestation signature.
type Ed25519Signature [64]byte

// KEMCiphertext is the post-quantum key-encapsulation ciphertext attached
// to every output, sized to Kyber768's exact ciphertext length.
type KEMCiphertext [1088]byte

// PQVerifyKey is a post-quantum signature verification key, sized to
// Dilithium3/ML-DSA-65's public key length.
type PQVerifyKey [1952]byte

// PQSignature is a post-quantum signature over a minting attestation. It is
// a slice rather than a fixed 3309 B array: see
// DESIGN.md for the (3293 vs 3309 byte) library/spec size note.
type PQSignature []byte

// MaskedValue is an 8-byte masked (blinded) output amount.
type MaskedValue [8]byte

// Output is an unspent or historical transaction output. Once inserted into the UTXO set its TargetKey is never
// overwritten and its Commitment is fixed.
type Output struct {
	TargetKey    PublicKey
	EphemeralKey PublicKey
	KEMCipher    KEMCiphertext
	Commitment   Commitment
	MaskedValue  MaskedValue
	Memo         []byte // optional, encrypted
	Height       uint64 // block height of inclusion
}

// RingMember is one (target key, commitment) pair drawn from the UTXO set
// to populate a ring input.
type RingMember struct {
	TargetKey  PublicKey
	Commitment Commitment
}

// RangeProof is an aggregated logarithmic-size proof that a committed
// value lies in [0, 2^64).
type RangeProof []byte

// TxInput is one spend within a transfer transaction: a size-RingSize ring,
// a pseudo-output commitment, and the key image of the real spent output.
type TxInput struct {
	Ring             [RingSize]RingMember
	PseudoCommitment Commitment
	KeyImage         KeyImage
}

// TxOutput is one newly created output inside a transfer transaction.
type TxOutput struct {
	TargetKey    PublicKey
	EphemeralKey PublicKey
	KEMCipher    KEMCiphertext
	Commitment   Commitment
	MaskedValue  MaskedValue
	Memo         []byte
	RangeProof   RangeProof
}

// RingSignature authenticates all of a transaction's inputs at once (a
// single CLSAG-style signature over the whole input set).
// CommitmentImages carries one commitment key image D per input, the
// auxiliary image binding the pseudo-output commitment to the same ring
// position the key image binds the target key to.
type RingSignature struct {
	C0               Scalar
	Responses        [][RingSize]Scalar // one response vector per input
	CommitmentImages []Commitment       // one D per input
}

// TxPrefix is the unsigned body of a transfer transaction: 1..16 inputs, 1..16 outputs, a fee, and a
// tombstone height past which the transaction expires from the mempool.
type TxPrefix struct {
	Version   uint8
	Inputs    []*TxInput
	Outputs   []*TxOutput
	Fee       uint64
	Tombstone uint64
}

// Transaction is a fully-formed transfer transaction: prefix plus the one
// ring signature authenticating it.
type Transaction struct {
	Prefix    TxPrefix
	Signature RingSignature
}

// Hash returns the transaction's identifying hash (SHA-256 of its prefix
// encoding; see codec.go for the exact byte layout).
func (tx *Transaction) Hash() Hash {
	return sha256.Sum256(EncodeTxPrefix(&tx.Prefix))
}

// EncodedSize returns the transaction's wire-encoded size in bytes, used by
// the validator's structural size check and the
// mempool's fee-per-byte ordering.
func (tx *Transaction) EncodedSize() int {
	return len(EncodeTransaction(tx))
}

// FeePerByte is the transaction's priority key for mempool ordering
// , expressed as fee scaled by 1e6 divided by size to retain
// precision in integer arithmetic.
func (tx *Transaction) FeePerByte() uint64 {
	size := tx.EncodedSize()
	if size == 0 {
		return 0
	}
	return (tx.Prefix.Fee * 1_000_000) / uint64(size)
}

// MintingAttestation couples a proof-of-work solution to the minter's
// identity and the block it mints.
type MintingAttestation struct {
	Height        uint64
	Reward        uint64
	MinterID      PublicKey
	TargetKey     PublicKey
	EphemeralKey  PublicKey
	KEMCipher     KEMCiphertext
	PrevBlockHash Hash
	Difficulty    uint64
	Nonce         uint64
	Timestamp     int64
	PQVerifyKey   PQVerifyKey
	Signature     PQSignature
}

// Hash returns the attestation's identifying hash, used to build the
// consensus value.
func (a *MintingAttestation) Hash() Hash {
	return sha256.Sum256(EncodeMintingAttestation(a))
}

// BlockHeader is the 164-byte fixed-layout wire block header.
type BlockHeader struct {
	Version     uint32
	PrevHash    Hash
	TxRoot      Hash
	Timestamp   uint64
	Height      uint64
	Difficulty  uint64
	Nonce       uint64
	MinterView  PublicKey
	MinterSpend PublicKey
}

// Hash returns the header's identifying hash, the block's tip hash once
// applied.
func (h *BlockHeader) Hash() Hash {
	return sha256.Sum256(EncodeBlockHeader(h))
}

// Block is a header, a minting attestation, and an ordered transfer set.
type Block struct {
	Header       BlockHeader
	Attestation  MintingAttestation
	Transactions []*Transaction
}

// ConsensusValue is the fixed-size, lexicographically comparable opaque
// identifier the federated agreement state machine externalizes: the
// minting attestation hash concatenated with the transfer-set Merkle
// root. The consensus state machine never inspects its internals beyond
// byte comparison.
type ConsensusValue [64]byte

func (v ConsensusValue) String() string { return hex.EncodeToString(v[:]) }

// Less gives ConsensusValue the lexicographic ordering the nomination
// protocol's tie-breaking (highest-value combine function) needs.
func (v ConsensusValue) Less(o ConsensusValue) bool {
	for i := range v {
		if v[i] != o[i] {
			return v[i] < o[i]
		}
	}
	return false
}

// NewConsensusValue builds the opaque value for an attestation/tx-root
// pair.
func NewConsensusValue(attestationHash, txRoot Hash) ConsensusValue {
	var v ConsensusValue
	copy(v[:32], attestationHash[:])
	copy(v[32:], txRoot[:])
	return v
}

// AttestationHash extracts the minting-attestation half of a consensus
// value. Only the block builder materializes a value this way; everywhere
// else consensus values stay opaque.
func (v ConsensusValue) AttestationHash() Hash {
	var h Hash
	copy(h[:], v[:32])
	return h
}

// TxRoot extracts the transfer-set Merkle root half of a consensus value.
func (v ConsensusValue) TxRoot() Hash {
	var h Hash
	copy(h[:], v[32:])
	return h
}

// QuorumSet is a threshold and a list of validator identities plus
// recursively-nested inner sets, one level deep.
type QuorumSet struct {
	Threshold  int
	Validators []PublicKey
	InnerSets  []QuorumSet
}

// ValidatorCount returns the number of direct children (validators plus
// inner sets), used to validate Threshold <= children at construction.
func (q QuorumSet) ValidatorCount() int {
	return len(q.Validators) + len(q.InnerSets)
}

// Valid reports whether the quorum set satisfies its structural invariant:
// threshold <= number of direct children.
func (q QuorumSet) Valid() bool {
	if q.Threshold <= 0 || q.Threshold > q.ValidatorCount() {
		return false
	}
	for _, inner := range q.InnerSets {
		if !inner.Valid() {
			return false
		}
	}
	return true
}
