// Package network defines the transport-agnostic interface the
// orchestrator drives, plus a concrete
// libp2p/gossipsub implementation. Peer-to-peer transport itself is out of
// scope; this package only models the external collaborator
// boundary and wires one real implementation behind it.
package network

import (
	"context"

	"github.com/botho-project/botho/internal/types"
)

// EventKind tags the inbound events an Adapter delivers.
type EventKind int

const (
	EventNewTransaction EventKind = iota
	EventNewBlock
	EventNewCompactBlock
	EventConsensusMessage
	EventPeerDiscovered
	EventPeerDisconnected
	EventSyncRequest
	EventSyncResponse
)

// Event is a tagged variant carrying exactly one payload, matching the
// orchestrator pattern-matches on Kind at dispatch.
type Event struct {
	Kind EventKind

	Transaction *types.Transaction
	Block       *types.Block
	Compact     *CompactBlock
	Consensus   []byte // opaque consensus.Message wire encoding
	PeerID      string
	SyncReq     *SyncRequest
	SyncResp    *SyncResponse
	TxRequest   []types.Hash // transaction hashes a peer asked for
}

// CompactBlock carries a block header, its minting attestation, and the
// short identifiers of its transactions, so peers that already hold the
// referenced transactions need not re-download them.
type CompactBlock struct {
	Header      types.BlockHeader
	Attestation types.MintingAttestation
	TxHashes    []types.Hash
}

// SyncRequest asks a peer for a contiguous run of blocks.
type SyncRequest struct {
	StartHeight uint64
	Count       uint32 // capped at 100 per request
}

// SyncResponse answers a SyncRequest with as many blocks as the peer has
// and is willing to send, bounded to 10 MiB of encoded payload.
type SyncResponse struct {
	Blocks []*types.Block
}

// Adapter is the duplex message channel the orchestrator consumes network
// events from and sends outbound broadcasts/requests through.
type Adapter interface {
	BroadcastTransaction(tx *types.Transaction) error
	BroadcastBlock(block *types.Block) error
	BroadcastCompactBlock(cb *CompactBlock) error
	BroadcastConsensus(payload []byte) error
	RequestTransactions(hashes []types.Hash) error
	RequestBlocks(start uint64, count uint32) error

	// SendSyncResponse answers an inbound SyncRequest with blocks, bounded
	// to the protocol's 10 MiB response limit.
	SendSyncResponse(resp *SyncResponse) error

	// Events returns the channel inbound events are delivered on. It is
	// closed when the adapter shuts down.
	Events() <-chan Event

	// PeerCount reports the number of currently connected peers.
	PeerCount() int

	// Penalize decrements a peer's reputation after one of its messages
	// failed validation.
	Penalize(peerID string, amount int)

	Close(ctx context.Context) error
}
