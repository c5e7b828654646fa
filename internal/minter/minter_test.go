package minter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/botho-project/botho/internal/cryptoprim"
	"github.com/botho-project/botho/internal/types"
)

func newTestPool(t *testing.T) *Pool {
	t.Helper()
	pqPub, pqPriv, err := cryptoprim.PQGenerateKeyPair()
	require.NoError(t, err)

	var minterID types.PublicKey
	minterID[0] = 0x11
	return NewPool(2, minterID, pqPriv, pqPub)
}

func easyWork() Work {
	var prev types.Hash
	prev[0] = 0xAB
	return Work{
		Height:     1,
		PrevHash:   prev,
		Difficulty: ^uint64(0), // threshold admits essentially every nonce
		Reward:     Reward{Amount: 50_000_000_000_000},
	}
}

func TestClosedGateEmitsNothing(t *testing.T) {
	pool := newTestPool(t)
	pool.SetWork(easyWork())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() { pool.Run(ctx); close(done) }()

	select {
	case <-pool.Found():
		t.Fatal("minter emitted an attestation while the quorum gate was closed")
	case <-time.After(300 * time.Millisecond):
	}

	cancel()
	<-done
}

func TestOpenGateFindsAndSignsAttestation(t *testing.T) {
	pool := newTestPool(t)
	work := easyWork()
	pool.SetWork(work)
	pool.SetGate(true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() { pool.Run(ctx); close(done) }()

	select {
	case found := <-pool.Found():
		att := found.Candidate.Attestation
		require.Equal(t, work.Height, att.Height)
		require.Equal(t, work.PrevHash, att.PrevBlockHash)
		require.Equal(t, work.Difficulty, att.Difficulty)
		require.True(t, cryptoprim.CheckProofOfWork(att.Nonce, att.PrevBlockHash, att.MinterID, att.Difficulty))

		ok, err := cryptoprim.PQVerify(att.PQVerifyKey,
			types.EncodeMintingAttestationUnsigned(&att), att.Signature)
		require.NoError(t, err)
		require.True(t, ok)

		// The candidate's consensus value commits to this attestation.
		require.Equal(t, att.Hash(), found.Candidate.Value.AttestationHash())
	case <-time.After(5 * time.Second):
		t.Fatal("minter found no nonce at the open threshold")
	}

	cancel()
	<-done
}

func TestGateCloseStopsEmission(t *testing.T) {
	pool := newTestPool(t)
	pool.SetWork(easyWork())
	pool.SetGate(true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() { pool.Run(ctx); close(done) }()

	select {
	case <-pool.Found():
	case <-time.After(5 * time.Second):
		t.Fatal("minter found no nonce while gate open")
	}

	pool.SetGate(false)
	// Give workers one check interval to observe the closed gate, then
	// drain anything emitted before the pause landed.
	time.Sleep(200 * time.Millisecond)
	for {
		select {
		case <-pool.Found():
			continue
		default:
		}
		break
	}

	select {
	case <-pool.Found():
		t.Fatal("minter kept emitting after the gate closed")
	case <-time.After(300 * time.Millisecond):
	}

	cancel()
	<-done
}

func TestHashRateAdvances(t *testing.T) {
	pool := newTestPool(t)
	work := easyWork()
	work.Difficulty = 1 // threshold 1 never wins, just burns nonces
	pool.SetWork(work)
	pool.SetGate(true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() { pool.Run(ctx); close(done) }()

	require.Eventually(t, func() bool { return pool.HashRate() > 0 },
		2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}
