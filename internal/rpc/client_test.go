package rpc

import (
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/botho-project/botho/internal/types"
)

func stubServer(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return NewClient(strings.TrimPrefix(ts.URL, "http://"))
}

func TestClientStatus(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"height": 42, "tip_hash": "abcd", "peers": 3, "mempool_size": 7,
		})
	})
	client := stubServer(t, mux)

	st, err := client.Status()
	require.NoError(t, err)
	require.Equal(t, uint64(42), st.Height)
	require.Equal(t, "abcd", st.TipHash)
	require.Equal(t, 3, st.Peers)
	require.Equal(t, 7, st.MempoolSize)
}

func TestClientBlocks(t *testing.T) {
	block := &types.Block{
		Header:       types.BlockHeader{Version: 1, Height: 5, Timestamp: 99},
		Attestation:  types.MintingAttestation{Signature: []byte{}},
		Transactions: []*types.Transaction{},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/blocks", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "5", r.URL.Query().Get("start"))
		json.NewEncoder(w).Encode(map[string]any{
			"blocks": []string{hex.EncodeToString(types.EncodeBlock(block))},
		})
	})
	client := stubServer(t, mux)

	blocks, err := client.Blocks(5, 10)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	require.Equal(t, block.Header, blocks[0].Header)
}

func TestClientSampleOutputs(t *testing.T) {
	var member types.RingMember
	member.TargetKey[0] = 0xAA
	member.Commitment[0] = 0xBB

	mux := http.NewServeMux()
	mux.HandleFunc("/outputs/sample", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"outputs": []map[string]string{{
				"target_key": hex.EncodeToString(member.TargetKey[:]),
				"commitment": hex.EncodeToString(member.Commitment[:]),
			}},
		})
	})
	client := stubServer(t, mux)

	members, err := client.SampleOutputs(5, nil)
	require.NoError(t, err)
	require.Len(t, members, 1)
	require.Equal(t, member, members[0])
}

func TestClientSubmitTransaction(t *testing.T) {
	tx := &types.Transaction{Prefix: types.TxPrefix{Version: 1, Fee: 100}}

	mux := http.NewServeMux()
	mux.HandleFunc("/transactions", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		raw, err := hex.DecodeString(string(body))
		require.NoError(t, err)
		decoded, err := types.DecodeTransaction(raw)
		require.NoError(t, err)
		require.Equal(t, tx.Hash(), decoded.Hash())
		json.NewEncoder(w).Encode(map[string]string{"hash": decoded.Hash().String()})
	})
	client := stubServer(t, mux)

	hash, err := client.SubmitTransaction(tx)
	require.NoError(t, err)
	require.Equal(t, tx.Hash(), hash)
}

func TestClientSurfacesErrorKind(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/transactions", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(errorReply{ErrorKind: "conflict", Message: "key image already claimed"})
	})
	client := stubServer(t, mux)

	_, err := client.SubmitTransaction(&types.Transaction{Prefix: types.TxPrefix{Version: 1}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "conflict")
}
