// Package rpc serves the loopback HTTP interface the CLI wallet commands
// (status, balance, send) and the Prometheus scraper talk to.
package rpc

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/botho-project/botho/internal/errkind"
	"github.com/botho-project/botho/internal/ledger"
	"github.com/botho-project/botho/internal/metrics"
	"github.com/botho-project/botho/internal/orchestrator"
	"github.com/botho-project/botho/internal/types"
)

// maxTxBodyBytes bounds a submitted transaction body: the 100 KiB encoded
// cap, hex-doubled, plus slack.
const maxTxBodyBytes = 256 * 1024

// Server exposes node state over HTTP. All endpoints are read-only except
// transaction submission, which funnels through the orchestrator's
// admission path.
type Server struct {
	log   *zap.Logger
	orch  *orchestrator.Orchestrator
	store *ledger.Store
	http  *http.Server
}

// New builds the server and its routes.
func New(log *zap.Logger, addr string, orch *orchestrator.Orchestrator, store *ledger.Store, met *metrics.Set) *Server {
	s := &Server{log: log, orch: orch, store: store}

	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/transactions", s.handleSubmitTx)
	mux.HandleFunc("/blocks", s.handleBlocks)
	mux.HandleFunc("/keyimages/", s.handleKeyImage)
	mux.HandleFunc("/outputs/sample", s.handleSampleOutputs)
	mux.Handle("/metrics", met.Handler())

	s.http = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorReply struct {
	ErrorKind string `json:"error_kind"`
	Message   string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	kind := "structural"
	if k, ok := errkind.Of(err); ok {
		kind = k.String()
	}
	writeJSON(w, status, errorReply{ErrorKind: kind, Message: err.Error()})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.Status())
}

func (s *Server) handleSubmitTx(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxTxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	raw, err := hex.DecodeString(strings.TrimSpace(string(body)))
	if err != nil {
		writeError(w, http.StatusBadRequest, errkind.Wrap(errkind.Structural, "transaction body is not hex", err))
		return
	}
	tx, err := types.DecodeTransaction(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, errkind.Wrap(errkind.Structural, "transaction decode failed", err))
		return
	}

	if err := s.orch.SubmitTransaction(tx); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"hash": tx.Hash().String()})
}

func (s *Server) handleBlocks(w http.ResponseWriter, r *http.Request) {
	start, err := strconv.ParseUint(r.URL.Query().Get("start"), 10, 64)
	if err != nil {
		http.Error(w, "bad start height", http.StatusBadRequest)
		return
	}
	count, err := strconv.ParseUint(r.URL.Query().Get("count"), 10, 32)
	if err != nil || count == 0 || count > 100 {
		http.Error(w, "count must be in [1,100]", http.StatusBadRequest)
		return
	}

	var blocks []string
	for h := start; h < start+count; h++ {
		block, err := s.store.GetBlock(h)
		if err != nil {
			break
		}
		blocks = append(blocks, hex.EncodeToString(types.EncodeBlock(block)))
	}
	writeJSON(w, http.StatusOK, map[string]any{"blocks": blocks})
}

func (s *Server) handleKeyImage(w http.ResponseWriter, r *http.Request) {
	hexImage := strings.TrimPrefix(r.URL.Path, "/keyimages/")
	raw, err := hex.DecodeString(hexImage)
	if err != nil || len(raw) != 32 {
		http.Error(w, "bad key image", http.StatusBadRequest)
		return
	}
	var ki types.KeyImage
	copy(ki[:], raw)

	spent, err := s.store.KeyImageExists(ki)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"spent": spent})
}

func (s *Server) handleSampleOutputs(w http.ResponseWriter, r *http.Request) {
	count, err := strconv.Atoi(r.URL.Query().Get("count"))
	if err != nil || count <= 0 || count > 1024 {
		http.Error(w, "count must be in [1,1024]", http.StatusBadRequest)
		return
	}

	exclude := make(map[types.PublicKey]bool)
	for _, k := range strings.Split(r.URL.Query().Get("exclude"), ",") {
		raw, err := hex.DecodeString(k)
		if err != nil || len(raw) != 32 {
			continue
		}
		var pk types.PublicKey
		copy(pk[:], raw)
		exclude[pk] = true
	}

	members, err := s.store.SampleOutputs(count, exclude)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	type memberReply struct {
		TargetKey  string `json:"target_key"`
		Commitment string `json:"commitment"`
	}
	out := make([]memberReply, len(members))
	for i, m := range members {
		out[i] = memberReply{
			TargetKey:  m.TargetKey.String(),
			Commitment: hex.EncodeToString(m.Commitment[:]),
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"outputs": out})
}
