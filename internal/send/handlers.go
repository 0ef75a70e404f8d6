package send

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/kenneth/wiredrop/internal/apperr"
	"github.com/kenneth/wiredrop/internal/audit"
	"github.com/kenneth/wiredrop/internal/metrics"
	"github.com/kenneth/wiredrop/internal/reqauth"
	"github.com/sirupsen/logrus"
)

// Handler wires one send-side State to the HTTP routes spec.md §6 defines
// for the send direction: manifest, chunk, complete.
type Handler struct {
	State   *State
	Logger  *logrus.Logger
	Metrics *metrics.Metrics
	Audit   *audit.Log
}

// NewHandler builds a send Handler and wires the state's buffer pool to
// report hit/miss counts through m.
func NewHandler(state *State, logger *logrus.Logger, m *metrics.Metrics, auditLog *audit.Log) *Handler {
	state.Pool().SetObservers(m.RecordBufferPoolHit, m.RecordBufferPoolMiss)
	return &Handler{State: state, Logger: logger, Metrics: m, Audit: auditLog}
}

// RegisterRoutes attaches the send endpoints under r.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/send/{token}/manifest", h.handleManifest).Methods(http.MethodGet)
	r.HandleFunc("/send/{token}/{file_index}/chunk/{chunk_index}", h.handleChunk).Methods(http.MethodGet)
	r.HandleFunc("/send/{token}/complete", h.handleComplete).Methods(http.MethodPost)
}

type manifestFile struct {
	Index    int    `json:"index"`
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	NonceB64 string `json:"nonce_b64"`
}

type manifestConfig struct {
	ChunkSize   int `json:"chunk_size"`
	Concurrency int `json:"concurrency"`
}

type manifestResponse struct {
	Files  []manifestFile `json:"files"`
	Config manifestConfig `json:"config"`
}

func (h *Handler) handleManifest(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	vars := mux.Vars(r)
	token := vars["token"]
	clientID := reqauth.ClientID(r)

	if err := reqauth.ClaimOrValidateSession(h.State.Session, token, clientID); err != nil {
		h.Audit.Record(audit.Event{Type: audit.EventClaimRejected, ClientID: clientID, Detail: "send manifest claim rejected"})
		apperr.WriteError(w, h.Logger, err)
		h.Metrics.RecordHTTPRequest(r.Context(), r.Method, r.URL.Path, statusOf(err), time.Since(start), 0)
		return
	}
	h.Audit.Record(audit.Event{Type: audit.EventClaim, ClientID: clientID, Detail: "send manifest claimed session"})

	resp := manifestResponse{
		Config: manifestConfig{
			ChunkSize:   h.State.Manifest.ChunkSize,
			Concurrency: h.State.Manifest.Concurrency,
		},
	}
	for _, f := range h.State.Manifest.Files {
		resp.Files = append(resp.Files, manifestFile{
			Index:    f.Index,
			Name:     f.Name,
			Size:     f.Size,
			NonceB64: f.NonceB64(),
		})
	}

	writeJSON(w, http.StatusOK, resp)
	h.Metrics.RecordHTTPRequest(r.Context(), r.Method, r.URL.Path, http.StatusOK, time.Since(start), 0)
}

func (h *Handler) handleChunk(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	vars := mux.Vars(r)
	token := vars["token"]
	clientID := reqauth.ClientID(r)

	if err := reqauth.RequireActiveSession(h.State.Session, token, clientID); err != nil {
		apperr.WriteError(w, h.Logger, err)
		h.Metrics.RecordHTTPRequest(r.Context(), r.Method, r.URL.Path, statusOf(err), time.Since(start), 0)
		return
	}

	fileIndex, err := strconv.Atoi(vars["file_index"])
	if err != nil {
		apperr.WriteError(w, h.Logger, apperr.BadRequest("file_index must be an integer"))
		h.Metrics.RecordHTTPRequest(r.Context(), r.Method, r.URL.Path, http.StatusBadRequest, time.Since(start), 0)
		return
	}
	chunkIndex, err := strconv.Atoi(vars["chunk_index"])
	if err != nil {
		apperr.WriteError(w, h.Logger, apperr.BadRequest("chunk_index must be an integer"))
		h.Metrics.RecordHTTPRequest(r.Context(), r.Method, r.URL.Path, http.StatusBadRequest, time.Since(start), 0)
		return
	}

	encryptStart := time.Now()
	buf, duplicate, err := h.State.Chunk(fileIndex, chunkIndex)
	if err != nil {
		h.Metrics.RecordChunkError("send", "chunk_error")
		apperr.WriteError(w, h.Logger, err)
		h.Metrics.RecordHTTPRequest(r.Context(), r.Method, r.URL.Path, statusOf(err), time.Since(start), 0)
		return
	}
	defer h.State.ReleaseChunk(buf)
	h.Metrics.RecordEncryptionOperation(r.Context(), "encrypt", time.Since(encryptStart))
	if duplicate {
		h.Metrics.RecordChunkDedupHit()
	} else {
		h.Metrics.RecordChunkSent()
	}
	h.Metrics.SetTransferProgress(h.State.Progress.Snapshot().Percent)

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	n, _ := w.Write(buf)

	h.Logger.WithFields(logrus.Fields{
		"file_index":  fileIndex,
		"chunk_index": chunkIndex,
		"bytes":       n,
	}).Debug("served chunk")
	h.Metrics.RecordHTTPRequest(r.Context(), r.Method, r.URL.Path, http.StatusOK, time.Since(start), int64(n))
}

type completeResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (h *Handler) handleComplete(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	vars := mux.Vars(r)
	token := vars["token"]
	clientID := reqauth.ClientID(r)

	if h.State.Session.State().String() == "completed" {
		writeJSON(w, http.StatusOK, completeResponse{Success: true, Message: "already complete"})
		h.Metrics.RecordHTTPRequest(r.Context(), r.Method, r.URL.Path, http.StatusOK, time.Since(start), 0)
		return
	}

	if err := reqauth.RequireActiveSession(h.State.Session, token, clientID); err != nil {
		apperr.WriteError(w, h.Logger, err)
		h.Metrics.RecordHTTPRequest(r.Context(), r.Method, r.URL.Path, statusOf(err), time.Since(start), 0)
		return
	}

	if h.State.ChunksSent() < h.State.TotalChunks() {
		h.Logger.WithFields(logrus.Fields{
			"chunks_sent":  h.State.ChunksSent(),
			"total_chunks": h.State.TotalChunks(),
		}).Warn("completing send session before all chunks were sent")
	}

	h.State.Session.Complete(token, clientID)
	h.State.Complete()
	h.Audit.Record(audit.Event{Type: audit.EventComplete, ClientID: clientID, Detail: "send session completed"})

	writeJSON(w, http.StatusOK, completeResponse{Success: true, Message: "transfer complete"})
	h.Metrics.RecordHTTPRequest(r.Context(), r.Method, r.URL.Path, http.StatusOK, time.Since(start), 0)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func statusOf(err error) int {
	if ae, ok := apperr.As(err); ok {
		return ae.Status()
	}
	return http.StatusInternalServerError
}
