package receive

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/kenneth/wiredrop/internal/apperr"
	"github.com/kenneth/wiredrop/internal/audit"
	wdcrypto "github.com/kenneth/wiredrop/internal/crypto"
	"github.com/kenneth/wiredrop/internal/manifest"
	"github.com/kenneth/wiredrop/internal/metrics"
	"github.com/kenneth/wiredrop/internal/reqauth"
	"github.com/sirupsen/logrus"
)

// defaultMaxChunkBodyBytes bounds a chunk POST body, which carries the
// negotiated chunk_size plus the AEAD tag plus multipart overhead. It is a
// fixed 25 MB cap; it is not narrowed to the manifest's chunk_size once a
// manifest is known.
const defaultMaxChunkBodyBytes = 25 << 20

// Handler wires one receive-side State to the HTTP routes spec.md §6
// defines for the receive direction: manifest, chunk, finalize, complete.
type Handler struct {
	State   *State
	Logger  *logrus.Logger
	Metrics *metrics.Metrics
	Audit   *audit.Log
}

// NewHandler builds a receive Handler.
func NewHandler(state *State, logger *logrus.Logger, m *metrics.Metrics, auditLog *audit.Log) *Handler {
	return &Handler{State: state, Logger: logger, Metrics: m, Audit: auditLog}
}

// RegisterRoutes attaches the receive endpoints under r.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/receive/{token}/manifest", h.handleManifest).Methods(http.MethodPost)
	r.HandleFunc("/receive/{token}/chunk", h.handleChunk).Methods(http.MethodPost)
	r.HandleFunc("/receive/{token}/finalize", h.handleFinalize).Methods(http.MethodPost)
	r.HandleFunc("/receive/{token}/complete", h.handleComplete).Methods(http.MethodPost)
}

type wireFile struct {
	Index    int    `json:"index"`
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	NonceB64 string `json:"nonce_b64"`
}

type wireConfig struct {
	ChunkSize   int `json:"chunk_size"`
	Concurrency int `json:"concurrency"`
}

type manifestRequest struct {
	Files  []wireFile `json:"files"`
	Config wireConfig `json:"config"`
}

type manifestResponse struct {
	SessionKeyB64 string `json:"session_key_b64"`
}

func (h *Handler) handleManifest(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	vars := mux.Vars(r)
	token := vars["token"]
	clientID := reqauth.ClientID(r)

	if err := reqauth.ClaimOrValidateSession(h.State.Session, token, clientID); err != nil {
		h.Audit.Record(audit.Event{Type: audit.EventClaimRejected, ClientID: clientID, Detail: "receive manifest claim rejected"})
		apperr.WriteError(w, h.Logger, err)
		h.Metrics.RecordHTTPRequest(r.Context(), r.Method, r.URL.Path, statusOf(err), time.Since(start), 0)
		return
	}
	h.Audit.Record(audit.Event{Type: audit.EventClaim, ClientID: clientID, Detail: "receive manifest claimed session"})

	var req manifestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperr.WriteError(w, h.Logger, apperr.BadRequest("malformed manifest: %v", err))
		h.Metrics.RecordHTTPRequest(r.Context(), r.Method, r.URL.Path, http.StatusBadRequest, time.Since(start), 0)
		return
	}

	m := &manifest.Manifest{
		ChunkSize:   req.Config.ChunkSize,
		Concurrency: req.Config.Concurrency,
	}
	for _, f := range req.Files {
		raw, err := base64.RawURLEncoding.DecodeString(f.NonceB64)
		if err != nil || len(raw) != wdcrypto.BaseSize {
			apperr.WriteError(w, h.Logger, apperr.BadRequest("file %d: invalid nonce_b64", f.Index))
			h.Metrics.RecordHTTPRequest(r.Context(), r.Method, r.URL.Path, http.StatusBadRequest, time.Since(start), 0)
			return
		}
		var base wdcrypto.NonceBase
		copy(base[:], raw)
		m.Files = append(m.Files, manifest.FileEntry{
			Index:     f.Index,
			Name:      f.Name,
			Size:      f.Size,
			NonceBase: base,
		})
	}

	if err := h.State.SetManifest(m); err != nil {
		apperr.WriteError(w, h.Logger, err)
		h.Metrics.RecordHTTPRequest(r.Context(), r.Method, r.URL.Path, statusOf(err), time.Since(start), 0)
		return
	}

	writeJSON(w, http.StatusOK, manifestResponse{SessionKeyB64: h.State.Session.SessionKeyB64()})
	h.Metrics.RecordHTTPRequest(r.Context(), r.Method, r.URL.Path, http.StatusOK, time.Since(start), 0)
}

type successResponse struct {
	Success bool `json:"success"`
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

	r.Body = http.MaxBytesReader(w, r.Body, defaultMaxChunkBodyBytes)
	if err := r.ParseMultipartForm(defaultMaxChunkBodyBytes); err != nil {
		apperr.WriteError(w, h.Logger, apperr.BadRequest("malformed multipart body: %v", err))
		h.Metrics.RecordHTTPRequest(r.Context(), r.Method, r.URL.Path, http.StatusBadRequest, time.Since(start), 0)
		return
	}

	fileIndex, chunkIndex, ciphertext, err := parseChunkForm(r)
	if err != nil {
		apperr.WriteError(w, h.Logger, err)
		h.Metrics.RecordHTTPRequest(r.Context(), r.Method, r.URL.Path, statusOf(err), time.Since(start), 0)
		return
	}

	decryptStart := time.Now()
	duplicate, err := h.State.WriteChunk(fileIndex, chunkIndex, ciphertext)
	if err != nil {
		h.Metrics.RecordChunkError("receive", "write_failed")
		if isAuthFailure(err) {
			h.Metrics.RecordEncryptionError("decrypt", "auth_failed")
			h.Audit.Record(audit.Event{
				Type: audit.EventChunkAuthFailure, ClientID: clientID,
				FileIndex: &fileIndex, Detail: "chunk authentication failed",
			})
		}
		apperr.WriteError(w, h.Logger, err)
		h.Metrics.RecordHTTPRequest(r.Context(), r.Method, r.URL.Path, statusOf(err), time.Since(start), 0)
		return
	}
	h.Metrics.RecordEncryptionOperation(r.Context(), "decrypt", time.Since(decryptStart))
	if duplicate {
		h.Metrics.RecordChunkDedupHit()
	} else {
		h.Metrics.RecordChunkReceived()
	}
	h.Metrics.SetTransferProgress(h.State.Progress.Snapshot().Percent)

	writeJSON(w, http.StatusOK, successResponse{Success: true})
	h.Metrics.RecordHTTPRequest(r.Context(), r.Method, r.URL.Path, http.StatusOK, time.Since(start), int64(len(ciphertext)))
}

func parseChunkForm(r *http.Request) (fileIndex, chunkIndex int, ciphertext []byte, err error) {
	fileIndex, convErr := atoiField(r.FormValue("file_index"))
	if convErr != nil {
		return 0, 0, nil, apperr.BadRequest("file_index must be an integer")
	}
	chunkIndex, convErr = atoiField(r.FormValue("chunk_index"))
	if convErr != nil {
		return 0, 0, nil, apperr.BadRequest("chunk_index must be an integer")
	}

	file, _, ferr := r.FormFile("ciphertext")
	if ferr != nil {
		return 0, 0, nil, apperr.BadRequest("missing ciphertext part: %v", ferr)
	}
	defer file.Close()

	data, rerr := io.ReadAll(file)
	if rerr != nil {
		return 0, 0, nil, apperr.BadRequest("failed to read ciphertext part: %v", rerr)
	}
	return fileIndex, chunkIndex, data, nil
}

func atoiField(s string) (int, error) {
	if s == "" {
		return 0, apperr.BadRequest("missing required field")
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, apperr.BadRequest("field %q is not an integer", s)
	}
	return n, nil
}

func isAuthFailure(err error) bool {
	ae, ok := apperr.As(err)
	return ok && ae.Kind == apperr.KindBadRequest && strings.Contains(ae.Message, "authentication failed")
}

type finalizeRequest struct {
	FileIndex int `json:"file_index"`
}

func (h *Handler) handleFinalize(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	vars := mux.Vars(r)
	token := vars["token"]
	clientID := reqauth.ClientID(r)

	if err := reqauth.RequireActiveSession(h.State.Session, token, clientID); err != nil {
		apperr.WriteError(w, h.Logger, err)
		h.Metrics.RecordHTTPRequest(r.Context(), r.Method, r.URL.Path, statusOf(err), time.Since(start), 0)
		return
	}

	var req finalizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperr.WriteError(w, h.Logger, apperr.BadRequest("malformed finalize request: %v", err))
		h.Metrics.RecordHTTPRequest(r.Context(), r.Method, r.URL.Path, http.StatusBadRequest, time.Since(start), 0)
		return
	}

	if err := h.State.Finalize(req.FileIndex); err != nil {
		apperr.WriteError(w, h.Logger, err)
		h.Metrics.RecordHTTPRequest(r.Context(), r.Method, r.URL.Path, statusOf(err), time.Since(start), 0)
		return
	}
	h.Audit.Record(audit.Event{Type: audit.EventFinalize, ClientID: clientID, FileIndex: &req.FileIndex, Detail: "file finalized"})

	w.WriteHeader(http.StatusOK)
	h.Metrics.RecordHTTPRequest(r.Context(), r.Method, r.URL.Path, http.StatusOK, time.Since(start), 0)
}

func (h *Handler) handleComplete(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	vars := mux.Vars(r)
	token := vars["token"]
	clientID := reqauth.ClientID(r)

	if err := reqauth.RequireActiveSession(h.State.Session, token, clientID); err != nil {
		apperr.WriteError(w, h.Logger, err)
		h.Metrics.RecordHTTPRequest(r.Context(), r.Method, r.URL.Path, statusOf(err), time.Since(start), 0)
		return
	}

	if err := h.State.CompleteTransfer(); err != nil {
		apperr.WriteError(w, h.Logger, err)
		h.Metrics.RecordHTTPRequest(r.Context(), r.Method, r.URL.Path, statusOf(err), time.Since(start), 0)
		return
	}
	h.State.Session.Complete(token, clientID)
	h.Audit.Record(audit.Event{Type: audit.EventComplete, ClientID: clientID, Detail: "receive session completed"})

	w.WriteHeader(http.StatusOK)
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
