package receive

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/kenneth/wiredrop/internal/audit"
	wdcrypto "github.com/kenneth/wiredrop/internal/crypto"
	"github.com/kenneth/wiredrop/internal/metrics"
	"github.com/kenneth/wiredrop/internal/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	var key [32]byte
	sess, err := session.New(key)
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	st := New(sess, t.TempDir())
	return NewHandler(st, logger, metrics.NewMetricsWithRegistry(prometheus.NewRegistry()), audit.New(10, nil))
}

func router(h *Handler) *mux.Router {
	r := mux.NewRouter()
	h.RegisterRoutes(r)
	return r
}

func manifestBody(t *testing.T, nonce wdcrypto.NonceBase) []byte {
	t.Helper()
	body := map[string]interface{}{
		"files": []map[string]interface{}{
			{"index": 0, "name": "out.bin", "size": 8, "nonce_b64": base64.RawURLEncoding.EncodeToString(nonce[:])},
		},
		"config": map[string]interface{}{"chunk_size": 8, "concurrency": 1},
	}
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	return b
}

func TestHandleManifestThenChunkThenFinalizeThenComplete(t *testing.T) {
	h := newTestHandler(t)
	r := router(h)
	token := h.State.Session.Token()

	var nonce wdcrypto.NonceBase
	copy(nonce[:], []byte("file0000"))

	manifestReq := httptest.NewRequest("POST", "/receive/"+token+"/manifest?clientId=c1", bytes.NewReader(manifestBody(t, nonce)))
	manifestRec := httptest.NewRecorder()
	r.ServeHTTP(manifestRec, manifestReq)
	if manifestRec.Code != 200 {
		t.Fatalf("manifest status = %d body=%s", manifestRec.Code, manifestRec.Body.String())
	}

	plaintext := []byte("01234567")
	buf := make([]byte, len(plaintext), len(plaintext)+wdcrypto.AEADTagLen)
	copy(buf, plaintext)
	ciphertext := wdcrypto.EncryptChunk(h.State.Session.Cipher(), nonce, 0, buf)

	body, contentType := multipartChunkBody(t, 0, 0, ciphertext)
	chunkReq := httptest.NewRequest("POST", "/receive/"+token+"/chunk?clientId=c1", body)
	chunkReq.Header.Set("Content-Type", contentType)
	chunkRec := httptest.NewRecorder()
	r.ServeHTTP(chunkRec, chunkReq)
	if chunkRec.Code != 200 {
		t.Fatalf("chunk status = %d body=%s", chunkRec.Code, chunkRec.Body.String())
	}

	finalizeReq := httptest.NewRequest("POST", "/receive/"+token+"/finalize?clientId=c1", bytes.NewReader([]byte(`{"file_index":0}`)))
	finalizeRec := httptest.NewRecorder()
	r.ServeHTTP(finalizeRec, finalizeReq)
	if finalizeRec.Code != 200 {
		t.Fatalf("finalize status = %d body=%s", finalizeRec.Code, finalizeRec.Body.String())
	}

	completeReq := httptest.NewRequest("POST", "/receive/"+token+"/complete?clientId=c1", nil)
	completeRec := httptest.NewRecorder()
	r.ServeHTTP(completeRec, completeReq)
	if completeRec.Code != 200 {
		t.Fatalf("complete status = %d body=%s", completeRec.Code, completeRec.Body.String())
	}
}

func TestHandleManifestRejectsUnsafeFilename(t *testing.T) {
	h := newTestHandler(t)
	r := router(h)
	token := h.State.Session.Token()

	body := []byte(`{"files":[{"index":0,"name":"../escape.bin","size":8,"nonce_b64":"ZmlsZTAwMDA"}],"config":{"chunk_size":8,"concurrency":1}}`)
	req := httptest.NewRequest("POST", "/receive/"+token+"/manifest?clientId=c1", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != 400 {
		t.Fatalf("status = %d, want 400, body=%s", rec.Code, rec.Body.String())
	}
}

func multipartChunkBody(t *testing.T, fileIndex, chunkIndex int, ciphertext []byte) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	if err := w.WriteField("file_index", fmt.Sprintf("%d", fileIndex)); err != nil {
		t.Fatalf("WriteField: %v", err)
	}
	if err := w.WriteField("chunk_index", fmt.Sprintf("%d", chunkIndex)); err != nil {
		t.Fatalf("WriteField: %v", err)
	}
	part, err := w.CreateFormFile("ciphertext", "chunk.bin")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := part.Write(ciphertext); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return buf, w.FormDataContentType()
}
