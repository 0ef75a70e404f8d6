// Package send composes session, manifest, file handles, and the buffer
// pool into the send-side chunk pipeline.
package send

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/kenneth/wiredrop/internal/apperr"
	wdcrypto "github.com/kenneth/wiredrop/internal/crypto"
	"github.com/kenneth/wiredrop/internal/filehandle"
	"github.com/kenneth/wiredrop/internal/manifest"
	"github.com/kenneth/wiredrop/internal/progress"
	"github.com/kenneth/wiredrop/internal/session"
)

// chunkKey identifies one (file, chunk) pair for the dedup set.
type chunkKey struct {
	file  int
	chunk int
}

// State owns everything needed to serve chunk requests for one outgoing
// transfer: the manifest, the shared session (auth + cipher), lazily
// opened file handles, a buffer pool sized to the negotiated chunk size,
// and dedup-adjusted progress counters.
type State struct {
	Session  *session.Session
	Manifest *manifest.Manifest
	Progress *progress.Tracker

	handles *filehandle.ReadRegistry
	pool    *wdcrypto.BufferPool

	mu      sync.Mutex
	sent    map[chunkKey]struct{}
	sentCnt int64
	total   int64
}

// New builds send State for m, opened against sess. m.ChunkSize is used to
// size the pooled buffers (chunk_size + AEAD tag).
func New(sess *session.Session, m *manifest.Manifest) *State {
	total := int64(m.TotalChunks())
	fileChunks := make(map[int]int, len(m.Files))
	for _, f := range m.Files {
		fileChunks[f.Index] = f.ChunkCount(m.ChunkSize)
	}

	return &State{
		Session:  sess,
		Manifest: m,
		Progress: progress.New(total, fileChunks),
		handles:  filehandle.NewReadRegistry(),
		pool:     wdcrypto.NewBufferPool(m.ChunkSize + wdcrypto.AEADTagLen),
		sent:     make(map[chunkKey]struct{}),
		total:    total,
	}
}

// Pool exposes the send state's buffer pool so callers can wire
// hit/miss observers (metrics) without the pool depending on them.
func (s *State) Pool() *wdcrypto.BufferPool { return s.pool }

// ChunksSent and TotalChunks report the dedup-adjusted counters used by
// the completion handler's liveness check.
func (s *State) ChunksSent() int64 { return atomic.LoadInt64(&s.sentCnt) }
func (s *State) TotalChunks() int64 { return s.total }

// markSent returns true iff (fileIndex, chunkIndex) had not already been
// recorded — used to decide whether this request should count toward
// progress, so browser retries don't double-count.
func (s *State) markSent(fileIndex, chunkIndex int) bool {
	key := chunkKey{fileIndex, chunkIndex}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sent[key]; ok {
		return false
	}
	s.sent[key] = struct{}{}
	atomic.AddInt64(&s.sentCnt, 1)
	return true
}

// Chunk reads, encrypts, and returns the ciphertext for (fileIndex,
// chunkIndex). The returned slice is backed by the state's buffer pool;
// callers must call ReleaseChunk(buf) once the response body has been
// written, so the buffer can be reused for the next request. duplicate
// reports whether this (fileIndex, chunkIndex) pair had already been
// recorded sent — callers use it to count dedup hits without the dedup
// set itself depending on metrics.
func (s *State) Chunk(fileIndex, chunkIndex int) (buf []byte, duplicate bool, err error) {
	file, err := s.Manifest.FileAt(fileIndex)
	if err != nil {
		return nil, false, err
	}

	start := int64(chunkIndex) * int64(s.Manifest.ChunkSize)
	if start >= file.Size {
		return nil, false, apperr.BadRequest("chunk out of range")
	}
	end := start + int64(s.Manifest.ChunkSize)
	if end > file.Size {
		end = file.Size
	}
	length := int(end - start)

	if s.markSent(fileIndex, chunkIndex) {
		s.Progress.IncrementFile(fileIndex)
	} else {
		duplicate = true
	}

	handle, err := s.handles.Open(fileIndex, file.Path)
	if err != nil {
		return nil, duplicate, apperr.Internal(fmt.Errorf("open file handle: %w", err))
	}

	plain := s.pool.Take()
	plain = plain[:length]
	if err := filehandle.ReadAt(handle, start, plain); err != nil {
		s.pool.Return(plain)
		return nil, duplicate, apperr.Internal(fmt.Errorf("read chunk %d/%d: %w", fileIndex, chunkIndex, err))
	}

	sealed := wdcrypto.EncryptChunk(s.Session.Cipher(), file.NonceBase, uint32(chunkIndex), plain)
	return sealed, duplicate, nil
}

// ReleaseChunk returns a buffer obtained from Chunk back to the pool.
func (s *State) ReleaseChunk(buf []byte) {
	s.pool.Return(buf)
}

// Complete finalizes the transfer: logs (via the caller) if fewer chunks
// were sent than expected, but trusts the client and completes anyway,
// then emits the terminal 100% progress signal.
func (s *State) Complete() {
	s.Progress.Complete()
}

// ServicePath names the route namespace this direction serves under.
func (s *State) ServicePath() string { return "send" }

// IsReceiving is always false for the send direction.
func (s *State) IsReceiving() bool { return false }

// TransferCount reports dedup-adjusted chunks sent against the total.
func (s *State) TransferCount() (completed, total int64) {
	return s.ChunksSent(), s.TotalChunks()
}

// Cleanup releases the file handles opened for this transfer.
func (s *State) Cleanup() error {
	return s.handles.Close()
}
