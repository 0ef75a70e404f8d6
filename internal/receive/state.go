// Package receive composes session, destination directory, and per-file
// writers into the receive-side chunk pipeline.
package receive

import (
	"fmt"
	"path/filepath"
	"strings"
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

// State owns everything needed to accept an incoming transfer: the
// session (auth + cipher), the destination directory, per-file write
// handles opened lazily on first chunk, and the client-authored manifest
// set once via SetManifest.
type State struct {
	Session     *session.Session
	Destination string

	mu       sync.Mutex
	manifest *manifest.Manifest
	Progress *progress.Tracker

	writers *filehandle.WriteRegistry

	dedupMu sync.Mutex
	written map[chunkKey]struct{}

	received int64
	total    int64
}

// New builds receive State rooted at destination. The manifest, and
// therefore total chunk count, is unknown until SetManifest is called.
func New(sess *session.Session, destination string) *State {
	return &State{
		Session:     sess,
		Destination: destination,
		writers:     filehandle.NewWriteRegistry(),
		written:     make(map[chunkKey]struct{}),
	}
}

// markReceived returns true iff (fileIndex, chunkIndex) had not already
// been recorded — used, like the send side's dedup set, to keep a POST
// retry of an already-written chunk from inflating chunks_received_total
// past total_chunks.
func (s *State) markReceived(fileIndex, chunkIndex int) bool {
	key := chunkKey{fileIndex, chunkIndex}
	s.dedupMu.Lock()
	defer s.dedupMu.Unlock()
	if _, ok := s.written[key]; ok {
		return false
	}
	s.written[key] = struct{}{}
	return true
}

// SetManifest validates m (path safety, duplicate indices) and adopts it
// as the session's manifest, deriving total_chunks from file sizes and
// chunk_size. Returns Conflict if a manifest has already been set.
func (s *State) SetManifest(m *manifest.Manifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.manifest != nil {
		return apperr.Conflict("manifest already set for this session")
	}

	if err := m.Validate(); err != nil {
		return err
	}
	for _, f := range m.Files {
		if err := validateFilename(f.Name); err != nil {
			return err
		}
	}

	total := int64(m.TotalChunks())
	fileChunks := make(map[int]int, len(m.Files))
	for _, f := range m.Files {
		fileChunks[f.Index] = f.ChunkCount(m.ChunkSize)
	}

	s.manifest = m
	s.total = total
	s.Progress = progress.New(total, fileChunks)
	return nil
}

// Manifest returns the manifest set by SetManifest, or nil if not yet set.
func (s *State) Manifest() *manifest.Manifest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.manifest
}

// validateFilename rejects absolute paths, parent-directory components,
// NUL bytes, and any directory separator — the destination directory is
// flat, so every manifest entry must resolve to a bare filename.
func validateFilename(name string) error {
	if name == "" {
		return apperr.BadRequest("filename must not be empty")
	}
	if strings.ContainsRune(name, 0) {
		return apperr.BadRequest("filename %q contains a NUL byte", name)
	}
	if filepath.IsAbs(name) {
		return apperr.BadRequest("filename %q must not be absolute", name)
	}
	clean := filepath.Clean(name)
	if clean != name || clean == ".." || strings.HasPrefix(clean, "../") || strings.ContainsAny(clean, `/\`) {
		return apperr.BadRequest("filename %q is not a safe flat filename", name)
	}
	return nil
}

// WriteChunk decrypts ciphertext with the file's nonce base and counter
// chunkIndex, then writes the plaintext at its computed offset. duplicate
// reports whether this (fileIndex, chunkIndex) pair had already been
// recorded received — the write still happens (so a retried POST lands
// the same bytes again, harmlessly), but chunks_received/progress only
// advance once, mirroring the send side's dedup set.
func (s *State) WriteChunk(fileIndex, chunkIndex int, ciphertext []byte) (duplicate bool, err error) {
	m := s.Manifest()
	if m == nil {
		return false, apperr.BadRequest("manifest not set")
	}
	file, err := m.FileAt(fileIndex)
	if err != nil {
		return false, err
	}

	plaintext, err := wdcrypto.DecryptChunk(s.Session.Cipher(), file.NonceBase, uint32(chunkIndex), ciphertext)
	if err != nil {
		return false, apperr.BadRequest("chunk authentication failed: %v", err)
	}

	dest := filepath.Join(s.Destination, file.Name)
	writer, err := s.writers.Open(fileIndex, dest, file.Size)
	if err != nil {
		return false, apperr.InsufficientStorage("open destination file %d: %v", fileIndex, err)
	}

	offset := int64(chunkIndex) * int64(m.ChunkSize)
	if err := filehandle.WriteAt(writer, offset, plaintext); err != nil {
		return false, apperr.InsufficientStorage("write chunk %d/%d: %v", fileIndex, chunkIndex, err)
	}

	if !s.markReceived(fileIndex, chunkIndex) {
		return true, nil
	}

	atomic.AddInt64(&s.received, 1)
	s.Progress.IncrementFile(fileIndex)
	return false, nil
}

// Finalize flushes, fsyncs, and size-checks fileIndex's writer.
func (s *State) Finalize(fileIndex int) error {
	m := s.Manifest()
	if m == nil {
		return apperr.BadRequest("manifest not set")
	}
	file, err := m.FileAt(fileIndex)
	if err != nil {
		return err
	}
	if err := s.writers.Finalize(fileIndex, file.Size); err != nil {
		return apperr.BadRequest("finalize file %d: %v", fileIndex, err)
	}
	return nil
}

// ChunksReceived and TotalChunks report counters used by CompleteTransfer.
func (s *State) ChunksReceived() int64 { return atomic.LoadInt64(&s.received) }
func (s *State) TotalChunks() int64    { return s.total }

// CompleteTransfer requires every expected chunk to have been received,
// closes all writers, and emits the terminal progress signal. Unlike the
// send side, receive does not trust the client here: an incomplete
// transfer is a hard BadRequest, because accepting it would silently
// leave a truncated file on disk.
func (s *State) CompleteTransfer() error {
	received := s.ChunksReceived()
	total := s.TotalChunks()
	if received < total {
		return apperr.BadRequest("incomplete: %d/%d chunks received", received, total)
	}
	if err := s.writers.Close(); err != nil {
		return apperr.Internal(fmt.Errorf("close writers: %w", err))
	}
	if s.Progress != nil {
		s.Progress.Complete()
	}
	return nil
}

// ServicePath names the route namespace this direction serves under.
func (s *State) ServicePath() string { return "receive" }

// IsReceiving is always true for the receive direction.
func (s *State) IsReceiving() bool { return true }

// TransferCount reports chunks received against the total, or 0/0 before
// a manifest has been set.
func (s *State) TransferCount() (completed, total int64) {
	return s.ChunksReceived(), s.TotalChunks()
}

// Cleanup closes the write handles opened for this transfer.
func (s *State) Cleanup() error {
	return s.writers.Close()
}
