// Package manifest defines the file list exchanged between send and
// receive peers and the chunk-count arithmetic derived from it.
package manifest

import (
	"encoding/base64"

	"github.com/kenneth/wiredrop/internal/apperr"
	"github.com/kenneth/wiredrop/internal/crypto"
)

// FileEntry describes one file in a transfer. Index is stable for the
// life of the manifest and is what clients use to address chunk requests.
type FileEntry struct {
	Index     int              `json:"index"`
	Name      string           `json:"name"`
	Path      string           `json:"-"` // send-side only, never serialized to clients
	Size      int64            `json:"size"`
	NonceBase crypto.NonceBase `json:"-"`
}

// NonceB64 returns the file's nonce base, URL-safe base64 encoded, for
// inclusion in the client-facing manifest JSON.
func (f FileEntry) NonceB64() string {
	return base64.RawURLEncoding.EncodeToString(f.NonceBase[:])
}

// ChunkCount returns the number of chunks this file splits into at
// chunkSize, i.e. ceil(size/chunkSize). A zero-byte file still counts as
// one (empty) chunk so its transfer is observable in progress.
func (f FileEntry) ChunkCount(chunkSize int) int {
	if f.Size == 0 {
		return 1
	}
	return int((f.Size + int64(chunkSize) - 1) / int64(chunkSize))
}

// Manifest is the ordered file list plus the transfer settings both peers
// agree on. It is immutable once built.
type Manifest struct {
	Files       []FileEntry `json:"files"`
	ChunkSize   int         `json:"chunk_size"`
	Concurrency int         `json:"concurrency"`
}

// TotalChunks sums ChunkCount across every file.
func (m *Manifest) TotalChunks() int {
	total := 0
	for _, f := range m.Files {
		total += f.ChunkCount(m.ChunkSize)
	}
	return total
}

// FileAt returns the file at index i, or an error if i is out of bounds.
func (m *Manifest) FileAt(i int) (*FileEntry, error) {
	if i < 0 || i >= len(m.Files) {
		return nil, apperr.BadRequest("file index %d out of range", i)
	}
	return &m.Files[i], nil
}

// Validate checks structural invariants that don't depend on the
// filesystem: no duplicate indices, indices forming a dense 0..n-1 range.
// Filename path-safety is validated separately since it only applies when
// a manifest arrives over the wire (receive side).
func (m *Manifest) Validate() error {
	seen := make(map[int]bool, len(m.Files))
	for _, f := range m.Files {
		if f.Index < 0 || f.Index >= len(m.Files) {
			return apperr.BadRequest("file index %d out of range 0..%d", f.Index, len(m.Files)-1)
		}
		if seen[f.Index] {
			return apperr.Conflict("duplicate file index %d in manifest", f.Index)
		}
		seen[f.Index] = true
	}
	if m.ChunkSize <= 0 {
		return apperr.BadRequest("chunk_size must be positive")
	}
	return nil
}
