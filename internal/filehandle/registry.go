// Package filehandle provides lazy, shared, positioned-read and
// positioned-write file handles keyed by manifest file index.
package filehandle

import (
	"fmt"
	"os"
	"sync"
)

// ReadRegistry lazily opens one *os.File per file index for positioned
// reads and keeps it open until Close. Insertion is atomic with respect
// to concurrent first-access from multiple chunk requests for the same
// index; the file's own ReadAt is safe for concurrent callers once open.
type ReadRegistry struct {
	mu      sync.Mutex
	handles map[int]*os.File
}

// NewReadRegistry returns an empty registry.
func NewReadRegistry() *ReadRegistry {
	return &ReadRegistry{handles: make(map[int]*os.File)}
}

// Open returns the shared handle for index, opening path read-only on
// first access. Subsequent calls for the same index return the same
// handle without touching the filesystem again.
func (r *ReadRegistry) Open(index int, path string) (*os.File, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if f, ok := r.handles[index]; ok {
		return f, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file %d (%s): %w", index, path, err)
	}
	r.handles[index] = f
	return f, nil
}

// ReadAt fills dst exactly from f at offset, failing if
// fewer than len(dst) bytes are available — callers are expected to have
// already bounds-checked against the file's declared size.
func ReadAt(f *os.File, offset int64, dst []byte) error {
	n, err := f.ReadAt(dst, offset)
	if n != len(dst) {
		if err == nil {
			err = fmt.Errorf("short read: got %d bytes, want %d", n, len(dst))
		}
		return err
	}
	return nil
}

// Close closes every handle currently held. Errors from individual closes
// are collected but do not stop the others from closing.
func (r *ReadRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for idx, f := range r.handles {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close file %d: %w", idx, err)
		}
	}
	r.handles = make(map[int]*os.File)
	return firstErr
}

// WriteRegistry mirrors ReadRegistry for the receive side: one writable,
// pre-extended handle per file index, opened lazily on first chunk.
type WriteRegistry struct {
	mu      sync.Mutex
	handles map[int]*os.File
}

// NewWriteRegistry returns an empty registry.
func NewWriteRegistry() *WriteRegistry {
	return &WriteRegistry{handles: make(map[int]*os.File)}
}

// Open returns the shared handle for index, creating and pre-extending it
// to size on first access (sparse where the filesystem supports it) so
// writes in any chunk order still produce a file of the correct length.
func (r *WriteRegistry) Open(index int, path string, size int64) (*os.File, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if f, ok := r.handles[index]; ok {
		return f, nil
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create file %d (%s): %w", index, path, err)
	}
	if size > 0 {
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, fmt.Errorf("preallocate file %d to %d bytes: %w", index, size, err)
		}
	}
	r.handles[index] = f
	return f, nil
}

// Get returns the handle for index if it has already been opened.
func (r *WriteRegistry) Get(index int) (*os.File, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.handles[index]
	return f, ok
}

// WriteAt writes plaintext to f at offset.
func WriteAt(f *os.File, offset int64, plaintext []byte) error {
	n, err := f.WriteAt(plaintext, offset)
	if err != nil {
		return err
	}
	if n != len(plaintext) {
		return fmt.Errorf("short write: wrote %d bytes, want %d", n, len(plaintext))
	}
	return nil
}

// Finalize flushes and fsyncs the handle for index, then compares its
// on-disk size against expectedSize.
func (r *WriteRegistry) Finalize(index int, expectedSize int64) error {
	r.mu.Lock()
	f, ok := r.handles[index]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("finalize: no writer open for file %d", index)
	}

	if err := f.Sync(); err != nil {
		return fmt.Errorf("fsync file %d: %w", index, err)
	}

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat file %d: %w", index, err)
	}
	if info.Size() != expectedSize {
		return fmt.Errorf("finalize file %d: on-disk size %d != declared size %d", index, info.Size(), expectedSize)
	}
	return nil
}

// Close closes every handle currently held.
func (r *WriteRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for idx, f := range r.handles {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close file %d: %w", idx, err)
		}
	}
	r.handles = make(map[int]*os.File)
	return firstErr
}
