package receive

import (
	"os"
	"path/filepath"
	"testing"

	wdcrypto "github.com/kenneth/wiredrop/internal/crypto"
	"github.com/kenneth/wiredrop/internal/manifest"
	"github.com/kenneth/wiredrop/internal/session"
)

func newTestState(t *testing.T) (*State, *manifest.Manifest) {
	t.Helper()
	var key [32]byte
	sess, err := session.New(key)
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}

	dest := t.TempDir()
	st := New(sess, dest)

	var base wdcrypto.NonceBase
	copy(base[:], []byte("file0000"))

	m := &manifest.Manifest{
		ChunkSize: 8,
		Files: []manifest.FileEntry{
			{Index: 0, Name: "received.bin", Size: 16, NonceBase: base},
		},
	}
	return st, m
}

func seal(t *testing.T, st *State, m *manifest.Manifest, chunkIndex int, plaintext string) []byte {
	t.Helper()
	buf := make([]byte, len(plaintext), len(plaintext)+wdcrypto.AEADTagLen)
	copy(buf, plaintext)
	return wdcrypto.EncryptChunk(st.Session.Cipher(), m.Files[0].NonceBase, uint32(chunkIndex), buf)
}

func TestSetManifestThenWriteAndFinalize(t *testing.T) {
	st, m := newTestState(t)
	if err := st.SetManifest(m); err != nil {
		t.Fatalf("SetManifest: %v", err)
	}

	c0 := seal(t, st, m, 0, "01234567")
	c1 := seal(t, st, m, 1, "89abcdef")

	if _, err := st.WriteChunk(0, 1, c1); err != nil {
		t.Fatalf("WriteChunk(1): %v", err)
	}
	if _, err := st.WriteChunk(0, 0, c0); err != nil {
		t.Fatalf("WriteChunk(0): %v", err)
	}

	if err := st.Finalize(0); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(st.Destination, "received.bin"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "0123456789abcdef" {
		t.Fatalf("file content = %q, want %q", data, "0123456789abcdef")
	}

	if err := st.CompleteTransfer(); err != nil {
		t.Fatalf("CompleteTransfer: %v", err)
	}
}

func TestSetManifestRejectsUnsafeFilename(t *testing.T) {
	st, m := newTestState(t)
	m.Files[0].Name = "../escape.bin"
	if err := st.SetManifest(m); err == nil {
		t.Fatalf("expected path-safety error for ../escape.bin")
	}
}

func TestSetManifestRejectsAbsolutePath(t *testing.T) {
	st, m := newTestState(t)
	m.Files[0].Name = "/etc/passwd"
	if err := st.SetManifest(m); err == nil {
		t.Fatalf("expected path-safety error for absolute path")
	}
}

func TestSetManifestTwiceConflicts(t *testing.T) {
	st, m := newTestState(t)
	if err := st.SetManifest(m); err != nil {
		t.Fatalf("SetManifest: %v", err)
	}
	if err := st.SetManifest(m); err == nil {
		t.Fatalf("expected Conflict on second SetManifest")
	}
}

func TestWriteChunkTamperedCiphertextFails(t *testing.T) {
	st, m := newTestState(t)
	if err := st.SetManifest(m); err != nil {
		t.Fatalf("SetManifest: %v", err)
	}
	c0 := seal(t, st, m, 0, "01234567")
	c0[0] ^= 0xFF

	if _, err := st.WriteChunk(0, 0, c0); err == nil {
		t.Fatalf("expected authentication failure for tampered chunk")
	}
}

func TestCompleteTransferRejectsIncomplete(t *testing.T) {
	st, m := newTestState(t)
	if err := st.SetManifest(m); err != nil {
		t.Fatalf("SetManifest: %v", err)
	}
	c0 := seal(t, st, m, 0, "01234567")
	if _, err := st.WriteChunk(0, 0, c0); err != nil {
		t.Fatalf("WriteChunk: %v", err)
	}
	if err := st.CompleteTransfer(); err == nil {
		t.Fatalf("expected incomplete-transfer error")
	}
}

func TestWriteChunkRetryReportsDuplicateAndDoesNotDoubleCount(t *testing.T) {
	st, m := newTestState(t)
	if err := st.SetManifest(m); err != nil {
		t.Fatalf("SetManifest: %v", err)
	}
	c0 := seal(t, st, m, 0, "01234567")

	duplicate, err := st.WriteChunk(0, 0, c0)
	if err != nil {
		t.Fatalf("WriteChunk: %v", err)
	}
	if duplicate {
		t.Fatalf("first write for (0,0) reported as duplicate")
	}
	before := st.ChunksReceived()

	duplicate, err = st.WriteChunk(0, 0, c0)
	if err != nil {
		t.Fatalf("WriteChunk retry: %v", err)
	}
	if !duplicate {
		t.Fatalf("retry of (0,0) not reported as duplicate")
	}
	after := st.ChunksReceived()

	if after != before {
		t.Fatalf("ChunksReceived changed on retry: before=%d after=%d", before, after)
	}
}
