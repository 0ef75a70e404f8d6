// Package progress tracks per-file and aggregate transfer progress and
// broadcasts percentage updates to observers (a terminal UI or a
// companion web client).
package progress

import (
	"sync"
	"sync/atomic"
)

// FileState is the lifecycle of a single file's transfer.
type FileState int

const (
	Waiting FileState = iota
	InProgress
	Complete
	Failed
)

func (s FileState) String() string {
	switch s {
	case Waiting:
		return "waiting"
	case InProgress:
		return "in_progress"
	case Complete:
		return "complete"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// FileProgress is a snapshot of one file's transfer progress.
type FileProgress struct {
	Index      int
	State      FileState
	Percent    float64
	FailReason string
}

// Snapshot is the aggregate progress broadcast to observers.
type Snapshot struct {
	CompletedChunks int64
	TotalChunks     int64
	Percent         float64
	Files           []FileProgress
}

// Tracker maintains per-file state and an aggregate chunk counter, capping
// the emitted aggregate percentage at 99.0 until Complete is explicitly
// called, at which point it emits exactly 100.0.
type Tracker struct {
	mu    sync.Mutex
	files map[int]*fileEntry

	totalChunks int64
	completed   int64
	done        bool

	subscribers []chan Snapshot
}

type fileEntry struct {
	totalChunks     int
	completedChunks int
	state           FileState
	failReason      string
}

// New creates a tracker for totalChunks chunks across the files described
// by fileChunkCounts (file index -> chunk count).
func New(totalChunks int64, fileChunkCounts map[int]int) *Tracker {
	files := make(map[int]*fileEntry, len(fileChunkCounts))
	for idx, count := range fileChunkCounts {
		files[idx] = &fileEntry{totalChunks: count, state: Waiting}
	}
	return &Tracker{
		files:       files,
		totalChunks: totalChunks,
	}
}

// Subscribe returns a channel that receives a Snapshot on every update.
// The channel is buffered; a slow observer drops updates rather than
// blocking the chunk pipeline — only the latest snapshot matters to a UI.
func (t *Tracker) Subscribe() <-chan Snapshot {
	ch := make(chan Snapshot, 8)
	t.mu.Lock()
	t.subscribers = append(t.subscribers, ch)
	t.mu.Unlock()
	return ch
}

// IncrementFile records one more completed chunk for fileIndex and
// advances the aggregate counter, emitting an updated snapshot.
func (t *Tracker) IncrementFile(fileIndex int) {
	t.mu.Lock()

	if f, ok := t.files[fileIndex]; ok {
		f.completedChunks++
		switch {
		case f.state == Failed:
			// Failed is terminal; later chunks do not move the file out of it.
		case f.completedChunks >= f.totalChunks:
			f.state = Complete
		default:
			f.state = InProgress
		}
	}
	atomic.AddInt64(&t.completed, 1)

	snap := t.snapshotLocked()
	t.mu.Unlock()

	t.broadcast(snap)
}

// FailFile marks fileIndex as Failed with reason. Failed is a terminal
// state — it is the one transition allowed to move backward from
// InProgress or Waiting.
func (t *Tracker) FailFile(fileIndex int, reason string) {
	t.mu.Lock()
	if f, ok := t.files[fileIndex]; ok {
		f.state = Failed
		f.failReason = reason
	}
	snap := t.snapshotLocked()
	t.mu.Unlock()

	t.broadcast(snap)
}

// Complete marks the transfer done and emits a final snapshot at exactly
// 100.0%, regardless of the raw chunk counters (a client that reports
// completion with chunks_sent < total_chunks is still trusted, per the
// send-completion contract).
func (t *Tracker) Complete() {
	t.mu.Lock()
	t.done = true
	for _, f := range t.files {
		if f.state != Failed {
			f.state = Complete
		}
	}
	snap := t.snapshotLocked()
	t.mu.Unlock()

	t.broadcast(snap)
}

// Snapshot returns the current aggregate and per-file progress.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() Snapshot {
	completed := atomic.LoadInt64(&t.completed)
	total := t.totalChunks

	var percent float64
	if t.done {
		percent = 100.0
	} else if total > 0 {
		percent = float64(completed) / float64(total) * 100.0
		if percent > 99.0 {
			percent = 99.0
		}
	}

	files := make([]FileProgress, 0, len(t.files))
	for idx, f := range t.files {
		fp := FileProgress{Index: idx, State: f.state, FailReason: f.failReason}
		if f.totalChunks > 0 {
			fp.Percent = float64(f.completedChunks) / float64(f.totalChunks) * 100.0
			if fp.Percent > 99.0 && f.state != Complete {
				fp.Percent = 99.0
			}
		}
		if f.state == Complete {
			fp.Percent = 100.0
		}
		files = append(files, fp)
	}

	return Snapshot{
		CompletedChunks: completed,
		TotalChunks:     total,
		Percent:         percent,
		Files:           files,
	}
}

func (t *Tracker) broadcast(snap Snapshot) {
	t.mu.Lock()
	subs := append([]chan Snapshot{}, t.subscribers...)
	t.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- snap:
		default:
			// Slow subscriber: drop this update, it'll catch the next one.
		}
	}
}
