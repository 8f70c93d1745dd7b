// Package stats holds the shared I/O statistics sink the tree core and the
// page store report into (§1, "the I/O statistics holder" external
// collaborator); WAL appends are counted by the tree core. Grounded on the
// teacher's inline atomic counters in btree.go, generalized into its own
// package so the collaborators can share one sink instead of independent
// counter sets.
package stats

import "sync/atomic"

// IO accumulates lock-free counters describing engine activity. The zero
// value (via New) is ready to use.
type IO struct {
	PageReads    atomic.Int64
	PageWrites   atomic.Int64
	PageAllocs   atomic.Int64
	PageRecycles atomic.Int64
	BytesWritten atomic.Int64
	WALAppends   atomic.Int64

	TreeReads      atomic.Int64
	TreeWrites     atomic.Int64
	Retries        atomic.Int64
	RetryRoots     atomic.Int64
	LockExhausted  atomic.Int64
}

// New returns a ready-to-use, zeroed IO.
func New() *IO { return &IO{} }

// Snapshot is a point-in-time, non-atomic copy suitable for logging or
// printing (e.g. from cmd/demo or common/benchmark).
type Snapshot struct {
	PageReads, PageWrites, PageAllocs, PageRecycles int64
	BytesWritten, WALAppends                        int64
	TreeReads, TreeWrites, Retries, RetryRoots      int64
	LockExhausted                                   int64
}

func (s *IO) Snapshot() Snapshot {
	return Snapshot{
		PageReads:     s.PageReads.Load(),
		PageWrites:    s.PageWrites.Load(),
		PageAllocs:    s.PageAllocs.Load(),
		PageRecycles:  s.PageRecycles.Load(),
		BytesWritten:  s.BytesWritten.Load(),
		WALAppends:    s.WALAppends.Load(),
		TreeReads:     s.TreeReads.Load(),
		TreeWrites:    s.TreeWrites.Load(),
		Retries:       s.Retries.Load(),
		RetryRoots:    s.RetryRoots.Load(),
		LockExhausted: s.LockExhausted.Load(),
	}
}
