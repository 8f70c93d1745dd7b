package btree

import (
	"github.com/go-logr/logr"

	"github.com/intellect4all/bptree-engine/failure"
	"github.com/intellect4all/bptree-engine/pagestore"
	"github.com/intellect4all/bptree-engine/reuse"
	"github.com/intellect4all/bptree-engine/stats"
	"github.com/intellect4all/bptree-engine/wal"
)

// Config holds the construction-time options for a Tree. The zero value is
// not usable directly; start from DefaultConfig.
type Config struct {
	// Name identifies the tree in logs and in failure-processor reports.
	Name string
	// Group scopes delta records and diagnostics when several trees share
	// one WAL (e.g. a primary index and its secondary indexes).
	Group wal.GroupID

	Store   pagestore.Store
	WAL     wal.Log
	Reuse   *reuse.List
	Failure failure.Processor
	Stats   *stats.IO
	Log     logr.Logger

	// LockRetries bounds the per-operation retry loop (§5, Cancellation).
	LockRetries int
	// SequentialWriteOptsEnabled moves the split point of leaf and inner
	// splits to mid = floor(0.85*count): the back page keeps most items and
	// ascending inserts land in a nearly empty forward page.
	SequentialWriteOptsEnabled bool
	// InlineSize is an opaque hint stored verbatim in the meta page.
	InlineSize uint16
	// PageFlag is the default flag word stamped on newly allocated pages.
	PageFlag uint16
	// CanGetRowFromInner selects the inner-cell encoding that carries a
	// value field after the routing key. Separators are promoted from leaves
	// as keys only, so that field stays empty, and FindFirst/FindLast always
	// descend to a leaf.
	CanGetRowFromInner bool
	// MinFill, MaxFill are fractions of a page's max item count. Both
	// default to 0.0 and the tree does not read them: a page is merged away
	// only when it becomes completely empty.
	MinFill, MaxFill float64
	// RandomizedMergeEnabled is stored but not read by the tree; there is
	// no probabilistic merge path. Off by default.
	RandomizedMergeEnabled bool
	// DestroyYieldBudget is how many pages Destroy recycles before it
	// drains its bag to the reuse list early, regardless of
	// DestroyDrainBatch. Destroy holds one page latch at a time, so there
	// are no latches to release at a yield. Zero disables the early drain.
	DestroyYieldBudget int
	// DestroyDrainBatch is how many recycled page IDs accumulate in
	// Destroy's bag before it drains to the reuse list.
	DestroyDrainBatch int
}

// DefaultConfig returns a Config with the documented defaults. Callers must
// still set Store (and normally WAL); every other collaborator has a usable
// zero-cost default.
func DefaultConfig(name string) Config {
	return Config{
		Name:              name,
		LockRetries:       1000,
		PageFlag:          0,
		MinFill:           0.0,
		MaxFill:           0.0,
		DestroyYieldBudget: 0,
		DestroyDrainBatch: 128,
		Log:               logr.Discard(),
		Stats:             stats.New(),
		Reuse:             reuse.NewList(),
	}
}
