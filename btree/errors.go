package btree

import (
	"fmt"

	"github.com/pkg/errors"
)

// Sentinel control-flow signals. They never escape a retry loop; every
// descent/finish path that returns one of these is caught by the caller and
// turned into either another iteration or a restart from the meta page.
var (
	errRetry     = errors.New("btree: retry")
	errRetryRoot = errors.New("btree: retry from root")
)

// ErrDuplicateKey is returned by PutX, the insert-only variant of Put, when
// the key already exists.
var ErrDuplicateKey = errors.New("btree: duplicate key")

// ErrKeyNotFound is returned by FindOne/FindFirst/FindLast and RemoveX when
// the key (or any entry) is absent.
var ErrKeyNotFound = errors.New("btree: key not found")

// ErrKeyEmpty guards against a nil/zero-length key, which cannot be ordered.
var ErrKeyEmpty = errors.New("btree: key cannot be empty")

// ErrDestroyed is observed by any operation that finds the tree's destroyed
// flag set, either before starting or between retry iterations.
var ErrDestroyed = errors.New("btree: tree is destroyed")

// ErrInterrupted is observed when the process-wide interrupted flag is set
// between retry iterations.
var ErrInterrupted = errors.New("btree: operation interrupted")

// ErrNodeStopping is propagated when the page memory manager refuses
// allocation because the owning node is shutting down.
var ErrNodeStopping = errors.New("btree: node stopping")

// ErrOutOfMemory is propagated from the page memory manager.
var ErrOutOfMemory = errors.New("btree: out of memory")

// ErrClosed is returned once the tree has been closed.
var ErrClosed = errors.New("btree: tree closed")

// LockRetryExhaustedError is returned when an operation's bounded retry
// budget (Config.LockRetries) is exhausted. The failure processor is
// notified with the same context before this error is returned to the
// caller.
type LockRetryExhaustedError struct {
	Tree    string
	Retries int
	Cause   error
}

func (e *LockRetryExhaustedError) Error() string {
	return fmt.Sprintf("btree(%s): lock retry budget (%d) exhausted: %v", e.Tree, e.Retries, e.Cause)
}

func (e *LockRetryExhaustedError) Unwrap() error { return e.Cause }

// CorruptedDataStructureError reports a failed runtime invariant check. It
// always carries the list of page IDs implicated in the violation so the
// caller and the operator can locate the damage. It is returned to the
// caller only; the failure processor is not notified of it.
type CorruptedDataStructureError struct {
	Tree    string
	Reason  string
	PageIDs []uint64
	cause   error
}

func newCorruption(tree, reason string, pageIDs ...uint64) *CorruptedDataStructureError {
	return &CorruptedDataStructureError{
		Tree:    tree,
		Reason:  reason,
		PageIDs: pageIDs,
		cause:   errors.WithStack(errors.New(reason)),
	}
}

func (e *CorruptedDataStructureError) Error() string {
	return fmt.Sprintf("btree(%s): corrupted data structure: %s (pages %v)", e.Tree, e.Reason, e.PageIDs)
}

func (e *CorruptedDataStructureError) Unwrap() error { return e.cause }

// StackTrace satisfies github.com/pkg/errors' stack-tracer interface so
// callers that format with "%+v" see where the corruption was detected.
func (e *CorruptedDataStructureError) StackTrace() errors.StackTrace {
	type stackTracer interface{ StackTrace() errors.StackTrace }
	if st, ok := e.cause.(stackTracer); ok {
		return st.StackTrace()
	}
	return nil
}
