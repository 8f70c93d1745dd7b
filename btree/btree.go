package btree

import (
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/intellect4all/bptree-engine/failure"
	"github.com/intellect4all/bptree-engine/pagestore"
	"github.com/intellect4all/bptree-engine/wal"
)

// walReader is satisfied by wal.Physical. A Log implementation that cannot
// replay its own records (e.g. a forwarding shim to a remote log) simply
// skips recovery; New still succeeds against a durably-flushed store.
type walReader interface {
	ReadAll() ([]wal.Record, error)
}

// metaPageID is the well-known location of the tree's meta page. Page 0 is
// reserved by pagestore as the "no page" sentinel, so the meta page is
// always the first page a fresh tree allocates.
const metaPageID uint64 = 1

// Tree is a concurrent, persistent B+Tree index over an external
// pagestore.Store. It holds no page bytes itself; every read or mutation
// goes through Config.Store's latches, and every structural change that
// must survive a crash is mirrored to Config.WAL before its latch is
// released.
//
// Grounded on the teacher's BTree struct (btree.go), restructured so the
// page cache, the WAL, and the per-page latch all live in the collaborator
// packages instead of being fields of this struct.
type Tree struct {
	cfg Config

	// removalCounter is bumped every time an inner page's routing key is
	// replaced in place (the ancestor-key invariant repair after a leaf's
	// rightmost live key is removed). A reader captures this value when it
	// starts descending and restarts from the meta page if the leaf it
	// lands on shows a removal counter newer than its own snapshot (§5,
	// §9 "Global mutable state").
	removalCounter atomic.Uint64

	seqWrite atomic.Bool
	closed   atomic.Bool
}

// New opens (or, if Config.Store is empty, bootstraps) a tree. The caller
// supplies every collaborator through Config; DefaultConfig fills in the
// ones with a safe zero-cost default.
func New(cfg Config) (*Tree, error) {
	if cfg.Store == nil {
		return nil, errors.New("btree: Config.Store is required")
	}
	if cfg.Stats == nil {
		cfg.Stats = DefaultConfig(cfg.Name).Stats
	}
	if cfg.Reuse == nil {
		cfg.Reuse = DefaultConfig(cfg.Name).Reuse
	}

	t := &Tree{cfg: cfg}
	t.seqWrite.Store(cfg.SequentialWriteOptsEnabled)

	if err := t.bootstrap(); err != nil {
		return nil, err
	}
	if cfg.WAL != nil {
		if err := t.recoverFromWAL(); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// bootstrap creates the meta page and an empty root leaf if the store does
// not yet have a meta page. A second New against the same Store is a no-op:
// Acquire on metaPageID succeeds once the page exists.
func (t *Tree) bootstrap() error {
	f, err := t.cfg.Store.Acquire(metaPageID)
	if err == nil {
		t.cfg.Store.Release(f)
		return nil
	}

	metaID, err := t.cfg.Store.AllocatePage()
	if err != nil {
		return err
	}
	if metaID != metaPageID {
		return newCorruption(t.cfg.Name, "meta page did not land at the reserved identifier", metaID)
	}
	rootID, err := t.cfg.Store.AllocatePage()
	if err != nil {
		return err
	}

	mf, err := t.cfg.Store.Acquire(metaID)
	if err != nil {
		return err
	}
	defer t.cfg.Store.Release(mf)
	mbuf, err := t.cfg.Store.WriteLatch(mf)
	if err != nil {
		return err
	}
	initMeta(mbuf, metaID, t.cfg.InlineSize, rootID)
	if err := t.cfg.Store.WriteUnlatch(mf, pagestore.WALPolicyNone); err != nil {
		return err
	}

	rf, err := t.cfg.Store.Acquire(rootID)
	if err != nil {
		return err
	}
	defer t.cfg.Store.Release(rf)
	rbuf, err := t.cfg.Store.WriteLatch(rf)
	if err != nil {
		return err
	}
	InitPage(rbuf, rootID, TypeLeaf, t.cfg.PageFlag)
	return t.cfg.Store.WriteUnlatch(rf, pagestore.WALPolicyNone)
}

// recoverFromWAL replays every delta record onto its page's current
// identity. Records are physical after-images, so replay is idempotent:
// applying the same record twice just rewrites the same bytes.
func (t *Tree) recoverFromWAL() error {
	reader, ok := t.cfg.WAL.(walReader)
	if !ok {
		return nil
	}
	records, err := reader.ReadAll()
	if err != nil || len(records) == 0 {
		return err
	}
	for _, rec := range records {
		f, err := t.cfg.Store.Acquire(rec.PageID)
		if err != nil {
			continue // page was recycled away after this record; later records own it
		}
		buf, err := t.cfg.Store.WriteLatch(f)
		if err != nil {
			t.cfg.Store.Release(f)
			continue
		}
		copy(buf, rec.Payload)
		t.cfg.Store.WriteUnlatch(f, pagestore.WALPolicyNone)
		t.cfg.Store.Release(f)
	}
	return t.cfg.Store.Sync()
}

// EnableSequentialWriteMode turns on the forward-biased split point
// (mid = floor(0.85*count)) for workloads that insert in ascending key
// order, where it keeps the back page nearly full instead of half-empty.
func (t *Tree) EnableSequentialWriteMode(enabled bool) {
	t.seqWrite.Store(enabled)
}

// Close releases the tree's hold on its collaborators. It does not close
// Config.Store or Config.WAL — the caller owns their lifetime, since they
// may be shared with other trees in the same Group.
func (t *Tree) Close() error {
	t.closed.Store(true)
	return nil
}

func (t *Tree) checkOpen() error {
	if t.closed.Load() {
		return ErrClosed
	}
	return nil
}

// lockExhausted builds the error a retry loop returns once it has used up
// Config.LockRetries attempts, counting it in Config.Stats and, if a
// failure processor is configured, notifying it (§7, "Failure reporting") so
// an embedder can page on repeated contention instead of only seeing it
// surface as an error return.
func (t *Tree) lockExhausted(retries int) error {
	t.cfg.Stats.LockExhausted.Add(1)
	if t.cfg.Failure != nil {
		t.cfg.Failure.Notify(failure.Context{
			Tree:       t.cfg.Name,
			Group:      uint32(t.cfg.Group),
			MetaPageID: metaPageID,
			Retries:    retries,
			Err:        errRetryRoot,
		})
	}
	return &LockRetryExhaustedError{Tree: t.cfg.Name, Retries: retries, Cause: errRetryRoot}
}

// readMeta acquires a read latch on the meta page, hands its buffer to fn,
// and releases the latch before returning. fn must not retain buf.
func (t *Tree) readMeta(fn func(m *Meta) error) error {
	f, err := t.cfg.Store.Acquire(metaPageID)
	if err != nil {
		return err
	}
	defer t.cfg.Store.Release(f)
	buf, err := t.cfg.Store.ReadLatch(f)
	if err != nil {
		return err
	}
	defer t.cfg.Store.ReadUnlatch(f)
	return fn(wrapMeta(buf))
}

// Size walks the tree's leaf level left to right via Forward pointers and
// counts live items. It does not hold any single latch across the whole
// walk: each leaf is read-latched, counted, and released before its
// successor is acquired.
func (t *Tree) Size() (int, error) {
	if err := t.checkOpen(); err != nil {
		return 0, err
	}
	var leafID uint64
	if err := t.readMeta(func(m *Meta) error {
		if m.Destroyed() {
			return ErrDestroyed
		}
		leafID = m.FirstPageID(0)
		return nil
	}); err != nil {
		return 0, err
	}

	total := 0
	for leafID != 0 {
		f, err := t.cfg.Store.Acquire(leafID)
		if err != nil {
			return 0, err
		}
		buf, err := t.cfg.Store.ReadLatch(f)
		if err != nil {
			t.cfg.Store.Release(f)
			return 0, err
		}
		p := WrapPage(buf)
		total += int(p.Count())
		next := p.Forward()
		t.cfg.Store.ReadUnlatch(f)
		t.cfg.Store.Release(f)
		leafID = next
	}
	return total, nil
}

// IsEmpty reports whether the tree currently holds any keys.
func (t *Tree) IsEmpty() (bool, error) {
	n, err := t.Size()
	return n == 0, err
}

// RootLevel returns the tree's current height (0 when the root is a leaf).
func (t *Tree) RootLevel() (int, error) {
	if err := t.checkOpen(); err != nil {
		return 0, err
	}
	var level int
	err := t.readMeta(func(m *Meta) error {
		level = m.RootLevel()
		return nil
	})
	return level, err
}
