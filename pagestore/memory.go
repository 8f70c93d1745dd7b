package pagestore

import (
	"os"
	"sync"
	"sync/atomic"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/go-logr/logr"
	"github.com/pkg/errors"

	"github.com/intellect4all/bptree-engine/stats"
)

// Memory is the reference Store implementation. It is grounded on the
// teacher's Pager (file-backed pages, an in-memory cache, dirty tracking)
// but restructured in two ways the spec requires and the teacher did not
// have: a real per-page latch (the teacher serialized all structural
// changes behind one BTree-wide mutex) and a cost-aware admission/eviction
// policy (ristretto) driving which clean pages get dropped from memory,
// instead of a hand-rolled container/list LRU.
type Memory struct {
	file     *os.File
	pageSize int

	entriesMu sync.Mutex
	entries   map[uint64]*frameEntry
	cache     *ristretto.Cache[uint64, struct{}]

	nextID atomic.Uint64
	closed atomic.Bool

	log   logr.Logger
	stats *stats.IO
}

type frameEntry struct {
	mu      sync.RWMutex
	buf     []byte
	dirty   bool
	version atomic.Uint64 // bumped by Recycle; a Frame's latch calls compare against this
	pins    atomic.Int32
}

// Config configures a Memory store.
type Config struct {
	Path         string
	PageSize     int
	CacheNumKeys int64 // ristretto NumCounters sizing hint
	CacheMaxCost int64 // ristretto MaxCost, in pages
	Log          logr.Logger
	Stats        *stats.IO
}

// Open creates or reopens a file-backed Memory store.
func Open(cfg Config) (*Memory, error) {
	if cfg.PageSize == 0 {
		cfg.PageSize = 4096
	}
	if cfg.CacheMaxCost == 0 {
		cfg.CacheMaxCost = 50_000
	}
	if cfg.CacheNumKeys == 0 {
		cfg.CacheNumKeys = cfg.CacheMaxCost * 10
	}
	if cfg.Stats == nil {
		cfg.Stats = stats.New()
	}

	f, err := os.OpenFile(cfg.Path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "open page file")
	}

	m := &Memory{
		file:     f,
		pageSize: cfg.PageSize,
		entries:  make(map[uint64]*frameEntry),
		log:      cfg.Log,
		stats:    cfg.Stats,
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "stat page file")
	}
	next := uint64(st.Size() / int64(cfg.PageSize))
	if next < 1 {
		next = 1 // page 0 is reserved as the "no page" sentinel
	}
	m.nextID.Store(next)

	cache, err := ristretto.NewCache(&ristretto.Config[uint64, struct{}]{
		NumCounters: cfg.CacheNumKeys,
		MaxCost:     cfg.CacheMaxCost,
		BufferItems: 64,
		OnEvict: func(item *ristretto.Item[struct{}]) {
			m.evict(item.Key)
		},
	})
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "create ristretto cache")
	}
	m.cache = cache

	return m, nil
}

func (m *Memory) PageSize() int { return m.pageSize }

func (m *Memory) AllocatePage() (uint64, error) {
	if m.closed.Load() {
		return 0, ErrClosed
	}
	id := m.nextID.Add(1) - 1

	buf := make([]byte, m.pageSize)
	m.entriesMu.Lock()
	m.entries[id] = &frameEntry{buf: buf, dirty: true}
	m.entriesMu.Unlock()
	m.cache.Set(id, struct{}{}, 1)
	m.stats.PageAllocs.Add(1)
	return id, nil
}

func (m *Memory) Acquire(id uint64) (*Frame, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	e, err := m.loadEntry(id)
	if err != nil {
		return nil, err
	}
	e.pins.Add(1)
	m.cache.Get(id) // touch for recency
	return &Frame{id: id, version: e.version.Load()}, nil
}

func (m *Memory) Release(f *Frame) {
	m.entriesMu.Lock()
	e := m.entries[f.id]
	m.entriesMu.Unlock()
	if e != nil {
		e.pins.Add(-1)
	}
}

func (m *Memory) entry(id uint64) *frameEntry {
	m.entriesMu.Lock()
	defer m.entriesMu.Unlock()
	return m.entries[id]
}

// loadEntry returns the in-memory entry for id, reading it from the file
// and re-registering it with the cache if it had been evicted.
func (m *Memory) loadEntry(id uint64) (*frameEntry, error) {
	m.entriesMu.Lock()
	e, ok := m.entries[id]
	if ok {
		m.entriesMu.Unlock()
		return e, nil
	}
	m.entriesMu.Unlock()

	buf := make([]byte, m.pageSize)
	if _, err := m.file.ReadAt(buf, int64(id)*int64(m.pageSize)); err != nil {
		return nil, errors.Wrapf(err, "read page %d", id)
	}
	m.stats.PageReads.Add(1)

	m.entriesMu.Lock()
	defer m.entriesMu.Unlock()
	if e, ok := m.entries[id]; ok {
		return e, nil
	}
	e = &frameEntry{buf: buf}
	m.entries[id] = e
	m.cache.Set(id, struct{}{}, 1)
	return e, nil
}

func (m *Memory) ReadLatch(f *Frame) ([]byte, error) {
	e := m.entry(f.id)
	if e == nil {
		return nil, ErrRecycled
	}
	e.mu.RLock()
	if f.version != e.version.Load() {
		e.mu.RUnlock()
		return nil, ErrRecycled
	}
	return e.buf, nil
}

func (m *Memory) ReadUnlatch(f *Frame) {
	if e := m.entry(f.id); e != nil {
		e.mu.RUnlock()
	}
}

func (m *Memory) WriteLatch(f *Frame) ([]byte, error) {
	e := m.entry(f.id)
	if e == nil {
		return nil, ErrRecycled
	}
	e.mu.Lock()
	if f.version != e.version.Load() {
		e.mu.Unlock()
		return nil, ErrRecycled
	}
	e.dirty = true
	return e.buf, nil
}

func (m *Memory) WriteUnlatch(f *Frame, policy WALPolicy) error {
	e := m.entry(f.id)
	if e == nil {
		return ErrRecycled
	}
	e.mu.Unlock()
	_ = policy // the caller (btree.Tree) is the one that actually appends to the WAL before calling this
	return nil
}

func (m *Memory) Recycle(f *Frame, policy WALPolicy) error {
	e := m.entry(f.id)
	if e == nil {
		return ErrRecycled
	}
	e.mu.Lock()
	e.version.Add(1)
	for i := range e.buf {
		e.buf[i] = 0
	}
	e.dirty = true
	e.mu.Unlock()
	m.stats.PageRecycles.Add(1)
	return nil
}

func (m *Memory) NeedsWALDelta(f *Frame, policy WALPolicy) bool {
	return policy == WALPolicyRequired
}

// evict is ristretto's OnEvict hook: it writes the page to disk if it is
// dirty and drops it from the live entry map. A pinned page is skipped: it
// stays in the entry map, so nothing is lost, but the cache no longer
// tracks it and does not offer it for eviction again.
func (m *Memory) evict(id uint64) {
	m.entriesMu.Lock()
	e, ok := m.entries[id]
	if !ok {
		m.entriesMu.Unlock()
		return
	}
	m.entriesMu.Unlock()

	if e.pins.Load() > 0 {
		return
	}
	e.mu.Lock()
	if e.dirty {
		if _, err := m.file.WriteAt(e.buf, int64(id)*int64(m.pageSize)); err != nil {
			m.log.Error(err, "flush evicted page", "page", id)
			e.mu.Unlock()
			return
		}
		m.stats.PageWrites.Add(1)
		m.stats.BytesWritten.Add(int64(m.pageSize))
		e.dirty = false
	}
	e.mu.Unlock()

	m.entriesMu.Lock()
	delete(m.entries, id)
	m.entriesMu.Unlock()
}

func (m *Memory) Sync() error {
	m.entriesMu.Lock()
	ids := make([]uint64, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	m.entriesMu.Unlock()

	for _, id := range ids {
		e := m.entry(id)
		if e == nil {
			continue
		}
		e.mu.Lock()
		if e.dirty {
			if _, err := m.file.WriteAt(e.buf, int64(id)*int64(m.pageSize)); err != nil {
				e.mu.Unlock()
				return errors.Wrapf(err, "flush page %d", id)
			}
			m.stats.PageWrites.Add(1)
			m.stats.BytesWritten.Add(int64(m.pageSize))
			e.dirty = false
		}
		e.mu.Unlock()
	}
	return m.file.Sync()
}

func (m *Memory) Close() error {
	if m.closed.Swap(true) {
		return nil
	}
	if err := m.Sync(); err != nil {
		return err
	}
	m.cache.Close()
	return m.file.Close()
}
