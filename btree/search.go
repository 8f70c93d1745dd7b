package btree

import (
	"bytes"

	"github.com/intellect4all/bptree-engine/pagestore"
)

// descendState is the closed set of outcomes a single step of the descent
// can produce (§4.3). GO_DOWN continues the plain read path; GO_DOWN_X
// means the step determined a structural change may be needed below and
// the caller must re-descend holding write latches; FOUND/NOT_FOUND end
// the descent at a leaf; RETRY re-takes the current page; RETRY_ROOT
// restarts from the meta page because an ancestor was recycled or a leaf's
// removal counter outran the reader's snapshot.
type descendState int

const (
	stateGoDown descendState = iota
	stateGoDownX
	stateFound
	stateNotFound
	stateRetry
	stateRetryRoot
)

func defaultComparator(a, b []byte) int { return bytes.Compare(a, b) }

// routeChild picks the child of an inner page that covers key, under the
// separator convention left(i) holds keys <= key_i and right(i) (= left(i+1),
// or RightmostChild for the last cell) holds keys > key_i: every key_i
// equals the rightmost key of exactly one leaf in left(i)'s subtree, so a
// key equal to a separator routes left, to the subtree that actually holds
// it.
func routeChild(page *Page, key []byte, canGetRowFromInner bool) (uint64, error) {
	idx, _ := page.Search(key, defaultComparator, canGetRowFromInner)
	if idx >= page.Count() {
		return page.RightmostChild(), nil
	}
	item, err := page.ItemAt(idx, canGetRowFromInner)
	if err != nil {
		return 0, err
	}
	return item.Left, nil
}

// findLeaf read-latches its way from the meta page to the leaf that would
// contain key, releasing each ancestor once its child is latched (a plain
// read holds at most a parent and its child at the same time).
// It returns the leaf's frame still read-latched; the caller must release
// it.
func (t *Tree) findLeaf(key []byte) (*tailFrame, uint64, error) {
	retries := t.cfg.LockRetries
	if retries <= 0 {
		retries = 1000
	}

	for attempt := 0; attempt < retries; attempt++ {
		snapshot := t.removalCounter.Load()
		tl := newTail(t.cfg.Store)

		var rootID uint64
		var rootLevel int
		if err := t.readMeta(func(m *Meta) error {
			if m.Destroyed() {
				return ErrDestroyed
			}
			rootID = m.RootPageID()
			rootLevel = m.RootLevel()
			return nil
		}); err != nil {
			return nil, 0, err
		}

		leaf, err := t.descendRead(tl, rootID, rootLevel, key)
		if err == pagestore.ErrRecycled {
			t.cfg.Stats.Retries.Add(1)
			continue
		}
		if err != nil {
			return nil, 0, err
		}
		if leaf.page.RemovalCounter() > snapshot {
			tl.releaseAll(pagestore.WALPolicyNone)
			t.cfg.Stats.Retries.Add(1)
			t.cfg.Stats.RetryRoots.Add(1)
			continue
		}
		return leaf, snapshot, nil
	}
	return nil, 0, t.lockExhausted(retries)
}

// descendRead walks from pageID (at level) down to the containing leaf,
// latching each child before releasing its parent.
func (t *Tree) descendRead(tl *tail, pageID uint64, level int, key []byte) (*tailFrame, error) {
	tf, err := tl.acquire(pageID, level, false, tailExact)
	if err != nil {
		return nil, err
	}
	for !tf.page.IsLeaf() {
		childID, err := routeChild(tf.page, key, t.cfg.CanGetRowFromInner)
		if err != nil {
			return nil, err
		}

		parentIdx := len(tl.frames) - 1
		child, err := tl.acquire(childID, level-1, false, tailExact)
		if err != nil {
			return nil, err
		}
		tl.releaseAt(parentIdx, pagestore.WALPolicyNone)
		tf = child
	}
	return tf, nil
}

// FindOne returns the value stored for key, or ErrKeyNotFound.
func (t *Tree) FindOne(key []byte) ([]byte, error) {
	if err := t.checkOpen(); err != nil {
		return nil, err
	}
	if len(key) == 0 {
		return nil, ErrKeyEmpty
	}
	t.cfg.Stats.TreeReads.Add(1)
	leaf, _, err := t.findLeaf(key)
	if err != nil {
		return nil, err
	}
	defer func() {
		t.cfg.Store.ReadUnlatch(leaf.frame)
		t.cfg.Store.Release(leaf.frame)
	}()

	idx, found := leaf.page.Search(key, defaultComparator, true)
	if !found {
		return nil, ErrKeyNotFound
	}
	item, err := leaf.page.ItemAt(idx, true)
	if err != nil {
		return nil, err
	}
	return item.Value, nil
}

// Find is an alias for FindOne kept for symmetry with the cursor-returning
// range operations (FindFirst/FindLast); a unique index has at most one
// matching row.
func (t *Tree) Find(key []byte) ([]byte, error) { return t.FindOne(key) }

// FindFirst returns the first (key, value) pair at or after lower, or
// ErrKeyNotFound if the tree has no such entry. It is the cursor's seek
// primitive exposed as a single-shot call.
func (t *Tree) FindFirst(lower []byte) ([]byte, []byte, error) {
	if err := t.checkOpen(); err != nil {
		return nil, nil, err
	}
	t.cfg.Stats.TreeReads.Add(1)
	leaf, _, err := t.findLeaf(lower)
	if err != nil {
		return nil, nil, err
	}
	defer func() {
		t.cfg.Store.ReadUnlatch(leaf.frame)
		t.cfg.Store.Release(leaf.frame)
	}()

	idx, _ := leaf.page.Search(lower, defaultComparator, true)
	if idx < leaf.page.Count() {
		item, err := leaf.page.ItemAt(idx, true)
		if err != nil {
			return nil, nil, err
		}
		return item.Key, item.Value, nil
	}
	return nil, nil, ErrKeyNotFound
}

// FindLast returns the last (key, value) pair at or before upper.
func (t *Tree) FindLast(upper []byte) ([]byte, []byte, error) {
	if err := t.checkOpen(); err != nil {
		return nil, nil, err
	}
	t.cfg.Stats.TreeReads.Add(1)
	leaf, _, err := t.findLeaf(upper)
	if err != nil {
		return nil, nil, err
	}
	defer func() {
		t.cfg.Store.ReadUnlatch(leaf.frame)
		t.cfg.Store.Release(leaf.frame)
	}()

	idx, found := leaf.page.Search(upper, defaultComparator, true)
	if found {
		item, err := leaf.page.ItemAt(idx, true)
		if err != nil {
			return nil, nil, err
		}
		return item.Key, item.Value, nil
	}
	if idx == 0 {
		return nil, nil, ErrKeyNotFound
	}
	item, err := leaf.page.ItemAt(idx-1, true)
	if err != nil {
		return nil, nil, err
	}
	return item.Key, item.Value, nil
}
