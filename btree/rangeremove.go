package btree

import "github.com/intellect4all/bptree-engine/pagestore"

// RemoveRange deletes every key in [lower, upper) and returns how many were
// removed. It proceeds leaf by leaf: each leaf's matching suffix is deleted
// in one contiguous DeleteRange call, and the operation restarts from the
// meta page between leaves rather than holding a chain of write latches
// across the whole range (§4.5 "Range remove"), since a held multi-leaf
// chain would block unrelated writers for the whole call.
func (t *Tree) RemoveRange(lower, upper []byte) (int, error) {
	if err := t.checkOpen(); err != nil {
		return 0, err
	}
	if len(lower) == 0 {
		return 0, ErrKeyEmpty
	}

	removed := 0
	cursor := lower
	for {
		n, exhausted, next, err := t.removeRangeFromOneLeaf(cursor, upper)
		if err != nil {
			return removed, err
		}
		removed += n
		if exhausted {
			return removed, nil
		}
		cursor = next
	}
}

// removeRangeFromOneLeaf deletes the contiguous run of keys in
// [from, upper) that live in a single leaf, returning whether the whole
// range has now been consumed (either the leaf had no forward sibling
// carrying more matches, or the next leaf's first key is already >= upper)
// and, if not, the key to resume from.
func (t *Tree) removeRangeFromOneLeaf(from, upper []byte) (n int, exhausted bool, next []byte, err error) {
	retries := t.cfg.LockRetries
	if retries <= 0 {
		retries = 1000
	}
	for attempt := 0; attempt < retries; attempt++ {
		n, exhausted, next, err = t.tryRemoveRangeLeaf(from, upper)
		if err == errRetryRoot {
			t.cfg.Stats.Retries.Add(1)
			t.cfg.Stats.RetryRoots.Add(1)
			continue
		}
		return n, exhausted, next, err
	}
	return 0, false, nil, t.lockExhausted(retries)
}

func (t *Tree) tryRemoveRangeLeaf(from, upper []byte) (removed int, exhausted bool, nextFrom []byte, err error) {
	tl := newTail(t.cfg.Store)
	defer tl.releaseAll(pagestore.WALPolicyNone)

	metaFrame, err := tl.acquire(metaPageID, -1, true, tailExact)
	if err == pagestore.ErrRecycled {
		return 0, false, nil, errRetryRoot
	}
	if err != nil {
		return 0, false, nil, err
	}
	meta := &Meta{metaFrame.page}
	if meta.Destroyed() {
		return 0, false, nil, ErrDestroyed
	}
	rootID, rootLevel := meta.RootPageID(), meta.RootLevel()

	cur, err := tl.acquire(rootID, rootLevel, true, tailExact)
	if err == pagestore.ErrRecycled {
		return 0, false, nil, errRetryRoot
	}
	if err != nil {
		return 0, false, nil, err
	}
	for !cur.page.IsLeaf() {
		childID, rerr := routeChild(cur.page, from, t.cfg.CanGetRowFromInner)
		if rerr != nil {
			return 0, false, nil, rerr
		}
		cur, err = tl.acquire(childID, cur.level-1, true, tailExact)
		if err == pagestore.ErrRecycled {
			return 0, false, nil, errRetryRoot
		}
		if err != nil {
			return 0, false, nil, err
		}
	}

	lo, _ := cur.page.Search(from, defaultComparator, true)
	hi := cur.page.Count()
	if upper != nil {
		uIdx, _ := cur.page.Search(upper, defaultComparator, true)
		hi = uIdx
	}
	if lo >= hi {
		return 0, true, nil, nil
	}
	n := int(hi - lo)
	var oldLast *Item
	if hi == cur.page.Count() && lo > 0 && cur.page.Forward() != 0 {
		if oldLast, err = cur.page.ItemAt(hi-1, true); err != nil {
			return 0, false, nil, err
		}
	}
	if err := cur.page.DeleteRange(lo, hi); err != nil {
		return 0, false, nil, err
	}
	if err := t.logDelta(cur.page.Buf(), cur.pageID, DeltaRemove); err != nil {
		return 0, false, nil, err
	}
	if oldLast != nil {
		newLast, ierr := cur.page.ItemAt(lo-1, true)
		if ierr == nil {
			ierr = t.fixAncestorSeparator(tl, oldLast.Key, newLast.Key, cur)
		}
		if ierr != nil {
			return 0, false, nil, ierr
		}
	}

	next := cur.page.Forward()
	if cur.page.Count() == 0 {
		if err := t.mergeEmptyLeaf(tl, meta, cur); err != nil {
			return 0, false, nil, err
		}
	}

	if next == 0 {
		return n, true, nil, nil
	}
	nf, err := t.cfg.Store.Acquire(next)
	if err != nil {
		return n, true, nil, nil
	}
	nbuf, err := t.cfg.Store.ReadLatch(nf)
	if err != nil {
		t.cfg.Store.Release(nf)
		return n, true, nil, nil
	}
	nextPage := WrapPage(nbuf)
	var nextKey []byte
	if nextPage.Count() > 0 {
		item, _ := nextPage.ItemAt(0, true)
		nextKey = append([]byte(nil), item.Key...)
	}
	t.cfg.Store.ReadUnlatch(nf)
	t.cfg.Store.Release(nf)

	if nextKey == nil || (upper != nil && defaultComparator(nextKey, upper) >= 0) {
		return n, true, nil, nil
	}
	return n, false, nextKey, nil
}
