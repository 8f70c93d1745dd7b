package btree

import "github.com/intellect4all/bptree-engine/pagestore"

// Put inserts key/value, overwriting any existing value for key.
func (t *Tree) Put(key, value []byte) error {
	return t.putInternal(key, value, false)
}

// PutX inserts key/value only if key is not already present, returning
// ErrDuplicateKey otherwise.
func (t *Tree) PutX(key, value []byte) error {
	return t.putInternal(key, value, true)
}

func (t *Tree) putInternal(key, value []byte, insertOnly bool) error {
	if err := t.checkOpen(); err != nil {
		return err
	}
	if len(key) == 0 {
		return ErrKeyEmpty
	}
	t.cfg.Stats.TreeWrites.Add(1)

	retries := t.cfg.LockRetries
	if retries <= 0 {
		retries = 1000
	}

	for attempt := 0; attempt < retries; attempt++ {
		done, err := t.tryPut(key, value, insertOnly)
		if err == errRetryRoot {
			t.cfg.Stats.Retries.Add(1)
			t.cfg.Stats.RetryRoots.Add(1)
			continue
		}
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
	return t.lockExhausted(retries)
}

// tryPut makes one attempt at the insert, holding the meta page and every
// page on the root-to-leaf path write-latched for the duration — the same
// single-writer-at-a-time discipline the teacher's BTree enforced with one
// process-wide mutex, here scoped to the meta page's own latch instead of a
// separate field.
func (t *Tree) tryPut(key, value []byte, insertOnly bool) (bool, error) {
	tl := newTail(t.cfg.Store)
	defer tl.releaseAll(pagestore.WALPolicyNone)

	metaFrame, err := tl.acquire(metaPageID, -1, true, tailExact)
	if err == pagestore.ErrRecycled {
		return false, errRetryRoot
	}
	if err != nil {
		return false, err
	}
	meta := &Meta{metaFrame.page}
	if meta.Destroyed() {
		return false, ErrDestroyed
	}
	rootID, rootLevel := meta.RootPageID(), meta.RootLevel()

	cur, err := tl.acquire(rootID, rootLevel, true, tailExact)
	if err == pagestore.ErrRecycled {
		return false, errRetryRoot
	}
	if err != nil {
		return false, err
	}
	for !cur.page.IsLeaf() {
		childID, err := routeChild(cur.page, key, t.cfg.CanGetRowFromInner)
		if err != nil {
			return false, err
		}
		cur, err = tl.acquire(childID, cur.level-1, true, tailExact)
		if err == pagestore.ErrRecycled {
			return false, errRetryRoot
		}
		if err != nil {
			return false, err
		}
	}

	idx, found := cur.page.Search(key, defaultComparator, true)
	if found && insertOnly {
		return false, ErrDuplicateKey
	}
	item := &Item{Key: key, Value: value}
	if found {
		if err := cur.page.DeleteAt(idx); err != nil {
			return false, err
		}
	}
	if !cur.page.IsFull(item, true) {
		insIdx, _ := cur.page.Search(key, defaultComparator, true)
		if err := cur.page.InsertAt(insIdx, item, true); err != nil {
			return false, err
		}
		kind := DeltaInsert
		if found {
			kind = DeltaReplace
		}
		if err := t.logDelta(cur.page.Buf(), cur.pageID, kind); err != nil {
			return false, err
		}
		return true, nil
	}

	return true, t.splitCascade(tl, meta, item)
}

// splitCascade handles a leaf that has no room for item. It splits the leaf,
// places item in the correct half, and threads the promoted separator up
// through every ancestor that itself overflows, finally growing the tree by
// one level if the root splits.
func (t *Tree) splitCascade(tl *tail, meta *Meta, item *Item) error {
	n := len(tl.frames)
	leaf := tl.frames[n-1]

	newLeaf, err := t.newPage(nil, TypeLeaf)
	if err != nil {
		return err
	}
	defer t.unlatchAndRelease(newLeaf, pagestore.WALPolicyNone)

	promoted, err := splitLeaf(leaf.page, newLeaf.page, t.seqWrite.Load(), t.cfg.CanGetRowFromInner, item.Key)
	if err != nil {
		return err
	}
	target := leaf.page
	if defaultComparator(item.Key, promoted) > 0 {
		target = newLeaf.page
	}
	idx, _ := target.Search(item.Key, defaultComparator, true)
	if err := target.InsertAt(idx, item, true); err != nil {
		return err
	}

	if err := t.logDelta(leaf.page.Buf(), leaf.pageID, DeltaSplitExistingPage); err != nil {
		return err
	}
	if err := t.logDelta(newLeaf.page.Buf(), newLeaf.pageID, DeltaSplitExistingPage); err != nil {
		return err
	}

	return t.propagateSplit(tl, meta, n-2, leaf.pageID, newLeaf.pageID, promoted)
}

// propagateSplit inserts (promoted, left=oldChildID, right=newChildID) into
// the ancestor at tl.frames[parentIdx], splitting that ancestor in turn
// (and recursing one level further up) if it has no room, or growing a new
// root if parentIdx has walked off the top of the path (parentIdx < 1, the
// slot just above the meta frame at index 0).
func (t *Tree) propagateSplit(tl *tail, meta *Meta, parentIdx int, oldChildID, newChildID uint64, promoted []byte) error {
	if parentIdx < 1 {
		return t.growRoot(tl, meta, oldChildID, newChildID, promoted)
	}
	parent := tl.frames[parentIdx]

	probe := &Item{Key: promoted, Left: oldChildID}
	if !parent.page.IsFull(probe, t.cfg.CanGetRowFromInner) {
		if err := insertSeparator(parent.page, promoted, oldChildID, newChildID, t.cfg.CanGetRowFromInner); err != nil {
			return err
		}
		return t.logDelta(parent.page.Buf(), parent.pageID, DeltaInsert)
	}

	newInner, err := t.newPage(nil, TypeInner)
	if err != nil {
		return err
	}
	defer t.unlatchAndRelease(newInner, pagestore.WALPolicyNone)

	nextPromoted, err := splitInner(parent.page, newInner.page, t.seqWrite.Load(), t.cfg.CanGetRowFromInner)
	if err != nil {
		return err
	}
	dest := parent.page
	if defaultComparator(promoted, nextPromoted) >= 0 {
		dest = newInner.page
	}
	if err := insertSeparator(dest, promoted, oldChildID, newChildID, t.cfg.CanGetRowFromInner); err != nil {
		return err
	}

	if err := t.logDelta(parent.page.Buf(), parent.pageID, DeltaSplitExistingPage); err != nil {
		return err
	}
	if err := t.logDelta(newInner.page.Buf(), newInner.pageID, DeltaSplitExistingPage); err != nil {
		return err
	}

	return t.propagateSplit(tl, meta, parentIdx-1, parent.pageID, newInner.pageID, nextPromoted)
}

// growRoot builds a fresh root page one level above the old one after the
// old root itself split.
func (t *Tree) growRoot(tl *tail, meta *Meta, oldRootID, newRootChildID uint64, promoted []byte) error {
	newRoot, err := t.newPage(nil, TypeInner)
	if err != nil {
		return err
	}
	defer t.unlatchAndRelease(newRoot, pagestore.WALPolicyNone)

	if err := newRoot.page.InsertAt(0, &Item{Key: promoted, Left: oldRootID}, t.cfg.CanGetRowFromInner); err != nil {
		return err
	}
	newRoot.page.SetRightmostChild(newRootChildID)

	meta.applyAddRoot(newRoot.pageID)

	if err := t.logDelta(newRoot.page.Buf(), newRoot.pageID, DeltaNewRootInit); err != nil {
		return err
	}
	return t.logDelta(meta.Buf(), metaPageID, DeltaMetaAddRoot)
}
