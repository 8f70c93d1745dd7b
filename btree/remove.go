package btree

import "github.com/intellect4all/bptree-engine/pagestore"

// Remove deletes key. Absence of key is treated as success — callers that
// don't care whether their own delete raced another should use this.
func (t *Tree) Remove(key []byte) error {
	err := t.removeInternal(key)
	if err == ErrKeyNotFound {
		return nil
	}
	return err
}

// RemoveX is Remove, except it returns ErrKeyNotFound if key is absent.
func (t *Tree) RemoveX(key []byte) error { return t.removeInternal(key) }

func (t *Tree) removeInternal(key []byte) error {
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
		done, err := t.tryRemove(key)
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

// tryRemove descends with the same conservative write-latch-the-whole-path
// discipline as Put, deletes the item, and then runs whichever of the two
// follow-up repairs apply: an ancestor separator fix (the leaf's rightmost
// live key changed, and some ancestor still routes on the old value) or a
// merge-on-empty cascade (the leaf holds no items at all afterward). Both
// are rare relative to the plain "delete and return" path.
func (t *Tree) tryRemove(key []byte) (bool, error) {
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
	if !found {
		return false, ErrKeyNotFound
	}
	// wasLast: key was the leaf's rightmost live item, and the leaf has a
	// forward sibling — the two conditions under which some ancestor is
	// guaranteed to hold key itself as a separator (§4.5 phase 1). A leaf
	// with no forward pointer is the rightmost leaf at its level; its
	// rightmost key is covered by a RightmostChild pointer, never a
	// separator, so there is nothing to fix.
	wasLast := idx == cur.page.Count()-1 && cur.page.Forward() != 0
	if err := cur.page.DeleteAt(idx); err != nil {
		return false, err
	}

	switch {
	case cur.page.Count() == 0:
		if err := t.logDelta(cur.page.Buf(), cur.pageID, DeltaRemove); err != nil {
			return false, err
		}
		if err := t.mergeEmptyLeaf(tl, meta, cur); err != nil {
			return false, err
		}
	case wasLast:
		item, err := cur.page.ItemAt(cur.page.Count()-1, true)
		if err != nil {
			return false, err
		}
		newKey := append([]byte(nil), item.Key...)
		if err := t.fixAncestorSeparator(tl, key, newKey, cur); err != nil {
			return false, err
		}
		if err := t.logDelta(cur.page.Buf(), cur.pageID, DeltaRemove); err != nil {
			return false, err
		}
	default:
		if err := t.logDelta(cur.page.Buf(), cur.pageID, DeltaRemove); err != nil {
			return false, err
		}
	}

	return true, nil
}

// fixAncestorSeparator finds the nearest ancestor whose separator equals
// oldKey — the key that just stopped being leaf's rightmost live item — and
// rewrites it to newKey, the new rightmost key of leaf's subtree. It also
// bumps the tree-wide removal counter and stamps leaf with the new value, so
// a reader who captured an older snapshot before landing on leaf notices the
// mismatch and restarts rather than trusting a routing decision made
// against the stale separator.
func (t *Tree) fixAncestorSeparator(tl *tail, oldKey, newKey []byte, leaf *tailFrame) error {
	for i := len(tl.frames) - 2; i >= 1; i-- {
		anc := tl.frames[i]
		idx, found := anc.page.Search(oldKey, defaultComparator, t.cfg.CanGetRowFromInner)
		if !found {
			continue
		}
		if err := anc.page.ReplaceKeyAt(idx, newKey, t.cfg.CanGetRowFromInner); err != nil {
			return err
		}
		next := t.removalCounter.Add(1)
		leaf.page.SetRemovalCounter(next)
		return t.logDelta(anc.page.Buf(), anc.pageID, DeltaReplace)
	}
	// No ancestor held a literal copy of oldKey: should not happen for a
	// leaf with a non-zero forward pointer, since the rightmost-leaf
	// invariant guarantees some ancestor holds oldKey as a separator.
	// Treated as a no-op rather than a corruption error.
	return nil
}

// mergeEmptyLeaf removes a now-empty leaf from its parent, linking the
// leaf's left sibling directly to whatever came after it in the forward
// chain, and recycles the leaf's page. If the parent cannot find a left
// sibling within itself (the leaf was its leftmost child), the empty leaf
// is left in place, still routed to by its parent; a later insert that
// routes to it fills it again.
func (t *Tree) mergeEmptyLeaf(tl *tail, meta *Meta, leaf *tailFrame) error {
	parentIdx := len(tl.frames) - 2
	if parentIdx < 1 {
		// leaf is also the root: an empty root leaf is simply an empty tree.
		return nil
	}
	parent := tl.frames[parentIdx]

	leftID, ok := leftSiblingOf(parent.page, leaf.pageID, t.cfg.CanGetRowFromInner)
	if !ok {
		return nil
	}
	if ok {
		leftFrame, err := tl.acquire(leftID, leaf.level, true, tailBack)
		if err == pagestore.ErrRecycled {
			return errRetryRoot
		}
		if err != nil {
			return err
		}
		leftFrame.page.SetForward(leaf.page.Forward())
		if err := t.logDelta(leftFrame.page.Buf(), leftFrame.pageID, DeltaFixCount); err != nil {
			return err
		}
	}

	_, parentEmpty, err := removeChildFromParent(parent.page, leaf.pageID, t.cfg.CanGetRowFromInner)
	if err != nil {
		return err
	}
	if err := t.recyclePage(leaf); err != nil {
		return err
	}
	if err := t.logDelta(parent.page.Buf(), parent.pageID, DeltaRemove); err != nil {
		return err
	}

	if !parentEmpty {
		return nil
	}
	return t.mergeEmptyInner(tl, meta, parentIdx)
}

// mergeEmptyInner handles an inner page that lost its last routing entry.
// If it is the root, the tree shrinks by one level (the survivor becomes
// the new root); otherwise it is merged away exactly like a leaf, and the
// cascade continues upward.
func (t *Tree) mergeEmptyInner(tl *tail, meta *Meta, idx int) error {
	page := tl.frames[idx]
	if idx == 1 {
		meta.applyCutRoot()
		if err := t.recyclePage(page); err != nil {
			return err
		}
		return t.logDelta(meta.Buf(), metaPageID, DeltaMetaCutRoot)
	}

	parentIdx := idx - 1
	parent := tl.frames[parentIdx]

	leftID, ok := leftSiblingOf(parent.page, page.pageID, t.cfg.CanGetRowFromInner)
	if !ok {
		return nil
	}
	if ok {
		leftFrame, err := tl.acquire(leftID, page.level, true, tailBack)
		if err == pagestore.ErrRecycled {
			return errRetryRoot
		}
		if err != nil {
			return err
		}
		leftFrame.page.SetForward(page.page.Forward())
		if err := t.logDelta(leftFrame.page.Buf(), leftFrame.pageID, DeltaFixCount); err != nil {
			return err
		}
	}

	_, parentEmpty, err := removeChildFromParent(parent.page, page.pageID, t.cfg.CanGetRowFromInner)
	if err != nil {
		return err
	}
	if err := t.recyclePage(page); err != nil {
		return err
	}
	if err := t.logDelta(parent.page.Buf(), parent.pageID, DeltaRemove); err != nil {
		return err
	}

	if !parentEmpty {
		return nil
	}
	return t.mergeEmptyInner(tl, meta, parentIdx)
}

// recyclePage hands the frame's identity back through the store (detecting
// stale handles on future access) and queues its page ID on the shared
// reuse list for a future allocation. The write latch is released first —
// Recycle takes it again briefly itself to zero the buffer — so the
// tailFrame is marked recycled to stop the tail's own bottom-up release
// from unlatching it a second time.
func (t *Tree) recyclePage(tf *tailFrame) error {
	t.cfg.Store.WriteUnlatch(tf.frame, pagestore.WALPolicyNone)
	if err := t.cfg.Store.Recycle(tf.frame, pagestore.WALPolicyNone); err != nil {
		return err
	}
	tf.recycled = true
	t.cfg.Stats.PageRecycles.Add(1)
	t.cfg.Reuse.Push(tf.pageID)
	return nil
}
