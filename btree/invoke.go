package btree

import "github.com/intellect4all/bptree-engine/pagestore"

// ClosureResult is the four-valued outcome InvokeClosure can report for a
// single key (§9 "Four-valued booleans"): FALSE/TRUE distinguish "do
// nothing" from "remove", READY carries a replacement value, and DONE
// signals the closure already mutated the row itself (through some side
// channel) and the tree need only acknowledge it, not write anything.
type ClosureResult int

const (
	ClosureNoop ClosureResult = iota
	ClosureRemove
	ClosureReady
	ClosureDone
)

// InvokeClosure inspects the current value for a key (nil if absent) and
// decides what happens next. newValue is only consulted when result is
// ClosureReady.
type InvokeClosure func(key, currentValue []byte, found bool) (result ClosureResult, newValue []byte)

// Invoke performs a read-modify-write against a single key under one
// write latch chain, so the closure's decision is made against a value
// that cannot change underneath it. Grounded on the teacher's lack of any
// such primitive — read-modify-write here is built fresh, the way Put and
// Remove are, by reusing the same conservative write-latch descent.
func (t *Tree) Invoke(key []byte, fn InvokeClosure) error {
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
		done, err := t.tryInvoke(key, fn)
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

func (t *Tree) tryInvoke(key []byte, fn InvokeClosure) (bool, error) {
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
		childID, rerr := routeChild(cur.page, key, t.cfg.CanGetRowFromInner)
		if rerr != nil {
			return false, rerr
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
	var current []byte
	if found {
		item, ierr := cur.page.ItemAt(idx, true)
		if ierr != nil {
			return false, ierr
		}
		current = item.Value
	}

	result, newValue := fn(key, current, found)
	switch result {
	case ClosureNoop, ClosureDone:
		return true, nil

	case ClosureRemove:
		if !found {
			return true, nil
		}
		if err := cur.page.DeleteAt(idx); err != nil {
			return false, err
		}
		if err := t.logDelta(cur.page.Buf(), cur.pageID, DeltaRemove); err != nil {
			return false, err
		}
		if cur.page.Count() == 0 {
			return true, t.mergeEmptyLeaf(tl, meta, cur)
		}
		return true, nil

	case ClosureReady:
		item := &Item{Key: key, Value: newValue}
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
			return true, t.logDelta(cur.page.Buf(), cur.pageID, kind)
		}
		return true, t.splitCascade(tl, meta, item)

	default:
		return false, newCorruption(t.cfg.Name, "invoke closure returned an unknown result")
	}
}
