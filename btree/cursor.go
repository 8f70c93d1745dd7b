package btree

import "github.com/intellect4all/bptree-engine/pagestore"

// Cursor is a forward-only range scan (§4.7, "Cursor"). It never holds a
// latch between calls to Next: each step reacquires its current leaf fresh,
// so a cursor parked mid-scan cannot block writers elsewhere in the tree.
// If the leaf it was parked on turns out to have been recycled underneath
// it (pagestore.ErrRecycled), the cursor reseeks from the root using the
// last key it returned, the same way findLeaf recovers from a stale
// descent.
type Cursor struct {
	t *Tree

	lower, upper []byte

	pageID    uint64
	cellIndex uint16
	lastKey   []byte
	started   bool
	done      bool
	err       error

	key, value []byte
}

// NewCursor returns a cursor over [lower, upper). A nil lower starts at the
// tree's first key; a nil upper runs to the end of the tree.
func (t *Tree) NewCursor(lower, upper []byte) *Cursor {
	return &Cursor{t: t, lower: lower, upper: upper}
}

// Next advances the cursor and reports whether it now sits on a valid
// key/value pair. Once it returns false, Key/Value are no longer valid;
// Err reports whether that was exhaustion or a real error.
func (c *Cursor) Next() bool {
	if c.err != nil || c.done {
		return false
	}
	if err := c.t.checkOpen(); err != nil {
		c.err = err
		return false
	}

	if !c.started {
		if err := c.seek(c.lower); err != nil {
			c.err = err
			c.done = true
			return false
		}
		c.started = true
	} else {
		c.cellIndex++
	}

	for {
		page, releaseErr := c.loadCurrentPage()
		if releaseErr == pagestore.ErrRecycled {
			if err := c.seek(c.lastKey); err != nil {
				c.err = err
				c.done = true
				return false
			}
			continue
		}
		if releaseErr != nil {
			c.err = releaseErr
			c.done = true
			return false
		}
		if page == nil {
			c.done = true
			return false
		}

		if c.cellIndex < page.Count() {
			item, err := page.ItemAt(c.cellIndex, true)
			if err != nil {
				c.err = err
				c.done = true
				return false
			}
			if c.upper != nil && defaultComparator(item.Key, c.upper) >= 0 {
				c.done = true
				return false
			}
			c.key = append(c.key[:0], item.Key...)
			c.value = append(c.value[:0], item.Value...)
			c.lastKey = c.key
			return true
		}

		next := page.Forward()
		if next == 0 {
			c.done = true
			return false
		}
		c.pageID = next
		c.cellIndex = 0
	}
}

// loadCurrentPage acquires a short-lived read latch on the cursor's current
// page, copies what it needs, and releases before returning — no latch is
// ever held across a Next() call boundary.
func (c *Cursor) loadCurrentPage() (*Page, error) {
	destroyed, err := c.metaDestroyed()
	if err != nil {
		return nil, err
	}
	if destroyed {
		return nil, ErrDestroyed
	}

	f, err := c.t.cfg.Store.Acquire(c.pageID)
	if err != nil {
		return nil, err
	}
	buf, err := c.t.cfg.Store.ReadLatch(f)
	if err != nil {
		c.t.cfg.Store.Release(f)
		return nil, err
	}
	page := WrapPage(buf)
	snapshot := cloneBuf(page)
	c.t.cfg.Store.ReadUnlatch(f)
	c.t.cfg.Store.Release(f)
	return snapshot, nil
}

func cloneBuf(p *Page) *Page {
	cp := append([]byte(nil), p.Buf()...)
	return WrapPage(cp)
}

func (c *Cursor) metaDestroyed() (bool, error) {
	var destroyed bool
	err := c.t.readMeta(func(m *Meta) error {
		destroyed = m.Destroyed()
		return nil
	})
	return destroyed, err
}

// seek positions the cursor at the first leaf cell >= key (or the tree's
// first key, if key is nil), using the same parent-then-child latch
// coupling descent that plain reads use.
func (c *Cursor) seek(key []byte) error {
	for attempt := 0; ; attempt++ {
		if attempt >= c.t.cfg.LockRetries && c.t.cfg.LockRetries > 0 {
			return c.t.lockExhausted(c.t.cfg.LockRetries)
		}
		pageID, idx, err := c.trySeek(key)
		if err == errRetryRoot {
			continue
		}
		if err != nil {
			return err
		}
		c.pageID = pageID
		c.cellIndex = idx
		return nil
	}
}

func (c *Cursor) trySeek(key []byte) (uint64, uint16, error) {
	tl := newTail(c.t.cfg.Store)
	defer tl.releaseAll(pagestore.WALPolicyNone)

	metaFrame, err := tl.acquire(metaPageID, -1, false, tailExact)
	if err == pagestore.ErrRecycled {
		return 0, 0, errRetryRoot
	}
	if err != nil {
		return 0, 0, err
	}
	meta := &Meta{metaFrame.page}
	if meta.Destroyed() {
		return 0, 0, ErrDestroyed
	}
	rootID, rootLevel := meta.RootPageID(), meta.RootLevel()

	parentIdx := len(tl.frames) - 1
	cur, err := tl.acquire(rootID, rootLevel, false, tailExact)
	if err == pagestore.ErrRecycled {
		return 0, 0, errRetryRoot
	}
	if err != nil {
		return 0, 0, err
	}
	tl.releaseAt(parentIdx, pagestore.WALPolicyNone)

	for !cur.page.IsLeaf() {
		var childID uint64
		if key == nil {
			if cur.page.Count() == 0 {
				return 0, 0, newCorruption(c.t.cfg.Name, "empty inner page reached while seeking tree start")
			}
			item, ierr := cur.page.ItemAt(0, true)
			if ierr != nil {
				return 0, 0, ierr
			}
			childID = item.Left
		} else {
			childID, err = routeChild(cur.page, key, c.t.cfg.CanGetRowFromInner)
			if err != nil {
				return 0, 0, err
			}
		}
		parentIdx = len(tl.frames) - 1
		cur, err = tl.acquire(childID, cur.level-1, false, tailExact)
		if err == pagestore.ErrRecycled {
			return 0, 0, errRetryRoot
		}
		if err != nil {
			return 0, 0, err
		}
		tl.releaseAt(parentIdx, pagestore.WALPolicyNone)
	}

	if key == nil {
		return cur.pageID, 0, nil
	}
	idx, _ := cur.page.Search(key, defaultComparator, true)
	return cur.pageID, idx, nil
}

// Key returns the key at the cursor's current position.
func (c *Cursor) Key() []byte { return c.key }

// Value returns the value at the cursor's current position.
func (c *Cursor) Value() []byte { return c.value }

// Err returns the first error that stopped the cursor, or nil if it simply
// ran out of range.
func (c *Cursor) Err() error { return c.err }

// Close releases any resources held by the cursor. Since no latch is ever
// held across calls, there is nothing to release beyond marking it done.
func (c *Cursor) Close() error {
	c.done = true
	return nil
}
