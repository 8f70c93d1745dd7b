package btree

import (
	"bytes"
	"fmt"
)

// Validate walks the whole tree and checks the invariants the rest of the
// package depends on (§8): keys sorted within every page, the triangle
// invariant between a page's children and their Forward pointers, and that
// meta.FirstPageID(level) actually names the leftmost page of that level's
// Forward chain. It is meant for tests and offline consistency checks, not
// for use against a tree under concurrent mutation — it takes read latches
// one page at a time but does not retry on a racing writer.
func (t *Tree) Validate() error {
	var meta Meta
	if err := t.readMeta(func(m *Meta) error { meta = *m; return nil }); err != nil {
		return err
	}
	if meta.Destroyed() {
		return nil
	}

	for level := meta.RootLevel(); level >= 0; level-- {
		first := meta.FirstPageID(level)
		if first == 0 {
			return fmt.Errorf("btree: level %d has no first page recorded in meta", level)
		}
		if level < meta.RootLevel() {
			above, err := t.readPage(meta.FirstPageID(level + 1))
			if err != nil {
				return err
			}
			leftmost := above.RightmostChild()
			if item, ierr := above.ItemAt(0, t.cfg.CanGetRowFromInner); ierr == nil {
				leftmost = item.Left
			}
			if leftmost != first {
				return fmt.Errorf("btree: level %d: meta names page %d first, but the leftmost child above is %d", level, first, leftmost)
			}
		}
		if err := t.validateLevel(level, first); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tree) validateLevel(level int, first uint64) error {
	var prevMax []byte
	haveBound := false

	pageID := first
	for pageID != 0 {
		page, err := t.readPage(pageID)
		if err != nil {
			return err
		}

		if err := t.validatePageOrder(page); err != nil {
			return fmt.Errorf("btree: page %d: %w", pageID, err)
		}
		if page.IsInner() {
			if err := t.validateTriangle(page); err != nil {
				return fmt.Errorf("btree: page %d: %w", pageID, err)
			}
			if err := t.validateSeparators(page); err != nil {
				return fmt.Errorf("btree: page %d: %w", pageID, err)
			}
		}

		if page.Count() > 0 {
			var lo []byte
			firstItem, err := page.ItemAt(0, t.cfg.CanGetRowFromInner)
			if err != nil {
				return err
			}
			lo = firstItem.Key
			if haveBound && bytes.Compare(lo, prevMax) < 0 {
				return fmt.Errorf("btree: page %d key %x is out of order with preceding page's max %x", pageID, lo, prevMax)
			}
			last, err := page.ItemAt(page.Count()-1, t.cfg.CanGetRowFromInner)
			if err != nil {
				return err
			}
			prevMax = last.Key
			haveBound = true
		}

		pageID = page.Forward()
	}
	return nil
}

// validatePageOrder checks that a page's cells are in strictly increasing
// key order.
func (t *Tree) validatePageOrder(page *Page) error {
	var prev []byte
	for i := uint16(0); i < page.Count(); i++ {
		item, err := page.ItemAt(i, t.cfg.CanGetRowFromInner)
		if err != nil {
			return err
		}
		if i > 0 && defaultComparator(prev, item.Key) >= 0 {
			return fmt.Errorf("cell %d out of order: %x >= %x", i, prev, item.Key)
		}
		prev = item.Key
	}
	return nil
}

// validateTriangle checks, for every cell i in an inner page, that
// forward(left(i)) equals right(i) — the child just right of left(i)'s key
// range is exactly the page that left(i)'s Forward pointer names.
func (t *Tree) validateTriangle(page *Page) error {
	count := page.Count()
	for i := uint16(0); i < count; i++ {
		item, err := page.ItemAt(i, t.cfg.CanGetRowFromInner)
		if err != nil {
			return err
		}
		left := item.Left

		var right uint64
		if i+1 < count {
			nextItem, err := page.ItemAt(i+1, t.cfg.CanGetRowFromInner)
			if err != nil {
				return err
			}
			right = nextItem.Left
		} else {
			right = page.RightmostChild()
		}

		leftChild, err := t.readPage(left)
		if err != nil {
			return err
		}
		if leftChild.Forward() != right {
			return fmt.Errorf("triangle invariant broken at cell %d: forward(left)=%d, right=%d", i, leftChild.Forward(), right)
		}
	}
	return nil
}

// validateSeparators checks, for every cell in an inner page, that its key
// equals the rightmost key of the leaf reached by always following
// RightmostChild down from item.Left (§8: "every key in an inner node
// equals the rightmost key of exactly one leaf in its left subtree").
func (t *Tree) validateSeparators(page *Page) error {
	count := page.Count()
	for i := uint16(0); i < count; i++ {
		item, err := page.ItemAt(i, t.cfg.CanGetRowFromInner)
		if err != nil {
			return err
		}
		leafKey, err := t.rightmostLeafKey(item.Left)
		if err != nil {
			return err
		}
		if leafKey == nil {
			return fmt.Errorf("separator %x: left subtree has no rightmost key", item.Key)
		}
		if !bytes.Equal(leafKey, item.Key) {
			return fmt.Errorf("separator %x does not equal rightmost key %x of its left subtree", item.Key, leafKey)
		}
	}
	return nil
}

// rightmostLeafKey follows RightmostChild from pageID down to a leaf and
// returns that leaf's last key, or nil if that leaf is empty.
func (t *Tree) rightmostLeafKey(pageID uint64) ([]byte, error) {
	page, err := t.readPage(pageID)
	if err != nil {
		return nil, err
	}
	for page.IsInner() {
		page, err = t.readPage(page.RightmostChild())
		if err != nil {
			return nil, err
		}
	}
	if page.Count() == 0 {
		return nil, nil
	}
	item, err := page.ItemAt(page.Count()-1, t.cfg.CanGetRowFromInner)
	if err != nil {
		return nil, err
	}
	return item.Key, nil
}

// readPage takes a short-lived read latch on pageID and returns a detached
// copy of its contents.
func (t *Tree) readPage(pageID uint64) (*Page, error) {
	f, err := t.cfg.Store.Acquire(pageID)
	if err != nil {
		return nil, err
	}
	buf, err := t.cfg.Store.ReadLatch(f)
	if err != nil {
		t.cfg.Store.Release(f)
		return nil, err
	}
	page := cloneBuf(WrapPage(buf))
	t.cfg.Store.ReadUnlatch(f)
	t.cfg.Store.Release(f)
	return page, nil
}
