package btree

// findChildSlot locates which cell of an inner page routes to child: either
// the index idx with item(idx).Left == child, or page.Count() if child is
// the RightmostChild. Returns -1 if child is not a direct child of page
// (a corruption, since the caller only calls this with a child it just
// descended through).
func findChildSlot(page *Page, child uint64, canGetRowFromInner bool) int {
	if page.RightmostChild() == child {
		return int(page.Count())
	}
	for i := uint16(0); i < page.Count(); i++ {
		item, err := page.ItemAt(i, canGetRowFromInner)
		if err != nil {
			return -1
		}
		if item.Left == child {
			return int(i)
		}
	}
	return -1
}

// removeChildFromParent deletes the routing entry that points at child, now
// that child has been fully merged away. It returns the remaining sibling
// that absorbed child's (empty) range, and whether parent itself is now
// empty (count 0; a non-leaf page with count 0 still has exactly one child,
// through RightmostChild, and must itself be merged or — if it is the
// root — cut).
func removeChildFromParent(parent *Page, child uint64, canGetRowFromInner bool) (survivor uint64, parentEmpty bool, err error) {
	slot := findChildSlot(parent, child, canGetRowFromInner)
	if slot < 0 {
		return 0, false, ErrCellNotFound
	}
	count := int(parent.Count())
	if slot == count {
		last := uint16(count - 1)
		item, err := parent.ItemAt(last, canGetRowFromInner)
		if err != nil {
			return 0, false, err
		}
		survivor = item.Left
		if err := parent.DeleteAt(last); err != nil {
			return 0, false, err
		}
		parent.SetRightmostChild(survivor)
	} else {
		if slot == 0 {
			survivor = parent.RightmostChild()
			if count > 1 {
				next, err := parent.ItemAt(1, canGetRowFromInner)
				if err == nil {
					survivor = next.Left
				}
			}
		} else {
			prev, err := parent.ItemAt(uint16(slot-1), canGetRowFromInner)
			if err != nil {
				return 0, false, err
			}
			survivor = prev.Left
		}
		if err := parent.DeleteAt(uint16(slot)); err != nil {
			return 0, false, err
		}
	}
	return survivor, parent.Count() == 0, nil
}

// leftSiblingOf returns the child immediately to the left of child within
// parent, or (0, false) if child is parent's leftmost child (no sibling to
// merge into without reaching outside this subtree, which the simplified
// merge path here does not attempt).
func leftSiblingOf(parent *Page, child uint64, canGetRowFromInner bool) (uint64, bool) {
	slot := findChildSlot(parent, child, canGetRowFromInner)
	switch {
	case slot <= 0:
		return 0, false
	case slot == int(parent.Count()):
		item, err := parent.ItemAt(uint16(slot-1), canGetRowFromInner)
		if err != nil {
			return 0, false
		}
		return item.Left, true
	default:
		item, err := parent.ItemAt(uint16(slot-1), canGetRowFromInner)
		if err != nil {
			return 0, false
		}
		return item.Left, true
	}
}
