package btree

// splitPoint returns the index at which a full page should be divided.
// Under SequentialWriteOptsEnabled the split favors the left page so an
// ascending-key workload keeps writing into a nearly-empty trailing page
// instead of repeatedly splitting a half-full one (§4.4).
func splitPoint(count uint16, seqWrite bool) uint16 {
	if seqWrite {
		mid := uint16(float64(count) * 0.85)
		if mid < 1 {
			mid = 1
		}
		if mid >= count {
			mid = count - 1
		}
		return mid
	}
	return count / 2
}

// splitLeaf divides a full leaf in two: old stays the back page, newPage
// becomes the forward page. mid is nudged up by one when newKey (the item
// about to be inserted) would land at or past the midpoint, so the back
// page ends up with the extra item instead of the forward page (§4.4). The
// last item remaining in the back page becomes the move-up key: it stays in
// the back page (leaves don't remove their own rightmost key on a split) and
// is promoted as-is, satisfying "every key in an inner node equals the
// rightmost key of exactly one leaf in its left subtree" (§8).
func splitLeaf(old, newPage *Page, seqWrite, canGetRowFromInner bool, newKey []byte) ([]byte, error) {
	count := old.Count()
	mid := splitPoint(count, seqWrite)

	boundary, err := old.ItemAt(mid, canGetRowFromInner)
	if err != nil {
		return nil, err
	}
	if defaultComparator(newKey, boundary.Key) >= 0 && mid+1 < count {
		mid++
	}

	for i := mid; i < count; i++ {
		item, err := old.ItemAt(i, canGetRowFromInner)
		if err != nil {
			return nil, err
		}
		if err := newPage.InsertAt(newPage.Count(), item, canGetRowFromInner); err != nil {
			return nil, err
		}
	}
	kept := make([]*Item, mid)
	for i := range kept {
		if kept[i], err = old.ItemAt(uint16(i), canGetRowFromInner); err != nil {
			return nil, err
		}
	}
	old.Reset()
	for _, item := range kept {
		if err := old.InsertAt(old.Count(), item, canGetRowFromInner); err != nil {
			return nil, err
		}
	}
	newPage.SetForward(old.Forward())
	old.SetForward(newPage.PageID())

	last, err := old.ItemAt(old.Count()-1, canGetRowFromInner)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), last.Key...), nil
}

// splitInner divides a full inner page in two. The middle item's key is
// promoted to the parent and does NOT appear in either child (inner pages
// never duplicate a separator, unlike leaves): its Left child becomes the
// old page's new RightmostChild, and everything after it moves to newPage.
func splitInner(old, newPage *Page, seqWrite, canGetRowFromInner bool) ([]byte, error) {
	count := old.Count()
	mid := splitPoint(count, seqWrite)

	midItem, err := old.ItemAt(mid, canGetRowFromInner)
	if err != nil {
		return nil, err
	}
	promoted := append([]byte(nil), midItem.Key...)

	for i := mid + 1; i < count; i++ {
		item, err := old.ItemAt(i, canGetRowFromInner)
		if err != nil {
			return nil, err
		}
		if err := newPage.InsertAt(newPage.Count(), item, canGetRowFromInner); err != nil {
			return nil, err
		}
	}
	newPage.SetRightmostChild(old.RightmostChild())
	newPage.SetForward(old.Forward())

	kept := make([]*Item, mid)
	for i := range kept {
		if kept[i], err = old.ItemAt(uint16(i), canGetRowFromInner); err != nil {
			return nil, err
		}
	}
	old.Reset()
	for _, item := range kept {
		if err := old.InsertAt(old.Count(), item, canGetRowFromInner); err != nil {
			return nil, err
		}
	}
	old.SetRightmostChild(midItem.Left)
	old.SetForward(newPage.PageID())

	return promoted, nil
}

// insertSeparator threads a freshly split child into its parent: oldChildID
// keeps everything at or below promoted, newChildID takes everything above
// it. The pointer that used to cover the whole range (an existing item's
// Left, or RightmostChild) is retargeted to newChildID.
func insertSeparator(parent *Page, promoted []byte, oldChildID, newChildID uint64, canGetRowFromInner bool) error {
	idx, found := parent.Search(promoted, defaultComparator, canGetRowFromInner)
	if found {
		idx++ // a duplicate separator should not happen; fall back to routing right of it
	}
	if err := parent.InsertAt(idx, &Item{Key: promoted, Left: oldChildID}, canGetRowFromInner); err != nil {
		return err
	}
	if idx+1 < parent.Count() {
		return parent.SetChildAt(idx+1, newChildID)
	}
	parent.SetRightmostChild(newChildID)
	return nil
}
