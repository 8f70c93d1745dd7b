package btree

import "github.com/intellect4all/bptree-engine/pagestore"

// newPage draws a page identifier from the operation-local reuse bag first
// (if the caller supplies one), then the shared reuse list, and only then
// the store's allocator, then
// acquires and write-latches it and stamps a fresh header of the given
// type. The caller owns releasing the returned frame.
func (t *Tree) newPage(bag *[]uint64, typ byte) (*tailFrame, error) {
	var id uint64
	if bag != nil {
		if n, ok := popBag(bag); ok {
			id = n
		}
	}
	if id == 0 {
		if n, ok := t.cfg.Reuse.Pop(); ok {
			id = n
		}
	}
	var err error
	if id == 0 {
		id, err = t.cfg.Store.AllocatePage()
		if err != nil {
			return nil, err
		}
		t.cfg.Stats.PageAllocs.Add(1)
	}

	f, err := t.cfg.Store.Acquire(id)
	if err != nil {
		return nil, err
	}
	buf, err := t.cfg.Store.WriteLatch(f)
	if err != nil {
		t.cfg.Store.Release(f)
		return nil, err
	}
	InitPage(buf, id, typ, t.cfg.PageFlag)
	return &tailFrame{pageID: id, frame: f, buf: buf, page: WrapPage(buf), write: true, kind: tailExact}, nil
}

func (t *Tree) unlatchAndRelease(tf *tailFrame, policy pagestore.WALPolicy) {
	t.cfg.Store.WriteUnlatch(tf.frame, policy)
	t.cfg.Store.Release(tf.frame)
}

func popBag(bag *[]uint64) (uint64, bool) {
	n := len(*bag)
	if n == 0 {
		return 0, false
	}
	id := (*bag)[n-1]
	*bag = (*bag)[:n-1]
	return id, true
}
