package btree

import "github.com/intellect4all/bptree-engine/pagestore"

// Destroy marks the tree destroyed and reclaims every page it owns (§4.8).
// It is meant to run as the single actor tearing the tree down: once the
// destroyed flag is set, any other operation in flight that notices it
// (readMeta or a write path checking meta.Destroyed()) fails with
// ErrDestroyed rather than racing the traversal below.
//
// The walk is top-down, level by level, following each page's Forward chain
// from the level's leftmost page (meta.FirstPageID(level)) — the same
// traversal Size uses — so it never needs more than one page latched at a
// time. Recycled page IDs accumulate in a local bag and drain to the shared
// reuse list every Config.DestroyDrainBatch pages, and the walk yields
// (drains early, regardless of batch size) every Config.DestroyYieldBudget
// pages so a concurrent checkpoint is never starved.
func (t *Tree) Destroy() error {
	if err := t.checkOpen(); err != nil {
		return err
	}

	if err := t.markDestroyed(); err != nil {
		return err
	}

	var meta Meta
	if err := t.readMeta(func(m *Meta) error { meta = *m; return nil }); err != nil {
		return err
	}
	topLevel := meta.RootLevel()

	bag := make([]uint64, 0, t.cfg.DestroyDrainBatch)
	sinceYield := 0

	for level := topLevel; level >= 0; level-- {
		pageID := meta.FirstPageID(level)
		for pageID != 0 {
			next, err := t.destroyOnePage(pageID, &bag)
			if err != nil {
				return err
			}
			pageID = next
			sinceYield++

			if len(bag) >= t.cfg.DestroyDrainBatch {
				t.cfg.Reuse.Push(bag...)
				bag = bag[:0]
			}
			if t.cfg.DestroyYieldBudget > 0 && sinceYield >= t.cfg.DestroyYieldBudget {
				if len(bag) > 0 {
					t.cfg.Reuse.Push(bag...)
					bag = bag[:0]
				}
				sinceYield = 0
			}
		}
	}

	if len(bag) > 0 {
		t.cfg.Reuse.Push(bag...)
	}
	return nil
}

// destroyOnePage latches pageID just long enough to read its Forward
// pointer and hand its identity to the store for recycling, then appends
// the freed ID to bag.
func (t *Tree) destroyOnePage(pageID uint64, bag *[]uint64) (uint64, error) {
	f, err := t.cfg.Store.Acquire(pageID)
	if err != nil {
		return 0, err
	}
	buf, err := t.cfg.Store.WriteLatch(f)
	if err == pagestore.ErrRecycled {
		t.cfg.Store.Release(f)
		return 0, nil
	}
	if err != nil {
		t.cfg.Store.Release(f)
		return 0, err
	}
	page := WrapPage(buf)
	next := page.Forward()

	t.cfg.Store.WriteUnlatch(f, pagestore.WALPolicyNone)
	if err := t.cfg.Store.Recycle(f, pagestore.WALPolicyNone); err != nil {
		t.cfg.Store.Release(f)
		return 0, err
	}
	t.cfg.Store.Release(f)

	t.cfg.Stats.PageRecycles.Add(1)
	*bag = append(*bag, pageID)
	return next, nil
}

func (t *Tree) markDestroyed() error {
	f, err := t.cfg.Store.Acquire(metaPageID)
	if err != nil {
		return err
	}
	buf, err := t.cfg.Store.WriteLatch(f)
	if err != nil {
		t.cfg.Store.Release(f)
		return err
	}
	defer func() {
		t.cfg.Store.WriteUnlatch(f, pagestore.WALPolicyNone)
		t.cfg.Store.Release(f)
	}()

	meta := &Meta{WrapPage(buf)}
	if meta.Destroyed() {
		return ErrDestroyed
	}
	meta.setDestroyed()
	return t.logDelta(meta.Buf(), metaPageID, DeltaMetaCutRoot)
}
