package btree

import "github.com/intellect4all/bptree-engine/common"

// Engine adapts a Tree to common.StorageEngine so the shared benchmark
// harness (common/benchmark) can drive it the same way it would any other
// engine in the pack this harness was built against.
type Engine struct {
	tree *Tree
}

// NewEngine wraps an already-constructed Tree.
func NewEngine(t *Tree) *Engine { return &Engine{tree: t} }

func (e *Engine) Put(key, value []byte) error { return e.tree.Put(key, value) }

// Get adapts FindOne's ErrKeyNotFound to common.ErrKeyNotFound, since the
// harness checks for that sentinel specifically.
func (e *Engine) Get(key []byte) ([]byte, error) {
	v, err := e.tree.FindOne(key)
	if err == ErrKeyNotFound {
		return nil, common.ErrKeyNotFound
	}
	return v, err
}

func (e *Engine) Delete(key []byte) error {
	err := e.tree.RemoveX(key)
	if err == ErrKeyNotFound {
		return common.ErrKeyNotFound
	}
	return err
}

func (e *Engine) Close() error { return e.tree.Close() }

func (e *Engine) Sync() error { return e.tree.cfg.Store.Sync() }

func (e *Engine) Stats() common.Stats {
	snap := e.tree.cfg.Stats.Snapshot()
	numKeys, _ := e.tree.Size()
	return common.Stats{
		NumKeys:       int64(numKeys),
		TotalDiskSize: snap.BytesWritten,
		WriteCount:    snap.TreeWrites,
		ReadCount:     snap.TreeReads,
	}
}
