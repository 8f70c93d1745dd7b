package btree

import "github.com/intellect4all/bptree-engine/pagestore"

// tailKind records why a page is held in an operation's tail (§9,
// "tail-as-scratch-structure"): EXACT pages are on the direct root-to-leaf
// path, BACK/FORWARD are left/right siblings picked up while repairing the
// triangle invariant during a split or merge.
type tailKind int

const (
	tailExact tailKind = iota
	tailBack
	tailForward
)

// tailFrame is one entry in the latch chain an insert/remove/range-remove
// builds while it descends. Frames are released bottom-up, in the reverse
// order they were acquired, once the structural change they protect has
// been fully applied and logged.
type tailFrame struct {
	pageID uint64
	frame  *pagestore.Frame
	buf    []byte
	page   *Page
	level    int
	write    bool
	kind     tailKind
	recycled bool // true once Recycle has run; releaseAll/unlatchOne must not unlatch again
}

// tail is the per-operation held-latch stack.
type tail struct {
	store   pagestore.Store
	removed bool // true once releaseAll has run, guards double release
	frames  []*tailFrame
}

func newTail(store pagestore.Store) *tail {
	return &tail{store: store}
}

// acquire pins and latches pageID, appends it to the tail, and returns the
// frame. A pagestore.ErrRecycled bubbles straight up — the caller converts
// it to errRetryRoot, since a recycled page invalidates everything above it
// in the current descent.
func (tl *tail) acquire(pageID uint64, level int, write bool, kind tailKind) (*tailFrame, error) {
	f, err := tl.store.Acquire(pageID)
	if err != nil {
		return nil, err
	}
	var buf []byte
	if write {
		buf, err = tl.store.WriteLatch(f)
	} else {
		buf, err = tl.store.ReadLatch(f)
	}
	if err != nil {
		tl.store.Release(f)
		return nil, err
	}
	tf := &tailFrame{pageID: pageID, frame: f, buf: buf, page: WrapPage(buf), level: level, write: write, kind: kind}
	tl.frames = append(tl.frames, tf)
	return tf, nil
}

// releaseFrom unlatches and releases every frame from index i to the top of
// the stack, deepest frame first (the reverse of acquisition order for that
// span), then truncates the stack to i.
func (tl *tail) releaseFrom(i int, policy pagestore.WALPolicy) {
	for j := len(tl.frames) - 1; j >= i; j-- {
		tl.unlatchOne(tl.frames[j], policy)
	}
	tl.frames = tl.frames[:i]
}

func (tl *tail) unlatchOne(tf *tailFrame, policy pagestore.WALPolicy) {
	if tf.recycled {
		tl.store.Release(tf.frame)
		return
	}
	if tf.write {
		tl.store.WriteUnlatch(tf.frame, policy)
	} else {
		tl.store.ReadUnlatch(tf.frame)
	}
	tl.store.Release(tf.frame)
}

// releaseAll unwinds the whole stack bottom-up (deepest frame first), which
// is the required release order once a structural change is finished and
// logged: the spec requires latches to drop in the reverse of the order
// they were acquired.
func (tl *tail) releaseAll(policy pagestore.WALPolicy) {
	if tl.removed {
		return
	}
	for j := len(tl.frames) - 1; j >= 0; j-- {
		tl.unlatchOne(tl.frames[j], policy)
	}
	tl.frames = nil
	tl.removed = true
}

// releaseAt unlatches and releases the frame at idx and removes it from the
// stack, leaving the rest in place. Used by plain reads, which hold at most
// a parent and its about-to-be-acquired child and drop the parent as soon
// as the child is safely latched.
func (tl *tail) releaseAt(idx int, policy pagestore.WALPolicy) {
	if idx < 0 || idx >= len(tl.frames) {
		return
	}
	tl.unlatchOne(tl.frames[idx], policy)
	tl.frames = append(tl.frames[:idx], tl.frames[idx+1:]...)
}

func (tl *tail) top() *tailFrame {
	if len(tl.frames) == 0 {
		return nil
	}
	return tl.frames[len(tl.frames)-1]
}
