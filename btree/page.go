package btree

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Page types, stored in the one-byte Type header field.
const (
	TypeLeaf  byte = 1
	TypeInner byte = 2
	TypeMeta  byte = 3
)

// PageFormatV1 is the only cell encoding shipped today. The version byte
// exists so a future, backward-compatible decoder can be added without
// breaking pages written by an older binary (§4.2).
const PageFormatV1 byte = 1

// Page header layout (BigEndian), 40 bytes, followed immediately by the
// cell directory (2 bytes per slot, growing forward) and then cells
// (growing backward from the end of the buffer):
//
//	[0:8]   PageID          uint64
//	[8]     Type            byte
//	[9]     Version         byte
//	[10:12] Count           uint16
//	[12:20] RemovalCounter  uint64
//	[20:28] Forward         uint64  (same-level right sibling, 0 = none)
//	[28:36] RightmostChild  uint64  (inner pages only: right(count-1))
//	[36:38] FreePtr         uint16  (offset of the next cell write)
//	[38:40] Flags           uint16
const (
	headerOffPageID         = 0
	headerOffType           = 8
	headerOffVersion        = 9
	headerOffCount          = 10
	headerOffRemovalCounter = 12
	headerOffForward        = 20
	headerOffRightmostChild = 28
	headerOffFreePtr        = 36
	headerOffFlags          = 38
	HeaderSize              = 40

	cellDirEntrySize = 2
)

var (
	ErrPageFull     = errors.New("btree: page is full")
	ErrCellNotFound = errors.New("btree: cell not found")
)

// Comparator orders two opaque keys the way bytes.Compare orders []byte.
type Comparator func(a, b []byte) int

// Page is a thin, format-aware view over a page buffer on loan from a
// pagestore.Frame's latch. It never owns the memory: callers obtain buf from
// a read or write latch and let it go out of scope when the latch is
// released (mirrors the "addr" the spec's IO descriptors operate on).
type Page struct {
	buf []byte
}

// WrapPage views an existing buffer (already containing a valid header) as
// a Page.
func WrapPage(buf []byte) *Page { return &Page{buf: buf} }

// InitPage stamps a fresh header into buf and returns the Page view. buf is
// zeroed by the caller (pagestore hands out zeroed pages on allocation).
func InitPage(buf []byte, id uint64, typ byte, flags uint16) *Page {
	p := &Page{buf: buf}
	binary.BigEndian.PutUint64(buf[headerOffPageID:], id)
	buf[headerOffType] = typ
	buf[headerOffVersion] = PageFormatV1
	binary.BigEndian.PutUint16(buf[headerOffCount:], 0)
	binary.BigEndian.PutUint64(buf[headerOffRemovalCounter:], 0)
	binary.BigEndian.PutUint64(buf[headerOffForward:], 0)
	binary.BigEndian.PutUint64(buf[headerOffRightmostChild:], 0)
	binary.BigEndian.PutUint16(buf[headerOffFreePtr:], uint16(len(buf)))
	binary.BigEndian.PutUint16(buf[headerOffFlags:], flags)
	return p
}

func (p *Page) PageID() uint64 { return binary.BigEndian.Uint64(p.buf[headerOffPageID:]) }
func (p *Page) Type() byte     { return p.buf[headerOffType] }
func (p *Page) Version() byte  { return p.buf[headerOffVersion] }
func (p *Page) IsLeaf() bool   { return p.Type() == TypeLeaf }
func (p *Page) IsInner() bool  { return p.Type() == TypeInner }
func (p *Page) IsMeta() bool   { return p.Type() == TypeMeta }

func (p *Page) Count() uint16 { return binary.BigEndian.Uint16(p.buf[headerOffCount:]) }
func (p *Page) setCount(n uint16) {
	binary.BigEndian.PutUint16(p.buf[headerOffCount:], n)
}

func (p *Page) RemovalCounter() uint64 {
	return binary.BigEndian.Uint64(p.buf[headerOffRemovalCounter:])
}
func (p *Page) SetRemovalCounter(v uint64) {
	binary.BigEndian.PutUint64(p.buf[headerOffRemovalCounter:], v)
}

func (p *Page) Forward() uint64 { return binary.BigEndian.Uint64(p.buf[headerOffForward:]) }
func (p *Page) SetForward(id uint64) {
	binary.BigEndian.PutUint64(p.buf[headerOffForward:], id)
}

// RightmostChild is right(count-1) for an inner page: the child covering
// keys greater than the last routing key.
func (p *Page) RightmostChild() uint64 {
	return binary.BigEndian.Uint64(p.buf[headerOffRightmostChild:])
}
func (p *Page) SetRightmostChild(id uint64) {
	binary.BigEndian.PutUint64(p.buf[headerOffRightmostChild:], id)
}

func (p *Page) Flags() uint16 { return binary.BigEndian.Uint16(p.buf[headerOffFlags:]) }
func (p *Page) SetFlags(f uint16) {
	binary.BigEndian.PutUint16(p.buf[headerOffFlags:], f)
}

func (p *Page) freePtr() uint16 { return binary.BigEndian.Uint16(p.buf[headerOffFreePtr:]) }
func (p *Page) setFreePtr(v uint16) {
	binary.BigEndian.PutUint16(p.buf[headerOffFreePtr:], v)
}

// Item is a single key/value/child triple. Leaves use Key+Value. Inner
// pages always use Key+Left; with CanGetRowFromInner their cells also
// encode a Value field, which the tree's own separators leave empty.
type Item struct {
	Key   []byte
	Value []byte
	Left  uint64
}

func (p *Page) cellDirOffset(i uint16) int { return HeaderSize + int(i)*cellDirEntrySize }

func (p *Page) cellOffset(i uint16) uint16 {
	return binary.BigEndian.Uint16(p.buf[p.cellDirOffset(i):])
}

func (p *Page) setCellOffset(i uint16, off uint16) {
	binary.BigEndian.PutUint16(p.buf[p.cellDirOffset(i):], off)
}

// encodedSize returns how many bytes item occupies when written with the
// given encoding choice (whether inner cells carry a row).
func encodedSize(item *Item, leaf, carriesRow bool) int {
	n := varintLen(uint32(len(item.Key))) + len(item.Key)
	if leaf {
		return n + varintLen(uint32(len(item.Value))) + len(item.Value)
	}
	n += 8 // Left child, fixed width
	if carriesRow {
		n += varintLen(uint32(len(item.Value))) + len(item.Value)
	}
	return n
}

func (p *Page) carriesRow(canGetRowFromInner bool) bool {
	return p.IsLeaf() || canGetRowFromInner
}

// IsFull reports whether item would not fit without a split.
func (p *Page) IsFull(item *Item, canGetRowFromInner bool) bool {
	count := p.Count()
	dirEnd := p.cellDirOffset(count + 1)
	size := encodedSize(item, p.IsLeaf(), p.carriesRow(canGetRowFromInner))
	free := int(p.freePtr()) - dirEnd
	return free < size
}

// ItemAt decodes the item stored at slot i.
func (p *Page) ItemAt(i uint16, canGetRowFromInner bool) (*Item, error) {
	if i >= p.Count() {
		return nil, ErrCellNotFound
	}
	off := int(p.cellOffset(i))
	if p.IsLeaf() {
		return p.decodeLeafCell(off)
	}
	return p.decodeInnerCell(off, canGetRowFromInner)
}

func (p *Page) decodeLeafCell(off int) (*Item, error) {
	keySize, n1 := getVarint(p.buf[off:])
	if n1 <= 0 {
		return nil, errVarintTruncated
	}
	valSize, n2 := getVarint(p.buf[off+n1:])
	if n2 <= 0 {
		return nil, errVarintTruncated
	}
	start := off + n1 + n2
	key := append([]byte(nil), p.buf[start:start+int(keySize)]...)
	val := append([]byte(nil), p.buf[start+int(keySize):start+int(keySize)+int(valSize)]...)
	return &Item{Key: key, Value: val}, nil
}

func (p *Page) decodeInnerCell(off int, canGetRowFromInner bool) (*Item, error) {
	keySize, n1 := getVarint(p.buf[off:])
	if n1 <= 0 {
		return nil, errVarintTruncated
	}
	left := binary.BigEndian.Uint64(p.buf[off+n1:])
	start := off + n1 + 8
	key := append([]byte(nil), p.buf[start:start+int(keySize)]...)
	item := &Item{Key: key, Left: left}
	if canGetRowFromInner {
		valSize, n2 := getVarint(p.buf[start+int(keySize):])
		if n2 <= 0 {
			return nil, errVarintTruncated
		}
		valStart := start + int(keySize) + n2
		item.Value = append([]byte(nil), p.buf[valStart:valStart+int(valSize)]...)
	}
	return item, nil
}

func (p *Page) writeCell(off int, item *Item, canGetRowFromInner bool) {
	if p.IsLeaf() {
		n1 := putVarint(p.buf[off:], uint32(len(item.Key)))
		n2 := putVarint(p.buf[off+n1:], uint32(len(item.Value)))
		start := off + n1 + n2
		copy(p.buf[start:], item.Key)
		copy(p.buf[start+len(item.Key):], item.Value)
		return
	}
	n1 := putVarint(p.buf[off:], uint32(len(item.Key)))
	binary.BigEndian.PutUint64(p.buf[off+n1:], item.Left)
	start := off + n1 + 8
	copy(p.buf[start:], item.Key)
	if canGetRowFromInner {
		n2 := putVarint(p.buf[start+len(item.Key):], uint32(len(item.Value)))
		copy(p.buf[start+len(item.Key)+n2:], item.Value)
	}
}

// SetChildAt overwrites the Left child pointer of an existing inner cell in
// place. The field is fixed-width, so this never changes the cell's
// encoded size or disturbs the directory — used to retarget the pointer
// that used to cover a page's whole key range after that page splits.
func (p *Page) SetChildAt(idx uint16, child uint64) error {
	if p.IsLeaf() {
		return ErrCellNotFound
	}
	if idx >= p.Count() {
		return ErrCellNotFound
	}
	off := int(p.cellOffset(idx))
	_, n1 := getVarint(p.buf[off:])
	if n1 <= 0 {
		return errVarintTruncated
	}
	binary.BigEndian.PutUint64(p.buf[off+n1:], child)
	return nil
}

// ReplaceKeyAt rewrites the key of an existing inner cell in place, keeping
// its Left child (and Value, if any) unchanged. Used to repair an ancestor
// separator after the leaf it was copied from loses its rightmost live item.
// Unlike SetChildAt this can change the cell's encoded size, so it is
// implemented as delete-then-reinsert rather than an in-place byte patch.
func (p *Page) ReplaceKeyAt(idx uint16, newKey []byte, canGetRowFromInner bool) error {
	item, err := p.ItemAt(idx, canGetRowFromInner)
	if err != nil {
		return err
	}
	replacement := &Item{Key: newKey, Left: item.Left, Value: item.Value}
	if err := p.DeleteAt(idx); err != nil {
		return err
	}
	if p.IsFull(replacement, canGetRowFromInner) {
		return ErrPageFull
	}
	insIdx, _ := p.Search(newKey, defaultComparator, canGetRowFromInner)
	return p.InsertAt(insIdx, replacement, canGetRowFromInner)
}

// Search returns the slot at which key would be found (exact match) or
// inserted (no match), using a plain binary search under the supplied
// ordering. found is true only on an exact match.
func (p *Page) Search(key []byte, cmp Comparator, canGetRowFromInner bool) (idx uint16, found bool) {
	lo, hi := uint16(0), p.Count()
	for lo < hi {
		mid := (lo + hi) / 2
		item, err := p.ItemAt(mid, canGetRowFromInner)
		if err != nil {
			return lo, false
		}
		c := cmp(key, item.Key)
		switch {
		case c == 0:
			return mid, true
		case c < 0:
			hi = mid
		default:
			lo = mid + 1
		}
	}
	return lo, false
}

// InsertAt writes item into slot idx, shifting the directory right. Callers
// locate idx via Search first; this never searches itself, since the
// three-phase remove and the split machinery both need to place items at a
// slot computed earlier, without a redundant lookup.
func (p *Page) InsertAt(idx uint16, item *Item, canGetRowFromInner bool) error {
	if p.IsFull(item, canGetRowFromInner) {
		return ErrPageFull
	}
	count := p.Count()
	size := encodedSize(item, p.IsLeaf(), p.carriesRow(canGetRowFromInner))
	newFree := p.freePtr() - uint16(size)
	p.writeCell(int(newFree), item, canGetRowFromInner)

	for i := count; i > idx; i-- {
		p.setCellOffset(i, p.cellOffset(i-1))
	}
	p.setCellOffset(idx, newFree)
	p.setCount(count + 1)
	p.setFreePtr(newFree)
	return nil
}

// DeleteAt removes the item at idx.
func (p *Page) DeleteAt(idx uint16) error {
	count := p.Count()
	if idx >= count {
		return ErrCellNotFound
	}
	for i := idx; i < count-1; i++ {
		p.setCellOffset(i, p.cellOffset(i+1))
	}
	p.setCount(count - 1)
	return nil
}

// DeleteRange removes the contiguous slots [lo, hi) with a single shift of
// the directory entries after hi, as used by range-remove to avoid
// repeated directory shifts.
func (p *Page) DeleteRange(lo, hi uint16) error {
	count := p.Count()
	if hi > count || lo > hi {
		return ErrCellNotFound
	}
	shift := hi - lo
	for i := hi; i < count; i++ {
		p.setCellOffset(i-shift, p.cellOffset(i))
	}
	p.setCount(count - shift)
	return nil
}

// Reset clears all cells, keeping the header's identity fields.
func (p *Page) Reset() {
	p.setCount(0)
	p.setFreePtr(uint16(len(p.buf)))
}

// Buf exposes the raw backing buffer, for callers (split/merge) that build
// a fresh page by replaying items collected from others.
func (p *Page) Buf() []byte { return p.buf }
