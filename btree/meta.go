package btree

import "encoding/binary"

// The meta page is a fixed-schema page (TypeMeta) that never holds sorted
// cells; its header is immediately followed by root_level, inline_size,
// tree-local flags (bit 0: destroyed), and one PageID per level giving the
// leftmost page at that level (§3, §4.8).

const maxTreeLevels = 32

const (
	metaOffRootLevel  = HeaderSize       // 4 bytes
	metaOffInlineSize = metaOffRootLevel + 4 // 2 bytes
	metaOffFlags      = metaOffInlineSize + 2 // 2 bytes
	metaOffFirstPage  = metaOffFlags + 2      // maxTreeLevels * 8 bytes
)

const metaFlagDestroyed uint16 = 1 << 0

// Meta is a typed view over a TypeMeta page.
type Meta struct{ *Page }

func initMeta(buf []byte, id uint64, inlineSize uint16, rootID uint64) *Meta {
	p := InitPage(buf, id, TypeMeta, 0)
	m := &Meta{p}
	binary.BigEndian.PutUint32(m.buf[metaOffRootLevel:], 0)
	binary.BigEndian.PutUint16(m.buf[metaOffInlineSize:], inlineSize)
	binary.BigEndian.PutUint16(m.buf[metaOffFlags:], 0)
	for lvl := 0; lvl < maxTreeLevels; lvl++ {
		binary.BigEndian.PutUint64(m.buf[metaOffFirstPage+lvl*8:], 0)
	}
	binary.BigEndian.PutUint64(m.buf[metaOffFirstPage:], rootID)
	return m
}

func wrapMeta(buf []byte) *Meta { return &Meta{WrapPage(buf)} }

func (m *Meta) RootLevel() int {
	return int(binary.BigEndian.Uint32(m.buf[metaOffRootLevel:]))
}

func (m *Meta) setRootLevel(level int) {
	binary.BigEndian.PutUint32(m.buf[metaOffRootLevel:], uint32(level))
}

func (m *Meta) InlineSize() uint16 {
	return binary.BigEndian.Uint16(m.buf[metaOffInlineSize:])
}

func (m *Meta) Destroyed() bool {
	return binary.BigEndian.Uint16(m.buf[metaOffFlags:])&metaFlagDestroyed != 0
}

func (m *Meta) setDestroyed() {
	flags := binary.BigEndian.Uint16(m.buf[metaOffFlags:])
	binary.BigEndian.PutUint16(m.buf[metaOffFlags:], flags|metaFlagDestroyed)
}

// FirstPageID returns the leftmost page at level (0 = leaf level), or 0 if
// the tree does not reach that level.
func (m *Meta) FirstPageID(level int) uint64 {
	if level < 0 || level >= maxTreeLevels {
		return 0
	}
	return binary.BigEndian.Uint64(m.buf[metaOffFirstPage+level*8:])
}

func (m *Meta) setFirstPageID(level int, id uint64) {
	binary.BigEndian.PutUint64(m.buf[metaOffFirstPage+level*8:], id)
}

// RootPageID is a convenience for FirstPageID(RootLevel()).
func (m *Meta) RootPageID() uint64 { return m.FirstPageID(m.RootLevel()) }

// applyAddRoot records a new root one level above the old one: the old root
// becomes first_page_id(oldLevel) unchanged (it is still the leftmost page
// at that level), and newRootID becomes first_page_id(oldLevel+1).
func (m *Meta) applyAddRoot(newRootID uint64) {
	newLevel := m.RootLevel() + 1
	m.setRootLevel(newLevel)
	m.setFirstPageID(newLevel, newRootID)
}

// applyCutRoot drops the current (empty, non-leaf) root: the level below
// becomes the new root level.
func (m *Meta) applyCutRoot() {
	level := m.RootLevel()
	m.setFirstPageID(level, 0)
	m.setRootLevel(level - 1)
}

// applyFixLeftmostChild updates first_page_id(level) after the leftmost
// page of that level changes identity (split of the then-leftmost page, or
// merge of it away).
func (m *Meta) applyFixLeftmostChild(level int, id uint64) {
	m.setFirstPageID(level, id)
}
