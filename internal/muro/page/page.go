// Package page implements the slotted-page layout used for every page in
// the database file (spec §3, §4.2): a small fixed header, a growing array
// of 2-byte cell pointers, and a payload heap that grows downward from the
// end of the frame. It mirrors the conventions of the pager's page types in
// the teacher storage engine this module grew out of (a common header
// struct, little-endian fixed-width fields), without the teacher's page
// checksum, generalized to the spec's leaner 14-byte header and pointer-indexed cells
// instead of tombstoned slot offsets.
package page

import (
	"encoding/binary"
	"fmt"
)

// Size is the fixed page frame size in bytes.
const Size = 4096

// Header layout, 14 bytes:
//
//	[0:8]   PageID     uint64 LE
//	[8:10]  CellCount  uint16 LE
//	[10:12] FreeStart  uint16 LE — end of the cell-pointer array
//	[12:14] FreeEnd    uint16 LE — start of the payload heap
const (
	HeaderSize = 14

	offPageID    = 0
	offCellCount = 8
	offFreeStart = 10
	offFreeEnd   = 12

	pointerSize = 2 // bytes per cell pointer
	lenPrefix   = 2 // bytes of length prefix per cell payload
)

// Page wraps a fixed Size-byte buffer and provides cell-level access.
type Page struct {
	buf []byte
}

// New initializes a fresh, empty page for pageID. The returned buffer is
// exactly Size bytes; free_start sits right after the header and free_end
// sits at the end of the frame.
func New(pageID uint64) *Page {
	buf := make([]byte, Size)
	p := &Page{buf: buf}
	p.setPageID(pageID)
	p.setCellCount(0)
	p.setFreeStart(HeaderSize)
	p.setFreeEnd(Size)
	return p
}

// Wrap interprets an existing Size-byte buffer as a page. It does not
// validate contents; callers that read untrusted bytes from disk should do
// so only after the crypto layer has authenticated them.
func Wrap(buf []byte) (*Page, error) {
	if len(buf) != Size {
		return nil, fmt.Errorf("page: buffer must be %d bytes, got %d", Size, len(buf))
	}
	return &Page{buf: buf}, nil
}

func (p *Page) PageID() uint64 { return binary.LittleEndian.Uint64(p.buf[offPageID:]) }
func (p *Page) setPageID(id uint64) {
	binary.LittleEndian.PutUint64(p.buf[offPageID:], id)
}

func (p *Page) CellCount() int { return int(binary.LittleEndian.Uint16(p.buf[offCellCount:])) }
func (p *Page) setCellCount(n int) {
	binary.LittleEndian.PutUint16(p.buf[offCellCount:], uint16(n))
}

func (p *Page) FreeStart() int { return int(binary.LittleEndian.Uint16(p.buf[offFreeStart:])) }
func (p *Page) setFreeStart(off int) {
	binary.LittleEndian.PutUint16(p.buf[offFreeStart:], uint16(off))
}

func (p *Page) FreeEnd() int { return int(binary.LittleEndian.Uint16(p.buf[offFreeEnd:])) }
func (p *Page) setFreeEnd(off int) {
	binary.LittleEndian.PutUint16(p.buf[offFreeEnd:], uint16(off))
}

// FreeSpace is the number of bytes available between the pointer array and
// the payload heap. It is 0 (never negative) when the two regions would
// otherwise overlap.
func (p *Page) FreeSpace() int {
	fs := p.FreeEnd() - p.FreeStart()
	if fs < 0 {
		return 0
	}
	return fs
}

// CellPointer returns the byte offset stored for cell i.
func (p *Page) CellPointer(i int) uint16 {
	off := HeaderSize + i*pointerSize
	return binary.LittleEndian.Uint16(p.buf[off:])
}

// SetCellPointer overwrites the pointer for an existing cell index, for
// rewriting a cell such as a node header cell (index 0 in the B-tree) in
// place. The btree package rebuilds whole pages and does not call it.
func (p *Page) SetCellPointer(i int, offset uint16) error {
	if i < 0 || i >= p.CellCount() {
		return fmt.Errorf("page: cell index %d out of range [0,%d)", i, p.CellCount())
	}
	off := HeaderSize + i*pointerSize
	binary.LittleEndian.PutUint16(p.buf[off:], offset)
	return nil
}

// InsertCell appends a new cell holding payload and returns its index.
// Reserves 2 (pointer) + 2 (length prefix) + len(payload) bytes; returns a
// plain error (not wrapping muro.ErrPageOverflow) when insufficient free
// space remains.
func (p *Page) InsertCell(payload []byte) (int, error) {
	needed := pointerSize + lenPrefix + len(payload)
	if needed > p.FreeSpace() {
		return -1, fmt.Errorf("page: insert needs %d bytes, have %d free", needed, p.FreeSpace())
	}
	newEnd := p.FreeEnd() - lenPrefix - len(payload)
	binary.LittleEndian.PutUint16(p.buf[newEnd:], uint16(len(payload)))
	copy(p.buf[newEnd+lenPrefix:], payload)
	p.setFreeEnd(newEnd)

	idx := p.CellCount()
	ptrOff := HeaderSize + idx*pointerSize
	binary.LittleEndian.PutUint16(p.buf[ptrOff:], uint16(newEnd))
	p.setCellCount(idx + 1)
	p.setFreeStart(ptrOff + pointerSize)
	return idx, nil
}

// Cell returns the payload of cell i, or ok=false if i is out of range.
func (p *Page) Cell(i int) (payload []byte, ok bool) {
	if i < 0 || i >= p.CellCount() {
		return nil, false
	}
	off := int(p.CellPointer(i))
	length := int(binary.LittleEndian.Uint16(p.buf[off:]))
	return p.buf[off+lenPrefix : off+lenPrefix+length], true
}

// RemoveCell shifts the pointer array left to drop cell i. The cell's
// payload bytes in the heap are left in place (leaked) until the page is
// rewritten — there is no compaction pass in this core (spec §4.2, §9).
func (p *Page) RemoveCell(i int) error {
	cc := p.CellCount()
	if i < 0 || i >= cc {
		return fmt.Errorf("page: cell index %d out of range [0,%d)", i, cc)
	}
	base := HeaderSize + i*pointerSize
	for j := i; j < cc-1; j++ {
		src := HeaderSize + (j+1)*pointerSize
		copy(p.buf[base+(j-i)*pointerSize:], p.buf[src:src+pointerSize])
	}
	p.setCellCount(cc - 1)
	p.setFreeStart(p.FreeStart() - pointerSize)
	return nil
}

// Bytes returns the underlying Size-byte buffer.
func (p *Page) Bytes() []byte { return p.buf }
