package store

import (
	"encoding/binary"

	"github.com/murodb/murodb"
)

// Freelist page layout (spec §3, §4.3), occupying the full decrypted page
// body directly — unlike B-tree pages it does not use the slotted-cell
// format from package page, the same way the teacher's superblock and
// free-list pages bypass its generic B+Tree slotted layout:
//
//	[0:8]    NextPageID  uint64 LE (InvalidPageID = end of chain)
//	[8:16]   Count       uint64 LE
//	[16:...] Count * uint64 LE page ids
const (
	flOffNext  = 0
	flOffCount = 8
	flOffData  = 16
)

// CapacityPerPage returns how many page ids fit in one freelist page.
func CapacityPerPage(pageSize int) int {
	return (pageSize - flOffData) / 8
}

// PagesNeeded returns how many freelist pages are required to store n ids.
func PagesNeeded(n, pageSize int) int {
	if n == 0 {
		return 0
	}
	cap := CapacityPerPage(pageSize)
	return (n + cap - 1) / cap
}

// FreeList is the in-memory stack of free page ids (spec §3 "an in-memory
// stack of free PageIds"), backed by a set rather than a literal stack so
// that repeated recovery runs (which may re-free the same page) and an
// aborting transaction's undo stay idempotent. This mirrors the teacher
// storage engine's FreeManager, which also tracks free pages as an
// in-memory map rather than an ordered list. It is pushed to disk only by
// the pager's flush_meta, not on every Free call.
type FreeList struct {
	ids map[uint64]struct{}
}

// NewFreeList returns an empty freelist.
func NewFreeList() *FreeList { return &FreeList{ids: map[uint64]struct{}{}} }

// Allocate pops an arbitrary free page id. ok is false if the freelist is
// empty.
func (f *FreeList) Allocate() (id uint64, ok bool) {
	for id = range f.ids {
		delete(f.ids, id)
		return id, true
	}
	return 0, false
}

// Free marks a page id as available for reuse. Freeing an id already free
// is a no-op, which is what keeps idempotent WAL replay safe.
func (f *FreeList) Free(id uint64) {
	f.ids[id] = struct{}{}
}

// Unfree removes id from the free set without returning it, used to undo a
// Free call when the transaction that issued it aborts (supplemented from
// the original implementation's freelist undo_last_free; spec.md is silent
// on abort's freelist interaction beyond "returns freed ids to the live
// freelist unchanged").
func (f *FreeList) Unfree(id uint64) {
	delete(f.ids, id)
}

// Len returns the number of free pages.
func (f *FreeList) Len() int { return len(f.ids) }

// IsEmpty reports whether the freelist has no free pages.
func (f *FreeList) IsEmpty() bool { return len(f.ids) == 0 }

// All returns every free page id, in no particular order.
func (f *FreeList) All() []uint64 {
	out := make([]uint64, 0, len(f.ids))
	for id := range f.ids {
		out = append(out, id)
	}
	return out
}

// BuildChain lays the freelist's ids out across reservedPageIDs (which the
// pager must have already allocated, exactly PagesNeeded(f.Len(), pageSize)
// of them) and returns the encoded page body for each. This resolves the
// allocation cascade noted in spec §4.3: the freelist's own storage must
// itself come from free pages, so the pager reserves enough trailing pages
// up front, then BuildChain fills next_page_id of page k to reference
// reservedPageIDs[k+1].
func BuildChain(ids []uint64, pageSize int, reservedPageIDs []uint64) (headID uint64, pages map[uint64][]byte) {
	if len(ids) == 0 {
		return InvalidPageID, nil
	}
	cap := CapacityPerPage(pageSize)
	pages = make(map[uint64][]byte, len(reservedPageIDs))
	headID = reservedPageIDs[0]

	for k, pid := range reservedPageIDs {
		start := k * cap
		end := start + cap
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]

		next := uint64(InvalidPageID)
		if k+1 < len(reservedPageIDs) {
			next = reservedPageIDs[k+1]
		}
		pages[pid] = marshalFreeListPage(next, chunk, pageSize)
	}
	return headID, pages
}

func marshalFreeListPage(next uint64, ids []uint64, pageSize int) []byte {
	buf := make([]byte, pageSize)
	binary.LittleEndian.PutUint64(buf[flOffNext:], next)
	binary.LittleEndian.PutUint64(buf[flOffCount:], uint64(len(ids)))
	for i, id := range ids {
		off := flOffData + i*8
		binary.LittleEndian.PutUint64(buf[off:], id)
	}
	return buf
}

// ReadChain walks the freelist chain starting at headID, calling readPage
// to fetch each page's decrypted body, and returns the full set of free
// page ids.
func ReadChain(headID uint64, readPage func(id uint64) ([]byte, error)) ([]uint64, error) {
	var ids []uint64
	pid := headID
	for pid != InvalidPageID {
		buf, err := readPage(pid)
		if err != nil {
			return nil, err
		}
		if len(buf) < flOffData {
			return nil, muro.Corruptionf("freelist page %d too short", pid)
		}
		count := binary.LittleEndian.Uint64(buf[flOffCount:])
		for i := uint64(0); i < count; i++ {
			off := flOffData + int(i)*8
			if off+8 > len(buf) {
				return nil, muro.Corruptionf("freelist page %d entry count overruns buffer", pid)
			}
			ids = append(ids, binary.LittleEndian.Uint64(buf[off:]))
		}
		pid = binary.LittleEndian.Uint64(buf[flOffNext:])
	}
	return ids, nil
}
