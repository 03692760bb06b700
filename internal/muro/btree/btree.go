// Package btree implements the on-disk B-tree used for the catalog, table
// storage, and FTS postings (spec §3, §4.6). It is grounded in the teacher
// storage engine's BTree type (internal/storage/pager/btree.go): a root
// page id held by the caller, findLeaf/pathToLeaf traversal, eager
// split-on-overflow with upward propagation, and a new root created when
// the existing root splits. It drops the teacher's B+Tree leaf sibling
// chain and overflow-page value spilling (spec §9 scopes those out) and
// its rebalance-on-delete (Delete here never rebalances), keeping
// everything else in the same shape.
package btree

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/murodb/murodb"
	"github.com/murodb/murodb/internal/muro/page"
)

const (
	nodeLeaf     byte = 1
	nodeInternal byte = 2
)

// pageSource is the subset of *store.Tx the tree needs, so callers can hand
// in either a transaction or (for read-only Search/Scan) a *store.Pager
// wrapped the same way.
type pageSource interface {
	ReadPage(id uint64) ([]byte, error)
}

type writableSource interface {
	pageSource
	WritePage(id uint64, data []byte)
	AllocatePage() uint64
}

// BTree is a handle to one tree identified by its root page id. The root id
// itself lives in whatever structure owns this tree (a catalog entry, an
// IndexDef, or the root catalog pointer in the file header); callers must
// persist Root() themselves after any Insert/Delete that changes it.
type BTree struct {
	root uint64
}

// Open wraps an existing tree rooted at rootID.
func Open(rootID uint64) *BTree { return &BTree{root: rootID} }

// Create allocates a new, empty tree (a single empty leaf root) within tx.
func Create(tx writableSource) (*BTree, error) {
	rootID := tx.AllocatePage()
	pg := newLeafPage(rootID, nil)
	tx.WritePage(rootID, pg.Bytes())
	return &BTree{root: rootID}, nil
}

// Root returns the tree's current root page id.
func (bt *BTree) Root() uint64 { return bt.root }

type leafEntry struct {
	key   []byte
	value []byte
}

type internalEntry struct {
	leftChild uint64
	key       []byte
}

func parseNode(buf []byte) (pg *page.Page, isLeaf bool, rightChild uint64, err error) {
	pg, err = page.Wrap(buf)
	if err != nil {
		return nil, false, 0, err
	}
	meta, ok := pg.Cell(0)
	if !ok || len(meta) < 1 {
		return nil, false, 0, muro.Corruption("btree node missing header cell")
	}
	switch meta[0] {
	case nodeLeaf:
		return pg, true, 0, nil
	case nodeInternal:
		if len(meta) < 9 {
			return nil, false, 0, muro.Corruption("btree internal node header truncated")
		}
		return pg, false, binary.LittleEndian.Uint64(meta[1:9]), nil
	default:
		return nil, false, 0, muro.Corruptionf("btree node has unknown type byte %d", meta[0])
	}
}

func leafEntries(pg *page.Page) []leafEntry {
	n := pg.CellCount() - 1
	entries := make([]leafEntry, 0, n)
	for i := 1; i < pg.CellCount(); i++ {
		cell, _ := pg.Cell(i)
		keyLen := int(binary.LittleEndian.Uint16(cell[0:2]))
		key := cell[2 : 2+keyLen]
		value := cell[2+keyLen:]
		entries = append(entries, leafEntry{key: append([]byte(nil), key...), value: append([]byte(nil), value...)})
	}
	return entries
}

func internalEntries(pg *page.Page) []internalEntry {
	n := pg.CellCount() - 1
	entries := make([]internalEntry, 0, n)
	for i := 1; i < pg.CellCount(); i++ {
		cell, _ := pg.Cell(i)
		leftChild := binary.LittleEndian.Uint64(cell[0:8])
		keyLen := int(binary.LittleEndian.Uint16(cell[8:10]))
		key := cell[10 : 10+keyLen]
		entries = append(entries, internalEntry{leftChild: leftChild, key: append([]byte(nil), key...)})
	}
	return entries
}

func encodeLeafCell(e leafEntry) []byte {
	buf := make([]byte, 2+len(e.key)+len(e.value))
	binary.LittleEndian.PutUint16(buf[0:2], uint16(len(e.key)))
	copy(buf[2:], e.key)
	copy(buf[2+len(e.key):], e.value)
	return buf
}

func encodeInternalCell(e internalEntry) []byte {
	buf := make([]byte, 10+len(e.key))
	binary.LittleEndian.PutUint64(buf[0:8], e.leftChild)
	binary.LittleEndian.PutUint16(buf[8:10], uint16(len(e.key)))
	copy(buf[10:], e.key)
	return buf
}

// newLeafPage builds a fresh leaf page for pageID holding entries (already
// sorted by key). Returns nil if entries overflow one page.
func newLeafPage(pageID uint64, entries []leafEntry) *page.Page {
	pg := page.New(pageID)
	if _, err := pg.InsertCell([]byte{nodeLeaf}); err != nil {
		return nil
	}
	for _, e := range entries {
		if _, err := pg.InsertCell(encodeLeafCell(e)); err != nil {
			return nil
		}
	}
	return pg
}

// newInternalPage builds a fresh internal page for pageID: entries (sorted
// ascending by key) routing to their leftChild, plus a trailing rightChild
// for keys greater than every entry's key.
func newInternalPage(pageID uint64, entries []internalEntry, rightChild uint64) *page.Page {
	pg := page.New(pageID)
	meta := make([]byte, 9)
	meta[0] = nodeInternal
	binary.LittleEndian.PutUint64(meta[1:9], rightChild)
	if _, err := pg.InsertCell(meta); err != nil {
		return nil
	}
	for _, e := range entries {
		if _, err := pg.InsertCell(encodeInternalCell(e)); err != nil {
			return nil
		}
	}
	return pg
}

func findChild(entries []internalEntry, rightChild uint64, key []byte) uint64 {
	for _, e := range entries {
		if bytes.Compare(key, e.key) < 0 {
			return e.leftChild
		}
	}
	return rightChild
}

// Search looks up key, returning its value and true if present.
func (bt *BTree) Search(src pageSource, key []byte) ([]byte, bool, error) {
	id := bt.root
	visited := map[uint64]bool{}
	for {
		if visited[id] {
			return nil, false, muro.Corruption("btree: cycle detected during search")
		}
		visited[id] = true

		buf, err := src.ReadPage(id)
		if err != nil {
			return nil, false, err
		}
		pg, isLeaf, rightChild, err := parseNode(buf)
		if err != nil {
			return nil, false, err
		}
		if isLeaf {
			entries := leafEntries(pg)
			i := sort.Search(len(entries), func(i int) bool { return bytes.Compare(entries[i].key, key) >= 0 })
			if i < len(entries) && bytes.Equal(entries[i].key, key) {
				return entries[i].value, true, nil
			}
			return nil, false, nil
		}
		id = findChild(internalEntries(pg), rightChild, key)
	}
}

// pathToLeaf returns the chain of internal page ids walked from root to
// (but excluding) the leaf containing key, plus the leaf's id.
func (bt *BTree) pathToLeaf(tx writableSource, key []byte) (path []uint64, leafID uint64, err error) {
	id := bt.root
	visited := map[uint64]bool{}
	for {
		if visited[id] {
			return nil, 0, muro.Corruption("btree: cycle detected during traversal")
		}
		visited[id] = true

		buf, err := tx.ReadPage(id)
		if err != nil {
			return nil, 0, err
		}
		pg, isLeaf, rightChild, err := parseNode(buf)
		if err != nil {
			return nil, 0, err
		}
		if isLeaf {
			return path, id, nil
		}
		path = append(path, id)
		id = findChild(internalEntries(pg), rightChild, key)
	}
}

// Insert adds or replaces the value stored under key.
func (bt *BTree) Insert(tx writableSource, key, value []byte) error {
	path, leafID, err := bt.pathToLeaf(tx, key)
	if err != nil {
		return err
	}
	buf, err := tx.ReadPage(leafID)
	if err != nil {
		return err
	}
	pg, _, _, err := parseNode(buf)
	if err != nil {
		return err
	}
	entries := leafEntries(pg)
	merged := mergeLeaf(entries, leafEntry{key: key, value: value})

	if newPg := newLeafPage(leafID, merged); newPg != nil {
		tx.WritePage(leafID, newPg.Bytes())
		return nil
	}
	return bt.splitLeaf(tx, path, leafID, merged)
}

func mergeLeaf(entries []leafEntry, add leafEntry) []leafEntry {
	out := make([]leafEntry, 0, len(entries)+1)
	inserted := false
	for _, e := range entries {
		cmp := bytes.Compare(add.key, e.key)
		switch {
		case cmp < 0 && !inserted:
			out = append(out, add)
			inserted = true
			out = append(out, e)
		case cmp == 0:
			if !inserted {
				out = append(out, add)
				inserted = true
			}
		default:
			out = append(out, e)
		}
	}
	if !inserted {
		out = append(out, add)
	}
	return out
}

func (bt *BTree) splitLeaf(tx writableSource, path []uint64, leafID uint64, merged []leafEntry) error {
	mid := len(merged) / 2
	left, right := merged[:mid], merged[mid:]
	splitKey := right[0].key

	rightID := tx.AllocatePage()
	leftPg := newLeafPage(leafID, left)
	rightPg := newLeafPage(rightID, right)
	if leftPg == nil || rightPg == nil {
		return muro.Corruption("btree: leaf split produced an oversized half")
	}
	tx.WritePage(leafID, leftPg.Bytes())
	tx.WritePage(rightID, rightPg.Bytes())

	return bt.insertIntoParent(tx, path, leafID, splitKey, rightID)
}

func (bt *BTree) insertIntoParent(tx writableSource, path []uint64, leftID uint64, key []byte, rightID uint64) error {
	if len(path) == 0 {
		newRootID := tx.AllocatePage()
		pg := newInternalPage(newRootID, []internalEntry{{leftChild: leftID, key: key}}, rightID)
		if pg == nil {
			return muro.Corruption("btree: new root does not fit a single separator")
		}
		tx.WritePage(newRootID, pg.Bytes())
		bt.root = newRootID
		return nil
	}

	parentID := path[len(path)-1]
	buf, err := tx.ReadPage(parentID)
	if err != nil {
		return err
	}
	pg, _, rightChild, err := parseNode(buf)
	if err != nil {
		return err
	}
	entries := internalEntries(pg)
	merged, newRightChild := mergeInternal(entries, rightChild, internalEntry{leftChild: leftID, key: key}, rightID)

	if newPg := newInternalPage(parentID, merged, newRightChild); newPg != nil {
		tx.WritePage(parentID, newPg.Bytes())
		return nil
	}
	return bt.splitInternal(tx, path[:len(path)-1], parentID, merged, newRightChild)
}

// mergeInternal inserts newEntry (whose key separates leftID from rightID)
// into entries, replacing whichever pointer previously covered that range
// with rightID.
func mergeInternal(entries []internalEntry, rightChild uint64, newEntry internalEntry, rightID uint64) ([]internalEntry, uint64) {
	out := make([]internalEntry, 0, len(entries)+1)
	inserted := false
	newRightChild := rightChild
	for i, e := range entries {
		if !inserted && bytes.Compare(newEntry.key, e.key) < 0 {
			out = append(out, newEntry)
			inserted = true
			out = append(out, internalEntry{leftChild: rightID, key: e.key})
			continue
		}
		_ = i
		out = append(out, e)
	}
	if !inserted {
		out = append(out, newEntry)
		newRightChild = rightID
	}
	return out, newRightChild
}

func (bt *BTree) splitInternal(tx writableSource, path []uint64, pageID uint64, merged []internalEntry, rightChild uint64) error {
	mid := len(merged) / 2
	pushUp := merged[mid]
	left := merged[:mid]
	right := merged[mid+1:]

	rightID := tx.AllocatePage()
	leftPg := newInternalPage(pageID, left, pushUp.leftChild)
	rightPg := newInternalPage(rightID, right, rightChild)
	if leftPg == nil || rightPg == nil {
		return muro.Corruption("btree: internal split produced an oversized half")
	}
	tx.WritePage(pageID, leftPg.Bytes())
	tx.WritePage(rightID, rightPg.Bytes())

	return bt.insertIntoParent(tx, path, pageID, pushUp.key, rightID)
}

// Delete removes key if present, without rebalancing (spec §4.6, §9): the
// leaf is simply rewritten without that entry, which may leave it
// underfull.
func (bt *BTree) Delete(tx writableSource, key []byte) (bool, error) {
	_, leafID, err := bt.pathToLeaf(tx, key)
	if err != nil {
		return false, err
	}
	buf, err := tx.ReadPage(leafID)
	if err != nil {
		return false, err
	}
	pg, _, _, err := parseNode(buf)
	if err != nil {
		return false, err
	}
	entries := leafEntries(pg)
	out := make([]leafEntry, 0, len(entries))
	found := false
	for _, e := range entries {
		if bytes.Equal(e.key, key) {
			found = true
			continue
		}
		out = append(out, e)
	}
	if !found {
		return false, nil
	}
	newPg := newLeafPage(leafID, out)
	if newPg == nil {
		return false, muro.Corruption("btree: leaf rewrite after delete overflowed")
	}
	tx.WritePage(leafID, newPg.Bytes())
	return true, nil
}

// Visitor is called for each key/value pair during Scan, in ascending key
// order. Returning an error stops the scan and is propagated to the caller.
type Visitor func(key, value []byte) error

// Scan performs an in-order traversal of the whole tree, raising a
// corruption error if a page is visited twice (spec §4.6 "Scan").
func (bt *BTree) Scan(src pageSource, visit Visitor) error {
	return bt.scanNode(src, bt.root, map[uint64]bool{}, visit)
}

func (bt *BTree) scanNode(src pageSource, id uint64, visited map[uint64]bool, visit Visitor) error {
	if visited[id] {
		return muro.Corruption("btree: cycle detected during scan")
	}
	visited[id] = true

	buf, err := src.ReadPage(id)
	if err != nil {
		return err
	}
	pg, isLeaf, rightChild, err := parseNode(buf)
	if err != nil {
		return err
	}
	if isLeaf {
		for _, e := range leafEntries(pg) {
			if err := visit(e.key, e.value); err != nil {
				return err
			}
		}
		return nil
	}
	entries := internalEntries(pg)
	for _, e := range entries {
		if err := bt.scanNode(src, e.leftChild, visited, visit); err != nil {
			return err
		}
	}
	return bt.scanNode(src, rightChild, visited, visit)
}
