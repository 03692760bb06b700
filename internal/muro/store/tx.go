package store

import (
	"fmt"
	"sort"

	"github.com/murodb/murodb"
	"github.com/murodb/murodb/internal/muro/wal"
)

// Tx is a transaction's private buffer: a dirty-page set, a freed-page set,
// and staged metadata, exactly the "transaction buffer" of spec §3/§4.5.
// Nothing here touches the WAL or the data file until Commit runs the
// two-phase commit protocol.
type Tx struct {
	pager *Pager
	txID  uint64

	dirty     map[uint64][]byte
	freed     map[uint64]struct{}
	allocated map[uint64]struct{}

	catalogRoot    uint64
	catalogRootSet bool

	done bool
}

// BeginTx opens a new transaction against the pager.
func (p *Pager) BeginTx() *Tx {
	return &Tx{
		pager:     p,
		txID:      p.NextTxID(),
		dirty:     map[uint64][]byte{},
		freed:     map[uint64]struct{}{},
		allocated: map[uint64]struct{}{},
	}
}

// TxID returns the transaction's id.
func (tx *Tx) TxID() uint64 { return tx.txID }

// AllocatePage reserves a new page id for this transaction.
func (tx *Tx) AllocatePage() uint64 {
	id := tx.pager.AllocatePage()
	tx.allocated[id] = struct{}{}
	return id
}

// ReadPage returns the transaction's dirty image of id if present,
// otherwise the committed image from the pager (spec §4.5).
func (tx *Tx) ReadPage(id uint64) ([]byte, error) {
	if buf, ok := tx.dirty[id]; ok {
		out := make([]byte, len(buf))
		copy(out, buf)
		return out, nil
	}
	return tx.pager.ReadPage(id)
}

// WritePage replaces the dirty-set entry for id.
func (tx *Tx) WritePage(id uint64, data []byte) {
	buf := make([]byte, len(data))
	copy(buf, data)
	tx.dirty[id] = buf
}

// FreePage records id for release at commit.
func (tx *Tx) FreePage(id uint64) {
	tx.freed[id] = struct{}{}
	delete(tx.dirty, id)
}

// CatalogRoot returns the root page id a reader of this transaction's own
// writes would see: the staged value from a prior SetCatalogRoot in this
// same transaction if any, otherwise the pager's last-committed value.
func (tx *Tx) CatalogRoot() uint64 {
	if tx.catalogRootSet {
		return tx.catalogRoot
	}
	return tx.pager.Header().CatalogRoot
}

// SetCatalogRoot stages the catalog root page id to publish at commit. The
// catalog itself is an external collaborator (spec §1, §6); the core only
// threads its root page id through UpdateMeta.
func (tx *Tx) SetCatalogRoot(id uint64) {
	tx.catalogRoot = id
	tx.catalogRootSet = true
}

// Commit runs the two-phase commit protocol (spec §4.5): WAL records are
// appended and synced first (the durability point), then dirty pages are
// written through to the pager and the header is flushed.
func (tx *Tx) Commit() error {
	if tx.done {
		return fmt.Errorf("store: tx %d already finished", tx.txID)
	}
	tx.done = true
	p := tx.pager

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := p.wal.Append(wal.BeginRecord(tx.txID)); err != nil {
		return err
	}

	ids := make([]uint64, 0, len(tx.dirty))
	for id := range tx.dirty {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		if _, err := p.wal.Append(wal.PagePutRecord(tx.txID, id, tx.dirty[id])); err != nil {
			return err
		}
	}
	for id := range tx.allocated {
		if _, err := p.wal.Append(wal.AllocPageRecord(tx.txID, id)); err != nil {
			return err
		}
	}
	for id := range tx.freed {
		if _, err := p.wal.Append(wal.FreePageRecord(tx.txID, id)); err != nil {
			return err
		}
	}

	catalogRoot := p.header.CatalogRoot
	if tx.catalogRootSet {
		catalogRoot = tx.catalogRoot
	}
	if _, err := p.wal.Append(wal.UpdateMetaRecord(tx.txID, catalogRoot, p.header.PageCount, p.header.FreeListPageID)); err != nil {
		return err
	}
	if _, err := p.wal.Append(wal.CommitRecord(tx.txID)); err != nil {
		return err
	}

	// Commit point: past Sync, this transaction is durable (spec §4.5 step 5).
	if err := p.wal.Sync(); err != nil {
		return err
	}

	// Steps 6-7 are best-effort beyond this point: a failure here is
	// reported as CommitInDoubt because the transaction is already durable
	// in the WAL and will be replayed by recovery on the next open.
	for _, id := range ids {
		if err := p.writePageLocked(id, tx.dirty[id]); err != nil {
			return fmt.Errorf("%w: %v", muro.ErrCommitInDoubt, err)
		}
	}
	for id := range tx.freed {
		p.free.Free(id)
		delete(p.cache, id)
	}
	if tx.catalogRootSet {
		p.header.CatalogRoot = tx.catalogRoot
	}

	if err := p.flushMetaLocked(); err != nil {
		return fmt.Errorf("%w: %v", muro.ErrCommitInDoubt, err)
	}
	return nil
}

// Abort discards the dirty set, un-reserves allocated pages, and restores
// freed pages to their pre-transaction (live) state. It optionally records
// an Abort WAL entry, purely informational per spec §4.5.
func (tx *Tx) Abort() error {
	if tx.done {
		return nil
	}
	tx.done = true
	p := tx.pager

	p.mu.Lock()
	defer p.mu.Unlock()

	for id := range tx.allocated {
		p.free.Free(id)
	}
	for id := range tx.freed {
		p.free.Unfree(id)
	}
	tx.dirty = nil

	if p.wal != nil {
		_, _ = p.wal.Append(wal.AbortRecord(tx.txID))
	}
	return nil
}
