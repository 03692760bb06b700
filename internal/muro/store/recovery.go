package store

import (
	"github.com/murodb/murodb/internal/muro/wal"
)

// Recover replays the WAL onto the data file (spec §4.4). It reads every
// decryptable record, determines which transactions committed (those whose
// record set includes a Commit record), and replays only those
// transactions' PagePut/FreePage/AllocPage/UpdateMeta records in log order.
// It is safe to run repeatedly over the same WAL: PagePut overwrites the
// same bytes, and FreePage/AllocPage are idempotent set operations (see
// FreeList).
func (p *Pager) Recover() error {
	records, err := wal.ReadAll(p.walPath, p.walAEAD)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	committed := map[uint64]bool{}
	for _, rec := range records {
		if rec.Type == wal.RecordCommit {
			committed[rec.TxID] = true
		}
	}

	applied := false
	for _, rec := range records {
		if rec.Type == wal.RecordBegin || rec.Type == wal.RecordCommit ||
			rec.Type == wal.RecordAbort || rec.Type == wal.RecordCheckpoint {
			continue
		}
		if !committed[rec.TxID] {
			continue
		}
		applied = true
		switch rec.Type {
		case wal.RecordPagePut:
			if err := p.writePageLocked(rec.PageID, rec.PageData); err != nil {
				return err
			}
		case wal.RecordAllocPage:
			p.free.Unfree(rec.PageID)
			if rec.PageID+1 >= p.header.PageCount {
				p.header.PageCount = rec.PageID + 2
			}
		case wal.RecordFreePage:
			p.free.Free(rec.PageID)
			delete(p.cache, rec.PageID)
		case wal.RecordUpdateMeta:
			p.header.CatalogRoot = rec.CatalogRoot
			if rec.PageCount > p.header.PageCount {
				p.header.PageCount = rec.PageCount
			}
		}
	}

	if !applied {
		return nil
	}

	// Recovered state is now reflected in the data file's pages; rebuild the
	// freelist chain and header, then drop the replayed log.
	if err := p.flushMetaLocked(); err != nil {
		return err
	}
	return p.wal.Truncate()
}
