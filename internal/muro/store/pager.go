package store

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/murodb/murodb"
	"github.com/murodb/murodb/internal/muro/crypto"
	"github.com/murodb/murodb/internal/muro/page"
	"github.com/murodb/murodb/internal/muro/wal"
)

// physicalSlotSize is the on-disk footprint of one data page: an 8-byte
// plaintext epoch prefix (so a reader can derive the decrypt nonce without
// first decrypting anything) followed by the AEAD-sealed page body.
const physicalSlotSize = 8 + page.Size + 16 // epoch + ciphertext + Poly1305 tag

// headerSlotSize is the on-disk footprint reserved for page 0 (spec §3:
// "Page 0 of the file is reserved for the header, not a data page"). The
// header itself is unencrypted — magic, version, and salt must be readable
// before any key material is available — and padded to keep data pages
// aligned on physicalSlotSize boundaries from a fixed offset.
const headerSlotSize = page.Size

// Pager mediates all disk access to pages: decrypting/encrypting on I/O,
// caching decrypted pages, allocating and freeing page ids, and flushing
// the file header (spec §4.3). Grounded in the teacher storage engine's
// Pager type (internal/storage/pager/pager.go): an *os.File plus a page
// cache plus a FreeManager, generalized from its LRU pinned buffer pool to
// a flat decrypted-page cache (this spec carries no pin/eviction
// invariants) and from plaintext pages to AEAD-sealed ones.
type Pager struct {
	mu sync.Mutex

	dbFile *os.File
	dbPath string

	wal     *wal.File
	walPath string

	pageAEAD *crypto.AEAD
	walAEAD  *crypto.AEAD

	header Header
	free   *FreeList

	cache map[uint64][]byte // decrypted page bytes keyed by logical PageID

	nextTxID uint64
}

// Options configures Create/Open.
type Options struct {
	Path      string
	WALPath   string
	MasterKey []byte // must be crypto.KeySize bytes
}

func deriveAEADs(masterKey, salt []byte) (pageAEAD, walAEAD *crypto.AEAD, err error) {
	pageKey, err := crypto.DeriveKey(masterKey, salt, "muro-page-v1")
	if err != nil {
		return nil, nil, err
	}
	walKey, err := crypto.DeriveKey(masterKey, salt, "muro-wal-v1")
	if err != nil {
		return nil, nil, err
	}
	pageAEAD, err = crypto.New(pageKey)
	if err != nil {
		return nil, nil, err
	}
	walAEAD, err = crypto.New(walKey)
	if err != nil {
		return nil, nil, err
	}
	return pageAEAD, walAEAD, nil
}

// Create initializes a brand-new database file and its WAL.
func Create(opts Options, salt [16]byte) (*Pager, error) {
	if _, err := os.Stat(opts.Path); err == nil {
		return nil, fmt.Errorf("store: %s already exists", opts.Path)
	}

	f, err := os.OpenFile(opts.Path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: create db file: %v", muro.ErrIoFailed, err)
	}

	pageAEAD, walAEAD, err := deriveAEADs(opts.MasterKey, salt[:])
	if err != nil {
		f.Close()
		return nil, err
	}

	h := NewHeader(salt)
	if err := writeHeaderSlot(f, h); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: sync new db file: %v", muro.ErrIoFailed, err)
	}

	walFile, err := wal.Open(opts.WALPath, walAEAD)
	if err != nil {
		f.Close()
		return nil, err
	}

	return &Pager{
		dbFile:   f,
		dbPath:   opts.Path,
		wal:      walFile,
		walPath:  opts.WALPath,
		pageAEAD: pageAEAD,
		walAEAD:  walAEAD,
		header:   *h,
		free:     NewFreeList(),
		cache:    map[uint64][]byte{},
		nextTxID: 1,
	}, nil
}

// Open opens an existing database file, probing the supplied master key
// and running recovery if the WAL holds unchecked-pointed records.
func Open(opts Options) (*Pager, error) {
	f, err := os.OpenFile(opts.Path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: open db file: %v", muro.ErrIoFailed, err)
	}

	h, err := readHeaderSlot(f)
	if err != nil {
		f.Close()
		return nil, err
	}

	pageAEAD, walAEAD, err := deriveAEADs(opts.MasterKey, h.Salt[:])
	if err != nil {
		f.Close()
		return nil, err
	}

	p := &Pager{
		dbFile:   f,
		dbPath:   opts.Path,
		walPath:  opts.WALPath,
		pageAEAD: pageAEAD,
		walAEAD:  walAEAD,
		header:   *h,
		free:     NewFreeList(),
		cache:    map[uint64][]byte{},
		nextTxID: 1,
	}

	// Probe key correctness by decrypting at least one existing page, if
	// any data pages exist yet (spec §4.3 "open").
	if h.PageCount > 1 {
		if _, err := p.readPageRaw(0); err != nil {
			f.Close()
			return nil, fmt.Errorf("%w: %v", muro.ErrBadKey, err)
		}
	}

	if h.FreeListPageID != InvalidPageID {
		ids, err := ReadChain(h.FreeListPageID, p.readPageRaw)
		if err != nil {
			f.Close()
			return nil, err
		}
		for _, id := range ids {
			p.free.Free(id)
		}
	}

	walFile, err := wal.Open(opts.WALPath, walAEAD)
	if err != nil {
		f.Close()
		return nil, err
	}
	p.wal = walFile

	if h.Upgraded {
		p.header.Version = CurrentVersion
	}

	if err := p.Recover(); err != nil {
		p.Close()
		return nil, err
	}

	return p, nil
}

func writeHeaderSlot(f *os.File, h *Header) error {
	buf := make([]byte, headerSlotSize)
	copy(buf, Marshal(h))
	if _, err := f.WriteAt(buf, 0); err != nil {
		return fmt.Errorf("%w: write header: %v", muro.ErrIoFailed, err)
	}
	return nil
}

func readHeaderSlot(f *os.File) (*Header, error) {
	buf := make([]byte, headerSlotSize)
	if _, err := f.ReadAt(buf, 0); err != nil && err != io.EOF {
		return nil, fmt.Errorf("%w: read header: %v", muro.ErrIoFailed, err)
	}
	return Unmarshal(buf)
}

// dataOffset returns the file offset of logical page id's physical slot.
func dataOffset(id uint64) int64 {
	return int64(headerSlotSize) + int64(id)*int64(physicalSlotSize)
}

// readPageRaw reads and decrypts page id directly from disk, bypassing the
// cache. Used for cache misses, key probing, and freelist chain walks.
func (p *Pager) readPageRaw(id uint64) ([]byte, error) {
	buf := make([]byte, physicalSlotSize)
	if _, err := p.dbFile.ReadAt(buf, dataOffset(id)); err != nil {
		return nil, fmt.Errorf("%w: read page %d: %v", muro.ErrIoFailed, id, err)
	}
	epoch := binary.LittleEndian.Uint64(buf[0:8])
	ciphertext := buf[8:]
	plaintext, err := p.pageAEAD.OpenPage(id, epoch, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: page %d", muro.ErrCryptoIntegrity, id)
	}
	return plaintext, nil
}

// ReadPage returns a decrypted copy of page id, serving from cache when
// possible.
func (p *Pager) ReadPage(id uint64) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.readPageLocked(id)
}

func (p *Pager) readPageLocked(id uint64) ([]byte, error) {
	if cached, ok := p.cache[id]; ok {
		out := make([]byte, len(cached))
		copy(out, cached)
		return out, nil
	}
	plaintext, err := p.readPageRaw(id)
	if err != nil {
		return nil, err
	}
	cached := make([]byte, len(plaintext))
	copy(cached, plaintext)
	p.cache[id] = cached
	out := make([]byte, len(plaintext))
	copy(out, plaintext)
	return out, nil
}

// WritePage zero-pads plaintext to a full page, re-encrypts it under a
// fresh epoch, and writes it to page id's physical slot (spec §4.1's "epoch incremented on every write to that
// page", realized here via the single monotonic header epoch counter that
// doubles as the multi-process freshness signal — see DESIGN.md).
func (p *Pager) WritePage(id uint64, plaintext []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writePageLocked(id, plaintext)
}

func (p *Pager) writePageLocked(id uint64, plaintext []byte) error {
	if len(plaintext) < page.Size {
		padded := make([]byte, page.Size)
		copy(padded, plaintext)
		plaintext = padded
	}
	p.header.Epoch++
	epoch := p.header.Epoch

	ciphertext, err := p.pageAEAD.SealPage(id, epoch, plaintext)
	if err != nil {
		return fmt.Errorf("store: seal page %d: %w", id, err)
	}
	buf := make([]byte, physicalSlotSize)
	binary.LittleEndian.PutUint64(buf[0:8], epoch)
	copy(buf[8:], ciphertext)

	if _, err := p.dbFile.WriteAt(buf, dataOffset(id)); err != nil {
		return fmt.Errorf("%w: write page %d: %v", muro.ErrIoFailed, id, err)
	}
	cached := make([]byte, len(plaintext))
	copy(cached, plaintext)
	p.cache[id] = cached

	if id+1 >= p.header.PageCount {
		p.header.PageCount = id + 2 // header slot (1) + data pages [0, id]
	}
	return nil
}

// AllocatePage reserves a page id: popped from the freelist, or appended
// past the current page count.
func (p *Pager) AllocatePage() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allocatePageLocked()
}

func (p *Pager) allocatePageLocked() uint64 {
	if id, ok := p.free.Allocate(); ok {
		return id
	}
	id := p.header.PageCount - 1
	p.header.PageCount++
	return id
}

// FreePage pushes id onto the in-memory freelist (not yet persisted).
func (p *Pager) FreePage(id uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.free.Free(id)
	delete(p.cache, id)
}

// FlushMeta serializes the freelist to its page chain and writes the
// header page (spec §4.3). It fsyncs the data file before writing the
// header, then fsyncs the header write itself.
func (p *Pager) FlushMeta() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.flushMetaLocked()
}

func (p *Pager) flushMetaLocked() error {
	// Data pages (including any written by the caller's transaction) must
	// hit disk before the header is rewritten to reference them.
	if err := p.dbFile.Sync(); err != nil {
		return fmt.Errorf("%w: pre-header sync: %v", muro.ErrIoFailed, err)
	}
	if err := p.flushFreelistLocked(); err != nil {
		return err
	}
	if err := writeHeaderSlot(p.dbFile, &p.header); err != nil {
		return err
	}
	if err := p.dbFile.Sync(); err != nil {
		return fmt.Errorf("%w: sync header: %v", muro.ErrIoFailed, err)
	}
	return nil
}

// flushFreelistLocked resolves the allocation cascade described in spec
// §4.3: the freelist's own chain pages must themselves come from free
// pages, so candidate page ids are reserved (popped from the freelist or
// grown from the file) until the reservation size matches the remaining
// free set exactly.
func (p *Pager) flushFreelistLocked() error {
	var reserved []uint64
	for iter := 0; iter < 4*CapacityPerPage(page.Size)+16; iter++ {
		ids := p.free.All()
		need := PagesNeeded(len(ids), page.Size)
		if need == len(reserved) {
			headID, pages := BuildChain(ids, page.Size, reserved)
			for pid, buf := range pages {
				if err := p.writePageLocked(pid, buf); err != nil {
					return err
				}
			}
			p.header.FreeListPageID = headID
			return nil
		}
		if need > len(reserved) {
			reserved = append(reserved, p.allocatePageLocked())
		} else {
			id := reserved[len(reserved)-1]
			reserved = reserved[:len(reserved)-1]
			p.free.Free(id)
		}
	}
	return muro.Corruption("freelist flush did not converge")
}

// NextTxID returns the next transaction id and advances the counter.
func (p *Pager) NextTxID() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextTxID
	p.nextTxID++
	return id
}

// Header returns a copy of the current in-memory header.
func (p *Pager) Header() Header {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.header
}

// RefreshIfStale re-reads the header from disk and, if its epoch or page
// count has advanced since our last read, invalidates the decrypted-page
// cache (spec §4.3 "multi-process freshness", §5 locking discipline).
func (p *Pager) RefreshIfStale() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	onDisk, err := readHeaderSlot(p.dbFile)
	if err != nil {
		return err
	}
	if onDisk.Epoch > p.header.Epoch || onDisk.PageCount > p.header.PageCount {
		p.cache = map[uint64][]byte{}
		p.header = *onDisk
	}
	return nil
}

// WAL exposes the underlying WAL file for the transaction/recovery code.
func (p *Pager) WAL() *wal.File { return p.wal }

// WALAEAD exposes the WAL's AEAD for recovery.
func (p *Pager) WALAEAD() *crypto.AEAD { return p.walAEAD }

// DBPath returns the database file path.
func (p *Pager) DBPath() string { return p.dbPath }

// Close performs a final checkpoint-style flush and closes both files.
func (p *Pager) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	if err := p.flushMetaLocked(); err != nil && firstErr == nil {
		firstErr = err
	}
	if p.wal != nil {
		if err := p.wal.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := p.dbFile.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
