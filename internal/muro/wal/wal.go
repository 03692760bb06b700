// Package wal implements the write-ahead log: an append-only file of
// AEAD-sealed frames wrapping transaction records and a torn-tail tolerant
// reader (spec §3, §4.4); the recovery that replays it lives in package
// store. It is grounded in the
// teacher storage engine's pager/wal.go (fixed-header records, a dedicated
// WALFile type owning the file handle and write offset, AppendRecord
// returning a monotonic sequence number, Sync/Truncate/Close) generalized
// from physical full-page-image logging with a per-record CRC32 to the
// spec's AEAD-sealed frames keyed by LSN.
package wal

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/murodb/murodb"
	"github.com/murodb/murodb/internal/muro/crypto"
	"github.com/murodb/murodb/internal/muro/page"
)

// File header, 16 bytes: magic (8) + format version u32 (4) + reserved (4).
// The WAL shares its database's master key and salt rather than carrying
// its own, so no key material lives in this header.
const (
	Magic        = "MURODBWL"
	FileHdrSize  = 16
	FormatVerion = 1 // format version written by this build
)

// MaxFrameSize bounds the ciphertext length field of a frame (spec §4.4,
// §6): PAGE_SIZE + 128. A length field exceeding this, or one that would
// run past the end of file, is treated as the end of the log rather than
// an error.
const MaxFrameSize = page.Size + 128

// RecordType identifies the kind of WAL record (spec §3 "WAL Record").
type RecordType uint8

const (
	RecordBegin RecordType = iota + 1
	RecordPagePut
	RecordFreePage
	RecordAllocPage
	RecordUpdateMeta
	RecordCommit
	RecordAbort
	RecordCheckpoint
)

func (t RecordType) String() string {
	switch t {
	case RecordBegin:
		return "Begin"
	case RecordPagePut:
		return "PagePut"
	case RecordFreePage:
		return "FreePage"
	case RecordAllocPage:
		return "AllocPage"
	case RecordUpdateMeta:
		return "UpdateMeta"
	case RecordCommit:
		return "Commit"
	case RecordAbort:
		return "Abort"
	case RecordCheckpoint:
		return "Checkpoint"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(t))
	}
}

// Record is the in-memory form of a WAL record. Not every field is
// meaningful for every Type; see the constructors below.
type Record struct {
	Type   RecordType
	TxID   uint64
	PageID uint64 // PagePut, FreePage, AllocPage
	LSN    uint64 // set by the reader to the frame's starting offset

	CatalogRoot    uint64 // UpdateMeta
	PageCount      uint64 // UpdateMeta
	FreeListPageID uint64 // UpdateMeta

	PageData []byte // PagePut: plaintext logical page bytes
}

func BeginRecord(txID uint64) *Record { return &Record{Type: RecordBegin, TxID: txID} }

func PagePutRecord(txID, pageID uint64, data []byte) *Record {
	return &Record{Type: RecordPagePut, TxID: txID, PageID: pageID, PageData: data}
}

func FreePageRecord(txID, pageID uint64) *Record {
	return &Record{Type: RecordFreePage, TxID: txID, PageID: pageID}
}

func AllocPageRecord(txID, pageID uint64) *Record {
	return &Record{Type: RecordAllocPage, TxID: txID, PageID: pageID}
}

func UpdateMetaRecord(txID, catalogRoot, pageCount, freeListPageID uint64) *Record {
	return &Record{
		Type: RecordUpdateMeta, TxID: txID,
		CatalogRoot: catalogRoot, PageCount: pageCount, FreeListPageID: freeListPageID,
	}
}

func CommitRecord(txID uint64) *Record { return &Record{Type: RecordCommit, TxID: txID} }
func AbortRecord(txID uint64) *Record  { return &Record{Type: RecordAbort, TxID: txID} }
func CheckpointRecord() *Record        { return &Record{Type: RecordCheckpoint} }

// recordHdrSize is the fixed-width envelope preceding a PagePut's variable
// page image, matching the teacher's fixed WALRecHdrSize-plus-payload shape.
const recordHdrSize = 1 + 8 + 8 + 8 + 8 + 8 + 4 // type, txid, pageid, catalogRoot, pageCount, freeListPageID, dataLen

func marshalRecord(r *Record) []byte {
	buf := make([]byte, recordHdrSize+len(r.PageData))
	buf[0] = byte(r.Type)
	binary.LittleEndian.PutUint64(buf[1:9], r.TxID)
	binary.LittleEndian.PutUint64(buf[9:17], r.PageID)
	binary.LittleEndian.PutUint64(buf[17:25], r.CatalogRoot)
	binary.LittleEndian.PutUint64(buf[25:33], r.PageCount)
	binary.LittleEndian.PutUint64(buf[33:41], r.FreeListPageID)
	binary.LittleEndian.PutUint32(buf[41:45], uint32(len(r.PageData)))
	copy(buf[recordHdrSize:], r.PageData)
	return buf
}

func unmarshalRecord(buf []byte) (*Record, error) {
	if len(buf) < recordHdrSize {
		return nil, muro.Corruptionf("WAL record too short: %d bytes", len(buf))
	}
	r := &Record{
		Type:           RecordType(buf[0]),
		TxID:           binary.LittleEndian.Uint64(buf[1:9]),
		PageID:         binary.LittleEndian.Uint64(buf[9:17]),
		CatalogRoot:    binary.LittleEndian.Uint64(buf[17:25]),
		PageCount:      binary.LittleEndian.Uint64(buf[25:33]),
		FreeListPageID: binary.LittleEndian.Uint64(buf[33:41]),
	}
	dataLen := int(binary.LittleEndian.Uint32(buf[41:45]))
	if recordHdrSize+dataLen != len(buf) {
		return nil, muro.Corruptionf("WAL record data length mismatch: header says %d, have %d", dataLen, len(buf)-recordHdrSize)
	}
	if dataLen > 0 {
		r.PageData = append([]byte(nil), buf[recordHdrSize:]...)
	}
	return r, nil
}

// File manages the append-only WAL file: sealing/unsealing frames under the
// AEAD, tracking the write offset, and the torn-tail tolerant reader.
type File struct {
	mu       sync.Mutex
	f        *os.File
	aead     *crypto.AEAD
	writePos int64
}

// Open opens or creates a WAL file at path, validating or writing its
// 16-byte header.
func Open(path string, aead *crypto.AEAD) (*File, error) {
	_, statErr := os.Stat(path)
	exists := statErr == nil

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: open WAL: %v", muro.ErrIoFailed, err)
	}
	wf := &File{f: f, aead: aead}

	if exists {
		if err := wf.validateHeader(); err != nil {
			f.Close()
			return nil, err
		}
	} else {
		if err := wf.writeHeader(); err != nil {
			f.Close()
			return nil, err
		}
	}

	endPos, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: seek WAL end: %v", muro.ErrIoFailed, err)
	}
	wf.writePos = endPos
	return wf, nil
}

func (wf *File) writeHeader() error {
	var hdr [FileHdrSize]byte
	copy(hdr[0:8], Magic)
	binary.LittleEndian.PutUint32(hdr[8:12], FormatVerion)
	if _, err := wf.f.WriteAt(hdr[:], 0); err != nil {
		return fmt.Errorf("%w: write WAL header: %v", muro.ErrIoFailed, err)
	}
	return wf.f.Sync()
}

func (wf *File) validateHeader() error {
	var hdr [FileHdrSize]byte
	n, err := wf.f.ReadAt(hdr[:], 0)
	if err != nil && err != io.EOF {
		return fmt.Errorf("%w: read WAL header: %v", muro.ErrIoFailed, err)
	}
	if n < FileHdrSize {
		return muro.Corruptionf("WAL header too short: %d bytes", n)
	}
	if string(hdr[0:8]) != Magic {
		return muro.Corruption("bad WAL magic")
	}
	ver := binary.LittleEndian.Uint32(hdr[8:12])
	if ver != FormatVerion {
		return fmt.Errorf("%w: WAL version %d", muro.ErrUnsupportedVersion, ver)
	}
	return nil
}

// Append seals rec into a frame and appends it, returning the frame's LSN
// (its starting byte offset in the file — the length-prefix offset).
func (wf *File) Append(rec *Record) (uint64, error) {
	wf.mu.Lock()
	defer wf.mu.Unlock()

	lsn := uint64(wf.writePos)
	plaintext := marshalRecord(rec)
	ciphertext, err := wf.aead.SealFrame(lsn, plaintext)
	if err != nil {
		return 0, fmt.Errorf("wal: seal frame: %w", err)
	}

	frame := make([]byte, 4+len(ciphertext))
	binary.LittleEndian.PutUint32(frame[0:4], uint32(len(ciphertext)))
	copy(frame[4:], ciphertext)

	if _, err := wf.f.WriteAt(frame, wf.writePos); err != nil {
		return 0, fmt.Errorf("%w: WAL append: %v", muro.ErrIoFailed, err)
	}
	wf.writePos += int64(len(frame))
	return lsn, nil
}

// Sync fsyncs the WAL file. Records are not visible to recovery until Sync
// returns (spec §4.4's "commit point").
func (wf *File) Sync() error {
	wf.mu.Lock()
	defer wf.mu.Unlock()
	if err := wf.f.Sync(); err != nil {
		return fmt.Errorf("%w: WAL sync: %v", muro.ErrIoFailed, err)
	}
	return nil
}

// Truncate resets the file to just the header, used after a checkpoint.
func (wf *File) Truncate() error {
	wf.mu.Lock()
	defer wf.mu.Unlock()
	if err := wf.f.Truncate(FileHdrSize); err != nil {
		return fmt.Errorf("%w: WAL truncate: %v", muro.ErrIoFailed, err)
	}
	wf.writePos = FileHdrSize
	return wf.f.Sync()
}

// Close closes the underlying file.
func (wf *File) Close() error { return wf.f.Close() }

// ReadAll reads every decryptable frame from the WAL in order, stopping at
// the first of: a zero length field, a length field exceeding
// MaxFrameSize, insufficient remaining bytes, or a decrypt failure within
// the trailing MaxFrameSize-byte torn-tail window. A decrypt failure
// outside that window is reported as corruption (spec §4.4).
func ReadAll(path string, aead *crypto.AEAD) ([]*Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open WAL for read: %v", muro.ErrIoFailed, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: stat WAL: %v", muro.ErrIoFailed, err)
	}
	fileSize := info.Size()

	buf := make([]byte, fileSize)
	if _, err := io.ReadFull(f, buf); err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("%w: read WAL: %v", muro.ErrIoFailed, err)
	}

	var records []*Record
	pos := int64(FileHdrSize)
	for {
		if pos+4 > fileSize {
			break
		}
		length := binary.LittleEndian.Uint32(buf[pos : pos+4])
		if length == 0 {
			break
		}
		if length > MaxFrameSize {
			break
		}
		frameStart := pos + 4
		if frameStart+int64(length) > fileSize {
			break
		}
		ciphertext := buf[frameStart : frameStart+int64(length)]
		plaintext, err := aead.OpenFrame(uint64(pos), ciphertext)
		if err != nil {
			remaining := fileSize - pos
			if remaining <= MaxFrameSize {
				break // torn-tail window: treat as end of log
			}
			return nil, muro.Corruptionf("WAL frame at offset %d failed to authenticate outside torn-tail window", pos)
		}
		rec, err := unmarshalRecord(plaintext)
		if err != nil {
			return nil, err
		}
		rec.LSN = uint64(pos)
		records = append(records, rec)
		pos = frameStart + int64(length)
	}
	return records, nil
}
