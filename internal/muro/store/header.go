// Package store implements the database file header, freelist, and pager
// (spec §3, §4.3): page allocation, the encrypted page cache, and the
// two-phase commit protocol that ties the WAL to the data file. It is
// grounded in the teacher storage engine's pager.go/superblock.go/freelist.go,
// generalized from that engine's 8 KiB B+Tree pages with a 32-byte common
// header to this spec's 4 KiB slotted pages with a 14-byte header, and from
// plaintext pages to AEAD-sealed ones.
package store

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/murodb/murodb"
)

// InvalidPageID marks the absence of a page reference (e.g. an empty
// freelist or catalog root not yet assigned).
const InvalidPageID uint64 = 0

// Magic identifies a murodb database file.
const Magic = "MURODB01"

const (
	// HeaderV1Size is the legacy (pre-freelist, pre-CRC) header size.
	HeaderV1Size = 52
	// HeaderV2Size is the current on-disk header size.
	HeaderV2Size = 64

	hOffMagic     = 0
	hOffVersion   = 8
	hOffSalt      = 12
	hOffCatalog   = 28
	hOffPageCount = 36
	hOffEpoch     = 44
	hOffFreeList  = 52 // version 2 only
	hOffCRC       = 60 // version 2 only

	saltSize = 16

	// CurrentVersion is the format version written by Create and that
	// Open upgrades version-1 files to.
	CurrentVersion = 2
)

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// Header is the parsed contents of page 0 (spec §3 "Database Header").
type Header struct {
	Version        uint32
	Salt           [saltSize]byte
	CatalogRoot    uint64
	PageCount      uint64
	Epoch          uint64
	FreeListPageID uint64

	// Upgraded is set by Unmarshal when a version-1 header was read; the
	// pager rewrites it as version 2 on the next flush.
	Upgraded bool
}

// NewHeader creates a default header for a brand-new database file. Page 0
// holds the header itself and is not a data page (spec §3), so PageCount
// starts at 1.
func NewHeader(salt [saltSize]byte) *Header {
	return &Header{
		Version:        CurrentVersion,
		Salt:           salt,
		CatalogRoot:    InvalidPageID,
		PageCount:      1,
		Epoch:          0,
		FreeListPageID: InvalidPageID,
	}
}

// Marshal serializes h as a version-2, 64-byte header with a CRC-32 over
// the first 60 bytes.
func Marshal(h *Header) []byte {
	buf := make([]byte, HeaderV2Size)
	copy(buf[hOffMagic:], Magic)
	binary.LittleEndian.PutUint32(buf[hOffVersion:], CurrentVersion)
	copy(buf[hOffSalt:], h.Salt[:])
	binary.LittleEndian.PutUint64(buf[hOffCatalog:], h.CatalogRoot)
	binary.LittleEndian.PutUint64(buf[hOffPageCount:], h.PageCount)
	binary.LittleEndian.PutUint64(buf[hOffEpoch:], h.Epoch)
	binary.LittleEndian.PutUint64(buf[hOffFreeList:], h.FreeListPageID)
	crc := crc32.Checksum(buf[:hOffCRC], crcTable)
	binary.LittleEndian.PutUint32(buf[hOffCRC:], crc)
	return buf
}

// Unmarshal parses and validates a header page. Version-1 headers (52
// bytes, no freelist pointer, no CRC) are accepted and flagged Upgraded so
// the caller can rewrite them in version-2 form; version-2 headers are
// validated against their embedded CRC.
func Unmarshal(buf []byte) (*Header, error) {
	if len(buf) < HeaderV1Size {
		return nil, muro.Corruptionf("header too short: %d bytes", len(buf))
	}
	if string(buf[hOffMagic:hOffMagic+8]) != Magic {
		return nil, muro.Corruptionf("bad magic %q", buf[hOffMagic:hOffMagic+8])
	}
	version := binary.LittleEndian.Uint32(buf[hOffVersion:])

	h := &Header{Version: version}
	copy(h.Salt[:], buf[hOffSalt:hOffSalt+saltSize])
	h.CatalogRoot = binary.LittleEndian.Uint64(buf[hOffCatalog:])
	h.PageCount = binary.LittleEndian.Uint64(buf[hOffPageCount:])
	h.Epoch = binary.LittleEndian.Uint64(buf[hOffEpoch:])

	switch version {
	case 1:
		h.FreeListPageID = InvalidPageID
		h.Upgraded = true
	case 2:
		if len(buf) < HeaderV2Size {
			return nil, muro.Corruptionf("version 2 header too short: %d bytes", len(buf))
		}
		h.FreeListPageID = binary.LittleEndian.Uint64(buf[hOffFreeList:])
		stored := binary.LittleEndian.Uint32(buf[hOffCRC:])
		computed := crc32.Checksum(buf[:hOffCRC], crcTable)
		if stored != computed {
			return nil, muro.Corruption("header CRC mismatch")
		}
	default:
		return nil, fmt.Errorf("%w: version %d (this build supports up to %d)",
			muro.ErrUnsupportedVersion, version, CurrentVersion)
	}
	return h, nil
}
