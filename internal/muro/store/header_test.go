package store

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/murodb/murodb"
)

func TestHeaderRoundTrip(t *testing.T) {
	var salt [16]byte
	copy(salt[:], []byte("0123456789abcdef"))
	h := NewHeader(salt)
	h.CatalogRoot = 9
	h.PageCount = 42
	h.Epoch = 7
	h.FreeListPageID = 3

	buf := Marshal(h)
	if len(buf) != HeaderV2Size {
		t.Fatalf("Marshal length = %d, want %d", len(buf), HeaderV2Size)
	}

	got, err := Unmarshal(buf)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.CatalogRoot != 9 || got.PageCount != 42 || got.Epoch != 7 || got.FreeListPageID != 3 {
		t.Fatalf("roundtrip mismatch: %+v", got)
	}
	if got.Upgraded {
		t.Fatal("version-2 header should not be flagged Upgraded")
	}
}

func TestHeaderCRCMismatch(t *testing.T) {
	var salt [16]byte
	h := NewHeader(salt)
	buf := Marshal(h)
	buf[20] ^= 0xFF // corrupt a byte covered by the CRC
	if _, err := Unmarshal(buf); !errors.Is(err, muro.ErrCorruption) {
		t.Fatalf("expected ErrCorruption, got %v", err)
	}
}

func TestHeaderBadMagic(t *testing.T) {
	var salt [16]byte
	h := NewHeader(salt)
	buf := Marshal(h)
	copy(buf[0:8], "XXXXXXXX")
	if _, err := Unmarshal(buf); !errors.Is(err, muro.ErrCorruption) {
		t.Fatalf("expected ErrCorruption for bad magic, got %v", err)
	}
}

func TestHeaderUnsupportedVersion(t *testing.T) {
	var salt [16]byte
	h := NewHeader(salt)
	buf := Marshal(h)
	binary.LittleEndian.PutUint32(buf[hOffVersion:], 99)
	if _, err := Unmarshal(buf); !errors.Is(err, muro.ErrUnsupportedVersion) {
		t.Fatalf("expected ErrUnsupportedVersion, got %v", err)
	}
}

func TestHeaderV1Upgrade(t *testing.T) {
	var salt [16]byte
	copy(salt[:], []byte("v1saltv1saltv1s1"))
	buf := make([]byte, HeaderV1Size)
	copy(buf[hOffMagic:], Magic)
	binary.LittleEndian.PutUint32(buf[hOffVersion:], 1)
	copy(buf[hOffSalt:], salt[:])
	binary.LittleEndian.PutUint64(buf[hOffCatalog:], 5)
	binary.LittleEndian.PutUint64(buf[hOffPageCount:], 10)
	binary.LittleEndian.PutUint64(buf[hOffEpoch:], 2)

	h, err := Unmarshal(buf)
	if err != nil {
		t.Fatalf("Unmarshal v1: %v", err)
	}
	if !h.Upgraded {
		t.Fatal("expected Upgraded = true for version-1 header")
	}
	if h.CatalogRoot != 5 || h.PageCount != 10 || h.Epoch != 2 {
		t.Fatalf("v1 fields mismatch: %+v", h)
	}

	upgraded := Marshal(h)
	got, err := Unmarshal(upgraded)
	if err != nil {
		t.Fatalf("Unmarshal upgraded: %v", err)
	}
	if got.Version != CurrentVersion {
		t.Fatalf("Version = %d, want %d", got.Version, CurrentVersion)
	}
}
