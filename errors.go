// Package muro implements an embedded, single-file, encrypted relational
// storage engine: page crypto, a slotted-page B-tree, a write-ahead log
// with crash recovery, and a blinded-bigram full-text index.
package muro

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced at the package boundary. Wrap with fmt.Errorf's
// %w verb to add detail while keeping errors.Is matchable, the same idiom
// the storage layer this package grew out of used throughout its pager,
// WAL, and recovery code.
var (
	ErrBadKey             = errors.New("muro: bad key")
	ErrCorruption         = errors.New("muro: corruption")
	ErrPageOverflow       = errors.New("muro: page overflow")
	ErrCryptoIntegrity    = errors.New("muro: crypto integrity failure")
	ErrIoFailed           = errors.New("muro: io failed")
	ErrCommitInDoubt      = errors.New("muro: commit in doubt")
	ErrBusy               = errors.New("muro: busy")
	ErrUnsupportedVersion = errors.New("muro: unsupported format version")
)

// CorruptionError adds caller-facing detail to ErrCorruption while still
// satisfying errors.Is(err, ErrCorruption).
type CorruptionError struct {
	Detail string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("muro: corruption: %s", e.Detail)
}

func (e *CorruptionError) Unwrap() error { return ErrCorruption }

// Corruption constructs a CorruptionError with the given detail.
func Corruption(detail string) error {
	return &CorruptionError{Detail: detail}
}

// Corruptionf is Corruption with fmt.Sprintf-style formatting.
func Corruptionf(format string, args ...any) error {
	return &CorruptionError{Detail: fmt.Sprintf(format, args...)}
}
