// Package catalog implements the system catalog record (spec §6): named
// index definitions persisted in the database's root B-tree, keyed by
// name, so a full-text or secondary index's root pages survive process
// restarts without the caller having to track them out of band. It is
// grounded in original_source/src/schema/index.rs's IndexDef, extended
// with the fields a blinded full-text index needs (postings/stats roots,
// a wrapped term key) alongside the original's plain B-tree index fields.
package catalog

import (
	"encoding/binary"

	"github.com/murodb/murodb"
	"github.com/murodb/murodb/internal/muro/btree"
	"github.com/murodb/murodb/internal/muro/crypto"
)

// Type distinguishes a plain secondary B-tree index from a full-text one.
type Type uint8

const (
	TypeBTree    Type = 1
	TypeFulltext Type = 2
)

// IndexDef is one catalog entry: either a secondary B-tree's root page, or
// a full-text index's postings/stats roots plus its wrapped blinding key.
// Per spec §6 ("the term key for an FTS index is stored in the index
// metadata record, wrapped by the master key"), WrappedKey/KeyNonce hold a
// randomly generated per-index HMAC key sealed under a key derived from
// the database's master key, not a key re-derived deterministically on
// every open.
type IndexDef struct {
	Name      string
	TableName string
	Columns   []string
	Type      Type
	IsUnique  bool

	BTreeRoot uint64 // valid when Type == TypeBTree

	PostingsRoot uint64 // valid when Type == TypeFulltext
	StatsRoot    uint64
	WrappedKey   []byte // chacha20poly1305-sealed 32-byte HMAC key
	KeyNonce     []byte // crypto.NonceSize bytes
}

func putString(buf []byte, s string) []byte {
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}

func getString(data []byte, offset *int) (string, bool) {
	if len(data) < *offset+2 {
		return "", false
	}
	n := int(binary.LittleEndian.Uint16(data[*offset:]))
	*offset += 2
	if len(data) < *offset+n {
		return "", false
	}
	s := string(data[*offset : *offset+n])
	*offset += n
	return s, true
}

func putBytes(buf []byte, b []byte) []byte {
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(b)))
	return append(buf, b...)
}

func getBytes(data []byte, offset *int) ([]byte, bool) {
	if len(data) < *offset+2 {
		return nil, false
	}
	n := int(binary.LittleEndian.Uint16(data[*offset:]))
	*offset += 2
	if len(data) < *offset+n {
		return nil, false
	}
	b := data[*offset : *offset+n]
	*offset += n
	return append([]byte(nil), b...), true
}

// Serialize encodes def as a length-prefixed record, mirroring the
// original's name/table_name/column/type/unique/root layout and appending
// the full-text fields only when Type is TypeFulltext.
func (def *IndexDef) Serialize() []byte {
	buf := make([]byte, 0, 128)
	buf = putString(buf, def.Name)
	buf = putString(buf, def.TableName)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(def.Columns)))
	for _, c := range def.Columns {
		buf = putString(buf, c)
	}
	buf = append(buf, byte(def.Type))
	unique := byte(0)
	if def.IsUnique {
		unique = 1
	}
	buf = append(buf, unique)

	switch def.Type {
	case TypeBTree:
		buf = binary.LittleEndian.AppendUint64(buf, def.BTreeRoot)
	case TypeFulltext:
		buf = binary.LittleEndian.AppendUint64(buf, def.PostingsRoot)
		buf = binary.LittleEndian.AppendUint64(buf, def.StatsRoot)
		buf = putBytes(buf, def.WrappedKey)
		buf = putBytes(buf, def.KeyNonce)
	}
	return buf
}

// Deserialize parses a record written by Serialize.
func Deserialize(data []byte) (*IndexDef, bool) {
	offset := 0
	def := &IndexDef{}
	var ok bool
	if def.Name, ok = getString(data, &offset); !ok {
		return nil, false
	}
	if def.TableName, ok = getString(data, &offset); !ok {
		return nil, false
	}
	if len(data) < offset+2 {
		return nil, false
	}
	count := int(binary.LittleEndian.Uint16(data[offset:]))
	offset += 2
	def.Columns = make([]string, count)
	for i := 0; i < count; i++ {
		if def.Columns[i], ok = getString(data, &offset); !ok {
			return nil, false
		}
	}
	if len(data) < offset+2 {
		return nil, false
	}
	def.Type = Type(data[offset])
	offset++
	def.IsUnique = data[offset] != 0
	offset++

	switch def.Type {
	case TypeBTree:
		if len(data) < offset+8 {
			return nil, false
		}
		def.BTreeRoot = binary.LittleEndian.Uint64(data[offset:])
		offset += 8
	case TypeFulltext:
		if len(data) < offset+16 {
			return nil, false
		}
		def.PostingsRoot = binary.LittleEndian.Uint64(data[offset:])
		offset += 8
		def.StatsRoot = binary.LittleEndian.Uint64(data[offset:])
		offset += 8
		if def.WrappedKey, ok = getBytes(data, &offset); !ok {
			return nil, false
		}
		if def.KeyNonce, ok = getBytes(data, &offset); !ok {
			return nil, false
		}
	default:
		return nil, false
	}
	return def, true
}

type writableSource interface {
	ReadPage(id uint64) ([]byte, error)
	WritePage(id uint64, data []byte)
	AllocatePage() uint64
}

type pageSource interface {
	ReadPage(id uint64) ([]byte, error)
}

func catalogKey(name string) []byte {
	return append([]byte("idx:"), name...)
}

// Put inserts or replaces def's record in the catalog tree rooted at root,
// returning the (possibly unchanged) root page id for the caller to
// persist as the transaction's catalog root.
func Put(tx writableSource, root uint64, def *IndexDef) (uint64, error) {
	var tree *btree.BTree
	if root == 0 {
		var err error
		tree, err = btree.Create(tx)
		if err != nil {
			return 0, err
		}
	} else {
		tree = btree.Open(root)
	}
	if err := tree.Insert(tx, catalogKey(def.Name), def.Serialize()); err != nil {
		return 0, err
	}
	return tree.Root(), nil
}

// Get looks up name in the catalog tree rooted at root.
func Get(src pageSource, root uint64, name string) (*IndexDef, bool, error) {
	if root == 0 {
		return nil, false, nil
	}
	tree := btree.Open(root)
	raw, ok, err := tree.Search(src, catalogKey(name))
	if err != nil || !ok {
		return nil, false, err
	}
	def, ok := Deserialize(raw)
	if !ok {
		return nil, false, muro.Corruptionf("catalog: bad record for %q", name)
	}
	return def, true, nil
}

// WrapKey seals a randomly generated per-index term key under keyWrapKey,
// returning only its sealed form, for storage in an IndexDef (spec §6).
func WrapKey(keyWrapKey, termKey, nonce []byte) ([]byte, error) {
	aead, err := crypto.New(keyWrapKey)
	if err != nil {
		return nil, err
	}
	return aead.SealRandom(nonce, []byte("muro-fts-key-wrap"), termKey)
}

// UnwrapKey reverses WrapKey.
func UnwrapKey(keyWrapKey, wrapped, nonce []byte) ([]byte, error) {
	aead, err := crypto.New(keyWrapKey)
	if err != nil {
		return nil, err
	}
	return aead.OpenRandom(nonce, []byte("muro-fts-key-wrap"), wrapped)
}
