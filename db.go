package muro

import (
	"crypto/rand"
	"fmt"

	"github.com/google/uuid"

	"github.com/murodb/murodb/internal/muro/btree"
	"github.com/murodb/murodb/internal/muro/catalog"
	"github.com/murodb/murodb/internal/muro/crypto"
	"github.com/murodb/murodb/internal/muro/fts"
	"github.com/murodb/murodb/internal/muro/lock"
	"github.com/murodb/murodb/internal/muro/store"
)

// Options configures Create and Open. LockPath defaults to Path+".lock"
// when empty, and WALPath defaults to Path+".wal".
type Options struct {
	Path      string
	WALPath   string
	LockPath  string
	MasterKey []byte // must be crypto.KeySize (32) bytes
}

func (o Options) walPath() string {
	if o.WALPath != "" {
		return o.WALPath
	}
	return o.Path + ".wal"
}

func (o Options) lockPath() string {
	if o.LockPath != "" {
		return o.LockPath
	}
	return o.Path + ".lock"
}

// DB is a single open database file (spec §1, §4). It owns the pager and
// the cross-process advisory lock guarding commits (spec §4.8); the SQL
// front-end this storage core is meant to sit under is out of scope here
// (see DESIGN.md) — callers drive the B-tree and FTS index directly
// through Tx.
type DB struct {
	pager    *store.Pager
	lockPath string
}

// Create initializes a brand-new database file, WAL, and lock file.
func Create(opts Options) (*DB, error) {
	if len(opts.MasterKey) != crypto.KeySize {
		return nil, fmt.Errorf("muro: master key must be %d bytes", crypto.KeySize)
	}
	salt := uuid.New() // 16 random bytes, reusing the uuid dependency already in the stack rather than a bare crypto/rand call
	pager, err := store.Create(store.Options{
		Path:      opts.Path,
		WALPath:   opts.walPath(),
		MasterKey: opts.MasterKey,
	}, salt)
	if err != nil {
		return nil, err
	}
	if err := ensureLockFile(opts.lockPath()); err != nil {
		pager.Close()
		return nil, err
	}
	return &DB{pager: pager, lockPath: opts.lockPath()}, nil
}

// Open opens an existing database file, replaying its WAL if needed.
func Open(opts Options) (*DB, error) {
	if len(opts.MasterKey) != crypto.KeySize {
		return nil, fmt.Errorf("muro: master key must be %d bytes", crypto.KeySize)
	}
	pager, err := store.Open(store.Options{
		Path:      opts.Path,
		WALPath:   opts.walPath(),
		MasterKey: opts.MasterKey,
	})
	if err != nil {
		return nil, err
	}
	if err := ensureLockFile(opts.lockPath()); err != nil {
		pager.Close()
		return nil, err
	}
	return &DB{pager: pager, lockPath: opts.lockPath()}, nil
}

// Close flushes the pager's metadata and closes the database and WAL
// files. It does not remove the lock file.
func (db *DB) Close() error {
	return db.pager.Close()
}

// CatalogRoot returns the current catalog root page id, or store.InvalidPageID
// if no catalog has been published yet.
func (db *DB) CatalogRoot() uint64 {
	return db.pager.Header().CatalogRoot
}

// Tx is an in-flight read/write transaction, holding the file's exclusive
// advisory lock for its duration (spec §4.8).
type Tx struct {
	*store.Tx
	db       *DB
	fileLock *lock.File
}

// Begin starts a read/write transaction, blocking until the exclusive file
// lock is acquired (spec §5: "at most one writer at a time, across
// processes").
func (db *DB) Begin() (*Tx, error) {
	fl, err := lock.Acquire(db.lockPath, lock.Exclusive)
	if err != nil {
		return nil, err
	}
	if err := db.pager.RefreshIfStale(); err != nil {
		fl.Release()
		return nil, err
	}
	return &Tx{Tx: db.pager.BeginTx(), db: db, fileLock: fl}, nil
}

// TryBegin is Begin but returns ErrBusy instead of blocking when another
// process already holds the write lock.
func (db *DB) TryBegin() (*Tx, error) {
	fl, ok, err := lock.TryAcquire(db.lockPath, lock.Exclusive)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrBusy
	}
	if err := db.pager.RefreshIfStale(); err != nil {
		fl.Release()
		return nil, err
	}
	return &Tx{Tx: db.pager.BeginTx(), db: db, fileLock: fl}, nil
}

// Commit runs the underlying two-phase commit and releases the write lock
// regardless of outcome.
func (tx *Tx) Commit() error {
	err := tx.Tx.Commit()
	tx.fileLock.Release()
	return err
}

// Abort discards the transaction's buffered writes and releases the write
// lock regardless of outcome.
func (tx *Tx) Abort() error {
	err := tx.Tx.Abort()
	tx.fileLock.Release()
	return err
}

// Reader is the read-only surface a View callback gets: page reads against
// the pager's committed state, with no write buffering.
type Reader interface {
	ReadPage(id uint64) ([]byte, error)
}

// View runs fn against a consistent, read-only snapshot of the database,
// holding a shared advisory lock for the duration (spec §4.8, §5: "many
// readers, or one writer").
func (db *DB) View(fn func(Reader) error) error {
	fl, err := lock.Acquire(db.lockPath, lock.Shared)
	if err != nil {
		return err
	}
	defer fl.Release()

	if err := db.pager.RefreshIfStale(); err != nil {
		return err
	}
	return fn(db.pager)
}

// indexWrapInfo is the HKDF label for the key that wraps each FTS index's
// randomly generated term key (spec §6: "the term key for an FTS index is
// stored in the index metadata record, wrapped by the master key").
const indexWrapInfo = "muro-index-wrap-v1"

func (db *DB) indexWrapKey(masterKey []byte) ([]byte, error) {
	h := db.pager.Header()
	return crypto.DeriveKey(masterKey, h.Salt[:], indexWrapInfo)
}

// CreateFTSIndex creates a new full-text index named name, generates a
// random blinding key for it, wraps that key under masterKey, and publishes
// an IndexDef recording the wrapped key and the index's B-tree roots in the
// database's catalog tree (spec §6). The returned Index is ready to index
// documents against within tx.
func CreateFTSIndex(tx *Tx, name string, masterKey []byte) (*fts.Index, error) {
	wrapKey, err := tx.db.indexWrapKey(masterKey)
	if err != nil {
		return nil, err
	}
	termKey := make([]byte, 32)
	if _, err := rand.Read(termKey); err != nil {
		return nil, fmt.Errorf("muro: generate term key: %w", err)
	}
	nonce := make([]byte, crypto.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("muro: generate key nonce: %w", err)
	}
	wrapped, err := catalog.WrapKey(wrapKey, termKey, nonce)
	if err != nil {
		return nil, err
	}

	ix, err := fts.Create(tx.Tx, termKey)
	if err != nil {
		return nil, err
	}
	def := &catalog.IndexDef{
		Name:         name,
		Type:         catalog.TypeFulltext,
		PostingsRoot: ix.PostingsRoot(),
		StatsRoot:    ix.StatsRoot(),
		WrappedKey:   wrapped,
		KeyNonce:     nonce,
	}
	newRoot, err := catalog.Put(tx.Tx, tx.Tx.CatalogRoot(), def)
	if err != nil {
		return nil, err
	}
	tx.Tx.SetCatalogRoot(newRoot)
	return ix, nil
}

// OpenFTSIndex looks up name in the catalog tree rooted at catalogRoot,
// unwraps its term key with wrapKey (from DB.IndexWrapKey), and returns the
// reopened Index.
func OpenFTSIndex(src Reader, catalogRoot uint64, name string, wrapKey []byte) (*fts.Index, error) {
	def, ok, err := catalog.Get(src, catalogRoot, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("muro: no index named %q", name)
	}
	if def.Type != catalog.TypeFulltext {
		return nil, fmt.Errorf("muro: index %q is not a full-text index", name)
	}
	termKey, err := catalog.UnwrapKey(wrapKey, def.WrappedKey, def.KeyNonce)
	if err != nil {
		return nil, fmt.Errorf("%w: unwrap term key for %q", ErrCryptoIntegrity, name)
	}
	return fts.Open(def.PostingsRoot, def.StatsRoot, termKey), nil
}

// IndexWrapKey derives the key that wraps FTS term keys in this database's
// catalog records, for use with OpenFTSIndex.
func (db *DB) IndexWrapKey(masterKey []byte) ([]byte, error) {
	return db.indexWrapKey(masterKey)
}

// CreateBTree creates a new, empty B-tree rooted in a freshly allocated
// page.
func CreateBTree(tx *Tx) (*btree.BTree, error) {
	return btree.Create(tx.Tx)
}

// OpenBTree reopens a B-tree whose root page id is already known (e.g. the
// database's catalog root, or a table/index root stored in a catalog
// record).
func OpenBTree(rootID uint64) *btree.BTree {
	return btree.Open(rootID)
}

func ensureLockFile(path string) error {
	return lock.EnsureFile(path)
}
