// Command murodb is a small command-line front end over the muro storage
// core: create or open a database file, put/get/scan raw key-value rows in
// its root B-tree, and build/query a full-text index over text values.
// It has no SQL layer; see DESIGN.md for why that is out of scope here.
package main

import (
	"bufio"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/murodb/murodb"
	"github.com/murodb/murodb/internal/muro/btree"
	"github.com/murodb/murodb/internal/muro/crypto"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "create":
		err = runCreate(args)
	case "put":
		err = runPut(args)
	case "get":
		err = runGet(args)
	case "scan":
		err = runScan(args)
	case "index":
		err = runIndex(args)
	case "search":
		err = runSearch(args)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "murodb:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: murodb <command> [flags]

commands:
  create -db PATH -key HEXKEY           initialize a new database file
  put    -db PATH -key HEXKEY K V       write a key/value row
  get    -db PATH -key HEXKEY K         read a row by key
  scan   -db PATH -key HEXKEY           print every row, one JSON object per line
  index  -db PATH -key HEXKEY -name N   create a full-text index named N
  search -db PATH -key HEXKEY -name N Q search index N for query Q`)
}

func masterKey(hexKey string) ([]byte, error) {
	if hexKey == "" {
		hexKey = os.Getenv("MURODB_MASTER_KEY")
	}
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decode -key: %w", err)
	}
	if len(key) != crypto.KeySize {
		return nil, fmt.Errorf("-key must decode to %d bytes, got %d", crypto.KeySize, len(key))
	}
	return key, nil
}

func runCreate(args []string) error {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	dbPath := fs.String("db", "", "database file path")
	hexKey := fs.String("key", "", "32-byte master key, hex-encoded")
	fs.Parse(args)

	key, err := masterKey(*hexKey)
	if err != nil {
		return err
	}
	db, err := muro.Create(muro.Options{Path: *dbPath, MasterKey: key})
	if err != nil {
		return err
	}
	return db.Close()
}

func openDB(dbPath, hexKey string) (*muro.DB, []byte, error) {
	key, err := masterKey(hexKey)
	if err != nil {
		return nil, nil, err
	}
	db, err := muro.Open(muro.Options{Path: dbPath, MasterKey: key})
	if err != nil {
		return nil, nil, err
	}
	return db, key, nil
}

func runPut(args []string) error {
	fs := flag.NewFlagSet("put", flag.ExitOnError)
	dbPath := fs.String("db", "", "database file path")
	hexKey := fs.String("key", "", "32-byte master key, hex-encoded")
	fs.Parse(args)
	rest := fs.Args()
	if len(rest) != 2 {
		return fmt.Errorf("put requires K V, got %d args", len(rest))
	}

	db, _, err := openDB(*dbPath, *hexKey)
	if err != nil {
		return err
	}
	defer db.Close()

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	root := tx.Tx.CatalogRoot()
	var tree *btree.BTree
	if root == 0 {
		tree, err = btree.Create(tx.Tx)
	} else {
		tree = btree.Open(root)
	}
	if err != nil {
		tx.Abort()
		return err
	}
	if err := tree.Insert(tx.Tx, []byte(rest[0]), []byte(rest[1])); err != nil {
		tx.Abort()
		return err
	}
	tx.Tx.SetCatalogRoot(tree.Root())
	return tx.Commit()
}

func runGet(args []string) error {
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	dbPath := fs.String("db", "", "database file path")
	hexKey := fs.String("key", "", "32-byte master key, hex-encoded")
	fs.Parse(args)
	rest := fs.Args()
	if len(rest) != 1 {
		return fmt.Errorf("get requires K, got %d args", len(rest))
	}

	db, _, err := openDB(*dbPath, *hexKey)
	if err != nil {
		return err
	}
	defer db.Close()

	return db.View(func(r muro.Reader) error {
		root := db.CatalogRoot()
		if root == 0 {
			return fmt.Errorf("key %q not found", rest[0])
		}
		tree := btree.Open(root)
		val, ok, err := tree.Search(r, []byte(rest[0]))
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("key %q not found", rest[0])
		}
		fmt.Println(string(val))
		return nil
	})
}

func runScan(args []string) error {
	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	dbPath := fs.String("db", "", "database file path")
	hexKey := fs.String("key", "", "32-byte master key, hex-encoded")
	fs.Parse(args)

	db, _, err := openDB(*dbPath, *hexKey)
	if err != nil {
		return err
	}
	defer db.Close()

	w := bufio.NewWriter(os.Stdout)
	defer w.Flush()
	return db.View(func(r muro.Reader) error {
		root := db.CatalogRoot()
		if root == 0 {
			return nil
		}
		tree := btree.Open(root)
		return tree.Scan(r, func(key, value []byte) error {
			row := map[string]string{"key": string(key), "value": string(value)}
			enc, err := json.Marshal(row)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(w, string(enc))
			return err
		})
	})
}

func runIndex(args []string) error {
	fs := flag.NewFlagSet("index", flag.ExitOnError)
	dbPath := fs.String("db", "", "database file path")
	hexKey := fs.String("key", "", "32-byte master key, hex-encoded")
	name := fs.String("name", "", "index name")
	fs.Parse(args)
	rest := fs.Args()

	db, key, err := openDB(*dbPath, *hexKey)
	if err != nil {
		return err
	}
	defer db.Close()

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	ix, err := muro.CreateFTSIndex(tx, *name, key)
	if err != nil {
		tx.Abort()
		return err
	}
	for i, text := range rest {
		if err := ix.IndexDocument(tx.Tx, uint64(i+1), text); err != nil {
			tx.Abort()
			return err
		}
	}
	return tx.Commit()
}

func runSearch(args []string) error {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	dbPath := fs.String("db", "", "database file path")
	hexKey := fs.String("key", "", "32-byte master key, hex-encoded")
	name := fs.String("name", "", "index name")
	limit := fs.Int("limit", 10, "max results")
	fs.Parse(args)
	rest := fs.Args()
	if len(rest) != 1 {
		return fmt.Errorf("search requires a query string")
	}

	db, key, err := openDB(*dbPath, *hexKey)
	if err != nil {
		return err
	}
	defer db.Close()

	wrapKey, err := db.IndexWrapKey(key)
	if err != nil {
		return err
	}

	return db.View(func(r muro.Reader) error {
		ix, err := muro.OpenFTSIndex(r, db.CatalogRoot(), *name, wrapKey)
		if err != nil {
			return err
		}
		results, err := ix.Search(r, rest[0], *limit)
		if err != nil {
			return err
		}
		for _, res := range results {
			fmt.Println(strconv.FormatUint(res.DocID, 10) + "\t" + formatScore(res.Score))
		}
		return nil
	})
}

func formatScore(score float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.4f", score), "0"), ".")
}
