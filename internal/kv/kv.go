// Package kv wraps an embedded badger database with JSON helpers for
// the small keyed collections (timers, chat histories) that must
// survive a process restart.
package kv

import (
	"bytes"
	"encoding/json"
	"path/filepath"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("not found")

// DB is a handle to an open badger database.
type DB struct {
	conn *badger.DB
}

// Options configures Open.
type Options struct {
	// Path is the badger directory. Ignored when InMemory is set.
	Path string

	// InMemory keeps all data in memory; intended for tests.
	InMemory bool

	// NoSync skips fsync after each write.
	NoSync bool
}

// Open a badger database.
func Open(opts Options) (*DB, error) {
	bopts := badger.DefaultOptions(filepath.Clean(opts.Path))
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	}
	bopts = bopts.
		WithLogger(nil).
		WithSyncWrites(!opts.NoSync && !opts.InMemory).
		WithValueLogFileSize(1 << 24)

	conn, err := badger.Open(bopts)
	if err != nil {
		return nil, errors.Wrap(err, "open badger")
	}

	return &DB{conn: conn}, nil
}

// Close the database.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Get decodes the JSON value stored at key into out.
func (db *DB) Get(key []byte, out interface{}) error {
	return db.conn.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		return item.Value(func(v []byte) error {
			return json.Unmarshal(v, out)
		})
	})
}

// Put encodes value as JSON and stores it at key.
func (db *DB) Put(key []byte, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return errors.Wrapf(err, "marshal %s", key)
	}

	return db.conn.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

// Delete removes key. Deleting a missing key is not an error.
func (db *DB) Delete(key []byte) error {
	return db.conn.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

// Scan calls fn for every key with the given prefix, passing the key
// with the prefix stripped and the raw JSON value.
func (db *DB) Scan(prefix []byte, fn func(key string, value []byte) error) error {
	return db.conn.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := string(bytes.TrimPrefix(item.KeyCopy(nil), prefix))

			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}

			if err := fn(key, value); err != nil {
				return err
			}
		}

		return nil
	})
}

// Key joins a collection prefix and an identifier.
func Key(prefix, id string) []byte {
	return []byte(prefix + id)
}
