// Package kvstore implements the agent's durable key-value store: a
// single-writer, crash-safe map from string keys to opaque byte blobs,
// backed by a bbolt file. The store never interprets the values it holds;
// callers (the monitor's last-batch memory, collector plugins tracking
// their own state) own that meaning.
package kvstore

import (
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/cobeio/entityd-sub000/internal/entityerr"
)

// bucketName is the single logical table the store exposes, matching the
// entityd_kv_store name from the persisted-state contract.
var bucketName = []byte("entityd_kv_store")

// Store is a durable map[string][]byte. All operations are safe for one
// writer; bbolt itself serializes writers with a file lock, but this
// agent only ever opens the database from one process.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if necessary) the database file at path. A failure
// here — an unwritable or corrupt path — is an entityerr.ErrConfiguration
// and must be treated as fatal at startup.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: opening kvstore at %s: %v", entityerr.ErrConfiguration, path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: initializing kvstore bucket: %v", entityerr.ErrConfiguration, err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database file. A failure here is tolerated
// at shutdown, not fatal.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the value stored under key, or entityerr.ErrNotFound if
// absent.
func (s *Store) Get(key string) ([]byte, error) {
	var value []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketName).Get([]byte(key))
		if v == nil {
			return entityerr.ErrNotFound
		}
		value = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

// GetMany returns every key/value pair whose key starts with prefix.
func (s *Store) GetMany(prefix string) (map[string][]byte, error) {
	out := make(map[string][]byte)
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketName).Cursor()
		p := []byte(prefix)
		for k, v := c.Seek(p); k != nil && hasPrefix(k, p); k, v = c.Next() {
			out[string(k)] = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Add inserts or replaces the value at key.
func (s *Store) Add(key string, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(key), value)
	})
}

// AddMany inserts or replaces every key/value pair in kv, in one
// transaction.
func (s *Store) AddMany(kv map[string][]byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		for k, v := range kv {
			if err := b.Put([]byte(k), v); err != nil {
				return err
			}
		}
		return nil
	})
}

// Delete removes key, if present. Deleting an absent key is not an error.
func (s *Store) Delete(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Delete([]byte(key))
	})
}

// DeleteMany removes every key starting with prefix, in one transaction.
func (s *Store) DeleteMany(prefix string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		c := b.Cursor()
		p := []byte(prefix)
		var toDelete [][]byte
		for k, _ := c.Seek(p); k != nil && hasPrefix(k, p); k, _ = c.Next() {
			toDelete = append(toDelete, append([]byte(nil), k...))
		}
		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func hasPrefix(k, prefix []byte) bool {
	if len(k) < len(prefix) {
		return false
	}
	for i := range prefix {
		if k[i] != prefix[i] {
			return false
		}
	}
	return true
}
