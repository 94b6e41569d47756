package store

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// BadgerStore persists sessions in an embedded BadgerDB. Several sessions share
// one database; every key is prefixed with "session/<id>/".
type BadgerStore struct {
	db     *badger.DB
	prefix []byte
}

// OpenBadger opens (or creates) a BadgerDB at path. An empty path runs in memory.
func OpenBadger(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger store: %w", err)
	}
	return db, nil
}

// NewBadgerStore scopes db to one session. Closing the store does not close db.
func NewBadgerStore(db *badger.DB, sessionID string) *BadgerStore {
	return &BadgerStore{db: db, prefix: []byte("session/" + sessionID + "/")}
}

// BadgerFactory returns a Factory sharing db between sessions
func BadgerFactory(db *badger.DB) Factory {
	return func(sessionID string) (Store, error) {
		return NewBadgerStore(db, sessionID), nil
	}
}

func (s *BadgerStore) key(name string) []byte {
	return append(append([]byte(nil), s.prefix...), name...)
}

func (s *BadgerStore) Load() (map[string][]byte, error) {
	out := make(map[string][]byte)
	err := s.db.View(func(txn *badger.Txn) error {
		for _, name := range Entries {
			item, err := txn.Get(s.key(name))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			out[name] = val
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load session entries: %w", err)
	}
	return out, nil
}

func (s *BadgerStore) Save(entries map[string][]byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		for name, val := range entries {
			if err := txn.Set(s.key(name), val); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save session entries: %w", err)
	}
	return nil
}

func (s *BadgerStore) Clear() error {
	err := s.db.Update(func(txn *badger.Txn) error {
		for _, name := range Entries {
			if err := txn.Delete(s.key(name)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to clear session entries: %w", err)
	}
	return nil
}

func (s *BadgerStore) Close() error { return nil }
