package implementation

import (
	"fmt"

	bolt "go.etcd.io/bbolt"
)

var agentBucket = []byte("agent")

// BoltKeyValueStore implements the key/value persistence primitive on a
// single-file bbolt database. Each Set/Delete runs in its own write
// transaction, so an interrupted write never leaves a torn value behind.
type BoltKeyValueStore struct {
	db *bolt.DB
}

// NewBoltKeyValueStore creates the store and ensures its bucket exists
func NewBoltKeyValueStore(db *bolt.DB) (*BoltKeyValueStore, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(agentBucket)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create agent bucket: %w", err)
	}
	return &BoltKeyValueStore{db: db}, nil
}

func (s *BoltKeyValueStore) Get(key string) ([]byte, bool, error) {
	var value []byte
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(agentBucket).Get([]byte(key))
		if raw == nil {
			return nil
		}
		found = true
		value = make([]byte, len(raw))
		copy(value, raw)
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to read key %q: %w", key, err)
	}
	return value, found, nil
}

func (s *BoltKeyValueStore) Set(key string, value []byte) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(agentBucket).Put([]byte(key), value)
	})
	if err != nil {
		return fmt.Errorf("failed to write key %q: %w", key, err)
	}
	return nil
}

func (s *BoltKeyValueStore) Delete(key string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(agentBucket).Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("failed to delete key %q: %w", key, err)
	}
	return nil
}
