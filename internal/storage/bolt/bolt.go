package bolt

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/goodtune/tabtime/internal/storage"
	"go.etcd.io/bbolt"
)

// bucketTracked is the root bucket. Below it the layout mirrors
// storage.TrackedData: one bucket per day, one per hostname inside it, and
// the resource key → PageData JSON pairs as values.
const bucketTracked = "tracked"

// Store implements the storage.Store interface using bbolt.
type Store struct {
	db *bbolt.DB
}

// Open opens a BoltDB-backed store.
func Open(path string) (*Store, error) {
	if err := ensureDir(path); err != nil {
		return nil, err
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	store := &Store{db: db}
	if err := store.ensureBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	return storage.EnsureDir(dir)
}

func (s *Store) ensureBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(bucketTracked)); err != nil {
			return fmt.Errorf("create bucket %s: %w", bucketTracked, err)
		}
		return nil
	})
}

// Close closes the underlying store database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Tracked returns the tracked data store.
func (s *Store) Tracked() storage.TrackedStore { return &trackedStore{db: s.db} }

func marshal(value any) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("marshal value: %w", err)
	}
	return data, nil
}

func unmarshal(data []byte, out any) error {
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal value: %w", err)
	}
	return nil
}

func rootBucket(tx *bbolt.Tx) (*bbolt.Bucket, error) {
	root := tx.Bucket([]byte(bucketTracked))
	if root == nil {
		return nil, fmt.Errorf("bucket missing: %s", bucketTracked)
	}
	return root, nil
}
