// Package boltstore is a single-file blob store on bolt, addressed by the
// same content ids as s3store. It backs offline demos and tests.
package boltstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/boltdb/bolt"

	"github.com/dmitrijs2005/paylock/internal/common"
	"github.com/dmitrijs2005/paylock/internal/locator"
)

var blobsBucket = []byte("blobs")

// Store is a locator.Backend over a bolt database.
type Store struct {
	db *bolt.DB
}

// Open opens (or creates) the database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", filepath.Dir(path), err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(blobsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Put stores payload under its content id. Existing content is left as is.
func (s *Store) Put(ctx context.Context, payload []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrStoreUnavailable, err)
	}
	loc, err := locator.ContentID(payload)
	if err != nil {
		return "", err
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(blobsBucket)
		if b.Get([]byte(loc)) != nil {
			return nil
		}
		return b.Put([]byte(loc), payload)
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrStoreUnavailable, err)
	}
	return loc, nil
}

// Get returns a copy of the stored payload. A payload that no longer hashes
// to loc is refused.
func (s *Store) Get(ctx context.Context, loc string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrStoreUnavailable, err)
	}

	var payload []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(blobsBucket).Get([]byte(loc))
		if v == nil {
			return fmt.Errorf("blob %s: %w", loc, common.ErrNotFound)
		}
		payload = make([]byte, len(v))
		copy(payload, v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !locator.VerifyContentID(loc, payload) {
		return nil, fmt.Errorf("%w: blob %s does not match its content id", common.ErrStoreRejected, loc)
	}
	return payload, nil
}

func (s *Store) Has(ctx context.Context, loc string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	var ok bool
	err := s.db.View(func(tx *bolt.Tx) error {
		ok = tx.Bucket(blobsBucket).Get([]byte(loc)) != nil
		return nil
	})
	return ok, err
}

func (s *Store) Validate(loc string) error {
	return locator.ValidateContentID(loc)
}
