package settings

import (
	"context"
	"errors"
	"fmt"

	"github.com/tidwall/buntdb"
)

// BuntStore keeps settings in an embedded buntdb file. Path ":memory:"
// gives a non-persistent store.
type BuntStore struct {
	db *buntdb.DB
}

func OpenBunt(path string) (*BuntStore, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening settings db %s: %w", path, err)
	}
	return &BuntStore{db: db}, nil
}

func (s *BuntStore) Get(_ context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.View(func(tx *buntdb.Tx) error {
		v, err := tx.Get(key)
		if err != nil {
			return err
		}
		value = v
		return nil
	})
	if errors.Is(err, buntdb.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading setting %s: %w", key, err)
	}
	return value, true, nil
}

func (s *BuntStore) Set(ctx context.Context, key, value string) error {
	return s.SetMany(ctx, map[string]string{key: value})
}

func (s *BuntStore) SetMany(_ context.Context, values map[string]string) error {
	err := s.db.Update(func(tx *buntdb.Tx) error {
		for k, v := range values {
			if _, _, err := tx.Set(k, v, nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("writing settings: %w", err)
	}
	return nil
}

func (s *BuntStore) Delete(_ context.Context, keys ...string) error {
	err := s.db.Update(func(tx *buntdb.Tx) error {
		for _, k := range keys {
			if _, err := tx.Delete(k); err != nil && !errors.Is(err, buntdb.ErrNotFound) {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("deleting settings: %w", err)
	}
	return nil
}

func (s *BuntStore) Close() error {
	return s.db.Close()
}
