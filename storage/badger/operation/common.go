package operation

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v2"

	cborcodec "github.com/onflow/sectionnet/model/encoding/cbor"
	"github.com/onflow/sectionnet/storage"
)

// insert encodes the entity with canonical CBOR and stores it under key. It
// returns storage.ErrAlreadyExists if the key is taken.
func insert(key []byte, entity interface{}) func(*badger.Txn) error {
	return func(tx *badger.Txn) error {
		_, err := tx.Get(key)
		if err == nil {
			return storage.ErrAlreadyExists
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("could not check key: %w", err)
		}

		val, err := cborcodec.EncMode.Marshal(entity)
		if err != nil {
			return fmt.Errorf("could not encode entity: %w", err)
		}
		if err := tx.Set(key, val); err != nil {
			return fmt.Errorf("could not store data: %w", err)
		}
		return nil
	}
}

// upsert stores the entity under key, replacing any previous value.
func upsert(key []byte, entity interface{}) func(*badger.Txn) error {
	return func(tx *badger.Txn) error {
		val, err := cborcodec.EncMode.Marshal(entity)
		if err != nil {
			return fmt.Errorf("could not encode entity: %w", err)
		}
		if err := tx.Set(key, val); err != nil {
			return fmt.Errorf("could not store data: %w", err)
		}
		return nil
	}
}

// check sets exists to whether key is stored.
func check(key []byte, exists *bool) func(*badger.Txn) error {
	return func(tx *badger.Txn) error {
		_, err := tx.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			*exists = false
			return nil
		}
		if err != nil {
			return fmt.Errorf("could not check existence: %w", err)
		}
		*exists = true
		return nil
	}
}

// remove deletes key. Removing a missing key is a no-op.
func remove(key []byte) func(*badger.Txn) error {
	return func(tx *badger.Txn) error {
		if err := tx.Delete(key); err != nil {
			return fmt.Errorf("could not delete key: %w", err)
		}
		return nil
	}
}

// retrieve decodes the value under key into entity, which must be a pointer.
// It returns storage.ErrNotFound for a missing key.
func retrieve(key []byte, entity interface{}) func(*badger.Txn) error {
	return func(tx *badger.Txn) error {
		item, err := tx.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return storage.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("could not load data: %w", err)
		}
		err = item.Value(func(val []byte) error {
			return cborcodec.DecMode.Unmarshal(val, entity)
		})
		if err != nil {
			return fmt.Errorf("could not decode entity: %w", err)
		}
		return nil
	}
}

// createFunc returns a pointer to decode the next value of a traversal into.
type createFunc func() interface{}

// handleFunc processes the value decoded into the last created entity.
type handleFunc func() error

// traverse decodes every value whose key starts with prefix, in key order.
func traverse(prefix []byte, create createFunc, handle handleFunc) func(*badger.Txn) error {
	return func(tx *badger.Txn) error {
		if len(prefix) == 0 {
			return fmt.Errorf("prefix must not be empty")
		}
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := tx.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			entity := create()
			err := item.Value(func(val []byte) error {
				return cborcodec.DecMode.Unmarshal(val, entity)
			})
			if err != nil {
				return fmt.Errorf("could not decode entity at %x: %w", item.Key(), err)
			}
			if err := handle(); err != nil {
				return fmt.Errorf("could not handle entity: %w", err)
			}
		}
		return nil
	}
}
