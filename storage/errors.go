package storage

import (
	"errors"
)

var (
	// ErrNotFound is returned by every store for a missing key. The badger
	// stores translate badger.ErrKeyNotFound into it.
	ErrNotFound = errors.New("key not found")

	ErrAlreadyExists = errors.New("key already exists")
)
