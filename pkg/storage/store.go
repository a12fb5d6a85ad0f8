// Package storage moves script documents between the loader and a backing
// store. Stores deal in raw bytes; parsing and repair happen above them.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no document exists under a key.
var ErrNotFound = errors.New("not found")

// Store defines the persistence interface for script documents.
type Store interface {
	Read(ctx context.Context, key string) ([]byte, error)
	Write(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
	// List returns every stored key in lexical order.
	List(ctx context.Context) ([]string, error)
	Close() error
}
