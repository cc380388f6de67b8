// Package storage provides the key/value store hwdiag persists samples,
// benchmark results and discovery reports to.
package storage

import (
	"context"
	"errors"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("storage: store is closed")

// Entry is one key/value pair returned by List.
type Entry struct {
	Key   string `json:"key" yaml:"key"`
	Value string `json:"value" yaml:"value"`
}

// Store is a key/value store safe for concurrent use.
type Store interface {
	// Put stores value under key and returns the previous value, if any.
	Put(ctx context.Context, key []byte, value string) (prev string, existed bool, err error)

	// Get returns the value stored under key.
	Get(ctx context.Context, key []byte) (value string, found bool, err error)

	// Delete removes key and returns the value it held, if any.
	Delete(ctx context.Context, key []byte) (prev string, existed bool, err error)

	// List returns entries whose key starts with prefix, in key order.
	// A limit of zero or less returns every match.
	List(ctx context.Context, prefix string, limit int) ([]Entry, error)

	// Close releases the store.
	Close() error
}

// prefixUpperBound returns the smallest key greater than every key with the
// given prefix, or nil when no such bound exists (empty or all-0xff prefix).
func prefixUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
