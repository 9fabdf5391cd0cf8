// Package storage defines the opaque ordered key-value contract every
// persistence layer of the vault is built on: get, put, delete, prefix-list,
// exists. Keys are UTF-8 strings; values are the raw bytes the Barrier
// already encrypted. No implementation in this package ever inspects value
// contents.
package storage

import "context"

// Backend is the pluggable storage contract. Implementations: in-memory
// (tests, single-process deployments), Postgres, and Redis.
type Backend interface {
	// Get returns the value stored at key, or (nil, false, nil) if absent.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Put writes value at key, overwriting any existing value.
	Put(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns the immediate child segments under prefix, matching the
	// semantics of a directory listing: for keys "a/b" and "a/c/d" under
	// prefix "a/", List returns ["b", "c/"].
	List(ctx context.Context, prefix string) ([]string, error)

	// Exists reports whether key is present without fetching its value.
	Exists(ctx context.Context, key string) (bool, error)
}
