package storage

import (
	"context"
)

// Storage is a small blob store used for owner-only records (the contact
// inbox). Keys are relative paths; values are whole objects.
type Storage interface {
	// Put writes an object under key, replacing any existing object
	Put(ctx context.Context, key string, data []byte, contentType string) error

	// Get reads an object by key
	Get(ctx context.Context, key string) ([]byte, error)

	// List returns keys under prefix, lexically sorted descending
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes an object; missing objects are not an error
	Delete(ctx context.Context, key string) error

	// Exists reports whether key is present
	Exists(ctx context.Context, key string) (bool, error)

	// GetStorageType returns the backend type
	GetStorageType() string
}

// StorageType identifies a backend
type StorageType string

const (
	StorageTypeLocal StorageType = "local" // local filesystem, owner-only permissions
	StorageTypeOSS   StorageType = "oss"   // aliyun OSS
)
