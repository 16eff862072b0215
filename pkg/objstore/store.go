// Package objstore abstracts the object store that chunk objects live in.
package objstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when the requested object does not exist.
var ErrNotFound = errors.New("object not found")

// Object describes a stored object as seen by List.
type Object struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// Store is the minimal object-store surface the workers and the reconciler
// need. Implementations must be safe for concurrent use.
type Store interface {
	// Put writes body under key, overwriting any existing object.
	Put(ctx context.Context, bucket, key string, body []byte) error

	// Get reads the full object. Returns ErrNotFound when absent.
	Get(ctx context.Context, bucket, key string) ([]byte, error)

	// Delete removes the object. Deleting an absent object is not an error.
	Delete(ctx context.Context, bucket, key string) error

	// List returns all objects under the given key prefix.
	List(ctx context.Context, bucket, prefix string) ([]Object, error)
}
