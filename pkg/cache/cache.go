// Package cache stores rendered artifacts so identical documents are not
// compiled twice.
//
// Three backends implement [Cache]:
//   - [NullCache] never stores anything (caching disabled)
//   - [FileCache] keeps entries on local disk for the CLI
//   - [RedisCache] shares entries between server instances
//
// Keys come from a [Keyer] so the same document maps to the same entry in
// every backend.
package cache

import (
	"context"
	"time"
)

// Cache is a byte-oriented key/value store with optional expiry.
type Cache interface {
	// Get returns the value for key. A miss is (nil, false, nil).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores data under key. A ttl of zero means no expiry.
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases backend resources.
	Close() error
}

// Default TTLs for cached artifacts.
const (
	// TTLRender applies to rasterized TikZ documents. Output depends only on
	// the document text and the toolchain, so entries live long.
	TTLRender = 7 * 24 * time.Hour

	// TTLDot applies to in-process graphviz renders.
	TTLDot = 7 * 24 * time.Hour
)
