// Handles persistence of named cache stores
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidStoreName is returned for store names that cannot be persisted safely
var ErrInvalidStoreName = errors.New("invalid store name")

// GenericCache is a single named store of byte values.
// Writes to a store that has been deleted are discarded.
type GenericCache interface {
	// retrieves cached data for key.
	// returns nil, nil when not found
	Get(ctx context.Context, key string) ([]byte, error)
	// stores data under key, overwriting any previous value
	Set(ctx context.Context, key string, value []byte) error
}

// Storage holds every named store of an origin.
// Implementations must be safe for concurrent use.
type Storage interface {
	// initializes the storage (e.g., creates necessary directories or tables)
	Init() error
	// returns the named store, creating it if it does not exist yet
	Open(ctx context.Context, name string) (GenericCache, error)
	// lists the names of all existing stores, sorted
	Names(ctx context.Context) ([]string, error)
	// removes a store with all its entries and reports whether it existed
	Delete(ctx context.Context, name string) (bool, error)
	// releases any resources held by the storage
	Close() error
}

// ValidateStoreName rejects names that would escape a storage namespace
func ValidateStoreName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, "/\\\x00") {
		return fmt.Errorf("%w: %q", ErrInvalidStoreName, name)
	}
	return nil
}
