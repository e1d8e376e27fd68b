// Package httpcache stores HTTP responses keyed by request identity
package httpcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"path"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/travelplan/shellcache/internal/cache"
)

// Store is a named cache store holding at most one response per request
type Store struct {
	name  string
	cache cache.GenericCache
}

func New(name string, cache cache.GenericCache) *Store {
	return &Store{
		name:  name,
		cache: cache,
	}
}

// Open opens the named store of storage
func Open(ctx context.Context, storage cache.Storage, name string) (*Store, error) {
	c, err := storage.Open(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to open store %s: %w", name, err)
	}
	return New(name, c), nil
}

func (s *Store) Name() string {
	return s.name
}

// GenerateKey derives the storage key from the request method and URL only.
// Distinct escaped paths and queries never share a key, and a trailing
// slash is part of the identity.
func GenerateKey(request *http.Request) (string, error) {
	if request.URL == nil || request.URL.Host == "" {
		return "", fmt.Errorf("request URL must be absolute: %v", request.URL)
	}

	// Build path: scheme/host/path/METHOD[_dir][_qqueryhash].bin
	host := strings.TrimSuffix(strings.TrimSuffix(request.URL.Host, ":80"), ":443")
	pathParts := []string{request.URL.Scheme, host}

	escaped := request.URL.EscapedPath()
	// dot segments are resolved so keys stay inside the store
	cleaned := strings.Trim(path.Clean("/"+escaped), "/")
	if cleaned != "" {
		pathParts = append(pathParts, cleaned)
	}

	method := request.Method
	if method == "" {
		method = http.MethodGet
	}
	filename := method
	if cleaned != "" && strings.HasSuffix(escaped, "/") {
		filename += "_dir"
	}
	if request.URL.RawQuery != "" {
		hash := sha256.Sum256([]byte(request.URL.RawQuery))
		filename += "_q" + hex.EncodeToString(hash[:])
	}
	filename += ".bin"

	pathParts = append(pathParts, filename)

	return filepath.FromSlash(path.Join(pathParts...)), nil
}

// Put stores resp under the identity of request, overwriting any previous entry
func (s *Store) Put(ctx context.Context, request *http.Request, resp *http.Response) error {
	cacheKey, err := GenerateKey(request)
	if err != nil {
		return fmt.Errorf("failed to generate cache key: %w", err)
	}

	data, err := Serialize(resp)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if err := s.cache.Set(ctx, cacheKey, data); err != nil {
		return fmt.Errorf("failed to set cache: %w", err)
	}

	return nil
}

// Match returns the stored response for request.
// returns nil, nil on a cache miss
func (s *Store) Match(ctx context.Context, req *http.Request) (*http.Response, error) {
	requestKey, err := GenerateKey(req)
	if err != nil {
		return nil, fmt.Errorf("failed to generate cache key: %w", err)
	}

	data, err := s.cache.Get(ctx, requestKey)
	if err != nil {
		return nil, fmt.Errorf("failed to get cache: %w", err)
	}
	if data == nil {
		return nil, nil // Cache miss
	}

	resp, err := Deserialize(data)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize response: %w", err)
	}

	// Associate the original request with the response
	resp.Request = req
	logrus.Debugf("Cache hit in %s for %s %s", s.name, req.Method, req.URL.String())
	return resp, nil
}
