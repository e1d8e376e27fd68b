package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// DiskStorage implements Storage with one directory per store
type DiskStorage struct {
	cacheDir string
	mu       sync.RWMutex
}

// NewDisk creates a new disk storage rooted at cacheDir
func NewDisk(cacheDir string) *DiskStorage {
	return &DiskStorage{
		cacheDir: cacheDir,
	}
}

// Init ensures the cache directory exists
func (d *DiskStorage) Init() error {
	return os.MkdirAll(d.cacheDir, 0755)
}

func (d *DiskStorage) Open(_ context.Context, name string) (GenericCache, error) {
	if err := ValidateStoreName(name); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	dir := filepath.Join(d.cacheDir, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &diskCache{storage: d, dir: dir}, nil
}

func (d *DiskStorage) Names(_ context.Context) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	entries, err := os.ReadDir(d.cacheDir)
	if errors.Is(err, os.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list stores: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (d *DiskStorage) Delete(_ context.Context, name string) (bool, error) {
	if err := ValidateStoreName(name); err != nil {
		return false, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	dir := filepath.Join(d.cacheDir, name)
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return false, fmt.Errorf("failed to remove store %s: %w", name, err)
	}
	return true, nil
}

func (d *DiskStorage) Close() error {
	return nil
}

// diskCache stores each key as a file below its store directory
type diskCache struct {
	storage *DiskStorage
	dir     string
}

func (c *diskCache) path(key string) (string, error) {
	if key == "" || !filepath.IsLocal(key) {
		return "", fmt.Errorf("invalid cache key: %q", key)
	}
	return filepath.Join(c.dir, key), nil
}

// Get retrieves a cached value if it exists
func (c *diskCache) Get(_ context.Context, key string) ([]byte, error) {
	cachePath, err := c.path(key)
	if err != nil {
		return nil, err
	}

	c.storage.mu.RLock()
	defer c.storage.mu.RUnlock()

	data, err := os.ReadFile(cachePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Set stores a value, replacing the file atomically
func (c *diskCache) Set(_ context.Context, key string, data []byte) error {
	cachePath, err := c.path(key)
	if err != nil {
		return err
	}

	c.storage.mu.RLock()
	defer c.storage.mu.RUnlock()

	if _, err := os.Stat(c.dir); errors.Is(err, os.ErrNotExist) {
		logrus.Debugf("Store %s was deleted, dropping write of %s", filepath.Base(c.dir), key)
		return nil
	}

	// Ensure directory exists
	dir := filepath.Dir(cachePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), cachePath); err != nil {
		return err
	}

	logrus.Debugf("Cached response: %s", cachePath)
	return nil
}
