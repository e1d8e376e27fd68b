// Package manifest holds the core asset list (the app shell) that must be
// precached before a new cache version may be activated.
package manifest

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Manifest is an ordered list of asset paths relative to the controller scope
type Manifest struct {
	Assets []string `yaml:"assets"`
}

// Default returns the app shell of the travel plan site
func Default() *Manifest {
	return New([]string{
		"./",
		"./index.html",
		"./manifest.webmanifest",
		"./sw.js",
	})
}

func New(assets []string) *Manifest {
	return &Manifest{Assets: append([]string(nil), assets...)}
}

// Load reads a YAML manifest of the form:
//
//	assets:
//	  - ./
//	  - ./index.html
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest file: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest YAML: %w", err)
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks that every asset is a non-empty path relative to the scope
func (m *Manifest) Validate() error {
	if len(m.Assets) == 0 {
		return fmt.Errorf("manifest has no assets")
	}
	for i, asset := range m.Assets {
		if strings.TrimSpace(asset) == "" {
			return fmt.Errorf("asset %d is empty", i)
		}
		u, err := url.Parse(asset)
		if err != nil {
			return fmt.Errorf("asset %d (%s): %w", i, asset, err)
		}
		if u.IsAbs() || u.Host != "" || strings.HasPrefix(asset, "/") {
			return fmt.Errorf("asset %d (%s) must be relative to the scope", i, asset)
		}
	}
	return nil
}

// Resolve returns the absolute URL of every asset, in manifest order
func (m *Manifest) Resolve(scope *url.URL) ([]*url.URL, error) {
	urls := make([]*url.URL, 0, len(m.Assets))
	for _, asset := range m.Assets {
		ref, err := url.Parse(asset)
		if err != nil {
			return nil, fmt.Errorf("parsing asset %s: %w", asset, err)
		}
		urls = append(urls, scope.ResolveReference(ref))
	}
	return urls, nil
}
