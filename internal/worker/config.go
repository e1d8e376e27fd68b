package worker

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/travelplan/shellcache/internal/cache"
	"github.com/travelplan/shellcache/internal/config"
	"github.com/travelplan/shellcache/internal/manifest"
)

// FromConfig builds a controller on storage, fetching with an HTTP client
// bounded by the configured network timeout
func FromConfig(cfg *config.Config, storage cache.Storage, reg prometheus.Registerer) (*Controller, error) {
	timeout, err := cfg.GetNetworkTimeout()
	if err != nil {
		return nil, fmt.Errorf("invalid network timeout: %w", err)
	}

	scope, err := cfg.GetScope()
	if err != nil {
		return nil, fmt.Errorf("invalid scope: %w", err)
	}

	assets := manifest.New(cfg.Worker.CoreAssets)
	if cfg.Worker.AssetsFile != "" {
		if assets, err = manifest.Load(cfg.Worker.AssetsFile); err != nil {
			return nil, err
		}
	}

	rules := make([]Rule, 0, len(cfg.Worker.Bypass))
	for _, rule := range cfg.Worker.Bypass {
		rules = append(rules, PrefixRule{BaseURI: rule.BaseURI})
	}

	return New(storage, newNetworkClient(timeout, nil), Options{
		VersionTag:  cfg.Worker.VersionTag,
		CachePrefix: cfg.Worker.CachePrefix,
		Scope:       scope,
		ShellPath:   cfg.Worker.ShellPath,
		CoreAssets:  assets,
		CrossOrigin: CrossOriginPolicy(cfg.Worker.CrossOrigin),
		Bypass:      rules,
		Registerer:  reg,
	})
}

// newNetworkClient returns a client that hands redirects back to the
// caller instead of following them. A nil transport uses the default one.
func newNetworkClient(timeout time.Duration, transport http.RoundTripper) *http.Client {
	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}
