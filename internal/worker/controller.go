// Package worker implements the offline cache controller: app shell
// precaching on install, version sweeping on activate and the per-request
// caching strategies on fetch.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/travelplan/shellcache/internal/cache"
	"github.com/travelplan/shellcache/internal/cache/httpcache"
	"github.com/travelplan/shellcache/internal/manifest"
)

var (
	ErrInstallFailed = errors.New("install failed")
	ErrNotInstalled  = errors.New("controller is not installed")
)

// Fetcher issues network requests. *http.Client satisfies it.
type Fetcher interface {
	Do(req *http.Request) (*http.Response, error)
}

// CrossOriginPolicy decides how requests to other origins are handled
type CrossOriginPolicy string

const (
	StaleWhileRevalidate CrossOriginPolicy = "stale-while-revalidate"
	Passthrough          CrossOriginPolicy = "passthrough"
)

// State is the lifecycle state of a controller
type State int32

const (
	StateParsed State = iota
	StateInstalling
	StateInstalled
	StateActivating
	StateActivated
	StateRedundant
)

func (s State) String() string {
	switch s {
	case StateParsed:
		return "parsed"
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateActivating:
		return "activating"
	case StateActivated:
		return "activated"
	case StateRedundant:
		return "redundant"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Options configures a controller
type Options struct {
	// VersionTag is embedded in every store name. Changing it invalidates
	// all previously stored responses on the next activation.
	VersionTag  string
	CachePrefix string
	// Scope is the controller's own origin and base path
	Scope *url.URL
	// ShellPath is the scope-relative key navigations are cached under
	ShellPath   string
	CoreAssets  *manifest.Manifest
	CrossOrigin CrossOriginPolicy
	Bypass      []Rule
	// Registerer receives the controller metrics when set
	Registerer prometheus.Registerer
}

// Controller is the offline cache controller for one version tag
type Controller struct {
	storage cache.Storage
	fetcher Fetcher
	opts    Options

	shellURL *url.URL
	rootURL  *url.URL

	state     atomic.Int32
	lifecycle sync.Mutex
	pending   sync.WaitGroup
	metrics   *metrics
}

// New creates a controller. It does not touch the storage until installed.
func New(storage cache.Storage, fetcher Fetcher, opts Options) (*Controller, error) {
	if opts.VersionTag == "" {
		return nil, fmt.Errorf("version tag is required")
	}
	if opts.CachePrefix == "" {
		return nil, fmt.Errorf("cache prefix is required")
	}
	if opts.Scope == nil || !opts.Scope.IsAbs() || opts.Scope.Host == "" {
		return nil, fmt.Errorf("scope must be an absolute URL")
	}
	if opts.ShellPath == "" {
		opts.ShellPath = "./index.html"
	}
	if opts.CoreAssets == nil {
		opts.CoreAssets = manifest.Default()
	}
	if err := opts.CoreAssets.Validate(); err != nil {
		return nil, fmt.Errorf("invalid core assets: %w", err)
	}
	if opts.CrossOrigin == "" {
		opts.CrossOrigin = StaleWhileRevalidate
	}

	shellRef, err := url.Parse(opts.ShellPath)
	if err != nil {
		return nil, fmt.Errorf("invalid shell path: %w", err)
	}

	m, err := newMetrics(opts.Registerer)
	if err != nil {
		return nil, err
	}

	return &Controller{
		storage:  storage,
		fetcher:  fetcher,
		opts:     opts,
		shellURL: opts.Scope.ResolveReference(shellRef),
		rootURL:  opts.Scope.ResolveReference(&url.URL{Path: "./"}),
		metrics:  m,
	}, nil
}

// StaticStoreName is the name of the app shell store of this version
func (c *Controller) StaticStoreName() string {
	return c.opts.CachePrefix + "-static-" + c.opts.VersionTag
}

// RuntimeStoreName is the name of the store filled lazily at fetch time
func (c *Controller) RuntimeStoreName() string {
	return c.opts.CachePrefix + "-runtime-" + c.opts.VersionTag
}

func (c *Controller) VersionTag() string {
	return c.opts.VersionTag
}

func (c *Controller) State() State {
	return State(c.state.Load())
}

func (c *Controller) setState(s State) {
	c.state.Store(int32(s))
}

// Wait blocks until all background revalidations and store writes are done
func (c *Controller) Wait() {
	c.pending.Wait()
}

// OnInstall precaches the core assets into the static store.
// All assets must be fetched with status 200 before anything is stored.
// On success the controller skips waiting and can be activated right away.
func (c *Controller) OnInstall(ctx context.Context) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	previous := c.State()
	if previous != StateActivated {
		c.setState(StateInstalling)
	}

	log := logrus.WithFields(logrus.Fields{"version": c.opts.VersionTag, "store": c.StaticStoreName()})

	if err := c.precache(ctx); err != nil {
		c.metrics.installs.WithLabelValues("failure").Inc()
		if previous == StateActivated {
			log.Warnf("Reinstall failed, keeping active version: %v", err)
		} else {
			c.setState(StateRedundant)
		}
		return fmt.Errorf("%w: %w", ErrInstallFailed, err)
	}

	c.metrics.installs.WithLabelValues("success").Inc()
	if previous != StateActivated {
		c.setState(StateInstalled)
	}
	log.Infof("Installed %d core assets", len(c.opts.CoreAssets.Assets))
	return nil
}

func (c *Controller) precache(ctx context.Context) error {
	urls, err := c.opts.CoreAssets.Resolve(c.opts.Scope)
	if err != nil {
		return err
	}

	responses := make([]*http.Response, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	for i, u := range urls {
		g.Go(func() error {
			req, err := http.NewRequestWithContext(gctx, http.MethodGet, u.String(), nil)
			if err != nil {
				return err
			}
			resp, err := c.fetcher.Do(req)
			if err != nil {
				return fmt.Errorf("fetching %s: %w", u, err)
			}
			if resp.StatusCode != http.StatusOK {
				_ = resp.Body.Close()
				return fmt.Errorf("fetching %s: unexpected status %d", u, resp.StatusCode)
			}
			if err := bufferBody(resp); err != nil {
				return fmt.Errorf("reading %s: %w", u, err)
			}
			responses[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	store, err := httpcache.Open(ctx, c.storage, c.StaticStoreName())
	if err != nil {
		return err
	}
	for i, u := range urls {
		if err := store.Put(ctx, keyRequest(u), responses[i]); err != nil {
			return fmt.Errorf("storing %s: %w", u, err)
		}
	}
	return nil
}

// Restore marks the controller installed when its static store already
// exists from an earlier run, e.g. when the network is down at startup.
func (c *Controller) Restore(ctx context.Context) (bool, error) {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	switch c.State() {
	case StateInstalled, StateActivated:
		return true, nil
	}

	names, err := c.storage.Names(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to list stores: %w", err)
	}
	for _, name := range names {
		if name == c.StaticStoreName() {
			c.setState(StateInstalled)
			logrus.Infof("Restored installed version %s from store %s", c.opts.VersionTag, name)
			return true, nil
		}
	}
	return false, nil
}

// OnActivate deletes every store that does not belong to this version and
// then claims all clients. It returns the names of the deleted stores.
// Activating an already active controller only repeats the sweep.
func (c *Controller) OnActivate(ctx context.Context) ([]string, error) {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	previous := c.State()
	if previous != StateInstalled && previous != StateActivated {
		return nil, fmt.Errorf("%w (state %s)", ErrNotInstalled, previous)
	}
	if previous == StateInstalled {
		c.setState(StateActivating)
	}

	names, err := c.storage.Names(ctx)
	if err != nil {
		c.setState(previous)
		return nil, fmt.Errorf("failed to list stores: %w", err)
	}

	deleted := make([]string, 0)
	for _, name := range names {
		if name == c.StaticStoreName() || name == c.RuntimeStoreName() {
			continue
		}
		existed, err := c.storage.Delete(ctx, name)
		if err != nil {
			c.setState(previous)
			return deleted, fmt.Errorf("failed to delete store %s: %w", name, err)
		}
		if existed {
			deleted = append(deleted, name)
			c.metrics.deletedStores.Inc()
			logrus.Infof("Deleted stale store %s", name)
		}
	}

	c.setState(StateActivated)
	logrus.WithFields(logrus.Fields{"version": c.opts.VersionTag}).Infof("Activated, %d stale stores deleted", len(deleted))
	return deleted, nil
}
