package worker

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/sirupsen/logrus"

	"github.com/travelplan/shellcache/internal/cache/httpcache"
)

// Strategy names, as reported in metrics
const (
	strategyNetworkFirst         = "network-first"
	strategyCacheFirst           = "cache-first"
	strategyStaleWhileRevalidate = "stale-while-revalidate"
)

// OnFetch applies the caching policy to an intercepted request.
// It returns false when the request is not intercepted and must go to the
// network untouched: non-GET requests, requests matching a bypass rule,
// same-origin requests outside the scope path, cross-origin requests under
// the passthrough policy, and every request while the controller is not
// activated. An intercepted request always gets a response.
func (c *Controller) OnFetch(ctx context.Context, req *http.Request) (*http.Response, bool) {
	if req.Method != http.MethodGet {
		return nil, false
	}
	if c.State() != StateActivated {
		return nil, false
	}
	if c.bypassed(req) {
		logrus.Debugf("Bypassing %s", getTargetURL(req))
		return nil, false
	}

	u := requestURL(req)
	if !sameOrigin(u, c.opts.Scope) {
		// never treated as a navigation, whatever the request mode says
		if c.opts.CrossOrigin != StaleWhileRevalidate {
			return nil, false
		}
		return c.staleWhileRevalidate(ctx, req), true
	}
	if !inScope(u, c.opts.Scope) {
		logrus.Debugf("Out of scope %s", u)
		return nil, false
	}

	if IsNavigation(req) {
		return c.networkFirst(ctx, req), true
	}
	return c.cacheFirst(ctx, req), true
}

func (c *Controller) fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	resp, err := c.fetcher.Do(outboundRequest(ctx, req))
	if err != nil {
		return nil, err
	}
	if storable(resp) {
		if err := bufferBody(resp); err != nil {
			return nil, fmt.Errorf("reading response body: %w", err)
		}
	}
	return resp, nil
}

// match looks key up in the named stores, in order.
// Lookup errors are logged and count as a miss.
func (c *Controller) match(ctx context.Context, key *http.Request, storeNames ...string) *http.Response {
	for _, name := range storeNames {
		store, err := httpcache.Open(ctx, c.storage, name)
		if err != nil {
			logrus.Errorf("Failed to open store %s: %v", name, err)
			continue
		}
		resp, err := store.Match(ctx, key)
		if err != nil {
			logrus.Errorf("Failed to get cached data for %s: %v", key.URL, err)
			continue
		}
		if resp != nil {
			return resp
		}
	}
	return nil
}

// put stores resp synchronously
func (c *Controller) put(ctx context.Context, storeName string, key *http.Request, resp *http.Response) error {
	store, err := httpcache.Open(ctx, c.storage, storeName)
	if err != nil {
		return err
	}
	return store.Put(ctx, key, resp)
}

// storeLater persists a copy of a buffered response in the background.
// Failures are logged and discarded; they never reach the caller.
func (c *Controller) storeLater(ctx context.Context, storeName string, key *http.Request, resp *http.Response) {
	clone, err := cloneResponse(resp)
	if err != nil {
		c.metrics.storeErrors.Inc()
		logrus.Warnf("Failed to copy response for %s: %v", key.URL, err)
		return
	}

	ctx = context.WithoutCancel(ctx)
	c.pending.Add(1)
	go func() {
		defer c.pending.Done()
		if err := c.put(ctx, storeName, key, clone); err != nil {
			c.metrics.storeErrors.Inc()
			logrus.Warnf("Failed to cache response for %s: %v", key.URL, err)
			return
		}
		logrus.Debugf("Stored %s in %s", key.URL, storeName)
	}()
}

// networkFirst serves navigations: live response when reachable, cached
// app shell otherwise
func (c *Controller) networkFirst(ctx context.Context, req *http.Request) *http.Response {
	log := logrus.WithFields(logrus.Fields{"strategy": strategyNetworkFirst, "url": getTargetURL(req)})

	resp, err := c.fetch(ctx, req)
	if err == nil {
		if storable(resp) {
			c.storeLater(ctx, c.StaticStoreName(), keyRequest(c.shellURL), resp)
		}
		c.metrics.fetches.WithLabelValues(strategyNetworkFirst, "network").Inc()
		log.Debugf("Served from network -> %d", resp.StatusCode)
		return markCache(resp, CacheMiss)
	}

	log.Infof("Network unavailable, falling back to app shell: %v", err)
	for _, u := range []*url.URL{c.shellURL, c.rootURL} {
		if cached := c.match(ctx, keyRequest(u), c.StaticStoreName()); cached != nil {
			c.metrics.fetches.WithLabelValues(strategyNetworkFirst, "fallback").Inc()
			return markCache(cached, CacheFallback)
		}
	}

	c.metrics.fetches.WithLabelValues(strategyNetworkFirst, "offline").Inc()
	return offlineResponse(req)
}

// cacheFirst serves same-origin sub-resources
func (c *Controller) cacheFirst(ctx context.Context, req *http.Request) *http.Response {
	log := logrus.WithFields(logrus.Fields{"strategy": strategyCacheFirst, "url": getTargetURL(req)})
	key := keyRequest(requestURL(req))

	if cached := c.match(ctx, key, c.StaticStoreName(), c.RuntimeStoreName()); cached != nil {
		c.metrics.fetches.WithLabelValues(strategyCacheFirst, "hit").Inc()
		log.Debugf("Serving from cache")
		return markCache(cached, CacheHit)
	}

	resp, err := c.fetch(ctx, req)
	if err != nil {
		c.metrics.fetches.WithLabelValues(strategyCacheFirst, "offline").Inc()
		log.Infof("Fetch failed with nothing cached: %v", err)
		return offlineResponse(req)
	}

	if storable(resp) {
		c.storeLater(ctx, c.RuntimeStoreName(), key, resp)
	}
	c.metrics.fetches.WithLabelValues(strategyCacheFirst, "miss").Inc()
	log.Debugf("Served from network -> %d", resp.StatusCode)
	return markCache(resp, CacheMiss)
}

// staleWhileRevalidate serves cross-origin requests from the runtime store
// while refreshing it from the network
func (c *Controller) staleWhileRevalidate(ctx context.Context, req *http.Request) *http.Response {
	log := logrus.WithFields(logrus.Fields{"strategy": strategyStaleWhileRevalidate, "url": getTargetURL(req)})
	key := keyRequest(requestURL(req))

	if cached := c.match(ctx, key, c.RuntimeStoreName()); cached != nil {
		c.revalidateLater(ctx, req, key)
		c.metrics.fetches.WithLabelValues(strategyStaleWhileRevalidate, "stale").Inc()
		log.Debugf("Serving stale copy, revalidating")
		return markCache(cached, CacheStale)
	}

	resp, err := c.fetch(ctx, req)
	if err != nil {
		c.metrics.fetches.WithLabelValues(strategyStaleWhileRevalidate, "offline").Inc()
		log.Infof("Fetch failed with nothing cached: %v", err)
		return networkErrorResponse(req)
	}

	if storable(resp) {
		c.storeLater(ctx, c.RuntimeStoreName(), key, resp)
	}
	c.metrics.fetches.WithLabelValues(strategyStaleWhileRevalidate, "miss").Inc()
	return markCache(resp, CacheMiss)
}

// revalidateLater refreshes the runtime store entry for key in the
// background. It outlives the request that triggered it.
func (c *Controller) revalidateLater(ctx context.Context, req *http.Request, key *http.Request) {
	out := outboundRequest(context.WithoutCancel(ctx), req)

	c.pending.Add(1)
	go func() {
		defer c.pending.Done()

		resp, err := c.fetcher.Do(out)
		if err != nil {
			logrus.Debugf("Revalidation of %s failed: %v", key.URL, err)
			return
		}
		defer func() { _ = resp.Body.Close() }()

		if !storable(resp) {
			logrus.Debugf("Revalidation of %s returned %d, keeping stale copy", key.URL, resp.StatusCode)
			return
		}
		if err := c.put(out.Context(), c.RuntimeStoreName(), key, resp); err != nil {
			c.metrics.storeErrors.Inc()
			logrus.Warnf("Failed to cache revalidated response for %s: %v", key.URL, err)
		}
	}()
}
