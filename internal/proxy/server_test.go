package proxy

import (
	"crypto/tls"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/travelplan/shellcache/internal/config"
	"github.com/travelplan/shellcache/internal/worker"
)

func fixture_shell_upstream() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, requ *http.Request) {
		switch requ.URL.Path {
		case "/", "/index.html":
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte("<html>shell</html>"))
		case "/manifest.webmanifest", "/sw.js":
			_, _ = w.Write([]byte(requ.URL.Path))
		default:
			http.NotFound(w, requ)
		}
	}))
}

func fixture_server(t *testing.T, upstreamURL string) (*Server, *httptest.Server) {
	t.Helper()

	cfg := config.Default()
	cfg.Worker.Scope = upstreamURL + "/"
	cfg.Storage.Backend = config.BackendMemory
	require.NoError(t, cfg.Validate())

	server, err := New(&cfg)
	require.NoError(t, err)

	proxyTestServer := httptest.NewServer(server.GetProxy())
	t.Cleanup(proxyTestServer.Close)
	t.Cleanup(server.Controller().Wait)
	return server, proxyTestServer
}

func proxyClient(proxyURL string) *http.Client {
	u, _ := url.Parse(proxyURL)
	return &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyURL(u),
		},
		Timeout: 10 * time.Second,
	}
}

func TestNew(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Backend = config.BackendMemory

	server, err := New(&cfg)
	require.NoError(t, err)
	assert.Equal(t, "tp-md-static-v1", server.Controller().StaticStoreName())
	assert.NotNil(t, server.GetProxy())
}

func TestNewInvalidBackend(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Backend = "tape"

	_, err := New(&cfg)
	assert.Error(t, err)
}

func TestInitActivatesController(t *testing.T) {
	upstream := fixture_shell_upstream()
	defer upstream.Close()

	server, _ := fixture_server(t, upstream.URL)
	require.NoError(t, server.Init(t.Context()))
	assert.Equal(t, worker.StateActivated, server.Controller().State())
}

func TestInitWithUnreachableOrigin(t *testing.T) {
	upstream := fixture_shell_upstream()
	upstream.Close()

	server, _ := fixture_server(t, upstream.URL)

	// the proxy still starts, uncached
	require.NoError(t, server.Init(t.Context()))
	assert.Equal(t, worker.StateRedundant, server.Controller().State())
}

func TestRequestsPassThroughWhenNotActivated(t *testing.T) {
	upstream := fixture_shell_upstream()
	defer upstream.Close()

	_, proxyTestServer := fixture_server(t, upstream.URL)
	client := proxyClient(proxyTestServer.URL)

	resp, err := client.Get(upstream.URL + "/index.html")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, resp.Header.Get(worker.CacheHeader))
}

func TestInterceptedRequestIsServedFromCache(t *testing.T) {
	upstream := fixture_shell_upstream()
	defer upstream.Close()

	server, proxyTestServer := fixture_server(t, upstream.URL)
	require.NoError(t, server.Init(t.Context()))
	client := proxyClient(proxyTestServer.URL)

	resp, err := client.Get(upstream.URL + "/sw.js")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, worker.CacheHit, resp.Header.Get(worker.CacheHeader))
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "/sw.js", string(body))
}

func TestAdminEndpoints(t *testing.T) {
	upstream := fixture_shell_upstream()
	defer upstream.Close()

	server, proxyTestServer := fixture_server(t, upstream.URL)
	require.NoError(t, server.Storage().Init())

	t.Run("health before install", func(t *testing.T) {
		resp, err := http.Get(proxyTestServer.URL + "/-/healthz")
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()

		var health map[string]string
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
		assert.Equal(t, "parsed", health["state"])
		assert.Equal(t, "v1", health["version"])
	})

	t.Run("activate before install conflicts", func(t *testing.T) {
		resp, err := http.Post(proxyTestServer.URL+"/-/activate", "application/json", nil)
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("install", func(t *testing.T) {
		resp, err := http.Post(proxyTestServer.URL+"/-/install", "application/json", nil)
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	})

	t.Run("activate", func(t *testing.T) {
		resp, err := http.Post(proxyTestServer.URL+"/-/activate", "application/json", nil)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var activated activateResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&activated))
		assert.Empty(t, activated.Deleted)
	})

	t.Run("stores", func(t *testing.T) {
		resp, err := http.Get(proxyTestServer.URL + "/-/stores")
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()

		var stores storesResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&stores))
		assert.Equal(t, "activated", stores.State)
		assert.Equal(t, "tp-md-static-v1", stores.Static)
		assert.Equal(t, []string{"tp-md-static-v1"}, stores.Stores)
	})

	t.Run("metrics", func(t *testing.T) {
		resp, err := http.Get(proxyTestServer.URL + "/metrics")
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()

		body, _ := io.ReadAll(resp.Body)
		assert.True(t, strings.Contains(string(body), `shellcache_worker_install_total{result="success"} 1`))
	})
}

func TestShutdownBeforeStartStopsServing(t *testing.T) {
	upstream := fixture_shell_upstream()
	defer upstream.Close()

	server, _ := fixture_server(t, upstream.URL)
	require.NoError(t, server.Shutdown(t.Context()))

	done := make(chan error, 1)
	go func() {
		done <- server.Start()
	}()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start kept serving after Shutdown")
	}
}

func TestCertStoreCachesCertificates(t *testing.T) {
	store := newCertStore()
	calls := 0
	gen := func() (*tls.Certificate, error) {
		calls++
		return &tls.Certificate{}, nil
	}

	first, err := store.Fetch("cdn.example", gen)
	require.NoError(t, err)
	second, err := store.Fetch("cdn.example", gen)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, calls)
}
