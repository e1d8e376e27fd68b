package tests

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"time"

	"github.com/travelplan/shellcache/internal/config"
	"github.com/travelplan/shellcache/internal/proxy"
)

// fixture_upstream creates a test origin serving the travel plan app.
// Every page answers with the app shell, like a single page app would.
func fixture_upstream(version string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, requ *http.Request) {
		switch requ.URL.Path {
		case "/manifest.webmanifest":
			w.Header().Set("Content-Type", "application/manifest+json")
			_, _ = w.Write([]byte(`{"name": "Travel Plan"}`))
		case "/sw.js", "/app.js":
			w.Header().Set("Content-Type", "text/javascript")
			_, _ = fmt.Fprintf(w, "// %s %s", requ.URL.Path, version)
		case "/trips":
			http.Redirect(w, requ, "/trips/", http.StatusMovedPermanently)
		case "/echo":
			_, _ = w.Write([]byte(requ.Method))
		default:
			w.Header().Set("Content-Type", "text/html")
			_, _ = fmt.Fprintf(w, "<html>travel plan %s</html>", version)
		}
	}))
}

// fixture_cdn creates a test server on another origin than the app
func fixture_cdn() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, requ *http.Request) {
		w.Header().Set("Content-Type", "text/css")
		_, _ = w.Write([]byte("body { margin: 0 }"))
	}))
}

// fixture_config creates a test config scoped to the upstream, with disk
// storage in folder
func fixture_config(upstreamURL, folder, version string) *config.Config {
	cfg := config.Default()
	cfg.Server.Port = 0 // Will be set by test server
	cfg.Worker.Scope = upstreamURL + "/"
	cfg.Worker.VersionTag = version
	cfg.Storage.Backend = config.BackendDisk
	cfg.Storage.Folder = folder
	cfg.Network.Timeout = "2s"
	return &cfg
}

// fixture_proxy creates and initializes a proxy server with the given config
// and returns the server, test server, and HTTP client
func fixture_proxy(cfg *config.Config) (*proxy.Server, *httptest.Server, *http.Client, error) {
	proxyServer, err := proxy.New(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := proxyServer.Init(context.Background()); err != nil {
		return nil, nil, nil, err
	}

	// Create test proxy HTTP server using goproxy
	proxyTestServer := httptest.NewServer(proxyServer.GetProxy())

	// Create HTTP client that uses our proxy
	proxyURL, _ := url.Parse(proxyTestServer.URL)
	client := &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyURL(proxyURL),
		},
		Timeout: 10 * time.Second,
	}

	return proxyServer, proxyTestServer, client, nil
}

// navigate issues a top-level page load through client
func navigate(client *http.Client, target string) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	return client.Do(req)
}
