package worker

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"strings"
)

// IsNavigation reports whether req loads a top-level document.
// Fetch metadata is authoritative; clients that send none are judged by
// whether they accept HTML.
func IsNavigation(req *http.Request) bool {
	if mode := req.Header.Get("Sec-Fetch-Mode"); mode != "" {
		return strings.EqualFold(mode, "navigate")
	}
	return strings.Contains(req.Header.Get("Accept"), "text/html")
}

// requestURL returns the absolute URL of req, rebuilding it from the Host
// header for origin-form requests
func requestURL(req *http.Request) *url.URL {
	if req.URL.IsAbs() {
		return req.URL
	}

	u := *req.URL
	u.Scheme = "http"
	if req.TLS != nil {
		u.Scheme = "https"
	}
	u.Host = req.Host
	return &u
}

func getTargetURL(req *http.Request) string {
	return requestURL(req).String()
}

// origin serializes scheme, host and port, filling in default ports
func origin(u *url.URL) string {
	scheme := strings.ToLower(u.Scheme)
	port := u.Port()
	if port == "" {
		switch scheme {
		case "http":
			port = "80"
		case "https":
			port = "443"
		}
	}
	return scheme + "://" + net.JoinHostPort(strings.ToLower(u.Hostname()), port)
}

func sameOrigin(a, b *url.URL) bool {
	return origin(a) == origin(b)
}

// inScope reports whether u is below the base path of scope.
// The path is compared as a plain prefix of the escaped path.
func inScope(u, scope *url.URL) bool {
	base := scope.EscapedPath()
	if base == "" {
		base = "/"
	}
	p := u.EscapedPath()
	if p == "" {
		p = "/"
	}
	return strings.HasPrefix(p, base)
}

// keyRequest builds the request identity a response is stored under
func keyRequest(u *url.URL) *http.Request {
	return &http.Request{
		Method: http.MethodGet,
		URL:    u,
		Header: make(http.Header),
	}
}

// outboundRequest prepares an intercepted request to be sent to the network
func outboundRequest(ctx context.Context, req *http.Request) *http.Request {
	out := req.Clone(ctx)
	out.URL = requestURL(req)
	out.RequestURI = ""
	out.Header.Del("Proxy-Connection")
	return out
}
