package worker

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// CacheHeader tells clients where a response came from
const CacheHeader = "X-Cache"

const (
	CacheHit      = "HIT"
	CacheMiss     = "MISS"
	CacheStale    = "STALE"
	CacheFallback = "FALLBACK"
	CacheOffline  = "OFFLINE"
)

// storable reports whether a fetched response may be persisted
func storable(resp *http.Response) bool {
	return resp.StatusCode == http.StatusOK
}

// bufferBody reads the whole body so the response can be both stored and returned
func bufferBody(resp *http.Response) error {
	if resp.Body == nil {
		resp.Body = http.NoBody
		return nil
	}
	body, err := io.ReadAll(resp.Body)
	closeErr := resp.Body.Close()
	if err != nil {
		return err
	}
	if closeErr != nil {
		return closeErr
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	return nil
}

// cloneResponse copies a buffered response. The clone's body is
// independent from the original's.
func cloneResponse(resp *http.Response) (*http.Response, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))

	clone := *resp
	clone.Header = resp.Header.Clone()
	clone.Body = io.NopCloser(bytes.NewReader(body))
	return &clone, nil
}

func markCache(resp *http.Response, status string) *http.Response {
	if resp.Header == nil {
		resp.Header = make(http.Header)
	}
	resp.Header.Set(CacheHeader, status)
	return resp
}

func newTextResponse(req *http.Request, code int, body string) *http.Response {
	return &http.Response{
		Status:     fmt.Sprintf("%d %s", code, http.StatusText(code)),
		StatusCode: code,
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header: http.Header{
			"Content-Type":  []string{"text/plain; charset=utf-8"},
			"Cache-Control": []string{"no-store"},
		},
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}

// offlineResponse is served when neither the network nor the cache can answer
func offlineResponse(req *http.Request) *http.Response {
	return markCache(newTextResponse(req, http.StatusServiceUnavailable, "Offline"), CacheOffline)
}

// networkErrorResponse is the generic failure of a cross-origin request
func networkErrorResponse(req *http.Request) *http.Response {
	return markCache(newTextResponse(req, http.StatusBadGateway, "Network error"), CacheOffline)
}
