package httpcache

import (
	"context"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/travelplan/shellcache/internal/cache"
)

func fixture_store(t *testing.T) *Store {
	t.Helper()
	storage := cache.NewDisk(t.TempDir())
	require.NoError(t, storage.Init())

	store, err := Open(context.Background(), storage, "tp-md-static-v1")
	require.NoError(t, err)
	return store
}

func TestGenerateKey(t *testing.T) {
	tests := []struct {
		name      string
		targetURL string
		method    string
		want      string
	}{
		{
			name:      "simple URL",
			targetURL: "https://example.com/api/users",
			method:    "GET",
			want:      "https/example.com/api/users/GET.bin",
		},
		{
			name:      "URL with query params",
			targetURL: "https://api.github.com/users?page=1",
			method:    "GET",
			want:      "https/api.github.com/users/GET_qc5c34f0fdf091a49d75cc51b4f64ab34cbae49cf4914bb0a0a1c0c599b7a4373.bin",
		},
		{
			name:      "root path",
			targetURL: "https://example.com/",
			method:    "GET",
			want:      "https/example.com/GET.bin",
		},
		{
			name:      "default port is dropped",
			targetURL: "http://example.com:80/index.html",
			method:    "GET",
			want:      "http/example.com/index.html/GET.bin",
		},
		{
			name:      "dot segments cannot escape",
			targetURL: "https://example.com/a/../../../etc/passwd",
			method:    "GET",
			want:      "https/example.com/etc/passwd/GET.bin",
		},
		{
			name:      "trailing slash",
			targetURL: "https://travel.example/plan/trips/",
			method:    "GET",
			want:      "https/travel.example/plan/trips/GET_dir.bin",
		},
		{
			name:      "escaped slash stays escaped",
			targetURL: "https://travel.example/a%2Fb",
			method:    "GET",
			want:      "https/travel.example/a%2Fb/GET.bin",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, tt.targetURL, nil)
			require.NoError(t, err)

			got, err := GenerateKey(req)
			require.NoError(t, err)
			assert.Equal(t, filepath.FromSlash(tt.want), got)
		})
	}
}

func TestGenerateKeyDistinguishesURLs(t *testing.T) {
	pairs := [][2]string{
		{"https://travel.example/plan/trips/", "https://travel.example/plan/trips"},
		{"https://travel.example/a%2Fb", "https://travel.example/a/b"},
		{"https://travel.example/search?q=paris", "https://travel.example/search?q=rome"},
		{"https://travel.example/search?q=paris", "https://travel.example/search"},
	}

	for _, pair := range pairs {
		t.Run(pair[0]+" "+pair[1], func(t *testing.T) {
			a, err := http.NewRequest("GET", pair[0], nil)
			require.NoError(t, err)
			b, err := http.NewRequest("GET", pair[1], nil)
			require.NoError(t, err)

			keyA, err := GenerateKey(a)
			require.NoError(t, err)
			keyB, err := GenerateKey(b)
			require.NoError(t, err)
			assert.NotEqual(t, keyA, keyB)
		})
	}
}

func TestStoreKeepsTrailingSlashEntriesApart(t *testing.T) {
	ctx := context.Background()
	store := fixture_store(t)

	dir, err := http.NewRequest("GET", "https://travel.example/plan/trips/", nil)
	require.NoError(t, err)
	file, err := http.NewRequest("GET", "https://travel.example/plan/trips", nil)
	require.NoError(t, err)

	require.NoError(t, store.Put(ctx, dir, &http.Response{
		StatusCode: http.StatusOK,
		ProtoMajor: 1,
		ProtoMinor: 1,
		Body:       io.NopCloser(strings.NewReader("trip list")),
		Header:     http.Header{},
	}))

	cached, err := store.Match(ctx, file)
	require.NoError(t, err)
	assert.Nil(t, cached)
}

func TestGenerateKeyIgnoresHeaders(t *testing.T) {
	a, _ := http.NewRequest("GET", "https://travel.example/app.js", nil)
	b, _ := http.NewRequest("GET", "https://travel.example/app.js", nil)
	b.Header.Set("Accept-Language", "zh-TW")

	keyA, err := GenerateKey(a)
	require.NoError(t, err)
	keyB, err := GenerateKey(b)
	require.NoError(t, err)
	assert.Equal(t, keyA, keyB)
}

func TestGenerateKeyRelativeURL(t *testing.T) {
	req := &http.Request{Method: "GET", URL: nil}
	_, err := GenerateKey(req)
	assert.Error(t, err)
}

func TestStorePutAndMatch(t *testing.T) {
	ctx := context.Background()
	store := fixture_store(t)

	req, err := http.NewRequest("GET", "https://travel.example/index.html", nil)
	require.NoError(t, err)

	testData := "<!doctype html><title>Travel Plan</title>"
	resp := &http.Response{
		StatusCode: http.StatusOK,
		ProtoMajor: 1,
		ProtoMinor: 1,
		Body:       io.NopCloser(strings.NewReader(testData)),
		Header:     http.Header{"Content-Type": []string{"text/html"}},
	}

	require.NoError(t, store.Put(ctx, req, resp))

	// the caller can still read the response after storing it
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, testData, string(body))

	cached, err := store.Match(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, cached)
	defer func() { _ = cached.Body.Close() }()

	assert.Equal(t, http.StatusOK, cached.StatusCode)
	assert.Equal(t, "text/html", cached.Header.Get("Content-Type"))
	assert.Same(t, req, cached.Request)

	cachedData, err := io.ReadAll(cached.Body)
	require.NoError(t, err)
	assert.Equal(t, testData, string(cachedData))
}

func TestStoreMatchMiss(t *testing.T) {
	store := fixture_store(t)

	req, err := http.NewRequest("GET", "https://travel.example/missing.css", nil)
	require.NoError(t, err)

	cached, err := store.Match(context.Background(), req)
	assert.NoError(t, err)
	assert.Nil(t, cached)
}

func TestDeserializeInvalid(t *testing.T) {
	_, err := Deserialize([]byte("short"))
	assert.Error(t, err)

	_, err = Deserialize([]byte(PREFIX + "not a response"))
	assert.Error(t, err)
}
