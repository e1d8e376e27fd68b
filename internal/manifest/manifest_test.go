package manifest

import (
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "assets.yaml")
	content := `
assets:
  - ./
  - ./index.html
  - ./icon-192.png
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	m, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"./", "./index.html", "./icon-192.png"}, m.Assets)
}

func TestLoadRejectsAbsoluteAssets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "assets.yaml")
	require.NoError(t, os.WriteFile(path, []byte("assets: [\"https://cdn.example/app.js\"]\n"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		assets  []string
		wantErr bool
	}{
		{name: "default shell", assets: Default().Assets},
		{name: "empty list", assets: nil, wantErr: true},
		{name: "blank entry", assets: []string{"./", " "}, wantErr: true},
		{name: "root relative", assets: []string{"/index.html"}, wantErr: true},
		{name: "protocol relative", assets: []string{"//cdn.example/x.js"}, wantErr: true},
		{name: "bare file name", assets: []string{"index.html"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.assets).Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestResolve(t *testing.T) {
	scope, err := url.Parse("https://travel.example/plan/")
	require.NoError(t, err)

	urls, err := Default().Resolve(scope)
	require.NoError(t, err)

	got := make([]string, 0, len(urls))
	for _, u := range urls {
		got = append(got, u.String())
	}
	assert.Equal(t, []string{
		"https://travel.example/plan/",
		"https://travel.example/plan/index.html",
		"https://travel.example/plan/manifest.webmanifest",
		"https://travel.example/plan/sw.js",
	}, got)
}
