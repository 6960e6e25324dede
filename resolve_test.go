package mediakit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolver_Local(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "in.mp4")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	r := &Resolver{TempDir: dir}

	tests := []struct {
		name string
		uri  string
	}{
		{"plain path", path},
		{"file uri", "file://" + filepath.ToSlash(path)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			local, cleanup, err := r.Resolve(context.Background(), tt.uri)
			require.NoError(t, err)
			defer cleanup()
			assert.Equal(t, path, filepath.FromSlash(local))
		})
	}
}

func TestResolver_Download(t *testing.T) {
	payload := []byte("fake media payload")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path != "/media/clip.mp4" {
			http.NotFound(w, req)
			return
		}
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	dir := t.TempDir()
	r := &Resolver{TempDir: dir}

	local, cleanup, err := r.Resolve(context.Background(), srv.URL+"/media/clip.mp4")
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(local))
	assert.Equal(t, ".mp4", filepath.Ext(local))
	got, err := os.ReadFile(local)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	cleanup()
	assertNoFile(t, local)

	_, cleanup, err = r.Resolve(context.Background(), srv.URL+"/missing.mp4")
	assert.True(t, errors.Is(err, ErrIO))
	assert.NotNil(t, cleanup)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestResolver_Errors(t *testing.T) {
	r := &Resolver{TempDir: t.TempDir()}
	tests := []struct {
		name string
		uri  string
		want error
	}{
		{"empty", "", ErrInvalidArgument},
		{"missing file", filepath.Join(t.TempDir(), "nope.mp4"), ErrIO},
		{"unsupported scheme", "ftp://example.com/a.mp4", ErrIO},
		{"unreachable host", "http://127.0.0.1:1/a.mp4", ErrIO},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, cleanup, err := r.Resolve(context.Background(), tt.uri)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
			assert.NotNil(t, cleanup)
		})
	}
}
