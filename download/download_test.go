package download

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// proxy serves body for every ?url= request and records the decoded urls.
func proxy(t *testing.T, status int, body func(remote string) string) (*httptest.Server, *[]string) {
	t.Helper()
	var mu sync.Mutex
	var seen []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		remote := r.URL.Query().Get("url")
		mu.Lock()
		seen = append(seen, remote)
		mu.Unlock()
		w.WriteHeader(status)
		w.Write([]byte(body(remote)))
	}))
	t.Cleanup(server.Close)
	return server, &seen
}

func TestDownloadSavesFile(t *testing.T) {
	server, seen := proxy(t, http.StatusOK, func(string) string { return "media-bytes" })
	fs := afero.NewMemMapFs()
	a := New(Options{ProxyURL: server.URL + "/api/proxy", Fs: fs, Dir: "/dl"})

	remote := "https://media.example/v.mp4?sig=a&b=c"
	path, err := a.Download(context.Background(), remote, "Demo_720p.mp4")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join("/dl", "Demo_720p.mp4"), path)
	data, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	assert.Equal(t, "media-bytes", string(data))
	assert.Equal(t, []string{remote}, *seen, "remote url must survive query escaping")
	assert.Equal(t, 0, a.Store().Len(), "transient handle must be revoked")
}

func TestDownloadEmptyBody(t *testing.T) {
	server, _ := proxy(t, http.StatusOK, func(string) string { return "" })
	fs := afero.NewMemMapFs()
	a := New(Options{ProxyURL: server.URL, Fs: fs, Dir: "/dl"})

	_, err := a.Download(context.Background(), "https://media.example/v.mp4", "v.mp4")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDownloadFailed)
	assert.ErrorIs(t, err, errEmptyBody)
	assert.Equal(t, 0, a.Store().Len())

	exists, _ := afero.Exists(fs, "/dl/v.mp4")
	assert.False(t, exists)
}

func TestDownloadProxyError(t *testing.T) {
	server, _ := proxy(t, http.StatusBadGateway, func(string) string { return `{"error":"proxy error: boom"}` })
	a := New(Options{ProxyURL: server.URL, Fs: afero.NewMemMapFs()})

	_, err := a.Download(context.Background(), "https://media.example/v.mp4", "v.mp4")

	var dlErr *Error
	require.ErrorAs(t, err, &dlErr)
	assert.Equal(t, "v.mp4", dlErr.Filename)
	assert.ErrorIs(t, err, ErrDownloadFailed)
}

func TestDownloadSaveFailureRevokesHandle(t *testing.T) {
	server, _ := proxy(t, http.StatusOK, func(string) string { return "x" })
	a := New(Options{ProxyURL: server.URL, Fs: afero.NewReadOnlyFs(afero.NewMemMapFs()), Dir: "/dl"})

	_, err := a.Download(context.Background(), "https://media.example/v.mp4", "v.mp4")
	assert.ErrorIs(t, err, ErrDownloadFailed)
	assert.Equal(t, 0, a.Store().Len())
}

func TestDownloadMissingURL(t *testing.T) {
	a := New(Options{ProxyURL: "http://127.0.0.1:1", Fs: afero.NewMemMapFs()})
	_, err := a.Download(context.Background(), " ", "v.mp4")
	assert.ErrorIs(t, err, ErrDownloadFailed)
}

func TestDownloadDoesNotOverwrite(t *testing.T) {
	server, _ := proxy(t, http.StatusOK, func(string) string { return "new" })
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/dl/v.mp4", []byte("old"), 0o644))
	a := New(Options{ProxyURL: server.URL, Fs: fs, Dir: "/dl"})

	path, err := a.Download(context.Background(), "https://media.example/v.mp4", "v.mp4")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/dl", "v (1).mp4"), path)

	old, _ := afero.ReadFile(fs, "/dl/v.mp4")
	assert.Equal(t, "old", string(old))
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	server, _ := proxy(t, http.StatusOK, func(string) string { return "bytes" })
	fs := afero.NewMemMapFs()
	a := New(Options{ProxyURL: server.URL, Fs: fs, Dir: "/dl"})

	_, err := a.Download(context.Background(), "https://media.example/v.mp4", "v.mp4")
	require.NoError(t, err)

	entries, err := afero.ReadDir(fs, "/dl")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "v.mp4", entries[0].Name())
}

func TestAtomicFileAbort(t *testing.T) {
	fs := afero.NewMemMapFs()
	f, err := newAtomicFile(fs, "/dl/v.mp4")
	require.NoError(t, err)
	_, err = f.Write([]byte("partial"))
	require.NoError(t, err)
	require.NoError(t, f.Abort())

	entries, err := afero.ReadDir(fs, "/dl")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFailedAssetDoesNotBlockOthers(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.URL.Query().Get("url") == "https://media.example/bad" {
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte(`{"error":"proxy error: upstream 500"}`))
			return
		}
		w.Write([]byte("good bytes"))
	}))
	t.Cleanup(server.Close)
	fs := afero.NewMemMapFs()
	a := New(Options{ProxyURL: server.URL, Fs: fs, Dir: "/dl"})

	for i := 0; i < 6; i++ {
		_, err := a.Download(context.Background(), "https://media.example/bad", "bad.mp4")
		require.ErrorIs(t, err, ErrDownloadFailed)
	}

	path, err := a.Download(context.Background(), "https://media.example/good", "good.mp4")
	require.NoError(t, err)
	data, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	assert.Equal(t, "good bytes", string(data))
	assert.Equal(t, int32(7), atomic.LoadInt32(&calls))
}

func TestConcurrentDownloadsAreIndependent(t *testing.T) {
	server, _ := proxy(t, http.StatusOK, func(remote string) string { return "bytes of " + remote })
	fs := afero.NewMemMapFs()
	a := New(Options{ProxyURL: server.URL, Fs: fs, Dir: "/dl"})

	var wg sync.WaitGroup
	paths := make([]string, 5)
	errs := make([]error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			paths[i], errs[i] = a.Download(context.Background(), fmt.Sprintf("https://media.example/%d", i), fmt.Sprintf("v%d.mp4", i))
		}(i)
	}
	wg.Wait()

	for i := 0; i < 5; i++ {
		require.NoError(t, errs[i])
		data, err := afero.ReadFile(fs, paths[i])
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("bytes of https://media.example/%d", i), string(data))
	}
	assert.Equal(t, 0, a.Store().Len())
}

func TestProxyLink(t *testing.T) {
	assert.Equal(t, "http://p/api/proxy?url=https%3A%2F%2Fm%2Fv%3Fa%3D1", ProxyLink("http://p/api/proxy", "https://m/v?a=1"))
	assert.Equal(t, "http://p/?k=1&url=x", ProxyLink("http://p/?k=1", "x"))
	assert.Equal(t, "raw", ProxyLink("", "raw"))
}

func TestObjectStore(t *testing.T) {
	s := NewObjectStore()
	h1 := s.Create([]byte("a"))
	h2 := s.Create([]byte("b"))
	assert.NotEqual(t, h1, h2)
	assert.Regexp(t, `^blob:[0-9a-f-]{36}$`, h1)
	assert.Equal(t, 2, s.Len())

	data, ok := s.Open(h2)
	assert.True(t, ok)
	assert.Equal(t, "b", string(data))

	s.Revoke(h1)
	s.Revoke(h1)
	_, ok = s.Open(h1)
	assert.False(t, ok)
	assert.Equal(t, 1, s.Len())
}

func TestSuggestFilename(t *testing.T) {
	tests := []struct {
		title, quality, ext, want string
	}{
		{"Demo", "720p", "mp4", "Demo_720p.mp4"},
		{"a/b: c?", "1080p", ".webm", "a_b_ c__1080p.webm"},
		{"", "", "", "video.mp4"},
		{"  ..hidden", "audio", "m4a", "hidden_audio.m4a"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SuggestFilename(tt.title, tt.quality, tt.ext), "title %q", tt.title)
	}
}
