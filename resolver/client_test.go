package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spectation/youtube"
)

func mustRef(t *testing.T, raw string) youtube.VideoReference {
	t.Helper()
	ref, err := youtube.NormalizeReference(raw)
	require.NoError(t, err)
	return ref
}

func backend(t *testing.T, status int, body string, check func(map[string]interface{})) (*Client, *int32) {
	t.Helper()
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, http.MethodPost, r.Method)
		var req map[string]interface{}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if check != nil {
			check(req)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return New(Options{Endpoint: server.URL}), &calls
}

func TestResolveWithFormats(t *testing.T) {
	body := `{
		"title": "Demo", "thumbnail": "thumb.jpg", "duration": 212.0, "uploader": "Up", "view_count": 7,
		"description": "desc", "upload_date": "20240102", "quality": "720p",
		"formats": [
			{"quality": "360p", "height": 360, "url": "u360", "ext": "mp4"},
			{"quality": "720p", "height": 720, "url": "v720", "has_audio": false, "has_video": true},
			{"quality": "audio", "url": "a128", "has_audio": true, "has_video": false, "bitrate": 128}
		]
	}`
	c, calls := backend(t, http.StatusOK, body, func(req map[string]interface{}) {
		assert.Equal(t, "download", req["action"])
		assert.Equal(t, "https://www.youtube.com/watch?v=abc123", req["url"])
		assert.Equal(t, "720p", req["quality"])
	})

	ref := mustRef(t, "https://youtu.be/abc123")
	v, err := c.Resolve(context.Background(), ref, "720p")
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(calls))
	assert.Equal(t, "Demo", v.Title)
	assert.Equal(t, 212, v.DurationSeconds)
	assert.Equal(t, "20240102", v.UploadDateRaw)
	assert.Equal(t, ref, v.Ref)
	assert.Len(t, v.Catalog, 3)
	assert.True(t, v.Catalog[0].Muxed(), "flags default to muxed when height is known")
	assert.True(t, v.Catalog[2].AudioOnly())

	assert.True(t, v.Rendition.IsDemuxed)
	assert.Equal(t, "v720", v.Rendition.PlaybackURL)
	assert.Equal(t, "a128", v.Rendition.DownloadAudioURL)
	assert.Equal(t, "720p", v.Rendition.EffectiveQuality)
}

func TestResolveSynthesizesCatalog(t *testing.T) {
	body := `{"title":"T","direct_video_url":"dv","direct_audio_url":"da","video_url":"pv","separate_streams":true,"quality":"480p"}`
	c, _ := backend(t, http.StatusOK, body, nil)

	v, err := c.Resolve(context.Background(), mustRef(t, "https://youtu.be/abc123"), "1080p")
	require.NoError(t, err)

	assert.Equal(t, "dv", v.Rendition.DownloadVideoURL)
	assert.Equal(t, "da", v.Rendition.DownloadAudioURL)
	assert.True(t, v.Rendition.IsDemuxed)
	assert.Equal(t, "480p", v.Rendition.EffectiveQuality)
	assert.True(t, v.Rendition.QualityChanged("1080p"))
}

func TestResolveMuxedFallbackToProxyURL(t *testing.T) {
	c, _ := backend(t, http.StatusOK, `{"title":"T","video_url":"pv","quality":"?p"}`, nil)

	v, err := c.Resolve(context.Background(), mustRef(t, "https://youtu.be/abc123"), "720p")
	require.NoError(t, err)
	assert.False(t, v.Rendition.IsDemuxed)
	assert.Equal(t, "pv", v.Rendition.PlaybackURL)
}

func TestResolveEmptyCatalog(t *testing.T) {
	c, _ := backend(t, http.StatusOK, `{"title":"T","formats":[]}`, nil)

	_, err := c.Resolve(context.Background(), mustRef(t, "https://youtu.be/abc123"), "720p")
	require.Error(t, err)
	assert.ErrorIs(t, err, youtube.ErrNoFormatsAvailable)
	assert.NotErrorIs(t, err, ErrUpstreamFailure)
}

func TestResolveBackendMessage(t *testing.T) {
	c, calls := backend(t, http.StatusInternalServerError, `{"error":"Video is private"}`, nil)

	_, err := c.Resolve(context.Background(), mustRef(t, "https://youtu.be/abc123"), "720p")

	var upErr *UpstreamError
	require.ErrorAs(t, err, &upErr)
	assert.Equal(t, "Video is private", upErr.Message)
	assert.Equal(t, http.StatusInternalServerError, upErr.Status)
	assert.ErrorIs(t, err, ErrUpstreamFailure)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Equal(t, int32(1), atomic.LoadInt32(calls), "no automatic retries")
}

func TestResolveGenericMessage(t *testing.T) {
	c, _ := backend(t, http.StatusBadGateway, `<html>bad gateway</html>`, nil)

	_, err := c.Resolve(context.Background(), mustRef(t, "https://youtu.be/abc123"), "720p")

	var upErr *UpstreamError
	require.ErrorAs(t, err, &upErr)
	assert.Equal(t, "resolution failed", upErr.Message)
}

func TestResolveNotFound(t *testing.T) {
	c, _ := backend(t, http.StatusNotFound, `{"error":"no such video"}`, nil)

	_, err := c.Resolve(context.Background(), mustRef(t, "https://youtu.be/abc123"), "720p")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, ErrUpstreamFailure)
}

func TestResolveMalformedBody(t *testing.T) {
	c, _ := backend(t, http.StatusOK, `not json`, nil)

	_, err := c.Resolve(context.Background(), mustRef(t, "https://youtu.be/abc123"), "720p")
	var upErr *UpstreamError
	require.ErrorAs(t, err, &upErr)
	assert.Equal(t, "resolution failed", upErr.Message)
}

func TestResolveUnreachableBackend(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	endpoint := server.URL
	server.Close()

	c := New(Options{Endpoint: endpoint})
	_, err := c.Resolve(context.Background(), mustRef(t, "https://youtu.be/abc123"), "720p")

	var upErr *UpstreamError
	require.ErrorAs(t, err, &upErr)
	assert.Equal(t, 0, upErr.Status)
	assert.Equal(t, "resolution failed", upErr.Message)
}

func TestResolveRejectsPlaylistRef(t *testing.T) {
	c, calls := backend(t, http.StatusOK, `{}`, nil)

	_, err := c.Resolve(context.Background(), mustRef(t, "https://www.youtube.com/playlist?list=PL1"), "720p")
	assert.ErrorIs(t, err, youtube.ErrInvalidInput)
	assert.Equal(t, int32(0), atomic.LoadInt32(calls))
}

func TestSearch(t *testing.T) {
	body := `{"results":[
		{"id":"a1","title":"First","url":"https://www.youtube.com/watch?v=a1","thumbnail":"t1","duration":61.0,"uploader":"U","view_count":3},
		{"id":"b2","title":"Second","thumbnail":"t2","duration":5,"uploader":"V"}
	],"count":2}`
	c, _ := backend(t, http.StatusOK, body, func(req map[string]interface{}) {
		assert.Equal(t, "search", req["action"])
		assert.Equal(t, "lofi beats", req["query"])
		assert.EqualValues(t, 12, req["max_results"])
	})

	items, err := c.Search(context.Background(), "  lofi beats ", 12)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "a1", items[0].ID)
	assert.Equal(t, 61, items[0].DurationSeconds)
	assert.Equal(t, int64(3), items[0].ViewCount)
	assert.Equal(t, "https://www.youtube.com/watch?v=b2", items[1].SourceURL)
}

func TestSearchEmptyQuery(t *testing.T) {
	c, calls := backend(t, http.StatusOK, `{}`, nil)

	_, err := c.Search(context.Background(), "   ", 10)
	assert.True(t, errors.Is(err, youtube.ErrEmptyInput))
	assert.Equal(t, int32(0), atomic.LoadInt32(calls))
}

func TestListPlaylist(t *testing.T) {
	body := `{"playlist_title":"Mix","videos":[{"id":"a1","title":"A"},{"id":"b2","title":"B"}],"count":2}`
	c, _ := backend(t, http.StatusOK, body, func(req map[string]interface{}) {
		assert.Equal(t, "playlist", req["action"])
		assert.Equal(t, "https://www.youtube.com/playlist?list=PL1", req["url"])
	})

	pl, err := c.ListPlaylist(context.Background(), mustRef(t, "https://www.youtube.com/playlist?list=PL1"))
	require.NoError(t, err)
	assert.Equal(t, "Mix", pl.Title)
	require.Len(t, pl.Items, 2)
	assert.Equal(t, "b2", pl.Items[1].ID)
}

func TestListPlaylistRejectsVideoRef(t *testing.T) {
	c, _ := backend(t, http.StatusOK, `{}`, nil)

	_, err := c.ListPlaylist(context.Background(), mustRef(t, "https://youtu.be/abc123"))
	assert.ErrorIs(t, err, youtube.ErrInvalidInput)
}

func TestFormatRoundTripKeepsFlags(t *testing.T) {
	d := youtube.FormatDescriptor{QualityLabel: "720p", HeightPx: 720, RemoteURL: "u", HasVideo: true}
	assert.Equal(t, d, FormatFrom(d).descriptor())
}

func TestResolveFailuresDoNotAffectLaterCalls(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		switch {
		case n <= 5 && n%2 == 0:
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":"Backend busy"}`))
		case n <= 5:
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error":"Sign in to confirm your age"}`))
		default:
			w.Write([]byte(`{"title":"Fine","direct_video_url":"https://media.test/v","quality":"720p"}`))
		}
	}))
	t.Cleanup(server.Close)
	c := New(Options{Endpoint: server.URL})

	for i := 1; i <= 5; i++ {
		_, err := c.Resolve(context.Background(), mustRef(t, "https://youtu.be/bad1"), "720p")
		var upErr *UpstreamError
		require.ErrorAs(t, err, &upErr, "call %d", i)
		if i%2 == 0 {
			assert.Equal(t, "Backend busy", upErr.Message)
		} else {
			assert.Equal(t, "Sign in to confirm your age", upErr.Message)
		}
	}

	v, err := c.Resolve(context.Background(), mustRef(t, "https://youtu.be/good2"), "720p")
	require.NoError(t, err)
	assert.Equal(t, "Fine", v.Title)
	assert.Equal(t, int32(6), atomic.LoadInt32(&calls), "every call reaches the backend")
}
