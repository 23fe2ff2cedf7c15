package server

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"spectation/download"
	"spectation/resolver"
	"spectation/youtube"
)

const maxSearchResults = 50

type videoRequest struct {
	Action     string `json:"action" form:"action"`
	URL        string `json:"url" form:"url"`
	Query      string `json:"query" form:"query"`
	Quality    string `json:"quality" form:"quality"`
	MaxResults int    `json:"max_results" form:"max_results"`
}

func (s *Server) handleVideo(c *gin.Context) {
	var req videoRequest
	var err error
	if c.Request.Method == http.MethodPost {
		err = c.ShouldBindJSON(&req)
	} else {
		err = c.ShouldBindQuery(&req)
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, resolver.ErrorResponse{Error: "invalid JSON payload"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.RequestTimeout)
	defer cancel()

	switch strings.ToLower(strings.TrimSpace(req.Action)) {
	case "", "download":
		s.resolveVideo(ctx, c, req)
	case "search":
		s.search(ctx, c, req)
	case "playlist":
		s.playlist(ctx, c, req)
	default:
		c.JSON(http.StatusBadRequest, resolver.ErrorResponse{Error: "unknown action " + req.Action})
	}
}

func (s *Server) resolveVideo(ctx context.Context, c *gin.Context, req videoRequest) {
	target := strings.TrimSpace(req.URL)
	if !isHTTPURL(target) {
		c.JSON(http.StatusBadRequest, resolver.ErrorResponse{Error: "url is required"})
		return
	}
	quality := lo.Ternary(req.Quality != "", req.Quality, s.cfg.DefaultQuality)

	ext, err := s.extractor.Extract(ctx, target, quality)
	if err != nil {
		s.fail(c, "extract", err)
		return
	}

	proxy := s.proxyURL(c)
	v := ext.Video
	resp := resolver.ResolveResponse{
		Title:           v.Title,
		Thumbnail:       v.ThumbnailURL,
		Duration:        float64(v.DurationSeconds),
		VideoURL:        download.ProxyLink(proxy, ext.VideoURL),
		DirectVideoURL:  ext.VideoURL,
		DirectAudioURL:  ext.AudioURL,
		SeparateStreams: ext.SeparateStream,
		Quality:         ext.Quality(),
		Uploader:        v.Uploader,
		ViewCount:       v.ViewCount,
		Description:     v.Description,
		UploadDate:      v.UploadDateRaw,
		Formats:         lo.Map(v.Catalog, func(d youtube.FormatDescriptor, _ int) resolver.Format { return resolver.FormatFrom(d) }),
		Channel:         ext.Channel,
	}
	if ext.AudioURL != "" {
		resp.AudioURL = download.ProxyLink(proxy, ext.AudioURL)
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) search(ctx context.Context, c *gin.Context, req videoRequest) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		c.JSON(http.StatusBadRequest, resolver.ErrorResponse{Error: "query is required"})
		return
	}
	limit := req.MaxResults
	if limit <= 0 {
		limit = s.cfg.MaxResults
	}
	limit = min(limit, maxSearchResults)

	var items []youtube.SearchResultItem
	err := s.withSearcher(func(sr Searcher) (err error) {
		items, err = sr.Search(ctx, query, limit)
		return err
	})
	if err != nil {
		s.fail(c, "search", err)
		return
	}

	results := lo.Map(items, func(it youtube.SearchResultItem, _ int) resolver.Item { return resolver.ItemFrom(it) })
	c.JSON(http.StatusOK, resolver.SearchResponse{Results: results, Count: len(results)})
}

func (s *Server) playlist(ctx context.Context, c *gin.Context, req videoRequest) {
	target := strings.TrimSpace(req.URL)
	if !isHTTPURL(target) {
		c.JSON(http.StatusBadRequest, resolver.ErrorResponse{Error: "url is required"})
		return
	}

	var pl *youtube.Playlist
	err := s.withSearcher(func(sr Searcher) (err error) {
		pl, err = sr.Playlist(ctx, target)
		return err
	})
	if err != nil {
		s.fail(c, "playlist", err)
		return
	}

	videos := lo.Map(pl.Items, func(it youtube.PlaylistItem, _ int) resolver.Item { return resolver.ItemFrom(it) })
	c.JSON(http.StatusOK, resolver.PlaylistResponse{Title: pl.Title, Videos: videos, Count: len(videos)})
}

// withSearcher runs fn against the API searcher when one is configured and
// retries on the extractor once the API quota is spent.
func (s *Server) withSearcher(fn func(Searcher) error) error {
	if s.searcher != nil {
		err := fn(s.searcher)
		if !errors.Is(err, youtube.ErrQuotaExhausted) {
			return err
		}
		s.logger.Warn("api quota exhausted, falling back to yt-dlp")
	}
	return fn(s.extractor)
}

func (s *Server) fail(c *gin.Context, op string, err error) {
	status, msg := describe(err)
	s.logger.Warn(op+" failed", "status", status, "error", err, "request_id", c.GetString(requestIDKey))
	c.JSON(status, resolver.ErrorResponse{Error: msg})
}

// describe maps an extraction error to a status and a message fit for end
// users.
func describe(err error) (int, string) {
	switch {
	case errors.Is(err, youtube.ErrInvalidInput):
		return http.StatusBadRequest, "invalid video link"
	case errors.Is(err, youtube.ErrVideoNotFound):
		return http.StatusNotFound, "video not found or unavailable"
	case errors.Is(err, youtube.ErrRateLimited), errors.Is(err, youtube.ErrQuotaExhausted):
		return http.StatusTooManyRequests, "too many requests, try again later"
	case errors.Is(err, youtube.ErrNetworkTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "the video site took too long to answer"
	case errors.Is(err, youtube.ErrYtdlpNotInstalled):
		return http.StatusServiceUnavailable, "extraction backend is not available"
	default:
		return http.StatusInternalServerError, "could not load the video, check the link and try again"
	}
}

// proxyURL is the absolute proxy endpoint handed back to clients.
func (s *Server) proxyURL(c *gin.Context) string {
	if s.cfg.PublicProxyURL != "" {
		return s.cfg.PublicProxyURL
	}
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	if fwd := c.GetHeader("X-Forwarded-Proto"); fwd != "" {
		scheme = fwd
	}
	return scheme + "://" + c.Request.Host + "/api/proxy"
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}
