// Package server is the extraction backend and byte proxy that the resolver
// and download packages talk to. It answers POST /api/video with metadata,
// search results or playlist entries produced by yt-dlp (or the YouTube Data
// API for search), and relays media bytes through GET /api/proxy.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
	"github.com/rs/cors"

	shttp "spectation/http"
	"spectation/youtube"
)

// BrowserUserAgent is sent to media hosts by the proxy.
const BrowserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"

// Searcher lists search hits and playlist entries.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]youtube.SearchResultItem, error)
	Playlist(ctx context.Context, playlistURL string) (*youtube.Playlist, error)
}

// Extractor resolves a video page into stream URLs. It can also search and
// list playlists when no dedicated Searcher is configured.
type Extractor interface {
	Searcher
	Extract(ctx context.Context, videoURL, quality string) (*youtube.Extraction, error)
}

// Config configures a Server.
type Config struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string
	// PublicProxyURL is the absolute proxy endpoint written into video_url
	// and audio_url. When empty it is derived from the request host.
	PublicProxyURL string
	// AllowedOrigins for CORS. Defaults to "*".
	AllowedOrigins []string
	DefaultQuality string
	MaxResults     int
	// RequestTimeout bounds one extraction. Proxy streams are not bounded.
	RequestTimeout time.Duration
}

// Option customizes a Server.
type Option func(*Server)

// WithSearcher routes search and playlist actions to s, falling back to the
// extractor when s runs out of quota.
func WithSearcher(s Searcher) Option {
	return func(srv *Server) { srv.searcher = s }
}

// WithMediaClient replaces the client the proxy uses for upstream fetches.
func WithMediaClient(c *shttp.Client) Option {
	return func(srv *Server) { srv.media = c }
}

// WithLogger sets the logger.
func WithLogger(l hclog.Logger) Option {
	return func(srv *Server) { srv.logger = l }
}

// Server serves the extraction API and the byte proxy.
type Server struct {
	cfg       Config
	extractor Extractor
	searcher  Searcher
	media     *shttp.Client
	logger    hclog.Logger
	handler   http.Handler
}

// New builds a Server. Call Handler for an http.Handler or Run to listen.
func New(cfg Config, extractor Extractor, opts ...Option) *Server {
	if cfg.DefaultQuality == "" {
		cfg.DefaultQuality = youtube.DefaultQuality
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 20
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 2 * time.Minute
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}

	s := &Server{cfg: cfg, extractor: extractor}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = hclog.NewNullLogger()
	}
	s.logger = s.logger.Named("server")
	if s.media == nil {
		s.media = shttp.New(MediaClientConfig())
	}

	s.handler = s.routes()
	return s
}

// MediaClientConfig is the upstream client configuration used by the proxy:
// one attempt per request with no shared breaker state, no client timeout
// (streams can be long) and a browser User-Agent.
func MediaClientConfig() *shttp.Config {
	cfg := shttp.OneShotConfig()
	cfg.Timeout = 0
	cfg.UserAgent = BrowserUserAgent
	return cfg
}

func (s *Server) routes() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestID(), requestLogger(s.logger))

	api := r.Group("/api")
	api.POST("/video", s.handleVideo)
	api.GET("/video", s.handleVideo)
	api.GET("/proxy", s.handleProxy)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return cors.New(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Range"},
		ExposedHeaders: []string{"Content-Length", "Content-Range", "Content-Type", requestIDHeader},
		MaxAge:         86400,
	}).Handler(r)
}

// Handler returns the CORS-wrapped router.
func (s *Server) Handler() http.Handler { return s.handler }

// Run listens on cfg.Addr until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.logger.Info("listening", "addr", s.cfg.Addr)

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}
