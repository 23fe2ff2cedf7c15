// Package resolver talks to the extraction backend: resolve a video, run a
// search, list a playlist. Each call is one request/response round trip;
// retrying is left to the user.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/samber/lo"

	shttp "spectation/http"
	"spectation/youtube"
)

const genericFailure = "resolution failed"

// Sentinel errors for backend operations.
var (
	ErrUpstreamFailure = errors.New("resolver: upstream failure")
	ErrNotFound        = errors.New("resolver: not found")
)

// UpstreamError reports a failed backend call. Message is what the user
// should see: the backend's own message when it sent one.
type UpstreamError struct {
	Op      string
	Status  int
	Message string
	Err     error
}

func (e *UpstreamError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: %s (status %d)", e.Op, e.Message, e.Status)
	}
	return e.Op + ": " + e.Message
}

// Unwrap exposes ErrUpstreamFailure, ErrNotFound for 404s and the cause.
func (e *UpstreamError) Unwrap() []error {
	errs := []error{ErrUpstreamFailure}
	if e.Status == http.StatusNotFound {
		errs = append(errs, ErrNotFound)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// Options configures a Client.
type Options struct {
	// Endpoint is the backend URL accepting the JSON action requests.
	Endpoint string
	// Timeout bounds each call. Defaults to 60 seconds.
	Timeout time.Duration
	Logger  hclog.Logger
	// HTTP overrides the transport client. Its retry policy should be one shot.
	HTTP *shttp.Client
}

// Client is a stateless wrapper around the backend's three operations.
type Client struct {
	endpoint string
	http     *shttp.Client
	logger   hclog.Logger
}

// New creates a Client.
func New(opts Options) *Client {
	if opts.Logger == nil {
		opts.Logger = hclog.NewNullLogger()
	}
	if opts.HTTP == nil {
		cfg := shttp.OneShotConfig()
		cfg.Timeout = lo.Ternary(opts.Timeout > 0, opts.Timeout, 60*time.Second)
		opts.HTTP = shttp.New(cfg)
	}
	return &Client{
		endpoint: opts.Endpoint,
		http:     opts.HTTP,
		logger:   opts.Logger.Named("resolver"),
	}
}

type resolveRequest struct {
	Action  string `json:"action"`
	URL     string `json:"url"`
	Quality string `json:"quality"`
}

type searchRequest struct {
	Action     string `json:"action"`
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

type playlistRequest struct {
	Action string `json:"action"`
	URL    string `json:"url"`
}

// Resolve fetches metadata and formats for ref and negotiates a rendition
// at quality. An empty catalog is reported as youtube.ErrNoFormatsAvailable,
// not as an upstream failure.
func (c *Client) Resolve(ctx context.Context, ref youtube.VideoReference, quality string) (*youtube.ResolvedVideo, error) {
	if ref.IsZero() || ref.Kind() != youtube.KindVideo {
		return nil, fmt.Errorf("%w: resolve needs a video reference", youtube.ErrInvalidInput)
	}
	if quality == "" {
		quality = youtube.DefaultQuality
	}

	var resp ResolveResponse
	req := resolveRequest{Action: "download", URL: ref.CanonicalURL(), Quality: quality}
	if err := c.post(ctx, "resolve", req, &resp); err != nil {
		return nil, err
	}

	catalog := resp.Catalog()
	rendition, err := youtube.Negotiate(catalog, quality)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", ref, err)
	}
	if rendition.IsDemuxed && rendition.DownloadAudioURL == "" {
		c.logger.Warn("video-only rendition without an audio stream", "id", ref.ID(), "quality", rendition.EffectiveQuality)
	}

	c.logger.Debug("resolved", "id", ref.ID(), "formats", len(catalog), "quality", rendition.EffectiveQuality, "demuxed", rendition.IsDemuxed)
	return &youtube.ResolvedVideo{
		Ref:             ref,
		Title:           resp.Title,
		ThumbnailURL:    resp.Thumbnail,
		DurationSeconds: int(resp.Duration),
		Uploader:        resp.Uploader,
		ViewCount:       resp.ViewCount,
		Description:     resp.Description,
		UploadDateRaw:   resp.UploadDate,
		Catalog:         catalog,
		Rendition:       rendition,
	}, nil
}

// Search runs a free-text search. Results keep the backend's rank order.
func (c *Client) Search(ctx context.Context, query string, maxResults int) ([]youtube.SearchResultItem, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, youtube.ErrEmptyInput
	}

	var resp SearchResponse
	if err := c.post(ctx, "search", searchRequest{Action: "search", Query: query, MaxResults: maxResults}, &resp); err != nil {
		return nil, err
	}
	return lo.Map(resp.Results, func(it Item, _ int) youtube.SearchResultItem { return it.toItem() }), nil
}

// ListPlaylist lists the playlist behind ref.
func (c *Client) ListPlaylist(ctx context.Context, ref youtube.VideoReference) (*youtube.Playlist, error) {
	if ref.IsZero() || ref.Kind() != youtube.KindPlaylist {
		return nil, fmt.Errorf("%w: listing needs a playlist reference", youtube.ErrInvalidInput)
	}

	var resp PlaylistResponse
	if err := c.post(ctx, "playlist", playlistRequest{Action: "playlist", URL: ref.CanonicalURL()}, &resp); err != nil {
		return nil, err
	}
	return &youtube.Playlist{
		Title: resp.Title,
		Items: lo.Map(resp.Videos, func(it Item, _ int) youtube.PlaylistItem { return it.toItem() }),
	}, nil
}

func (c *Client) post(ctx context.Context, op string, payload, out interface{}) error {
	resp, err := c.http.PostJSON(ctx, c.endpoint, payload)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		upErr := &UpstreamError{
			Op:      op,
			Status:  shttp.StatusCode(err),
			Message: backendMessage(shttp.ResponseBody(err)),
			Err:     err,
		}
		c.logger.Warn("backend call failed", "op", op, "status", upErr.Status, "error", err)
		return upErr
	}
	if err := resp.DecodeJSON(out); err != nil {
		return &UpstreamError{Op: op, Status: resp.StatusCode, Message: genericFailure, Err: err}
	}
	return nil
}

func backendMessage(body []byte) string {
	var eb ErrorResponse
	if len(body) > 0 {
		if err := (&shttp.Response{Body: body}).DecodeJSON(&eb); err == nil && strings.TrimSpace(eb.Error) != "" {
			return eb.Error
		}
	}
	return genericFailure
}
