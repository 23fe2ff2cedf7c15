package youtube

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/samber/lo"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"spectation/internal/retry"
)

const (
	defaultDailyQuota   = 10000
	searchQuotaCost     = 100
	listQuotaCost       = 1
	maxPlaylistItems    = 200
	playlistPageSize    = 50
	maxSearchAPIResults = 50
)

// ErrQuotaExhausted is returned once the estimated daily quota is spent.
var ErrQuotaExhausted = errors.New("youtube: api quota exhausted")

// APISearcher implements search and playlist listing with the YouTube
// Data API v3. Extraction of media URLs is not available through the API.
type APISearcher struct {
	service *youtube.Service
	logger  hclog.Logger

	mu             sync.Mutex
	estimatedQuota int
	quotaReserve   int
	lastQuotaReset time.Time
	quotaExhausted bool

	RetryConfig *retry.Config
}

// NewAPISearcher creates a Data API backed searcher. Extra client options
// are passed to the generated service, which tests use to point it at a
// local server.
func NewAPISearcher(ctx context.Context, apiKey string, logger hclog.Logger, opts ...option.ClientOption) (*APISearcher, error) {
	if apiKey == "" && len(opts) == 0 {
		return nil, fmt.Errorf("api key required")
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	if apiKey != "" {
		opts = append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	}
	service, err := youtube.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create youtube service: %w", err)
	}

	cfg := retry.DefaultConfig()
	return &APISearcher{
		service:        service,
		logger:         logger.Named("youtube-api"),
		estimatedQuota: defaultDailyQuota,
		lastQuotaReset: time.Now(),
		RetryConfig:    &cfg,
	}, nil
}

// Search returns up to maxResults videos for query in relevance order.
func (a *APISearcher) Search(ctx context.Context, query string, maxResults int) ([]SearchResultItem, error) {
	if maxResults <= 0 {
		maxResults = 10
	}
	if maxResults > maxSearchAPIResults {
		maxResults = maxSearchAPIResults
	}

	var items []SearchResultItem
	err := a.call(ctx, searchQuotaCost, func(ctx context.Context) error {
		resp, err := a.service.Search.List([]string{"snippet"}).
			Q(query).
			Type("video").
			MaxResults(int64(maxResults)).
			Context(ctx).
			Do()
		if err != nil {
			return err
		}
		items = lo.FilterMap(resp.Items, func(r *youtube.SearchResult, _ int) (SearchResultItem, bool) {
			if r.Id == nil || r.Id.VideoId == "" {
				return SearchResultItem{}, false
			}
			item := SearchResultItem{ID: r.Id.VideoId, SourceURL: WatchURL(r.Id.VideoId)}
			if r.Snippet != nil {
				item.Title = r.Snippet.Title
				item.Uploader = r.Snippet.ChannelTitle
				item.Description = r.Snippet.Description
				item.ThumbnailURL = snippetThumbnail(r.Snippet.Thumbnails)
			}
			if item.ThumbnailURL == "" {
				item.ThumbnailURL = ThumbnailURL(item.ID)
			}
			return item, true
		})
		return nil
	})
	if err != nil {
		return nil, &ExtractorError{Source: "api", Target: query, Err: err}
	}

	if err := a.fillDetails(ctx, items); err != nil {
		// Durations and view counts are optional.
		a.logger.Warn("video details unavailable", "error", err)
	}
	return items, nil
}

// Playlist lists the playlist referenced by playlistURL.
func (a *APISearcher) Playlist(ctx context.Context, playlistURL string) (*Playlist, error) {
	ref, err := NormalizeReference(playlistURL)
	if err != nil {
		return nil, &ExtractorError{Source: "api", Target: playlistURL, Err: err}
	}
	if ref.Kind() != KindPlaylist {
		return nil, &ExtractorError{Source: "api", Target: playlistURL, Err: fmt.Errorf("%w: not a playlist url", ErrInvalidInput)}
	}

	out := &Playlist{}
	err = a.call(ctx, listQuotaCost, func(ctx context.Context) error {
		resp, err := a.service.Playlists.List([]string{"snippet"}).Id(ref.ID()).Context(ctx).Do()
		if err != nil {
			return err
		}
		if len(resp.Items) == 0 {
			return ErrVideoNotFound
		}
		if resp.Items[0].Snippet != nil {
			out.Title = resp.Items[0].Snippet.Title
		}
		return nil
	})
	if err != nil {
		return nil, &ExtractorError{Source: "api", Target: playlistURL, Err: err}
	}

	pageToken := ""
	for len(out.Items) < maxPlaylistItems {
		err := a.call(ctx, listQuotaCost, func(ctx context.Context) error {
			resp, err := a.service.PlaylistItems.List([]string{"snippet", "contentDetails"}).
				PlaylistId(ref.ID()).
				MaxResults(playlistPageSize).
				PageToken(pageToken).
				Context(ctx).
				Do()
			if err != nil {
				return err
			}
			for _, it := range resp.Items {
				if it.ContentDetails == nil || it.ContentDetails.VideoId == "" {
					continue
				}
				item := PlaylistItem{ID: it.ContentDetails.VideoId, SourceURL: WatchURL(it.ContentDetails.VideoId)}
				if it.Snippet != nil {
					item.Title = it.Snippet.Title
					item.Uploader = it.Snippet.VideoOwnerChannelTitle
					item.Description = it.Snippet.Description
					item.ThumbnailURL = snippetThumbnail(it.Snippet.Thumbnails)
				}
				if item.ThumbnailURL == "" {
					item.ThumbnailURL = ThumbnailURL(item.ID)
				}
				out.Items = append(out.Items, item)
			}
			pageToken = resp.NextPageToken
			return nil
		})
		if err != nil {
			return nil, &ExtractorError{Source: "api", Target: playlistURL, Err: err}
		}
		if pageToken == "" {
			break
		}
	}
	if len(out.Items) > maxPlaylistItems {
		out.Items = out.Items[:maxPlaylistItems]
	}

	if err := a.fillDetails(ctx, out.Items); err != nil {
		a.logger.Warn("video details unavailable", "error", err)
	}
	return out, nil
}

// fillDetails adds durations and view counts with videos.list, 50 ids per call.
func (a *APISearcher) fillDetails(ctx context.Context, items []SearchResultItem) error {
	byID := make(map[string][]int, len(items))
	for i, it := range items {
		byID[it.ID] = append(byID[it.ID], i)
	}

	for _, chunk := range lo.Chunk(lo.Keys(byID), 50) {
		err := a.call(ctx, listQuotaCost, func(ctx context.Context) error {
			resp, err := a.service.Videos.List([]string{"contentDetails", "statistics"}).
				Id(chunk...).
				Context(ctx).
				Do()
			if err != nil {
				return err
			}
			for _, v := range resp.Items {
				for _, i := range byID[v.Id] {
					if v.ContentDetails != nil {
						items[i].DurationSeconds = ParseISODuration(v.ContentDetails.Duration)
					}
					if v.Statistics != nil {
						items[i].ViewCount = int64(v.Statistics.ViewCount)
					}
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (a *APISearcher) call(ctx context.Context, cost int, fn func(context.Context) error) error {
	a.mu.Lock()
	exhausted := a.quotaExhausted
	a.mu.Unlock()
	if exhausted {
		return ErrQuotaExhausted
	}

	cfg := a.RetryConfig
	if cfg == nil {
		defaultCfg := retry.DefaultConfig()
		cfg = &defaultCfg
	}

	err := retry.Do(ctx, *cfg, apiErrorClassifier, func(ctx context.Context) error {
		err := fn(ctx)
		if err != nil && ctx.Err() != nil {
			return ErrNetworkTimeout
		}
		return err
	})
	if isQuotaError(err) {
		a.mu.Lock()
		a.quotaExhausted = true
		a.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrQuotaExhausted, err)
	}
	if err == nil {
		a.trackQuotaUsage(cost)
	}
	return err
}

// trackQuotaUsage updates the estimated quota and checks if we've exhausted it.
func (a *APISearcher) trackQuotaUsage(units int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if time.Since(a.lastQuotaReset) > 24*time.Hour {
		a.estimatedQuota = defaultDailyQuota
		a.lastQuotaReset = time.Now()
		a.quotaExhausted = false
		a.logger.Info("quota reset")
	}

	a.estimatedQuota -= units
	if a.estimatedQuota < a.quotaReserve {
		if !a.quotaExhausted {
			a.logger.Warn("quota exhausted", "remaining", a.estimatedQuota, "reserve", a.quotaReserve)
			a.quotaExhausted = true
		}
		return
	}
	a.logger.Debug("quota usage", "remaining", a.estimatedQuota)
}

// EstimatedQuota returns the estimated remaining quota units.
func (a *APISearcher) EstimatedQuota() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.estimatedQuota
}

func isQuotaError(err error) bool {
	var gErr *googleapi.Error
	if !errors.As(err, &gErr) || gErr.Code != http.StatusForbidden {
		return false
	}
	for _, e := range gErr.Errors {
		if e.Reason == "quotaExceeded" || e.Reason == "dailyLimitExceeded" {
			return true
		}
	}
	return strings.Contains(gErr.Message, "quota")
}

// apiErrorClassifier determines if an API error is retryable.
func apiErrorClassifier(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrVideoNotFound) || errors.Is(err, ErrInvalidInput) || errors.Is(err, context.Canceled) {
		return false
	}
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		if isQuotaError(err) {
			return false
		}
		return gErr.Code == http.StatusTooManyRequests || gErr.Code >= 500
	}
	return true
}

func snippetThumbnail(t *youtube.ThumbnailDetails) string {
	if t == nil {
		return ""
	}
	for _, th := range []*youtube.Thumbnail{t.High, t.Medium, t.Default} {
		if th != nil && th.Url != "" {
			return th.Url
		}
	}
	return ""
}

var isoDurationRegex = regexp.MustCompile(`^P(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?)?$`)

// ParseISODuration converts an ISO 8601 duration such as "PT1H2M3S" to
// seconds. Unparseable values give 0.
func ParseISODuration(s string) int {
	m := isoDurationRegex.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	total := 0
	for i, mult := range []int{86400, 3600, 60, 1} {
		if m[i+1] == "" {
			continue
		}
		n, err := strconv.Atoi(m[i+1])
		if err != nil {
			return 0
		}
		total += n * mult
	}
	return total
}
