package youtube

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/samber/lo"

	"spectation/internal/retry"
)

const (
	defaultYtdlpPath    = "yt-dlp"
	defaultYtdlpTimeout = 2 * time.Minute
	defaultSearchHeight = 720
)

var errBadOutput = errors.New("parse yt-dlp output")

// CommandRunner runs an external command and returns its output.
type CommandRunner func(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// YtdlpExtractor resolves videos, searches and playlists by running yt-dlp
// as a subprocess.
type YtdlpExtractor struct {
	// Path is the path to the yt-dlp executable. Defaults to "yt-dlp".
	Path string

	// Timeout bounds each yt-dlp invocation. Defaults to 2 minutes.
	Timeout time.Duration

	// ExtraArgs are additional arguments to pass to yt-dlp.
	ExtraArgs []string

	// RetryConfig holds retry behavior configuration.
	RetryConfig *retry.Config

	Logger hclog.Logger

	// Run executes the command. Defaults to os/exec.
	Run CommandRunner
}

// NewYtdlpExtractor creates a yt-dlp backed extractor.
func NewYtdlpExtractor(path string, logger hclog.Logger) *YtdlpExtractor {
	cfg := retry.DefaultConfig()
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &YtdlpExtractor{
		Path:        path,
		Timeout:     defaultYtdlpTimeout,
		RetryConfig: &cfg,
		Logger:      logger.Named("ytdlp"),
		Run:         execRunner,
	}
}

// FormatSelector builds the yt-dlp -f expression for a quality label:
// the best muxed stream up to the height, then separate streams, then
// anything.
func FormatSelector(quality string) string {
	h := ImpliedHeight(quality)
	if h <= 0 {
		h = defaultSearchHeight
	}
	return fmt.Sprintf("best[height<=%d]/bestvideo[height<=%d]+bestaudio/best", h, h)
}

// Extract resolves a single video at the given quality.
func (y *YtdlpExtractor) Extract(ctx context.Context, videoURL, quality string) (*Extraction, error) {
	if quality == "" {
		quality = DefaultQuality
	}
	args := []string{"-J", "--no-playlist", "--no-warnings", "-f", FormatSelector(quality)}

	var info ytdlpInfo
	if err := y.runJSON(ctx, videoURL, args, &info); err != nil {
		return nil, err
	}

	ex, err := info.extraction()
	if err != nil {
		return nil, &ExtractorError{Source: "ytdlp", Target: videoURL, Err: err}
	}
	y.logger().Debug("extracted", "id", info.ID, "formats", len(ex.Video.Catalog), "separate", ex.SeparateStream, "quality", ex.Quality())
	return ex, nil
}

// Search runs a yt-dlp "ytsearchN:" query.
func (y *YtdlpExtractor) Search(ctx context.Context, query string, maxResults int) ([]SearchResultItem, error) {
	if maxResults <= 0 {
		maxResults = 10
	}
	target := "ytsearch" + strconv.Itoa(maxResults) + ":" + query

	var list ytdlpPlaylist
	if err := y.runJSON(ctx, target, []string{"-J", "--flat-playlist", "--no-warnings"}, &list); err != nil {
		return nil, err
	}
	return list.items(), nil
}

// Playlist lists a playlist without resolving each entry.
func (y *YtdlpExtractor) Playlist(ctx context.Context, playlistURL string) (*Playlist, error) {
	var list ytdlpPlaylist
	if err := y.runJSON(ctx, playlistURL, []string{"-J", "--flat-playlist", "--no-warnings"}, &list); err != nil {
		return nil, err
	}
	return &Playlist{Title: list.Title, Items: list.items()}, nil
}

// Version returns the installed yt-dlp version.
func (y *YtdlpExtractor) Version(ctx context.Context) (string, error) {
	stdout, _, err := y.runner()(ctx, y.path(), "--version")
	if err != nil {
		return "", &ExtractorError{Source: "ytdlp", Target: y.path(), Err: ErrYtdlpNotInstalled}
	}
	return strings.TrimSpace(string(stdout)), nil
}

func (y *YtdlpExtractor) runJSON(ctx context.Context, target string, args []string, out interface{}) error {
	cfg := y.RetryConfig
	if cfg == nil {
		defaultCfg := retry.DefaultConfig()
		cfg = &defaultCfg
	}

	args = append(append(args, y.ExtraArgs...), "--", target)

	return retry.Do(ctx, *cfg, ytdlpErrorClassifier, func(ctx context.Context) error {
		timeout := y.Timeout
		if timeout == 0 {
			timeout = defaultYtdlpTimeout
		}
		cmdCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		stdout, stderr, err := y.runner()(cmdCtx, y.path(), args...)
		if err != nil {
			return classifyYtdlpFailure(cmdCtx, target, err, string(stderr))
		}
		if err := json.Unmarshal(stdout, out); err != nil {
			return &ExtractorError{Source: "ytdlp", Target: target, Err: fmt.Errorf("%w: %v", errBadOutput, err)}
		}
		return nil
	})
}

func classifyYtdlpFailure(ctx context.Context, target string, err error, stderr string) error {
	wrap := func(e error) error { return &ExtractorError{Source: "ytdlp", Target: target, Err: e} }

	switch {
	case errors.Is(err, exec.ErrNotFound):
		return wrap(ErrYtdlpNotInstalled)
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return wrap(ErrNetworkTimeout)
	case errors.Is(ctx.Err(), context.Canceled):
		return wrap(context.Canceled)
	}

	lower := strings.ToLower(stderr)
	switch {
	case strings.Contains(lower, "video unavailable"),
		strings.Contains(lower, "private video"),
		strings.Contains(lower, "not found"),
		strings.Contains(lower, "does not exist"):
		return wrap(ErrVideoNotFound)
	case strings.Contains(lower, "429"), strings.Contains(lower, "rate"):
		return wrap(ErrRateLimited)
	}
	return wrap(fmt.Errorf("yt-dlp failed: %w: %s", err, strings.TrimSpace(stderr)))
}

// ytdlpErrorClassifier determines if a yt-dlp error is retryable.
func ytdlpErrorClassifier(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrVideoNotFound),
		errors.Is(err, ErrYtdlpNotInstalled),
		errors.Is(err, errBadOutput),
		errors.Is(err, context.Canceled):
		return false
	}
	return true
}

func (y *YtdlpExtractor) path() string {
	if y.Path != "" {
		return y.Path
	}
	return defaultYtdlpPath
}

func (y *YtdlpExtractor) runner() CommandRunner {
	if y.Run != nil {
		return y.Run
	}
	return execRunner
}

func (y *YtdlpExtractor) logger() hclog.Logger {
	if y.Logger != nil {
		return y.Logger
	}
	return hclog.NewNullLogger()
}

// ytdlpInfo is the subset of yt-dlp's -J output for one video.
type ytdlpInfo struct {
	ID               string        `json:"id"`
	Title            string        `json:"title"`
	Thumbnail        string        `json:"thumbnail"`
	Duration         float64       `json:"duration"`
	Uploader         string        `json:"uploader"`
	Channel          string        `json:"channel"`
	ViewCount        int64         `json:"view_count"`
	Description      string        `json:"description"`
	UploadDate       string        `json:"upload_date"`
	URL              string        `json:"url"`
	Height           int           `json:"height"`
	RequestedFormats []ytdlpFormat `json:"requested_formats"`
	Formats          []ytdlpFormat `json:"formats"`
}

type ytdlpFormat struct {
	FormatID       string  `json:"format_id"`
	URL            string  `json:"url"`
	Ext            string  `json:"ext"`
	Height         int     `json:"height"`
	FPS            float64 `json:"fps"`
	Filesize       int64   `json:"filesize"`
	FilesizeApprox int64   `json:"filesize_approx"`
	VCodec         string  `json:"vcodec"`
	ACodec         string  `json:"acodec"`
	ABR            float64 `json:"abr"`
	TBR            float64 `json:"tbr"`
}

func (f ytdlpFormat) hasVideo() bool {
	return f.VCodec != "none" && (f.VCodec != "" || f.Height > 0)
}

// hasAudio treats an unknown audio codec as present only when the video
// codec is unknown too, which is how plain progressive files are reported.
func (f ytdlpFormat) hasAudio() bool {
	return f.ACodec != "none" && (f.ACodec != "" || f.VCodec == "")
}

func (f ytdlpFormat) descriptor() FormatDescriptor {
	d := FormatDescriptor{
		HeightPx:        f.Height,
		FPS:             int(f.FPS),
		Container:       f.Ext,
		RemoteURL:       f.URL,
		ApproxSizeBytes: lo.Ternary(f.Filesize > 0, f.Filesize, f.FilesizeApprox),
		Bitrate:         lo.Ternary(f.ABR > 0, f.ABR, f.TBR),
		HasAudio:        f.hasAudio(),
		HasVideo:        f.hasVideo(),
	}
	switch {
	case d.HasVideo && f.Height > 0 && f.FPS > 30:
		d.QualityLabel = fmt.Sprintf("%dp%d", f.Height, int(f.FPS))
	case d.HasVideo && f.Height > 0:
		d.QualityLabel = fmt.Sprintf("%dp", f.Height)
	case d.AudioOnly():
		d.QualityLabel = "audio"
	}
	return d
}

func (info ytdlpInfo) catalog() Catalog {
	return lo.FilterMap(info.Formats, func(f ytdlpFormat, _ int) (FormatDescriptor, bool) {
		return f.descriptor(), f.URL != "" && (f.hasAudio() || f.hasVideo())
	})
}

// extraction picks the streams yt-dlp selected, falling back to the best
// muxed format and then to the best separate video and audio formats.
func (info ytdlpInfo) extraction() (*Extraction, error) {
	ex := &Extraction{
		Video: ResolvedVideo{
			Title:           lo.Ternary(info.Title != "", info.Title, "Unknown"),
			ThumbnailURL:    info.Thumbnail,
			DurationSeconds: int(info.Duration),
			Uploader:        lo.Ternary(info.Uploader != "", info.Uploader, "Unknown"),
			ViewCount:       info.ViewCount,
			Description:     info.Description,
			UploadDateRaw:   info.UploadDate,
			Catalog:         info.catalog(),
		},
		VideoURL: info.URL,
		HeightPx: info.Height,
		Channel:  info.Channel,
	}

	switch {
	case len(info.RequestedFormats) >= 2:
		ex.VideoURL = info.RequestedFormats[0].URL
		ex.AudioURL = info.RequestedFormats[1].URL
		ex.SeparateStream = true
		if ex.HeightPx == 0 {
			ex.HeightPx = info.RequestedFormats[0].Height
		}
	case len(info.RequestedFormats) == 1:
		ex.VideoURL = info.RequestedFormats[0].URL
	case info.URL == "" && len(info.Formats) > 0:
		withURL := lo.Filter(info.Formats, func(f ytdlpFormat, _ int) bool { return f.URL != "" })
		muxed := lo.Filter(withURL, func(f ytdlpFormat, _ int) bool { return f.hasVideo() && f.hasAudio() })
		if len(muxed) > 0 {
			best := lo.MaxBy(muxed, func(a, b ytdlpFormat) bool {
				if a.Height != b.Height {
					return a.Height > b.Height
				}
				return a.TBR > b.TBR
			})
			ex.VideoURL, ex.HeightPx = best.URL, best.Height
			break
		}
		videos := lo.Filter(withURL, func(f ytdlpFormat, _ int) bool { return f.hasVideo() })
		audios := lo.Filter(withURL, func(f ytdlpFormat, _ int) bool { return f.hasAudio() })
		if len(videos) > 0 {
			best := lo.MaxBy(videos, func(a, b ytdlpFormat) bool { return a.Height > b.Height })
			ex.VideoURL, ex.HeightPx = best.URL, best.Height
			if len(audios) > 0 {
				ex.AudioURL = lo.MaxBy(audios, func(a, b ytdlpFormat) bool { return a.ABR > b.ABR }).URL
				ex.SeparateStream = true
			}
		}
	}

	if ex.VideoURL == "" {
		return nil, ErrNoMediaURL
	}
	return ex, nil
}

// ytdlpPlaylist is yt-dlp's --flat-playlist output for searches and playlists.
type ytdlpPlaylist struct {
	ID      string       `json:"id"`
	Title   string       `json:"title"`
	Entries []ytdlpEntry `json:"entries"`
}

type ytdlpEntry struct {
	ID          string           `json:"id"`
	Title       string           `json:"title"`
	URL         string           `json:"url"`
	Description string           `json:"description"`
	Duration    float64          `json:"duration"`
	ViewCount   int64            `json:"view_count"`
	Uploader    string           `json:"uploader"`
	Channel     string           `json:"channel"`
	Thumbnail   string           `json:"thumbnail"`
	Thumbnails  []ytdlpThumbnail `json:"thumbnails"`
}

type ytdlpThumbnail struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

func (p ytdlpPlaylist) items() []SearchResultItem {
	return lo.FilterMap(p.Entries, func(e ytdlpEntry, _ int) (SearchResultItem, bool) {
		if e.ID == "" {
			return SearchResultItem{}, false
		}
		return SearchResultItem{
			ID:              e.ID,
			Title:           e.Title,
			SourceURL:       lo.Ternary(strings.HasPrefix(e.URL, "http"), e.URL, WatchURL(e.ID)),
			ThumbnailURL:    bestThumbnail(e),
			DurationSeconds: int(e.Duration),
			Uploader:        lo.Ternary(e.Uploader != "", e.Uploader, e.Channel),
			ViewCount:       e.ViewCount,
			Description:     e.Description,
		}, true
	})
}

// bestThumbnail returns the best quality thumbnail URL.
func bestThumbnail(e ytdlpEntry) string {
	if e.Thumbnail != "" {
		return e.Thumbnail
	}
	var best ytdlpThumbnail
	for _, t := range e.Thumbnails {
		if t.Width*t.Height >= best.Width*best.Height {
			best = t
		}
	}
	if best.URL != "" {
		return best.URL
	}
	return ThumbnailURL(e.ID)
}

// WatchURL returns the watch page URL for a video id.
func WatchURL(id string) string {
	return "https://www.youtube.com/watch?v=" + id
}

// ThumbnailURL returns the default high quality thumbnail for a video id.
func ThumbnailURL(id string) string {
	return "https://i.ytimg.com/vi/" + id + "/hqdefault.jpg"
}
