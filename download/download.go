// Package download saves remote media locally by pulling it through the
// same-origin byte proxy. Each call is one shot: no resume, no ranges, no
// progress beyond success or failure.
package download

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/afero"

	shttp "spectation/http"
)

// ErrDownloadFailed is matched by every download failure.
var ErrDownloadFailed = errors.New("download failed")

var errEmptyBody = errors.New("empty response body")

// Error reports a failed download.
type Error struct {
	URL      string
	Filename string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("download %s: %v", e.Filename, e.Err)
}

// Unwrap exposes ErrDownloadFailed and the cause.
func (e *Error) Unwrap() []error {
	return []error{ErrDownloadFailed, e.Err}
}

// Options configures an Adapter.
type Options struct {
	// ProxyURL is the byte proxy endpoint; the remote URL is passed as ?url=.
	ProxyURL string
	// Timeout bounds the whole transfer. Defaults to 30 minutes.
	Timeout time.Duration
	// Dir is where files are saved when Saver is nil.
	Dir string
	// Fs backs the default saver. Defaults to the OS filesystem.
	Fs     afero.Fs
	Saver  Saver
	Store  *ObjectStore
	HTTP   *shttp.Client
	Logger hclog.Logger
}

// Adapter turns remote media URLs into saved local files.
type Adapter struct {
	proxyURL string
	http     *shttp.Client
	store    *ObjectStore
	saver    Saver
	logger   hclog.Logger
}

// New creates an Adapter.
func New(opts Options) *Adapter {
	if opts.Logger == nil {
		opts.Logger = hclog.NewNullLogger()
	}
	if opts.Store == nil {
		opts.Store = NewObjectStore()
	}
	if opts.Saver == nil {
		fs := opts.Fs
		if fs == nil {
			fs = afero.NewOsFs()
		}
		opts.Saver = &FSSaver{Fs: fs, Dir: opts.Dir}
	}
	if opts.HTTP == nil {
		cfg := shttp.OneShotConfig()
		cfg.Timeout = 30 * time.Minute
		if opts.Timeout > 0 {
			cfg.Timeout = opts.Timeout
		}
		opts.HTTP = shttp.New(cfg)
	}
	return &Adapter{
		proxyURL: opts.ProxyURL,
		http:     opts.HTTP,
		store:    opts.Store,
		saver:    opts.Saver,
		logger:   opts.Logger.Named("download"),
	}
}

// Store returns the adapter's transient object store.
func (a *Adapter) Store() *ObjectStore { return a.store }

// ProxyLink returns the proxy URL that streams remoteURL.
func (a *Adapter) ProxyLink(remoteURL string) string {
	return ProxyLink(a.proxyURL, remoteURL)
}

// ProxyLink builds "<proxy>?url=<escaped remote>". An empty proxy returns
// remoteURL unchanged.
func ProxyLink(proxyURL, remoteURL string) string {
	if proxyURL == "" {
		return remoteURL
	}
	sep := "?"
	if strings.Contains(proxyURL, "?") {
		sep = "&"
	}
	return proxyURL + sep + "url=" + url.QueryEscape(remoteURL)
}

// Download fetches remoteURL through the proxy, buffers it in memory, hands
// it to the saver under a transient handle and releases the handle. It
// returns where the saver put the file.
func (a *Adapter) Download(ctx context.Context, remoteURL, filename string) (string, error) {
	fail := func(err error) (string, error) {
		a.logger.Warn("download failed", "file", filename, "error", err)
		return "", &Error{URL: remoteURL, Filename: filename, Err: err}
	}

	if strings.TrimSpace(remoteURL) == "" {
		return fail(errors.New("no media url"))
	}
	if filename == "" {
		filename = "video.mp4"
	}

	resp, err := a.http.Get(ctx, a.ProxyLink(remoteURL))
	if err != nil {
		return fail(err)
	}
	if len(resp.Body) == 0 {
		return fail(errEmptyBody)
	}

	handle := a.store.Create(resp.Body)
	defer a.store.Revoke(handle)

	path, err := a.saver.Save(ctx, a.store, handle, filename)
	if err != nil {
		return fail(err)
	}

	a.logger.Info("saved", "file", path, "bytes", len(resp.Body))
	return path, nil
}
