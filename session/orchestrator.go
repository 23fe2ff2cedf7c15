package session

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/samber/lo"

	"spectation/download"
	"spectation/playback"
	"spectation/youtube"
)

// Resolver is the extraction backend as seen by the orchestrator.
type Resolver interface {
	Resolve(ctx context.Context, ref youtube.VideoReference, quality string) (*youtube.ResolvedVideo, error)
	Search(ctx context.Context, query string, maxResults int) ([]youtube.SearchResultItem, error)
	ListPlaylist(ctx context.Context, ref youtube.VideoReference) (*youtube.Playlist, error)
}

// Downloader saves a remote media URL locally.
type Downloader interface {
	Download(ctx context.Context, remoteURL, filename string) (string, error)
}

// Binder owns the live player of one slot.
type Binder interface {
	Bind(ctx context.Context, ref youtube.VideoReference, rendition youtube.Rendition, poster, title string) error
	Unbind()
}

// Options configures an Orchestrator.
type Options struct {
	Resolver   Resolver
	Downloader Downloader
	// Player and PreviewPlayer default to headless playback managers.
	Player         Binder
	PreviewPlayer  Binder
	Notifier       Notifier
	Logger         hclog.Logger
	DefaultQuality string
	MaxResults     int
}

// Orchestrator is the session state machine. Its actions block for one
// backend round trip and may be called from several goroutines; state is
// only mutated under its lock.
type Orchestrator struct {
	resolver   Resolver
	downloader Downloader
	player     Binder
	preview    Binder
	notifier   Notifier
	logger     hclog.Logger
	quality    string
	maxResults int

	mu      sync.Mutex
	counter uint64
	latest  [numClasses]uint64
	pending [numClasses]bool
	state   Session
}

// New creates an Orchestrator in the Idle phase.
func New(opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = hclog.NewNullLogger()
	}
	logger := opts.Logger.Named("session")
	if opts.Player == nil {
		opts.Player = playback.NewManager(nil, logger)
	}
	if opts.PreviewPlayer == nil {
		opts.PreviewPlayer = playback.NewManager(nil, logger.Named("preview"))
	}
	if opts.Notifier == nil {
		opts.Notifier = LogNotifier{Logger: logger}
	}
	if opts.DefaultQuality == "" {
		opts.DefaultQuality = youtube.DefaultQuality
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = 20
	}
	return &Orchestrator{
		resolver:   opts.Resolver,
		downloader: opts.Downloader,
		player:     opts.Player,
		preview:    opts.PreviewPlayer,
		notifier:   opts.Notifier,
		logger:     logger,
		quality:    opts.DefaultQuality,
		maxResults: opts.MaxResults,
	}
}

// Snapshot returns a deep copy of the current state.
func (o *Orchestrator) Snapshot() Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.clone()
}

// Busy reports whether class has an outstanding request. Callers disable
// the triggering control while it is true.
func (o *Orchestrator) Busy(class Class) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pending[class]
}

// Submit dispatches raw input: video links load, playlist links list and
// anything else is searched.
func (o *Orchestrator) Submit(ctx context.Context, input, quality string) error {
	target, err := youtube.Normalize(input)
	if err != nil {
		return o.reject(ClassVideo, err)
	}
	switch t := target.(type) {
	case youtube.SearchQuery:
		return o.Search(ctx, t.Text)
	case youtube.VideoReference:
		if t.Kind() == youtube.KindPlaylist {
			return o.LoadPlaylist(ctx, t.SourceURL())
		}
		return o.LoadVideo(ctx, t.SourceURL(), quality)
	default:
		return o.reject(ClassVideo, fmt.Errorf("%w: unsupported input", youtube.ErrInvalidInput))
	}
}

// LoadVideo resolves url into the primary slot and binds its player.
func (o *Orchestrator) LoadVideo(ctx context.Context, url, quality string) error {
	return o.loadInto(ctx, ClassVideo, url, quality)
}

// PreviewFromSearch resolves url into the preview slot. The primary slot,
// its player and the search results are left alone.
func (o *Orchestrator) PreviewFromSearch(ctx context.Context, url, quality string) error {
	return o.loadInto(ctx, ClassPreview, url, quality)
}

func (o *Orchestrator) loadInto(ctx context.Context, class Class, url, quality string) error {
	ref, err := youtube.NormalizeReference(url)
	if err == nil && ref.Kind() != youtube.KindVideo {
		err = fmt.Errorf("%w: %s is a playlist link", youtube.ErrInvalidInput, ref.ID())
	}
	if err != nil {
		return o.reject(class, err)
	}
	if quality == "" {
		quality = o.quality
	}

	token := o.begin(class, func(s *Session) {
		slot := o.slot(s, class)
		*slot = Slot{Phase: Loading, Requested: quality}
		o.binder(class).Unbind()
	})

	video, err := o.resolver.Resolve(ctx, ref, quality)

	o.mu.Lock()
	if !o.current(class, token) {
		o.mu.Unlock()
		o.logger.Debug("discarding stale result", "action", class.String(), "token", token)
		return ErrSuperseded
	}
	o.pending[class] = false
	slot := o.slot(&o.state, class)
	var notes []notice
	if err != nil {
		slot.Phase = Error
		slot.Message = UserMessage(err)
		notes = append(notes, notice{LevelError, class, slot.Message})
	} else {
		slot.Phase = Ready
		slot.Current = video
		if video.Rendition.QualityChanged(quality) {
			notes = append(notes, notice{LevelInfo, class, fmt.Sprintf("%s is not available, using %s", quality, video.Rendition.EffectiveQuality)})
		}
		if video.Rendition.IsDemuxed {
			notes = append(notes, notice{LevelWarn, class, "Video and audio are separate streams; playing video only, audio is available as a download"})
		}
		// Binding under the lock keeps a superseded load from rebinding
		// over a newer one.
		if berr := o.binder(class).Bind(ctx, ref, video.Rendition, video.ThumbnailURL, video.Title); berr != nil {
			slot.PlayerMessage = UserMessage(berr)
			notes = append(notes, notice{LevelError, class, slot.PlayerMessage})
			o.logger.Error("player construction failed", "id", ref.ID(), "error", berr)
		}
	}
	o.mu.Unlock()

	o.emit(notes)
	return err
}

// Search replaces the search results with the backend's hits for query.
func (o *Orchestrator) Search(ctx context.Context, query string) error {
	query = strings.TrimSpace(query)
	if query == "" {
		return o.reject(ClassSearch, youtube.ErrEmptyInput)
	}

	token := o.begin(ClassSearch, func(s *Session) {
		s.Phase = Loading
		s.Message = ""
		s.SearchQuery = query
		s.SearchResults = nil
	})

	items, err := o.resolver.Search(ctx, query, o.maxResults)

	return o.finish(ClassSearch, token, err, func(s *Session) []notice {
		s.SearchResults = items
		if len(items) == 0 {
			return []notice{{LevelInfo, ClassSearch, fmt.Sprintf("Nothing found for %q", query)}}
		}
		return nil
	})
}

// LoadPlaylist replaces the playlist with the entries of url.
func (o *Orchestrator) LoadPlaylist(ctx context.Context, url string) error {
	ref, err := youtube.NormalizeReference(url)
	if err == nil && ref.Kind() != youtube.KindPlaylist {
		err = fmt.Errorf("%w: %s is not a playlist link", youtube.ErrInvalidInput, ref.ID())
	}
	if err != nil {
		return o.reject(ClassPlaylist, err)
	}

	token := o.begin(ClassPlaylist, func(s *Session) {
		s.Phase = Loading
		s.Message = ""
		s.PlaylistTitle = ""
		s.PlaylistItems = nil
	})

	playlist, err := o.resolver.ListPlaylist(ctx, ref)

	return o.finish(ClassPlaylist, token, err, func(s *Session) []notice {
		s.PlaylistTitle = playlist.Title
		s.PlaylistItems = playlist.Items
		return []notice{{LevelInfo, ClassPlaylist, fmt.Sprintf("Loaded %d videos from %s", len(playlist.Items), playlist.Title)}}
	})
}

// ClosePreview invalidates any in-flight preview, disposes the preview
// player and clears the preview slot.
func (o *Orchestrator) ClosePreview() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.invalidate(ClassPreview)
	o.preview.Unbind()
	o.state.Preview = Slot{}
}

// DownloadOptions selects what Download saves.
type DownloadOptions struct {
	// Preview downloads from the preview slot instead of the primary one.
	Preview bool
	// Audio downloads the separate audio stream of a demuxed rendition.
	Audio bool
}

// Download saves the current video of a slot. Failures are reported per
// download and never change the session phase.
func (o *Orchestrator) Download(ctx context.Context, opts DownloadOptions) (string, error) {
	class := ClassVideo
	if opts.Preview {
		class = ClassPreview
	}

	o.mu.Lock()
	video := o.slot(&o.state, class).Current.Clone()
	o.mu.Unlock()

	if video == nil {
		err := ErrNothingLoaded
		o.emit([]notice{{LevelError, class, "Load a video before downloading"}})
		return "", err
	}
	if o.downloader == nil {
		return "", fmt.Errorf("%w: downloads are not configured", download.ErrDownloadFailed)
	}

	remote, quality := video.Rendition.DownloadVideoURL, video.Rendition.EffectiveQuality
	if opts.Audio {
		remote, quality = video.Rendition.DownloadAudioURL, "audio"
		if remote == "" {
			o.emit([]notice{{LevelWarn, class, "This video has no separate audio stream"}})
			return "", &download.Error{Filename: video.Title, Err: fmt.Errorf("no separate audio stream")}
		}
	}
	ext := "mp4"
	if f, ok := lo.Find(video.Catalog, func(f youtube.FormatDescriptor) bool { return f.RemoteURL == remote }); ok && f.Container != "" {
		ext = f.Container
	} else if opts.Audio {
		ext = "m4a"
	}
	filename := download.SuggestFilename(video.Title, quality, ext)

	path, err := o.downloader.Download(ctx, remote, filename)
	if err != nil {
		o.emit([]notice{{LevelError, class, UserMessage(err)}})
		return "", err
	}
	o.emit([]notice{{LevelInfo, class, "Saved " + path}})
	return path, nil
}

// Close invalidates every in-flight request, disposes both players and
// returns the session to Idle.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for c := Class(0); c < numClasses; c++ {
		o.invalidate(c)
	}
	o.player.Unbind()
	o.preview.Unbind()
	o.state = Session{}
	return nil
}

// reject records a validation failure. No token is issued and no result
// slice is touched.
func (o *Orchestrator) reject(class Class, err error) error {
	msg := UserMessage(err)
	o.mu.Lock()
	slot := o.slot(&o.state, class)
	slot.Phase = Error
	slot.Message = msg
	o.mu.Unlock()
	o.emit([]notice{{LevelError, class, msg}})
	return err
}

// begin issues a token for class and applies the Loading transition.
func (o *Orchestrator) begin(class Class, loading func(s *Session)) uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.counter++
	token := o.counter
	o.latest[class] = token
	o.pending[class] = true
	if class != ClassPreview {
		o.state.ActiveRequestToken = token
	}
	loading(&o.state)
	o.logger.Debug("request issued", "action", class.String(), "token", token)
	return token
}

// finish applies the result of a primary-slot list action if token is
// still current.
func (o *Orchestrator) finish(class Class, token uint64, err error, apply func(s *Session) []notice) error {
	o.mu.Lock()
	if !o.current(class, token) {
		o.mu.Unlock()
		o.logger.Debug("discarding stale result", "action", class.String(), "token", token)
		return ErrSuperseded
	}
	o.pending[class] = false
	var notes []notice
	if err != nil {
		o.state.Phase = Error
		o.state.Message = UserMessage(err)
		notes = []notice{{LevelError, class, o.state.Message}}
	} else {
		o.state.Phase = Ready
		o.state.Message = ""
		notes = apply(&o.state)
	}
	o.mu.Unlock()

	o.emit(notes)
	return err
}

func (o *Orchestrator) current(class Class, token uint64) bool {
	return o.latest[class] == token
}

func (o *Orchestrator) invalidate(class Class) {
	o.counter++
	o.latest[class] = o.counter
	o.pending[class] = false
}

func (o *Orchestrator) slot(s *Session, class Class) *Slot {
	if class == ClassPreview {
		return &s.Preview
	}
	return &s.Slot
}

func (o *Orchestrator) binder(class Class) Binder {
	if class == ClassPreview {
		return o.preview
	}
	return o.player
}

func (o *Orchestrator) emit(notes []notice) {
	for _, n := range notes {
		o.notifier.Notify(n.level, n.class, n.message)
	}
}
