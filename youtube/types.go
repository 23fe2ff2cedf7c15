package youtube

import (
	"fmt"
	"net/url"
)

// Kind distinguishes single videos from playlists.
type Kind int

const (
	// KindVideo references a single video.
	KindVideo Kind = iota
	// KindPlaylist references a playlist.
	KindPlaylist
)

func (k Kind) String() string {
	switch k {
	case KindVideo:
		return "video"
	case KindPlaylist:
		return "playlist"
	default:
		return "unknown"
	}
}

// Target is the result of normalizing user input: either a VideoReference
// or a SearchQuery.
type Target interface {
	isTarget()
}

// VideoReference is a canonical identifier extracted from a URL.
// It is only produced by Normalize and cannot be changed afterwards.
type VideoReference struct {
	kind      Kind
	id        string
	sourceURL string
}

func (VideoReference) isTarget() {}

// Kind reports whether the reference is a video or a playlist.
func (r VideoReference) Kind() Kind { return r.kind }

// ID is the video or playlist id. Never empty for a normalized reference.
func (r VideoReference) ID() string { return r.id }

// SourceURL is the trimmed input the reference was parsed from.
func (r VideoReference) SourceURL() string { return r.sourceURL }

// IsZero reports whether r was not produced by Normalize.
func (r VideoReference) IsZero() bool { return r.id == "" }

// CanonicalURL returns the canonical YouTube URL for the reference.
func (r VideoReference) CanonicalURL() string {
	if r.kind == KindPlaylist {
		return "https://www.youtube.com/playlist?list=" + url.QueryEscape(r.id)
	}
	return "https://www.youtube.com/watch?v=" + url.QueryEscape(r.id)
}

func (r VideoReference) String() string {
	return r.kind.String() + ":" + r.id
}

// SearchQuery is free text that matched none of the URL shapes.
type SearchQuery struct {
	Text string
}

func (SearchQuery) isTarget() {}

// FormatDescriptor is one encoding option reported by the extraction backend.
// Duplicates by height are allowed.
type FormatDescriptor struct {
	QualityLabel    string `json:"quality"`
	HeightPx        int    `json:"height"`
	FPS             int    `json:"fps,omitempty"`
	Container       string `json:"ext,omitempty"`
	RemoteURL       string `json:"url"`
	ApproxSizeBytes int64  `json:"filesize,omitempty"`
	// Bitrate in kbit/s, used to rank audio-only entries.
	Bitrate  float64 `json:"bitrate,omitempty"`
	HasAudio bool    `json:"has_audio"`
	HasVideo bool    `json:"has_video"`
}

// Muxed reports whether the entry carries both audio and video.
func (f FormatDescriptor) Muxed() bool { return f.HasAudio && f.HasVideo }

// AudioOnly reports whether the entry carries audio without video.
func (f FormatDescriptor) AudioOnly() bool { return f.HasAudio && !f.HasVideo }

// Label is the quality label, or one derived from the height when the
// backend left it blank.
func (f FormatDescriptor) Label() string {
	if f.QualityLabel != "" {
		return f.QualityLabel
	}
	if f.HeightPx > 0 {
		return fmt.Sprintf("%dp", f.HeightPx)
	}
	if f.AudioOnly() {
		return "audio"
	}
	return ""
}

// Catalog is the set of formats available for one resolved video.
type Catalog []FormatDescriptor

// Rendition is the negotiated playback and download plan.
type Rendition struct {
	PlaybackURL      string `json:"playback_url"`
	DownloadVideoURL string `json:"download_video_url"`
	// DownloadAudioURL is set only for demuxed renditions, and may still be
	// empty when the catalog has no audio-only entry.
	DownloadAudioURL string `json:"download_audio_url,omitempty"`
	IsDemuxed        bool   `json:"is_demuxed"`
	EffectiveQuality string `json:"effective_quality"`
}

// QualityChanged reports whether negotiation settled on a different quality
// than the one requested.
func (r Rendition) QualityChanged(requested string) bool {
	return r.EffectiveQuality != requested
}

// ResolvedVideo is the result of a successful resolve. It is replaced
// wholesale when a new video loads.
type ResolvedVideo struct {
	Ref             VideoReference `json:"-"`
	Title           string         `json:"title"`
	ThumbnailURL    string         `json:"thumbnail"`
	DurationSeconds int            `json:"duration"`
	Uploader        string         `json:"uploader"`
	ViewCount       int64          `json:"view_count"`
	Description     string         `json:"description,omitempty"`
	UploadDateRaw   string         `json:"upload_date,omitempty"`
	Catalog         Catalog        `json:"formats"`
	Rendition       Rendition      `json:"rendition"`
}

// Clone returns a deep copy.
func (v *ResolvedVideo) Clone() *ResolvedVideo {
	if v == nil {
		return nil
	}
	cp := *v
	cp.Catalog = append(Catalog(nil), v.Catalog...)
	return &cp
}

// SearchResultItem is a lightweight summary of one search hit.
type SearchResultItem struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	SourceURL       string `json:"url"`
	ThumbnailURL    string `json:"thumbnail"`
	DurationSeconds int    `json:"duration"`
	Uploader        string `json:"uploader"`
	ViewCount       int64  `json:"view_count,omitempty"`
	Description     string `json:"description,omitempty"`
}

// PlaylistItem is one entry of a playlist listing.
type PlaylistItem = SearchResultItem

// Playlist is an ordered listing in backend rank order.
type Playlist struct {
	Title string         `json:"playlist_title"`
	Items []PlaylistItem `json:"videos"`
}

// Extraction is what an extractor learned about one video: metadata, the
// full format catalog and the media streams picked for the requested quality.
type Extraction struct {
	Video          ResolvedVideo
	VideoURL       string
	AudioURL       string
	SeparateStream bool
	HeightPx       int
	Channel        string
}

// Quality returns the picked stream's label in "NNNp" form, or "?p" when
// the height is unknown.
func (e *Extraction) Quality() string {
	if e.HeightPx > 0 {
		return fmt.Sprintf("%dp", e.HeightPx)
	}
	return "?p"
}
