package resolver

import (
	"github.com/samber/lo"

	"spectation/youtube"
)

// Wire types shared with the server package.

// ResolveResponse is the backend's answer to a resolve (action "download").
type ResolveResponse struct {
	Title           string   `json:"title"`
	Thumbnail       string   `json:"thumbnail"`
	Duration        float64  `json:"duration"`
	VideoURL        string   `json:"video_url"`
	AudioURL        string   `json:"audio_url,omitempty"`
	DirectVideoURL  string   `json:"direct_video_url"`
	DirectAudioURL  string   `json:"direct_audio_url,omitempty"`
	SeparateStreams bool     `json:"separate_streams"`
	Quality         string   `json:"quality"`
	Uploader        string   `json:"uploader"`
	ViewCount       int64    `json:"view_count"`
	Description     string   `json:"description,omitempty"`
	UploadDate      string   `json:"upload_date,omitempty"`
	Formats         []Format `json:"formats,omitempty"`
	Channel         string   `json:"channel,omitempty"`
}

// Format is one entry of ResolveResponse.Formats. The audio/video flags are
// optional; codecs or height are used when they are missing.
type Format struct {
	Quality  string  `json:"quality"`
	Height   int     `json:"height"`
	FPS      float64 `json:"fps,omitempty"`
	URL      string  `json:"url"`
	Ext      string  `json:"ext,omitempty"`
	Filesize int64   `json:"filesize,omitempty"`
	Bitrate  float64 `json:"bitrate,omitempty"`
	VCodec   string  `json:"vcodec,omitempty"`
	ACodec   string  `json:"acodec,omitempty"`
	HasAudio *bool   `json:"has_audio,omitempty"`
	HasVideo *bool   `json:"has_video,omitempty"`
}

func (f Format) descriptor() youtube.FormatDescriptor {
	hasVideo := f.Height > 0
	switch {
	case f.HasVideo != nil:
		hasVideo = *f.HasVideo
	case f.VCodec != "":
		hasVideo = f.VCodec != "none"
	}
	hasAudio := true
	switch {
	case f.HasAudio != nil:
		hasAudio = *f.HasAudio
	case f.ACodec != "":
		hasAudio = f.ACodec != "none"
	}
	return youtube.FormatDescriptor{
		QualityLabel:    f.Quality,
		HeightPx:        f.Height,
		FPS:             int(f.FPS),
		Container:       f.Ext,
		RemoteURL:       f.URL,
		ApproxSizeBytes: f.Filesize,
		Bitrate:         f.Bitrate,
		HasAudio:        hasAudio,
		HasVideo:        hasVideo,
	}
}

// FormatFrom converts a catalog entry to its wire form.
func FormatFrom(d youtube.FormatDescriptor) Format {
	return Format{
		Quality:  d.QualityLabel,
		Height:   d.HeightPx,
		FPS:      float64(d.FPS),
		URL:      d.RemoteURL,
		Ext:      d.Container,
		Filesize: d.ApproxSizeBytes,
		Bitrate:  d.Bitrate,
		HasAudio: lo.ToPtr(d.HasAudio),
		HasVideo: lo.ToPtr(d.HasVideo),
	}
}

// Catalog builds the format catalog. Without a formats list it is
// synthesized from the direct stream URLs.
func (r ResolveResponse) Catalog() youtube.Catalog {
	if len(r.Formats) > 0 {
		return lo.Map(r.Formats, func(f Format, _ int) youtube.FormatDescriptor { return f.descriptor() })
	}

	videoURL := lo.Ternary(r.DirectVideoURL != "", r.DirectVideoURL, r.VideoURL)
	if videoURL == "" {
		return nil
	}
	label := lo.Ternary(youtube.ImpliedHeight(r.Quality) > 0, r.Quality, "")
	catalog := youtube.Catalog{{
		QualityLabel: label,
		HeightPx:     youtube.ImpliedHeight(label),
		RemoteURL:    videoURL,
		HasVideo:     true,
		HasAudio:     !r.SeparateStreams,
	}}

	audioURL := lo.Ternary(r.DirectAudioURL != "", r.DirectAudioURL, r.AudioURL)
	if r.SeparateStreams && audioURL != "" {
		catalog = append(catalog, youtube.FormatDescriptor{QualityLabel: "audio", RemoteURL: audioURL, HasAudio: true})
	}
	return catalog
}

// Item is a search hit or playlist entry on the wire.
type Item struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	URL         string  `json:"url"`
	Thumbnail   string  `json:"thumbnail"`
	Duration    float64 `json:"duration"`
	Uploader    string  `json:"uploader"`
	ViewCount   int64   `json:"view_count,omitempty"`
	Description string  `json:"description,omitempty"`
}

func (it Item) toItem() youtube.SearchResultItem {
	return youtube.SearchResultItem{
		ID:              it.ID,
		Title:           it.Title,
		SourceURL:       lo.Ternary(it.URL != "", it.URL, youtube.WatchURL(it.ID)),
		ThumbnailURL:    it.Thumbnail,
		DurationSeconds: int(it.Duration),
		Uploader:        it.Uploader,
		ViewCount:       it.ViewCount,
		Description:     it.Description,
	}
}

// ItemFrom converts a search or playlist item to its wire form.
func ItemFrom(it youtube.SearchResultItem) Item {
	return Item{
		ID:          it.ID,
		Title:       it.Title,
		URL:         it.SourceURL,
		Thumbnail:   it.ThumbnailURL,
		Duration:    float64(it.DurationSeconds),
		Uploader:    it.Uploader,
		ViewCount:   it.ViewCount,
		Description: it.Description,
	}
}

// SearchResponse is the backend's answer to a search.
type SearchResponse struct {
	Results []Item `json:"results"`
	Count   int    `json:"count"`
}

// PlaylistResponse is the backend's answer to a playlist listing.
type PlaylistResponse struct {
	Title  string `json:"playlist_title"`
	Videos []Item `json:"videos"`
	Count  int    `json:"count"`
}

// ErrorResponse is the body of every non-2xx backend response.
type ErrorResponse struct {
	Error string `json:"error"`
}
