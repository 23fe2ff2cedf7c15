// Package session coordinates the normalizer, resolver, negotiator, download
// adapter and playback manager in response to user actions.
//
// Every action class (video, search, playlist, preview) is tagged with a
// token from one monotonic counter. A result is applied only if its token is
// still the latest issued for its class; anything older is discarded.
package session

import (
	"errors"
	"slices"

	"spectation/youtube"
)

// Phase is the tagged state of a session slot.
type Phase int

const (
	Idle Phase = iota
	Loading
	Ready
	Error
)

func (p Phase) String() string {
	switch p {
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Error:
		return "error"
	default:
		return "idle"
	}
}

// Class is an action class. Requests of one class supersede each other;
// different classes proceed independently.
type Class int

const (
	ClassVideo Class = iota
	ClassSearch
	ClassPlaylist
	ClassPreview
	numClasses
)

func (c Class) String() string {
	switch c {
	case ClassSearch:
		return "search"
	case ClassPlaylist:
		return "playlist"
	case ClassPreview:
		return "preview"
	default:
		return "video"
	}
}

// ErrSuperseded is returned by an action whose result was discarded because
// a newer action of the same class was issued, or the session was closed.
var ErrSuperseded = errors.New("session: request superseded")

// ErrNothingLoaded is returned by Download when the slot holds no video.
var ErrNothingLoaded = errors.New("session: no video loaded")

// Slot is the state of one video slot (the primary one or the preview).
type Slot struct {
	Phase   Phase
	Current *youtube.ResolvedVideo
	// Requested is the quality that was asked for; compare with
	// Current.Rendition.EffectiveQuality to detect a fallback.
	Requested string
	Message   string
	// PlayerMessage is the fallback text shown when no player could be
	// constructed for Current.
	PlayerMessage string
}

func (s Slot) clone() Slot {
	out := s
	out.Current = s.Current.Clone()
	return out
}

// Session is a snapshot of the orchestrator state. The embedded Slot is the
// primary video; its Phase and Message are shared with search and playlist
// actions.
type Session struct {
	Slot
	SearchQuery        string
	SearchResults      []youtube.SearchResultItem
	PlaylistTitle      string
	PlaylistItems      []youtube.PlaylistItem
	ActiveRequestToken uint64
	Preview            Slot
}

func (s Session) clone() Session {
	out := s
	out.Slot = s.Slot.clone()
	out.SearchResults = slices.Clone(s.SearchResults)
	out.PlaylistItems = slices.Clone(s.PlaylistItems)
	out.Preview = s.Preview.clone()
	return out
}
