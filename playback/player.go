// Package playback owns the single live player instance bound to a resolved
// video and guarantees it is disposed before a new one is constructed.
package playback

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"spectation/youtube"
)

// ErrPlayerConstruction is matched by every player construction failure.
var ErrPlayerConstruction = errors.New("playback: player construction failed")

// ConstructionError reports that the player backend could not be started.
type ConstructionError struct {
	Ref youtube.VideoReference
	Err error
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("playback: construct player for %s: %v", e.Ref, e.Err)
}

// Unwrap exposes ErrPlayerConstruction and the cause.
func (e *ConstructionError) Unwrap() []error {
	return []error{ErrPlayerConstruction, e.Err}
}

// Player is a live playback widget. Close must release every native
// resource it holds; it is called exactly once.
type Player interface {
	ID() string
	Close() error
}

// Source is what a player is constructed with.
type Source struct {
	Ref    youtube.VideoReference
	URL    string
	Poster string
	Title  string
	// VideoOnly is set for demuxed renditions: the audio stream is offered
	// as a separate download and not played.
	VideoOnly bool
}

// Factory constructs a player for src.
type Factory func(ctx context.Context, src Source) (Player, error)

type headless struct {
	id     string
	src    Source
	logger hclog.Logger
}

func (h *headless) ID() string { return h.id }

func (h *headless) Close() error {
	h.logger.Debug("player disposed", "id", h.id)
	return nil
}

// HeadlessFactory returns players that only log, for runs without a display.
func HeadlessFactory(logger hclog.Logger) Factory {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return func(ctx context.Context, src Source) (Player, error) {
		if src.URL == "" {
			return nil, errors.New("no playback url")
		}
		p := &headless{id: uuid.NewString(), src: src, logger: logger}
		logger.Debug("player bound", "id", p.id, "ref", src.Ref.String(), "url", src.URL)
		return p, nil
	}
}
