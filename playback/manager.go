package playback

import (
	"context"
	"errors"
	"sync"

	"github.com/hashicorp/go-hclog"

	"spectation/youtube"
)

// Phase is the manager's state.
type Phase int

const (
	// NoPlayer means no player instance exists.
	NoPlayer Phase = iota
	// PlayerBound means exactly one player is live for State.Ref.
	PlayerBound
)

func (p Phase) String() string {
	if p == PlayerBound {
		return "bound"
	}
	return "no-player"
}

// State is a snapshot of the manager.
type State struct {
	Phase    Phase
	Ref      youtube.VideoReference
	PlayerID string
}

// Manager owns at most one live player. Bind and Unbind are serialized, so
// a rebind is dispose-then-construct as one step for every caller.
type Manager struct {
	mu      sync.Mutex
	factory Factory
	logger  hclog.Logger

	player Player
	ref    youtube.VideoReference
}

// NewManager creates a Manager in the NoPlayer state.
func NewManager(factory Factory, logger hclog.Logger) *Manager {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if factory == nil {
		factory = HeadlessFactory(logger)
	}
	return &Manager{factory: factory, logger: logger.Named("playback")}
}

// Bind disposes any live player and constructs a new one for rendition.
// On construction failure the manager is left in NoPlayer and a
// *ConstructionError is returned.
func (m *Manager) Bind(ctx context.Context, ref youtube.VideoReference, rendition youtube.Rendition, poster, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.disposeLocked()

	if rendition.PlaybackURL == "" {
		return &ConstructionError{Ref: ref, Err: errors.New("rendition has no playback url")}
	}
	if rendition.IsDemuxed {
		m.logger.Warn("separate audio stream is not played; offer it as a download", "ref", ref.String(), "quality", rendition.EffectiveQuality)
	}

	p, err := m.factory(ctx, Source{
		Ref:       ref,
		URL:       rendition.PlaybackURL,
		Poster:    poster,
		Title:     title,
		VideoOnly: rendition.IsDemuxed,
	})
	if err != nil {
		m.logger.Error("player construction failed", "ref", ref.String(), "error", err)
		return &ConstructionError{Ref: ref, Err: err}
	}

	m.player = p
	m.ref = ref
	m.logger.Debug("bound", "ref", ref.String(), "player", p.ID())
	return nil
}

// Unbind disposes the live player, if any.
func (m *Manager) Unbind() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disposeLocked()
}

// Close is Unbind.
func (m *Manager) Close() error {
	m.Unbind()
	return nil
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.player == nil {
		return State{Phase: NoPlayer}
	}
	return State{Phase: PlayerBound, Ref: m.ref, PlayerID: m.player.ID()}
}

// disposeLocked must be called with mu held. A failing Close still counts
// as disposed; the instance is never reused.
func (m *Manager) disposeLocked() {
	if m.player == nil {
		return
	}
	if err := m.player.Close(); err != nil {
		m.logger.Warn("player close failed", "player", m.player.ID(), "error", err)
	}
	m.player = nil
	m.ref = youtube.VideoReference{}
}
