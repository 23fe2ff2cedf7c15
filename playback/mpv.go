package playback

import (
	"context"
	"fmt"
	"net/url"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
)

const mpvCloseTimeout = 3 * time.Second

// MPV plays a source in an external mpv window.
type MPV struct {
	id     string
	cmd    *exec.Cmd
	exited chan struct{}
	once   sync.Once
	logger hclog.Logger
}

// MPVFactory returns a Factory that launches mpv from path ("mpv" when empty).
func MPVFactory(path string, logger hclog.Logger) Factory {
	if path == "" {
		path = "mpv"
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return func(ctx context.Context, src Source) (Player, error) {
		return StartMPV(path, MPVArgs(src), logger)
	}
}

// MPVArgs builds the mpv command line for src.
func MPVArgs(src Source) []string {
	title := sanitizeTitle(src.Title)
	args := []string{
		"--no-terminal",
		"--really-quiet",
		"--force-window=yes",
		fmt.Sprintf("--force-media-title=%s", title),
		fmt.Sprintf("--title=%s", title),
	}
	if src.VideoOnly {
		args = append(args, "--aid=no")
	}
	return append(args, "--", src.URL)
}

// StartMPV starts mpv with args and reaps it in the background.
func StartMPV(path string, args []string, logger hclog.Logger) (*MPV, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("no media target")
	}
	if _, err := sanitizeMediaTarget(args[len(args)-1]); err != nil {
		return nil, fmt.Errorf("invalid media target: %w", err)
	}

	m := &MPV{
		id:     uuid.NewString(),
		cmd:    exec.Command(path, args...),
		exited: make(chan struct{}),
		logger: logger,
	}
	if err := m.cmd.Start(); err != nil {
		return nil, fmt.Errorf("start mpv: %w", err)
	}

	go func() {
		_ = m.cmd.Wait()
		close(m.exited)
	}()

	logger.Debug("mpv started", "id", m.id, "pid", m.cmd.Process.Pid)
	return m, nil
}

// ID implements Player.
func (m *MPV) ID() string { return m.id }

// Wait returns a channel that is closed when the mpv process exits.
func (m *MPV) Wait() <-chan struct{} { return m.exited }

// Close kills mpv and waits for the process to be reaped.
func (m *MPV) Close() error {
	var err error
	m.once.Do(func() {
		select {
		case <-m.exited:
			return
		default:
		}
		if m.cmd.Process != nil {
			_ = m.cmd.Process.Kill()
		}
		select {
		case <-m.exited:
		case <-time.After(mpvCloseTimeout):
			err = fmt.Errorf("mpv %s did not exit", m.id)
		}
		m.logger.Debug("mpv stopped", "id", m.id)
	})
	return err
}

// sanitizeMediaTarget rejects targets that mpv could read as flags and
// schemes other than http(s).
func sanitizeMediaTarget(link string) (string, error) {
	l := strings.TrimSpace(link)
	if l == "" {
		return "", fmt.Errorf("empty URL")
	}
	if strings.ContainsAny(l, "\x00\n\r") {
		return "", fmt.Errorf("invalid control characters in URL")
	}
	if strings.HasPrefix(l, "-") {
		return "", fmt.Errorf("url must not start with '-'")
	}
	if strings.Contains(l, "://") {
		u, err := url.Parse(l)
		if err != nil {
			return "", fmt.Errorf("invalid URL: %w", err)
		}
		switch strings.ToLower(u.Scheme) {
		case "http", "https":
			return l, nil
		default:
			return "", fmt.Errorf("unsupported URL scheme: %s", u.Scheme)
		}
	}
	return filepath.Clean(l), nil
}

func sanitizeTitle(title string) string {
	t := strings.NewReplacer("\n", " ", "\r", " ", "\t", " ", "\x00", "").Replace(title)
	return strings.TrimSpace(t)
}
