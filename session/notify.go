package session

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-hclog"

	"spectation/download"
	"spectation/playback"
	"spectation/resolver"
	"spectation/youtube"
)

// Level is the severity of a notification.
type Level int

const (
	LevelInfo Level = iota
	LevelWarn
	LevelError
)

// Notifier receives user-facing notifications. It is called without any
// orchestrator lock held.
type Notifier interface {
	Notify(level Level, class Class, message string)
}

// LogNotifier writes notifications to an hclog logger.
type LogNotifier struct {
	Logger hclog.Logger
}

// Notify implements Notifier.
func (n LogNotifier) Notify(level Level, class Class, message string) {
	logger := n.Logger
	if logger == nil {
		return
	}
	switch level {
	case LevelError:
		logger.Error(message, "action", class.String())
	case LevelWarn:
		logger.Warn(message, "action", class.String())
	default:
		logger.Info(message, "action", class.String())
	}
}

type notice struct {
	level   Level
	class   Class
	message string
}

// UserMessage converts an action failure into the text shown to the user.
// Backend messages are passed through verbatim.
func UserMessage(err error) string {
	var upstream *resolver.UpstreamError
	var dl *download.Error
	switch {
	case err == nil:
		return ""
	case errors.Is(err, youtube.ErrEmptyInput):
		return "Please enter a video URL or a search query"
	case errors.Is(err, youtube.ErrInvalidInput):
		return "That does not look like a valid video link"
	case errors.Is(err, youtube.ErrNoFormatsAvailable):
		return "No playable formats are available for this video"
	case errors.As(err, &upstream):
		return upstream.Message
	case errors.As(err, &dl):
		return fmt.Sprintf("Download of %s failed", dl.Filename)
	case errors.Is(err, playback.ErrPlayerConstruction):
		return "The player could not be started; use the download links instead"
	default:
		return err.Error()
	}
}
