package youtube

import (
	"errors"
	"fmt"
)

// Sentinel errors for normalization, negotiation and extraction.
var (
	ErrInvalidInput       = errors.New("youtube: invalid input")
	ErrEmptyInput         = fmt.Errorf("%w: empty input", ErrInvalidInput)
	ErrNoFormatsAvailable = errors.New("youtube: no formats available")
	ErrVideoNotFound      = errors.New("youtube: video not found")
	ErrRateLimited        = errors.New("youtube: rate limited")
	ErrNetworkTimeout     = errors.New("youtube: network timeout")
	ErrYtdlpNotInstalled  = errors.New("youtube: yt-dlp not installed")
	ErrNoMediaURL         = errors.New("youtube: no media url in extraction")
)

// ExtractorError wraps extraction errors with context about what failed.
// Use errors.As() to extract this error type and get operation details:
//
//	var exErr *youtube.ExtractorError
//	if errors.As(err, &exErr) {
//		fmt.Printf("%s failed for %s: %v\n", exErr.Source, exErr.Target, exErr.Err)
//	}
type ExtractorError struct {
	// Source indicates which backend produced the error ("ytdlp", "api").
	Source string
	// Target is the URL or query that was being extracted.
	Target string
	// Err is the underlying error that occurred.
	Err error
}

func (e *ExtractorError) Error() string {
	return "youtube: " + e.Source + " " + e.Target + ": " + e.Err.Error()
}

// Unwrap returns the underlying error for use with errors.Is() and errors.As().
func (e *ExtractorError) Unwrap() error { return e.Err }
