package spectation

import (
	"spectation/download"
	"spectation/internal/retry"
	"spectation/playback"
	"spectation/resolver"
	"spectation/youtube"
)

// Type aliases for convenient error handling.
type (
	// UpstreamError is a non-success answer from the extraction backend.
	UpstreamError = resolver.UpstreamError
	// DownloadError is a failed proxy fetch or local save.
	DownloadError = download.Error
	// PlayerConstructionError is a player backend that failed to start.
	PlayerConstructionError = playback.ConstructionError
	// ExtractorError wraps yt-dlp and Data API failures.
	ExtractorError = youtube.ExtractorError
	// RetryableError wraps errors that occurred after retries were exhausted.
	RetryableError = retry.RetryableError
)

// Sentinel errors exported from sub-packages.
var (
	// ErrInvalidInput indicates an unparseable link or query.
	ErrInvalidInput = youtube.ErrInvalidInput
	// ErrEmptyInput indicates blank input. It matches ErrInvalidInput.
	ErrEmptyInput = youtube.ErrEmptyInput
	// ErrNoFormatsAvailable indicates a resolved video with an empty catalog.
	ErrNoFormatsAvailable = youtube.ErrNoFormatsAvailable
	// ErrUpstreamFailure indicates the backend answered with an error.
	ErrUpstreamFailure = resolver.ErrUpstreamFailure
	// ErrNotFound indicates the backend answered 404.
	ErrNotFound = resolver.ErrNotFound
	// ErrDownloadFailed indicates a download did not produce a file.
	ErrDownloadFailed = download.ErrDownloadFailed
	// ErrPlayerConstruction indicates no player could be started.
	ErrPlayerConstruction = playback.ErrPlayerConstruction
	// ErrYtdlpNotInstalled indicates yt-dlp binary was not found.
	ErrYtdlpNotInstalled = youtube.ErrYtdlpNotInstalled
)

// IsRetryable determines if an error should be retried.
func IsRetryable(err error) bool {
	return retry.IsRetryable(err)
}
