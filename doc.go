// Package spectation resolves video links into playable and downloadable
// media through an extraction backend.
//
// # Overview
//
// A user action flows through these packages:
//
//   - youtube: normalizes raw input into a VideoReference or a SearchQuery,
//     and negotiates a Rendition from a format catalog
//   - resolver: talks to the extraction backend (resolve, search, playlist)
//   - download: saves media through the same-origin byte proxy
//   - playback: owns the single live player (mpv, or headless)
//   - session: the orchestrator tying them together with stale-result discard
//   - server: the extraction backend itself, built on yt-dlp, plus the proxy
//
// # Quick Start
//
// Resolve a video at a requested quality:
//
//	ctx := context.Background()
//	video, err := spectation.Resolve(ctx, "http://localhost:8080/api/video", "https://youtu.be/dQw4w9WgXcQ", "1080p")
//	if err != nil {
//		log.Fatal(err)
//	}
//	if video.Rendition.QualityChanged("1080p") {
//		fmt.Println("fell back to", video.Rendition.EffectiveQuality)
//	}
//
// # Configuration
//
// The CLI loads settings from multiple sources:
//
//  1. Environment variables (highest priority), e.g. SPECTATION_BACKEND_URL
//  2. Config file (spectation.yaml or .json in the working directory or ~/.config/spectation)
//  3. Default values (lowest priority)
//
// # Error Handling
//
// Sentinel errors are re-exported here for errors.Is checks:
//
//	if errors.Is(err, spectation.ErrNoFormatsAvailable) {
//		fmt.Println("nothing playable")
//	}
//
// # Dependencies
//
// The server requires yt-dlp in PATH or at SPECTATION_YTDLP_PATH. The play
// command requires mpv.
package spectation
