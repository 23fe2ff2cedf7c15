package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"spectation/playback"
	"spectation/server"
	"spectation/session"
	"spectation/youtube"
)

var (
	flagQuality string
	flagMax     int
	flagAudio   bool
	flagDir     string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the extraction backend and byte proxy",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}

		extractor := youtube.NewYtdlpExtractor(cfg.YtdlpPath, logger)
		extractor.Timeout = cfg.YtdlpTimeout
		retryCfg := cfg.Retry()
		extractor.RetryConfig = &retryCfg

		if v, err := extractor.Version(cmd.Context()); err != nil {
			logger.Warn("yt-dlp is not usable", "path", cfg.YtdlpPath, "error", err)
		} else {
			logger.Info("using yt-dlp", "version", v)
		}

		opts := []server.Option{server.WithLogger(logger)}
		if cfg.YouTubeAPIKey != "" {
			api, err := youtube.NewAPISearcher(cmd.Context(), cfg.YouTubeAPIKey, logger)
			if err != nil {
				return fmt.Errorf("youtube api: %w", err)
			}
			api.RetryConfig = &retryCfg
			opts = append(opts, server.WithSearcher(api))
		}

		srv := server.New(server.Config{
			Addr:           cfg.ListenAddr,
			PublicProxyURL: cfg.PublicProxyURL,
			AllowedOrigins: cfg.AllowedOrigins,
			DefaultQuality: cfg.DefaultQuality,
			MaxResults:     cfg.SearchMaxResults,
			RequestTimeout: cfg.YtdlpTimeout,
		}, extractor, opts...)
		return srv.Run(cmd.Context())
	},
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <video-url>",
	Short: "Resolve a video and show the negotiated rendition",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		orch := newOrchestrator(cfg, logger, playback.HeadlessFactory(logger))
		defer orch.Close()

		if err := orch.LoadVideo(cmd.Context(), args[0], flagQuality); err != nil {
			return err
		}
		printVideo(orch.Snapshot())
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search for videos",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		if flagMax > 0 {
			cfg.SearchMaxResults = min(flagMax, 50)
		}
		orch := newOrchestrator(cfg, logger, playback.HeadlessFactory(logger))
		defer orch.Close()

		if err := orch.Search(cmd.Context(), strings.Join(args, " ")); err != nil {
			return err
		}
		printItems(orch.Snapshot().SearchResults)
		return nil
	},
}

var playlistCmd = &cobra.Command{
	Use:   "playlist <playlist-url>",
	Short: "List the videos of a playlist",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		orch := newOrchestrator(cfg, logger, playback.HeadlessFactory(logger))
		defer orch.Close()

		if err := orch.LoadPlaylist(cmd.Context(), args[0]); err != nil {
			return err
		}
		s := orch.Snapshot()
		fmt.Printf("%s\n\n", s.PlaylistTitle)
		printItems(s.PlaylistItems)
		return nil
	},
}

var downloadCmd = &cobra.Command{
	Use:   "download <video-url>",
	Short: "Download a video through the byte proxy",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		if flagDir != "" {
			cfg.DownloadDir = flagDir
		}
		orch := newOrchestrator(cfg, logger, playback.HeadlessFactory(logger))
		defer orch.Close()

		if err := orch.LoadVideo(cmd.Context(), args[0], flagQuality); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Downloading %s...\n", orch.Snapshot().Current.Title)
		_, err = orch.Download(cmd.Context(), session.DownloadOptions{Audio: flagAudio})
		return err
	},
}

var playCmd = &cobra.Command{
	Use:   "play <video-url>",
	Short: "Play a video in mpv",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}

		started := make(chan *playback.MPV, 1)
		mpv := playback.MPVFactory(cfg.PlayerPath, logger)
		factory := func(ctx context.Context, src playback.Source) (playback.Player, error) {
			p, err := mpv(ctx, src)
			if m, ok := p.(*playback.MPV); ok && err == nil {
				started <- m
			}
			return p, err
		}

		orch := newOrchestrator(cfg, logger, factory)
		defer orch.Close()

		if err := orch.LoadVideo(cmd.Context(), args[0], flagQuality); err != nil {
			return err
		}
		printVideo(orch.Snapshot())

		select {
		case m := <-started:
			select {
			case <-m.Wait():
			case <-cmd.Context().Done():
			}
			return nil
		default:
			return errors.New(orch.Snapshot().PlayerMessage)
		}
	},
}

func init() {
	for _, c := range []*cobra.Command{resolveCmd, downloadCmd, playCmd} {
		c.Flags().StringVarP(&flagQuality, "quality", "q", "", "Requested quality, e.g. 720p, 1080p60, 4k")
	}
	searchCmd.Flags().IntVarP(&flagMax, "max", "n", 0, "Maximum results (1-50)")
	downloadCmd.Flags().BoolVar(&flagAudio, "audio", false, "Download the separate audio stream")
	downloadCmd.Flags().StringVar(&flagDir, "dir", "", "Directory to save into (overrides download_dir)")
}

func printVideo(s session.Session) {
	v := s.Current
	if v == nil {
		return
	}
	r := v.Rendition
	fmt.Printf("Title:     %s\n", v.Title)
	fmt.Printf("Uploader:  %s\n", v.Uploader)
	fmt.Printf("Duration:  %s\n", formatDuration(v.DurationSeconds))
	fmt.Printf("Quality:   %s (requested %s)\n", r.EffectiveQuality, s.Requested)
	fmt.Printf("Demuxed:   %v\n", r.IsDemuxed)
	fmt.Printf("Playback:  %s\n", r.PlaybackURL)
	if r.DownloadAudioURL != "" {
		fmt.Printf("Audio:     %s\n", r.DownloadAudioURL)
	}

	if len(v.Catalog) == 0 {
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\nQUALITY\tHEIGHT\tEXT\tAUDIO\tVIDEO\tSIZE")
	for _, f := range v.Catalog {
		fmt.Fprintf(w, "%s\t%d\t%s\t%v\t%v\t%s\n", f.Label(), f.HeightPx, f.Container, f.HasAudio, f.HasVideo, formatSize(f.ApproxSizeBytes))
	}
	w.Flush()
}

func printItems(items []youtube.SearchResultItem) {
	if len(items) == 0 {
		fmt.Println("No videos found.")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VIDEO ID\tTITLE\tDURATION\tUPLOADER\tVIEWS")
	for _, it := range items {
		views := ""
		if it.ViewCount > 0 {
			views = fmt.Sprintf("%d", it.ViewCount)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", it.ID, truncate(it.Title, 50), formatDuration(it.DurationSeconds), truncate(it.Uploader, 24), views)
	}
	w.Flush()
	fmt.Fprintf(os.Stderr, "\nTotal: %d videos\n", len(items))
}

// truncate shortens s to maxLen runes, ending in "...".
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}

func formatDuration(seconds int) string {
	if seconds <= 0 {
		return ""
	}
	hours := seconds / 3600
	minutes := (seconds % 3600) / 60
	secs := seconds % 60

	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, secs)
	}
	return fmt.Sprintf("%d:%02d", minutes, secs)
}

func formatSize(n int64) string {
	switch {
	case n <= 0:
		return ""
	case n >= 1<<30:
		return fmt.Sprintf("%.1f GiB", float64(n)/(1<<30))
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	default:
		return fmt.Sprintf("%.0f KiB", float64(n)/(1<<10))
	}
}
