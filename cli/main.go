package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"spectation/config"
	"spectation/download"
	"spectation/playback"
	"spectation/resolver"
	"spectation/session"
)

var (
	flagBackend  string
	flagLogLevel string
	flagConfig   string
)

var rootCmd = &cobra.Command{
	Use:   "spectation",
	Short: "Resolve, play and download videos through an extraction backend",
	Long: `spectation resolves video links, searches and playlists through an
extraction backend, plays the negotiated stream in mpv and saves media
through the byte proxy. "spectation serve" runs that backend locally.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagBackend, "backend", "", "Extraction backend endpoint (overrides backend_url)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level: trace, debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config-dir", "", "Directory holding spectation.{json,yaml}")

	rootCmd.AddCommand(serveCmd, resolveCmd, searchCmd, playlistCmd, downloadCmd, playCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// loadConfig loads configuration and applies the persistent flags.
func loadConfig() (*config.Config, hclog.Logger, error) {
	dirs := config.SearchDirs()
	if flagConfig != "" {
		dirs = []string{flagConfig}
	}
	cfg, err := config.LoadFrom(afero.NewOsFs(), dirs...)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	if flagBackend != "" {
		cfg.BackendURL = flagBackend
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return cfg, cfg.Logger(), nil
}

// newOrchestrator wires the client side: resolver, download adapter and a
// playback manager built from factory.
func newOrchestrator(cfg *config.Config, logger hclog.Logger, factory playback.Factory) *session.Orchestrator {
	res := resolver.New(resolver.Options{
		Endpoint: cfg.BackendURL,
		Timeout:  cfg.RequestTimeout,
		Logger:   logger,
	})
	dl := download.New(download.Options{
		ProxyURL: cfg.ProxyURL,
		Timeout:  cfg.DownloadTimeout,
		Dir:      cfg.DownloadDir,
		Fs:       afero.NewOsFs(),
		Logger:   logger,
	})
	return session.New(session.Options{
		Resolver:       res,
		Downloader:     dl,
		Player:         playback.NewManager(factory, logger),
		Notifier:       stderrNotifier{},
		Logger:         logger,
		DefaultQuality: cfg.DefaultQuality,
		MaxResults:     cfg.SearchMaxResults,
	})
}

type stderrNotifier struct{}

func (stderrNotifier) Notify(level session.Level, class session.Class, message string) {
	prefix := ""
	switch level {
	case session.LevelError:
		prefix = "Error: "
	case session.LevelWarn:
		prefix = "Warning: "
	}
	fmt.Fprintf(os.Stderr, "%s%s\n", prefix, message)
}
