// Package config manages application configuration.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/afero"
	"github.com/spf13/viper"

	"spectation/internal/retry"
	"spectation/youtube"
)

// EnvPrefix prefixes every environment override, e.g. SPECTATION_BACKEND_URL.
const EnvPrefix = "SPECTATION"

// Config holds all application configuration.
type Config struct {
	// BackendURL is the extraction backend endpoint accepting JSON actions.
	BackendURL string `mapstructure:"backend_url"`
	// ProxyURL is the byte proxy used for downloads.
	ProxyURL string `mapstructure:"proxy_url"`
	// DefaultQuality is requested when the user picks none.
	DefaultQuality string `mapstructure:"default_quality"`
	// SearchMaxResults caps search results (1-50).
	SearchMaxResults int `mapstructure:"search_max_results"`
	// RequestTimeout bounds one backend call.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	// DownloadTimeout bounds one download through the proxy.
	DownloadTimeout time.Duration `mapstructure:"download_timeout"`
	// DownloadDir is where downloads are saved.
	DownloadDir string `mapstructure:"download_dir"`
	// PlayerPath is the mpv executable.
	PlayerPath string `mapstructure:"player_path"`

	// ListenAddr is where `spectation serve` listens.
	ListenAddr string `mapstructure:"listen_addr"`
	// PublicProxyURL overrides the proxy link the server hands out.
	PublicProxyURL string `mapstructure:"public_proxy_url"`
	// AllowedOrigins for CORS on the server.
	AllowedOrigins []string `mapstructure:"allowed_origins"`

	// YtdlpPath is the path to the yt-dlp executable (default: "yt-dlp")
	YtdlpPath string `mapstructure:"ytdlp_path"`
	// YtdlpTimeout is the maximum time to wait for one yt-dlp run
	YtdlpTimeout time.Duration `mapstructure:"ytdlp_timeout"`
	// YouTubeAPIKey enables the Data API for search and playlists.
	YouTubeAPIKey string `mapstructure:"youtube_api_key"`

	// MaxRetries is the maximum number of retries for yt-dlp runs
	MaxRetries int `mapstructure:"max_retries"`
	// InitialBackoff is the initial backoff duration for retries
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	// MaxBackoff is the maximum backoff duration for retries
	MaxBackoff time.Duration `mapstructure:"max_backoff"`
	// BackoffMultiplier is the multiplier for exponential backoff (must be > 1)
	BackoffMultiplier float64 `mapstructure:"backoff_multiplier"`

	// LogLevel is one of trace, debug, info, warn, error.
	LogLevel string `mapstructure:"log_level"`
}

// DefaultConfig returns configuration with safe defaults.
func DefaultConfig() *Config {
	return &Config{
		BackendURL:        "http://localhost:8080/api/video",
		ProxyURL:          "http://localhost:8080/api/proxy",
		DefaultQuality:    youtube.DefaultQuality,
		SearchMaxResults:  20,
		RequestTimeout:    60 * time.Second,
		DownloadTimeout:   30 * time.Minute,
		DownloadDir:       "downloads",
		PlayerPath:        "mpv",
		ListenAddr:        ":8080",
		AllowedOrigins:    []string{"*"},
		YtdlpPath:         "yt-dlp",
		YtdlpTimeout:      2 * time.Minute,
		MaxRetries:        3,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
		LogLevel:          "info",
	}
}

// SearchDirs returns the directories searched for spectation.{json,yaml}.
func SearchDirs() []string {
	dirs := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".config", "spectation"))
	}
	return dirs
}

// Load loads configuration from environment variables, config file, and applies defaults.
// Priority: env vars > config file > defaults
func Load() (*Config, error) {
	return LoadFrom(afero.NewOsFs(), SearchDirs()...)
}

// LoadFrom is Load reading the config file from fs, searching dirs in order.
func LoadFrom(fs afero.Fs, dirs ...string) (*Config, error) {
	v := viper.New()
	v.SetFs(fs)
	v.SetConfigName("spectation")
	for _, dir := range dirs {
		v.AddConfigPath(dir)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, DefaultConfig())

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key, which also makes AutomaticEnv see them
// during Unmarshal.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("backend_url", d.BackendURL)
	v.SetDefault("proxy_url", d.ProxyURL)
	v.SetDefault("default_quality", d.DefaultQuality)
	v.SetDefault("search_max_results", d.SearchMaxResults)
	v.SetDefault("request_timeout", d.RequestTimeout)
	v.SetDefault("download_timeout", d.DownloadTimeout)
	v.SetDefault("download_dir", d.DownloadDir)
	v.SetDefault("player_path", d.PlayerPath)
	v.SetDefault("listen_addr", d.ListenAddr)
	v.SetDefault("public_proxy_url", d.PublicProxyURL)
	v.SetDefault("allowed_origins", d.AllowedOrigins)
	v.SetDefault("ytdlp_path", d.YtdlpPath)
	v.SetDefault("ytdlp_timeout", d.YtdlpTimeout)
	v.SetDefault("youtube_api_key", d.YouTubeAPIKey)
	v.SetDefault("max_retries", d.MaxRetries)
	v.SetDefault("initial_backoff", d.InitialBackoff)
	v.SetDefault("max_backoff", d.MaxBackoff)
	v.SetDefault("backoff_multiplier", d.BackoffMultiplier)
	v.SetDefault("log_level", d.LogLevel)
}

// Validate checks that configuration values are valid and consistent.
// It returns an error if any configuration value is invalid.
func (c *Config) Validate() error {
	if err := validURL("backend_url", c.BackendURL); err != nil {
		return err
	}
	if err := validURL("proxy_url", c.ProxyURL); err != nil {
		return err
	}
	if c.PublicProxyURL != "" {
		if err := validURL("public_proxy_url", c.PublicProxyURL); err != nil {
			return err
		}
	}
	if youtube.ImpliedHeight(c.DefaultQuality) <= 0 {
		return fmt.Errorf("default_quality %q is not a quality label", c.DefaultQuality)
	}
	if c.SearchMaxResults < 1 || c.SearchMaxResults > 50 {
		return fmt.Errorf("search_max_results must be between 1 and 50")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive")
	}
	if c.DownloadTimeout <= 0 {
		return fmt.Errorf("download_timeout must be positive")
	}
	if c.YtdlpTimeout <= 0 {
		return fmt.Errorf("ytdlp_timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be non-negative")
	}
	if c.InitialBackoff <= 0 {
		return fmt.Errorf("initial_backoff must be positive")
	}
	if c.MaxBackoff <= 0 {
		return fmt.Errorf("max_backoff must be positive")
	}
	if c.MaxBackoff < c.InitialBackoff {
		return fmt.Errorf("max_backoff must be >= initial_backoff")
	}
	if c.BackoffMultiplier <= 1 {
		return fmt.Errorf("backoff_multiplier must be > 1")
	}
	if hclog.LevelFromString(c.LogLevel) == hclog.NoLevel {
		return fmt.Errorf("log_level %q is not a known level", c.LogLevel)
	}
	return nil
}

// Retry returns the retry policy for yt-dlp runs.
func (c *Config) Retry() retry.Config {
	r := retry.DefaultConfig()
	r.MaxRetries = c.MaxRetries
	r.InitialBackoff = c.InitialBackoff
	r.MaxBackoff = c.MaxBackoff
	r.Multiplier = c.BackoffMultiplier
	return r
}

// Logger builds the root logger at LogLevel.
func (c *Config) Logger() hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:   "spectation",
		Level:  hclog.LevelFromString(c.LogLevel),
		Output: os.Stderr,
	})
}

func validURL(key, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%s must be an http(s) URL, got %q", key, raw)
	}
	return nil
}
