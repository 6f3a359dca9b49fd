package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// BaseURL is an absolute URL prefix that always ends in a slash.
type BaseURL string

func (u BaseURL) String() string { return string(u) }

func normalizeBaseURL(s string) BaseURL {
	s = strings.TrimSpace(s)
	if s != "" && !strings.HasSuffix(s, "/") {
		s += "/"
	}
	return BaseURL(s)
}

type DaemonConfig struct {
	ExpirationSeconds int `mapstructure:"expiration_seconds"`
}

type DocsRsConfig struct {
	BaseURL   BaseURL `mapstructure:"base_url"`
	UserAgent string  `mapstructure:"user_agent"`
}

type FetchConfig struct {
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type RenderConfig struct {
	// LinkBase prefixes relative item links in rendered pages. Empty leaves
	// them relative.
	LinkBase BaseURL `mapstructure:"link_base"`
}

type JournalConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type Config struct {
	Daemon  DaemonConfig  `mapstructure:"daemon"`
	DocsRs  DocsRsConfig  `mapstructure:"docsrs"`
	Fetch   FetchConfig   `mapstructure:"fetch"`
	Render  RenderConfig  `mapstructure:"render"`
	Journal JournalConfig `mapstructure:"journal"`
}

// cacheBase returns the base cache directory for implindex.
// Checks XDG_CACHE_HOME, then ~/.cache, then /tmp/implindex as fallback.
func cacheBase() string {
	if dir := os.Getenv("XDG_CACHE_HOME"); dir != "" {
		return filepath.Join(dir, "implindex")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".cache", "implindex")
	}
	return filepath.Join(os.TempDir(), "implindex")
}

// DBPath returns the path to the DuckDB journal file.
func DBPath() string {
	return filepath.Join(cacheBase(), "journal.db")
}

// CASDir returns the path to the content-addressable storage directory.
func CASDir() string {
	return filepath.Join(cacheBase(), "cas")
}

// JSONCacheDir returns the path to the rustdoc JSON cache directory.
func JSONCacheDir() string {
	return filepath.Join(cacheBase(), "json")
}

// LogPath returns the path to the daemon's log file.
func LogPath() string {
	return filepath.Join(cacheBase(), "daemon.log")
}

// SocketPath returns the path to the daemon's unix socket.
func SocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "implindex", "daemon.sock")
	}
	return filepath.Join(fmt.Sprintf("/run/user/%d", os.Getuid()), "implindex", "daemon.sock")
}

func InitializeViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("toml")

	viper.AddConfigPath(".")
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		viper.AddConfigPath(filepath.Join(xdg, "implindex"))
	} else if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(filepath.Join(home, ".config", "implindex"))
	}

	setDefaults(viper.GetViper())

	viper.SetEnvPrefix("IMPLINDEX")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("daemon.expiration_seconds", 600)
	v.SetDefault("docsrs.base_url", "https://docs.rs/")
	v.SetDefault("docsrs.user_agent", "implindex/0.1.0")
	v.SetDefault("fetch.cache_ttl", "10m")
	v.SetDefault("render.link_base", "")
	v.SetDefault("journal.enabled", true)
}

func stringToBaseURLHookFunc() mapstructure.DecodeHookFunc {
	return func(f, t reflect.Type, data interface{}) (interface{}, error) {
		if t != reflect.TypeOf(BaseURL("")) {
			return data, nil
		}
		if f.Kind() == reflect.String {
			return normalizeBaseURL(reflect.ValueOf(data).String()), nil
		}
		return data, nil
	}
}

func Load() (*Config, error) {
	if err := InitializeViper(); err != nil {
		return nil, err
	}
	return decode(viper.GetViper())
}

func decode(v *viper.Viper) (*Config, error) {
	var config Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			stringToBaseURLHookFunc(),
			mapstructure.StringToTimeDurationHookFunc(),
		),
		WeaklyTypedInput: true,
		Result:           &config,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if config.DocsRs.BaseURL == "" {
		return nil, fmt.Errorf("docsrs.base_url must not be empty")
	}
	if config.Fetch.CacheTTL < 0 {
		return nil, fmt.Errorf("fetch.cache_ttl must not be negative")
	}

	return &config, nil
}
