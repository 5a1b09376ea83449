package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

type Config struct {
	ServerURL    string           `mapstructure:"server_url" yaml:"server_url" json:"server_url"`
	APIKey       string           `mapstructure:"api_key" yaml:"api_key" json:"api_key"`
	DatasourceID string           `mapstructure:"datasource_id" yaml:"datasource_id" json:"datasource_id"`
	DashboardID  string           `mapstructure:"dashboard_id" yaml:"dashboard_id" json:"dashboard_id"`
	SectionID    string           `mapstructure:"section_id" yaml:"section_id" json:"section_id"`
	Debug        bool             `mapstructure:"debug" yaml:"debug" json:"debug"`
	PageSize     int              `mapstructure:"page_size" yaml:"page_size" json:"page_size"`
	Cache        CacheConfig      `mapstructure:"cache" yaml:"cache" json:"cache"`
	UI           UIConfig         `mapstructure:"ui" yaml:"ui" json:"ui"`
	Completion   CompletionConfig `mapstructure:"completion" yaml:"completion" json:"completion"`
	Stream       StreamConfig     `mapstructure:"stream" yaml:"stream" json:"stream"`
}

type CacheConfig struct {
	TTL     string `mapstructure:"ttl" yaml:"ttl" json:"ttl"`
	Enabled bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
}

type UIConfig struct {
	Compact bool   `mapstructure:"compact" yaml:"compact" json:"compact"`
	Color   string `mapstructure:"color" yaml:"color" json:"color"` // auto, always, never
	Pager   bool   `mapstructure:"pager" yaml:"pager" json:"pager"`
}

type CompletionConfig struct {
	Timeout string `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
}

// StreamConfig bounds a run stream. An empty or zero timeout waits for the
// backend to close the stream.
type StreamConfig struct {
	Timeout string `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
}

const (
	EnvPrefix     = "STUDIO"
	EnvConfigPath = "STUDIO_CONFIG"
	dirName       = ".studio"
)

// envKeys lists every key that can be overridden with a STUDIO_ variable.
var envKeys = []string{
	"server_url",
	"api_key",
	"datasource_id",
	"dashboard_id",
	"section_id",
	"debug",
	"page_size",
	"cache.ttl",
	"cache.enabled",
	"ui.compact",
	"ui.color",
	"ui.pager",
	"completion.timeout",
	"stream.timeout",
}

func Load(path string) (*Config, error) {
	_, err := os.Stat(path)
	if os.IsNotExist(err) {
		return Defaults(), nil
	}
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg as YAML, creating the parent directory. The file holds the
// API key, so it is readable by the owner only.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

func Defaults() *Config {
	return &Config{
		ServerURL: "http://localhost:8000",
		PageSize:  10,
		Cache: CacheConfig{
			TTL:     "5m",
			Enabled: true,
		},
		UI: UIConfig{
			Compact: false,
			Color:   "auto",
			Pager:   true,
		},
		Completion: CompletionConfig{
			Timeout: "2s",
		},
	}
}

// Dir returns ~/.studio, or .studio when the home directory is unknown.
func Dir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return dirName
	}
	return filepath.Join(homeDir, dirName)
}

func DiscoverPath(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	if envPath := os.Getenv(EnvConfigPath); envPath != "" {
		return envPath
	}
	return filepath.Join(Dir(), "config.yaml")
}

// LoadDotEnv loads .env.local and then .env from dir. Variables already set
// in the environment win, and .env.local wins over .env.
func LoadDotEnv(dir string) error {
	for _, name := range []string{".env.local", ".env"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return err
		}
	}
	return nil
}

// LoadWithEnv reads the config file at path when it exists and applies
// STUDIO_ environment overrides on top.
func LoadWithEnv(path string) (*Config, error) {
	v := viper.New()

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	_, err := os.Stat(path)
	if err == nil {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg, v)
	return cfg, nil
}

func applyDefaults(cfg *Config, v *viper.Viper) {
	d := Defaults()
	if cfg.ServerURL == "" {
		cfg.ServerURL = d.ServerURL
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = d.PageSize
	}
	if cfg.Cache.TTL == "" {
		cfg.Cache.TTL = d.Cache.TTL
		if !v.IsSet("cache.enabled") {
			cfg.Cache.Enabled = d.Cache.Enabled
		}
	}
	if cfg.UI.Color == "" {
		cfg.UI.Color = d.UI.Color
		if !v.IsSet("ui.pager") {
			cfg.UI.Pager = d.UI.Pager
		}
	}
	if cfg.Completion.Timeout == "" {
		cfg.Completion = d.Completion
	}
}

// CacheTTL returns cache.ttl as a duration, defaulting to five minutes.
func (c *Config) CacheTTL() time.Duration {
	return parseDuration(c.Cache.TTL, 5*time.Minute)
}

// CompletionTimeout returns completion.timeout, defaulting to two seconds.
func (c *Config) CompletionTimeout() time.Duration {
	return parseDuration(c.Completion.Timeout, 2*time.Second)
}

// StreamTimeout returns stream.timeout. Zero means no limit.
func (c *Config) StreamTimeout() time.Duration {
	return parseDuration(c.Stream.Timeout, 0)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}

// ShouldUseColor determines if color output should be used.
func (c *Config) ShouldUseColor(noColorFlag bool) bool {
	if noColorFlag {
		return false
	}
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return c.UI.Color != "never"
}

// MaskedAPIKey shows the last four characters of the API key.
func (c *Config) MaskedAPIKey() string {
	if c.APIKey == "" {
		return ""
	}
	if len(c.APIKey) <= 4 {
		return "****"
	}
	return strings.Repeat("*", 8) + c.APIKey[len(c.APIKey)-4:]
}
