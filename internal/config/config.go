// Package config provides YAML-based configuration loading for Calliope.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level Calliope configuration, loaded from calliope.yaml.
type Config struct {
	Platform   string           `yaml:"platform"` // chat platform, e.g. "discord"
	DataDir    string           `yaml:"data_dir"` // artifacts, downloads, sqlite db
	Discord    DiscordConfig    `yaml:"discord"`
	Web        WebConfig        `yaml:"web"`
	DB         DBConfig         `yaml:"db"`
	Recognizer RecognizerConfig `yaml:"recognizer"`
	Cleanup    CleanupConfig    `yaml:"cleanup"`
	Tools      ToolsConfig      `yaml:"tools"`
}

// DiscordConfig holds Discord connection settings. The bot token may also
// live in the settings store, which takes precedence over this file.
type DiscordConfig struct {
	Token string `yaml:"token"`
	// VoiceChannels optionally pins a guild id to a specific voice
	// channel. Unpinned guilds join their first voice channel.
	VoiceChannels map[string]string `yaml:"voice_channels"`
}

// WebConfig holds settings for the HTTP control surface.
type WebConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Port       int    `yaml:"port"`
	AuthSecret string `yaml:"auth_secret"` // generated at startup if empty
}

// DBConfig holds settings-database connection parameters.
type DBConfig struct {
	Driver   string `yaml:"driver"` // "sqlite" (default) or "mysql"
	Path     string `yaml:"path"`   // sqlite file
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
}

// RecognizerConfig holds the acoustic-fingerprint service endpoint. An
// empty URL disables the .shazam command.
type RecognizerConfig struct {
	URL        string `yaml:"url"`
	APIKey     string `yaml:"api_key"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// CleanupConfig schedules the stale-download sweep.
type CleanupConfig struct {
	Schedule  string `yaml:"schedule"`    // 5-field cron expression
	MaxAgeMin int    `yaml:"max_age_min"` // files older than this are stale
}

// ToolsConfig names the external binaries.
type ToolsConfig struct {
	YtDlp  string `yaml:"ytdlp"`
	FFmpeg string `yaml:"ffmpeg"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Platform == "" {
		c.Platform = "discord"
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.Web.Port == 0 {
		c.Web.Port = 5000
	}
	if c.DB.Driver == "" {
		c.DB.Driver = "sqlite"
	}
	if c.DB.Path == "" {
		c.DB.Path = filepath.Join(c.DataDir, "calliope.db")
	}
	if c.DB.Host == "" {
		c.DB.Host = "127.0.0.1"
	}
	if c.DB.Port == 0 {
		c.DB.Port = 3306
	}
	if c.DB.Database == "" {
		c.DB.Database = "calliope"
	}
	if c.Recognizer.TimeoutSec == 0 {
		c.Recognizer.TimeoutSec = 20
	}
	if c.Cleanup.Schedule == "" {
		c.Cleanup.Schedule = "*/30 * * * *"
	}
	if c.Cleanup.MaxAgeMin == 0 {
		c.Cleanup.MaxAgeMin = 60
	}
	if c.Tools.YtDlp == "" {
		c.Tools.YtDlp = "yt-dlp"
	}
	if c.Tools.FFmpeg == "" {
		c.Tools.FFmpeg = "ffmpeg"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Platform != "discord" {
		errs = append(errs, fmt.Sprintf("unsupported platform %q", c.Platform))
	}
	if c.DB.Driver != "sqlite" && c.DB.Driver != "mysql" {
		errs = append(errs, fmt.Sprintf("unsupported db driver %q", c.DB.Driver))
	}
	if c.Web.Port < 0 || c.Web.Port > 65535 {
		errs = append(errs, fmt.Sprintf("web port %d out of range", c.Web.Port))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// DownloadsDir returns the root of the per-chat download working areas.
func (c *Config) DownloadsDir() string {
	return filepath.Join(c.DataDir, "downloads")
}
