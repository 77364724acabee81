// Package config loads roomrec settings from a TOML file, ROOMREC_* environment
// variables and defaults, in increasing order of precedence: defaults, file,
// environment. Command flags are bound on top by the CLI.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/loykin/roomrec/internal/logger"
	"github.com/loykin/roomrec/internal/naming"
	"github.com/loykin/roomrec/internal/room"
)

// EnvPrefix is prepended to every environment override, e.g. ROOMREC_MONITOR_INTERVAL.
const EnvPrefix = "ROOMREC"

type Config struct {
	WorkDir    string       `mapstructure:"work_dir"`
	ArchiveDir string       `mapstructure:"archive_dir"`
	RoomsFile  string       `mapstructure:"rooms_file"`
	Rooms      []room.Entry `mapstructure:"rooms"`

	Monitor   MonitorConfig   `mapstructure:"monitor"`
	Recorder  RecorderConfig  `mapstructure:"recorder"`
	Provider  ProviderConfig  `mapstructure:"provider"`
	Log       LogConfig       `mapstructure:"log"`
	History   HistoryConfig   `mapstructure:"history"`
	Server    ServerConfig    `mapstructure:"server"`
	Organizer OrganizerConfig `mapstructure:"organizer"`
}

type MonitorConfig struct {
	Interval  time.Duration `mapstructure:"interval"`
	AutoMerge bool          `mapstructure:"auto_merge"`
	Preview   bool          `mapstructure:"preview"`
	StopGrace time.Duration `mapstructure:"stop_grace"`
	RapidExit time.Duration `mapstructure:"rapid_exit"`
}

type RecorderConfig struct {
	FFmpeg    string            `mapstructure:"ffmpeg"`
	FFplay    string            `mapstructure:"ffplay"`
	Format    string            `mapstructure:"format"`
	UserAgent string            `mapstructure:"user_agent"`
	Referer   string            `mapstructure:"referer"`
	Headers   map[string]string `mapstructure:"headers"`
	ExtraArgs []string          `mapstructure:"extra_args"`
	Env       []string          `mapstructure:"env"`
	EnvFiles  []string          `mapstructure:"env_files"`
}

type ProviderConfig struct {
	URL     string            `mapstructure:"url"`
	Timeout time.Duration     `mapstructure:"timeout"`
	Headers map[string]string `mapstructure:"headers"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Color      bool   `mapstructure:"color"`
	Timestamps bool   `mapstructure:"timestamps"`
	Source     bool   `mapstructure:"source"`
	Dir        string `mapstructure:"dir"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

type HistoryConfig struct {
	DSN string `mapstructure:"dsn"`
}

type ServerConfig struct {
	Listen string    `mapstructure:"listen"`
	TLS    TLSConfig `mapstructure:"tls"`
}

// TLSConfig enables HTTPS on the operator API. Either CertFile and KeyFile
// or Dir (tls.crt/tls.key, optionally generated) must be set.
type TLSConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	CertFile     string `mapstructure:"cert_file"`
	KeyFile      string `mapstructure:"key_file"`
	Dir          string `mapstructure:"dir"`
	AutoGenerate bool   `mapstructure:"auto_generate"`
	MinVersion   string `mapstructure:"min_version"`
}

type OrganizerConfig struct {
	OnStart  bool          `mapstructure:"on_start"`
	Schedule string        `mapstructure:"schedule"`
	Settle   time.Duration `mapstructure:"settle"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("work_dir", ".")
	v.SetDefault("archive_dir", "archive")
	v.SetDefault("rooms_file", "config_rooms.txt")

	v.SetDefault("monitor.interval", 30*time.Second)
	v.SetDefault("monitor.auto_merge", false)
	v.SetDefault("monitor.preview", false)
	v.SetDefault("monitor.stop_grace", 10*time.Second)
	v.SetDefault("monitor.rapid_exit", 10*time.Second)

	v.SetDefault("recorder.ffmpeg", "ffmpeg")
	v.SetDefault("recorder.ffplay", "ffplay")
	v.SetDefault("recorder.format", "mp4")
	v.SetDefault("recorder.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	v.SetDefault("recorder.referer", "https://live.douyin.com/")

	v.SetDefault("provider.timeout", 10*time.Second)

	v.SetDefault("log.level", logger.LevelInfo)
	v.SetDefault("log.format", logger.FormatText)
	v.SetDefault("log.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.max_age_days", logger.DefaultMaxAgeDays)

	v.SetDefault("organizer.on_start", true)
	v.SetDefault("organizer.settle", 10*time.Second)
}

// New returns a viper instance with defaults and environment overrides wired.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads path (optional) into v and decodes the result.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return Decode(v)
}

// Decode unmarshals and validates the current state of v.
func Decode(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := c.normalize(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) normalize() error {
	if c.WorkDir == "" {
		c.WorkDir = "."
	}
	if c.ArchiveDir == "" {
		c.ArchiveDir = "archive"
	}
	if !filepath.IsAbs(c.ArchiveDir) {
		c.ArchiveDir = filepath.Join(c.WorkDir, c.ArchiveDir)
	}
	if c.RoomsFile != "" && !filepath.IsAbs(c.RoomsFile) {
		c.RoomsFile = filepath.Join(c.WorkDir, c.RoomsFile)
	}
	c.Recorder.Format = strings.ToLower(strings.TrimPrefix(c.Recorder.Format, "."))

	var errs []error
	if c.Monitor.Interval <= 0 {
		errs = append(errs, errors.New("monitor.interval must be positive"))
	}
	if !naming.IsMedia("x." + c.Recorder.Format) {
		errs = append(errs, fmt.Errorf("recorder.format %q is not one of %v", c.Recorder.Format, naming.Extensions))
	}
	if c.Provider.URL != "" && !strings.Contains(c.Provider.URL, "{room_id}") {
		errs = append(errs, errors.New("provider.url must contain {room_id}"))
	}
	for i, r := range c.Rooms {
		if r.ID == "" {
			errs = append(errs, fmt.Errorf("rooms[%d]: id is required", i))
		}
	}
	if c.Server.TLS.Enabled && c.Server.TLS.Dir == "" && (c.Server.TLS.CertFile == "" || c.Server.TLS.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires cert_file and key_file, or dir"))
	}
	return errors.Join(errs...)
}

// Roster merges the rooms file with [[rooms]] entries; config entries win.
func (c *Config) Roster() (*room.Roster, error) {
	r, err := room.LoadRoster(c.RoomsFile)
	if err != nil {
		return nil, err
	}
	r.Add(c.Rooms...)
	return r, nil
}

// Logger converts the log section to the logger package configuration.
func (c *Config) Logger() logger.Config {
	return logger.Config{
		Slog: logger.SlogConfig{
			Level:      c.Log.Level,
			Format:     c.Log.Format,
			Color:      c.Log.Color,
			TimeStamps: c.Log.Timestamps,
			Source:     c.Log.Source,
		},
		File: logger.FileConfig{
			Dir:        c.Log.Dir,
			MaxSizeMB:  c.Log.MaxSizeMB,
			MaxBackups: c.Log.MaxBackups,
			MaxAgeDays: c.Log.MaxAgeDays,
			Compress:   c.Log.Compress,
		},
	}
}

// ProviderHTTP returns the HTTP provider settings.
func (c *Config) ProviderHTTP() room.HTTPConfig {
	return room.HTTPConfig{URL: c.Provider.URL, Timeout: c.Provider.Timeout, Headers: c.Provider.Headers}
}

// RecorderEnv merges recorder.env_files in order, then recorder.env on top,
// into K=V entries. Values are expanded later against the process environment.
func (c *Config) RecorderEnv() ([]string, error) {
	m := map[string]string{}
	var order []string
	set := func(k, v string) {
		if _, ok := m[k]; !ok {
			order = append(order, k)
		}
		m[k] = v
	}
	for _, p := range c.Recorder.EnvFiles {
		pairs, err := LoadEnvFile(p)
		if err != nil {
			return nil, err
		}
		for _, kv := range pairs {
			k, v, _ := strings.Cut(kv, "=")
			set(k, v)
		}
	}
	for _, kv := range c.Recorder.Env {
		if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
			set(strings.TrimSpace(k), v)
		}
	}
	out := make([]string, 0, len(order))
	for _, k := range order {
		out = append(out, k+"="+m[k])
	}
	return out, nil
}

// LoadEnvFile parses a .env file of KEY=VALUE lines. Blank lines and lines
// starting with # are ignored; order is preserved.
func LoadEnvFile(path string) ([]string, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("env file: %w", err)
	}
	var out []string
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if k, v, ok := strings.Cut(line, "="); ok {
			out = append(out, strings.TrimSpace(k)+"="+strings.TrimSpace(v))
		}
	}
	return out, nil
}

// Watch re-decodes the configuration whenever the file changes and hands
// valid results to apply. Invalid edits are logged and ignored.
func Watch(v *viper.Viper, log *slog.Logger, apply func(*Config)) {
	if log == nil {
		log = slog.Default()
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		c, err := Decode(v)
		if err != nil {
			log.Warn("config reload rejected", "file", e.Name, "error", err)
			return
		}
		log.Info("config reloaded", "file", e.Name)
		apply(c)
	})
	v.WatchConfig()
}
