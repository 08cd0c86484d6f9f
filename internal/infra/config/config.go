// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/osa030/tunebox/internal/app/audiofilter"
)

// Config represents the application configuration.
type Config struct {
	Discord  DiscordConfig           `yaml:"discord"`
	Lavalink LavalinkConfig          `yaml:"lavalink"`
	Playback PlaybackConfig          `yaml:"playback"`
	Filters  map[string]FilterConfig `yaml:"filters"`
	Messages MessagesConfig          `yaml:"messages"`
	Spotify  SpotifyConfig           `yaml:"spotify"`
}

// DiscordConfig represents chat gateway configuration.
type DiscordConfig struct {
	Token  string `yaml:"token" validate:"required"`
	Prefix string `yaml:"prefix" default:"!" validate:"required,max=5"`
}

// LavalinkConfig represents audio node configuration.
type LavalinkConfig struct {
	Name                string `yaml:"name" default:"main"`
	Host                string `yaml:"host" default:"localhost" validate:"required,hostname|ip"`
	Port                int    `yaml:"port" default:"2333" validate:"gte=1,lte=65535"`
	Password            string `yaml:"password" validate:"required"`
	Secure              bool   `yaml:"secure"`
	ClientName          string `yaml:"client_name" default:"tunebox"`
	ReconnectIntervalMs int    `yaml:"reconnect_interval_ms" default:"5000" validate:"gte=100,lte=600000"`
	SearchPrefix        string `yaml:"search_prefix" default:"ytsearch"`
}

// PlaybackConfig represents session controller configuration.
type PlaybackConfig struct {
	DefaultVolume   int `yaml:"default_volume" default:"100" validate:"gte=0,lte=1000"`
	NotifyTimeoutMs int `yaml:"notify_timeout_ms" default:"5000" validate:"gte=0,lte=60000"`
	EventBuffer     int `yaml:"event_buffer" default:"32" validate:"gte=1,lte=4096"`
}

// FilterConfig overrides the parameter block of one audio filter.
type FilterConfig struct {
	Settings map[string]any `yaml:"settings" validate:"required"`
}

// MessagesConfig represents user-facing notices.
type MessagesConfig struct {
	NowPlaying string `yaml:"now_playing" default:"🎶 | Now playing **%s**."`
	QueueEmpty string `yaml:"queue_empty" default:"✅ | Queue is empty. Leaving voice channel.."`
}

// SpotifyConfig represents Spotify API configuration. Spotify links are
// only resolved when credentials are present.
type SpotifyConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret" validate:"required_with=ClientID"`
	Market       string `yaml:"market" validate:"omitempty,len=2" default:"US"`
}

// Load loads configuration from a YAML file.
// Environment variables take precedence over file values for sensitive fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}
	return Parse(data)
}

// Parse parses, completes and validates configuration from YAML bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	cfg.overrideFromEnv()

	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("DISCORD_TOKEN"); v != "" {
		c.Discord.Token = v
	}
	if v := os.Getenv("LAVALINK_PASSWORD"); v != "" {
		c.Lavalink.Password = v
	}
	if v := os.Getenv("SPOTIFY_CLIENT_ID"); v != "" {
		c.Spotify.ClientID = v
	}
	if v := os.Getenv("SPOTIFY_CLIENT_SECRET"); v != "" {
		c.Spotify.ClientSecret = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}

	for name := range c.Filters {
		if _, ok := audiofilter.ParseName(name); !ok {
			return errors.Newf("unknown filter in config: %s", name)
		}
	}

	return nil
}

// SpotifyEnabled reports whether Spotify credentials are configured.
func (c *Config) SpotifyEnabled() bool {
	return c.Spotify.ClientID != "" && c.Spotify.ClientSecret != ""
}

// FilterProfiles returns the built-in filter profiles with the configured
// overrides applied.
func (c *Config) FilterProfiles() (*audiofilter.Profiles, error) {
	profiles := audiofilter.DefaultProfiles()
	for key, f := range c.Filters {
		name, ok := audiofilter.ParseName(key)
		if !ok {
			return nil, errors.Newf("unknown filter: %s", key)
		}
		if err := profiles.Override(name, f.Settings); err != nil {
			return nil, errors.Wrapf(err, "filter %s", key)
		}
	}
	return profiles, nil
}

// NotifyTimeout returns the notice send timeout.
func (c *Config) NotifyTimeout() time.Duration {
	return time.Duration(c.Playback.NotifyTimeoutMs) * time.Millisecond
}

// ReconnectInterval returns the minimum delay between node reconnects.
func (c *Config) ReconnectInterval() time.Duration {
	return time.Duration(c.Lavalink.ReconnectIntervalMs) * time.Millisecond
}
