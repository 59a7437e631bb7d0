package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"github.com/ATKH/Radio-Beguin-Beta/redact"
)

type Config struct {
	Server     Server     `yaml:"server"`
	Log        Log        `yaml:"log"`
	SoundCloud SoundCloud `yaml:"soundcloud"`
	Catalog    Catalog    `yaml:"catalog"`
	Stream     Stream     `yaml:"stream"`
}

func (c *Config) ToDict() *zerolog.Event {
	return zerolog.Dict().
		Dict("server", c.Server.ToDict()).
		Dict("log", c.Log.ToDict()).
		Dict("soundcloud", c.SoundCloud.ToDict()).
		Dict("catalog", c.Catalog.ToDict()).
		Dict("stream", c.Stream.ToDict())
}

func (c *Config) setDefaults() {
	c.Server.setDefaults()
	c.Log.setDefaults()
	c.SoundCloud.setDefaults()
	c.Catalog.setDefaults()
	c.Stream.setDefaults()
}

func (c *Config) validate() error {
	if err := c.Server.validate(); nil != err {
		return fmt.Errorf("server config validation failed: %v", err)
	}

	if err := c.Log.validate(); nil != err {
		return fmt.Errorf("log config validation failed: %v", err)
	}

	if err := c.SoundCloud.validate(); nil != err {
		return fmt.Errorf("soundcloud config validation failed: %v", err)
	}

	if err := c.Catalog.validate(); nil != err {
		return fmt.Errorf("catalog config validation failed: %v", err)
	}

	if err := c.Stream.validate(); nil != err {
		return fmt.Errorf("stream config validation failed: %v", err)
	}

	return nil
}

type Server struct {
	ListenAddr      string   `yaml:"listen_addr"`
	LiveTrackURL    string   `yaml:"live_track_url"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

func (c *Server) ToDict() *zerolog.Event {
	return zerolog.Dict().
		Str("listen_addr", c.ListenAddr).
		Str("live_track_url", c.LiveTrackURL).
		Str("shutdown_timeout", c.ShutdownTimeout.String())
}

func (c *Server) setDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}

	if c.LiveTrackURL == "" {
		c.LiveTrackURL = "https://api.radioking.io/widget/radio/radio-beguin-1/track/current"
	}

	if c.ShutdownTimeout.Duration == 0 {
		c.ShutdownTimeout.Duration = 10 * time.Second
	}
}

func (c *Server) validate() error {
	if c.ShutdownTimeout.Duration < 0 {
		return errors.New("shutdown_timeout must be greater than 0")
	}

	return nil
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func (c *Log) ToDict() *zerolog.Event {
	return zerolog.Dict().
		Str("level", c.Level).
		Str("format", c.Format)
}

func (c *Log) setDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}

	if c.Format == "" {
		c.Format = "auto"
	}
}

func (c *Log) validate() error {
	if !slices.Contains([]string{"debug", "info", "warn", "error", "fatal", "panic"}, c.Level) {
		return fmt.Errorf(
			"level must be one of: debug, info, warn, error, fatal, panic, got: %s",
			c.Level,
		)
	}

	if !slices.Contains([]string{"json", "pretty", "auto"}, c.Format) {
		return fmt.Errorf("format must be 'json', 'pretty' or 'auto', got: %s", c.Format)
	}

	return nil
}

type SoundCloud struct {
	UserID       string             `yaml:"user_id"`
	APIBaseURL   string             `yaml:"api_base_url"`
	TokenURL     string             `yaml:"token_url"`
	AuthorizeURL string             `yaml:"authorize_url"`
	RedirectURI  string             `yaml:"redirect_uri"`
	PageLimit    int                `yaml:"page_limit"`
	TokenStore   string             `yaml:"token_store"`
	Timeouts     SoundCloudTimeouts `yaml:"timeouts"`

	// Read from the environment, never from the config file.
	ClientID     string `yaml:"-"`
	ClientSecret string `yaml:"-"`
	AccessToken  string `yaml:"-"`
	RefreshToken string `yaml:"-"`
}

func (c *SoundCloud) ToDict() *zerolog.Event {
	return zerolog.Dict().
		Str("user_id", c.UserID).
		Str("api_base_url", c.APIBaseURL).
		Str("token_url", c.TokenURL).
		Str("authorize_url", c.AuthorizeURL).
		Str("redirect_uri", c.RedirectURI).
		Int("page_limit", c.PageLimit).
		Str("token_store", c.TokenStore).
		Dict("timeouts", c.Timeouts.ToDict()).
		Str("client_id", redact.String(c.ClientID)).
		Str("client_secret", redact.String(c.ClientSecret)).
		Str("access_token", redact.String(c.AccessToken)).
		Str("refresh_token", redact.String(c.RefreshToken))
}

func (c *SoundCloud) setDefaults() {
	if c.APIBaseURL == "" {
		c.APIBaseURL = "https://api.soundcloud.com"
	}

	if c.TokenURL == "" {
		c.TokenURL = "https://secure.soundcloud.com/oauth/token"
	}

	if c.AuthorizeURL == "" {
		c.AuthorizeURL = "https://secure.soundcloud.com/authorize"
	}

	if c.PageLimit == 0 {
		c.PageLimit = 200
	}

	if c.TokenStore == "" {
		c.TokenStore = "tokens.db"
	}

	c.Timeouts.setDefaults()
}

func (c *SoundCloud) validate() error {
	if c.UserID == "" {
		return errors.New("user_id is required")
	}

	if c.ClientID == "" {
		return errors.New("make sure the SOUNDCLOUD_CLIENT_ID environment variable is set")
	}

	if c.ClientSecret == "" {
		return errors.New("make sure the SOUNDCLOUD_CLIENT_SECRET environment variable is set")
	}

	if c.PageLimit < 1 || c.PageLimit > 200 {
		return fmt.Errorf("page_limit must be between 1 and 200, got: %d", c.PageLimit)
	}

	if err := c.Timeouts.validate(); nil != err {
		return fmt.Errorf("timeouts config validation failed: %v", err)
	}

	return nil
}

// Timeouts are in seconds.
type SoundCloudTimeouts struct {
	TokenExchange int `yaml:"token_exchange"`
	ListPage      int `yaml:"list_page"`
	TrackDetail   int `yaml:"track_detail"`
	StreamResolve int `yaml:"stream_resolve"`
	ProxyFetch    int `yaml:"proxy_fetch"`
}

func (c *SoundCloudTimeouts) ToDict() *zerolog.Event {
	return zerolog.Dict().
		Int("token_exchange", c.TokenExchange).
		Int("list_page", c.ListPage).
		Int("track_detail", c.TrackDetail).
		Int("stream_resolve", c.StreamResolve).
		Int("proxy_fetch", c.ProxyFetch)
}

func (c *SoundCloudTimeouts) setDefaults() {
	if c.TokenExchange == 0 {
		c.TokenExchange = 10
	}

	if c.ListPage == 0 {
		c.ListPage = 15
	}

	if c.TrackDetail == 0 {
		c.TrackDetail = 10
	}

	if c.StreamResolve == 0 {
		c.StreamResolve = 10
	}

	if c.ProxyFetch == 0 {
		c.ProxyFetch = 60
	}
}

func (c *SoundCloudTimeouts) validate() error {
	if c.TokenExchange < 0 {
		return errors.New("token_exchange must be greater than 0")
	}

	if c.ListPage < 0 {
		return errors.New("list_page must be greater than 0")
	}

	if c.TrackDetail < 0 {
		return errors.New("track_detail must be greater than 0")
	}

	if c.StreamResolve < 0 {
		return errors.New("stream_resolve must be greater than 0")
	}

	if c.ProxyFetch < 0 {
		return errors.New("proxy_fetch must be greater than 0")
	}

	return nil
}

type Catalog struct {
	SnapshotFile  string   `yaml:"snapshot_file"`
	OverridesFile string   `yaml:"overrides_file"`
	MinPubDate    string   `yaml:"min_pub_date"`
	FreshFor      Duration `yaml:"fresh_for"`
	MaxListTags   int      `yaml:"max_list_tags"`
	PageRate      float64  `yaml:"page_rate"`
}

func (c *Catalog) ToDict() *zerolog.Event {
	return zerolog.Dict().
		Str("snapshot_file", c.SnapshotFile).
		Str("overrides_file", c.OverridesFile).
		Str("min_pub_date", c.MinPubDate).
		Str("fresh_for", c.FreshFor.String()).
		Int("max_list_tags", c.MaxListTags).
		Float64("page_rate", c.PageRate)
}

func (c *Catalog) setDefaults() {
	if c.SnapshotFile == "" {
		c.SnapshotFile = filepath.Join("data", "podcasts.json")
	}

	if c.FreshFor.Duration == 0 {
		c.FreshFor.Duration = time.Minute
	}

	if c.MaxListTags == 0 {
		c.MaxListTags = 3
	}

	if c.PageRate == 0 {
		c.PageRate = 2
	}
}

func (c *Catalog) validate() error {
	if c.MinPubDate != "" {
		if _, err := time.Parse(time.RFC3339, c.MinPubDate); nil != err {
			return fmt.Errorf("min_pub_date must be an RFC 3339 timestamp: %v", err)
		}
	}

	if c.FreshFor.Duration < 0 {
		return errors.New("fresh_for must be greater than 0")
	}

	if c.MaxListTags < 1 {
		return errors.New("max_list_tags must be greater than 0")
	}

	if c.PageRate <= 0 {
		return errors.New("page_rate must be greater than 0")
	}

	return nil
}

// MinPubDateTime returns the configured publication cutoff, or the zero time
// when no cutoff applies.
func (c *Catalog) MinPubDateTime() time.Time {
	if c.MinPubDate == "" {
		return time.Time{}
	}

	t, err := time.Parse(time.RFC3339, c.MinPubDate)
	if nil != err {
		return time.Time{}
	}

	return t
}

type Stream struct {
	URLTTL Duration `yaml:"url_ttl"`
}

func (c *Stream) ToDict() *zerolog.Event {
	return zerolog.Dict().
		Str("url_ttl", c.URLTTL.String())
}

func (c *Stream) setDefaults() {
	if c.URLTTL.Duration == 0 {
		c.URLTTL.Duration = 5 * time.Minute
	}
}

func (c *Stream) validate() error {
	if c.URLTTL.Duration < 0 {
		return errors.New("url_ttl must be greater than 0")
	}

	return nil
}

type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return fmt.Errorf("failed to parse duration: %v", err)
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("failed to parse duration: %v", err)
	}

	d.Duration = parsed

	return nil
}

func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(lo.Ternary(len(filename) > 0, filename, "config.yaml"))
	if nil != err {
		return nil, fmt.Errorf("failed to read config file %s: %v", filename, err)
	}

	var conf Config
	if err := yaml.Unmarshal(data, &conf); nil != err {
		return nil, fmt.Errorf("failed to parse config file %s: %v", filename, err)
	}

	conf.SoundCloud.ClientID = os.Getenv("SOUNDCLOUD_CLIENT_ID")
	conf.SoundCloud.ClientSecret = os.Getenv("SOUNDCLOUD_CLIENT_SECRET")
	conf.SoundCloud.AccessToken = os.Getenv("SOUNDCLOUD_ACCESS_TOKEN")
	conf.SoundCloud.RefreshToken = os.Getenv("SOUNDCLOUD_REFRESH_TOKEN")
	conf.setDefaults()

	if err := conf.validate(); nil != err {
		return nil, fmt.Errorf("configuration validation failed: %v", err)
	}

	return &conf, nil
}
