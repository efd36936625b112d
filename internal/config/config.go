package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/natefinch/atomic"
	"github.com/robfig/cron/v3"
	"github.com/spf13/pflag"
	yamlv3 "gopkg.in/yaml.v3"

	"timeledger/internal/engine"
	"timeledger/internal/model"
	"timeledger/internal/timeline"
)

// EnvPrefix marks environment variables that override config keys, e.g.
// TIMELEDGER_CLOCKIFY_API_KEY for clockify.api_key.
const EnvPrefix = "TIMELEDGER_"

// ICSConfig describes a single ICS subscription source.
type ICSConfig struct {
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" koanf:"url" json:"url"`
	// ID is an internal identifier used for de-dup and logging.
	ID string `yaml:"id" koanf:"id" json:"id"`
	// Name is a human-friendly label.
	Name string `yaml:"name" koanf:"name" json:"name"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" koanf:"username" json:"username"`
	Password string `yaml:"password" koanf:"password" json:"password"`
}

// OwnerConfig identifies whose time is being reconciled.
type OwnerConfig struct {
	// Email is the owner's address. Sent mail from other senders and the
	// owner's own PARTSTAT are keyed on it.
	Email string `yaml:"email" koanf:"email" json:"email"`

	// Role selects the active priority column: TC, IC, CT or ONB.
	Role string `yaml:"role" koanf:"role" json:"role"`

	// Timezone is the IANA zone used for display and all-day detection.
	Timezone string `yaml:"timezone" koanf:"timezone" json:"timezone"`
}

// DomainsConfig decides which participant domains count as external.
type DomainsConfig struct {
	// Internal domains are dropped exactly.
	Internal []string `yaml:"internal" koanf:"internal" json:"internal"`
	// InternalSubstrings drop any domain containing one of them.
	InternalSubstrings []string `yaml:"internal_substrings" koanf:"internal_substrings" json:"internal_substrings"`
}

// MeetingsConfig configures calendar ingestion.
type MeetingsConfig struct {
	// MaxEvents caps the number of meetings per refresh.
	MaxEvents int `yaml:"max_events" koanf:"max_events" json:"max_events"`
	// ICS is the list of subscribed ICS sources.
	ICS []ICSConfig `yaml:"ics" koanf:"ics" json:"ics"`
}

// MailConfig configures sent-mail ingestion from a Maildir folder.
type MailConfig struct {
	// Dir is the Maildir folder holding sent messages (cur/ and new/).
	Dir string `yaml:"dir" koanf:"dir" json:"dir"`
	// MaxMessages caps the number of messages scanned, newest first.
	MaxMessages int `yaml:"max_messages" koanf:"max_messages" json:"max_messages"`
	// SkipSubjects drops messages whose subject contains any phrase.
	SkipSubjects []string `yaml:"skip_subjects" koanf:"skip_subjects" json:"skip_subjects"`
}

// TunablesConfig holds the window adjustment parameters.
type TunablesConfig struct {
	MinAdjustedFraction   float64 `yaml:"min_adjusted_fraction" koanf:"min_adjusted_fraction" json:"min_adjusted_fraction"`
	MaxStartDelayFraction float64 `yaml:"max_start_delay_fraction" koanf:"max_start_delay_fraction" json:"max_start_delay_fraction"`
	MaxEmailMinutes       int     `yaml:"max_email_minutes" koanf:"max_email_minutes" json:"max_email_minutes"`
	MinEmailMinutes       int     `yaml:"min_email_minutes" koanf:"min_email_minutes" json:"min_email_minutes"`
	MaxOverlapMinutes     int     `yaml:"max_overlap_minutes" koanf:"max_overlap_minutes" json:"max_overlap_minutes"`

	// PrepMinutes and FollowUpMinutes size the auxiliary windows logged
	// around each meeting. Zero disables them.
	PrepMinutes     int `yaml:"prep_minutes" koanf:"prep_minutes" json:"prep_minutes"`
	FollowUpMinutes int `yaml:"follow_up_minutes" koanf:"follow_up_minutes" json:"follow_up_minutes"`
}

// ClockifyConfig points at the time-tracking service.
type ClockifyConfig struct {
	BaseURL     string        `yaml:"base_url" koanf:"base_url" json:"base_url"`
	WorkspaceID string        `yaml:"workspace_id" koanf:"workspace_id" json:"workspace_id"`
	UserID      string        `yaml:"user_id" koanf:"user_id" json:"user_id"`
	APIKey      string        `yaml:"api_key" koanf:"api_key" json:"-"`
	PageSize    int           `yaml:"page_size" koanf:"page_size" json:"page_size"`
	MaxPages    int           `yaml:"max_pages" koanf:"max_pages" json:"max_pages"`
	Timeout     time.Duration `yaml:"timeout" koanf:"timeout" json:"timeout"`
}

// StoreConfig locates the SQLite database and the run lock.
type StoreConfig struct {
	DBPath   string `yaml:"db_path" koanf:"db_path" json:"db_path"`
	LockPath string `yaml:"lock_path" koanf:"lock_path" json:"lock_path"`
}

// Config is the top-level application configuration.
type Config struct {
	Owner OwnerConfig `yaml:"owner" koanf:"owner" json:"owner"`

	// LookbackHours bounds how far back a refresh looks for activity.
	LookbackHours int `yaml:"lookback_hours" koanf:"lookback_hours" json:"lookback_hours"`

	Domains  DomainsConfig  `yaml:"domains" koanf:"domains" json:"domains"`
	Meetings MeetingsConfig `yaml:"meetings" koanf:"meetings" json:"meetings"`
	Mail     MailConfig     `yaml:"mail" koanf:"mail" json:"mail"`
	Tunables TunablesConfig `yaml:"tunables" koanf:"tunables" json:"tunables"`
	Clockify ClockifyConfig `yaml:"clockify" koanf:"clockify" json:"clockify"`
	Store    StoreConfig    `yaml:"store" koanf:"store" json:"store"`

	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" koanf:"listen" json:"listen"`

	// RefreshCron is a standard cron schedule for "serve" (e.g. "0 * * * *").
	RefreshCron string `yaml:"refresh" koanf:"refresh" json:"refresh"`

	LogLevel string `yaml:"log_level" koanf:"log_level" json:"log_level"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" koanf:"basic_auth" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Owner: OwnerConfig{
			Role:     string(model.RoleTC),
			Timezone: "UTC",
		},
		LookbackHours: 24,
		Domains: DomainsConfig{
			Internal:           []string{"hubspot.com", "gmail.com"},
			InternalSubstrings: []string{"google.com"},
		},
		Meetings: MeetingsConfig{
			MaxEvents: 100,
			ICS:       []ICSConfig{},
		},
		Mail: MailConfig{
			MaxMessages:  100,
			SkipSubjects: []string{"out of office", "slow to respond"},
		},
		Tunables: TunablesConfig{
			MinAdjustedFraction:   timeline.DefaultMinAdjustedFraction,
			MaxStartDelayFraction: timeline.DefaultMaxStartDelayFraction,
			MaxEmailMinutes:       timeline.DefaultMaxEmailMinutes,
			MinEmailMinutes:       timeline.DefaultMinEmailMinutes,
			MaxOverlapMinutes:     timeline.DefaultMaxOverlapMinutes,
		},
		Clockify: ClockifyConfig{
			BaseURL:  "https://api.clockify.me/api/v1",
			PageSize: 3000,
			MaxPages: 5,
			Timeout:  30 * time.Second,
		},
		Store: StoreConfig{
			DBPath:   "timeledger.db",
			LockPath: "timeledger.lock",
		},
		Listen:      "127.0.0.1:8080",
		RefreshCron: "0 * * * *",
		LogLevel:    "info",
	}
}

// Normalize fills in missing/zero values with defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()

	c.Owner.Email = strings.ToLower(strings.TrimSpace(c.Owner.Email))
	if r, ok := model.ParseRole(c.Owner.Role); ok {
		c.Owner.Role = string(r)
	} else if strings.TrimSpace(c.Owner.Role) == "" {
		c.Owner.Role = def.Owner.Role
	}
	if c.Owner.Timezone == "" {
		c.Owner.Timezone = def.Owner.Timezone
	}
	if c.LookbackHours <= 0 {
		c.LookbackHours = def.LookbackHours
	}
	if c.Domains.Internal == nil {
		c.Domains.Internal = def.Domains.Internal
	}
	if c.Domains.InternalSubstrings == nil {
		c.Domains.InternalSubstrings = def.Domains.InternalSubstrings
	}
	if c.Meetings.MaxEvents <= 0 {
		c.Meetings.MaxEvents = def.Meetings.MaxEvents
	}
	if c.Meetings.ICS == nil {
		c.Meetings.ICS = []ICSConfig{}
	}
	if c.Mail.MaxMessages <= 0 {
		c.Mail.MaxMessages = def.Mail.MaxMessages
	}
	if c.Mail.SkipSubjects == nil {
		c.Mail.SkipSubjects = def.Mail.SkipSubjects
	}

	t := &c.Tunables
	if t.MinAdjustedFraction == 0 {
		t.MinAdjustedFraction = def.Tunables.MinAdjustedFraction
	}
	if t.MaxEmailMinutes == 0 {
		t.MaxEmailMinutes = def.Tunables.MaxEmailMinutes
	}
	if t.MinEmailMinutes == 0 {
		t.MinEmailMinutes = def.Tunables.MinEmailMinutes
	}

	if c.Clockify.BaseURL == "" {
		c.Clockify.BaseURL = def.Clockify.BaseURL
	}
	c.Clockify.BaseURL = strings.TrimRight(c.Clockify.BaseURL, "/")
	if c.Clockify.PageSize <= 0 {
		c.Clockify.PageSize = def.Clockify.PageSize
	}
	if c.Clockify.MaxPages <= 0 {
		c.Clockify.MaxPages = def.Clockify.MaxPages
	}
	if c.Clockify.Timeout <= 0 {
		c.Clockify.Timeout = def.Clockify.Timeout
	}
	if c.Store.DBPath == "" {
		c.Store.DBPath = def.Store.DBPath
	}
	if c.Store.LockPath == "" {
		c.Store.LockPath = c.Store.DBPath + ".lock"
	}
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.RefreshCron == "" {
		c.RefreshCron = def.RefreshCron
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
}

// Validate reports the first setting that cannot be used.
func (c *Config) Validate() error {
	if _, ok := model.ParseRole(c.Owner.Role); !ok {
		return fmt.Errorf("owner.role %q: want one of TC, IC, CT, ONB", c.Owner.Role)
	}
	if _, err := time.LoadLocation(c.Owner.Timezone); err != nil {
		return fmt.Errorf("owner.timezone: %w", err)
	}
	if _, err := cron.ParseStandard(c.RefreshCron); err != nil {
		return fmt.Errorf("refresh %q: %w", c.RefreshCron, err)
	}
	opts := c.EngineOptions()
	if err := opts.Meeting.Validate(); err != nil {
		return fmt.Errorf("tunables: %w", err)
	}
	if err := opts.Email.Validate(); err != nil {
		return fmt.Errorf("tunables: %w", err)
	}
	if opts.PrepMax < 0 || opts.FollowUpMax < 0 {
		return errors.New("tunables: prep_minutes and follow_up_minutes must be >= 0")
	}
	for i, src := range c.Meetings.ICS {
		if strings.TrimSpace(src.URL) == "" {
			return fmt.Errorf("meetings.ics[%d]: url is empty", i)
		}
	}
	return nil
}

// Role returns the active priority column.
func (c *Config) Role() model.Role {
	r, _ := model.ParseRole(c.Owner.Role)
	return r
}

// Location returns the configured time zone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Owner.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Lookback returns the refresh window length.
func (c *Config) Lookback() time.Duration {
	return time.Duration(c.LookbackHours) * time.Hour
}

// EngineOptions converts the tunables into engine options.
func (c *Config) EngineOptions() engine.Options {
	t := c.Tunables
	return engine.Options{
		Meeting: timeline.MeetingTunables{
			MinAdjustedFraction:   t.MinAdjustedFraction,
			MaxStartDelayFraction: t.MaxStartDelayFraction,
		},
		Email: timeline.EmailTunables{
			MaxEmail:   time.Duration(t.MaxEmailMinutes) * time.Minute,
			MinEmail:   time.Duration(t.MinEmailMinutes) * time.Minute,
			MaxOverlap: time.Duration(t.MaxOverlapMinutes) * time.Minute,
		},
		PrepMax:     time.Duration(t.PrepMinutes) * time.Minute,
		FollowUpMax: time.Duration(t.FollowUpMinutes) * time.Minute,
	}
}

// FlagKeys maps command-line flag names onto config keys.
var FlagKeys = map[string]string{
	"db":        "store.db_path",
	"lock":      "store.lock_path",
	"log-level": "log_level",
	"role":      "owner.role",
	"listen":    "listen",
	"lookback":  "lookback_hours",
}

// Load resolves the configuration in layers: built-in defaults, the YAML
// file at path, TIMELEDGER_* environment variables, then flags the user set
// explicitly. flags may be nil.
//
// If the file does not exist a default config is written there first
// (0600).
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	if _, err := os.Stat(path); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		if err := Save(path, DefaultConfig()); err != nil {
			return nil, fmt.Errorf("write default config: %w", err)
		}
	}

	k := koanf.New(".")
	if err := loadDefaults(k); err != nil {
		return nil, err
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	keys := envKeys(k)
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return keys[strings.ToLower(strings.TrimPrefix(s, EnvPrefix))]
	}), nil); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			return FlagKeys[f.Name], posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("read flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loadDefaults seeds k with the default config so every key exists before
// the file, environment and flags are layered on top.
func loadDefaults(k *koanf.Koanf) error {
	data, err := yamlv3.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	var m map[string]interface{}
	if err := yamlv3.Unmarshal(data, &m); err != nil {
		return err
	}
	flat := make(map[string]interface{})
	flatten("", m, flat)
	for key, value := range flat {
		if err := k.Set(key, value); err != nil {
			return err
		}
	}
	return nil
}

func flatten(prefix string, in map[string]interface{}, out map[string]interface{}) {
	for key, v := range in {
		full := key
		if prefix != "" {
			full = prefix + "." + key
		}
		if sub, ok := v.(map[string]interface{}); ok {
			flatten(full, sub, out)
			continue
		}
		out[full] = v
	}
}

// envKeys indexes the known config keys by their environment spelling:
// "clockify.api_key" is reachable as CLOCKIFY_API_KEY.
func envKeys(k *koanf.Koanf) map[string]string {
	out := make(map[string]string)
	for _, key := range k.Keys() {
		out[strings.ReplaceAll(key, ".", "_")] = key
	}
	out["basic_auth_username"] = "basic_auth.username"
	out["basic_auth_password"] = "basic_auth.password"
	return out
}

// Save writes the configuration to path as YAML.
//
// The parent directory is created (0700) if needed and the file is replaced
// atomically with 0600 permissions.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}

	data, err := yamlv3.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return err
	}
	return os.Chmod(path, 0o600)
}

// Save is a convenience method that delegates to the package-level Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
