package authsession

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
)

// DefaultPhoneRegion is used to normalize profile phone numbers that carry
// no country prefix.
const DefaultPhoneRegion = "US"

// Storage drivers
const (
	StorageMemory = "memory"
	StorageFile   = "file"
	StorageSQLite = "sqlite"
)

// Config is the file-backed configuration of a session manager.
type Config struct {
	Session SessionConfig `toml:"session" json:"session"`
	Storage StorageConfig `toml:"storage" json:"storage"`
	Backend BackendConfig `toml:"backend" json:"backend"`
	Profile ProfileConfig `toml:"profile" json:"profile"`
}

// SessionConfig tunes the session lifecycle.
type SessionConfig struct {
	InactivityTimeoutMinutes int    `toml:"inactivity_timeout_minutes" json:"inactivity_timeout_minutes"`
	TeardownTimeoutSeconds   int    `toml:"teardown_timeout_seconds" json:"teardown_timeout_seconds"`
	TokenKey                 string `toml:"token_key" json:"token_key"`
}

// StorageConfig selects where the bearer token is persisted.
type StorageConfig struct {
	Driver        string `toml:"driver" json:"driver"`
	Path          string `toml:"path" json:"path"`
	DSN           string `toml:"dsn" json:"dsn"`
	TimeoutMillis int    `toml:"timeout_ms" json:"timeout_ms"`
}

// BackendConfig locates the identity backend.
type BackendConfig struct {
	BaseURL               string `toml:"base_url" json:"base_url"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds" json:"request_timeout_seconds"`
}

// ProfileConfig controls profile post-processing.
type ProfileConfig struct {
	PhoneRegion string `toml:"phone_region" json:"phone_region"`
}

// DefaultConfig returns a working in-memory configuration.
func DefaultConfig() *Config {
	return &Config{
		Session: SessionConfig{
			InactivityTimeoutMinutes: int(DefaultInactivityTimeout / time.Minute),
			TeardownTimeoutSeconds:   int(defaultTeardownTimeout / time.Second),
			TokenKey:                 DefaultTokenKey,
		},
		Storage: StorageConfig{
			Driver:        StorageMemory,
			TimeoutMillis: int(defaultConfigMediumTimeout / time.Millisecond),
		},
		Backend: BackendConfig{
			BaseURL:               "http://localhost:8000/api",
			RequestTimeoutSeconds: 30,
		},
		Profile: ProfileConfig{
			PhoneRegion: DefaultPhoneRegion,
		},
	}
}

// LoadConfig overlays the TOML file at path on DefaultConfig, applies
// environment overrides and validates the result.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to decode config file").
			WithTextCode(TextCodeInvalidConfig).
			WithMetadata(map[string]any{"path": path})
	}
	cfg.ApplyEnv(os.LookupEnv)
	cfg.fillDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from AUTHSESSION_* variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if lookup == nil {
		return
	}
	if v, ok := lookup("AUTHSESSION_BACKEND_URL"); ok && v != "" {
		c.Backend.BaseURL = v
	}
	if v, ok := lookup("AUTHSESSION_STORAGE_DRIVER"); ok && v != "" {
		c.Storage.Driver = strings.ToLower(v)
	}
	if v, ok := lookup("AUTHSESSION_STORAGE_PATH"); ok && v != "" {
		c.Storage.Path = v
	}
	if v, ok := lookup("AUTHSESSION_STORAGE_DSN"); ok && v != "" {
		c.Storage.DSN = v
	}
	if v, ok := lookup("AUTHSESSION_INACTIVITY_TIMEOUT_MINUTES"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			c.Session.InactivityTimeoutMinutes = n
		}
	}
}

func (c *Config) fillDefaults() {
	defaults := DefaultConfig()
	if c.Session.InactivityTimeoutMinutes == 0 {
		c.Session.InactivityTimeoutMinutes = defaults.Session.InactivityTimeoutMinutes
	}
	if c.Session.TeardownTimeoutSeconds == 0 {
		c.Session.TeardownTimeoutSeconds = defaults.Session.TeardownTimeoutSeconds
	}
	if c.Session.TokenKey == "" {
		c.Session.TokenKey = defaults.Session.TokenKey
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = defaults.Storage.Driver
	}
	if c.Storage.TimeoutMillis == 0 {
		c.Storage.TimeoutMillis = defaults.Storage.TimeoutMillis
	}
	if c.Backend.RequestTimeoutSeconds == 0 {
		c.Backend.RequestTimeoutSeconds = defaults.Backend.RequestTimeoutSeconds
	}
	if c.Profile.PhoneRegion == "" {
		c.Profile.PhoneRegion = defaults.Profile.PhoneRegion
	}
}

// Validate checks every section. Failures are reported as ErrInvalidConfig
// with the per-field messages in the "fields" metadata.
func (c *Config) Validate() error {
	err := validation.ValidateStruct(c,
		validation.Field(&c.Session),
		validation.Field(&c.Storage),
		validation.Field(&c.Backend),
		validation.Field(&c.Profile),
	)
	if err == nil {
		return nil
	}

	clone := ErrInvalidConfig.Clone()
	if clone == nil {
		return ErrInvalidConfig
	}
	clone.Source = err
	return clone.WithMetadata(map[string]any{"fields": err.Error()})
}

func (s SessionConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.InactivityTimeoutMinutes, validation.Required, validation.Min(1), validation.Max(24*60)),
		validation.Field(&s.TeardownTimeoutSeconds, validation.Min(0), validation.Max(300)),
		validation.Field(&s.TokenKey, validation.Required, validation.Length(1, 128)),
	)
}

func (s StorageConfig) Validate() error {
	var pathRules, dsnRules []validation.Rule
	switch s.Driver {
	case StorageFile:
		pathRules = append(pathRules, validation.Required)
	case StorageSQLite:
		dsnRules = append(dsnRules, validation.Required)
	}
	return validation.ValidateStruct(&s,
		validation.Field(&s.Driver, validation.Required, validation.In(StorageMemory, StorageFile, StorageSQLite)),
		validation.Field(&s.Path, pathRules...),
		validation.Field(&s.DSN, dsnRules...),
		validation.Field(&s.TimeoutMillis, validation.Min(0), validation.Max(10000)),
	)
}

func (b BackendConfig) Validate() error {
	return validation.ValidateStruct(&b,
		validation.Field(&b.BaseURL, validation.Required, is.URL),
		validation.Field(&b.RequestTimeoutSeconds, validation.Min(0), validation.Max(600)),
	)
}

func (p ProfileConfig) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.PhoneRegion, validation.Length(2, 2)),
	)
}

// InactivityTimeout returns the idle limit as a duration
func (s SessionConfig) InactivityTimeout() time.Duration {
	return time.Duration(s.InactivityTimeoutMinutes) * time.Minute
}

// TeardownTimeout returns the remote sign-out bound as a duration
func (s SessionConfig) TeardownTimeout() time.Duration {
	return time.Duration(s.TeardownTimeoutSeconds) * time.Second
}

// MediumTimeout bounds each storage call. Token writes run inside the
// session commit, so this is also the longest a slow disk can stall it.
func (s StorageConfig) MediumTimeout() time.Duration {
	return time.Duration(s.TimeoutMillis) * time.Millisecond
}

// RequestTimeout returns the per-request bound as a duration
func (b BackendConfig) RequestTimeout() time.Duration {
	return time.Duration(b.RequestTimeoutSeconds) * time.Second
}

// Options turns the configuration into Machine options.
func (c *Config) Options() []Option {
	return []Option{
		WithInactivityTimeout(c.Session.InactivityTimeout()),
		WithTeardownTimeout(c.Session.TeardownTimeout()),
		WithPhoneRegion(c.Profile.PhoneRegion),
	}
}

// OpenTokenStore builds the configured token store. The returned close
// function releases the storage medium and is never nil.
func (c *Config) OpenTokenStore(ctx context.Context, opts ...TokenStoreOption) (TokenStore, func() error, error) {
	noop := func() error { return nil }
	opts = append([]TokenStoreOption{WithTokenStoreTimeout(c.Storage.MediumTimeout())}, opts...)

	switch c.Storage.Driver {
	case "", StorageMemory:
		return NewMemoryTokenStore(), noop, nil
	case StorageFile:
		medium := NewFileTokenMedium(c.Storage.Path, c.Session.TokenKey)
		return NewTokenStore(medium, opts...), noop, nil
	case StorageSQLite:
		medium, err := OpenSQLiteTokenMedium(ctx, c.Storage.DSN, c.Session.TokenKey)
		if err != nil {
			return nil, noop, err
		}
		return NewTokenStore(medium, opts...), medium.Close, nil
	default:
		return nil, noop, ErrInvalidConfig.Clone().WithMetadata(map[string]any{
			"driver": c.Storage.Driver,
		})
	}
}
