// Package config loads the exporter configuration from flags, environment
// (TRANSFIX_*) and an optional transfix.yaml through viper.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/Sternrassler/transfix-export/pkg/enumerate"
	"github.com/Sternrassler/transfix-export/pkg/job"
	"github.com/Sternrassler/transfix-export/pkg/logging"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable.
const EnvPrefix = "TRANSFIX"

// Config holds application settings.
type Config struct {
	BaseURL    string `mapstructure:"base-url"`
	AuthCookie string `mapstructure:"auth-cookie"`
	UserAgent  string `mapstructure:"user-agent"`

	From        string   `mapstructure:"from"`
	To          string   `mapstructure:"to"`
	Days        []string `mapstructure:"days"`
	JobIDs      []string `mapstructure:"job-ids"`
	DayFilter   []string `mapstructure:"day-filter"`
	JobTypes    []string `mapstructure:"job-types"`
	Split       string   `mapstructure:"split"`
	BatchSize   int      `mapstructure:"batch-size"`
	OldestFirst bool     `mapstructure:"oldest-first"`

	Concurrency int           `mapstructure:"concurrency"`
	UnitTimeout time.Duration `mapstructure:"unit-timeout"`

	OutputDir   string `mapstructure:"output-dir"`
	ArchiveName string `mapstructure:"archive-name"`
	EnrichURL   string `mapstructure:"enrich-url"`

	RedisAddr string `mapstructure:"redis-addr"`
	RedisDB   int    `mapstructure:"redis-db"`

	MinioEndpoint  string `mapstructure:"minio-endpoint"`
	MinioBucket    string `mapstructure:"minio-bucket"`
	MinioPrefix    string `mapstructure:"minio-prefix"`
	MinioAccessKey string `mapstructure:"minio-access-key"`
	MinioSecretKey string `mapstructure:"minio-secret-key"`
	MinioSSL       bool   `mapstructure:"minio-ssl"`

	LogLevel    string `mapstructure:"log-level"`
	LogPretty   bool   `mapstructure:"log-pretty"`
	NoTUI       bool   `mapstructure:"no-tui"`
	MetricsAddr string `mapstructure:"metrics-addr"`
}

// Defaults returns the default settings.
func Defaults() Config {
	return Config{
		BaseURL:     "https://www.midjourney.com",
		UserAgent:   "transfix-export/0.1.0",
		Split:       string(job.SplitNone),
		BatchSize:   enumerate.DefaultBatchSize,
		Concurrency: 3,
		UnitTimeout: 2 * time.Minute,
		OutputDir:   ".",
		LogLevel:    "info",
	}
}

// SetDefaults registers Defaults with v.
func SetDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("base-url", d.BaseURL)
	v.SetDefault("user-agent", d.UserAgent)
	v.SetDefault("split", d.Split)
	v.SetDefault("batch-size", d.BatchSize)
	v.SetDefault("concurrency", d.Concurrency)
	v.SetDefault("unit-timeout", d.UnitTimeout)
	v.SetDefault("output-dir", d.OutputDir)
	v.SetDefault("log-level", d.LogLevel)
}

// Load reads the configuration. A config file is optional: a missing file
// is not an error, a malformed one is.
func Load(v *viper.Viper, flags *pflag.FlagSet, configFile string) (Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("transfix")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// Validate checks the settings needed to run an export.
func (c Config) Validate() error {
	var errs []error

	if c.BaseURL == "" {
		errs = append(errs, errors.New("base-url is required"))
	} else if u, err := url.Parse(c.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("base-url %q is not an absolute URL", c.BaseURL))
	}
	if c.UserAgent == "" {
		errs = append(errs, errors.New("user-agent is required"))
	}
	if _, err := job.ParseSplitMode(c.Split); err != nil {
		errs = append(errs, err)
	}
	if c.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("batch-size must be positive, got %d", c.BatchSize))
	}
	if c.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("concurrency must be positive, got %d", c.Concurrency))
	}
	if c.OutputDir == "" {
		errs = append(errs, errors.New("output-dir is required"))
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if (c.MinioEndpoint == "") != (c.MinioBucket == "") {
		errs = append(errs, errors.New("minio-endpoint and minio-bucket must be set together"))
	}

	from, to, err := c.Range()
	if err != nil {
		errs = append(errs, err)
	} else if !from.IsZero() && !to.IsZero() && to.Before(from) {
		errs = append(errs, fmt.Errorf("to (%s) is before from (%s)", c.To, c.From))
	}
	if _, err := c.ExplicitDays(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Filter(); err != nil {
		errs = append(errs, err)
	}
	if len(c.JobIDs) > 0 && (c.From != "" || c.To != "" || len(c.Days) > 0 || len(c.DayFilter) > 0 || len(c.JobTypes) > 0) {
		errs = append(errs, errors.New("job-ids cannot be combined with from, to, days, day-filter or job-types"))
	}

	return errors.Join(errs...)
}

// Range parses From and To. A missing bound is zero; a single bound selects
// that day only.
func (c Config) Range() (from, to time.Time, err error) {
	if c.From != "" {
		if from, err = enumerate.ParseDay(c.From); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("from: %w", err)
		}
	}
	if c.To != "" {
		if to, err = enumerate.ParseDay(c.To); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("to: %w", err)
		}
	}
	switch {
	case from.IsZero() && !to.IsZero():
		from = to
	case to.IsZero() && !from.IsZero():
		to = from
	}
	return from, to, nil
}

// ExplicitDays parses Days.
func (c Config) ExplicitDays() ([]time.Time, error) {
	days := make([]time.Time, 0, len(c.Days))
	for _, d := range c.Days {
		t, err := enumerate.ParseDay(strings.TrimSpace(d))
		if err != nil {
			return nil, fmt.Errorf("days: %w", err)
		}
		days = append(days, t)
	}
	return days, nil
}

// Filter parses DayFilter entries of the form key=value into the query
// parameters sent with every day listing.
func (c Config) Filter() (enumerate.DayFilter, error) {
	if len(c.DayFilter) == 0 {
		return nil, nil
	}
	filter := make(enumerate.DayFilter, len(c.DayFilter))
	for _, entry := range c.DayFilter {
		key, value, ok := strings.Cut(strings.TrimSpace(entry), "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("day-filter: %q is not key=value", entry)
		}
		filter[key] = value
	}
	return filter, nil
}

// Enumerate builds the enumerator configuration. Validate must have passed.
func (c Config) Enumerate() enumerate.Config {
	cfg := enumerate.DefaultConfig()
	cfg.From, cfg.To, _ = c.Range()
	cfg.Days, _ = c.ExplicitDays()
	cfg.Filter, _ = c.Filter()
	for _, id := range c.JobIDs {
		if id = strings.TrimSpace(id); id != "" {
			cfg.JobIDs = append(cfg.JobIDs, id)
		}
	}
	cfg.Predicate = job.TypeIn(c.JobTypes...)
	cfg.Split, _ = job.ParseSplitMode(c.Split)
	cfg.BatchSize = c.BatchSize
	cfg.OldestFirst = c.OldestFirst
	return cfg
}

// Redacted returns a copy safe to log.
func (c Config) Redacted() Config {
	if c.AuthCookie != "" {
		c.AuthCookie = "[redacted]"
	}
	if c.MinioSecretKey != "" {
		c.MinioSecretKey = "[redacted]"
	}
	return c
}
