// Package config loads the runtime configuration for compass from a YAML
// file, COMPASS_* environment variables, and built-in defaults, in that
// order of precedence after the environment.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	compasserrors "compass/internal/errors"
	"compass/internal/observability"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. COMPASS_CACHE_MAX_BYTES.
const EnvPrefix = "COMPASS"

// Config is the full runtime configuration.
type Config struct {
	Registry      RegistryConfig       `mapstructure:"registry"`
	Repository    RepositoryConfig     `mapstructure:"repository"`
	Cache         CacheConfig          `mapstructure:"cache"`
	History       HistoryConfig        `mapstructure:"history"`
	Selection     SelectionConfig      `mapstructure:"selection"`
	Observability observability.Config `mapstructure:"observability"`
}

// RegistryConfig points at the context table. Empty Path means the built-in one.
type RegistryConfig struct {
	Path string `mapstructure:"path"`
}

// RepositoryConfig selects where directive bodies come from.
type RepositoryConfig struct {
	Backend string `mapstructure:"backend" validate:"oneof=builtin fs sqlite"`
	Dir     string `mapstructure:"dir" validate:"required_if=Backend fs"`
	DSN     string `mapstructure:"dsn" validate:"required_if=Backend sqlite"`
}

// CacheConfig bounds the directive cache.
type CacheConfig struct {
	MaxBytes int64 `mapstructure:"max_bytes" validate:"gt=0"`
}

// HistoryConfig bounds the selection history.
type HistoryConfig struct {
	Capacity int `mapstructure:"capacity" validate:"gt=0,lte=100000"`
}

// SelectionConfig holds per-request settings. A zero Timeout disables the deadline.
type SelectionConfig struct {
	Timeout time.Duration `mapstructure:"timeout" validate:"gte=0"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Repository:    RepositoryConfig{Backend: "builtin"},
		Cache:         CacheConfig{MaxBytes: 256 << 10},
		History:       HistoryConfig{Capacity: 64},
		Observability: observability.DefaultConfig(),
	}
}

type loadOptions struct {
	file        string
	searchPaths []string
}

// Option customises Load.
type Option func(*loadOptions)

// WithFile reads exactly path. A missing file is an error.
func WithFile(path string) Option {
	return func(o *loadOptions) { o.file = strings.TrimSpace(path) }
}

// WithSearchPaths looks for compass.yaml in dirs when no file is given.
func WithSearchPaths(dirs ...string) Option {
	return func(o *loadOptions) { o.searchPaths = append(o.searchPaths, dirs...) }
}

// Load resolves the configuration and validates it.
func Load(opts ...Option) (Config, error) {
	options := loadOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	v := viper.New()
	setDefaults(v, Default())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	source := "defaults"
	switch {
	case options.file != "":
		v.SetConfigFile(options.file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, &compasserrors.ConfigurationError{Source: options.file, Err: fmt.Errorf("read config: %w", err)}
		}
		source = options.file
	case len(options.searchPaths) > 0:
		v.SetConfigName("compass")
		v.SetConfigType("yaml")
		for _, dir := range options.searchPaths {
			v.AddConfigPath(dir)
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, &compasserrors.ConfigurationError{Source: "compass.yaml", Err: fmt.Errorf("read config: %w", err)}
			}
		} else {
			source = v.ConfigFileUsed()
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, &compasserrors.ConfigurationError{Source: source, Err: fmt.Errorf("decode config: %w", err)}
	}
	if err := Validate(cfg, source); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("registry.path", d.Registry.Path)
	v.SetDefault("repository.backend", d.Repository.Backend)
	v.SetDefault("repository.dir", d.Repository.Dir)
	v.SetDefault("repository.dsn", d.Repository.DSN)
	v.SetDefault("cache.max_bytes", d.Cache.MaxBytes)
	v.SetDefault("history.capacity", d.History.Capacity)
	v.SetDefault("selection.timeout", d.Selection.Timeout)

	obs := d.Observability
	v.SetDefault("observability.logging.level", obs.Logging.Level)
	v.SetDefault("observability.logging.format", obs.Logging.Format)
	v.SetDefault("observability.metrics.enabled", obs.Metrics.Enabled)
	v.SetDefault("observability.metrics.addr", obs.Metrics.Addr)
	v.SetDefault("observability.tracing.enabled", obs.Tracing.Enabled)
	v.SetDefault("observability.tracing.exporter", obs.Tracing.Exporter)
	v.SetDefault("observability.tracing.otlp_endpoint", obs.Tracing.OTLPEndpoint)
	v.SetDefault("observability.tracing.zipkin_endpoint", obs.Tracing.ZipkinEndpoint)
	v.SetDefault("observability.tracing.sample_rate", obs.Tracing.SampleRate)
	v.SetDefault("observability.tracing.service_name", obs.Tracing.ServiceName)
	v.SetDefault("observability.tracing.service_version", obs.Tracing.ServiceVersion)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return field.Name
		}
		return name
	})
	return v
}

// Validate checks cfg and reports every violation as one ConfigurationError.
func Validate(cfg Config, source string) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return &compasserrors.ConfigurationError{Source: source, Err: err}
	}
	issues := make([]compasserrors.Issue, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		key := strings.TrimPrefix(fe.Namespace(), "Config.")
		msg := fmt.Sprintf("%s fails %q", key, fe.Tag())
		if fe.Param() != "" {
			msg = fmt.Sprintf("%s fails %q (%s)", key, fe.Tag(), fe.Param())
		}
		issues = append(issues, compasserrors.Issue{
			ID:      key,
			Message: msg,
			Hint:    fmt.Sprintf("got %v; set %s or %s_%s", fe.Value(), key, EnvPrefix, strings.ToUpper(strings.ReplaceAll(key, ".", "_"))),
		})
	}
	return compasserrors.NewConfigurationError(source, issues)
}
