// Package engine wires configuration, repository, registry, classifier, cache,
// and selection builder into one ready-to-use value.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"compass/internal/cache"
	"compass/internal/classifier"
	"compass/internal/config"
	"compass/internal/observability"
	"compass/internal/registry"
	"compass/internal/repository"
	"compass/internal/selection"
	"compass/internal/shared/logging"
)

// Engine owns every long-lived component. Build it once per process.
type Engine struct {
	Config     config.Config
	Registry   *registry.Registry
	Repository repository.Repository
	Classifier *classifier.Classifier
	Cache      *cache.Cache
	Builder    *selection.Builder
	Metrics    *observability.Metrics
	Tracing    *observability.TracerProvider
	Logger     *slog.Logger

	closers []func(context.Context) error
}

type options struct {
	logOutput  io.Writer
	repository repository.Repository
	metrics    *observability.Metrics
}

// Option customises New.
type Option func(*options)

// WithLogOutput sends logs to w instead of stderr.
func WithLogOutput(w io.Writer) Option {
	return func(o *options) { o.logOutput = w }
}

// WithRepository replaces the configured repository backend.
func WithRepository(repo repository.Repository) Option {
	return func(o *options) { o.repository = repo }
}

// WithMetrics supplies the metrics recorder instead of creating one.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// New builds an Engine. Any registry defect, including a directive id missing
// from the repository, fails here rather than on first use.
func New(ctx context.Context, cfg config.Config, opts ...Option) (*Engine, error) {
	o := options{}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	e := &Engine{Config: cfg}
	e.Logger = observability.NewLogger(observability.LogConfig{
		Level:  cfg.Observability.Logging.Level,
		Format: cfg.Observability.Logging.Format,
		Output: o.logOutput,
	})
	logger := logging.NewSlogLogger(e.Logger, "engine")

	tp, err := observability.NewTracerProvider(cfg.Observability.Tracing)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	e.Tracing = tp
	e.closers = append(e.closers, tp.Shutdown)

	e.Metrics = o.metrics
	if e.Metrics == nil {
		m, err := observability.NewMetrics()
		if err != nil {
			_ = e.Close(ctx)
			return nil, fmt.Errorf("init metrics: %w", err)
		}
		e.Metrics = m
		e.closers = append(e.closers, m.Shutdown)
	}

	if o.repository != nil {
		e.Repository = o.repository
	} else {
		repo, closeRepo, err := OpenRepository(ctx, cfg.Repository)
		if err != nil {
			_ = e.Close(ctx)
			return nil, err
		}
		e.Repository = repo
		if closeRepo != nil {
			e.closers = append(e.closers, func(context.Context) error { return closeRepo() })
		}
	}

	reg, err := LoadRegistry(cfg.Registry)
	if err != nil {
		_ = e.Close(ctx)
		return nil, err
	}
	if err := reg.Verify(ctx, e.Repository); err != nil {
		_ = e.Close(ctx)
		return nil, err
	}
	e.Registry = reg
	logger.Info("registry %s loaded: %d contexts, %d directives, digest %s",
		reg.Source(), len(reg.Contexts()), len(reg.Directives()), reg.Digest())

	e.Classifier = classifier.New(reg)
	e.Cache = cache.New(e.Repository, cfg.Cache.MaxBytes,
		cache.WithLogger(logging.NewSlogLogger(e.Logger, "cache")),
		cache.WithObserver(e.Metrics),
	)
	e.Builder = selection.New(e.Classifier, reg, e.Cache,
		selection.WithHistoryCapacity(cfg.History.Capacity),
		selection.WithLogger(logging.NewSlogLogger(e.Logger, "selection")),
		selection.WithRecorder(e.Metrics),
		selection.WithTracer(tp.Tracer()),
	)
	return e, nil
}

// LoadRegistry reads the configured registry, or the built-in one when no
// path is set.
func LoadRegistry(cfg config.RegistryConfig) (*registry.Registry, error) {
	if cfg.Path == "" {
		return registry.Default()
	}
	return registry.Load(cfg.Path)
}

// OpenRepository opens the configured backend. The returned close func may be nil.
func OpenRepository(ctx context.Context, cfg config.RepositoryConfig) (repository.Repository, func() error, error) {
	switch cfg.Backend {
	case "", "builtin":
		repo, err := repository.Builtin()
		if err != nil {
			return nil, nil, fmt.Errorf("load builtin directives: %w", err)
		}
		return repo, nil, nil
	case "fs":
		info, err := os.Stat(cfg.Dir)
		if err != nil {
			return nil, nil, fmt.Errorf("directive dir: %w", err)
		}
		if !info.IsDir() {
			return nil, nil, fmt.Errorf("directive dir %s is not a directory", cfg.Dir)
		}
		repo, err := repository.NewFS(os.DirFS(cfg.Dir))
		if err != nil {
			return nil, nil, fmt.Errorf("index directives in %s: %w", cfg.Dir, err)
		}
		return repo, nil, nil
	case "sqlite":
		repo, err := repository.OpenSQLite(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return repo, repo.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown repository backend %q", cfg.Backend)
	}
}

// Select runs one selection, applying the configured timeout if any.
func (e *Engine) Select(ctx context.Context, text string) (*selection.Selection, error) {
	if e.Config.Selection.Timeout > 0 {
		return e.Builder.SelectWithin(ctx, text, e.Config.Selection.Timeout)
	}
	return e.Builder.Select(ctx, text)
}

// Classify labels text without resolving any directives.
func (e *Engine) Classify(text string) classifier.Result {
	return e.Classifier.Classify(text)
}

// Close releases the repository and flushes tracing, in reverse build order.
func (e *Engine) Close(ctx context.Context) error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	e.closers = nil
	return errors.Join(errs...)
}
