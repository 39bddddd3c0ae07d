package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/conneroisu/assetpipe/internal/catalog"
	"github.com/conneroisu/assetpipe/internal/clean"
	"github.com/conneroisu/assetpipe/internal/config"
	apperrors "github.com/conneroisu/assetpipe/internal/errors"
	"github.com/conneroisu/assetpipe/internal/logging"
	"github.com/conneroisu/assetpipe/internal/metrics"
	"github.com/conneroisu/assetpipe/internal/orchestrator"
	"github.com/conneroisu/assetpipe/internal/pipeline"
	"github.com/conneroisu/assetpipe/internal/transform"
	"github.com/spf13/viper"
)

// app holds the services every command is built from.
type app struct {
	cfg      *config.Config
	logger   logging.Logger
	catalog  *catalog.Catalog
	cleaner  *clean.Cleaner
	pipeline *pipeline.Pipeline
	compiler *transform.SassCompiler
	recorder *metrics.PrometheusRecorder
}

// loadConfig reads the configuration, attaching fix-it suggestions to errors.
func loadConfig() (*config.Config, error) {
	path := viper.ConfigFileUsed()
	if path == "" {
		path = "config.json"
	}
	if configReadErr != nil {
		return nil, apperrors.NewEnhancedError("Could not read configuration", configReadErr,
			apperrors.ConfigurationError(configReadErr.Error(), path))
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, apperrors.NewEnhancedError("Invalid configuration", err,
			apperrors.ConfigurationError(err.Error(), path))
	}
	return cfg, nil
}

// newLogger builds the process logger from the logging settings.
func newLogger(cfg *config.Config) (logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	return logging.NewLogger(&logging.LoggerConfig{
		Level:  level,
		Format: cfg.Logging.Format,
		Output: os.Stderr,
	}), nil
}

func newApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}
	return newAppWith(cfg, logger), nil
}

// newAppWith wires the services for cfg.
func newAppWith(cfg *config.Config, logger logging.Logger) *app {
	cat := catalog.New(cfg.Root)
	compiler := transform.NewSassCompiler(cfg.Styles.Compiler, cfg.Styles.LoadPaths)
	minifier := transform.NewMinifier()

	var recorder *metrics.PrometheusRecorder
	if cfg.Metrics.Enabled {
		recorder = metrics.NewPrometheusRecorder(nil)
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		catalog:  cat,
		cleaner:  clean.New(cat, logger),
		compiler: compiler,
		recorder: recorder,
		pipeline: pipeline.New(cat, pipeline.Options{
			Compiler:  compiler,
			Prefixer:  transform.NewPrefixer(nil),
			Minifier:  minifier,
			Optimizer: transform.NewImageOptimizer(cfg.Images.JPEGQuality),
			SourceMap: cfg.Styles.SourceMap,
			Logger:    logger,
		}),
	}
}

// metricsRecorder returns the recorder as the interface, nil-safe when
// metrics are off.
func (a *app) metricsRecorder() metrics.Recorder {
	if a.recorder == nil {
		return metrics.NoopRecorder{}
	}
	return a.recorder
}

// orchestrator builds an orchestrator notifying n, which may be nil.
func (a *app) orchestrator(n orchestrator.Notifier) *orchestrator.Orchestrator {
	return orchestrator.New(a.catalog, a.cleaner, a.pipeline, orchestrator.Options{
		Notifier: n,
		Recorder: a.metricsRecorder(),
		Logger:   a.logger,
	})
}

// category resolves a category name or reports the known names.
func (a *app) category(name string) (catalog.Category, error) {
	cat, ok := a.catalog.Lookup(name)
	if !ok {
		return catalog.Category{}, apperrors.NewValidationError(apperrors.CodeUnknownCategory,
			fmt.Sprintf("unknown category %q (known: %v)", name, a.catalog.Names()))
	}
	return cat, nil
}

// checkCompiler warns when a style build is about to run without a compiler.
func (a *app) checkCompiler(ctx context.Context, cats ...catalog.Category) {
	for _, c := range cats {
		if c.Kind != catalog.KindStyle {
			continue
		}
		if err := a.compiler.Available(); err != nil {
			a.logger.Warn(ctx, err, "Style compiler not found; styles will fail to build",
				"compiler", a.cfg.Styles.Compiler)
		}
		return
	}
}
