// Package pipeline runs a category's fixed step list over its matched source
// files: copy, optimize, compile-bundle or bundle, then write and touch.
//
// The transforms themselves sit behind small capability interfaces so the
// step sequencing can be tested with fakes and the real Sass, minify and image
// code stays in internal/transform.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/conneroisu/assetpipe/internal/catalog"
	apperrors "github.com/conneroisu/assetpipe/internal/errors"
	"github.com/conneroisu/assetpipe/internal/logging"
	"github.com/google/uuid"
)

// Compiler turns one style source into CSS. Bundle source maps are built by
// the pipeline itself, one section per compiled file.
type Compiler interface {
	Compile(ctx context.Context, path string, src []byte) ([]byte, error)
}

// Prefixer adds vendor-prefixed declarations to CSS.
type Prefixer interface {
	Prefix(css []byte) ([]byte, error)
}

// Minifier minifies CSS.
type Minifier interface {
	MinifyCSS(css []byte) ([]byte, error)
}

// Optimizer compresses one image. Unknown formats come back unchanged.
type Optimizer interface {
	Optimize(path string, data []byte) ([]byte, error)
}

// Options wires the capabilities a Pipeline delegates to. Style categories
// need Compiler, Prefixer and Minifier; image categories need Optimizer. Nil
// capabilities are skipped, except Compiler, which a style run requires.
type Options struct {
	Compiler  Compiler
	Prefixer  Prefixer
	Minifier  Minifier
	Optimizer Optimizer
	SourceMap bool
	Logger    logging.Logger
}

// Pipeline runs categories resolved through a catalog.
type Pipeline struct {
	catalog *catalog.Catalog
	opts    Options
	logger  logging.Logger
	now     func() time.Time
}

// New creates a Pipeline.
func New(cat *catalog.Catalog, opts Options) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Pipeline{
		catalog: cat,
		opts:    opts,
		logger:  logger.WithComponent("pipeline"),
		now:     time.Now,
	}
}

// Result describes one finished run.
type Result struct {
	Category string
	RunID    string
	// Outputs are the written files, slash-separated and relative to the
	// project root.
	Outputs  []string
	Errors   []apperrors.BuildError
	Started  time.Time
	Duration time.Duration
}

// Failed reports whether any file was dropped from the run.
func (r *Result) Failed() bool {
	return len(r.Errors) > 0
}

// Run executes the category's steps in order. A step that returns an error
// ends the run; per-file compile errors are collected in the Result instead.
func (p *Pipeline) Run(ctx context.Context, cat catalog.Category) (*Result, error) {
	r := &run{
		cat:       cat,
		id:        uuid.NewString(),
		started:   p.now(),
		collector: apperrors.NewErrorCollector(),
	}
	r.logger = p.logger.With("category", cat.Name, "run_id", r.id)

	steps, err := p.stepsFor(cat)
	if err != nil {
		return nil, err
	}

	perf := logging.StartOperation(r.logger, "pipeline "+cat.Name)
	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			perf.EndWithError(ctx, err)
			return r.result(p.now()), err
		}
		if err := s.fn(ctx, r); err != nil {
			perf.EndWithError(ctx, err, "step", s.name)
			return r.result(p.now()), err
		}
		r.logger.Debug(ctx, "Step complete", "step", s.name, "files", len(r.files))
	}
	perf.End(ctx, "outputs", len(r.outputs), "dropped", r.collector.Count())

	return r.result(p.now()), nil
}

type step struct {
	name string
	fn   func(ctx context.Context, r *run) error
}

// stepsFor returns the fixed step list for a category's kind.
func (p *Pipeline) stepsFor(cat catalog.Category) ([]step, error) {
	var steps []step
	switch cat.Kind {
	case catalog.KindCopy:
		steps = []step{
			{"src", p.src},
			{"mirror", p.mirror},
			{"dest", p.dest},
		}
	case catalog.KindOptimize:
		if p.opts.Optimizer == nil {
			return nil, apperrors.NewInternalError(apperrors.CodeInvalidConfig,
				fmt.Sprintf("category %s needs an image optimizer", cat.Name), nil)
		}
		steps = []step{
			{"src", p.src},
			{"optimize", p.optimize},
			{"mirror", p.mirror},
			{"dest", p.dest},
		}
	case catalog.KindStyle:
		if p.opts.Compiler == nil {
			return nil, apperrors.NewInternalError(apperrors.CodeInvalidConfig,
				fmt.Sprintf("category %s needs a style compiler", cat.Name), nil)
		}
		steps = []step{
			{"src", p.src},
			{"compile", p.compile},
			{"prefix", p.prefix},
			{"minify", p.minify},
			{"concat", p.concat("\n", p.opts.SourceMap)},
			{"dest", p.dest},
		}
	case catalog.KindBundle:
		steps = []step{
			{"src", p.src},
			{"concat", p.concat("", false)},
			{"dest", p.dest},
		}
	default:
		return nil, apperrors.NewInternalError(apperrors.CodeUnknownCategory,
			fmt.Sprintf("category %s has unknown kind %q", cat.Name, cat.Kind), nil)
	}
	if cat.Touch {
		steps = append(steps, step{"touch", p.touch})
	}
	return steps, nil
}
