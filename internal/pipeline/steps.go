package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/conneroisu/assetpipe/internal/catalog"
	apperrors "github.com/conneroisu/assetpipe/internal/errors"
	"github.com/conneroisu/assetpipe/internal/logging"
)

// File is one source file flowing through a run.
type File struct {
	// Path is the OS path of the source.
	Path string
	// Rel is the slash path relative to the category's source base.
	Rel      string
	Contents []byte
	// Original is the untransformed source, kept for source maps.
	Original []byte
}

type output struct {
	path string
	data []byte
}

type run struct {
	cat       catalog.Category
	id        string
	started   time.Time
	logger    logging.Logger
	files     []File
	writes    []output
	outputs   []string
	collector *apperrors.ErrorCollector
}

func (r *run) result(end time.Time) *Result {
	return &Result{
		Category: r.cat.Name,
		RunID:    r.id,
		Outputs:  r.outputs,
		Errors:   r.collector.GetErrors(),
		Started:  r.started,
		Duration: end.Sub(r.started),
	}
}

// drop records a per-file failure and logs it. The file leaves the run.
func (r *run) drop(ctx context.Context, f File, err error) {
	var pe *apperrors.PipelineError
	if !errors.As(err, &pe) {
		pe = apperrors.NewCompileError(err.Error(), err)
	}
	if pe.FilePath == "" {
		pe.FilePath = f.Path
	}
	pe.WithCategory(r.cat.Name)
	r.collector.Add(apperrors.FromPipelineError(pe, apperrors.ErrorSeverityError))
	r.logger.Warn(ctx, pe, "Dropped file from run", "file", f.Rel)
}

// src expands the source glob in lexical order. Directories are skipped and
// so are Sass partials, which only exist to be imported.
func (p *Pipeline) src(ctx context.Context, r *run) error {
	matches, err := doublestar.FilepathGlob(p.catalog.SourcePattern(r.cat))
	if err != nil {
		return apperrors.NewIOError(apperrors.CodeGlobFailed,
			fmt.Sprintf("glob %s", r.cat.Source), err).WithCategory(r.cat.Name)
	}
	sort.Strings(matches)

	base := p.catalog.SourceDir(r.cat)
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil {
			return apperrors.NewIOError(apperrors.CodeReadFailed,
				fmt.Sprintf("stat %s", m), err).WithCategory(r.cat.Name)
		}
		if info.IsDir() {
			continue
		}
		if r.cat.Kind == catalog.KindStyle && strings.HasPrefix(filepath.Base(m), "_") {
			continue
		}

		data, err := os.ReadFile(m)
		if err != nil {
			return apperrors.NewIOError(apperrors.CodeReadFailed,
				fmt.Sprintf("read %s", m), err).WithCategory(r.cat.Name)
		}
		rel, err := filepath.Rel(base, m)
		if err != nil {
			return apperrors.NewInternalError(apperrors.CodeReadFailed,
				fmt.Sprintf("%s is outside %s", m, base), err).WithCategory(r.cat.Name)
		}
		r.files = append(r.files, File{
			Path:     m,
			Rel:      filepath.ToSlash(rel),
			Contents: data,
			Original: data,
		})
	}
	return nil
}

// mirror plans one output per file at the same relative path under Dest.
func (p *Pipeline) mirror(_ context.Context, r *run) error {
	dest := p.catalog.DestPath(r.cat)
	for _, f := range r.files {
		r.writes = append(r.writes, output{
			path: filepath.Join(dest, filepath.FromSlash(f.Rel)),
			data: f.Contents,
		})
	}
	return nil
}

func (p *Pipeline) optimize(ctx context.Context, r *run) error {
	for i := range r.files {
		if err := ctx.Err(); err != nil {
			return err
		}
		f := &r.files[i]
		out, err := p.opts.Optimizer.Optimize(f.Path, f.Contents)
		if err != nil {
			return apperrors.NewIOError(apperrors.CodeOptimizeFailed,
				fmt.Sprintf("optimize %s", f.Rel), err).WithCategory(r.cat.Name)
		}
		f.Contents = out
	}
	return nil
}

// compile runs the style compiler per file. A file that fails is dropped and
// the run continues; the run only fails when every file failed.
func (p *Pipeline) compile(ctx context.Context, r *run) error {
	kept := r.files[:0]
	for _, f := range r.files {
		if err := ctx.Err(); err != nil {
			return err
		}
		css, err := p.opts.Compiler.Compile(ctx, f.Path, f.Contents)
		if err != nil {
			r.drop(ctx, f, err)
			continue
		}
		f.Contents = css
		kept = append(kept, f)
	}
	r.files = kept
	return r.checkSurvivors()
}

func (p *Pipeline) prefix(ctx context.Context, r *run) error {
	if p.opts.Prefixer == nil {
		return nil
	}
	return r.eachFile(ctx, p.opts.Prefixer.Prefix)
}

func (p *Pipeline) minify(ctx context.Context, r *run) error {
	if p.opts.Minifier == nil {
		return nil
	}
	return r.eachFile(ctx, p.opts.Minifier.MinifyCSS)
}

func (r *run) eachFile(ctx context.Context, fn func([]byte) ([]byte, error)) error {
	kept := r.files[:0]
	for _, f := range r.files {
		out, err := fn(f.Contents)
		if err != nil {
			r.drop(ctx, f, apperrors.NewCompileError(err.Error(), err).WithLocation(f.Path, 0, 0))
			continue
		}
		f.Contents = out
		kept = append(kept, f)
	}
	r.files = kept
	return r.checkSurvivors()
}

func (r *run) checkSurvivors() error {
	if len(r.files) == 0 && r.collector.HasErrors() {
		return &apperrors.PipelineError{
			Type:     apperrors.ErrorTypeCompile,
			Code:     apperrors.CodeNoOutput,
			Message:  fmt.Sprintf("all %d source files failed", r.collector.Count()),
			Category: r.cat.Name,
		}
	}
	return nil
}

// concat joins the run's files into the category's bundle. With no input
// files nothing is planned, so an empty source tree produces no bundle.
func (p *Pipeline) concat(sep string, withMap bool) func(context.Context, *run) error {
	return func(_ context.Context, r *run) error {
		if len(r.files) == 0 {
			return nil
		}
		bundle := filepath.Join(p.catalog.DestPath(r.cat), r.cat.Bundle)

		var buf bytes.Buffer
		for i, f := range r.files {
			if i > 0 {
				buf.WriteString(sep)
			}
			buf.Write(f.Contents)
		}

		if withMap {
			mapName := r.cat.Bundle + ".map"
			sm, err := buildIndexMap(r.cat.Bundle, p.mapSources(r), r.files, sep)
			if err != nil {
				return apperrors.NewInternalError(apperrors.CodeWriteFailed,
					"build source map", err).WithCategory(r.cat.Name)
			}
			fmt.Fprintf(&buf, "\n/*# sourceMappingURL=%s */\n", mapName)
			r.writes = append(r.writes, output{path: bundle + ".map", data: sm})
		}

		// Bundle first so it is the first reported output.
		r.writes = append([]output{{path: bundle, data: buf.Bytes()}}, r.writes...)
		return nil
	}
}

// mapSources returns each file's path relative to the bundle's directory, the
// form browsers resolve source map "sources" against.
func (p *Pipeline) mapSources(r *run) []string {
	sources := make([]string, len(r.files))
	for i, f := range r.files {
		rel := path.Join(r.cat.SourceBase(), f.Rel)
		if up, err := filepath.Rel(filepath.FromSlash(r.cat.Dest), filepath.FromSlash(rel)); err == nil {
			rel = filepath.ToSlash(up)
		}
		sources[i] = rel
	}
	return sources
}

func (p *Pipeline) dest(ctx context.Context, r *run) error {
	for _, w := range r.writes {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(w.path), 0755); err != nil {
			return apperrors.NewIOError(apperrors.CodeWriteFailed,
				fmt.Sprintf("create %s", filepath.Dir(w.path)), err).WithCategory(r.cat.Name)
		}
		if err := os.WriteFile(w.path, w.data, 0644); err != nil {
			return apperrors.NewIOError(apperrors.CodeWriteFailed,
				fmt.Sprintf("write %s", w.path), err).WithCategory(r.cat.Name)
		}
		rel, err := p.catalog.Rel(w.path)
		if err != nil {
			rel = filepath.ToSlash(w.path)
		}
		r.outputs = append(r.outputs, rel)
	}
	return nil
}

// touch sets every output's modification time to now, so tools watching dist/
// see the asset as fresh even when its bytes did not change.
func (p *Pipeline) touch(_ context.Context, r *run) error {
	now := p.now()
	for _, w := range r.writes {
		if err := os.Chtimes(w.path, now, now); err != nil {
			return apperrors.NewIOError(apperrors.CodeWriteFailed,
				fmt.Sprintf("touch %s", w.path), err).WithCategory(r.cat.Name)
		}
	}
	return nil
}
