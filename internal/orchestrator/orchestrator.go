// Package orchestrator sequences a category rebuild: clean, run the pipeline,
// then notify connected browsers. A Session drives rebuilds from file watcher
// events with one serialized task per category.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/conneroisu/assetpipe/internal/catalog"
	"github.com/conneroisu/assetpipe/internal/logging"
	"github.com/conneroisu/assetpipe/internal/metrics"
	"github.com/conneroisu/assetpipe/internal/pipeline"
)

// Notification tells browser sessions a category finished rebuilding.
type Notification struct {
	Category string
	Policy   catalog.ReloadPolicy
	// Paths are the written outputs as served by the upstream server, e.g.
	// styles/style.css.
	Paths []string
}

// Notifier delivers rebuild notifications to browser sessions.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Cleaner deletes a category's previous output.
type Cleaner interface {
	Clean(ctx context.Context, cat catalog.Category) error
}

// Runner runs a category's pipeline.
type Runner interface {
	Run(ctx context.Context, cat catalog.Category) (*pipeline.Result, error)
}

// State is the phase a category task is in.
type State int32

const (
	StateIdle State = iota
	StateCleaning
	StateRebuilding
	StateNotifying
)

// String returns the string representation of the State
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCleaning:
		return "cleaning"
	case StateRebuilding:
		return "rebuilding"
	case StateNotifying:
		return "notifying"
	default:
		return "unknown"
	}
}

// Options configures an Orchestrator. Notifier and Recorder are optional.
type Options struct {
	Notifier Notifier
	Recorder metrics.Recorder
	Logger   logging.Logger
}

// Orchestrator runs Clean → Pipeline → Notify for one category at a time.
type Orchestrator struct {
	catalog  *catalog.Catalog
	cleaner  Cleaner
	runner   Runner
	notifier Notifier
	recorder metrics.Recorder
	logger   logging.Logger
}

// New creates an Orchestrator.
func New(cat *catalog.Catalog, cleaner Cleaner, runner Runner, opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	recorder := opts.Recorder
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	return &Orchestrator{
		catalog:  cat,
		cleaner:  cleaner,
		runner:   runner,
		notifier: opts.Notifier,
		recorder: recorder,
		logger:   logger.WithComponent("orchestrator"),
	}
}

// Catalog returns the catalog categories are resolved through.
func (o *Orchestrator) Catalog() *catalog.Catalog { return o.catalog }

// Rebuild cleans the category, runs its pipeline and, when the run succeeded
// and a notifier is set, notifies browsers. Each phase starts only after the
// previous one finished. onState, when non-nil, observes every transition and
// always ends at StateIdle.
func (o *Orchestrator) Rebuild(ctx context.Context, cat catalog.Category, onState func(State)) (*pipeline.Result, error) {
	set := func(s State) {
		if onState != nil {
			onState(s)
		}
	}
	defer set(StateIdle)

	start := time.Now()
	logger := o.logger.With("category", cat.Name)

	set(StateCleaning)
	if err := o.cleaner.Clean(ctx, cat); err != nil {
		o.recorder.ObserveRebuild(cat.Name, time.Since(start), metrics.OutcomeFailed)
		logger.Error(ctx, err, "Clean failed")
		return nil, fmt.Errorf("clean %s: %w", cat.Name, err)
	}

	set(StateRebuilding)
	res, err := o.runner.Run(ctx, cat)
	if res != nil {
		o.recorder.AddDroppedFiles(cat.Name, len(res.Errors))
	}
	if err != nil {
		o.recorder.ObserveRebuild(cat.Name, time.Since(start), metrics.OutcomeFailed)
		logger.Error(ctx, err, "Rebuild failed, browsers keep the previous output")
		return res, fmt.Errorf("rebuild %s: %w", cat.Name, err)
	}

	outcome := metrics.OutcomeSuccess
	if res.Failed() {
		outcome = metrics.OutcomePartial
	}
	o.recorder.ObserveRebuild(cat.Name, time.Since(start), outcome)
	logger.Info(ctx, "Rebuilt category",
		"run_id", res.RunID,
		"outputs", len(res.Outputs),
		"dropped", len(res.Errors),
		"duration", res.Duration.String())

	if o.notifier == nil || cat.Reload == catalog.ReloadNone {
		return res, nil
	}

	set(StateNotifying)
	n := Notification{Category: cat.Name, Policy: cat.Reload}
	for _, out := range res.Outputs {
		n.Paths = append(n.Paths, catalog.PublicPath(out))
	}
	if err := o.notifier.Notify(ctx, n); err != nil {
		// Output is already on disk; a missed notification is not a failed rebuild.
		logger.Warn(ctx, err, "Notify failed")
	}
	return res, nil
}
