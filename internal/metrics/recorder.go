// Package metrics exposes rebuild and live-reload observability hooks.
package metrics

import "time"

// Outcome labels a finished category rebuild.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomePartial Outcome = "partial"
	OutcomeFailed  Outcome = "failed"
)

// Recorder defines observability hooks for rebuilds and browser sessions.
// Implementations must tolerate nil receivers so recording stays optional.
type Recorder interface {
	ObserveRebuild(category string, d time.Duration, outcome Outcome)
	AddDroppedFiles(category string, n int)
	SetClients(n int)
	IncNotifications(kind string)
}

// NoopRecorder is a Recorder that does nothing (default when metrics are off).
type NoopRecorder struct{}

func (NoopRecorder) ObserveRebuild(string, time.Duration, Outcome) {}
func (NoopRecorder) AddDroppedFiles(string, int)                    {}
func (NoopRecorder) SetClients(int)                                 {}
func (NoopRecorder) IncNotifications(string)                        {}
