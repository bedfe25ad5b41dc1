// Package metrics defines observability hooks for builds and repository
// operations. The Prometheus recorder is optional; everything accepts the
// no-op recorder.
package metrics

import "time"

// Recorder defines the hooks the pipeline calls. Implementations must be
// safe for concurrent use.
type Recorder interface {
	ObserveBuildDuration(d time.Duration)
	IncBuildOutcome(outcome string) // success|failed|skipped
	IncCommandResult(command string, success bool)
	ObserveBatchSize(added, removed int)
	IncGitOp(op string, success bool)
}

// NoopRecorder is a Recorder that does nothing (default when metrics are
// not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveBuildDuration(time.Duration) {}
func (NoopRecorder) IncBuildOutcome(string)             {}
func (NoopRecorder) IncCommandResult(string, bool)      {}
func (NoopRecorder) ObserveBatchSize(int, int)          {}
func (NoopRecorder) IncGitOp(string, bool)              {}
