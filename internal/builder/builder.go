// Package builder wires the command engine to the repository synchronizer,
// the process runner, and the serving layer: it registers the built-in
// command set, merges user definitions over it, and runs top-level
// invocations with history, metrics, and notification bookkeeping.
package builder

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/sitepress/internal/command"
	"git.home.luguber.info/inful/sitepress/internal/config"
	"git.home.luguber.info/inful/sitepress/internal/engine"
	"git.home.luguber.info/inful/sitepress/internal/gitsync"
	"git.home.luguber.info/inful/sitepress/internal/history"
	"git.home.luguber.info/inful/sitepress/internal/logfields"
	"git.home.luguber.info/inful/sitepress/internal/metrics"
	"git.home.luguber.info/inful/sitepress/internal/notify"
	"git.home.luguber.info/inful/sitepress/internal/procrun"
	"git.home.luguber.info/inful/sitepress/internal/scope"
)

// Builder owns the collaborators the built-in commands close over.
type Builder struct {
	cfg      *config.Config
	syncer   *gitsync.Syncer
	runner   *procrun.Runner
	recorder metrics.Recorder
	hist     *history.Store    // optional
	notifier *notify.Publisher // optional

	// Scope writes never propagate out of a command, so a skip decision
	// made deep in a pipeline is reported back to Execute per build ID.
	mu      sync.Mutex
	skipped map[string]bool
}

func (b *Builder) markSkipped(buildID string) {
	if buildID == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.skipped == nil {
		b.skipped = make(map[string]bool)
	}
	b.skipped[buildID] = true
}

func (b *Builder) wasSkipped(buildID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	skipped := b.skipped[buildID]
	delete(b.skipped, buildID)
	return skipped
}

// Option customizes a Builder.
type Option func(*Builder)

// WithRecorder injects a metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(b *Builder) { b.recorder = r }
}

// WithHistory injects the build-event ledger.
func WithHistory(h *history.Store) Option {
	return func(b *Builder) { b.hist = h }
}

// WithNotifier injects the NATS build-event publisher.
func WithNotifier(n *notify.Publisher) Option {
	return func(b *Builder) { b.notifier = n }
}

// New creates a Builder for the given configuration.
func New(cfg *config.Config, opts ...Option) *Builder {
	b := &Builder{
		cfg: cfg,
		syncer: gitsync.New(
			gitsync.Signature{Name: cfg.Git.AuthorName, Email: cfg.Git.AuthorEmail},
			cfg.Git.Retry.Policy(),
		),
		runner:   &procrun.Runner{},
		recorder: metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Registry builds the command registry: built-in operations first, then the
// built-in declarative pipelines, then user definitions (which override on
// name collision).
func (b *Builder) Registry() (*command.Registry, error) {
	reg := command.NewRegistry()
	b.registerOps(reg)
	if err := reg.Merge(defaultDefinitions()); err != nil {
		return nil, fmt.Errorf("built-in commands: %w", err)
	}
	if err := reg.Merge(b.cfg.Commands); err != nil {
		return nil, fmt.Errorf("configured commands: %w", err)
	}
	return reg, nil
}

// BaseScope builds the initial scope of a top-level invocation from the
// configuration plus any extra bindings (parsed CLI arguments).
func (b *Builder) BaseScope(extra map[string]string) *scope.Scope {
	sc := scope.New(map[string]string{
		"source": b.cfg.Source,
		"target": b.cfg.Target,
		"branch": b.cfg.Branch,
	})
	if b.cfg.Origin != "" {
		sc.Set("origin", b.cfg.Origin)
	}
	for k, v := range extra {
		sc.Set(k, v)
	}
	return sc
}

// Execute runs a named command as a top-level invocation: it assigns a
// build ID, records history and metrics, and publishes the outcome. Errors
// are returned to the caller, which is the last line of defense (log and
// exit non-zero, never retry).
func (b *Builder) Execute(ctx context.Context, reg *command.Registry, name string, sc *scope.Scope, args []string) error {
	buildID := uuid.NewString()
	sc.Set(scope.ReservedPrefix+"build_id", buildID)

	start := time.Now()
	slog.Info("Running command", logfields.Command(name), logfields.BuildID(buildID))
	b.appendHistory(ctx, buildID, history.EventBuildStarted, map[string]string{"command": name})

	err := engine.Run(ctx, reg, name, sc, args)
	elapsed := time.Since(start)
	b.recorder.ObserveBuildDuration(elapsed)
	b.recorder.IncCommandResult(name, err == nil)

	outcome := "success"
	eventType := history.EventBuildCompleted
	if err != nil {
		outcome = "failed"
		eventType = history.EventBuildFailed
	} else if b.wasSkipped(buildID) {
		outcome = "skipped"
		eventType = history.EventBuildSkipped
	}
	b.recorder.IncBuildOutcome(outcome)
	b.appendHistory(ctx, buildID, eventType, map[string]string{
		"command":  name,
		"duration": elapsed.String(),
		"error":    errString(err),
	})
	b.publish(ctx, notify.BuildEvent{
		BuildID:    buildID,
		Command:    name,
		Repo:       sc.Lookup("source_repo"),
		Branch:     sc.Lookup("branch"),
		Commit:     sc.Lookup("source_commit"),
		Outcome:    outcome,
		Error:      errString(err),
		Duration:   elapsed.Seconds(),
		FinishedAt: time.Now().UTC(),
	})

	if err != nil {
		return err
	}
	slog.Info("Command finished", logfields.Command(name), logfields.BuildID(buildID), slog.String("outcome", outcome), logfields.DurationMS(float64(elapsed.Milliseconds())))
	return nil
}

func (b *Builder) appendHistory(ctx context.Context, buildID, eventType string, payload any) {
	if b.hist == nil {
		return
	}
	if err := b.hist.Append(ctx, buildID, eventType, payload); err != nil {
		slog.Warn("history write failed", logfields.Error(err))
	}
}

func (b *Builder) publish(ctx context.Context, ev notify.BuildEvent) {
	if b.notifier == nil {
		return
	}
	if err := b.notifier.Publish(ctx, ev); err != nil {
		slog.Warn("build notification failed", logfields.Error(err))
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
