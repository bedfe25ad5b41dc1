package builder

import (
	"context"
	"net/http"
	"strings"

	"git.home.luguber.info/inful/sitepress/internal/command"
	"git.home.luguber.info/inful/sitepress/internal/engine"
	"git.home.luguber.info/inful/sitepress/internal/serve"
	"git.home.luguber.info/inful/sitepress/internal/watch"
)

// opServe runs the live mode: an initial full build, then watch + batch +
// rebuild, serving the target directory over HTTP. Each rebuild runs the
// "build" command in its own derived scope so concurrent periodic syncs
// never share mutable bindings with it.
func (b *Builder) opServe(ctx context.Context, inv command.Invocation) error {
	source, err := need(inv.Scope, "source")
	if err != nil {
		return err
	}
	target, err := need(inv.Scope, "target")
	if err != nil {
		return err
	}

	reg, err := b.Registry()
	if err != nil {
		return err
	}

	opts := serve.Options{
		Addr:     b.cfg.Serve.Addr,
		Root:     source,
		Dir:      target,
		Interval: b.cfg.Serve.Interval.Std(),
		Recorder: b.recorder,
		Rebuild: func(ctx context.Context, batch watch.Batch) error {
			sc := inv.Scope.Derive(map[string]string{
				"changed_files": strings.Join(batch.Added, " "),
				"removed_files": strings.Join(batch.Removed, " "),
			})
			return engine.Run(ctx, reg, "build", sc, []string{source, target})
		},
	}
	if b.cfg.Origin != "" && b.cfg.Serve.SyncEvery > 0 {
		opts.SyncEvery = b.cfg.Serve.SyncEvery.Std()
		opts.Sync = func(ctx context.Context) error {
			return engine.Run(ctx, reg, "deploy", inv.Scope.Derive(nil), nil)
		}
	}
	if h, ok := b.recorder.(interface{ Handler() http.Handler }); ok {
		opts.Metrics = h.Handler()
	}
	return serve.Run(ctx, opts)
}
