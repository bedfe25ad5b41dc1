package builder

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"git.home.luguber.info/inful/sitepress/internal/command"
	"git.home.luguber.info/inful/sitepress/internal/logfields"
	"git.home.luguber.info/inful/sitepress/internal/procrun"
	"git.home.luguber.info/inful/sitepress/internal/scope"
	"git.home.luguber.info/inful/sitepress/internal/template"
)

// opBuildSite runs the configured site generator over source into target.
// The tool contract: site metadata arrives as JSON in SITE_CONFIG,
// incremental mode and the changed-file list in SITE_INCREMENTAL and
// SITE_CHANGED_FILES.
func (b *Builder) opBuildSite(ctx context.Context, inv command.Invocation) error {
	sc := inv.Scope
	source, err := need(sc, "source")
	if err != nil {
		return err
	}
	target, err := need(sc, "target")
	if err != nil {
		return err
	}

	args := b.toolArgs(sc, source, target)
	env, err := b.toolEnv(sc)
	if err != nil {
		return err
	}

	tool := b.cfg.Build.Tool
	start := time.Now()
	slog.Info("Building site", logfields.Command(tool), logfields.Path(source), logfields.Target(target))
	err = b.runner.Run(ctx, procrun.Spec{
		Env:     env,
		Name:    tool,
		Args:    args,
		Timeout: b.cfg.Build.Timeout.Std(),
		Stdout:  func(line string) { slog.Info(line, logfields.Command(tool)) },
		Stderr:  func(line string) { slog.Warn(line, logfields.Command(tool)) },
	})
	if err != nil {
		return fmt.Errorf("build tool %s: %w", tool, err)
	}
	slog.Info("Site built", logfields.Command(tool), logfields.DurationMS(float64(time.Since(start).Milliseconds())))
	return nil
}

// toolArgs resolves the configured argument templates, defaulting to the
// conventional -s/-d pair.
func (b *Builder) toolArgs(sc *scope.Scope, source, target string) []string {
	if len(b.cfg.Build.Args) == 0 {
		return []string{"-s", source, "-d", target}
	}
	eval := sc.Derive(map[string]string{"source": source, "target": target})
	return template.EvalAll(b.cfg.Build.Args, eval)
}

func (b *Builder) toolEnv(sc *scope.Scope) ([]string, error) {
	siteJSON, err := json.Marshal(b.cfg.Site)
	if err != nil {
		return nil, fmt.Errorf("encode site config: %w", err)
	}
	env := sc.Environ()
	env = append(env, "SITE_CONFIG="+string(siteJSON))
	if b.cfg.Build.Incremental {
		env = append(env, "SITE_INCREMENTAL=1")
		if changed := sc.Lookup("changed_files"); changed != "" {
			env = append(env, "SITE_CHANGED_FILES="+strings.TrimSpace(changed))
		}
	}
	return env, nil
}
