package builder

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"git.home.luguber.info/inful/sitepress/internal/buildrecord"
	"git.home.luguber.info/inful/sitepress/internal/command"
	"git.home.luguber.info/inful/sitepress/internal/gitsync"
	"git.home.luguber.info/inful/sitepress/internal/history"
	"git.home.luguber.info/inful/sitepress/internal/logfields"
	"git.home.luguber.info/inful/sitepress/internal/procrun"
	"git.home.luguber.info/inful/sitepress/internal/scope"
)

// registerOps installs the built-in inline operations. Each is wrapped in a
// compiled command so positional binding and templating work exactly as for
// declarative commands.
func (b *Builder) registerOps(reg *command.Registry) {
	reg.RegisterOp("clone", []string{"origin", "path"}, b.opClone)
	reg.RegisterOp("checkout", []string{"path", "branch"}, b.opCheckout)
	reg.RegisterOp("commit-push", []string{"path", "branch"}, b.opCommitPush)
	reg.RegisterOp("merge", []string{"path", "branch"}, b.opMerge)
	reg.RegisterOp("read-identity", []string{"path"}, b.opReadIdentity)
	reg.RegisterOp("record-read", []string{"target"}, b.opRecordRead)
	reg.RegisterOp("record-write", []string{"target"}, b.opRecordWrite)
	reg.RegisterOp("mktemp", []string{"key"}, b.opMktemp)
	reg.RegisterOp("run", nil, b.opRun)
	reg.RegisterOp("build-site", []string{"source", "target"}, b.opBuildSite)
	reg.RegisterOp("deploy", []string{"origin", "branch"}, b.opDeploy)
	reg.RegisterOp("serve", []string{"source", "target"}, b.opServe)
}

// defaultDefinitions is the built-in declarative command set. User
// definition sets merge over it.
func defaultDefinitions() map[string]command.Definition {
	return map[string]command.Definition{
		"build": {
			Args:    []string{"source", "target"},
			Actions: command.StringList{"build-site {source} {target}"},
		},
		"publish": {
			Args: []string{"source", "target", "branch"},
			Actions: command.StringList{
				"build-site {source} {target}",
				"commit-push {target} {branch} site update",
			},
		},
	}
}

// need fetches a required argument from the scope. Omitted positionals are
// absent keys, so actions validate explicitly before use.
func need(sc *scope.Scope, name string) (string, error) {
	v, ok := sc.Get(name)
	if !ok || v == "" {
		return "", fmt.Errorf("required argument %q missing", name)
	}
	return v, nil
}

func (b *Builder) opClone(ctx context.Context, inv command.Invocation) error {
	origin, err := need(inv.Scope, "origin")
	if err != nil {
		return err
	}
	path, err := need(inv.Scope, "path")
	if err != nil {
		return err
	}
	err = b.syncer.EnsureClone(ctx, path, origin)
	b.recorder.IncGitOp("clone", err == nil)
	return err
}

func (b *Builder) opCheckout(ctx context.Context, inv command.Invocation) error {
	path, err := need(inv.Scope, "path")
	if err != nil {
		return err
	}
	branch, err := need(inv.Scope, "branch")
	if err != nil {
		return err
	}
	err = b.syncer.CheckoutBranch(ctx, path, branch)
	b.recorder.IncGitOp("checkout", err == nil)
	return err
}

// opCommitPush commits and pushes; the commit message is everything after
// the two bound positionals in the raw argument string.
func (b *Builder) opCommitPush(ctx context.Context, inv command.Invocation) error {
	path, err := need(inv.Scope, "path")
	if err != nil {
		return err
	}
	branch, err := need(inv.Scope, "branch")
	if err != nil {
		return err
	}
	res, err := b.syncer.CommitAndPush(ctx, path, branch, messageFromRawArgs(inv.Scope))
	b.recorder.IncGitOp("push", err == nil)
	if err != nil {
		return err
	}
	inv.Scope.Set("committed", fmt.Sprintf("%t", res.Committed))
	if res.Committed {
		inv.Scope.Set("commit", res.Hash)
	}
	return nil
}

// messageFromRawArgs treats everything after the two bound positionals of a
// commit-push invocation as the commit message.
func messageFromRawArgs(sc *scope.Scope) string {
	fields := strings.Fields(sc.RawArgs())
	if len(fields) <= 2 {
		return ""
	}
	return strings.Join(fields[2:], " ")
}

func (b *Builder) opMerge(ctx context.Context, inv command.Invocation) error {
	path, err := need(inv.Scope, "path")
	if err != nil {
		return err
	}
	branch, err := need(inv.Scope, "branch")
	if err != nil {
		return err
	}
	err = b.syncer.Merge(ctx, path, branch)
	b.recorder.IncGitOp("merge", err == nil)
	return err
}

func (b *Builder) opReadIdentity(_ context.Context, inv command.Invocation) error {
	path, err := need(inv.Scope, "path")
	if err != nil {
		return err
	}
	id, err := b.syncer.ReadIdentity(path)
	if err != nil {
		return err
	}
	setIdentity(inv.Scope, id)
	return nil
}

func setIdentity(sc *scope.Scope, id gitsync.Identity) {
	sc.Set("source_account", id.Account)
	sc.Set("source_repo", id.Repo)
	sc.Set("source_branch", id.Branch)
	sc.Set("source_commit", id.Commit.Hash)
	sc.Set("source_commit_subject", id.Commit.Subject)
	sc.Set("source_commit_email", id.Commit.Email)
	sc.Set("source_commit_time", id.Commit.Time.Format(time.RFC3339))
}

// identityFromScope reconstructs the subset of identity the build record
// needs from scope keys written by read-identity.
func identityFromScope(sc *scope.Scope) (gitsync.Identity, error) {
	repo, err := need(sc, "source_repo")
	if err != nil {
		return gitsync.Identity{}, err
	}
	branch, err := need(sc, "source_branch")
	if err != nil {
		return gitsync.Identity{}, err
	}
	commit, err := need(sc, "source_commit")
	if err != nil {
		return gitsync.Identity{}, err
	}
	return gitsync.Identity{Repo: repo, Branch: branch, Commit: gitsync.Commit{Hash: commit}}, nil
}

// opRecordRead looks up the build record for the identity in scope and
// binds "last_built" and "up_to_date" for later actions.
func (b *Builder) opRecordRead(_ context.Context, inv command.Invocation) error {
	target, err := need(inv.Scope, "target")
	if err != nil {
		return err
	}
	id, err := identityFromScope(inv.Scope)
	if err != nil {
		return err
	}
	hash, ok, err := buildrecord.For(target, id)
	if err != nil {
		return err
	}
	if ok {
		inv.Scope.Set("last_built", hash)
	}
	inv.Scope.Set("up_to_date", fmt.Sprintf("%t", ok && hash == id.ShortHash()))
	return nil
}

func (b *Builder) opRecordWrite(_ context.Context, inv command.Invocation) error {
	target, err := need(inv.Scope, "target")
	if err != nil {
		return err
	}
	id, err := identityFromScope(inv.Scope)
	if err != nil {
		return err
	}
	return buildrecord.Write(target, id)
}

// opMktemp creates a temp directory and writes its path into the scope
// under the given key, for later actions in the same sequence to read.
func (b *Builder) opMktemp(_ context.Context, inv command.Invocation) error {
	key := inv.Scope.Lookup("key")
	if key == "" {
		key = "tempdir"
	}
	dir, err := os.MkdirTemp("", "sitepress-")
	if err != nil {
		return fmt.Errorf("create temp directory: %w", err)
	}
	inv.Scope.Set(key, dir)
	return nil
}

// opRun executes an arbitrary external command. The program and its
// arguments come from the raw argument string; the working directory is the
// scope's "cwd" (falling back to "source"); the scope is projected into the
// process environment.
func (b *Builder) opRun(ctx context.Context, inv command.Invocation) error {
	fields := strings.Fields(inv.Scope.RawArgs())
	if len(fields) == 0 {
		return fmt.Errorf("run: no command given")
	}
	dir := inv.Scope.Lookup("cwd")
	if dir == "" {
		dir = inv.Scope.Lookup("source")
	}
	return b.runner.Run(ctx, procrun.Spec{
		Dir:     dir,
		Env:     inv.Scope.Environ(),
		Name:    fields[0],
		Args:    fields[1:],
		Timeout: b.cfg.Build.Timeout.Std(),
		Stdout:  func(line string) { slog.Info(line, logfields.Command(fields[0])) },
		Stderr:  func(line string) { slog.Warn(line, logfields.Command(fields[0])) },
	})
}

// deriveWorkdir picks a stable per-origin source checkout location so
// repeated deploys reuse the clone.
func deriveWorkdir(origin string) string {
	sanitized := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			return r
		default:
			return '-'
		}
	}, origin)
	return filepath.Join(os.TempDir(), "sitepress", sanitized)
}

// opDeploy implements build-from-git: clone the source, compare its latest
// commit against the target's build record, and only when stale build the
// site into the target working copy and commit+push it to the publish
// branch. The target working copy is itself a clone of origin, so a branch
// that has never been built is bootstrapped as an orphan by checkout.
func (b *Builder) opDeploy(ctx context.Context, inv command.Invocation) error {
	sc := inv.Scope
	origin, err := need(sc, "origin")
	if err != nil {
		return err
	}
	branch, err := need(sc, "branch")
	if err != nil {
		return err
	}
	target, err := need(sc, "target")
	if err != nil {
		return err
	}
	workdir := sc.Lookup("workdir")
	if workdir == "" {
		workdir = deriveWorkdir(origin)
		sc.Set("workdir", workdir)
	}

	if err := inv.Call(ctx, "clone", []string{origin, workdir}); err != nil {
		return err
	}
	id, err := b.syncer.ReadIdentity(workdir)
	if err != nil {
		return err
	}
	// A reused clone may be stale; reconcile it onto the remote tip before
	// deciding whether the target is up to date.
	if err := inv.Call(ctx, "checkout", []string{workdir, id.Branch}); err != nil {
		return err
	}
	if id, err = b.syncer.ReadIdentity(workdir); err != nil {
		return err
	}
	setIdentity(sc, id)

	if err := inv.Call(ctx, "clone", []string{origin, target}); err != nil {
		return err
	}
	if err := inv.Call(ctx, "checkout", []string{target, branch}); err != nil {
		return err
	}

	recorded, ok, err := buildrecord.For(target, id)
	if err != nil {
		return err
	}
	if ok && recorded == id.ShortHash() {
		slog.Info("Target already holds latest source commit, skipping build",
			logfields.Repository(id.Repo), logfields.Branch(id.Branch), logfields.Commit(recorded))
		sc.Set("up_to_date", "true")
		b.markSkipped(sc.Lookup(scope.ReservedPrefix + "build_id"))
		return nil
	}
	sc.Set("up_to_date", "false")

	if err := inv.Call(ctx, "build-site", []string{workdir, target}); err != nil {
		return err
	}
	if err := buildrecord.Write(target, id); err != nil {
		return err
	}

	message := fmt.Sprintf("site build from %s@%s: %s", id.Repo, id.ShortHash(), id.Commit.Subject)
	res, err := b.syncer.CommitAndPush(ctx, target, branch, message)
	b.recorder.IncGitOp("push", err == nil)
	if err != nil {
		return err
	}
	sc.Set("committed", fmt.Sprintf("%t", res.Committed))
	if res.Committed {
		sc.Set("commit", res.Hash)
		b.appendHistory(ctx, sc.Lookup(scope.ReservedPrefix+"build_id"), history.EventDeployPushed, map[string]string{
			"repository": id.Repo,
			"branch":     branch,
			"commit":     res.Hash,
		})
	}
	return nil
}
