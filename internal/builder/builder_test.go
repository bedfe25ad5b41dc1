package builder

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/sitepress/internal/command"
	"git.home.luguber.info/inful/sitepress/internal/config"
	"git.home.luguber.info/inful/sitepress/internal/history"
	"git.home.luguber.info/inful/sitepress/internal/scope"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Source: t.TempDir(),
		Target: filepath.Join(t.TempDir(), "site"),
		Branch: "published",
		Build: config.BuildConfig{
			Tool: "sh",
			Args: []string{"-c", "mkdir -p {target} && echo built > {target}/index.html"},
		},
	}
}

func TestRegistryMergesInLayers(t *testing.T) {
	cfg := testConfig(t)
	cfg.Commands = map[string]command.Definition{
		"build":  {Action: command.StringList{"run echo custom"}},
		"custom": {Action: command.StringList{"build-site {source} {target}"}},
	}
	b := New(cfg)
	reg, err := b.Registry()
	require.NoError(t, err)

	// Built-in ops and pipelines are present.
	_, ok := reg.Lookup("clone")
	require.True(t, ok)
	_, ok = reg.Lookup("publish")
	require.True(t, ok)

	// User definitions override built-ins by name.
	c, ok := reg.Lookup("build")
	require.True(t, ok)
	require.Equal(t, "run", c.Actions[0].Call.Name)

	_, ok = reg.Lookup("custom")
	require.True(t, ok)
}

func TestRegistryRejectsMalformedUserCommand(t *testing.T) {
	cfg := testConfig(t)
	cfg.Commands = map[string]command.Definition{"broken": {}}
	_, err := New(cfg).Registry()
	require.Error(t, err)
	var ce *command.CompileError
	require.ErrorAs(t, err, &ce)
}

func TestBaseScope(t *testing.T) {
	cfg := testConfig(t)
	cfg.Origin = "https://example.com/acme/site.git"
	b := New(cfg)

	sc := b.BaseScope(map[string]string{"branch": "preview", "extra": "1"})
	require.Equal(t, cfg.Source, sc.Lookup("source"))
	require.Equal(t, cfg.Target, sc.Lookup("target"))
	require.Equal(t, cfg.Origin, sc.Lookup("origin"))
	// Extra bindings override configured values.
	require.Equal(t, "preview", sc.Lookup("branch"))
	require.Equal(t, "1", sc.Lookup("extra"))
}

func TestExecuteBuildRunsTool(t *testing.T) {
	cfg := testConfig(t)
	b := New(cfg)
	reg, err := b.Registry()
	require.NoError(t, err)

	sc := b.BaseScope(nil)
	require.NoError(t, b.Execute(context.Background(), reg, "build", sc, []string{cfg.Source, cfg.Target}))
	require.FileExists(t, filepath.Join(cfg.Target, "index.html"))
}

func TestExecuteRecordsHistory(t *testing.T) {
	cfg := testConfig(t)
	store, err := history.Open(":memory:")
	require.NoError(t, err)
	defer store.Close()

	b := New(cfg, WithHistory(store))
	reg, err := b.Registry()
	require.NoError(t, err)

	sc := b.BaseScope(nil)
	require.NoError(t, b.Execute(context.Background(), reg, "build", sc, []string{cfg.Source, cfg.Target}))

	events, err := store.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, history.EventBuildCompleted, events[0].Type)
	require.Equal(t, history.EventBuildStarted, events[1].Type)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(events[0].Payload, &payload))
	require.Equal(t, "build", payload["command"])
}

func TestExecuteFailureRecorded(t *testing.T) {
	cfg := testConfig(t)
	cfg.Build.Args = []string{"-c", "exit 1"}
	store, err := history.Open(":memory:")
	require.NoError(t, err)
	defer store.Close()

	b := New(cfg, WithHistory(store))
	reg, err := b.Registry()
	require.NoError(t, err)

	sc := b.BaseScope(nil)
	require.Error(t, b.Execute(context.Background(), reg, "build", sc, []string{cfg.Source, cfg.Target}))

	events, err := store.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, history.EventBuildFailed, events[0].Type)
}

func TestCommitPushMessageFromRawArgs(t *testing.T) {
	sc := scope.New(nil)
	sc.SetRawArgs([]string{"./site", "published", "nightly", "content", "refresh"})

	require.Equal(t, "nightly content refresh", messageFromRawArgs(sc))

	sc.SetRawArgs([]string{"./site", "published"})
	require.Empty(t, messageFromRawArgs(sc))
}

func TestDeployEndToEnd(t *testing.T) {
	ctx := context.Background()

	// A bare origin seeded with one content commit on main.
	origin := filepath.Join(t.TempDir(), "origin.git")
	bare, err := git.PlainInit(origin, true)
	require.NoError(t, err)
	head := plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))
	require.NoError(t, bare.Storer.SetReference(head))

	cfg := testConfig(t)
	cfg.Origin = origin
	cfg.Build.Args = []string{"-c", "cp {source}/content.md {target}/index.html"}

	store, err := history.Open(":memory:")
	require.NoError(t, err)
	defer store.Close()
	b := New(cfg, WithHistory(store))

	// Seed main through the builder's own primitives.
	seed := filepath.Join(t.TempDir(), "seed")
	require.NoError(t, b.syncer.EnsureClone(ctx, seed, origin))
	require.NoError(t, b.syncer.CheckoutBranch(ctx, seed, "main"))
	require.NoError(t, os.WriteFile(filepath.Join(seed, "content.md"), []byte("# hello"), 0o644))
	_, err = b.syncer.CommitAndPush(ctx, seed, "main", "initial content")
	require.NoError(t, err)

	reg, err := b.Registry()
	require.NoError(t, err)

	workdir := filepath.Join(t.TempDir(), "workdir")
	sc := b.BaseScope(map[string]string{"workdir": workdir})
	require.NoError(t, b.Execute(ctx, reg, "deploy", sc, nil))

	// The built site was committed to the published branch on origin.
	ref, err := bare.Reference(plumbing.NewBranchReferenceName("published"), true)
	require.NoError(t, err)
	firstPublish := ref.Hash()

	// The target working copy holds the output plus its build record.
	require.FileExists(t, filepath.Join(cfg.Target, "index.html"))
	require.FileExists(t, filepath.Join(cfg.Target, ".sitepress-builds.json"))

	events, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, history.EventBuildCompleted, events[0].Type)
	require.Equal(t, history.EventDeployPushed, events[1].Type)

	// Re-deploy with no new source commit: skipped, origin untouched.
	sc2 := b.BaseScope(map[string]string{"workdir": workdir})
	require.NoError(t, b.Execute(ctx, reg, "deploy", sc2, nil))

	ref, err = bare.Reference(plumbing.NewBranchReferenceName("published"), true)
	require.NoError(t, err)
	require.Equal(t, firstPublish, ref.Hash())

	events, err = store.Recent(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, history.EventBuildSkipped, events[0].Type)

	// New content commit: re-deploy builds and pushes again.
	require.NoError(t, os.WriteFile(filepath.Join(seed, "content.md"), []byte("# updated"), 0o644))
	_, err = b.syncer.CommitAndPush(ctx, seed, "main", "update content")
	require.NoError(t, err)

	sc3 := b.BaseScope(map[string]string{"workdir": workdir})
	require.NoError(t, b.Execute(ctx, reg, "deploy", sc3, nil))

	ref, err = bare.Reference(plumbing.NewBranchReferenceName("published"), true)
	require.NoError(t, err)
	require.NotEqual(t, firstPublish, ref.Hash())

	data, err := os.ReadFile(filepath.Join(cfg.Target, "index.html"))
	require.NoError(t, err)
	require.Equal(t, "# updated", string(data))
}

func TestExecuteUnknownCommand(t *testing.T) {
	cfg := testConfig(t)
	b := New(cfg)
	reg, err := b.Registry()
	require.NoError(t, err)
	require.Error(t, b.Execute(context.Background(), reg, "nope", b.BaseScope(nil), nil))
}
