package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sitepress.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "origin: git@example.com:acme/my-site.git\n"))
	require.NoError(t, err)

	require.Equal(t, ".", cfg.Source)
	require.Equal(t, "./site", cfg.Target)
	require.Equal(t, "published", cfg.Branch)
	require.Equal(t, "hugo", cfg.Build.Tool)
	require.Equal(t, ":8080", cfg.Serve.Addr)
	require.Equal(t, 750*time.Millisecond, cfg.Serve.Interval.Std())
	require.Equal(t, "SITEPRESS", cfg.Notify.Stream)
	require.Equal(t, "sitepress.builds", cfg.Notify.Subject)
	require.Equal(t, ".sitepress-history.db", cfg.History.Path)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "not found")
}

func TestLoadParsesDurations(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
build:
  timeout: 10m
serve:
  interval: 250ms
  sync_every: 1h
git:
  retry:
    initial: 2s
    max: 1m
`))
	require.NoError(t, err)
	require.Equal(t, 10*time.Minute, cfg.Build.Timeout.Std())
	require.Equal(t, 250*time.Millisecond, cfg.Serve.Interval.Std())
	require.Equal(t, time.Hour, cfg.Serve.SyncEvery.Std())
	require.Equal(t, 2*time.Second, cfg.Git.Retry.Initial.Std())
	require.Equal(t, time.Minute, cfg.Git.Retry.Max.Std())
}

func TestLoadRejectsBadDuration(t *testing.T) {
	_, err := Load(writeConfig(t, "serve:\n  interval: soon\n"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid duration")
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("SITEPRESS_TEST_ORIGIN", "https://example.com/acme/site.git")
	cfg, err := Load(writeConfig(t, "origin: ${SITEPRESS_TEST_ORIGIN}\n"))
	require.NoError(t, err)
	require.Equal(t, "https://example.com/acme/site.git", cfg.Origin)
}

func TestLoadParsesCommands(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
commands:
  publish:
    args: [source, target]
    vars:
      branch: published
    actions:
      - build-site {source} {target}
      - commit-push {target} {branch}
    silentFail: true
  quick:
    action: build-site {source} {target}
`))
	require.NoError(t, err)
	require.Len(t, cfg.Commands, 2)

	publish := cfg.Commands["publish"]
	require.Equal(t, []string{"source", "target"}, publish.Args)
	require.Equal(t, "published", publish.Vars["branch"])
	require.Len(t, publish.Actions, 2)
	require.True(t, publish.SilentFail)

	quick := cfg.Commands["quick"]
	require.Len(t, quick.Action, 1)
}

func TestValidateNotifyRequiresURL(t *testing.T) {
	_, err := Load(writeConfig(t, "notify:\n  enabled: true\n"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "notify.url")
}

func TestDefaultTitle(t *testing.T) {
	tests := []struct {
		origin string
		source string
		want   string
	}{
		{"git@example.com:acme/my-site.git", ".", "My Site"},
		{"https://example.com/acme/handbook", ".", "Handbook"},
		{"", "./release_notes", "Release Notes"},
		{"", ".", "Site"},
		{"", "", "Site"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, defaultTitle(tt.origin, tt.source), "%q/%q", tt.origin, tt.source)
	}
}

func TestRetryConfigPolicy(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
git:
  retry:
    mode: exponential
    initial: 100ms
    max: 5s
    max_retries: 4
`))
	require.NoError(t, err)
	p := cfg.Git.Retry.Policy()
	require.Equal(t, 100*time.Millisecond, p.Initial)
	require.Equal(t, 5*time.Second, p.Max)
	require.Equal(t, 4, p.MaxRetries)
}

func TestInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sitepress.yaml")
	require.NoError(t, Init(path, false))

	// The generated file must load cleanly.
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "./content", cfg.Source)

	// Refuses to overwrite without force.
	require.Error(t, Init(path, false))
	require.NoError(t, Init(path, true))
}
