// Package gitsync implements the repository synchronization primitives the
// publish pipeline is built from: clone-or-reuse, branch reconciliation with
// orphan bootstrap, idempotent commit+push, merge, and identity reads.
//
// State is re-derived from disk on every call; no repository objects are
// cached between operations.
package gitsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	gitcfg "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing/transport"

	"git.home.luguber.info/inful/sitepress/internal/logfields"
	"git.home.luguber.info/inful/sitepress/internal/retry"
)

// Signature identifies the committer used for publish commits.
type Signature struct {
	Name  string
	Email string
}

// Syncer performs repository operations. A single Syncer may serve many
// working-copy paths; it holds no per-path state.
type Syncer struct {
	sig    Signature
	policy retry.Policy
}

// New creates a Syncer with the given committer signature and retry policy
// for transient network failures.
func New(sig Signature, policy retry.Policy) *Syncer {
	if sig.Name == "" {
		sig.Name = "sitepress"
	}
	if sig.Email == "" {
		sig.Email = "sitepress@localhost"
	}
	return &Syncer{sig: sig, policy: policy}
}

// EnsureClone makes path a working copy of remoteRef. A missing working
// copy is cloned fresh. An existing one is reused in place when its origin
// matches remoteRef, and destroyed and recloned on mismatch.
func (s *Syncer) EnsureClone(ctx context.Context, path, remoteRef string) error {
	repo, err := git.PlainOpen(path)
	switch {
	case err == nil:
		if originMatches(repo, remoteRef) {
			slog.Debug("Reusing existing working copy", logfields.Path(path), logfields.URL(remoteRef))
			return nil
		}
		slog.Info("Origin mismatch, recloning", logfields.Path(path), logfields.URL(remoteRef))
		if err := os.RemoveAll(path); err != nil {
			return fmt.Errorf("remove stale working copy: %w", err)
		}
	case errors.Is(err, git.ErrRepositoryNotExists):
		// fresh clone below
	default:
		return stateErr(path, "cannot open working copy", err)
	}
	return s.withRetry(ctx, "clone", func() error { return s.clone(ctx, path, remoteRef) })
}

func (s *Syncer) clone(ctx context.Context, path, remoteRef string) error {
	slog.Info("Cloning repository", logfields.URL(remoteRef), logfields.Path(path))
	_, err := git.PlainCloneContext(ctx, path, false, &git.CloneOptions{URL: remoteRef})
	if err == nil {
		return nil
	}
	if errors.Is(err, transport.ErrEmptyRemoteRepository) {
		// A brand-new remote with no commits yet: bootstrap an empty
		// working copy wired to it so the first publish can push.
		repo, initErr := git.PlainInit(path, false)
		if initErr != nil {
			return fmt.Errorf("init empty working copy: %w", initErr)
		}
		if _, remErr := repo.CreateRemote(&gitcfg.RemoteConfig{Name: "origin", URLs: []string{remoteRef}}); remErr != nil {
			return fmt.Errorf("configure origin: %w", remErr)
		}
		slog.Info("Remote is empty, initialized fresh working copy", logfields.Path(path))
		return nil
	}
	return fmt.Errorf("clone %s: %w", remoteRef, err)
}

// originMatches reports whether any configured remote URL equals remoteRef.
func originMatches(repo *git.Repository, remoteRef string) bool {
	remotes, err := repo.Remotes()
	if err != nil {
		return false
	}
	for _, remote := range remotes {
		for _, u := range remote.Config().URLs {
			if sameRemote(u, remoteRef) {
				return true
			}
		}
	}
	return false
}

func sameRemote(a, b string) bool {
	norm := func(u string) string {
		u = strings.TrimSuffix(strings.TrimSuffix(u, "/"), ".git")
		if abs, err := filepath.Abs(u); err == nil && (strings.HasPrefix(u, "/") || strings.HasPrefix(u, ".")) {
			return abs
		}
		return u
	}
	return norm(a) == norm(b)
}

// withRetry reruns fn on transient failures per the configured policy.
func (s *Syncer) withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil || !isTransient(err) || attempt >= s.policy.MaxRetries {
			return err
		}
		delay := s.policy.Delay(attempt + 1)
		slog.Warn("Transient failure, retrying",
			slog.String("op", op),
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", delay),
			logfields.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// isTransient classifies network-flavored failures worth retrying.
func isTransient(err error) bool {
	l := strings.ToLower(err.Error())
	for _, marker := range []string{"timeout", "timed out", "connection reset", "connection refused", "temporarily unavailable", "unexpected eof", "too many requests"} {
		if strings.Contains(l, marker) {
			return true
		}
	}
	return false
}
