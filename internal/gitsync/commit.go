package gitsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-git/go-git/v5"
	gitcfg "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"git.home.luguber.info/inful/sitepress/internal/logfields"
)

// PushResult reports what CommitAndPush actually did. A no-op build
// produces no commit and no push, and is reported distinctly from a build
// that produced output.
type PushResult struct {
	Committed bool
	Hash      string // set only when Committed
}

// CommitAndPush stages all changes at path and, only if the stage is
// non-empty, commits them and pushes branch to origin. Calling it again
// with no intervening changes is a no-op.
func (s *Syncer) CommitAndPush(ctx context.Context, path, branch, message string) (PushResult, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return PushResult{}, fmt.Errorf("commit %s: %w", path, ErrNoRepository)
		}
		return PushResult{}, stateErr(path, "cannot open working copy", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return PushResult{}, stateErr(path, "worktree", err)
	}

	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return PushResult{}, fmt.Errorf("stage changes: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return PushResult{}, fmt.Errorf("status: %w", err)
	}
	if status.IsClean() {
		slog.Info("Nothing to commit", logfields.Path(path), logfields.Branch(branch))
		return PushResult{Committed: false}, nil
	}

	if message == "" {
		message = "sitepress build"
	}
	hash, err := wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{Name: s.sig.Name, Email: s.sig.Email, When: time.Now()},
	})
	if err != nil {
		return PushResult{}, fmt.Errorf("commit: %w", err)
	}

	spec := gitcfg.RefSpec(fmt.Sprintf("refs/heads/%s:refs/heads/%s", branch, branch))
	pushErr := s.withRetry(ctx, "push", func() error {
		err := repo.PushContext(ctx, &git.PushOptions{RemoteName: "origin", RefSpecs: []gitcfg.RefSpec{spec}})
		if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
			return fmt.Errorf("push %s: %w", branch, err)
		}
		return nil
	})
	if pushErr != nil {
		return PushResult{}, pushErr
	}
	slog.Info("Committed and pushed", logfields.Path(path), logfields.Branch(branch), logfields.Commit(shortHash(hash.String())))
	return PushResult{Committed: true, Hash: hash.String()}, nil
}

// Merge merges sourceBranch into whatever is currently checked out at path.
// Only fast-forward merges are performed; a diverged source is an error
// rather than an implicit merge commit.
func (s *Syncer) Merge(ctx context.Context, path, sourceBranch string) error {
	repo, err := git.PlainOpen(path)
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return fmt.Errorf("merge %s: %w", path, ErrNoRepository)
		}
		return stateErr(path, "cannot open working copy", err)
	}

	srcRef, err := repo.Reference(plumbing.NewBranchReferenceName(sourceBranch), true)
	if err != nil {
		if srcRef, err = repo.Reference(plumbing.NewRemoteReferenceName("origin", sourceBranch), true); err != nil {
			return fmt.Errorf("merge: source branch %q not found: %w", sourceBranch, err)
		}
	}
	head, err := repo.Head()
	if err != nil {
		return stateErr(path, "unreadable HEAD", err)
	}
	if head.Hash() == srcRef.Hash() {
		return nil
	}

	ff, err := isAncestor(repo, head.Hash(), srcRef.Hash())
	if err != nil {
		return fmt.Errorf("merge: ancestry check: %w", err)
	}
	if !ff {
		return fmt.Errorf("merge: %q has diverged from %s; only fast-forward merges are supported", sourceBranch, head.Name().Short())
	}
	wt, err := repo.Worktree()
	if err != nil {
		return stateErr(path, "worktree", err)
	}
	if err := wt.Reset(&git.ResetOptions{Commit: srcRef.Hash(), Mode: git.HardReset}); err != nil {
		return fmt.Errorf("merge: fast-forward: %w", err)
	}
	slog.Info("Fast-forward merged", logfields.Path(path), logfields.Branch(sourceBranch), logfields.Commit(shortHash(srcRef.Hash().String())))
	return nil
}

// isAncestor reports whether a is reachable from b.
func isAncestor(repo *git.Repository, a, b plumbing.Hash) (bool, error) {
	if a == b {
		return true, nil
	}
	seen := map[plumbing.Hash]struct{}{}
	queue := []plumbing.Hash{b}
	for len(queue) > 0 {
		h := queue[0]
		queue = queue[1:]
		if h == a {
			return true, nil
		}
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		commit, err := repo.CommitObject(h)
		if err != nil {
			return false, err
		}
		queue = append(queue, commit.ParentHashes...)
	}
	return false, nil
}
