package gitsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/go-git/go-git/v5"
	gitcfg "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"

	"git.home.luguber.info/inful/sitepress/internal/logfields"
)

// CheckoutBranch reconciles the working copy at path onto branch.
//
// If the branch exists on the remote it is checked out as a local tracking
// branch and fast-forwarded. If it does not, a new orphan branch is created
// with an empty index and a clean working tree: the bootstrap path for a
// target branch that has never been built before.
func (s *Syncer) CheckoutBranch(ctx context.Context, path, branch string) error {
	repo, err := git.PlainOpen(path)
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return fmt.Errorf("checkout %s: %w", path, ErrNoRepository)
		}
		return stateErr(path, "cannot open working copy", err)
	}

	if err := s.withRetry(ctx, "fetch", func() error { return fetchOrigin(ctx, repo) }); err != nil {
		return err
	}

	remoteRef, err := repo.Reference(plumbing.NewRemoteReferenceName("origin", branch), true)
	if err != nil {
		slog.Info("Branch not on remote, creating orphan", logfields.Path(path), logfields.Branch(branch))
		return createOrphanBranch(repo, path, branch)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return stateErr(path, "worktree", err)
	}
	localRef := plumbing.NewBranchReferenceName(branch)
	_, lerr := repo.Reference(localRef, true)
	checkout := &git.CheckoutOptions{Branch: localRef, Force: true, Create: lerr != nil}
	if err := wt.Checkout(checkout); err != nil {
		return fmt.Errorf("checkout %s: %w", branch, err)
	}
	// Fast-forward to the remote tip.
	if err := wt.Reset(&git.ResetOptions{Commit: remoteRef.Hash(), Mode: git.HardReset}); err != nil {
		return fmt.Errorf("fast-forward %s: %w", branch, err)
	}
	slog.Info("Checked out branch", logfields.Path(path), logfields.Branch(branch), logfields.Commit(shortHash(remoteRef.Hash().String())))
	return nil
}

func fetchOrigin(ctx context.Context, repo *git.Repository) error {
	err := repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName: "origin",
		RefSpecs:   []gitcfg.RefSpec{"+refs/heads/*:refs/remotes/origin/*"},
		Tags:       git.NoTags,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) && !errors.Is(err, transport.ErrEmptyRemoteRepository) {
		return fmt.Errorf("fetch: %w", err)
	}
	return nil
}

// createOrphanBranch points HEAD at an unborn branch and leaves the index
// and working tree empty, so the next commit has no parents and tracks no
// inherited files.
func createOrphanBranch(repo *git.Repository, path, branch string) error {
	head := plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(branch))
	if err := repo.Storer.SetReference(head); err != nil {
		return fmt.Errorf("set HEAD to orphan %s: %w", branch, err)
	}

	idx, err := repo.Storer.Index()
	if err != nil {
		return stateErr(path, "read index", err)
	}
	idx.Entries = nil
	if err := repo.Storer.SetIndex(idx); err != nil {
		return fmt.Errorf("clear index: %w", err)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return fmt.Errorf("read working tree: %w", err)
	}
	for _, entry := range entries {
		if entry.Name() == git.GitDirName {
			continue
		}
		if err := os.RemoveAll(filepath.Join(path, entry.Name())); err != nil {
			return fmt.Errorf("clean working tree: %w", err)
		}
	}
	return nil
}
