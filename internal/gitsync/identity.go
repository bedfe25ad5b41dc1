package gitsync

import (
	"errors"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
)

// Commit is the latest-commit metadata of a working copy's checked-out branch.
type Commit struct {
	Hash    string
	Time    time.Time // UTC
	Email   string
	Subject string
}

// Identity describes a working copy: who it belongs to, where it points,
// and what it currently has checked out. Derived attributes are always
// re-read from disk, never stored.
type Identity struct {
	Account string
	Repo    string
	Branch  string
	Commit  Commit
	Remotes []string
}

// Key returns the build-record key for this identity: "{repo}#{branch}".
func (id Identity) Key() string { return id.Repo + "#" + id.Branch }

// ShortHash returns the abbreviated commit hash used in build records.
func (id Identity) ShortHash() string { return shortHash(id.Commit.Hash) }

// ReadIdentity reads the identity of the working copy at path.
//
// A missing working copy yields ErrNoRepository (a normal outcome); a
// present but malformed one yields a RepoStateError.
func (s *Syncer) ReadIdentity(path string) (Identity, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return Identity{}, ErrNoRepository
		}
		return Identity{}, stateErr(path, "cannot open working copy", err)
	}

	var id Identity
	remotes, err := repo.Remotes()
	if err != nil {
		return Identity{}, stateErr(path, "remotes", err)
	}
	for _, remote := range remotes {
		id.Remotes = append(id.Remotes, remote.Config().URLs...)
		if remote.Config().Name == "origin" && len(remote.Config().URLs) > 0 {
			id.Account, id.Repo = parseOriginURL(remote.Config().URLs[0])
		}
	}

	head, err := repo.Head()
	if err != nil {
		return Identity{}, stateErr(path, "unreadable HEAD", err)
	}
	if !head.Name().IsBranch() {
		return Identity{}, stateErr(path, "HEAD is not on a branch", nil)
	}
	id.Branch = head.Name().Short()

	commit, err := repo.CommitObject(head.Hash())
	if err != nil {
		return Identity{}, stateErr(path, "latest commit unreadable", err)
	}
	id.Commit = Commit{
		Hash:    commit.Hash.String(),
		Time:    commit.Author.When.UTC(),
		Email:   commit.Author.Email,
		Subject: subjectLine(commit.Message),
	}
	return id, nil
}

// parseOriginURL extracts account and repository names from the trailing
// path segments of an origin URL. Best-effort: it assumes an
// {account}/{repo}.git-shaped origin and handles both URL and scp-like
// forms.
func parseOriginURL(url string) (account, repo string) {
	s := strings.TrimSuffix(url, "/")
	s = strings.ReplaceAll(s, ":", "/")
	segments := strings.Split(s, "/")
	var parts []string
	for _, seg := range segments {
		if seg != "" {
			parts = append(parts, seg)
		}
	}
	if len(parts) == 0 {
		return "", ""
	}
	repo = strings.TrimSuffix(parts[len(parts)-1], ".git")
	if len(parts) > 1 {
		account = parts[len(parts)-2]
	}
	return account, repo
}

func subjectLine(message string) string {
	if i := strings.IndexByte(message, '\n'); i >= 0 {
		return strings.TrimSpace(message[:i])
	}
	return strings.TrimSpace(message)
}

func shortHash(hash string) string {
	if len(hash) > 7 {
		return hash[:7]
	}
	return hash
}
