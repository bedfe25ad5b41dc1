package gitsync

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/sitepress/internal/retry"
)

func newSyncer() *Syncer {
	return New(Signature{Name: "test", Email: "test@example.com"},
		retry.NewPolicy(retry.BackoffFixed, time.Millisecond, time.Millisecond, 0))
}

// initBareOrigin creates an empty bare repository whose default branch is
// set to branch, standing in for a freshly created forge repository.
func initBareOrigin(t *testing.T, branch string) string {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, true)
	require.NoError(t, err)
	head := plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(branch))
	require.NoError(t, repo.Storer.SetReference(head))
	return dir
}

// seedOrigin pushes an initial commit with the given files to origin's
// branch through a throwaway working copy, and returns its hash.
func seedOrigin(t *testing.T, s *Syncer, origin, branch string, files map[string]string) string {
	t.Helper()
	ctx := context.Background()
	seed := filepath.Join(t.TempDir(), "seed")
	require.NoError(t, s.EnsureClone(ctx, seed, origin))
	require.NoError(t, s.CheckoutBranch(ctx, seed, branch))
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(seed, name), []byte(content), 0o644))
	}
	res, err := s.CommitAndPush(ctx, seed, branch, "seed")
	require.NoError(t, err)
	require.True(t, res.Committed)
	return res.Hash
}

func TestPublishRoundTrip(t *testing.T) {
	ctx := context.Background()
	origin := initBareOrigin(t, "published")
	s := newSyncer()
	work := filepath.Join(t.TempDir(), "work")

	require.NoError(t, s.EnsureClone(ctx, work, origin))
	require.NoError(t, s.CheckoutBranch(ctx, work, "published"))
	require.NoError(t, os.WriteFile(filepath.Join(work, "index.html"), []byte("<h1>hi</h1>"), 0o644))

	res, err := s.CommitAndPush(ctx, work, "published", "first build")
	require.NoError(t, err)
	require.True(t, res.Committed)
	require.NotEmpty(t, res.Hash)

	// Rerun with no changes: nothing committed, nothing pushed.
	res, err = s.CommitAndPush(ctx, work, "published", "rerun")
	require.NoError(t, err)
	require.False(t, res.Committed)
	require.Empty(t, res.Hash)

	// A fresh clone sees the published content.
	work2 := filepath.Join(t.TempDir(), "work2")
	require.NoError(t, s.EnsureClone(ctx, work2, origin))
	require.NoError(t, s.CheckoutBranch(ctx, work2, "published"))
	data, err := os.ReadFile(filepath.Join(work2, "index.html"))
	require.NoError(t, err)
	require.Equal(t, "<h1>hi</h1>", string(data))
}

func TestCheckoutBranchBootstrapsOrphan(t *testing.T) {
	ctx := context.Background()
	origin := initBareOrigin(t, "main")
	s := newSyncer()
	seedOrigin(t, s, origin, "main", map[string]string{"doc.md": "# doc"})

	work := filepath.Join(t.TempDir(), "work")
	require.NoError(t, s.EnsureClone(ctx, work, origin))
	require.FileExists(t, filepath.Join(work, "doc.md"))

	// "published" does not exist on the remote: orphan bootstrap must leave
	// an empty tree that does not inherit main's files.
	require.NoError(t, s.CheckoutBranch(ctx, work, "published"))
	require.NoFileExists(t, filepath.Join(work, "doc.md"))
	require.DirExists(t, filepath.Join(work, git.GitDirName))

	require.NoError(t, os.WriteFile(filepath.Join(work, "index.html"), []byte("site"), 0o644))
	res, err := s.CommitAndPush(ctx, work, "published", "first")
	require.NoError(t, err)
	require.True(t, res.Committed)

	// The orphan's first commit has no parents.
	repo, err := git.PlainOpen(work)
	require.NoError(t, err)
	commit, err := repo.CommitObject(plumbing.NewHash(res.Hash))
	require.NoError(t, err)
	require.Zero(t, commit.NumParents())
}

func TestCheckoutBranchFastForwardsExisting(t *testing.T) {
	ctx := context.Background()
	origin := initBareOrigin(t, "main")
	s := newSyncer()
	seedOrigin(t, s, origin, "main", map[string]string{"a.txt": "1"})

	work := filepath.Join(t.TempDir(), "work")
	require.NoError(t, s.EnsureClone(ctx, work, origin))
	require.NoError(t, s.CheckoutBranch(ctx, work, "main"))

	// Advance origin through a second working copy.
	other := filepath.Join(t.TempDir(), "other")
	require.NoError(t, s.EnsureClone(ctx, other, origin))
	require.NoError(t, s.CheckoutBranch(ctx, other, "main"))
	require.NoError(t, os.WriteFile(filepath.Join(other, "b.txt"), []byte("2"), 0o644))
	res, err := s.CommitAndPush(ctx, other, "main", "advance")
	require.NoError(t, err)

	require.NoError(t, s.CheckoutBranch(ctx, work, "main"))
	require.FileExists(t, filepath.Join(work, "b.txt"))

	id, err := s.ReadIdentity(work)
	require.NoError(t, err)
	require.Equal(t, res.Hash, id.Commit.Hash)
}

func TestEnsureCloneReusesMatchingOrigin(t *testing.T) {
	ctx := context.Background()
	origin := initBareOrigin(t, "main")
	s := newSyncer()
	seedOrigin(t, s, origin, "main", map[string]string{"a.txt": "1"})

	work := filepath.Join(t.TempDir(), "work")
	require.NoError(t, s.EnsureClone(ctx, work, origin))

	marker := filepath.Join(work, "untracked.tmp")
	require.NoError(t, os.WriteFile(marker, []byte("x"), 0o644))

	// Same origin: reused in place, local state untouched.
	require.NoError(t, s.EnsureClone(ctx, work, origin))
	require.FileExists(t, marker)

	// Different origin: destroyed and recloned.
	origin2 := initBareOrigin(t, "main")
	seedOrigin(t, s, origin2, "main", map[string]string{"c.txt": "3"})
	require.NoError(t, s.EnsureClone(ctx, work, origin2))
	require.NoFileExists(t, marker)
	require.FileExists(t, filepath.Join(work, "c.txt"))
}

func TestEnsureCloneEmptyRemote(t *testing.T) {
	ctx := context.Background()
	origin := initBareOrigin(t, "main")
	s := newSyncer()

	work := filepath.Join(t.TempDir(), "work")
	require.NoError(t, s.EnsureClone(ctx, work, origin))

	repo, err := git.PlainOpen(work)
	require.NoError(t, err)
	remote, err := repo.Remote("origin")
	require.NoError(t, err)
	require.Equal(t, []string{origin}, remote.Config().URLs)
}

func TestMergeFastForward(t *testing.T) {
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)
	sig := &object.Signature{Name: "test", Email: "test@example.com", When: time.Now()}

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("1"), 0o644))
	_, err = wt.Add("a.txt")
	require.NoError(t, err)
	base, err := wt.Commit("base", &git.CommitOptions{Author: sig})
	require.NoError(t, err)

	extraRef := plumbing.NewBranchReferenceName("extra")
	require.NoError(t, repo.Storer.SetReference(plumbing.NewHashReference(extraRef, base)))
	require.NoError(t, wt.Checkout(&git.CheckoutOptions{Branch: extraRef}))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("2"), 0o644))
	_, err = wt.Add("b.txt")
	require.NoError(t, err)
	ahead, err := wt.Commit("ahead", &git.CommitOptions{Author: sig})
	require.NoError(t, err)

	require.NoError(t, wt.Checkout(&git.CheckoutOptions{Branch: plumbing.NewBranchReferenceName("master")}))

	s := newSyncer()
	require.NoError(t, s.Merge(context.Background(), dir, "extra"))

	head, err := repo.Head()
	require.NoError(t, err)
	require.Equal(t, ahead, head.Hash())
	require.FileExists(t, filepath.Join(dir, "b.txt"))
}

func TestMergeRejectsDiverged(t *testing.T) {
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)
	sig := &object.Signature{Name: "test", Email: "test@example.com", When: time.Now()}

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("1"), 0o644))
	_, err = wt.Add("a.txt")
	require.NoError(t, err)
	base, err := wt.Commit("base", &git.CommitOptions{Author: sig})
	require.NoError(t, err)

	extraRef := plumbing.NewBranchReferenceName("extra")
	require.NoError(t, repo.Storer.SetReference(plumbing.NewHashReference(extraRef, base)))
	require.NoError(t, wt.Checkout(&git.CheckoutOptions{Branch: extraRef}))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("2"), 0o644))
	_, err = wt.Add("b.txt")
	require.NoError(t, err)
	_, err = wt.Commit("extra work", &git.CommitOptions{Author: sig})
	require.NoError(t, err)

	require.NoError(t, wt.Checkout(&git.CheckoutOptions{Branch: plumbing.NewBranchReferenceName("master")}))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.txt"), []byte("3"), 0o644))
	_, err = wt.Add("c.txt")
	require.NoError(t, err)
	_, err = wt.Commit("master work", &git.CommitOptions{Author: sig})
	require.NoError(t, err)

	s := newSyncer()
	err = s.Merge(context.Background(), dir, "extra")
	require.Error(t, err)
	require.Contains(t, err.Error(), "diverged")
}

func TestReadIdentity(t *testing.T) {
	ctx := context.Background()
	origin := initBareOrigin(t, "main")
	s := newSyncer()
	hash := seedOrigin(t, s, origin, "main", map[string]string{"a.txt": "1"})

	work := filepath.Join(t.TempDir(), "work")
	require.NoError(t, s.EnsureClone(ctx, work, origin))

	id, err := s.ReadIdentity(work)
	require.NoError(t, err)
	require.Equal(t, "main", id.Branch)
	require.Equal(t, hash, id.Commit.Hash)
	require.Equal(t, "seed", id.Commit.Subject)
	require.Equal(t, "test@example.com", id.Commit.Email)
	require.Equal(t, filepath.Base(origin), id.Repo)
	require.Equal(t, id.Repo+"#main", id.Key())
	require.Equal(t, hash[:7], id.ShortHash())
	require.Contains(t, id.Remotes, origin)
}

func TestReadIdentityNoRepository(t *testing.T) {
	s := newSyncer()
	_, err := s.ReadIdentity(t.TempDir())
	require.ErrorIs(t, err, ErrNoRepository)
}

func TestCommitAndPushNoRepository(t *testing.T) {
	s := newSyncer()
	_, err := s.CommitAndPush(context.Background(), t.TempDir(), "main", "msg")
	require.ErrorIs(t, err, ErrNoRepository)
}

func TestParseOriginURL(t *testing.T) {
	tests := []struct {
		url     string
		account string
		repo    string
	}{
		{"https://github.com/acme/site.git", "acme", "site"},
		{"https://github.com/acme/site", "acme", "site"},
		{"git@github.com:acme/site.git", "acme", "site"},
		{"ssh://git@git.example.com/team/docs.git", "team", "docs"},
		{"/srv/git/acme/site.git", "acme", "site"},
		{"site.git", "", "site"},
		{"", "", ""},
	}
	for _, tt := range tests {
		account, repo := parseOriginURL(tt.url)
		require.Equal(t, tt.account, account, tt.url)
		require.Equal(t, tt.repo, repo, tt.url)
	}
}

func TestSameRemote(t *testing.T) {
	require.True(t, sameRemote("https://github.com/acme/site.git", "https://github.com/acme/site"))
	require.True(t, sameRemote("/tmp/repo/", "/tmp/repo"))
	require.False(t, sameRemote("https://github.com/acme/site", "https://github.com/acme/other"))
}
