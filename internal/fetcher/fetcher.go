// Package fetcher clones a repository into a temporary workspace and
// resolves its revision, handing the walker a filesystem snapshot it owns
// and must release.
package fetcher

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/bhanu1232/RepoRAG/internal/core"
)

// DefaultTimeout bounds a single clone; a clone that outlives it fails
// with a Cancelled error rather than hanging.
const DefaultTimeout = 120 * time.Second

// Snapshot is a fetched repository checked out on local disk. Callers must
// call Close to remove the temporary clone once walking is done.
type Snapshot struct {
	Root     string
	Revision string

	cleanup func() error
}

// Close releases the snapshot's backing directory. Safe to call once.
func (s *Snapshot) Close() error {
	if s.cleanup == nil {
		return nil
	}
	cleanup := s.cleanup
	s.cleanup = nil
	return cleanup()
}

// Fetcher clones a repository URL at an optional revision (branch, tag, or
// commit SHA; empty means the remote's default branch).
type Fetcher interface {
	Fetch(ctx context.Context, url, revision string) (*Snapshot, error)
}

// GitFetcher is a go-git backed Fetcher. Every clone is shallow (depth 1)
// and fetches no tags. With no revision only the default branch is
// fetched; with a revision every branch tip is fetched and the revision is
// resolved against those tips, so a tag or a commit behind a branch tip
// cannot be resolved.
type GitFetcher struct {
	Timeout time.Duration
}

// NewGitFetcher builds a GitFetcher with the default timeout.
func NewGitFetcher() *GitFetcher {
	return &GitFetcher{Timeout: DefaultTimeout}
}

// Fetch clones url into a fresh temp directory and resolves revision to a
// concrete commit. On any failure the temp directory is removed before
// returning.
func (f *GitFetcher) Fetch(ctx context.Context, url, revision string) (*Snapshot, error) {
	timeout := f.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dir, err := os.MkdirTemp("", "reporag-fetch-*")
	if err != nil {
		return nil, core.NewError(core.ErrKindFetch, "failed to create workspace", err)
	}

	cloneOpts := &git.CloneOptions{
		URL:      url,
		Depth:    1,
		Tags:     git.NoTags,
		Progress: nil,
	}
	if revision == "" {
		cloneOpts.SingleBranch = true
	}

	repo, err := git.PlainCloneContext(ctx, dir, false, cloneOpts)
	if err != nil {
		os.RemoveAll(dir)
		if ctx.Err() != nil {
			return nil, core.NewError(core.ErrKindCancelled, "fetch cancelled or timed out", ctx.Err())
		}
		return nil, core.NewError(core.ErrKindFetch, fmt.Sprintf("clone of %s failed", url), err)
	}

	resolved := revision
	if revision != "" {
		hash, err := resolveRevision(repo, revision)
		if err != nil {
			os.RemoveAll(dir)
			return nil, core.NewError(core.ErrKindFetch, fmt.Sprintf("revision %q not found", revision), err)
		}
		wt, err := repo.Worktree()
		if err != nil {
			os.RemoveAll(dir)
			return nil, core.NewError(core.ErrKindFetch, "failed to open worktree", err)
		}
		if err := wt.Checkout(&git.CheckoutOptions{Hash: hash}); err != nil {
			os.RemoveAll(dir)
			return nil, core.NewError(core.ErrKindFetch, fmt.Sprintf("checkout of %q failed", revision), err)
		}
		resolved = hash.String()
	} else {
		head, err := repo.Head()
		if err != nil {
			os.RemoveAll(dir)
			return nil, core.NewError(core.ErrKindFetch, "failed to resolve HEAD", err)
		}
		resolved = head.Hash().String()
	}

	return &Snapshot{
		Root:     dir,
		Revision: resolved,
		cleanup:  func() error { return os.RemoveAll(dir) },
	}, nil
}

// resolveRevision accepts a branch, tag, or commit SHA and resolves it to
// a concrete commit hash.
func resolveRevision(repo *git.Repository, revision string) (plumbing.Hash, error) {
	if hash, err := repo.ResolveRevision(plumbing.Revision(revision)); err == nil {
		return *hash, nil
	}
	if hash, err := repo.ResolveRevision(plumbing.Revision("origin/" + revision)); err == nil {
		return *hash, nil
	}
	return plumbing.Hash{}, fmt.Errorf("unresolvable revision %q", revision)
}
