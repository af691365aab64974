// Package gitutil materializes repository trees at pinned commits so the
// gateway can answer commit-accurate search queries without a provider
// code-search endpoint.
package gitutil

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"golang.org/x/sync/singleflight"

	"github.com/diffpilot/diffpilot/internal/core"
)

// TreeSearcher lazily clones repositories into a scratch directory, checks
// out the requested commit, and greps the working tree. Trees are cached per
// SHA; a SHA pins content, so a materialized tree never goes stale.
type TreeSearcher struct {
	token  string
	root   string
	logger *slog.Logger

	mu    sync.Mutex
	trees map[string]string
	group singleflight.Group
}

// NewTreeSearcher creates a searcher rooted in a fresh temp directory. The
// token, when set, authenticates clones of private repositories.
func NewTreeSearcher(token string, logger *slog.Logger) (*TreeSearcher, error) {
	root, err := os.MkdirTemp("", "diffpilot-trees-*")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	return &TreeSearcher{
		token:  token,
		root:   root,
		logger: logger,
		trees:  make(map[string]string),
	}, nil
}

// Close removes every materialized tree.
func (t *TreeSearcher) Close() error {
	return os.RemoveAll(t.root)
}

// Search greps the tree at sha for query and returns ranked hits.
func (t *TreeSearcher) Search(ctx context.Context, cloneURL, sha, query string) ([]core.SearchHit, error) {
	dir, err := t.materialize(ctx, cloneURL, sha)
	if err != nil {
		return nil, err
	}
	return searchTree(dir, query, maxSearchHits)
}

// materialize returns the directory holding the checked-out tree for sha,
// cloning at most once per SHA even under concurrent callers.
func (t *TreeSearcher) materialize(ctx context.Context, cloneURL, sha string) (string, error) {
	t.mu.Lock()
	if dir, ok := t.trees[sha]; ok {
		t.mu.Unlock()
		return dir, nil
	}
	t.mu.Unlock()

	v, err, _ := t.group.Do(sha, func() (any, error) {
		t.mu.Lock()
		if dir, ok := t.trees[sha]; ok {
			t.mu.Unlock()
			return dir, nil
		}
		t.mu.Unlock()

		dir := filepath.Join(t.root, sha)
		t.logger.Info("materializing tree", "url", cloneURL, "sha", sha)

		opts := &git.CloneOptions{URL: cloneURL}
		if t.token != "" {
			opts.Auth = &githttp.BasicAuth{Username: "token", Password: t.token}
		}
		repo, err := git.PlainCloneContext(ctx, dir, false, opts)
		if err != nil {
			_ = os.RemoveAll(dir)
			return nil, fmt.Errorf("clone %s: %w", cloneURL, err)
		}

		wt, err := repo.Worktree()
		if err != nil {
			_ = os.RemoveAll(dir)
			return nil, fmt.Errorf("open worktree: %w", err)
		}
		if err := wt.Checkout(&git.CheckoutOptions{Hash: plumbing.NewHash(sha), Force: true}); err != nil {
			_ = os.RemoveAll(dir)
			return nil, fmt.Errorf("checkout %s: %w", sha, err)
		}

		t.mu.Lock()
		t.trees[sha] = dir
		t.mu.Unlock()
		return dir, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}
