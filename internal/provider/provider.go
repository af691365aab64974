// Package provider implements the gateway to source-control hosting
// providers. It normalizes pull/merge request URLs, lowers provider-specific
// API payloads onto the canonical core.PRInfo schema, and serves file and
// search requests addressed by commit SHA.
package provider

import (
	"context"

	"github.com/diffpilot/diffpilot/internal/core"
)

// Kind distinguishes pull requests from issues in a parsed reference.
type Kind string

const (
	KindPR    Kind = "pr"
	KindIssue Kind = "issue"
)

// Ref is a parsed reference to a hosted pull request or issue.
type Ref struct {
	Provider string
	Host     string
	Owner    string
	Repo     string
	// Project is the full project path for providers that support nested
	// groups (GitLab); empty for GitHub.
	Project string
	Kind    Kind
	Number  int
}

// MaxFileBytes caps the size of a file served through FetchFile. Larger blobs
// are rejected rather than truncated.
const MaxFileBytes = 1 << 20

// Provider is one hosting backend (GitHub, GitHub Enterprise, GitLab).
type Provider interface {
	// Name returns the stable provider identifier.
	Name() string

	// LoadPR fetches the pull request object, changed files, commits, and
	// conversation comments in one logical transaction and lowers them to
	// the canonical PRInfo.
	LoadPR(ctx context.Context, ref Ref) (*core.PRInfo, error)

	// FetchFile returns the text contents of path at the given commit.
	FetchFile(ctx context.Context, pr *core.PRInfo, path, sha string) (string, error)

	// Search runs a ranked text search over the repository at the given
	// commit.
	Search(ctx context.Context, pr *core.PRInfo, query, sha string) ([]core.SearchHit, error)
}

// Gateway is the provider-neutral face of the hosting layer. Callers never
// see provider-specific types or field names.
type Gateway interface {
	ParseURL(rawURL string) (Ref, error)
	LoadPR(ctx context.Context, rawURL string) (*core.PRInfo, error)
	FetchFile(ctx context.Context, pr *core.PRInfo, path, sha string) (string, error)
	Search(ctx context.Context, pr *core.PRInfo, query, sha string) ([]core.SearchHit, error)
}
