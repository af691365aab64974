package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/go-github/v73/github"
	"golang.org/x/oauth2"

	"github.com/diffpilot/diffpilot/internal/core"
)

// LocalSearcher greps a lazily materialized working tree at a given commit.
// It backs Search for providers without a usable code-search endpoint and for
// commit-pinned queries, which hosted code search cannot serve.
type LocalSearcher interface {
	Search(ctx context.Context, cloneURL, sha, query string) ([]core.SearchHit, error)
}

// GitHubProvider serves github.com and GitHub Enterprise hosts.
type GitHubProvider struct {
	client *github.Client
	local  LocalSearcher
	logger *slog.Logger
}

// GitHubOptions selects the authentication mode: a personal access token,
// a GitHub App installation, or neither (public repositories only).
type GitHubOptions struct {
	Token             string
	APIBase           string
	AppID             int64
	AppInstallationID int64
	AppPrivateKeyPath string
}

// NewGitHubProvider builds a provider over the official go-github client.
// App-installation auth wins when fully configured; a non-default APIBase
// switches the client to Enterprise endpoints.
func NewGitHubProvider(ctx context.Context, opts GitHubOptions, local LocalSearcher, logger *slog.Logger) (*GitHubProvider, error) {
	httpClient := http.DefaultClient
	switch {
	case opts.AppID != 0 && opts.AppInstallationID != 0 && opts.AppPrivateKeyPath != "":
		transport, err := newAppTransport(opts.AppID, opts.AppInstallationID, opts.AppPrivateKeyPath)
		if err != nil {
			return nil, err
		}
		httpClient = &http.Client{Transport: transport}
		logger.Info("using GitHub App installation auth", "app_id", opts.AppID)
	case opts.Token != "":
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.Token})
		httpClient = oauth2.NewClient(ctx, ts)
	}

	client := github.NewClient(httpClient)
	if opts.APIBase != "" && opts.APIBase != "https://api.github.com" {
		var err error
		client, err = client.WithEnterpriseURLs(opts.APIBase, opts.APIBase)
		if err != nil {
			return nil, fmt.Errorf("invalid GITHUB_API_BASE %q: %w", opts.APIBase, err)
		}
	}

	return &GitHubProvider{client: client, local: local, logger: logger}, nil
}

// newGitHubProviderWithClient is the test seam.
func newGitHubProviderWithClient(client *github.Client, local LocalSearcher, logger *slog.Logger) *GitHubProvider {
	return &GitHubProvider{client: client, local: local, logger: logger}
}

func (g *GitHubProvider) Name() string { return "github" }

// LoadPR fetches the PR object, file list, commit list, and issue comments,
// and lowers them to the canonical PRInfo.
func (g *GitHubProvider) LoadPR(ctx context.Context, ref Ref) (*core.PRInfo, error) {
	var pr *github.PullRequest
	err := withBackoff(ctx, func() error {
		var resp *github.Response
		var err error
		pr, resp, err = g.client.PullRequests.Get(ctx, ref.Owner, ref.Repo, ref.Number)
		return g.mapError(resp, err)
	})
	if err != nil {
		return nil, fmt.Errorf("load pull request %s/%s#%d: %w", ref.Owner, ref.Repo, ref.Number, err)
	}

	files, err := g.listFiles(ctx, ref)
	if err != nil {
		return nil, err
	}
	commits, err := g.listCommits(ctx, ref)
	if err != nil {
		return nil, err
	}
	comments, err := g.listComments(ctx, ref)
	if err != nil {
		// Comments are conversational garnish; a PR without them is still
		// reviewable.
		g.logger.Warn("failed to list PR comments", "repo", ref.Owner+"/"+ref.Repo, "pr", ref.Number, "error", err)
	}

	info := &core.PRInfo{
		Provider:     g.Name(),
		Repo:         core.Repo{Owner: ref.Owner, Name: ref.Repo},
		Number:       ref.Number,
		Title:        pr.GetTitle(),
		Body:         pr.GetBody(),
		BaseSHA:      pr.GetBase().GetSHA(),
		HeadSHA:      pr.GetHead().GetSHA(),
		BaseRef:      pr.GetBase().GetRef(),
		HeadRef:      pr.GetHead().GetRef(),
		State:        pr.GetState(),
		Draft:        pr.GetDraft(),
		Files:        files,
		Commits:      commits,
		Comments:     comments,
		Additions:    pr.GetAdditions(),
		Deletions:    pr.GetDeletions(),
		ChangedFiles: len(files),
		CloneURL:     pr.GetBase().GetRepo().GetCloneURL(),
		Host:         ref.Host,
		CreatedAt:    time.Now(),
	}
	if u := pr.GetUser(); u != nil {
		info.User = &core.User{Login: u.GetLogin(), AvatarURL: u.GetAvatarURL()}
	}
	if info.HeadSHA == "" {
		return nil, fmt.Errorf("%w: pull request %d has no head SHA", core.ErrTransport, ref.Number)
	}
	return info, nil
}

func (g *GitHubProvider) listFiles(ctx context.Context, ref Ref) ([]core.PRFile, error) {
	var all []core.PRFile
	opts := &github.ListOptions{PerPage: 100}
	for {
		var files []*github.CommitFile
		var resp *github.Response
		err := withBackoff(ctx, func() error {
			var err error
			files, resp, err = g.client.PullRequests.ListFiles(ctx, ref.Owner, ref.Repo, ref.Number, opts)
			return g.mapError(resp, err)
		})
		if err != nil {
			return nil, fmt.Errorf("list changed files: %w", err)
		}
		for _, f := range files {
			all = append(all, core.PRFile{
				Path:      f.GetFilename(),
				Status:    mapFileStatus(f.GetStatus()),
				Additions: f.GetAdditions(),
				Deletions: f.GetDeletions(),
				Patch:     f.GetPatch(),
			})
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}

func (g *GitHubProvider) listCommits(ctx context.Context, ref Ref) ([]core.Commit, error) {
	var all []core.Commit
	opts := &github.ListOptions{PerPage: 100}
	for {
		var commits []*github.RepositoryCommit
		var resp *github.Response
		err := withBackoff(ctx, func() error {
			var err error
			commits, resp, err = g.client.PullRequests.ListCommits(ctx, ref.Owner, ref.Repo, ref.Number, opts)
			return g.mapError(resp, err)
		})
		if err != nil {
			return nil, fmt.Errorf("list commits: %w", err)
		}
		for _, c := range commits {
			commit := core.Commit{
				SHA:     c.GetSHA(),
				Message: c.GetCommit().GetMessage(),
				HTMLURL: c.GetHTMLURL(),
				Author: core.CommitAuthor{
					Name: c.GetCommit().GetAuthor().GetName(),
					Date: c.GetCommit().GetAuthor().GetDate().Format(time.RFC3339),
				},
			}
			if a := c.GetAuthor(); a != nil {
				commit.Author.Login = a.GetLogin()
			}
			all = append(all, commit)
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}

func (g *GitHubProvider) listComments(ctx context.Context, ref Ref) ([]core.Comment, error) {
	var all []core.Comment
	opts := &github.IssueListCommentsOptions{ListOptions: github.ListOptions{PerPage: 100}}
	for {
		var comments []*github.IssueComment
		var resp *github.Response
		err := withBackoff(ctx, func() error {
			var err error
			comments, resp, err = g.client.Issues.ListComments(ctx, ref.Owner, ref.Repo, ref.Number, opts)
			return g.mapError(resp, err)
		})
		if err != nil {
			return nil, err
		}
		for _, c := range comments {
			all = append(all, core.Comment{
				ID:        c.GetID(),
				User:      core.User{Login: c.GetUser().GetLogin(), AvatarURL: c.GetUser().GetAvatarURL()},
				Body:      c.GetBody(),
				CreatedAt: c.GetCreatedAt().Format(time.RFC3339),
				HTMLURL:   c.GetHTMLURL(),
			})
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.ListOptions.Page = resp.NextPage
	}
	return all, nil
}

// FetchFile returns the text contents of path at the given commit. Blobs over
// MaxFileBytes are rejected; invalid UTF-8 is replaced rather than propagated.
func (g *GitHubProvider) FetchFile(ctx context.Context, pr *core.PRInfo, path, sha string) (string, error) {
	var file *github.RepositoryContent
	err := withBackoff(ctx, func() error {
		var resp *github.Response
		var err error
		file, _, resp, err = g.client.Repositories.GetContents(ctx, pr.Repo.Owner, pr.Repo.Name, path,
			&github.RepositoryContentGetOptions{Ref: sha})
		return g.mapError(resp, err)
	})
	if err != nil {
		return "", fmt.Errorf("fetch %s@%s: %w", path, shortSHA(sha), err)
	}
	if file == nil {
		return "", fmt.Errorf("%w: %s is not a file", core.ErrNotFound, path)
	}
	if file.GetSize() > MaxFileBytes {
		return "", fmt.Errorf("%w: %s is %d bytes, cap is %d", core.ErrValidation, path, file.GetSize(), MaxFileBytes)
	}
	content, err := file.GetContent()
	if err != nil {
		return "", fmt.Errorf("%w: decode %s: %v", core.ErrTransport, path, err)
	}
	return strings.ToValidUTF8(content, "�"), nil
}

// Search prefers a local grep over the materialized tree because hosted code
// search cannot be pinned to a commit. The provider endpoint is the fallback
// when no tree can be materialized.
func (g *GitHubProvider) Search(ctx context.Context, pr *core.PRInfo, query, sha string) ([]core.SearchHit, error) {
	if g.local != nil && pr.CloneURL != "" {
		hits, err := g.local.Search(ctx, pr.CloneURL, sha, query)
		if err == nil {
			return hits, nil
		}
		g.logger.Warn("local tree search failed, falling back to code search", "error", err)
	}

	var result *github.CodeSearchResult
	q := fmt.Sprintf("%s repo:%s/%s", query, pr.Repo.Owner, pr.Repo.Name)
	err := withBackoff(ctx, func() error {
		var resp *github.Response
		var err error
		result, resp, err = g.client.Search.Code(ctx, q, &github.SearchOptions{
			TextMatch:   true,
			ListOptions: github.ListOptions{PerPage: 50},
		})
		return g.mapError(resp, err)
	})
	if err != nil {
		return nil, fmt.Errorf("code search: %w", err)
	}

	hits := make([]core.SearchHit, 0, len(result.CodeResults))
	for _, r := range result.CodeResults {
		snippet := ""
		if len(r.TextMatches) > 0 {
			snippet = r.TextMatches[0].GetFragment()
		}
		hits = append(hits, core.SearchHit{Path: r.GetPath(), Line: 1, Snippet: snippet})
	}
	return hits, nil
}

// mapError lowers go-github errors onto the gateway taxonomy.
func (g *GitHubProvider) mapError(resp *github.Response, err error) error {
	if err == nil {
		return nil
	}

	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return &core.RateLimitError{RetryAfter: time.Until(rateErr.Rate.Reset.Time)}
	}
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		retry := time.Duration(0)
		if abuseErr.RetryAfter != nil {
			retry = *abuseErr.RetryAfter
		}
		return &core.RateLimitError{RetryAfter: retry}
	}

	if resp != nil {
		switch resp.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %v", core.ErrNotFound, err)
		case http.StatusUnauthorized:
			return fmt.Errorf("%w: %v", core.ErrUnauthorized, err)
		case http.StatusForbidden, http.StatusTooManyRequests:
			return &core.RateLimitError{RetryAfter: backoffBase}
		}
	}
	return fmt.Errorf("%w: %v", core.ErrTransport, err)
}

func mapFileStatus(s string) core.FileStatus {
	switch s {
	case "added":
		return core.FileAdded
	case "removed":
		return core.FileRemoved
	case "renamed":
		return core.FileRenamed
	default:
		return core.FileModified
	}
}

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}
