package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/diffpilot/diffpilot/internal/core"
)

// GitLabProvider serves gitlab.com and self-hosted GitLab instances over the
// REST v4 API. No GitLab client library is used; the surface we need is six
// endpoints.
type GitLabProvider struct {
	token   string
	apiBase string
	http    *http.Client
	local   LocalSearcher
	logger  *slog.Logger
}

// NewGitLabProvider builds a provider for the configured token and optional
// fixed API base. With an empty apiBase the API URL is derived per-host from
// the merge request URL.
func NewGitLabProvider(token, apiBase string, local LocalSearcher, logger *slog.Logger) *GitLabProvider {
	return &GitLabProvider{
		token:   token,
		apiBase: strings.TrimSuffix(apiBase, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		local:   local,
		logger:  logger,
	}
}

func (g *GitLabProvider) Name() string { return "gitlab" }

func (g *GitLabProvider) baseFor(host string) string {
	if g.apiBase != "" && strings.Contains(g.apiBase, host) {
		return g.apiBase
	}
	return "https://" + host + "/api/v4"
}

func (g *GitLabProvider) get(ctx context.Context, rawURL string, out any) error {
	return withBackoff(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return fmt.Errorf("%w: %v", core.ErrTransport, err)
		}
		req.Header.Set("User-Agent", "diffpilot")
		if g.token != "" {
			req.Header.Set("PRIVATE-TOKEN", g.token)
		}

		resp, err := g.http.Do(req)
		if err != nil {
			return fmt.Errorf("%w: %v", core.ErrTransport, err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return fmt.Errorf("%w: %s", core.ErrNotFound, rawURL)
		case resp.StatusCode == http.StatusUnauthorized:
			return fmt.Errorf("%w: %s", core.ErrUnauthorized, rawURL)
		case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests:
			return &core.RateLimitError{RetryAfter: retryAfterHint(resp)}
		case resp.StatusCode >= 400:
			return fmt.Errorf("%w: %s returned %d", core.ErrTransport, rawURL, resp.StatusCode)
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, 4*MaxFileBytes))
		if err != nil {
			return fmt.Errorf("%w: %v", core.ErrTransport, err)
		}
		if raw, ok := out.(*[]byte); ok {
			*raw = body
			return nil
		}
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("%w: decode %s: %v", core.ErrTransport, rawURL, err)
		}
		return nil
	})
}

func retryAfterHint(resp *http.Response) time.Duration {
	if s := resp.Header.Get("Retry-After"); s != "" {
		if secs, err := strconv.Atoi(s); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return backoffBase
}

// GitLab REST payload shapes, reduced to the fields the canonical schema
// needs. Field names differ from GitHub throughout (diff_refs.head_sha vs
// head.sha); the lowering happens here and nowhere else.
type gitlabMR struct {
	IID          int    `json:"iid"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	State        string `json:"state"`
	Draft        bool   `json:"draft"`
	WIP          bool   `json:"work_in_progress"`
	SourceBranch string `json:"source_branch"`
	TargetBranch string `json:"target_branch"`
	DiffRefs     struct {
		BaseSHA string `json:"base_sha"`
		HeadSHA string `json:"head_sha"`
	} `json:"diff_refs"`
	Author struct {
		Username  string `json:"username"`
		AvatarURL string `json:"avatar_url"`
	} `json:"author"`
	WebURL string `json:"web_url"`
}

type gitlabChange struct {
	OldPath     string `json:"old_path"`
	NewPath     string `json:"new_path"`
	NewFile     bool   `json:"new_file"`
	DeletedFile bool   `json:"deleted_file"`
	RenamedFile bool   `json:"renamed_file"`
	Diff        string `json:"diff"`
}

type gitlabChanges struct {
	Changes []gitlabChange `json:"changes"`
}

type gitlabCommit struct {
	ID          string `json:"id"`
	Message     string `json:"message"`
	AuthorName  string `json:"author_name"`
	AuthorEmail string `json:"author_email"`
	CreatedAt   string `json:"created_at"`
	WebURL      string `json:"web_url"`
}

type gitlabNote struct {
	ID     int64 `json:"id"`
	System bool  `json:"system"`
	Author struct {
		Username  string `json:"username"`
		AvatarURL string `json:"avatar_url"`
	} `json:"author"`
	Body      string `json:"body"`
	CreatedAt string `json:"created_at"`
}

type gitlabProject struct {
	HTTPURLToRepo string `json:"http_url_to_repo"`
}

// LoadPR fetches the merge request, its changes, commits, and notes, and
// lowers them to the canonical PRInfo.
func (g *GitLabProvider) LoadPR(ctx context.Context, ref Ref) (*core.PRInfo, error) {
	base := g.baseFor(ref.Host)
	project := url.PathEscape(ref.Project)

	var mr gitlabMR
	if err := g.get(ctx, fmt.Sprintf("%s/projects/%s/merge_requests/%d", base, project, ref.Number), &mr); err != nil {
		return nil, fmt.Errorf("load merge request %s!%d: %w", ref.Project, ref.Number, err)
	}

	var changes gitlabChanges
	if err := g.get(ctx, fmt.Sprintf("%s/projects/%s/merge_requests/%d/changes", base, project, ref.Number), &changes); err != nil {
		return nil, fmt.Errorf("load merge request changes: %w", err)
	}

	var commits []gitlabCommit
	if err := g.get(ctx, fmt.Sprintf("%s/projects/%s/merge_requests/%d/commits?per_page=100", base, project, ref.Number), &commits); err != nil {
		g.logger.Warn("failed to list MR commits", "project", ref.Project, "mr", ref.Number, "error", err)
	}

	var notes []gitlabNote
	if err := g.get(ctx, fmt.Sprintf("%s/projects/%s/merge_requests/%d/notes?per_page=100", base, project, ref.Number), &notes); err != nil {
		g.logger.Warn("failed to list MR notes", "project", ref.Project, "mr", ref.Number, "error", err)
	}

	var proj gitlabProject
	if err := g.get(ctx, fmt.Sprintf("%s/projects/%s", base, project), &proj); err != nil {
		g.logger.Warn("failed to load project metadata", "project", ref.Project, "error", err)
	}

	files := make([]core.PRFile, 0, len(changes.Changes))
	totalAdd, totalDel := 0, 0
	for _, ch := range changes.Changes {
		adds, dels := countDiffLines(ch.Diff)
		totalAdd += adds
		totalDel += dels
		path := ch.NewPath
		if path == "" {
			path = ch.OldPath
		}
		files = append(files, core.PRFile{
			Path:      path,
			Status:    mapGitLabStatus(ch),
			Additions: adds,
			Deletions: dels,
			Patch:     ch.Diff,
		})
	}

	info := &core.PRInfo{
		Provider:     g.Name(),
		Repo:         core.Repo{Owner: ref.Owner, Name: ref.Repo},
		Number:       ref.Number,
		Title:        mr.Title,
		Body:         mr.Description,
		BaseSHA:      mr.DiffRefs.BaseSHA,
		HeadSHA:      mr.DiffRefs.HeadSHA,
		BaseRef:      mr.TargetBranch,
		HeadRef:      mr.SourceBranch,
		State:        mr.State,
		Draft:        mr.Draft || mr.WIP,
		User:         &core.User{Login: mr.Author.Username, AvatarURL: mr.Author.AvatarURL},
		Files:        files,
		Additions:    totalAdd,
		Deletions:    totalDel,
		ChangedFiles: len(files),
		Host:         ref.Host,
		Project:      ref.Project,
		CloneURL:     proj.HTTPURLToRepo,
		CreatedAt:    time.Now(),
	}

	for _, c := range commits {
		info.Commits = append(info.Commits, core.Commit{
			SHA:     c.ID,
			Message: c.Message,
			HTMLURL: c.WebURL,
			Author:  core.CommitAuthor{Name: c.AuthorName, Date: c.CreatedAt, Login: c.AuthorEmail},
		})
	}
	for _, n := range notes {
		if n.System {
			continue
		}
		info.Comments = append(info.Comments, core.Comment{
			ID:        n.ID,
			User:      core.User{Login: n.Author.Username, AvatarURL: n.Author.AvatarURL},
			Body:      n.Body,
			CreatedAt: n.CreatedAt,
			HTMLURL:   fmt.Sprintf("%s#note_%d", mr.WebURL, n.ID),
		})
	}
	return info, nil
}

// FetchFile returns the raw file at the given commit via the repository files
// endpoint.
func (g *GitLabProvider) FetchFile(ctx context.Context, pr *core.PRInfo, path, sha string) (string, error) {
	base := g.baseFor(pr.Host)
	rawURL := fmt.Sprintf("%s/projects/%s/repository/files/%s/raw?ref=%s",
		base, url.PathEscape(pr.Project), url.PathEscape(path), url.QueryEscape(sha))

	var body []byte
	if err := g.get(ctx, rawURL, &body); err != nil {
		return "", fmt.Errorf("fetch %s@%s: %w", path, shortSHA(sha), err)
	}
	if len(body) > MaxFileBytes {
		return "", fmt.Errorf("%w: %s is %d bytes, cap is %d", core.ErrValidation, path, len(body), MaxFileBytes)
	}
	return strings.ToValidUTF8(string(body), "�"), nil
}

// Search greps the materialized tree. GitLab's code-search endpoint is gated
// behind instance tiers, so the local path is the only one implemented.
func (g *GitLabProvider) Search(ctx context.Context, pr *core.PRInfo, query, sha string) ([]core.SearchHit, error) {
	if g.local == nil || pr.CloneURL == "" {
		return nil, fmt.Errorf("%w: no search backend for %s", core.ErrTransport, pr.Project)
	}
	return g.local.Search(ctx, pr.CloneURL, sha, query)
}

func mapGitLabStatus(ch gitlabChange) core.FileStatus {
	switch {
	case ch.NewFile:
		return core.FileAdded
	case ch.DeletedFile:
		return core.FileRemoved
	case ch.RenamedFile:
		return core.FileRenamed
	default:
		return core.FileModified
	}
}

// countDiffLines counts additions and deletions in a unified diff body,
// skipping the +++/--- header lines.
func countDiffLines(diff string) (adds, dels int) {
	for _, line := range strings.Split(diff, "\n") {
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
		case strings.HasPrefix(line, "+"):
			adds++
		case strings.HasPrefix(line, "-"):
			dels++
		}
	}
	return adds, dels
}
