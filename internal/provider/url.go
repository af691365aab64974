package provider

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/diffpilot/diffpilot/internal/core"
)

var (
	githubPathRegex = regexp.MustCompile(`^/([^/]+)/([^/]+)/(pull|issues)/(\d+)/?$`)
	gitlabPathRegex = regexp.MustCompile(`^/(.+?)/-/(merge_requests|issues)/(\d+)/?$`)
)

// urlParser resolves raw URLs to provider references. Enterprise hosts are
// accepted when they match the configured API base URLs.
type urlParser struct {
	githubHosts map[string]bool
	gitlabHosts map[string]bool
}

func newURLParser(githubAPIBase, gitlabAPIBase string) *urlParser {
	p := &urlParser{
		githubHosts: map[string]bool{"github.com": true, "www.github.com": true},
		gitlabHosts: map[string]bool{"gitlab.com": true},
	}
	if h := hostOf(githubAPIBase); h != "" && h != "api.github.com" {
		p.githubHosts[h] = true
	}
	if h := hostOf(gitlabAPIBase); h != "" {
		p.gitlabHosts[h] = true
	}
	return p
}

func hostOf(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}

// Parse resolves a pull/merge request or issue URL to a Ref. The GitLab
// pattern is checked first because its "/-/" separator is the more specific
// one.
func (p *urlParser) Parse(rawURL string) (Ref, error) {
	trimmed := strings.TrimSpace(rawURL)
	if !strings.Contains(trimmed, "://") {
		trimmed = "https://" + trimmed
	}
	u, err := url.Parse(trimmed)
	if err != nil || u.Host == "" {
		return Ref{}, fmt.Errorf("%w: %s", core.ErrURLInvalid, rawURL)
	}

	if m := gitlabPathRegex.FindStringSubmatch(u.Path); m != nil && p.looksGitLab(u.Host) {
		number, _ := strconv.Atoi(m[3])
		project := m[1]
		owner, repo := splitProject(project)
		return Ref{
			Provider: "gitlab",
			Host:     u.Host,
			Owner:    owner,
			Repo:     repo,
			Project:  project,
			Kind:     kindOf(m[2]),
			Number:   number,
		}, nil
	}

	if m := githubPathRegex.FindStringSubmatch(u.Path); m != nil && p.looksGitHub(u.Host) {
		number, _ := strconv.Atoi(m[4])
		return Ref{
			Provider: "github",
			Host:     u.Host,
			Owner:    m[1],
			Repo:     m[2],
			Kind:     kindOf(m[3]),
			Number:   number,
		}, nil
	}

	return Ref{}, fmt.Errorf("%w: no provider pattern matches %s", core.ErrURLInvalid, rawURL)
}

func (p *urlParser) looksGitHub(host string) bool {
	return p.githubHosts[host] || strings.Contains(host, "github")
}

func (p *urlParser) looksGitLab(host string) bool {
	return p.gitlabHosts[host] || strings.Contains(host, "gitlab")
}

func kindOf(segment string) Kind {
	if segment == "pull" || segment == "merge_requests" {
		return KindPR
	}
	return KindIssue
}

func splitProject(project string) (owner, repo string) {
	parts := strings.Split(project, "/")
	if len(parts) < 2 {
		return "", project
	}
	return strings.Join(parts[:len(parts)-1], "/"), parts[len(parts)-1]
}

// BuildURL renders a Ref back to its canonical web URL. It is the inverse of
// Parse for every supported provider and kind.
func BuildURL(ref Ref) string {
	switch ref.Provider {
	case "gitlab":
		segment := "merge_requests"
		if ref.Kind == KindIssue {
			segment = "issues"
		}
		project := ref.Project
		if project == "" {
			project = ref.Owner + "/" + ref.Repo
		}
		return fmt.Sprintf("https://%s/%s/-/%s/%d", ref.Host, project, segment, ref.Number)
	default:
		segment := "pull"
		if ref.Kind == KindIssue {
			segment = "issues"
		}
		return fmt.Sprintf("https://%s/%s/%s/%s/%d", ref.Host, ref.Owner, ref.Repo, segment, ref.Number)
	}
}
