package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diffpilot/diffpilot/internal/core"
)

// gitlabFixture routes on the escaped request path, because GitLab project
// addressing keeps %2F-encoded slashes that ServeMux patterns would unescape.
func gitlabFixture(t *testing.T, routes map[string]string) (*GitLabProvider, string) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.EscapedPath()
		if body, ok := routes[path]; ok {
			fmt.Fprint(w, body)
			return
		}
		http.Error(w, `{"message": "404 Not Found"}`, http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)

	g := NewGitLabProvider("secret", srv.URL+"/api/v4", nil, discardLogger())
	return g, u.Host
}

func TestGitLabLoadPR(t *testing.T) {
	base := "/api/v4/projects/group%2Fsubgroup%2Fproject"
	g, host := gitlabFixture(t, map[string]string{
		base + "/merge_requests/5": `{
			"iid": 5,
			"title": "Add retry loop",
			"description": "Retries transient failures.",
			"state": "opened",
			"draft": false,
			"work_in_progress": true,
			"source_branch": "retry",
			"target_branch": "main",
			"diff_refs": {"base_sha": "glbase", "head_sha": "glhead"},
			"author": {"username": "dev", "avatar_url": "https://example.com/d.png"},
			"web_url": "https://gitlab.com/group/subgroup/project/-/merge_requests/5"
		}`,
		base + "/merge_requests/5/changes": `{"changes": [
			{"old_path": "retry.go", "new_path": "retry.go", "diff": "--- a/retry.go\n+++ b/retry.go\n@@ -1,2 +1,3 @@\n context\n+added\n-removed\n"},
			{"old_path": "", "new_path": "retry_test.go", "new_file": true, "diff": "@@ -0,0 +1,2 @@\n+a\n+b\n"}
		]}`,
		base + "/merge_requests/5/commits": `[{"id": "glhead", "message": "retry", "author_name": "Dev",
			"author_email": "dev@example.com", "created_at": "2024-06-01T09:00:00Z", "web_url": "https://gitlab.com/c/1"}]`,
		base + "/merge_requests/5/notes": `[
			{"id": 1, "system": true, "body": "changed the description",
			 "author": {"username": "bot"}, "created_at": "2024-06-01T09:01:00Z"},
			{"id": 2, "system": false, "body": "please add tests",
			 "author": {"username": "maintainer"}, "created_at": "2024-06-01T09:02:00Z"}
		]`,
		base: `{"http_url_to_repo": "https://gitlab.com/group/subgroup/project.git"}`,
	})

	pr, err := g.LoadPR(context.Background(), Ref{
		Provider: "gitlab", Host: host,
		Owner: "group/subgroup", Repo: "project", Project: "group/subgroup/project",
		Kind: KindPR, Number: 5,
	})
	require.NoError(t, err)

	assert.Equal(t, "gitlab", pr.Provider)
	assert.Equal(t, "glbase", pr.BaseSHA)
	assert.Equal(t, "glhead", pr.HeadSHA)
	assert.Equal(t, "main", pr.BaseRef)
	assert.Equal(t, "retry", pr.HeadRef)
	assert.True(t, pr.Draft, "work_in_progress lowers to draft")
	assert.Equal(t, "dev", pr.User.Login)
	assert.Equal(t, "group/subgroup/project", pr.Project)
	assert.Equal(t, "https://gitlab.com/group/subgroup/project.git", pr.CloneURL)

	require.Len(t, pr.Files, 2)
	assert.Equal(t, core.FileModified, pr.Files[0].Status)
	assert.Equal(t, 1, pr.Files[0].Additions)
	assert.Equal(t, 1, pr.Files[0].Deletions)
	assert.Equal(t, core.FileAdded, pr.Files[1].Status)
	assert.Equal(t, 2, pr.Files[1].Additions)

	require.Len(t, pr.Commits, 1)
	assert.Equal(t, "glhead", pr.Commits[0].SHA)

	// System notes are filtered out.
	require.Len(t, pr.Comments, 1)
	assert.Equal(t, "maintainer", pr.Comments[0].User.Login)
}

func TestGitLabFetchFile(t *testing.T) {
	g, host := gitlabFixture(t, map[string]string{
		"/api/v4/projects/group%2Fproject/repository/files/cmd%2Fmain.go/raw": "package main\n",
	})
	pr := &core.PRInfo{Provider: "gitlab", Host: host, Project: "group/project", HeadSHA: "glhead"}

	got, err := g.FetchFile(context.Background(), pr, "cmd/main.go", "glhead")
	require.NoError(t, err)
	assert.Equal(t, "package main\n", got)
}

func TestGitLabFetchFileNotFound(t *testing.T) {
	g, host := gitlabFixture(t, map[string]string{})
	pr := &core.PRInfo{Provider: "gitlab", Host: host, Project: "group/project", HeadSHA: "glhead"}

	_, err := g.FetchFile(context.Background(), pr, "nope.go", "glhead")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestGitLabAuthHeader(t *testing.T) {
	var sawToken string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawToken = r.Header.Get("PRIVATE-TOKEN")
		fmt.Fprint(w, "contents")
	}))
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)

	g := NewGitLabProvider("secret", srv.URL+"/api/v4", nil, discardLogger())
	pr := &core.PRInfo{Provider: "gitlab", Host: u.Host, Project: "group/project", HeadSHA: "glhead"}

	_, err = g.FetchFile(context.Background(), pr, "main.go", "glhead")
	require.NoError(t, err)
	assert.Equal(t, "secret", sawToken)
}
