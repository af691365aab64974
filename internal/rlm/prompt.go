package rlm

import (
	"fmt"
	"path"
	"strings"

	"github.com/diffpilot/diffpilot/internal/core"
	"github.com/diffpilot/diffpilot/internal/llm"
)

const (
	// Per-file and per-context caps keep the assembled prompt inside the
	// model window; the guest can still read anything through fetch_file.
	maxPatchCharsPerFile = 10_000
	maxFilesInContext    = 50
	maxObservationChars  = 5_000
)

// buildContext renders the PR summary and the unified diff, truncated by
// file. Files excluded by the repo config are listed but not expanded.
func buildContext(pr *core.PRInfo, repoCfg *core.RepoConfig) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Pull request #%d: %s\n", pr.Number, pr.Title)
	fmt.Fprintf(&b, "%s/%s  %s -> %s  (+%d -%d, %d files)\n",
		pr.Repo.Owner, pr.Repo.Name, pr.HeadRef, pr.BaseRef,
		pr.Additions, pr.Deletions, len(pr.Files))
	if pr.Draft {
		b.WriteString("State: draft\n")
	}
	if body := strings.TrimSpace(pr.Body); body != "" {
		fmt.Fprintf(&b, "\n%s\n", clipString(body, 2000))
	}

	b.WriteString("\n## Changed files\n")
	for _, f := range pr.Files {
		fmt.Fprintf(&b, "- %s (%s) +%d -%d\n", f.Path, f.Status, f.Additions, f.Deletions)
	}

	b.WriteString("\n## Diff\n")
	shown := 0
	for _, f := range pr.Files {
		if shown >= maxFilesInContext {
			fmt.Fprintf(&b, "\n### %s (%s)\n(diff omitted from the prompt; use fetch_file to read the file)\n", f.Path, f.Status)
			continue
		}
		if excluded(f.Path, repoCfg) {
			fmt.Fprintf(&b, "\n### %s (%s)\n(excluded by repository configuration)\n", f.Path, f.Status)
			continue
		}
		shown++
		fmt.Fprintf(&b, "\n### %s (%s) +%d -%d\n", f.Path, f.Status, f.Additions, f.Deletions)
		if f.Patch == "" {
			b.WriteString("(no patch available; likely binary or too large)\n")
			continue
		}
		b.WriteString("```diff\n")
		b.WriteString(clipString(f.Patch, maxPatchCharsPerFile))
		b.WriteString("\n```\n")
	}
	return b.String()
}

// buildUserPrompt assembles the per-iteration prompt: PR context, prior
// conversation, the transcript so far, and the current question with its
// optional selection anchor.
func buildUserPrompt(session *core.ReviewSession, question string, conversation []llm.Message, selection *core.DiffSelection, repoCfg *core.RepoConfig) string {
	var b strings.Builder
	b.WriteString(buildContext(session.PR, repoCfg))

	b.WriteString("\n## Conversation\n")
	if len(conversation) == 0 {
		b.WriteString("No previous conversation.\n")
	}
	for _, m := range conversation {
		fmt.Fprintf(&b, "%s: %s\n", strings.ToUpper(m.Role), m.Content)
	}

	if len(session.Transcript) > 0 {
		b.WriteString("\n## Investigation so far\n")
		b.WriteString(formatTranscript(session.Transcript))
	}

	b.WriteString("\n## Question\n")
	b.WriteString(question)
	b.WriteString("\n")
	if selection != nil {
		fmt.Fprintf(&b, "\nThe user selected %s (%s) lines %d-%d (%s).\n",
			selection.Path, selection.Side, selection.StartLine, selection.EndLine, selection.Mode)
	} else {
		b.WriteString("\nNo specific selection; the question concerns the entire changeset.\n")
	}
	return b.String()
}

// formatTranscript renders prior iterations the way the model saw them
// happen: reasoning, code, observation.
func formatTranscript(transcript []core.Iteration) string {
	var b strings.Builder
	for _, it := range transcript {
		fmt.Fprintf(&b, "[iteration %d/%d]\n", it.Index, it.Max)
		fmt.Fprintf(&b, "Reasoning: %s\n", it.Reasoning)
		if it.Code != "" {
			fmt.Fprintf(&b, "Code:\n%s\n", it.Code)
		}
		switch {
		case it.Error != "":
			fmt.Fprintf(&b, "Observation (error): %s\n", it.Error)
		case it.Output != "":
			fmt.Fprintf(&b, "Observation:\n%s\n", clipString(it.Output, maxObservationChars))
		default:
			b.WriteString("Observation: (no output)\n")
		}
		b.WriteString("\n")
	}
	return b.String()
}

func excluded(filePath string, cfg *core.RepoConfig) bool {
	if cfg == nil {
		return false
	}
	for _, dir := range cfg.ExcludeDirs {
		if dir == "" {
			continue
		}
		for _, segment := range strings.Split(path.Dir(filePath), "/") {
			if segment == dir {
				return true
			}
		}
	}
	ext := strings.TrimPrefix(path.Ext(filePath), ".")
	for _, e := range cfg.ExcludeExts {
		if strings.TrimPrefix(e, ".") == ext && ext != "" {
			return true
		}
	}
	return false
}

func clipString(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "\n…[truncated]"
}
