package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"

	"github.com/diffpilot/diffpilot/internal/core"
)

// Color definitions
var (
	titleColor = color.New(color.FgCyan, color.Bold)
	dimColor   = color.New(color.FgHiBlack)
	errColor   = color.New(color.FgRed)
)

var severityStyles = map[core.Severity]lipgloss.Style{
	core.SeverityCritical: lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
	core.SeverityHigh:     lipgloss.NewStyle().Foreground(lipgloss.Color("208")).Bold(true),
	core.SeverityMedium:   lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
	core.SeverityLow:      lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
}

type renderer struct {
	w     io.Writer
	quiet bool
	md    *glamour.TermRenderer
}

func newRenderer(w io.Writer, quiet bool) *renderer {
	md, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		md = nil
	}
	return &renderer{w: w, quiet: quiet, md: md}
}

func (r *renderer) progress(format string, args ...any) {
	if r.quiet {
		return
	}
	dimColor.Fprintf(r.w, format+"\n", args...)
}

// markdown renders markdown for the terminal, falling back to the raw text
// when the terminal renderer is unavailable.
func (r *renderer) markdown(text string) string {
	if r.md == nil {
		return text
	}
	rendered, err := r.md.Render(text)
	if err != nil {
		return text
	}
	return rendered
}

// renderStream prints a session's events as they arrive: iteration progress
// to the progress channel, answer blocks to stdout.
func (r *renderer) renderStream(events <-chan core.Event, mode string) error {
	var failure error
	for event := range events {
		switch event.Type {
		case core.EventIteration:
			if it, ok := event.Data.(core.Iteration); ok {
				r.progress("[%d/%d] %s", it.Index, it.Max, firstLine(it.Reasoning))
				if it.Error != "" {
					r.progress("      error: %s", it.Error)
				}
			}
		case core.EventBlock:
			if b, ok := event.Data.(core.AnswerBlock); ok {
				r.printBlock(b, mode)
			}
		case core.EventError:
			if e, ok := event.Data.(core.ErrorData); ok {
				failure = fmt.Errorf("%s: %s", e.Type, e.Message)
				errColor.Fprintf(r.w, "error: %s (%s)\n", e.Message, e.Type)
			}
		}
	}
	return failure
}

func (r *renderer) printBlock(b core.AnswerBlock, mode string) {
	switch {
	case mode == "json":
		payload, _ := json.Marshal(b)
		fmt.Fprintln(r.w, string(payload))
	case b.Type == core.BlockCode:
		fenced := fmt.Sprintf("```%s\n%s\n```", b.Language, b.Content)
		if mode == "markdown" {
			fmt.Fprintln(r.w, fenced)
		} else {
			fmt.Fprint(r.w, r.markdown(fenced))
		}
	case mode == "markdown":
		fmt.Fprintln(r.w, b.Content)
	default:
		fmt.Fprint(r.w, r.markdown(b.Content))
	}
}

// renderReport prints the structured review report for terminals.
func (r *renderer) renderReport(pr *core.PRInfo, report *core.ReviewReport) error {
	titleColor.Fprintf(r.w, "\nReview of %s/%s#%d: %s\n", pr.Repo.Owner, pr.Repo.Name, pr.Number, pr.Title)
	dimColor.Fprintf(r.w, "%d issues", len(report.Issues))
	if report.DroppedIssues > 0 || report.DroppedCitations > 0 {
		dimColor.Fprintf(r.w, " (%d issues and %d citations dropped by validation)",
			report.DroppedIssues, report.DroppedCitations)
	}
	fmt.Fprintln(r.w)

	if report.Summary != "" {
		fmt.Fprint(r.w, r.markdown(report.Summary))
	}

	for i, issue := range report.Issues {
		style := severityStyles[issue.Severity]
		fmt.Fprintf(r.w, "\n%d. %s %s [%s]\n", i+1,
			style.Render(strings.ToUpper(string(issue.Severity))), issue.Title, issue.Category)
		for _, c := range issue.Citations {
			dimColor.Fprintf(r.w, "   %s (%s) %d-%d\n", c.Path, c.Side, c.StartLine, c.EndLine)
		}
		fmt.Fprint(r.w, r.markdown(issue.ExplanationMarkdown))
		for _, fix := range issue.FixSuggestions {
			fmt.Fprintf(r.w, "   fix: %s\n", fix)
		}
	}
	return nil
}

// reportMarkdown renders the report as plain markdown for --output markdown.
func reportMarkdown(pr *core.PRInfo, report *core.ReviewReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Review of %s/%s#%d\n\n", pr.Repo.Owner, pr.Repo.Name, pr.Number)
	if report.Summary != "" {
		fmt.Fprintf(&b, "%s\n\n", report.Summary)
	}
	for _, issue := range report.Issues {
		fmt.Fprintf(&b, "## %s (%s, %s)\n\n", issue.Title, issue.Severity, issue.Category)
		for _, c := range issue.Citations {
			fmt.Fprintf(&b, "- `%s` (%s) lines %d-%d\n", c.Path, c.Side, c.StartLine, c.EndLine)
		}
		fmt.Fprintf(&b, "\n%s\n\n", issue.ExplanationMarkdown)
	}
	return b.String()
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	if len(s) > 100 {
		s = s[:100] + "…"
	}
	return s
}
