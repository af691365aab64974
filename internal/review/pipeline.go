package review

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/diffpilot/diffpilot/internal/core"
	"github.com/diffpilot/diffpilot/internal/llm"
	"github.com/diffpilot/diffpilot/internal/rlm"
)

// Pipeline runs the one-shot automated review: it drives the controller with
// the canonical review prompt, parses the structured answer, and validates
// every citation with a single repair pass.
type Pipeline struct {
	controller *rlm.Controller
	prompts    *llm.PromptManager
	logger     *slog.Logger
}

func NewPipeline(controller *rlm.Controller, prompts *llm.PromptManager, logger *slog.Logger) *Pipeline {
	return &Pipeline{controller: controller, prompts: prompts, logger: logger}
}

// Run reviews the session's pull request and returns the filtered report.
// Issues losing all citations to validation are dropped, not errors; the
// dropped counts travel as report metadata.
func (p *Pipeline) Run(ctx context.Context, session *core.ReviewSession, repoCfg *core.RepoConfig) (*core.ReviewReport, error) {
	question, err := p.prompts.Render(llm.ReviewPrompt, llm.DefaultProvider, struct {
		CustomInstructions []string
	}{CustomInstructions: customInstructions(repoCfg)})
	if err != nil {
		return nil, fmt.Errorf("render review prompt: %w", err)
	}

	var blocks []core.AnswerBlock
	var streamErr *core.ErrorData
	for event := range p.controller.Ask(ctx, rlm.AskRequest{
		Session:    session,
		Question:   question,
		RepoConfig: repoCfg,
	}) {
		switch event.Type {
		case core.EventBlock:
			if b, ok := event.Data.(core.AnswerBlock); ok {
				blocks = append(blocks, b)
			}
		case core.EventError:
			if e, ok := event.Data.(core.ErrorData); ok {
				streamErr = &e
			}
		}
	}
	if streamErr != nil {
		return nil, fmt.Errorf("%w: review session failed: %s", errorFromCode(streamErr.Type), streamErr.Message)
	}

	return p.parseReport(session.PR, blocks), nil
}

// parseReport extracts the first fenced json block and lowers it onto the
// validated report. An answer without a json payload is an empty report with
// the markdown kept as summary.
func (p *Pipeline) parseReport(pr *core.PRInfo, blocks []core.AnswerBlock) *core.ReviewReport {
	report := &core.ReviewReport{Issues: []core.ReviewIssue{}}

	payload, ok := llm.FirstJSONBlock(blocks)
	if !ok {
		report.Summary = joinMarkdown(blocks)
		return report
	}

	var parsed reviewPayload
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		p.logger.Warn("review answer json did not parse", "error", err)
		report.Summary = joinMarkdown(blocks)
		return report
	}
	report.Summary = parsed.Summary

	stats := make(map[string]PatchStat, len(pr.Files))
	for _, f := range pr.Files {
		stats[f.Path] = StatPatch(f.Patch)
	}

	for _, raw := range parsed.Issues {
		citations, dropped := repairCitations(pr, stats, raw.Citations)
		report.DroppedCitations += dropped
		if len(citations) == 0 {
			report.DroppedIssues++
			continue
		}
		report.Issues = append(report.Issues, core.ReviewIssue{
			Title:               strings.TrimSpace(raw.Title),
			Severity:            core.NormalizeSeverity(raw.Severity),
			Category:            core.NormalizeCategory(raw.Category),
			ExplanationMarkdown: raw.explanation(),
			Citations:           citations,
			FixSuggestions:      raw.FixSuggestions,
			TestsToAdd:          raw.TestsToAdd,
		})
	}

	p.logger.Info("review report assembled",
		"issues", len(report.Issues),
		"dropped_issues", report.DroppedIssues,
		"dropped_citations", report.DroppedCitations)
	return report
}

// repairCitations applies the single repair pass: normalize the line order,
// infer a concrete side for "unified" citations, and drop whatever still
// fails validation. Repaired citations are re-validated; invalid ones are
// never re-emitted.
func repairCitations(pr *core.PRInfo, stats map[string]PatchStat, raw []flexCitation) ([]core.DiffCitation, int) {
	var valid []core.DiffCitation
	dropped := 0

	for _, fc := range raw {
		c := fc.DiffCitation
		if c.Path == "" || pr.File(c.Path) == nil {
			dropped++
			continue
		}
		if c.StartLine > c.EndLine {
			c.StartLine, c.EndLine = c.EndLine, c.StartLine
		}
		if c.StartLine < 1 {
			dropped++
			continue
		}

		stat := stats[c.Path]
		if c.Side == core.SideUnified {
			// Side inference prefers the addition side; a range past both
			// sides cannot be anchored and is dropped.
			switch {
			case c.StartLine <= stat.NewLines:
				c.Side = core.SideAdditions
			case c.StartLine <= stat.OldLines:
				c.Side = core.SideDeletions
			default:
				dropped++
				continue
			}
		}

		bound := stat.NewLines
		if c.Side == core.SideDeletions {
			bound = stat.OldLines
		}
		if c.StartLine > bound {
			dropped++
			continue
		}
		if c.EndLine > bound {
			c.EndLine = bound
		}
		valid = append(valid, c)
	}
	return valid, dropped
}

func customInstructions(cfg *core.RepoConfig) []string {
	if cfg == nil {
		return nil
	}
	return cfg.CustomInstructions
}

func joinMarkdown(blocks []core.AnswerBlock) string {
	var parts []string
	for _, b := range blocks {
		if b.Type == core.BlockMarkdown {
			parts = append(parts, b.Content)
		}
	}
	return strings.Join(parts, "\n\n")
}

func errorFromCode(code string) error {
	switch code {
	case core.ErrCancelled.Error():
		return core.ErrCancelled
	case core.ErrDeadline.Error():
		return core.ErrDeadline
	case core.ErrUnauthorized.Error():
		return core.ErrUnauthorized
	case core.ErrParse.Error():
		return core.ErrParse
	default:
		return core.ErrValidation
	}
}
