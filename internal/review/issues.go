package review

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/diffpilot/diffpilot/internal/core"
)

// maxExplanationBytes clips explanation_markdown on ingest.
const maxExplanationBytes = 2048

// reviewPayload is the shape the canonical review prompt mandates inside the
// terminal answer's json block.
type reviewPayload struct {
	Summary string     `json:"summary"`
	Issues  []rawIssue `json:"issues"`
}

type rawIssue struct {
	Title               string         `json:"title"`
	Severity            string         `json:"severity"`
	Category            string         `json:"category"`
	ExplanationMarkdown string         `json:"explanationMarkdown"`
	Explanation         string         `json:"explanation"`
	Citations           []flexCitation `json:"citations"`
	FixSuggestions      flexStrings    `json:"fixSuggestions"`
	TestsToAdd          flexStrings    `json:"testsToAdd"`
}

func (r rawIssue) explanation() string {
	text := r.ExplanationMarkdown
	if text == "" {
		text = r.Explanation
	}
	if len(text) > maxExplanationBytes {
		text = text[:maxExplanationBytes]
	}
	return text
}

// flexCitation accepts both the object form the prompt mandates and the
// "path:start-end" string form models fall back to.
type flexCitation struct {
	core.DiffCitation
}

func (c *flexCitation) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "\"") {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if parsed, ok := parseCitationString(s); ok {
			c.DiffCitation = parsed
		}
		return nil
	}

	var obj struct {
		Path      string `json:"path"`
		Side      string `json:"side"`
		StartLine int    `json:"startLine"`
		EndLine   int    `json:"endLine"`
		Label     string `json:"label"`
		Reason    string `json:"reason"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	side := core.Side(obj.Side)
	if side != core.SideAdditions && side != core.SideDeletions {
		side = core.SideUnified
	}
	c.DiffCitation = core.DiffCitation{
		Path:      obj.Path,
		Side:      side,
		StartLine: obj.StartLine,
		EndLine:   obj.EndLine,
		Label:     obj.Label,
		Reason:    obj.Reason,
	}
	return nil
}

// parseCitationString parses "path/to/file.go:10-20" or "path:10".
func parseCitationString(s string) (core.DiffCitation, bool) {
	idx := strings.LastIndex(s, ":")
	if idx <= 0 {
		return core.DiffCitation{}, false
	}
	path, lineRange := s[:idx], s[idx+1:]

	var start, end int
	var err error
	if dash := strings.Index(lineRange, "-"); dash >= 0 {
		start, err = strconv.Atoi(lineRange[:dash])
		if err != nil {
			return core.DiffCitation{}, false
		}
		end, err = strconv.Atoi(lineRange[dash+1:])
		if err != nil {
			return core.DiffCitation{}, false
		}
	} else {
		start, err = strconv.Atoi(lineRange)
		if err != nil {
			return core.DiffCitation{}, false
		}
		end = start
	}

	return core.DiffCitation{
		Path:      path,
		Side:      core.SideUnified,
		StartLine: start,
		EndLine:   end,
	}, true
}

// flexStrings accepts a JSON array of strings or of objects, flattening
// objects to their first string value. Models mix both shapes freely.
type flexStrings []string

func (f *flexStrings) UnmarshalJSON(data []byte) error {
	var plain []string
	if err := json.Unmarshal(data, &plain); err == nil {
		*f = plain
		return nil
	}

	var mixed []any
	if err := json.Unmarshal(data, &mixed); err != nil {
		return nil
	}
	for _, item := range mixed {
		switch v := item.(type) {
		case string:
			*f = append(*f, v)
		case map[string]any:
			for _, val := range v {
				if s, ok := val.(string); ok {
					*f = append(*f, s)
					break
				}
			}
		}
	}
	return nil
}
