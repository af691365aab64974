package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/diffpilot/diffpilot/internal/core"
)

// Action is the tagged variant the controller expects from every iteration
// call: free-form reasoning plus a code block to execute.
type Action struct {
	Reasoning string `json:"reasoning"`
	Code      string `json:"code"`
}

// ParseAction extracts the {reasoning, code} object from a model response.
// It tolerates the common quirks: a fenced ```json wrapper, prose before or
// after the object, and fenced code inside the code field.
func ParseAction(raw string) (Action, error) {
	payload := extractJSONObject(stripFence(raw))
	if payload == "" {
		return Action{}, fmt.Errorf("%w: no JSON object in response", core.ErrParse)
	}

	var action Action
	if err := json.Unmarshal([]byte(payload), &action); err != nil {
		return Action{}, fmt.Errorf("%w: %v", core.ErrParse, err)
	}
	if strings.TrimSpace(action.Reasoning) == "" {
		return Action{}, fmt.Errorf("%w: missing reasoning field", core.ErrParse)
	}
	action.Code = StripCodeFence(action.Code)
	return action, nil
}

// StripCodeFence removes a wrapping ``` fence (with optional language tag)
// from a code snippet.
func StripCodeFence(code string) string {
	trimmed := strings.TrimSpace(code)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	idx := strings.Index(trimmed, "\n")
	if idx < 0 {
		return strings.Trim(trimmed, "`")
	}
	inner := trimmed[idx+1:]
	if last := strings.LastIndex(inner, "```"); last >= 0 {
		inner = inner[:last]
	}
	return strings.TrimSpace(inner)
}

// stripFence removes a wrapping ```json ... ``` fence some models add around
// a whole response.
func stripFence(s string) string {
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "```") {
		return StripCodeFence(trimmed)
	}
	return trimmed
}

// extractJSONObject returns the outermost {...} span of s, or "".
func extractJSONObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}

// ParseAnswerBlocks splits a markdown answer into ordered markdown and code
// blocks along ``` fences.
func ParseAnswerBlocks(answer string) []core.AnswerBlock {
	var blocks []core.AnswerBlock
	var current []string
	inCode := false
	language := ""

	flush := func(t core.BlockType, lang string) {
		content := strings.Join(current, "\n")
		if t == core.BlockMarkdown {
			content = strings.TrimSpace(content)
		}
		if content != "" {
			blocks = append(blocks, core.AnswerBlock{Type: t, Content: content, Language: lang})
		}
		current = nil
	}

	for _, line := range strings.Split(answer, "\n") {
		switch {
		case strings.HasPrefix(line, "```") && !inCode:
			flush(core.BlockMarkdown, "")
			inCode = true
			language = strings.TrimSpace(strings.TrimPrefix(line, "```"))
		case strings.HasPrefix(line, "```") && inCode:
			flush(core.BlockCode, language)
			inCode = false
			language = ""
		default:
			current = append(current, line)
		}
	}

	if inCode {
		flush(core.BlockCode, language)
	} else {
		flush(core.BlockMarkdown, "")
	}
	return blocks
}

// FirstJSONBlock returns the contents of the first fenced json block among
// the answer blocks, falling back to the first block that parses as a JSON
// object or array.
func FirstJSONBlock(blocks []core.AnswerBlock) (string, bool) {
	for _, b := range blocks {
		if b.Type == core.BlockCode && strings.EqualFold(b.Language, "json") {
			return b.Content, true
		}
	}
	for _, b := range blocks {
		content := strings.TrimSpace(b.Content)
		if strings.HasPrefix(content, "{") || strings.HasPrefix(content, "[") {
			if json.Valid([]byte(content)) {
				return content, true
			}
		}
	}
	return "", false
}
