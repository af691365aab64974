package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diffpilot/diffpilot/internal/core"
)

func TestParseAction(t *testing.T) {
	tests := []struct {
		name          string
		input         string
		wantReasoning string
		wantCode      string
		wantErr       bool
	}{
		{
			name:          "plain JSON",
			input:         `{"reasoning": "look at the diff", "code": "fmt.Println(1)"}`,
			wantReasoning: "look at the diff",
			wantCode:      "fmt.Println(1)",
		},
		{
			name:          "fenced JSON",
			input:         "```json\n{\"reasoning\": \"r\", \"code\": \"c\"}\n```",
			wantReasoning: "r",
			wantCode:      "c",
		},
		{
			name:          "prose around the object",
			input:         "Sure, here is my plan:\n{\"reasoning\": \"r\", \"code\": \"c\"}\nHope that helps!",
			wantReasoning: "r",
			wantCode:      "c",
		},
		{
			name:          "code field wrapped in a fence",
			input:         `{"reasoning": "r", "code": "` + "```go\\nx := 1\\n```" + `"}`,
			wantReasoning: "r",
			wantCode:      "x := 1",
		},
		{
			name:          "empty code is allowed",
			input:         `{"reasoning": "just thinking", "code": ""}`,
			wantReasoning: "just thinking",
		},
		{
			name:    "missing reasoning",
			input:   `{"code": "fmt.Println(1)"}`,
			wantErr: true,
		},
		{
			name:    "no JSON at all",
			input:   "I cannot answer that.",
			wantErr: true,
		},
		{
			name:    "malformed JSON",
			input:   `{"reasoning": "r", "code": `,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			action, err := ParseAction(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, core.ErrParse)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantReasoning, action.Reasoning)
			assert.Equal(t, tt.wantCode, action.Code)
		})
	}
}

func TestParseAnswerBlocks(t *testing.T) {
	answer := "The bug is in the retry loop.\n" +
		"```go\nfor i := 0; i < n; i++ {\n}\n```\n" +
		"Consider adding a test."

	blocks := ParseAnswerBlocks(answer)
	require.Len(t, blocks, 3)

	assert.Equal(t, core.BlockMarkdown, blocks[0].Type)
	assert.Equal(t, "The bug is in the retry loop.", blocks[0].Content)

	assert.Equal(t, core.BlockCode, blocks[1].Type)
	assert.Equal(t, "go", blocks[1].Language)
	assert.Equal(t, "for i := 0; i < n; i++ {\n}", blocks[1].Content)

	assert.Equal(t, core.BlockMarkdown, blocks[2].Type)
	assert.Equal(t, "Consider adding a test.", blocks[2].Content)
}

func TestParseAnswerBlocksUnclosedFence(t *testing.T) {
	blocks := ParseAnswerBlocks("intro\n```python\nprint(1)")
	require.Len(t, blocks, 2)
	assert.Equal(t, core.BlockMarkdown, blocks[0].Type)
	assert.Equal(t, core.BlockCode, blocks[1].Type)
	assert.Equal(t, "python", blocks[1].Language)
	assert.Equal(t, "print(1)", blocks[1].Content)
}

func TestParseAnswerBlocksMarkdownOnly(t *testing.T) {
	blocks := ParseAnswerBlocks("No issues found.")
	require.Len(t, blocks, 1)
	assert.Equal(t, core.AnswerBlock{Type: core.BlockMarkdown, Content: "No issues found."}, blocks[0])
}

func TestFirstJSONBlock(t *testing.T) {
	blocks := []core.AnswerBlock{
		{Type: core.BlockMarkdown, Content: "Here is the report:"},
		{Type: core.BlockCode, Language: "go", Content: "x := 1"},
		{Type: core.BlockCode, Language: "json", Content: `{"issues": []}`},
	}
	payload, ok := FirstJSONBlock(blocks)
	require.True(t, ok)
	assert.JSONEq(t, `{"issues": []}`, payload)
}

func TestFirstJSONBlockFallsBackToBareJSON(t *testing.T) {
	blocks := []core.AnswerBlock{
		{Type: core.BlockMarkdown, Content: `{"issues": [{"title": "t"}]}`},
	}
	payload, ok := FirstJSONBlock(blocks)
	require.True(t, ok)
	assert.Contains(t, payload, `"title"`)
}

func TestFirstJSONBlockAbsent(t *testing.T) {
	_, ok := FirstJSONBlock([]core.AnswerBlock{{Type: core.BlockMarkdown, Content: "No issues."}})
	assert.False(t, ok)
}

func TestStripCodeFence(t *testing.T) {
	assert.Equal(t, "x := 1", StripCodeFence("```go\nx := 1\n```"))
	assert.Equal(t, "x := 1", StripCodeFence("```\nx := 1\n```"))
	assert.Equal(t, "x := 1", StripCodeFence("x := 1"))
}
