package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/diffpilot/diffpilot/internal/core"
)

// fallbackSuggestions is served when the sub-model call fails; the feature is
// decorative and must never surface an error to the UI.
var fallbackSuggestions = []string{
	"Explain changes",
	"Identify bugs",
	"Suggest tests",
	"Performance check",
}

// SuggestionGenerator produces short follow-up prompts with the sub-model.
type SuggestionGenerator struct {
	client  Client
	model   string
	prompts *PromptManager
}

func NewSuggestionGenerator(client Client, model string, prompts *PromptManager) *SuggestionGenerator {
	return &SuggestionGenerator{client: client, model: model, prompts: prompts}
}

type suggestionData struct {
	Title        string
	Body         string
	Conversation string
	LastAnswer   string
}

// Generate returns 4-5 short suggestions for the current conversation state.
func (s *SuggestionGenerator) Generate(ctx context.Context, pr *core.PRInfo, conversation []Message, lastAnswer string) []string {
	recent := conversation
	if len(recent) > 3 {
		recent = recent[len(recent)-3:]
	}
	var conv strings.Builder
	for _, m := range recent {
		fmt.Fprintf(&conv, "%s: %s\n", m.Role, clip(m.Content, 200))
	}

	prompt, err := s.prompts.Render(SuggestionsPrompt, DefaultProvider, suggestionData{
		Title:        pr.Title,
		Body:         clip(pr.Body, 500),
		Conversation: conv.String(),
		LastAnswer:   clip(lastAnswer, 500),
	})
	if err != nil {
		return fallbackSuggestions
	}

	raw, _, err := s.client.Generate(ctx, Request{
		Model:           s.model,
		Prompt:          prompt,
		JSON:            true,
		MaxOutputTokens: 256,
	})
	if err != nil {
		return fallbackSuggestions
	}

	var suggestions []string
	if err := json.Unmarshal([]byte(stripFence(raw)), &suggestions); err != nil || len(suggestions) == 0 {
		return fallbackSuggestions
	}
	if len(suggestions) > 5 {
		suggestions = suggestions[:5]
	}
	return suggestions
}

// Message is one turn of the user/assistant conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func clip(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
