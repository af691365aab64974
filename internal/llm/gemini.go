package llm

import (
	"context"
	"fmt"
	"log/slog"

	"google.golang.org/genai"
)

// GeminiClient implements Client over the Google GenAI SDK.
type GeminiClient struct {
	client       *genai.Client
	defaultModel string
	logger       *slog.Logger
}

// NewGeminiClient creates a Gemini-backed client. The API key is required;
// there is no unauthenticated mode.
func NewGeminiClient(ctx context.Context, apiKey, defaultModel string, logger *slog.Logger) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &GeminiClient{client: client, defaultModel: defaultModel, logger: logger}, nil
}

// Generate performs one blocking generation call and reports token usage.
func (g *GeminiClient) Generate(ctx context.Context, req Request) (string, Usage, error) {
	model := req.Model
	if model == "" {
		model = g.defaultModel
	}

	cfg := &genai.GenerateContentConfig{}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.JSON {
		cfg.ResponseMIMEType = "application/json"
	}
	if req.MaxOutputTokens > 0 {
		cfg.MaxOutputTokens = req.MaxOutputTokens
	}

	resp, err := g.client.Models.GenerateContent(ctx, model, genai.Text(req.Prompt), cfg)
	if err != nil {
		return "", Usage{}, fmt.Errorf("generate content with %s: %w", model, err)
	}

	var usage Usage
	if um := resp.UsageMetadata; um != nil {
		usage = Usage{
			InputTokens:  int64(um.PromptTokenCount),
			OutputTokens: int64(um.CandidatesTokenCount),
			TotalTokens:  int64(um.TotalTokenCount),
		}
	}

	text := resp.Text()
	g.logger.Debug("llm call completed", "model", model, "tokens", usage.TotalTokens, "chars", len(text))
	return text, usage, nil
}
