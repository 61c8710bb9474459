package providers

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"
	"github.com/studyforge/studyforge/internal/shared/apperr"
	"github.com/studyforge/studyforge/internal/shared/models"
)

// OpenAIProvider generates study content through the OpenAI API
type OpenAIProvider struct {
	client *openai.Client
	model  string
}

// NewOpenAIProvider creates a new OpenAI provider
func NewOpenAIProvider(apiKey, model string) *OpenAIProvider {
	return &OpenAIProvider{
		client: openai.NewClient(apiKey),
		model:  model,
	}
}

// systemPrompts steer the model toward each output format. Structured
// formats ask for JSON so downstream consumers can render them directly.
var systemPrompts = map[models.OutputFormat]string{
	models.FormatFlashcard: "You are a study assistant. Produce a flashcard set for the user's topic as a JSON array of objects with \"front\" and \"back\" fields. Return only JSON.",
	models.FormatQuiz:      "You are a study assistant. Produce a multiple-choice quiz for the user's topic as a JSON array of objects with \"question\", \"options\" (4 strings) and \"answer\" (index) fields. Return only JSON.",
	models.FormatNote:      "You are a study assistant. Produce well-structured study notes in Markdown for the user's topic.",
	models.FormatSummary:   "You are a study assistant. Produce a concise summary of the user's topic or material.",
}

// Generate makes a single completion request to OpenAI
func (p *OpenAIProvider) Generate(ctx context.Context, req Request) (*Result, error) {
	system, ok := systemPrompts[req.Format]
	if !ok {
		return nil, fmt.Errorf("unsupported format %q: %w", req.Format, apperr.ErrValidation)
	}

	user := req.Prompt
	if req.Context != "" {
		user = fmt.Sprintf("%s\n\nSource material:\n%s", req.Prompt, req.Context)
	}

	openaiReq := openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	}
	if req.MaxTokens > 0 {
		openaiReq.MaxTokens = req.MaxTokens
	}

	resp, err := p.client.CreateChatCompletion(ctx, openaiReq)
	if err != nil {
		return nil, fmt.Errorf("OpenAI API error: %v: %w", err, apperr.ErrUpstreamFailure)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("OpenAI returned no choices: %w", apperr.ErrUpstreamFailure)
	}

	return &Result{
		Content:      resp.Choices[0].Message.Content,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}, nil
}

// Name returns the provider name
func (p *OpenAIProvider) Name() string {
	return "openai"
}
