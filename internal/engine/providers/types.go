package providers

import (
	"context"

	"github.com/studyforge/studyforge/internal/shared/models"
)

// Request carries the inputs for one generation call.
type Request struct {
	Prompt  string
	Format  models.OutputFormat
	Context string

	// MaxTokens caps the completion size; 0 means provider default.
	// Previews use a small cap.
	MaxTokens int
}

// Result is the provider's output plus its token accounting.
type Result struct {
	Content      string
	InputTokens  int
	OutputTokens int
}

// Provider is the external generative-model collaborator. Any non-success
// is treated by the orchestrator as a user-retryable failure; providers must
// not retry internally.
type Provider interface {
	Generate(ctx context.Context, req Request) (*Result, error)
	Name() string
}
