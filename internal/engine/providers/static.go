package providers

import (
	"context"
	"fmt"
	"strings"
)

// StaticProvider returns canned content without calling any upstream. Used
// in development and tests; token counts are rough word counts so the
// ledger still moves.
type StaticProvider struct{}

// NewStaticProvider creates a static provider
func NewStaticProvider() *StaticProvider {
	return &StaticProvider{}
}

// Generate returns deterministic content derived from the request
func (p *StaticProvider) Generate(_ context.Context, req Request) (*Result, error) {
	content := fmt.Sprintf("[%s] %s", req.Format, req.Prompt)
	return &Result{
		Content:      content,
		InputTokens:  len(strings.Fields(req.Prompt + " " + req.Context)),
		OutputTokens: len(strings.Fields(content)),
	}, nil
}

// Name returns the provider name
func (p *StaticProvider) Name() string {
	return "static"
}
