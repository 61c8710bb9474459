package models

import "time"

// RequestStatus is the lifecycle state of a generation request.
type RequestStatus string

const (
	StatusPending    RequestStatus = "pending"
	StatusProcessing RequestStatus = "processing"
	StatusCompleted  RequestStatus = "completed"
	StatusFailed     RequestStatus = "failed"
	StatusCancelled  RequestStatus = "cancelled"
)

// Terminal reports whether no further transitions are possible for s
// (Failed still allows retry, but retry creates a new request).
func (s RequestStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// OutputFormat is the closed set of content kinds the engine can produce.
type OutputFormat string

const (
	FormatFlashcard OutputFormat = "flashcard"
	FormatQuiz      OutputFormat = "quiz"
	FormatNote      OutputFormat = "note"
	FormatSummary   OutputFormat = "summary"
)

// ValidFormat reports whether f is one of the supported output formats.
func ValidFormat(f OutputFormat) bool {
	switch f {
	case FormatFlashcard, FormatQuiz, FormatNote, FormatSummary:
		return true
	}
	return false
}

// GenerationRequest represents one user's ask. Rows are created Pending by
// the create operation and mutated only by the orchestrator afterwards.
type GenerationRequest struct {
	ID           string        `json:"id"`
	OwnerID      string        `json:"owner_id"`
	Prompt       string        `json:"prompt"`
	Format       OutputFormat  `json:"format"`
	Context      string        `json:"context,omitempty"`
	Status       RequestStatus `json:"status"`
	Progress     int           `json:"progress"`
	ErrorMessage *string       `json:"error_message,omitempty"`
	RetryCount   int           `json:"retry_count"`
	MaxRetries   int           `json:"max_retries"`
	ContentID    *string       `json:"content_id,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
	StartedAt    *time.Time    `json:"started_at,omitempty"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`
}

// RequestSnapshot is what GetStatus returns: persisted fields combined with
// the live progress value (if a ProgressRecord is active) and the derived
// state-machine flags.
type RequestSnapshot struct {
	GenerationRequest
	CanCancel bool `json:"can_cancel"`
	CanRetry  bool `json:"can_retry"`
}

// GeneratedContent is the persisted output of a completed request.
type GeneratedContent struct {
	ID           string       `json:"id"`
	RequestID    string       `json:"request_id"`
	OwnerID      string       `json:"owner_id"`
	Format       OutputFormat `json:"format"`
	Body         string       `json:"body"`
	InputTokens  int          `json:"input_tokens"`
	OutputTokens int          `json:"output_tokens"`
	BlobPath     *string      `json:"blob_path,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
}

// Template is a reusable prompt template. Conventional CRUD glue around the
// engine; no lifecycle of its own.
type Template struct {
	ID        string       `json:"id"`
	OwnerID   string       `json:"owner_id"`
	Name      string       `json:"name"`
	Format    OutputFormat `json:"format"`
	Body      string       `json:"body"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Page carries pagination parameters for owner-scoped listings.
type Page struct {
	Offset int
	Limit  int
}
