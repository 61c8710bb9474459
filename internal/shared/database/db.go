package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/studyforge/studyforge/internal/shared/apperr"
	"github.com/studyforge/studyforge/internal/shared/models"
)

type DB struct {
	conn *sql.DB
}

// New creates a new database connection
func New(databaseURL string) (*DB, error) {
	conn, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(10)
	conn.SetConnMaxLifetime(5 * time.Minute)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	return &DB{conn: conn}, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks database reachability for health reporting
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Init creates the schema if it does not exist yet
func (db *DB) Init(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS generation_requests (
			id UUID PRIMARY KEY,
			owner_id TEXT NOT NULL,
			prompt TEXT NOT NULL,
			format TEXT NOT NULL,
			context_text TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			progress INT NOT NULL DEFAULT 0,
			error_message TEXT,
			retry_count INT NOT NULL DEFAULT 0,
			max_retries INT NOT NULL DEFAULT 3,
			content_id UUID,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			started_at TIMESTAMPTZ,
			completed_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_requests_owner ON generation_requests (owner_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_requests_status ON generation_requests (status, created_at)`,

		`CREATE TABLE IF NOT EXISTS generated_contents (
			id UUID PRIMARY KEY,
			request_id UUID NOT NULL,
			owner_id TEXT NOT NULL,
			format TEXT NOT NULL,
			body TEXT NOT NULL,
			input_tokens INT NOT NULL DEFAULT 0,
			output_tokens INT NOT NULL DEFAULT 0,
			blob_path TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_contents_owner ON generated_contents (owner_id, created_at DESC)`,

		`CREATE TABLE IF NOT EXISTS templates (
			id UUID PRIMARY KEY,
			owner_id TEXT NOT NULL,
			name TEXT NOT NULL,
			format TEXT NOT NULL,
			body TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_templates_owner ON templates (owner_id, created_at DESC)`,
	}

	for _, query := range queries {
		if _, err := db.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("schema init failed: %w", err)
		}
	}
	return nil
}

const requestColumns = `id, owner_id, prompt, format, context_text, status, progress,
	error_message, retry_count, max_retries, content_id,
	created_at, updated_at, started_at, completed_at`

func scanRequest(row interface{ Scan(...interface{}) error }) (*models.GenerationRequest, error) {
	var req models.GenerationRequest
	err := row.Scan(
		&req.ID,
		&req.OwnerID,
		&req.Prompt,
		&req.Format,
		&req.Context,
		&req.Status,
		&req.Progress,
		&req.ErrorMessage,
		&req.RetryCount,
		&req.MaxRetries,
		&req.ContentID,
		&req.CreatedAt,
		&req.UpdatedAt,
		&req.StartedAt,
		&req.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// SaveRequest inserts a new generation request row
func (db *DB) SaveRequest(ctx context.Context, req *models.GenerationRequest) error {
	query := `
		INSERT INTO generation_requests (
			id, owner_id, prompt, format, context_text, status, progress,
			error_message, retry_count, max_retries, content_id,
			created_at, updated_at, started_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	_, err := db.conn.ExecContext(ctx, query,
		req.ID,
		req.OwnerID,
		req.Prompt,
		req.Format,
		req.Context,
		req.Status,
		req.Progress,
		req.ErrorMessage,
		req.RetryCount,
		req.MaxRetries,
		req.ContentID,
		req.CreatedAt,
		req.UpdatedAt,
		req.StartedAt,
		req.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save request: %w", err)
	}
	return nil
}

// FindRequestByID retrieves a generation request by id
func (db *DB) FindRequestByID(ctx context.Context, id string) (*models.GenerationRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM generation_requests WHERE id = $1`

	req, err := scanRequest(db.conn.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("request %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	return req, nil
}

// FindRequestsByOwner returns a page of the owner's requests, newest first
func (db *DB) FindRequestsByOwner(ctx context.Context, ownerID string, page models.Page) ([]*models.GenerationRequest, error) {
	query := `SELECT ` + requestColumns + `
		FROM generation_requests
		WHERE owner_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := db.conn.QueryContext(ctx, query, ownerID, page.Limit, page.Offset)
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	defer rows.Close()

	var out []*models.GenerationRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("database error: %w", err)
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// UpdateRequest persists the mutable lifecycle fields of a request
func (db *DB) UpdateRequest(ctx context.Context, req *models.GenerationRequest) error {
	query := `
		UPDATE generation_requests
		SET status = $2, progress = $3, error_message = $4, retry_count = $5,
		    content_id = $6, updated_at = $7, started_at = $8, completed_at = $9
		WHERE id = $1
	`

	res, err := db.conn.ExecContext(ctx, query,
		req.ID,
		req.Status,
		req.Progress,
		req.ErrorMessage,
		req.RetryCount,
		req.ContentID,
		req.UpdatedAt,
		req.StartedAt,
		req.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update request: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("request %s: %w", req.ID, apperr.ErrNotFound)
	}
	return nil
}

// UpdateRequestIf persists the mutable lifecycle fields of a request only
// while the stored row is still in from, reporting whether the write won.
// Lifecycle transitions race against concurrent cancels and sweeps; the
// status predicate makes the transition atomic at the row.
func (db *DB) UpdateRequestIf(ctx context.Context, req *models.GenerationRequest, from models.RequestStatus) (bool, error) {
	query := `
		UPDATE generation_requests
		SET status = $2, progress = $3, error_message = $4, retry_count = $5,
		    content_id = $6, updated_at = $7, started_at = $8, completed_at = $9
		WHERE id = $1 AND status = $10
	`

	res, err := db.conn.ExecContext(ctx, query,
		req.ID,
		req.Status,
		req.Progress,
		req.ErrorMessage,
		req.RetryCount,
		req.ContentID,
		req.UpdatedAt,
		req.StartedAt,
		req.CompletedAt,
		from,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to update request: %w", err)
	}
	return n > 0, nil
}

// FindStalePending returns Pending requests created before cutoff
func (db *DB) FindStalePending(ctx context.Context, cutoff time.Time) ([]*models.GenerationRequest, error) {
	query := `SELECT ` + requestColumns + `
		FROM generation_requests
		WHERE status = $1 AND created_at < $2`

	rows, err := db.conn.QueryContext(ctx, query, models.StatusPending, cutoff)
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	defer rows.Close()

	var out []*models.GenerationRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("database error: %w", err)
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// SaveContent inserts a generated-content row
func (db *DB) SaveContent(ctx context.Context, content *models.GeneratedContent) error {
	query := `
		INSERT INTO generated_contents (
			id, request_id, owner_id, format, body, input_tokens, output_tokens, blob_path, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := db.conn.ExecContext(ctx, query,
		content.ID,
		content.RequestID,
		content.OwnerID,
		content.Format,
		content.Body,
		content.InputTokens,
		content.OutputTokens,
		content.BlobPath,
		content.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save content: %w", err)
	}
	return nil
}

// FindContentByID retrieves generated content by id
func (db *DB) FindContentByID(ctx context.Context, id string) (*models.GeneratedContent, error) {
	query := `
		SELECT id, request_id, owner_id, format, body, input_tokens, output_tokens, blob_path, created_at
		FROM generated_contents WHERE id = $1
	`

	var content models.GeneratedContent
	err := db.conn.QueryRowContext(ctx, query, id).Scan(
		&content.ID,
		&content.RequestID,
		&content.OwnerID,
		&content.Format,
		&content.Body,
		&content.InputTokens,
		&content.OutputTokens,
		&content.BlobPath,
		&content.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("content %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	return &content, nil
}

// FindContentsByOwner returns a page of the owner's generated contents, newest first
func (db *DB) FindContentsByOwner(ctx context.Context, ownerID string, page models.Page) ([]*models.GeneratedContent, error) {
	query := `
		SELECT id, request_id, owner_id, format, body, input_tokens, output_tokens, blob_path, created_at
		FROM generated_contents
		WHERE owner_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := db.conn.QueryContext(ctx, query, ownerID, page.Limit, page.Offset)
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	defer rows.Close()

	var out []*models.GeneratedContent
	for rows.Next() {
		var content models.GeneratedContent
		if err := rows.Scan(
			&content.ID,
			&content.RequestID,
			&content.OwnerID,
			&content.Format,
			&content.Body,
			&content.InputTokens,
			&content.OutputTokens,
			&content.BlobPath,
			&content.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("database error: %w", err)
		}
		out = append(out, &content)
	}
	return out, rows.Err()
}

// SetContentBlobPath records the exported blob path for a content row
func (db *DB) SetContentBlobPath(ctx context.Context, contentID, blobPath string) error {
	query := `UPDATE generated_contents SET blob_path = $2 WHERE id = $1`
	_, err := db.conn.ExecContext(ctx, query, contentID, blobPath)
	return err
}

// SaveTemplate inserts a template row
func (db *DB) SaveTemplate(ctx context.Context, tpl *models.Template) error {
	query := `
		INSERT INTO templates (id, owner_id, name, format, body, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := db.conn.ExecContext(ctx, query,
		tpl.ID, tpl.OwnerID, tpl.Name, tpl.Format, tpl.Body, tpl.CreatedAt, tpl.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save template: %w", err)
	}
	return nil
}

// FindTemplateByID retrieves a template by id
func (db *DB) FindTemplateByID(ctx context.Context, id string) (*models.Template, error) {
	query := `SELECT id, owner_id, name, format, body, created_at, updated_at FROM templates WHERE id = $1`

	var tpl models.Template
	err := db.conn.QueryRowContext(ctx, query, id).Scan(
		&tpl.ID, &tpl.OwnerID, &tpl.Name, &tpl.Format, &tpl.Body, &tpl.CreatedAt, &tpl.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("template %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	return &tpl, nil
}

// FindTemplatesByOwner returns a page of the owner's templates, newest first
func (db *DB) FindTemplatesByOwner(ctx context.Context, ownerID string, page models.Page) ([]*models.Template, error) {
	query := `
		SELECT id, owner_id, name, format, body, created_at, updated_at
		FROM templates
		WHERE owner_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := db.conn.QueryContext(ctx, query, ownerID, page.Limit, page.Offset)
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	defer rows.Close()

	var out []*models.Template
	for rows.Next() {
		var tpl models.Template
		if err := rows.Scan(&tpl.ID, &tpl.OwnerID, &tpl.Name, &tpl.Format, &tpl.Body, &tpl.CreatedAt, &tpl.UpdatedAt); err != nil {
			return nil, fmt.Errorf("database error: %w", err)
		}
		out = append(out, &tpl)
	}
	return out, rows.Err()
}
