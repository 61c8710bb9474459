package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/studyforge/studyforge/internal/shared/apperr"
	"github.com/studyforge/studyforge/internal/shared/blob"
	"github.com/studyforge/studyforge/internal/shared/database"
	"github.com/studyforge/studyforge/internal/shared/models"
)

// ContentHandler serves persisted generated content and blob exports
type ContentHandler struct {
	db     *database.DB
	blobs  *blob.Store
	urlTTL time.Duration
}

func NewContentHandler(db *database.DB, blobs *blob.Store, urlTTL time.Duration) *ContentHandler {
	return &ContentHandler{db: db, blobs: blobs, urlTTL: urlTTL}
}

// HandleGet handles GET /v1/contents/{id}
func (h *ContentHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	content, err := h.ownedContent(w, r)
	if err != nil {
		return
	}
	writeJSON(w, http.StatusOK, content)
}

// HandleList handles GET /v1/contents
func (h *ContentHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	contents, err := h.db.FindContentsByOwner(r.Context(), userID(r), pageFrom(r))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if contents == nil {
		contents = []*models.GeneratedContent{}
	}
	writeJSON(w, http.StatusOK, contents)
}

// HandleDownload handles GET /v1/contents/{id}/download. The content body
// is exported to the blob store on first use, then a time-limited signed
// URL is returned.
func (h *ContentHandler) HandleDownload(w http.ResponseWriter, r *http.Request) {
	content, err := h.ownedContent(w, r)
	if err != nil {
		return
	}

	path := content.BlobPath
	if path == nil {
		exported := fmt.Sprintf("contents/%s.%s", content.ID, extensionFor(content.Format))
		if _, err := h.blobs.Upload([]byte(content.Body), exported); err != nil {
			writeError(w, http.StatusInternalServerError, "export failed")
			return
		}
		if err := h.db.SetContentBlobPath(r.Context(), content.ID, exported); err != nil {
			writeError(w, http.StatusInternalServerError, "export failed")
			return
		}
		path = &exported
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"url":        h.blobs.SignedURL(*path, h.urlTTL),
		"expires_in": h.urlTTL.String(),
	})
}

// HandleBlob handles GET /v1/blobs/*, verifying the signature issued by
// HandleDownload
func (h *ContentHandler) HandleBlob(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/blobs/")
	q := r.URL.Query()
	if err := h.blobs.Verify(path, q.Get("expires"), q.Get("sig")); err != nil {
		writeError(w, http.StatusForbidden, err.Error())
		return
	}

	data, err := h.blobs.Download(path)
	if err != nil {
		writeError(w, http.StatusNotFound, "blob not found")
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", path[strings.LastIndex(path, "/")+1:]))
	w.Write(data)
}

func (h *ContentHandler) ownedContent(w http.ResponseWriter, r *http.Request) (*models.GeneratedContent, error) {
	id := chi.URLParam(r, "id")
	content, err := h.db.FindContentByID(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return nil, err
	}
	if content.OwnerID != userID(r) {
		err := fmt.Errorf("content %s: %w", id, apperr.ErrAccessDenied)
		writeEngineError(w, err)
		return nil, err
	}
	return content, nil
}

func extensionFor(format models.OutputFormat) string {
	switch format {
	case models.FormatNote, models.FormatSummary:
		return "md"
	default:
		return "json"
	}
}
