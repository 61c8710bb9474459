package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/studyforge/studyforge/internal/shared/apperr"
	"github.com/studyforge/studyforge/internal/shared/database"
	"github.com/studyforge/studyforge/internal/shared/models"
)

// TemplateHandler is conventional CRUD glue for prompt templates
type TemplateHandler struct {
	db *database.DB
}

func NewTemplateHandler(db *database.DB) *TemplateHandler {
	return &TemplateHandler{db: db}
}

type templateRequest struct {
	Name   string `json:"name"`
	Format string `json:"format"`
	Body   string `json:"body"`
}

// HandleCreate handles POST /v1/templates
func (h *TemplateHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var body templateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(body.Name) == "" || strings.TrimSpace(body.Body) == "" {
		writeError(w, http.StatusBadRequest, "name and body are required")
		return
	}
	if !models.ValidFormat(models.OutputFormat(body.Format)) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported format %q", body.Format))
		return
	}

	now := time.Now()
	tpl := &models.Template{
		ID:        uuid.NewString(),
		OwnerID:   userID(r),
		Name:      body.Name,
		Format:    models.OutputFormat(body.Format),
		Body:      body.Body,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.db.SaveTemplate(r.Context(), tpl); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tpl)
}

// HandleGet handles GET /v1/templates/{id}
func (h *TemplateHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	tpl, err := h.db.FindTemplateByID(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if tpl.OwnerID != userID(r) {
		writeEngineError(w, fmt.Errorf("template %s: %w", id, apperr.ErrAccessDenied))
		return
	}
	writeJSON(w, http.StatusOK, tpl)
}

// HandleList handles GET /v1/templates
func (h *TemplateHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	tpls, err := h.db.FindTemplatesByOwner(r.Context(), userID(r), pageFrom(r))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if tpls == nil {
		tpls = []*models.Template{}
	}
	writeJSON(w, http.StatusOK, tpls)
}
