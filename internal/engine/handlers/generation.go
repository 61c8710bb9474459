package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/studyforge/studyforge/internal/engine/admission"
	"github.com/studyforge/studyforge/internal/engine/orchestrator"
	"github.com/studyforge/studyforge/internal/engine/progress"
	"github.com/studyforge/studyforge/internal/shared/models"
)

// GenerationHandler exposes the request lifecycle over HTTP
type GenerationHandler struct {
	engine  *orchestrator.Engine
	tracker *progress.Tracker
}

func NewGenerationHandler(engine *orchestrator.Engine, tracker *progress.Tracker) *GenerationHandler {
	return &GenerationHandler{engine: engine, tracker: tracker}
}

type createRequest struct {
	Prompt  string `json:"prompt"`
	Format  string `json:"format"`
	Context string `json:"context,omitempty"`
}

// HandleCreate handles POST /v1/generations
func (h *GenerationHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var body createRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	uid := userID(r)
	req, err := h.engine.Create(r.Context(), uid, body.Prompt, models.OutputFormat(body.Format), body.Context)
	setRateLimitHeader(w, h.engine, uid, admission.ActionCreate)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

// HandleStart handles POST /v1/generations/{id}/start
func (h *GenerationHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.engine.StartGeneration(r.Context(), id, userID(r)); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": string(models.StatusProcessing)})
}

// HandleCancel handles POST /v1/generations/{id}/cancel
func (h *GenerationHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.engine.Cancel(r.Context(), id, userID(r)); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": string(models.StatusCancelled)})
}

// HandleRetry handles POST /v1/generations/{id}/retry
func (h *GenerationHandler) HandleRetry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	clone, err := h.engine.Retry(r.Context(), id, userID(r))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, clone)
}

// HandleGet handles GET /v1/generations/{id}
func (h *GenerationHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	snap, err := h.engine.GetStatus(r.Context(), id, userID(r))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// HandleList handles GET /v1/generations
func (h *GenerationHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.engine.List(r.Context(), userID(r), pageFrom(r))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if reqs == nil {
		reqs = []*models.GenerationRequest{}
	}
	writeJSON(w, http.StatusOK, reqs)
}

type previewRequest struct {
	Prompt  string `json:"prompt"`
	Format  string `json:"format"`
	Context string `json:"context,omitempty"`
}

// HandlePreview handles POST /v1/preview
func (h *GenerationHandler) HandlePreview(w http.ResponseWriter, r *http.Request) {
	var body previewRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	uid := userID(r)
	content, err := h.engine.Preview(r.Context(), uid, body.Prompt, models.OutputFormat(body.Format), body.Context)
	setRateLimitHeader(w, h.engine, uid, admission.ActionPreview)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"preview": content})
}

// HandleSweep handles POST /v1/admin/sweep
func (h *GenerationHandler) HandleSweep(w http.ResponseWriter, r *http.Request) {
	n, err := h.engine.SweepStalePending(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"swept": n})
}

// setRateLimitHeader reports the hour-window admission headroom for the
// action class, on denials included
func setRateLimitHeader(w http.ResponseWriter, engine *orchestrator.Engine, userID string, action admission.Action) {
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(engine.AdmissionRemaining(userID, action)))
}

// pageFrom reads offset/limit query params with sane bounds
func pageFrom(r *http.Request) models.Page {
	page := models.Page{Limit: 20}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v >= 0 {
		page.Offset = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 100 {
		page.Limit = v
	}
	return page
}
