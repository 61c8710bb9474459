package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/studyforge/studyforge/internal/engine/admission"
	"github.com/studyforge/studyforge/internal/engine/cache"
	"github.com/studyforge/studyforge/internal/engine/ledger"
	"github.com/studyforge/studyforge/internal/engine/orchestrator"
	"github.com/studyforge/studyforge/internal/engine/progress"
	"github.com/studyforge/studyforge/internal/engine/providers"
	"github.com/studyforge/studyforge/internal/shared/apperr"
	"github.com/studyforge/studyforge/internal/shared/models"
)

// memStore is the minimal in-memory record store these handler tests need.
type memStore struct {
	mu       sync.Mutex
	requests map[string]*models.GenerationRequest
}

func newMemStore() *memStore {
	return &memStore{requests: make(map[string]*models.GenerationRequest)}
}

func (s *memStore) SaveRequest(_ context.Context, req *models.GenerationRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *req
	s.requests[req.ID] = &cp
	return nil
}

func (s *memStore) FindRequestByID(_ context.Context, id string) (*models.GenerationRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return nil, fmt.Errorf("request %s: %w", id, apperr.ErrNotFound)
	}
	cp := *req
	return &cp, nil
}

func (s *memStore) FindRequestsByOwner(_ context.Context, _ string, _ models.Page) ([]*models.GenerationRequest, error) {
	return nil, nil
}

func (s *memStore) UpdateRequest(_ context.Context, req *models.GenerationRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[req.ID]; !ok {
		return fmt.Errorf("request %s: %w", req.ID, apperr.ErrNotFound)
	}
	cp := *req
	s.requests[req.ID] = &cp
	return nil
}

func (s *memStore) UpdateRequestIf(_ context.Context, req *models.GenerationRequest, from models.RequestStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.requests[req.ID]
	if !ok {
		return false, fmt.Errorf("request %s: %w", req.ID, apperr.ErrNotFound)
	}
	if cur.Status != from {
		return false, nil
	}
	cp := *req
	s.requests[req.ID] = &cp
	return true, nil
}

func (s *memStore) FindStalePending(_ context.Context, _ time.Time) ([]*models.GenerationRequest, error) {
	return nil, nil
}

func (s *memStore) SaveContent(_ context.Context, _ *models.GeneratedContent) error {
	return nil
}

func newTestGenerationHandler(t *testing.T, ceilings map[admission.Action]admission.Ceilings) *GenerationHandler {
	t.Helper()
	adm := admission.New(ceilings)
	t.Cleanup(adm.Close)
	tracker := progress.New(nil)
	eng := orchestrator.New(newMemStore(), providers.NewStaticProvider(),
		cache.New(10, time.Hour, time.Hour), adm, tracker, ledger.New(1, 1), orchestrator.Options{})
	t.Cleanup(eng.Shutdown)
	return NewGenerationHandler(eng, tracker)
}

func asUser(r *http.Request, id string) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), userIDKey, id))
}

func TestCreateEmitsRateLimitHeader(t *testing.T) {
	h := newTestGenerationHandler(t, map[admission.Action]admission.Ceilings{
		admission.ActionCreate: {PerHour: 2},
	})

	post := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest("POST", "/v1/generations",
			strings.NewReader(`{"prompt":"photosynthesis","format":"note"}`))
		rec := httptest.NewRecorder()
		h.HandleCreate(rec, asUser(req, "alice"))
		return rec
	}

	rec := post()
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rec.Code)
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "1" {
		t.Errorf("X-RateLimit-Remaining = %q, want %q", got, "1")
	}

	post()
	rec = post()
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("X-RateLimit-Remaining on denial = %q, want %q", got, "0")
	}
}

func TestPreviewEmitsRateLimitHeader(t *testing.T) {
	h := newTestGenerationHandler(t, map[admission.Action]admission.Ceilings{
		admission.ActionPreview: {PerMinute: 10, PerHour: 5},
	})

	req := httptest.NewRequest("POST", "/v1/preview",
		strings.NewReader(`{"prompt":"mitosis","format":"quiz"}`))
	rec := httptest.NewRecorder()
	h.HandlePreview(rec, asUser(req, "bob"))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "4" {
		t.Errorf("X-RateLimit-Remaining = %q, want %q", got, "4")
	}
}
