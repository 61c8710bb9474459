package orchestrator

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/studyforge/studyforge/internal/engine/admission"
	"github.com/studyforge/studyforge/internal/engine/cache"
	"github.com/studyforge/studyforge/internal/engine/ledger"
	"github.com/studyforge/studyforge/internal/engine/progress"
	"github.com/studyforge/studyforge/internal/engine/providers"
	"github.com/studyforge/studyforge/internal/metrics"
	"github.com/studyforge/studyforge/internal/shared/apperr"
	"github.com/studyforge/studyforge/internal/shared/models"
)

// Store is the durable record store the engine persists requests and
// generated content through.
type Store interface {
	SaveRequest(ctx context.Context, req *models.GenerationRequest) error
	FindRequestByID(ctx context.Context, id string) (*models.GenerationRequest, error)
	FindRequestsByOwner(ctx context.Context, ownerID string, page models.Page) ([]*models.GenerationRequest, error)
	UpdateRequest(ctx context.Context, req *models.GenerationRequest) error
	// UpdateRequestIf persists req only while the stored row is still in
	// from, reporting whether the write won. Status transitions race against
	// concurrent cancels and sweeps; the loser must observe that it lost.
	UpdateRequestIf(ctx context.Context, req *models.GenerationRequest, from models.RequestStatus) (bool, error)
	FindStalePending(ctx context.Context, cutoff time.Time) ([]*models.GenerationRequest, error)
	SaveContent(ctx context.Context, content *models.GeneratedContent) error
}

// Options tunes the engine. Zero values fall back to sane defaults.
type Options struct {
	Workers         int
	Backlog         int
	MaxRetries      int
	ProviderTimeout time.Duration
	StaleAge        time.Duration
	PreviewTokens   int
}

func (o *Options) defaults() {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.Backlog <= 0 {
		o.Backlog = 64
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.ProviderTimeout <= 0 {
		o.ProviderTimeout = 60 * time.Second
	}
	if o.StaleAge <= 0 {
		o.StaleAge = 24 * time.Hour
	}
	if o.PreviewTokens <= 0 {
		o.PreviewTokens = 150
	}
}

// totalSteps is the number of progress steps one unit of work reports.
const totalSteps = 4

// Engine owns the generation-request lifecycle. It is the only writer of
// request rows after creation; one unit of work exists per request at a
// time, so per-request transitions are serialized by construction.
type Engine struct {
	store     Store
	provider  providers.Provider
	cache     *cache.Cache
	admission *admission.Controller
	tracker   *progress.Tracker
	ledger    *ledger.Ledger
	pool      *pool
	opts      Options

	mu       sync.Mutex
	inflight map[string]*inflight
}

// inflight holds the cancellation state of one running unit of work. Its
// mutex serializes the terminal commit against Cancel, so a concurrently
// cancelled request is never overwritten with Completed or Failed.
type inflight struct {
	ctx  context.Context
	stop context.CancelFunc

	mu        sync.Mutex
	cancelled bool
	done      bool
}

// New constructs an engine. All collaborators are passed in so tests can
// use fresh instances.
func New(store Store, provider providers.Provider, contentCache *cache.Cache,
	adm *admission.Controller, tracker *progress.Tracker, usage *ledger.Ledger,
	opts Options) *Engine {

	opts.defaults()
	return &Engine{
		store:     store,
		provider:  provider,
		cache:     contentCache,
		admission: adm,
		tracker:   tracker,
		ledger:    usage,
		pool:      newPool(opts.Workers, opts.Backlog),
		opts:      opts,
		inflight:  make(map[string]*inflight),
	}
}

// Shutdown drains the worker pool
func (e *Engine) Shutdown() {
	e.pool.Shutdown()
}

// Create validates admission and persists a new Pending request
func (e *Engine) Create(ctx context.Context, ownerID, prompt string, format models.OutputFormat, contextText string) (*models.GenerationRequest, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, fmt.Errorf("prompt must not be empty: %w", apperr.ErrValidation)
	}
	if !models.ValidFormat(format) {
		return nil, fmt.Errorf("unsupported format %q: %w", format, apperr.ErrValidation)
	}

	if err := e.admission.Reserve(ownerID, admission.ActionCreate); err != nil {
		metrics.AdmissionDeniedTotal.WithLabelValues(string(admission.ActionCreate)).Inc()
		return nil, err
	}

	now := time.Now()
	req := &models.GenerationRequest{
		ID:         uuid.NewString(),
		OwnerID:    ownerID,
		Prompt:     prompt,
		Format:     format,
		Context:    contextText,
		Status:     models.StatusPending,
		MaxRetries: e.opts.MaxRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := e.store.SaveRequest(ctx, req); err != nil {
		return nil, err
	}
	return req, nil
}

// StartGeneration transitions a Pending request to Processing and schedules
// its unit of work on the pool. It returns as soon as the work is scheduled;
// completion is observed via progress events or GetStatus.
func (e *Engine) StartGeneration(ctx context.Context, requestID, ownerID string) error {
	req, err := e.loadOwned(ctx, requestID, ownerID)
	if err != nil {
		return err
	}
	if req.Status != models.StatusPending {
		return fmt.Errorf("cannot start a %s request: %w", req.Status, apperr.ErrInvalidState)
	}

	workCtx, stop := context.WithCancel(context.Background())
	inf := &inflight{ctx: workCtx, stop: stop}

	// Claim the request. A second concurrent start loses the claim, so at
	// most one unit of work ever exists for a request.
	e.mu.Lock()
	if _, claimed := e.inflight[requestID]; claimed {
		e.mu.Unlock()
		stop()
		return fmt.Errorf("request %s is already starting: %w", requestID, apperr.ErrInvalidState)
	}
	e.inflight[requestID] = inf
	e.mu.Unlock()

	// Reserve a pool slot before touching the row, so a full backlog leaves
	// the request untouched and Pending. The task holds until the Processing
	// transition below is durable.
	ready := make(chan struct{})
	if err := e.pool.Submit(func() {
		<-ready
		e.run(req, inf)
	}); err != nil {
		e.clearInflight(requestID, inf)
		stop()
		return err
	}

	// The Pending -> Processing transition is conditional and serialized
	// with Cancel on inf.mu. A cancel that lands between the claim above and
	// this point wins; the row stays Cancelled and no progress record is
	// created.
	inf.mu.Lock()
	if inf.cancelled {
		inf.mu.Unlock()
		stop()
		close(ready) // let the queued task run; it exits on the cancelled flag
		return fmt.Errorf("request %s was cancelled before it could start: %w", requestID, apperr.ErrInvalidState)
	}
	now := time.Now()
	req.Status = models.StatusProcessing
	req.StartedAt = &now
	req.UpdatedAt = now
	won, uerr := e.store.UpdateRequestIf(ctx, req, models.StatusPending)
	if uerr == nil && won {
		e.tracker.Start(requestID, ownerID, totalSteps)
	} else {
		inf.cancelled = true
	}
	inf.mu.Unlock()

	if uerr != nil || !won {
		stop()
		close(ready)
		if uerr != nil {
			return uerr
		}
		return fmt.Errorf("request %s left pending before it could start: %w", requestID, apperr.ErrInvalidState)
	}

	metrics.GenerationsStartedTotal.Inc()
	close(ready)
	return nil
}

// Cancel aborts a Pending or Processing request. An in-flight provider call
// is not preempted; its unit of work will observe the cancellation and
// discard its result instead of overwriting the Cancelled state.
func (e *Engine) Cancel(ctx context.Context, requestID, ownerID string) error {
	for attempt := 0; attempt < 2; attempt++ {
		req, err := e.loadOwned(ctx, requestID, ownerID)
		if err != nil {
			return err
		}
		if req.Status != models.StatusPending && req.Status != models.StatusProcessing {
			return fmt.Errorf("cannot cancel a %s request: %w", req.Status, apperr.ErrInvalidState)
		}

		e.mu.Lock()
		inf := e.inflight[requestID]
		e.mu.Unlock()

		if inf != nil {
			inf.mu.Lock()
			if inf.done {
				inf.mu.Unlock()
				return fmt.Errorf("request already finished: %w", apperr.ErrInvalidState)
			}
			inf.cancelled = true
			// A concurrent start may have moved the row since our read;
			// inf.mu serializes us with that transition, so re-read before
			// writing to keep started_at intact.
			if cur, lerr := e.store.FindRequestByID(ctx, requestID); lerr == nil {
				req = cur
			}
			markCancelled(req, "cancelled by user")
			err := e.store.UpdateRequest(ctx, req)
			inf.mu.Unlock()
			if err != nil {
				return err
			}
			inf.stop()
		} else {
			// No unit of work has claimed the request: cancel is a
			// conditional write. If it loses, a start claimed the row in the
			// meantime; re-read and go through the claimed path above.
			from := req.Status
			markCancelled(req, "cancelled by user")
			won, err := e.store.UpdateRequestIf(ctx, req, from)
			if err != nil {
				return err
			}
			if !won {
				continue
			}
		}

		e.tracker.Cancel(requestID)
		metrics.GenerationsCancelledTotal.Inc()
		return nil
	}
	return fmt.Errorf("request %s changed state concurrently: %w", requestID, apperr.ErrInvalidState)
}

// Retry issues a fresh Pending request cloned from a Failed one. The clone
// starts its own retryCount at zero; the failed row's retryCount records how
// many retries were issued from it and caps them at MaxRetries.
func (e *Engine) Retry(ctx context.Context, requestID, ownerID string) (*models.GenerationRequest, error) {
	req, err := e.loadOwned(ctx, requestID, ownerID)
	if err != nil {
		return nil, err
	}
	if req.Status != models.StatusFailed {
		return nil, fmt.Errorf("cannot retry a %s request: %w", req.Status, apperr.ErrInvalidState)
	}
	if req.RetryCount >= req.MaxRetries {
		return nil, fmt.Errorf("retry limit reached (%d/%d): %w", req.RetryCount, req.MaxRetries, apperr.ErrInvalidState)
	}

	now := time.Now()
	clone := &models.GenerationRequest{
		ID:         uuid.NewString(),
		OwnerID:    req.OwnerID,
		Prompt:     req.Prompt,
		Format:     req.Format,
		Context:    req.Context,
		Status:     models.StatusPending,
		MaxRetries: req.MaxRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := e.store.SaveRequest(ctx, clone); err != nil {
		return nil, err
	}

	req.RetryCount++
	req.UpdatedAt = now
	if err := e.store.UpdateRequest(ctx, req); err != nil {
		return nil, err
	}
	return clone, nil
}

// GetStatus returns a snapshot of the request, preferring the live progress
// value over the persisted one while a unit of work is running
func (e *Engine) GetStatus(ctx context.Context, requestID, ownerID string) (*models.RequestSnapshot, error) {
	req, err := e.loadOwned(ctx, requestID, ownerID)
	if err != nil {
		return nil, err
	}

	snap := &models.RequestSnapshot{GenerationRequest: *req}
	if rec, ok := e.tracker.Get(requestID); ok {
		// Persistence may lag; the live value wins.
		snap.Progress = rec.OverallProgress
	}
	snap.CanCancel = req.Status == models.StatusPending || req.Status == models.StatusProcessing
	snap.CanRetry = req.Status == models.StatusFailed && req.RetryCount < req.MaxRetries
	return snap, nil
}

// List returns a page of the owner's requests
func (e *Engine) List(ctx context.Context, ownerID string, page models.Page) ([]*models.GenerationRequest, error) {
	return e.store.FindRequestsByOwner(ctx, ownerID, page)
}

// AdmissionRemaining reports how many more occurrences of action the owner
// may perform in the current hour window. Used for rate-limit response
// headers.
func (e *Engine) AdmissionRemaining(ownerID string, action admission.Action) int {
	return e.admission.Remaining(ownerID, action)
}

// Preview runs a short synchronous generation without persisting anything.
// It shares the content cache with full generations and is admission-limited
// under its own action class.
func (e *Engine) Preview(ctx context.Context, ownerID, prompt string, format models.OutputFormat, contextText string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", fmt.Errorf("prompt must not be empty: %w", apperr.ErrValidation)
	}
	if !models.ValidFormat(format) {
		return "", fmt.Errorf("unsupported format %q: %w", format, apperr.ErrValidation)
	}

	if err := e.admission.Reserve(ownerID, admission.ActionPreview); err != nil {
		metrics.AdmissionDeniedTotal.WithLabelValues(string(admission.ActionPreview)).Inc()
		return "", err
	}

	if content, hit := e.cache.Lookup(prompt, string(format), contextText); hit {
		metrics.CacheHitsTotal.Inc()
		return content, nil
	}
	metrics.CacheMissesTotal.Inc()

	callCtx, cancel := context.WithTimeout(ctx, e.opts.ProviderTimeout)
	defer cancel()

	start := time.Now()
	result, err := e.provider.Generate(callCtx, providers.Request{
		Prompt:    prompt,
		Format:    format,
		Context:   contextText,
		MaxTokens: e.opts.PreviewTokens,
	})
	metrics.ProviderLatencySeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		return "", err
	}

	e.recordUsage(ownerID, result.InputTokens, result.OutputTokens)
	return result.Content, nil
}

// SweepStalePending force-cancels Pending requests older than the stale age
// and returns how many were swept
func (e *Engine) SweepStalePending(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-e.opts.StaleAge)
	stale, err := e.store.FindStalePending(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, req := range stale {
		markCancelled(req, "auto-cancelled due to age")
		won, err := e.store.UpdateRequestIf(ctx, req, models.StatusPending)
		if err != nil {
			log.Printf("sweep: failed to cancel request %s: %v", req.ID, err)
			continue
		}
		if !won {
			// Started or cancelled since the listing; leave it alone.
			continue
		}
		e.tracker.Cancel(req.ID)
		metrics.GenerationsCancelledTotal.Inc()
		swept++
	}
	return swept, nil
}

// RunSweeper blocks, sweeping stale Pending requests every interval until
// ctx is done
func (e *Engine) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n, err := e.SweepStalePending(ctx); err != nil {
				log.Printf("sweep failed: %v", err)
			} else if n > 0 {
				log.Printf("sweep cancelled %d stale pending request(s)", n)
			}
		case <-ctx.Done():
			return
		}
	}
}

// run is the asynchronous unit of work for one request. It never returns an
// error to the StartGeneration caller: every fault ends as a persisted
// Failed state plus a terminal progress event.
func (e *Engine) run(req *models.GenerationRequest, inf *inflight) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("unit of work for %s panicked: %v", req.ID, r)
			e.fail(req, inf, fmt.Sprintf("internal fault: %v", r))
		}
		e.clearInflight(req.ID, inf)
	}()

	inf.mu.Lock()
	if inf.cancelled {
		inf.mu.Unlock()
		return
	}
	inf.mu.Unlock()

	e.tracker.Update(req.ID, 1, "checking cache", 100)

	var result *providers.Result
	if content, hit := e.cache.Lookup(req.Prompt, string(req.Format), req.Context); hit {
		metrics.CacheHitsTotal.Inc()
		result = &providers.Result{Content: content}
		e.tracker.Update(req.ID, 2, "serving cached result", 100)
	} else {
		metrics.CacheMissesTotal.Inc()
		e.tracker.Update(req.ID, 2, "calling model provider", 0)

		callCtx, cancel := context.WithTimeout(inf.ctx, e.opts.ProviderTimeout)
		start := time.Now()
		res, err := e.provider.Generate(callCtx, providers.Request{
			Prompt:  req.Prompt,
			Format:  req.Format,
			Context: req.Context,
		})
		cancel()
		metrics.ProviderLatencySeconds.Observe(time.Since(start).Seconds())
		if err != nil {
			e.fail(req, inf, err.Error())
			return
		}
		e.tracker.Update(req.ID, 2, "calling model provider", 100)

		e.cache.Store(req.Prompt, string(req.Format), req.Context, res.Content)
		result = res
	}

	// Discard early if cancellation won while the provider was working; a
	// second check guards the final commit below.
	inf.mu.Lock()
	if inf.cancelled {
		inf.mu.Unlock()
		log.Printf("request %s was cancelled mid-flight; discarding result", req.ID)
		return
	}
	inf.mu.Unlock()

	e.tracker.Update(req.ID, 3, "storing generated content", 50)

	content := &models.GeneratedContent{
		ID:           uuid.NewString(),
		RequestID:    req.ID,
		OwnerID:      req.OwnerID,
		Format:       req.Format,
		Body:         result.Content,
		InputTokens:  result.InputTokens,
		OutputTokens: result.OutputTokens,
		CreatedAt:    time.Now(),
	}
	if err := e.store.SaveContent(context.Background(), content); err != nil {
		e.fail(req, inf, fmt.Sprintf("failed to store content: %v", err))
		return
	}

	// Commit. The request may have been cancelled while the provider call
	// was in flight; a Cancelled row must never become Completed.
	inf.mu.Lock()
	if inf.cancelled {
		inf.mu.Unlock()
		log.Printf("request %s was cancelled mid-flight; discarding result", req.ID)
		return
	}
	now := time.Now()
	req.Status = models.StatusCompleted
	req.Progress = 100
	req.ContentID = &content.ID
	req.CompletedAt = &now
	req.UpdatedAt = now
	err := e.store.UpdateRequest(context.Background(), req)
	inf.done = true
	inf.mu.Unlock()

	if err != nil {
		log.Printf("failed to persist completion of %s: %v", req.ID, err)
	}

	e.recordUsage(req.OwnerID, result.InputTokens, result.OutputTokens)
	metrics.GenerationsCompletedTotal.Inc()
	e.tracker.Complete(req.ID, result.Content)
}

// fail commits the Failed state unless the request was concurrently
// cancelled
func (e *Engine) fail(req *models.GenerationRequest, inf *inflight, message string) {
	inf.mu.Lock()
	if inf.cancelled || inf.done {
		inf.mu.Unlock()
		return
	}
	now := time.Now()
	req.Status = models.StatusFailed
	req.Progress = 0
	req.ErrorMessage = &message
	req.UpdatedAt = now
	err := e.store.UpdateRequest(context.Background(), req)
	inf.done = true
	inf.mu.Unlock()

	if err != nil {
		log.Printf("failed to persist failure of %s: %v", req.ID, err)
	}

	metrics.GenerationsFailedTotal.Inc()
	e.tracker.Fail(req.ID, message)
}

func markCancelled(req *models.GenerationRequest, reason string) {
	req.Status = models.StatusCancelled
	req.Progress = 0
	req.ErrorMessage = &reason
	req.UpdatedAt = time.Now()
}

func (e *Engine) recordUsage(ownerID string, inputTokens, outputTokens int) {
	e.ledger.Record(ownerID, inputTokens, outputTokens)
	metrics.TokensRecordedTotal.WithLabelValues("input").Add(float64(inputTokens))
	metrics.TokensRecordedTotal.WithLabelValues("output").Add(float64(outputTokens))
}

func (e *Engine) loadOwned(ctx context.Context, requestID, ownerID string) (*models.GenerationRequest, error) {
	req, err := e.store.FindRequestByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.OwnerID != ownerID {
		return nil, fmt.Errorf("request %s: %w", requestID, apperr.ErrAccessDenied)
	}
	return req, nil
}

// clearInflight removes the entry only if it still belongs to this unit of
// work; a request restarted after a failed transition owns a fresh entry
func (e *Engine) clearInflight(requestID string, inf *inflight) {
	e.mu.Lock()
	if e.inflight[requestID] == inf {
		delete(e.inflight, requestID)
	}
	e.mu.Unlock()
}
