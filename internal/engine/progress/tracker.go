package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"
)

// Status mirrors the owning request's lifecycle for subscribers.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Record is the live progress of one in-flight request. Records are not
// persisted: if the tracker is lost, only the human-readable trail goes with
// it; the authoritative status lives on the request row.
type Record struct {
	RequestID       string    `json:"request_id"`
	OwnerID         string    `json:"owner_id"`
	Status          Status    `json:"status"`
	TotalSteps      int       `json:"total_steps"`
	CurrentStep     int       `json:"current_step"`
	StepDescription string    `json:"step_description"`
	StepProgress    int       `json:"step_progress"`
	OverallProgress int       `json:"overall_progress"`
	Result          string    `json:"result,omitempty"`
	Error           string    `json:"error,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Terminal reports whether this record's status is final.
func (r *Record) Terminal() bool {
	return r.Status != StatusProcessing
}

// Notifier is the external push channel for progress events.
type Notifier interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Topic returns the push-channel topic for a request's progress stream
func Topic(ownerID, requestID string) string {
	return fmt.Sprintf("user/%s/generation/%s/progress", ownerID, requestID)
}

// Tracker is an in-memory registry of active progress records with fan-out
// to any number of per-request subscribers plus the external notifier.
// Events for one request are delivered in emission order; a subscriber that
// attaches after the terminal push receives nothing.
type Tracker struct {
	mu       sync.Mutex
	records  map[string]*trackedRecord
	notifier Notifier
}

type trackedRecord struct {
	record Record
	subs   map[int]chan Record
	nextID int
}

// subscriber channels are buffered; a subscriber that falls this far behind
// starts losing intermediate updates (never the terminal event, which is
// sent last and the channel is drained in order).
const subscriberBuffer = 16

// New creates a tracker that mirrors every event to notifier. A nil
// notifier disables external push.
func New(notifier Notifier) *Tracker {
	return &Tracker{
		records:  make(map[string]*trackedRecord),
		notifier: notifier,
	}
}

// Start registers a new progress record for a request about to be processed
func (t *Tracker) Start(requestID, ownerID string, totalSteps int) {
	now := time.Now()
	rec := Record{
		RequestID:  requestID,
		OwnerID:    ownerID,
		Status:     StatusProcessing,
		TotalSteps: totalSteps,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	t.mu.Lock()
	t.records[requestID] = &trackedRecord{
		record: rec,
		subs:   make(map[int]chan Record),
	}
	t.mu.Unlock()

	t.push(rec)
}

// Update records step progress and fans the new state out to subscribers
func (t *Tracker) Update(requestID string, step int, description string, stepProgress int) {
	t.mu.Lock()
	tr, ok := t.records[requestID]
	if !ok {
		t.mu.Unlock()
		return
	}

	tr.record.CurrentStep = step
	tr.record.StepDescription = description
	tr.record.StepProgress = clamp(stepProgress)
	if tr.record.TotalSteps > 0 {
		tr.record.OverallProgress = clamp(step * 100 / tr.record.TotalSteps)
	}
	tr.record.UpdatedAt = time.Now()
	rec := tr.record
	t.mu.Unlock()

	t.push(rec)
}

// Complete marks the request done, pushes the terminal event and removes
// the record
func (t *Tracker) Complete(requestID, result string) {
	t.finish(requestID, StatusCompleted, result, "")
}

// Fail marks the request failed, pushes the terminal event and removes
// the record
func (t *Tracker) Fail(requestID, message string) {
	t.finish(requestID, StatusFailed, "", message)
}

// Cancel removes the record for a cancelled request, pushing a terminal
// cancellation event if one was active
func (t *Tracker) Cancel(requestID string) {
	t.finish(requestID, StatusCancelled, "", "")
}

// Get returns the live record for a request, or false if none is active
func (t *Tracker) Get(requestID string) (Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tr, ok := t.records[requestID]
	if !ok {
		return Record{}, false
	}
	return tr.record, true
}

// Subscribe attaches to a request's progress stream. The returned channel is
// closed after the terminal event (or immediately if no record is active).
// The cancel function detaches early.
func (t *Tracker) Subscribe(requestID string) (<-chan Record, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ch := make(chan Record, subscriberBuffer)
	tr, ok := t.records[requestID]
	if !ok {
		// Terminal push already happened (or never will); the subscriber
		// must read authoritative state via GetStatus.
		close(ch)
		return ch, func() {}
	}

	id := tr.nextID
	tr.nextID++
	tr.subs[id] = ch

	cancel := func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if tr, ok := t.records[requestID]; ok {
			if _, live := tr.subs[id]; live {
				delete(tr.subs, id)
				close(ch)
			}
		}
	}
	return ch, cancel
}

func (t *Tracker) finish(requestID string, status Status, result, errMsg string) {
	t.mu.Lock()
	tr, ok := t.records[requestID]
	if !ok {
		t.mu.Unlock()
		return
	}

	tr.record.Status = status
	tr.record.Result = result
	tr.record.Error = errMsg
	if status == StatusCompleted {
		tr.record.OverallProgress = 100
		tr.record.CurrentStep = tr.record.TotalSteps
	} else {
		tr.record.OverallProgress = 0
	}
	tr.record.UpdatedAt = time.Now()
	rec := tr.record

	subs := tr.subs
	delete(t.records, requestID)
	t.mu.Unlock()

	t.notify(rec)
	for _, ch := range subs {
		deliver(ch, rec)
		close(ch)
	}
}

// push fans a non-terminal event out to the current subscribers
func (t *Tracker) push(rec Record) {
	t.mu.Lock()
	tr, ok := t.records[rec.RequestID]
	var subs []chan Record
	if ok {
		subs = make([]chan Record, 0, len(tr.subs))
		for _, ch := range tr.subs {
			subs = append(subs, ch)
		}
	}
	t.mu.Unlock()

	t.notify(rec)
	for _, ch := range subs {
		deliver(ch, rec)
	}
}

func (t *Tracker) notify(rec Record) {
	if t.notifier == nil {
		return
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := t.notifier.Publish(ctx, Topic(rec.OwnerID, rec.RequestID), payload); err != nil {
		log.Printf("progress publish failed for %s: %v", rec.RequestID, err)
	}
}

// deliver drops the oldest buffered event when the subscriber is full, so a
// stalled consumer cannot block the emitter and the freshest state wins
func deliver(ch chan Record, rec Record) {
	for {
		select {
		case ch <- rec:
			return
		default:
			select {
			case <-ch:
			default:
			}
		}
	}
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
