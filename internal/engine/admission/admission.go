package admission

import (
	"fmt"
	"sync"
	"time"

	"github.com/studyforge/studyforge/internal/shared/apperr"
)

// Action is a rate-limited action class.
type Action string

const (
	ActionCreate  Action = "create"
	ActionPreview Action = "preview"
)

// Ceilings holds the per-window request ceilings for one action class.
// A zero ceiling disables that window.
type Ceilings struct {
	PerMinute int
	PerHour   int
	PerDay    int
}

// Controller is a per-user fixed-window admission controller. Each user and
// action class gets three counters (minute, hour, day); a counter is lazily
// reset to zero the first time it is consulted after wall-clock time crosses
// into a new window. Bursts straddling a window boundary are accepted, which
// is the documented trade-off of fixed windows.
//
// Reserve checks and increments under one lock, so admission is atomic.
type Controller struct {
	mu       sync.Mutex
	ceilings map[Action]Ceilings
	counters map[string]*userCounters // key = userID + "/" + action
	now      func() time.Time

	stop chan struct{}
}

type window struct {
	count int
	start time.Time
}

type userCounters struct {
	minute window
	hour   window
	day    window
}

// New creates a controller with the given per-action ceilings
func New(ceilings map[Action]Ceilings) *Controller {
	c := &Controller{
		ceilings: ceilings,
		counters: make(map[string]*userCounters),
		now:      time.Now,
		stop:     make(chan struct{}),
	}

	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.cleanup()
			case <-c.stop:
				return
			}
		}
	}()

	return c
}

// Close stops the background cleanup goroutine
func (c *Controller) Close() {
	close(c.stop)
}

// Reserve admits one occurrence of action for userID, incrementing all three
// window counters, or returns ErrAdmissionDenied if any ceiling is already
// met or exceeded. Nothing is consumed on denial.
func (c *Controller) Reserve(userID string, action Action) error {
	ceil, ok := c.ceilings[action]
	if !ok {
		return fmt.Errorf("unknown action %q: %w", action, apperr.ErrValidation)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	key := userID + "/" + string(action)
	uc, ok := c.counters[key]
	if !ok {
		uc = &userCounters{}
		c.counters[key] = uc
	}

	resetIfElapsed(&uc.minute, now.Truncate(time.Minute))
	resetIfElapsed(&uc.hour, now.Truncate(time.Hour))
	resetIfElapsed(&uc.day, dayStart(now))

	if exceeded(uc.minute.count, ceil.PerMinute) ||
		exceeded(uc.hour.count, ceil.PerHour) ||
		exceeded(uc.day.count, ceil.PerDay) {
		return fmt.Errorf("rate ceiling reached for %s: %w", action, apperr.ErrAdmissionDenied)
	}

	uc.minute.count++
	uc.hour.count++
	uc.day.count++
	return nil
}

// Remaining returns how many occurrences of action userID may still perform
// in the current hour window. Used for response headers only.
func (c *Controller) Remaining(userID string, action Action) int {
	ceil, ok := c.ceilings[action]
	if !ok || ceil.PerHour <= 0 {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	uc, ok := c.counters[userID+"/"+string(action)]
	if !ok {
		return ceil.PerHour
	}

	now := c.now()
	resetIfElapsed(&uc.hour, now.Truncate(time.Hour))

	remaining := ceil.PerHour - uc.hour.count
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// resetIfElapsed zeroes w if wall-clock time has crossed into a new window.
// The new window starts at the boundary, not at the reset moment; partial
// usage never carries over.
func resetIfElapsed(w *window, windowStart time.Time) {
	if w.start.Before(windowStart) {
		w.count = 0
		w.start = windowStart
	}
}

func dayStart(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func exceeded(count, ceiling int) bool {
	return ceiling > 0 && count >= ceiling
}

// cleanup drops counter sets whose day window has lapsed, so idle users do
// not accumulate forever
func (c *Controller) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	today := dayStart(c.now())
	for key, uc := range c.counters {
		if uc.day.start.Before(today) {
			delete(c.counters, key)
		}
	}
}
