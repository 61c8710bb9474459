package ledger

import (
	"sync"
	"time"
)

// Totals aggregates token usage and request counts.
type Totals struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	Requests     int64 `json:"requests"`
}

// Report is a consistent snapshot of the ledger.
type Report struct {
	Total Totals `json:"total"`
	Daily Totals `json:"daily"`
}

// CostEstimate is the ledger's dollar view of the accumulated usage.
type CostEstimate struct {
	TotalUSD   float64 `json:"total_usd"`
	DailyUSD   float64 `json:"daily_usd"`
	MonthlyUSD float64 `json:"projected_monthly_usd"`
}

// Ledger tracks token usage globally and per user. The daily accumulator
// rolls over to zero the first time any Record or read runs after the local
// date advances.
type Ledger struct {
	mu        sync.Mutex
	inputPPM  float64 // USD per million input tokens
	outputPPM float64 // USD per million output tokens

	total Totals
	daily Totals
	day   time.Time // local date the daily window belongs to
	users map[string]*userUsage

	now func() time.Time
}

// userUsage mirrors the global accumulators per user: lifetime totals plus
// the same daily window.
type userUsage struct {
	total Totals
	daily Totals
}

// New creates a ledger with the given per-million-token rates
func New(inputCostPerMillion, outputCostPerMillion float64) *Ledger {
	l := &Ledger{
		inputPPM:  inputCostPerMillion,
		outputPPM: outputCostPerMillion,
		users:     make(map[string]*userUsage),
		now:       time.Now,
	}
	l.day = localDate(l.now())
	return l
}

// Record adds one request's token usage for userID
func (l *Ledger) Record(userID string, inputTokens, outputTokens int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollover()

	l.total.InputTokens += int64(inputTokens)
	l.total.OutputTokens += int64(outputTokens)
	l.total.Requests++

	l.daily.InputTokens += int64(inputTokens)
	l.daily.OutputTokens += int64(outputTokens)
	l.daily.Requests++

	u, ok := l.users[userID]
	if !ok {
		u = &userUsage{}
		l.users[userID] = u
	}
	u.total.InputTokens += int64(inputTokens)
	u.total.OutputTokens += int64(outputTokens)
	u.total.Requests++
	u.daily.InputTokens += int64(inputTokens)
	u.daily.OutputTokens += int64(outputTokens)
	u.daily.Requests++
}

// Snapshot returns the current global totals
func (l *Ledger) Snapshot() Report {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollover()
	return Report{Total: l.total, Daily: l.daily}
}

// UserUsage returns one user's lifetime and daily totals
func (l *Ledger) UserUsage(userID string) Report {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollover()
	if u, ok := l.users[userID]; ok {
		return Report{Total: u.total, Daily: u.daily}
	}
	return Report{}
}

// EstimateCost prices the accumulated usage and extrapolates the current
// daily cost across the days of the current month
func (l *Ledger) EstimateCost() CostEstimate {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollover()

	est := CostEstimate{
		TotalUSD: l.price(l.total),
		DailyUSD: l.price(l.daily),
	}
	est.MonthlyUSD = est.DailyUSD * float64(daysInMonth(l.now()))
	return est
}

// Reset zeroes every counter. Operational/test hook.
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.total = Totals{}
	l.daily = Totals{}
	l.users = make(map[string]*userUsage)
	l.day = localDate(l.now())
}

func (l *Ledger) price(t Totals) float64 {
	return float64(t.InputTokens)/1_000_000*l.inputPPM +
		float64(t.OutputTokens)/1_000_000*l.outputPPM
}

// rollover zeroes the daily accumulator when the local date has advanced.
// Caller must hold l.mu.
func (l *Ledger) rollover() {
	today := localDate(l.now())
	if !today.Equal(l.day) {
		l.daily = Totals{}
		for _, u := range l.users {
			u.daily = Totals{}
		}
		l.day = today
	}
}

func localDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func daysInMonth(t time.Time) int {
	firstOfNext := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location()).AddDate(0, 1, 0)
	return firstOfNext.AddDate(0, 0, -1).Day()
}
