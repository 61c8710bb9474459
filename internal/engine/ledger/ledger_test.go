package ledger

import (
	"sync"
	"testing"
	"time"
)

func TestRecordAccumulates(t *testing.T) {
	l := New(0.15, 0.60)

	l.Record("alice", 1000, 500)
	l.Record("alice", 2000, 1000)
	l.Record("bob", 100, 50)

	rep := l.Snapshot()
	if rep.Total.InputTokens != 3100 || rep.Total.OutputTokens != 1550 || rep.Total.Requests != 3 {
		t.Errorf("unexpected global totals: %+v", rep.Total)
	}
	if rep.Daily != rep.Total {
		t.Errorf("daily %+v should equal total %+v before rollover", rep.Daily, rep.Total)
	}

	alice := l.UserUsage("alice")
	if alice.Total.InputTokens != 3000 || alice.Total.OutputTokens != 1500 || alice.Total.Requests != 2 {
		t.Errorf("unexpected alice totals: %+v", alice.Total)
	}
	if alice.Daily != alice.Total {
		t.Errorf("alice daily %+v should equal total %+v before rollover", alice.Daily, alice.Total)
	}
	if got := l.UserUsage("nobody"); got != (Report{}) {
		t.Errorf("unknown user usage = %+v, want zero", got)
	}
}

func TestDailyRollover(t *testing.T) {
	l := New(0.15, 0.60)
	now := time.Date(2026, 3, 10, 23, 50, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	l.day = time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	l.Record("u", 500, 500)

	// Crossing midnight resets daily, keeps lifetime totals.
	now = now.Add(time.Hour)
	rep := l.Snapshot()
	if rep.Daily.Requests != 0 {
		t.Errorf("daily requests = %d, want 0 after date change", rep.Daily.Requests)
	}
	if rep.Total.Requests != 1 {
		t.Errorf("total requests = %d, want 1", rep.Total.Requests)
	}

	// Per-user daily windows roll over with the global one.
	u := l.UserUsage("u")
	if u.Daily.Requests != 0 {
		t.Errorf("user daily requests = %d, want 0 after date change", u.Daily.Requests)
	}
	if u.Total.Requests != 1 {
		t.Errorf("user total requests = %d, want 1", u.Total.Requests)
	}

	// Rollover also fires from Record itself.
	l.Record("u", 100, 100)
	rep = l.Snapshot()
	if rep.Daily.InputTokens != 100 {
		t.Errorf("daily input tokens = %d, want 100", rep.Daily.InputTokens)
	}
}

func TestEstimateCost(t *testing.T) {
	l := New(2.0, 8.0) // $2 / $8 per million tokens
	now := time.Date(2026, 4, 15, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	l.day = time.Date(2026, 4, 15, 0, 0, 0, 0, time.UTC)

	l.Record("u", 1_000_000, 500_000)

	est := l.EstimateCost()
	wantDaily := 2.0 + 4.0 // 1M input + 0.5M output
	if est.DailyUSD != wantDaily {
		t.Errorf("DailyUSD = %v, want %v", est.DailyUSD, wantDaily)
	}
	if est.TotalUSD != wantDaily {
		t.Errorf("TotalUSD = %v, want %v", est.TotalUSD, wantDaily)
	}
	// April has 30 days.
	if want := wantDaily * 30; est.MonthlyUSD != want {
		t.Errorf("MonthlyUSD = %v, want %v", est.MonthlyUSD, want)
	}
}

func TestReset(t *testing.T) {
	l := New(1, 1)
	l.Record("u", 10, 10)
	l.Reset()

	rep := l.Snapshot()
	if rep.Total != (Totals{}) || rep.Daily != (Totals{}) {
		t.Errorf("totals not zeroed after reset: %+v", rep)
	}
	if got := l.UserUsage("u"); got != (Report{}) {
		t.Errorf("user usage not zeroed after reset: %+v", got)
	}
}

func TestConcurrentRecord(t *testing.T) {
	l := New(1, 1)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Record("u", 10, 5)
		}()
	}
	wg.Wait()

	rep := l.Snapshot()
	if rep.Total.InputTokens != 1000 || rep.Total.OutputTokens != 500 || rep.Total.Requests != 100 {
		t.Errorf("unexpected totals under concurrency: %+v", rep.Total)
	}
}
