package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturingNotifier struct {
	mu     sync.Mutex
	topics []string
	events [][]byte
}

func (n *capturingNotifier) Publish(_ context.Context, topic string, payload []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.topics = append(n.topics, topic)
	n.events = append(n.events, payload)
	return nil
}

func (n *capturingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}

func collect(ch <-chan Record) []Record {
	var out []Record
	for rec := range ch {
		out = append(out, rec)
	}
	return out
}

func TestLifecycle(t *testing.T) {
	tr := New(nil)

	tr.Start("req-1", "alice", 4)

	rec, ok := tr.Get("req-1")
	require.True(t, ok)
	assert.Equal(t, StatusProcessing, rec.Status)
	assert.Equal(t, 0, rec.CurrentStep)
	assert.Equal(t, 4, rec.TotalSteps)

	tr.Update("req-1", 2, "calling provider", 50)
	rec, ok = tr.Get("req-1")
	require.True(t, ok)
	assert.Equal(t, 50, rec.OverallProgress) // 2/4 steps
	assert.Equal(t, "calling provider", rec.StepDescription)

	tr.Complete("req-1", "the content")

	// Terminal removes the record from the registry.
	_, ok = tr.Get("req-1")
	assert.False(t, ok, "record should be gone after Complete")
}

func TestSubscriberReceivesOrderedEvents(t *testing.T) {
	tr := New(nil)
	tr.Start("req-1", "alice", 2)

	ch, cancel := tr.Subscribe("req-1")
	defer cancel()

	tr.Update("req-1", 1, "step one", 100)
	tr.Update("req-1", 2, "step two", 100)
	tr.Complete("req-1", "done")

	events := collect(ch)
	require.Len(t, events, 3)
	assert.Equal(t, 50, events[0].OverallProgress)
	assert.Equal(t, 100, events[1].OverallProgress)
	assert.Equal(t, StatusCompleted, events[2].Status)
	assert.Equal(t, "done", events[2].Result)
}

func TestFailResetsProgress(t *testing.T) {
	tr := New(nil)
	tr.Start("req-1", "alice", 3)
	tr.Update("req-1", 2, "working", 50)

	ch, cancel := tr.Subscribe("req-1")
	defer cancel()

	tr.Fail("req-1", "provider exploded")

	events := collect(ch)
	require.Len(t, events, 1)
	assert.Equal(t, StatusFailed, events[0].Status)
	assert.Equal(t, "provider exploded", events[0].Error)
	assert.Equal(t, 0, events[0].OverallProgress)
}

func TestCancelPushesTerminalAndRemoves(t *testing.T) {
	tr := New(nil)
	tr.Start("req-1", "alice", 3)

	ch, cancel := tr.Subscribe("req-1")
	defer cancel()

	tr.Cancel("req-1")

	events := collect(ch)
	require.Len(t, events, 1)
	assert.Equal(t, StatusCancelled, events[0].Status)

	_, ok := tr.Get("req-1")
	assert.False(t, ok)
}

func TestLateSubscriberGetsNothing(t *testing.T) {
	tr := New(nil)
	tr.Start("req-1", "alice", 1)
	tr.Complete("req-1", "done")

	ch, cancel := tr.Subscribe("req-1")
	defer cancel()

	select {
	case _, open := <-ch:
		assert.False(t, open, "late subscriber channel should just be closed")
	case <-time.After(100 * time.Millisecond):
		t.Fatal("late subscriber channel was not closed")
	}
}

func TestNotifierSeesExactlyOneTerminalEvent(t *testing.T) {
	n := &capturingNotifier{}
	tr := New(n)

	tr.Start("req-1", "alice", 2)
	tr.Update("req-1", 1, "one", 100)
	tr.Complete("req-1", "done")
	// Calls after terminal are no-ops on a removed record.
	tr.Complete("req-1", "again")
	tr.Fail("req-1", "nope")

	assert.Equal(t, 3, n.count(), "start + update + one terminal")
	assert.Equal(t, Topic("alice", "req-1"), n.topics[0])
}

func TestUpdateUnknownRequestIsNoop(t *testing.T) {
	tr := New(nil)
	tr.Update("ghost", 1, "x", 10) // must not panic
	_, ok := tr.Get("ghost")
	assert.False(t, ok)
}

func TestProgressBounds(t *testing.T) {
	tr := New(nil)
	tr.Start("req-1", "alice", 1)

	tr.Update("req-1", 5, "overshoot", 250)
	rec, ok := tr.Get("req-1")
	require.True(t, ok)
	assert.Equal(t, 100, rec.OverallProgress)
	assert.Equal(t, 100, rec.StepProgress)

	tr.Update("req-1", 0, "undershoot", -5)
	rec, _ = tr.Get("req-1")
	assert.Equal(t, 0, rec.StepProgress)
	assert.GreaterOrEqual(t, rec.OverallProgress, 0)
}

func TestMultipleSubscribers(t *testing.T) {
	tr := New(nil)
	tr.Start("req-1", "alice", 1)

	ch1, cancel1 := tr.Subscribe("req-1")
	ch2, cancel2 := tr.Subscribe("req-1")
	defer cancel1()
	defer cancel2()

	tr.Complete("req-1", "done")

	for _, ch := range []<-chan Record{ch1, ch2} {
		events := collect(ch)
		require.Len(t, events, 1)
		assert.Equal(t, StatusCompleted, events[0].Status)
	}
}
