package publisher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/impact/go/internal/events"
)

// flakyPublisher fails the first `failures` calls and reports every
// successful delivery on the delivered channel.
type flakyPublisher struct {
	mu        sync.Mutex
	failures  int
	calls     int
	delivered chan events.Event
}

func (f *flakyPublisher) Publish(ctx context.Context, event events.Event) error {
	f.mu.Lock()
	f.calls++
	fail := f.calls <= f.failures
	f.mu.Unlock()
	if fail {
		return errors.New("bus unavailable")
	}
	f.delivered <- event
	return nil
}

func (f *flakyPublisher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func receive(t *testing.T, ch <-chan events.Event) events.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
		return events.Event{}
	}
}

func TestOutboxRetriesWithBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := clockwork.NewFakeClock()
	inner := &flakyPublisher{failures: 2, delivered: make(chan events.Event, 1)}
	outbox := NewOutbox(inner, OutboxConfig{BufferSize: 4, MaxRetries: 3, RetryDelay: time.Second}, clock)
	if err := outbox.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer outbox.Close()

	ev := testEvent(t, events.EventTypeWarningRaised)
	if err := outbox.Publish(ctx, ev); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	// First retry waits one delay, the second waits two.
	for _, wait := range []time.Duration{time.Second, 2 * time.Second} {
		if err := clock.BlockUntilContext(ctx, 1); err != nil {
			t.Fatalf("worker never started waiting: %v", err)
		}
		clock.Advance(wait)
	}

	got := receive(t, inner.delivered)
	if got.ID != ev.ID {
		t.Errorf("delivered %s, want %s", got.ID, ev.ID)
	}
	if calls := inner.callCount(); calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestOutboxGivesUpAfterMaxRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := clockwork.NewFakeClock()
	inner := &flakyPublisher{failures: 2, delivered: make(chan events.Event, 1)}
	outbox := NewOutbox(inner, OutboxConfig{BufferSize: 4, MaxRetries: 1, RetryDelay: time.Second}, clock)
	if err := outbox.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer outbox.Close()

	first := testEvent(t, events.EventTypeWarningRaised)
	second := testEvent(t, events.EventTypeRoundEnded)
	if err := outbox.Publish(ctx, first); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if err := outbox.Publish(ctx, second); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("worker never started waiting: %v", err)
	}
	clock.Advance(time.Second)

	// The first event is abandoned after two attempts; the second goes
	// through on its first.
	got := receive(t, inner.delivered)
	if got.ID != second.ID {
		t.Errorf("delivered %s, want second event", got.Type)
	}
	deadline := time.Now().Add(2 * time.Second)
	for outbox.Stats().Delivered != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if stats := outbox.Stats(); stats.Abandoned != 1 || stats.Delivered != 1 {
		t.Errorf("stats = %+v, want 1 abandoned and 1 delivered", stats)
	}
}

func TestOutboxFull(t *testing.T) {
	inner := &flakyPublisher{delivered: make(chan events.Event, 1)}
	outbox := NewOutbox(inner, OutboxConfig{BufferSize: 1}, clockwork.NewFakeClock())

	// Not started, so nothing leaves the queue.
	if err := outbox.Publish(context.Background(), testEvent(t, events.EventTypeWarningRaised)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	err := outbox.Publish(context.Background(), testEvent(t, events.EventTypeWarningRaised))
	if !errors.Is(err, ErrOutboxFull) {
		t.Fatalf("err = %v, want ErrOutboxFull", err)
	}
	if stats := outbox.Stats(); stats.Pending != 1 || stats.Abandoned != 1 {
		t.Errorf("stats = %+v, want 1 pending and 1 abandoned", stats)
	}
}

func TestOutboxDrainsOnClose(t *testing.T) {
	inner := &flakyPublisher{delivered: make(chan events.Event, 2)}
	outbox := NewOutbox(inner, OutboxConfig{BufferSize: 4}, clockwork.NewFakeClock())

	for range 2 {
		if err := outbox.Publish(context.Background(), testEvent(t, events.EventTypeWarningRaised)); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}

	// Start with an already cancelled context so the worker stops almost
	// immediately; whatever it has not sent yet is delivered by the drain.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := outbox.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := outbox.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if stats := outbox.Stats(); stats.Delivered != 2 || stats.Pending != 0 {
		t.Errorf("stats = %+v, want 2 delivered", stats)
	}
	if err := outbox.Publish(context.Background(), testEvent(t, events.EventTypeWarningRaised)); !errors.Is(err, ErrOutboxClosed) {
		t.Errorf("Publish after Close = %v, want ErrOutboxClosed", err)
	}
}
