package relay

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lukasbauer/medrelay/internal/metrics"
	"github.com/lukasbauer/medrelay/internal/realtime"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// fakeUpstream records what the relay sends and lets tests inject events.
type fakeUpstream struct {
	events chan realtime.Event // unbuffered: a send returns once the relay has taken the event
	sent   chan string

	mu        sync.Mutex
	calls     []string
	queueFull bool

	closeCount atomic.Int32
	closed     chan struct{}
	closeOnce  sync.Once
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{
		events: make(chan realtime.Event),
		sent:   make(chan string, 64),
		closed: make(chan struct{}),
	}
}

func (f *fakeUpstream) record(calls ...string) {
	f.mu.Lock()
	f.calls = append(f.calls, calls...)
	f.mu.Unlock()
	for _, c := range calls {
		f.sent <- c
	}
}

func (f *fakeUpstream) AppendAudio(audio string) error {
	f.mu.Lock()
	full := f.queueFull
	f.mu.Unlock()
	if full {
		return realtime.ErrQueueFull
	}
	f.record("append:" + audio)
	return nil
}

func (f *fakeUpstream) Commit(instructions string) error {
	f.mu.Lock()
	full := f.queueFull
	f.mu.Unlock()
	if full {
		return realtime.ErrQueueFull
	}
	f.record("commit", "response.create:"+instructions)
	return nil
}

func (f *fakeUpstream) Events() <-chan realtime.Event { return f.events }

func (f *fakeUpstream) Close() error {
	f.closeCount.Add(1)
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeUpstream) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

// push delivers ev to the relay, failing the test if nobody takes it.
func (f *fakeUpstream) push(t *testing.T, ev realtime.Event) {
	t.Helper()
	select {
	case f.events <- ev:
	case <-time.After(2 * time.Second):
		t.Fatalf("relay did not accept upstream event %v", ev.Kind)
	}
}

func (f *fakeUpstream) waitSent(t *testing.T, n int) []string {
	t.Helper()
	var got []string
	for len(got) < n {
		select {
		case c := <-f.sent:
			got = append(got, c)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after %d of %d upstream messages: %v", len(got), n, got)
		}
	}
	return got
}

func (f *fakeUpstream) waitClosed(t *testing.T) {
	t.Helper()
	select {
	case <-f.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("upstream was not closed")
	}
}

func dialTo(f *fakeUpstream) DialFunc {
	return func(ctx context.Context, cfg realtime.Config, logger zerolog.Logger) (Upstream, error) {
		return f, nil
	}
}

func testOptions(dial DialFunc) Options {
	return Options{
		Upstream:     realtime.Config{APIKey: "sk-test"},
		Instructions: "transcribe",
		Dial:         dial,
		Logger:       zerolog.Nop(),
		Metrics:      metrics.NewMetrics(prometheus.NewRegistry()),
	}
}
