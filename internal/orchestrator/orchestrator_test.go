package orchestrator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tjfontaine/polyglot-llm-tester/internal/domain"
	"github.com/tjfontaine/polyglot-llm-tester/internal/registry"
)

type completeFunc func(ctx context.Context, endpointID, prompt string) (*domain.Outcome, error)

// stubCompleter records calls and delegates to fn.
type stubCompleter struct {
	fn    completeFunc
	calls atomic.Int32
}

func (s *stubCompleter) Complete(ctx context.Context, endpointID, prompt string) (*domain.Outcome, error) {
	s.calls.Add(1)
	return s.fn(ctx, endpointID, prompt)
}

func newRegistry(t *testing.T, ids ...string) *registry.Registry {
	t.Helper()
	endpoints := make([]domain.Endpoint, 0, len(ids))
	for _, id := range ids {
		endpoints = append(endpoints, domain.Endpoint{ID: id, DisplayName: id})
	}
	reg, err := registry.New(endpoints...)
	if err != nil {
		t.Fatalf("registry.New() error = %v", err)
	}
	return reg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestOrchestrator(t *testing.T, fn completeFunc, ids ...string) (*Orchestrator, *stubCompleter) {
	t.Helper()
	stub := &stubCompleter{fn: fn}
	return New(newRegistry(t, ids...), stub, WithLogger(quietLogger())), stub
}

func outcomeFor(id, content string) *domain.Outcome {
	return &domain.Outcome{EndpointID: id, Content: content, ResolvedModelID: id}
}

// waitFor fails the test if ch does not receive within a second.
func waitFor(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestOrchestrator_InitialStateIdle(t *testing.T) {
	o, _ := newTestOrchestrator(t, nil, "a", "b")

	snapshot := o.Snapshot()
	if len(snapshot) != 2 {
		t.Fatalf("Snapshot() len = %d, want 2", len(snapshot))
	}
	for _, s := range snapshot {
		if s.Status != domain.StatusIdle || s.Outcome != nil || s.Error != "" {
			t.Errorf("%s: state = %+v, want idle", s.Endpoint.ID, s.QueryState)
		}
	}
	if o.Busy() {
		t.Error("Busy() = true, want false")
	}
}

func TestOrchestrator_QueryOne_HappyPath(t *testing.T) {
	want := &domain.Outcome{EndpointID: "X", Content: "hi", LatencyMs: 5, ResolvedModelID: "X"}
	o, stub := newTestOrchestrator(t, func(ctx context.Context, id, prompt string) (*domain.Outcome, error) {
		return want, nil
	}, "X")

	state, err := o.QueryOne(context.Background(), "X", "hello")
	if err != nil {
		t.Fatalf("QueryOne() error = %v", err)
	}
	if state.Status != domain.StatusSucceeded || state.Outcome != want {
		t.Errorf("QueryOne() = %+v", state)
	}

	got, ok := o.State("X")
	if !ok {
		t.Fatal("State(X) missing")
	}
	if got.Status != domain.StatusSucceeded {
		t.Fatalf("Status = %s, want succeeded", got.Status)
	}
	if got.Outcome.Content != "hi" || got.Outcome.LatencyMs != 5 || got.Outcome.ResolvedModelID != "X" {
		t.Errorf("Outcome = %+v", got.Outcome)
	}
	if stub.calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", stub.calls.Load())
	}
}

func TestOrchestrator_QueryOne_UnknownEndpoint(t *testing.T) {
	o, stub := newTestOrchestrator(t, func(ctx context.Context, id, prompt string) (*domain.Outcome, error) {
		return outcomeFor(id, "x"), nil
	}, "X")

	_, err := o.QueryOne(context.Background(), "unregistered", "hello")
	if !domain.IsType(err, domain.ErrorTypeInvalidEndpoint) {
		t.Fatalf("expected invalid_endpoint error, got %v", err)
	}
	if stub.calls.Load() != 0 {
		t.Errorf("calls = %d, want 0", stub.calls.Load())
	}
	if _, ok := o.State("unregistered"); ok {
		t.Error("unregistered id must not gain a slot")
	}
	if len(o.Snapshot()) != 1 {
		t.Errorf("Snapshot() len = %d, want 1", len(o.Snapshot()))
	}
}

func TestOrchestrator_QueryOne_PendingBeforeCall(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var stateAtCall domain.QueryState

	var o *Orchestrator
	o, _ = newTestOrchestrator(t, func(ctx context.Context, id, prompt string) (*domain.Outcome, error) {
		stateAtCall, _ = o.State(id)
		close(entered)
		<-release
		return outcomeFor(id, "done"), nil
	}, "X")

	done := make(chan struct{})
	go func() {
		defer close(done)
		o.QueryOne(context.Background(), "X", "p")
	}()

	waitFor(t, entered, "call to start")
	if stateAtCall.Status != domain.StatusPending {
		t.Errorf("state at call = %s, want pending", stateAtCall.Status)
	}
	if !o.Busy() {
		t.Error("Busy() = false while pending")
	}

	close(release)
	waitFor(t, done, "query to settle")

	state, _ := o.State("X")
	if state.Status != domain.StatusSucceeded {
		t.Errorf("Status = %s, want succeeded", state.Status)
	}
}

func TestOrchestrator_QueryOne_RequeryClearsFailure(t *testing.T) {
	var attempt atomic.Int32
	o, _ := newTestOrchestrator(t, func(ctx context.Context, id, prompt string) (*domain.Outcome, error) {
		if attempt.Add(1) == 1 {
			return nil, domain.ErrUpstream(500, "boom")
		}
		return outcomeFor(id, "ok"), nil
	}, "X")

	state, err := o.QueryOne(context.Background(), "X", "p")
	if err != nil {
		t.Fatalf("QueryOne() error = %v", err)
	}
	if state.Status != domain.StatusFailed || state.Error != "boom" {
		t.Fatalf("first attempt = %+v, want failed(boom)", state)
	}

	state, _ = o.QueryOne(context.Background(), "X", "p")
	if state.Status != domain.StatusSucceeded || state.Error != "" {
		t.Errorf("second attempt = %+v, want succeeded", state)
	}
}

func TestOrchestrator_QueryAll_Isolation(t *testing.T) {
	tests := []struct {
		name      string
		failDelay time.Duration
		okDelay   time.Duration
	}{
		{name: "failure first", failDelay: 0, okDelay: 20 * time.Millisecond},
		{name: "failure last", failDelay: 20 * time.Millisecond, okDelay: 0},
		{name: "simultaneous", failDelay: 0, okDelay: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, _ := newTestOrchestrator(t, func(ctx context.Context, id, prompt string) (*domain.Outcome, error) {
				if id == "A" {
					time.Sleep(tt.failDelay)
					return nil, domain.ErrUpstream(502, "A is down")
				}
				time.Sleep(tt.okDelay)
				return outcomeFor(id, "B says hi"), nil
			}, "A", "B")

			results := o.QueryAll(context.Background(), "p")
			if len(results) != 2 {
				t.Fatalf("QueryAll() len = %d, want 2", len(results))
			}

			a, _ := o.State("A")
			b, _ := o.State("B")
			if a.Status != domain.StatusFailed || a.Error != "A is down" {
				t.Errorf("A = %+v, want failed", a)
			}
			if b.Status != domain.StatusSucceeded || b.Outcome.Content != "B says hi" {
				t.Errorf("B = %+v, want succeeded", b)
			}
			if results[0].Endpoint.ID != "A" || results[1].Endpoint.ID != "B" {
				t.Errorf("results not in display order: %v, %v", results[0].Endpoint.ID, results[1].Endpoint.ID)
			}
		})
	}
}

func TestOrchestrator_QueryAll_AllFail(t *testing.T) {
	o, stub := newTestOrchestrator(t, func(ctx context.Context, id, prompt string) (*domain.Outcome, error) {
		return nil, domain.ErrUpstream(500, "failure from "+id)
	}, "a", "b", "c")

	results := o.QueryAll(context.Background(), "p")

	if stub.calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", stub.calls.Load())
	}
	for i, id := range []string{"a", "b", "c"} {
		state, _ := o.State(id)
		want := "failure from " + id
		if state.Status != domain.StatusFailed || state.Error != want {
			t.Errorf("%s = %+v, want failed(%q)", id, state, want)
		}
		if results[i].Error != want {
			t.Errorf("results[%d].Error = %q, want %q", i, results[i].Error, want)
		}
	}
	if o.Busy() {
		t.Error("Busy() = true after round settled")
	}
}

func TestOrchestrator_QueryAll_NoHeadOfLineBlocking(t *testing.T) {
	ids := []string{"a", "b", "c", "d"}
	var inFlight sync.WaitGroup
	inFlight.Add(len(ids))
	allStarted := make(chan struct{})
	go func() {
		inFlight.Wait()
		close(allStarted)
	}()

	o, _ := newTestOrchestrator(t, func(ctx context.Context, id, prompt string) (*domain.Outcome, error) {
		inFlight.Done()
		select {
		case <-allStarted:
			return outcomeFor(id, "ok"), nil
		case <-time.After(time.Second):
			return nil, fmt.Errorf("%s never saw its siblings in flight", id)
		}
	}, ids...)

	for _, r := range o.QueryAll(context.Background(), "p") {
		if r.Status != domain.StatusSucceeded {
			t.Errorf("%s = %+v", r.Endpoint.ID, r.QueryState)
		}
	}
}

func TestOrchestrator_QueryAll_MaxConcurrency(t *testing.T) {
	var current, peak atomic.Int32
	stub := &stubCompleter{fn: func(ctx context.Context, id, prompt string) (*domain.Outcome, error) {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		current.Add(-1)
		return outcomeFor(id, "ok"), nil
	}}

	o := New(newRegistry(t, "a", "b", "c", "d", "e"), stub,
		WithLogger(quietLogger()), WithMaxConcurrency(2))
	o.QueryAll(context.Background(), "p")

	if peak.Load() > 2 {
		t.Errorf("peak in-flight = %d, want <= 2", peak.Load())
	}
	if stub.calls.Load() != 5 {
		t.Errorf("calls = %d, want 5", stub.calls.Load())
	}
}

func TestOrchestrator_ClearAll(t *testing.T) {
	o, _ := newTestOrchestrator(t, func(ctx context.Context, id, prompt string) (*domain.Outcome, error) {
		if id == "b" {
			return nil, domain.ErrNetwork(fmt.Errorf("connection refused"))
		}
		return outcomeFor(id, "ok"), nil
	}, "a", "b", "never")

	o.QueryOne(context.Background(), "a", "p")
	o.QueryOne(context.Background(), "b", "p")

	o.ClearAll()
	o.ClearAll()

	snapshot := o.Snapshot()
	if len(snapshot) != 3 {
		t.Fatalf("Snapshot() len = %d, want 3", len(snapshot))
	}
	for _, s := range snapshot {
		if s.Status != domain.StatusIdle || s.Outcome != nil || s.Error != "" {
			t.Errorf("%s = %+v, want idle", s.Endpoint.ID, s.QueryState)
		}
	}
}

func TestOrchestrator_ClearAll_DoesNotCancelPending(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	o, _ := newTestOrchestrator(t, func(ctx context.Context, id, prompt string) (*domain.Outcome, error) {
		close(entered)
		<-release
		return outcomeFor(id, "late"), nil
	}, "X")

	done := make(chan struct{})
	go func() {
		defer close(done)
		o.QueryOne(context.Background(), "X", "p")
	}()
	waitFor(t, entered, "call to start")

	o.ClearAll()
	if state, _ := o.State("X"); state.Status != domain.StatusIdle {
		t.Fatalf("after ClearAll = %s, want idle", state.Status)
	}

	close(release)
	waitFor(t, done, "query to settle")

	state, _ := o.State("X")
	if state.Status != domain.StatusSucceeded || state.Outcome.Content != "late" {
		t.Errorf("after settle = %+v, want the late result written back", state)
	}
}

func TestOrchestrator_LastWriteWins(t *testing.T) {
	firstEntered := make(chan struct{})
	secondEntered := make(chan struct{})
	releaseFirst := make(chan struct{})
	releaseSecond := make(chan struct{})

	o, _ := newTestOrchestrator(t, func(ctx context.Context, id, prompt string) (*domain.Outcome, error) {
		switch prompt {
		case "first":
			close(firstEntered)
			<-releaseFirst
		case "second":
			close(secondEntered)
			<-releaseSecond
		}
		return outcomeFor(id, prompt), nil
	}, "X")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		o.QueryOne(context.Background(), "X", "first")
	}()
	waitFor(t, firstEntered, "first call")
	go func() {
		defer wg.Done()
		o.QueryOne(context.Background(), "X", "second")
	}()
	waitFor(t, secondEntered, "second call")

	// The second call's response arrives first.
	close(releaseSecond)
	for {
		if state, _ := o.State("X"); state.Status == domain.StatusSucceeded {
			break
		}
		time.Sleep(time.Millisecond)
	}
	close(releaseFirst)
	wg.Wait()

	state, _ := o.State("X")
	if state.Status != domain.StatusSucceeded || state.Outcome.Content != "first" {
		t.Errorf("final state = %+v, want the later-arriving (first) response", state)
	}
}

func TestOrchestrator_DetachesCallerCancellation(t *testing.T) {
	o, _ := newTestOrchestrator(t, func(ctx context.Context, id, prompt string) (*domain.Outcome, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return outcomeFor(id, "ok"), nil
	}, "X")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	state, err := o.QueryOne(ctx, "X", "p")
	if err != nil {
		t.Fatalf("QueryOne() error = %v", err)
	}
	if state.Status != domain.StatusSucceeded {
		t.Errorf("state = %+v, want succeeded despite cancelled caller", state)
	}
}

func TestOrchestrator_Observer(t *testing.T) {
	var mu sync.Mutex
	var seen []domain.Status

	stub := &stubCompleter{fn: func(ctx context.Context, id, prompt string) (*domain.Outcome, error) {
		return outcomeFor(id, "ok"), nil
	}}
	o := New(newRegistry(t, "X"), stub, WithLogger(quietLogger()),
		WithObserver(func(id string, state domain.QueryState) {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, state.Status)
		}))

	o.QueryOne(context.Background(), "X", "p")
	o.ClearAll()

	want := []domain.Status{domain.StatusPending, domain.StatusSucceeded, domain.StatusIdle}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != len(want) {
		t.Fatalf("transitions = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("transition[%d] = %s, want %s", i, seen[i], want[i])
		}
	}
}

func TestOrchestrator_ObserverOrderMatchesSlot(t *testing.T) {
	var (
		mu      sync.Mutex
		seen    []domain.Status
		o       *Orchestrator
		started = make(chan struct{})
		cleared = make(chan struct{})
	)

	stub := &stubCompleter{fn: func(ctx context.Context, id, prompt string) (*domain.Outcome, error) {
		return outcomeFor(id, "ok"), nil
	}}
	o = New(newRegistry(t, "X"), stub, WithLogger(quietLogger()),
		WithObserver(func(id string, state domain.QueryState) {
			mu.Lock()
			seen = append(seen, state.Status)
			mu.Unlock()

			if state.Status != domain.StatusSucceeded {
				return
			}
			// Reset concurrently while this notification is still being delivered.
			go func() {
				close(started)
				o.ClearAll()
				close(cleared)
			}()
			<-started
			time.Sleep(20 * time.Millisecond)
		}))

	o.QueryOne(context.Background(), "X", "p")
	waitFor(t, cleared, "ClearAll")

	slot, _ := o.State("X")
	if slot.Status != domain.StatusIdle {
		t.Fatalf("slot = %s, want idle", slot.Status)
	}

	want := []domain.Status{domain.StatusPending, domain.StatusSucceeded, domain.StatusIdle}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != len(want) {
		t.Fatalf("transitions = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("transition[%d] = %s, want %s", i, seen[i], want[i])
		}
	}
	if last := seen[len(seen)-1]; last != slot.Status {
		t.Errorf("last observed = %s, slot = %s", last, slot.Status)
	}
}

func TestOrchestrator_NilOutcomeIsFailure(t *testing.T) {
	o, _ := newTestOrchestrator(t, func(ctx context.Context, id, prompt string) (*domain.Outcome, error) {
		return nil, nil
	}, "X")

	state, _ := o.QueryOne(context.Background(), "X", "p")
	if state.Status != domain.StatusFailed {
		t.Errorf("state = %+v, want failed", state)
	}
}

func TestOrchestrator_StartAll_PendingOnReturn(t *testing.T) {
	release := make(chan struct{})
	o, _ := newTestOrchestrator(t, func(ctx context.Context, id, prompt string) (*domain.Outcome, error) {
		<-release
		return outcomeFor(id, prompt), nil
	}, "a", "b")

	done := o.StartAll(context.Background(), "hi")

	for _, s := range o.Snapshot() {
		if s.Status != domain.StatusPending {
			t.Errorf("%s: status = %s, want pending", s.Endpoint.ID, s.Status)
		}
	}
	if !o.Busy() {
		t.Error("Busy() = false while round in flight")
	}

	close(release)
	select {
	case results := <-done:
		if len(results) != 2 || results[0].Endpoint.ID != "a" || results[1].Endpoint.ID != "b" {
			t.Fatalf("results = %+v", results)
		}
		for _, r := range results {
			if r.Status != domain.StatusSucceeded {
				t.Errorf("%s: status = %s, want succeeded", r.Endpoint.ID, r.Status)
			}
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for round")
	}
	if o.Busy() {
		t.Error("Busy() = true after round settled")
	}
}
