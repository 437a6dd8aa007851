// Package orchestrator fans one prompt out to every registered endpoint and
// tracks each endpoint's query lifecycle independently.
//
// Each endpoint owns exactly one slot holding a domain.QueryState:
//
//	Idle --QueryOne--> Pending --success--> Succeeded
//	                   Pending --failure--> Failed
//	Succeeded|Failed --QueryOne--> Pending
//	any --ClearAll--> Idle
//
// Slots are never removed. Transitions are applied under a mutex that is
// never held across an upstream call, so queries for different endpoints
// never block one another.
//
// There is no cancellation. ClearAll resets the visible state but an
// in-flight query keeps running and writes its result when it settles, so a
// stale result can reappear after a clear. When two queries for the same
// endpoint overlap, the slot reflects whichever settles last.
package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tjfontaine/polyglot-llm-tester/internal/domain"
	"github.com/tjfontaine/polyglot-llm-tester/internal/registry"
)

// Completer performs one completion attempt. *gateway.Gateway satisfies it.
type Completer interface {
	Complete(ctx context.Context, endpointID, prompt string) (*domain.Outcome, error)
}

// EndpointState pairs an endpoint with its current query state.
type EndpointState struct {
	Endpoint domain.Endpoint `json:"endpoint"`
	domain.QueryState
}

// Observer is notified after every slot transition. Calls are serialized and
// arrive in the order the slots were written, so an observer's last event for
// an endpoint always matches that endpoint's slot. Observers may read state,
// but must not call QueryOne, QueryAll, StartAll or ClearAll synchronously.
type Observer func(endpointID string, state domain.QueryState)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMaxConcurrency caps the number of in-flight calls during QueryAll.
// Zero or negative means unlimited.
func WithMaxConcurrency(n int) Option {
	return func(o *Orchestrator) {
		o.maxConcurrency = n
	}
}

// WithObserver registers a transition observer.
func WithObserver(fn Observer) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.observers = append(o.observers, fn)
		}
	}
}

// Orchestrator owns the per-endpoint state mapping.
type Orchestrator struct {
	registry       *registry.Registry
	completer      Completer
	logger         *slog.Logger
	maxConcurrency int
	observers      []Observer

	// notifyMu orders each slot write together with its notifications.
	// It is always acquired before mu.
	notifyMu sync.Mutex

	mu     sync.Mutex
	states map[string]domain.QueryState
}

// New creates an orchestrator with every registered endpoint Idle.
func New(reg *registry.Registry, completer Completer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry:  reg,
		completer: completer,
		logger:    slog.Default(),
		states:    make(map[string]domain.QueryState, reg.Len()),
	}
	for _, opt := range opts {
		opt(o)
	}
	for _, id := range reg.IDs() {
		o.states[id] = domain.IdleState()
	}
	return o
}

// Endpoints returns the registered endpoints in display order.
func (o *Orchestrator) Endpoints() []domain.Endpoint {
	return o.registry.List()
}

// QueryOne queries a single endpoint. An unregistered id is rejected with an
// invalid_endpoint error before anything is dispatched. Otherwise the slot is
// set to Pending before the call starts, and the state produced by this
// attempt is returned once it settles. Upstream failures are recorded in the
// slot and returned as a Failed state, not as an error.
func (o *Orchestrator) QueryOne(ctx context.Context, endpointID, prompt string) (domain.QueryState, error) {
	if _, err := o.registry.Resolve(endpointID); err != nil {
		return domain.QueryState{}, err
	}

	o.transition(endpointID, domain.PendingState())
	return o.run(ctx, endpointID, prompt), nil
}

// QueryAll queries every endpoint concurrently and returns this round's
// states, in display order, once all of them are terminal. One endpoint's
// failure never delays or alters another's.
func (o *Orchestrator) QueryAll(ctx context.Context, prompt string) []EndpointState {
	return <-o.StartAll(ctx, prompt)
}

// StartAll marks every endpoint Pending and returns immediately. The round's
// results are delivered on the returned channel once every endpoint settles.
func (o *Orchestrator) StartAll(ctx context.Context, prompt string) <-chan []EndpointState {
	endpoints := o.registry.List()
	for _, ep := range endpoints {
		o.transition(ep.ID, domain.PendingState())
	}

	done := make(chan []EndpointState, 1)
	go func() {
		done <- o.round(ctx, endpoints, prompt)
	}()
	return done
}

func (o *Orchestrator) round(ctx context.Context, endpoints []domain.Endpoint, prompt string) []EndpointState {
	round := uuid.NewString()
	start := time.Now()

	results := make([]EndpointState, len(endpoints))
	g := new(errgroup.Group)
	if o.maxConcurrency > 0 {
		g.SetLimit(o.maxConcurrency)
	}
	for i, ep := range endpoints {
		g.Go(func() error {
			results[i] = EndpointState{Endpoint: ep, QueryState: o.run(ctx, ep.ID, prompt)}
			return nil // failures live in the endpoint's slot
		})
	}
	_ = g.Wait()

	settled, failed := 0, 0
	for _, r := range results {
		if r.Status.Terminal() {
			settled++
		}
		if r.Status == domain.StatusFailed {
			failed++
		}
	}
	o.logger.InfoContext(ctx, "query round complete",
		slog.String("round_id", round),
		slog.Int("endpoints", len(endpoints)),
		slog.Int("settled", settled),
		slog.Int("failed", failed),
		slog.Duration("duration", time.Since(start)),
	)

	return results
}

// ClearAll resets every slot to Idle. In-flight queries are not cancelled.
func (o *Orchestrator) ClearAll() {
	ids := o.registry.IDs()

	o.notifyMu.Lock()
	defer o.notifyMu.Unlock()

	o.mu.Lock()
	for _, id := range ids {
		o.states[id] = domain.IdleState()
	}
	o.mu.Unlock()

	for _, id := range ids {
		o.notify(id, domain.IdleState())
	}
}

// State returns the current state of one endpoint.
func (o *Orchestrator) State(endpointID string) (domain.QueryState, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	state, ok := o.states[endpointID]
	return state, ok
}

// Snapshot returns the full state mapping in display order.
func (o *Orchestrator) Snapshot() []EndpointState {
	endpoints := o.registry.List()

	o.mu.Lock()
	defer o.mu.Unlock()

	snapshot := make([]EndpointState, 0, len(endpoints))
	for _, ep := range endpoints {
		snapshot = append(snapshot, EndpointState{Endpoint: ep, QueryState: o.states[ep.ID]})
	}
	return snapshot
}

// Busy reports whether any endpoint is Pending.
func (o *Orchestrator) Busy() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, state := range o.states {
		if state.Status == domain.StatusPending {
			return true
		}
	}
	return false
}

// run performs the upstream call for an endpoint already marked Pending and
// writes the terminal state. The call is detached from ctx cancellation.
func (o *Orchestrator) run(ctx context.Context, endpointID, prompt string) domain.QueryState {
	outcome, err := o.completer.Complete(context.WithoutCancel(ctx), endpointID, prompt)

	var state domain.QueryState
	switch {
	case err != nil:
		state = domain.FailedState(domain.DisplayMessage(err))
	case outcome == nil:
		state = domain.FailedState(domain.DefaultUpstreamMessage)
	default:
		state = domain.SucceededState(outcome)
	}

	o.transition(endpointID, state)
	o.logger.DebugContext(ctx, "endpoint settled",
		slog.String("endpoint", endpointID),
		slog.String("status", string(state.Status)),
	)
	return state
}

func (o *Orchestrator) transition(endpointID string, state domain.QueryState) {
	o.notifyMu.Lock()
	defer o.notifyMu.Unlock()

	o.mu.Lock()
	o.states[endpointID] = state
	o.mu.Unlock()

	o.notify(endpointID, state)
}

func (o *Orchestrator) notify(endpointID string, state domain.QueryState) {
	for _, fn := range o.observers {
		fn(endpointID, state)
	}
}
