// Package registry holds the fixed catalog of queryable endpoints.
//
// A Registry is built once at process start and is never mutated afterwards,
// so it is safe to share between goroutines without locking. Resolve is the
// only validation gate in front of the completion gateway: an id that does
// not resolve must never reach the upstream API.
package registry

import (
	"errors"
	"fmt"

	"github.com/tjfontaine/polyglot-llm-tester/internal/domain"
)

// ErrEndpointNotFound is returned (wrapped in a *domain.APIError) by Resolve
// for ids that are not registered.
var ErrEndpointNotFound = errors.New("endpoint not found")

// Registry is an ordered, immutable set of endpoints.
type Registry struct {
	endpoints map[string]domain.Endpoint
	order     []string // display order
}

// New creates a registry from endpoints, preserving their order.
func New(endpoints ...domain.Endpoint) (*Registry, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("registry requires at least one endpoint")
	}

	r := &Registry{
		endpoints: make(map[string]domain.Endpoint, len(endpoints)),
		order:     make([]string, 0, len(endpoints)),
	}
	for i, ep := range endpoints {
		if ep.ID == "" {
			return nil, fmt.Errorf("endpoint %d: id is required", i)
		}
		if _, exists := r.endpoints[ep.ID]; exists {
			return nil, fmt.Errorf("endpoint %q registered twice", ep.ID)
		}
		if ep.DisplayName == "" {
			ep.DisplayName = ep.ID
		}
		r.endpoints[ep.ID] = ep
		r.order = append(r.order, ep.ID)
	}
	return r, nil
}

// FromConfig builds a registry from configured endpoints, falling back to
// the built-in catalog when none are configured.
func FromConfig(endpoints []domain.Endpoint) (*Registry, error) {
	if len(endpoints) == 0 {
		return Default(), nil
	}
	return New(endpoints...)
}

// Default returns the built-in catalog.
func Default() *Registry {
	r, err := New(DefaultEndpoints()...)
	if err != nil {
		panic(err)
	}
	return r
}

// DefaultEndpoints lists the endpoints shipped with the tester.
func DefaultEndpoints() []domain.Endpoint {
	return []domain.Endpoint{
		{
			ID:          "anthropic/claude-sonnet-4.5",
			DisplayName: "Claude Sonnet 4.5",
			Provider:    "Anthropic",
			AccentColor: "#D97706",
		},
		{
			ID:          "anthropic/claude-opus-4.5",
			DisplayName: "Claude Opus 4.5",
			Provider:    "Anthropic",
			AccentColor: "#7C3AED",
		},
		{
			ID:          "google/gemini-3-pro-preview",
			DisplayName: "Gemini 3 Pro Preview",
			Provider:    "Google",
			AccentColor: "#2563EB",
		},
		{
			ID:          "openai/gpt-5.1",
			DisplayName: "GPT-5.1",
			Provider:    "OpenAI",
			AccentColor: "#10B981",
		},
	}
}

// List returns all endpoints in display order.
func (r *Registry) List() []domain.Endpoint {
	result := make([]domain.Endpoint, 0, len(r.order))
	for _, id := range r.order {
		result = append(result, r.endpoints[id])
	}
	return result
}

// IDs returns endpoint ids in display order.
func (r *Registry) IDs() []string {
	ids := make([]string, len(r.order))
	copy(ids, r.order)
	return ids
}

// Len returns the number of registered endpoints.
func (r *Registry) Len() int {
	return len(r.order)
}

// Resolve looks up an endpoint by id.
func (r *Registry) Resolve(id string) (domain.Endpoint, error) {
	ep, ok := r.endpoints[id]
	if !ok {
		return domain.Endpoint{}, domain.ErrInvalidEndpoint(id).WithCause(ErrEndpointNotFound)
	}
	return ep, nil
}
