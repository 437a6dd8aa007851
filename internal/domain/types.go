// Package domain holds the types shared by the registry, the completion
// gateway and the query orchestrator.
package domain

// Endpoint describes one selectable model target. The ID doubles as the
// upstream model name sent to the aggregation API.
type Endpoint struct {
	ID          string `json:"id" koanf:"id"`
	DisplayName string `json:"name" koanf:"name"`
	Provider    string `json:"provider" koanf:"provider"`
	// AccentColor is a presentation hint (hex color), not used by the core.
	AccentColor string `json:"color" koanf:"color"`
}

// Usage holds the token counters reported by the upstream API.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Outcome is the normalized result of one successful completion attempt.
type Outcome struct {
	EndpointID string `json:"endpoint_id"`
	Content    string `json:"content"`

	// LatencyMs is measured from dispatch to full response receipt.
	LatencyMs int64 `json:"latency_ms"`

	// Usage is nil when the upstream omitted usage.
	Usage *Usage `json:"usage,omitempty"`

	// ResolvedModelID is the model the upstream reports having used. It may
	// differ from EndpointID because of aliasing or fallback routing.
	ResolvedModelID string `json:"resolved_model_id"`
	FinishReason    string `json:"finish_reason,omitempty"`
}

// Status is the lifecycle position of one endpoint's query slot.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transition happens without a new query.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// QueryState is exactly one of Idle, Pending, Succeeded(Outcome) or
// Failed(message). Build it through the constructors below.
type QueryState struct {
	Status  Status   `json:"status"`
	Outcome *Outcome `json:"outcome,omitempty"`
	Error   string   `json:"error,omitempty"`
}

func IdleState() QueryState { return QueryState{Status: StatusIdle} }

func PendingState() QueryState { return QueryState{Status: StatusPending} }

func SucceededState(outcome *Outcome) QueryState {
	return QueryState{Status: StatusSucceeded, Outcome: outcome}
}

func FailedState(message string) QueryState {
	return QueryState{Status: StatusFailed, Error: message}
}
