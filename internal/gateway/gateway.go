// Package gateway turns one (endpoint, prompt) pair into a single upstream
// completion call and normalizes the result into a domain.Outcome.
package gateway

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/polyglot-llm-tester/internal/api/openrouter"
	"github.com/tjfontaine/polyglot-llm-tester/internal/config"
	"github.com/tjfontaine/polyglot-llm-tester/internal/domain"
	"github.com/tjfontaine/polyglot-llm-tester/internal/registry"
)

// NoResponsePlaceholder is the content reported when the upstream returns no choices.
const NoResponsePlaceholder = "No response"

const tracerName = "github.com/tjfontaine/polyglot-llm-tester/internal/gateway"

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// Gateway issues completions against the aggregation API. It keeps no
// mutable state, so concurrent calls (including for the same endpoint) are
// independent.
type Gateway struct {
	registry *registry.Registry
	client   *openrouter.Client
	logger   *slog.Logger
	tracer   trace.Tracer
}

// New creates a gateway that validates endpoint ids against reg.
func New(reg *registry.Registry, client *openrouter.Client, opts ...Option) *Gateway {
	g := &Gateway{
		registry: reg,
		client:   client,
		logger:   slog.Default(),
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// NewFromConfig builds the upstream client from configuration. A missing
// credential is reported as a configuration error before anything is queried.
func NewFromConfig(cfg config.UpstreamConfig, reg *registry.Registry, opts ...Option) (*Gateway, error) {
	if cfg.APIKey == "" {
		return nil, domain.ErrConfiguration(config.MissingAPIKeyMessage)
	}

	client := openrouter.NewClient(cfg.APIKey,
		openrouter.WithBaseURL(cfg.BaseURL),
		openrouter.WithReferer(cfg.SiteURL),
		openrouter.WithTitle(cfg.Title),
		openrouter.WithHTTPClient(NewHTTPClient(cfg.Timeout)),
	)
	return New(reg, client, opts...), nil
}

// Complete performs exactly one upstream round trip for endpointID. The
// prompt is forwarded as-is; rejecting blank prompts is the caller's job.
// Unregistered ids fail with an invalid_endpoint error and no network call.
func (g *Gateway) Complete(ctx context.Context, endpointID, prompt string) (*domain.Outcome, error) {
	ep, err := g.registry.Resolve(endpointID)
	if err != nil {
		return nil, err
	}

	ctx, span := g.tracer.Start(ctx, "gateway.Complete",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("llm.endpoint", ep.ID),
			attribute.String("llm.provider", ep.Provider),
		))
	defer span.End()

	// time.Now carries a monotonic reading, so Since is immune to wall-clock steps.
	start := time.Now()
	resp, err := g.client.CreateChatCompletion(ctx, openrouter.UserPrompt(ep.ID, prompt))
	latency := time.Since(start)

	if err != nil {
		apiErr, ok := domain.AsAPIError(err)
		if !ok {
			apiErr = domain.ErrNetwork(err)
		}
		apiErr.WithEndpoint(ep.ID)

		observeFailure(ep.ID, apiErr.Type, latency)
		span.RecordError(apiErr)
		span.SetStatus(codes.Error, apiErr.Message)
		g.logger.WarnContext(ctx, "completion failed",
			slog.String("endpoint", ep.ID),
			slog.String("error_type", string(apiErr.Type)),
			slog.Int("status", apiErr.StatusCode),
			slog.String("error", apiErr.Message),
			slog.Duration("latency", latency),
		)
		return nil, apiErr
	}

	outcome := normalize(ep.ID, resp, latency)

	observeSuccess(outcome, latency)
	span.SetAttributes(
		attribute.String("llm.resolved_model", outcome.ResolvedModelID),
		attribute.Int64("llm.latency_ms", outcome.LatencyMs),
	)
	g.logger.DebugContext(ctx, "completion succeeded",
		slog.String("endpoint", ep.ID),
		slog.String("resolved_model", outcome.ResolvedModelID),
		slog.Int64("latency_ms", outcome.LatencyMs),
		slog.Int("response_bytes", len(resp.RawBody)),
	)
	return outcome, nil
}

func normalize(endpointID string, resp *openrouter.ChatCompletionResponse, latency time.Duration) *domain.Outcome {
	outcome := &domain.Outcome{
		EndpointID:      endpointID,
		Content:         NoResponsePlaceholder,
		LatencyMs:       max(latency.Milliseconds(), 0),
		ResolvedModelID: resp.Model,
	}

	if len(resp.Choices) > 0 {
		outcome.Content = resp.Choices[0].Message.Content
		outcome.FinishReason = resp.Choices[0].FinishReason
	}

	if resp.Usage != nil {
		outcome.Usage = &domain.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}

	return outcome
}
