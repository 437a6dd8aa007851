package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tjfontaine/polyglot-llm-tester/internal/domain"
	"github.com/tjfontaine/polyglot-llm-tester/internal/orchestrator"
	"github.com/tjfontaine/polyglot-llm-tester/internal/registry"
	"github.com/tjfontaine/polyglot-llm-tester/internal/tokens"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

var (
	// ErrPromptRequired rejects blank prompts on the orchestrator routes.
	ErrPromptRequired = errors.New("prompt is required")
	// ErrBodyTooLarge rejects request bodies over maxBodyBytes.
	ErrBodyTooLarge = errors.New("request body too large")
)

// Handlers serves the model catalog, single completions and the orchestrator.
type Handlers struct {
	registry     *registry.Registry
	completer    orchestrator.Completer
	orchestrator *orchestrator.Orchestrator
	estimator    *tokens.Estimator
	logger       *slog.Logger
}

func NewHandlers(reg *registry.Registry, completer orchestrator.Completer, orch *orchestrator.Orchestrator, estimator *tokens.Estimator, logger *slog.Logger) *Handlers {
	if estimator == nil {
		estimator = tokens.NewEstimator()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		registry:     reg,
		completer:    completer,
		orchestrator: orch,
		estimator:    estimator,
		logger:       logger,
	}
}

// Routes registers the API on r.
func (h *Handlers) Routes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/models", h.handleModels)
		r.Get("/chat", h.handleModels)
		r.Post("/chat", h.handleChat)

		r.Get("/state", h.handleState)
		r.Post("/query", h.handleQueryAll)
		// Endpoint ids contain slashes, so the id is the whole remaining path.
		r.Post("/query/*", h.handleQueryOne)
		r.Post("/clear", h.handleClear)
	})
}

type modelsResponse struct {
	Models []domain.Endpoint `json:"models"`
}

type chatRequest struct {
	ModelID string `json:"modelId"`
	Prompt  string `json:"prompt"`
}

type chatResponse struct {
	Model               domain.Endpoint `json:"model"`
	Response            string          `json:"response"`
	ResponseTime        int64           `json:"responseTime"`
	Usage               *domain.Usage   `json:"usage,omitempty"`
	RawModel            string          `json:"rawModel"`
	FinishReason        string          `json:"finishReason,omitempty"`
	PromptTokenEstimate int             `json:"promptTokenEstimate"`
}

type promptRequest struct {
	Prompt string `json:"prompt"`
}

type stateResponse struct {
	Busy      bool                         `json:"busy"`
	Endpoints []orchestrator.EndpointState `json:"endpoints"`
}

type queryResponse struct {
	PromptTokenEstimate int                          `json:"prompt_token_estimate"`
	Results             []orchestrator.EndpointState `json:"results"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handlers) handleModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, modelsResponse{Models: h.registry.List()})
}

// handleChat performs one stateless completion. Unlike the orchestrator
// routes, the prompt is forwarded as is, even when empty.
func (h *Handlers) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, decodeStatus(err), err)
		return
	}
	AddLogField(r.Context(), "endpoint", req.ModelID)

	endpoint, err := h.registry.Resolve(req.ModelID)
	if err != nil {
		h.writeAPIError(w, r, err)
		return
	}

	outcome, err := h.completer.Complete(r.Context(), endpoint.ID, req.Prompt)
	if err != nil {
		h.writeAPIError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{
		Model:               endpoint,
		Response:            outcome.Content,
		ResponseTime:        outcome.LatencyMs,
		Usage:               outcome.Usage,
		RawModel:            outcome.ResolvedModelID,
		FinishReason:        outcome.FinishReason,
		PromptTokenEstimate: h.estimate(r.Context(), endpoint.ID, req.Prompt),
	})
}

func (h *Handlers) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.state())
}

// handleQueryAll runs a query round. With ?async=true it responds 202 as soon
// as every endpoint is Pending; progress is then visible via /api/state.
func (h *Handlers) handleQueryAll(w http.ResponseWriter, r *http.Request) {
	prompt, ok := h.readPrompt(w, r)
	if !ok {
		return
	}
	estimate := h.estimate(r.Context(), "", prompt)

	done := h.orchestrator.StartAll(r.Context(), prompt)
	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		writeJSON(w, http.StatusAccepted, queryResponse{
			PromptTokenEstimate: estimate,
			Results:             h.orchestrator.Snapshot(),
		})
		return
	}

	writeJSON(w, http.StatusOK, queryResponse{
		PromptTokenEstimate: estimate,
		Results:             <-done,
	})
}

func (h *Handlers) handleQueryOne(w http.ResponseWriter, r *http.Request) {
	id, err := url.PathUnescape(chi.URLParam(r, "*"))
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	AddLogField(r.Context(), "endpoint", id)

	endpoint, err := h.registry.Resolve(id)
	if err != nil {
		h.writeError(w, r, http.StatusNotFound, err)
		return
	}

	prompt, ok := h.readPrompt(w, r)
	if !ok {
		return
	}

	state, err := h.orchestrator.QueryOne(r.Context(), endpoint.ID, prompt)
	if err != nil {
		h.writeAPIError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, queryResponse{
		PromptTokenEstimate: h.estimate(r.Context(), endpoint.ID, prompt),
		Results:             []orchestrator.EndpointState{{Endpoint: endpoint, QueryState: state}},
	})
}

func (h *Handlers) handleClear(w http.ResponseWriter, r *http.Request) {
	h.orchestrator.ClearAll()
	writeJSON(w, http.StatusOK, h.state())
}

func (h *Handlers) state() stateResponse {
	return stateResponse{
		Busy:      h.orchestrator.Busy(),
		Endpoints: h.orchestrator.Snapshot(),
	}
}

// readPrompt decodes {"prompt": ...} and rejects blank prompts.
func (h *Handlers) readPrompt(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req promptRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, decodeStatus(err), err)
		return "", false
	}
	if strings.TrimSpace(req.Prompt) == "" {
		h.writeError(w, r, http.StatusBadRequest, ErrPromptRequired)
		return "", false
	}
	return req.Prompt, true
}

func (h *Handlers) estimate(ctx context.Context, endpointID, prompt string) int {
	n, err := h.estimator.Estimate(endpointID, prompt)
	if err != nil {
		h.logger.WarnContext(ctx, "token estimate failed", slog.String("error", err.Error()))
		return 0
	}
	return n
}

// writeAPIError maps err to its HTTP status and user-facing message.
func (h *Handlers) writeAPIError(w http.ResponseWriter, r *http.Request, err error) {
	AddError(r.Context(), err)
	status := http.StatusInternalServerError
	if apiErr, ok := domain.AsAPIError(err); ok {
		status = apiErr.HTTPStatusCode()
	}
	writeJSON(w, status, errorResponse{Error: domain.DisplayMessage(err)})
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	AddError(r.Context(), err)
	writeJSON(w, status, errorResponse{Error: domain.DisplayMessage(err)})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return ErrBodyTooLarge
		}
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return errors.New("invalid request body")
	}
	return nil
}

func decodeStatus(err error) int {
	if errors.Is(err, ErrBodyTooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
