package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/tjfontaine/polyglot-llm-tester/internal/domain"
	"github.com/tjfontaine/polyglot-llm-tester/internal/orchestrator"
)

// renderer writes progress lines and result cards. Progress may be reported
// from several goroutines at once.
type renderer struct {
	out      io.Writer
	mu       sync.Mutex
	markdown *glamour.TermRenderer
	width    int

	dimStyle   lipgloss.Style
	errorStyle lipgloss.Style
	boldStyle  lipgloss.Style
}

func newRenderer(out io.Writer, markdown bool, width int) *renderer {
	r := &renderer{
		out:   out,
		width: width,
		dimStyle: lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#666666", Dark: "#888888"}),
		errorStyle: lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#D00000", Dark: "#FF5555"}),
		boldStyle: lipgloss.NewStyle().Bold(true),
	}
	if markdown {
		// Fall back to plain text if the renderer cannot be built.
		r.markdown, _ = glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(width-4),
		)
	}
	return r
}

func accent(ep domain.Endpoint) lipgloss.Style {
	style := lipgloss.NewStyle().Bold(true)
	if ep.AccentColor != "" {
		style = style.Foreground(lipgloss.Color(ep.AccentColor))
	}
	return style
}

func (r *renderer) header(prompt string, estimate, endpoints int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, "%s %s\n", r.boldStyle.Render("Prompt:"), prompt)
	fmt.Fprintln(r.out, r.dimStyle.Render(fmt.Sprintf("~%d prompt tokens, %d endpoints", estimate, endpoints)))
	fmt.Fprintln(r.out)
}

// progress prints one line per transition.
func (r *renderer) progress(ep domain.Endpoint, state domain.QueryState) {
	var line string
	switch state.Status {
	case domain.StatusPending:
		line = r.dimStyle.Render("… waiting")
	case domain.StatusSucceeded:
		line = fmt.Sprintf("✓ %dms", state.Outcome.LatencyMs)
	case domain.StatusFailed:
		line = r.errorStyle.Render("✗ " + state.Error)
	default:
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, "%s %s\n", accent(ep).Render(ep.DisplayName), line)
}

// card renders one endpoint's settled state as a bordered block.
func (r *renderer) card(es orchestrator.EndpointState) string {
	ep := es.Endpoint
	title := accent(ep).Render(ep.DisplayName)
	if ep.Provider != "" {
		title += r.dimStyle.Render(" · " + ep.Provider)
	}

	var meta, body string
	switch es.Status {
	case domain.StatusSucceeded:
		o := es.Outcome
		parts := []string{fmt.Sprintf("%dms", o.LatencyMs)}
		if o.Usage != nil {
			parts = append(parts, fmt.Sprintf("%d tokens (%d in / %d out)",
				o.Usage.TotalTokens, o.Usage.PromptTokens, o.Usage.CompletionTokens))
		}
		if o.ResolvedModelID != "" && o.ResolvedModelID != ep.ID {
			parts = append(parts, "served by "+o.ResolvedModelID)
		}
		meta = r.dimStyle.Render(strings.Join(parts, " · "))
		body = r.renderContent(o.Content)
	case domain.StatusFailed:
		body = r.errorStyle.Render("Error: " + es.Error)
	case domain.StatusPending:
		body = r.dimStyle.Render("Loading...")
	default:
		body = r.dimStyle.Render("No response yet")
	}

	lines := []string{title}
	if meta != "" {
		lines = append(lines, meta)
	}
	lines = append(lines, "", body)

	border := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		Padding(0, 1).
		Width(r.width - 2)
	if ep.AccentColor != "" {
		border = border.BorderForeground(lipgloss.Color(ep.AccentColor))
	}
	return border.Render(strings.Join(lines, "\n"))
}

func (r *renderer) renderContent(content string) string {
	if r.markdown == nil {
		return content
	}
	rendered, err := r.markdown.Render(content)
	if err != nil {
		return content
	}
	return strings.Trim(rendered, "\n")
}

func (r *renderer) results(results []orchestrator.EndpointState) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fmt.Fprintln(r.out)
	for _, es := range results {
		fmt.Fprintln(r.out, r.card(es))
	}
	if s := summarize(results); s != "" {
		fmt.Fprintln(r.out, r.dimStyle.Render(s))
	}
}

// summarize reports the fastest successful endpoint and the failure count.
func summarize(results []orchestrator.EndpointState) string {
	var ok []orchestrator.EndpointState
	failed := 0
	for _, es := range results {
		switch es.Status {
		case domain.StatusSucceeded:
			ok = append(ok, es)
		case domain.StatusFailed:
			failed++
		}
	}
	if len(ok) == 0 && failed == 0 {
		return ""
	}

	parts := []string{fmt.Sprintf("%d succeeded, %d failed", len(ok), failed)}
	if len(ok) > 0 {
		sort.SliceStable(ok, func(i, j int) bool {
			return ok[i].Outcome.LatencyMs < ok[j].Outcome.LatencyMs
		})
		fastest := ok[0]
		parts = append(parts, fmt.Sprintf("fastest: %s (%dms)", fastest.Endpoint.DisplayName, fastest.Outcome.LatencyMs))
	}
	return strings.Join(parts, " · ")
}
