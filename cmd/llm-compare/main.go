// Command llm-compare sends one prompt to every configured model and prints
// the answers side by side as they arrive.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"golang.org/x/term"

	"github.com/tjfontaine/polyglot-llm-tester/internal/config"
	"github.com/tjfontaine/polyglot-llm-tester/internal/domain"
	"github.com/tjfontaine/polyglot-llm-tester/internal/orchestrator"
	"github.com/tjfontaine/polyglot-llm-tester/internal/runtime"
	"github.com/tjfontaine/polyglot-llm-tester/internal/telemetry"
)

const defaultPrompt = "What is love?"

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath = flag.String("config", "", "path to config file")
		prompt     = flag.String("prompt", defaultPrompt, "prompt to send; trailing arguments override it")
		model      = flag.String("model", "", "query a single endpoint id instead of all")
		asJSON     = flag.Bool("json", false, "print results as JSON")
		width      = flag.Int("width", 100, "card width")
	)
	flag.Parse()
	if flag.NArg() > 0 {
		*prompt = strings.Join(flag.Args(), " ")
	}
	if strings.TrimSpace(*prompt) == "" {
		fmt.Fprintln(os.Stderr, "prompt is required")
		return 2
	}

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}

	// Logs go to stderr so stdout stays clean for results.
	logLevel := cfg.Log.Level
	if logLevel == "info" {
		logLevel = "warn"
	}
	logger := telemetry.NewLogger(os.Stderr, logLevel, "text")
	slog.SetDefault(logger)

	tty := term.IsTerminal(int(os.Stdout.Fd()))
	out := newRenderer(os.Stdout, tty && !*asJSON, *width)

	// app is set before any query runs, so the observer can resolve ids.
	var app *runtime.App
	observer := func(id string, state domain.QueryState) {
		if *asJSON {
			return
		}
		if ep, err := app.Registry.Resolve(id); err == nil {
			out.progress(ep, state)
		}
	}

	app, err = runtime.New(cfg, runtime.WithLogger(logger), runtime.WithObserver(observer))
	if err != nil {
		fmt.Fprintln(os.Stderr, domain.DisplayMessage(err))
		return 1
	}

	ctx := context.Background()
	estimate, _ := app.Estimator.Estimate(*model, *prompt)

	var results []orchestrator.EndpointState
	if *model != "" {
		ep, err := app.Registry.Resolve(*model)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %s\n", domain.DisplayMessage(err), *model)
			return 2
		}
		if !*asJSON {
			out.header(*prompt, estimate, 1)
		}
		state, err := app.Orchestrator.QueryOne(ctx, ep.ID, *prompt)
		if err != nil {
			fmt.Fprintln(os.Stderr, domain.DisplayMessage(err))
			return 1
		}
		results = []orchestrator.EndpointState{{Endpoint: ep, QueryState: state}}
	} else {
		if !*asJSON {
			out.header(*prompt, estimate, app.Registry.Len())
		}
		results = app.Orchestrator.QueryAll(ctx, *prompt)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(map[string]any{
			"prompt":                *prompt,
			"prompt_token_estimate": estimate,
			"results":               results,
		}); err != nil {
			fmt.Fprintf(os.Stderr, "encode results: %v\n", err)
			return 1
		}
	} else {
		out.results(results)
	}

	for _, r := range results {
		if r.Status == domain.StatusSucceeded {
			return 0
		}
	}
	return 1
}
