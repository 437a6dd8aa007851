// Package tokens estimates prompt sizes before a query is dispatched.
//
// Estimates use tiktoken encodings. OpenAI endpoints get their own encoding;
// every other provider is approximated with cl100k_base, which is close
// enough for comparing prompt sizes side by side. Actual usage always comes
// from the upstream response.
package tokens

import (
	"fmt"
	"strings"
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// Estimator counts prompt tokens. It is safe for concurrent use.
type Estimator struct {
	// codecCache caches tokenizer codecs by encoding name
	codecCache map[tokenizer.Encoding]tokenizer.Codec
	cacheMu    sync.RWMutex
}

// NewEstimator creates a new estimator.
func NewEstimator() *Estimator {
	return &Estimator{
		codecCache: make(map[tokenizer.Encoding]tokenizer.Codec),
	}
}

// Estimate returns the approximate token count of prompt for endpointID.
func (e *Estimator) Estimate(endpointID, prompt string) (int, error) {
	if prompt == "" {
		return 0, nil
	}

	codec, err := e.getCodec(encodingFor(endpointID))
	if err != nil {
		return 0, err
	}

	ids, _, err := codec.Encode(prompt)
	if err != nil {
		return 0, fmt.Errorf("encode prompt: %w", err)
	}
	return len(ids), nil
}

func (e *Estimator) getCodec(encoding tokenizer.Encoding) (tokenizer.Codec, error) {
	e.cacheMu.RLock()
	if cached, ok := e.codecCache[encoding]; ok {
		e.cacheMu.RUnlock()
		return cached, nil
	}
	e.cacheMu.RUnlock()

	codec, err := tokenizer.Get(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to get tokenizer encoding: %w", err)
	}

	e.cacheMu.Lock()
	e.codecCache[encoding] = codec
	e.cacheMu.Unlock()

	return codec, nil
}

// encodingFor maps an aggregation API model id ("provider/model") to an encoding.
//
// Encoding reference:
// - O200kBase: GPT-5, GPT-4.1, GPT-4o, O1, O3, O4-mini and newer models
// - Cl100kBase: GPT-4, GPT-3.5-turbo and the approximation for other providers
func encodingFor(endpointID string) tokenizer.Encoding {
	provider, model, found := strings.Cut(strings.ToLower(endpointID), "/")
	if !found || provider != "openai" {
		return tokenizer.Cl100kBase
	}

	switch {
	case strings.HasPrefix(model, "gpt-5"),
		strings.HasPrefix(model, "gpt-4.1"),
		strings.HasPrefix(model, "gpt-4o"),
		strings.HasPrefix(model, "o1"),
		strings.HasPrefix(model, "o3"),
		strings.HasPrefix(model, "o4"):
		return tokenizer.O200kBase
	default:
		return tokenizer.Cl100kBase
	}
}
