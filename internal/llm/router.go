package llm

import "strings"

// Router picks a provider for a model name. Models with an Ollama-style tag
// suffix ("llama3:8b") or an explicit "ollama/" prefix go to the local
// provider; everything else goes to OpenAI.
type Router struct {
	openai Provider
	ollama Provider
}

// NewRouter creates a router over the two provider backends. Either may be
// nil when unconfigured; resolving to a nil provider returns
// ErrProviderNotAvailable.
func NewRouter(openai, ollama Provider) *Router {
	return &Router{openai: openai, ollama: ollama}
}

// Resolve returns the provider for the model and the model name to send,
// with any routing prefix stripped.
func (r *Router) Resolve(model string) (Provider, string, error) {
	if stripped, ok := strings.CutPrefix(model, "ollama/"); ok {
		if r.ollama == nil {
			return nil, "", ErrProviderNotAvailable
		}
		return r.ollama, stripped, nil
	}
	if strings.Contains(model, ":") {
		if r.ollama == nil {
			return nil, "", ErrProviderNotAvailable
		}
		return r.ollama, model, nil
	}
	if r.openai == nil {
		return nil, "", ErrProviderNotAvailable
	}
	return r.openai, model, nil
}
