// Package llm talks to the language models behind extraction layers A and B.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"unicode/utf8"

	"github.com/pbaille/govpulse/internal/config"
	"github.com/pbaille/govpulse/internal/domain"
)

// Provider sends a prompt to a model and returns its raw text answer
type Provider interface {
	Call(ctx context.Context, prompt string) (string, error)
	Name() string
}

// New builds the provider configured for a layer
func New(lc config.LayerConfig) (Provider, error) {
	switch lc.Provider {
	case "anthropic":
		return NewAnthropic(apiKey(lc, "ANTHROPIC_API_KEY"), lc)
	case "openai":
		return NewOpenAI(apiKey(lc, "OPENAI_API_KEY"), lc)
	case "static":
		return &Static{Response: lc.Static}, nil
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", lc.Provider)
	}
}

func apiKey(lc config.LayerConfig, fallbackEnv string) string {
	env := lc.APIKeyEnv
	if env == "" {
		env = fallbackEnv
	}
	return os.Getenv(env)
}

// statusError classifies a non-200 reply. Throttling and server errors are
// retryable; a 429 that survives every retry surfaces as rate limit
// exhaustion.
func statusError(provider string, status int, body []byte) error {
	err := fmt.Errorf("%s api error (status %d): %s", provider, status, truncate(string(body), 512))
	switch {
	case status == http.StatusTooManyRequests:
		return domain.Retryable(fmt.Errorf("%w: %w", domain.ErrRateLimitExhausted, err))
	case status >= 500:
		return domain.Retryable(err)
	}
	return err
}

// truncate cuts s to at most n bytes without splitting a rune
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

// Static returns a fixed response. It backs offline runs and tests.
type Static struct {
	Response string
	Err      error
}

func (s *Static) Name() string { return "static" }

func (s *Static) Call(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.Err != nil {
		return "", s.Err
	}
	if s.Response == "" {
		return "", errors.New("static provider has no response configured")
	}
	return s.Response, nil
}
