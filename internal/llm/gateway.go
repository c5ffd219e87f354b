// Package llm provides the gateway to the generative model: plain text
// generation, JSON-structured generation, and embeddings, with retry,
// rate pacing, and bounded concurrency. The wire format is the
// OpenAI-compatible chat/embeddings API, which every supported provider
// (including local Ollama) speaks.
package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/huytu0702/graphtog/internal/jsonx"
	"github.com/huytu0702/graphtog/internal/status"
)

// Client is the narrow interface the engine depends on. The HTTP gateway
// implements it; tests substitute fakes.
type Client interface {
	Generate(ctx context.Context, prompt string, temperature float64) (string, error)
	GenerateJSON(ctx context.Context, prompt string, temperature float64, out any) error
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Config holds gateway configuration.
type Config struct {
	BaseURL           string
	Model             string
	EmbeddingModel    string
	APIKey            string
	MaxRetries        int           // total attempts, minimum 3
	RateLimitInterval time.Duration // minimum interval between request starts
	MaxConcurrent     int64         // in-flight request bound
	RequestTimeout    time.Duration
}

// DefaultConfig returns sensible defaults for a local endpoint.
func DefaultConfig() Config {
	return Config{
		BaseURL:           "http://localhost:11434/v1",
		Model:             "llama3.2",
		EmbeddingModel:    "nomic-embed-text",
		MaxRetries:        3,
		RateLimitInterval: 100 * time.Millisecond,
		MaxConcurrent:     8,
		RequestTimeout:    180 * time.Second,
	}
}

// Gateway is a stateless facade over the model endpoint. Pacing is
// serialized process-wide; requests themselves run concurrently up to
// MaxConcurrent.
type Gateway struct {
	config Config
	client *http.Client
	logger *zap.Logger
	sem    *semaphore.Weighted

	paceMu   sync.Mutex
	lastCall time.Time
}

// New creates a gateway.
func New(cfg Config, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxRetries < 3 {
		cfg.MaxRetries = 3
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 8
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 180 * time.Second
	}
	return &Gateway{
		config: cfg,
		client: &http.Client{
			Timeout: cfg.RequestTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: logger.Named("llm"),
		sem:    semaphore.NewWeighted(cfg.MaxConcurrent),
	}
}

// Generate produces a text completion for the prompt.
func (g *Gateway) Generate(ctx context.Context, prompt string, temperature float64) (string, error) {
	body := map[string]any{
		"model": g.config.Model,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
		"temperature": temperature,
	}

	raw, err := g.call(ctx, "/chat/completions", body)
	if err != nil {
		return "", err
	}

	content, err := extractChatContent(raw)
	if err != nil {
		return "", status.Wrap(status.KindLLMParse, "no content in model response", err)
	}
	return stripThinkingTags(content), nil
}

// GenerateJSON produces a structured response and decodes it into out.
// The model output is canonicalized (fences and control characters removed)
// before parsing; a parse failure triggers a single retry with a stricter
// instruction before surfacing LLM_PARSE.
func (g *Gateway) GenerateJSON(ctx context.Context, prompt string, temperature float64, out any) error {
	text, err := g.Generate(ctx, prompt, temperature)
	if err != nil {
		return err
	}

	if err := decodeJSONPayload(text, out); err == nil {
		return nil
	}

	g.logger.Debug("structured response did not parse, retrying with strict instruction")
	strict := prompt + "\n\nReturn ONLY the JSON value. No prose, no code fences, no explanation."
	text, err = g.Generate(ctx, strict, temperature)
	if err != nil {
		return err
	}
	if err := decodeJSONPayload(text, out); err != nil {
		return status.Wrap(status.KindLLMParse, "model output is not the required JSON shape", err)
	}
	return nil
}

// Embed returns the embedding vector for text.
func (g *Gateway) Embed(ctx context.Context, text string) ([]float64, error) {
	body := map[string]any{
		"model": g.config.EmbeddingModel,
		"input": text,
	}

	raw, err := g.call(ctx, "/embeddings", body)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Data []struct {
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
	}
	if err := jsonx.Unmarshal(raw, &resp); err != nil || len(resp.Data) == 0 {
		return nil, status.E(status.KindLLMParse, "embedding response missing data")
	}
	return resp.Data[0].Embedding, nil
}

// call performs one paced, bounded, retried POST to the endpoint.
func (g *Gateway) call(ctx context.Context, path string, body map[string]any) ([]byte, error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, status.Wrap(status.KindCancelled, "llm slot acquisition", err)
	}
	defer g.sem.Release(1)

	payload, err := jsonx.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error
	backoff := 500 * time.Millisecond
	for attempt := 0; attempt < g.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, status.Wrap(status.KindCancelled, "llm retry", ctx.Err())
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		if err := g.pace(ctx); err != nil {
			return nil, err
		}

		raw, err := g.post(ctx, path, payload)
		if err == nil {
			return raw, nil
		}
		lastErr = err
		if !status.IsRetryable(err) {
			return nil, err
		}
		g.logger.Warn("transient model failure, backing off",
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	return nil, lastErr
}

// pace enforces the process-wide minimum inter-call interval.
func (g *Gateway) pace(ctx context.Context) error {
	if g.config.RateLimitInterval <= 0 {
		return nil
	}
	g.paceMu.Lock()
	wait := g.config.RateLimitInterval - time.Since(g.lastCall)
	if wait > 0 {
		g.paceMu.Unlock()
		select {
		case <-ctx.Done():
			return status.Wrap(status.KindCancelled, "llm pacing", ctx.Err())
		case <-time.After(wait):
		}
		g.paceMu.Lock()
	}
	g.lastCall = time.Now()
	g.paceMu.Unlock()
	return nil
}

func (g *Gateway) post(ctx context.Context, path string, payload []byte) ([]byte, error) {
	url := strings.TrimSuffix(g.config.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.config.APIKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, status.Wrap(status.KindCancelled, "llm request", err)
		}
		return nil, status.Wrap(status.KindLLMTransient, "llm transport", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, status.Wrap(status.KindLLMTransient, "read llm response", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return raw, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, status.Ef(status.KindLLMTransient, "upstream status %d: %s", resp.StatusCode, truncate(string(raw), 200))
	default:
		return nil, status.Ef(status.KindInvalidInput, "upstream rejected request (status %d): %s", resp.StatusCode, truncate(string(raw), 200))
	}
}

func extractChatContent(raw []byte) (string, error) {
	var resp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := jsonx.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
