package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/huytu0702/graphtog/internal/status"
)

func chatResponse(content string) string {
	return `{"choices":[{"message":{"content":` + quote(content) + `}}]}`
}

func quote(s string) string {
	out := `"`
	for _, r := range s {
		switch r {
		case '"':
			out += `\"`
		case '\n':
			out += `\n`
		default:
			out += string(r)
		}
	}
	return out + `"`
}

func newTestGateway(t *testing.T, handler http.HandlerFunc) (*Gateway, *httptest.Server) {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL
	cfg.RateLimitInterval = 0
	return New(cfg, zaptest.NewLogger(t)), srv
}

func TestGenerateStripsThinkingTags(t *testing.T) {
	g, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(chatResponse("<think>internal chatter</think>The answer is Paris.")))
	})

	out, err := g.Generate(context.Background(), "where?", 0)
	require.NoError(t, err)
	assert.Equal(t, "The answer is Paris.", out)
}

func TestGenerateRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	g, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(chatResponse("ok")))
	})

	out, err := g.Generate(context.Background(), "hi", 0)
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, int32(3), calls.Load())
}

func TestGenerateSurfacesTransientAfterExhaustion(t *testing.T) {
	g, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := g.Generate(context.Background(), "hi", 0)
	require.Error(t, err)
	assert.Equal(t, status.KindLLMTransient, status.KindOf(err))
}

func TestGenerateDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	g, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	})

	_, err := g.Generate(context.Background(), "hi", 0)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGenerateJSONUnwrapsCodeFences(t *testing.T) {
	g, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(chatResponse("```json\n{\"answer\": \"Paris\", \"confidence\": 0.9}\n```")))
	})

	var out struct {
		Answer     string  `json:"answer"`
		Confidence float64 `json:"confidence"`
	}
	require.NoError(t, g.GenerateJSON(context.Background(), "q", 0, &out))
	assert.Equal(t, "Paris", out.Answer)
	assert.InDelta(t, 0.9, out.Confidence, 1e-9)
}

func TestGenerateJSONRetriesOnceWithStrictInstruction(t *testing.T) {
	var calls atomic.Int32
	g, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Write([]byte(chatResponse("no json here at all")))
			return
		}
		w.Write([]byte(chatResponse(`{"ok": true}`)))
	})

	var out struct {
		OK bool `json:"ok"`
	}
	require.NoError(t, g.GenerateJSON(context.Background(), "q", 0, &out))
	assert.True(t, out.OK)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGenerateJSONSurfacesParseKind(t *testing.T) {
	g, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(chatResponse("still not json")))
	})

	var out map[string]any
	err := g.GenerateJSON(context.Background(), "q", 0, &out)
	require.Error(t, err)
	assert.Equal(t, status.KindLLMParse, status.KindOf(err))
}

func TestEmbedReturnsVector(t *testing.T) {
	g, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[{"embedding":[0.1,0.2,0.3]}]}`))
	})

	vec, err := g.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, vec)
}

func TestPacingSpacesCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(chatResponse("ok")))
	}))
	t.Cleanup(srv.Close)

	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL
	cfg.RateLimitInterval = 30 * time.Millisecond
	g := New(cfg, zaptest.NewLogger(t))

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := g.Generate(context.Background(), "hi", 0)
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestCanonicalizeDropsControlCharacters(t *testing.T) {
	in := "{\"a\":\x01\"b\"}"
	assert.Equal(t, `{"a":"b"}`, Canonicalize(in))
}
