package llm

import (
	"regexp"
	"strings"

	"github.com/huytu0702/graphtog/internal/jsonx"
	"github.com/huytu0702/graphtog/internal/status"
)

var (
	thinkingTags = regexp.MustCompile(`(?s)<think>.*?</think>`)
	codeFence    = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(.*?)```")
)

// stripThinkingTags removes chain-of-thought tags some models emit.
func stripThinkingTags(content string) string {
	return strings.TrimSpace(thinkingTags.ReplaceAllString(content, ""))
}

// Canonicalize prepares raw model output for JSON parsing: unwraps fenced
// code blocks and drops control characters that break decoders.
func Canonicalize(text string) string {
	if m := codeFence.FindStringSubmatch(text); m != nil {
		text = m[1]
	}

	var sb strings.Builder
	sb.Grow(len(text))
	for _, r := range text {
		if r == '\n' || r == '\t' || r >= 32 {
			sb.WriteRune(r)
		}
	}
	return strings.TrimSpace(sb.String())
}

// decodeJSONPayload canonicalizes text, locates the outermost JSON value,
// and decodes it into out. Trailing prose after the JSON value is tolerated.
func decodeJSONPayload(text string, out any) error {
	text = Canonicalize(text)
	if text == "" {
		return status.E(status.KindLLMParse, "empty model output")
	}

	start := strings.IndexAny(text, "[{")
	if start < 0 {
		return status.E(status.KindLLMParse, "no JSON value in model output")
	}
	text = text[start:]

	closer := byte('}')
	if text[0] == '[' {
		closer = ']'
	}

	// Try successively shorter candidates ending at each closer, longest first.
	for i := len(text) - 1; i >= 0; i-- {
		if text[i] != closer {
			continue
		}
		candidate := text[:i+1]
		if !jsonx.Valid([]byte(candidate)) {
			continue
		}
		if err := jsonx.UnmarshalFromString(candidate, out); err == nil {
			return nil
		}
	}
	return status.E(status.KindLLMParse, "model output is not decodable JSON")
}
