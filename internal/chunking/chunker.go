// Package chunking splits Markdown documents into overlapping, token-bounded
// chunks with byte offsets into the source. Overlapping ranges are intentional:
// entity mentions near chunk boundaries must appear in both neighbors for recall.
package chunking

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Chunk is a bounded span of source text.
type Chunk struct {
	Text      string `json:"text"`
	StartChar int    `json:"start_char"`
	EndChar   int    `json:"end_char"`
}

// Config configures the chunker. Token counts are approximated by
// whitespace-delimited words, which tracks model tokenizers closely enough
// for sizing prompts.
type Config struct {
	TargetTokens  int `json:"target_tokens"`
	OverlapTokens int `json:"overlap_tokens"`
	MinTokens     int `json:"min_tokens"`
}

// DefaultConfig returns the standard chunk sizing.
func DefaultConfig() Config {
	return Config{
		TargetTokens:  1000,
		OverlapTokens: 500,
		MinTokens:     100,
	}
}

// ChunkingError reports unusable input.
type ChunkingError struct {
	Reason string
}

func (e *ChunkingError) Error() string {
	return fmt.Sprintf("chunking: %s", e.Reason)
}

// Chunker packs paragraphs into token-bounded chunks.
type Chunker struct {
	config Config
}

// New creates a chunker, falling back to defaults for zero-valued options.
func New(cfg Config) *Chunker {
	def := DefaultConfig()
	if cfg.TargetTokens <= 0 {
		cfg.TargetTokens = def.TargetTokens
	}
	if cfg.OverlapTokens < 0 {
		cfg.OverlapTokens = def.OverlapTokens
	}
	if cfg.OverlapTokens >= cfg.TargetTokens {
		cfg.OverlapTokens = cfg.TargetTokens / 2
	}
	if cfg.MinTokens <= 0 {
		cfg.MinTokens = def.MinTokens
	}
	if cfg.MinTokens > cfg.TargetTokens {
		cfg.MinTokens = cfg.TargetTokens
	}
	return &Chunker{config: cfg}
}

// segment is a piece of source text no larger than the target token budget.
// Segments are contiguous: each one ends where the next begins, so chunks
// assembled from them cover every byte of the document.
type segment struct {
	start  int
	end    int
	tokens int
}

// Chunk splits text into chunks. Empty input yields an empty slice.
func (c *Chunker) Chunk(text string) ([]Chunk, error) {
	if !utf8.ValidString(text) {
		return nil, &ChunkingError{Reason: "input is not valid UTF-8"}
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	segments := c.segmentize(text)
	if len(segments) == 0 {
		return nil, nil
	}

	chunks := make([]Chunk, 0, len(segments))

	// Greedy packing with overlap carry-over. chunkStart tracks where the
	// current chunk begins, which may be inside the previously emitted chunk.
	chunkStart := segments[0].start
	chunkTokens := 0
	chunkEnd := segments[0].start

	emit := func(end int) {
		chunks = append(chunks, Chunk{
			Text:      text[chunkStart:end],
			StartChar: chunkStart,
			EndChar:   end,
		})
	}

	for _, seg := range segments {
		if chunkTokens > 0 && chunkTokens+seg.tokens > c.config.TargetTokens {
			if chunkTokens >= c.config.MinTokens {
				emit(chunkEnd)
				// Seed the next chunk with a suffix of the emitted one.
				chunkStart = c.overlapStart(text, chunkStart, chunkEnd)
				chunkTokens = countTokens(text[chunkStart:chunkEnd])
			}
			// Below min_tokens the chunk keeps growing past target.
		}
		chunkEnd = seg.end
		chunkTokens += seg.tokens
	}

	if chunkTokens > 0 && chunkEnd > chunkStart {
		emit(chunkEnd)
	}

	return chunks, nil
}

// segmentize splits the document into paragraph segments, recursively breaking
// oversized paragraphs on sentence boundaries and oversized sentences on
// whitespace. Each segment spans through the separator that follows it.
func (c *Chunker) segmentize(text string) []segment {
	var segments []segment

	paraStart := 0
	pendingStart := -1 // leading separator bytes waiting for their segment
	for paraStart < len(text) {
		paraEnd := nextParagraphBreak(text, paraStart)
		segEnd := skipSeparators(text, paraEnd)

		segStart := paraStart
		if pendingStart >= 0 {
			segStart = pendingStart
		}

		tokens := countTokens(text[paraStart:paraEnd])
		if tokens == 0 {
			// Pure-separator span; attach to a neighboring segment so that
			// segment coverage of the document stays gapless.
			if n := len(segments); n > 0 {
				segments[n-1].end = segEnd
			} else if pendingStart < 0 {
				pendingStart = paraStart
			}
		} else if tokens <= c.config.TargetTokens {
			segments = append(segments, segment{start: segStart, end: segEnd, tokens: tokens})
			pendingStart = -1
		} else {
			segments = append(segments, c.splitOversized(text, segStart, segEnd)...)
			pendingStart = -1
		}
		paraStart = segEnd
	}

	return segments
}

// splitOversized breaks [start, end) on sentence boundaries, falling back to
// whitespace splits for sentences that alone exceed the target.
func (c *Chunker) splitOversized(text string, start, end int) []segment {
	var segments []segment

	sentStart := start
	for sentStart < end {
		sentEnd := nextSentenceBreak(text, sentStart, end)
		tokens := countTokens(text[sentStart:sentEnd])

		switch {
		case tokens == 0:
			if n := len(segments); n > 0 {
				segments[n-1].end = sentEnd
			} else {
				// Leading separators: fold into the first real segment later
				// by starting it here.
				sentEnd = skipSeparators(text, sentEnd)
			}
		case tokens <= c.config.TargetTokens:
			segments = append(segments, segment{start: sentStart, end: sentEnd, tokens: tokens})
		default:
			segments = append(segments, c.splitOnWhitespace(text, sentStart, sentEnd)...)
		}
		sentStart = sentEnd
	}

	return segments
}

// splitOnWhitespace cuts [start, end) into runs of at most target tokens.
func (c *Chunker) splitOnWhitespace(text string, start, end int) []segment {
	var segments []segment

	runStart := start
	runTokens := 0
	i := start
	for i < end {
		wordEnd := i
		for wordEnd < end && !isSpace(text[wordEnd]) {
			wordEnd++
		}
		if wordEnd > i {
			runTokens++
			if runTokens > c.config.TargetTokens {
				segments = append(segments, segment{start: runStart, end: i, tokens: runTokens - 1})
				runStart = i
				runTokens = 1
			}
		}
		i = wordEnd
		for i < end && isSpace(text[i]) {
			i++
		}
	}
	if runTokens > 0 && end > runStart {
		segments = append(segments, segment{start: runStart, end: end, tokens: runTokens})
	}
	return segments
}

// overlapStart walks back from end so that text[result:end] holds roughly
// OverlapTokens whitespace-delimited words, never crossing chunkStart.
func (c *Chunker) overlapStart(text string, chunkStart, end int) int {
	if c.config.OverlapTokens == 0 {
		return end
	}
	i := end
	tokens := 0
	for i > chunkStart && tokens < c.config.OverlapTokens {
		// Skip trailing whitespace.
		for i > chunkStart && isSpace(text[i-1]) {
			i--
		}
		// Consume one word.
		wordEnd := i
		for i > chunkStart && !isSpace(text[i-1]) {
			i--
		}
		if wordEnd > i {
			tokens++
		}
	}
	return i
}

// nextParagraphBreak finds the end of the paragraph starting at pos: the
// first newline followed by a blank line, or the end of text.
func nextParagraphBreak(text string, pos int) int {
	i := pos
	for i < len(text) {
		if text[i] == '\n' {
			// Look ahead past spaces for a second newline.
			j := i + 1
			for j < len(text) && (text[j] == ' ' || text[j] == '\t' || text[j] == '\r') {
				j++
			}
			if j < len(text) && text[j] == '\n' {
				return i
			}
		}
		i++
	}
	return len(text)
}

// nextSentenceBreak finds the end of the sentence starting at pos within
// [pos, limit): past the first terminator followed by whitespace.
func nextSentenceBreak(text string, pos, limit int) int {
	for i := pos; i < limit; i++ {
		if text[i] == '.' || text[i] == '!' || text[i] == '?' {
			j := i + 1
			for j < limit && (text[j] == '.' || text[j] == '!' || text[j] == '?') {
				j++
			}
			if j >= limit || isSpace(text[j]) {
				// Include trailing whitespace in the sentence span.
				for j < limit && isSpace(text[j]) {
					j++
				}
				return j
			}
		}
	}
	return limit
}

// skipSeparators advances past whitespace runs (paragraph separators).
func skipSeparators(text string, pos int) int {
	for pos < len(text) && isSpace(text[pos]) {
		pos++
	}
	return pos
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

func countTokens(s string) int {
	n := 0
	inWord := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			inWord = false
		} else if !inWord {
			inWord = true
			n++
		}
	}
	return n
}
