package chunking

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkEmptyInput(t *testing.T) {
	c := New(DefaultConfig())

	chunks, err := c.Chunk("")
	require.NoError(t, err)
	assert.Empty(t, chunks)

	chunks, err = c.Chunk("   \n\n  \n")
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestChunkInvalidUTF8(t *testing.T) {
	c := New(DefaultConfig())

	_, err := c.Chunk(string([]byte{0xff, 0xfe, 'a'}))
	require.Error(t, err)

	var chErr *ChunkingError
	assert.ErrorAs(t, err, &chErr)
}

func TestChunkSmallDocumentSingleChunk(t *testing.T) {
	c := New(DefaultConfig())

	text := "Alice works at Acme Corp.\n\nAcme Corp is headquartered in Paris."
	chunks, err := c.Chunk(text)
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	assert.Equal(t, 0, chunks[0].StartChar)
	assert.Equal(t, len(text), chunks[0].EndChar)
	assert.Equal(t, text, chunks[0].Text)
}

func TestChunkOffsetsLocateTextInSource(t *testing.T) {
	c := New(Config{TargetTokens: 20, OverlapTokens: 5, MinTokens: 5})

	var sb strings.Builder
	for i := 0; i < 12; i++ {
		fmt.Fprintf(&sb, "Paragraph %d has a handful of words in it for packing.\n\n", i)
	}
	text := sb.String()

	chunks, err := c.Chunk(text)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	for _, ch := range chunks {
		assert.Equal(t, text[ch.StartChar:ch.EndChar], ch.Text)
	}
}

func TestChunkOverlapRangesOverlap(t *testing.T) {
	c := New(Config{TargetTokens: 20, OverlapTokens: 8, MinTokens: 5})

	var sb strings.Builder
	for i := 0; i < 20; i++ {
		fmt.Fprintf(&sb, "Sentence number %d carries several words of content.\n\n", i)
	}

	chunks, err := c.Chunk(sb.String())
	require.NoError(t, err)
	require.Greater(t, len(chunks), 2)

	for i := 1; i < len(chunks); i++ {
		assert.Less(t, chunks[i].StartChar, chunks[i-1].EndChar,
			"chunk %d should start inside chunk %d", i, i-1)
	}
}

func TestChunkCoverageSpansDocument(t *testing.T) {
	c := New(Config{TargetTokens: 15, OverlapTokens: 3, MinTokens: 4})

	var sb strings.Builder
	for i := 0; i < 15; i++ {
		fmt.Fprintf(&sb, "Block %d with some more filler words here.\n\n", i)
	}
	text := sb.String()

	chunks, err := c.Chunk(text)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	// Ignoring overlap, consecutive chunks must leave no gap.
	assert.Equal(t, 0, chunks[0].StartChar)
	assert.Equal(t, len(text), chunks[len(chunks)-1].EndChar)
	for i := 1; i < len(chunks); i++ {
		assert.LessOrEqual(t, chunks[i].StartChar, chunks[i-1].EndChar,
			"gap between chunk %d and %d", i-1, i)
	}
}

func TestChunkOversizedParagraphSplitsOnSentences(t *testing.T) {
	c := New(Config{TargetTokens: 10, OverlapTokens: 0, MinTokens: 2})

	// One paragraph, many sentences, no blank lines.
	var sb strings.Builder
	for i := 0; i < 10; i++ {
		fmt.Fprintf(&sb, "Sentence %d has exactly six words total. ", i)
	}
	text := sb.String()

	chunks, err := c.Chunk(text)
	require.NoError(t, err)
	assert.Greater(t, len(chunks), 1)

	for _, ch := range chunks {
		assert.Equal(t, text[ch.StartChar:ch.EndChar], ch.Text)
	}
}

func TestChunkOversizedSentenceSplitsOnWhitespace(t *testing.T) {
	c := New(Config{TargetTokens: 8, OverlapTokens: 0, MinTokens: 2})

	// A single long "sentence" with no terminators.
	words := make([]string, 50)
	for i := range words {
		words[i] = fmt.Sprintf("w%d", i)
	}
	text := strings.Join(words, " ")

	chunks, err := c.Chunk(text)
	require.NoError(t, err)
	assert.Greater(t, len(chunks), 3)
}

func TestChunkRespectsMinTokens(t *testing.T) {
	cfg := Config{TargetTokens: 50, OverlapTokens: 10, MinTokens: 20}
	c := New(cfg)

	var sb strings.Builder
	for i := 0; i < 30; i++ {
		fmt.Fprintf(&sb, "Paragraph %d one two three four five six seven.\n\n", i)
	}

	chunks, err := c.Chunk(sb.String())
	require.NoError(t, err)

	// Every chunk except possibly the last meets the minimum.
	for i, ch := range chunks[:len(chunks)-1] {
		assert.GreaterOrEqual(t, countTokens(ch.Text), cfg.MinTokens, "chunk %d", i)
	}
}
