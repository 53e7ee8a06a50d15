package chat

import "strings"

// Chunker splits a completed reply into the fragments emitted over SSE. The
// provider call is not token-streamed, so chunking is what makes the UX feel
// incremental; isolating it here means a genuinely streaming provider could
// replace it without touching the framing code.
type Chunker interface {
	Chunks(text string) []string
}

// WordChunker emits one whitespace-delimited word per fragment. Fragments
// carry their leading separator so that concatenating them reproduces the
// original text byte for byte.
type WordChunker struct{}

func (WordChunker) Chunks(text string) []string {
	if text == "" {
		return nil
	}
	words := strings.Split(text, " ")
	chunks := make([]string, len(words))
	for i, w := range words {
		if i == 0 {
			chunks[i] = w
		} else {
			chunks[i] = " " + w
		}
	}
	return chunks
}
