package chat

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Completer runs a one-shot chat completion.
type Completer interface {
	Complete(ctx context.Context, model, systemPrompt, userMessage string) (string, error)
}

// DefaultChunkDelay is the pause between emitted fragments.
const DefaultChunkDelay = 30 * time.Millisecond

// Streamer obtains the full reply in one completion call and re-emits it as
// chunked fragments with a small inter-chunk delay.
type Streamer struct {
	completer Completer
	chunker   Chunker
	delay     time.Duration
	logger    *zap.Logger
}

func NewStreamer(completer Completer, chunker Chunker, delay time.Duration, logger *zap.Logger) *Streamer {
	if chunker == nil {
		chunker = WordChunker{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Streamer{completer: completer, chunker: chunker, delay: delay, logger: logger}
}

// Stream calls the model once, then passes each fragment to emit in order.
// It returns the full reply text. A completion failure is returned to the
// caller before anything is emitted; an emit failure (client gone) aborts
// the remaining fragments.
func (s *Streamer) Stream(ctx context.Context, model, systemPrompt, userMessage string, emit func(string) error) (string, error) {
	reply, err := s.completer.Complete(ctx, model, systemPrompt, userMessage)
	if err != nil {
		return "", err
	}
	for i, chunk := range s.chunker.Chunks(reply) {
		if i > 0 && s.delay > 0 {
			select {
			case <-ctx.Done():
				return reply, ctx.Err()
			case <-time.After(s.delay):
			}
		}
		if err := emit(chunk); err != nil {
			return reply, err
		}
	}
	return reply, nil
}
