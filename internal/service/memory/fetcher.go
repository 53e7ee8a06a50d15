package memory

import (
	"context"

	"kaichat/internal/models"

	"go.uber.org/zap"
)

// Embedder turns text into a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Fetcher retrieves the memory context for one chat turn: recent short-term
// rows plus long-term facts similar to the latest user message.
type Fetcher struct {
	store     Store
	embedder  Embedder
	logger    *zap.Logger
	shortCap  int
	longCap   int
	threshold float64
}

func NewFetcher(store Store, embedder Embedder, logger *zap.Logger, shortCap, longCap int, threshold float64) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if shortCap <= 0 {
		shortCap = 10
	}
	if longCap <= 0 {
		longCap = 5
	}
	if threshold <= 0 {
		threshold = 0.7
	}
	return &Fetcher{
		store:     store,
		embedder:  embedder,
		logger:    logger,
		shortCap:  shortCap,
		longCap:   longCap,
		threshold: threshold,
	}
}

// FetchMemories never fails the request: either half degrades to empty on
// error, with the cause logged. Every call recomputes the embedding; there is
// no caching.
func (f *Fetcher) FetchMemories(ctx context.Context, userID int64, threadID, latestUserMessage string) ([]models.ShortTermMemory, []models.ScoredMemory) {
	shortTerm, err := f.store.RecentShortTerm(ctx, userID, threadID, f.shortCap)
	if err != nil {
		f.logger.Warn("short-term memory fetch failed",
			zap.Int64("user_id", userID), zap.String("thread_id", threadID), zap.Error(err))
		shortTerm = nil
	}

	embedding, err := f.embedder.Embed(ctx, latestUserMessage)
	if err != nil {
		f.logger.Warn("query embedding failed", zap.Int64("user_id", userID), zap.Error(err))
		return shortTerm, nil
	}
	longTerm, err := f.store.SearchLongTerm(ctx, userID, embedding, f.threshold, f.longCap)
	if err != nil {
		f.logger.Warn("long-term memory search failed", zap.Int64("user_id", userID), zap.Error(err))
		return shortTerm, nil
	}
	return shortTerm, longTerm
}
