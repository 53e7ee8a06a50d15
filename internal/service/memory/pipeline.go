package memory

import (
	"context"

	"kaichat/internal/config"

	"go.uber.org/zap"
)

// Model is the language-model surface the pipeline needs: completions for
// extraction, embeddings for retrieval and storage.
type Model interface {
	Completer
	Embedder
}

// Pipeline bundles retrieval and capture behind one capability check: a nil
// *Pipeline means memory features are disabled, and the orchestration layer
// skips the whole fetch/extract phase rather than nil-checking each call.
type Pipeline struct {
	fetcher   *Fetcher
	extractor *Extractor
	store     Store
}

// NewPipeline wires the fetcher and extractor from config. Returns nil when
// memory features are disabled.
func NewPipeline(store Store, model Model, cfg config.MemoryConfig, extractionModel string, logger *zap.Logger) *Pipeline {
	if !cfg.Enabled {
		return nil
	}
	return &Pipeline{
		fetcher:   NewFetcher(store, model, logger, cfg.ShortTermLimit, cfg.LongTermLimit, cfg.SimilarityThreshold),
		extractor: NewExtractor(model, model, store, logger, extractionModel, cfg.ShortTermTTL),
		store:     store,
	}
}

// ContextFor fetches memories for the turn and renders them. Empty string
// means no context was found (or retrieval degraded).
func (p *Pipeline) ContextFor(ctx context.Context, userID int64, threadID, latestUserMessage string) string {
	shortTerm, longTerm := p.fetcher.FetchMemories(ctx, userID, threadID, latestUserMessage)
	return BuildContext(shortTerm, longTerm)
}

// CaptureExchange extracts memory facts from the completed exchange and
// persists them, returning what was actually saved.
func (p *Pipeline) CaptureExchange(ctx context.Context, userID int64, threadID, userMessage, assistantMessage string) Extraction {
	ex := p.extractor.Extract(ctx, userMessage, assistantMessage)
	if ex.Empty() {
		return ex
	}
	return p.extractor.Persist(ctx, userID, threadID, ex)
}

// Store exposes the underlying store for the REST surface.
func (p *Pipeline) Store() Store {
	return p.store
}
