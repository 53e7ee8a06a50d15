package memory

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"kaichat/internal/models"

	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"
)

// Completer runs a one-shot chat completion.
type Completer interface {
	Complete(ctx context.Context, model, systemPrompt, userMessage string) (string, error)
}

// ErrMalformedExtraction marks model output that could not be decoded into
// the extraction schema. Callers treat it as "nothing captured".
var ErrMalformedExtraction = errors.New("malformed extraction output")

// Extraction is the structured result of one extraction call.
type Extraction struct {
	ShortTerm []ShortTermFact `json:"short_term"`
	LongTerm  []LongTermFact  `json:"long_term"`
}

type ShortTermFact struct {
	Display string   `json:"display"`
	Tags    []string `json:"tags"`
}

type LongTermFact struct {
	Category   string `json:"category"`
	Key        string `json:"key"`
	Value      string `json:"value"`
	Display    string `json:"display"`
	Importance int    `json:"importance"`
}

// Empty reports whether nothing was captured.
func (e Extraction) Empty() bool {
	return len(e.ShortTerm) == 0 && len(e.LongTerm) == 0
}

const extractionPrompt = `You analyze one exchange between a user and an assistant and extract facts worth remembering.

Return ONLY a JSON object with exactly two arrays:
{
  "short_term": [{"display": "...", "tags": ["..."]}],
  "long_term": [{"category": "...", "key": "...", "value": "...", "display": "...", "importance": 1}]
}

short_term: conversational context useful for the next few turns of this conversation.
long_term: durable facts about the user (preferences, people, dates, goals). key is a lowercase snake_case slug; importance is 1 (trivial) to 5 (essential).
Return empty arrays when there is nothing worth remembering. No prose, no markdown.`

// DecodeExtraction is the strict decode step: it either yields a validated
// Extraction or ErrMalformedExtraction, never a partial guess.
func DecodeExtraction(raw string) (Extraction, error) {
	raw = stripCodeFence(strings.TrimSpace(raw))
	if raw == "" {
		return Extraction{}, ErrMalformedExtraction
	}
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.DisallowUnknownFields()
	var ex Extraction
	if err := dec.Decode(&ex); err != nil {
		return Extraction{}, ErrMalformedExtraction
	}

	shortTerm := ex.ShortTerm[:0]
	for _, f := range ex.ShortTerm {
		f.Display = strings.TrimSpace(f.Display)
		if f.Display == "" {
			continue
		}
		shortTerm = append(shortTerm, f)
	}
	ex.ShortTerm = shortTerm

	longTerm := ex.LongTerm[:0]
	for _, f := range ex.LongTerm {
		f.Category = strings.TrimSpace(f.Category)
		f.Key = strings.TrimSpace(f.Key)
		f.Value = strings.TrimSpace(f.Value)
		f.Display = strings.TrimSpace(f.Display)
		if f.Category == "" || f.Key == "" || f.Value == "" || f.Display == "" {
			continue
		}
		f.Importance = clampImportance(f.Importance)
		longTerm = append(longTerm, f)
	}
	ex.LongTerm = longTerm
	return ex, nil
}

func clampImportance(v int) int {
	if v < 1 {
		return 1
	}
	if v > 5 {
		return 5
	}
	return v
}

func stripCodeFence(raw string) string {
	if !strings.HasPrefix(raw, "```") {
		return raw
	}
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(strings.TrimSpace(raw), "```")
	return strings.TrimSpace(raw)
}

// SlugKey derives a long-term memory key from display text: lower-cased,
// non-alphanumerics stripped, spaces collapsed to underscores. Used by the
// direct-entry path, which bypasses the extractor.
func SlugKey(display string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToLower(strings.TrimSpace(display)) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		case r == ' ' || r == '_' || r == '-':
			if !lastUnderscore && b.Len() > 0 {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}

// Extractor asks the model to propose memory facts from a completed exchange
// and persists them best-effort.
type Extractor struct {
	completer Completer
	embedder  Embedder
	store     Store
	logger    *zap.Logger
	model     string
	shortTTL  time.Duration
}

func NewExtractor(completer Completer, embedder Embedder, store Store, logger *zap.Logger, model string, shortTTL time.Duration) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if shortTTL <= 0 {
		shortTTL = 24 * time.Hour
	}
	return &Extractor{
		completer: completer,
		embedder:  embedder,
		store:     store,
		logger:    logger,
		model:     model,
		shortTTL:  shortTTL,
	}
}

// Extract issues one completion call and decodes the result. Any failure —
// provider error or malformed output — yields an empty extraction.
func (e *Extractor) Extract(ctx context.Context, userMessage, assistantMessage string) Extraction {
	exchange := "User: " + userMessage + "\nAssistant: " + assistantMessage
	raw, err := e.completer.Complete(ctx, e.model, extractionPrompt, exchange)
	if err != nil {
		e.logger.Warn("memory extraction call failed", zap.Error(err))
		return Extraction{}
	}
	ex, err := DecodeExtraction(raw)
	if err != nil {
		e.logger.Warn("memory extraction output malformed", zap.String("output", raw))
		return Extraction{}
	}
	return ex
}

// Persist writes the extraction best-effort: a failed row is logged and does
// not block the rest. Long-term facts are embedded one call per entry,
// sequentially, before storage. The returned Extraction contains only the
// rows that were actually written.
func (e *Extractor) Persist(ctx context.Context, userID int64, threadID string, ex Extraction) Extraction {
	var saved Extraction
	now := time.Now().UTC()

	for _, fact := range ex.ShortTerm {
		entry := &models.ShortTermMemory{
			UserID:       userID,
			ThreadID:     threadID,
			Message:      fact.Display,
			Sender:       "assistant",
			Tags:         strings.Join(fact.Tags, ","),
			AutoCaptured: true,
			CreatedAt:    now,
			ExpiresAt:    now.Add(e.shortTTL),
		}
		if err := e.store.InsertShortTerm(ctx, entry); err != nil {
			e.logger.Warn("short-term memory save failed", zap.Int64("user_id", userID), zap.Error(err))
			continue
		}
		saved.ShortTerm = append(saved.ShortTerm, fact)
	}

	for _, fact := range ex.LongTerm {
		embedding, err := e.embedder.Embed(ctx, fact.Value)
		if err != nil {
			e.logger.Warn("long-term memory embedding failed",
				zap.Int64("user_id", userID), zap.String("key", fact.Key), zap.Error(err))
			continue
		}
		entry := &models.LongTermMemory{
			UserID:       userID,
			Category:     fact.Category,
			Key:          fact.Key,
			Value:        fact.Value,
			Display:      fact.Display,
			Importance:   fact.Importance,
			Embedding:    pgvector.NewVector(embedding),
			AutoCaptured: true,
		}
		if err := e.store.UpsertLongTerm(ctx, entry); err != nil {
			e.logger.Warn("long-term memory save failed",
				zap.Int64("user_id", userID), zap.String("key", fact.Key), zap.Error(err))
			continue
		}
		saved.LongTerm = append(saved.LongTerm, fact)
	}
	return saved
}
