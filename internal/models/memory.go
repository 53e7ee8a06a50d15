package models

import (
	"time"

	"github.com/pgvector/pgvector-go"
)

// ShortTermMemory is ephemeral conversational context scoped to one thread.
// Entries carry an expiry; the sweeper and the recency query both honor it.
type ShortTermMemory struct {
	ID           int64     `json:"id"`
	UserID       int64     `json:"user_id"`
	ThreadID     string    `json:"thread_id"`
	Message      string    `json:"message"`
	Sender       string    `json:"sender"`
	Tags         string    `json:"tags,omitempty"`
	AutoCaptured bool      `json:"auto_captured"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// LongTermMemory is a durable fact about a user, not tied to any thread.
// Embedding dimensionality is fixed by the migration (1536); a mismatched
// vector is rejected at insert time.
type LongTermMemory struct {
	ID           int64           `json:"id"`
	UserID       int64           `json:"user_id"`
	Category     string          `json:"category"`
	Key          string          `json:"key"`
	Value        string          `json:"value"`
	Display      string          `json:"display"`
	Importance   int             `json:"importance"`
	Embedding    pgvector.Vector `json:"-"`
	AutoCaptured bool            `json:"auto_captured"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// ScoredMemory pairs a long-term entry with its similarity to a query vector.
type ScoredMemory struct {
	LongTermMemory
	Similarity float64 `json:"similarity"`
}
