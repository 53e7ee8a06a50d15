package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"kaichat/internal/models"

	"github.com/pgvector/pgvector-go"
)

// Store is the persistence surface of the memory system. The chat pipeline
// uses the recency select, the similarity search, and the inserts; the REST
// surface uses the rest.
type Store interface {
	RecentShortTerm(ctx context.Context, userID int64, threadID string, limit int) ([]models.ShortTermMemory, error)
	SearchLongTerm(ctx context.Context, userID int64, embedding []float32, threshold float64, limit int) ([]models.ScoredMemory, error)
	InsertShortTerm(ctx context.Context, entry *models.ShortTermMemory) error
	UpsertLongTerm(ctx context.Context, entry *models.LongTermMemory) error

	ListShortTerm(ctx context.Context, userID int64, threadID string) ([]models.ShortTermMemory, error)
	ListLongTerm(ctx context.Context, userID int64) ([]models.LongTermMemory, error)
	DeleteShortTerm(ctx context.Context, userID, id int64) error
	DeleteLongTerm(ctx context.Context, userID, id int64) error
}

// PostgresStore implements Store over the shared database handle.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// RecentShortTerm returns the newest unexpired entries for the thread,
// newest first. No rows is not an error.
func (s *PostgresStore) RecentShortTerm(ctx context.Context, userID int64, threadID string, limit int) ([]models.ShortTermMemory, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, thread_id, message, sender, tags, auto_captured, created_at, expires_at
		 FROM short_term_memories
		 WHERE user_id = $1 AND thread_id = $2 AND expires_at > $3
		 ORDER BY created_at DESC
		 LIMIT $4`,
		userID, threadID, time.Now().UTC(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select short-term memories: %w", err)
	}
	defer rows.Close()
	return scanShortTerm(rows)
}

// SearchLongTerm runs a cosine-similarity search over the user's long-term
// entries. Rows below the threshold are excluded by the query itself.
func (s *PostgresStore) SearchLongTerm(ctx context.Context, userID int64, embedding []float32, threshold float64, limit int) ([]models.ScoredMemory, error) {
	if len(embedding) == 0 {
		return nil, errors.New("embedding is required")
	}
	if limit <= 0 {
		limit = 5
	}
	query := pgvector.NewVector(embedding)
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, category, key, value, display, importance, auto_captured, created_at, updated_at,
		        1 - (embedding <=> $2) AS similarity
		 FROM long_term_memories
		 WHERE user_id = $1 AND embedding IS NOT NULL AND 1 - (embedding <=> $2) >= $3
		 ORDER BY embedding <=> $2
		 LIMIT $4`,
		userID, query, threshold, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("search long-term memories: %w", err)
	}
	defer rows.Close()

	var results []models.ScoredMemory
	for rows.Next() {
		var m models.ScoredMemory
		if err := rows.Scan(&m.ID, &m.UserID, &m.Category, &m.Key, &m.Value, &m.Display,
			&m.Importance, &m.AutoCaptured, &m.CreatedAt, &m.UpdatedAt, &m.Similarity); err != nil {
			return nil, fmt.Errorf("scan scored memory: %w", err)
		}
		results = append(results, m)
	}
	return results, rows.Err()
}

// InsertShortTerm stores one short-term entry.
func (s *PostgresStore) InsertShortTerm(ctx context.Context, entry *models.ShortTermMemory) error {
	if entry == nil {
		return errors.New("entry is required")
	}
	if strings.TrimSpace(entry.Message) == "" {
		return errors.New("message is required")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.ExpiresAt.IsZero() {
		entry.ExpiresAt = entry.CreatedAt.Add(24 * time.Hour)
	}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO short_term_memories (user_id, thread_id, message, sender, tags, auto_captured, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		entry.UserID, entry.ThreadID, entry.Message, entry.Sender, entry.Tags,
		entry.AutoCaptured, entry.CreatedAt, entry.ExpiresAt,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("insert short-term memory: %w", err)
	}
	return nil
}

// UpsertLongTerm stores one long-term fact, replacing an existing row with the
// same (user, key).
func (s *PostgresStore) UpsertLongTerm(ctx context.Context, entry *models.LongTermMemory) error {
	if entry == nil {
		return errors.New("entry is required")
	}
	if strings.TrimSpace(entry.Key) == "" {
		return errors.New("key is required")
	}
	now := time.Now().UTC()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	entry.UpdatedAt = now
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO long_term_memories (user_id, category, key, value, display, importance, embedding, auto_captured, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (user_id, key) DO UPDATE
		 SET category = EXCLUDED.category, value = EXCLUDED.value, display = EXCLUDED.display,
		     importance = EXCLUDED.importance, embedding = EXCLUDED.embedding, updated_at = EXCLUDED.updated_at
		 RETURNING id`,
		entry.UserID, entry.Category, entry.Key, entry.Value, entry.Display,
		entry.Importance, entry.Embedding, entry.AutoCaptured, entry.CreatedAt, entry.UpdatedAt,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("upsert long-term memory: %w", err)
	}
	return nil
}

// ListShortTerm returns unexpired short-term entries, optionally scoped to a
// thread, newest first.
func (s *PostgresStore) ListShortTerm(ctx context.Context, userID int64, threadID string) ([]models.ShortTermMemory, error) {
	query := `SELECT id, user_id, thread_id, message, sender, tags, auto_captured, created_at, expires_at
	          FROM short_term_memories WHERE user_id = $1 AND expires_at > $2`
	args := []interface{}{userID, time.Now().UTC()}
	if threadID != "" {
		query += ` AND thread_id = $3`
		args = append(args, threadID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list short-term memories: %w", err)
	}
	defer rows.Close()
	return scanShortTerm(rows)
}

// ListLongTerm returns all long-term facts for the user, most important first.
func (s *PostgresStore) ListLongTerm(ctx context.Context, userID int64) ([]models.LongTermMemory, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, category, key, value, display, importance, auto_captured, created_at, updated_at
		 FROM long_term_memories WHERE user_id = $1
		 ORDER BY importance DESC, updated_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list long-term memories: %w", err)
	}
	defer rows.Close()

	var entries []models.LongTermMemory
	for rows.Next() {
		var m models.LongTermMemory
		if err := rows.Scan(&m.ID, &m.UserID, &m.Category, &m.Key, &m.Value, &m.Display,
			&m.Importance, &m.AutoCaptured, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan long-term memory: %w", err)
		}
		entries = append(entries, m)
	}
	return entries, rows.Err()
}

// DeleteShortTerm removes one short-term entry owned by the user.
func (s *PostgresStore) DeleteShortTerm(ctx context.Context, userID, id int64) error {
	return s.deleteOwned(ctx, `DELETE FROM short_term_memories WHERE id = $1 AND user_id = $2`, id, userID)
}

// DeleteLongTerm removes one long-term entry owned by the user.
func (s *PostgresStore) DeleteLongTerm(ctx context.Context, userID, id int64) error {
	return s.deleteOwned(ctx, `DELETE FROM long_term_memories WHERE id = $1 AND user_id = $2`, id, userID)
}

func (s *PostgresStore) deleteOwned(ctx context.Context, query string, id, userID int64) error {
	res, err := s.db.ExecContext(ctx, query, id, userID)
	if err != nil {
		return fmt.Errorf("delete memory: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func scanShortTerm(rows *sql.Rows) ([]models.ShortTermMemory, error) {
	var entries []models.ShortTermMemory
	for rows.Next() {
		var m models.ShortTermMemory
		if err := rows.Scan(&m.ID, &m.UserID, &m.ThreadID, &m.Message, &m.Sender, &m.Tags,
			&m.AutoCaptured, &m.CreatedAt, &m.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scan short-term memory: %w", err)
		}
		entries = append(entries, m)
	}
	return entries, rows.Err()
}
