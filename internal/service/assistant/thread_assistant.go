package assistant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"kaichat/internal/models"

	"github.com/google/uuid"
)

const titleRuneLimit = 60

// CreateThread inserts a new thread for the given user and returns the record.
func (s *Service) CreateThread(ctx context.Context, userID int64, title string) (*models.Thread, error) {
	if userID <= 0 {
		return nil, errors.New("user_id is required")
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = "New Conversation"
	}
	now := time.Now().UTC()
	thread := &models.Thread{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_threads (id, user_id, title, archived, created_at, updated_at) VALUES ($1, $2, $3, FALSE, $4, $5)`,
		thread.ID, userID, title, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create thread: %w", err)
	}
	return thread, nil
}

// EnsureThread returns the thread when it exists and belongs to the user,
// creating it on first use. The title of a new thread is derived from the
// opening message.
func (s *Service) EnsureThread(ctx context.Context, userID int64, threadID, firstMessage string) (*models.Thread, error) {
	if userID <= 0 {
		return nil, errors.New("user_id is required")
	}
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return nil, errors.New("thread_id is required")
	}
	var thread models.Thread
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, archived, created_at, updated_at FROM chat_threads WHERE id = $1`,
		threadID,
	).Scan(&thread.ID, &thread.UserID, &thread.Title, &thread.Archived, &thread.CreatedAt, &thread.UpdatedAt)
	if err == nil {
		if thread.UserID != userID {
			return nil, errors.New("thread not found")
		}
		return &thread, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get thread: %w", err)
	}

	now := time.Now().UTC()
	thread = models.Thread{
		ID:        threadID,
		UserID:    userID,
		Title:     titleFromMessage(firstMessage),
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO chat_threads (id, user_id, title, archived, created_at, updated_at) VALUES ($1, $2, $3, FALSE, $4, $5)`,
		thread.ID, userID, thread.Title, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create thread: %w", err)
	}
	return &thread, nil
}

func titleFromMessage(message string) string {
	title := strings.Join(strings.Fields(message), " ")
	if title == "" {
		return "New Conversation"
	}
	runes := []rune(title)
	if len(runes) > titleRuneLimit {
		title = string(runes[:titleRuneLimit]) + "…"
	}
	return title
}

// ListThreads returns the user's threads ordered by last activity. Archived
// threads are excluded unless includeArchived is set.
func (s *Service) ListThreads(ctx context.Context, userID int64, includeArchived bool) ([]models.Thread, error) {
	query := `SELECT id, user_id, title, archived, created_at, updated_at FROM chat_threads WHERE user_id = $1`
	if !includeArchived {
		query += ` AND archived = FALSE`
	}
	query += ` ORDER BY updated_at DESC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	defer rows.Close()

	var threads []models.Thread
	for rows.Next() {
		var t models.Thread
		if err := rows.Scan(&t.ID, &t.UserID, &t.Title, &t.Archived, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan thread: %w", err)
		}
		threads = append(threads, t)
	}
	return threads, rows.Err()
}

// GetThreadWithMessages returns one thread and its ordered messages.
func (s *Service) GetThreadWithMessages(ctx context.Context, userID int64, threadID string) (*models.Thread, []*models.Message, error) {
	var thread models.Thread
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, archived, created_at, updated_at FROM chat_threads WHERE id = $1 AND user_id = $2`,
		threadID, userID,
	).Scan(&thread.ID, &thread.UserID, &thread.Title, &thread.Archived, &thread.CreatedAt, &thread.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("get thread: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, thread_id, user_id, role, content, metadata, created_at FROM chat_messages WHERE thread_id = $1 ORDER BY created_at ASC, id ASC`,
		threadID,
	)
	if err != nil {
		return &thread, nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		m := new(models.Message)
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.UserID, &m.Role, &m.Content, &m.Metadata, &m.CreatedAt); err != nil {
			return &thread, nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	return &thread, messages, rows.Err()
}

// AppendMessage stores a new message and touches the thread's updated_at.
// The thread must exist and belong to the user.
func (s *Service) AppendMessage(ctx context.Context, userID int64, threadID string, role models.Role, content, metadata string) (*models.Message, error) {
	if userID <= 0 {
		return nil, errors.New("user_id is required")
	}
	if threadID == "" {
		return nil, errors.New("thread_id is required")
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, errors.New("content cannot be empty")
	}
	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM chat_threads WHERE id = $1 AND user_id = $2)`,
		threadID, userID,
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("verify thread: %w", err)
	}
	if !exists {
		return nil, errors.New("thread not found")
	}

	now := time.Now().UTC()
	msg := &models.Message{
		ThreadID:  threadID,
		UserID:    userID,
		Role:      role,
		Content:   content,
		Metadata:  metadata,
		CreatedAt: now,
	}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO chat_messages (thread_id, user_id, role, content, metadata, created_at) VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		threadID, userID, role, content, metadata, now,
	).Scan(&msg.ID)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE chat_threads SET updated_at = $1 WHERE id = $2`, now, threadID); err != nil {
		return nil, fmt.Errorf("touch thread: %w", err)
	}
	return msg, nil
}

// RenameThread sets a thread title for the specified user.
func (s *Service) RenameThread(ctx context.Context, userID int64, threadID, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return errors.New("title cannot be empty")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE chat_threads SET title = $1, updated_at = $2 WHERE id = $3 AND user_id = $4`,
		title, time.Now().UTC(), threadID, userID,
	)
	if err != nil {
		return fmt.Errorf("rename thread: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("thread rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ArchiveThread soft-deletes a thread.
func (s *Service) ArchiveThread(ctx context.Context, userID int64, threadID string, archived bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE chat_threads SET archived = $1, updated_at = $2 WHERE id = $3 AND user_id = $4`,
		archived, time.Now().UTC(), threadID, userID,
	)
	if err != nil {
		return fmt.Errorf("archive thread: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("thread rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteThread hard-deletes a thread; messages cascade.
func (s *Service) DeleteThread(ctx context.Context, userID int64, threadID string) error {
	if threadID == "" {
		return errors.New("invalid thread id")
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM chat_threads WHERE id = $1 AND user_id = $2`, threadID, userID)
	if err != nil {
		return fmt.Errorf("delete thread: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("thread rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
