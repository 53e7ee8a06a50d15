package models

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn in a thread. Rows are append-only; they disappear only
// when their thread is hard-deleted.
type Message struct {
	ID        int64     `json:"id"`
	ThreadID  string    `json:"thread_id"`
	UserID    int64     `json:"user_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Metadata  string    `json:"metadata,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
