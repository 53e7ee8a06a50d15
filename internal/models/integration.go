package models

import "time"

// Integration stores a user's credential for a third-party provider.
// APIKey is persisted AES-GCM encrypted and never returned by list endpoints.
type Integration struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Provider  string    `json:"provider"`
	APIKey    string    `json:"-"`
	Config    string    `json:"config,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
