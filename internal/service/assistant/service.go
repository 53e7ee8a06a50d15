package assistant

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"kaichat/internal/models"

	"go.uber.org/zap"
)

// Service handles user lifecycle, thread/message persistence, and integration
// credentials.
type Service struct {
	db     *sql.DB
	logger *zap.Logger
	cipher *tokenCipher
}

// NewService builds the assistant service. The integration-key cipher is
// optional: when the key env is absent, integration endpoints report an error
// instead of storing keys unprotected.
func NewService(db *sql.DB, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	cipher, err := newTokenCipherFromEnv()
	if err != nil {
		logger.Warn("integration key crypto disabled", zap.Error(err))
		cipher = nil
	}
	return &Service{db: db, logger: logger, cipher: cipher}
}

// RegisterUser creates a user with the supplied credentials.
func (s *Service) RegisterUser(ctx context.Context, username, password string) (*models.User, error) {
	username = strings.TrimSpace(username)
	password = strings.TrimSpace(password)
	if username == "" || password == "" {
		return nil, errors.New("username and password are required")
	}

	hash := hashPassword(password)
	now := time.Now().UTC()
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO users (username, password_hash, created_at) VALUES ($1, $2, $3) RETURNING id`,
		username, hash, now,
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return &models.User{ID: id, Username: username, PasswordHash: hash, CreatedAt: now}, nil
}

// Login validates credentials and returns the user profile.
func (s *Service) Login(ctx context.Context, username, password string) (*models.User, error) {
	username = strings.TrimSpace(username)
	password = strings.TrimSpace(password)
	if username == "" || password == "" {
		return nil, errors.New("username and password are required")
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, created_at FROM users WHERE username = $1`, username,
	)
	var user models.User
	if err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.New("invalid credentials")
		}
		return nil, fmt.Errorf("query user: %w", err)
	}

	if user.PasswordHash != hashPassword(password) {
		return nil, errors.New("invalid credentials")
	}
	return &user, nil
}

// DeleteUser removes a user and cascaded data.
func (s *Service) DeleteUser(ctx context.Context, id int64) error {
	if id <= 0 {
		return errors.New("invalid user id")
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func hashPassword(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// IntegrationsEnabled reports whether the key cipher is configured.
func (s *Service) IntegrationsEnabled() bool {
	return s.cipher != nil
}

// SetIntegration stores or replaces a provider credential for the user.
func (s *Service) SetIntegration(ctx context.Context, userID int64, provider, apiKey, config string) error {
	if userID <= 0 {
		return errors.New("invalid user id")
	}
	provider = strings.TrimSpace(provider)
	if provider == "" {
		return errors.New("provider is required")
	}
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return errors.New("api key is required")
	}
	if s.cipher == nil {
		return errors.New("integration key encryption is not configured")
	}
	encrypted, err := s.cipher.Encrypt(apiKey)
	if err != nil {
		return fmt.Errorf("encrypt api key: %w", err)
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO integrations (user_id, provider, api_key_encrypted, config, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $5)
		 ON CONFLICT (user_id, provider) DO UPDATE
		 SET api_key_encrypted = EXCLUDED.api_key_encrypted, config = EXCLUDED.config, updated_at = EXCLUDED.updated_at`,
		userID, provider, encrypted, config, now,
	)
	if err != nil {
		return fmt.Errorf("store integration: %w", err)
	}
	return nil
}

// ListIntegrations returns the user's configured providers without key material.
func (s *Service) ListIntegrations(ctx context.Context, userID int64) ([]models.Integration, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, provider, config, created_at, updated_at FROM integrations WHERE user_id = $1 ORDER BY provider`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list integrations: %w", err)
	}
	defer rows.Close()

	var items []models.Integration
	for rows.Next() {
		var it models.Integration
		if err := rows.Scan(&it.ID, &it.UserID, &it.Provider, &it.Config, &it.CreatedAt, &it.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan integration: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// DeleteIntegration removes the stored credential for a user/provider pair.
func (s *Service) DeleteIntegration(ctx context.Context, userID int64, provider string) error {
	provider = strings.TrimSpace(provider)
	if provider == "" {
		return errors.New("provider is required")
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM integrations WHERE user_id = $1 AND provider = $2`, userID, provider)
	if err != nil {
		return fmt.Errorf("delete integration: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// IntegrationKey returns the decrypted API key for the user/provider pair, or
// empty when none is stored or the cipher is unavailable.
func (s *Service) IntegrationKey(ctx context.Context, userID int64, provider string) (string, error) {
	if s.cipher == nil {
		return "", nil
	}
	var encrypted string
	err := s.db.QueryRowContext(ctx,
		`SELECT api_key_encrypted FROM integrations WHERE user_id = $1 AND provider = $2`,
		userID, provider,
	).Scan(&encrypted)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("lookup integration: %w", err)
	}
	plain, err := s.cipher.Decrypt(encrypted)
	if err != nil {
		return "", fmt.Errorf("decrypt api key: %w", err)
	}
	return plain, nil
}
