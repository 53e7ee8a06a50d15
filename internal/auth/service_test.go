package auth

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	"kaichat/internal/storage"

	_ "github.com/lib/pq"
)

func TestAuthIssueValidateRevoke(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	userID := insertUser(t, db)

	svc := NewService(db, nil, nil, time.Hour)
	ctx := context.Background()

	token, err := svc.IssueToken(ctx, userID)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if token == "" {
		t.Fatal("expected a token")
	}
	got, err := svc.ValidateToken(ctx, token)
	if err != nil || got != userID {
		t.Fatalf("ValidateToken failed: id=%d err=%v", got, err)
	}
	if err := svc.RevokeToken(ctx, token); err != nil {
		t.Fatalf("RevokeToken: %v", err)
	}
	if _, err := svc.ValidateToken(ctx, token); err == nil {
		t.Fatal("expected error after revoke")
	}

	token2, err := svc.IssueToken(ctx, userID)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if err := svc.RevokeUserTokens(ctx, userID); err != nil {
		t.Fatalf("RevokeUserTokens: %v", err)
	}
	if _, err := svc.ValidateToken(ctx, token2); err == nil {
		t.Fatal("expected error after revoking all tokens")
	}
}

func TestAuthValidateExpiredToken(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	userID := insertUser(t, db)

	svc := NewService(db, nil, nil, 10*time.Millisecond)
	ctx := context.Background()

	token, err := svc.IssueToken(ctx, userID)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, err := svc.ValidateToken(ctx, token); err == nil {
		t.Fatal("expected expiration error")
	}
	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM user_tokens WHERE token = $1`, token).Scan(&count); err != nil {
		t.Fatalf("query tokens: %v", err)
	}
	if count != 0 {
		t.Fatal("expired token not purged")
	}
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("set TEST_DATABASE_URL to run database-backed auth tests")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Fatalf("ping db: %v", err)
	}
	if err := storage.Migrate(db); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	return db
}

func insertUser(t *testing.T, db *sql.DB) int64 {
	t.Helper()
	var id int64
	username := fmt.Sprintf("auth_test_%d", time.Now().UnixNano())
	err := db.QueryRow(
		`INSERT INTO users (username, password_hash, created_at) VALUES ($1, '', $2) RETURNING id`,
		username, time.Now().UTC(),
	).Scan(&id)
	if err != nil {
		t.Fatalf("insert user: %v", err)
	}
	return id
}
