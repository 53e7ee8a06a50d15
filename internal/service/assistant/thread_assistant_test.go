package assistant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"kaichat/internal/models"
	"kaichat/internal/storage"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("set TEST_DATABASE_URL to run database-backed assistant tests")
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

func newTestUser(t *testing.T, svc *Service) int64 {
	t.Helper()
	username := fmt.Sprintf("assistant_test_%d", time.Now().UnixNano())
	user, err := svc.RegisterUser(context.Background(), username, "pass123")
	if err != nil {
		t.Fatalf("register user: %v", err)
	}
	return user.ID
}

func TestEnsureThreadCreatesWithDerivedTitle(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	svc := NewService(db, nil)
	ctx := context.Background()
	userID := newTestUser(t, svc)

	threadID := uuid.NewString()
	firstMessage := "What breed is best for apartment living?"
	thread, err := svc.EnsureThread(ctx, userID, threadID, firstMessage)
	if err != nil {
		t.Fatalf("EnsureThread: %v", err)
	}
	if thread.ID != threadID || thread.UserID != userID {
		t.Fatalf("unexpected thread: %+v", thread)
	}
	if thread.Title != firstMessage {
		t.Errorf("title should come from the opening message, got %q", thread.Title)
	}

	// Ensuring again returns the existing thread unchanged.
	again, err := svc.EnsureThread(ctx, userID, threadID, "a different message")
	if err != nil {
		t.Fatalf("EnsureThread second call: %v", err)
	}
	if again.Title != firstMessage {
		t.Errorf("existing thread title must not change, got %q", again.Title)
	}

	// Another user cannot claim the thread.
	otherID := newTestUser(t, svc)
	if _, err := svc.EnsureThread(ctx, otherID, threadID, "hijack"); err == nil {
		t.Fatal("expected error ensuring another user's thread")
	}
}

func TestAppendMessageEnforcesThreadOwnership(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	svc := NewService(db, nil)
	ctx := context.Background()
	ownerID := newTestUser(t, svc)
	otherID := newTestUser(t, svc)

	// No thread yet: append must fail.
	if _, err := svc.AppendMessage(ctx, ownerID, uuid.NewString(), models.RoleUser, "hello", ""); err == nil {
		t.Fatal("expected error appending to a missing thread")
	}

	thread, err := svc.CreateThread(ctx, ownerID, "Owned thread")
	if err != nil {
		t.Fatalf("CreateThread: %v", err)
	}

	// A different user cannot write into the thread.
	if _, err := svc.AppendMessage(ctx, otherID, thread.ID, models.RoleUser, "intrusion", ""); err == nil {
		t.Fatal("expected error appending to another user's thread")
	}
	if got := countThreadMessages(t, db, thread.ID); got != 0 {
		t.Fatalf("rejected append must not write rows, found %d", got)
	}

	msg, err := svc.AppendMessage(ctx, ownerID, thread.ID, models.RoleUser, "hello", "")
	if err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if msg.ID == 0 || msg.ThreadID != thread.ID {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if got := countThreadMessages(t, db, thread.ID); got != 1 {
		t.Fatalf("expected 1 message, got %d", got)
	}

	// New messages bump the thread's activity timestamp.
	refetched, _, err := svc.GetThreadWithMessages(ctx, ownerID, thread.ID)
	if err != nil {
		t.Fatalf("GetThreadWithMessages: %v", err)
	}
	if refetched.UpdatedAt.Before(thread.UpdatedAt) {
		t.Errorf("updated_at should advance: %v -> %v", thread.UpdatedAt, refetched.UpdatedAt)
	}
}

func TestListThreadsExcludesArchived(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	svc := NewService(db, nil)
	ctx := context.Background()
	userID := newTestUser(t, svc)

	active, err := svc.CreateThread(ctx, userID, "Active")
	if err != nil {
		t.Fatalf("CreateThread: %v", err)
	}
	archived, err := svc.CreateThread(ctx, userID, "Archived")
	if err != nil {
		t.Fatalf("CreateThread: %v", err)
	}
	if err := svc.ArchiveThread(ctx, userID, archived.ID, true); err != nil {
		t.Fatalf("ArchiveThread: %v", err)
	}

	threads, err := svc.ListThreads(ctx, userID, false)
	if err != nil {
		t.Fatalf("ListThreads: %v", err)
	}
	if len(threads) != 1 || threads[0].ID != active.ID {
		t.Fatalf("expected only the active thread, got %+v", threads)
	}

	all, err := svc.ListThreads(ctx, userID, true)
	if err != nil {
		t.Fatalf("ListThreads includeArchived: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected both threads with includeArchived, got %d", len(all))
	}
}

func TestDeleteThreadCascadesMessages(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	svc := NewService(db, nil)
	ctx := context.Background()
	userID := newTestUser(t, svc)

	thread, err := svc.CreateThread(ctx, userID, "Doomed")
	if err != nil {
		t.Fatalf("CreateThread: %v", err)
	}
	if _, err := svc.AppendMessage(ctx, userID, thread.ID, models.RoleUser, "hello", ""); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if _, err := svc.AppendMessage(ctx, userID, thread.ID, models.RoleAssistant, "hi there", ""); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	if err := svc.DeleteThread(ctx, userID, thread.ID); err != nil {
		t.Fatalf("DeleteThread: %v", err)
	}
	if _, _, err := svc.GetThreadWithMessages(ctx, userID, thread.ID); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows after delete, got %v", err)
	}
	if got := countThreadMessages(t, db, thread.ID); got != 0 {
		t.Fatalf("messages should cascade on delete, found %d", got)
	}

	// Mutations on a deleted thread report not-found.
	if err := svc.RenameThread(ctx, userID, thread.ID, "Renamed"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows renaming a deleted thread, got %v", err)
	}
}

func countThreadMessages(t *testing.T, db *sql.DB, threadID string) int {
	t.Helper()
	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM chat_messages WHERE thread_id = $1`, threadID).Scan(&count); err != nil {
		t.Fatalf("count messages: %v", err)
	}
	return count
}
