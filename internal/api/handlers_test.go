package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"kaichat/internal/auth"
	"kaichat/internal/service/ai"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// newMemoryRouter mounts the memory endpoints behind a stand-in for the auth
// middleware that marks every request as the given user.
func newMemoryRouter(h *Handler, userID int64) *gin.Engine {
	router := gin.New()
	router.Use(func(c *gin.Context) {
		auth.SetUserID(c, userID)
		c.Next()
	})
	router.GET("/api/users/:id/memory/long-term", h.listLongTermMemories)
	router.POST("/api/users/:id/memory/long-term", h.upsertLongTermMemory)
	router.POST("/api/users/:id/memory/short-term", h.createShortTermMemory)
	return router
}

func newMemoryHandler(model *scriptedModel, store *fakeMemoryStore) *Handler {
	return &Handler{
		memory:       newTestPipeline(store, model),
		newModel:     func(string) ai.Client { return model },
		defaultModel: "gpt-4o-mini",
		logger:       zap.NewNop(),
	}
}

func doJSON(router *gin.Engine, method, path, payload string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestUpsertLongTermMemoryDerivesKeyAndEmbeds(t *testing.T) {
	model := &scriptedModel{embedVec: []float32{0.1, 0.2}}
	store := &fakeMemoryStore{}
	router := newMemoryRouter(newMemoryHandler(model, store), 7)

	w := doJSON(router, http.MethodPost, "/api/users/7/memory/long-term",
		`{"category": "pets", "value": "The user has a dog named Rex", "display": "Has a dog named Rex!", "importance": 9}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if len(store.upserts) != 1 {
		t.Fatalf("expected one upsert, got %d", len(store.upserts))
	}
	entry := store.upserts[0]
	if entry.Key != "has_a_dog_named_rex" {
		t.Errorf("key should be slugified from display, got %q", entry.Key)
	}
	if entry.Importance != 5 {
		t.Errorf("importance should clamp to 5, got %d", entry.Importance)
	}
	if entry.AutoCaptured {
		t.Error("direct entries must not be marked auto_captured")
	}
	if entry.UserID != 7 {
		t.Errorf("entry should belong to the authenticated user, got %d", entry.UserID)
	}
	if len(model.embedCalls) != 1 || model.embedCalls[0] != "The user has a dog named Rex" {
		t.Errorf("value should be embedded before storage, got %q", model.embedCalls)
	}
}

func TestUpsertLongTermMemoryKeepsExplicitKey(t *testing.T) {
	model := &scriptedModel{embedVec: []float32{0.1}}
	store := &fakeMemoryStore{}
	router := newMemoryRouter(newMemoryHandler(model, store), 7)

	w := doJSON(router, http.MethodPost, "/api/users/7/memory/long-term",
		`{"category": "pets", "key": "dog_name", "value": "Rex", "display": "Dog is called Rex", "importance": 3}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if len(store.upserts) != 1 || store.upserts[0].Key != "dog_name" {
		t.Fatalf("explicit key should win over the slug, got %+v", store.upserts)
	}
}

func TestUpsertLongTermMemoryValidation(t *testing.T) {
	model := &scriptedModel{}
	store := &fakeMemoryStore{}
	router := newMemoryRouter(newMemoryHandler(model, store), 7)

	for _, payload := range []string{
		`{"category": "pets", "display": "no value"}`,
		`{"category": "pets", "value": "no display"}`,
		`{"value": "!!!", "display": "!!!"}`,
	} {
		w := doJSON(router, http.MethodPost, "/api/users/7/memory/long-term", payload)
		if w.Code != http.StatusBadRequest {
			t.Errorf("payload %s: expected 400, got %d", payload, w.Code)
		}
	}
	if len(model.embedCalls) != 0 || len(store.upserts) != 0 {
		t.Errorf("rejected requests must not embed or store: %d embeds, %d upserts",
			len(model.embedCalls), len(store.upserts))
	}
}

func TestCreateShortTermMemoryValidation(t *testing.T) {
	store := &fakeMemoryStore{}
	router := newMemoryRouter(newMemoryHandler(&scriptedModel{}, store), 7)

	w := doJSON(router, http.MethodPost, "/api/users/7/memory/short-term", `{"message": "no thread"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without thread_id, got %d", w.Code)
	}
	if len(store.inserts) != 0 {
		t.Fatalf("rejected request must not store, got %d inserts", len(store.inserts))
	}

	w = doJSON(router, http.MethodPost, "/api/users/7/memory/short-term",
		`{"thread_id": "thread-1", "message": "likes espresso", "tags": "coffee"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if len(store.inserts) != 1 {
		t.Fatalf("expected one insert, got %d", len(store.inserts))
	}
	entry := store.inserts[0]
	if entry.AutoCaptured {
		t.Error("direct entries must not be marked auto_captured")
	}
	if entry.Sender != "user" {
		t.Errorf("sender should default to user, got %q", entry.Sender)
	}
}

func TestMemoryEndpointsUnavailableWhenDisabled(t *testing.T) {
	h := &Handler{
		newModel:     func(string) ai.Client { return &scriptedModel{} },
		defaultModel: "gpt-4o-mini",
		logger:       zap.NewNop(),
	}
	router := newMemoryRouter(h, 7)

	w := doJSON(router, http.MethodPost, "/api/users/7/memory/long-term",
		`{"value": "v", "display": "d"}`)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 with memory disabled, got %d", w.Code)
	}
}

func TestListLongTermMemoriesEmptyList(t *testing.T) {
	router := newMemoryRouter(newMemoryHandler(&scriptedModel{}, &fakeMemoryStore{}), 7)

	w := doJSON(router, http.MethodGet, "/api/users/7/memory/long-term", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"memories":[]`) {
		t.Fatalf("expected an empty array, got %s", w.Body.String())
	}
}

func TestRequirePathUser(t *testing.T) {
	h := &Handler{logger: zap.NewNop()}

	router := gin.New()
	router.Use(func(c *gin.Context) {
		auth.SetUserID(c, 7)
		c.Next()
	})
	router.GET("/api/users/:id/whoami", h.requirePathUser(), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	cases := map[string]int{
		"/api/users/7/whoami":   http.StatusNoContent,
		"/api/users/8/whoami":   http.StatusForbidden,
		"/api/users/abc/whoami": http.StatusBadRequest,
		"/api/users/0/whoami":   http.StatusBadRequest,
	}
	for path, want := range cases {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != want {
			t.Errorf("%s: expected %d, got %d", path, want, w.Code)
		}
	}
}
