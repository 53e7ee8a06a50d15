package api

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"kaichat/internal/auth"
	"kaichat/internal/models"
	"kaichat/internal/service/ai"
	"kaichat/internal/service/assistant"
	"kaichat/internal/service/chat"
	"kaichat/internal/service/memory"

	"github.com/gin-gonic/gin"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"
)

// ConversationStore is the slice of the assistant service the chat stream
// endpoint needs: thread bootstrap, message persistence, and credential lookup.
type ConversationStore interface {
	EnsureThread(ctx context.Context, userID int64, threadID, firstMessage string) (*models.Thread, error)
	AppendMessage(ctx context.Context, userID int64, threadID string, role models.Role, content, metadata string) (*models.Message, error)
	IntegrationKey(ctx context.Context, userID int64, provider string) (string, error)
}

// Handler exposes the HTTP surface. The memory pipeline may be nil, in which
// case chat requests skip the memory phase and the memory endpoints report 503.
type Handler struct {
	assistant     *assistant.Service
	auth          *auth.Service
	conversations ConversationStore
	memory        *memory.Pipeline
	newModel      func(apiKey string) ai.Client
	defaultModel  string
	chunkDelay    time.Duration
	logger        *zap.Logger
}

func NewHandler(svc *assistant.Service, authSvc *auth.Service, mem *memory.Pipeline, newModel func(apiKey string) ai.Client, defaultModel string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		assistant:     svc,
		auth:          authSvc,
		conversations: svc,
		memory:        mem,
		newModel:      newModel,
		defaultModel:  defaultModel,
		chunkDelay:    chat.DefaultChunkDelay,
		logger:        logger,
	}
}

// RegisterRoutes mounts all endpoints on the router. The chat stream endpoint
// is open; everything under /users/:id requires a valid token for that user.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	apiGroup := router.Group("/api")
	apiGroup.POST("/users/register", h.register)
	apiGroup.POST("/users/login", h.login)
	apiGroup.POST("/chat/stream", h.streamChat)

	user := apiGroup.Group("/users/:id", h.auth.Middleware(), h.requirePathUser(), h.auth.CSRFMiddleware())
	user.POST("/logout", h.logout)
	user.DELETE("", h.deleteUser)

	user.GET("/threads", h.listThreads)
	user.POST("/threads", h.createThread)
	user.GET("/threads/:thread_id", h.getThread)
	user.GET("/threads/:thread_id/messages", h.listMessages)
	user.PATCH("/threads/:thread_id", h.updateThread)
	user.DELETE("/threads/:thread_id", h.deleteThread)

	user.GET("/memory/short-term", h.listShortTermMemories)
	user.POST("/memory/short-term", h.createShortTermMemory)
	user.DELETE("/memory/short-term/:memory_id", h.deleteShortTermMemory)
	user.GET("/memory/long-term", h.listLongTermMemories)
	user.POST("/memory/long-term", h.upsertLongTermMemory)
	user.PUT("/memory/long-term", h.upsertLongTermMemory)
	user.DELETE("/memory/long-term/:memory_id", h.deleteLongTermMemory)

	user.GET("/integrations", h.listIntegrations)
	user.POST("/integrations", h.setIntegration)
	user.DELETE("/integrations/:provider", h.deleteIntegration)
}

// requirePathUser ensures the authenticated user matches the :id path segment.
func (h *Handler) requirePathUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		pathID, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil || pathID <= 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
			return
		}
		userID, ok := auth.UserIDFromContext(c)
		if !ok || userID != pathID {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) register(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	user, err := h.assistant.RegisterUser(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.issueSession(c, user)
}

func (h *Handler) login(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	user, err := h.assistant.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	h.issueSession(c, user)
}

func (h *Handler) issueSession(c *gin.Context, user *models.User) {
	token, err := h.auth.IssueToken(c.Request.Context(), user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not issue token"})
		return
	}
	csrfToken, err := h.auth.NewCSRFToken()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not issue token"})
		return
	}
	maxAge := int(h.auth.TokenTTL().Seconds())
	c.SetCookie(h.auth.AuthCookieName(), token, maxAge, "/", "", false, true)
	c.SetCookie(h.auth.CSRFCookieName(), csrfToken, maxAge, "/", "", false, false)
	c.JSON(http.StatusOK, gin.H{
		"user":       gin.H{"id": user.ID, "username": user.Username},
		"token":      token,
		"csrf_token": csrfToken,
	})
}

func (h *Handler) logout(c *gin.Context) {
	if token, ok := auth.AuthTokenFromContext(c); ok {
		if err := h.auth.RevokeToken(c.Request.Context(), token); err != nil {
			h.logger.Warn("token revoke failed", zap.Error(err))
		}
	}
	c.SetCookie(h.auth.AuthCookieName(), "", -1, "/", "", false, true)
	c.SetCookie(h.auth.CSRFCookieName(), "", -1, "/", "", false, false)
	c.JSON(http.StatusOK, gin.H{"status": "logged out"})
}

func (h *Handler) deleteUser(c *gin.Context) {
	userID, _ := auth.UserIDFromContext(c)
	if err := h.auth.RevokeUserTokens(c.Request.Context(), userID); err != nil {
		h.logger.Warn("user token revoke failed", zap.Int64("user_id", userID), zap.Error(err))
	}
	if err := h.assistant.DeleteUser(c.Request.Context(), userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not delete user"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (h *Handler) listThreads(c *gin.Context) {
	userID, _ := auth.UserIDFromContext(c)
	includeArchived := c.Query("include_archived") == "true"
	threads, err := h.assistant.ListThreads(c.Request.Context(), userID, includeArchived)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list threads"})
		return
	}
	if threads == nil {
		threads = []models.Thread{}
	}
	c.JSON(http.StatusOK, gin.H{"threads": threads})
}

func (h *Handler) createThread(c *gin.Context) {
	userID, _ := auth.UserIDFromContext(c)
	var req struct {
		Title string `json:"title"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	thread, err := h.assistant.CreateThread(c.Request.Context(), userID, req.Title)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create thread"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"thread": thread})
}

func (h *Handler) getThread(c *gin.Context) {
	userID, _ := auth.UserIDFromContext(c)
	thread, messages, err := h.assistant.GetThreadWithMessages(c.Request.Context(), userID, c.Param("thread_id"))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "thread not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load thread"})
		return
	}
	if messages == nil {
		messages = []*models.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"thread": thread, "messages": messages})
}

func (h *Handler) listMessages(c *gin.Context) {
	userID, _ := auth.UserIDFromContext(c)
	_, messages, err := h.assistant.GetThreadWithMessages(c.Request.Context(), userID, c.Param("thread_id"))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "thread not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load messages"})
		return
	}
	if messages == nil {
		messages = []*models.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

func (h *Handler) updateThread(c *gin.Context) {
	userID, _ := auth.UserIDFromContext(c)
	threadID := c.Param("thread_id")
	var req struct {
		Title    *string `json:"title"`
		Archived *bool   `json:"archived"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Title == nil && req.Archived == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "nothing to update"})
		return
	}
	if req.Title != nil {
		if err := h.assistant.RenameThread(c.Request.Context(), userID, threadID, *req.Title); err != nil {
			h.respondThreadError(c, err)
			return
		}
	}
	if req.Archived != nil {
		if err := h.assistant.ArchiveThread(c.Request.Context(), userID, threadID, *req.Archived); err != nil {
			h.respondThreadError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

func (h *Handler) deleteThread(c *gin.Context) {
	userID, _ := auth.UserIDFromContext(c)
	if err := h.assistant.DeleteThread(c.Request.Context(), userID, c.Param("thread_id")); err != nil {
		h.respondThreadError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (h *Handler) respondThreadError(c *gin.Context, err error) {
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"error": "thread not found"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "could not update thread"})
}

// memoryStore returns the memory store or rejects the request when memory
// features are disabled.
func (h *Handler) memoryStore(c *gin.Context) (memory.Store, bool) {
	if h.memory == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "memory features are disabled"})
		return nil, false
	}
	return h.memory.Store(), true
}

func (h *Handler) listShortTermMemories(c *gin.Context) {
	store, ok := h.memoryStore(c)
	if !ok {
		return
	}
	userID, _ := auth.UserIDFromContext(c)
	entries, err := store.ListShortTerm(c.Request.Context(), userID, c.Query("thread_id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list memories"})
		return
	}
	if entries == nil {
		entries = []models.ShortTermMemory{}
	}
	c.JSON(http.StatusOK, gin.H{"memories": entries})
}

func (h *Handler) createShortTermMemory(c *gin.Context) {
	store, ok := h.memoryStore(c)
	if !ok {
		return
	}
	userID, _ := auth.UserIDFromContext(c)
	var req struct {
		ThreadID   string `json:"thread_id"`
		Message    string `json:"message"`
		Sender     string `json:"sender"`
		Tags       string `json:"tags"`
		TTLSeconds int    `json:"ttl_seconds"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Message) == "" || strings.TrimSpace(req.ThreadID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "thread_id and message are required"})
		return
	}
	sender := strings.TrimSpace(req.Sender)
	if sender == "" {
		sender = "user"
	}
	now := time.Now().UTC()
	entry := &models.ShortTermMemory{
		UserID:    userID,
		ThreadID:  req.ThreadID,
		Message:   req.Message,
		Sender:    sender,
		Tags:      req.Tags,
		CreatedAt: now,
	}
	if req.TTLSeconds > 0 {
		entry.ExpiresAt = now.Add(time.Duration(req.TTLSeconds) * time.Second)
	}
	if err := store.InsertShortTerm(c.Request.Context(), entry); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not save memory"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"memory": entry})
}

func (h *Handler) deleteShortTermMemory(c *gin.Context) {
	store, ok := h.memoryStore(c)
	if !ok {
		return
	}
	userID, _ := auth.UserIDFromContext(c)
	memoryID, err := strconv.ParseInt(c.Param("memory_id"), 10, 64)
	if err != nil || memoryID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid memory id"})
		return
	}
	if err := store.DeleteShortTerm(c.Request.Context(), userID, memoryID); err != nil {
		h.respondMemoryError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (h *Handler) listLongTermMemories(c *gin.Context) {
	store, ok := h.memoryStore(c)
	if !ok {
		return
	}
	userID, _ := auth.UserIDFromContext(c)
	entries, err := store.ListLongTerm(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list memories"})
		return
	}
	if entries == nil {
		entries = []models.LongTermMemory{}
	}
	c.JSON(http.StatusOK, gin.H{"memories": entries})
}

// upsertLongTermMemory is the direct-entry path: the value is embedded with
// the process-wide credentials and stored with auto_captured unset. Posting
// an existing key replaces the fact.
func (h *Handler) upsertLongTermMemory(c *gin.Context) {
	store, ok := h.memoryStore(c)
	if !ok {
		return
	}
	userID, _ := auth.UserIDFromContext(c)
	var req struct {
		Category   string `json:"category"`
		Key        string `json:"key"`
		Value      string `json:"value"`
		Display    string `json:"display"`
		Importance int    `json:"importance"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	req.Value = strings.TrimSpace(req.Value)
	req.Display = strings.TrimSpace(req.Display)
	if req.Value == "" || req.Display == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "value and display are required"})
		return
	}
	key := strings.TrimSpace(req.Key)
	if key == "" {
		key = memory.SlugKey(req.Display)
	}
	if key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "key could not be derived"})
		return
	}
	if req.Importance < 1 {
		req.Importance = 1
	}
	if req.Importance > 5 {
		req.Importance = 5
	}

	embedding, err := h.newModel("").Embed(c.Request.Context(), req.Value)
	if err != nil {
		h.logger.Warn("memory embedding failed", zap.Int64("user_id", userID), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "could not embed memory"})
		return
	}
	entry := &models.LongTermMemory{
		UserID:     userID,
		Category:   req.Category,
		Key:        key,
		Value:      req.Value,
		Display:    req.Display,
		Importance: req.Importance,
		Embedding:  pgvector.NewVector(embedding),
	}
	if err := store.UpsertLongTerm(c.Request.Context(), entry); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not save memory"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"memory": entry})
}

func (h *Handler) deleteLongTermMemory(c *gin.Context) {
	store, ok := h.memoryStore(c)
	if !ok {
		return
	}
	userID, _ := auth.UserIDFromContext(c)
	memoryID, err := strconv.ParseInt(c.Param("memory_id"), 10, 64)
	if err != nil || memoryID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid memory id"})
		return
	}
	if err := store.DeleteLongTerm(c.Request.Context(), userID, memoryID); err != nil {
		h.respondMemoryError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (h *Handler) respondMemoryError(c *gin.Context, err error) {
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"error": "memory not found"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "could not delete memory"})
}

func (h *Handler) listIntegrations(c *gin.Context) {
	userID, _ := auth.UserIDFromContext(c)
	items, err := h.assistant.ListIntegrations(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list integrations"})
		return
	}
	if items == nil {
		items = []models.Integration{}
	}
	c.JSON(http.StatusOK, gin.H{"integrations": items})
}

func (h *Handler) setIntegration(c *gin.Context) {
	userID, _ := auth.UserIDFromContext(c)
	var req struct {
		Provider string `json:"provider"`
		APIKey   string `json:"api_key"`
		Config   string `json:"config"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if !h.assistant.IntegrationsEnabled() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "integration key encryption is not configured"})
		return
	}
	if err := h.assistant.SetIntegration(c.Request.Context(), userID, req.Provider, req.APIKey, req.Config); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "saved"})
}

func (h *Handler) deleteIntegration(c *gin.Context) {
	userID, _ := auth.UserIDFromContext(c)
	if err := h.assistant.DeleteIntegration(c.Request.Context(), userID, c.Param("provider")); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "integration not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not delete integration"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}
