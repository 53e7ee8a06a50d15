package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"kaichat/internal/models"
	"kaichat/internal/service/chat"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const defaultSystemPrompt = "You are KAI, a friendly and attentive assistant. Answer clearly and concisely."

const replyApology = "I'm sorry, something went wrong while generating a response. Please try again."

const chatStreamTimeout = 2 * time.Minute

type chatStreamRequest struct {
	Message  string `json:"message"`
	APIKey   string `json:"apiKey"`
	Model    string `json:"model"`
	UserID   int64  `json:"userId"`
	ThreadID string `json:"threadId"`
}

// streamChat runs one chat turn over SSE. Each frame is a single JSON object
// on a data: line: {"content": ...} fragments, an optional
// {"type": "memory_update", "memories": ...} frame after capture, and a
// closing {"done": true}. Memory and persistence take part only when the
// request carries both userId and threadId and the pipeline is enabled;
// their failures degrade the turn, never abort it.
//
// The endpoint is unauthenticated and trusts the client-supplied userId,
// including for stored-key lookup and thread writes. That matches the app's
// original surface, where the SPA proxies the id of its signed-in user; a
// deployment exposed beyond that proxy should put this route behind the auth
// middleware and take the id from the token instead.
func (h *Handler) streamChat(c *gin.Context) {
	var req chatStreamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}
	req.ThreadID = strings.TrimSpace(req.ThreadID)

	ctx, cancel := context.WithTimeout(c.Request.Context(), chatStreamTimeout)
	defer cancel()

	hasThread := req.UserID > 0 && req.ThreadID != ""

	systemPrompt := defaultSystemPrompt
	if h.memory != nil && hasThread {
		if memoryContext := h.memory.ContextFor(ctx, req.UserID, req.ThreadID, req.Message); memoryContext != "" {
			systemPrompt = defaultSystemPrompt + "\n\n" + memoryContext
		}
	}

	apiKey := strings.TrimSpace(req.APIKey)
	if apiKey == "" && req.UserID > 0 {
		key, err := h.conversations.IntegrationKey(ctx, req.UserID, "openai")
		if err != nil {
			h.logger.Warn("integration key lookup failed", zap.Int64("user_id", req.UserID), zap.Error(err))
		} else {
			apiKey = key
		}
	}
	client := h.newModel(apiKey)

	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = h.defaultModel
	}

	if hasThread {
		if _, err := h.conversations.EnsureThread(ctx, req.UserID, req.ThreadID, req.Message); err != nil {
			h.logger.Error("thread bootstrap failed",
				zap.Int64("user_id", req.UserID), zap.String("thread_id", req.ThreadID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not prepare conversation"})
			return
		}
		if _, err := h.conversations.AppendMessage(ctx, req.UserID, req.ThreadID, models.RoleUser, req.Message, ""); err != nil {
			h.logger.Warn("user message save failed",
				zap.Int64("user_id", req.UserID), zap.String("thread_id", req.ThreadID), zap.Error(err))
		}
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
	flusher.Flush()

	sendFrame := func(payload any) error {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	streamer := chat.NewStreamer(client, chat.WordChunker{}, h.chunkDelay, h.logger)
	reply, err := streamer.Stream(ctx, model, systemPrompt, req.Message, func(chunk string) error {
		return sendFrame(gin.H{"content": chunk})
	})
	if err != nil {
		if reply == "" {
			h.logger.Warn("chat completion failed", zap.String("model", model), zap.Error(err))
			_ = sendFrame(gin.H{"content": replyApology})
			_ = sendFrame(gin.H{"done": true})
			return
		}
		// The client went away mid-stream; nothing left to send.
		h.logger.Debug("chat stream aborted", zap.Error(err))
		return
	}

	if hasThread {
		if _, err := h.conversations.AppendMessage(ctx, req.UserID, req.ThreadID, models.RoleAssistant, reply, ""); err != nil {
			h.logger.Warn("assistant message save failed",
				zap.Int64("user_id", req.UserID), zap.String("thread_id", req.ThreadID), zap.Error(err))
		}
		if h.memory != nil {
			saved := h.memory.CaptureExchange(ctx, req.UserID, req.ThreadID, req.Message, reply)
			if !saved.Empty() {
				_ = sendFrame(gin.H{"type": "memory_update", "memories": saved})
			}
		}
	}
	_ = sendFrame(gin.H{"done": true})
}
