package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"glucomate/internal/app"
	"glucomate/internal/transport/http/response"
)

type ChatHandler struct {
	chatService *app.ChatService
}

type CreateSessionRequest struct {
	Title string `json:"title" binding:"max=128"`
}

type SwitchSessionRequest struct {
	SessionID string `json:"session_id" binding:"required"`
}

// SendMessageRequest leaves SessionID empty to use the current session.
type SendMessageRequest struct {
	SessionID string     `json:"session_id"`
	Content   string     `json:"content" binding:"required,max=4000"`
	LLM       LLMRequest `json:"llm"`
}

type LLMRequest struct {
	BaseURL string `json:"base_url"`
	APIKey  string `json:"api_key"`
	Model   string `json:"model"`
}

func NewChatHandler(chatService *app.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

func (r SendMessageRequest) input(userID uint) app.SendMessageInput {
	return app.SendMessageInput{
		UserID:    userID,
		SessionID: r.SessionID,
		Content:   r.Content,
		LLM: app.LLMOverride{
			BaseURL: r.LLM.BaseURL,
			APIKey:  r.LLM.APIKey,
			Model:   r.LLM.Model,
		},
	}
}

func (h *ChatHandler) CreateSession(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	session, err := h.chatService.CreateSession(c.Request.Context(), app.CreateSessionInput{
		UserID: userID,
		Title:  req.Title,
	})
	if err != nil {
		writeError(c, err, "create session failed")
		return
	}

	response.OK(c, session)
}

func (h *ChatHandler) ListSessions(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	sessions, err := h.chatService.ListSessions(userID)
	if err != nil {
		writeError(c, err, "list sessions failed")
		return
	}

	response.OK(c, sessions)
}

func (h *ChatHandler) CurrentSession(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	session, err := h.chatService.CurrentSession(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err, "get current session failed")
		return
	}

	response.OK(c, session)
}

func (h *ChatHandler) SwitchSession(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	var req SwitchSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	session, err := h.chatService.SwitchSession(c.Request.Context(), userID, req.SessionID)
	if err != nil {
		writeError(c, err, "switch session failed")
		return
	}

	response.OK(c, session)
}

func (h *ChatHandler) DeleteSession(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	sessionID := c.Param("id")
	if err := h.chatService.DeleteSession(c.Request.Context(), userID, sessionID); err != nil {
		writeError(c, err, "delete session failed")
		return
	}

	response.OK(c, gin.H{"deleted_session_id": sessionID})
}

func (h *ChatHandler) SendMessage(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	result, err := h.chatService.SendMessage(c.Request.Context(), req.input(userID))
	if err != nil {
		writeError(c, err, "send message failed")
		return
	}

	response.OK(c, result)
}

// StreamMessage answers with text/event-stream: unnamed events carry
// fragments, "fallback" carries the canned reply when the model failed, and
// "done" carries the stored turn as JSON. Errors before the first event are
// plain JSON responses.
func (h *ChatHandler) StreamMessage(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	sse, ok := newSSEWriter(c)
	if !ok {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "stream not supported")
		return
	}

	result, err := h.chatService.StreamMessage(c.Request.Context(), req.input(userID), func(chunk string) error {
		return sse.send("", chunk)
	})
	if err != nil {
		if !sse.started {
			writeError(c, err, "send message failed")
			return
		}
		_ = sse.send("error", err.Error())
		return
	}

	if result.Degraded {
		if err := sse.send("fallback", result.Assistant.Content); err != nil {
			return
		}
	}
	payload, err := json.Marshal(result)
	if err != nil {
		_ = sse.send("error", "encode result failed")
		return
	}
	_ = sse.send("done", string(payload))
}

func (h *ChatHandler) GetHistory(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	sessionID := c.Query("session_id")
	if sessionID == "" {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid session_id")
		return
	}

	limit := 100
	if raw := c.Query("limit"); raw != "" {
		if parsed, parseErr := strconv.Atoi(raw); parseErr == nil {
			limit = parsed
		}
	}

	history, err := h.chatService.GetHistory(c.Request.Context(), userID, sessionID, limit)
	if err != nil {
		writeError(c, err, "get history failed")
		return
	}

	response.OK(c, history)
}
