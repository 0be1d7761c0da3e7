package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"glucomate/internal/ai"
	"glucomate/internal/app"
	"glucomate/internal/foodgi"
	"glucomate/internal/model"
	"glucomate/internal/store"
	"glucomate/internal/transport/http/middleware"
	"glucomate/internal/transport/http/response"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type memSessions struct {
	mu       sync.Mutex
	sessions map[string]model.Session
}

func (m *memSessions) Create(s *model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = *s
	return nil
}

func (m *memSessions) ListByUserID(userID uint) ([]model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Session
	for _, s := range m.sessions {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memSessions) GetByIDAndUserID(id string, userID uint) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.UserID != userID {
		return nil, nil
	}
	return &s, nil
}

func (m *memSessions) UpdateTitle(id, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sessions[id]
	s.Title = title
	m.sessions[id] = s
	return nil
}

func (m *memSessions) DeleteByIDAndUserID(id string, _ uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

type memMessages struct {
	mu       sync.Mutex
	messages []model.Message
}

func (m *memMessages) Publish(_ context.Context, msg model.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	return nil
}

func (m *memMessages) ListBySessionID(id string, _ int) ([]model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Message
	for _, msg := range m.messages {
		if msg.SessionID == id {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m *memMessages) ListRecentBySessionID(id string, limit int) ([]model.Message, error) {
	return m.ListBySessionID(id, limit)
}

func (m *memMessages) DeleteBySessionID(string) error { return nil }

type scriptedLLM struct {
	chunks []string
	err    error
}

func (s *scriptedLLM) Complete(context.Context, ai.ChatConfig, []ai.ChatMessage) (string, error) {
	return strings.Join(s.chunks, ""), s.err
}

func (s *scriptedLLM) StreamComplete(_ context.Context, _ ai.ChatConfig, _ []ai.ChatMessage, onChunk func(string) error) (string, error) {
	for _, c := range s.chunks {
		if err := onChunk(c); err != nil {
			return "", err
		}
	}
	if s.err != nil {
		return "", s.err
	}
	return strings.Join(s.chunks, ""), nil
}

func newChatRouter(llm app.ChatCompleter) *gin.Engine {
	msgs := &memMessages{}
	svc := app.NewChatService(app.ChatServiceConfig{
		SessionRepo: &memSessions{sessions: map[string]model.Session{}},
		MessageRepo: msgs,
		Publisher:   msgs,
		Current:     store.NewCurrentSessionStore(store.NewMemoryKV()),
		LLM:         llm,
		DefaultLLM:  ai.ChatConfig{BaseURL: "http://llm", APIKey: "sk-real", Model: "m"},
	})

	h := NewChatHandler(svc)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.ContextUserIDKey, uint(1))
	})
	r.POST("/chat/sessions", h.CreateSession)
	r.POST("/chat/messages/stream", h.StreamMessage)
	return r
}

func postJSON(r http.Handler, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeAPI(t *testing.T, rec *httptest.ResponseRecorder) response.APIResponse {
	t.Helper()
	var resp response.APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestStreamMessageWritesEvents(t *testing.T) {
	r := newChatRouter(&scriptedLLM{chunks: []string{"多喝水", "少吃\n甜食"}})

	rec := postJSON(r, "/chat/messages/stream", `{"content":"今天吃什么"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Contains(t, body, "data: 多喝水\n\n")
	assert.Contains(t, body, "data: 少吃\ndata: 甜食\n\n")
	assert.NotContains(t, body, "event: fallback")

	idx := strings.Index(body, "event: done\ndata: ")
	require.GreaterOrEqual(t, idx, 0)
	payload := strings.TrimSpace(body[idx+len("event: done\ndata: "):])
	var result app.ReplyResult
	require.NoError(t, json.Unmarshal([]byte(payload), &result))
	assert.Equal(t, "多喝水少吃\n甜食", result.Assistant.Content)
	assert.False(t, result.Degraded)
}

func TestStreamMessageFallbackEvent(t *testing.T) {
	r := newChatRouter(&scriptedLLM{err: &ai.ProtocolError{StatusCode: 500}})

	rec := postJSON(r, "/chat/messages/stream", `{"content":"需要运动吗"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "event: fallback\ndata: 抱歉")
	assert.Contains(t, body, `"degraded":true`)
	assert.Contains(t, body, `"cause":"protocol"`)
}

func TestStreamMessageErrorBeforeStreamIsJSON(t *testing.T) {
	r := newChatRouter(&scriptedLLM{chunks: []string{"x"}})

	rec := postJSON(r, "/chat/messages/stream", `{"session_id":"missing","content":"hi"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
	assert.Equal(t, response.CodeSessionNotFound, decodeAPI(t, rec).Code)
}

func TestCreateSessionAcceptsEmptyBody(t *testing.T) {
	r := newChatRouter(&scriptedLLM{})

	rec := postJSON(r, "/chat/sessions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	data, ok := decodeAPI(t, rec).Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "新对话", data["title"])
}

func TestFoodHandler(t *testing.T) {
	h := NewFoodHandler(app.NewFoodService(foodgi.NewCatalog(nil)))
	r := gin.New()
	r.GET("/foods", h.Search)
	r.GET("/foods/:name", h.Get)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/foods/"+url.PathEscape("白米饭"), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeAPI(t, rec).Data.(map[string]any)
	assert.Equal(t, "high", data["level"])

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/foods/"+url.PathEscape("不存在的食物"), nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, response.CodeFoodNotFound, decodeAPI(t, rec).Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/foods?q="+url.QueryEscape("米")+"&limit=2", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	items := decodeAPI(t, rec).Data.([]any)
	assert.LessOrEqual(t, len(items), 2)
}

func TestRequireUserRejectsMissingIdentity(t *testing.T) {
	h := NewLabHandler(nil)
	r := gin.New()
	r.GET("/lab/indicators", h.ListIndicators)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/lab/indicators", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
