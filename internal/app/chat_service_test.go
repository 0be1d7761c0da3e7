package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"glucomate/internal/ai"
	"glucomate/internal/model"
	"glucomate/internal/store"
)

type chatHarness struct {
	svc        *ChatService
	sessions   *fakeSessionRepo
	messages   *fakeMessages
	llm        *fakeLLM
	current    *store.CurrentSessionStore
	indicators *store.AbnormalIndicatorStore
}

func newChatHarness(t *testing.T) *chatHarness {
	t.Helper()
	kv := store.NewMemoryKV()
	h := &chatHarness{
		sessions:   newFakeSessionRepo(),
		messages:   &fakeMessages{},
		llm:        &fakeLLM{chunks: []string{"建议", "少吃", "精米"}},
		current:    store.NewCurrentSessionStore(kv),
		indicators: store.NewAbnormalIndicatorStore(kv),
	}
	users := &fakeUsers{}
	require.NoError(t, users.Create(&model.User{Username: "li", DiabetesType: "type2"}))

	h.svc = NewChatService(ChatServiceConfig{
		SessionRepo: h.sessions,
		MessageRepo: h.messages,
		UserRepo:    users,
		Publisher:   h.messages,
		Current:     h.current,
		Indicators:  h.indicators,
		LLM:         h.llm,
		DefaultLLM:  ai.ChatConfig{BaseURL: "http://llm", APIKey: "sk-real", Model: "m"},
		MaxContext:  4,
	})
	return h
}

func TestStreamMessageRelaysAndPersists(t *testing.T) {
	h := newChatHarness(t)
	ctx := context.Background()

	var relayed []string
	result, err := h.svc.StreamMessage(ctx, SendMessageInput{UserID: 1, Content: " 早餐吃什么好？ "}, func(chunk string) error {
		relayed = append(relayed, chunk)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"建议", "少吃", "精米"}, relayed)
	assert.False(t, result.Degraded)
	assert.Equal(t, "建议少吃精米", result.Assistant.Content)
	assert.Equal(t, "早餐吃什么好？", result.User.Content)

	stored := h.messages.bySession(result.SessionID)
	require.Len(t, stored, 2)
	assert.Equal(t, model.RoleUser, stored[0].Role)
	assert.Equal(t, model.RoleAssistant, stored[1].Role)
	assert.True(t, stored[1].CreatedAt.After(stored[0].CreatedAt))

	// First use created the current session and titled it after the input.
	current, err := h.current.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, result.SessionID, current)
	session, _ := h.sessions.GetByIDAndUserID(result.SessionID, 1)
	assert.Equal(t, "早餐吃什么好？", session.Title)
}

func TestPromptCarriesFindingsAndRecentHistory(t *testing.T) {
	h := newChatHarness(t)
	ctx := context.Background()

	require.NoError(t, h.indicators.Append(ctx, 1, []string{"葡萄糖: 8.2 mmol/L (参考范围: 3.9-6.1) ↑"}, time.Now(), SourceOCR))
	session, err := h.svc.CreateSession(ctx, CreateSessionInput{UserID: 1, Title: "血糖"})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := h.svc.SendMessage(ctx, SendMessageInput{UserID: 1, SessionID: session.ID, Content: fmt.Sprintf("问题%d", i)})
		require.NoError(t, err)
	}

	prompt := h.llm.lastPrompt()
	require.NotEmpty(t, prompt)
	assert.Equal(t, ai.RoleSystem, prompt[0].Role)
	assert.Contains(t, prompt[0].Content, "type2")
	assert.Contains(t, prompt[0].Content, "葡萄糖: 8.2 mmol/L (参考范围: 3.9-6.1) ↑")

	// system + MaxContext history + new input
	require.Len(t, prompt, 6)
	last := prompt[len(prompt)-1]
	assert.Equal(t, ai.RoleUser, last.Role)
	assert.Equal(t, "问题2", last.Content)
	assert.Equal(t, ai.RoleAssistant, prompt[len(prompt)-2].Role)
}

func TestOneReplyInFlightPerSession(t *testing.T) {
	h := newChatHarness(t)
	ctx := context.Background()
	session, err := h.svc.CreateSession(ctx, CreateSessionInput{UserID: 1})
	require.NoError(t, err)

	h.llm.started = make(chan struct{})
	h.llm.block = make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := h.svc.StreamMessage(ctx, SendMessageInput{UserID: 1, SessionID: session.ID, Content: "hi"}, func(string) error { return nil })
		assert.NoError(t, err)
	}()
	<-h.llm.started

	_, err = h.svc.StreamMessage(ctx, SendMessageInput{UserID: 1, SessionID: session.ID, Content: "again"}, func(string) error { return nil })
	assert.ErrorIs(t, err, ErrReplyInFlight)

	close(h.llm.block)
	wg.Wait()

	h.llm.started, h.llm.block = nil, nil
	_, err = h.svc.StreamMessage(ctx, SendMessageInput{UserID: 1, SessionID: session.ID, Content: "now"}, func(string) error { return nil })
	assert.NoError(t, err)
}

func TestModelFailureFallsBackToCannedReply(t *testing.T) {
	h := newChatHarness(t)
	h.llm.err = &ai.TimeoutError{Phase: ai.PhaseIdle}

	result, err := h.svc.StreamMessage(context.Background(), SendMessageInput{UserID: 1, Content: "餐后血糖多少算正常"}, func(string) error { return nil })
	require.NoError(t, err)
	assert.True(t, result.Degraded)
	assert.Equal(t, "timeout", result.Cause)
	assert.True(t, strings.HasPrefix(result.Assistant.Content, "抱歉"))
	assert.Contains(t, result.Assistant.Content, "mmol/L")
	assert.Len(t, h.messages.bySession(result.SessionID), 2)
}

func TestFailureKind(t *testing.T) {
	assert.Equal(t, "configuration", failureKind(ai.ErrConfiguration))
	assert.Equal(t, "protocol", failureKind(&ai.ProtocolError{StatusCode: 500}))
	assert.Equal(t, "transport", failureKind(&ai.TransportError{Err: context.DeadlineExceeded}))
	assert.Equal(t, "canceled", failureKind(context.Canceled))
}

func TestEnqueueFailureIsReported(t *testing.T) {
	h := newChatHarness(t)
	h.messages.publishErr = errBroker

	_, err := h.svc.SendMessage(context.Background(), SendMessageInput{UserID: 1, Content: "hi"})
	assert.ErrorIs(t, err, ErrMessageEnqueue)
	assert.Empty(t, h.llm.prompts)
}

func TestSendMessageValidation(t *testing.T) {
	h := newChatHarness(t)
	ctx := context.Background()

	_, err := h.svc.SendMessage(ctx, SendMessageInput{UserID: 1, Content: "   "})
	assert.ErrorIs(t, err, ErrMessageEmpty)
	_, err = h.svc.SendMessage(ctx, SendMessageInput{UserID: 1, SessionID: "missing", Content: "hi"})
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = h.svc.SendMessage(ctx, SendMessageInput{Content: "hi"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestDeleteSessionClearsCurrentPointer(t *testing.T) {
	h := newChatHarness(t)
	ctx := context.Background()

	session, err := h.svc.CreateSession(ctx, CreateSessionInput{UserID: 1})
	require.NoError(t, err)
	_, err = h.svc.SendMessage(ctx, SendMessageInput{UserID: 1, SessionID: session.ID, Content: "hi"})
	require.NoError(t, err)

	require.NoError(t, h.svc.DeleteSession(ctx, 1, session.ID))
	assert.Empty(t, h.messages.bySession(session.ID))
	current, err := h.current.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "", current)

	assert.ErrorIs(t, h.svc.DeleteSession(ctx, 1, session.ID), ErrSessionNotFound)

	// The next lookup creates a fresh current session.
	fresh, err := h.svc.CurrentSession(ctx, 1)
	require.NoError(t, err)
	assert.NotEqual(t, session.ID, fresh.ID)
}

func TestSwitchSessionRejectsForeignSession(t *testing.T) {
	h := newChatHarness(t)
	ctx := context.Background()

	mine, err := h.svc.CreateSession(ctx, CreateSessionInput{UserID: 1})
	require.NoError(t, err)
	theirs, err := h.svc.CreateSession(ctx, CreateSessionInput{UserID: 2})
	require.NoError(t, err)

	_, err = h.svc.SwitchSession(ctx, 1, theirs.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	got, err := h.svc.SwitchSession(ctx, 1, mine.ID)
	require.NoError(t, err)
	assert.Equal(t, mine.ID, got.ID)
}
