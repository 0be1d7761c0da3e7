package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"glucomate/internal/ai"
	"glucomate/internal/model"
)

const (
	defaultSessionTitle = "新对话"
	maxTitleRunes       = 20
)

const systemPersona = "你是糖伴，一位耐心、专业的糖尿病健康管理助手。" +
	"请结合用户的血糖、饮食、运动和化验结果给出通俗、可执行的建议；" +
	"涉及用药调整或急症时，提醒用户及时就医，不要替代医生诊断。回答保持简洁。"

type ChatServiceConfig struct {
	SessionRepo  SessionRepository
	MessageRepo  MessageRepository
	UserRepo     UserRepository
	Publisher    AsyncMessagePublisher
	HistoryCache HistoryCache
	Current      CurrentSessionStore
	Indicators   IndicatorStore
	LLM          ChatCompleter
	DefaultLLM   ai.ChatConfig
	MaxContext   int
	MaxFindings  int
	Logger       *zap.Logger
}

type ChatService struct {
	sessionRepo  SessionRepository
	messageRepo  MessageRepository
	userRepo     UserRepository
	publisher    AsyncMessagePublisher
	historyCache HistoryCache
	current      CurrentSessionStore
	indicators   IndicatorStore
	llm          ChatCompleter
	defaultLLM   ai.ChatConfig
	maxContext   int
	maxFindings  int
	logger       *zap.Logger
	now          func() time.Time

	inflightMu sync.Mutex
	inflight   map[string]struct{}
}

type CreateSessionInput struct {
	UserID uint
	Title  string
}

// SendMessageInput targets SessionID, or the user's current session when it
// is empty.
type SendMessageInput struct {
	UserID    uint
	SessionID string
	Content   string
	LLM       LLMOverride
}

type LLMOverride struct {
	BaseURL string
	APIKey  string
	Model   string
}

// ReplyResult is the outcome of one chat turn. Degraded is set when the
// model failed and Assistant carries the canned reply instead.
type ReplyResult struct {
	SessionID string        `json:"session_id"`
	User      model.Message `json:"user_message"`
	Assistant model.Message `json:"assistant_message"`
	Degraded  bool          `json:"degraded"`
	Cause     string        `json:"cause,omitempty"`
}

func NewChatService(cfg ChatServiceConfig) *ChatService {
	if cfg.MaxContext <= 0 {
		cfg.MaxContext = 20
	}
	if cfg.MaxFindings <= 0 {
		cfg.MaxFindings = 10
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &ChatService{
		sessionRepo:  cfg.SessionRepo,
		messageRepo:  cfg.MessageRepo,
		userRepo:     cfg.UserRepo,
		publisher:    cfg.Publisher,
		historyCache: cfg.HistoryCache,
		current:      cfg.Current,
		indicators:   cfg.Indicators,
		llm:          cfg.LLM,
		defaultLLM:   cfg.DefaultLLM,
		maxContext:   cfg.MaxContext,
		maxFindings:  cfg.MaxFindings,
		logger:       cfg.Logger.Named("chat"),
		now:          time.Now,
		inflight:     make(map[string]struct{}),
	}
}

func (s *ChatService) CreateSession(ctx context.Context, input CreateSessionInput) (*model.Session, error) {
	if input.UserID == 0 {
		return nil, ErrInvalidInput
	}

	title := strings.TrimSpace(input.Title)
	if title == "" {
		title = defaultSessionTitle
	}

	session := &model.Session{
		ID:     uuid.NewString(),
		UserID: input.UserID,
		Title:  title,
	}
	if err := s.sessionRepo.Create(session); err != nil {
		return nil, err
	}
	if err := s.current.Set(ctx, input.UserID, session.ID); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *ChatService) ListSessions(userID uint) ([]model.Session, error) {
	if userID == 0 {
		return nil, ErrInvalidInput
	}
	return s.sessionRepo.ListByUserID(userID)
}

// CurrentSession returns the user's current session, creating one on first
// use or when the pointer refers to a deleted session.
func (s *ChatService) CurrentSession(ctx context.Context, userID uint) (*model.Session, error) {
	if userID == 0 {
		return nil, ErrInvalidInput
	}
	sessionID, err := s.current.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if sessionID != "" {
		session, err := s.sessionRepo.GetByIDAndUserID(sessionID, userID)
		if err != nil {
			return nil, err
		}
		if session != nil {
			return session, nil
		}
	}
	return s.CreateSession(ctx, CreateSessionInput{UserID: userID})
}

func (s *ChatService) SwitchSession(ctx context.Context, userID uint, sessionID string) (*model.Session, error) {
	if userID == 0 || strings.TrimSpace(sessionID) == "" {
		return nil, ErrInvalidInput
	}
	session, err := s.sessionRepo.GetByIDAndUserID(sessionID, userID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	if err := s.current.Set(ctx, userID, session.ID); err != nil {
		return nil, err
	}
	return session, nil
}

// DeleteSession removes the session with its messages. The current pointer
// is cleared when it referenced the session.
func (s *ChatService) DeleteSession(ctx context.Context, userID uint, sessionID string) error {
	if userID == 0 || strings.TrimSpace(sessionID) == "" {
		return ErrInvalidInput
	}
	session, err := s.sessionRepo.GetByIDAndUserID(sessionID, userID)
	if err != nil {
		return err
	}
	if session == nil {
		return ErrSessionNotFound
	}
	if err := s.messageRepo.DeleteBySessionID(sessionID); err != nil {
		return err
	}
	if err := s.sessionRepo.DeleteByIDAndUserID(sessionID, userID); err != nil {
		return err
	}
	if s.historyCache != nil {
		if err := s.historyCache.DeleteHistory(ctx, sessionID); err != nil {
			s.logger.Warn("drop history cache failed", zap.String("session_id", sessionID), zap.Error(err))
		}
	}

	current, err := s.current.Get(ctx, userID)
	if err != nil {
		return err
	}
	if current == sessionID {
		return s.current.Clear(ctx, userID)
	}
	return nil
}

func (s *ChatService) GetHistory(ctx context.Context, userID uint, sessionID string, limit int) ([]model.Message, error) {
	if userID == 0 || strings.TrimSpace(sessionID) == "" {
		return nil, ErrInvalidInput
	}

	session, err := s.sessionRepo.GetByIDAndUserID(sessionID, userID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}

	if s.historyCache != nil {
		dirty, err := s.historyCache.IsDirty(ctx, sessionID)
		if err == nil && !dirty {
			if cached, hit, cacheErr := s.historyCache.GetHistory(ctx, sessionID); cacheErr == nil && hit {
				return trimMessages(cached, limit), nil
			}
		}
	}

	messages, err := s.messageRepo.ListBySessionID(sessionID, limit)
	if err != nil {
		return nil, err
	}
	if s.historyCache != nil {
		if dirty, dirtyErr := s.historyCache.IsDirty(ctx, sessionID); dirtyErr == nil && !dirty {
			_ = s.historyCache.SetHistory(ctx, sessionID, messages)
		}
	}
	return messages, nil
}

// SendMessage runs one turn with a non-streaming completion.
func (s *ChatService) SendMessage(ctx context.Context, input SendMessageInput) (*ReplyResult, error) {
	t, err := s.beginTurn(ctx, input)
	if err != nil {
		return nil, err
	}
	defer s.release(t.session.ID)

	reply, llmErr := s.llm.Complete(ctx, t.cfg, t.prompt)
	return s.finishTurn(ctx, t, reply, llmErr)
}

// StreamMessage runs one turn, relaying fragments to onChunk as they arrive.
// Model failures do not surface as errors: the result is Degraded and holds
// the canned reply, which the caller has not yet seen.
func (s *ChatService) StreamMessage(ctx context.Context, input SendMessageInput, onChunk func(string) error) (*ReplyResult, error) {
	t, err := s.beginTurn(ctx, input)
	if err != nil {
		return nil, err
	}
	defer s.release(t.session.ID)

	reply, llmErr := s.llm.StreamComplete(ctx, t.cfg, t.prompt, onChunk)
	return s.finishTurn(ctx, t, reply, llmErr)
}

type turn struct {
	session *model.Session
	user    model.Message
	cfg     ai.ChatConfig
	prompt  []ai.ChatMessage
}

func (s *ChatService) beginTurn(ctx context.Context, input SendMessageInput) (*turn, error) {
	if input.UserID == 0 {
		return nil, ErrInvalidInput
	}
	content := strings.TrimSpace(input.Content)
	if content == "" {
		return nil, ErrMessageEmpty
	}
	if s.publisher == nil {
		return nil, ErrMessageEnqueue
	}

	session, err := s.resolveSession(ctx, input.UserID, strings.TrimSpace(input.SessionID))
	if err != nil {
		return nil, err
	}
	if !s.acquire(session.ID) {
		return nil, ErrReplyInFlight
	}

	t, err := s.prepareTurn(ctx, session, input, content)
	if err != nil {
		s.release(session.ID)
		return nil, err
	}
	return t, nil
}

func (s *ChatService) prepareTurn(ctx context.Context, session *model.Session, input SendMessageInput, content string) (*turn, error) {
	prompt, err := s.buildPromptMessages(ctx, input.UserID, session.ID, content)
	if err != nil {
		return nil, err
	}

	user := model.Message{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		UserID:    input.UserID,
		Role:      model.RoleUser,
		Content:   content,
		CreatedAt: s.now(),
	}
	s.invalidateHistory(ctx, session.ID)
	if err := s.publisher.Publish(ctx, user); err != nil {
		s.logger.Error("enqueue user message failed", zap.String("session_id", session.ID), zap.Error(err))
		return nil, ErrMessageEnqueue
	}
	if session.Title == defaultSessionTitle {
		s.retitle(session, content)
	}

	return &turn{
		session: session,
		user:    user,
		cfg:     s.resolveLLM(input.LLM),
		prompt:  prompt,
	}, nil
}

func (s *ChatService) finishTurn(ctx context.Context, t *turn, reply string, llmErr error) (*ReplyResult, error) {
	result := &ReplyResult{SessionID: t.session.ID, User: t.user}

	reply = strings.TrimSpace(reply)
	switch {
	case llmErr != nil:
		result.Degraded = true
		result.Cause = failureKind(llmErr)
		s.logger.Error("llm reply failed, using fallback",
			zap.String("session_id", t.session.ID),
			zap.String("cause", result.Cause),
			zap.Error(llmErr),
		)
		reply = fallbackReply(t.user.Content)
	case reply == "":
		result.Degraded = true
		result.Cause = "empty"
		reply = fallbackReply(t.user.Content)
	}

	assistant := model.Message{
		ID:        uuid.NewString(),
		SessionID: t.session.ID,
		UserID:    t.user.UserID,
		Role:      model.RoleAssistant,
		Content:   reply,
		CreatedAt: s.now(),
	}
	if !assistant.CreatedAt.After(t.user.CreatedAt) {
		assistant.CreatedAt = t.user.CreatedAt.Add(time.Millisecond)
	}
	// Detached so a client that hung up still gets its reply stored.
	persistCtx := context.WithoutCancel(ctx)
	s.invalidateHistory(persistCtx, t.session.ID)
	if err := s.publisher.Publish(persistCtx, assistant); err != nil {
		s.logger.Error("enqueue assistant message failed", zap.String("session_id", t.session.ID), zap.Error(err))
		return nil, ErrMessageEnqueue
	}

	result.Assistant = assistant
	return result, nil
}

func (s *ChatService) resolveSession(ctx context.Context, userID uint, sessionID string) (*model.Session, error) {
	if sessionID == "" {
		return s.CurrentSession(ctx, userID)
	}
	session, err := s.sessionRepo.GetByIDAndUserID(sessionID, userID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

func (s *ChatService) acquire(sessionID string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, busy := s.inflight[sessionID]; busy {
		return false
	}
	s.inflight[sessionID] = struct{}{}
	return true
}

func (s *ChatService) release(sessionID string) {
	s.inflightMu.Lock()
	delete(s.inflight, sessionID)
	s.inflightMu.Unlock()
}

func (s *ChatService) invalidateHistory(ctx context.Context, sessionID string) {
	if s.historyCache == nil {
		return
	}
	if err := s.historyCache.Invalidate(ctx, sessionID); err != nil {
		s.logger.Warn("invalidate history cache failed", zap.String("session_id", sessionID), zap.Error(err))
	}
}

func (s *ChatService) retitle(session *model.Session, firstInput string) {
	title := firstInput
	if utf8.RuneCountInString(title) > maxTitleRunes {
		title = string([]rune(title)[:maxTitleRunes]) + "…"
	}
	if err := s.sessionRepo.UpdateTitle(session.ID, title); err != nil {
		s.logger.Warn("update session title failed", zap.String("session_id", session.ID), zap.Error(err))
		return
	}
	session.Title = title
}

func trimMessages(messages []model.Message, limit int) []model.Message {
	if limit <= 0 || limit >= len(messages) {
		return messages
	}
	return messages[len(messages)-limit:]
}

func (s *ChatService) resolveLLM(override LLMOverride) ai.ChatConfig {
	cfg := s.defaultLLM
	if v := strings.TrimSpace(override.BaseURL); v != "" {
		cfg.BaseURL = v
	}
	if v := strings.TrimSpace(override.APIKey); v != "" {
		cfg.APIKey = v
	}
	if v := strings.TrimSpace(override.Model); v != "" {
		cfg.Model = v
	}
	return cfg
}

// buildPromptMessages lays out persona, recent lab findings, the last
// maxContext messages and the new input, in that order.
func (s *ChatService) buildPromptMessages(ctx context.Context, userID uint, sessionID, currentUserInput string) ([]ai.ChatMessage, error) {
	recent, err := s.messageRepo.ListRecentBySessionID(sessionID, s.maxContext)
	if err != nil {
		return nil, err
	}

	system := systemPersona
	if s.userRepo != nil {
		if user, err := s.userRepo.GetByID(userID); err == nil && user != nil && user.DiabetesType != "" {
			system += fmt.Sprintf("\n用户的糖尿病类型：%s。", user.DiabetesType)
		}
	}
	if s.indicators != nil {
		findings, err := s.indicators.Latest(ctx, userID, s.maxFindings)
		if err != nil {
			s.logger.Warn("load abnormal indicators failed", zap.Uint("user_id", userID), zap.Error(err))
		} else if len(findings) > 0 {
			var b strings.Builder
			b.WriteString("\n以下是用户近期化验单中的异常指标，回答时请结合参考：")
			for _, f := range findings {
				b.WriteString("\n- ")
				b.WriteString(f.Text)
			}
			system += b.String()
		}
	}

	messages := make([]ai.ChatMessage, 0, len(recent)+2)
	messages = append(messages, ai.ChatMessage{Role: ai.RoleSystem, Content: system})
	for _, item := range recent {
		role := item.Role
		if role != model.RoleAssistant {
			role = model.RoleUser
		}
		messages = append(messages, ai.ChatMessage{Role: role, Content: item.Content})
	}
	messages = append(messages, ai.ChatMessage{Role: ai.RoleUser, Content: currentUserInput})
	return messages, nil
}

func failureKind(err error) string {
	var (
		timeoutErr   *ai.TimeoutError
		protocolErr  *ai.ProtocolError
		transportErr *ai.TransportError
	)
	switch {
	case errors.Is(err, ai.ErrConfiguration), errors.Is(err, ai.ErrInvalidMessages):
		return "configuration"
	case errors.As(err, &timeoutErr):
		return "timeout"
	case errors.As(err, &protocolErr):
		return "protocol"
	case errors.As(err, &transportErr):
		return "transport"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "unknown"
	}
}

var fallbackTips = []struct {
	keywords []string
	tip      string
}{
	{[]string{"血糖", "空腹", "餐后"}, "一般建议空腹血糖控制在4.4–7.0 mmol/L，餐后2小时低于10.0 mmol/L，具体目标请遵医嘱。"},
	{[]string{"吃", "饮食", "食物", "主食"}, "饮食上可优先选择低GI食物，主食粗细搭配，控制总量并定时定量进餐。"},
	{[]string{"运动", "锻炼", "走路"}, "建议每周进行至少150分钟中等强度运动，如快走，避免空腹运动以防低血糖。"},
	{[]string{"药", "胰岛素"}, "用药和胰岛素剂量的调整请务必咨询您的医生，不要自行增减。"},
}

// fallbackReply is the canned answer used when the model is unavailable.
func fallbackReply(input string) string {
	reply := "抱歉，智能助手暂时无法连接，请稍后再试。"
	for _, t := range fallbackTips {
		for _, kw := range t.keywords {
			if strings.Contains(input, kw) {
				return reply + t.tip
			}
		}
	}
	return reply + "如有头晕、心慌、出冷汗等不适，请及时测量血糖并就医。"
}
