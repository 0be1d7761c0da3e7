package app

import (
	"context"
	"time"

	"glucomate/internal/ai"
	"glucomate/internal/model"
	"glucomate/internal/ocr"
	"glucomate/internal/store"
)

type SessionRepository interface {
	Create(session *model.Session) error
	ListByUserID(userID uint) ([]model.Session, error)
	GetByIDAndUserID(sessionID string, userID uint) (*model.Session, error)
	UpdateTitle(sessionID, title string) error
	DeleteByIDAndUserID(sessionID string, userID uint) error
}

type MessageRepository interface {
	ListBySessionID(sessionID string, limit int) ([]model.Message, error)
	ListRecentBySessionID(sessionID string, limit int) ([]model.Message, error)
	DeleteBySessionID(sessionID string) error
}

type UserRepository interface {
	Create(user *model.User) error
	GetByUsername(username string) (*model.User, error)
	GetByEmail(email string) (*model.User, error)
	GetByID(id uint) (*model.User, error)
}

type GlucoseRepository interface {
	Create(record *model.GlucoseRecord) error
	ListByUserID(userID uint, from, to time.Time, limit int) ([]model.GlucoseRecord, error)
}

type AsyncMessagePublisher interface {
	Publish(ctx context.Context, msg model.Message) error
}

type HistoryCache interface {
	GetHistory(ctx context.Context, sessionID string) ([]model.Message, bool, error)
	SetHistory(ctx context.Context, sessionID string, messages []model.Message) error
	Invalidate(ctx context.Context, sessionID string) error
	DeleteHistory(ctx context.Context, sessionID string) error
	IsDirty(ctx context.Context, sessionID string) (bool, error)
}

// ChatCompleter is satisfied by *ai.OpenAICompatibleClient.
type ChatCompleter interface {
	Complete(ctx context.Context, cfg ai.ChatConfig, messages []ai.ChatMessage) (string, error)
	StreamComplete(ctx context.Context, cfg ai.ChatConfig, messages []ai.ChatMessage, onChunk func(chunk string) error) (string, error)
}

type CurrentSessionStore interface {
	Get(ctx context.Context, userID uint) (string, error)
	Set(ctx context.Context, userID uint, sessionID string) error
	Clear(ctx context.Context, userID uint) error
}

type IndicatorStore interface {
	Append(ctx context.Context, userID uint, findings []string, ts time.Time, source string) error
	GetAll(ctx context.Context, userID uint) ([]store.AbnormalIndicator, error)
	Latest(ctx context.Context, userID uint, n int) ([]store.AbnormalIndicator, error)
	Clear(ctx context.Context, userID uint) error
}

type ReportRecognizer interface {
	Recognize(ctx context.Context, image []byte, options map[string]any) (*ocr.Result, error)
}

type SpeechRecognizer interface {
	Recognize(ctx context.Context, audio []byte) (string, error)
}
