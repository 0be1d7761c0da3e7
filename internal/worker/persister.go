package worker

import (
	"context"
	"time"

	"glucomate/internal/model"
)

type MessageStore interface {
	Create(message *model.Message) error
}

type SessionToucher interface {
	Touch(sessionID string, at time.Time) error
}

// Persister writes a message and advances its session's updated_at.
type Persister struct {
	messages MessageStore
	sessions SessionToucher
}

func NewPersister(messages MessageStore, sessions SessionToucher) *Persister {
	return &Persister{messages: messages, sessions: sessions}
}

func (p *Persister) Persist(msg model.Message) error {
	if err := p.messages.Create(&msg); err != nil {
		return err
	}
	at := msg.CreatedAt
	if at.IsZero() {
		at = time.Now()
	}
	return p.sessions.Touch(msg.SessionID, at)
}

// DirectPublisher persists synchronously. It stands in for the queue when
// RabbitMQ is not configured.
type DirectPublisher struct {
	persister *Persister
}

func NewDirectPublisher(persister *Persister) *DirectPublisher {
	return &DirectPublisher{persister: persister}
}

func (p *DirectPublisher) Publish(_ context.Context, msg model.Message) error {
	return p.persister.Persist(msg)
}
