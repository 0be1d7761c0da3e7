package store

import (
	"context"
	"fmt"
)

// CurrentSessionStore holds the per-user pointer to the active chat session.
type CurrentSessionStore struct {
	kv KVStore
}

func NewCurrentSessionStore(kv KVStore) *CurrentSessionStore {
	return &CurrentSessionStore{kv: kv}
}

type currentSession struct {
	SessionID string `json:"session_id"`
}

func currentSessionKey(userID uint) string {
	return fmt.Sprintf("current-session:%d", userID)
}

// Get returns "" when no session is current.
func (s *CurrentSessionStore) Get(ctx context.Context, userID uint) (string, error) {
	raw, ok, err := s.kv.Get(ctx, currentSessionKey(userID))
	if err != nil || !ok {
		return "", err
	}
	var cur currentSession
	if err := decode(raw, &cur); err != nil {
		return "", err
	}
	return cur.SessionID, nil
}

func (s *CurrentSessionStore) Set(ctx context.Context, userID uint, sessionID string) error {
	raw, err := encode(currentSession{SessionID: sessionID})
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, currentSessionKey(userID), raw)
}

func (s *CurrentSessionStore) Clear(ctx context.Context, userID uint) error {
	return s.kv.Delete(ctx, currentSessionKey(userID))
}
