package store

import (
	"context"
	"fmt"
	"time"
)

// AbnormalIndicator is one persisted finding line.
type AbnormalIndicator struct {
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
}

// AbnormalIndicatorStore is an append-only log per user over one KV blob.
// Appends never deduplicate against earlier entries.
type AbnormalIndicatorStore struct {
	kv KVStore
}

func NewAbnormalIndicatorStore(kv KVStore) *AbnormalIndicatorStore {
	return &AbnormalIndicatorStore{kv: kv}
}

func indicatorKey(userID uint) string {
	return fmt.Sprintf("abnormal-indicators:%d", userID)
}

func (s *AbnormalIndicatorStore) Append(ctx context.Context, userID uint, findings []string, ts time.Time, source string) error {
	if len(findings) == 0 {
		return nil
	}
	return s.kv.Update(ctx, indicatorKey(userID), func(current []byte) ([]byte, error) {
		var list []AbnormalIndicator
		if current != nil {
			if err := decode(current, &list); err != nil {
				return nil, err
			}
		}
		for _, text := range findings {
			list = append(list, AbnormalIndicator{Text: text, Timestamp: ts, Source: source})
		}
		return encode(list)
	})
}

// GetAll returns entries oldest first; an empty slice when nothing is stored.
func (s *AbnormalIndicatorStore) GetAll(ctx context.Context, userID uint) ([]AbnormalIndicator, error) {
	raw, ok, err := s.kv.Get(ctx, indicatorKey(userID))
	if err != nil {
		return nil, err
	}
	list := make([]AbnormalIndicator, 0)
	if !ok {
		return list, nil
	}
	if err := decode(raw, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// Latest returns up to n most recent entries, oldest first.
func (s *AbnormalIndicatorStore) Latest(ctx context.Context, userID uint, n int) ([]AbnormalIndicator, error) {
	list, err := s.GetAll(ctx, userID)
	if err != nil {
		return nil, err
	}
	if n > 0 && len(list) > n {
		list = list[len(list)-n:]
	}
	return list, nil
}

func (s *AbnormalIndicatorStore) Clear(ctx context.Context, userID uint) error {
	return s.kv.Delete(ctx, indicatorKey(userID))
}
