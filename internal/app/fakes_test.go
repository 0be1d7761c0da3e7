package app

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"glucomate/internal/ai"
	"glucomate/internal/model"
	"glucomate/internal/ocr"
)

type fakeSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]model.Session
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{sessions: map[string]model.Session{}}
}

func (f *fakeSessionRepo) Create(s *model.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	s.CreatedAt, s.UpdatedAt = now, now
	f.sessions[s.ID] = *s
	return nil
}

func (f *fakeSessionRepo) ListByUserID(userID uint) ([]model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Session
	for _, s := range f.sessions {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (f *fakeSessionRepo) GetByIDAndUserID(id string, userID uint) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok || s.UserID != userID {
		return nil, nil
	}
	return &s, nil
}

func (f *fakeSessionRepo) UpdateTitle(id, title string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.sessions[id]
	s.Title = title
	f.sessions[id] = s
	return nil
}

func (f *fakeSessionRepo) DeleteByIDAndUserID(id string, userID uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[id]; ok && s.UserID == userID {
		delete(f.sessions, id)
	}
	return nil
}

// fakeMessages is both the message repository and a synchronous publisher.
type fakeMessages struct {
	mu         sync.Mutex
	messages   []model.Message
	publishErr error
}

func (f *fakeMessages) Publish(_ context.Context, msg model.Message) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakeMessages) bySession(id string) []model.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Message
	for _, m := range f.messages {
		if m.SessionID == id {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeMessages) ListBySessionID(id string, limit int) ([]model.Message, error) {
	out := f.bySession(id)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeMessages) ListRecentBySessionID(id string, limit int) ([]model.Message, error) {
	out := f.bySession(id)
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (f *fakeMessages) DeleteBySessionID(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.messages[:0]
	for _, m := range f.messages {
		if m.SessionID != id {
			kept = append(kept, m)
		}
	}
	f.messages = kept
	return nil
}

type fakeUsers struct {
	mu    sync.Mutex
	users []model.User
}

func (f *fakeUsers) Create(u *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u.ID = uint(len(f.users) + 1)
	f.users = append(f.users, *u)
	return nil
}

func (f *fakeUsers) find(match func(model.User) bool) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if match(u) {
			u := u
			return &u, nil
		}
	}
	return nil, nil
}

func (f *fakeUsers) GetByUsername(name string) (*model.User, error) {
	return f.find(func(u model.User) bool { return u.Username == name })
}

func (f *fakeUsers) GetByEmail(email string) (*model.User, error) {
	return f.find(func(u model.User) bool { return u.Email == email })
}

func (f *fakeUsers) GetByID(id uint) (*model.User, error) {
	return f.find(func(u model.User) bool { return u.ID == id })
}

type fakeLLM struct {
	mu      sync.Mutex
	prompts [][]ai.ChatMessage
	chunks  []string
	err     error
	started chan struct{}
	block   chan struct{}
}

func (f *fakeLLM) record(msgs []ai.ChatMessage) {
	f.mu.Lock()
	f.prompts = append(f.prompts, msgs)
	f.mu.Unlock()
}

func (f *fakeLLM) lastPrompt() []ai.ChatMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		return nil
	}
	return f.prompts[len(f.prompts)-1]
}

func (f *fakeLLM) Complete(_ context.Context, _ ai.ChatConfig, msgs []ai.ChatMessage) (string, error) {
	f.record(msgs)
	if f.err != nil {
		return "", f.err
	}
	return strings.Join(f.chunks, ""), nil
}

func (f *fakeLLM) StreamComplete(_ context.Context, _ ai.ChatConfig, msgs []ai.ChatMessage, onChunk func(string) error) (string, error) {
	f.record(msgs)
	if f.started != nil {
		close(f.started)
	}
	if f.block != nil {
		<-f.block
	}
	if f.err != nil {
		return "", f.err
	}
	for _, c := range f.chunks {
		if err := onChunk(c); err != nil {
			return "", err
		}
	}
	return strings.Join(f.chunks, ""), nil
}

type fakeRecognizer struct {
	result *ocr.Result
	err    error
}

func (f *fakeRecognizer) Recognize(context.Context, []byte, map[string]any) (*ocr.Result, error) {
	return f.result, f.err
}

type fakeSpeech struct {
	got  []byte
	text string
	err  error
}

func (f *fakeSpeech) Recognize(_ context.Context, audio []byte) (string, error) {
	f.got = audio
	return f.text, f.err
}

type fakeGlucoseRepo struct {
	records []model.GlucoseRecord
}

func (f *fakeGlucoseRepo) Create(r *model.GlucoseRecord) error {
	r.ID = uint(len(f.records) + 1)
	f.records = append(f.records, *r)
	return nil
}

func (f *fakeGlucoseRepo) ListByUserID(userID uint, from, to time.Time, limit int) ([]model.GlucoseRecord, error) {
	var out []model.GlucoseRecord
	for _, r := range f.records {
		if r.UserID == userID && !r.MeasuredAt.Before(from) && r.MeasuredAt.Before(to) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MeasuredAt.After(out[j].MeasuredAt) })
	return out, nil
}

var errBroker = errors.New("broker down")
