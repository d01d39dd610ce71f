// Package memstore is an in-process store for sessions, questions and
// answers. It backs STORE_DRIVER=memory and the engine tests.
package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gokatarajesh/quizforge/internal/quiz"
)

// Store keeps copies of every record so callers never share memory with it.
type Store struct {
	mu        sync.RWMutex
	sessions  map[uuid.UUID]*quiz.Session
	tokens    map[string]uuid.UUID
	questions map[uuid.UUID]*quiz.Question
	bySession map[uuid.UUID][]uuid.UUID
	answers   map[uuid.UUID][]quiz.Answer
}

func New() *Store {
	return &Store{
		sessions:  make(map[uuid.UUID]*quiz.Session),
		tokens:    make(map[string]uuid.UUID),
		questions: make(map[uuid.UUID]*quiz.Question),
		bySession: make(map[uuid.UUID][]uuid.UUID),
		answers:   make(map[uuid.UUID][]quiz.Answer),
	}
}

func (m *Store) CreateSession(_ context.Context, s *quiz.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[s.ID]; exists {
		return fmt.Errorf("%w: session %s exists", quiz.ErrConflict, s.ID)
	}
	if _, exists := m.tokens[s.Token]; exists {
		return fmt.Errorf("%w: token exists", quiz.ErrConflict)
	}
	m.sessions[s.ID] = copySession(s)
	m.tokens[s.Token] = s.ID
	return nil
}

func (m *Store) SessionByToken(_ context.Context, token string) (*quiz.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.tokens[token]
	if !ok {
		return nil, fmt.Errorf("%w: session", quiz.ErrNotFound)
	}
	return copySession(m.sessions[id]), nil
}

func (m *Store) UpdatePreferences(_ context.Context, sessionID uuid.UUID, prefs quiz.Preferences, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return fmt.Errorf("%w: session", quiz.ErrNotFound)
	}
	s.Preferences = quiz.Preferences{}.Merge(prefs)
	s.UpdatedAt = at
	return nil
}

func (m *Store) RecordAnswer(_ context.Context, rec quiz.AnswerRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[rec.Session.ID]
	if !ok {
		return fmt.Errorf("%w: session", quiz.ErrNotFound)
	}
	if s.Version != rec.ExpectedVersion {
		return fmt.Errorf("%w: session version %d, expected %d", quiz.ErrConflict, s.Version, rec.ExpectedVersion)
	}
	q, ok := m.questions[rec.Answer.QuestionID]
	if !ok || q.SessionID != s.ID {
		return fmt.Errorf("%w: question", quiz.ErrNotFound)
	}
	if !q.Pending() {
		return fmt.Errorf("%w: question already answered", quiz.ErrConflict)
	}

	answeredAt := rec.Answer.CreatedAt
	q.AnsweredAt = &answeredAt
	m.answers[s.ID] = append(m.answers[s.ID], copyAnswer(rec.Answer))

	s.Asked = rec.Session.Asked
	s.Correct = rec.Session.Correct
	s.WrongStreak = rec.Session.WrongStreak
	s.CurrentDifficulty = rec.Session.CurrentDifficulty
	s.Version = rec.Session.Version
	s.UpdatedAt = rec.Session.UpdatedAt
	return nil
}

func (m *Store) CompleteSession(_ context.Context, sessionID uuid.UUID, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return false, fmt.Errorf("%w: session", quiz.ErrNotFound)
	}
	if s.Status != quiz.StatusActive {
		return false, nil
	}
	s.Status = quiz.StatusCompleted
	s.FinishedAt = &at
	s.UpdatedAt = at
	s.Version++
	return true, nil
}

func (m *Store) QuestionByID(_ context.Context, sessionID, questionID uuid.UUID) (*quiz.Question, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, ok := m.questions[questionID]
	if !ok || q.SessionID != sessionID {
		return nil, fmt.Errorf("%w: question", quiz.ErrNotFound)
	}
	return copyQuestion(q), nil
}

func (m *Store) ListAnswers(_ context.Context, sessionID uuid.UUID) ([]quiz.Answer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]quiz.Answer, 0, len(m.answers[sessionID]))
	for _, a := range m.answers[sessionID] {
		out = append(out, copyAnswer(a))
	}
	return out, nil
}

func (m *Store) InsertQuestion(_ context.Context, q *quiz.Question) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[q.SessionID]; !ok {
		return fmt.Errorf("%w: session", quiz.ErrNotFound)
	}
	for _, id := range m.bySession[q.SessionID] {
		if m.questions[id].Pending() {
			return fmt.Errorf("%w: session already has a pending question", quiz.ErrConflict)
		}
	}
	m.questions[q.ID] = copyQuestion(q)
	m.bySession[q.SessionID] = append(m.bySession[q.SessionID], q.ID)
	return nil
}

func (m *Store) PendingQuestion(_ context.Context, sessionID uuid.UUID) (*quiz.Question, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, id := range m.bySession[sessionID] {
		if q := m.questions[id]; q.Pending() {
			return copyQuestion(q), nil
		}
	}
	return nil, nil
}

func (m *Store) ListStems(_ context.Context, sessionID uuid.UUID) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stems := make([]string, 0, len(m.bySession[sessionID]))
	for _, id := range m.bySession[sessionID] {
		stems = append(stems, m.questions[id].Stem)
	}
	return stems, nil
}

func copySession(s *quiz.Session) *quiz.Session {
	cp := *s
	cp.Preferences = quiz.Preferences{}.Merge(s.Preferences)
	if s.FinishedAt != nil {
		t := *s.FinishedAt
		cp.FinishedAt = &t
	}
	return &cp
}

func copyQuestion(q *quiz.Question) *quiz.Question {
	cp := *q
	cp.Choices = append([]quiz.Choice(nil), q.Choices...)
	cp.CorrectAnswer = append([]string(nil), q.CorrectAnswer...)
	if q.AnsweredAt != nil {
		t := *q.AnsweredAt
		cp.AnsweredAt = &t
	}
	return &cp
}

func copyAnswer(a quiz.Answer) quiz.Answer {
	cp := a
	cp.Response.Items = append([]string(nil), a.Response.Items...)
	if a.Latency != nil {
		d := *a.Latency
		cp.Latency = &d
	}
	return cp
}
