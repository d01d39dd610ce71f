package question

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gokatarajesh/quizforge/internal/metrics"
	"github.com/gokatarajesh/quizforge/internal/quiz"
)

// Store persists issued questions (implemented by repository.QuestionRepository
// and memstore.Store).
type Store interface {
	// InsertQuestion fails with quiz.ErrConflict when the session already has
	// a pending question.
	InsertQuestion(ctx context.Context, q *quiz.Question) error
	// PendingQuestion returns nil, nil when every issued question is answered.
	PendingQuestion(ctx context.Context, sessionID uuid.UUID) (*quiz.Question, error)
	// ListStems returns the stems issued so far in the session.
	ListStems(ctx context.Context, sessionID uuid.UUID) ([]string, error)
}

// IssuerOptions configures an Issuer.
type IssuerOptions struct {
	AllowedTypes []quiz.QuestionType
	Metrics      *metrics.Metrics
	Now          func() time.Time
}

// Issuer hands out the questions of a session, one pending at a time.
type Issuer struct {
	store     Store
	generator Generator
	fallback  Synthesizer
	allowed   []quiz.QuestionType
	metrics   *metrics.Metrics
	now       func() time.Time
	logger    zerolog.Logger
}

// NewIssuer builds an Issuer. A nil generator means every question is
// synthesized locally.
func NewIssuer(store Store, generator Generator, opts IssuerOptions, logger zerolog.Logger) *Issuer {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	allowed := opts.AllowedTypes
	if len(allowed) == 0 {
		allowed = quiz.AllTypes
	}
	return &Issuer{
		store:     store,
		generator: generator,
		allowed:   allowed,
		metrics:   opts.Metrics,
		now:       now,
		logger:    logger.With().Str("component", "question_issuer").Logger(),
	}
}

// IssueFirst issues the opening question of a freshly created session.
func (i *Issuer) IssueFirst(ctx context.Context, s *quiz.Session) (*quiz.Question, error) {
	return i.issue(ctx, s)
}

// GetPending returns the session's unanswered question, or nil.
func (i *Issuer) GetPending(ctx context.Context, s *quiz.Session) (*quiz.Question, error) {
	return i.store.PendingQuestion(ctx, s.ID)
}

// IssueNext returns nil once the budget is spent, the pending question when
// there is one, and otherwise a newly issued question at the session's
// current difficulty.
func (i *Issuer) IssueNext(ctx context.Context, s *quiz.Session) (*quiz.Question, error) {
	if !s.HasBudget() {
		return nil, nil
	}
	pending, err := i.GetPending(ctx, s)
	if err != nil {
		return nil, err
	}
	if pending != nil {
		return pending, nil
	}
	return i.issue(ctx, s)
}

func (i *Issuer) issue(ctx context.Context, s *quiz.Session) (*quiz.Question, error) {
	stems, err := i.store.ListStems(ctx, s.ID)
	if err != nil {
		return nil, err
	}
	req := GenerateRequest{
		Content:      s.Content,
		Difficulty:   s.CurrentDifficulty,
		AllowedTypes: i.allowed,
		Avoid:        stems,
	}

	g, source := i.generate(ctx, s, req)
	q := &quiz.Question{
		ID:            uuid.New(),
		SessionID:     s.ID,
		Difficulty:    s.CurrentDifficulty,
		Type:          g.Type,
		Stem:          g.Stem,
		Choices:       g.Choices,
		CorrectAnswer: g.CorrectAnswer,
		Explanation:   g.Explanation,
		Topic:         g.Topic,
		Source:        source,
		ServedAt:      i.now().UTC(),
	}

	if err := i.store.InsertQuestion(ctx, q); err != nil {
		if errors.Is(err, quiz.ErrConflict) {
			// Lost a race with another issuer; serve the winner's question.
			pending, perr := i.store.PendingQuestion(ctx, s.ID)
			if perr == nil && pending != nil {
				return pending, nil
			}
		}
		return nil, err
	}

	i.logger.Debug().
		Str("session_id", s.ID.String()).
		Str("question_id", q.ID.String()).
		Str("difficulty", string(q.Difficulty)).
		Str("type", string(q.Type)).
		Str("source", source).
		Msg("question issued")
	return q, nil
}

func (i *Issuer) generate(ctx context.Context, s *quiz.Session, req GenerateRequest) (Generated, string) {
	if i.generator != nil {
		g, err := i.generator.Generate(ctx, req)
		if err == nil {
			return g, quiz.SourceGenerator
		}
		if !errors.Is(err, quiz.ErrUpstreamGeneration) {
			err = fmt.Errorf("%w: %v", quiz.ErrUpstreamGeneration, err)
		}
		i.logger.Warn().Err(err).
			Str("session_id", s.ID.String()).
			Str("difficulty", string(req.Difficulty)).
			Msg("generator exhausted, synthesizing fallback question")
	}
	i.metrics.Fallback()
	return i.fallback.Synthesize(req), quiz.SourceFallback
}
