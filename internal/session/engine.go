// Package session owns the session lifecycle and runs each answer through
// evaluation, the difficulty controller and the review trigger.
package session

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gokatarajesh/quizforge/internal/adaptive"
	"github.com/gokatarajesh/quizforge/internal/events"
	"github.com/gokatarajesh/quizforge/internal/grading"
	"github.com/gokatarajesh/quizforge/internal/metrics"
	"github.com/gokatarajesh/quizforge/internal/quiz"
	"github.com/gokatarajesh/quizforge/internal/scoring"
)

// Options tunes the Engine. Zero values take defaults.
type Options struct {
	MaxQuestionsLimit   int
	DefaultMaxQuestions int
	LockWait            time.Duration
	Locker              Locker
	Review              *adaptive.ReviewTrigger
	Publisher           events.Publisher
	Scoring             *scoring.Engine
	Metrics             *metrics.Metrics
	Now                 func() time.Time
}

// Engine is the surface the HTTP layer talks to.
type Engine struct {
	store      Store
	issuer     Issuer
	locker     Locker
	review     *adaptive.ReviewTrigger
	publisher  events.Publisher
	scoring    *scoring.Engine
	metrics    *metrics.Metrics
	now        func() time.Time
	limit      int
	defaultMax int
	lockWait   time.Duration
	logger     zerolog.Logger
}

func NewEngine(store Store, issuer Issuer, opts Options, logger zerolog.Logger) *Engine {
	e := &Engine{
		store:      store,
		issuer:     issuer,
		locker:     opts.Locker,
		review:     opts.Review,
		publisher:  opts.Publisher,
		scoring:    opts.Scoring,
		metrics:    opts.Metrics,
		now:        opts.Now,
		limit:      opts.MaxQuestionsLimit,
		defaultMax: opts.DefaultMaxQuestions,
		lockWait:   opts.LockWait,
		logger:     logger.With().Str("component", "session_engine").Logger(),
	}
	if e.locker == nil {
		e.locker = NewLocalLocker()
	}
	if e.review == nil {
		e.review = adaptive.NewReviewTrigger(adaptive.DefaultReviewStreak, nil)
	}
	if e.publisher == nil {
		e.publisher = events.Nop{}
	}
	if e.scoring == nil {
		e.scoring = scoring.NewEngine(scoring.DefaultScoringConfig())
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.limit <= 0 || e.limit > quiz.MaxQuestionsLimit {
		e.limit = quiz.MaxQuestionsLimit
	}
	if e.defaultMax <= 0 || e.defaultMax > e.limit {
		e.defaultMax = min(10, e.limit)
	}
	if e.lockWait <= 0 {
		e.lockWait = 5 * time.Second
	}
	return e
}

// CreateSession validates input, stores a fresh session and issues its first
// question.
func (e *Engine) CreateSession(ctx context.Context, ownerID uuid.UUID, in CreateInput) (*Snapshot, error) {
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return nil, fmt.Errorf("%w: content is required", quiz.ErrValidation)
	}
	maxQuestions := e.defaultMax
	if in.MaxQuestions != nil {
		maxQuestions = *in.MaxQuestions
	}
	if maxQuestions < 1 || maxQuestions > e.limit {
		return nil, fmt.Errorf("%w: maxQuestions must be between 1 and %d", quiz.ErrValidation, e.limit)
	}
	difficulty := in.InitialDifficulty
	if difficulty == "" {
		difficulty = quiz.DifficultyMedium
	}
	if !difficulty.Valid() {
		return nil, fmt.Errorf("%w: unknown difficulty %q", quiz.ErrValidation, difficulty)
	}
	if err := in.Preferences.Validate(); err != nil {
		return nil, err
	}

	now := e.now().UTC()
	s := &quiz.Session{
		ID:                uuid.New(),
		Token:             newToken(),
		OwnerID:           ownerID,
		Status:            quiz.StatusActive,
		CurrentDifficulty: difficulty,
		MaxQuestions:      maxQuestions,
		Preferences:       quiz.Preferences{}.Merge(in.Preferences),
		Content:           content,
		Version:           1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := e.store.CreateSession(ctx, s); err != nil {
		return nil, err
	}

	first, err := e.issuer.IssueFirst(ctx, s)
	if err != nil {
		e.abandon(ctx, s)
		return nil, err
	}

	e.metrics.SessionCreated()
	e.logger.Info().
		Str("session_id", s.ID.String()).
		Str("owner_id", ownerID.String()).
		Int("max_questions", maxQuestions).
		Str("difficulty", string(difficulty)).
		Msg("session created")
	e.publish(ctx, events.TypeSessionCreated, s, map[string]any{
		"maxQuestions": s.MaxQuestions,
		"difficulty":   s.CurrentDifficulty,
	})

	return snapshotOf(s, first), nil
}

// GetSnapshot returns the session counters and its pending question.
func (e *Engine) GetSnapshot(ctx context.Context, token string, ownerID uuid.UUID) (*Snapshot, error) {
	s, err := e.load(ctx, token, ownerID)
	if err != nil {
		return nil, err
	}
	if s.Status != quiz.StatusActive {
		return snapshotOf(s, nil), nil
	}
	pending, err := e.issuer.GetPending(ctx, s)
	if err != nil {
		return nil, err
	}
	return snapshotOf(s, pending), nil
}

// NextQuestion returns the pending question, issuing one if the budget
// allows. It returns nil once the session is completed or the budget spent.
func (e *Engine) NextQuestion(ctx context.Context, token string, ownerID uuid.UUID) (*quiz.PublicQuestion, error) {
	var next *quiz.Question
	err := e.withSession(ctx, token, ownerID, func(s *quiz.Session) error {
		if s.Status != quiz.StatusActive {
			return nil
		}
		q, err := e.issuer.IssueNext(ctx, s)
		next = q
		return err
	})
	if err != nil {
		return nil, err
	}
	return next.Public(), nil
}

// maxLatencyMS is the largest client latency that converts to a Duration.
const maxLatencyMS = math.MaxInt64 / int64(time.Millisecond)

// SubmitAnswer evaluates one answer to the pending question and advances the
// session.
func (e *Engine) SubmitAnswer(ctx context.Context, token string, ownerID uuid.UUID, in SubmitInput) (*AnswerResult, error) {
	if in.LatencyMS != nil && (*in.LatencyMS < 0 || *in.LatencyMS > maxLatencyMS) {
		return nil, fmt.Errorf("%w: latencyMs must be between 0 and %d", quiz.ErrValidation, maxLatencyMS)
	}

	var result *AnswerResult
	err := e.withSession(ctx, token, ownerID, func(s *quiz.Session) error {
		if s.Status != quiz.StatusActive {
			return fmt.Errorf("%w: session is completed", quiz.ErrConflict)
		}
		q, err := e.store.QuestionByID(ctx, s.ID, in.QuestionID)
		if err != nil {
			return err
		}
		if !q.Pending() {
			return fmt.Errorf("%w: question already answered", quiz.ErrConflict)
		}
		response, err := quiz.DecodeResponse(q.Type, in.Response)
		if err != nil {
			return err
		}

		var latency *time.Duration
		if in.LatencyMS != nil {
			d := time.Duration(*in.LatencyMS) * time.Millisecond
			latency = &d
		}

		correct := grading.Evaluate(q.Type, q.CorrectAnswer, response)
		before := s.CurrentDifficulty
		if err := e.applyAnswerOutcome(ctx, s, q, response, correct, latency); err != nil {
			return err
		}

		e.metrics.AnswerEvaluated(string(q.Type), correct)
		e.logger.Info().
			Str("session_id", s.ID.String()).
			Str("question_id", q.ID.String()).
			Bool("correct", correct).
			Str("difficulty_from", string(before)).
			Str("difficulty_to", string(s.CurrentDifficulty)).
			Int("asked", s.Asked).
			Msg("answer evaluated")

		result = &AnswerResult{
			QuestionID:       q.ID,
			Correct:          correct,
			CorrectAnswer:    q.CorrectAnswer,
			Explanation:      q.Explanation,
			DifficultyBefore: before,
			DifficultyAfter:  s.CurrentDifficulty,
			Stats:            statsOf(s),
			Done:             !s.HasBudget(),
		}
		e.publish(ctx, events.TypeAnswerEvaluated, s, map[string]any{
			"questionId":       q.ID,
			"correct":          correct,
			"difficultyBefore": before,
			"difficultyAfter":  s.CurrentDifficulty,
			"stats":            result.Stats,
		})

		result.Review = e.evaluateReview(ctx, s)

		if s.HasBudget() {
			next, err := e.issuer.IssueNext(ctx, s)
			if err != nil {
				// The answer is committed; the client can fetch the next
				// question later.
				e.logger.Error().Err(err).Str("session_id", s.ID.String()).Msg("prefetch next question failed")
			} else {
				result.Next = next.Public()
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// applyAnswerOutcome moves the counters forward for one evaluated answer and
// persists question, answer and session together. s and q reflect the stored
// state on success.
func (e *Engine) applyAnswerOutcome(ctx context.Context, s *quiz.Session, q *quiz.Question, response quiz.Response, correct bool, latency *time.Duration) error {
	if !s.HasBudget() {
		return fmt.Errorf("%w: question budget exhausted", quiz.ErrConflict)
	}
	now := e.now().UTC()
	if latency == nil {
		if d := now.Sub(q.ServedAt); d >= 0 {
			latency = &d
		}
	}

	updated := *s
	adaptive.Advance(adaptive.ProgressOf(s), correct, s.Preferences.DifficultyCap).Apply(&updated)
	updated.Version = s.Version + 1
	updated.UpdatedAt = now

	rec := quiz.AnswerRecord{
		Session:         updated,
		ExpectedVersion: s.Version,
		Answer: quiz.Answer{
			ID:         uuid.New(),
			SessionID:  s.ID,
			QuestionID: q.ID,
			Response:   response,
			IsCorrect:  correct,
			Latency:    latency,
			CreatedAt:  now,
		},
	}
	if err := e.store.RecordAnswer(ctx, rec); err != nil {
		return err
	}

	*s = updated
	q.AnsweredAt = &now
	return nil
}

func (e *Engine) evaluateReview(ctx context.Context, s *quiz.Session) *adaptive.Suggestion {
	suggestion, err := e.review.Evaluate(ctx, s)
	if err != nil {
		// Advisory only.
		e.logger.Warn().Err(err).Str("session_id", s.ID.String()).Msg("review trigger unavailable")
		return nil
	}
	if suggestion == nil {
		return nil
	}
	e.metrics.ReviewSuggested()
	e.logger.Info().
		Str("session_id", s.ID.String()).
		Int("streak", suggestion.Streak).
		Str("ease_to", string(suggestion.EaseTo)).
		Msg("review suggested")
	e.publish(ctx, events.TypeReviewSuggested, s, suggestion)
	return suggestion
}

// SetPreferences merges prefs into the session. A new cap below the current
// difficulty only clamps future steps.
func (e *Engine) SetPreferences(ctx context.Context, token string, ownerID uuid.UUID, prefs quiz.Preferences) (*Snapshot, error) {
	if err := prefs.Validate(); err != nil {
		return nil, err
	}
	var snap *Snapshot
	err := e.withSession(ctx, token, ownerID, func(s *quiz.Session) error {
		if s.Status != quiz.StatusActive {
			return fmt.Errorf("%w: session is completed", quiz.ErrConflict)
		}
		merged := s.Preferences.Merge(prefs)
		now := e.now().UTC()
		if err := e.store.UpdatePreferences(ctx, s.ID, merged, now); err != nil {
			return err
		}
		s.Preferences = merged
		s.UpdatedAt = now

		pending, err := e.issuer.GetPending(ctx, s)
		if err != nil {
			return err
		}
		snap = snapshotOf(s, pending)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// Finish completes the session and summarizes it. Finishing twice returns
// the same summary and emits no second event.
func (e *Engine) Finish(ctx context.Context, token string, ownerID uuid.UUID) (*Summary, error) {
	var summary *Summary
	err := e.withSession(ctx, token, ownerID, func(s *quiz.Session) error {
		transitioned := false
		if s.Status == quiz.StatusActive {
			var err error
			transitioned, err = e.store.CompleteSession(ctx, s.ID, e.now().UTC())
			if err != nil {
				return err
			}
			fresh, err := e.store.SessionByToken(ctx, token)
			if err != nil {
				return err
			}
			*s = *fresh
		}

		answers, err := e.store.ListAnswers(ctx, s.ID)
		if err != nil {
			return err
		}
		summary = e.summarize(s, answers)

		if transitioned {
			e.metrics.SessionFinished()
			e.logger.Info().
				Str("session_id", s.ID.String()).
				Int("asked", s.Asked).
				Int("correct", s.Correct).
				Int("points", summary.Points).
				Msg("session finished")
			e.publish(ctx, events.TypeSessionFinished, s, summary)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return summary, nil
}

func (e *Engine) summarize(s *quiz.Session, answers []quiz.Answer) *Summary {
	results := make([]bool, len(answers))
	elapsed := make([]time.Duration, len(answers))
	worst := e.scoring.Config().ZeroBonus
	for i, a := range answers {
		results[i] = a.IsCorrect
		elapsed[i] = worst
		if a.Latency != nil {
			elapsed[i] = *a.Latency
		}
	}
	scored := e.scoring.ComputeAttemptScore(scoring.Attempt{Correct: results, Elapsed: elapsed})

	summary := &Summary{
		Token:             s.Token,
		Asked:             s.Asked,
		Correct:           s.Correct,
		MaxQuestions:      s.MaxQuestions,
		Points:            scored.Points,
		LongestCorrectRun: adaptive.LongestCorrectRun(results),
	}
	if s.Asked > 0 {
		summary.Accuracy = float64(s.Correct) / float64(s.Asked)
	}
	if s.FinishedAt != nil {
		summary.FinishedAt = *s.FinishedAt
	}
	return summary
}

// abandon closes a session whose first question could not be issued. The
// caller never receives its token, so it must not stay active.
func (e *Engine) abandon(ctx context.Context, s *quiz.Session) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if _, err := e.store.CompleteSession(ctx, s.ID, e.now().UTC()); err != nil {
		e.logger.Error().Err(err).Str("session_id", s.ID.String()).Msg("abandon session failed")
	}
}

// load resolves a token for its owner. A session owned by someone else is
// reported as not found.
func (e *Engine) load(ctx context.Context, token string, ownerID uuid.UUID) (*quiz.Session, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: session", quiz.ErrNotFound)
	}
	s, err := e.store.SessionByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if s.OwnerID != ownerID {
		return nil, fmt.Errorf("%w: session", quiz.ErrNotFound)
	}
	return s, nil
}

// withSession runs fn under the session lock with a freshly loaded session.
func (e *Engine) withSession(ctx context.Context, token string, ownerID uuid.UUID, fn func(s *quiz.Session) error) error {
	s, err := e.load(ctx, token, ownerID)
	if err != nil {
		return err
	}

	lockCtx, cancel := context.WithTimeout(ctx, e.lockWait)
	defer cancel()
	unlock, err := e.locker.Lock(lockCtx, s.ID)
	if err != nil {
		return err
	}
	defer unlock()

	// Reload now that no other writer can interleave.
	s, err = e.load(ctx, token, ownerID)
	if err != nil {
		return err
	}
	return fn(s)
}

func (e *Engine) publish(ctx context.Context, eventType string, s *quiz.Session, payload any) {
	evt, err := events.New(eventType, s.Token, s.OwnerID, e.now().UTC(), payload)
	if err == nil {
		err = e.publisher.Publish(ctx, evt)
	}
	if err != nil {
		e.logger.Warn().Err(err).Str("event", eventType).Str("session_id", s.ID.String()).Msg("event publish failed")
	}
}

func newToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// IsCallerError reports whether err belongs to the caller-facing part of the
// taxonomy.
func IsCallerError(err error) bool {
	return errors.Is(err, quiz.ErrValidation) || errors.Is(err, quiz.ErrNotFound) || errors.Is(err, quiz.ErrConflict)
}
