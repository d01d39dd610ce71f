package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/gokatarajesh/quizforge/internal/adaptive"
	"github.com/gokatarajesh/quizforge/internal/quiz"
)

// Store persists sessions and answers (implemented by the Postgres
// repositories and memstore.Store).
type Store interface {
	CreateSession(ctx context.Context, s *quiz.Session) error
	// SessionByToken returns quiz.ErrNotFound for unknown tokens.
	SessionByToken(ctx context.Context, token string) (*quiz.Session, error)
	UpdatePreferences(ctx context.Context, sessionID uuid.UUID, prefs quiz.Preferences, at time.Time) error
	// RecordAnswer marks the question answered, appends the answer and
	// replaces the session counters as one unit. It fails with
	// quiz.ErrConflict if the question was already answered or the session
	// version moved.
	RecordAnswer(ctx context.Context, rec quiz.AnswerRecord) error
	// CompleteSession transitions an active session and reports whether
	// this call performed the transition.
	CompleteSession(ctx context.Context, sessionID uuid.UUID, at time.Time) (bool, error)
	// QuestionByID returns quiz.ErrNotFound unless the question belongs to
	// the session.
	QuestionByID(ctx context.Context, sessionID, questionID uuid.UUID) (*quiz.Question, error)
	// ListAnswers returns the session's answers oldest first.
	ListAnswers(ctx context.Context, sessionID uuid.UUID) ([]quiz.Answer, error)
}

// Issuer hands out questions (implemented by question.Issuer).
type Issuer interface {
	IssueFirst(ctx context.Context, s *quiz.Session) (*quiz.Question, error)
	GetPending(ctx context.Context, s *quiz.Session) (*quiz.Question, error)
	IssueNext(ctx context.Context, s *quiz.Session) (*quiz.Question, error)
}

// CreateInput describes a new session. An absent MaxQuestions and an empty
// InitialDifficulty take the engine defaults.
type CreateInput struct {
	Content           string           `json:"content"`
	MaxQuestions      *int             `json:"maxQuestions,omitempty"`
	InitialDifficulty quiz.Difficulty  `json:"initialDifficulty"`
	Preferences       quiz.Preferences `json:"preferences"`
}

// SubmitInput is one answer submission. Response is the raw JSON answer,
// resolved against the question type.
type SubmitInput struct {
	QuestionID uuid.UUID       `json:"questionId"`
	Response   json.RawMessage `json:"answer"`
	LatencyMS  *int64          `json:"latencyMs,omitempty"`
}

// Stats are the session counters exposed to callers.
type Stats struct {
	Asked             int             `json:"asked"`
	Correct           int             `json:"correct"`
	WrongStreak       int             `json:"wrongStreak"`
	MaxQuestions      int             `json:"maxQuestions"`
	Remaining         int             `json:"remaining"`
	CurrentDifficulty quiz.Difficulty `json:"currentDifficulty"`
}

func statsOf(s *quiz.Session) Stats {
	return Stats{
		Asked:             s.Asked,
		Correct:           s.Correct,
		WrongStreak:       s.WrongStreak,
		MaxQuestions:      s.MaxQuestions,
		Remaining:         s.Remaining(),
		CurrentDifficulty: s.CurrentDifficulty,
	}
}

// Snapshot is the read view of a session.
type Snapshot struct {
	Token       string               `json:"token"`
	Status      quiz.Status          `json:"status"`
	Stats       Stats                `json:"stats"`
	Preferences quiz.Preferences     `json:"preferences"`
	Pending     *quiz.PublicQuestion `json:"pendingQuestion,omitempty"`
	CreatedAt   time.Time            `json:"createdAt"`
	UpdatedAt   time.Time            `json:"updatedAt"`
	FinishedAt  *time.Time           `json:"finishedAt,omitempty"`
}

func snapshotOf(s *quiz.Session, pending *quiz.Question) *Snapshot {
	return &Snapshot{
		Token:       s.Token,
		Status:      s.Status,
		Stats:       statsOf(s),
		Preferences: s.Preferences,
		Pending:     pending.Public(),
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
		FinishedAt:  s.FinishedAt,
	}
}

// AnswerResult reports the outcome of one submission.
type AnswerResult struct {
	QuestionID       uuid.UUID            `json:"questionId"`
	Correct          bool                 `json:"correct"`
	CorrectAnswer    []string             `json:"correctAnswer"`
	Explanation      string               `json:"explanation"`
	DifficultyBefore quiz.Difficulty      `json:"difficultyBefore"`
	DifficultyAfter  quiz.Difficulty      `json:"difficultyAfter"`
	Stats            Stats                `json:"stats"`
	Review           *adaptive.Suggestion `json:"review,omitempty"`
	Next             *quiz.PublicQuestion `json:"nextQuestion,omitempty"`
	// Done is set once the question budget is spent.
	Done bool `json:"done"`
}

// Summary is returned by Finish.
type Summary struct {
	Token             string    `json:"token"`
	Asked             int       `json:"asked"`
	Correct           int       `json:"correct"`
	MaxQuestions      int       `json:"maxQuestions"`
	Accuracy          float64   `json:"accuracy"`
	Points            int       `json:"points"`
	LongestCorrectRun int       `json:"longestCorrectRun"`
	FinishedAt        time.Time `json:"finishedAt"`
}
