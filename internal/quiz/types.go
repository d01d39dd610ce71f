package quiz

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Difficulty is a totally ordered level: easy < medium < hard.
type Difficulty string

// Difficulty constants for readability.
const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

var difficultyOrder = []Difficulty{DifficultyEasy, DifficultyMedium, DifficultyHard}

// ParseDifficulty accepts a level name in any case.
func ParseDifficulty(s string) (Difficulty, error) {
	d := Difficulty(strings.ToLower(strings.TrimSpace(s)))
	if !d.Valid() {
		return "", fmt.Errorf("%w: unknown difficulty %q", ErrValidation, s)
	}
	return d, nil
}

// Rank returns the position of d in the ordering, or -1 when d is not a level.
func (d Difficulty) Rank() int {
	for i, level := range difficultyOrder {
		if level == d {
			return i
		}
	}
	return -1
}

func (d Difficulty) Valid() bool {
	return d.Rank() >= 0
}

// Harder returns the next level up, saturating at hard.
func (d Difficulty) Harder() Difficulty {
	r := d.Rank()
	if r < 0 || r == len(difficultyOrder)-1 {
		return d
	}
	return difficultyOrder[r+1]
}

// Easier returns the next level down, saturating at easy.
func (d Difficulty) Easier() Difficulty {
	r := d.Rank()
	if r <= 0 {
		return d
	}
	return difficultyOrder[r-1]
}

// QuestionType is the shape of a question and its answer.
type QuestionType string

// Type constants.
const (
	TypeMultipleChoice QuestionType = "multiple_choice"
	TypeTrueFalse      QuestionType = "true_false"
	TypeIdentification QuestionType = "identification"
	TypeEnumeration    QuestionType = "enumeration"
)

// AllTypes lists every supported question type.
var AllTypes = []QuestionType{TypeMultipleChoice, TypeTrueFalse, TypeIdentification, TypeEnumeration}

// ParseQuestionType accepts a type name in any case.
func ParseQuestionType(s string) (QuestionType, error) {
	t := QuestionType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: unknown question type %q", ErrValidation, s)
	}
	return t, nil
}

func (t QuestionType) Valid() bool {
	for _, known := range AllTypes {
		if known == t {
			return true
		}
	}
	return false
}

// IsChoice reports whether answers are picked from a choice set.
func (t QuestionType) IsChoice() bool {
	return t == TypeMultipleChoice || t == TypeTrueFalse
}

// Status is the session lifecycle state.
type Status string

// Session lifecycle states.
const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

// MaxQuestionsLimit bounds Session.MaxQuestions.
const MaxQuestionsLimit = 50

// Preferences are user-tunable session options.
type Preferences struct {
	DifficultyCap *Difficulty `json:"difficultyCap,omitempty"`
}

// Merge overlays the fields set in update onto p.
func (p Preferences) Merge(update Preferences) Preferences {
	if update.DifficultyCap != nil {
		capped := *update.DifficultyCap
		p.DifficultyCap = &capped
	}
	return p
}

// Validate rejects unknown levels.
func (p Preferences) Validate() error {
	if p.DifficultyCap != nil && !p.DifficultyCap.Valid() {
		return fmt.Errorf("%w: unknown difficulty cap %q", ErrValidation, *p.DifficultyCap)
	}
	return nil
}

// Session is one adaptive quiz run over a piece of source content.
type Session struct {
	ID                uuid.UUID
	Token             string
	OwnerID           uuid.UUID
	Status            Status
	CurrentDifficulty Difficulty
	Asked             int
	Correct           int
	WrongStreak       int
	MaxQuestions      int
	Preferences       Preferences
	Content           string
	// Version increments on every persisted counter update.
	Version    int
	CreatedAt  time.Time
	UpdatedAt  time.Time
	FinishedAt *time.Time
}

// HasBudget reports whether more questions may be asked.
func (s *Session) HasBudget() bool {
	return s.Asked < s.MaxQuestions
}

// Remaining returns how many questions are left in the budget.
func (s *Session) Remaining() int {
	if s.Asked >= s.MaxQuestions {
		return 0
	}
	return s.MaxQuestions - s.Asked
}

// Choice is one selectable option of a choice-based question.
type Choice struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Question sources.
const (
	SourceGenerator = "generator"
	SourceFallback  = "fallback"
)

// Question is an issued question. CorrectAnswer holds one element for
// single-answer types and the full item set for enumeration.
type Question struct {
	ID            uuid.UUID
	SessionID     uuid.UUID
	Difficulty    Difficulty
	Type          QuestionType
	Stem          string
	Choices       []Choice
	CorrectAnswer []string
	Explanation   string
	Topic         string
	Source        string
	ServedAt      time.Time
	AnsweredAt    *time.Time
}

// Pending reports whether the question still awaits its answer.
func (q *Question) Pending() bool {
	return q.AnsweredAt == nil
}

// PublicQuestion is the client-facing view; it never carries the answer.
type PublicQuestion struct {
	ID         uuid.UUID    `json:"id"`
	Difficulty Difficulty   `json:"difficulty"`
	Type       QuestionType `json:"type"`
	Stem       string       `json:"stem"`
	Choices    []Choice     `json:"choices,omitempty"`
	Topic      string       `json:"topic,omitempty"`
	ServedAt   time.Time    `json:"servedAt"`
}

func (q *Question) Public() *PublicQuestion {
	if q == nil {
		return nil
	}
	return &PublicQuestion{
		ID:         q.ID,
		Difficulty: q.Difficulty,
		Type:       q.Type,
		Stem:       q.Stem,
		Choices:    q.Choices,
		Topic:      q.Topic,
		ServedAt:   q.ServedAt,
	}
}

// Answer is an append-only record of one submission.
type Answer struct {
	ID         uuid.UUID
	SessionID  uuid.UUID
	QuestionID uuid.UUID
	Response   Response
	IsCorrect  bool
	Latency    *time.Duration
	CreatedAt  time.Time
}

// AnswerRecord is the unit persisted atomically when an answer is applied:
// the question is marked answered, the answer appended and the session
// counters replaced, provided the stored version still equals ExpectedVersion.
type AnswerRecord struct {
	Session         Session
	ExpectedVersion int
	Answer          Answer
}
