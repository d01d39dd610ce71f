package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/gokatarajesh/quizforge/internal/quiz"
)

const questionColumns = `id, session_id, difficulty, type, stem, choices, correct_answer,
	explanation, topic, source, served_at, answered_at`

// QuestionRepository stores issued questions. The partial unique index on
// pending rows keeps at most one unanswered question per session.
type QuestionRepository struct {
	db DBTX
}

func NewQuestionRepository(db DBTX) *QuestionRepository {
	return &QuestionRepository{db: db}
}

func (r *QuestionRepository) InsertQuestion(ctx context.Context, q *quiz.Question) error {
	choices := q.Choices
	if choices == nil {
		choices = []quiz.Choice{}
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO quiz_questions (`+questionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		q.ID, q.SessionID, string(q.Difficulty), string(q.Type), q.Stem, choices, q.CorrectAnswer,
		q.Explanation, q.Topic, q.Source, q.ServedAt, q.AnsweredAt,
	)
	return mapError("insert question", err)
}

func (r *QuestionRepository) PendingQuestion(ctx context.Context, sessionID uuid.UUID) (*quiz.Question, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+questionColumns+` FROM quiz_questions
		WHERE session_id = $1 AND answered_at IS NULL`,
		sessionID,
	)
	q, err := scanQuestion(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapError("pending question", err)
	}
	return q, nil
}

func (r *QuestionRepository) QuestionByID(ctx context.Context, sessionID, questionID uuid.UUID) (*quiz.Question, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+questionColumns+` FROM quiz_questions
		WHERE id = $1 AND session_id = $2`,
		questionID, sessionID,
	)
	q, err := scanQuestion(row)
	if err != nil {
		return nil, mapError("question by id", err)
	}
	return q, nil
}

func (r *QuestionRepository) ListStems(ctx context.Context, sessionID uuid.UUID) ([]string, error) {
	rows, err := r.db.Query(ctx, `
		SELECT stem FROM quiz_questions WHERE session_id = $1 ORDER BY served_at, id`,
		sessionID,
	)
	if err != nil {
		return nil, mapError("list stems", err)
	}
	stems, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, mapError("list stems", err)
	}
	return stems, nil
}

func scanQuestion(row pgx.Row) (*quiz.Question, error) {
	var (
		q          quiz.Question
		difficulty string
		qType      string
	)
	err := row.Scan(
		&q.ID, &q.SessionID, &difficulty, &qType, &q.Stem, &q.Choices, &q.CorrectAnswer,
		&q.Explanation, &q.Topic, &q.Source, &q.ServedAt, &q.AnsweredAt,
	)
	if err != nil {
		return nil, err
	}
	q.Difficulty = quiz.Difficulty(difficulty)
	q.Type = quiz.QuestionType(qType)
	if len(q.Choices) == 0 {
		q.Choices = nil
	}
	return &q, nil
}
