package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/gokatarajesh/quizforge/internal/quiz"
)

const sessionColumns = `id, token, owner_id, status, current_difficulty, asked, correct, wrong_streak,
	max_questions, preferences, content, version, created_at, updated_at, finished_at`

// SessionRepository stores quiz_sessions rows and their answers.
type SessionRepository struct {
	db DBTX
}

func NewSessionRepository(db DBTX) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) CreateSession(ctx context.Context, s *quiz.Session) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO quiz_sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		s.ID, s.Token, s.OwnerID, string(s.Status), string(s.CurrentDifficulty),
		s.Asked, s.Correct, s.WrongStreak, s.MaxQuestions, s.Preferences,
		s.Content, s.Version, s.CreatedAt, s.UpdatedAt, s.FinishedAt,
	)
	return mapError("create session", err)
}

func (r *SessionRepository) SessionByToken(ctx context.Context, token string) (*quiz.Session, error) {
	row := r.db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM quiz_sessions WHERE token = $1`, token)
	s, err := scanSession(row)
	if err != nil {
		return nil, mapError("session by token", err)
	}
	return s, nil
}

func (r *SessionRepository) UpdatePreferences(ctx context.Context, sessionID uuid.UUID, prefs quiz.Preferences, at time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE quiz_sessions SET preferences = $2, updated_at = $3
		WHERE id = $1`,
		sessionID, prefs, at,
	)
	if err != nil {
		return mapError("update preferences", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: session", quiz.ErrNotFound)
	}
	return nil
}

// RecordAnswer applies one answer in a single transaction. The question
// update and the version-guarded session update both fail closed with
// quiz.ErrConflict when another writer got there first.
func (r *SessionRepository) RecordAnswer(ctx context.Context, rec quiz.AnswerRecord) error {
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE quiz_questions SET answered_at = $3
			WHERE id = $1 AND session_id = $2 AND answered_at IS NULL`,
			rec.Answer.QuestionID, rec.Session.ID, rec.Answer.CreatedAt,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: question already answered", quiz.ErrConflict)
		}

		var latencyMS *int64
		if rec.Answer.Latency != nil {
			ms := rec.Answer.Latency.Milliseconds()
			latencyMS = &ms
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO quiz_answers (id, session_id, question_id, response, is_correct, latency_ms, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			rec.Answer.ID, rec.Session.ID, rec.Answer.QuestionID, rec.Answer.Response,
			rec.Answer.IsCorrect, latencyMS, rec.Answer.CreatedAt,
		); err != nil {
			return err
		}

		s := rec.Session
		tag, err = tx.Exec(ctx, `
			UPDATE quiz_sessions
			SET asked = $2, correct = $3, wrong_streak = $4, current_difficulty = $5,
			    version = $6, updated_at = $7
			WHERE id = $1 AND version = $8 AND status = 'active'`,
			s.ID, s.Asked, s.Correct, s.WrongStreak, string(s.CurrentDifficulty),
			s.Version, s.UpdatedAt, rec.ExpectedVersion,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: session version moved from %d", quiz.ErrConflict, rec.ExpectedVersion)
		}
		return nil
	})
	return mapError("record answer", err)
}

func (r *SessionRepository) CompleteSession(ctx context.Context, sessionID uuid.UUID, at time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE quiz_sessions
		SET status = 'completed', finished_at = $2, updated_at = $2, version = version + 1
		WHERE id = $1 AND status = 'active'`,
		sessionID, at,
	)
	if err != nil {
		return false, mapError("complete session", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM quiz_sessions WHERE id = $1)`, sessionID).Scan(&exists); err != nil {
		return false, mapError("complete session", err)
	}
	if !exists {
		return false, fmt.Errorf("%w: session", quiz.ErrNotFound)
	}
	return false, nil
}

func (r *SessionRepository) ListAnswers(ctx context.Context, sessionID uuid.UUID) ([]quiz.Answer, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, session_id, question_id, response, is_correct, latency_ms, created_at
		FROM quiz_answers WHERE session_id = $1
		ORDER BY created_at, id`,
		sessionID,
	)
	if err != nil {
		return nil, mapError("list answers", err)
	}
	answers, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (quiz.Answer, error) {
		var (
			a         quiz.Answer
			latencyMS *int64
		)
		if err := row.Scan(&a.ID, &a.SessionID, &a.QuestionID, &a.Response, &a.IsCorrect, &latencyMS, &a.CreatedAt); err != nil {
			return quiz.Answer{}, err
		}
		if latencyMS != nil {
			d := time.Duration(*latencyMS) * time.Millisecond
			a.Latency = &d
		}
		return a, nil
	})
	if err != nil {
		return nil, mapError("list answers", err)
	}
	return answers, nil
}

func scanSession(row pgx.Row) (*quiz.Session, error) {
	var (
		s          quiz.Session
		status     string
		difficulty string
	)
	err := row.Scan(
		&s.ID, &s.Token, &s.OwnerID, &status, &difficulty,
		&s.Asked, &s.Correct, &s.WrongStreak, &s.MaxQuestions, &s.Preferences,
		&s.Content, &s.Version, &s.CreatedAt, &s.UpdatedAt, &s.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	s.Status = quiz.Status(status)
	s.CurrentDifficulty = quiz.Difficulty(difficulty)
	return &s, nil
}
