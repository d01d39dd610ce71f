// Package repository persists sessions, questions and answers in Postgres
// through pgx.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/gokatarajesh/quizforge/internal/quiz"
)

// DBTX is the subset of *pgxpool.Pool the repositories use.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Postgres error codes translated by mapError.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeCheckViolation      = "23514"
)

// Store implements session.Store and question.Store on one pool.
type Store struct {
	*SessionRepository
	*QuestionRepository
}

func NewStore(db DBTX) *Store {
	return &Store{
		SessionRepository:  NewSessionRepository(db),
		QuestionRepository: NewQuestionRepository(db),
	}
}

// mapError translates driver errors into the quiz error taxonomy. Errors that
// already carry a taxonomy sentinel pass through unchanged.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{quiz.ErrValidation, quiz.ErrNotFound, quiz.ErrConflict, quiz.ErrPersistence} {
		if errors.Is(err, known) {
			return err
		}
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", quiz.ErrNotFound, op)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			return fmt.Errorf("%w: %s: %s", quiz.ErrConflict, op, pgErr.ConstraintName)
		case codeForeignKeyViolation:
			return fmt.Errorf("%w: %s: %s", quiz.ErrNotFound, op, pgErr.ConstraintName)
		case codeCheckViolation:
			return fmt.Errorf("%w: %s: %s", quiz.ErrValidation, op, pgErr.ConstraintName)
		}
	}
	return fmt.Errorf("%w: %s: %w", quiz.ErrPersistence, op, err)
}
