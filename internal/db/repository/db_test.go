package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/gokatarajesh/quizforge/internal/question"
	"github.com/gokatarajesh/quizforge/internal/quiz"
	"github.com/gokatarajesh/quizforge/internal/session"
)

var (
	_ session.Store  = (*Store)(nil)
	_ question.Store = (*Store)(nil)
)

func TestMapError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"no rows", pgx.ErrNoRows, quiz.ErrNotFound},
		{"wrapped no rows", fmt.Errorf("scan: %w", pgx.ErrNoRows), quiz.ErrNotFound},
		{"unique violation", &pgconn.PgError{Code: "23505", ConstraintName: "uq_quiz_questions_pending"}, quiz.ErrConflict},
		{"foreign key", &pgconn.PgError{Code: "23503"}, quiz.ErrNotFound},
		{"check violation", &pgconn.PgError{Code: "23514"}, quiz.ErrValidation},
		{"other pg error", &pgconn.PgError{Code: "40001"}, quiz.ErrPersistence},
		{"connection failure", errors.New("dial tcp: refused"), quiz.ErrPersistence},
		{"already classified", fmt.Errorf("%w: question already answered", quiz.ErrConflict), quiz.ErrConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := mapError("op", tc.err)
			assert.ErrorIs(t, got, tc.want)
		})
	}
}

func TestMapErrorKeepsCause(t *testing.T) {
	err := mapError("list answers", context.DeadlineExceeded)
	assert.ErrorIs(t, err, quiz.ErrPersistence)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "list answers")
}

func TestMapErrorNil(t *testing.T) {
	assert.NoError(t, mapError("op", nil))
}

func TestUniqueViolationIsNotPersistence(t *testing.T) {
	err := mapError("insert question", &pgconn.PgError{Code: "23505"})
	assert.False(t, errors.Is(err, quiz.ErrPersistence))
}
