package question

import (
	"context"

	"github.com/gokatarajesh/quizforge/internal/quiz"
)

// GenerateRequest asks for one question of a difficulty over source text.
// AllowedTypes and Avoid are the constraints that, with Content and
// Difficulty, identify a request for dedup and caching.
type GenerateRequest struct {
	Content      string
	Difficulty   quiz.Difficulty
	AllowedTypes []quiz.QuestionType
	// Avoid lists stems already issued in the session.
	Avoid []string
}

// Generated is a question as produced by a Generator, before it is bound to
// a session.
type Generated struct {
	Type          quiz.QuestionType `json:"type"`
	Stem          string            `json:"stem"`
	Choices       []quiz.Choice     `json:"choices,omitempty"`
	CorrectAnswer []string          `json:"correctAnswer"`
	Explanation   string            `json:"explanation"`
	Topic         string            `json:"topic,omitempty"`
}

// Generator produces one question (implemented by ai.Generator over HTTP).
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (Generated, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, req GenerateRequest) (Generated, error)

func (f GeneratorFunc) Generate(ctx context.Context, req GenerateRequest) (Generated, error) {
	return f(ctx, req)
}
