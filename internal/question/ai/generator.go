package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/gokatarajesh/quizforge/internal/question"
	"github.com/gokatarajesh/quizforge/internal/quiz"
)

// ErrNotConfigured is returned when no generator endpoint is set.
var ErrNotConfigured = errors.New("generator endpoint not configured")

// Config holds connection details for the question generator service.
type Config struct {
	GeneratorURL string
	GeneratorKey string
	Timeout      time.Duration
}

// Generator implements question.Generator over HTTP.
type Generator struct {
	httpClient  *http.Client
	config      Config
	logger      zerolog.Logger
	generateURL string
}

var _ question.Generator = (*Generator)(nil)

func NewGenerator(cfg Config, logger zerolog.Logger) *Generator {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 6 * time.Second
	}
	base := strings.TrimSuffix(cfg.GeneratorURL, "/")

	return &Generator{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		config:      cfg,
		logger:      logger.With().Str("component", "ai_generator").Logger(),
		generateURL: base + "/generate",
	}
}

// Generate requests one question of req.Difficulty over req.Content.
func (g *Generator) Generate(ctx context.Context, req question.GenerateRequest) (question.Generated, error) {
	if g.config.GeneratorURL == "" {
		return question.Generated{}, ErrNotConfigured
	}

	types := make([]string, 0, len(req.AllowedTypes))
	for _, t := range req.AllowedTypes {
		types = append(types, string(t))
	}
	body, err := json.Marshal(generatorRequest{
		SourceText:   req.Content,
		Difficulty:   string(req.Difficulty),
		AllowedTypes: types,
		Avoid:        req.Avoid,
	})
	if err != nil {
		return question.Generated{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.generateURL, bytes.NewReader(body))
	if err != nil {
		return question.Generated{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if g.config.GeneratorKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+g.config.GeneratorKey)
	}

	start := time.Now()
	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return question.Generated{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		// Drain a little of the body so the connection can be reused.
		_, _ = io.CopyN(io.Discard, resp.Body, 4<<10)
		return question.Generated{}, fmt.Errorf("generator returned status %d", resp.StatusCode)
	}

	var genResp generatorResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return question.Generated{}, fmt.Errorf("decode generator payload: %w", err)
	}
	if genResp.Question == nil {
		return question.Generated{}, fmt.Errorf("generator returned no question")
	}

	g.logger.Debug().
		Dur("elapsed", time.Since(start)).
		Str("difficulty", string(req.Difficulty)).
		Str("type", genResp.Question.Type).
		Msg("generator responded")

	return genResp.Question.toGenerated(), nil
}

type generatorRequest struct {
	SourceText   string   `json:"source_text"`
	Difficulty   string   `json:"difficulty"`
	AllowedTypes []string `json:"allowed_types,omitempty"`
	Avoid        []string `json:"avoid,omitempty"`
}

type generatorResponse struct {
	Question *aiQuestion `json:"question"`
}

type aiQuestion struct {
	Type          string      `json:"type"`
	Stem          string      `json:"stem"`
	Choices       []aiChoice  `json:"choices"`
	CorrectAnswer stringOrSet `json:"correct_answer"`
	Explanation   string      `json:"explanation"`
	Topic         string      `json:"topic"`
}

func (q aiQuestion) toGenerated() question.Generated {
	choices := make([]quiz.Choice, 0, len(q.Choices))
	for _, c := range q.Choices {
		choices = append(choices, quiz.Choice{ID: c.ID, Text: c.Text})
	}
	return question.Generated{
		Type:          quiz.QuestionType(strings.ToLower(strings.TrimSpace(q.Type))),
		Stem:          q.Stem,
		Choices:       choices,
		CorrectAnswer: []string(q.CorrectAnswer),
		Explanation:   q.Explanation,
		Topic:         q.Topic,
	}
}

// aiChoice accepts either {"id","text"} or a bare string.
type aiChoice struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

func (c *aiChoice) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		c.Text = text
		return nil
	}
	type plain aiChoice
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*c = aiChoice(p)
	return nil
}

// stringOrSet accepts a string, a bool or an array of strings.
type stringOrSet []string

func (s *stringOrSet) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*s = list
		return nil
	}
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*s = []string{single}
		return nil
	}
	var flag bool
	if err := json.Unmarshal(data, &flag); err == nil {
		if flag {
			*s = []string{"true"}
		} else {
			*s = []string{"false"}
		}
		return nil
	}
	return fmt.Errorf("correct_answer: unsupported shape %s", string(data))
}
