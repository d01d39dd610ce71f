package question

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gokatarajesh/quizforge/internal/quiz"
)

// ErrInvalidQuestion marks generator output that cannot be issued.
var ErrInvalidQuestion = errors.New("invalid generated question")

const choiceIDs = "abcdefghijklmnopqrstuvwxyz"

// Normalize validates generator output and brings it into canonical form:
// choice questions get stable ids and the correct answer expressed as ids,
// true/false uses the ids "true" and "false", and blank answer items are
// dropped.
func Normalize(g Generated, allowed []quiz.QuestionType) (Generated, error) {
	g.Stem = strings.TrimSpace(g.Stem)
	g.Explanation = strings.TrimSpace(g.Explanation)
	g.Topic = strings.TrimSpace(g.Topic)
	if g.Stem == "" {
		return Generated{}, fmt.Errorf("%w: empty stem", ErrInvalidQuestion)
	}
	if !g.Type.Valid() {
		return Generated{}, fmt.Errorf("%w: unknown type %q", ErrInvalidQuestion, g.Type)
	}
	if len(allowed) > 0 && !containsType(allowed, g.Type) {
		return Generated{}, fmt.Errorf("%w: type %q not allowed", ErrInvalidQuestion, g.Type)
	}

	answers := make([]string, 0, len(g.CorrectAnswer))
	for _, a := range g.CorrectAnswer {
		if a = strings.TrimSpace(a); a != "" {
			answers = append(answers, a)
		}
	}
	if len(answers) == 0 {
		return Generated{}, fmt.Errorf("%w: missing correct answer", ErrInvalidQuestion)
	}

	switch g.Type {
	case quiz.TypeTrueFalse:
		return normalizeTrueFalse(g, answers)
	case quiz.TypeMultipleChoice:
		return normalizeMultipleChoice(g, answers)
	case quiz.TypeIdentification:
		g.Choices = nil
		g.CorrectAnswer = answers[:1]
	case quiz.TypeEnumeration:
		g.Choices = nil
		g.CorrectAnswer = answers
	}
	return g, nil
}

func normalizeTrueFalse(g Generated, answers []string) (Generated, error) {
	var value string
	switch strings.ToLower(answers[0]) {
	case "true", "t", "yes":
		value = "true"
	case "false", "f", "no":
		value = "false"
	default:
		return Generated{}, fmt.Errorf("%w: true_false answer %q", ErrInvalidQuestion, answers[0])
	}
	g.Choices = []quiz.Choice{{ID: "true", Text: "True"}, {ID: "false", Text: "False"}}
	g.CorrectAnswer = []string{value}
	return g, nil
}

func normalizeMultipleChoice(g Generated, answers []string) (Generated, error) {
	choices := make([]quiz.Choice, 0, len(g.Choices)+1)
	for _, c := range g.Choices {
		c.Text = strings.TrimSpace(c.Text)
		c.ID = strings.TrimSpace(c.ID)
		if c.Text == "" {
			continue
		}
		choices = append(choices, c)
	}

	// Ensure answer present in options
	for _, a := range answers {
		if findChoice(choices, a) < 0 {
			choices = append(choices, quiz.Choice{Text: a})
		}
	}
	if len(choices) < 2 {
		return Generated{}, fmt.Errorf("%w: multiple_choice needs at least two choices", ErrInvalidQuestion)
	}
	if len(choices) > len(choiceIDs) {
		choices = choices[:len(choiceIDs)]
	}

	seen := make(map[string]bool, len(choices))
	for i := range choices {
		if choices[i].ID == "" || seen[choices[i].ID] {
			choices[i].ID = string(choiceIDs[i])
		}
		seen[choices[i].ID] = true
	}

	ids := make([]string, 0, len(answers))
	for _, a := range answers {
		idx := findChoice(choices, a)
		if idx < 0 {
			continue
		}
		ids = append(ids, choices[idx].ID)
	}
	if len(ids) == 0 {
		return Generated{}, fmt.Errorf("%w: correct answer not among choices", ErrInvalidQuestion)
	}

	g.Choices = choices
	g.CorrectAnswer = ids
	return g, nil
}

// findChoice matches by id first, then by text, both case-insensitively.
func findChoice(choices []quiz.Choice, answer string) int {
	for i, c := range choices {
		if c.ID != "" && strings.EqualFold(c.ID, answer) {
			return i
		}
	}
	for i, c := range choices {
		if strings.EqualFold(c.Text, answer) {
			return i
		}
	}
	return -1
}

func containsType(types []quiz.QuestionType, t quiz.QuestionType) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}
