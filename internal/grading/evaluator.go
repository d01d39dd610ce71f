// Package grading decides answer correctness for every question type.
package grading

import (
	"strings"

	"golang.org/x/text/cases"

	"github.com/gokatarajesh/quizforge/internal/quiz"
)

// Evaluate reports whether submitted answers a question of type t whose
// canonical answer is correct. It has no side effects.
//
//   - multiple_choice / true_false: the submitted id must be one of the correct ids.
//   - identification: normalized strings must match exactly; empty never matches.
//   - enumeration: every correct item must appear in the submitted list; extra
//     items and ordering are ignored; an empty list on either side never matches.
func Evaluate(t quiz.QuestionType, correct []string, submitted quiz.Response) bool {
	switch t {
	case quiz.TypeMultipleChoice, quiz.TypeTrueFalse:
		return evaluateChoice(correct, submitted)
	case quiz.TypeIdentification:
		return evaluateIdentification(correct, submitted)
	case quiz.TypeEnumeration:
		return evaluateEnumeration(correct, submitted)
	default:
		return false
	}
}

func evaluateChoice(correct []string, submitted quiz.Response) bool {
	got := Normalize(submitted.Scalar())
	if got == "" {
		return false
	}
	for _, id := range correct {
		if Normalize(id) == got {
			return true
		}
	}
	return false
}

func evaluateIdentification(correct []string, submitted quiz.Response) bool {
	if len(correct) == 0 {
		return false
	}
	got := Normalize(submitted.Scalar())
	if got == "" {
		return false
	}
	return got == Normalize(correct[0])
}

func evaluateEnumeration(correct []string, submitted quiz.Response) bool {
	if submitted.Kind != quiz.KindItemList {
		return false
	}
	want := NormalizeAll(correct)
	got := NormalizeAll(submitted.Items)
	if len(want) == 0 || len(got) == 0 {
		return false
	}

	present := make(map[string]struct{}, len(got))
	for _, item := range got {
		present[item] = struct{}{}
	}
	for _, item := range want {
		if _, ok := present[item]; !ok {
			return false
		}
	}
	return true
}

// Normalize trims surrounding whitespace and case-folds s.
func Normalize(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}

// NormalizeAll normalizes every element and drops the ones that end up empty.
func NormalizeAll(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if n := Normalize(item); n != "" {
			out = append(out, n)
		}
	}
	return out
}
