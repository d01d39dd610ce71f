// Package adaptive holds the difficulty state machine, the canonical streak
// rules and the review trigger. Everything except the marker stores is pure.
package adaptive

import (
	"github.com/gokatarajesh/quizforge/internal/quiz"
)

// NextDifficulty computes the level for the next question.
//
// Two correct answers in a row step up one level, a lone correct answer
// holds, and an incorrect answer steps down one level. When a cap is set an
// upward step is clamped to it; the cap never pulls the level below where the
// session already sits.
func NextDifficulty(current quiz.Difficulty, correct, previousCorrect bool, difficultyCap *quiz.Difficulty) quiz.Difficulty {
	next := current
	switch {
	case correct && previousCorrect:
		next = current.Harder()
	case !correct:
		next = current.Easier()
	}

	if difficultyCap != nil && difficultyCap.Valid() &&
		next.Rank() > difficultyCap.Rank() && next.Rank() > current.Rank() {
		next = *difficultyCap
		if current.Rank() > next.Rank() {
			next = current
		}
	}
	return next
}

// Progress is the counter state one answer moves forward.
type Progress struct {
	Asked       int
	Correct     int
	WrongStreak int
	Difficulty  quiz.Difficulty
}

// ProgressOf extracts the counters from a session.
func ProgressOf(s *quiz.Session) Progress {
	return Progress{
		Asked:       s.Asked,
		Correct:     s.Correct,
		WrongStreak: s.WrongStreak,
		Difficulty:  s.CurrentDifficulty,
	}
}

// Advance applies one answer outcome to p.
func Advance(p Progress, correct bool, difficultyCap *quiz.Difficulty) Progress {
	previous := PreviousAnswerCorrect(p.Asked, p.WrongStreak)
	next := Progress{
		Asked:       p.Asked + 1,
		Correct:     p.Correct,
		WrongStreak: NextWrongStreak(p.WrongStreak, correct),
		Difficulty:  NextDifficulty(p.Difficulty, correct, previous, difficultyCap),
	}
	if correct {
		next.Correct++
	}
	return next
}

// Apply writes p back into the session counters.
func (p Progress) Apply(s *quiz.Session) {
	s.Asked = p.Asked
	s.Correct = p.Correct
	s.WrongStreak = p.WrongStreak
	s.CurrentDifficulty = p.Difficulty
}
