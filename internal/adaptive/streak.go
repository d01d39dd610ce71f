package adaptive

// The session stores only the wrong-answer streak. The previous answer was
// correct exactly when at least one answer exists and that streak is zero, so
// both the difficulty rule and the summary stats derive "consecutive correct"
// from the same definition.

// NextWrongStreak resets on a correct answer and increments otherwise.
func NextWrongStreak(streak int, correct bool) int {
	if correct {
		return 0
	}
	return streak + 1
}

// PreviousAnswerCorrect reports whether the most recent answer was correct.
func PreviousAnswerCorrect(asked, wrongStreak int) bool {
	return asked > 0 && wrongStreak == 0
}

// LongestCorrectRun returns the longest run of consecutive correct results.
func LongestCorrectRun(results []bool) int {
	longest, run := 0, 0
	for _, ok := range results {
		if !ok {
			run = 0
			continue
		}
		run++
		if run > longest {
			longest = run
		}
	}
	return longest
}

