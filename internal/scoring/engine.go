package scoring

import (
	"errors"
	"math"
	"time"
)

// ScoringConfig holds configurable scoring constants (defaults match requirements).
type ScoringConfig struct {
	FullCredit time.Duration // default: 3s, answers at or under earn MaxPoints
	ZeroBonus  time.Duration // default: 30s, answers at or over earn MinPoints
	MinPoints  int           // default: 20
	MaxPoints  int           // default: 100
}

// DefaultScoringConfig returns production defaults.
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		FullCredit: 3 * time.Second,
		ZeroBonus:  30 * time.Second,
		MinPoints:  20,
		MaxPoints:  100,
	}
}

// Validate rejects configs that would make the decay undefined or inverted.
func (c ScoringConfig) Validate() error {
	if c.ZeroBonus <= c.FullCredit {
		return errors.New("scoring: zero-bonus threshold must exceed full-credit threshold")
	}
	if c.MinPoints < 0 || c.MaxPoints < c.MinPoints {
		return errors.New("scoring: points range must satisfy 0 <= min <= max")
	}
	return nil
}

// Engine computes time-weighted points with configurable constants.
type Engine struct {
	config ScoringConfig
}

// NewEngine creates a scoring engine, falling back to defaults for an
// invalid config.
func NewEngine(config ScoringConfig) *Engine {
	if config.Validate() != nil {
		config = DefaultScoringConfig()
	}
	return &Engine{config: config}
}

// Config returns the active constants.
func (e *Engine) Config() ScoringConfig {
	return e.config
}

// CalculateScore computes points for a single answer.
// Formula: min + (1 - (t - full)/(zero - full)) * (max - min), t clamped to [full, zero]
// - incorrect answers always score 0
// - faster correct answers never score less than slower ones
func (e *Engine) CalculateScore(isCorrect bool, elapsed time.Duration) int {
	if !isCorrect {
		return 0
	}

	t := elapsed
	if t < e.config.FullCredit {
		t = e.config.FullCredit
	}
	if t > e.config.ZeroBonus {
		t = e.config.ZeroBonus
	}

	window := float64(e.config.ZeroBonus - e.config.FullCredit)
	ratio := 1.0 - float64(t-e.config.FullCredit)/window
	spread := float64(e.config.MaxPoints - e.config.MinPoints)
	return int(math.Round(float64(e.config.MinPoints) + ratio*spread))
}

// Attempt is a finished run of answers. Elapsed holds per-question times;
// when it does not line up with Correct, Total is divided evenly instead.
type Attempt struct {
	Correct []bool
	Elapsed []time.Duration
	Total   time.Duration
}

// Result aggregates an attempt.
type Result struct {
	Points   int     `json:"points"`
	PerItem  []int   `json:"perItem"`
	Accuracy float64 `json:"accuracy"`
}

// ComputeAttemptScore sums per-question points and reports accuracy.
func (e *Engine) ComputeAttemptScore(a Attempt) Result {
	n := len(a.Correct)
	if n == 0 {
		return Result{}
	}

	elapsed := a.Elapsed
	if len(elapsed) != n {
		even := a.Total / time.Duration(n)
		elapsed = make([]time.Duration, n)
		for i := range elapsed {
			elapsed[i] = even
		}
	}

	res := Result{PerItem: make([]int, n)}
	correctCount := 0
	for i, ok := range a.Correct {
		if ok {
			correctCount++
		}
		res.PerItem[i] = e.CalculateScore(ok, elapsed[i])
		res.Points += res.PerItem[i]
	}
	res.Accuracy = float64(correctCount) / float64(n)
	return res
}
