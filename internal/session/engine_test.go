package session

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gokatarajesh/quizforge/internal/adaptive"
	"github.com/gokatarajesh/quizforge/internal/db/memstore"
	"github.com/gokatarajesh/quizforge/internal/events"
	"github.com/gokatarajesh/quizforge/internal/question"
	"github.com/gokatarajesh/quizforge/internal/quiz"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(_ context.Context, evt events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

func (r *recorder) count(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

type harness struct {
	engine *Engine
	store  *memstore.Store
	clock  *clock
	events *recorder
	owner  uuid.UUID
}

// newHarness wires the engine to an in-memory store and a generator that
// always asks for the capital of France, with a unique stem per call.
func newHarness(t *testing.T) *harness {
	t.Helper()
	store := memstore.New()
	clk := &clock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	rec := &recorder{}

	var n atomic.Int32
	gen := question.GeneratorFunc(func(context.Context, question.GenerateRequest) (question.Generated, error) {
		return question.Generated{
			Type:          quiz.TypeIdentification,
			Stem:          fmt.Sprintf("Capital of France? (%d)", n.Add(1)),
			CorrectAnswer: []string{"Paris"},
			Explanation:   "Paris is the capital.",
		}, nil
	})
	issuer := question.NewIssuer(store, gen, question.IssuerOptions{Now: clk.Now}, zerolog.Nop())
	engine := NewEngine(store, issuer, Options{
		Publisher: rec,
		Now:       clk.Now,
	}, zerolog.Nop())

	return &harness{engine: engine, store: store, clock: clk, events: rec, owner: uuid.New()}
}

func (h *harness) create(t *testing.T, in CreateInput) *Snapshot {
	t.Helper()
	if in.Content == "" {
		in.Content = "Paris is the capital of France."
	}
	snap, err := h.engine.CreateSession(context.Background(), h.owner, in)
	require.NoError(t, err)
	return snap
}

func (h *harness) answer(t *testing.T, token string, correct bool) *AnswerResult {
	t.Helper()
	snap, err := h.engine.GetSnapshot(context.Background(), token, h.owner)
	require.NoError(t, err)
	require.NotNil(t, snap.Pending, "expected a pending question")

	text := `"nope"`
	if correct {
		text = `" paris "`
	}
	res, err := h.engine.SubmitAnswer(context.Background(), token, h.owner, SubmitInput{
		QuestionID: snap.Pending.ID,
		Response:   json.RawMessage(text),
	})
	require.NoError(t, err)
	return res
}

func TestEndToEndSingleQuestion(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	snap := h.create(t, CreateInput{MaxQuestions: ptr(1)})
	require.NotNil(t, snap.Pending)
	assert.Equal(t, quiz.DifficultyMedium, snap.Stats.CurrentDifficulty)
	assert.Equal(t, quiz.StatusActive, snap.Status)

	h.clock.Advance(3 * time.Second)
	res := h.answer(t, snap.Token, true)
	assert.True(t, res.Correct)
	assert.True(t, res.Done)
	assert.Nil(t, res.Next)
	assert.Equal(t, []string{"Paris"}, res.CorrectAnswer)

	next, err := h.engine.NextQuestion(ctx, snap.Token, h.owner)
	require.NoError(t, err)
	assert.Nil(t, next, "budget is spent")

	summary, err := h.engine.Finish(ctx, snap.Token, h.owner)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Asked)
	assert.Equal(t, 1, summary.Correct)
	assert.Equal(t, 100, summary.Points, "answered at the full-credit threshold")
	assert.Equal(t, 1.0, summary.Accuracy)
	assert.Equal(t, 1, summary.LongestCorrectRun)
	assert.Equal(t, h.clock.Now(), summary.FinishedAt)

	again, err := h.engine.Finish(ctx, snap.Token, h.owner)
	require.NoError(t, err)
	assert.Equal(t, summary, again)
	assert.Equal(t, 1, h.events.count(events.TypeSessionFinished), "finishing twice emits once")
	assert.Equal(t, 1, h.events.count(events.TypeSessionCreated))
	assert.Equal(t, 1, h.events.count(events.TypeAnswerEvaluated))

	next, err = h.engine.NextQuestion(ctx, snap.Token, h.owner)
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestCreateSessionValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	cases := map[string]CreateInput{
		"blank content":     {Content: "   ", MaxQuestions: ptr(5)},
		"too many":          {Content: "text", MaxQuestions: ptr(51)},
		"negative":          {Content: "text", MaxQuestions: ptr(-1)},
		"explicit zero":     {Content: "text", MaxQuestions: ptr(0)},
		"bad difficulty":    {Content: "text", InitialDifficulty: "expert"},
		"bad difficultyCap": {Content: "text", Preferences: quiz.Preferences{DifficultyCap: ptr(quiz.Difficulty("insane"))}},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := h.engine.CreateSession(ctx, h.owner, in)
			assert.ErrorIs(t, err, quiz.ErrValidation)
		})
	}

	snap := h.create(t, CreateInput{InitialDifficulty: quiz.DifficultyEasy})
	assert.Equal(t, 10, snap.Stats.MaxQuestions, "absent takes the default")
	assert.Equal(t, quiz.DifficultyEasy, snap.Stats.CurrentDifficulty)
	assert.Zero(t, snap.Stats.Asked)
	assert.Zero(t, snap.Stats.Correct)
	assert.Zero(t, snap.Stats.WrongStreak)
}

func TestOwnershipIsNotFound(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	snap := h.create(t, CreateInput{MaxQuestions: ptr(2)})
	stranger := uuid.New()

	_, err := h.engine.GetSnapshot(ctx, snap.Token, stranger)
	assert.ErrorIs(t, err, quiz.ErrNotFound)
	_, err = h.engine.GetSnapshot(ctx, "no-such-token", h.owner)
	assert.ErrorIs(t, err, quiz.ErrNotFound)
	_, err = h.engine.SubmitAnswer(ctx, snap.Token, stranger, SubmitInput{QuestionID: snap.Pending.ID, Response: json.RawMessage(`"Paris"`)})
	assert.ErrorIs(t, err, quiz.ErrNotFound)
	_, err = h.engine.Finish(ctx, snap.Token, stranger)
	assert.ErrorIs(t, err, quiz.ErrNotFound)
	_, err = h.engine.SetPreferences(ctx, snap.Token, stranger, quiz.Preferences{})
	assert.ErrorIs(t, err, quiz.ErrNotFound)
}

func TestDifficultyClimbsAndFalls(t *testing.T) {
	h := newHarness(t)
	snap := h.create(t, CreateInput{MaxQuestions: ptr(10), InitialDifficulty: quiz.DifficultyEasy})

	var seen []quiz.Difficulty
	for i := 0; i < 4; i++ {
		seen = append(seen, h.answer(t, snap.Token, true).DifficultyAfter)
	}
	assert.Equal(t, []quiz.Difficulty{quiz.DifficultyEasy, quiz.DifficultyMedium, quiz.DifficultyHard, quiz.DifficultyHard}, seen)

	seen = nil
	for i := 0; i < 3; i++ {
		seen = append(seen, h.answer(t, snap.Token, false).DifficultyAfter)
	}
	assert.Equal(t, []quiz.Difficulty{quiz.DifficultyMedium, quiz.DifficultyEasy, quiz.DifficultyEasy}, seen)
}

func TestNextQuestionIssuedAtNewDifficulty(t *testing.T) {
	h := newHarness(t)
	snap := h.create(t, CreateInput{MaxQuestions: ptr(5), InitialDifficulty: quiz.DifficultyHard})

	res := h.answer(t, snap.Token, false)
	require.NotNil(t, res.Next)
	assert.Equal(t, quiz.DifficultyMedium, res.Next.Difficulty)
	assert.False(t, res.Done)
}

func TestDifficultyCap(t *testing.T) {
	h := newHarness(t)
	snap := h.create(t, CreateInput{
		MaxQuestions:      ptr(8),
		InitialDifficulty: quiz.DifficultyEasy,
		Preferences:       quiz.Preferences{DifficultyCap: ptr(quiz.DifficultyMedium)},
	})
	for i := 0; i < 8; i++ {
		res := h.answer(t, snap.Token, true)
		assert.NotEqual(t, quiz.DifficultyHard, res.DifficultyAfter)
	}
}

func TestSetPreferencesDoesNotLowerCurrent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	snap := h.create(t, CreateInput{MaxQuestions: ptr(5), InitialDifficulty: quiz.DifficultyHard})

	updated, err := h.engine.SetPreferences(ctx, snap.Token, h.owner, quiz.Preferences{DifficultyCap: ptr(quiz.DifficultyEasy)})
	require.NoError(t, err)
	require.NotNil(t, updated.Preferences.DifficultyCap)
	assert.Equal(t, quiz.DifficultyEasy, *updated.Preferences.DifficultyCap)
	assert.Equal(t, quiz.DifficultyHard, updated.Stats.CurrentDifficulty)

	res := h.answer(t, snap.Token, true)
	assert.Equal(t, quiz.DifficultyHard, res.DifficultyAfter, "a lone correct answer holds")

	_, err = h.engine.SetPreferences(ctx, snap.Token, h.owner, quiz.Preferences{DifficultyCap: ptr(quiz.Difficulty("nope"))})
	assert.ErrorIs(t, err, quiz.ErrValidation)
}

func TestReviewSuggestionOncePerStreak(t *testing.T) {
	h := newHarness(t)
	snap := h.create(t, CreateInput{MaxQuestions: ptr(12)})

	var suggestions []*adaptive.Suggestion
	for i := 0; i < 5; i++ {
		if res := h.answer(t, snap.Token, false); res.Review != nil {
			suggestions = append(suggestions, res.Review)
		}
	}
	require.Len(t, suggestions, 1)
	assert.Equal(t, 4, suggestions[0].Streak)
	assert.Equal(t, quiz.DifficultyEasy, suggestions[0].EaseTo)

	assert.Nil(t, h.answer(t, snap.Token, true).Review)
	for i := 0; i < 4; i++ {
		h.answer(t, snap.Token, false)
	}
	assert.Equal(t, 2, h.events.count(events.TypeReviewSuggested))
}

func TestAnswerConflicts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	snap := h.create(t, CreateInput{MaxQuestions: ptr(3)})
	first := snap.Pending.ID

	h.answer(t, snap.Token, true)
	_, err := h.engine.SubmitAnswer(ctx, snap.Token, h.owner, SubmitInput{QuestionID: first, Response: json.RawMessage(`"Paris"`)})
	assert.ErrorIs(t, err, quiz.ErrConflict, "re-answering")

	_, err = h.engine.SubmitAnswer(ctx, snap.Token, h.owner, SubmitInput{QuestionID: uuid.New(), Response: json.RawMessage(`"Paris"`)})
	assert.ErrorIs(t, err, quiz.ErrNotFound, "foreign question")

	pending, err := h.engine.NextQuestion(ctx, snap.Token, h.owner)
	require.NoError(t, err)
	_, err = h.engine.SubmitAnswer(ctx, snap.Token, h.owner, SubmitInput{QuestionID: pending.ID, Response: json.RawMessage(`null`)})
	assert.ErrorIs(t, err, quiz.ErrValidation)

	_, err = h.engine.Finish(ctx, snap.Token, h.owner)
	require.NoError(t, err)
	_, err = h.engine.SubmitAnswer(ctx, snap.Token, h.owner, SubmitInput{QuestionID: pending.ID, Response: json.RawMessage(`"Paris"`)})
	assert.ErrorIs(t, err, quiz.ErrConflict, "session completed")
}

func TestConcurrentSubmissionsAreSerialized(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	snap := h.create(t, CreateInput{MaxQuestions: ptr(5)})

	const submitters = 8
	var (
		wg        sync.WaitGroup
		ok        atomic.Int32
		conflicts atomic.Int32
	)
	for i := 0; i < submitters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.engine.SubmitAnswer(ctx, snap.Token, h.owner, SubmitInput{
				QuestionID: snap.Pending.ID,
				Response:   json.RawMessage(`"Paris"`),
			})
			switch {
			case err == nil:
				ok.Add(1)
			case assert.ErrorIs(t, err, quiz.ErrConflict):
				conflicts.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(submitters-1), conflicts.Load())

	after, err := h.engine.GetSnapshot(ctx, snap.Token, h.owner)
	require.NoError(t, err)
	assert.Equal(t, 1, after.Stats.Asked)
	assert.Equal(t, 1, after.Stats.Correct)
}

func TestCountersStayConsistentUnderRandomPlay(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 5; round++ {
		h := newHarness(t)
		budget := 1 + rng.Intn(12)
		snap := h.create(t, CreateInput{MaxQuestions: ptr(budget)})

		for i := 0; i < budget+2; i++ {
			cur, err := h.engine.GetSnapshot(context.Background(), snap.Token, h.owner)
			require.NoError(t, err)
			st := cur.Stats
			assert.True(t, 0 <= st.Correct && st.Correct <= st.Asked && st.Asked <= st.MaxQuestions,
				"counters out of range: %+v", st)
			if cur.Pending == nil {
				assert.Equal(t, st.MaxQuestions, st.Asked)
				continue
			}
			h.answer(t, snap.Token, rng.Intn(2) == 0)
		}

		summary, err := h.engine.Finish(context.Background(), snap.Token, h.owner)
		require.NoError(t, err)
		assert.Equal(t, budget, summary.Asked)
	}
}

func TestLatencyFromClientOrServedAt(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	snap := h.create(t, CreateInput{MaxQuestions: ptr(2)})

	slow := int64(30000)
	_, err := h.engine.SubmitAnswer(ctx, snap.Token, h.owner, SubmitInput{
		QuestionID: snap.Pending.ID,
		Response:   json.RawMessage(`"Paris"`),
		LatencyMS:  &slow,
	})
	require.NoError(t, err)

	h.clock.Advance(3 * time.Second)
	h.answer(t, snap.Token, true)

	summary, err := h.engine.Finish(ctx, snap.Token, h.owner)
	require.NoError(t, err)
	assert.Equal(t, 120, summary.Points, "20 for the slow answer, 100 for the fast one")
	assert.Equal(t, 2, summary.LongestCorrectRun)

	neg := int64(-1)
	_, err = h.engine.SubmitAnswer(ctx, snap.Token, h.owner, SubmitInput{QuestionID: uuid.New(), LatencyMS: &neg})
	assert.ErrorIs(t, err, quiz.ErrValidation)
}

func TestLatencyUpperBound(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	snap := h.create(t, CreateInput{MaxQuestions: ptr(1)})

	huge := int64(9_300_000_000_000)
	_, err := h.engine.SubmitAnswer(ctx, snap.Token, h.owner, SubmitInput{
		QuestionID: snap.Pending.ID,
		Response:   json.RawMessage(`"Paris"`),
		LatencyMS:  &huge,
	})
	assert.ErrorIs(t, err, quiz.ErrValidation)

	longest := maxLatencyMS
	_, err = h.engine.SubmitAnswer(ctx, snap.Token, h.owner, SubmitInput{
		QuestionID: snap.Pending.ID,
		Response:   json.RawMessage(`"Paris"`),
		LatencyMS:  &longest,
	})
	require.NoError(t, err)

	summary, err := h.engine.Finish(ctx, snap.Token, h.owner)
	require.NoError(t, err)
	assert.Equal(t, 20, summary.Points, "the slowest accepted answer earns the minimum")
}

func TestSnapshotOfFinishedSessionHidesPending(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	snap := h.create(t, CreateInput{MaxQuestions: ptr(3)})

	_, err := h.engine.Finish(ctx, snap.Token, h.owner)
	require.NoError(t, err)

	after, err := h.engine.GetSnapshot(ctx, snap.Token, h.owner)
	require.NoError(t, err)
	assert.Equal(t, quiz.StatusCompleted, after.Status)
	assert.Nil(t, after.Pending)
	assert.NotNil(t, after.FinishedAt)
}

func ptr[T any](v T) *T { return &v }
