package quiz

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDifficultyOrdering(t *testing.T) {
	assert.Equal(t, DifficultyMedium, DifficultyEasy.Harder())
	assert.Equal(t, DifficultyHard, DifficultyMedium.Harder())
	assert.Equal(t, DifficultyHard, DifficultyHard.Harder())

	assert.Equal(t, DifficultyMedium, DifficultyHard.Easier())
	assert.Equal(t, DifficultyEasy, DifficultyMedium.Easier())
	assert.Equal(t, DifficultyEasy, DifficultyEasy.Easier())

	assert.Less(t, DifficultyEasy.Rank(), DifficultyMedium.Rank())
	assert.Less(t, DifficultyMedium.Rank(), DifficultyHard.Rank())
	assert.Equal(t, -1, Difficulty("extreme").Rank())
}

func TestParseDifficulty(t *testing.T) {
	d, err := ParseDifficulty(" HARD ")
	require.NoError(t, err)
	assert.Equal(t, DifficultyHard, d)

	_, err = ParseDifficulty("impossible")
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestPreferencesMerge(t *testing.T) {
	medium := DifficultyMedium
	base := Preferences{}
	merged := base.Merge(Preferences{DifficultyCap: &medium})
	require.NotNil(t, merged.DifficultyCap)
	assert.Equal(t, DifficultyMedium, *merged.DifficultyCap)

	// an empty update keeps the existing cap
	kept := merged.Merge(Preferences{})
	require.NotNil(t, kept.DifficultyCap)
	assert.Equal(t, DifficultyMedium, *kept.DifficultyCap)

	bad := Difficulty("nope")
	assert.Error(t, Preferences{DifficultyCap: &bad}.Validate())
}

func TestDecodeResponse(t *testing.T) {
	cases := []struct {
		name  string
		qType QuestionType
		raw   string
		want  Response
	}{
		{"choice string", TypeMultipleChoice, `"b"`, SingleChoice("b")},
		{"choice array takes first", TypeMultipleChoice, `["c","d"]`, SingleChoice("c")},
		{"true false bool", TypeTrueFalse, `true`, SingleChoice("true")},
		{"identification", TypeIdentification, `" Paris "`, FreeText(" Paris ")},
		{"identification number", TypeIdentification, `1945`, FreeText("1945")},
		{"enumeration list", TypeEnumeration, `["Red","Blue"]`, ItemList([]string{"Red", "Blue"})},
		{"enumeration scalar", TypeEnumeration, `"Red"`, FreeText("Red")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := DecodeResponse(tc.qType, json.RawMessage(tc.raw))
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestDecodeResponseRejectsMissingOrMalformed(t *testing.T) {
	for _, raw := range []string{``, `null`, `{"a":1}`, `[1,2]`} {
		_, err := DecodeResponse(TypeIdentification, json.RawMessage(raw))
		assert.Truef(t, errors.Is(err, ErrValidation), "raw %q", raw)
	}
}

func TestSessionBudget(t *testing.T) {
	s := Session{Asked: 2, MaxQuestions: 3}
	assert.True(t, s.HasBudget())
	assert.Equal(t, 1, s.Remaining())

	s.Asked = 3
	assert.False(t, s.HasBudget())
	assert.Equal(t, 0, s.Remaining())
}

func TestPublicQuestionHidesAnswer(t *testing.T) {
	q := &Question{Stem: "Capital of France?", CorrectAnswer: []string{"Paris"}, Explanation: "It is Paris."}
	data, err := json.Marshal(q.Public())
	require.NoError(t, err)
	assert.NotContains(t, string(data), "Paris.")
	assert.NotContains(t, string(data), `"Paris"`)
}
