package question

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/gokatarajesh/quizforge/internal/quiz"
)

const blank = "_____"

var stopwords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`a about above after again against all also am an and any are as at be
		because been before being below between both but by can could did do does doing down during each
		few for from further had has have having he her here hers him his how i if in into is it its itself
		just me more most my no nor not now of off on once only or other our ours out over own same she should
		so some such than that the their theirs them then there these they this those through to too under
		until up very was we were what when where which while who whom why will with would you your yours
		however therefore thus within without upon among using used use may might must shall also many much`) {
		stopwords[w] = struct{}{}
	}
}

// Synthesizer builds questions locally from salient terms of the source text
// so a session can progress when the generator is unavailable.
type Synthesizer struct{}

type term struct {
	word     string // as first written in the text
	key      string // lowercased
	count    int
	first    int
	sentence int
}

// Synthesize never fails; it prefers identification, then multiple_choice,
// true_false and enumeration, restricted to req.AllowedTypes when set.
func (Synthesizer) Synthesize(req GenerateRequest) Generated {
	sentences := splitSentences(req.Content)
	terms := salientTerms(sentences)
	avoid := make(map[string]struct{}, len(req.Avoid))
	for _, stem := range req.Avoid {
		avoid[stem] = struct{}{}
	}

	// Harder requests start further down the ranking, where terms are rarer.
	offset := 0
	if len(terms) > 2 {
		offset = req.Difficulty.Rank()
		if offset < 0 {
			offset = 0
		}
	}

	var last Generated
	for i := range terms {
		t := terms[(i+offset)%len(terms)]
		for _, qType := range preferredTypes(req.AllowedTypes) {
			g, ok := buildFallback(qType, t, terms, sentences)
			if !ok {
				continue
			}
			last = g
			if _, dup := avoid[g.Stem]; !dup {
				return g
			}
		}
	}
	if last.Stem != "" {
		return last
	}
	return lastResort(req.AllowedTypes, terms, sentences)
}

// lastResort builds a question in the first allowed type when the ranking
// yields nothing usable, relaxing the choice and item minimums.
func lastResort(allowed []quiz.QuestionType, terms []term, sentences []string) Generated {
	if len(sentences) == 0 {
		sentences = []string{"The source text was provided for this quiz."}
	}
	var t term
	if len(terms) > 0 {
		t = terms[0]
	} else {
		t = longestWord(sentences[0])
	}
	qType := quiz.TypeIdentification
	if types := preferredTypes(allowed); len(types) > 0 {
		qType = types[0]
	}
	if g, ok := buildFallback(qType, t, terms, sentences); ok {
		return g
	}

	sentence := sentences[t.sentence]
	explanation := fmt.Sprintf("The source text reads: %q", sentence)
	if qType == quiz.TypeMultipleChoice {
		return Generated{
			Type:          quiz.TypeMultipleChoice,
			Stem:          "Which term completes the statement? " + blankOut(sentence, t.word),
			Choices:       []quiz.Choice{{ID: "a", Text: t.word}, {ID: "b", Text: "None of these"}},
			CorrectAnswer: []string{"a"},
			Explanation:   explanation,
			Topic:         t.word,
		}
	}
	return Generated{
		Type:          quiz.TypeEnumeration,
		Stem:          fmt.Sprintf("List the key term used in: %q", sentence),
		CorrectAnswer: []string{t.word},
		Explanation:   explanation,
		Topic:         t.word,
	}
}

// longestWord stands in for a salient term when every word was filtered out.
func longestWord(sentence string) term {
	best := ""
	for _, w := range strings.FieldsFunc(sentence, func(r rune) bool { return !isWordRune(r) }) {
		if w = strings.Trim(w, "-'"); len(w) > len(best) {
			best = w
		}
	}
	if best == "" {
		best = "source"
	}
	return term{word: best, key: strings.ToLower(best), count: 1}
}

func preferredTypes(allowed []quiz.QuestionType) []quiz.QuestionType {
	order := []quiz.QuestionType{quiz.TypeIdentification, quiz.TypeMultipleChoice, quiz.TypeTrueFalse, quiz.TypeEnumeration}
	if len(allowed) == 0 {
		return order
	}
	out := make([]quiz.QuestionType, 0, len(order))
	for _, t := range order {
		if containsType(allowed, t) {
			out = append(out, t)
		}
	}
	return out
}

func buildFallback(qType quiz.QuestionType, t term, terms []term, sentences []string) (Generated, bool) {
	sentence := sentences[t.sentence]
	explanation := fmt.Sprintf("The source text reads: %q", sentence)

	switch qType {
	case quiz.TypeIdentification:
		return Generated{
			Type:          quiz.TypeIdentification,
			Stem:          "Fill in the blank: " + blankOut(sentence, t.word),
			CorrectAnswer: []string{t.word},
			Explanation:   explanation,
			Topic:         t.word,
		}, true
	case quiz.TypeMultipleChoice:
		choices := []quiz.Choice{{Text: t.word}}
		for _, other := range terms {
			if other.key == t.key {
				continue
			}
			choices = append(choices, quiz.Choice{Text: other.word})
			if len(choices) == 4 {
				break
			}
		}
		if len(choices) < 2 {
			return Generated{}, false
		}
		// Rotate so the answer is not always first.
		shift := len(t.key) % len(choices)
		choices = append(append([]quiz.Choice(nil), choices[shift:]...), choices[:shift]...)
		for i := range choices {
			choices[i].ID = string(choiceIDs[i])
		}
		var answerID string
		for _, c := range choices {
			if c.Text == t.word {
				answerID = c.ID
			}
		}
		return Generated{
			Type:          quiz.TypeMultipleChoice,
			Stem:          "Which term completes the statement? " + blankOut(sentence, t.word),
			Choices:       choices,
			CorrectAnswer: []string{answerID},
			Explanation:   explanation,
			Topic:         t.word,
		}, true
	case quiz.TypeTrueFalse:
		return Generated{
			Type:          quiz.TypeTrueFalse,
			Stem:          "True or false: " + sentence,
			Choices:       []quiz.Choice{{ID: "true", Text: "True"}, {ID: "false", Text: "False"}},
			CorrectAnswer: []string{"true"},
			Explanation:   "The statement is taken verbatim from the source text.",
			Topic:         t.word,
		}, true
	case quiz.TypeEnumeration:
		var items []string
		for _, other := range terms {
			if other.sentence == t.sentence {
				items = append(items, other.word)
			}
			if len(items) == 3 {
				break
			}
		}
		if len(items) < 2 {
			return Generated{}, false
		}
		return Generated{
			Type:          quiz.TypeEnumeration,
			Stem:          fmt.Sprintf("List the %d key terms used in: %q", len(items), sentence),
			CorrectAnswer: items,
			Explanation:   explanation,
			Topic:         t.word,
		}, true
	}
	return Generated{}, false
}

func splitSentences(content string) []string {
	var out []string
	start := 0
	flush := func(end int) {
		if s := strings.TrimSpace(content[start:end]); strings.IndexFunc(s, isWordRune) >= 0 {
			out = append(out, strings.Join(strings.Fields(s), " "))
		}
	}
	for i, r := range content {
		if r == '.' || r == '!' || r == '?' || r == '\n' {
			flush(i + len(string(r)))
			start = i + len(string(r))
		}
	}
	flush(len(content))
	return out
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '\''
}

// salientTerms ranks non-stopword terms by frequency, then length, then
// first appearance.
func salientTerms(sentences []string) []term {
	byKey := map[string]*term{}
	pos := 0
	for si, sentence := range sentences {
		for _, w := range strings.FieldsFunc(sentence, func(r rune) bool { return !isWordRune(r) }) {
			w = strings.Trim(w, "-'")
			key := strings.ToLower(w)
			pos++
			if len([]rune(key)) < 4 {
				continue
			}
			if _, stop := stopwords[key]; stop {
				continue
			}
			if t, ok := byKey[key]; ok {
				t.count++
				continue
			}
			byKey[key] = &term{word: w, key: key, count: 1, first: pos, sentence: si}
		}
	}

	terms := make([]term, 0, len(byKey))
	for _, t := range byKey {
		terms = append(terms, *t)
	}
	sort.Slice(terms, func(i, j int) bool {
		if terms[i].count != terms[j].count {
			return terms[i].count > terms[j].count
		}
		if len(terms[i].key) != len(terms[j].key) {
			return len(terms[i].key) > len(terms[j].key)
		}
		return terms[i].first < terms[j].first
	})
	return terms
}

// blankOut replaces whole-word occurrences of word (case-insensitive).
func blankOut(sentence, word string) string {
	var b, current strings.Builder
	flush := func() {
		w := current.String()
		current.Reset()
		if w == "" {
			return
		}
		if core := strings.Trim(w, "-'"); strings.EqualFold(core, word) {
			w = strings.Replace(w, core, blank, 1)
		}
		b.WriteString(w)
	}
	for _, r := range sentence {
		if isWordRune(r) {
			current.WriteRune(r)
			continue
		}
		flush()
		b.WriteRune(r)
	}
	flush()
	return b.String()
}

