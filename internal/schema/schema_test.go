package schema

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deepresearch/internal/types"
)

func actionEnum(t *testing.T, s map[string]any) []string {
	t.Helper()
	props := s["properties"].(map[string]any)
	action := props["action"].(map[string]any)
	return action["enum"].([]string)
}

func TestAgentSchemaGating(t *testing.T) {
	r := NewRegistry()

	t.Run("all gates open", func(t *testing.T) {
		s := r.AgentSchema(AllOpen(), "q")
		assert.ElementsMatch(t,
			[]string{"search", "coding", "answer", "reflect", "visit"},
			actionEnum(t, s))
		props := s["properties"].(map[string]any)
		for _, name := range []string{"search", "coding", "answer", "reflect", "visit", "think", "action"} {
			assert.Contains(t, props, name)
		}
	})

	t.Run("answer only", func(t *testing.T) {
		s := r.AgentSchema(Gates{Answer: true}, "q")
		assert.Equal(t, []string{"answer"}, actionEnum(t, s))
		props := s["properties"].(map[string]any)
		assert.NotContains(t, props, "search")
		assert.NotContains(t, props, "visit")
		assert.NotContains(t, props, "reflect")
		assert.NotContains(t, props, "coding")
	})

	t.Run("question embedded in reflect description", func(t *testing.T) {
		s := r.AgentSchema(Gates{Reflect: true}, "why is the sky blue")
		raw, err := json.Marshal(s)
		require.NoError(t, err)
		assert.Contains(t, string(raw), "why is the sky blue")
	})
}

func TestEvaluatorSchemaKinds(t *testing.T) {
	r := NewRegistry()
	r.Now = func() time.Time { return time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC) }

	for _, kind := range []string{"definitive", "freshness", "plurality", "completeness", "attribution", "strict"} {
		s, err := r.EvaluatorSchema(kind)
		require.NoError(t, err, kind)
		props := s["properties"].(map[string]any)
		tag := props["type"].(map[string]any)
		assert.Equal(t, []string{kind}, tag["enum"].([]string), kind)
	}

	_, err := r.EvaluatorSchema("vibes")
	assert.Error(t, err)

	s, err := r.EvaluatorSchema("freshness")
	require.NoError(t, err)
	raw, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "2025-03-01")
}

func TestParseStepActionSearch(t *testing.T) {
	raw := json.RawMessage(`{
		"think": "need more sources",
		"action": "search",
		"search": {"searchRequests": ["go garbage collector", "  ", "gc pacing"]}
	}`)
	step, err := ParseStepAction(raw, AllOpen())
	require.NoError(t, err)
	assert.Equal(t, types.ActionSearch, step.Action)
	assert.Equal(t, []string{"go garbage collector", "gc pacing"}, step.SearchRequests)
}

func TestParseStepActionTruncatesSlack(t *testing.T) {
	queries := make([]string, 0, 12)
	for i := 0; i < 12; i++ {
		queries = append(queries, "query")
	}
	payload := map[string]any{
		"think":  strings.Repeat("x", 900),
		"action": "search",
		"search": map[string]any{"searchRequests": queries},
	}
	raw, err := json.Marshal(payload)
	require.NoError(t, err)

	step, err := ParseStepAction(raw, AllOpen())
	require.NoError(t, err)
	assert.Len(t, step.SearchRequests, MaxQueriesPerStep)
	assert.Len(t, step.Think, 500)
}

func TestParseStepActionRejectsGatedAction(t *testing.T) {
	raw := json.RawMessage(`{
		"think": "answering",
		"action": "answer",
		"answer": {"answer": "42", "references": []}
	}`)
	_, err := ParseStepAction(raw, Gates{Search: true, Visit: true})
	assert.Error(t, err)
}

func TestParseStepActionRejectsEmptyPayload(t *testing.T) {
	cases := []string{
		`{"think": "t", "action": "search", "search": {"searchRequests": []}}`,
		`{"think": "t", "action": "search"}`,
		`{"think": "t", "action": "visit", "visit": {"URLTargets": []}}`,
		`{"think": "t", "action": "reflect", "reflect": {"questionsToAnswer": ["", " "]}}`,
		`{"think": "t", "action": "coding", "coding": {"codingIssue": "  "}}`,
		`{"think": "t", "action": "dance"}`,
	}
	for _, c := range cases {
		_, err := ParseStepAction(json.RawMessage(c), AllOpen())
		assert.Error(t, err, c)
	}
}

func TestParseStepActionAnswerReferences(t *testing.T) {
	raw := json.RawMessage(`{
		"think": "done",
		"action": "answer",
		"answer": {
			"answer": "The answer is 42.",
			"references": [
				{"exactQuote": "` + strings.Repeat("q", 60) + `", "url": "https://a.com/1", "dateTime": "2025-01-01"},
				{"exactQuote": "quote", "url": "", "dateTime": ""}
			]
		}
	}`)
	step, err := ParseStepAction(raw, Gates{Answer: true})
	require.NoError(t, err)
	assert.Equal(t, "The answer is 42.", step.Answer)
	require.Len(t, step.References, 1)
	assert.Len(t, step.References[0].ExactQuote, 30)
	assert.Equal(t, "https://a.com/1", step.References[0].URL)
}

func TestQuestionEvaluationMetrics(t *testing.T) {
	q := QuestionEvaluation{NeedsFreshness: true, NeedsCompleteness: true}
	assert.Equal(t,
		[]types.EvaluationType{types.EvalFreshness, types.EvalCompleteness},
		q.Metrics())

	assert.Empty(t, QuestionEvaluation{}.Metrics())
}

func TestRegistryLanguage(t *testing.T) {
	r := NewRegistry()
	assert.Contains(t, r.LanguagePrompt(), "lang:en")

	r.SetLanguage("de", "casual German")
	assert.Contains(t, r.LanguagePrompt(), "lang:de")
	assert.Contains(t, r.LanguagePrompt(), "casual German")

	// Empty values keep the previous detection.
	r.SetLanguage("", "")
	assert.Contains(t, r.LanguagePrompt(), "lang:de")
}
