package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	"deepresearch/internal/types"
)

// rawStep mirrors the nested wire shape of the agent schema before it
// is flattened into types.StepAction.
type rawStep struct {
	Think  string `json:"think"`
	Action string `json:"action"`

	Search *struct {
		SearchRequests []string `json:"searchRequests"`
	} `json:"search"`
	Visit *struct {
		URLTargets []string `json:"URLTargets"`
	} `json:"visit"`
	Answer *struct {
		Answer     string            `json:"answer"`
		References []types.Reference `json:"references"`
	} `json:"answer"`
	Reflect *struct {
		QuestionsToAnswer []string `json:"questionsToAnswer"`
	} `json:"reflect"`
	Coding *struct {
		CodingIssue string `json:"codingIssue"`
	} `json:"coding"`
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

func cleanStrings(in []string, max int) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out = append(out, s)
		if len(out) == max {
			break
		}
	}
	return out
}

// ParseStepAction validates a model reply against the gate vector and
// flattens it into a StepAction. Slack data beyond the schema limits is
// truncated rather than rejected; a missing or empty payload for the
// chosen action is an error.
func ParseStepAction(raw json.RawMessage, gates Gates) (types.StepAction, error) {
	var rs rawStep
	if err := json.Unmarshal(raw, &rs); err != nil {
		return types.StepAction{}, fmt.Errorf("failed to decode step action: %w", err)
	}

	step := types.StepAction{
		Action: types.Action(rs.Action),
		Think:  truncate(rs.Think, 500),
	}

	switch step.Action {
	case types.ActionSearch:
		if !gates.Search {
			return types.StepAction{}, fmt.Errorf("action %q is not permitted this step", rs.Action)
		}
		if rs.Search == nil {
			return types.StepAction{}, fmt.Errorf("search action missing searchRequests")
		}
		step.SearchRequests = cleanStrings(rs.Search.SearchRequests, MaxQueriesPerStep)
		if len(step.SearchRequests) == 0 {
			return types.StepAction{}, fmt.Errorf("search action with empty searchRequests")
		}

	case types.ActionVisit:
		if !gates.Visit {
			return types.StepAction{}, fmt.Errorf("action %q is not permitted this step", rs.Action)
		}
		if rs.Visit == nil {
			return types.StepAction{}, fmt.Errorf("visit action missing URLTargets")
		}
		step.URLTargets = cleanStrings(rs.Visit.URLTargets, MaxURLsPerStep)
		if len(step.URLTargets) == 0 {
			return types.StepAction{}, fmt.Errorf("visit action with empty URLTargets")
		}

	case types.ActionAnswer:
		if !gates.Answer {
			return types.StepAction{}, fmt.Errorf("action %q is not permitted this step", rs.Action)
		}
		if rs.Answer == nil {
			return types.StepAction{}, fmt.Errorf("answer action missing answer payload")
		}
		step.Answer = strings.TrimSpace(rs.Answer.Answer)
		for _, ref := range rs.Answer.References {
			ref.ExactQuote = truncate(strings.TrimSpace(ref.ExactQuote), 30)
			ref.URL = truncate(strings.TrimSpace(ref.URL), 100)
			ref.DateTime = truncate(strings.TrimSpace(ref.DateTime), 16)
			if ref.URL == "" {
				continue
			}
			step.References = append(step.References, ref)
		}

	case types.ActionReflect:
		if !gates.Reflect {
			return types.StepAction{}, fmt.Errorf("action %q is not permitted this step", rs.Action)
		}
		if rs.Reflect == nil {
			return types.StepAction{}, fmt.Errorf("reflect action missing questionsToAnswer")
		}
		step.QuestionsToAnswer = cleanStrings(rs.Reflect.QuestionsToAnswer, MaxReflectPerStep)
		if len(step.QuestionsToAnswer) == 0 {
			return types.StepAction{}, fmt.Errorf("reflect action with empty questionsToAnswer")
		}

	case types.ActionCoding:
		if !gates.Coding {
			return types.StepAction{}, fmt.Errorf("action %q is not permitted this step", rs.Action)
		}
		if rs.Coding == nil || strings.TrimSpace(rs.Coding.CodingIssue) == "" {
			return types.StepAction{}, fmt.Errorf("coding action missing codingIssue")
		}
		step.CodingIssue = truncate(strings.TrimSpace(rs.Coding.CodingIssue), 500)

	default:
		return types.StepAction{}, fmt.Errorf("unknown action %q", rs.Action)
	}

	return step, nil
}

// Language is the reply of the language-detection call.
type Language struct {
	LangCode  string `json:"langCode"`
	LangStyle string `json:"langStyle"`
}

// QuestionEvaluation is the reply of the metric-derivation call.
type QuestionEvaluation struct {
	Think             string `json:"think"`
	NeedsDefinitive   bool   `json:"needsDefinitive"`
	NeedsFreshness    bool   `json:"needsFreshness"`
	NeedsPlurality    bool   `json:"needsPlurality"`
	NeedsCompleteness bool   `json:"needsCompleteness"`
}

// Metrics converts the boolean flags into an ordered metric list.
// Strict is appended separately by the caller for the original
// question only.
func (q QuestionEvaluation) Metrics() []types.EvaluationType {
	var metrics []types.EvaluationType
	if q.NeedsDefinitive {
		metrics = append(metrics, types.EvalDefinitive)
	}
	if q.NeedsFreshness {
		metrics = append(metrics, types.EvalFreshness)
	}
	if q.NeedsPlurality {
		metrics = append(metrics, types.EvalPlurality)
	}
	if q.NeedsCompleteness {
		metrics = append(metrics, types.EvalCompleteness)
	}
	return metrics
}

// DedupResult is the reply of the dedup call.
type DedupResult struct {
	Think         string   `json:"think"`
	UniqueQueries []string `json:"unique_queries"`
}

// QueryRewrite is the reply of the query-rewriter call.
type QueryRewrite struct {
	Think   string            `json:"think"`
	Queries []types.SERPQuery `json:"queries"`
}

// CodeSolution is the reply of the coder call.
type CodeSolution struct {
	Think string `json:"think"`
	Code  string `json:"code"`
}
