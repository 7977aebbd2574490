// Package schema produces the JSON schemas sent to the model for
// structured output and parses the model's replies back into the data
// model. Schema and parser live together so a field added to one side
// is visible next to the other.
package schema

import (
	"fmt"
	"time"
)

// Step limits enforced both in the emitted schemas and by the parser.
const (
	MaxQueriesPerStep = 7
	MaxURLsPerStep    = 4
	MaxReflectPerStep = 2
)

// Gates is the per-step action permission vector.
type Gates struct {
	Search  bool
	Visit   bool
	Answer  bool
	Reflect bool
	Coding  bool
}

// AllOpen returns a gate vector with every action permitted.
func AllOpen() Gates {
	return Gates{Search: true, Visit: true, Answer: true, Reflect: true, Coding: true}
}

// Registry builds schemas parameterized by the detected question
// language. Zero value defaults to formal English.
type Registry struct {
	LanguageCode  string
	LanguageStyle string

	// Now is injectable for deterministic freshness schemas in tests.
	Now func() time.Time
}

// NewRegistry returns a registry with the default language settings.
func NewRegistry() *Registry {
	return &Registry{
		LanguageCode:  "en",
		LanguageStyle: "formal English",
		Now:           time.Now,
	}
}

// SetLanguage records the detected language of the question.
func (r *Registry) SetLanguage(code, style string) {
	if code != "" {
		r.LanguageCode = code
	}
	if style != "" {
		r.LanguageStyle = style
	}
}

// LanguagePrompt is the style directive embedded in schema field
// descriptions.
func (r *Registry) LanguagePrompt() string {
	return fmt.Sprintf("Must in the first-person in %q; in the style of %q.", "lang:"+r.LanguageCode, r.LanguageStyle)
}

func obj(properties map[string]any, required ...string) map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

func str(description string, maxLength int) map[string]any {
	s := map[string]any{"type": "string", "description": description}
	if maxLength > 0 {
		s["maxLength"] = maxLength
	}
	return s
}

// LanguageSchema detects the language and tone of the question.
func (r *Registry) LanguageSchema() map[string]any {
	return obj(map[string]any{
		"langCode":  str("ISO 639-1 language code", 10),
		"langStyle": str("[vibe & tone] in [what language], such as formal english, informal chinese, technical german, humor english, slang, genZ, emojis etc.", 100),
	}, "langCode", "langStyle")
}

// QuestionEvaluateSchema decides which quality metrics a question needs.
func (r *Registry) QuestionEvaluateSchema() map[string]any {
	return obj(map[string]any{
		"think":             str("A very concise explain of why those checks are needed. "+r.LanguagePrompt(), 500),
		"needsDefinitive":   map[string]any{"type": "boolean"},
		"needsFreshness":    map[string]any{"type": "boolean"},
		"needsPlurality":    map[string]any{"type": "boolean"},
		"needsCompleteness": map[string]any{"type": "boolean"},
	}, "think", "needsDefinitive", "needsFreshness", "needsPlurality", "needsCompleteness")
}

// CodeGeneratorSchema asks the coder tool for a Go solution. The
// emitted source must define Solve so the sandbox can locate the entry
// point.
func (r *Registry) CodeGeneratorSchema() map[string]any {
	return obj(map[string]any{
		"think": str("Short explain or comments on the thought process behind the code. "+r.LanguagePrompt(), 200),
		"code":  str("Go source code that solves the problem. Must define `func Solve() (string, error)` returning the result. Only standard library imports. Focus on solving the core problem; no error handling beyond the returned error, no code comments. Inline the provided input values as literals.", 0),
	}, "think", "code")
}

// ErrorAnalysisSchema summarizes a failed answer attempt.
func (r *Registry) ErrorAnalysisSchema() map[string]any {
	return obj(map[string]any{
		"recap":       str("Recap of the actions taken and the steps conducted in first person narrative.", 500),
		"blame":       str("Which action or the step was the root cause of the answer rejection. "+r.LanguagePrompt(), 500),
		"improvement": str("Suggested key improvement for the next iteration, do not use bullet points, be concise and hot-take vibe. "+r.LanguagePrompt(), 500),
	}, "recap", "blame", "improvement")
}

// DedupSchema returns the set of queries that add new information over
// the already-searched ones.
func (r *Registry) DedupSchema() map[string]any {
	return obj(map[string]any{
		"think": str("Strategic reasoning about the overlap between new queries and existing ones. "+r.LanguagePrompt(), 500),
		"unique_queries": map[string]any{
			"type":        "array",
			"items":       str("Unique query that provides new information", 30),
			"maxItems":    MaxQueriesPerStep,
			"description": fmt.Sprintf("Queries that are semantically distinct from all previously tried queries. Maximum %d queries.", MaxQueriesPerStep),
		},
	}, "think", "unique_queries")
}

// QueryRewriterSchema generates refined provider queries grounded on
// collected sound bites.
func (r *Registry) QueryRewriterSchema() map[string]any {
	return obj(map[string]any{
		"think": str("Explain why you choose those search queries. "+r.LanguagePrompt(), 500),
		"queries": map[string]any{
			"type": "array",
			"items": obj(map[string]any{
				"tbs": map[string]any{
					"type":        "string",
					"enum":        []string{"qdr:h", "qdr:d", "qdr:w", "qdr:m", "qdr:y"},
					"description": "time-based search filter, must use this field if the search request asks for latest info. qdr:h for past hour, qdr:d for past 24 hours, qdr:w for past week, qdr:m for past month, qdr:y for past year. Choose exactly one.",
				},
				"gl":       str("defines the country to use for the search. a two-letter country code. e.g., us for the United States, uk for United Kingdom, or fr for France.", 0),
				"hl":       str("the language to use for the search. a two-letter language code. e.g., en for English, es for Spanish, or fr for French.", 0),
				"location": str("defines from where you want the search to originate. It is recommended to specify location at the city level in order to simulate a real user's search.", 0),
				"q":        str("keyword-based search query, 2-3 words preferred, total length < 30 characters", 50),
			}, "tbs", "gl", "hl", "q"),
			"maxItems":    MaxQueriesPerStep,
			"description": fmt.Sprintf("Array of search keywords queries, orthogonal to each other. Maximum %d queries allowed.", MaxQueriesPerStep),
		},
	}, "think", "queries")
}

// EvaluatorSchema returns the schema for one evaluation metric. Every
// variant carries a `type` tag so results can be routed without
// ambiguity.
func (r *Registry) EvaluatorSchema(kind string) (map[string]any, error) {
	think := str("Explanation the thought process why the answer does not pass the evaluation, "+r.LanguagePrompt(), 500)
	pass := map[string]any{"type": "boolean", "description": "If the answer passes the test defined by the evaluator"}
	tag := map[string]any{"type": "string", "enum": []string{kind}}

	switch kind {
	case "definitive":
		return obj(map[string]any{
			"type": tag, "think": think, "pass": pass,
		}, "type", "think", "pass"), nil
	case "freshness":
		today := r.now().UTC().Format("2006-01-02")
		return obj(map[string]any{
			"type":  tag,
			"think": think,
			"freshness_analysis": obj(map[string]any{
				"days_ago":     map[string]any{"type": "number", "description": fmt.Sprintf("datetime of the **answer** and relative to %s.", today), "minimum": 0},
				"max_age_days": map[string]any{"type": "number", "description": "Maximum allowed age in days for this kind of question-answer type before it is considered outdated"},
			}, "days_ago"),
			"pass": map[string]any{"type": "boolean", "description": `If "days_ago" <= "max_age_days" then pass!`},
		}, "type", "think", "freshness_analysis", "pass"), nil
	case "plurality":
		return obj(map[string]any{
			"type":  tag,
			"think": think,
			"plurality_analysis": obj(map[string]any{
				"minimum_count_required": map[string]any{"type": "number", "description": "Minimum required number of items from the **question**"},
				"actual_count_provided":  map[string]any{"type": "number", "description": "Number of items provided in **answer**"},
			}, "minimum_count_required", "actual_count_provided"),
			"pass": map[string]any{"type": "boolean", "description": "If count_provided >= count_expected then pass!"},
		}, "type", "think", "plurality_analysis", "pass"), nil
	case "attribution":
		return obj(map[string]any{
			"type":       tag,
			"think":      think,
			"exactQuote": str("Exact relevant quote and evidence from the source that strongly support the answer and justify this question-answer pair", 200),
			"pass":       pass,
		}, "type", "think", "pass"), nil
	case "completeness":
		return obj(map[string]any{
			"type":  tag,
			"think": think,
			"completeness_analysis": obj(map[string]any{
				"aspects_expected": str("Comma-separated list of all aspects or dimensions that the question explicitly asks for.", 100),
				"aspects_provided": str("Comma-separated list of all aspects or dimensions that were actually addressed in the answer", 100),
			}, "aspects_expected", "aspects_provided"),
			"pass": pass,
		}, "type", "think", "completeness_analysis", "pass"), nil
	case "strict":
		return obj(map[string]any{
			"type":             tag,
			"think":            think,
			"improvement_plan": str(`Explain how a perfect answer should look like and what are needed to improve the current answer. Starts with "For the best answer, you must..."`, 1000),
			"pass":             pass,
		}, "type", "think", "improvement_plan", "pass"), nil
	default:
		return nil, fmt.Errorf("unknown evaluation type: %q", kind)
	}
}

func (r *Registry) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// AgentSchema builds the per-step action schema. The action enum and
// the variant objects cover exactly the gated actions, in a fixed
// order, so the model cannot pick a disallowed action without a schema
// violation.
func (r *Registry) AgentSchema(gates Gates, currentQuestion string) map[string]any {
	actions := make(map[string]any)
	var order []string

	if gates.Search {
		order = append(order, "search")
		actions["search"] = obj(map[string]any{
			"searchRequests": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":        "string",
					"description": fmt.Sprintf("A natural language search request in %s. Based on the deep intention behind the original question and the expected answer format.", r.LanguageStyle),
					"minLength":   1,
					"maxLength":   30,
				},
				"maxItems":    MaxQueriesPerStep,
				"description": fmt.Sprintf("Required when action='search'. Always prefer a single request, only add another request if the original question covers multiple aspects or elements and one search request is definitely not enough, each request focus on one specific aspect of the original question. Minimize mutual information between each request. Maximum %d search requests.", MaxQueriesPerStep),
			},
		}, "searchRequests")
	}
	if gates.Coding {
		order = append(order, "coding")
		actions["coding"] = obj(map[string]any{
			"codingIssue": str("Required when action='coding'. Describe what issue to solve with coding, format like a github issue ticket. Specify the input value when it is short.", 500),
		}, "codingIssue")
	}
	if gates.Answer {
		order = append(order, "answer")
		actions["answer"] = obj(map[string]any{
			"references": map[string]any{
				"type": "array",
				"items": obj(map[string]any{
					"exactQuote": str("Exact relevant quote from the document, must be a soundbite, short and to the point, no fluff", 30),
					"url":        str("source URL of the document; must copy from previous URL, avoid example.com or any placeholder fake URLs", 100),
					"dateTime":   str("Use original message's <answer-datetime> if available.", 16),
				}, "exactQuote", "url", "dateTime"),
				"description": "Required when action='answer'. Must be an array of references that support the answer, each reference must contain an exact quote, URL and datetime",
			},
			"answer": str(fmt.Sprintf("Required when action='answer'. Use all your knowledge you have collected, cover multiple aspects if needed. Must be definitive, no ambiguity, no uncertainty, no disclaimers. Must in %s and confident. Use markdown footnote syntax like [^1], [^2] to refer the corresponding reference item. DO NOT contain any placeholder variables in the final answer.", r.LanguageStyle), 0),
		}, "references", "answer")
	}
	if gates.Reflect {
		order = append(order, "reflect")
		actions["reflect"] = obj(map[string]any{
			"questionsToAnswer": map[string]any{
				"type":        "array",
				"items":       str("Ensure each reflection question cuts to core truths while staying anchored to <og-question>, transforms surface-level problems into deeper insights that help answer <og-question>, and is NEVER a general question about process or source reliability.", 0),
				"maxItems":    MaxReflectPerStep,
				"description": fmt.Sprintf("Required when action='reflect'. Reflection and planning, generate a list of most important questions to fill the knowledge gaps to <og-question> %s </og-question>. Maximum provide %d reflect questions.", currentQuestion, MaxReflectPerStep),
			},
		}, "questionsToAnswer")
	}
	if gates.Visit {
		order = append(order, "visit")
		actions["visit"] = obj(map[string]any{
			"URLTargets": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"maxItems":    MaxURLsPerStep,
				"description": fmt.Sprintf("Required when action='visit'. Must be an array of URLs, choose up the most relevant %d URLs to visit", MaxURLsPerStep),
			},
		}, "URLTargets")
	}

	properties := map[string]any{
		"think": str("Concisely explain your reasoning process. "+r.LanguagePrompt(), 500),
		"action": map[string]any{
			"type":        "string",
			"enum":        order,
			"description": "Choose exactly one best action from the available actions, fill in the corresponding action schema required. Keep the reasons in mind: (1) What specific information is still needed? (2) Why is this action most likely to provide that information? (3) What alternatives did you consider and why were they rejected? (4) How will this action advance toward the complete answer?",
		},
	}
	for name, s := range actions {
		properties[name] = s
	}
	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   []string{"think", "action"},
	}
}
