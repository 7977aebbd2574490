// Package types defines the shared data model for the deep-research
// agent: chat messages, knowledge items, references, search snippets,
// step actions and evaluation results. All state flows through these
// types; they carry no behavior beyond small accessors.
package types

// Message is a single chat message in the conversation with the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Reference is a citation attached to an answer. URL is always stored
// in normalized form; Title and DateTime are enriched from the URL pool
// and the fetcher after the model emits the reference.
type Reference struct {
	ExactQuote string `json:"exactQuote"`
	URL        string `json:"url"`
	Title      string `json:"title,omitempty"`
	DateTime   string `json:"dateTime,omitempty"`
}

// KnowledgeType classifies how a knowledge item was acquired.
type KnowledgeType string

const (
	KnowledgeQA       KnowledgeType = "qa"        // answered sub-question or error analysis
	KnowledgeURL      KnowledgeType = "url"       // fetched page content
	KnowledgeSideInfo KnowledgeType = "side-info" // search snippet digest
	KnowledgeCoding   KnowledgeType = "coding"    // sandbox solution
)

// KnowledgeItem is an append-only record in the agent's knowledge base.
type KnowledgeItem struct {
	Question   string        `json:"question"`
	Answer     string        `json:"answer"`
	Type       KnowledgeType `json:"type"`
	References []Reference   `json:"references,omitempty"`
	Updated    string        `json:"updated,omitempty"`
	SourceCode string        `json:"sourceCode,omitempty"`
}

// SERPQuery is a single search-provider request. Only Q is mandatory;
// the remaining fields are hints produced by the query rewriter and
// honored by providers that support them.
type SERPQuery struct {
	Q        string `json:"q"`
	TBS      string `json:"tbs,omitempty"`
	GL       string `json:"gl,omitempty"`
	HL       string `json:"hl,omitempty"`
	Location string `json:"location,omitempty"`
}

// Snippet is a normalized search result or URL-pool entry.
type Snippet struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
	Weight      int    `json:"weight"`
}

// Action names the variants of the per-step action union.
type Action string

const (
	ActionSearch  Action = "search"
	ActionVisit   Action = "visit"
	ActionAnswer  Action = "answer"
	ActionReflect Action = "reflect"
	ActionCoding  Action = "coding"
	// ActionError is synthesized when the model output fails schema
	// validation; it never appears in an emitted schema.
	ActionError Action = "error"
)

// StepAction is the flattened tagged union the loop operates on.
// Exactly the payload fields matching Action are populated.
type StepAction struct {
	Action Action `json:"action"`
	Think  string `json:"think"`

	// search
	SearchRequests []string `json:"searchRequests,omitempty"`

	// visit
	URLTargets []string `json:"URLTargets,omitempty"`

	// answer
	Answer     string      `json:"answer,omitempty"`
	References []Reference `json:"references,omitempty"`
	IsFinal    bool        `json:"isFinal,omitempty"`
	MDAnswer   string      `json:"mdAnswer,omitempty"`

	// reflect
	QuestionsToAnswer []string `json:"questionsToAnswer,omitempty"`

	// coding
	CodingIssue string `json:"codingIssue,omitempty"`
}

// EvaluationType names an answer-quality metric.
type EvaluationType string

const (
	EvalDefinitive   EvaluationType = "definitive"
	EvalFreshness    EvaluationType = "freshness"
	EvalPlurality    EvaluationType = "plurality"
	EvalCompleteness EvaluationType = "completeness"
	EvalAttribution  EvaluationType = "attribution"
	EvalStrict       EvaluationType = "strict"
)

// FreshnessAnalysis is emitted by the freshness evaluator.
type FreshnessAnalysis struct {
	DaysAgo    float64 `json:"days_ago"`
	MaxAgeDays float64 `json:"max_age_days,omitempty"`
}

// PluralityAnalysis is emitted by the plurality evaluator.
type PluralityAnalysis struct {
	MinimumCountRequired int `json:"minimum_count_required"`
	ActualCountProvided  int `json:"actual_count_provided"`
}

// CompletenessAnalysis is emitted by the completeness evaluator.
type CompletenessAnalysis struct {
	AspectsExpected string `json:"aspects_expected"`
	AspectsProvided string `json:"aspects_provided"`
}

// EvaluationResult is the outcome of one evaluator call. Type records
// which metric produced it so the loop can branch on strict failures.
type EvaluationResult struct {
	Type                 EvaluationType        `json:"type"`
	Pass                 bool                  `json:"pass"`
	Think                string                `json:"think"`
	FreshnessAnalysis    *FreshnessAnalysis    `json:"freshness_analysis,omitempty"`
	PluralityAnalysis    *PluralityAnalysis    `json:"plurality_analysis,omitempty"`
	CompletenessAnalysis *CompletenessAnalysis `json:"completeness_analysis,omitempty"`
	ExactQuote           string                `json:"exactQuote,omitempty"`
	ImprovementPlan      string                `json:"improvement_plan,omitempty"`
}

// ErrorAnalysis summarizes a failed answer attempt.
type ErrorAnalysis struct {
	Recap       string `json:"recap"`
	Blame       string `json:"blame"`
	Improvement string `json:"improvement"`
}

// Usage carries token counts for a single model call.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// Add accumulates another usage record into u.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}
