package agent

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"deepresearch/internal/llm"
	"deepresearch/internal/schema"
	"deepresearch/internal/types"
)

const maxAttributionSourceChars = 20000

const questionEvaluatorPrompt = `You are an evaluator that determines which quality checks a question requires before its answer can be accepted.

<evaluation-types>
definitive: the question expects a committed answer, so hedging, "I don't know" or "it depends" must be rejected. Almost every question needs this; only questions that are truly unanswerable by construction do not.
freshness: the question depends on current or recent information (prices, versions, office holders, "latest", "today").
plurality: the question asks for a specific count or a list of multiple items ("top 5", "name three", "list all").
completeness: the question explicitly names multiple aspects, entities or dimensions that the answer must all address.
</evaluation-types>

<rules>
1. Judge only from the question text, never guess the answer.
2. freshness, plurality and completeness require explicit signals in the question.
3. When the question names both a count and multiple named aspects, plurality wins over completeness only if the count is the dominant requirement.
</rules>`

// evaluateQuestion derives which metrics the answer to a question must
// pass. Strict is appended by the caller.
func (a *Agent) evaluateQuestion(ctx context.Context, question string) ([]types.EvaluationType, error) {
	var out schema.QuestionEvaluation
	_, err := a.gen.GenerateInto(ctx, llm.Request{
		Tool:     "evaluator",
		Schema:   a.registry.QuestionEvaluateSchema(),
		System:   questionEvaluatorPrompt,
		Messages: []types.Message{{Role: "user", Content: question}},
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("question evaluation failed: %w", err)
	}
	metrics := out.Metrics()
	a.logger.Debug("question metrics derived",
		zap.String("question", question),
		zap.Any("metrics", metrics),
		zap.String("think", out.Think))
	return metrics, nil
}

// evalReply covers the union of all evaluator schema variants.
type evalReply struct {
	Type                 string                      `json:"type"`
	Think                string                      `json:"think"`
	Pass                 bool                        `json:"pass"`
	FreshnessAnalysis    *types.FreshnessAnalysis    `json:"freshness_analysis"`
	PluralityAnalysis    *types.PluralityAnalysis    `json:"plurality_analysis"`
	CompletenessAnalysis *types.CompletenessAnalysis `json:"completeness_analysis"`
	ExactQuote           string                      `json:"exactQuote"`
	ImprovementPlan      string                      `json:"improvement_plan"`
}

// evaluateAnswer runs the metric chain in order and short-circuits on
// the first failure. Attribution joins the chain automatically whenever
// the answer cites references. A call failure on one metric skips that
// metric instead of rejecting the answer.
func (a *Agent) evaluateAnswer(ctx context.Context, st *runState, question string, step types.StepAction, metrics []types.EvaluationType) (*types.EvaluationResult, error) {
	chain := orderMetrics(metrics, len(step.References) > 0)

	last := &types.EvaluationResult{Pass: true}
	for _, kind := range chain {
		result, err := a.evaluateMetric(ctx, st, question, step, kind)
		if err != nil {
			a.logger.Warn("evaluator call failed, skipping metric",
				zap.String("metric", string(kind)), zap.Error(err))
			continue
		}
		if !result.Pass {
			a.logger.Info("answer rejected",
				zap.String("metric", string(kind)), zap.String("think", result.Think))
			return result, nil
		}
		last = result
	}
	return last, nil
}

// orderMetrics fixes the chain order regardless of how the metrics were
// derived: cheap text checks first, source verification late, the
// strict review always last.
func orderMetrics(metrics []types.EvaluationType, hasReferences bool) []types.EvaluationType {
	want := make(map[types.EvaluationType]bool, len(metrics))
	for _, m := range metrics {
		want[m] = true
	}
	if hasReferences {
		want[types.EvalAttribution] = true
	}

	order := []types.EvaluationType{
		types.EvalDefinitive,
		types.EvalFreshness,
		types.EvalPlurality,
		types.EvalAttribution,
		types.EvalCompleteness,
		types.EvalStrict,
	}
	var chain []types.EvaluationType
	for _, kind := range order {
		if want[kind] {
			chain = append(chain, kind)
		}
	}
	return chain
}

func (a *Agent) evaluateMetric(ctx context.Context, st *runState, question string, step types.StepAction, kind types.EvaluationType) (*types.EvaluationResult, error) {
	evalSchema, err := a.registry.EvaluatorSchema(string(kind))
	if err != nil {
		return nil, err
	}

	system, user := a.buildEvaluatorPrompt(st, question, step, kind)

	var reply evalReply
	_, err = a.gen.GenerateInto(ctx, llm.Request{
		Tool:     "evaluator",
		Schema:   evalSchema,
		System:   system,
		Messages: []types.Message{{Role: "user", Content: user}},
	}, &reply)
	if err != nil {
		return nil, err
	}

	result := &types.EvaluationResult{
		Type:                 kind,
		Pass:                 reply.Pass,
		Think:                reply.Think,
		FreshnessAnalysis:    reply.FreshnessAnalysis,
		PluralityAnalysis:    reply.PluralityAnalysis,
		CompletenessAnalysis: reply.CompletenessAnalysis,
		ExactQuote:           reply.ExactQuote,
		ImprovementPlan:      reply.ImprovementPlan,
	}

	// The numeric analyses are authoritative over the boolean the
	// model emitted.
	switch kind {
	case types.EvalFreshness:
		if fa := result.FreshnessAnalysis; fa != nil && fa.MaxAgeDays > 0 {
			result.Pass = fa.DaysAgo <= fa.MaxAgeDays
		}
	case types.EvalPlurality:
		if pa := result.PluralityAnalysis; pa != nil && pa.MinimumCountRequired > 0 {
			result.Pass = pa.ActualCountProvided >= pa.MinimumCountRequired
		}
	}
	return result, nil
}

func (a *Agent) buildEvaluatorPrompt(st *runState, question string, step types.StepAction, kind types.EvaluationType) (system, user string) {
	qa := fmt.Sprintf("<question>\n%s\n</question>\n\n<answer>\n%s\n</answer>", question, step.Answer)

	switch kind {
	case types.EvalDefinitive:
		system = `You are an evaluator of answer definitiveness.

<rules>
A definitive answer commits to a position. Reject answers that contain uncertainty markers ("I don't know", "not sure", "might be", "it depends", "unable to determine") or that refuse the question without offering an alternative. Expressions of personal experience limits ("as an AI I cannot...") followed by a useful general answer still count as definitive.
</rules>`
		user = qa

	case types.EvalFreshness:
		system = fmt.Sprintf(`You are an evaluator of answer freshness. Today is %s.

<rules>
Estimate how old the information in the answer is (days_ago) from any dates or datable facts it contains, and determine the maximum acceptable age (max_age_days) for this kind of question: financial data hours to a day, news a few days, software versions weeks, stable facts years. The answer passes only when days_ago does not exceed max_age_days.
</rules>`, a.now().UTC().Format("2006-01-02"))
		user = qa

	case types.EvalPlurality:
		system = `You are an evaluator of answer plurality.

<rules>
Determine how many distinct items the question requires (an explicit number, or a reasonable minimum for open phrasings like "several" or "list the main...") and how many the answer actually provides. Count distinct items, not sentences. The answer passes when the provided count reaches the required count.
</rules>`
		user = qa

	case types.EvalAttribution:
		system = `You are an evaluator of answer attribution.

<rules>
Verify that the answer's claims are actually supported by the cited source content provided below. Every load-bearing claim must trace to the sources; quote the strongest supporting passage as exactQuote. Reject when the sources do not contain the claimed facts or when the answer contradicts them. Missing source content for every citation is a failure.
</rules>`
		user = qa + "\n\n<source-content>\n" + a.attributionSources(st, step) + "\n</source-content>"

	case types.EvalCompleteness:
		system = `You are an evaluator of answer completeness.

<rules>
List the aspects the question explicitly names (multiple entities, dimensions, comparisons, time periods) and the aspects the answer actually covers. Use short comma-separated noun phrases. The answer passes only when every explicitly requested aspect is addressed; depth per aspect is not your concern.
</rules>`
		user = qa

	case types.EvalStrict:
		system = `You are a ruthless senior reviewer holding answers to publication standard.

<rules>
Find the weakest part of the answer: vague claims, missing concrete numbers or dates, unexamined counter-evidence, shallow single-source coverage, generic filler. Reject unless the answer would satisfy a domain expert. When rejecting, write an improvement_plan starting with "For the best answer, you must..." that names the concrete missing pieces.
</rules>`
		user = qa
	}
	return system, user
}

// attributionSources collects the fetched content of the cited URLs
// from the knowledge base, capped to keep the evaluator prompt bounded.
func (a *Agent) attributionSources(st *runState, step types.StepAction) string {
	cited := make(map[string]bool, len(step.References))
	for _, ref := range step.References {
		cited[ref.URL] = true
	}

	var sb strings.Builder
	for _, k := range st.knowledge {
		if k.Type != types.KnowledgeURL || len(k.References) == 0 || !cited[k.References[0].URL] {
			continue
		}
		remaining := maxAttributionSourceChars - sb.Len()
		if remaining <= 0 {
			break
		}
		content := k.Answer
		if len(content) > remaining {
			content = content[:remaining]
		}
		fmt.Fprintf(&sb, "<source url=%q>\n%s\n</source>\n", k.References[0].URL, content)
	}
	if sb.Len() == 0 {
		return "(no source content available for the cited URLs)"
	}
	return sb.String()
}
