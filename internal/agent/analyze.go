package agent

import (
	"context"
	"fmt"
	"strings"

	"deepresearch/internal/llm"
	"deepresearch/internal/types"
)

const errorAnalyzerPrompt = `You are an expert at analyzing search and reasoning processes. Your task is to analyze the given sequence of steps and identify what went wrong in the search attempt.

<rules>
1. The sequence of actions taken
2. The effectiveness of each step
3. The logic between consecutive steps
4. Alternative approaches that could have been taken
5. Signs of getting stuck in repetitive patterns
6. Whether the final answer matches the accumulated information

Analyze the steps and provide detailed feedback following these guidelines:
- In the recap: Summarize key actions chronologically, highlight patterns, and identify where the process started to go wrong
- In the blame: Point to specific steps or patterns that led to the inadequate answer
- In the improvement: Provide actionable suggestions that could have led to a better outcome
</rules>`

// analyzeSteps reviews the diary of a failed attempt and produces the
// recap, blame and improvement fed back into the knowledge base.
func (a *Agent) analyzeSteps(ctx context.Context, diary []string) (*types.ErrorAnalysis, error) {
	var out types.ErrorAnalysis
	_, err := a.gen.GenerateInto(ctx, llm.Request{
		Tool:   "errorAnalyzer",
		Schema: a.registry.ErrorAnalysisSchema(),
		System: errorAnalyzerPrompt,
		Messages: []types.Message{{
			Role:    "user",
			Content: strings.Join(diary, "\n"),
		}},
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("step analysis failed: %w", err)
	}
	return &out, nil
}
