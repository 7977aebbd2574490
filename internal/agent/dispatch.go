package agent

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"deepresearch/internal/sandbox"
	"deepresearch/internal/schema"
	"deepresearch/internal/types"
	"deepresearch/internal/urlpool"
)

// handleReflect deduplicates the proposed sub-questions against every
// question asked so far and extends the gap queue with the survivors.
func (a *Agent) handleReflect(ctx context.Context, st *runState, thisStep *types.StepAction, current string) {
	defer func() { st.allowReflect = false }()

	newGaps := a.dedupStrings(ctx, thisStep.QuestionsToAnswer, st.allQuestions)
	if len(newGaps) > schema.MaxReflectPerStep {
		newGaps = newGaps[:schema.MaxReflectPerStep]
	}

	if len(newGaps) == 0 {
		st.diary = append(st.diary, fmt.Sprintf(`At step %d, you took **reflect** and think about the knowledge gaps. You tried to break down the question "%s" into gap-questions like this: %s
But then you realized you have asked them before. You decided to think out of the box or cut from a completely different angle.
`, st.step, current, strings.Join(thisStep.QuestionsToAnswer, ", ")))
		st.addContext(contextEntry{
			TotalStep: st.totalStep,
			Step:      *thisStep,
			Result:    "You have tried all possible questions and found no useful information. You must think out of the box or different angle!!!",
		})
		return
	}

	st.diary = append(st.diary, fmt.Sprintf(`At step %d, you took **reflect** and think about the knowledge gaps. You found some sub-questions are important to the question: "%s"
You realize you need to know the answers to the following sub-questions:
%s

You will now figure out the answers to these sub-questions and see if they can help you find the answer to the original question.
`, st.step, current, "- "+strings.Join(newGaps, "\n- ")))
	st.gaps = append(st.gaps, newGaps...)
	st.allQuestions = append(st.allQuestions, newGaps...)
	st.addContext(contextEntry{TotalStep: st.totalStep, Step: *thisStep, Result: newGaps})
}

// handleSearch runs the two-round search pipeline: the model's own
// requests first, then a rewriter pass grounded on the collected sound
// bites. Every executed query lands in allKeywords whether or not it
// produced results, so it is never retried.
func (a *Agent) handleSearch(ctx context.Context, st *runState, thisStep *types.StepAction, current string) {
	defer func() { st.allowSearch = false }()

	unique := a.dedupStrings(ctx, thisStep.SearchRequests, st.allKeywords)
	if len(unique) > schema.MaxQueriesPerStep {
		unique = unique[:schema.MaxQueriesPerStep]
	}
	queries := make([]types.SERPQuery, 0, len(unique))
	for _, q := range unique {
		queries = append(queries, types.SERPQuery{Q: q})
	}

	searched, soundBites := a.executeSearchQueries(ctx, st, queries)
	st.allKeywords = append(st.allKeywords, searched...)

	var searchedRewritten []string
	if len(searched) > 0 && soundBites != "" {
		rewritten := a.rewriteQuery(ctx, queries, soundBites, current)
		var candidates []string
		for _, q := range rewritten {
			candidates = append(candidates, q.Q)
		}
		uniqueRewritten := a.dedupStrings(ctx, candidates, st.allKeywords)
		keep := make([]types.SERPQuery, 0, len(uniqueRewritten))
		allowed := make(map[string]bool, len(uniqueRewritten))
		for _, q := range uniqueRewritten {
			allowed[strings.ToLower(q)] = true
		}
		for _, q := range rewritten {
			if allowed[strings.ToLower(q.Q)] && len(keep) < schema.MaxQueriesPerStep {
				keep = append(keep, q)
			}
		}
		searchedRewritten, _ = a.executeSearchQueries(ctx, st, keep)
		st.allKeywords = append(st.allKeywords, searchedRewritten...)
	}

	executed := append(append([]string(nil), searched...), searchedRewritten...)
	if len(executed) > 0 {
		st.diary = append(st.diary, fmt.Sprintf(`At step %d, you took the **search** action and look for external information for the question: "%s".
In particular, you tried to search for the following keywords: "%s".
You found quite some information and add them to your URL list and **visit** them later when needed.
`, st.step, current, strings.Join(executed, ", ")))
		st.addContext(contextEntry{TotalStep: st.totalStep, Step: *thisStep, Result: executed})
		return
	}

	st.diary = append(st.diary, fmt.Sprintf(`At step %d, you took the **search** action and look for external information for the question: "%s".
In particular, you tried to search for the following keywords: "%s".
But then you realized you have already searched for these keywords before, no new information is returned.
You decided to think out of the box or cut from a completely different angle.
`, st.step, current, strings.Join(thisStep.SearchRequests, ", ")))
	st.addContext(contextEntry{
		TotalStep: st.totalStep,
		Step:      *thisStep,
		Result:    "You have tried all possible queries and found no new information. You must think out of the box or different angle!!!",
	})
}

// handleVisit merges the model's URL targets with the top ranked pool
// URLs, caps the batch and reads the pages.
func (a *Agent) handleVisit(ctx context.Context, st *runState, thisStep *types.StepAction) {
	defer func() { st.allowVisit = false }()

	seen := make(map[string]bool)
	var targets []string
	add := func(raw string) {
		normalized, ok := urlpool.Normalize(raw)
		if !ok || seen[normalized] || st.visited[normalized] {
			return
		}
		seen[normalized] = true
		targets = append(targets, normalized)
	}
	for _, u := range thisStep.URLTargets {
		add(u)
	}
	for _, u := range st.weighted {
		add(u.URL)
	}
	if len(targets) > schema.MaxURLsPerStep {
		targets = targets[:schema.MaxURLsPerStep]
	}

	if len(targets) == 0 {
		st.diary = append(st.diary, fmt.Sprintf(`At step %d, you took the **visit** action. But then you realized you have already visited these URLs and you already know very well about their contents.
You decided to think out of the box or cut from a completely different angle.
`, st.step))
		st.addContext(contextEntry{
			TotalStep: st.totalStep,
			Step:      *thisStep,
			Result:    "You have visited all possible URLs and found no new information. You must think out of the box or different angle!!!",
		})
		return
	}

	success := a.processURLs(ctx, st, targets)
	if success > 0 {
		st.diary = append(st.diary, fmt.Sprintf(`At step %d, you took the **visit** action and deep dive into the following URLs:
%s
You found some useful information on the web and add them to your knowledge for future reference.
`, st.step, strings.Join(targets, "\n")))
	} else {
		st.diary = append(st.diary, fmt.Sprintf(`At step %d, you took the **visit** action and try to visit the following URLs:
%s
But you failed to read their contents. You need to think out of the box or cut from a completely different angle.
`, st.step, strings.Join(targets, "\n")))
	}
	st.addContext(contextEntry{TotalStep: st.totalStep, Step: *thisStep, Result: targets})
}

// handleCoding runs the sandbox on the coding issue. The coding gate
// closes permanently for the rest of the run, success or not.
func (a *Agent) handleCoding(ctx context.Context, st *runState, thisStep *types.StepAction) {
	defer func() { st.allowCoding = false }()

	if a.solver == nil {
		a.logger.Warn("coding action requested but no solver configured")
		st.diary = append(st.diary, fmt.Sprintf(`At step %d, you took the **coding** action and try to solve the coding issue: %s.
But unfortunately, you failed to solve the issue. You need to think out of the box or cut from a completely different angle.
`, st.step, thisStep.CodingIssue))
		return
	}

	var allURLs []string
	for _, u := range st.weighted {
		allURLs = append(allURLs, u.URL)
	}
	sol, err := a.solver.Solve(ctx, thisStep.CodingIssue, sandbox.Environment{
		Context:     st.contextLines(),
		VisitedURLs: st.visitedOrder,
		AllURLs:     allURLs,
		Knowledge:   st.knowledge,
	})
	if err != nil {
		a.logger.Warn("coding action failed", zap.Error(err))
		st.diary = append(st.diary, fmt.Sprintf(`At step %d, you took the **coding** action and try to solve the coding issue: %s.
But unfortunately, you failed to solve the issue. You need to think out of the box or cut from a completely different angle.
`, st.step, thisStep.CodingIssue))
		st.addContext(contextEntry{
			TotalStep: st.totalStep,
			Step:      *thisStep,
			Result:    "You have tried all possible solutions and found no new information. You must think out of the box or different angle!!!",
		})
		return
	}

	st.knowledge = append(st.knowledge, types.KnowledgeItem{
		Question:   fmt.Sprintf("What is the solution to the coding issue: %s?", thisStep.CodingIssue),
		Answer:     sol.Output,
		Type:       types.KnowledgeCoding,
		SourceCode: sol.Code,
		Updated:    a.now().Format("2006-01-02"),
	})
	st.diary = append(st.diary, fmt.Sprintf(`At step %d, you took the **coding** action and try to solve the coding issue: %s.
You found the solution and add it to your knowledge for future reference.
`, st.step, thisStep.CodingIssue))
	st.addContext(contextEntry{TotalStep: st.totalStep, Step: *thisStep, Result: sol.Output})
}
