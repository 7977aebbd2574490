package agent

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"deepresearch/internal/types"
	"deepresearch/internal/urlpool"
)

const maxConcurrentFetches = 4

// handleAnswer processes an answer action. Returns true when the loop
// must stop, either because the answer is final or because the bad
// attempt budget is spent.
func (a *Agent) handleAnswer(ctx context.Context, st *runState, thisStep *types.StepAction, current string) bool {
	a.updateReferences(ctx, st, thisStep)

	// A referenced-free answer on the very first step is a trusted
	// direct answer: greetings, chit-chat, model-knowledge questions.
	if st.totalStep == 1 && len(thisStep.References) == 0 && !a.opts.NoDirectAnswer {
		thisStep.IsFinal = true
		return true
	}

	var newURLs []string
	for _, ref := range thisStep.References {
		if ref.URL != "" && !st.visited[ref.URL] {
			newURLs = append(newURLs, ref.URL)
		}
	}
	if len(newURLs) > 0 {
		a.processURLs(ctx, st, newURLs)
	}

	st.addContext(contextEntry{
		TotalStep: st.totalStep,
		Question:  current,
		Step:      *thisStep,
	})

	evaluation := &types.EvaluationResult{Pass: true}
	if metrics := st.metrics[current]; len(metrics) > 0 {
		result, err := a.evaluateAnswer(ctx, st, current, *thisStep, metrics)
		if err != nil {
			a.logger.Warn("answer evaluation failed, accepting answer", zap.Error(err))
		} else {
			evaluation = result
		}
	}

	if current != st.question {
		if evaluation.Pass {
			st.diary = append(st.diary, fmt.Sprintf(`At step %d, you took **answer** action. You found a good answer to the sub-question:

Sub-question:
%s

Your answer:
%s

The evaluator thinks your answer is good because:
%s

Although you solved a sub-question, you still need to find the answer to the original question. You need to keep going.
`, st.step, current, thisStep.Answer, evaluation.Think))
			st.knowledge = append(st.knowledge, types.KnowledgeItem{
				Question:   current,
				Answer:     thisStep.Answer,
				Type:       types.KnowledgeQA,
				References: thisStep.References,
				Updated:    a.now().Format("2006-01-02"),
			})
			st.gaps = removeString(st.gaps, current)
		}
		return false
	}

	if evaluation.Pass {
		st.diary = append(st.diary, fmt.Sprintf(`At step %d, you took **answer** action and finally found the answer to the original question:

Original question:
%s

Your answer:
%s

The evaluator thinks your answer is good because:
%s

Your journey ends here. You have successfully answered the original question. Congratulations! 🎉
`, st.step, current, thisStep.Answer, evaluation.Think))
		thisStep.IsFinal = true
		return true
	}

	if evaluation.Type == types.EvalStrict && evaluation.ImprovementPlan != "" {
		st.finalAnswerPIP = append(st.finalAnswerPIP, evaluation.ImprovementPlan)
		st.maxStrictEvals--
		if st.maxStrictEvals <= 0 {
			a.logger.Debug("strict review budget spent, dropping strict metric")
			st.metrics[current] = removeMetric(st.metrics[current], types.EvalStrict)
		}
	}

	if st.badAttempts >= a.opts.MaxBadAttempts {
		thisStep.IsFinal = false
		return true
	}

	st.diary = append(st.diary, fmt.Sprintf(`At step %d, you took **answer** action but evaluator thinks it is not a good answer:

Original question:
%s

Your answer:
%s

The evaluator thinks your answer is bad because:
%s
`, st.step, current, thisStep.Answer, evaluation.Think))

	analysis, err := a.analyzeSteps(ctx, st.diary)
	if err != nil {
		a.logger.Warn("error analysis failed", zap.Error(err))
		analysis = &types.ErrorAnalysis{}
	}

	st.knowledge = append(st.knowledge, types.KnowledgeItem{
		Question: fmt.Sprintf("Why is the following answer bad for the question? Please reflect\n\n<question>\n%s\n</question>\n\n<answer>\n%s\n</answer>", current, thisStep.Answer),
		Answer:   fmt.Sprintf("%s\n\n%s\n\n%s\n\n%s", evaluation.Think, analysis.Recap, analysis.Blame, analysis.Improvement),
		Type:     types.KnowledgeQA,
	})

	st.badAttempts++
	st.allowAnswer = false
	st.diary = nil
	st.step = 0
	return false
}

// updateReferences normalizes reference URLs, drops the invalid ones,
// fills titles from the URL pool and resolves missing datetimes with a
// HEAD request per reference.
func (a *Agent) updateReferences(ctx context.Context, st *runState, thisStep *types.StepAction) {
	kept := thisStep.References[:0]
	for _, ref := range thisStep.References {
		normalized, ok := urlpool.Normalize(ref.URL)
		if !ok {
			continue
		}
		ref.URL = normalized
		if snippet, found := st.pool.Get(normalized); found && ref.Title == "" {
			ref.Title = snippet.Title
		}
		kept = append(kept, ref)
	}
	thisStep.References = kept

	if a.fetcher == nil {
		return
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentFetches)
	for i := range thisStep.References {
		if thisStep.References[i].DateTime != "" {
			continue
		}
		ref := &thisStep.References[i]
		g.Go(func() error {
			ref.DateTime = a.fetcher.LastModified(gctx, ref.URL)
			return nil
		})
	}
	_ = g.Wait()
}

// processURLs fetches the given URLs with bounded concurrency, records
// each successful read as url knowledge and marks it visited. Returns
// the number of successful reads.
func (a *Agent) processURLs(ctx context.Context, st *runState, urls []string) int {
	if a.fetcher == nil {
		return 0
	}

	type readResult struct {
		url       string
		title     string
		content   string
		updatedAt string
	}

	var mu sync.Mutex
	var results []readResult

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentFetches)
	for _, raw := range urls {
		url := raw
		g.Go(func() error {
			page, err := a.fetcher.Read(gctx, url)
			if err != nil {
				a.logger.Warn("visit failed", zap.String("url", url), zap.Error(err))
				return nil
			}
			updated := page.LastModified
			if updated == "" {
				updated = a.fetcher.LastModified(gctx, url)
			}
			mu.Lock()
			results = append(results, readResult{
				url:       url,
				title:     page.Title,
				content:   page.Content,
				updatedAt: updated,
			})
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	// Fold results in request order so knowledge and visit order stay
	// deterministic regardless of fetch completion order.
	byURL := make(map[string]readResult, len(results))
	for _, r := range results {
		byURL[r.url] = r
	}
	success := 0
	for _, url := range urls {
		r, ok := byURL[url]
		if !ok {
			continue
		}
		success++
		if !st.visited[url] {
			st.visited[url] = true
			st.visitedOrder = append(st.visitedOrder, url)
		}
		st.pool.Add(types.Snippet{URL: url, Title: r.title})
		st.knowledge = append(st.knowledge, types.KnowledgeItem{
			Question:   fmt.Sprintf("What is in %s?", url),
			Answer:     r.content,
			Type:       types.KnowledgeURL,
			References: []types.Reference{{URL: url}},
			Updated:    r.updatedAt,
		})
	}
	return success
}

func removeString(list []string, target string) []string {
	out := list[:0]
	removed := false
	for _, s := range list {
		if !removed && s == target {
			removed = true
			continue
		}
		out = append(out, s)
	}
	return out
}

func removeMetric(metrics []types.EvaluationType, target types.EvaluationType) []types.EvaluationType {
	out := metrics[:0]
	for _, m := range metrics {
		if m != target {
			out = append(out, m)
		}
	}
	return out
}
