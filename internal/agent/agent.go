// Package agent implements the deep-research control loop: a
// single-threaded state machine that picks one gated action per step
// (search, visit, reflect, coding, answer), folds the outcome back into
// the knowledge base, diary and URL pool, evaluates candidate answers,
// recovers from rejected answers through error analysis, and forces a
// terminal beast-mode answer when budgets run out.
package agent

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"go.uber.org/zap"

	"deepresearch/internal/fetch"
	"deepresearch/internal/llm"
	"deepresearch/internal/sandbox"
	"deepresearch/internal/schema"
	"deepresearch/internal/search"
	"deepresearch/internal/trackers"
	"deepresearch/internal/types"
	"deepresearch/internal/urlpool"
)

// Generator is the structured-output surface the loop depends on.
// *llm.SafeGenerator satisfies it; tests substitute scripted stubs.
type Generator interface {
	GenerateObject(ctx context.Context, req llm.Request) (*llm.Result, error)
	GenerateInto(ctx context.Context, req llm.Request, out any) (*llm.Result, error)
}

// Fetcher reads pages for the visit action.
type Fetcher interface {
	Read(ctx context.Context, url string) (*fetch.Page, error)
	LastModified(ctx context.Context, url string) string
}

// Solver executes coding actions.
type Solver interface {
	Solve(ctx context.Context, issue string, env sandbox.Environment) (*sandbox.Solution, error)
}

// Deps are the collaborators of one agent instance.
type Deps struct {
	Generator Generator
	Search    search.Provider
	Fetcher   Fetcher
	Solver    Solver
	Registry  *schema.Registry
	Tokens    *trackers.TokenTracker
	Actions   *trackers.ActionTracker
	Logger    *zap.Logger

	// Deterministic hooks. Nil values fall back to real time and a
	// time-seeded RNG.
	RNG   *rand.Rand
	Now   func() time.Time
	Sleep func(context.Context, time.Duration)
}

// Options are the per-run knobs.
type Options struct {
	TokenBudget     int
	MaxBadAttempts  int
	NoDirectAnswer  bool
	NumReturnedURLs int
	StepSleep       time.Duration
	ArtifactDir     string
}

// DefaultOptions mirrors the programmatic-surface defaults.
func DefaultOptions() Options {
	return Options{
		TokenBudget:     1_000_000,
		MaxBadAttempts:  3,
		NumReturnedURLs: 100,
	}
}

// Context exposes the run's trackers for programmatic callers who
// want usage totals or step snapshots after the run.
type Context struct {
	Tokens  *trackers.TokenTracker
	Actions *trackers.ActionTracker
}

// Response is the outcome of a run. Result is always populated; when
// IsFinal is false the run exhausted its budget without a verified
// answer.
type Response struct {
	Result      types.StepAction
	Context     Context
	VisitedURLs []string
	ReadURLs    []string
	AllURLs     []string
}

// Agent is a single research loop instance. Not safe for concurrent
// runs; create one agent per question.
type Agent struct {
	gen      Generator
	searcher search.Provider
	fetcher  Fetcher
	solver   Solver
	registry *schema.Registry
	tokens   *trackers.TokenTracker
	actions  *trackers.ActionTracker
	logger   *zap.Logger
	rng      *rand.Rand
	now      func() time.Time
	sleep    func(context.Context, time.Duration)
	opts     Options
}

// New creates an agent.
func New(deps Deps, opts Options) *Agent {
	if opts.MaxBadAttempts <= 0 {
		opts.MaxBadAttempts = 3
	}
	if opts.NumReturnedURLs <= 0 {
		opts.NumReturnedURLs = 100
	}
	rng := deps.RNG
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	sleepFn := deps.Sleep
	if sleepFn == nil {
		sleepFn = func(ctx context.Context, d time.Duration) {
			if d <= 0 {
				return
			}
			select {
			case <-time.After(d):
			case <-ctx.Done():
			}
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Agent{
		gen:      deps.Generator,
		searcher: deps.Search,
		fetcher:  deps.Fetcher,
		solver:   deps.Solver,
		registry: deps.Registry,
		tokens:   deps.Tokens,
		actions:  deps.Actions,
		logger:   logger,
		rng:      rng,
		now:      now,
		sleep:    sleepFn,
		opts:     opts,
	}
}

// contextEntry is one dispatched step kept for the sandbox environment
// and the debug artifacts. Result carries whatever the dispatcher
// attached to the step, mirroring the evolved shape of the step log.
type contextEntry struct {
	TotalStep int              `json:"totalStep"`
	Question  string           `json:"question,omitempty"`
	Step      types.StepAction `json:"step"`
	Result    any              `json:"result,omitempty"`
}

// runState is the mutable state of one run, owned by the loop.
type runState struct {
	question string
	messages []types.Message

	gaps         []string
	allQuestions []string
	allKeywords  []string
	knowledge    []types.KnowledgeItem
	diary        []string
	allContext   []contextEntry

	pool         *urlpool.Pool
	visited      map[string]bool
	visitedOrder []string
	weighted     []types.Snippet

	metrics        map[string][]types.EvaluationType
	finalAnswerPIP []string
	maxStrictEvals int

	step        int
	totalStep   int
	badAttempts int

	allowSearch  bool
	allowVisit   bool
	allowAnswer  bool
	allowReflect bool
	allowCoding  bool

	lastStep   types.StepAction
	lastSystem string
	lastSchema map[string]any
	lastMsgs   []types.Message
}

func newRunState(question string, messages []types.Message) *runState {
	open := schema.AllOpen()
	return &runState{
		question:       question,
		messages:       messages,
		gaps:           []string{question},
		allQuestions:   []string{question},
		pool:           urlpool.New(),
		visited:        make(map[string]bool),
		metrics:        make(map[string][]types.EvaluationType),
		maxStrictEvals: 2,
		allowSearch:    open.Search,
		allowVisit:     open.Visit,
		allowAnswer:    open.Answer,
		allowReflect:   open.Reflect,
		allowCoding:    open.Coding,
		lastStep:       types.StepAction{Action: types.ActionAnswer},
	}
}

func (st *runState) gates() schema.Gates {
	return schema.Gates{
		Search:  st.allowSearch,
		Visit:   st.allowVisit,
		Answer:  st.allowAnswer,
		Reflect: st.allowReflect,
		Coding:  st.allowCoding,
	}
}

func (st *runState) addContext(e contextEntry) {
	st.allContext = append(st.allContext, e)
}

func (st *runState) contextLines() []string {
	lines := make([]string, 0, len(st.allContext))
	for _, e := range st.allContext {
		lines = append(lines, fmt.Sprintf("step %d: %s: %s", e.TotalStep, e.Step.Action, e.Step.Think))
	}
	return lines
}

// Run executes the loop for one question. When messages are provided,
// the question is the last user message; system messages are dropped.
func (a *Agent) Run(ctx context.Context, question string, messages []types.Message) (*Response, error) {
	question = strings.TrimSpace(question)
	msgs := make([]types.Message, 0, len(messages))
	for _, m := range messages {
		if m.Role != "system" {
			msgs = append(msgs, m)
		}
	}
	if len(msgs) > 0 {
		question = strings.TrimSpace(msgs[len(msgs)-1].Content)
	} else {
		msgs = []types.Message{{Role: "user", Content: question}}
	}
	if question == "" {
		return nil, fmt.Errorf("empty question")
	}

	a.detectLanguage(ctx, question)

	st := newRunState(question, msgs)
	artifacts := newArtifactStore(a.opts.ArtifactDir, a.logger)

	regularBudget := float64(a.opts.TokenBudget) * 0.9

	for (a.opts.TokenBudget <= 0 || float64(a.tokens.TotalUsage().TotalTokens) < regularBudget) &&
		st.badAttempts <= a.opts.MaxBadAttempts {
		st.step++
		st.totalStep++
		st.allowReflect = st.allowReflect && len(st.gaps) <= schema.MaxReflectPerStep
		current := st.gaps[st.totalStep%len(st.gaps)]

		a.logger.Info("step",
			zap.Int("totalStep", st.totalStep),
			zap.String("question", current),
			zap.Int("tokensUsed", a.tokens.TotalUsage().TotalTokens))

		if current == st.question && st.totalStep == 1 {
			metrics, err := a.evaluateQuestion(ctx, current)
			if err != nil {
				a.logger.Warn("question evaluation failed", zap.Error(err))
			}
			st.metrics[current] = append(metrics, types.EvalStrict)
		} else if current != st.question {
			if _, ok := st.metrics[current]; !ok {
				st.metrics[current] = nil
			}
		}

		if st.totalStep == 1 && hasMetric(st.metrics[current], types.EvalFreshness) {
			st.allowAnswer = false
			st.allowReflect = false
		}

		if st.pool.Len() > 0 {
			st.weighted = urlpool.KeepKPerHostname(
				urlpool.Rank(urlpool.Filter(st.pool.Snippets(), st.visited), current), 2)
		}

		gates := st.gates()
		if !gates.Search && !gates.Visit && !gates.Answer && !gates.Reflect && !gates.Coding {
			break
		}

		var pip []string
		if current == st.question {
			pip = st.finalAnswerPIP
		}

		st.lastSystem = composeSystemPrompt(promptParams{
			Context:     st.diary,
			AllKeywords: st.allKeywords,
			Knowledge:   st.knowledge,
			URLs:        st.weighted,
			Gates:       gates,
			Now:         a.now(),
		})
		st.lastSchema = a.registry.AgentSchema(gates, current)
		st.lastMsgs = composeMessages(st.messages, st.knowledge, current, pip)

		result, err := a.gen.GenerateObject(ctx, llm.Request{
			Tool:     "agent",
			Schema:   st.lastSchema,
			System:   st.lastSystem,
			Messages: st.lastMsgs,
		})
		var thisStep types.StepAction
		if err == nil {
			thisStep, err = schema.ParseStepAction(result.Object, gates)
		}
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			a.logger.Warn("step action rejected", zap.Error(err))
			thisStep = types.StepAction{
				Action: types.ActionError,
				Think:  "The previous response did not follow the required format.",
			}
			st.lastStep = thisStep
			st.diary = append(st.diary, fmt.Sprintf(
				"At step %d, your action could not be understood. You decided to think out of the box or cut from a completely different angle.",
				st.step))
			st.addContext(contextEntry{
				TotalStep: st.totalStep,
				Step:      thisStep,
				Result:    "Your response did not follow the required format. You must think out of the box or different angle!!!",
			})
			artifacts.store(st)
			a.sleep(ctx, a.opts.StepSleep)
			continue
		}

		st.lastStep = thisStep
		a.actions.TrackAction(trackers.ActionState{
			ThisStep:    thisStep,
			Gaps:        st.gaps,
			BadAttempts: st.badAttempts,
			TotalStep:   st.totalStep,
		})

		// Gates reopen every step; coding stays closed once spent.
		st.allowAnswer, st.allowReflect, st.allowVisit, st.allowSearch = true, true, true, true

		var stop bool
		switch thisStep.Action {
		case types.ActionAnswer:
			stop = a.handleAnswer(ctx, st, &thisStep, current)
		case types.ActionReflect:
			a.handleReflect(ctx, st, &thisStep, current)
		case types.ActionSearch:
			a.handleSearch(ctx, st, &thisStep, current)
		case types.ActionVisit:
			a.handleVisit(ctx, st, &thisStep)
		case types.ActionCoding:
			a.handleCoding(ctx, st, &thisStep)
		}
		st.lastStep = thisStep
		artifacts.store(st)
		if stop {
			break
		}
		a.sleep(ctx, a.opts.StepSleep)
	}

	if !st.lastStep.IsFinal {
		a.beast(ctx, st)
	}

	st.lastStep.MDAnswer = buildMdAnswer(st.lastStep)
	artifacts.store(st)

	allURLs := make([]string, 0, len(st.weighted))
	for _, u := range st.weighted {
		allURLs = append(allURLs, u.URL)
	}
	returned := allURLs
	if len(returned) > a.opts.NumReturnedURLs {
		returned = returned[:a.opts.NumReturnedURLs]
	}

	return &Response{
		Result:      st.lastStep,
		Context:     Context{Tokens: a.tokens, Actions: a.actions},
		VisitedURLs: returned,
		ReadURLs:    append([]string(nil), st.visitedOrder...),
		AllURLs:     allURLs,
	}, nil
}

// beast runs the forced terminal answer step: answer-only schema, the
// aggressive prompt block, full knowledge and all reviewer feedback.
// No evaluation happens afterwards.
func (a *Agent) beast(ctx context.Context, st *runState) {
	a.logger.Info("entering beast mode", zap.Int("totalStep", st.totalStep))
	st.step++
	st.totalStep++

	gates := schema.Gates{Answer: true}
	st.lastSystem = composeSystemPrompt(promptParams{
		Context:     st.diary,
		AllKeywords: st.allKeywords,
		Knowledge:   st.knowledge,
		URLs:        st.weighted,
		Gates:       schema.Gates{},
		BeastMode:   true,
		Now:         a.now(),
	})
	st.lastSchema = a.registry.AgentSchema(gates, st.question)
	st.lastMsgs = composeMessages(st.messages, st.knowledge, st.question, st.finalAnswerPIP)

	result, err := a.gen.GenerateObject(ctx, llm.Request{
		Tool:     "agentBeastMode",
		Schema:   st.lastSchema,
		System:   st.lastSystem,
		Messages: st.lastMsgs,
	})
	var thisStep types.StepAction
	if err == nil {
		thisStep, err = schema.ParseStepAction(result.Object, gates)
	}
	if err != nil {
		a.logger.Error("beast mode failed", zap.Error(err))
		if st.lastStep.Think == "" {
			st.lastStep.Think = "Unable to produce a verified answer within the given budget."
		}
		st.lastStep.IsFinal = false
		return
	}

	a.updateReferences(ctx, st, &thisStep)
	thisStep.IsFinal = true
	st.lastStep = thisStep
	a.actions.TrackAction(trackers.ActionState{
		ThisStep:    thisStep,
		Gaps:        st.gaps,
		BadAttempts: st.badAttempts,
		TotalStep:   st.totalStep,
	})
}

// detectLanguage runs the one-shot language/tone detection that
// parameterizes every later schema. Failures keep the defaults.
func (a *Agent) detectLanguage(ctx context.Context, question string) {
	snippet := question
	if runes := []rune(snippet); len(runes) > 100 {
		snippet = string(runes[:100])
	}
	var lang schema.Language
	_, err := a.gen.GenerateInto(ctx, llm.Request{
		Tool:   "agent",
		Schema: a.registry.LanguageSchema(),
		System: "Identify both the primary language used and the overall vibe of the question. Combine language and emotional tone in a short descriptive phrase, considering formality level and domain context.",
		Messages: []types.Message{
			{Role: "user", Content: snippet},
		},
	}, &lang)
	if err != nil {
		a.logger.Warn("language detection failed", zap.Error(err))
		return
	}
	a.registry.SetLanguage(lang.LangCode, lang.LangStyle)
	a.logger.Debug("language detected",
		zap.String("code", lang.LangCode), zap.String("style", lang.LangStyle))
}

func hasMetric(metrics []types.EvaluationType, kind types.EvaluationType) bool {
	for _, m := range metrics {
		if m == kind {
			return true
		}
	}
	return false
}
