// Package sandbox answers coding actions. The model writes a small Go
// program, the yaegi interpreter runs it with a stdlib whitelist, and
// the printed result becomes knowledge. Interpretation instead of
// compilation keeps the loop free of toolchain and dependency failures.
package sandbox

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
	"go.uber.org/zap"

	"deepresearch/internal/llm"
	"deepresearch/internal/schema"
	"deepresearch/internal/types"
)

const (
	maxAttempts    = 3
	executeTimeout = 10 * time.Second
)

// Environment is the read-only research state exposed to the coder.
type Environment struct {
	Context     []string
	VisitedURLs []string
	AllURLs     []string
	Knowledge   []types.KnowledgeItem
}

// Solution is a successful sandbox run.
type Solution struct {
	Output string
	Code   string
}

// Generator is the subset of the safe generator the sandbox needs.
type Generator interface {
	GenerateInto(ctx context.Context, req llm.Request, out any) (*llm.Result, error)
}

// Sandbox turns coding issues into executed solutions.
type Sandbox struct {
	gen      Generator
	registry *schema.Registry
	exec     *Executor
	logger   *zap.Logger
}

// New creates a sandbox.
func New(gen Generator, registry *schema.Registry, logger *zap.Logger) *Sandbox {
	return &Sandbox{
		gen:      gen,
		registry: registry,
		exec:     NewExecutor(),
		logger:   logger,
	}
}

// Solve asks the coder for Go source and interprets it, feeding
// execution errors back for up to three attempts.
func (s *Sandbox) Solve(ctx context.Context, issue string, env Environment) (*Solution, error) {
	system := buildCoderPrompt(issue, env)

	var lastErr error
	var attemptNote string
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		user := "Generate the Go solution now."
		if attemptNote != "" {
			user = attemptNote
		}

		var sol schema.CodeSolution
		_, err := s.gen.GenerateInto(ctx, llm.Request{
			Tool:     "coder",
			Schema:   s.registry.CodeGeneratorSchema(),
			System:   system,
			Messages: []types.Message{{Role: "user", Content: user}},
		}, &sol)
		if err != nil {
			return nil, fmt.Errorf("code generation failed: %w", err)
		}

		output, err := s.exec.Execute(ctx, sol.Code)
		if err == nil {
			s.logger.Debug("sandbox solved issue",
				zap.Int("attempt", attempt), zap.Int("outputChars", len(output)))
			return &Solution{Output: output, Code: sol.Code}, nil
		}

		lastErr = err
		s.logger.Warn("sandbox attempt failed",
			zap.Int("attempt", attempt), zap.Error(err))
		attemptNote = fmt.Sprintf(
			"The previous attempt failed.\n\nCode:\n```go\n%s\n```\n\nError: %v\n\nFix the problem and generate a corrected solution.",
			sol.Code, err)
	}
	return nil, fmt.Errorf("sandbox failed after %d attempts: %w", maxAttempts, lastErr)
}

func buildCoderPrompt(issue string, env Environment) string {
	var sb strings.Builder
	sb.WriteString("You are an expert Go programmer solving a data-processing problem for a research agent.\n\n")
	sb.WriteString("<rules>\n")
	sb.WriteString("1. Write a complete Go program body that defines `func Solve() (string, error)`.\n")
	sb.WriteString("2. Only standard library imports are available.\n")
	sb.WriteString("3. Inline any needed input values from the context below as literals.\n")
	sb.WriteString("4. Return the final result as the string; do not print.\n")
	sb.WriteString("</rules>\n\n")
	sb.WriteString("<problem>\n" + issue + "\n</problem>\n")

	if len(env.Context) > 0 {
		sb.WriteString("\n<context>\n" + strings.Join(env.Context, "\n") + "\n</context>\n")
	}
	if len(env.Knowledge) > 0 {
		sb.WriteString("\n<knowledge>\n")
		for _, k := range env.Knowledge {
			sb.WriteString(fmt.Sprintf("Q: %s\nA: %s\n\n", k.Question, k.Answer))
		}
		sb.WriteString("</knowledge>\n")
	}
	if len(env.VisitedURLs) > 0 {
		sb.WriteString("\n<visited-urls>\n" + strings.Join(env.VisitedURLs, "\n") + "\n</visited-urls>\n")
	}
	if len(env.AllURLs) > 0 {
		sb.WriteString("\n<all-urls>\n" + strings.Join(env.AllURLs, "\n") + "\n</all-urls>\n")
	}
	return sb.String()
}

// Executor interprets Go source under yaegi.
type Executor struct {
	allowedPackages map[string]bool
}

// NewExecutor creates an executor with the safe stdlib whitelist.
// Filesystem, network, exec and unsafe packages stay blocked.
func NewExecutor() *Executor {
	return &Executor{
		allowedPackages: map[string]bool{
			"strings":         true,
			"strconv":         true,
			"fmt":             true,
			"math":            true,
			"regexp":          true,
			"encoding/json":   true,
			"encoding/base64": true,
			"encoding/csv":    true,
			"time":            true,
			"sort":            true,
			"bytes":           true,
			"unicode":         true,
			"errors":          true,
		},
	}
}

// Execute runs the source and returns what Solve produced. The source
// must define `func Solve() (string, error)` in package main (the
// package clause is added when missing).
func (e *Executor) Execute(ctx context.Context, code string) (string, error) {
	if strings.TrimSpace(code) == "" {
		return "", fmt.Errorf("empty code")
	}
	if err := e.validateImports(code); err != nil {
		return "", fmt.Errorf("invalid imports: %w", err)
	}

	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return "", fmt.Errorf("failed to load stdlib: %w", err)
	}

	if _, err := i.Eval(wrapCode(code)); err != nil {
		return "", fmt.Errorf("code evaluation failed: %w", err)
	}

	v, err := i.Eval("main.Solve")
	if err != nil {
		return "", fmt.Errorf("Solve function not found: %w", err)
	}
	solve, ok := v.Interface().(func() (string, error))
	if !ok {
		return "", fmt.Errorf("Solve has incorrect signature (expected: func() (string, error))")
	}

	ctx, cancel := context.WithTimeout(ctx, executeTimeout)
	defer cancel()

	resultCh := make(chan string, 1)
	errCh := make(chan error, 1)
	go func() {
		result, err := solve()
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- result
	}()

	select {
	case result := <-resultCh:
		return result, nil
	case err := <-errCh:
		return "", fmt.Errorf("solution returned error: %w", err)
	case <-ctx.Done():
		return "", fmt.Errorf("execution timed out: %w", ctx.Err())
	}
}

func (e *Executor) validateImports(code string) error {
	var imports []string
	inBlock := false
	for _, line := range strings.Split(code, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "import (") {
			inBlock = true
			continue
		}
		if inBlock && strings.HasPrefix(trimmed, ")") {
			inBlock = false
			continue
		}
		if inBlock {
			if pkg := strings.Trim(trimmed, `"`); pkg != "" {
				imports = append(imports, pkg)
			}
		} else if strings.HasPrefix(trimmed, "import ") {
			pkg := strings.TrimPrefix(trimmed, "import ")
			imports = append(imports, strings.Trim(pkg, `"`))
		}
	}

	var forbidden []string
	for _, pkg := range imports {
		if !e.allowedPackages[pkg] {
			forbidden = append(forbidden, pkg)
		}
	}
	if len(forbidden) > 0 {
		return fmt.Errorf("forbidden imports: %v", forbidden)
	}
	return nil
}

func wrapCode(code string) string {
	if strings.Contains(code, "package main") {
		return code
	}
	return "package main\n\n" + code
}
