package sandbox

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"deepresearch/internal/llm"
	"deepresearch/internal/schema"
)

func TestExecutorRunsSolve(t *testing.T) {
	e := NewExecutor()
	out, err := e.Execute(context.Background(), `
import "fmt"

func Solve() (string, error) {
	sum := 0
	for i := 1; i <= 10; i++ {
		sum += i
	}
	return fmt.Sprintf("%d", sum), nil
}
`)
	require.NoError(t, err)
	assert.Equal(t, "55", out)
}

func TestExecutorRejectsForbiddenImports(t *testing.T) {
	e := NewExecutor()
	_, err := e.Execute(context.Background(), `
import "os"

func Solve() (string, error) {
	return os.Getenv("HOME"), nil
}
`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "forbidden imports")
}

func TestExecutorRejectsImportBlock(t *testing.T) {
	e := NewExecutor()
	_, err := e.Execute(context.Background(), `
import (
	"fmt"
	"net/http"
)

func Solve() (string, error) {
	fmt.Println(http.StatusOK)
	return "", nil
}
`)
	assert.Error(t, err)
}

func TestExecutorMissingSolve(t *testing.T) {
	e := NewExecutor()
	_, err := e.Execute(context.Background(), `
func Other() string { return "x" }
`)
	assert.Error(t, err)
}

func TestExecutorSolutionError(t *testing.T) {
	e := NewExecutor()
	_, err := e.Execute(context.Background(), `
import "errors"

func Solve() (string, error) {
	return "", errors.New("cannot compute")
}
`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot compute")
}

type scriptedGenerator struct {
	codes []string
	calls int
}

func (s *scriptedGenerator) GenerateInto(_ context.Context, _ llm.Request, out any) (*llm.Result, error) {
	code := s.codes[s.calls]
	s.calls++
	raw, _ := json.Marshal(map[string]string{"think": "t", "code": code})
	if err := json.Unmarshal(raw, out); err != nil {
		return nil, err
	}
	return &llm.Result{Object: raw}, nil
}

func TestSandboxRetriesOnFailure(t *testing.T) {
	gen := &scriptedGenerator{codes: []string{
		`func Solve() (string, error) { return "", undefinedSymbol }`,
		`func Solve() (string, error) { return "fixed", nil }`,
	}}
	sb := New(gen, schema.NewRegistry(), zap.NewNop())

	sol, err := sb.Solve(context.Background(), "compute something", Environment{})
	require.NoError(t, err)
	assert.Equal(t, "fixed", sol.Output)
	assert.Equal(t, 2, gen.calls)
}

func TestSandboxGivesUpAfterMaxAttempts(t *testing.T) {
	bad := `func Solve() (string, error) { return "", undefinedSymbol }`
	gen := &scriptedGenerator{codes: []string{bad, bad, bad}}
	sb := New(gen, schema.NewRegistry(), zap.NewNop())

	_, err := sb.Solve(context.Background(), "impossible", Environment{})
	require.Error(t, err)
	assert.Equal(t, maxAttempts, gen.calls)
}

func TestBuildCoderPromptIncludesEnvironment(t *testing.T) {
	prompt := buildCoderPrompt("sort the numbers", Environment{
		Context:     []string{"step 1: searched"},
		VisitedURLs: []string{"https://a.com/x"},
	})
	assert.Contains(t, prompt, "sort the numbers")
	assert.Contains(t, prompt, "step 1: searched")
	assert.Contains(t, prompt, "https://a.com/x")
	assert.Contains(t, prompt, "func Solve() (string, error)")
}
