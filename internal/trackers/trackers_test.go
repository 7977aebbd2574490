package trackers

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"deepresearch/internal/types"
)

func TestTokenTrackerAccumulates(t *testing.T) {
	tr := NewTokenTracker(1000)
	tr.TrackUsage("agent", types.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15})
	tr.TrackUsage("evaluator", types.Usage{PromptTokens: 4, CompletionTokens: 1, TotalTokens: 5})
	tr.TrackUsage("agent", types.Usage{TotalTokens: 30})

	total := tr.TotalUsage()
	assert.Equal(t, 50, total.TotalTokens)
	assert.Equal(t, 14, total.PromptTokens)

	breakdown := tr.UsageBreakdown()
	assert.Equal(t, 45, breakdown["agent"])
	assert.Equal(t, 5, breakdown["evaluator"])
	assert.Equal(t, 1000, tr.Budget())
}

func TestTokenTrackerListenersAndReset(t *testing.T) {
	tr := NewTokenTracker(0)
	var seen []int
	tr.OnUsage(func(u types.Usage) { seen = append(seen, u.TotalTokens) })

	tr.TrackUsage("agent", types.Usage{TotalTokens: 7})
	tr.TrackUsage("agent", types.Usage{TotalTokens: 3})
	assert.Equal(t, []int{7, 3}, seen)

	tr.Reset()
	assert.Equal(t, 0, tr.TotalUsage().TotalTokens)
}

func TestActionTrackerStateIsolation(t *testing.T) {
	tr := NewActionTracker()
	assert.Equal(t, types.ActionAnswer, tr.State().ThisStep.Action)

	tr.TrackAction(ActionState{
		ThisStep:  types.StepAction{Action: types.ActionSearch, Think: "looking"},
		Gaps:      []string{"q1", "q2"},
		TotalStep: 3,
	})

	state := tr.State()
	state.Gaps[0] = "mutated"
	assert.Equal(t, "q1", tr.State().Gaps[0])
	assert.Equal(t, 3, tr.State().TotalStep)
}

func TestActionTrackerTrackThink(t *testing.T) {
	tr := NewActionTracker()
	var thinks []string
	tr.OnAction(func(step types.StepAction) { thinks = append(thinks, step.Think) })

	tr.TrackThink("first")
	tr.TrackThink("second")
	assert.Equal(t, []string{"first", "second"}, thinks)
	assert.Equal(t, "second", tr.State().ThisStep.Think)
}
