package trackers

import (
	"sync"

	"deepresearch/internal/types"
)

// ActionState is the snapshot held by the ActionTracker.
type ActionState struct {
	ThisStep    types.StepAction `json:"thisStep"`
	Gaps        []string         `json:"gaps"`
	BadAttempts int              `json:"badAttempts"`
	TotalStep   int              `json:"totalStep"`
}

// ActionTracker holds the latest step state and emits it to listeners
// after every update. Listeners run synchronously on the loop goroutine
// and must not re-enter the agent.
type ActionTracker struct {
	mu        sync.Mutex
	state     ActionState
	listeners []func(types.StepAction)
}

// NewActionTracker creates a tracker with an empty answer step.
func NewActionTracker() *ActionTracker {
	return &ActionTracker{
		state: ActionState{
			ThisStep: types.StepAction{Action: types.ActionAnswer},
		},
	}
}

// TrackAction merges the given state and notifies listeners.
func (t *ActionTracker) TrackAction(state ActionState) {
	t.mu.Lock()
	t.state = state
	step := t.state.ThisStep
	listeners := t.listeners
	t.mu.Unlock()

	for _, fn := range listeners {
		fn(step)
	}
}

// TrackThink updates only the think text of the current step and
// notifies listeners.
func (t *ActionTracker) TrackThink(think string) {
	t.mu.Lock()
	t.state.ThisStep.Think = think
	step := t.state.ThisStep
	listeners := t.listeners
	t.mu.Unlock()

	for _, fn := range listeners {
		fn(step)
	}
}

// State returns a copy of the current snapshot.
func (t *ActionTracker) State() ActionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	state := t.state
	state.Gaps = append([]string(nil), t.state.Gaps...)
	return state
}

// OnAction registers a synchronous step listener.
func (t *ActionTracker) OnAction(fn func(types.StepAction)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, fn)
}

// Reset restores the initial empty state.
func (t *ActionTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = ActionState{ThisStep: types.StepAction{Action: types.ActionAnswer}}
}
