package editor

import (
	"errors"
	"fmt"

	"github.com/ormasoftchile/stepscript/pkg/script"
	"github.com/ormasoftchile/stepscript/pkg/steps"
)

var (
	ErrNotRecording     = errors.New("no recording in progress")
	ErrAlreadyRecording = errors.New("a recording is already in progress")
	ErrInvalidMode      = errors.New("invalid recording mode")
)

// Select marks the step with the given id as selected and clears every
// other selection. An unknown id clears the selection.
func Select(st State, id string) State {
	c := st.clone()
	for i := range c.Steps {
		c.Steps[i].Selected = c.Steps[i].Step.ID == id
	}
	return c
}

// Toggle flips the expanded flag of one step.
func Toggle(st State, id string) State {
	c := st.clone()
	for i := range c.Steps {
		if c.Steps[i].Step.ID == id {
			c.Steps[i].Expanded = !c.Steps[i].Expanded
		}
	}
	return c
}

// MoveStep moves a step to a new 1-based position. Editor flags follow the
// step; calling MoveStep again with the old position undoes it.
func MoveStep(st State, id string, newOrder int) (State, error) {
	reordered, err := steps.Reorder(st.stepList(), id, newOrder)
	if err != nil {
		return st, err
	}
	c := st.withSteps(reordered)
	c.Modified = true
	return c, nil
}

// AddStep inserts a step at a 1-based position; out-of-range positions are
// clamped. A missing id is generated and an empty description gets a
// positional placeholder.
func AddStep(st State, step script.Step, pos int) (State, error) {
	if step.ID == "" {
		step.ID = script.UniqueID("step", nil, func(id string) bool {
			_, ok := steps.Find(st.stepList(), id)
			return ok
		})
	}
	inserted, err := steps.Insert(st.stepList(), step, pos)
	if err != nil {
		return st, err
	}
	for i := range inserted {
		if inserted[i].ID == step.ID && inserted[i].Description == "" {
			inserted[i].Description = fmt.Sprintf("Step %d", inserted[i].Order)
		}
	}
	c := st.withSteps(inserted)
	c.Modified = true
	return c, nil
}

// DeleteStep removes a step. Actions that only this step referenced leave
// the pool with it, and a recording targeting the step is cancelled.
func DeleteStep(st State, id string) (State, error) {
	removed, _ := steps.Find(st.stepList(), id)
	remaining, err := steps.Remove(st.stepList(), id)
	if err != nil {
		return st, err
	}
	c := st.withSteps(remaining)
	c.Pool = prune(c.Pool, removed.ActionIDs, remaining)
	if c.Recording.StepID == id {
		c = CancelRecording(c)
	}
	c.Modified = true
	return c, nil
}

// StepEdit lists the user-editable fields of a step. Nil fields are left
// unchanged.
type StepEdit struct {
	Description       *string
	ExpectedResult    *string
	ContinueOnFailure *bool
}

// UpdateStep applies an edit to one step.
func UpdateStep(st State, id string, e StepEdit) (State, error) {
	c := st.clone()
	for i := range c.Steps {
		s := &c.Steps[i].Step
		if s.ID != id {
			continue
		}
		if e.Description != nil {
			s.Description = *e.Description
		}
		if e.ExpectedResult != nil {
			s.ExpectedResult = *e.ExpectedResult
		}
		if e.ContinueOnFailure != nil {
			s.ContinueOnFailure = *e.ContinueOnFailure
		}
		c.Modified = true
		return c, nil
	}
	return st, fmt.Errorf("update %q: %w", id, steps.ErrStepNotFound)
}

// StartRecording opens a recording session targeting a step.
func StartRecording(st State, stepID string, mode RecordingMode) (State, error) {
	if mode != RecordingAppend && mode != RecordingReplace {
		return st, fmt.Errorf("%w %q", ErrInvalidMode, mode)
	}
	if st.Recording.Mode != RecordingInactive && st.Recording.Mode != "" {
		return st, ErrAlreadyRecording
	}
	if _, ok := steps.Find(st.stepList(), stepID); !ok {
		return st, fmt.Errorf("record %q: %w", stepID, steps.ErrStepNotFound)
	}
	c := st.clone()
	c.Recording = Recording{Mode: mode, StepID: stepID, Pending: []script.Action{}}
	reindicate(&c)
	return c, nil
}

// QueueAction adds a captured action to the pending list. An id that is
// empty or already in use is replaced.
func QueueAction(st State, a script.Action) (State, error) {
	if st.Recording.Mode == RecordingInactive || st.Recording.Mode == "" {
		return st, ErrNotRecording
	}
	if a.Payload == nil {
		return st, script.ErrNoPayload
	}
	c := st.clone()
	taken := func(id string) bool {
		if _, ok := c.Pool[id]; ok {
			return true
		}
		for _, p := range c.Recording.Pending {
			if p.ID == id {
				return true
			}
		}
		return false
	}
	a = a.Clone()
	if a.ID == "" || taken(a.ID) {
		a.ID = script.UniqueID("action", nil, taken)
	}
	if a.Timestamp < 0 {
		a.Timestamp = 0
	}
	c.Recording.Pending = append(c.Recording.Pending, a)
	return c, nil
}

// CommitRecording moves pending actions into the pool and the target step,
// appending to or replacing its references, and ends the session.
func CommitRecording(st State) (State, error) {
	if st.Recording.Mode == RecordingInactive || st.Recording.Mode == "" {
		return st, ErrNotRecording
	}
	c := st.clone()
	if c.Pool == nil {
		c.Pool = script.ActionPool{}
	}
	var replaced []string
	ids := make([]string, 0, len(c.Recording.Pending))
	for _, a := range c.Recording.Pending {
		c.Pool[a.ID] = a
		ids = append(ids, a.ID)
	}
	for i := range c.Steps {
		s := &c.Steps[i].Step
		if s.ID != c.Recording.StepID {
			continue
		}
		if c.Recording.Mode == RecordingReplace {
			replaced = s.ActionIDs
			s.ActionIDs = ids
		} else {
			s.ActionIDs = append(s.ActionIDs, ids...)
		}
	}
	if c.Recording.Mode == RecordingReplace {
		c.Pool = prune(c.Pool, replaced, c.stepList())
	}
	c.Recording = Recording{Mode: RecordingInactive}
	reindicate(&c)
	c.Modified = true
	return c, nil
}

// CancelRecording drops pending actions and ends the session.
func CancelRecording(st State) State {
	c := st.clone()
	c.Recording = Recording{Mode: RecordingInactive}
	reindicate(&c)
	return c
}

// ApplyResult attaches an execution result to a step.
func ApplyResult(st State, stepID string, rt Runtime) (State, error) {
	c := st.clone()
	for i := range c.Steps {
		if c.Steps[i].Step.ID == stepID {
			r := rt
			c.Steps[i].Runtime = &r
			return c, nil
		}
	}
	return st, fmt.Errorf("result for %q: %w", stepID, steps.ErrStepNotFound)
}

// ClearResults removes every execution result.
func ClearResults(st State) State {
	c := st.clone()
	c.Steps = StripRuntime(c.Steps, c.Recording.StepID)
	return c
}

func reindicate(st *State) {
	for i := range st.Steps {
		st.Steps[i].Indicator = indicatorFor(st.Steps[i].Step, st.Recording.StepID)
	}
}

func (st State) stepList() []script.Step {
	out := make([]script.Step, len(st.Steps))
	for i, ss := range st.Steps {
		out[i] = ss.Step
	}
	return out
}

// withSteps rebuilds the step states from a new step list, carrying editor
// flags and runtime blocks over by id.
func (st State) withSteps(list []script.Step) State {
	c := st.clone()
	prev := make(map[string]StepState, len(c.Steps))
	for _, ss := range c.Steps {
		prev[ss.Step.ID] = ss
	}
	c.Steps = make([]StepState, len(list))
	for i, s := range list {
		ss := prev[s.ID]
		ss.Step = s.Clone()
		ss.Indicator = indicatorFor(s, c.Recording.StepID)
		c.Steps[i] = ss
	}
	return c
}

// prune drops the candidate actions that no step in list references.
// Actions that were already orphaned stay in the pool.
func prune(pool script.ActionPool, candidates []string, list []script.Step) script.ActionPool {
	refs := steps.Referenced(list)
	for _, id := range candidates {
		if !refs[id] {
			delete(pool, id)
		}
	}
	return pool
}
