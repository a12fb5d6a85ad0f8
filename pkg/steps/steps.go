// Package steps projects a script's steps onto its action pool: ordering,
// per-step action filtering and orphan queries. Every function returns new
// values and leaves its arguments untouched.
package steps

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ormasoftchile/stepscript/pkg/script"
)

var (
	ErrStepNotFound    = errors.New("step not found")
	ErrOrderOutOfRange = errors.New("order out of range")
	ErrDuplicateID     = errors.New("duplicate step id")
)

// Sorted returns a deep copy of steps ordered by Order. Ties keep their
// array position.
func Sorted(steps []script.Step) []script.Step {
	out := script.CloneSteps(steps)
	if out == nil {
		out = []script.Step{}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// ExecutionSequence returns step ids in execution order.
func ExecutionSequence(steps []script.Step) []string {
	sorted := Sorted(steps)
	ids := make([]string, len(sorted))
	for i, st := range sorted {
		ids[i] = st.ID
	}
	return ids
}

// Renumber returns a copy of steps in their current array order with Order
// set to position+1.
func Renumber(steps []script.Step) []script.Step {
	out := script.CloneSteps(steps)
	if out == nil {
		return []script.Step{}
	}
	for i := range out {
		out[i].Order = i + 1
	}
	return out
}

// Reorder moves the step with id targetID to 1-based position newOrder and
// renumbers every step densely. Non-order fields are preserved. On error
// steps is returned unmodified along with the error.
//
// Moving a step to P and then back to its original order reproduces the
// original execution sequence.
func Reorder(steps []script.Step, targetID string, newOrder int) ([]script.Step, error) {
	sorted := Sorted(steps)
	idx := indexOf(sorted, targetID)
	if idx < 0 {
		return steps, fmt.Errorf("reorder %q: %w", targetID, ErrStepNotFound)
	}
	if newOrder < 1 || newOrder > len(sorted) {
		return steps, fmt.Errorf("reorder %q to %d of %d: %w", targetID, newOrder, len(sorted), ErrOrderOutOfRange)
	}

	target := sorted[idx]
	rest := append(sorted[:idx:idx], sorted[idx+1:]...)
	out := make([]script.Step, 0, len(sorted))
	out = append(out, rest[:newOrder-1]...)
	out = append(out, target)
	out = append(out, rest[newOrder-1:]...)
	for i := range out {
		out[i].Order = i + 1
	}
	return out, nil
}

// Insert adds st at 1-based position pos (clamped to [1, N+1]) in execution
// order and renumbers. The id must not already be in use.
func Insert(steps []script.Step, st script.Step, pos int) ([]script.Step, error) {
	if indexOf(steps, st.ID) >= 0 {
		return steps, fmt.Errorf("insert %q: %w", st.ID, ErrDuplicateID)
	}
	sorted := Sorted(steps)
	if pos < 1 {
		pos = 1
	}
	if pos > len(sorted)+1 {
		pos = len(sorted) + 1
	}
	st = st.Clone()
	if st.ActionIDs == nil {
		st.ActionIDs = []string{}
	}
	out := make([]script.Step, 0, len(sorted)+1)
	out = append(out, sorted[:pos-1]...)
	out = append(out, st)
	out = append(out, sorted[pos-1:]...)
	return Renumber(out), nil
}

// Remove deletes the step with the given id and renumbers the rest.
func Remove(steps []script.Step, id string) ([]script.Step, error) {
	sorted := Sorted(steps)
	idx := indexOf(sorted, id)
	if idx < 0 {
		return steps, fmt.Errorf("remove %q: %w", id, ErrStepNotFound)
	}
	return Renumber(append(sorted[:idx:idx], sorted[idx+1:]...)), nil
}

// Find returns the step with the given id.
func Find(steps []script.Step, id string) (script.Step, bool) {
	if i := indexOf(steps, id); i >= 0 {
		return steps[i].Clone(), true
	}
	return script.Step{}, false
}

func indexOf(steps []script.Step, id string) int {
	for i, st := range steps {
		if st.ID == id {
			return i
		}
	}
	return -1
}
