package steps

import (
	"sort"

	"github.com/ormasoftchile/stepscript/pkg/script"
)

// FilterForStep returns the pool actions referenced by step, each once,
// sorted by timestamp (ties by id). References that do not resolve are
// skipped; a nil step yields an empty result.
func FilterForStep(step *script.Step, pool script.ActionPool) []script.Action {
	out := []script.Action{}
	if step == nil {
		return out
	}
	seen := make(map[string]bool, len(step.ActionIDs))
	for _, id := range step.ActionIDs {
		if seen[id] {
			continue
		}
		a, ok := pool[id]
		if !ok {
			continue
		}
		seen[id] = true
		out = append(out, a.Clone())
	}
	byTimestamp(out)
	return out
}

// Belongs reports whether step references the action.
func Belongs(a script.Action, step script.Step) bool {
	for _, id := range step.ActionIDs {
		if id == a.ID {
			return true
		}
	}
	return false
}

// Referenced returns the set of action ids referenced by any step.
func Referenced(steps []script.Step) map[string]bool {
	refs := make(map[string]bool)
	for _, st := range steps {
		for _, id := range st.ActionIDs {
			refs[id] = true
		}
	}
	return refs
}

// Orphaned returns every pool action no step references, sorted by
// timestamp then id.
func Orphaned(pool script.ActionPool, steps []script.Step) []script.Action {
	refs := Referenced(steps)
	out := []script.Action{}
	for id, a := range pool {
		if !refs[id] {
			out = append(out, a.Clone())
		}
	}
	byTimestamp(out)
	return out
}

// Flatten resolves every step's references in execution order and then by
// position within the step. Duplicate references appear as often as they are
// referenced; unresolved ids are skipped.
func Flatten(steps []script.Step, pool script.ActionPool) []script.Action {
	out := []script.Action{}
	for _, st := range Sorted(steps) {
		for _, id := range st.ActionIDs {
			if a, ok := pool[id]; ok {
				out = append(out, a.Clone())
			}
		}
	}
	return out
}

func byTimestamp(actions []script.Action) {
	sort.SliceStable(actions, func(i, j int) bool {
		if actions[i].Timestamp != actions[j].Timestamp {
			return actions[i].Timestamp < actions[j].Timestamp
		}
		return actions[i].ID < actions[j].ID
	})
}
