package editor

import (
	"encoding/json"
	"fmt"

	"github.com/ormasoftchile/stepscript/pkg/rawdoc"
	"github.com/ormasoftchile/stepscript/pkg/script"
)

// Issue is a field found on a document that is not part of the persisted
// model.
type Issue struct {
	Path    string
	Field   string
	Runtime bool
}

func (i Issue) String() string {
	if i.Runtime {
		return fmt.Sprintf("%s: runtime field %q", i.Path, i.Field)
	}
	return fmt.Sprintf("%s: unknown field %q", i.Path, i.Field)
}

// PurityCheck walks a raw document and reports every field outside the
// persisted allow-lists. Variables are free-form and not inspected.
func PurityCheck(v rawdoc.Value) []Issue {
	var issues []Issue
	report := func(path string, obj rawdoc.Value, allowed []string) {
		for _, k := range obj.Keys() {
			if !script.Allowed(allowed, k) {
				issues = append(issues, Issue{Path: path, Field: k, Runtime: script.IsRuntimeField(k)})
			}
		}
	}

	report("$", v, script.ScriptFields)
	meta, _ := v.Field("meta")
	report("meta", meta, script.MetaFields)

	stepsV, _ := v.Field("steps")
	for i, st := range stepsV.Elems() {
		report(fmt.Sprintf("steps[%d]", i), st, script.StepFields)
	}

	pool, _ := v.Field("action_pool")
	for _, key := range pool.Keys() {
		a, _ := pool.Field(key)
		tv, _ := a.Field("type")
		t, _ := tv.Str()
		fields := script.ActionFields(script.ActionType(t))
		if fields == nil {
			// Unknown type: only the envelope is known to be persistent.
			fields = []string{"id", "type", "timestamp"}
		}
		report("action_pool."+key, a, fields)
	}
	return issues
}

// CheckScript runs PurityCheck on the wire form of s. It fails when s has
// no wire form, for example an action without a payload.
func CheckScript(s script.Script) ([]Issue, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("purity check: %w", err)
	}
	v, err := rawdoc.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("purity check: %w", err)
	}
	return PurityCheck(v), nil
}

// CleanCopy returns a deep copy of s holding only persisted data, with empty
// containers in place of nil ones, a recomputed action count, portable asset
// paths and JSON-shaped variables. CleanCopy(CleanCopy(s)) == CleanCopy(s).
func CleanCopy(s script.Script) script.Script {
	c := s.Clone()
	for key, a := range c.ActionPool {
		c.ActionPool[key] = script.NormalizeAssets(a)
	}
	if c.Variables != nil {
		vars, _ := rawdoc.FromAny(c.Variables).Interface().(map[string]any)
		c.Variables = vars
	}
	c.Normalize()
	return c
}
