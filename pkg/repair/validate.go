// Package repair implements the validation and repair engine for raw script
// documents. Validation runs three phases (structural, semantic, domain) and
// classifies every violation; repair turns any input into a document that
// satisfies the script invariants, or into the fallback document.
package repair

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/ormasoftchile/stepscript/pkg/rawdoc"
	"github.com/ormasoftchile/stepscript/pkg/script"
)

// Kind is the error taxonomy of document problems.
type Kind string

const (
	CorruptedData        Kind = "CorruptedData"
	InvalidConfiguration Kind = "InvalidConfiguration"
	BrokenReference      Kind = "BrokenReference"
	StepOrderInvalid     Kind = "StepOrderInvalid"
	MigrationMismatch    Kind = "MigrationMismatch"
)

// Class says what an issue means for the document as a whole.
type Class string

const (
	Fatal      Class = "fatal"
	Repairable Class = "repairable"
	Warning    Class = "warning"
)

// Issue is one error or warning found in a document.
type Issue struct {
	Phase    string `json:"phase"` // structural, semantic, domain
	Path     string `json:"path"`
	Message  string `json:"message"`
	Severity string `json:"severity"` // error, warning
	Kind     Kind   `json:"kind"`
	Class    Class  `json:"class"`
}

func (e *Issue) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("[%s] %s at %s", e.Phase, e.Message, e.Path)
	}
	return fmt.Sprintf("[%s] %s", e.Phase, e.Message)
}

func fatalf(phase string, kind Kind, path, msg string, args ...any) *Issue {
	return &Issue{Phase: phase, Path: path, Message: fmt.Sprintf(msg, args...), Severity: "error", Kind: kind, Class: Fatal}
}

func errorf(phase string, kind Kind, path, msg string, args ...any) *Issue {
	return &Issue{Phase: phase, Path: path, Message: fmt.Sprintf(msg, args...), Severity: "error", Kind: kind, Class: Repairable}
}

func warningf(phase string, kind Kind, path, msg string, args ...any) *Issue {
	return &Issue{Phase: phase, Path: path, Message: fmt.Sprintf(msg, args...), Severity: "warning", Kind: kind, Class: Warning}
}

// Status is the verdict of a validation run.
type Status int

const (
	Valid Status = iota
	NeedsRepair
	Unrecoverable
)

func (s Status) String() string {
	switch s {
	case Valid:
		return "valid"
	case NeedsRepair:
		return "repairable"
	default:
		return "unrecoverable"
	}
}

// Report is the result of Validate.
type Report struct {
	Format rawdoc.Format `json:"format"`
	Issues []*Issue      `json:"issues"`
}

// Status derives the verdict from the issues: any fatal issue makes the
// document unrecoverable, any other error makes it repairable.
func (r *Report) Status() Status {
	st := Valid
	for _, is := range r.Issues {
		switch is.Class {
		case Fatal:
			return Unrecoverable
		case Repairable:
			st = NeedsRepair
		}
	}
	return st
}

// Errors returns the non-warning issues.
func (r *Report) Errors() []*Issue { return r.filter("error") }

// Warnings returns the warning issues.
func (r *Report) Warnings() []*Issue { return r.filter("warning") }

func (r *Report) filter(severity string) []*Issue {
	var out []*Issue
	for _, is := range r.Issues {
		if is.Severity == severity {
			out = append(out, is)
		}
	}
	return out
}

func hasErrors(issues []*Issue) bool {
	for _, is := range issues {
		if is.Severity == "error" {
			return true
		}
	}
	return false
}

// Validate runs the three-phase pipeline on a raw document. Semantic and
// domain checks only run once the containers have the right shape.
func Validate(v rawdoc.Value) *Report {
	r := &Report{Format: rawdoc.Detect(v)}

	// Phase 1: structural
	r.Issues = append(r.Issues, validateStructural(v, r.Format)...)
	if hasErrors(r.Issues) {
		return r
	}

	// Phase 2: semantic (JSON Schema)
	r.Issues = append(r.Issues, validateSemantic(v)...)

	// Phase 3: domain
	r.Issues = append(r.Issues, validateDomain(v)...)
	return r
}

// ValidateBytes parses data and validates the result. A parse failure is a
// single fatal issue.
func ValidateBytes(data []byte) *Report {
	v, err := rawdoc.Parse(data)
	if err != nil {
		return &Report{Format: rawdoc.Unrecognized, Issues: []*Issue{
			fatalf("structural", CorruptedData, "$", "cannot parse document: %v", err),
		}}
	}
	return Validate(v)
}

func validateStructural(v rawdoc.Value, f rawdoc.Format) []*Issue {
	const phase = "structural"
	if v.Kind() != rawdoc.KindObject {
		return []*Issue{fatalf(phase, CorruptedData, "", "document is %s, not an object", v.Kind())}
	}
	switch f {
	case rawdoc.StepBased:
		return nil
	case rawdoc.Legacy:
		return []*Issue{errorf(phase, InvalidConfiguration, "", "document is in the legacy format and must be migrated")}
	}
	if !rawdoc.ResemblesStepBased(v) {
		return []*Issue{fatalf(phase, CorruptedData, "", "document matches neither the legacy nor the step-based format")}
	}

	var issues []*Issue
	if m, ok := v.Field("meta"); !ok {
		issues = append(issues, errorf(phase, CorruptedData, "meta", "meta is missing"))
	} else if m.Kind() != rawdoc.KindObject {
		issues = append(issues, errorf(phase, CorruptedData, "meta", "meta must be an object, got %s", m.Kind()))
	}
	if s, ok := v.Field("steps"); !ok {
		issues = append(issues, errorf(phase, CorruptedData, "steps", "steps is missing"))
	} else if s.Kind() != rawdoc.KindArray {
		issues = append(issues, errorf(phase, CorruptedData, "steps", "steps must be an array, got %s", s.Kind()))
	}
	if p, ok := v.Field("action_pool"); !ok {
		issues = append(issues, errorf(phase, CorruptedData, "action_pool", "action_pool is missing"))
	} else if p.Kind() != rawdoc.KindObject {
		issues = append(issues, errorf(phase, CorruptedData, "action_pool", "action_pool must be an object, got %s", p.Kind()))
	}
	return issues
}

func validateDomain(v rawdoc.Value) []*Issue {
	const phase = "domain"
	var issues []*Issue

	for _, k := range v.Keys() {
		if !script.Allowed(script.ScriptFields, k) {
			issues = append(issues, unknownField(phase, k, k))
		}
	}
	meta, _ := v.Field("meta")
	for _, k := range meta.Keys() {
		if !script.Allowed(script.MetaFields, k) {
			issues = append(issues, unknownField(phase, "meta."+k, k))
		}
	}

	pool, _ := v.Field("action_pool")
	if n, ok := fieldNum(meta, "action_count"); ok && int(n) != pool.Len() {
		issues = append(issues, errorf(phase, InvalidConfiguration, "meta.action_count",
			"action_count is %v but the pool holds %d action(s)", n, pool.Len()))
	}

	for _, key := range pool.Keys() {
		entry, _ := pool.Field(key)
		issues = append(issues, validateAction(phase, key, entry)...)
	}

	stepsV, _ := v.Field("steps")
	seen := map[string]string{}
	var orders []float64
	referenced := map[string]bool{}
	for i, st := range stepsV.Elems() {
		path := fmt.Sprintf("steps[%d]", i)
		if st.Kind() != rawdoc.KindObject {
			issues = append(issues, errorf(phase, CorruptedData, path, "step must be an object, got %s", st.Kind()))
			continue
		}
		for _, k := range st.Keys() {
			if !script.Allowed(script.StepFields, k) {
				issues = append(issues, unknownField(phase, path+"."+k, k))
			}
		}
		if id, ok := fieldStr(st, "id"); ok {
			if id == "" {
				issues = append(issues, errorf(phase, InvalidConfiguration, path+".id", "step id is empty"))
			} else if prev, dup := seen[id]; dup {
				issues = append(issues, errorf(phase, InvalidConfiguration, path+".id", "duplicate step id %q (first at %s)", id, prev))
			} else {
				seen[id] = path
			}
		}
		if n, ok := fieldNum(st, "order"); ok {
			orders = append(orders, n)
		}
		if d, ok := fieldStr(st, "description"); ok && strings.TrimSpace(d) == "" {
			issues = append(issues, warningf(phase, InvalidConfiguration, path+".description", "description is empty"))
		}
		refs, _ := st.Field("action_ids")
		for j, ref := range refs.Elems() {
			id, ok := ref.Str()
			if !ok {
				continue
			}
			referenced[id] = true
			if !pool.Has(id) {
				issues = append(issues, errorf(phase, BrokenReference, fmt.Sprintf("%s.action_ids[%d]", path, j),
					"action %q is not in the action pool", id))
			}
		}
	}

	if !dense(orders, stepsV.Len()) {
		issues = append(issues, errorf(phase, StepOrderInvalid, "steps", "step orders %s are not the sequence 1..%d",
			formatOrders(orders), stepsV.Len()))
	}

	for _, key := range pool.Keys() {
		if !referenced[key] {
			issues = append(issues, warningf(phase, InvalidConfiguration, "action_pool."+key, "action %q is not used by any step", key))
		}
	}
	return issues
}

func validateAction(phase, key string, entry rawdoc.Value) []*Issue {
	path := "action_pool." + key
	a, malformed, err := script.DecodeAction(entry)
	if err != nil {
		return []*Issue{errorf(phase, CorruptedData, path, "%v", err)}
	}
	var issues []*Issue
	if key == "" {
		issues = append(issues, errorf(phase, InvalidConfiguration, path, "action id is empty"))
	}
	if idV, ok := entry.Field("id"); ok {
		if id, isStr := idV.Str(); isStr && id != key {
			issues = append(issues, errorf(phase, InvalidConfiguration, path+".id", "id %q does not match pool key %q", id, key))
		}
	}
	for _, f := range malformed {
		switch f {
		case "id":
			// type errors are reported by the schema
		case "timestamp":
			if ts, ok := fieldNum(entry, "timestamp"); ok && ts < 0 {
				issues = append(issues, errorf(phase, InvalidConfiguration, path+".timestamp", "timestamp %v is negative", ts))
			}
		default:
			issues = append(issues, errorf(phase, InvalidConfiguration, path+"."+f, "invalid %s for %s action", f, a.Type()))
		}
	}
	allowed := script.ActionFields(a.Type())
	for _, k := range entry.Keys() {
		if !script.Allowed(allowed, k) {
			issues = append(issues, unknownField(phase, path+"."+k, k))
		}
	}
	return issues
}

func unknownField(phase, path, name string) *Issue {
	if script.IsRuntimeField(name) {
		return errorf(phase, InvalidConfiguration, path, "runtime field %q must not be persisted", name)
	}
	return errorf(phase, InvalidConfiguration, path, "unknown field %q", name)
}

// dense reports whether orders is a permutation of 1..n.
func dense(orders []float64, n int) bool {
	if len(orders) != n {
		return false
	}
	sorted := append([]float64{}, orders...)
	sort.Float64s(sorted)
	for i, o := range sorted {
		if o != float64(i+1) {
			return false
		}
	}
	return true
}

func formatOrders(orders []float64) string {
	parts := make([]string, len(orders))
	for i, o := range orders {
		parts[i] = strconv.FormatFloat(o, 'f', -1, 64)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

func fieldStr(v rawdoc.Value, name string) (string, bool) {
	f, ok := v.Field(name)
	if !ok {
		return "", false
	}
	return f.Str()
}

func fieldNum(v rawdoc.Value, name string) (float64, bool) {
	f, ok := v.Field(name)
	if !ok {
		return 0, false
	}
	return f.Num()
}
