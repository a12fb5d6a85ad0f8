package rawdoc

// Format is the on-disk document format of a raw script.
type Format int

const (
	Unrecognized Format = iota
	Legacy
	StepBased
)

func (f Format) String() string {
	switch f {
	case Legacy:
		return "legacy"
	case StepBased:
		return "step-based"
	default:
		return "unrecognized"
	}
}

// Detect classifies a raw document by structure alone, so legacy files that
// predate any version field are still recognized.
//
//   - Legacy:    metadata object + actions array, no steps / action_pool.
//   - StepBased: meta object + steps array + action_pool object.
func Detect(v Value) Format {
	if v.Kind() != KindObject {
		return Unrecognized
	}

	meta, hasMeta := v.Field("meta")
	steps, hasSteps := v.Field("steps")
	pool, hasPool := v.Field("action_pool")
	if hasMeta && hasSteps && hasPool &&
		meta.Kind() == KindObject && steps.Kind() == KindArray && pool.Kind() == KindObject {
		return StepBased
	}

	md, hasMD := v.Field("metadata")
	actions, hasActions := v.Field("actions")
	if !hasSteps && !hasPool && hasMD && hasActions &&
		md.Kind() == KindObject && actions.Kind() == KindArray {
		return Legacy
	}
	return Unrecognized
}

// ResemblesStepBased reports whether v is an object carrying at least one
// step-based container key. Such documents are damaged rather than foreign,
// and the repair engine will try to salvage them.
func ResemblesStepBased(v Value) bool {
	if v.Kind() != KindObject {
		return false
	}
	if v.Has("steps") || v.Has("action_pool") {
		return true
	}
	// meta alone counts only when the legacy shape is absent.
	return v.Has("meta") && !v.Has("actions")
}
