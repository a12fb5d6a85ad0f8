package script

// Persisted field names per entity. Anything else found on a document at
// rest is either foreign or leaked runtime state.
var (
	ScriptFields = []string{"meta", "steps", "action_pool", "variables"}
	MetaFields   = []string{"version", "created_at", "duration", "action_count", "platform", "title", "description", "pre_conditions", "tags"}
	StepFields   = []string{"id", "order", "description", "expected_result", "action_ids", "continue_on_failure"}
)

// RuntimeFields are execution-result fields that editors attach to steps and
// actions in memory. They must never reach a saved document.
var RuntimeFields = []string{
	"status", "error", "error_message", "screenshot", "failure_screenshot",
	"elapsed", "elapsed_ms", "started_at", "ended_at", "start_time", "end_time",
	"result", "runtime", "indicator", "selected", "expanded",
}

var payloadFields = map[ActionType][]string{
	TypeMouseMove:        {"x", "y"},
	TypeMouseClick:       {"x", "y", "button"},
	TypeMouseDoubleClick: {"x", "y", "button"},
	TypeKeyPress:         {"key", "modifiers"},
	TypeKeyRelease:       {"key", "modifiers"},
	TypeText:             {"text"},
	TypeWait:             {},
	TypeScreenshot:       {},
	TypeVisionCheck:      {"prompt", "reference_images", "roi", "search_scope", "cached_coordinates"},
}

// ActionFields returns the persisted field names for an action of type t,
// or nil when t is not a known type.
func ActionFields(t ActionType) []string {
	extra, ok := payloadFields[t]
	if !ok {
		return nil
	}
	return append([]string{"id", "type", "timestamp"}, extra...)
}

// IsRuntimeField reports whether name is a known runtime-only field.
func IsRuntimeField(name string) bool {
	for _, f := range RuntimeFields {
		if f == name {
			return true
		}
	}
	return false
}

// Allowed reports whether name appears in fields.
func Allowed(fields []string, name string) bool {
	for _, f := range fields {
		if f == name {
			return true
		}
	}
	return false
}
