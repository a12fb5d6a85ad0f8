// Package script defines the test-script document model: a Script groups
// Actions from a shared pool into ordered, human-readable Steps.
package script

import (
	"runtime"
	"time"
)

// Format versions written into documents.
const (
	LegacyVersion    = "1.0.0"
	StepBasedVersion = "2.0.0"
)

// DefaultTitle is used when a script has no usable title.
const DefaultTitle = "Untitled Script"

// Script is the persisted unit.
type Script struct {
	Meta       Meta           `yaml:"meta"        json:"meta"`
	Steps      []Step         `yaml:"steps"       json:"steps"`
	ActionPool ActionPool     `yaml:"action_pool" json:"action_pool"`
	Variables  map[string]any `yaml:"variables"   json:"variables"`
}

// Meta carries script metadata. ActionCount must equal len(ActionPool)
// whenever the script is about to be persisted; see Normalize.
type Meta struct {
	Version       string   `yaml:"version"                  json:"version"`
	CreatedAt     string   `yaml:"created_at"               json:"created_at"`
	Duration      float64  `yaml:"duration"                 json:"duration"     jsonschema:"minimum=0"`
	ActionCount   int      `yaml:"action_count"             json:"action_count" jsonschema:"minimum=0"`
	Platform      string   `yaml:"platform"                 json:"platform"`
	Title         string   `yaml:"title"                    json:"title"`
	Description   string   `yaml:"description"              json:"description"`
	PreConditions string   `yaml:"pre_conditions,omitempty" json:"pre_conditions,omitempty"`
	Tags          []string `yaml:"tags"                     json:"tags"`
}

// Step is a named unit of test intent. ActionIDs may repeat an id; every id
// must resolve in the owning script's ActionPool.
type Step struct {
	ID                string   `yaml:"id"                  json:"id"`
	Order             int      `yaml:"order"               json:"order" jsonschema:"minimum=1"`
	Description       string   `yaml:"description"         json:"description"`
	ExpectedResult    string   `yaml:"expected_result"     json:"expected_result"`
	ActionIDs         []string `yaml:"action_ids"          json:"action_ids"`
	ContinueOnFailure bool     `yaml:"continue_on_failure" json:"continue_on_failure"`
}

// ActionPool maps action id to Action. Each entry's ID equals its key.
type ActionPool map[string]Action

// Legacy is the flat, pre-step document shape.
type Legacy struct {
	Metadata LegacyMetadata `yaml:"metadata" json:"metadata"`
	Actions  []Action       `yaml:"actions"  json:"actions"`
}

// LegacyMetadata is the metadata block of a legacy document.
type LegacyMetadata struct {
	Version     string  `yaml:"version"      json:"version"`
	CreatedAt   string  `yaml:"created_at"   json:"created_at"`
	Duration    float64 `yaml:"duration"     json:"duration"`
	ActionCount int     `yaml:"action_count" json:"action_count"`
	Platform    string  `yaml:"platform"     json:"platform"`
}

// New returns an empty step-based script, as created by an editor's
// "new script" action.
func New(title, platform string, now time.Time) Script {
	if title == "" {
		title = DefaultTitle
	}
	s := Script{
		Meta: Meta{
			Version:   StepBasedVersion,
			CreatedAt: now.UTC().Format(time.RFC3339),
			Platform:  platform,
			Title:     title,
		},
	}
	s.Normalize()
	return s
}

// Normalize replaces nil containers with empty ones and recomputes
// Meta.ActionCount from the pool.
func (s *Script) Normalize() {
	if s.Steps == nil {
		s.Steps = []Step{}
	}
	for i := range s.Steps {
		if s.Steps[i].ActionIDs == nil {
			s.Steps[i].ActionIDs = []string{}
		}
	}
	if s.ActionPool == nil {
		s.ActionPool = ActionPool{}
	}
	if s.Variables == nil {
		s.Variables = map[string]any{}
	}
	if s.Meta.Tags == nil {
		s.Meta.Tags = []string{}
	}
	s.Meta.ActionCount = len(s.ActionPool)
}

// Clone returns a deep copy of s.
func (s Script) Clone() Script {
	out := Script{
		Meta:  s.Meta.Clone(),
		Steps: CloneSteps(s.Steps),
	}
	if s.ActionPool != nil {
		out.ActionPool = make(ActionPool, len(s.ActionPool))
		for k, a := range s.ActionPool {
			out.ActionPool[k] = a.Clone()
		}
	}
	if s.Variables != nil {
		out.Variables = make(map[string]any, len(s.Variables))
		for k, v := range s.Variables {
			out.Variables[k] = cloneValue(v)
		}
	}
	return out
}

// Clone returns a deep copy of m.
func (m Meta) Clone() Meta {
	if m.Tags != nil {
		m.Tags = append([]string{}, m.Tags...)
	}
	return m
}

// Clone returns a deep copy of st.
func (st Step) Clone() Step {
	if st.ActionIDs != nil {
		st.ActionIDs = append([]string{}, st.ActionIDs...)
	}
	return st
}

// CloneSteps deep-copies a step slice, preserving nil.
func CloneSteps(steps []Step) []Step {
	if steps == nil {
		return nil
	}
	out := make([]Step, len(steps))
	for i, st := range steps {
		out[i] = st.Clone()
	}
	return out
}

// HostPlatform names the platform this process runs on, in the vocabulary
// used by recorded scripts.
func HostPlatform() string {
	switch runtime.GOOS {
	case "darwin":
		return "macos"
	default:
		return runtime.GOOS
	}
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = cloneValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		return append([]string{}, t...)
	default:
		return t
	}
}
