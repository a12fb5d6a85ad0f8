// Package editor keeps a script's persisted data apart from the state an
// editor attaches to it while the user works: step indicators, selection,
// execution results and an in-progress recording.
//
// A State is created only by CleanState and turned back into a document only
// by Document. Every operation takes a State by value and returns a new one.
package editor

import (
	"time"

	"github.com/ormasoftchile/stepscript/pkg/script"
	"github.com/ormasoftchile/stepscript/pkg/steps"
)

// Indicator is the per-step badge shown in an editor. It is derived from the
// step and the recording session and never stored.
type Indicator string

const (
	IndicatorManual    Indicator = "manual"
	IndicatorMapped    Indicator = "mapped"
	IndicatorRecording Indicator = "recording"
)

// RecordingMode says how committed recordings change the target step.
type RecordingMode string

const (
	RecordingInactive RecordingMode = "inactive"
	RecordingAppend   RecordingMode = "append"
	RecordingReplace  RecordingMode = "replace"
)

// RunStatus is the execution status of a step.
type RunStatus string

const (
	StatusPending RunStatus = "pending"
	StatusRunning RunStatus = "running"
	StatusPassed  RunStatus = "passed"
	StatusFailed  RunStatus = "failed"
	StatusSkipped RunStatus = "skipped"
)

// Runtime is the transient execution result of one step.
type Runtime struct {
	Status            RunStatus
	Error             string
	FailureScreenshot string
	StartedAt         time.Time
	EndedAt           time.Time
	Elapsed           time.Duration
}

// StepState wraps a Step with its editor-only companions.
type StepState struct {
	Step      script.Step
	Indicator Indicator
	Selected  bool
	Expanded  bool
	Runtime   *Runtime
}

// Recording is the active recording session, if any.
type Recording struct {
	Mode    RecordingMode
	StepID  string
	Pending []script.Action
}

// State is an editor's working copy of a script.
type State struct {
	Meta      script.Meta
	Pool      script.ActionPool
	Variables map[string]any
	Steps     []StepState
	Recording Recording
	Modified  bool
	Error     string
}

// CleanState wraps a script for presentation: no runtime blocks, no
// recording, not modified, no error. Steps are in execution order.
func CleanState(s script.Script) State {
	c := CleanCopy(s)
	st := State{
		Meta:      c.Meta,
		Pool:      c.ActionPool,
		Variables: c.Variables,
		Recording: Recording{Mode: RecordingInactive},
	}
	for _, step := range steps.Sorted(c.Steps) {
		st.Steps = append(st.Steps, StepState{Step: step, Indicator: indicatorFor(step, "")})
	}
	if st.Steps == nil {
		st.Steps = []StepState{}
	}
	return st
}

// StripRuntime returns states with every runtime block removed and every
// indicator recomputed from the step's own action references.
func StripRuntime(states []StepState, recordingStepID string) []StepState {
	out := make([]StepState, len(states))
	for i, ss := range states {
		ss.Step = ss.Step.Clone()
		ss.Runtime = nil
		ss.Indicator = indicatorFor(ss.Step, recordingStepID)
		out[i] = ss
	}
	return out
}

// HasRuntime reports whether st carries anything that must not be saved:
// a runtime block, pending actions or an active recording.
func HasRuntime(st State) bool {
	if st.Recording.Mode != RecordingInactive && st.Recording.Mode != "" {
		return true
	}
	if len(st.Recording.Pending) > 0 {
		return true
	}
	for _, ss := range st.Steps {
		if ss.Runtime != nil {
			return true
		}
	}
	return false
}

// Document extracts the persistable script from st. It is the only way a
// State becomes a document; runtime blocks and the recording session are
// discarded.
func Document(st State) script.Script {
	s := script.Script{
		Meta:       st.Meta,
		ActionPool: st.Pool,
		Variables:  st.Variables,
		Steps:      make([]script.Step, len(st.Steps)),
	}
	for i, ss := range st.Steps {
		s.Steps[i] = ss.Step
	}
	return CleanCopy(s)
}

func indicatorFor(step script.Step, recordingStepID string) Indicator {
	switch {
	case recordingStepID != "" && step.ID == recordingStepID:
		return IndicatorRecording
	case len(step.ActionIDs) == 0:
		return IndicatorManual
	default:
		return IndicatorMapped
	}
}

func (st State) clone() State {
	c := st
	c.Meta = st.Meta.Clone()
	if st.Pool != nil {
		c.Pool = make(script.ActionPool, len(st.Pool))
		for k, a := range st.Pool {
			c.Pool[k] = a.Clone()
		}
	}
	if st.Variables != nil {
		c.Variables = script.Script{Variables: st.Variables}.Clone().Variables
	}
	c.Steps = make([]StepState, len(st.Steps))
	for i, ss := range st.Steps {
		ss.Step = ss.Step.Clone()
		if ss.Runtime != nil {
			rt := *ss.Runtime
			ss.Runtime = &rt
		}
		c.Steps[i] = ss
	}
	if st.Recording.Pending != nil {
		c.Recording.Pending = make([]script.Action, len(st.Recording.Pending))
		for i, a := range st.Recording.Pending {
			c.Recording.Pending[i] = a.Clone()
		}
	}
	return c
}
