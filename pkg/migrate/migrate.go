// Package migrate converts between the flat legacy document format and the
// step-based format.
package migrate

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/ormasoftchile/stepscript/pkg/rawdoc"
	"github.com/ormasoftchile/stepscript/pkg/script"
	"github.com/ormasoftchile/stepscript/pkg/steps"
)

// Fixed text of the synthetic step and metadata produced by Forward.
const (
	ImportStepID          = "legacy-import"
	ImportStepDescription = "Legacy Import — Migrated Actions"
	ImportExpectedResult  = "All recorded actions replay without errors"
	MigratedTitle         = "Migrated Legacy Script"
	MigratedDescription   = "Converted from the legacy flat action format"
)

// MigratedTags are the tags given to every migrated script.
var MigratedTags = []string{"legacy", "migrated"}

// Result is the outcome of a forward migration. Mismatches lists failed
// post-migration assertions; Warnings lists entries or fields that could not
// be carried over. Neither is fatal.
type Result struct {
	Script     script.Script
	Mismatches []string
	Warnings   []string
}

// OK reports whether the migration produced no mismatches.
func (r *Result) OK() bool { return len(r.Mismatches) == 0 }

// Option configures Forward.
type Option func(*options)

type options struct {
	newID func(prefix string) string
}

// WithIDGenerator overrides id synthesis for actions that carry no usable
// id of their own.
func WithIDGenerator(gen func(prefix string) string) Option {
	return func(o *options) { o.newID = gen }
}

// Forward migrates a legacy document. Every action is assigned an id,
// placed in the pool and referenced, in array order, by one synthetic step.
// The result is always usable; problems surface as Warnings and Mismatches.
func Forward(src rawdoc.Value, opts ...Option) *Result {
	o := options{newID: script.NewID}
	for _, opt := range opts {
		opt(&o)
	}

	res := &Result{}
	md, _ := src.Field("metadata")
	actionsV, _ := src.Field("actions")
	entries := actionsV.Elems()

	decoded := make([]*script.Action, len(entries))
	for i, e := range entries {
		a, bad, err := script.DecodeAction(e)
		if err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("actions[%d]: dropped: %v", i, err))
			continue
		}
		for _, f := range bad {
			res.Warnings = append(res.Warnings, fmt.Sprintf("actions[%d].%s: malformed, using default", i, f))
		}
		allowed := script.ActionFields(a.Type())
		var dropped []string
		for _, k := range e.Keys() {
			if !script.Allowed(allowed, k) {
				dropped = append(dropped, k)
			}
		}
		if len(dropped) > 0 {
			res.Warnings = append(res.Warnings, fmt.Sprintf("actions[%d]: dropped field(s) %s", i, strings.Join(dropped, ", ")))
		}
		decoded[i] = &a
	}

	// Embedded ids win on first occurrence; everything else gets a fresh id
	// that cannot collide with any embedded one.
	taken := make(map[string]bool, len(entries))
	claimed := make([]bool, len(entries))
	for i, a := range decoded {
		if a != nil && a.ID != "" && !taken[a.ID] {
			taken[a.ID] = true
			claimed[i] = true
		}
	}

	s := script.Script{
		Meta: script.Meta{
			Version:     script.StepBasedVersion,
			Title:       MigratedTitle,
			Description: MigratedDescription,
			Tags:        append([]string{}, MigratedTags...),
		},
		ActionPool: script.ActionPool{},
		Variables:  map[string]any{},
	}
	s.Meta.CreatedAt = metaString(md, "created_at", &res.Warnings)
	s.Meta.Platform = metaString(md, "platform", &res.Warnings)
	s.Meta.Duration = metaNumber(md, "duration", &res.Warnings)

	refs := make([]string, 0, len(entries))
	for i, a := range decoded {
		if a == nil {
			continue
		}
		if !claimed[i] {
			if a.ID != "" {
				res.Warnings = append(res.Warnings, fmt.Sprintf("actions[%d]: duplicate id %q replaced", i, a.ID))
			}
			a.ID = script.UniqueID("action", o.newID, func(id string) bool { return taken[id] })
			taken[a.ID] = true
		}
		s.ActionPool[a.ID] = *a
		refs = append(refs, a.ID)
	}

	s.Steps = []script.Step{{
		ID:             ImportStepID,
		Order:          1,
		Description:    ImportStepDescription,
		ExpectedResult: ImportExpectedResult,
		ActionIDs:      refs,
	}}
	s.Normalize()

	res.Script = s
	res.Mismatches = Validate(src, s)
	return res
}

// Validate checks a migrated script against its legacy source: the action
// count, duration and platform are preserved, at least one step exists, and
// the referenced ids are exactly the pool keys.
func Validate(src rawdoc.Value, migrated script.Script) []string {
	var out []string
	md, _ := src.Field("metadata")
	actions, _ := src.Field("actions")

	if got, want := len(migrated.ActionPool), actions.Len(); got != want {
		out = append(out, fmt.Sprintf("action count: pool has %d, source has %d", got, want))
	}

	durV, _ := md.Field("duration")
	srcDur, _ := durV.Num()
	if math.Float64bits(srcDur) != math.Float64bits(migrated.Meta.Duration) {
		out = append(out, fmt.Sprintf("duration: migrated %v, source %v", migrated.Meta.Duration, srcDur))
	}
	platV, _ := md.Field("platform")
	srcPlat, _ := platV.Str()
	if srcPlat != migrated.Meta.Platform {
		out = append(out, fmt.Sprintf("platform: migrated %q, source %q", migrated.Meta.Platform, srcPlat))
	}

	if len(migrated.Steps) == 0 {
		out = append(out, "steps: migrated script has no steps")
	}

	refs := steps.Referenced(migrated.Steps)
	var missing, orphans []string
	for id := range refs {
		if _, ok := migrated.ActionPool[id]; !ok {
			missing = append(missing, id)
		}
	}
	for id := range migrated.ActionPool {
		if !refs[id] {
			orphans = append(orphans, id)
		}
	}
	sort.Strings(missing)
	sort.Strings(orphans)
	if len(missing) > 0 {
		out = append(out, fmt.Sprintf("references: %d id(s) not in pool: %v", len(missing), missing))
	}
	if len(orphans) > 0 {
		out = append(out, fmt.Sprintf("references: %d pool action(s) not referenced: %v", len(orphans), orphans))
	}
	return out
}

// Backward projects a step-based script onto the legacy format. Actions are
// flattened in step order and re-sorted by timestamp.
//
// The timestamp sort can move an action away from its step grouping when
// steps were reordered without re-recording. This is a known approximation.
func Backward(s script.Script) script.Legacy {
	actions := steps.Flatten(s.Steps, s.ActionPool)
	sort.SliceStable(actions, func(i, j int) bool {
		return actions[i].Timestamp < actions[j].Timestamp
	})
	return script.Legacy{
		Metadata: script.LegacyMetadata{
			Version:     script.LegacyVersion,
			CreatedAt:   s.Meta.CreatedAt,
			Duration:    s.Meta.Duration,
			ActionCount: len(actions),
			Platform:    s.Meta.Platform,
		},
		Actions: actions,
	}
}

func metaString(md rawdoc.Value, name string, warnings *[]string) string {
	f, ok := md.Field(name)
	if !ok {
		*warnings = append(*warnings, fmt.Sprintf("metadata.%s: missing", name))
		return ""
	}
	s, ok := f.Str()
	if !ok {
		*warnings = append(*warnings, fmt.Sprintf("metadata.%s: expected string, got %s", name, f.Kind()))
	}
	return s
}

func metaNumber(md rawdoc.Value, name string, warnings *[]string) float64 {
	f, ok := md.Field(name)
	if !ok {
		*warnings = append(*warnings, fmt.Sprintf("metadata.%s: missing", name))
		return 0
	}
	n, ok := f.Num()
	if !ok {
		*warnings = append(*warnings, fmt.Sprintf("metadata.%s: expected number, got %s", name, f.Kind()))
	}
	return n
}
