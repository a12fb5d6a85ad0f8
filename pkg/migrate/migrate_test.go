package migrate

import (
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ormasoftchile/stepscript/pkg/rawdoc"
	"github.com/ormasoftchile/stepscript/pkg/script"
	"github.com/ormasoftchile/stepscript/pkg/steps"
)

func parse(t *testing.T, src string) rawdoc.Value {
	t.Helper()
	v, err := rawdoc.Parse([]byte(src))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return v
}

func counter() func(string) string {
	n := 0
	return func(prefix string) string {
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

// TestForwardScenario is the canonical two-action legacy recording.
func TestForwardScenario(t *testing.T) {
	src := parse(t, `{
		"metadata": {"version": "1.0.0", "created_at": "2024-01-01T00:00:00Z", "duration": 5000, "action_count": 2, "platform": "macos"},
		"actions": [
			{"type": "mouse_click", "timestamp": 0, "x": 100, "y": 200, "button": "left"},
			{"type": "wait", "timestamp": 2000}
		]
	}`)
	res := Forward(src, WithIDGenerator(counter()))

	if !res.OK() {
		t.Fatalf("mismatches: %v", res.Mismatches)
	}
	if len(res.Warnings) != 0 {
		t.Errorf("warnings: %v", res.Warnings)
	}
	s := res.Script
	if len(s.Steps) != 1 || len(s.Steps[0].ActionIDs) != 2 {
		t.Fatalf("steps = %+v", s.Steps)
	}
	if len(s.ActionPool) != 2 || s.Meta.ActionCount != 2 {
		t.Errorf("pool = %d, action_count = %d", len(s.ActionPool), s.Meta.ActionCount)
	}
	if s.Meta.Duration != 5000 || s.Meta.Platform != "macos" || s.Meta.CreatedAt != "2024-01-01T00:00:00Z" {
		t.Errorf("meta = %+v", s.Meta)
	}
	if s.Meta.Version != script.StepBasedVersion {
		t.Errorf("version = %q", s.Meta.Version)
	}

	st := s.Steps[0]
	if st.Description != ImportStepDescription || st.ExpectedResult != ImportExpectedResult || st.ContinueOnFailure {
		t.Errorf("import step = %+v", st)
	}
	if diff := cmp.Diff([]string{"action-1", "action-2"}, st.ActionIDs); diff != "" {
		t.Errorf("ids (-want +got):\n%s", diff)
	}
	click := s.ActionPool["action-1"]
	want := script.MouseClick{X: 100, Y: 200, Button: script.ButtonLeft}
	if diff := cmp.Diff(want, click.Payload); diff != "" {
		t.Errorf("click payload (-want +got):\n%s", diff)
	}
}

func TestForwardIsDeterministic(t *testing.T) {
	data, err := os.ReadFile("../../testdata/scripts/legacy.json")
	if err != nil {
		t.Fatal(err)
	}
	src := parse(t, string(data))
	a := Forward(src, WithIDGenerator(counter()))
	b := Forward(src, WithIDGenerator(counter()))
	if diff := cmp.Diff(a.Script, b.Script); diff != "" {
		t.Errorf("two migrations differ (-a +b):\n%s", diff)
	}
	if diff := cmp.Diff(MigratedTags, a.Script.Meta.Tags); diff != "" {
		t.Errorf("tags (-want +got):\n%s", diff)
	}
}

func TestForwardIDs(t *testing.T) {
	src := parse(t, `{
		"metadata": {"created_at": "x", "duration": 1, "platform": "linux"},
		"actions": [
			{"id": "keep", "type": "wait", "timestamp": 0},
			{"id": "keep", "type": "wait", "timestamp": 1},
			{"type": "wait", "timestamp": 2},
			{"id": "action-1", "type": "wait", "timestamp": 3}
		]
	}`)
	res := Forward(src, WithIDGenerator(counter()))
	got := res.Script.Steps[0].ActionIDs
	// action-1 is embedded, so the generator's first value is skipped.
	want := []string{"keep", "action-2", "action-3", "action-1"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ids (-want +got):\n%s", diff)
	}
	if !res.OK() {
		t.Errorf("mismatches: %v", res.Mismatches)
	}
	if len(res.Warnings) != 1 || !strings.Contains(res.Warnings[0], "duplicate id") {
		t.Errorf("warnings = %v", res.Warnings)
	}
}

// TestForwardCountProperty migrates legacy documents of many sizes.
func TestForwardCountProperty(t *testing.T) {
	for k := 0; k <= 25; k++ {
		var b strings.Builder
		b.WriteString(`{"metadata": {"created_at": "", "duration": 0, "platform": "linux"}, "actions": [`)
		for i := 0; i < k; i++ {
			if i > 0 {
				b.WriteString(",")
			}
			fmt.Fprintf(&b, `{"type": "type_text", "timestamp": %d, "text": "t%d"}`, i*10, i)
		}
		b.WriteString("]}")

		res := Forward(parse(t, b.String()))
		s := res.Script
		if len(s.ActionPool) != k {
			t.Errorf("k=%d: pool has %d", k, len(s.ActionPool))
		}
		if len(s.Steps) != 1 || len(s.Steps[0].ActionIDs) != k {
			t.Errorf("k=%d: steps = %+v", k, s.Steps)
		}
		if len(steps.Orphaned(s.ActionPool, s.Steps)) != 0 {
			t.Errorf("k=%d: orphans after migration", k)
		}
		if !res.OK() {
			t.Errorf("k=%d: mismatches %v", k, res.Mismatches)
		}
	}
}

func TestForwardDropsUnknownTypes(t *testing.T) {
	src := parse(t, `{
		"metadata": {"created_at": "", "duration": 10, "platform": "linux"},
		"actions": [{"type": "teleport", "timestamp": 0}, {"type": "wait", "timestamp": 1}, 7]
	}`)
	res := Forward(src)
	if len(res.Script.ActionPool) != 1 {
		t.Fatalf("pool = %d, want 1", len(res.Script.ActionPool))
	}
	if len(res.Warnings) != 2 {
		t.Errorf("warnings = %v", res.Warnings)
	}
	if res.OK() || !strings.Contains(res.Mismatches[0], "action count") {
		t.Errorf("mismatches = %v, want action count mismatch", res.Mismatches)
	}
}

func TestForwardReportsDroppedFields(t *testing.T) {
	src := parse(t, `{
		"metadata": {"created_at": "", "duration": 10, "platform": "linux"},
		"actions": [
			{"type": "mouse_click", "timestamp": 0, "x": 1, "y": 2, "button": "left", "screenshot": "shots/1.png", "note": "keep me"},
			{"type": "wait", "timestamp": 1}
		]
	}`)
	res := Forward(src, WithIDGenerator(counter()))
	want := []string{"actions[0]: dropped field(s) note, screenshot"}
	if diff := cmp.Diff(want, res.Warnings); diff != "" {
		t.Errorf("warnings (-want +got):\n%s", diff)
	}
	if !res.OK() {
		t.Errorf("mismatches = %v", res.Mismatches)
	}
	fields, err := res.Script.ActionPool["action-1"].Fields()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := fields["note"]; ok {
		t.Error("unknown field carried into the pool")
	}
}

func TestForwardMissingMetadata(t *testing.T) {
	res := Forward(parse(t, `{"metadata": {}, "actions": []}`))
	if len(res.Warnings) != 3 {
		t.Errorf("warnings = %v, want created_at, platform and duration", res.Warnings)
	}
	if !res.OK() {
		t.Errorf("mismatches = %v", res.Mismatches)
	}
	if len(res.Script.Steps) != 1 || res.Script.Steps[0].ActionIDs == nil {
		t.Errorf("steps = %+v", res.Script.Steps)
	}
}

func TestValidateReportsEachAssertion(t *testing.T) {
	src := parse(t, `{"metadata": {"duration": 5000, "platform": "macos"}, "actions": [{"type": "wait", "timestamp": 0}]}`)
	bad := script.Script{
		Meta:       script.Meta{Duration: 4999, Platform: "windows"},
		ActionPool: script.ActionPool{"a": {ID: "a", Payload: script.Wait{}}, "b": {ID: "b", Payload: script.Wait{}}},
	}
	got := Validate(src, bad)
	for _, want := range []string{"action count", "duration", "platform", "no steps", "not referenced"} {
		found := false
		for _, m := range got {
			if strings.Contains(m, want) {
				found = true
			}
		}
		if !found {
			t.Errorf("mismatches %v missing %q", got, want)
		}
	}

	bad.Steps = []script.Step{{ID: "s", Order: 1, ActionIDs: []string{"a", "b", "ghost"}}}
	got = Validate(src, bad)
	if !strings.Contains(strings.Join(got, "\n"), "not in pool: [ghost]") {
		t.Errorf("mismatches %v missing the unresolved reference", got)
	}
}

func TestBackward(t *testing.T) {
	s := script.Script{
		Meta: script.Meta{Version: script.StepBasedVersion, CreatedAt: "c", Duration: 42, Platform: "linux", ActionCount: 99},
		Steps: []script.Step{
			{ID: "s2", Order: 2, ActionIDs: []string{"early"}},
			{ID: "s1", Order: 1, ActionIDs: []string{"late", "mid", "missing"}},
		},
		ActionPool: script.ActionPool{
			"early": {ID: "early", Timestamp: 1, Payload: script.Wait{}},
			"mid":   {ID: "mid", Timestamp: 5, Payload: script.Wait{}},
			"late":  {ID: "late", Timestamp: 9, Payload: script.Wait{}},
		},
	}
	l := Backward(s)
	var got []string
	for _, a := range l.Actions {
		got = append(got, a.ID)
	}
	if diff := cmp.Diff([]string{"early", "mid", "late"}, got); diff != "" {
		t.Errorf("order (-want +got):\n%s", diff)
	}
	want := script.LegacyMetadata{Version: script.LegacyVersion, CreatedAt: "c", Duration: 42, ActionCount: 3, Platform: "linux"}
	if diff := cmp.Diff(want, l.Metadata); diff != "" {
		t.Errorf("metadata (-want +got):\n%s", diff)
	}
}

func TestRoundTripThroughLegacy(t *testing.T) {
	data, err := os.ReadFile("../../testdata/scripts/legacy.json")
	if err != nil {
		t.Fatal(err)
	}
	src := parse(t, string(data))
	first := Forward(src, WithIDGenerator(counter()))

	out, err := Backward(first.Script).Encode(script.FormatJSON)
	if err != nil {
		t.Fatal(err)
	}
	again := parse(t, string(out))
	if rawdoc.Detect(again) != rawdoc.Legacy {
		t.Fatalf("backward output detected as %s", rawdoc.Detect(again))
	}
	second := Forward(again, WithIDGenerator(counter()))
	if !second.OK() {
		t.Errorf("mismatches after round trip: %v", second.Mismatches)
	}
	if diff := cmp.Diff(first.Script.ActionPool, second.Script.ActionPool); diff != "" {
		t.Errorf("pool changed across round trip (-first +second):\n%s", diff)
	}
}
