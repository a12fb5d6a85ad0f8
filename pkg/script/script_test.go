package script

import (
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/ormasoftchile/stepscript/pkg/rawdoc"
)

func raw(t *testing.T, src string) rawdoc.Value {
	t.Helper()
	v, err := rawdoc.Parse([]byte(src))
	if err != nil {
		t.Fatalf("parse %q: %v", src, err)
	}
	return v
}

func TestDecodeActionVariants(t *testing.T) {
	tests := []struct {
		src  string
		want Action
	}{
		{`{"id":"m","type":"mouse_move","timestamp":1,"x":2,"y":3}`,
			Action{ID: "m", Timestamp: 1, Payload: MouseMove{X: 2, Y: 3}}},
		{`{"id":"c","type":"mouse_double_click","timestamp":0,"x":1,"y":1,"button":"right"}`,
			Action{ID: "c", Payload: MouseClick{X: 1, Y: 1, Button: ButtonRight, Double: true}}},
		{`{"id":"k","type":"key_release","timestamp":5,"key":"shift","modifiers":["ctrl"]}`,
			Action{ID: "k", Timestamp: 5, Payload: Key{Key: "shift", Modifiers: []string{"ctrl"}, Release: true}}},
		{`{"id":"t","type":"type_text","timestamp":9,"text":"hi"}`,
			Action{ID: "t", Timestamp: 9, Payload: TextInput{Text: "hi"}}},
		{`{"id":"w","type":"wait","timestamp":100}`,
			Action{ID: "w", Timestamp: 100, Payload: Wait{}}},
		{`{"id":"v","type":"vision_check","timestamp":2,"prompt":"ok?","reference_images":["a.png"],"roi":{"x":1,"y":2,"width":3,"height":4},"search_scope":"region","cached_coordinates":{"x":7,"y":8}}`,
			Action{ID: "v", Timestamp: 2, Payload: VisionCheck{
				Prompt:          "ok?",
				ReferenceImages: []string{"a.png"},
				ROI:             &Region{X: 1, Y: 2, Width: 3, Height: 4},
				Scope:           ScopeRegion,
				Cached:          &Point{X: 7, Y: 8},
			}}},
	}
	for _, tt := range tests {
		got, bad, err := DecodeAction(raw(t, tt.src))
		if err != nil {
			t.Errorf("DecodeAction(%s): %v", tt.src, err)
			continue
		}
		if len(bad) != 0 {
			t.Errorf("DecodeAction(%s): unexpected malformed fields %v", tt.src, bad)
		}
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("DecodeAction(%s) mismatch (-want +got):\n%s", tt.src, diff)
		}
	}
}

func TestDecodeActionDefaultsMalformedFields(t *testing.T) {
	got, bad, err := DecodeAction(raw(t, `{"id":"x","type":"mouse_click","timestamp":-4,"x":"far","y":1,"button":"thumb"}`))
	if err != nil {
		t.Fatalf("DecodeAction: %v", err)
	}
	want := Action{ID: "x", Payload: MouseClick{Y: 1, Button: ButtonLeft}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
	for _, f := range []string{"timestamp", "x", "button"} {
		found := false
		for _, b := range bad {
			if b == f {
				found = true
			}
		}
		if !found {
			t.Errorf("malformed fields %v missing %q", bad, f)
		}
	}
}

func TestDecodeActionRejects(t *testing.T) {
	tests := []struct {
		src  string
		want error
	}{
		{`"wait"`, ErrNotObject},
		{`[1]`, ErrNotObject},
		{`{"id":"a","timestamp":0}`, ErrUnknownType},
		{`{"id":"a","type":"teleport","timestamp":0}`, ErrUnknownType},
		{`{"id":"a","type":7,"timestamp":0}`, ErrUnknownType},
	}
	for _, tt := range tests {
		if _, _, err := DecodeAction(raw(t, tt.src)); !errors.Is(err, tt.want) {
			t.Errorf("DecodeAction(%s) err = %v, want %v", tt.src, err, tt.want)
		}
	}
}

// TestActionWireForm checks that optional payload members are written as
// explicit nulls rather than dropped.
func TestActionWireForm(t *testing.T) {
	a := Action{ID: "v", Payload: VisionCheck{Prompt: "p", Scope: ScopeGlobal}}
	data, err := json.Marshal(a)
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	for _, k := range []string{"roi", "cached_coordinates"} {
		v, ok := m[k]
		if !ok || v != nil {
			t.Errorf("%s = %v (present %v), want explicit null", k, v, ok)
		}
	}
	if refs, ok := m["reference_images"].([]any); !ok || len(refs) != 0 {
		t.Errorf("reference_images = %v, want []", m["reference_images"])
	}

	k := Action{ID: "k", Payload: Key{Key: "a"}}
	data, _ = json.Marshal(k)
	if !strings.Contains(string(data), `"modifiers":null`) {
		t.Errorf("key action %s: want explicit null modifiers", data)
	}
}

func TestActionJSONRoundTrip(t *testing.T) {
	in := []Action{
		{ID: "1", Timestamp: 3.25, Payload: MouseClick{X: -1, Y: 2, Button: ButtonMiddle}},
		{ID: "2", Payload: Key{Key: "k", Modifiers: []string{"cmd", "shift"}}},
		{ID: "3", Payload: Screenshot{}},
		{ID: "4", Payload: VisionCheck{Prompt: "x", ReferenceImages: []string{"r.png"}, Scope: ScopeGlobal, Cached: &Point{X: 1}}},
	}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	var out []Action
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if diff := cmp.Diff(in, out, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("round trip mismatch (-in +out):\n%s", diff)
	}
}

func TestActionUnmarshalIsStrict(t *testing.T) {
	var a Action
	if err := json.Unmarshal([]byte(`{"id":"a","type":"mouse_move","timestamp":0,"x":"?","y":0}`), &a); err == nil {
		t.Error("expected error for malformed x")
	}
	if err := json.Unmarshal([]byte(`{"id":"a","type":"fly","timestamp":0}`), &a); !errors.Is(err, ErrUnknownType) {
		t.Errorf("err = %v, want ErrUnknownType", err)
	}
}

func TestCloneIsDeep(t *testing.T) {
	s := Script{
		Meta:  Meta{Tags: []string{"a"}},
		Steps: []Step{{ID: "s", ActionIDs: []string{"x"}}},
		ActionPool: ActionPool{
			"x": {ID: "x", Payload: VisionCheck{ReferenceImages: []string{"r"}, ROI: &Region{Width: 1}}},
		},
		Variables: map[string]any{"list": []any{"v"}},
	}
	c := s.Clone()
	c.Meta.Tags[0] = "b"
	c.Steps[0].ActionIDs[0] = "y"
	vc := c.ActionPool["x"].Payload.(VisionCheck)
	vc.ReferenceImages[0] = "q"
	vc.ROI.Width = 9
	c.Variables["list"].([]any)[0] = "w"

	if s.Meta.Tags[0] != "a" || s.Steps[0].ActionIDs[0] != "x" {
		t.Error("clone shares meta or step slices")
	}
	orig := s.ActionPool["x"].Payload.(VisionCheck)
	if orig.ReferenceImages[0] != "r" || orig.ROI.Width != 1 {
		t.Error("clone shares payload")
	}
	if s.Variables["list"].([]any)[0] != "v" {
		t.Error("clone shares variables")
	}
}

func TestNewScript(t *testing.T) {
	now := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	s := New("", "linux", now)
	if s.Meta.Title != DefaultTitle {
		t.Errorf("title = %q, want %q", s.Meta.Title, DefaultTitle)
	}
	if s.Meta.Version != StepBasedVersion || s.Meta.CreatedAt != "2024-05-06T07:08:09Z" {
		t.Errorf("meta = %+v", s.Meta)
	}
	if s.Steps == nil || s.ActionPool == nil || s.Variables == nil || s.Meta.Tags == nil {
		t.Error("New left nil containers")
	}
}

func TestEncodeRecomputesActionCount(t *testing.T) {
	s := Script{
		Meta:       Meta{ActionCount: 99},
		ActionPool: ActionPool{"w": {ID: "w", Payload: Wait{}}},
	}
	data, err := Encode(s, FormatJSON)
	if err != nil {
		t.Fatal(err)
	}
	back, err := Decode(data, FormatJSON)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if back.Meta.ActionCount != 1 {
		t.Errorf("action_count = %d, want 1", back.Meta.ActionCount)
	}
	if s.Meta.ActionCount != 99 {
		t.Error("Encode modified its argument")
	}
}

func TestDecodeFixtures(t *testing.T) {
	for _, file := range []string{"stepbased.json", "stepbased.yaml"} {
		t.Run(file, func(t *testing.T) {
			data, err := os.ReadFile("../../testdata/scripts/" + file)
			if err != nil {
				t.Fatal(err)
			}
			s, err := Decode(data, FormatForPath(file))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if len(s.Steps) == 0 || len(s.ActionPool) != s.Meta.ActionCount {
				t.Errorf("steps=%d pool=%d count=%d", len(s.Steps), len(s.ActionPool), s.Meta.ActionCount)
			}

			again, err := Encode(*s, FormatForPath(file))
			if err != nil {
				t.Fatal(err)
			}
			s2, err := Decode(again, FormatForPath(file))
			if err != nil {
				t.Fatalf("re-decode: %v", err)
			}
			if diff := cmp.Diff(s, s2, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("encode/decode not stable (-first +second):\n%s", diff)
			}
		})
	}
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	data, err := os.ReadFile("../../testdata/scripts/runtime-leak.json")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Decode(data, FormatJSON); err == nil {
		t.Error("expected strict decode to reject runtime fields")
	}
}

func TestDecodeRejectsKeyMismatch(t *testing.T) {
	src := `{"meta":{"version":"2.0.0","created_at":"","duration":0,"action_count":1,"platform":"","title":"t","description":"","tags":[]},
"steps":[],"action_pool":{"a":{"id":"b","type":"wait","timestamp":0}},"variables":{}}`
	if _, err := Decode([]byte(src), FormatJSON); err == nil {
		t.Error("expected error for pool key/id mismatch")
	}
}

func TestLegacyEncode(t *testing.T) {
	l := Legacy{
		Metadata: LegacyMetadata{Version: LegacyVersion, ActionCount: 7},
		Actions:  []Action{{ID: "a", Payload: Wait{}}},
	}
	data, err := l.Encode(FormatYAML)
	if err != nil {
		t.Fatal(err)
	}
	v, err := rawdoc.Parse(data)
	if err != nil {
		t.Fatal(err)
	}
	if rawdoc.Detect(v) != rawdoc.Legacy {
		t.Errorf("encoded legacy detected as %s", rawdoc.Detect(v))
	}
	md, _ := v.Field("metadata")
	n, _ := md.Field("action_count")
	if c, _ := n.Num(); c != 1 {
		t.Errorf("action_count = %v, want 1", c)
	}
}

func TestGenerateJSONSchema(t *testing.T) {
	data, err := GenerateJSONSchema()
	if err != nil {
		t.Fatal(err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("schema is not JSON: %v", err)
	}
	if doc["$id"] != SchemaID {
		t.Errorf("$id = %v", doc["$id"])
	}
	for _, want := range []string{`"action_pool"`, `"continue_on_failure"`, `"timestamp"`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("schema missing %s", want)
		}
	}
}

func TestNormalizeAssetPath(t *testing.T) {
	tests := map[string]string{
		"":                    "",
		".":                   "",
		`assets\img\a.png`:    "assets/img/a.png",
		"assets//img/./a.png": "assets/img/a.png",
		`C:\shots\..\b.png`:   "C:/b.png",
		"plain.png":           "plain.png",
	}
	for in, want := range tests {
		if got := NormalizeAssetPath(in); got != want {
			t.Errorf("NormalizeAssetPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeAssetsCopies(t *testing.T) {
	a := Action{ID: "v", Payload: VisionCheck{ReferenceImages: []string{`a\b.png`}}}
	n := NormalizeAssets(a)
	if got := n.Payload.(VisionCheck).ReferenceImages[0]; got != "a/b.png" {
		t.Errorf("normalized = %q", got)
	}
	if a.Payload.(VisionCheck).ReferenceImages[0] != `a\b.png` {
		t.Error("NormalizeAssets modified its argument")
	}
}

func TestUniqueID(t *testing.T) {
	seq := []string{"dup", "", "fresh"}
	gen := func(string) string {
		id := seq[0]
		seq = seq[1:]
		return id
	}
	got := UniqueID("p", gen, func(id string) bool { return id == "dup" })
	if got != "fresh" {
		t.Errorf("UniqueID = %q, want fresh", got)
	}
	if id := NewID("step"); !strings.HasPrefix(id, "step-") || len(id) != len("step-")+12 {
		t.Errorf("NewID = %q", id)
	}
}

func TestUniqueIDRepeatingGenerator(t *testing.T) {
	taken := map[string]bool{"step-x": true, "step-x-2": true}
	calls := 0
	gen := func(p string) string {
		calls++
		return p + "-x"
	}
	got := UniqueID("step", gen, func(id string) bool { return taken[id] })
	if got != "step-x-3" {
		t.Errorf("UniqueID = %q, want step-x-3", got)
	}
	if calls != maxDraws {
		t.Errorf("generator called %d times, want %d", calls, maxDraws)
	}

	empty := UniqueID("", func(string) string { return "" }, func(string) bool { return false })
	if empty != "id-2" {
		t.Errorf("UniqueID with empty generator = %q, want id-2", empty)
	}
}

func TestActionFields(t *testing.T) {
	if ActionFields("teleport") != nil {
		t.Error("unknown type should have no field list")
	}
	for _, typ := range KnownTypes() {
		fields := ActionFields(typ)
		if !Allowed(fields, "id") || !Allowed(fields, "type") || !Allowed(fields, "timestamp") {
			t.Errorf("%s: envelope fields missing from %v", typ, fields)
		}
	}
	if !IsRuntimeField("elapsed_ms") || IsRuntimeField("action_ids") {
		t.Error("runtime field classification is wrong")
	}
}
