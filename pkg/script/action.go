package script

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ormasoftchile/stepscript/pkg/rawdoc"
)

// ActionType is the discriminant of an Action's payload.
type ActionType string

const (
	TypeMouseMove        ActionType = "mouse_move"
	TypeMouseClick       ActionType = "mouse_click"
	TypeMouseDoubleClick ActionType = "mouse_double_click"
	TypeKeyPress         ActionType = "key_press"
	TypeKeyRelease       ActionType = "key_release"
	TypeText             ActionType = "type_text"
	TypeWait             ActionType = "wait"
	TypeScreenshot       ActionType = "screenshot"
	TypeVisionCheck      ActionType = "vision_check"
)

var actionTypes = []ActionType{
	TypeMouseMove,
	TypeMouseClick,
	TypeMouseDoubleClick,
	TypeKeyPress,
	TypeKeyRelease,
	TypeText,
	TypeWait,
	TypeScreenshot,
	TypeVisionCheck,
}

// KnownTypes returns every recognized action type.
func KnownTypes() []ActionType {
	return append([]ActionType{}, actionTypes...)
}

// Valid reports whether t is a recognized action type.
func (t ActionType) Valid() bool {
	for _, k := range actionTypes {
		if k == t {
			return true
		}
	}
	return false
}

// Decoding errors that make an action entry unusable.
var (
	ErrNotObject   = errors.New("action is not an object")
	ErrUnknownType = errors.New("unknown action type")
	ErrNoPayload   = errors.New("action has no payload")
)

// Action is one atomic input event or vision assertion. Timestamp is a
// non-negative offset in milliseconds from the start of the recording.
type Action struct {
	ID        string
	Timestamp float64
	Payload   Payload
}

// Payload is the type-specific part of an Action. The set of
// implementations is closed; each carries only the fields its type needs.
type Payload interface {
	Type() ActionType
	fields() map[string]any
	clone() Payload
}

// Button is a pointer button.
type Button string

const (
	ButtonLeft   Button = "left"
	ButtonRight  Button = "right"
	ButtonMiddle Button = "middle"
)

// SearchScope controls where a vision check looks for its target.
type SearchScope string

const (
	ScopeGlobal SearchScope = "global"
	ScopeRegion SearchScope = "region"
)

// Region is a rectangle in screen coordinates.
type Region struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Point is a screen coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// MouseMove moves the pointer.
type MouseMove struct {
	X, Y float64
}

// MouseClick clicks (or double-clicks) a pointer button.
type MouseClick struct {
	X, Y   float64
	Button Button
	Double bool
}

// Key presses or releases a key, optionally with modifiers held.
type Key struct {
	Key       string
	Modifiers []string
	Release   bool
}

// TextInput types literal text.
type TextInput struct {
	Text string
}

// Wait pauses playback until the action's timestamp.
type Wait struct{}

// Screenshot captures the screen.
type Screenshot struct{}

// VisionCheck captures the screen and asserts on it. ROI and Cached are nil
// when not applicable.
type VisionCheck struct {
	Prompt          string
	ReferenceImages []string
	ROI             *Region
	Scope           SearchScope
	Cached          *Point
}

func (MouseMove) Type() ActionType { return TypeMouseMove }
func (c MouseClick) Type() ActionType {
	if c.Double {
		return TypeMouseDoubleClick
	}
	return TypeMouseClick
}
func (k Key) Type() ActionType {
	if k.Release {
		return TypeKeyRelease
	}
	return TypeKeyPress
}
func (TextInput) Type() ActionType { return TypeText }
func (Wait) Type() ActionType { return TypeWait }
func (Screenshot) Type() ActionType { return TypeScreenshot }
func (VisionCheck) Type() ActionType { return TypeVisionCheck }

func (m MouseMove) fields() map[string]any {
	return map[string]any{"x": m.X, "y": m.Y}
}

func (c MouseClick) fields() map[string]any {
	return map[string]any{"x": c.X, "y": c.Y, "button": string(c.Button)}
}

func (k Key) fields() map[string]any {
	var mods any
	if k.Modifiers != nil {
		mods = append([]string{}, k.Modifiers...)
	}
	return map[string]any{"key": k.Key, "modifiers": mods}
}

func (t TextInput) fields() map[string]any { return map[string]any{"text": t.Text} }
func (Wait) fields() map[string]any { return map[string]any{} }
func (Screenshot) fields() map[string]any { return map[string]any{} }
func (v VisionCheck) fields() map[string]any {
	refs := v.ReferenceImages
	if refs == nil {
		refs = []string{}
	}
	var roi, cached any
	if v.ROI != nil {
		roi = map[string]any{"x": v.ROI.X, "y": v.ROI.Y, "width": v.ROI.Width, "height": v.ROI.Height}
	}
	if v.Cached != nil {
		cached = map[string]any{"x": v.Cached.X, "y": v.Cached.Y}
	}
	return map[string]any{
		"prompt":             v.Prompt,
		"reference_images":   append([]string{}, refs...),
		"roi":                roi,
		"search_scope":       string(v.Scope),
		"cached_coordinates": cached,
	}
}

func (m MouseMove) clone() Payload { return m }
func (c MouseClick) clone() Payload { return c }
func (k Key) clone() Payload {
	if k.Modifiers != nil {
		k.Modifiers = append([]string{}, k.Modifiers...)
	}
	return k
}
func (t TextInput) clone() Payload { return t }
func (w Wait) clone() Payload { return w }
func (s Screenshot) clone() Payload { return s }
func (v VisionCheck) clone() Payload {
	if v.ReferenceImages != nil {
		v.ReferenceImages = append([]string{}, v.ReferenceImages...)
	}
	if v.ROI != nil {
		r := *v.ROI
		v.ROI = &r
	}
	if v.Cached != nil {
		p := *v.Cached
		v.Cached = &p
	}
	return v
}

// Type returns the action's discriminant, or "" when it has no payload.
func (a Action) Type() ActionType {
	if a.Payload == nil {
		return ""
	}
	return a.Payload.Type()
}

// Clone returns a deep copy of a.
func (a Action) Clone() Action {
	if a.Payload != nil {
		a.Payload = a.Payload.clone()
	}
	return a
}

// Fields returns the flat wire form of a: id, type, timestamp and the
// payload's fields. Optional payload fields are present with a nil value.
func (a Action) Fields() (map[string]any, error) {
	if a.Payload == nil {
		return nil, fmt.Errorf("action %q: %w", a.ID, ErrNoPayload)
	}
	m := a.Payload.fields()
	m["id"] = a.ID
	m["type"] = string(a.Payload.Type())
	m["timestamp"] = a.Timestamp
	return m, nil
}

// MarshalJSON encodes a in its flat wire form.
func (a Action) MarshalJSON() ([]byte, error) {
	m, err := a.Fields()
	if err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

// UnmarshalJSON decodes a strictly: unknown types and malformed fields
// are errors. Use DecodeAction for tolerant decoding.
func (a *Action) UnmarshalJSON(data []byte) error {
	v, err := rawdoc.Parse(data)
	if err != nil {
		return err
	}
	return a.fromRaw(v)
}

// MarshalYAML encodes a in its flat wire form.
func (a Action) MarshalYAML() (any, error) {
	return a.Fields()
}

// UnmarshalYAML decodes a strictly, like UnmarshalJSON.
func (a *Action) UnmarshalYAML(node *yaml.Node) error {
	var raw any
	if err := node.Decode(&raw); err != nil {
		return err
	}
	return a.fromRaw(rawdoc.FromAny(raw))
}

func (a *Action) fromRaw(v rawdoc.Value) error {
	dec, malformed, err := DecodeAction(v)
	if err != nil {
		return err
	}
	if len(malformed) > 0 {
		return fmt.Errorf("action %q: malformed field(s): %s", dec.ID, strings.Join(malformed, ", "))
	}
	*a = dec
	return nil
}

// DecodeAction decodes an untrusted action entry. A recognized entry with
// malformed sub-fields still decodes: each such field takes a safe default
// and is named in the returned list. The error is non-nil only when the
// entry is unusable (not an object, or an unknown type).
func DecodeAction(v rawdoc.Value) (Action, []string, error) {
	if v.Kind() != rawdoc.KindObject {
		return Action{}, nil, fmt.Errorf("%w (got %s)", ErrNotObject, v.Kind())
	}
	tv, ok := v.Field("type")
	name, isStr := tv.Str()
	if !ok || !isStr {
		return Action{}, nil, fmt.Errorf("%w: type is missing or not a string", ErrUnknownType)
	}
	t := ActionType(name)
	if !t.Valid() {
		return Action{}, nil, fmt.Errorf("%w %q", ErrUnknownType, name)
	}

	d := &fieldDecoder{v: v}
	var a Action
	if idv, ok := v.Field("id"); ok && !idv.IsNull() {
		if s, ok := idv.Str(); ok {
			a.ID = s
		} else {
			d.malformed("id")
		}
	}
	a.Timestamp = d.nonNegative("timestamp")

	switch t {
	case TypeMouseMove:
		a.Payload = MouseMove{X: d.num("x"), Y: d.num("y")}
	case TypeMouseClick, TypeMouseDoubleClick:
		a.Payload = MouseClick{
			X:      d.num("x"),
			Y:      d.num("y"),
			Button: Button(d.enum("button", string(ButtonLeft), string(ButtonLeft), string(ButtonRight), string(ButtonMiddle))),
			Double: t == TypeMouseDoubleClick,
		}
	case TypeKeyPress, TypeKeyRelease:
		a.Payload = Key{
			Key:       d.str("key", ""),
			Modifiers: d.optStrings("modifiers"),
			Release:   t == TypeKeyRelease,
		}
	case TypeText:
		a.Payload = TextInput{Text: d.str("text", "")}
	case TypeWait:
		a.Payload = Wait{}
	case TypeScreenshot:
		a.Payload = Screenshot{}
	case TypeVisionCheck:
		refs := d.optStrings("reference_images")
		if refs == nil {
			refs = []string{}
		}
		a.Payload = VisionCheck{
			Prompt:          d.str("prompt", ""),
			ReferenceImages: refs,
			ROI:             d.region("roi"),
			Scope:           SearchScope(d.enum("search_scope", string(ScopeGlobal), string(ScopeGlobal), string(ScopeRegion))),
			Cached:          d.point("cached_coordinates"),
		}
	}
	return a, d.bad, nil
}

// fieldDecoder reads typed sub-fields of an untrusted object, recording
// every field that had to fall back to a default.
type fieldDecoder struct {
	v   rawdoc.Value
	bad []string
}

func (d *fieldDecoder) malformed(name string) {
	d.bad = append(d.bad, name)
}

func (d *fieldDecoder) num(name string) float64 {
	f, ok := d.v.Field(name)
	n, isNum := f.Num()
	if !ok || !isNum {
		d.malformed(name)
		return 0
	}
	return n
}

func (d *fieldDecoder) nonNegative(name string) float64 {
	n := d.num(name)
	if n < 0 {
		d.malformed(name)
		return 0
	}
	return n
}

func (d *fieldDecoder) str(name, def string) string {
	f, ok := d.v.Field(name)
	s, isStr := f.Str()
	if !ok || !isStr {
		d.malformed(name)
		return def
	}
	return s
}

func (d *fieldDecoder) enum(name, def string, allowed ...string) string {
	s := d.str(name, def)
	for _, a := range allowed {
		if s == a {
			return s
		}
	}
	if s != def {
		d.malformed(name)
	}
	return def
}

// optStrings reads an optional string list: absent or null yields nil.
func (d *fieldDecoder) optStrings(name string) []string {
	f, ok := d.v.Field(name)
	if !ok || f.IsNull() {
		return nil
	}
	if f.Kind() != rawdoc.KindArray {
		d.malformed(name)
		return nil
	}
	out := make([]string, 0, f.Len())
	dropped := false
	for _, e := range f.Elems() {
		s, ok := e.Str()
		if !ok {
			dropped = true
			continue
		}
		out = append(out, s)
	}
	if dropped {
		d.malformed(name)
	}
	return out
}

func (d *fieldDecoder) region(name string) *Region {
	f, ok := d.v.Field(name)
	if !ok || f.IsNull() {
		return nil
	}
	vals, ok := numbers(f, "x", "y", "width", "height")
	if !ok || vals[2] < 0 || vals[3] < 0 {
		d.malformed(name)
		return nil
	}
	return &Region{X: vals[0], Y: vals[1], Width: vals[2], Height: vals[3]}
}

func (d *fieldDecoder) point(name string) *Point {
	f, ok := d.v.Field(name)
	if !ok || f.IsNull() {
		return nil
	}
	vals, ok := numbers(f, "x", "y")
	if !ok {
		d.malformed(name)
		return nil
	}
	return &Point{X: vals[0], Y: vals[1]}
}

func numbers(obj rawdoc.Value, names ...string) ([]float64, bool) {
	if obj.Kind() != rawdoc.KindObject {
		return nil, false
	}
	out := make([]float64, len(names))
	for i, n := range names {
		f, _ := obj.Field(n)
		v, ok := f.Num()
		if !ok {
			return nil, false
		}
		out[i] = v
	}
	return out, true
}
