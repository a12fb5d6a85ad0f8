package repair

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ormasoftchile/stepscript/pkg/migrate"
	"github.com/ormasoftchile/stepscript/pkg/rawdoc"
	"github.com/ormasoftchile/stepscript/pkg/script"
)

// Outcome is the terminal state of a repair run.
type Outcome int

const (
	OutcomeValid Outcome = iota
	OutcomeRepaired
	OutcomeUnrecoverable
)

func (o Outcome) String() string {
	switch o {
	case OutcomeValid:
		return "valid"
	case OutcomeRepaired:
		return "repaired"
	default:
		return "unrecoverable"
	}
}

// Result is what Repair produces. Script is always usable: for
// OutcomeUnrecoverable it is the fallback document.
type Result struct {
	Outcome    Outcome
	Format     rawdoc.Format
	Script     script.Script
	Repairs    []string
	Warnings   []*Issue
	Errors     []*Issue
	Mismatches []string
}

// Fallback reports whether Script is the fallback document.
func (r *Result) Fallback() bool { return r.Outcome == OutcomeUnrecoverable }

// Option configures a Repairer.
type Option func(*Repairer)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(r *Repairer) { r.logger = l }
}

// WithClock sets the time source used for synthesized timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Repairer) { r.now = now }
}

// WithPlatform sets the platform recorded in synthesized metadata.
func WithPlatform(p string) Option {
	return func(r *Repairer) { r.platform = p }
}

// WithIDGenerator overrides id synthesis for steps and actions.
func WithIDGenerator(gen func(prefix string) string) Option {
	return func(r *Repairer) { r.newID = gen }
}

// Repairer validates and repairs raw documents. It holds no per-document
// state and is safe for concurrent use.
type Repairer struct {
	logger   *zap.Logger
	now      func() time.Time
	platform string
	newID    func(prefix string) string
}

// New returns a Repairer with the given options applied.
func New(opts ...Option) *Repairer {
	r := &Repairer{
		logger:   zap.NewNop(),
		now:      time.Now,
		platform: script.HostPlatform(),
		newID:    script.NewID,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	r.logger = r.logger.Named("repair")
	return r
}

// Repair brings any raw document into a usable step-based script. path is
// only used to describe the origin in logs and in the fallback document.
// Repair never panics.
func (r *Repairer) Repair(v rawdoc.Value, path string) (res *Result) {
	log := r.logger.With(zap.String("path", path))
	defer func() {
		if p := recover(); p != nil {
			log.Error("repair panicked, using fallback", zap.Any("panic", p))
			res = r.fallback(path, rawdoc.Detect(v), []*Issue{
				fatalf("repair", CorruptedData, "", "repair failed: %v", p),
			})
		}
	}()

	report := Validate(v)
	switch report.Status() {
	case Unrecoverable:
		log.Warn("document is unrecoverable, using fallback", zap.Int("errors", len(report.Errors())))
		return r.fallback(path, report.Format, report.Errors())
	case Valid:
		s, err := decodeValid(v)
		if err == nil {
			return &Result{Outcome: OutcomeValid, Format: report.Format, Script: s, Warnings: report.Warnings()}
		}
		log.Debug("strict decode of valid document failed, salvaging", zap.Error(err))
	}

	if report.Format == rawdoc.Legacy {
		return r.migrateLegacy(v, log)
	}

	res = &Result{Format: report.Format, Errors: report.Errors(), Warnings: report.Warnings()}
	sv := &salvager{r: r, log: log}
	res.Script = sv.script(v)
	res.Repairs = sv.notes

	// The repaired document must pass validation on its own.
	if after := Validate(rawdoc.FromAny(res.Script)); after.Status() != Valid {
		log.Error("repair did not converge, using fallback", zap.Int("errors", len(after.Errors())))
		return r.fallback(path, report.Format, append(res.Errors, after.Errors()...))
	}
	res.Outcome = OutcomeRepaired
	if len(res.Repairs) == 0 {
		res.Outcome = OutcomeValid
	}
	log.Info("document repaired", zap.Int("repairs", len(res.Repairs)), zap.Int("warnings", len(res.Warnings)))
	return res
}

// RepairBytes parses data and repairs the result. Input that cannot be
// parsed at all yields the fallback document.
func (r *Repairer) RepairBytes(data []byte, path string) *Result {
	v, err := rawdoc.Parse(data)
	if err != nil {
		r.logger.Warn("document does not parse, using fallback", zap.String("path", path), zap.Error(err))
		return r.fallback(path, rawdoc.Unrecognized, []*Issue{
			fatalf("structural", CorruptedData, "$", "cannot parse document: %v", err),
		})
	}
	return r.Repair(v, path)
}

func (r *Repairer) migrateLegacy(v rawdoc.Value, log *zap.Logger) *Result {
	m := migrate.Forward(v, migrate.WithIDGenerator(r.newID))
	res := &Result{
		Outcome:    OutcomeRepaired,
		Format:     rawdoc.Legacy,
		Script:     m.Script,
		Repairs:    []string{"migrated legacy document to the step-based format"},
		Mismatches: m.Mismatches,
	}
	for _, w := range m.Warnings {
		res.Warnings = append(res.Warnings, warningf("migration", InvalidConfiguration, "", "%s", w))
	}
	for _, mm := range m.Mismatches {
		res.Warnings = append(res.Warnings, warningf("migration", MigrationMismatch, "", "%s", mm))
	}
	log.Info("legacy document migrated", zap.Int("actions", len(m.Script.ActionPool)), zap.Int("mismatches", len(m.Mismatches)))
	return res
}

func (r *Repairer) fallback(path string, f rawdoc.Format, errs []*Issue) *Result {
	return &Result{
		Outcome: OutcomeUnrecoverable,
		Format:  f,
		Script:  Fallback(path, r.now(), r.platform),
		Errors:  errs,
	}
}

// Fallback returns the minimal document used when nothing can be salvaged.
func Fallback(path string, now time.Time, platform string) script.Script {
	s := script.New("Recovered Script", platform, now)
	s.Meta.Tags = []string{"fallback", "recovered"}
	if path != "" {
		s.Meta.Description = fmt.Sprintf("Fallback document: %s could not be loaded", path)
	} else {
		s.Meta.Description = "Fallback document: the original could not be loaded"
	}
	return s
}

func decodeValid(v rawdoc.Value) (script.Script, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return script.Script{}, err
	}
	s, err := script.Decode(data, script.FormatJSON)
	if err != nil {
		return script.Script{}, err
	}
	return *s, nil
}

// salvager rebuilds a script field group by field group, recording a note
// for every change.
type salvager struct {
	r     *Repairer
	log   *zap.Logger
	notes []string

	declaredCount int
	hasCount      bool

	// rekeyed maps pool keys that could not be kept to their new ids.
	rekeyed map[string]string
}

func (sv *salvager) notef(format string, args ...any) {
	sv.notes = append(sv.notes, fmt.Sprintf(format, args...))
}

func (sv *salvager) script(v rawdoc.Value) script.Script {
	var s script.Script
	s.Meta = sv.meta(v)
	s.ActionPool = sv.pool(v)
	s.Steps = sv.steps(v, s.ActionPool)
	s.Variables = sv.variables(v)

	for _, k := range v.Keys() {
		if !script.Allowed(script.ScriptFields, k) {
			sv.notef("removed unknown field %q", k)
		}
	}
	s.Normalize()
	switch {
	case !sv.hasCount:
		sv.notef("meta.action_count: missing, set to %d", s.Meta.ActionCount)
	case sv.declaredCount != s.Meta.ActionCount:
		sv.notef("meta.action_count: set to %d (was %d)", s.Meta.ActionCount, sv.declaredCount)
	}
	return s
}

func (sv *salvager) meta(v rawdoc.Value) script.Meta {
	mv, ok := v.Field("meta")
	if !ok || mv.Kind() != rawdoc.KindObject {
		sv.notef("meta: missing or invalid, synthesized defaults")
		return script.Meta{
			Version:   script.StepBasedVersion,
			CreatedAt: sv.r.now().UTC().Format(time.RFC3339),
			Platform:  sv.r.platform,
			Title:     script.DefaultTitle,
			Tags:      []string{},
		}
	}

	m := script.Meta{
		Version:       sv.str(mv, "meta.version", "version", script.StepBasedVersion),
		CreatedAt:     sv.str(mv, "meta.created_at", "created_at", sv.r.now().UTC().Format(time.RFC3339)),
		Platform:      sv.str(mv, "meta.platform", "platform", sv.r.platform),
		Title:         sv.str(mv, "meta.title", "title", script.DefaultTitle),
		Description:   sv.str(mv, "meta.description", "description", ""),
		PreConditions: sv.optStr(mv, "meta.pre_conditions", "pre_conditions"),
	}
	if strings.TrimSpace(m.Title) == "" {
		sv.notef("meta.title: empty, set to %q", script.DefaultTitle)
		m.Title = script.DefaultTitle
	}
	if d, ok := fieldNum(mv, "duration"); ok && d >= 0 {
		m.Duration = d
	} else {
		sv.notef("meta.duration: missing or invalid, set to 0")
	}
	if n, ok := fieldNum(mv, "action_count"); ok {
		sv.declaredCount, sv.hasCount = int(n), true
	}

	m.Tags = []string{}
	tags, ok := mv.Field("tags")
	switch {
	case !ok:
		sv.notef("meta.tags: missing, set to empty")
	case tags.Kind() != rawdoc.KindArray:
		sv.notef("meta.tags: expected array, got %s, set to empty", tags.Kind())
	default:
		for i, t := range tags.Elems() {
			if s, ok := t.Str(); ok {
				m.Tags = append(m.Tags, s)
			} else {
				sv.notef("meta.tags[%d]: not a string, removed", i)
			}
		}
	}
	for _, k := range mv.Keys() {
		if !script.Allowed(script.MetaFields, k) {
			sv.notef("meta: removed unknown field %q", k)
		}
	}
	return m
}

func (sv *salvager) str(obj rawdoc.Value, path, name, def string) string {
	f, ok := obj.Field(name)
	if !ok {
		sv.notef("%s: missing, set to %q", path, def)
		return def
	}
	s, ok := f.Str()
	if !ok {
		sv.notef("%s: expected string, got %s, set to %q", path, f.Kind(), def)
		return def
	}
	return s
}

func (sv *salvager) optStr(obj rawdoc.Value, path, name string) string {
	f, ok := obj.Field(name)
	if !ok || f.IsNull() {
		return ""
	}
	s, ok := f.Str()
	if !ok {
		sv.notef("%s: expected string, got %s, removed", path, f.Kind())
	}
	return s
}

func (sv *salvager) variables(v rawdoc.Value) map[string]any {
	f, ok := v.Field("variables")
	if !ok {
		sv.notef("variables: missing, set to empty")
		return map[string]any{}
	}
	m, isMap := f.Interface().(map[string]any)
	if !isMap {
		sv.notef("variables: expected object, got %s, set to empty", f.Kind())
		return map[string]any{}
	}
	return m
}

// pool repairs the action pool. It runs before steps so that step
// references are checked against the repaired pool.
func (sv *salvager) pool(v rawdoc.Value) script.ActionPool {
	out := script.ActionPool{}
	pv, ok := v.Field("action_pool")
	switch {
	case !ok:
		sv.notef("action_pool: missing, set to empty")
		return out
	case pv.Kind() == rawdoc.KindArray:
		sv.notef("action_pool: expected object, got array, converted")
		for i, e := range pv.Elems() {
			a, ok := sv.action(fmt.Sprintf("action_pool[%d]", i), e)
			if !ok {
				continue
			}
			if a.ID == "" || out[a.ID].Payload != nil {
				old := a.ID
				a.ID = script.UniqueID("action", sv.r.newID, func(id string) bool { return out[id].Payload != nil })
				sv.notef("action_pool[%d]: id %q replaced with %q", i, old, a.ID)
			}
			out[a.ID] = a
		}
		return out
	case pv.Kind() != rawdoc.KindObject:
		sv.notef("action_pool: expected object, got %s, set to empty", pv.Kind())
		return out
	}

	for _, key := range pv.Keys() {
		e, _ := pv.Field(key)
		path := "action_pool." + key
		a, ok := sv.action(path, e)
		if !ok {
			continue
		}
		if key == "" {
			id := script.UniqueID("action", sv.r.newID, func(id string) bool { return pv.Has(id) || out[id].Payload != nil })
			sv.notef("%s: empty id, set to %q", path, id)
			if sv.rekeyed == nil {
				sv.rekeyed = map[string]string{}
			}
			sv.rekeyed[key] = id
			a.ID = id
			out[id] = a
			continue
		}
		if a.ID != key {
			sv.notef("%s.id: set to pool key (was %q)", path, a.ID)
			a.ID = key
		}
		out[key] = a
	}
	return out
}

func (sv *salvager) action(path string, e rawdoc.Value) (script.Action, bool) {
	a, malformed, err := script.DecodeAction(e)
	if err != nil {
		sv.notef("%s: removed (%v)", path, err)
		return script.Action{}, false
	}
	for _, f := range malformed {
		sv.notef("%s.%s: invalid, reset to default", path, f)
	}
	allowed := script.ActionFields(a.Type())
	var dropped []string
	for _, k := range e.Keys() {
		if !script.Allowed(allowed, k) {
			dropped = append(dropped, k)
		}
	}
	if len(dropped) > 0 {
		sv.notef("%s: removed field(s) %s", path, strings.Join(dropped, ", "))
	}
	return a, true
}

func (sv *salvager) steps(v rawdoc.Value, pool script.ActionPool) []script.Step {
	out := []script.Step{}
	stv, ok := v.Field("steps")
	if !ok {
		sv.notef("steps: missing, set to empty")
		return out
	}
	if stv.Kind() != rawdoc.KindArray {
		sv.notef("steps: expected array, got %s, set to empty", stv.Kind())
		return out
	}

	taken := map[string]bool{}
	for i, e := range stv.Elems() {
		path := fmt.Sprintf("steps[%d]", i)
		if e.Kind() != rawdoc.KindObject {
			sv.notef("%s: expected object, got %s, removed", path, e.Kind())
			continue
		}
		st := script.Step{Order: len(out) + 1, ActionIDs: []string{}}

		id, _ := fieldStr(e, "id")
		if id == "" || taken[id] {
			st.ID = script.UniqueID("step", sv.r.newID, func(s string) bool { return taken[s] })
			sv.notef("%s.id: missing or duplicate %q, set to %q", path, id, st.ID)
		} else {
			st.ID = id
		}
		taken[st.ID] = true

		if n, ok := fieldNum(e, "order"); !ok || n != float64(st.Order) {
			sv.notef("%s.order: set to %d from position", path, st.Order)
		}

		if d, ok := fieldStr(e, "description"); ok && strings.TrimSpace(d) != "" {
			st.Description = d
		} else {
			st.Description = fmt.Sprintf("Step %d", st.Order)
			sv.notef("%s.description: empty or invalid, set to %q", path, st.Description)
		}

		if f, ok := e.Field("expected_result"); ok {
			if s, isStr := f.Str(); isStr {
				st.ExpectedResult = s
			} else {
				sv.notef("%s.expected_result: expected string, got %s, set to empty", path, f.Kind())
			}
		} else {
			sv.notef("%s.expected_result: missing, set to empty", path)
		}

		st.ActionIDs = sv.refs(path, e, pool)
		st.ContinueOnFailure = sv.boolean(path+".continue_on_failure", e, "continue_on_failure")

		var dropped []string
		for _, k := range e.Keys() {
			if !script.Allowed(script.StepFields, k) {
				dropped = append(dropped, k)
			}
		}
		if len(dropped) > 0 {
			sv.notef("%s: removed field(s) %s", path, strings.Join(dropped, ", "))
		}
		out = append(out, st)
	}
	return out
}

func (sv *salvager) refs(path string, e rawdoc.Value, pool script.ActionPool) []string {
	out := []string{}
	f, ok := e.Field("action_ids")
	if !ok {
		sv.notef("%s.action_ids: missing, set to empty", path)
		return out
	}
	if f.Kind() != rawdoc.KindArray {
		sv.notef("%s.action_ids: expected array, got %s, set to empty", path, f.Kind())
		return out
	}
	removed := 0
	for _, ref := range f.Elems() {
		id, ok := ref.Str()
		if nk, moved := sv.rekeyed[id]; ok && moved {
			id = nk
		}
		if _, exists := pool[id]; !ok || !exists {
			removed++
			continue
		}
		out = append(out, id)
	}
	if removed > 0 {
		sv.notef("%s: removed %d broken action reference(s)", path, removed)
		sv.log.Warn("removed broken action references", zap.String("step", path), zap.Int("removed", removed))
	}
	return out
}

func (sv *salvager) boolean(path string, e rawdoc.Value, name string) bool {
	f, ok := e.Field(name)
	if !ok {
		sv.notef("%s: missing, set to false", path)
		return false
	}
	if b, ok := f.Bool(); ok {
		return b
	}
	if s, ok := f.Str(); ok {
		if b, ok := parseBool(s); ok {
			sv.notef("%s: coerced %q to %v", path, s, b)
			return b
		}
	}
	if n, ok := f.Num(); ok {
		sv.notef("%s: coerced %v to %v", path, n, n != 0)
		return n != 0
	}
	sv.notef("%s: expected boolean, got %s, set to false", path, f.Kind())
	return false
}

func parseBool(s string) (bool, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "yes", "y", "on":
		return true, true
	case "no", "n", "off", "":
		return false, true
	}
	b, err := strconv.ParseBool(s)
	return b, err == nil
}
