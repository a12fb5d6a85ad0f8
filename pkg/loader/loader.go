// Package loader is the I/O boundary of stepscript: it reads documents from
// a Store, runs them through detection, migration and repair, and hands the
// caller a clean editor.State. Saving goes the other way and always strips
// editor state first.
package loader

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ormasoftchile/stepscript/pkg/audit"
	"github.com/ormasoftchile/stepscript/pkg/editor"
	"github.com/ormasoftchile/stepscript/pkg/migrate"
	"github.com/ormasoftchile/stepscript/pkg/rawdoc"
	"github.com/ormasoftchile/stepscript/pkg/repair"
	"github.com/ormasoftchile/stepscript/pkg/script"
	"github.com/ormasoftchile/stepscript/pkg/storage"
)

// Result is a loaded document ready for editing.
type Result struct {
	Path    string
	Format  rawdoc.Format
	Outcome repair.Outcome
	Script  script.Script
	State   editor.State
	// Notice is the message to show the user when the document did not load
	// as stored. It is empty for documents that were already valid.
	Notice     string
	Repairs    []string
	Warnings   []string
	Errors     []string
	Mismatches []string
}

// Loader ties a Store to the repair engine.
type Loader struct {
	store    storage.Store
	repairer *repair.Repairer
	assets   storage.Assets
	logger   *zap.Logger
	audit    *audit.Writer
}

// Option configures a Loader.
type Option func(*Loader)

// WithRepairer replaces the default repair engine.
func WithRepairer(r *repair.Repairer) Option {
	return func(l *Loader) { l.repairer = r }
}

// WithAssets enables reference-image checks on load.
func WithAssets(a storage.Assets) Option {
	return func(l *Loader) { l.assets = a }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(lg *zap.Logger) Option {
	return func(l *Loader) { l.logger = lg }
}

// WithAudit records load and save events. A nil writer disables auditing.
func WithAudit(w *audit.Writer) Option {
	return func(l *Loader) { l.audit = w }
}

// New returns a Loader reading from and writing to store.
func New(store storage.Store, opts ...Option) *Loader {
	l := &Loader{store: store, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = zap.NewNop()
	}
	l.logger = l.logger.Named("loader")
	if l.repairer == nil {
		l.repairer = repair.New(repair.WithLogger(l.logger))
	}
	return l
}

// Load reads, detects, migrates or repairs the document at path. The only
// errors are transport errors from the store; a document that cannot be
// used at all comes back as the fallback script.
func (l *Loader) Load(ctx context.Context, path string) (*Result, error) {
	data, err := l.store.Read(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	l.emit(l.audit.Emit(audit.EventLoad, path, map[string]any{"bytes": len(data)}))

	rr := l.repairer.RepairBytes(data, path)
	l.emit(l.audit.EmitFormat(path, rr.Format.String()))

	res := &Result{
		Path:       path,
		Format:     rr.Format,
		Outcome:    rr.Outcome,
		Script:     rr.Script,
		Repairs:    rr.Repairs,
		Mismatches: rr.Mismatches,
		Warnings:   issueStrings(rr.Warnings),
		Errors:     issueStrings(rr.Errors),
	}
	if l.assets != nil {
		for _, m := range storage.MissingAssets(l.assets, rr.Script) {
			res.Warnings = append(res.Warnings, "missing reference image: "+m)
		}
	}

	switch {
	case rr.Fallback():
		l.emit(l.audit.EmitFallback(path, res.Errors))
	case rr.Format == rawdoc.Legacy:
		l.emit(l.audit.EmitMigrated(path, len(rr.Script.ActionPool), rr.Mismatches))
	case rr.Outcome == repair.OutcomeRepaired:
		l.emit(l.audit.EmitRepaired(path, rr.Repairs))
	}

	res.Notice = notice(res)
	res.State = editor.CleanState(res.Script)
	l.logger.Info("script loaded",
		zap.String("path", path),
		zap.Stringer("format", rr.Format),
		zap.Stringer("outcome", rr.Outcome),
		zap.Int("repairs", len(res.Repairs)),
		zap.Int("warnings", len(res.Warnings)),
	)
	return res, nil
}

// Inspect validates the document at path without repairing it. Bytes that
// do not parse are reported as a single fatal issue.
func (l *Loader) Inspect(ctx context.Context, path string) (*repair.Report, error) {
	data, err := l.store.Read(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", path, err)
	}
	return repair.ValidateBytes(data), nil
}

// Save writes the persistable part of st to path, in YAML when the path
// ends in .yaml or .yml and JSON otherwise.
func (l *Loader) Save(ctx context.Context, path string, st editor.State) error {
	f := script.FormatForPath(path)
	data, err := script.Encode(editor.Document(st), f)
	if err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return l.write(ctx, path, f, data)
}

// SaveLegacy writes st in the legacy flat format for older playback
// engines. Step grouping is lost.
func (l *Loader) SaveLegacy(ctx context.Context, path string, st editor.State) error {
	f := script.FormatForPath(path)
	data, err := migrate.Backward(editor.Document(st)).Encode(f)
	if err != nil {
		return fmt.Errorf("save legacy %s: %w", path, err)
	}
	return l.write(ctx, path, f, data)
}

func (l *Loader) write(ctx context.Context, path string, f script.Format, data []byte) error {
	if err := l.store.Write(ctx, path, data); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	l.emit(l.audit.EmitSaved(path, string(f), len(data)))
	l.logger.Info("script saved", zap.String("path", path), zap.Int("bytes", len(data)))
	return nil
}

// emit logs audit failures; they never fail a load or save.
func (l *Loader) emit(err error) {
	if err != nil {
		l.logger.Warn("audit write failed", zap.Error(err))
	}
}

func issueStrings(issues []*repair.Issue) []string {
	out := make([]string, 0, len(issues))
	for _, is := range issues {
		out = append(out, is.Error())
	}
	return out
}

func notice(r *Result) string {
	var b strings.Builder
	switch {
	case r.Outcome == repair.OutcomeUnrecoverable:
		b.WriteString("This script could not be loaded and was replaced with an empty script.")
		for _, e := range r.Errors {
			b.WriteString("\n  - " + e)
		}
	case r.Format == rawdoc.Legacy:
		b.WriteString("This script was converted from the legacy format.")
		for _, m := range r.Mismatches {
			b.WriteString("\n  - " + m)
		}
	case r.Outcome == repair.OutcomeRepaired:
		b.WriteString("This script was automatically repaired.")
		for _, rep := range r.Repairs {
			b.WriteString("\n  - " + rep)
		}
	}
	return b.String()
}
