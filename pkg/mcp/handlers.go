package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ormasoftchile/stepscript/pkg/editor"
	"github.com/ormasoftchile/stepscript/pkg/loader"
	"github.com/ormasoftchile/stepscript/pkg/rawdoc"
	"github.com/ormasoftchile/stepscript/pkg/repair"
	"github.com/ormasoftchile/stepscript/pkg/script"
	"github.com/ormasoftchile/stepscript/pkg/steps"
)

// Handlers implements the stepscript MCP tools.
type Handlers struct {
	Loader *loader.Loader
}

// HandleValidate implements stepscript/validate.
func (h *Handlers) HandleValidate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, res := requirePath(req)
	if res != nil {
		return res, nil
	}
	report, err := h.Loader.Inspect(ctx, path)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	issues := report.Issues
	if issues == nil {
		issues = []*repair.Issue{}
	}
	return jsonResult(map[string]any{
		"path":   path,
		"format": report.Format.String(),
		"status": report.Status().String(),
		"issues": issues,
	}, report.Status() != repair.Valid)
}

// HandleRepair implements stepscript/repair.
func (h *Handlers) HandleRepair(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, res := requirePath(req)
	if res != nil {
		return res, nil
	}
	write, _ := req.GetArguments()["write"].(bool)

	loaded, err := h.Loader.Load(ctx, path)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	written := false
	if write && loaded.Outcome == repair.OutcomeRepaired {
		if err := h.Loader.Save(ctx, path, loaded.State); err != nil {
			return errorResult(err.Error()), nil
		}
		written = true
	}
	return jsonResult(map[string]any{
		"path":       path,
		"format":     loaded.Format.String(),
		"outcome":    loaded.Outcome.String(),
		"notice":     loaded.Notice,
		"repairs":    nonNil(loaded.Repairs),
		"warnings":   nonNil(loaded.Warnings),
		"errors":     nonNil(loaded.Errors),
		"mismatches": nonNil(loaded.Mismatches),
		"written":    written,
	}, loaded.Outcome == repair.OutcomeUnrecoverable)
}

// HandleMigrate implements stepscript/migrate.
func (h *Handlers) HandleMigrate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, res := requirePath(req)
	if res != nil {
		return res, nil
	}
	out, _ := req.GetArguments()["out"].(string)

	loaded, err := h.Loader.Load(ctx, path)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	if loaded.Format != rawdoc.Legacy {
		return errorResult(fmt.Sprintf("%s is %s, not a legacy script", path, loaded.Format)), nil
	}
	if out == "" {
		data, err := script.Encode(editor.Document(loaded.State), script.FormatJSON)
		if err != nil {
			return errorResult(err.Error()), nil
		}
		return textResult(string(data)), nil
	}
	if err := h.Loader.Save(ctx, out, loaded.State); err != nil {
		return errorResult(err.Error()), nil
	}
	return jsonResult(map[string]any{
		"path":       out,
		"actions":    len(loaded.Script.ActionPool),
		"warnings":   nonNil(loaded.Warnings),
		"mismatches": nonNil(loaded.Mismatches),
	}, len(loaded.Mismatches) > 0)
}

type stepView struct {
	Order             int      `json:"order"`
	ID                string   `json:"id"`
	Description       string   `json:"description"`
	ExpectedResult    string   `json:"expected_result"`
	Indicator         string   `json:"indicator"`
	ContinueOnFailure bool     `json:"continue_on_failure"`
	Actions           []string `json:"actions"`
}

// HandleSteps implements stepscript/steps.
func (h *Handlers) HandleSteps(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, res := requirePath(req)
	if res != nil {
		return res, nil
	}
	loaded, err := h.Loader.Load(ctx, path)
	if err != nil {
		return errorResult(err.Error()), nil
	}

	views := make([]stepView, 0, len(loaded.State.Steps))
	for _, ss := range loaded.State.Steps {
		st := ss.Step
		v := stepView{
			Order:             st.Order,
			ID:                st.ID,
			Description:       st.Description,
			ExpectedResult:    st.ExpectedResult,
			Indicator:         string(ss.Indicator),
			ContinueOnFailure: st.ContinueOnFailure,
			Actions:           []string{},
		}
		for _, a := range steps.FilterForStep(&st, loaded.State.Pool) {
			v.Actions = append(v.Actions, fmt.Sprintf("%s %s @%gms", a.ID, a.Type(), a.Timestamp))
		}
		views = append(views, v)
	}
	orphans := []string{}
	for _, a := range steps.Orphaned(loaded.State.Pool, editor.Document(loaded.State).Steps) {
		orphans = append(orphans, a.ID)
	}
	return jsonResult(map[string]any{
		"title":   loaded.Script.Meta.Title,
		"outcome": loaded.Outcome.String(),
		"steps":   views,
		"orphans": orphans,
	}, false)
}

// HandleReorder implements stepscript/reorder.
func (h *Handlers) HandleReorder(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, res := requirePath(req)
	if res != nil {
		return res, nil
	}
	args := req.GetArguments()
	id, _ := args["step_id"].(string)
	if id == "" {
		return errorResult("step_id argument is required"), nil
	}
	order, ok := args["order"].(float64)
	if !ok || order != math.Trunc(order) {
		return errorResult("order argument must be an integer"), nil
	}

	loaded, err := h.Loader.Load(ctx, path)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	if loaded.Outcome == repair.OutcomeUnrecoverable {
		return errorResult(loaded.Notice), nil
	}
	st, err := editor.MoveStep(loaded.State, id, int(order))
	if err != nil {
		return errorResult(err.Error()), nil
	}
	if err := h.Loader.Save(ctx, path, st); err != nil {
		return errorResult(err.Error()), nil
	}
	return jsonResult(map[string]any{
		"path":     path,
		"sequence": steps.ExecutionSequence(editor.Document(st).Steps),
	}, false)
}

// HandleSchema implements stepscript/schema.
func (h *Handlers) HandleSchema(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	data, err := script.GenerateJSONSchema()
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return textResult(string(data)), nil
}

func requirePath(req mcp.CallToolRequest) (string, *mcp.CallToolResult) {
	path, _ := req.GetArguments()["path"].(string)
	if path == "" {
		return "", errorResult("path argument is required")
	}
	return path, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func jsonResult(v any, isErr bool) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(string(data))},
		IsError: isErr,
	}, nil
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(text),
		},
	}
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(msg),
		},
		IsError: true,
	}
}
