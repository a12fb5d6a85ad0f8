// Package mcp exposes stepscript validation, repair and migration as MCP
// tools so agents can inspect and fix test scripts.
package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ormasoftchile/stepscript/pkg/loader"
)

// NewServer creates an MCP server whose tools read and write through l.
func NewServer(version string, l *loader.Loader) *server.MCPServer {
	h := &Handlers{Loader: l}
	s := server.NewMCPServer(
		"stepscript",
		version,
		server.WithToolCapabilities(true),
	)

	s.AddTool(
		mcp.NewTool("stepscript/validate",
			mcp.WithDescription("Validate a test script and list every structural, schema and domain issue"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Path to the script (JSON or YAML)")),
		),
		h.HandleValidate,
	)

	s.AddTool(
		mcp.NewTool("stepscript/repair",
			mcp.WithDescription("Repair a damaged or legacy test script; writes back only when asked"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Path to the script")),
			mcp.WithBoolean("write", mcp.Description("Write the repaired script back to path")),
		),
		h.HandleRepair,
	)

	s.AddTool(
		mcp.NewTool("stepscript/migrate",
			mcp.WithDescription("Convert a legacy flat recording into a step-based script"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Path to the legacy script")),
			mcp.WithString("out", mcp.Description("Destination path; the converted document is returned when omitted")),
		),
		h.HandleMigrate,
	)

	s.AddTool(
		mcp.NewTool("stepscript/steps",
			mcp.WithDescription("List steps in execution order with their actions, plus orphaned actions"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Path to the script")),
		),
		h.HandleSteps,
	)

	s.AddTool(
		mcp.NewTool("stepscript/reorder",
			mcp.WithDescription("Move a step to a new 1-based position and save the script"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Path to the script")),
			mcp.WithString("step_id", mcp.Required(), mcp.Description("Id of the step to move")),
			mcp.WithNumber("order", mcp.Required(), mcp.Description("New 1-based position")),
		),
		h.HandleReorder,
	)

	s.AddTool(
		mcp.NewTool("stepscript/schema",
			mcp.WithDescription("Export the JSON Schema of step-based scripts"),
		),
		h.HandleSchema,
	)

	return s
}
