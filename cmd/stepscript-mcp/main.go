// Package main provides the stepscript-mcp binary, an MCP server over stdio
// for AI agents.
package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ormasoftchile/stepscript/pkg/config"
	"github.com/ormasoftchile/stepscript/pkg/loader"
	smcp "github.com/ormasoftchile/stepscript/pkg/mcp"
	"github.com/ormasoftchile/stepscript/pkg/observability"
)

var version = "dev"

func main() {
	var cfgFile string
	root := &cobra.Command{
		Use:           "stepscript-mcp",
		Short:         "Serve stepscript tools to AI agents over MCP stdio",
		Version:       version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cfgFile)
		},
	}
	root.Flags().StringVar(&cfgFile, "config", "", "Config file (default: ./stepscript.yaml or ~/.config/stepscript/stepscript.yaml)")

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func serve(cfgFile string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	// stdout carries the protocol; logs go to stderr and the optional file.
	logger := observability.NewLogger(cfg.Logger)
	defer observability.Sync(logger)

	c, err := loader.NewComponents(cfg, logger)
	if err != nil {
		return err
	}
	defer c.Shutdown()

	s := smcp.NewServer(version, c.Loader)
	logger.Info("serving MCP over stdio", zap.String("version", version))
	if err := server.ServeStdio(s); err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}
