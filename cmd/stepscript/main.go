// Package main provides the stepscript CLI: validate, repair and migrate
// recorded test scripts, and edit their step structure.
//
//	stepscript validate <script>
//	stepscript repair <script> [--out file] [--dry-run]
//	stepscript migrate <legacy> [--out file]
//	stepscript legacy <script> --out file
//	stepscript steps <script>
//	stepscript reorder <script> <step-id> <order>
//	stepscript orphans <script>
//	stepscript purity <script>
//	stepscript schema
//	stepscript audit verify <audit.jsonl>
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ormasoftchile/stepscript/pkg/config"
	"github.com/ormasoftchile/stepscript/pkg/loader"
	"github.com/ormasoftchile/stepscript/pkg/observability"
	"github.com/ormasoftchile/stepscript/pkg/storage"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// app holds what every document command needs. It is built once per
// invocation from the configuration.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	store  storage.Store
	loader *loader.Loader

	components *loader.Components
}

func newApp(cfgFile string) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	logger := observability.NewLogger(cfg.Logger)
	c, err := loader.NewComponents(cfg, logger)
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, logger: logger, store: c.Store, loader: c.Loader, components: c}, nil
}

func (a *app) Close() {
	a.components.Shutdown()
	if err := observability.Sync(a.logger); err != nil {
		fmt.Fprintln(os.Stderr, "Error: failed to sync logger:", err)
	}
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	root := &cobra.Command{
		Use:          "stepscript",
		Short:        "Validate, repair and migrate step-based test scripts",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: ./stepscript.yaml or ~/.config/stepscript/stepscript.yaml)")

	// withApp wraps a command body with app construction and teardown.
	var withApp appRunner = func(run func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cfgFile)
			if err != nil {
				return err
			}
			defer a.Close()
			return run(cmd, a, args)
		}
	}

	root.AddCommand(
		newValidateCmd(withApp),
		newRepairCmd(withApp),
		newMigrateCmd(withApp),
		newLegacyCmd(withApp),
		newStepsCmd(withApp),
		newReorderCmd(withApp),
		newOrphansCmd(withApp),
		newPurityCmd(withApp),
		newSchemaCmd(),
		newAuditCmd(),
		newVersionCmd(),
	)
	return root
}

type appRunner func(run func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "stepscript %s (%s)\n", version, commit)
		},
	}
}
