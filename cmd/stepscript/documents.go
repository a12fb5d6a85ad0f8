package main

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ormasoftchile/stepscript/pkg/rawdoc"
	"github.com/ormasoftchile/stepscript/pkg/repair"
)

// --- validate ---

func newValidateCmd(withApp appRunner) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "validate [script]",
		Short: "Validate a script (structural, schema and domain phases)",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			path := args[0]
			report, err := a.loader.Inspect(cmd.Context(), path)
			if err != nil {
				return err
			}
			out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()

			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(map[string]any{
					"format": report.Format.String(),
					"status": report.Status().String(),
					"issues": report.Issues,
				}); err != nil {
					return err
				}
			} else {
				printIssues(errOut, report.Warnings(), report.Errors())
			}

			switch report.Status() {
			case repair.Valid:
				if !asJSON {
					fmt.Fprintf(out, "✓ %s is valid (%s)\n", path, report.Format)
				}
				return nil
			case repair.NeedsRepair:
				return fmt.Errorf("%s needs repair: %d error(s); run 'stepscript repair %s'", path, len(report.Errors()), path)
			default:
				return fmt.Errorf("%s is unrecoverable: %d error(s)", path, len(report.Errors()))
			}
		}),
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output the report as JSON")
	return cmd
}

func printIssues(w io.Writer, warnings, errs []*repair.Issue) {
	for _, is := range warnings {
		fmt.Fprintf(w, "  ⚠ [%s] %s\n", is.Phase, is.Message)
		if is.Path != "" {
			fmt.Fprintf(w, "    at: %s\n", is.Path)
		}
	}
	if len(errs) == 0 {
		return
	}
	fmt.Fprintf(w, "Validation failed: %d error(s)\n\n", len(errs))
	for i, is := range errs {
		fmt.Fprintf(w, "  %d. [%s] %s (%s, %s)\n", i+1, is.Phase, is.Message, is.Kind, is.Class)
		if is.Path != "" {
			fmt.Fprintf(w, "     at: %s\n", is.Path)
		}
	}
}

// --- repair ---

func newRepairCmd(withApp appRunner) *cobra.Command {
	var out string
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "repair [script]",
		Short: "Repair a damaged or legacy script and write the result",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			path := args[0]
			res, err := a.loader.Load(cmd.Context(), path)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if res.Outcome == repair.OutcomeValid && len(res.Repairs) == 0 {
				fmt.Fprintf(w, "✓ %s is valid, nothing to repair\n", path)
				return nil
			}
			fmt.Fprintln(w, res.Notice)
			for _, warn := range res.Warnings {
				fmt.Fprintf(cmd.ErrOrStderr(), "  ⚠ %s\n", warn)
			}
			if dryRun {
				return nil
			}
			dest := out
			if dest == "" {
				dest = path
			}
			if err := a.loader.Save(cmd.Context(), dest, res.State); err != nil {
				return err
			}
			fmt.Fprintf(w, "✓ wrote %s\n", dest)
			if res.Outcome == repair.OutcomeUnrecoverable {
				return fmt.Errorf("%s could not be salvaged; wrote the fallback script", path)
			}
			return nil
		}),
	}
	cmd.Flags().StringVar(&out, "out", "", "Write to this path instead of overwriting the input")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report repairs without writing")
	return cmd
}

// --- migrate ---

func newMigrateCmd(withApp appRunner) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "migrate [legacy-script]",
		Short: "Convert a legacy flat recording into a step-based script",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			path := args[0]
			res, err := a.loader.Load(cmd.Context(), path)
			if err != nil {
				return err
			}
			if res.Format != rawdoc.Legacy {
				return fmt.Errorf("%s is %s, not a legacy script", path, res.Format)
			}
			dest := out
			if dest == "" {
				dest = migratedPath(path)
			}
			if err := a.loader.Save(cmd.Context(), dest, res.State); err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "✓ migrated %d action(s) from %s to %s\n", len(res.Script.ActionPool), path, dest)
			for _, warn := range res.Warnings {
				fmt.Fprintf(cmd.ErrOrStderr(), "  ⚠ %s\n", warn)
			}
			if len(res.Mismatches) > 0 {
				return fmt.Errorf("migration finished with %d mismatch(es)", len(res.Mismatches))
			}
			return nil
		}),
	}
	cmd.Flags().StringVar(&out, "out", "", "Destination (default: <name>.steps<ext>)")
	return cmd
}

// migratedPath turns flows/login.json into flows/login.steps.json.
func migratedPath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + ".steps" + ext
}

// --- legacy ---

func newLegacyCmd(withApp appRunner) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "legacy [script]",
		Short: "Export a script in the legacy flat format for older players",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			res, err := a.loader.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if res.Outcome == repair.OutcomeUnrecoverable {
				return fmt.Errorf("%s: %s", args[0], res.Notice)
			}
			if err := a.loader.SaveLegacy(cmd.Context(), out, res.State); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ wrote %s (%d action(s), step grouping dropped)\n", out, len(res.Script.ActionPool))
			return nil
		}),
	}
	cmd.Flags().StringVar(&out, "out", "", "Destination file")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}
