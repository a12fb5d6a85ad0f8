package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ormasoftchile/stepscript/pkg/audit"
	"github.com/ormasoftchile/stepscript/pkg/script"
)

func newSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Export the JSON Schema of step-based scripts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := script.GenerateJSONSchema()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(append(data, '\n'))
			return err
		},
	}
}

func newAuditCmd() *cobra.Command {
	auditCmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the load/save audit trail",
	}
	auditCmd.AddCommand(&cobra.Command{
		Use:   "verify [audit.jsonl]",
		Short: "Verify the hash chain of an audit file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := audit.VerifyFile(args[0])
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if !result.Valid {
				fmt.Fprintf(w, "✗ Chain broken at event %d\n", result.BrokenAt)
				if result.Error != "" {
					fmt.Fprintf(w, "  %s\n", result.Error)
				}
				return fmt.Errorf("chain verification failed")
			}
			fmt.Fprintf(w, "✓ Chain integrity: %d events in %d session(s), no breaks\n", result.EventCount, result.Sessions)
			return nil
		},
	})
	return auditCmd
}
