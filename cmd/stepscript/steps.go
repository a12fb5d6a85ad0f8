package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ormasoftchile/stepscript/pkg/editor"
	"github.com/ormasoftchile/stepscript/pkg/rawdoc"
	"github.com/ormasoftchile/stepscript/pkg/repair"
	"github.com/ormasoftchile/stepscript/pkg/steps"
)

func newStepsCmd(withApp appRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "steps [script]",
		Short: "List steps in execution order with their actions",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			res, err := a.loader.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if res.Notice != "" {
				fmt.Fprintln(cmd.ErrOrStderr(), res.Notice)
			}
			fmt.Fprintf(w, "%s (%d step(s), %d action(s))\n", res.Script.Meta.Title, len(res.State.Steps), len(res.State.Pool))
			for _, ss := range res.State.Steps {
				st := ss.Step
				flag := ""
				if st.ContinueOnFailure {
					flag = " [continue on failure]"
				}
				fmt.Fprintf(w, "%3d. %s  %s (%s)%s\n", st.Order, st.ID, st.Description, ss.Indicator, flag)
				if st.ExpectedResult != "" {
					fmt.Fprintf(w, "       expect: %s\n", st.ExpectedResult)
				}
				for _, act := range steps.FilterForStep(&st, res.State.Pool) {
					fmt.Fprintf(w, "       - %-14s %-16s @%gms\n", act.ID, act.Type(), act.Timestamp)
				}
			}
			return nil
		}),
	}
}

func newReorderCmd(withApp appRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "reorder [script] [step-id] [order]",
		Short: "Move a step to a new 1-based position",
		Args:  cobra.ExactArgs(3),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			path, id := args[0], args[1]
			order, err := strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("order %q is not an integer", args[2])
			}
			res, err := a.loader.Load(cmd.Context(), path)
			if err != nil {
				return err
			}
			if res.Outcome == repair.OutcomeUnrecoverable {
				return fmt.Errorf("%s: %s", path, res.Notice)
			}
			st, err := editor.MoveStep(res.State, id, order)
			if err != nil {
				return err
			}
			if err := a.loader.Save(cmd.Context(), path, st); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ %s moved to position %d: %v\n", id, order, steps.ExecutionSequence(editor.Document(st).Steps))
			return nil
		}),
	}
}

func newOrphansCmd(withApp appRunner) *cobra.Command {
	var prune bool
	cmd := &cobra.Command{
		Use:   "orphans [script]",
		Short: "List pool actions that no step references",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			path := args[0]
			res, err := a.loader.Load(cmd.Context(), path)
			if err != nil {
				return err
			}
			doc := editor.Document(res.State)
			orphans := steps.Orphaned(doc.ActionPool, doc.Steps)
			w := cmd.OutOrStdout()
			if len(orphans) == 0 {
				fmt.Fprintf(w, "✓ %s has no orphaned actions\n", path)
				return nil
			}
			for _, act := range orphans {
				fmt.Fprintf(w, "%-14s %-16s @%gms\n", act.ID, act.Type(), act.Timestamp)
			}
			if !prune {
				return nil
			}
			st := res.State
			for _, act := range orphans {
				delete(st.Pool, act.ID)
			}
			if err := a.loader.Save(cmd.Context(), path, st); err != nil {
				return err
			}
			fmt.Fprintf(w, "✓ removed %d orphaned action(s)\n", len(orphans))
			return nil
		}),
	}
	cmd.Flags().BoolVar(&prune, "prune", false, "Remove orphaned actions and save")
	return cmd
}

func newPurityCmd(withApp appRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "purity [script]",
		Short: "Report runtime or unknown fields persisted in a script",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			path := args[0]
			data, err := a.store.Read(cmd.Context(), path)
			if err != nil {
				return err
			}
			v, err := rawdoc.Parse(data)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			issues := editor.PurityCheck(v)
			w := cmd.OutOrStdout()
			if len(issues) == 0 {
				fmt.Fprintf(w, "✓ %s holds only persisted data\n", path)
				return nil
			}
			for _, is := range issues {
				fmt.Fprintln(w, is)
			}
			return fmt.Errorf("%s has %d non-persistent field(s); run 'stepscript repair %s'", path, len(issues), path)
		}),
	}
}
