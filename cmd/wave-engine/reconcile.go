/*
Copyright 2025 The Wave Engine Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/gitops-incubation/wave-engine/internal/engine"
)

func newReconcileCommand(opts *rootOptions) *cobra.Command {
	var (
		snapshotRef string
		dryRun      bool
	)

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Run one full reconciliation pass",
		Long: `Loads the desired-state snapshot, admits and applies it wave by wave,
then runs the drift pass. With --dry-run the whole pass is evaluated
against a shadow copy of live state and nothing is written.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := opts.newEngine(opts.logSink())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ctx = ctrl.LoggerInto(ctx, opts.logger)

			report, err := eng.RunPass(ctx, engine.PassOptions{
				SnapshotRef: snapshotRef,
				DryRun:      dryRun,
			})
			if report != nil {
				printReport(cmd.OutOrStdout(), report)
			}
			return err
		},
	}

	cmd.Flags().StringVar(&snapshotRef, "snapshot", "", "snapshot ref to roll out (default: the store's default)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "evaluate against a shadow copy, write nothing")
	return cmd
}

func printReport(out io.Writer, report *engine.PassReport) {
	fmt.Fprintf(out, "pass %s: %s", report.ID, report.Outcome)
	if report.DryRun {
		fmt.Fprint(out, " (dry run)")
	}
	fmt.Fprintln(out)

	for _, wave := range report.Waves {
		fmt.Fprintf(out, "  wave %d: %s (%d resources)", wave.Priority, wave.State, len(wave.Resources))
		if wave.Reason != "" {
			fmt.Fprintf(out, " - %s", wave.Reason)
		}
		fmt.Fprintln(out)
	}
	for _, v := range report.Violations {
		fmt.Fprintf(out, "  violation: %s\n", v)
	}
	for _, msg := range report.BootstrapErrors {
		fmt.Fprintf(out, "  policy skipped: %s\n", msg)
	}
	for _, msg := range report.ConfigErrors {
		fmt.Fprintf(out, "  config skipped: %s\n", msg)
	}
	for ref, reason := range report.Blocked {
		fmt.Fprintf(out, "  blocked: %s - %s\n", ref, reason)
	}
	if rec := report.Reconcile; rec != nil {
		fmt.Fprintf(out, "  drift: %d corrected, %d pruned, %d retained, %d deferred\n",
			len(rec.Applied), len(rec.Pruned), len(rec.Retained), len(rec.Deferred))
	}
}
