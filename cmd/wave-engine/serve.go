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
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/gitops-incubation/wave-engine/internal/audit"
	"github.com/gitops-incubation/wave-engine/internal/engine"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	var snapshotRef string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the engine as a long-lived process",
		Long: `Runs one initial reconciliation pass, then keeps the drift pass,
autoscaler loop and metrics endpoint running until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Long-lived runs buffer the audit trail so a slow log sink
			// never stalls a pass.
			sink := audit.NewBuffered(opts.logSink(), opts.cfg.AuditBuffer)
			eng, err := opts.newEngine(sink)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ctx = ctrl.LoggerInto(ctx, opts.logger)

			drained := make(chan struct{})
			go func() {
				defer close(drained)
				sink.Run(ctx)
			}()
			defer func() { <-drained }()

			report, err := eng.RunPass(ctx, engine.PassOptions{SnapshotRef: snapshotRef})
			if report != nil {
				printReport(cmd.OutOrStdout(), report)
			}
			if err != nil {
				return err
			}

			opts.logger.Info("engine started", "metricsAddr", opts.cfg.MetricsAddr)
			if err := eng.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			opts.logger.Info("engine stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&snapshotRef, "snapshot", "", "snapshot ref to roll out (default: the store's default)")
	return cmd
}
