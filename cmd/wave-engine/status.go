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
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gitops-incubation/wave-engine/internal/backend"
	"github.com/gitops-incubation/wave-engine/internal/graph"
	"github.com/gitops-incubation/wave-engine/internal/reconciler"
	"github.com/gitops-incubation/wave-engine/internal/store"
)

func newStatusCommand(opts *rootOptions) *cobra.Command {
	var (
		snapshotRef string
		waveFilter  int
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show per-wave sync state of the snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			desired, err := store.NewFileStore(opts.cfg.SnapshotDir).ListDesiredResources(ctx, snapshotRef)
			if err != nil {
				return err
			}
			result, err := graph.Build(desired)
			if err != nil {
				return err
			}
			be, err := backend.NewFileBackend(opts.stateDir)
			if err != nil {
				return err
			}

			ignore := reconciler.DefaultIgnoreRules()
			for _, wave := range result.Waves {
				if waveFilter >= 0 && wave.Priority != waveFilter {
					continue
				}
				fmt.Fprintf(out, "wave %d:\n", wave.Priority)
				for _, res := range wave.Resources {
					state := "synced"
					live, err := be.Get(ctx, res.Ref())
					switch {
					case errors.Is(err, backend.ErrNotFound):
						state = "missing"
					case err != nil:
						return err
					case reconciler.Diff(res, live, ignore) != "":
						state = "drifted"
					}
					fmt.Fprintf(out, "  %-8s %s\n", state, res.Ref())
				}
			}
			for ref, reason := range result.Blocked {
				fmt.Fprintf(out, "blocked: %s - %s\n", ref, reason)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&snapshotRef, "snapshot", "", "snapshot ref to inspect (default: the store's default)")
	cmd.Flags().IntVar(&waveFilter, "wave", -1, "restrict output to one wave priority")
	return cmd
}
