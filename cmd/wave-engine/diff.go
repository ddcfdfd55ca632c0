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

	v1alpha1 "github.com/gitops-incubation/wave-engine/api/v1alpha1"
	"github.com/gitops-incubation/wave-engine/internal/backend"
	"github.com/gitops-incubation/wave-engine/internal/graph"
	"github.com/gitops-incubation/wave-engine/internal/reconciler"
	"github.com/gitops-incubation/wave-engine/internal/store"
)

func newDiffCommand(opts *rootOptions) *cobra.Command {
	var snapshotRef string

	cmd := &cobra.Command{
		Use:   "diff",
		Short: "Show drift between the snapshot and live state",
		Long: `Compares every desired resource against its live document and prints
the structural differences. Server-managed fields and status are ignored.
Owned live resources absent from the snapshot are listed as orphans.`,
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
			inDesired := map[string]bool{}
			drift := 0
			for _, wave := range result.Waves {
				for _, res := range wave.Resources {
					inDesired[res.Ref().String()] = true
					live, err := be.Get(ctx, res.Ref())
					switch {
					case errors.Is(err, backend.ErrNotFound):
						drift++
						fmt.Fprintf(out, "missing: %s\n", res.Ref())
					case err != nil:
						return err
					default:
						if d := reconciler.Diff(res, live, ignore); d != "" {
							drift++
							fmt.Fprintf(out, "drifted: %s\n%s\n", res.Ref(), d)
						}
					}
				}
			}

			live, err := be.List(ctx)
			if err != nil {
				return err
			}
			for _, res := range live {
				if res.Annotations[v1alpha1.ManagedByAnnotation] != v1alpha1.ManagedByValue {
					continue
				}
				if inDesired[res.Ref().String()] {
					continue
				}
				drift++
				if res.Retained() {
					fmt.Fprintf(out, "orphan (retained): %s\n", res.Ref())
				} else {
					fmt.Fprintf(out, "orphan: %s\n", res.Ref())
				}
			}

			if drift == 0 {
				fmt.Fprintln(out, "in sync")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&snapshotRef, "snapshot", "", "snapshot ref to diff against (default: the store's default)")
	return cmd
}
