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
	"os"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/gitops-incubation/wave-engine/internal/audit"
	"github.com/gitops-incubation/wave-engine/internal/backend"
	"github.com/gitops-incubation/wave-engine/internal/config"
	"github.com/gitops-incubation/wave-engine/internal/engine"
	"github.com/gitops-incubation/wave-engine/internal/logging"
	"github.com/gitops-incubation/wave-engine/internal/scheduler"
	"github.com/gitops-incubation/wave-engine/internal/store"
)

// Exit codes. Rollout failures are distinguished from configuration and
// usage errors so CI pipelines can branch on the result.
const (
	exitOK      = 0
	exitRollout = 1
	exitConfig  = 2
)

type rootOptions struct {
	configPath string
	stateDir   string
	debug      bool

	cfg    config.EngineConfig
	logger logr.Logger
}

// Execute runs the CLI and exits the process with the matching code.
func Execute() {
	if err := New().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		if errors.Is(err, scheduler.ErrWaveFailed) || errors.Is(err, scheduler.ErrWaveTimedOut) {
			os.Exit(exitRollout)
		}
		os.Exit(exitConfig)
	}
	os.Exit(exitOK)
}

// New builds the root command and its subcommand tree.
func New() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "wave-engine",
		Short:         "Declarative reconciliation and admission engine",
		Long: `wave-engine rolls out a desired-state snapshot in priority-ordered
waves, gates every write through admission policy, and keeps live state
converged afterwards.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			if opts.debug {
				cfg.Debug = true
			}
			opts.cfg = cfg
			opts.logger = logging.Setup(cfg.Debug)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "path to the engine config file")
	flags.StringVar(&opts.stateDir, "state", "./state", "directory holding live state")
	flags.BoolVar(&opts.debug, "debug", false, "raise log verbosity")

	cmd.AddCommand(
		newReconcileCommand(opts),
		newDiffCommand(opts),
		newStatusCommand(opts),
		newServeCommand(opts),
	)
	return cmd
}

// newEngine assembles the engine over the file store and file backend the
// CLI operates on.
func (o *rootOptions) newEngine(sink audit.Sink) (*engine.Engine, error) {
	be, err := backend.NewFileBackend(o.stateDir)
	if err != nil {
		return nil, err
	}
	return engine.New(engine.Options{
		Store:   store.NewFileStore(o.cfg.SnapshotDir),
		Backend: be,
		Audit:   sink,
		Config:  o.cfg,
	})
}

func (o *rootOptions) logSink() *audit.LogSink {
	return &audit.LogSink{Logger: o.logger.WithName("audit")}
}
