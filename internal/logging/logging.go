/*
Copyright 2025 The Wave Engine Authors

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

// Package logging wires zap into the logr API used across the engine and
// provides the shared verbosity levels.
package logging

import (
	"github.com/go-logr/logr"
	"go.uber.org/zap/zapcore"
	ctrl "sigs.k8s.io/controller-runtime"
	ctrlzap "sigs.k8s.io/controller-runtime/pkg/log/zap"
)

// Verbosity levels used with logger.V(). INFO is the unconditional level.
const (
	INFO  = 0
	DEBUG = 1
	TRACE = 2
)

// NewLogger builds the engine logger. When debug is true, DEBUG-level lines
// are emitted and stack traces are attached to errors.
func NewLogger(debug bool) logr.Logger {
	opts := []ctrlzap.Opts{
		ctrlzap.UseDevMode(debug),
	}
	if debug {
		opts = append(opts, ctrlzap.Level(zapcore.Level(-DEBUG)))
	}
	return ctrlzap.New(opts...)
}

// Setup builds the engine logger and installs it as the process-wide default
// so ctrl.Log and ctrl.LoggerFrom resolve to it.
func Setup(debug bool) logr.Logger {
	logger := NewLogger(debug)
	ctrl.SetLogger(logger)
	return logger
}

// NewTestLogger installs a development-mode logger for tests and returns it.
func NewTestLogger() logr.Logger {
	logger := ctrlzap.New(ctrlzap.UseDevMode(true))
	ctrl.SetLogger(logger)
	return logger
}
