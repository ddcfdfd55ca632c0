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

// Package audit records what the engine decided and why. Emission is
// fire-and-forget: a slow or full sink drops records and counts the drops
// instead of ever blocking a reconciliation pass.
package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"

	v1alpha1 "github.com/gitops-incubation/wave-engine/api/v1alpha1"
	"github.com/gitops-incubation/wave-engine/internal/metrics"
)

// EventKind classifies an audit record.
type EventKind string

const (
	EventViolation EventKind = "violation"
	EventSkip      EventKind = "skip"
	EventApply     EventKind = "apply"
	EventPrune     EventKind = "prune"
	EventWave      EventKind = "wave"
	EventPass      EventKind = "pass"
	EventScale     EventKind = "scale"
)

// Record is one audit entry.
type Record struct {
	Time     time.Time
	PassID   string
	Kind     EventKind
	Resource v1alpha1.ResourceRef
	Message  string
}

// Sink consumes audit records. Emit must never block.
type Sink interface {
	Emit(rec Record)
}

// LogSink writes records to a structured logger.
type LogSink struct {
	Logger logr.Logger
}

func (s *LogSink) Emit(rec Record) {
	s.Logger.Info("audit",
		"kind", string(rec.Kind),
		"pass", rec.PassID,
		"resource", rec.Resource.String(),
		"message", rec.Message)
}

// Memory retains records in order, for tests and the status CLI.
type Memory struct {
	mu      sync.Mutex
	records []Record
}

func (s *Memory) Emit(rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
}

// Records returns a copy of everything emitted so far.
func (s *Memory) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

// Buffered decouples emitters from a possibly slow delegate. Records are
// queued on a bounded channel; when the queue is full the record is dropped
// and counted.
type Buffered struct {
	delegate Sink
	ch       chan Record
	drops    atomic.Int64
}

// NewBuffered wraps the delegate with a queue of the given size. Run must
// be started for records to drain.
func NewBuffered(delegate Sink, size int) *Buffered {
	if size <= 0 {
		size = 256
	}
	return &Buffered{delegate: delegate, ch: make(chan Record, size)}
}

// Emit queues the record or drops it if the buffer is full.
func (b *Buffered) Emit(rec Record) {
	select {
	case b.ch <- rec:
	default:
		b.drops.Add(1)
		metrics.AuditDropsTotal.Inc()
	}
}

// Drops returns how many records were lost to backpressure.
func (b *Buffered) Drops() int64 {
	return b.drops.Load()
}

// Run drains the queue into the delegate until the context is cancelled,
// then flushes whatever is already queued.
func (b *Buffered) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case rec := <-b.ch:
					b.delegate.Emit(rec)
				default:
					return
				}
			}
		case rec := <-b.ch:
			b.delegate.Emit(rec)
		}
	}
}
