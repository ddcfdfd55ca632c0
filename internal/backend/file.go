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

package backend

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"sigs.k8s.io/yaml"

	v1alpha1 "github.com/gitops-incubation/wave-engine/api/v1alpha1"
)

// FileBackend persists live state as YAML documents under a state
// directory. Local state has no asynchronous readiness, so every applied
// resource reports healthy immediately. It serves standalone and testing
// deployments; a cluster deployment substitutes its own Interface.
type FileBackend struct {
	root string

	mu       sync.Mutex
	healthy  map[string]bool
	watchers map[string][]chan HealthEvent
}

type fileDocument struct {
	Kind     string `json:"kind"`
	Metadata struct {
		Name        string            `json:"name"`
		Namespace   string            `json:"namespace,omitempty"`
		Labels      map[string]string `json:"labels,omitempty"`
		Annotations map[string]string `json:"annotations,omitempty"`
		Generation  int64             `json:"generation,omitempty"`
	} `json:"metadata"`
	Spec map[string]interface{} `json:"spec,omitempty"`
}

// NewFileBackend creates the state directory if needed.
func NewFileBackend(root string) (*FileBackend, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir %s: %w", root, err)
	}
	return &FileBackend{
		root:     root,
		healthy:  make(map[string]bool),
		watchers: make(map[string][]chan HealthEvent),
	}, nil
}

func (b *FileBackend) path(ref v1alpha1.ResourceRef) string {
	name := strings.NewReplacer("/", "_", ":", "_").Replace(ref.String())
	return filepath.Join(b.root, name+".yaml")
}

// Apply implements Interface.
func (b *FileBackend) Apply(_ context.Context, res *v1alpha1.Resource) (AppliedRef, error) {
	var doc fileDocument
	doc.Kind = res.Kind
	doc.Metadata.Name = res.Name
	doc.Metadata.Namespace = res.Namespace
	doc.Metadata.Labels = res.Labels
	doc.Metadata.Annotations = res.Annotations
	doc.Metadata.Generation = res.Generation
	doc.Spec = res.Spec

	raw, err := yaml.Marshal(&doc)
	if err != nil {
		return AppliedRef{}, &ApplyError{Ref: res.Ref(), Err: err}
	}
	if err := os.WriteFile(b.path(res.Ref()), raw, 0o644); err != nil {
		return AppliedRef{}, &ApplyError{Ref: res.Ref(), Err: err}
	}
	b.setHealthy(res.Ref(), true)
	return AppliedRef{Ref: res.Ref(), Generation: res.Generation}, nil
}

// Get implements Interface.
func (b *FileBackend) Get(_ context.Context, ref v1alpha1.ResourceRef) (*v1alpha1.Resource, error) {
	raw, err := os.ReadFile(b.path(ref))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%s: %w", ref, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return decodeFileDocument(raw)
}

// Delete implements Interface.
func (b *FileBackend) Delete(_ context.Context, ref v1alpha1.ResourceRef) error {
	if err := os.Remove(b.path(ref)); err != nil && !os.IsNotExist(err) {
		return err
	}
	b.setHealthy(ref, false)
	return nil
}

// List implements Interface.
func (b *FileBackend) List(_ context.Context) ([]*v1alpha1.Resource, error) {
	entries, err := os.ReadDir(b.root)
	if err != nil {
		return nil, err
	}
	var out []*v1alpha1.Resource
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(b.root, entry.Name()))
		if err != nil {
			return nil, err
		}
		res, err := decodeFileDocument(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", entry.Name(), err)
		}
		out = append(out, res)
	}
	return out, nil
}

// WatchHealth implements Interface.
func (b *FileBackend) WatchHealth(_ context.Context, ref v1alpha1.ResourceRef) (<-chan HealthEvent, func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := ref.String()
	ch := make(chan HealthEvent, 16)
	b.watchers[key] = append(b.watchers[key], ch)
	if healthy, known := b.healthy[key]; known {
		ch <- HealthEvent{Ref: ref, Healthy: healthy, Timestamp: time.Now()}
	}

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		chans := b.watchers[key]
		for i, c := range chans {
			if c == ch {
				b.watchers[key] = append(chans[:i], chans[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, cancel, nil
}

func (b *FileBackend) setHealthy(ref v1alpha1.ResourceRef, healthy bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := ref.String()
	b.healthy[key] = healthy
	event := HealthEvent{Ref: ref, Healthy: healthy, Timestamp: time.Now()}
	for _, ch := range b.watchers[key] {
		select {
		case ch <- event:
		default:
		}
	}
}

func decodeFileDocument(raw []byte) (*v1alpha1.Resource, error) {
	var doc fileDocument
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	if doc.Kind == "" || doc.Metadata.Name == "" {
		return nil, fmt.Errorf("document missing kind or name")
	}
	return &v1alpha1.Resource{
		Kind:        doc.Kind,
		Namespace:   doc.Metadata.Namespace,
		Name:        doc.Metadata.Name,
		Labels:      doc.Metadata.Labels,
		Annotations: doc.Metadata.Annotations,
		Spec:        doc.Spec,
		Generation:  doc.Metadata.Generation,
	}, nil
}

var _ Interface = (*FileBackend)(nil)
