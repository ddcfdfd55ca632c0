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

// Package store reads desired-state snapshots from a version-controlled
// document tree. The engine only ever reads from the store; it never writes
// back.
package store

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"sigs.k8s.io/yaml"

	v1alpha1 "github.com/gitops-incubation/wave-engine/api/v1alpha1"
)

// Interface lists the desired resources for a snapshot reference.
type Interface interface {
	ListDesiredResources(ctx context.Context, snapshotRef string) ([]*v1alpha1.Resource, error)
}

// document is the on-disk shape of one declarative resource.
type document struct {
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

// FileStore reads snapshots from subdirectories of a root document tree.
// The snapshotRef is a path relative to the root; an empty ref means the
// root itself.
type FileStore struct {
	Root string
}

// NewFileStore returns a store over the given document tree root.
func NewFileStore(root string) *FileStore {
	return &FileStore{Root: root}
}

// ListDesiredResources implements Interface. Files are read in sorted path
// order so repeated listings of the same snapshot are deterministic.
func (s *FileStore) ListDesiredResources(ctx context.Context, snapshotRef string) ([]*v1alpha1.Resource, error) {
	dir := s.Root
	if snapshotRef != "" {
		dir = filepath.Join(s.Root, filepath.Clean(snapshotRef))
	}

	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := filepath.Ext(path)
		if ext == ".yaml" || ext == ".yml" {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing snapshot %q: %w", snapshotRef, err)
	}
	sort.Strings(paths)

	var resources []*v1alpha1.Resource
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		docs, err := parseMultiDoc(raw)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		resources = append(resources, docs...)
	}
	return resources, nil
}

// parseMultiDoc splits a YAML stream on document separators and converts each
// document into a Resource.
func parseMultiDoc(raw []byte) ([]*v1alpha1.Resource, error) {
	var resources []*v1alpha1.Resource
	for _, chunk := range strings.Split(string(raw), "\n---") {
		if strings.TrimSpace(chunk) == "" {
			continue
		}
		var doc document
		if err := yaml.Unmarshal([]byte(chunk), &doc); err != nil {
			return nil, err
		}
		res, err := fromDocument(&doc)
		if err != nil {
			return nil, err
		}
		resources = append(resources, res)
	}
	return resources, nil
}

func fromDocument(doc *document) (*v1alpha1.Resource, error) {
	if doc.Kind == "" || doc.Metadata.Name == "" {
		return nil, fmt.Errorf("document missing kind or metadata.name")
	}
	res := &v1alpha1.Resource{
		Kind:        doc.Kind,
		Namespace:   doc.Metadata.Namespace,
		Name:        doc.Metadata.Name,
		Labels:      doc.Metadata.Labels,
		Annotations: doc.Metadata.Annotations,
		Spec:        doc.Spec,
		Generation:  doc.Metadata.Generation,
	}
	if res.Generation == 0 {
		res.Generation = 1
	}
	if raw, ok := res.Annotations[v1alpha1.PriorityAnnotation]; ok {
		p, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("resource %s: invalid priority %q: %w", res.Ref(), raw, err)
		}
		if p < 0 {
			return nil, fmt.Errorf("resource %s: priority must be non-negative, got %d", res.Ref(), p)
		}
		res.Priority = p
	}
	return res, nil
}
