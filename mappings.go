// MIT License
//
// Copyright (c) 2025 kubernetes-awscreds
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package awscreds

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/kubernetes-awscreds/awscreds/filewatch"
)

// RoleMapping associates a Kubernetes service account with an AWS role.
type RoleMapping struct {
	ServiceAccount string `yaml:"service_account" json:"serviceAccount"`
	Namespace      string `yaml:"namespace" json:"namespace"`
	AWSRole        string `yaml:"aws_role" json:"awsRole"`
}

// Mappings is an immutable snapshot of the role mapping table.
type Mappings struct {
	entries []RoleMapping
}

type mappingsFile struct {
	Mappings *[]RoleMapping `yaml:"mappings"`
}

// ParseMappings parses a role mapping table from YAML.
func ParseMappings(b []byte) (*Mappings, error) {
	var f mappingsFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMappingsInvalid, err)
	}
	if f.Mappings == nil {
		return nil, fmt.Errorf("%w: missing 'mappings' key", ErrMappingsInvalid)
	}
	for i, m := range *f.Mappings {
		if m.ServiceAccount == "" || m.Namespace == "" || m.AWSRole == "" {
			return nil, fmt.Errorf("%w: mapping %d must set service_account, namespace and aws_role",
				ErrMappingsInvalid, i)
		}
	}
	return &Mappings{entries: *f.Mappings}, nil
}

// LoadMappings reads and parses a role mapping table from a file.
func LoadMappings(path string) (*Mappings, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read '%s': %w", ErrMappingsInvalid, path, err)
	}
	m, err := ParseMappings(b)
	if err != nil {
		return nil, fmt.Errorf("failed to parse '%s': %w", path, err)
	}
	return m, nil
}

// Lookup returns the role of the first mapping matching namespace and
// serviceAccount exactly.
func (m *Mappings) Lookup(namespace, serviceAccount string) (string, bool) {
	if m == nil {
		return "", false
	}
	for _, e := range m.entries {
		if e.Namespace == namespace && e.ServiceAccount == serviceAccount {
			return e.AWSRole, true
		}
	}
	return "", false
}

// Len returns the number of mappings in the snapshot.
func (m *Mappings) Len() int {
	if m == nil {
		return 0
	}
	return len(m.entries)
}

// Entries returns a copy of the mappings in the snapshot.
func (m *Mappings) Entries() []RoleMapping {
	if m == nil {
		return nil
	}
	return append([]RoleMapping(nil), m.entries...)
}

// MappingStore serves lookups against the latest successfully loaded
// mapping table of a file.
type MappingStore struct {
	path     string
	current  atomic.Pointer[Mappings]
	onReload func(error)
}

// MappingStoreOption is a function that sets some option on the store.
type MappingStoreOption func(*MappingStore)

// WithReloadHook sets a function called with the outcome of every reload
// triggered by Watch.
func WithReloadHook(f func(error)) MappingStoreOption {
	return func(s *MappingStore) {
		s.onReload = f
	}
}

// NewMappingStore loads the mapping table at path. The store is not
// created if the initial load fails.
func NewMappingStore(path string, opts ...MappingStoreOption) (*MappingStore, error) {
	s := &MappingStore{path: path}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Lookup returns the role mapped to the service account in the current
// snapshot.
func (s *MappingStore) Lookup(namespace, serviceAccount string) (string, bool) {
	return s.current.Load().Lookup(namespace, serviceAccount)
}

// Snapshot returns the current snapshot.
func (s *MappingStore) Snapshot() *Mappings {
	return s.current.Load()
}

// Path returns the path of the backing file.
func (s *MappingStore) Path() string {
	return s.path
}

// Reload reads the backing file and swaps in the new snapshot. On failure
// the current snapshot is kept.
func (s *MappingStore) Reload() error {
	m, err := LoadMappings(s.path)
	if err != nil {
		return err
	}
	s.current.Store(m)
	return nil
}

// Watch reloads the store whenever the backing file changes, until ctx
// is canceled.
func (s *MappingStore) Watch(ctx context.Context, logger logrus.FieldLogger) {
	logger = logger.WithField("source", "mappings")
	filewatch.Run(ctx, s.path, func() error {
		err := s.Reload()
		if s.onReload != nil {
			s.onReload(err)
		}
		if err == nil {
			logger.WithField("mappings", s.Snapshot().Len()).Info("role mappings reloaded")
		}
		return err
	}, logger)
}
