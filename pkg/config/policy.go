package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/chronicle/pkg/audit"
)

// PolicyFile lists entity types to audit with explicit policies.
//
//	entities:
//	  - name: Customer
//	    record_deletes: false
//	  - name: github.com/acme/billing.Invoice
//
// Omitted record_* flags default to true.
type PolicyFile struct {
	Entities []EntityPolicy `yaml:"entities"`
}

// EntityPolicy is one entity entry of a policy file
type EntityPolicy struct {
	Name          string `yaml:"name"`
	RecordCreates *bool  `yaml:"record_creates"`
	RecordUpdates *bool  `yaml:"record_updates"`
	RecordDeletes *bool  `yaml:"record_deletes"`
}

// Policy returns the audit policy for the entry
func (e EntityPolicy) Policy() audit.Policy {
	return audit.Policy{
		RecordCreates: flag(e.RecordCreates),
		RecordUpdates: flag(e.RecordUpdates),
		RecordDeletes: flag(e.RecordDeletes),
	}
}

func flag(b *bool) bool {
	return b == nil || *b
}

// LoadPolicyFile reads and validates a YAML policy file
func LoadPolicyFile(path string) (*PolicyFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	return ParsePolicies(data)
}

// ParsePolicies decodes and validates policy file content
func ParsePolicies(data []byte) (*PolicyFile, error) {
	var file PolicyFile

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse policy file: %w", err)
	}

	seen := make(map[string]bool, len(file.Entities))
	for i, e := range file.Entities {
		name := strings.TrimSpace(e.Name)
		if name == "" {
			return nil, fmt.Errorf("policy entry %d has no name", i)
		}
		if seen[name] {
			return nil, fmt.Errorf("duplicate policy for entity %q", name)
		}
		seen[name] = true
		file.Entities[i].Name = name
	}
	return &file, nil
}

// Apply registers every entry as a manual registration on the registry
func (f *PolicyFile) Apply(r *audit.Registry) {
	for _, e := range f.Entities {
		r.RegisterManualPolicy(e.Name, e.Policy())
	}
}
