// Package schemavalidate implements ingest.SchemaValidator: an optional,
// per-playbook JSON Schema check over a webhook's decoded payload (spec
// §6 "schema_validation_failed"). Grounded on the pack's jsonschema/v5
// compile-once-validate-many idiom (Mindburn-Labs-helm's PolicyFirewall).
package schemavalidate

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Validator compiles and caches a JSON Schema per playbook id, validating
// decoded webhook payloads against it on demand.
type Validator struct {
	mu      sync.RWMutex
	schemas map[string]*jsonschema.Schema
}

// New returns an empty Validator; playbooks without a registered schema
// pass Validate unconditionally.
func New() *Validator {
	return &Validator{schemas: make(map[string]*jsonschema.Schema)}
}

// Register compiles schemaJSON (a JSON Schema document) and binds it to
// playbookID, replacing any existing binding. An empty schemaJSON removes
// the binding.
func (v *Validator) Register(playbookID, schemaJSON string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if schemaJSON == "" {
		delete(v.schemas, playbookID)
		return nil
	}

	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := fmt.Sprintf("https://soar-engine.internal/schemas/%s.json", playbookID)
	if err := c.AddResource(url, strings.NewReader(schemaJSON)); err != nil {
		return fmt.Errorf("schemavalidate: load schema for %q: %w", playbookID, err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return fmt.Errorf("schemavalidate: compile schema for %q: %w", playbookID, err)
	}
	v.schemas[playbookID] = compiled
	return nil
}

// Validate implements ingest.SchemaValidator. A playbook with no
// registered schema always passes.
func (v *Validator) Validate(ctx context.Context, playbookID string, payload any) error {
	v.mu.RLock()
	schema, ok := v.schemas[playbookID]
	v.mu.RUnlock()
	if !ok {
		return nil
	}
	if err := schema.Validate(payload); err != nil {
		return fmt.Errorf("schemavalidate: payload for %q: %w", playbookID, err)
	}
	return nil
}
