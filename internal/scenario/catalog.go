// Package scenario loads scenario definitions and builds the prompts derived from them.
package scenario

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/ashureev/polly/internal/domain"
	"github.com/ashureev/polly/internal/shared"
	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned when a scenario id is not in the catalog.
var ErrNotFound = errors.New("scenario not found")

// Catalog resolves scenario definitions by id.
type Catalog interface {
	Get(ctx context.Context, id string) (*domain.ScenarioDefinition, error)
	List(ctx context.Context) ([]*domain.ScenarioDefinition, error)
}

// MemoryCatalog is a read-only, in-memory Catalog.
type MemoryCatalog struct {
	byID  map[string]*domain.ScenarioDefinition
	order []string
}

type catalogFile struct {
	Scenarios []domain.ScenarioDefinition `yaml:"scenarios"`
}

// NewCatalog builds a catalog from already validated definitions.
// Later definitions with a duplicate id replace earlier ones.
func NewCatalog(defs ...domain.ScenarioDefinition) *MemoryCatalog {
	c := &MemoryCatalog{byID: make(map[string]*domain.ScenarioDefinition, len(defs))}
	for i := range defs {
		d := defs[i]
		if _, ok := c.byID[d.ID]; !ok {
			c.order = append(c.order, d.ID)
		}
		c.byID[d.ID] = &d
	}
	sort.Strings(c.order)
	return c
}

// NewFileCatalog reads and validates a YAML scenario file.
func NewFileCatalog(path string) (*MemoryCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario file: %w", err)
	}
	c, err := ParseCatalog(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return c, nil
}

// ParseCatalog decodes a YAML document of the form `scenarios: [...]`.
// Every definition must validate and ids must be unique.
func ParseCatalog(data []byte) (*MemoryCatalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}

	seen := make(map[string]bool, len(f.Scenarios))
	for i, def := range f.Scenarios {
		if err := shared.ValidateStruct(def); err != nil {
			return nil, fmt.Errorf("scenario %d (%q): %w", i, def.ID, err)
		}
		if seen[def.ID] {
			return nil, fmt.Errorf("scenario %d: duplicate id %q", i, def.ID)
		}
		seen[def.ID] = true
	}
	return NewCatalog(f.Scenarios...), nil
}

// Get returns the definition for id. The result must not be modified.
func (c *MemoryCatalog) Get(_ context.Context, id string) (*domain.ScenarioDefinition, error) {
	def, ok := c.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return def, nil
}

// List returns every definition ordered by id.
func (c *MemoryCatalog) List(context.Context) ([]*domain.ScenarioDefinition, error) {
	out := make([]*domain.ScenarioDefinition, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.byID[id])
	}
	return out, nil
}

var _ Catalog = (*MemoryCatalog)(nil)
