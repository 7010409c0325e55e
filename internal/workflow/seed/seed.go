// Package seed loads the workflow topology definition from YAML and upserts
// it into the store.
package seed

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pesio-ai/be-plot-transfers/internal/repository"
	"github.com/pesio-ai/be-plot-transfers/internal/workflow"
)

//go:embed workflow.yaml
var defaultDefinition []byte

// Definition is the on-disk topology: stages plus edges in evaluation order.
type Definition struct {
	Stages      []StageDef      `yaml:"stages"`
	Transitions []TransitionDef `yaml:"transitions"`
}

// StageDef describes one stage.
type StageDef struct {
	Code      string `yaml:"code"`
	Name      string `yaml:"name"`
	SortOrder int    `yaml:"sort_order"`
}

// TransitionDef describes one edge. Role is optional.
type TransitionDef struct {
	From  string `yaml:"from"`
	To    string `yaml:"to"`
	Guard string `yaml:"guard"`
	Role  string `yaml:"role,omitempty"`
}

// Seeder persists a topology. Both stores implement it.
type Seeder interface {
	SeedTopology(ctx context.Context, stages []repository.Stage, specs []repository.TransitionSpec) error
	UndeclaredTransitions(ctx context.Context, specs []repository.TransitionSpec) ([]repository.TransitionSpec, error)
}

// Default returns the built-in plot-transfer topology.
func Default() (*Definition, error) {
	return Parse(defaultDefinition)
}

// Load reads the definition at path, or the built-in one when path is empty.
func Load(path string) (*Definition, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("seed: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates a definition. Unknown fields are rejected.
func Parse(data []byte) (*Definition, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var d Definition
	if err := dec.Decode(&d); err != nil {
		return nil, fmt.Errorf("seed: decode: %w", err)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// Validate checks codes are present and unique, every edge references a
// defined stage, guard names are known and no edge is repeated.
func (d *Definition) Validate() error {
	if len(d.Stages) == 0 {
		return fmt.Errorf("seed: no stages defined")
	}

	codes := make(map[string]struct{}, len(d.Stages))
	for i, st := range d.Stages {
		code := strings.TrimSpace(st.Code)
		if code == "" {
			return fmt.Errorf("seed: stage %d has no code", i)
		}
		if _, dup := codes[code]; dup {
			return fmt.Errorf("seed: duplicate stage %s", code)
		}
		codes[code] = struct{}{}
	}

	known := make(map[string]struct{}, len(workflow.KnownGuards))
	for _, g := range workflow.KnownGuards {
		known[string(g)] = struct{}{}
	}

	edges := make(map[string]struct{}, len(d.Transitions))
	for i, t := range d.Transitions {
		if _, ok := codes[t.From]; !ok {
			return fmt.Errorf("seed: transition %d: unknown stage %q", i, t.From)
		}
		if _, ok := codes[t.To]; !ok {
			return fmt.Errorf("seed: transition %d: unknown stage %q", i, t.To)
		}
		if _, ok := known[t.Guard]; !ok {
			return fmt.Errorf("seed: transition %s -> %s: unknown guard %q", t.From, t.To, t.Guard)
		}
		key := t.From + "->" + t.To
		if _, dup := edges[key]; dup {
			return fmt.Errorf("seed: duplicate transition %s -> %s", t.From, t.To)
		}
		edges[key] = struct{}{}
	}
	return nil
}

// StageRows converts the stage definitions to repository rows.
func (d *Definition) StageRows() []repository.Stage {
	out := make([]repository.Stage, 0, len(d.Stages))
	for _, st := range d.Stages {
		name := st.Name
		if name == "" {
			name = st.Code
		}
		out = append(out, repository.Stage{Code: strings.TrimSpace(st.Code), Name: name, SortOrder: st.SortOrder})
	}
	return out
}

// TransitionSpecs converts the edges to specs; Position follows file order.
func (d *Definition) TransitionSpecs() []repository.TransitionSpec {
	out := make([]repository.TransitionSpec, 0, len(d.Transitions))
	for i, t := range d.Transitions {
		spec := repository.TransitionSpec{
			FromCode:  t.From,
			ToCode:    t.To,
			GuardName: t.Guard,
			Position:  i + 1,
		}
		if t.Role != "" {
			role := t.Role
			spec.RequiredRole = &role
		}
		out = append(out, spec)
	}
	return out
}

// Apply upserts the definition into the store.
func Apply(ctx context.Context, s Seeder, d *Definition) error {
	if err := s.SeedTopology(ctx, d.StageRows(), d.TransitionSpecs()); err != nil {
		return fmt.Errorf("seed: apply: %w", err)
	}
	return nil
}
