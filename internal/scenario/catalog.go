// Package scenario provides the read-only registry of simulation scenarios.
package scenario

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/ashureev/prosim/internal/domain"
)

//go:embed scenarios.yaml
var builtin []byte

// ErrInvalidCatalog is returned when a catalog document breaks a structural rule.
var ErrInvalidCatalog = errors.New("invalid scenario catalog")

// Phase is one stage of a scenario. AdvanceAt is the transcript length at
// which the session moves on; it is zero on the terminal phase.
type Phase struct {
	Name      string `yaml:"name" json:"name"`
	AdvanceAt int    `yaml:"advance_at,omitempty" json:"advance_at,omitempty"`
}

// Definition describes one scenario.
type Definition struct {
	ID                string            `yaml:"id" json:"id"`
	Title             string            `yaml:"title" json:"title"`
	Description       string            `yaml:"description" json:"description"`
	Difficulty        string            `yaml:"difficulty" json:"difficulty"`
	EstimatedDuration string            `yaml:"estimated_duration" json:"estimated_duration"`
	SkillsPracticed   []string          `yaml:"skills_practiced" json:"skills_practiced"`
	PersonaID         string            `yaml:"persona" json:"-"`
	Persona           domain.Persona    `yaml:"-" json:"persona"`
	Instructions      string            `yaml:"instructions" json:"instructions"`
	Objectives        []string          `yaml:"objectives" json:"learning_objectives"`
	InitialState      map[string]string `yaml:"initial_state" json:"initial_state,omitempty"`
	Example           string            `yaml:"example" json:"example_scenario,omitempty"`
	Phases            []Phase           `yaml:"phases" json:"phases"`
}

type document struct {
	Personas  []domain.Persona `yaml:"personas"`
	Scenarios []Definition     `yaml:"scenarios"`
}

// Catalog is an immutable set of scenario definitions.
type Catalog struct {
	byID map[string]Definition
	ids  []string
}

// Builtin returns the catalog compiled into the binary.
func Builtin() (*Catalog, error) {
	return Parse(builtin)
}

// LoadFile reads a catalog document from disk. An empty path yields Builtin.
func LoadFile(path string) (*Catalog, error) {
	if path == "" {
		return Builtin()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML catalog document.
func Parse(data []byte) (*Catalog, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode scenario catalog: %w", err)
	}

	personas := make(map[string]domain.Persona, len(doc.Personas))
	for _, p := range doc.Personas {
		if p.ID == "" || p.Name == "" {
			return nil, fmt.Errorf("%w: persona requires id and name", ErrInvalidCatalog)
		}
		if _, dup := personas[p.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate persona %q", ErrInvalidCatalog, p.ID)
		}
		personas[p.ID] = p
	}

	c := &Catalog{byID: make(map[string]Definition, len(doc.Scenarios))}
	for _, def := range doc.Scenarios {
		if def.ID == "" {
			return nil, fmt.Errorf("%w: scenario without id", ErrInvalidCatalog)
		}
		if _, dup := c.byID[def.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate scenario %q", ErrInvalidCatalog, def.ID)
		}
		p, ok := personas[def.PersonaID]
		if !ok {
			return nil, fmt.Errorf("%w: scenario %q references unknown persona %q", ErrInvalidCatalog, def.ID, def.PersonaID)
		}
		def.Persona = p
		if err := def.validate(); err != nil {
			return nil, err
		}
		c.byID[def.ID] = def
		c.ids = append(c.ids, def.ID)
	}
	if len(c.ids) == 0 {
		return nil, fmt.Errorf("%w: no scenarios defined", ErrInvalidCatalog)
	}
	sort.Strings(c.ids)
	return c, nil
}

func (d Definition) validate() error {
	if len(d.Phases) == 0 {
		return fmt.Errorf("%w: scenario %q has no phases", ErrInvalidCatalog, d.ID)
	}
	seen := make(map[string]bool, len(d.Phases))
	last := 0
	for i, p := range d.Phases {
		if p.Name == "" {
			return fmt.Errorf("%w: scenario %q phase %d has no name", ErrInvalidCatalog, d.ID, i)
		}
		if seen[p.Name] {
			return fmt.Errorf("%w: scenario %q repeats phase %q", ErrInvalidCatalog, d.ID, p.Name)
		}
		seen[p.Name] = true

		terminal := i == len(d.Phases)-1
		if terminal {
			if p.AdvanceAt != 0 {
				return fmt.Errorf("%w: scenario %q terminal phase %q has a threshold", ErrInvalidCatalog, d.ID, p.Name)
			}
			continue
		}
		if p.AdvanceAt <= last {
			return fmt.Errorf("%w: scenario %q thresholds must be positive and strictly increasing at %q", ErrInvalidCatalog, d.ID, p.Name)
		}
		last = p.AdvanceAt
	}
	return nil
}

// Lookup returns a copy of the definition registered under id.
func (c *Catalog) Lookup(id string) (Definition, error) {
	def, ok := c.byID[id]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %q", domain.ErrUnknownScenario, id)
	}
	return def.clone(), nil
}

// List returns every definition ordered by id.
func (c *Catalog) List() []Definition {
	out := make([]Definition, 0, len(c.ids))
	for _, id := range c.ids {
		out = append(out, c.byID[id].clone())
	}
	return out
}

// Len returns the number of registered scenarios.
func (c *Catalog) Len() int {
	return len(c.ids)
}

func (d Definition) clone() Definition {
	d.Persona = d.Persona.Clone()
	d.SkillsPracticed = append([]string(nil), d.SkillsPracticed...)
	d.Objectives = append([]string(nil), d.Objectives...)
	d.Phases = append([]Phase(nil), d.Phases...)
	if d.InitialState != nil {
		st := make(map[string]string, len(d.InitialState))
		for k, v := range d.InitialState {
			st[k] = v
		}
		d.InitialState = st
	}
	return d
}
