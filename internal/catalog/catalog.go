// Package catalog holds the static list of model families and their
// sub-models. It is loaded once at startup and never mutated.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultData []byte

// SubModel is a concrete model variant within a family.
type SubModel struct {
	ID      string `yaml:"id" json:"id"`
	Name    string `yaml:"name" json:"name"`
	Premium bool   `yaml:"premium" json:"premium"`
}

// Family is a selectable provider line shown as its own thread.
type Family struct {
	ID              string     `yaml:"id" json:"id"`
	Name            string     `yaml:"name" json:"name"`
	Icon            string     `yaml:"icon" json:"icon"`
	Premium         bool       `yaml:"premium" json:"premium"`
	DefaultSubModel string     `yaml:"default" json:"defaultSubModel"`
	SubModels       []SubModel `yaml:"subModels" json:"subModels"`
}

// SubModel looks up a sub-model of f by id.
func (f Family) SubModel(id string) (SubModel, bool) {
	for _, sm := range f.SubModels {
		if sm.ID == id {
			return sm, true
		}
	}
	return SubModel{}, false
}

type file struct {
	Families []Family `yaml:"families"`
}

// Catalog is an immutable, ordered set of families.
type Catalog struct {
	families []Family
	byID     map[string]int
	models   map[string]string // sub-model id -> family id
}

// Default parses the catalog compiled into the binary.
func Default() (*Catalog, error) {
	return Parse(defaultData)
}

// Load reads a catalog from a YAML file on disk.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %q: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML catalog document.
func Parse(data []byte) (*Catalog, error) {
	var raw file
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("catalog: decode: %w", err)
	}
	return New(raw.Families)
}

// New validates families and builds a Catalog. Every family needs an id, at
// least one sub-model and a default that belongs to it; sub-model ids are
// unique across the whole catalog.
func New(families []Family) (*Catalog, error) {
	if len(families) == 0 {
		return nil, errors.New("catalog: no families defined")
	}
	c := &Catalog{
		families: make([]Family, 0, len(families)),
		byID:     make(map[string]int, len(families)),
		models:   make(map[string]string),
	}
	for _, f := range families {
		f.ID = strings.TrimSpace(f.ID)
		if f.ID == "" {
			return nil, errors.New("catalog: family id must not be empty")
		}
		if _, dup := c.byID[f.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate family %q", f.ID)
		}
		if len(f.SubModels) == 0 {
			return nil, fmt.Errorf("catalog: family %q has no sub-models", f.ID)
		}
		for _, sm := range f.SubModels {
			if sm.ID == "" {
				return nil, fmt.Errorf("catalog: family %q has a sub-model without id", f.ID)
			}
			if owner, dup := c.models[sm.ID]; dup {
				return nil, fmt.Errorf("catalog: sub-model %q listed by %q and %q", sm.ID, owner, f.ID)
			}
			c.models[sm.ID] = f.ID
		}
		if f.DefaultSubModel == "" {
			f.DefaultSubModel = f.SubModels[0].ID
		}
		if _, ok := f.SubModel(f.DefaultSubModel); !ok {
			return nil, fmt.Errorf("catalog: default %q is not a sub-model of %q", f.DefaultSubModel, f.ID)
		}
		if f.Name == "" {
			f.Name = f.ID
		}
		c.byID[f.ID] = len(c.families)
		c.families = append(c.families, f)
	}
	return c, nil
}

// Families returns the families in display order.
func (c *Catalog) Families() []Family {
	out := make([]Family, len(c.families))
	copy(out, c.families)
	return out
}

// Family returns the family with the given id.
func (c *Catalog) Family(id string) (Family, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Family{}, false
	}
	return c.families[i], true
}

// DefaultSubModel returns the designated default sub-model id of a family.
func (c *Catalog) DefaultSubModel(familyID string) (string, bool) {
	f, ok := c.Family(familyID)
	if !ok {
		return "", false
	}
	return f.DefaultSubModel, true
}

// Contains reports whether subModelID belongs to familyID.
func (c *Catalog) Contains(familyID, subModelID string) bool {
	return c.models[subModelID] == familyID && familyID != ""
}

// FamilyOf returns the family owning a sub-model id.
func (c *Catalog) FamilyOf(subModelID string) (string, bool) {
	f, ok := c.models[subModelID]
	return f, ok
}

// ModelIDs lists every sub-model id in catalog order.
func (c *Catalog) ModelIDs() []string {
	ids := make([]string, 0, len(c.models))
	for _, f := range c.families {
		for _, sm := range f.SubModels {
			ids = append(ids, sm.ID)
		}
	}
	return ids
}
