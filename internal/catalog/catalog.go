// Package catalog loads the sensor catalog and answers whether a referenced
// sensor is declared. Catalog ids may be glob patterns (input:temp_*), so a
// family of sensors can be declared in one entry.
package catalog

import (
	"fmt"
	"os"
	"sort"

	"github.com/gobwas/glob"
	"gopkg.in/yaml.v3"

	"github.com/rgehrsitz/pulsar/beacon"
	"github.com/rgehrsitz/pulsar/internal/ast"
	"github.com/rgehrsitz/pulsar/internal/config"
	"github.com/rgehrsitz/pulsar/internal/diag"
)

// Entry declares one sensor (or one glob family of sensors).
type Entry struct {
	ID          string `yaml:"id"`
	Type        string `yaml:"type"` // number, bool, string
	Unit        string `yaml:"unit"`
	Description string `yaml:"description"`
}

// Catalog is the loaded sensor declarations with compiled glob matchers.
type Catalog struct {
	Entries  []Entry
	matchers []glob.Glob
}

type catalogFile struct {
	Sensors []Entry `yaml:"sensors"`
}

// Load reads a catalog document.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing catalog %s: %w", path, err)
	}
	return New(file.Sensors)
}

// New builds a catalog from entries, compiling each id as a glob.
func New(entries []Entry) (*Catalog, error) {
	c := &Catalog{Entries: entries}
	for _, e := range entries {
		if e.ID == "" {
			return nil, fmt.Errorf("catalog entry with empty id")
		}
		m, err := glob.Compile(e.ID)
		if err != nil {
			return nil, fmt.Errorf("catalog id %q is not a valid pattern: %w", e.ID, err)
		}
		c.matchers = append(c.matchers, m)
	}
	return c, nil
}

// FromSensorList builds a catalog from the system config's inline
// validSensors list.
func FromSensorList(ids []string) (*Catalog, error) {
	entries := make([]Entry, len(ids))
	for i, id := range ids {
		entries[i] = Entry{ID: id}
	}
	return New(entries)
}

// Contains reports whether id (or its canonical form) is declared.
func (c *Catalog) Contains(id string) bool {
	canonical := beacon.CanonicalSensor(id)
	for _, m := range c.matchers {
		if m.Match(id) || m.Match(canonical) {
			return true
		}
	}
	return false
}

// CheckRules verifies every input sensor referenced by the rules against
// the catalog. Unknown sensors are errors under strict validation,
// warnings under normal, and ignored under relaxed. Output sensors are
// exempt: they are introduced by the rules themselves.
func (c *Catalog) CheckRules(rules []*ast.Rule, level config.ValidationLevel) *diag.List {
	diags := &diag.List{}
	if level == config.LevelRelaxed {
		return diags
	}

	for _, r := range rules {
		var unknown []string
		for _, s := range r.InputSensors {
			if !c.Contains(s) {
				unknown = append(unknown, s)
			}
		}
		sort.Strings(unknown)
		for _, s := range unknown {
			d := &diag.Diagnostic{
				Kind:     diag.KindCatalog,
				Severity: diag.Warning,
				Message:  fmt.Sprintf("sensor %q is not declared in the catalog", s),
			}
			if level == config.LevelStrict {
				d.Severity = diag.Error
			}
			d.At(r.SourceFile, r.SourceLine)
			d.ForRule(r.Name)
			d.With("sensor", s)
			diags.Add(d)
		}
	}
	return diags
}
