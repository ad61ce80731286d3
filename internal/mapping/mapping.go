// Package mapping proposes, edits, validates and freezes the assignment of
// source headers to catalog fields.
//
// A Config is a proposal: it is produced by an Inferencer, changed one source
// at a time by AddSource/RemoveSource, and turned into an immutable Plan by
// Freeze once it passes Validate. Only a Plan is handed to the aggregator.
package mapping

import (
	"fmt"
	"strings"

	"smartetl/internal/schema"
)

// FieldMapping lists the source headers selected for one field.
type FieldMapping struct {
	Sources     []string `json:"sources" yaml:"sources"`
	Confidence  float64  `json:"confidence" yaml:"confidence"`
	AutoMatched bool     `json:"auto_matched" yaml:"auto_matched"`
}

// Config maps every catalog field key to its FieldMapping. Fields without a
// match carry an empty Sources slice.
type Config map[string]FieldMapping

// Empty returns a Config with an empty entry for every field of cat.
func Empty(cat *schema.Catalog) Config {
	cfg := make(Config, len(cat.Keys()))
	for _, k := range cat.Keys() {
		cfg[k] = FieldMapping{Sources: []string{}}
	}
	return cfg
}

// Clone returns a deep copy.
func (c Config) Clone() Config {
	out := make(Config, len(c))
	for k, fm := range c {
		fm.Sources = append([]string{}, fm.Sources...)
		out[k] = fm
	}
	return out
}

// Sources returns the headers selected for field, or nil.
func (c Config) Sources(field string) []string {
	return c[field].Sources
}

// AddSource selects header for field. Single-source fields have their
// previous selection replaced; multi-source fields append unless the header
// is already selected. The entry is marked as a manual edit.
func (c Config) AddSource(cat *schema.Catalog, field, header string) error {
	f, ok := cat.Lookup(field)
	if !ok {
		return unknownField(cat, field)
	}
	header = strings.TrimSpace(header)
	if header == "" {
		return fmt.Errorf("mapping: empty header for field %q", field)
	}
	fm := c[field]
	if f.AllowMultiple {
		for _, s := range fm.Sources {
			if s == header {
				return nil
			}
		}
		fm.Sources = append(append([]string{}, fm.Sources...), header)
	} else {
		fm.Sources = []string{header}
	}
	fm.AutoMatched = false
	c[field] = fm
	return nil
}

// RemoveSource deselects header from field. Removing a header that is not
// selected is a no-op.
func (c Config) RemoveSource(cat *schema.Catalog, field, header string) error {
	if _, ok := cat.Lookup(field); !ok {
		return unknownField(cat, field)
	}
	fm := c[field]
	kept := make([]string, 0, len(fm.Sources))
	for _, s := range fm.Sources {
		if s != header {
			kept = append(kept, s)
		}
	}
	if len(kept) == len(fm.Sources) {
		return nil
	}
	fm.Sources = kept
	fm.AutoMatched = false
	if len(kept) == 0 {
		fm.Confidence = 0
	}
	c[field] = fm
	return nil
}

// FieldSources pairs a catalog field with its frozen source headers.
type FieldSources struct {
	Field   schema.Field
	Sources []string
}

// Plan is a confirmed, immutable mapping resolved against a catalog.
type Plan struct {
	ID      FieldSources
	Text    []FieldSources
	Numeric []FieldSources
}

// Freeze validates c against cat and snapshots it into a Plan. Unknown field
// keys are ignored. Every catalog field appears in the plan; a field with no
// sources yields its default value downstream.
func (c Config) Freeze(cat *schema.Catalog) (*Plan, error) {
	res := Validate(c, cat)
	if !res.Valid {
		return nil, &ValidationError{MissingRequired: res.MissingRequired}
	}
	p := &Plan{}
	for _, f := range cat.Fields() {
		src := append([]string(nil), c[f.Key].Sources...)
		if !f.AllowMultiple && len(src) > 1 {
			src = src[:1]
		}
		fs := FieldSources{Field: f, Sources: src}
		switch {
		case f.Required:
			p.ID = fs
		case f.Numeric:
			p.Numeric = append(p.Numeric, fs)
		default:
			p.Text = append(p.Text, fs)
		}
	}
	return p, nil
}

// Headers returns every source header the plan reads, in first-use order.
func (p *Plan) Headers() []string {
	seen := map[string]struct{}{}
	var out []string
	add := func(hs []string) {
		for _, h := range hs {
			if _, ok := seen[h]; ok {
				continue
			}
			seen[h] = struct{}{}
			out = append(out, h)
		}
	}
	add(p.ID.Sources)
	for _, fs := range p.Text {
		add(fs.Sources)
	}
	for _, fs := range p.Numeric {
		add(fs.Sources)
	}
	return out
}
