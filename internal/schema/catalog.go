// Package schema describes the fixed target schema that source columns are
// mapped onto: which fields exist, which one is the required grouping
// identifier, which are summed and which alias names they answer to.
package schema

import (
	"fmt"
	"strings"
)

// Field keys of the default catalog. They double as column names in the
// interchange format and the sink tables.
const (
	FieldPincode   = "pincode"
	FieldState     = "state"
	FieldDistrict  = "district"
	FieldAge0to5   = "age_0_5"
	FieldAge5to18  = "age_5_18"
	FieldAge18Plus = "age_18_plus"
)

// GroupAgeBand ties the three age-band fields together. Their alias sets
// overlap ("18" appears in both 5-18 and 18+), so headers are assigned to at
// most one member of the group.
const GroupAgeBand = "age_band"

// Field is one target column.
type Field struct {
	Key           string   `json:"key" yaml:"key" koanf:"key"`
	DisplayName   string   `json:"display_name" yaml:"display_name" koanf:"display_name"`
	Required      bool     `json:"required,omitempty" yaml:"required,omitempty" koanf:"required"`
	Numeric       bool     `json:"numeric,omitempty" yaml:"numeric,omitempty" koanf:"numeric"`
	AllowMultiple bool     `json:"allow_multiple,omitempty" yaml:"allow_multiple,omitempty" koanf:"allow_multiple"`
	Aliases       []string `json:"aliases,omitempty" yaml:"aliases,omitempty" koanf:"aliases"`

	// Group names a set of fields that compete for the same headers. Within
	// a group a header goes to the best scoring member only.
	Group string `json:"group,omitempty" yaml:"group,omitempty" koanf:"group"`
	// MatchOrder breaks score ties inside a group; lower wins. Narrow
	// patterns get lower numbers.
	MatchOrder int `json:"match_order,omitempty" yaml:"match_order,omitempty" koanf:"match_order"`
}

// Catalog is a read-only, ordered set of fields with exactly one required
// field. Build it with New or Default; it is never mutated afterwards.
type Catalog struct {
	fields   []Field
	byKey    map[string]int
	required int
}

// New validates fields and returns a Catalog.
func New(fields []Field) (*Catalog, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("schema: catalog has no fields")
	}
	c := &Catalog{
		fields:   make([]Field, len(fields)),
		byKey:    make(map[string]int, len(fields)),
		required: -1,
	}
	for i, f := range fields {
		f.Key = strings.TrimSpace(f.Key)
		if f.Key == "" {
			return nil, fmt.Errorf("schema: field %d has an empty key", i)
		}
		if _, dup := c.byKey[f.Key]; dup {
			return nil, fmt.Errorf("schema: duplicate field key %q", f.Key)
		}
		if f.DisplayName == "" {
			f.DisplayName = f.Key
		}
		if f.Required {
			if c.required >= 0 {
				return nil, fmt.Errorf("schema: fields %q and %q are both required; exactly one is allowed",
					c.fields[c.required].Key, f.Key)
			}
			if f.Numeric || f.AllowMultiple {
				return nil, fmt.Errorf("schema: required field %q must be single-source text", f.Key)
			}
			c.required = i
		}
		f.Aliases = append([]string(nil), f.Aliases...)
		c.fields[i] = f
		c.byKey[f.Key] = i
	}
	if c.required < 0 {
		return nil, fmt.Errorf("schema: catalog has no required field")
	}
	return c, nil
}

// Fields returns a copy of the fields in catalog order.
func (c *Catalog) Fields() []Field {
	out := make([]Field, len(c.fields))
	for i, f := range c.fields {
		f.Aliases = append([]string(nil), f.Aliases...)
		out[i] = f
	}
	return out
}

// Keys returns field keys in catalog order.
func (c *Catalog) Keys() []string {
	out := make([]string, len(c.fields))
	for i, f := range c.fields {
		out[i] = f.Key
	}
	return out
}

// Lookup returns the field with the given key.
func (c *Catalog) Lookup(key string) (Field, bool) {
	i, ok := c.byKey[key]
	if !ok {
		return Field{}, false
	}
	return c.fields[i], true
}

// Required returns the single required field (the primary identifier).
func (c *Catalog) Required() Field { return c.fields[c.required] }

// TextFields returns the non-required text fields in catalog order.
func (c *Catalog) TextFields() []Field {
	var out []Field
	for i, f := range c.fields {
		if i != c.required && !f.Numeric {
			out = append(out, f)
		}
	}
	return out
}

// NumericFields returns the summed fields in catalog order.
func (c *Catalog) NumericFields() []Field {
	var out []Field
	for _, f := range c.fields {
		if f.Numeric {
			out = append(out, f)
		}
	}
	return out
}

// Default returns the built-in catalog for pincode-level enrollment data.
func Default() *Catalog {
	c, err := New(defaultFields)
	if err != nil {
		panic(err)
	}
	return c
}

var defaultFields = []Field{
	{
		Key:         FieldPincode,
		DisplayName: "PIN Code",
		Required:    true,
		Aliases:     []string{"pin", "pincode", "pin_code", "postal_code", "postal code", "postcode", "zip", "zipcode"},
	},
	{
		Key:         FieldState,
		DisplayName: "State",
		Aliases:     []string{"state", "state_name", "region", "circle"},
	},
	{
		Key:         FieldDistrict,
		DisplayName: "District",
		Aliases:     []string{"district", "district_name", "division", "city"},
	},
	{
		Key:           FieldAge0to5,
		DisplayName:   "Age Group 0-5 Years",
		Numeric:       true,
		AllowMultiple: true,
		Group:         GroupAgeBand,
		MatchOrder:    1,
		Aliases: []string{
			"age_0_5", "age0-5", "age 0-5", "0-5", "0_5", "children", "infant", "age05", "0to5",
			"male_0_5", "female_0_5", "m_0_5", "f_0_5",
		},
	},
	{
		Key:           FieldAge5to18,
		DisplayName:   "Age Group 5-18 Years",
		Numeric:       true,
		AllowMultiple: true,
		Group:         GroupAgeBand,
		MatchOrder:    2,
		Aliases: []string{
			"age_5_18", "age5-18", "age 5-18", "5-18", "5_18", "minors", "youth", "age518", "5to18",
			"age517", "5to17", "male_5_18", "female_5_18",
		},
	},
	{
		Key:           FieldAge18Plus,
		DisplayName:   "Age Group 18+ Years",
		Numeric:       true,
		AllowMultiple: true,
		Group:         GroupAgeBand,
		MatchOrder:    3,
		Aliases: []string{
			"age_18_plus", "age18+", "age 18+", "18+", "18_plus", "adult", "adults", "age18", "18above",
			"18greater", "male_18", "female_18",
			"age_17_plus", "age17", "17plus", "17above",
		},
	},
}
