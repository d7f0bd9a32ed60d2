// Package schema defines the column schema model shared by the provisioner,
// the warehouse backends, the staging format, and the dataframe engine.
//
// A Schema is an ordered list of columns. Order is kept for DDL rendering and
// documentation; every stage addresses columns by name.
package schema

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Type is a primitive column type.
type Type string

const (
	Float   Type = "float"
	Integer Type = "integer"
	String  Type = "string"
	Boolean Type = "boolean"
)

// ParseType maps a type name onto a Type. It accepts the canonical names plus
// the usual warehouse aliases (FLOAT64, INT64, BOOL, ...), case-insensitively.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "float", "float64", "double", "real":
		return Float, nil
	case "integer", "int", "int64", "bigint":
		return Integer, nil
	case "string", "text":
		return String, nil
	case "boolean", "bool":
		return Boolean, nil
	default:
		return "", fmt.Errorf("unknown column type %q", s)
	}
}

// UnmarshalJSON accepts any name ParseType does and stores the canonical
// type, so "bigint" decodes as Integer.
func (t *Type) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("column type: %w", err)
	}
	p, err := ParseType(s)
	if err != nil {
		return err
	}
	*t = p
	return nil
}

// Numeric reports whether values of t can be used as regression inputs.
func (t Type) Numeric() bool {
	switch t {
	case Float, Integer, Boolean:
		return true
	}
	return false
}

// Column is a single named, typed column. Required mirrors the warehouse
// REQUIRED mode; the default (false) is NULLABLE.
type Column struct {
	Name     string `json:"name"`
	Type     Type   `json:"type"`
	Required bool   `json:"required,omitempty"`
}

// Schema is an ordered column list.
type Schema []Column

var identRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,127}$`)

// ValidIdent reports whether s is a valid dataset, table, or column name.
func ValidIdent(s string) bool { return identRE.MatchString(s) }

// Validate checks that s is non-empty, that every column has a valid unique
// name, and that every type is a canonical Type. Aliases such as "bigint"
// are rejected here; Normalize maps them first.
func (s Schema) Validate() error {
	if len(s) == 0 {
		return fmt.Errorf("schema: at least one column is required")
	}
	seen := make(map[string]struct{}, len(s))
	for i, c := range s {
		if !ValidIdent(c.Name) {
			return fmt.Errorf("schema: column %d: invalid name %q", i, c.Name)
		}
		if _, dup := seen[c.Name]; dup {
			return fmt.Errorf("schema: duplicate column %q", c.Name)
		}
		seen[c.Name] = struct{}{}
		p, err := ParseType(string(c.Type))
		if err != nil {
			return fmt.Errorf("schema: column %q: %w", c.Name, err)
		}
		if p != c.Type {
			return fmt.Errorf("schema: column %q: non-canonical type %q (use %q)", c.Name, c.Type, p)
		}
	}
	return nil
}

// Normalize returns a copy of s with every type alias replaced by its
// canonical Type. Unknown types are left for Validate to report.
func (s Schema) Normalize() Schema {
	out := make(Schema, len(s))
	for i, c := range s {
		if p, err := ParseType(string(c.Type)); err == nil {
			c.Type = p
		}
		out[i] = c
	}
	return out
}

// Names returns the column names in schema order.
func (s Schema) Names() []string {
	out := make([]string, len(s))
	for i, c := range s {
		out[i] = c.Name
	}
	return out
}

// Lookup returns the column called name.
func (s Schema) Lookup(name string) (Column, bool) {
	for _, c := range s {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// Select returns the columns called names, in the order given.
func (s Schema) Select(names ...string) (Schema, error) {
	out := make(Schema, 0, len(names))
	for _, n := range names {
		c, ok := s.Lookup(n)
		if !ok {
			return nil, fmt.Errorf("schema: unknown column %q", n)
		}
		out = append(out, c)
	}
	return out, nil
}

// Compatible reports whether s and other declare the same columns with the
// same types and modes. Column order is ignored.
func (s Schema) Compatible(other Schema) bool {
	if len(s) != len(other) {
		return false
	}
	for _, c := range s {
		o, ok := other.Lookup(c.Name)
		if !ok || o.Type != c.Type || o.Required != c.Required {
			return false
		}
	}
	return true
}

// Diff describes how other differs from s, one line per column. It returns ""
// when the schemas are compatible.
func (s Schema) Diff(other Schema) string {
	var b strings.Builder
	for _, c := range s {
		o, ok := other.Lookup(c.Name)
		switch {
		case !ok:
			fmt.Fprintf(&b, "-%s %s; ", c.Name, c.Type)
		case o.Type != c.Type || o.Required != c.Required:
			fmt.Fprintf(&b, "~%s %s->%s; ", c.Name, c.describe(), o.describe())
		}
	}
	for _, o := range other {
		if _, ok := s.Lookup(o.Name); !ok {
			fmt.Fprintf(&b, "+%s %s; ", o.Name, o.Type)
		}
	}
	return strings.TrimSuffix(b.String(), "; ")
}

func (c Column) describe() string {
	if c.Required {
		return string(c.Type) + " required"
	}
	return string(c.Type)
}

func (s Schema) String() string {
	parts := make([]string, len(s))
	for i, c := range s {
		parts[i] = c.Name + ":" + c.describe()
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
