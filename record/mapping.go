package record

import (
	"fmt"
	"strings"
)

// Column maps one source field to an output column name.
type Column struct {
	Source string `json:"source" yaml:"source"`
	Name   string `json:"name" yaml:"name"`
}

// ColumnMapping is the ordered projection applied to every exported record.
// Encoders emit columns in declared order under their output names.
type ColumnMapping []Column

// Validate checks the mapping against the source schema: every source field
// must be known, every output name non-empty and unique.
func (m ColumnMapping) Validate() error {
	if len(m) == 0 {
		return fmt.Errorf("column mapping is empty")
	}
	seen := make(map[string]struct{}, len(m))
	for i, c := range m {
		if !KnownField(c.Source) {
			return fmt.Errorf("column %d: unknown source field %q", i, c.Source)
		}
		if strings.TrimSpace(c.Name) == "" {
			return fmt.Errorf("column %d: empty output name", i)
		}
		if _, dup := seen[c.Name]; dup {
			return fmt.Errorf("column %d: duplicate output name %q", i, c.Name)
		}
		seen[c.Name] = struct{}{}
	}
	return nil
}

// Names returns the output column names in declared order.
func (m ColumnMapping) Names() []string {
	names := make([]string, len(m))
	for i, c := range m {
		names[i] = c.Name
	}
	return names
}

// DefaultMapping maps every source field to itself.
func DefaultMapping() ColumnMapping {
	fields := Fields()
	m := make(ColumnMapping, len(fields))
	for i, f := range fields {
		m[i] = Column{Source: f, Name: f}
	}
	return m
}
