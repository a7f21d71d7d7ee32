// Package index assembles the lower layers into segments: a writer fans
// documents into columnar buffers, postings accumulators and sparse-vector
// builders; a reader resolves per-field handles; a catalog tracks published
// segments and feeds the tier controller.
package index

import (
	"fmt"
	"sort"

	"github.com/diagon-project/diagon"
	"github.com/diagon-project/diagon/column"
)

// FieldInfo describes one field of a segment.
type FieldInfo struct {
	Name   string
	Number int

	// Type is the columnar storage type for stored fields.
	Type column.TypeIndex

	// Indexed fields get a term dictionary and postings.
	Indexed bool

	// Stored fields get a column file.
	Stored bool

	// Sparse fields get sparse-vector indexes.
	Sparse bool
}

// FieldInfos is the per-segment field registry.
type FieldInfos struct {
	byName   map[string]*FieldInfo
	byNumber []*FieldInfo
}

// NewFieldInfos builds a registry, assigning field numbers in order.
func NewFieldInfos(fields ...FieldInfo) (*FieldInfos, error) {
	fi := &FieldInfos{byName: make(map[string]*FieldInfo, len(fields))}
	for i := range fields {
		f := fields[i]
		if f.Name == "" {
			return nil, fmt.Errorf("index: unnamed field: %w", diagon.ErrInvalidConfig)
		}
		if _, ok := fi.byName[f.Name]; ok {
			return nil, fmt.Errorf("index: duplicate field %q: %w", f.Name, diagon.ErrInvalidConfig)
		}
		if f.Stored && f.Type == column.TypeNothing {
			return nil, fmt.Errorf("index: stored field %q has no type: %w", f.Name, diagon.ErrInvalidConfig)
		}
		f.Number = i
		fi.byNumber = append(fi.byNumber, &f)
		fi.byName[f.Name] = &f
	}
	return fi, nil
}

// FieldInfo resolves a field by name; nil when absent.
func (fi *FieldInfos) FieldInfo(name string) *FieldInfo {
	return fi.byName[name]
}

// ByNumber resolves a field by number; nil when out of range.
func (fi *FieldInfos) ByNumber(n int) *FieldInfo {
	if n < 0 || n >= len(fi.byNumber) {
		return nil
	}
	return fi.byNumber[n]
}

// Len returns the field count.
func (fi *FieldInfos) Len() int { return len(fi.byNumber) }

// Names returns the field names, sorted.
func (fi *FieldInfos) Names() []string {
	out := make([]string, 0, len(fi.byName))
	for name := range fi.byName {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// All returns the fields in number order.
func (fi *FieldInfos) All() []*FieldInfo { return fi.byNumber }
