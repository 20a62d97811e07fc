// Package filter narrows entity lists the way the dashboard list views do.
package filter

import (
	"strings"

	"golang.org/x/text/cases"

	"shopfloor/internal/domain"
)

// All is the wildcard value accepted by every criterion.
const All = "all"

type Criteria struct {
	Category string
	Priority string
	Status   string
	Search   string
}

// Record is anything a list view can filter.
type Record interface {
	Facets() domain.Facets
}

func wildcard(v string) bool {
	v = strings.TrimSpace(v)
	return v == "" || v == All
}

// Matches reports whether r satisfies every criterion.
func (c Criteria) Matches(r Record) bool {
	f := r.Facets()
	if !wildcard(c.Category) && f.Category != c.Category {
		return false
	}
	if !wildcard(c.Priority) && f.Priority != c.Priority {
		return false
	}
	if !wildcard(c.Status) && f.Status != c.Status {
		return false
	}
	if c.Search == "" {
		return true
	}
	fold := cases.Fold()
	needle := fold.String(c.Search)
	return strings.Contains(fold.String(f.Title), needle) ||
		strings.Contains(fold.String(f.Description), needle)
}

// Filter returns the items matching c in their original order. items is not modified.
func Filter[T Record](items []T, c Criteria) []T {
	out := make([]T, 0, len(items))
	for _, it := range items {
		if c.Matches(it) {
			out = append(out, it)
		}
	}
	return out
}
