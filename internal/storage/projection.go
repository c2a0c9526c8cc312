package storage

import "strings"

// Projection is the parsed form of an include/exclude column selection.
// Dotted paths are a tree, not a flat list (spec.md §4.A, §9): at each level
// a recursive descent partitions the requested fields into local columns,
// local relationship names, and sub-projections keyed by relationship name.
type Projection struct {
	All      bool // "*" was present at this level: include all own columns
	Columns  map[string]bool
	Children map[string]*Projection
}

func newProjection() *Projection {
	return &Projection{Columns: map[string]bool{}, Children: map[string]*Projection{}}
}

// ParseProjection builds the include-side projection tree from a flat set
// of dotted paths (e.g. {"*", "trajectory.final_molecule", "comments"}).
func ParseProjection(paths []string) *Projection {
	root := newProjection()
	for _, path := range paths {
		insertPath(root, path)
	}
	return root
}

func insertPath(node *Projection, path string) {
	if path == "*" {
		node.All = true
		return
	}
	head, rest, found := strings.Cut(path, ".")
	if !found {
		node.Columns[head] = true
		return
	}
	child, ok := node.Children[head]
	if !ok {
		child = newProjection()
		node.Children[head] = child
	}
	insertPath(child, rest)
}

// Exclude removes the given dotted paths from an already-built projection
// tree, implementing the "exclude may contain dot-prefixed paths" half of
// spec.md §4.A.
func Exclude(root *Projection, paths []string) *Projection {
	for _, path := range paths {
		excludePath(root, path)
	}
	return root
}

func excludePath(node *Projection, path string) {
	if path == "*" {
		node.All = false
		node.Columns = map[string]bool{}
		return
	}
	head, rest, found := strings.Cut(path, ".")
	if !found {
		delete(node.Columns, head)
		if head == "" {
			return
		}
		return
	}
	if child, ok := node.Children[head]; ok {
		excludePath(child, rest)
	}
}

// WantsColumn reports whether a top-level (non-relationship) column should
// be included.
func (p *Projection) WantsColumn(name string) bool {
	if p == nil {
		return false
	}
	return p.All || p.Columns[name]
}

// Relation returns the sub-projection for a named relationship, and whether
// that relationship was requested at all (i.e. should be eagerly loaded via
// a selectin-style query).
func (p *Projection) Relation(name string) (*Projection, bool) {
	if p == nil {
		return nil, false
	}
	child, ok := p.Children[name]
	return child, ok
}
