package entities

import (
	"fmt"
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

// TypeKind distinguishes plain objects from link, attachment and domain types
type TypeKind int

const (
	TypeObject TypeKind = iota
	TypeLink
	TypeAttachment
	TypeDomain
)

// ParseTypeKind converts a schema tag into a type kind
func ParseTypeKind(name string) (TypeKind, error) {
	switch strings.ToLower(name) {
	case "", "object":
		return TypeObject, nil
	case "link":
		return TypeLink, nil
	case "attachment":
		return TypeAttachment, nil
	case "domain":
		return TypeDomain, nil
	}
	return TypeObject, fmt.Errorf("unknown type kind: %q", name)
}

// Type is an entity type declared in a schema
type Type struct {
	ID              int64
	Tag             string
	Kind            TypeKind
	ParentType      int64
	LeftType        int64
	RightType       int64
	KeepHistoryDays int

	// Arena indices of the top-level attributes, inherited and base attributes included
	Attributes []int

	UniqueAttributes    mapset.Set[int64]
	LinkCheckAttributes mapset.Set[int64]
}

// HasHistory reports whether changes to entities of this type are audited
func (t *Type) HasHistory() bool {
	return t.KeepHistoryDays > 0
}

// Schema is the type and attribute graph of one WRD schema. Attributes are stored
// in a single arena and refer to each other by index.
type Schema struct {
	ID         int64
	Tag        string
	Types      []*Type
	Attributes []*Attribute

	typesByTag map[string]*Type
	typesByID  map[int64]*Type
	attrsByID  map[int64]*Attribute
}

// Index (re)builds lookup maps and the parent/child arena links. Attributes are
// expected to be present in the arena already, parents before children.
func (s *Schema) Index() error {
	s.typesByTag = make(map[string]*Type, len(s.Types))
	s.typesByID = make(map[int64]*Type, len(s.Types))
	s.attrsByID = make(map[int64]*Attribute, len(s.Attributes))

	for _, t := range s.Types {
		if _, dup := s.typesByTag[t.Tag]; dup {
			return fmt.Errorf("duplicate type tag %q", t.Tag)
		}
		s.typesByTag[t.Tag] = t
		s.typesByID[t.ID] = t
	}

	for i, a := range s.Attributes {
		a.Index = i
		a.Parent = -1
		a.Children = nil
		if _, dup := s.attrsByID[a.ID]; dup && !a.IsBase() {
			return fmt.Errorf("duplicate attribute id %d", a.ID)
		}
		s.attrsByID[a.ID] = a
	}

	for _, a := range s.Attributes {
		if a.ParentAttribute == 0 {
			continue
		}
		parent, ok := s.attrsByID[a.ParentAttribute]
		if !ok {
			return fmt.Errorf("attribute %s refers to unknown parent %d", a.Tag, a.ParentAttribute)
		}
		if parent.Kind != KindArray {
			return fmt.Errorf("attribute %s has parent %s which is not an array", a.Tag, parent.Tag)
		}
		a.Parent = parent.Index
		parent.Children = append(parent.Children, a.Index)
	}

	for _, t := range s.Types {
		t.UniqueAttributes = mapset.NewThreadUnsafeSet[int64]()
		t.LinkCheckAttributes = mapset.NewThreadUnsafeSet[int64]()
		for _, idx := range t.Attributes {
			s.collectFlags(t, idx)
		}
	}
	return nil
}

func (s *Schema) collectFlags(t *Type, idx int) {
	a := s.Attributes[idx]
	if a.Unique {
		t.UniqueAttributes.Add(a.ID)
	}
	if a.CheckLinks {
		t.LinkCheckAttributes.Add(a.ID)
	}
	for _, child := range a.Children {
		s.collectFlags(t, child)
	}
}

// TypeByTag returns the type with the given tag
func (s *Schema) TypeByTag(tag string) *Type {
	return s.typesByTag[tag]
}

// TypeByID returns the type with the given id
func (s *Schema) TypeByID(id int64) *Type {
	return s.typesByID[id]
}

// AttributeByID returns the setting-backed attribute with the given id
func (s *Schema) AttributeByID(id int64) *Attribute {
	return s.attrsByID[id]
}

// TopLevel returns the top-level attribute of a type by tag
func (s *Schema) TopLevel(t *Type, tag string) *Attribute {
	for _, idx := range t.Attributes {
		if s.Attributes[idx].Tag == tag {
			return s.Attributes[idx]
		}
	}
	return nil
}

// TopLevelAttributes returns the top-level attributes of a type
func (s *Schema) TopLevelAttributes(t *Type) []*Attribute {
	out := make([]*Attribute, 0, len(t.Attributes))
	for _, idx := range t.Attributes {
		out = append(out, s.Attributes[idx])
	}
	return out
}

// Children returns the member attributes of an array attribute
func (s *Schema) Children(a *Attribute) []*Attribute {
	out := make([]*Attribute, 0, len(a.Children))
	for _, idx := range a.Children {
		out = append(out, s.Attributes[idx])
	}
	return out
}

// Child returns the member attribute of an array attribute by tag
func (s *Schema) Child(a *Attribute, tag string) *Attribute {
	for _, idx := range a.Children {
		if s.Attributes[idx].Tag == tag {
			return s.Attributes[idx]
		}
	}
	return nil
}

// TagPath returns the dotted tag path of an attribute, e.g. "addresses.street"
func (s *Schema) TagPath(id int64) string {
	a := s.attrsByID[id]
	if a == nil {
		return ""
	}
	parts := []string{a.Tag}
	for a.Parent >= 0 {
		a = s.Attributes[a.Parent]
		parts = append(parts, a.Tag)
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, ".")
}

// Subtree returns the ids of an attribute and all its descendants
func (s *Schema) Subtree(a *Attribute) []int64 {
	ids := []int64{a.ID}
	for _, idx := range a.Children {
		ids = append(ids, s.Subtree(s.Attributes[idx])...)
	}
	return ids
}

// Root returns the top-level ancestor of an attribute
func (s *Schema) Root(a *Attribute) *Attribute {
	for a.Parent >= 0 {
		a = s.Attributes[a.Parent]
	}
	return a
}

// TypeTags returns all type tags in sorted order
func (s *Schema) TypeTags() []string {
	tags := make([]string, 0, len(s.Types))
	for _, t := range s.Types {
		tags = append(tags, t.Tag)
	}
	sort.Strings(tags)
	return tags
}

// TypeAndSubtypes returns the id of a type followed by the ids of every type
// that inherits from it
func (s *Schema) TypeAndSubtypes(id int64) []int64 {
	out := []int64{id}
	for _, t := range s.Types {
		for p := t.ParentType; p != 0; {
			if p == id {
				out = append(out, t.ID)
				break
			}
			parent := s.typesByID[p]
			if parent == nil || parent.ID == t.ID {
				break
			}
			p = parent.ParentType
		}
	}
	return out
}
