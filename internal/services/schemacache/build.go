package schemacache

import (
	"fmt"

	"github.com/WebHare/platform-sub003/internal/entities"
)

type baseColumn struct {
	id     int64
	tag    string
	column string
	kind   entities.AttributeKind
	maxLen int
}

// Base attributes share fixed negative ids across types
var (
	commonBase = []baseColumn{
		{id: -1, tag: "wrd_id", column: entities.ColumnID, kind: entities.KindEntityID},
		{id: -2, tag: "wrd_guid", column: entities.ColumnGUID, kind: entities.KindGUID},
		{id: -3, tag: "wrd_type", column: entities.ColumnType, kind: entities.KindTypeID},
		{id: -4, tag: "wrd_tag", column: entities.ColumnTag, kind: entities.KindFree, maxLen: 256},
		{id: -5, tag: "wrd_creationdate", column: entities.ColumnCreationDate, kind: entities.KindDateTime},
		{id: -6, tag: "wrd_limitdate", column: entities.ColumnLimitDate, kind: entities.KindDateTime},
		{id: -7, tag: "wrd_modificationdate", column: entities.ColumnModificationDate, kind: entities.KindDateTime},
	}
	leftBase   = baseColumn{id: -8, tag: "wrd_leftentity", column: entities.ColumnLeftEntity, kind: entities.KindDomain}
	rightBase  = baseColumn{id: -9, tag: "wrd_rightentity", column: entities.ColumnRightEntity, kind: entities.KindDomain}
	personBase = []baseColumn{
		{id: -10, tag: "wrd_initials", column: entities.ColumnInitials, kind: entities.KindFree, maxLen: 64},
		{id: -11, tag: "wrd_firstname", column: entities.ColumnFirstName, kind: entities.KindFree, maxLen: 256},
		{id: -12, tag: "wrd_firstnames", column: entities.ColumnFirstNames, kind: entities.KindFree, maxLen: 256},
		{id: -13, tag: "wrd_infix", column: entities.ColumnInfix, kind: entities.KindFree, maxLen: 64},
		{id: -14, tag: "wrd_lastname", column: entities.ColumnLastName, kind: entities.KindFree, maxLen: 256},
		{id: -15, tag: "wrd_titles", column: entities.ColumnTitles, kind: entities.KindFree, maxLen: 64},
		{id: -16, tag: "wrd_titles_suffix", column: entities.ColumnTitlesSuffix, kind: entities.KindFree, maxLen: 64},
		{id: -17, tag: "wrd_gender", column: entities.ColumnGender, kind: entities.KindGender},
		{id: -18, tag: "wrd_dateofbirth", column: entities.ColumnDateOfBirth, kind: entities.KindDate},
		{id: -19, tag: "wrd_dateofdeath", column: entities.ColumnDateOfDeath, kind: entities.KindDate},
	}
)

// builder turns a definition into an indexed schema
type builder struct {
	def      *Definition
	schema   *entities.Schema
	usedAttr map[int64]bool
	nextAttr int64
	typeIDs  map[string]int64
	own      map[string][]int // top-level setting attributes declared by each type
}

// Build converts a schema definition into an indexed schema graph
func Build(def *Definition) (*entities.Schema, error) {
	b := &builder{
		def:      def,
		schema:   &entities.Schema{ID: def.ID, Tag: def.Tag},
		usedAttr: make(map[int64]bool),
		nextAttr: 1,
		typeIDs:  make(map[string]int64),
		own:      make(map[string][]int),
	}
	if err := b.assignTypeIDs(); err != nil {
		return nil, err
	}
	for _, td := range def.Types {
		collectExplicitIDs(td.Attributes, b.usedAttr)
	}
	for i := range def.Types {
		if err := b.buildType(&def.Types[i]); err != nil {
			return nil, err
		}
	}
	for i, td := range def.Types {
		inherited, err := b.inherited(td.Tag, map[string]bool{})
		if err != nil {
			return nil, err
		}
		t := b.schema.Types[i]
		t.Attributes = append(t.Attributes, inherited...)
		if err := checkUniqueTags(b.schema, t); err != nil {
			return nil, err
		}
	}
	for _, a := range b.schema.Attributes {
		if err := a.Validate(); err != nil {
			return nil, fmt.Errorf("schema %s: %w", def.Tag, err)
		}
	}
	if err := b.schema.Index(); err != nil {
		return nil, fmt.Errorf("schema %s: %w", def.Tag, err)
	}
	return b.schema, nil
}

func (b *builder) assignTypeIDs() error {
	used := make(map[int64]bool)
	for _, td := range b.def.Types {
		if td.Tag == "" {
			return fmt.Errorf("schema %s has a type without tag", b.def.Tag)
		}
		if td.ID != 0 {
			if used[td.ID] {
				return fmt.Errorf("schema %s: duplicate type id %d", b.def.Tag, td.ID)
			}
			used[td.ID] = true
		}
	}
	next := int64(1)
	for _, td := range b.def.Types {
		id := td.ID
		if id == 0 {
			for used[next] {
				next++
			}
			id = next
			used[id] = true
		}
		if _, dup := b.typeIDs[td.Tag]; dup {
			return fmt.Errorf("schema %s: duplicate type tag %q", b.def.Tag, td.Tag)
		}
		b.typeIDs[td.Tag] = id
	}
	return nil
}

func collectExplicitIDs(defs []AttributeDefinition, used map[int64]bool) {
	for _, ad := range defs {
		if ad.ID != 0 {
			used[ad.ID] = true
		}
		collectExplicitIDs(ad.Attributes, used)
	}
}

func (b *builder) lookupType(tag, context string) (int64, error) {
	id, ok := b.typeIDs[tag]
	if !ok {
		return 0, fmt.Errorf("schema %s: %s refers to unknown type %q", b.def.Tag, context, tag)
	}
	return id, nil
}

func (b *builder) buildType(td *TypeDefinition) error {
	kind, err := entities.ParseTypeKind(td.Kind)
	if err != nil {
		return fmt.Errorf("schema %s type %s: %w", b.def.Tag, td.Tag, err)
	}
	t := &entities.Type{
		ID:              b.typeIDs[td.Tag],
		Tag:             td.Tag,
		Kind:            kind,
		KeepHistoryDays: td.KeepHistoryDays,
	}
	if td.Parent != "" {
		if t.ParentType, err = b.lookupType(td.Parent, "type "+td.Tag); err != nil {
			return err
		}
	}
	if td.Left != "" {
		if t.LeftType, err = b.lookupType(td.Left, "type "+td.Tag); err != nil {
			return err
		}
	}
	if td.Right != "" {
		if t.RightType, err = b.lookupType(td.Right, "type "+td.Tag); err != nil {
			return err
		}
	}
	if kind == entities.TypeDomain && t.LeftType == 0 {
		t.LeftType = t.ID
	}
	if (kind == entities.TypeLink || kind == entities.TypeAttachment) && t.LeftType == 0 {
		return fmt.Errorf("schema %s: %s type %s needs a left type", b.def.Tag, td.Kind, td.Tag)
	}
	if kind == entities.TypeLink && t.RightType == 0 {
		return fmt.Errorf("schema %s: link type %s needs a right type", b.def.Tag, td.Tag)
	}
	b.schema.Types = append(b.schema.Types, t)

	for _, bc := range commonBase {
		t.Attributes = append(t.Attributes, b.addBase(t, bc, false, 0))
	}
	if t.LeftType != 0 {
		required := kind == entities.TypeLink || kind == entities.TypeAttachment
		t.Attributes = append(t.Attributes, b.addBase(t, leftBase, required, t.LeftType))
	}
	if t.RightType != 0 {
		t.Attributes = append(t.Attributes, b.addBase(t, rightBase, kind == entities.TypeLink, t.RightType))
	}
	if td.Person || td.Tag == "wrd_person" {
		for _, bc := range personBase {
			t.Attributes = append(t.Attributes, b.addBase(t, bc, false, 0))
		}
	}

	for _, ad := range td.Attributes {
		idx, err := b.addAttribute(t, &ad, 0)
		if err != nil {
			return err
		}
		b.own[td.Tag] = append(b.own[td.Tag], idx)
	}
	t.Attributes = append(t.Attributes, b.own[td.Tag]...)
	return nil
}

func (b *builder) addBase(t *entities.Type, bc baseColumn, required bool, domain int64) int {
	b.schema.Attributes = append(b.schema.Attributes, &entities.Attribute{
		ID:         bc.id,
		TypeID:     t.ID,
		Tag:        bc.tag,
		Kind:       bc.kind,
		Required:   required,
		DomainType: domain,
		MaxLength:  bc.maxLen,
		BaseColumn: bc.column,
	})
	return len(b.schema.Attributes) - 1
}

func (b *builder) addAttribute(t *entities.Type, ad *AttributeDefinition, parent int64) (int, error) {
	kind, err := entities.ParseKind(ad.Type)
	if err != nil {
		return 0, fmt.Errorf("schema %s attribute %s: %w", b.def.Tag, ad.Tag, err)
	}
	id := ad.ID
	if id == 0 {
		for b.usedAttr[b.nextAttr] {
			b.nextAttr++
		}
		id = b.nextAttr
		b.usedAttr[id] = true
	}
	a := &entities.Attribute{
		ID:              id,
		TypeID:          t.ID,
		Tag:             ad.Tag,
		Kind:            kind,
		Required:        ad.Required,
		Unique:          ad.Unique,
		Ordered:         ad.Ordered,
		CheckLinks:      ad.CheckLinks,
		ParentAttribute: parent,
		AllowedValues:   ad.AllowedValues,
		MaxLength:       ad.MaxLength,
	}
	if ad.Domain != "" {
		if a.DomainType, err = b.lookupType(ad.Domain, "attribute "+ad.Tag); err != nil {
			return 0, err
		}
	}
	if len(ad.Attributes) > 0 && kind != entities.KindArray {
		return 0, fmt.Errorf("schema %s: attribute %s has members but is not an array", b.def.Tag, ad.Tag)
	}
	b.schema.Attributes = append(b.schema.Attributes, a)
	idx := len(b.schema.Attributes) - 1

	seen := make(map[string]bool)
	for i := range ad.Attributes {
		member := &ad.Attributes[i]
		if seen[member.Tag] {
			return 0, fmt.Errorf("schema %s: array %s has duplicate member %s", b.def.Tag, ad.Tag, member.Tag)
		}
		seen[member.Tag] = true
		if _, err := b.addAttribute(t, member, id); err != nil {
			return 0, err
		}
	}
	return idx, nil
}

// inherited returns the setting attributes a type receives from its ancestors
func (b *builder) inherited(tag string, visiting map[string]bool) ([]int, error) {
	if visiting[tag] {
		return nil, fmt.Errorf("schema %s: type inheritance cycle at %s", b.def.Tag, tag)
	}
	visiting[tag] = true
	var td *TypeDefinition
	for i := range b.def.Types {
		if b.def.Types[i].Tag == tag {
			td = &b.def.Types[i]
		}
	}
	if td == nil || td.Parent == "" {
		return nil, nil
	}
	above, err := b.inherited(td.Parent, visiting)
	if err != nil {
		return nil, err
	}
	return append(append([]int(nil), b.own[td.Parent]...), above...), nil
}

func checkUniqueTags(s *entities.Schema, t *entities.Type) error {
	seen := make(map[string]bool, len(t.Attributes))
	for _, idx := range t.Attributes {
		tag := s.Attributes[idx].Tag
		if seen[tag] {
			return fmt.Errorf("schema %s: type %s has duplicate attribute %s", s.Tag, t.Tag, tag)
		}
		seen[tag] = true
	}
	return nil
}
