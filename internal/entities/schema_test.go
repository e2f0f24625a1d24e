package entities

import (
	"strings"
	"testing"
	"time"
)

func testSchema(t *testing.T) *Schema {
	t.Helper()
	s := &Schema{
		Tag: "webshop",
		Types: []*Type{
			{ID: 1, Tag: "wrd_person", Attributes: []int{0, 1}},
		},
		Attributes: []*Attribute{
			{ID: 10, TypeID: 1, Tag: "email", Kind: KindEmail, Unique: true},
			{ID: 11, TypeID: 1, Tag: "addresses", Kind: KindArray},
			{ID: 12, TypeID: 1, Tag: "street", Kind: KindFree, ParentAttribute: 11},
			{ID: 13, TypeID: 1, Tag: "homepage", Kind: KindWHFSRef, ParentAttribute: 11, CheckLinks: true},
		},
	}
	if err := s.Index(); err != nil {
		t.Fatalf("Index() error = %v", err)
	}
	return s
}

func TestSchema_Index(t *testing.T) {
	s := testSchema(t)

	addresses := s.AttributeByID(11)
	if len(addresses.Children) != 2 {
		t.Fatalf("addresses children = %v, want 2 entries", addresses.Children)
	}
	if got := s.Child(addresses, "street"); got == nil || got.ID != 12 {
		t.Errorf("Child(street) = %v", got)
	}
	typ := s.TypeByTag("wrd_person")
	if !typ.UniqueAttributes.Contains(int64(10)) {
		t.Errorf("UniqueAttributes = %v, want email", typ.UniqueAttributes)
	}
	if !typ.LinkCheckAttributes.Contains(int64(13)) {
		t.Errorf("LinkCheckAttributes = %v, want homepage", typ.LinkCheckAttributes)
	}
}

func TestSchema_TagPath(t *testing.T) {
	s := testSchema(t)

	tests := []struct {
		id   int64
		want string
	}{
		{id: 10, want: "email"},
		{id: 12, want: "addresses.street"},
		{id: 99, want: ""},
	}
	for _, tt := range tests {
		if got := s.TagPath(tt.id); got != tt.want {
			t.Errorf("TagPath(%d) = %q, want %q", tt.id, got, tt.want)
		}
	}
}

func TestSchema_IndexRejectsNonArrayParent(t *testing.T) {
	s := &Schema{
		Types: []*Type{{ID: 1, Tag: "t", Attributes: []int{0}}},
		Attributes: []*Attribute{
			{ID: 1, Tag: "name", Kind: KindFree},
			{ID: 2, Tag: "sub", Kind: KindFree, ParentAttribute: 1},
		},
	}
	err := s.Index()
	if err == nil || !strings.Contains(err.Error(), "not an array") {
		t.Errorf("Index() error = %v, want not an array", err)
	}
}

func TestEntity_HoldsUniqueKeys(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		entity Entity
		want   bool
	}{
		{name: "never expires", entity: Entity{CreationDate: now.Add(-time.Hour), LimitDate: MaxDateTime}, want: true},
		{name: "provisional", entity: Entity{CreationDate: DefaultDateTime, LimitDate: now.Add(ProvisionalLifetime)}, want: false},
		{name: "expired", entity: Entity{CreationDate: now.Add(-2 * time.Hour), LimitDate: now.Add(-time.Hour)}, want: false},
		{name: "expires right now", entity: Entity{CreationDate: now.Add(-time.Hour), LimitDate: now}, want: false},
		{name: "future creation claims its values", entity: Entity{CreationDate: now.Add(time.Hour), LimitDate: MaxDateTime}, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.entity.HoldsUniqueKeys(now); got != tt.want {
				t.Errorf("HoldsUniqueKeys() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEntity_Diff(t *testing.T) {
	now := time.Now().UTC()
	a := &Entity{ID: 1, Tag: "A", CreationDate: now, ModificationDate: now}
	b := a.Clone()
	b.Tag = "B"
	b.ModificationDate = now.Add(time.Minute)

	diff := a.Diff(b)
	if len(diff) != 1 || diff[ColumnTag] != "B" {
		t.Errorf("Diff() = %v, want only tag", diff)
	}
}

func TestSearchPrefix(t *testing.T) {
	long := strings.Repeat("é", 200)
	got := SearchPrefix(long)
	if len(got) > SearchPrefixBytes {
		t.Fatalf("SearchPrefix() length = %d, want <= %d", len(got), SearchPrefixBytes)
	}
	if got != strings.Repeat("É", 132) {
		t.Errorf("SearchPrefix() = %q", got)
	}
	if SearchPrefix("abc") != "ABC" {
		t.Errorf("SearchPrefix(abc) = %q", SearchPrefix("abc"))
	}
}

func TestMoney(t *testing.T) {
	tests := []struct {
		in   string
		want Money
		str  string
	}{
		{in: "12.5", want: 1250000, str: "12.5"},
		{in: "-0.00001", want: -1, str: "-0.00001"},
		{in: "3", want: 300000, str: "3"},
	}
	for _, tt := range tests {
		got, err := ParseMoney(tt.in)
		if err != nil {
			t.Fatalf("ParseMoney(%q) error = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseMoney(%q) = %d, want %d", tt.in, got, tt.want)
		}
		if got.String() != tt.str {
			t.Errorf("String() = %q, want %q", got.String(), tt.str)
		}
	}
	if _, err := ParseMoney("1.123456"); err == nil {
		t.Error("ParseMoney() expected error for 6 decimals")
	}
}
