package query

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/WebHare/platform-sub003/internal/entities"
)

func TestWildcardToLike(t *testing.T) {
	tests := []struct {
		mask string
		want string
	}{
		{mask: "abc*", want: "abc%"},
		{mask: "a?c", want: "a_c"},
		{mask: "100%", want: `100\%`},
		{mask: "snake_case*", want: `snake\_case%`},
		{mask: `back\slash`, want: `back\\slash`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, WildcardToLike(tt.mask), tt.mask)
	}
}

func TestLikeMatch(t *testing.T) {
	tests := []struct {
		s, mask string
		want    bool
	}{
		{s: "hello", mask: "h*", want: true},
		{s: "hello", mask: "*llo", want: true},
		{s: "hello", mask: "h?llo", want: true},
		{s: "hello", mask: "h?lo", want: false},
		{s: "", mask: "*", want: true},
		{s: "", mask: "?", want: false},
		{s: "100%", mask: "100%", want: true},
		{s: "1000", mask: "100%", want: false},
		{s: "snake_case", mask: "snake_case", want: true},
		{s: "snakeXcase", mask: "snake_case", want: false},
		{s: "añb", mask: "a?b", want: true},
	}
	for _, tt := range tests {
		got := LikeMatch(tt.s, WildcardToLike(tt.mask))
		assert.Equal(t, tt.want, got, "%q like %q", tt.s, tt.mask)
	}
}

func TestMatch(t *testing.T) {
	ent := &entities.Entity{ID: 7, Tag: "Alpha", Gender: entities.GenderFemale}
	rows := map[int64][]entities.SettingRow{
		10: {{ID: 1, Attribute: 10, RawData: "42"}},
		11: {{ID: 2, Attribute: 11, RawData: "Mixed Case"}},
		12: {{ID: 3, Attribute: 12, Blob: &entities.BlobRef{Key: "k"}, Prefix: "LONG"}},
	}

	tests := []struct {
		name string
		pred Predicate
		want bool
	}{
		{name: "numeric greater", pred: HasSetting{Attribute: 10, Where: RowCompare{Field: FieldRawData, Op: OpGreater, Value: int64(41), Numeric: true}}, want: true},
		{name: "numeric in", pred: HasSetting{Attribute: 10, Where: RowIn{Field: FieldRawData, Values: []any{int64(1), 42.0}, Numeric: true}}, want: true},
		{name: "text case sensitive", pred: HasSetting{Attribute: 11, Where: RowCompare{Field: FieldRawData, Op: OpEqual, Value: "mixed case"}}, want: false},
		{name: "text ignore case", pred: HasSetting{Attribute: 11, Where: RowCompare{Field: FieldRawData, Op: OpEqual, Value: "mixed case", IgnoreCase: true}}, want: true},
		{name: "prefix", pred: HasSetting{Attribute: 11, Where: RowCompare{Field: FieldPrefix, Op: OpEqual, Value: "MIXED CASE"}}, want: true},
		{name: "blob prefix", pred: HasSetting{Attribute: 12, Where: RowAnd{Predicates: []RowPredicate{RowBlob{}, RowCompare{Field: FieldPrefix, Op: OpEqual, Value: "LONG"}}}}, want: true},
		{name: "no setting", pred: NoSetting{Attribute: 99}, want: true},
		{name: "not", pred: Not{Predicate: NoSetting{Attribute: 10}}, want: true},
		{name: "column", pred: Column{Column: entities.ColumnTag, Op: OpEqual, Value: "alpha", IgnoreCase: true}, want: true},
		{name: "column in", pred: ColumnIn{Column: entities.ColumnGender, Values: []any{entities.GenderMale}}, want: false},
		{name: "column like", pred: ColumnLike{Column: entities.ColumnTag, Pattern: "Al%"}, want: true},
		{name: "empty or", pred: Or{}, want: false},
		{name: "empty and", pred: And{}, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Match(tt.pred, ent, rows))
		})
	}
}

func TestAllOfAnyOf(t *testing.T) {
	assert.Equal(t, True{}, AllOf())
	assert.Equal(t, False{}, AllOf(True{}, False{}))
	assert.Equal(t, NoSetting{Attribute: 1}, AllOf(True{}, NoSetting{Attribute: 1}))
	assert.Equal(t, False{}, AnyOf())
	assert.Equal(t, True{}, AnyOf(False{}, True{}))
	assert.Equal(t, NoSetting{Attribute: 1}, AnyOf(False{}, NoSetting{Attribute: 1}))
}

func TestIsDecimal(t *testing.T) {
	for _, s := range []string{"0", "-1", "12.50", "9223372036854775807"} {
		assert.True(t, IsDecimal(s), s)
	}
	for _, s := range []string{"", "-", "1.", ".5", "1e5", "abc", "NaN"} {
		assert.False(t, IsDecimal(s), s)
	}
}
