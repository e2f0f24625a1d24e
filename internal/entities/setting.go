package entities

import (
	"sort"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	// MaxInlineBytes is the largest payload that fits in a setting's rawdata
	MaxInlineBytes = 4096
	// SearchPrefixBytes caps the upper-cased rawdata_prefix search column
	SearchPrefixBytes = 264
)

// BlobRef points at content in the blob store
type BlobRef struct {
	Key  string
	Hash string
	Size int64
}

// SameContent reports whether two blob references hold the same bytes
func (b *BlobRef) SameContent(other *BlobRef) bool {
	if b == nil || other == nil {
		return b == nil && other == nil
	}
	if b.Key == other.Key {
		return true
	}
	return b.Hash != "" && b.Hash == other.Hash && b.Size == other.Size
}

// SettingRow is one unit of a setting-backed attribute value
type SettingRow struct {
	ID            int64
	Entity        int64
	Attribute     int64
	RawData       string
	Setting       int64
	Blob          *BlobRef
	Ordering      int32
	ParentSetting int64

	// Prefix is the search prefix of the full text when it overflowed to a blob.
	// It is derived data and not part of the row content.
	Prefix string
}

// SearchKey returns the rawdata_prefix value stored for the row
func (r *SettingRow) SearchKey() string {
	if r.Prefix != "" {
		return r.Prefix
	}
	return SearchPrefix(r.RawData)
}

// SamePayload compares rawdata, numeric reference and blob content
func (r *SettingRow) SamePayload(other *SettingRow) bool {
	return r.RawData == other.RawData &&
		r.Setting == other.Setting &&
		r.Blob.SameContent(other.Blob)
}

// SameContent compares every stored field except the row id
func (r *SettingRow) SameContent(other *SettingRow) bool {
	return r.Entity == other.Entity &&
		r.Attribute == other.Attribute &&
		r.Ordering == other.Ordering &&
		r.ParentSetting == other.ParentSetting &&
		r.SamePayload(other)
}

// SortSettings orders rows by (attribute, parentsetting, ordering, id), which keeps
// the rows of one attribute contiguous
func SortSettings(rows []SettingRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.Attribute != b.Attribute {
			return a.Attribute < b.Attribute
		}
		if a.ParentSetting != b.ParentSetting {
			return a.ParentSetting < b.ParentSetting
		}
		if a.Ordering != b.Ordering {
			return a.Ordering < b.Ordering
		}
		return a.ID < b.ID
	})
}

// LinkKind is the kind of external object a link row points at
type LinkKind string

const (
	LinkDocument   LinkKind = "document"
	LinkInstance   LinkKind = "instance"
	LinkFileRef    LinkKind = "fileref"
	LinkIntExtLink LinkKind = "intextlink"
)

// LinkRow ties a setting row to an object in the external store
type LinkRow struct {
	Setting int64
	Handle  string
	Kind    LinkKind
}

// UpperText upper-cases s the way case-insensitive comparisons expect
func UpperText(s string) string {
	// A Caser is stateful, so each call gets its own
	return cases.Upper(language.Und).String(s)
}

// SearchPrefix computes the rawdata_prefix column for a rawdata value
func SearchPrefix(raw string) string {
	return TruncateUTF8(UpperText(raw), SearchPrefixBytes)
}

// TruncateUTF8 cuts s to at most n bytes without splitting a rune
func TruncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
