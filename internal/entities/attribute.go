package entities

import (
	"fmt"
	"strings"
)

// AttributeKind identifies how an attribute value is stored and interpreted
type AttributeKind int

const (
	KindNone AttributeKind = iota
	KindFree
	KindEmail
	KindTelephone
	KindURL
	KindPassword
	KindEnum
	KindEnumArray
	KindBoolean
	KindInteger
	KindInteger64
	KindFloat
	KindMoney
	KindDate
	KindDateTime
	KindTime
	KindDomain
	KindDomainArray
	KindAddress
	KindJSON
	KindRecord
	KindAuthenticationSettings
	KindPaymentProvider
	KindPayment
	KindStatusRecord
	KindArray
	KindImage
	KindFile
	KindRichDocument
	KindInstance
	KindWHFSRef
	KindIntExtLink

	// Kinds that only occur on base attributes
	KindGUID
	KindGender
	KindEntityID
	KindTypeID
)

var kindNames = map[AttributeKind]string{
	KindFree:                   "free",
	KindEmail:                  "email",
	KindTelephone:              "telephone",
	KindURL:                    "url",
	KindPassword:               "password",
	KindEnum:                   "enum",
	KindEnumArray:              "enumarray",
	KindBoolean:                "boolean",
	KindInteger:                "integer",
	KindInteger64:              "integer64",
	KindFloat:                  "float",
	KindMoney:                  "money",
	KindDate:                   "date",
	KindDateTime:               "datetime",
	KindTime:                   "time",
	KindDomain:                 "domain",
	KindDomainArray:            "domainarray",
	KindAddress:                "address",
	KindJSON:                   "json",
	KindRecord:                 "record",
	KindAuthenticationSettings: "authenticationsettings",
	KindPaymentProvider:        "paymentprovider",
	KindPayment:                "payment",
	KindStatusRecord:           "statusrecord",
	KindArray:                  "array",
	KindImage:                  "image",
	KindFile:                   "file",
	KindRichDocument:           "richdocument",
	KindInstance:               "instance",
	KindWHFSRef:                "whfsref",
	KindIntExtLink:             "intextlink",
	KindGUID:                   "guid",
	KindGender:                 "gender",
	KindEntityID:               "entityid",
	KindTypeID:                 "typeid",
}

// AllKinds returns every known attribute kind in declaration order
func AllKinds() []AttributeKind {
	kinds := make([]AttributeKind, 0, len(kindNames))
	for k := KindFree; k <= KindTypeID; k++ {
		kinds = append(kinds, k)
	}
	return kinds
}

// String returns the schema tag of the kind
func (k AttributeKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind converts a schema tag into an attribute kind
func ParseKind(name string) (AttributeKind, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for k, n := range kindNames {
		if n == name {
			return k, nil
		}
	}
	return KindNone, fmt.Errorf("unknown attribute kind: %q", name)
}

// IsTextual reports whether values of the kind are stored as inline text
func (k AttributeKind) IsTextual() bool {
	switch k {
	case KindFree, KindEmail, KindTelephone, KindURL, KindPassword, KindEnum, KindWHFSRef:
		return true
	}
	return false
}

// UsesLinks reports whether the kind delegates its payload to the external store
func (k AttributeKind) UsesLinks() bool {
	switch k {
	case KindRichDocument, KindInstance, KindWHFSRef, KindIntExtLink:
		return true
	}
	return false
}

// Attribute is a typed, named field declared on a type. Base attributes live in a
// dedicated entity column, all others are stored as setting rows.
type Attribute struct {
	ID              int64
	TypeID          int64
	Tag             string
	Kind            AttributeKind
	Required        bool
	Unique          bool
	Ordered         bool
	CheckLinks      bool
	ParentAttribute int64    // non-zero for members of an array attribute
	DomainType      int64    // target type for domain kinds
	AllowedValues   []string // enum kinds
	MaxLength       int
	BaseColumn      string

	// Arena links, filled in by Schema.Index
	Index    int
	Parent   int
	Children []int
}

// IsBase reports whether the attribute lives in an entity column
func (a *Attribute) IsBase() bool {
	return a.BaseColumn != ""
}

// String returns a short description of the attribute
func (a *Attribute) String() string {
	return fmt.Sprintf("%s(%d):%s", a.Tag, a.ID, a.Kind)
}

// Validate checks if the attribute definition is valid
func (a *Attribute) Validate() error {
	if a.Tag == "" {
		return fmt.Errorf("attribute tag is required")
	}
	if a.Kind == KindNone {
		return fmt.Errorf("attribute %s has no kind", a.Tag)
	}
	if !a.IsBase() && a.ID <= 0 {
		return fmt.Errorf("attribute %s needs a positive id", a.Tag)
	}
	if a.IsBase() && a.ID >= 0 {
		return fmt.Errorf("base attribute %s needs a negative id", a.Tag)
	}
	if (a.Kind == KindDomain || a.Kind == KindDomainArray) && a.DomainType == 0 {
		return fmt.Errorf("domain attribute %s has no domain type", a.Tag)
	}
	if (a.Kind == KindEnum || a.Kind == KindEnumArray) && len(a.AllowedValues) == 0 {
		return fmt.Errorf("enum attribute %s has no allowed values", a.Tag)
	}
	if a.MaxLength < 0 {
		return fmt.Errorf("attribute %s has a negative max length", a.Tag)
	}
	return nil
}

// Allows reports whether an enum value is in the allowed set
func (a *Attribute) Allows(value string) bool {
	for _, v := range a.AllowedValues {
		if v == value {
			return true
		}
	}
	return false
}
