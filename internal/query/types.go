// Package query is the predicate representation accessors push filters into.
//
// Predicate selects entities, RowPredicate selects setting rows of a single
// attribute. Both are sealed: only types in this package implement them, so
// backends can switch over them exhaustively. The postgres repository compiles
// predicates to SQL; Match evaluates them in memory with identical semantics.
package query

// Predicate selects entities
type Predicate interface {
	predicateNode()
}

// RowPredicate selects setting rows
type RowPredicate interface {
	rowPredicateNode()
}

// Op is a comparison operator
type Op string

const (
	OpEqual        Op = "="
	OpNotEqual     Op = "!="
	OpLess         Op = "<"
	OpLessEqual    Op = "<="
	OpGreater      Op = ">"
	OpGreaterEqual Op = ">="
)

// Valid reports whether op is a known comparison operator
func (op Op) Valid() bool {
	switch op {
	case OpEqual, OpNotEqual, OpLess, OpLessEqual, OpGreater, OpGreaterEqual:
		return true
	}
	return false
}

// And matches when all predicates match. An empty And matches everything.
type And struct {
	Predicates []Predicate
}

// Or matches when any predicate matches. An empty Or matches nothing.
type Or struct {
	Predicates []Predicate
}

// Not inverts a predicate
type Not struct {
	Predicate Predicate
}

// True matches every entity
type True struct{}

// False matches no entity
type False struct{}

// HasSetting matches entities with at least one row of Attribute satisfying
// Where. A nil Where accepts any row.
type HasSetting struct {
	Attribute int64
	Where     RowPredicate
}

// NoSetting matches entities without any row of Attribute
type NoSetting struct {
	Attribute int64
}

// Column compares an entity column. Nullable reference columns compare as 0
// when unset.
type Column struct {
	Column     string
	Op         Op
	Value      any
	IgnoreCase bool
}

// ColumnIn matches when an entity column equals one of Values
type ColumnIn struct {
	Column     string
	Values     []any
	IgnoreCase bool
}

// ColumnLike matches an entity column against a LIKE pattern using backslash
// escapes
type ColumnLike struct {
	Column     string
	Pattern    string
	IgnoreCase bool
}

func (And) predicateNode()        {}
func (Or) predicateNode()         {}
func (Not) predicateNode()        {}
func (True) predicateNode()       {}
func (False) predicateNode()      {}
func (HasSetting) predicateNode() {}
func (NoSetting) predicateNode()  {}
func (Column) predicateNode()     {}
func (ColumnIn) predicateNode()   {}
func (ColumnLike) predicateNode() {}

// RowField names a setting column a row predicate can compare
type RowField string

const (
	FieldRawData RowField = "rawdata"
	FieldSetting RowField = "setting"
	FieldPrefix  RowField = "rawdata_prefix"
)

// RowCompare compares a setting column. With Numeric set, rawdata is compared as
// a number and Value must be an int64 or float64.
type RowCompare struct {
	Field      RowField
	Op         Op
	Value      any
	IgnoreCase bool
	Numeric    bool
}

// RowIn matches when a setting column equals one of Values
type RowIn struct {
	Field      RowField
	Values     []any
	IgnoreCase bool
	Numeric    bool
}

// RowLike matches rawdata against a LIKE pattern using backslash escapes
type RowLike struct {
	Pattern    string
	IgnoreCase bool
}

// RowAnd matches rows satisfying all predicates
type RowAnd struct {
	Predicates []RowPredicate
}

// RowOr matches rows satisfying any predicate
type RowOr struct {
	Predicates []RowPredicate
}

// RowNot inverts a row predicate
type RowNot struct {
	Predicate RowPredicate
}

// RowBlob matches rows whose payload overflowed to the blob store
type RowBlob struct{}

func (RowCompare) rowPredicateNode() {}
func (RowIn) rowPredicateNode()      {}
func (RowLike) rowPredicateNode()    {}
func (RowAnd) rowPredicateNode()     {}
func (RowOr) rowPredicateNode()      {}
func (RowNot) rowPredicateNode()     {}
func (RowBlob) rowPredicateNode()    {}

// AllOf combines predicates with And, flattening trivial cases
func AllOf(preds ...Predicate) Predicate {
	out := make([]Predicate, 0, len(preds))
	for _, p := range preds {
		switch p.(type) {
		case nil, True:
			continue
		case False:
			return False{}
		}
		out = append(out, p)
	}
	switch len(out) {
	case 0:
		return True{}
	case 1:
		return out[0]
	}
	return And{Predicates: out}
}

// AnyOf combines predicates with Or, flattening trivial cases
func AnyOf(preds ...Predicate) Predicate {
	out := make([]Predicate, 0, len(preds))
	for _, p := range preds {
		switch p.(type) {
		case nil, False:
			continue
		case True:
			return True{}
		}
		out = append(out, p)
	}
	switch len(out) {
	case 0:
		return False{}
	case 1:
		return out[0]
	}
	return Or{Predicates: out}
}
