package entities

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Entity column names
const (
	ColumnID               = "id"
	ColumnType             = "type"
	ColumnGUID             = "guid"
	ColumnTag              = "tag"
	ColumnCreationDate     = "creationdate"
	ColumnLimitDate        = "limitdate"
	ColumnModificationDate = "modificationdate"
	ColumnLeftEntity       = "leftentity"
	ColumnRightEntity      = "rightentity"
	ColumnInitials         = "initials"
	ColumnFirstName        = "firstname"
	ColumnFirstNames       = "firstnames"
	ColumnInfix            = "infix"
	ColumnLastName         = "lastname"
	ColumnTitles           = "titles"
	ColumnTitlesSuffix     = "titles_suffix"
	ColumnGender           = "gender"
	ColumnDateOfBirth      = "dateofbirth"
	ColumnDateOfDeath      = "dateofdeath"
	ColumnOrdering         = "ordering"
)

// EntityColumns lists every entity column in storage order
var EntityColumns = []string{
	ColumnID, ColumnType, ColumnGUID, ColumnTag, ColumnCreationDate, ColumnLimitDate,
	ColumnModificationDate, ColumnLeftEntity, ColumnRightEntity, ColumnInitials,
	ColumnFirstName, ColumnFirstNames, ColumnInfix, ColumnLastName, ColumnTitles,
	ColumnTitlesSuffix, ColumnGender, ColumnDateOfBirth, ColumnDateOfDeath, ColumnOrdering,
}

// Gender values stored in the gender column
const (
	GenderUnknown = 0
	GenderMale    = 1
	GenderFemale  = 2
	GenderOther   = 3
)

// ProvisionalLifetime is the default expiry of a temporary entity
const ProvisionalLifetime = 7 * 24 * time.Hour

// RootSettingsGUID identifies the schema-wide settings entity, which can never expire
var RootSettingsGUID = uuid.MustParse("07004000-0000-4000-a000-00bea61ef00d")

// Entity is one row of the entities table
type Entity struct {
	ID               int64
	Type             int64
	GUID             uuid.UUID
	Tag              string
	CreationDate     time.Time
	LimitDate        time.Time
	ModificationDate time.Time
	LeftEntity       int64
	RightEntity      int64
	Initials         string
	FirstName        string
	FirstNames       string
	Infix            string
	LastName         string
	Titles           string
	TitlesSuffix     string
	Gender           int
	DateOfBirth      time.Time
	DateOfDeath      time.Time
	Ordering         int32
}

// IsProvisional reports whether the entity was created as a temporary entity that
// has not come alive yet
func (e *Entity) IsProvisional() bool {
	return IsDefaultDateTime(e.CreationDate)
}

// HoldsUniqueKeys reports whether the entity claims its unique values at now:
// it is not provisional and its window has not ended. Entities whose window
// starts later claim their values too, so nobody can take them in the meantime.
func (e *Entity) HoldsUniqueKeys(now time.Time) bool {
	if e.IsProvisional() {
		return false
	}
	return IsMaxDateTime(e.LimitDate) || e.LimitDate.After(now)
}

// Clone returns a copy of the entity
func (e *Entity) Clone() *Entity {
	c := *e
	return &c
}

// Get returns the value of an entity column
func (e *Entity) Get(column string) (any, error) {
	switch column {
	case ColumnID:
		return e.ID, nil
	case ColumnType:
		return e.Type, nil
	case ColumnGUID:
		return e.GUID, nil
	case ColumnTag:
		return e.Tag, nil
	case ColumnCreationDate:
		return e.CreationDate, nil
	case ColumnLimitDate:
		return e.LimitDate, nil
	case ColumnModificationDate:
		return e.ModificationDate, nil
	case ColumnLeftEntity:
		return e.LeftEntity, nil
	case ColumnRightEntity:
		return e.RightEntity, nil
	case ColumnInitials:
		return e.Initials, nil
	case ColumnFirstName:
		return e.FirstName, nil
	case ColumnFirstNames:
		return e.FirstNames, nil
	case ColumnInfix:
		return e.Infix, nil
	case ColumnLastName:
		return e.LastName, nil
	case ColumnTitles:
		return e.Titles, nil
	case ColumnTitlesSuffix:
		return e.TitlesSuffix, nil
	case ColumnGender:
		return e.Gender, nil
	case ColumnDateOfBirth:
		return e.DateOfBirth, nil
	case ColumnDateOfDeath:
		return e.DateOfDeath, nil
	case ColumnOrdering:
		return e.Ordering, nil
	}
	return nil, fmt.Errorf("unknown entity column: %s", column)
}

// Set assigns an entity column
func (e *Entity) Set(column string, value any) error {
	var ok bool
	switch column {
	case ColumnID:
		e.ID, ok = value.(int64)
	case ColumnType:
		e.Type, ok = value.(int64)
	case ColumnGUID:
		e.GUID, ok = value.(uuid.UUID)
	case ColumnTag:
		e.Tag, ok = value.(string)
	case ColumnCreationDate:
		e.CreationDate, ok = value.(time.Time)
	case ColumnLimitDate:
		e.LimitDate, ok = value.(time.Time)
	case ColumnModificationDate:
		e.ModificationDate, ok = value.(time.Time)
	case ColumnLeftEntity:
		e.LeftEntity, ok = value.(int64)
	case ColumnRightEntity:
		e.RightEntity, ok = value.(int64)
	case ColumnInitials:
		e.Initials, ok = value.(string)
	case ColumnFirstName:
		e.FirstName, ok = value.(string)
	case ColumnFirstNames:
		e.FirstNames, ok = value.(string)
	case ColumnInfix:
		e.Infix, ok = value.(string)
	case ColumnLastName:
		e.LastName, ok = value.(string)
	case ColumnTitles:
		e.Titles, ok = value.(string)
	case ColumnTitlesSuffix:
		e.TitlesSuffix, ok = value.(string)
	case ColumnGender:
		e.Gender, ok = value.(int)
	case ColumnDateOfBirth:
		e.DateOfBirth, ok = value.(time.Time)
	case ColumnDateOfDeath:
		e.DateOfDeath, ok = value.(time.Time)
	case ColumnOrdering:
		e.Ordering, ok = value.(int32)
	default:
		return fmt.Errorf("unknown entity column: %s", column)
	}
	if !ok {
		return fmt.Errorf("column %s cannot hold a %T", column, value)
	}
	return nil
}

// Diff returns the columns whose value differs between two entity rows. The
// modification date is ignored.
func (e *Entity) Diff(other *Entity) map[string]any {
	out := make(map[string]any)
	for _, col := range EntityColumns {
		if col == ColumnModificationDate {
			continue
		}
		a, _ := e.Get(col)
		b, _ := other.Get(col)
		if at, ok := a.(time.Time); ok {
			if !at.Equal(b.(time.Time)) {
				out[col] = b
			}
			continue
		}
		if a != b {
			out[col] = b
		}
	}
	return out
}
