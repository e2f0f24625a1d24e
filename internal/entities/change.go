package entities

import (
	"time"

	"github.com/google/uuid"
)

// Changeset groups the changes of one batch of updates within a schema
type Changeset struct {
	ID        int64
	Schema    string
	Source    string
	CreatedAt time.Time
}

// Snapshot is one side of a change: the entity columns involved, the setting and
// link rows of the touched attributes
type Snapshot struct {
	Entity   map[string]any
	Settings []SettingRow
	Links    []LinkRow
}

// Change is the before/after record of one entity update in internal ids
type Change struct {
	Changeset       int64
	Entity          int64
	Type            int64
	GUID            uuid.UUID
	When            time.Time
	Before          Snapshot
	After           Snapshot
	DeletedSettings []int64
	Touched         []int64
}

// IsEmpty reports whether the change records nothing
func (c *Change) IsEmpty() bool {
	return len(c.Before.Entity) == 0 && len(c.After.Entity) == 0 &&
		len(c.Before.Settings) == 0 && len(c.After.Settings) == 0 &&
		len(c.Before.Links) == 0 && len(c.After.Links) == 0 &&
		len(c.DeletedSettings) == 0
}

// PortableSetting is a setting row with its attribute replaced by a tag path and
// entity references replaced by guids
type PortableSetting struct {
	ID            int64
	Attribute     string
	RawData       string
	Setting       int64
	Reference     string
	Attachment    string
	Ordering      int32
	ParentSetting int64
}

// PortableSnapshot is one side of a PortableChange
type PortableSnapshot struct {
	Entity   map[string]any
	Settings []PortableSetting
	Links    []LinkRow
}

// Attachment carries a payload too large to keep inline in a change record
type Attachment struct {
	Name string
	Blob *BlobRef
	Data []byte
}

// PortableChange is a change record that stays valid when numeric ids are reused
type PortableChange struct {
	ID              int64
	Changeset       int64
	EntityGUID      uuid.UUID
	TypeTag         string
	When            time.Time
	Before          PortableSnapshot
	After           PortableSnapshot
	DeletedSettings []int64
	Touched         []string
	Attachments     []Attachment
}
