package history

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/WebHare/platform-sub003/internal/entities"
)

// jsonColumn stores a value as JSON text
type jsonColumn[T any] struct {
	V T
}

// Scan implements the sql.Scanner interface
func (c *jsonColumn[T]) Scan(value any) error {
	var zero T
	c.V = zero
	var raw []byte
	switch v := value.(type) {
	case nil:
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("unsupported type for json column: %T", value)
	}
	return json.Unmarshal(raw, &c.V)
}

// Value implements the driver.Valuer interface
func (c jsonColumn[T]) Value() (driver.Value, error) {
	b, err := json.Marshal(c.V)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// ChangesetRecord groups the changes of one batch of updates
type ChangesetRecord struct {
	ID        int64     `gorm:"primaryKey;column:id;autoIncrement"`
	Schema    string    `gorm:"column:schema_tag;index;not null"`
	Source    string    `gorm:"column:source"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
}

// TableName returns the GORM table name.
func (ChangesetRecord) TableName() string { return "wrd_changesets" }

// ChangeRecord is the before/after record of one entity update
type ChangeRecord struct {
	ID              int64                                 `gorm:"primaryKey;column:id;autoIncrement"`
	ChangesetID     int64                                 `gorm:"column:changeset_id;index;not null"`
	EntityGUID      string                                `gorm:"column:entity_guid;type:varchar(36);index:idx_wrd_changes_entity,priority:1;not null"`
	TypeTag         string                                `gorm:"column:type_tag;not null"`
	ChangedAt       time.Time                             `gorm:"column:changed_at;index:idx_wrd_changes_entity,priority:2;not null"`
	Before          jsonColumn[entities.PortableSnapshot] `gorm:"column:before_data;type:text"`
	After           jsonColumn[entities.PortableSnapshot] `gorm:"column:after_data;type:text"`
	DeletedSettings jsonColumn[[]int64]                   `gorm:"column:deleted_settings;type:text"`
	Touched         jsonColumn[[]string]                  `gorm:"column:touched;type:text"`
	Attachments     []AttachmentRecord                    `gorm:"foreignKey:ChangeID"`
}

// TableName returns the GORM table name.
func (ChangeRecord) TableName() string { return "wrd_changes" }

// AttachmentRecord carries a payload too large to keep inline in a change
type AttachmentRecord struct {
	ID       int64  `gorm:"primaryKey;column:id;autoIncrement"`
	ChangeID int64  `gorm:"column:change_id;index;not null"`
	Name     string `gorm:"column:name;not null"`
	BlobKey  string `gorm:"column:blob_key"`
	BlobHash string `gorm:"column:blob_hash"`
	BlobSize int64  `gorm:"column:blob_size"`
	Data     []byte `gorm:"column:data"`
}

// TableName returns the GORM table name.
func (AttachmentRecord) TableName() string { return "wrd_change_attachments" }

func toRecord(c *entities.PortableChange) *ChangeRecord {
	rec := &ChangeRecord{
		ChangesetID:     c.Changeset,
		EntityGUID:      c.EntityGUID.String(),
		TypeTag:         c.TypeTag,
		ChangedAt:       c.When.UTC(),
		Before:          jsonColumn[entities.PortableSnapshot]{V: c.Before},
		After:           jsonColumn[entities.PortableSnapshot]{V: c.After},
		DeletedSettings: jsonColumn[[]int64]{V: c.DeletedSettings},
		Touched:         jsonColumn[[]string]{V: c.Touched},
	}
	for _, a := range c.Attachments {
		ar := AttachmentRecord{Name: a.Name, Data: a.Data}
		if a.Blob != nil {
			ar.BlobKey, ar.BlobHash, ar.BlobSize = a.Blob.Key, a.Blob.Hash, a.Blob.Size
		}
		rec.Attachments = append(rec.Attachments, ar)
	}
	return rec
}

func fromRecord(rec *ChangeRecord) (*entities.PortableChange, error) {
	guid, err := entities.ParseGUID(rec.EntityGUID)
	if err != nil {
		return nil, fmt.Errorf("change %d: %w", rec.ID, err)
	}
	c := &entities.PortableChange{
		ID:              rec.ID,
		Changeset:       rec.ChangesetID,
		EntityGUID:      guid,
		TypeTag:         rec.TypeTag,
		When:            rec.ChangedAt.UTC(),
		Before:          rec.Before.V,
		After:           rec.After.V,
		DeletedSettings: rec.DeletedSettings.V,
		Touched:         rec.Touched.V,
	}
	for _, ar := range rec.Attachments {
		a := entities.Attachment{Name: ar.Name, Data: ar.Data}
		if ar.BlobKey != "" {
			a.Blob = &entities.BlobRef{Key: ar.BlobKey, Hash: ar.BlobHash, Size: ar.BlobSize}
		}
		c.Attachments = append(c.Attachments, a)
	}
	return c, nil
}
