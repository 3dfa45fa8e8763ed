package models

import (
	"time"

	"gorm.io/datatypes"
)

// EntityFields maps a field name to its values.
type EntityFields map[string][]string

// Entity is a repository content item. The provider only reads it; other tools
// write it.
type Entity struct {
	Type      string                           `gorm:"primaryKey;size:64" json:"type"`
	ID        string                           `gorm:"primaryKey;size:128" json:"id"`
	Bundle    string                           `gorm:"size:64;index" json:"bundle"`
	Label     string                           `gorm:"not null" json:"label"`
	Published bool                             `gorm:"index;not null" json:"published"`
	Fields    datatypes.JSONType[EntityFields] `json:"fields"`
	Created   time.Time                        `gorm:"not null" json:"created"`
	Changed   time.Time                        `gorm:"index;not null" json:"changed"`
}

// TableName pins the entity table name.
func (Entity) TableName() string { return "repository_entities" }

// FieldValues returns a copy of the stored field map, never nil.
func (e *Entity) FieldValues() EntityFields {
	out := EntityFields{}
	if e == nil {
		return out
	}
	for name, values := range e.Fields.Data() {
		out[name] = append([]string(nil), values...)
	}
	return out
}
