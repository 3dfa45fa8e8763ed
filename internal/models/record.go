package models

import "time"

// Record is the cached projection of a repository entity exposed over OAI-PMH.
type Record struct {
	EntityType string    `gorm:"primaryKey;size:64" json:"entity_type"`
	EntityID   string    `gorm:"primaryKey;size:128" json:"entity_id"`
	Created    time.Time `gorm:"index;not null" json:"created"`
	Changed    time.Time `gorm:"index;not null" json:"changed"`
}

// TableName pins the record cache table name.
func (Record) TableName() string { return "oai_records" }

// Set is a named grouping of records. ViewDisplay identifies the membership
// source that produced the set.
type Set struct {
	SetID       string    `gorm:"primaryKey;size:191" json:"set_id"`
	EntityType  string    `gorm:"size:64" json:"entity_type"`
	Label       string    `gorm:"not null" json:"label"`
	PagerLimit  int       `gorm:"not null;default:0" json:"pager_limit"`
	ViewDisplay string    `gorm:"size:191;index" json:"view_display"`
	Generation  int64     `gorm:"index" json:"-"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName pins the set table name.
func (Set) TableName() string { return "oai_sets" }

// Member links a record to a set. A member row implies the record row exists.
type Member struct {
	EntityType string `gorm:"primaryKey;size:64" json:"entity_type"`
	EntityID   string `gorm:"primaryKey;size:128" json:"entity_id"`
	SetID      string `gorm:"primaryKey;size:191;index" json:"set_id"`
	Generation int64  `gorm:"index" json:"-"`
}

// TableName pins the membership table name.
func (Member) TableName() string { return "oai_members" }
