package models

import "time"

// ResumptionToken persists the paging state of a list request. Rows are
// written once and never updated.
type ResumptionToken struct {
	ID               string     `gorm:"primaryKey;size:64" json:"id"`
	Verb             string     `gorm:"size:32;not null" json:"verb"`
	MetadataPrefix   string     `gorm:"size:64;not null" json:"metadata_prefix"`
	SetSpec          string     `gorm:"size:191" json:"set"`
	Cursor           int        `gorm:"not null" json:"cursor"`
	From             *time.Time `json:"from,omitempty"`
	Until            *time.Time `json:"until,omitempty"`
	CompleteListSize int64      `gorm:"not null" json:"complete_list_size"`
	ExpiresAt        time.Time  `gorm:"index;not null" json:"expires_at"`
	CreatedAt        time.Time  `json:"created_at"`
}

// TableName pins the token table name.
func (ResumptionToken) TableName() string { return "oai_resumption_tokens" }
