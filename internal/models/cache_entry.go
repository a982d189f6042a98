package models

import (
	"time"

	"gorm.io/datatypes"
)

// CacheEntry stores one request/response pair inside a cache partition.
// The request identity is the (method, url) pair scoped to the owning partition.
type CacheEntry struct {
	PartitionID string         `gorm:"primaryKey;type:uuid"`
	Method      string         `gorm:"primaryKey;size:16"`
	URL         string         `gorm:"primaryKey;size:2048"`
	Status      int            `gorm:"not null"`
	Header      datatypes.JSON `gorm:"type:json"`
	Body        []byte         `gorm:"type:blob"`
	Digest      string         `gorm:"size:16"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
