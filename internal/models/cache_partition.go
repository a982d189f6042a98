package models

// CachePartition is a named, version-tagged cache namespace such as "greentrace-static-v1.0.0".
type CachePartition struct {
	BaseModel

	Name    string       `gorm:"uniqueIndex;size:255;not null" json:"name"`
	Entries []CacheEntry `gorm:"foreignKey:PartitionID;constraint:OnDelete:CASCADE" json:"-"`
}
