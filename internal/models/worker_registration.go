package models

import "time"

// WorkerRegistration records which worker version controls a scope and how far its lifecycle progressed.
type WorkerRegistration struct {
	Scope         string `gorm:"primaryKey;size:255"`
	ActiveVersion string `gorm:"size:128"`
	State         string `gorm:"size:32;not null"`
	InstalledAt   *time.Time
	ActivatedAt   *time.Time
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
