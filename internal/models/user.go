package models

import "time"

type UserRole string

const (
	RoleAdmin   UserRole = "admin"
	RoleManager UserRole = "manager"
	RoleCounter UserRole = "counter"
)

// Capability is a permission checked by the cycle count core before a write.
type Capability string

const (
	CapManageSchedules    Capability = "cyclecount.schedules.manage"
	CapManageBatches      Capability = "cyclecount.batches.manage"
	CapSubmitCounts       Capability = "cyclecount.counts.submit"
	CapApproveAdjustments Capability = "cyclecount.adjustments.approve"
)

type User struct {
	ID           uint     `gorm:"primaryKey"`
	Name         string   `gorm:"size:100;not null"`
	Email        string   `gorm:"size:100;uniqueIndex;not null"`
	PasswordHash string   `gorm:"size:255;not null"`
	Role         UserRole `gorm:"size:20;not null"`
	IsActive     bool     `gorm:"not null"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
