package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type ToolStatus string

const (
	ToolAvailable   ToolStatus = "available"
	ToolCheckedOut  ToolStatus = "checked_out"
	ToolMaintenance ToolStatus = "maintenance"
	ToolRetired     ToolStatus = "retired"
)

// Tool: a tracked tool. Quantity is usually 1 but consumable tool sets carry more.
type Tool struct {
	ID           uint            `gorm:"primaryKey" json:"id"`
	ToolNumber   string          `gorm:"size:50;uniqueIndex;not null" json:"tool_number"`
	SerialNumber string          `gorm:"size:100" json:"serial_number"`
	Description  string          `gorm:"size:255;not null" json:"description"`
	Category     string          `gorm:"size:100;index" json:"category"`
	Location     string          `gorm:"size:100;index" json:"location"`
	Quantity     decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"quantity"`
	UnitValue    decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"unit_value"`
	Status       ToolStatus      `gorm:"size:20;not null" json:"status"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

type Chemical struct {
	ID             uint            `gorm:"primaryKey" json:"id"`
	PartNumber     string          `gorm:"size:100;index;not null" json:"part_number"`
	LotNumber      string          `gorm:"size:100" json:"lot_number"`
	Description    string          `gorm:"size:255;not null" json:"description"`
	Manufacturer   string          `gorm:"size:100" json:"manufacturer"`
	Category       string          `gorm:"size:100;index" json:"category"`
	Location       string          `gorm:"size:100;index" json:"location"`
	Quantity       decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"quantity"`
	Unit           string          `gorm:"size:20;not null" json:"unit"` // ml, l, kg, each
	UnitCost       decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"unit_cost"`
	ExpirationDate *time.Time      `json:"expiration_date"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}
