package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type CountFrequency string

const (
	FrequencyDaily     CountFrequency = "daily"
	FrequencyWeekly    CountFrequency = "weekly"
	FrequencyMonthly   CountFrequency = "monthly"
	FrequencyQuarterly CountFrequency = "quarterly"
	FrequencyAnnual    CountFrequency = "annual"
)

func (f CountFrequency) Valid() bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly, FrequencyQuarterly, FrequencyAnnual:
		return true
	}
	return false
}

type SamplingMethod string

const (
	MethodRandom   SamplingMethod = "random"
	MethodABC      SamplingMethod = "abc"
	MethodLocation SamplingMethod = "location"
	MethodCategory SamplingMethod = "category"
)

func (m SamplingMethod) Valid() bool {
	switch m {
	case MethodRandom, MethodABC, MethodLocation, MethodCategory:
		return true
	}
	return false
}

type BatchStatus string

const (
	BatchPending    BatchStatus = "pending"
	BatchInProgress BatchStatus = "in_progress"
	BatchCompleted  BatchStatus = "completed"
	BatchCancelled  BatchStatus = "cancelled"
)

// BatchTransitions lists the allowed batch status moves.
var BatchTransitions = map[BatchStatus][]BatchStatus{
	BatchPending:    {BatchInProgress, BatchCancelled},
	BatchInProgress: {BatchCompleted, BatchCancelled},
}

func (s BatchStatus) CanTransitionTo(next BatchStatus) bool {
	for _, allowed := range BatchTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type ItemStatus string

const (
	ItemPending ItemStatus = "pending"
	ItemCounted ItemStatus = "counted"
	ItemSkipped ItemStatus = "skipped"
)

// DiscrepancyType is empty when a count matched its expectation and is
// rendered as null in JSON.
type DiscrepancyType string

func (d DiscrepancyType) MarshalJSON() ([]byte, error) {
	if d == DiscrepancyNone {
		return []byte("null"), nil
	}
	return json.Marshal(string(d))
}

const (
	DiscrepancyNone      DiscrepancyType = ""
	DiscrepancyMissing   DiscrepancyType = "missing"
	DiscrepancyExtra     DiscrepancyType = "extra"
	DiscrepancyQuantity  DiscrepancyType = "quantity"
	DiscrepancyLocation  DiscrepancyType = "location"
	DiscrepancyCondition DiscrepancyType = "condition"
)

type ItemCondition string

const (
	ConditionGood        ItemCondition = "good"
	ConditionFair        ItemCondition = "fair"
	ConditionDamaged     ItemCondition = "damaged"
	ConditionExpired     ItemCondition = "expired"
	ConditionNeedsRepair ItemCondition = "needs_repair"
)

func (c ItemCondition) Valid() bool {
	switch c {
	case ConditionGood, ConditionFair, ConditionDamaged, ConditionExpired, ConditionNeedsRepair:
		return true
	}
	return false
}

// Flagged reports whether the condition is itself a discrepancy.
func (c ItemCondition) Flagged() bool {
	return c == ConditionDamaged || c == ConditionExpired || c == ConditionNeedsRepair
}

type AdjustmentType string

const (
	AdjustQuantity  AdjustmentType = "quantity"
	AdjustLocation  AdjustmentType = "location"
	AdjustCondition AdjustmentType = "condition"
	AdjustStatus    AdjustmentType = "status"
)

func (t AdjustmentType) Valid() bool {
	switch t {
	case AdjustQuantity, AdjustLocation, AdjustCondition, AdjustStatus:
		return true
	}
	return false
}

// CycleCountSchedule: recurring count definition. Deactivated, never deleted, once batches point at it.
type CycleCountSchedule struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	Name        string         `gorm:"size:100;not null" json:"name"`
	Description string         `gorm:"size:255" json:"description"`
	Frequency   CountFrequency `gorm:"size:20;not null" json:"frequency"`
	Method      SamplingMethod `gorm:"size:20;not null" json:"method"`
	CreatedBy   uint           `gorm:"index;not null" json:"created_by"`
	IsActive    bool           `gorm:"not null;index" json:"is_active"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// CycleCountBatch: one execution of a count. ScheduleID is nil for ad hoc batches.
type CycleCountBatch struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	ScheduleID  *uint          `gorm:"index" json:"schedule_id"`
	Name        string         `gorm:"size:100;not null" json:"name"`
	Status      BatchStatus    `gorm:"size:20;not null;index" json:"status"`
	Method      SamplingMethod `gorm:"size:20" json:"method"` // set by generation
	SampleSeed  *int64         `json:"sample_seed"`
	StartDate   time.Time      `gorm:"not null" json:"start_date"`
	EndDate     *time.Time     `json:"end_date"`
	CreatedBy   uint           `gorm:"index;not null" json:"created_by"`
	Notes       string         `gorm:"type:text" json:"notes"`
	CompletedAt *time.Time     `json:"completed_at"`
	CancelledAt *time.Time     `json:"cancelled_at"`
	CancelledBy *uint          `json:"cancelled_by"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// CycleCountItem: a catalog record selected for a batch. Expected values are frozen at sampling time.
type CycleCountItem struct {
	ID               uint            `gorm:"primaryKey" json:"id"`
	BatchID          uint            `gorm:"not null;index;uniqueIndex:idx_cycle_count_items_batch_ref" json:"batch_id"`
	ItemType         ItemType        `gorm:"size:20;not null;uniqueIndex:idx_cycle_count_items_batch_ref" json:"item_type"`
	ItemID           uint            `gorm:"not null;uniqueIndex:idx_cycle_count_items_batch_ref" json:"item_id"`
	ItemName         string          `gorm:"size:255" json:"item_name"`
	ExpectedQuantity decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"expected_quantity"`
	ExpectedLocation string          `gorm:"size:100" json:"expected_location"`
	AssignedTo       *uint           `gorm:"index" json:"assigned_to"`
	Status           ItemStatus      `gorm:"size:20;not null;index" json:"status"`
	SkipReason       string          `gorm:"size:255" json:"skip_reason,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

func (i CycleCountItem) Ref() ItemRef {
	return ItemRef{Type: i.ItemType, ID: i.ItemID}
}

// CycleCountResult: the observed state of one item. At most one per item.
type CycleCountResult struct {
	ID               uint            `gorm:"primaryKey" json:"id"`
	ItemID           uint            `gorm:"not null;uniqueIndex" json:"item_id"`
	CountedBy        uint            `gorm:"index;not null" json:"counted_by"`
	CountedAt        time.Time       `gorm:"not null" json:"counted_at"`
	ActualQuantity   decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"actual_quantity"`
	ActualLocation   string          `gorm:"size:100" json:"actual_location"`
	Condition        ItemCondition   `gorm:"size:20;not null" json:"condition"`
	HasDiscrepancy   bool            `gorm:"not null;index" json:"has_discrepancy"`
	DiscrepancyType  DiscrepancyType `gorm:"size:20" json:"discrepancy_type"`
	DiscrepancyNotes string          `gorm:"type:text" json:"discrepancy_notes"`
	CreatedAt        time.Time       `json:"created_at"`
}

// CycleCountAdjustment is an approval record. It never touches the catalog itself.
type CycleCountAdjustment struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	ResultID       uint           `gorm:"not null;index" json:"result_id"`
	ApprovedBy     uint           `gorm:"not null;index" json:"approved_by"`
	ApprovedAt     time.Time      `gorm:"not null" json:"approved_at"`
	AdjustmentType AdjustmentType `gorm:"size:20;not null" json:"adjustment_type"`
	OldValue       string         `gorm:"size:255" json:"old_value"`
	NewValue       string         `gorm:"size:255" json:"new_value"`
	Notes          string         `gorm:"type:text" json:"notes"`
	CreatedAt      time.Time      `json:"created_at"`
}
