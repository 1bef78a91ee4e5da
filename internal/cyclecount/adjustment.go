package cyclecount

import (
	"context"
	"errors"
	"fmt"

	"inventory-backend/internal/audit"
	"inventory-backend/internal/metrics"
	"inventory-backend/internal/models"

	"gorm.io/gorm"
)

// AdjustmentRequest: nil OldValue/NewValue are filled in from the result and its item.
type AdjustmentRequest struct {
	ResultID       uint                  `json:"result_id" validate:"required"`
	ApprovedBy     uint                  `json:"approved_by" validate:"required"`
	AdjustmentType models.AdjustmentType `json:"adjustment_type" validate:"required,valid"`
	OldValue       *string               `json:"old_value" validate:"omitempty,max=255"`
	NewValue       *string               `json:"new_value" validate:"omitempty,max=255"`
	Notes          string                `json:"notes"`
}

// ApproveAdjustment records the decision to accept a discrepancy as catalog truth.
// It does not write to the catalog; applying the change is up to the caller.
func (s *Service) ApproveAdjustment(ctx context.Context, in AdjustmentRequest) (*models.CycleCountAdjustment, error) {
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, in.ApprovedBy, models.CapApproveAdjustments); err != nil {
		return nil, err
	}

	var adjustment models.CycleCountAdjustment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result, err := findByID[models.CycleCountResult](tx, EntityResult, in.ResultID)
		if err != nil {
			return err
		}
		if !result.HasDiscrepancy {
			return ValidationError{Field: "result_id", Message: "has no discrepancy to adjust"}
		}
		if result.CountedBy == in.ApprovedBy {
			return ValidationError{Field: "approved_by", Message: "must differ from the user who counted the item"}
		}

		item, err := findByID[models.CycleCountItem](tx, EntityItem, result.ItemID)
		if err != nil {
			return err
		}

		oldValue, newValue := defaultAdjustmentValues(in.AdjustmentType, item, result)
		if in.OldValue != nil {
			oldValue = *in.OldValue
		}
		if in.NewValue != nil {
			newValue = *in.NewValue
		}

		adjustment = models.CycleCountAdjustment{
			ResultID:       result.ID,
			ApprovedBy:     in.ApprovedBy,
			ApprovedAt:     s.now(),
			AdjustmentType: in.AdjustmentType,
			OldValue:       oldValue,
			NewValue:       newValue,
			Notes:          in.Notes,
		}
		if err := tx.Create(&adjustment).Error; err != nil {
			return fmt.Errorf("create adjustment for result %d: %w", result.ID, err)
		}

		return audit.WriteLog(tx, audit.LogOptions{
			UserID:      in.ApprovedBy,
			EntityType:  EntityAdjustment,
			EntityID:    adjustment.ID,
			Action:      models.AuditActionApprove,
			Description: fmt.Sprintf("%s adjustment on %s approved: %q -> %q", adjustment.AdjustmentType, item.Ref(), oldValue, newValue),
			Before:      result,
			After:       adjustment,
		})
	})
	if err != nil {
		return nil, err
	}

	metrics.AdjustmentsApproved.WithLabelValues(string(adjustment.AdjustmentType)).Inc()
	return &adjustment, nil
}

func defaultAdjustmentValues(typ models.AdjustmentType, item models.CycleCountItem, result models.CycleCountResult) (string, string) {
	switch typ {
	case models.AdjustQuantity:
		return item.ExpectedQuantity.String(), result.ActualQuantity.String()
	case models.AdjustLocation:
		actual := result.ActualLocation
		if actual == "" {
			actual = item.ExpectedLocation
		}
		return item.ExpectedLocation, actual
	case models.AdjustCondition:
		return string(models.ConditionGood), string(result.Condition)
	case models.AdjustStatus:
		switch result.DiscrepancyType {
		case models.DiscrepancyMissing:
			return "counted", "missing"
		case models.DiscrepancyExtra:
			return "counted", "extra"
		}
		return "counted", "present"
	}
	return "", ""
}

// ListAdjustments returns the adjustment history of a result, oldest first.
func (s *Service) ListAdjustments(ctx context.Context, resultID uint) ([]models.CycleCountAdjustment, error) {
	db := s.db.WithContext(ctx)
	if _, err := findByID[models.CycleCountResult](db, EntityResult, resultID); err != nil {
		return nil, err
	}
	var adjustments []models.CycleCountAdjustment
	if err := db.Where("result_id = ?", resultID).Order("id ASC").Find(&adjustments).Error; err != nil {
		return nil, fmt.Errorf("list adjustments of result %d: %w", resultID, err)
	}
	return adjustments, nil
}

// LatestAdjustment is the adjustment that reflects current catalog truth for a result.
func (s *Service) LatestAdjustment(ctx context.Context, resultID uint) (*models.CycleCountAdjustment, error) {
	db := s.db.WithContext(ctx)
	if _, err := findByID[models.CycleCountResult](db, EntityResult, resultID); err != nil {
		return nil, err
	}
	var adjustment models.CycleCountAdjustment
	err := db.Where("result_id = ?", resultID).Order("id DESC").First(&adjustment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, NotFoundError{Entity: "adjustment of result", ID: resultID}
	}
	if err != nil {
		return nil, fmt.Errorf("latest adjustment of result %d: %w", resultID, err)
	}
	return &adjustment, nil
}

func (s *Service) GetAdjustment(ctx context.Context, id uint) (*models.CycleCountAdjustment, error) {
	adjustment, err := findByID[models.CycleCountAdjustment](s.db.WithContext(ctx), EntityAdjustment, id)
	if err != nil {
		return nil, err
	}
	return &adjustment, nil
}
