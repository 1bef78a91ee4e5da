package cyclecount

import (
	"context"
	"fmt"
	"strings"

	"inventory-backend/internal/audit"
	"inventory-backend/internal/metrics"
	"inventory-backend/internal/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type CountSubmission struct {
	ItemID         uint                 `json:"item_id" validate:"required"`
	CountedBy      uint                 `json:"counted_by" validate:"required"`
	ActualQuantity *decimal.Decimal     `json:"actual_quantity"`
	ActualLocation string               `json:"actual_location" validate:"max=100"`
	Condition      models.ItemCondition `json:"condition" validate:"omitempty,valid"`
	Notes          string               `json:"notes"`
}

// Classify compares an observation with the item's frozen expectation and returns
// the single discrepancy it amounts to, using the precedence
// missing > extra > quantity > location > condition.
// An empty actual location means the item was found where it was expected.
func Classify(item models.CycleCountItem, actualQuantity decimal.Decimal, actualLocation string, condition models.ItemCondition) models.DiscrepancyType {
	expected := item.ExpectedQuantity
	switch {
	case expected.IsPositive() && actualQuantity.IsZero():
		return models.DiscrepancyMissing
	case expected.IsZero() && actualQuantity.IsPositive():
		return models.DiscrepancyExtra
	case !expected.Equal(actualQuantity):
		return models.DiscrepancyQuantity
	case strings.TrimSpace(actualLocation) != "" && !sameLabel(actualLocation, item.ExpectedLocation):
		return models.DiscrepancyLocation
	case condition.Flagged():
		return models.DiscrepancyCondition
	}
	return models.DiscrepancyNone
}

// SubmitCount records the observed state of a pending item. Concurrent submissions
// for the same item are decided by a conditional update: one wins, the others get ConflictError.
func (s *Service) SubmitCount(ctx context.Context, in CountSubmission) (*models.CycleCountResult, error) {
	in.ActualLocation = strings.TrimSpace(in.ActualLocation)
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	if in.ActualQuantity == nil {
		return nil, ValidationError{Field: "actual_quantity", Message: "is required"}
	}
	if in.ActualQuantity.IsNegative() {
		return nil, ValidationError{Field: "actual_quantity", Message: "must not be negative"}
	}
	if in.Condition == "" {
		in.Condition = models.ConditionGood
	}
	if err := s.authorize(ctx, in.CountedBy, models.CapSubmitCounts); err != nil {
		return nil, err
	}

	var (
		item      models.CycleCountItem
		batch     models.CycleCountBatch
		result    models.CycleCountResult
		completed bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		item, err = findByID[models.CycleCountItem](tx, EntityItem, in.ItemID)
		if err != nil {
			return err
		}
		if item.Status != models.ItemPending {
			return conflictf("item %d already resolved (%s)", item.ID, item.Status)
		}

		batch, err = lockBatch(tx, item.BatchID)
		if err != nil {
			return err
		}
		if batch.Status != models.BatchInProgress {
			return conflictf("batch %d is %s, counts are not accepted", batch.ID, batch.Status)
		}

		if err := s.resolveItem(tx, item.ID, models.ItemCounted, ""); err != nil {
			return err
		}

		discrepancy := Classify(item, *in.ActualQuantity, in.ActualLocation, in.Condition)
		result = models.CycleCountResult{
			ItemID:           item.ID,
			CountedBy:        in.CountedBy,
			CountedAt:        s.now(),
			ActualQuantity:   *in.ActualQuantity,
			ActualLocation:   in.ActualLocation,
			Condition:        in.Condition,
			HasDiscrepancy:   discrepancy != models.DiscrepancyNone,
			DiscrepancyType:  discrepancy,
			DiscrepancyNotes: in.Notes,
		}
		if err := tx.Create(&result).Error; err != nil {
			return fmt.Errorf("create result for item %d: %w", item.ID, err)
		}

		completed, err = s.recomputeStatus(tx, batch.ID)
		if err != nil {
			return err
		}

		return audit.WriteLog(tx, audit.LogOptions{
			UserID:      in.CountedBy,
			EntityType:  EntityResult,
			EntityID:    result.ID,
			Action:      models.AuditActionCreate,
			Description: fmt.Sprintf("Counted %s in batch %d", item.Ref(), batch.ID),
			Before:      item,
			After:       result,
		})
	})
	if err != nil {
		return nil, err
	}

	label := string(result.DiscrepancyType)
	if !result.HasDiscrepancy {
		label = "none"
	}
	metrics.CountsSubmitted.WithLabelValues(label).Inc()

	if result.HasDiscrepancy {
		s.emit(ctx, EventDiscrepancyFound, result.ID, &batch.CreatedBy,
			fmt.Sprintf("%s discrepancy on %s (%s) in batch %q", result.DiscrepancyType, item.Ref(), item.ItemName, batch.Name))
	}
	if completed {
		batch.Status = models.BatchCompleted
		s.batchCompleted(ctx, batch)
	}
	return &result, nil
}

// SkipItem resolves a pending item without counting it. No result is created.
func (s *Service) SkipItem(ctx context.Context, actorID, itemID uint, reason string) (*models.CycleCountItem, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, ValidationError{Field: "reason", Message: "is required"}
	}
	if len(reason) > 255 {
		return nil, ValidationError{Field: "reason", Message: "must be at most 255 characters"}
	}
	if err := s.authorize(ctx, actorID, models.CapSubmitCounts); err != nil {
		return nil, err
	}

	var (
		item      models.CycleCountItem
		batch     models.CycleCountBatch
		completed bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		item, err = findByID[models.CycleCountItem](tx, EntityItem, itemID)
		if err != nil {
			return err
		}
		if item.Status != models.ItemPending {
			return conflictf("item %d already resolved (%s)", item.ID, item.Status)
		}

		batch, err = lockBatch(tx, item.BatchID)
		if err != nil {
			return err
		}
		if batch.Status != models.BatchInProgress {
			return conflictf("batch %d is %s, items cannot be skipped", batch.ID, batch.Status)
		}

		if err := s.resolveItem(tx, item.ID, models.ItemSkipped, reason); err != nil {
			return err
		}

		before := item
		if err := tx.First(&item, itemID).Error; err != nil {
			return fmt.Errorf("reload item %d: %w", itemID, err)
		}

		completed, err = s.recomputeStatus(tx, batch.ID)
		if err != nil {
			return err
		}

		return audit.WriteLog(tx, audit.LogOptions{
			UserID:      actorID,
			EntityType:  EntityItem,
			EntityID:    item.ID,
			Action:      models.AuditActionUpdate,
			Description: fmt.Sprintf("Skipped %s: %s", item.Ref(), reason),
			Before:      before,
			After:       item,
		})
	})
	if err != nil {
		return nil, err
	}

	metrics.ItemsSkipped.Inc()
	if completed {
		batch.Status = models.BatchCompleted
		s.batchCompleted(ctx, batch)
	}
	return &item, nil
}

// resolveItem moves an item out of pending. It only succeeds while the row is still pending.
func (s *Service) resolveItem(tx *gorm.DB, itemID uint, status models.ItemStatus, skipReason string) error {
	updates := map[string]any{"status": status, "updated_at": s.now()}
	if skipReason != "" {
		updates["skip_reason"] = skipReason
	}

	res := tx.Model(&models.CycleCountItem{}).
		Where("id = ? AND status = ?", itemID, models.ItemPending).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("resolve item %d: %w", itemID, res.Error)
	}
	if res.RowsAffected == 0 {
		return conflictf("item %d already resolved", itemID)
	}
	return nil
}

func (s *Service) GetResult(ctx context.Context, id uint) (*models.CycleCountResult, error) {
	result, err := findByID[models.CycleCountResult](s.db.WithContext(ctx), EntityResult, id)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// ListItemResults returns the results of an item. An item has at most one.
func (s *Service) ListItemResults(ctx context.Context, itemID uint) ([]models.CycleCountResult, error) {
	db := s.db.WithContext(ctx)
	if _, err := findByID[models.CycleCountItem](db, EntityItem, itemID); err != nil {
		return nil, err
	}
	var results []models.CycleCountResult
	if err := db.Where("item_id = ?", itemID).Order("id ASC").Find(&results).Error; err != nil {
		return nil, fmt.Errorf("list results of item %d: %w", itemID, err)
	}
	return results, nil
}
