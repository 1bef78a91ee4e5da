package cyclecount

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"inventory-backend/internal/audit"
	"inventory-backend/internal/metrics"
	"inventory-backend/internal/models"

	"github.com/bsm/redislock"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const generateLockTTL = 30 * time.Second

type NewBatch struct {
	ScheduleID *uint      `json:"schedule_id"`
	Name       string     `json:"name" validate:"required,max=100"`
	CreatedBy  uint       `json:"created_by" validate:"required"`
	StartDate  *time.Time `json:"start_date"`
	EndDate    *time.Time `json:"end_date"`
	Notes      string     `json:"notes"`
}

type GenerateParams struct {
	Method     models.SamplingMethod `json:"method" validate:"omitempty,valid"`
	ItemTypes  []models.ItemType     `json:"item_types" validate:"omitempty,dive,valid"`
	SampleSize int                   `json:"sample_size" validate:"gte=0"`
	Location   string                `json:"location"`
	Category   string                `json:"category"`
	Seed       *int64                `json:"seed"`
	AssignedTo *uint                 `json:"assigned_to"`
}

type AssignRequest struct {
	UserID  uint   `json:"user_id" validate:"required"`
	ItemIDs []uint `json:"item_ids"` // empty assigns every pending item
}

type AddItemRequest struct {
	ItemType   models.ItemType `json:"item_type" validate:"required,valid"`
	ItemID     uint            `json:"item_id" validate:"required"`
	AssignedTo *uint           `json:"assigned_to"`
}

type BatchFilter struct {
	Status     models.BatchStatus
	ScheduleID *uint
}

type ItemFilter struct {
	Status     models.ItemStatus
	AssignedTo *uint
}

type BatchProgress struct {
	BatchID       uint               `json:"batch_id"`
	Status        models.BatchStatus `json:"status"`
	Total         int64              `json:"total"`
	Pending       int64              `json:"pending"`
	Counted       int64              `json:"counted"`
	Skipped       int64              `json:"skipped"`
	Discrepancies int64              `json:"discrepancies"`
}

func (s *Service) CreateBatch(ctx context.Context, in NewBatch) (*models.CycleCountBatch, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, in.CreatedBy, models.CapManageBatches); err != nil {
		return nil, err
	}

	start := s.now()
	if in.StartDate != nil {
		start = in.StartDate.UTC()
	}
	if in.EndDate != nil && in.EndDate.Before(start) {
		return nil, ValidationError{Field: "end_date", Message: "must not be before start_date"}
	}

	batch := models.CycleCountBatch{
		ScheduleID: in.ScheduleID,
		Name:       in.Name,
		Status:     models.BatchPending,
		StartDate:  start,
		EndDate:    in.EndDate,
		CreatedBy:  in.CreatedBy,
		Notes:      in.Notes,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if in.ScheduleID != nil {
			schedule, err := findByID[models.CycleCountSchedule](tx, EntitySchedule, *in.ScheduleID)
			if err != nil {
				return err
			}
			if !schedule.IsActive {
				return ValidationError{Field: "schedule_id", Message: "refers to an inactive schedule"}
			}
		}

		if err := tx.Create(&batch).Error; err != nil {
			return fmt.Errorf("create batch: %w", err)
		}
		return audit.WriteLog(tx, audit.LogOptions{
			UserID:      in.CreatedBy,
			EntityType:  EntityBatch,
			EntityID:    batch.ID,
			Action:      models.AuditActionCreate,
			Description: fmt.Sprintf("Batch %q created", batch.Name),
			After:       batch,
		})
	})
	if err != nil {
		return nil, err
	}
	return &batch, nil
}

// GenerateItems samples the catalog into a pending batch and moves it to in_progress.
// Only one generation per batch can win; the rest get ConflictError.
func (s *Service) GenerateItems(ctx context.Context, actorID, batchID uint, in GenerateParams) (*models.CycleCountBatch, []models.CycleCountItem, error) {
	if err := validateStruct(in); err != nil {
		return nil, nil, err
	}
	if err := s.authorize(ctx, actorID, models.CapManageBatches); err != nil {
		return nil, nil, err
	}

	db := s.db.WithContext(ctx)
	batch, err := findByID[models.CycleCountBatch](db, EntityBatch, batchID)
	if err != nil {
		return nil, nil, err
	}
	if batch.Status != models.BatchPending {
		return nil, nil, conflictf("batch %d is %s, items can only be generated for a pending batch", batchID, batch.Status)
	}

	method, err := s.resolveMethod(db, batch, in.Method)
	if err != nil {
		return nil, nil, err
	}
	if in.AssignedTo != nil {
		if err := s.ensureUser(db, *in.AssignedTo); err != nil {
			return nil, nil, err
		}
	}

	if s.locker != nil {
		lock, err := s.locker.Obtain(ctx, fmt.Sprintf("cyclecount:batch:%d:generate", batchID), generateLockTTL, nil)
		if errors.Is(err, redislock.ErrNotObtained) {
			return nil, nil, conflictf("batch %d is already being generated", batchID)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("obtain generate lock: %w", err)
		}
		defer func() {
			if err := lock.Release(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				s.logger.WithError(err).WithField("batch_id", batchID).Warn("generate lock release failed")
			}
		}()
	}

	types := in.ItemTypes
	if len(types) == 0 {
		types = models.AllItemTypes
	}
	pool, err := s.catalog.Snapshot(ctx, types)
	if err != nil {
		return nil, nil, fmt.Errorf("catalog snapshot: %w", err)
	}

	seed := s.seed()
	if in.Seed != nil {
		seed = *in.Seed
	}
	selected, err := Sample(pool, method, SampleParams{
		ItemTypes:  types,
		SampleSize: in.SampleSize,
		Location:   in.Location,
		Category:   in.Category,
		Seed:       seed,
		ABC:        s.abc,
	})
	if err != nil {
		return nil, nil, err
	}
	if len(selected) == 0 {
		return nil, nil, ValidationError{Message: "sampling selected no items, nothing to count"}
	}

	items := make([]models.CycleCountItem, 0, len(selected))
	for _, e := range selected {
		items = append(items, models.CycleCountItem{
			BatchID:          batchID,
			ItemType:         e.Ref.Type,
			ItemID:           e.Ref.ID,
			ItemName:         e.Name,
			ExpectedQuantity: e.Quantity,
			ExpectedLocation: e.Location,
			AssignedTo:       in.AssignedTo,
			Status:           models.ItemPending,
		})
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.CycleCountBatch{}).
			Where("id = ? AND status = ?", batchID, models.BatchPending).
			Updates(map[string]any{
				"status":      models.BatchInProgress,
				"method":      method,
				"sample_seed": seed,
				"updated_at":  s.now(),
			})
		if res.Error != nil {
			return fmt.Errorf("start batch %d: %w", batchID, res.Error)
		}
		if res.RowsAffected == 0 {
			return conflictf("batch %d is no longer pending", batchID)
		}

		if err := tx.CreateInBatches(&items, 200).Error; err != nil {
			return fmt.Errorf("create batch items: %w", err)
		}

		before := batch
		if err := tx.First(&batch, batchID).Error; err != nil {
			return fmt.Errorf("reload batch %d: %w", batchID, err)
		}
		return audit.WriteLog(tx, audit.LogOptions{
			UserID:      actorID,
			EntityType:  EntityBatch,
			EntityID:    batchID,
			Action:      models.AuditActionUpdate,
			Description: fmt.Sprintf("Generated %d items by %s sampling (seed %d)", len(items), method, seed),
			Before:      before,
			After:       batch,
		})
	})
	if err != nil {
		return nil, nil, err
	}

	metrics.ItemsGenerated.WithLabelValues(string(method)).Add(float64(len(items)))
	if in.AssignedTo != nil {
		s.emit(ctx, EventBatchAssigned, batchID, in.AssignedTo,
			fmt.Sprintf("%d items in batch %q were assigned to you", len(items), batch.Name))
	}
	return &batch, items, nil
}

// resolveMethod: scheduled batches use their schedule's method, ad hoc batches must name one.
func (s *Service) resolveMethod(db *gorm.DB, batch models.CycleCountBatch, requested models.SamplingMethod) (models.SamplingMethod, error) {
	if batch.ScheduleID == nil {
		if requested == "" {
			return "", ValidationError{Field: "method", Message: "is required for a batch without a schedule"}
		}
		return requested, nil
	}

	schedule, err := findByID[models.CycleCountSchedule](db, EntitySchedule, *batch.ScheduleID)
	if err != nil {
		return "", err
	}
	if requested != "" && requested != schedule.Method {
		return "", ValidationError{
			Field:   "method",
			Message: fmt.Sprintf("must match the schedule method %q", schedule.Method),
		}
	}
	return schedule.Method, nil
}

func (s *Service) CancelBatch(ctx context.Context, actorID, batchID uint, reason string) (*models.CycleCountBatch, error) {
	if err := s.authorize(ctx, actorID, models.CapManageBatches); err != nil {
		return nil, err
	}

	var batch models.CycleCountBatch
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		batch, err = lockBatch(tx, batchID)
		if err != nil {
			return err
		}
		if !batch.Status.CanTransitionTo(models.BatchCancelled) {
			return conflictf("batch %d is %s and cannot be cancelled", batchID, batch.Status)
		}
		before := batch

		now := s.now()
		updates := map[string]any{
			"status":       models.BatchCancelled,
			"cancelled_at": now,
			"cancelled_by": actorID,
			"updated_at":   now,
		}
		if reason = strings.TrimSpace(reason); reason != "" {
			notes := reason
			if batch.Notes != "" {
				notes = batch.Notes + "\n" + reason
			}
			updates["notes"] = notes
		}

		res := tx.Model(&models.CycleCountBatch{}).
			Where("id = ? AND status IN ?", batchID, []models.BatchStatus{models.BatchPending, models.BatchInProgress}).
			Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("cancel batch %d: %w", batchID, res.Error)
		}
		if res.RowsAffected == 0 {
			return conflictf("batch %d changed state while cancelling", batchID)
		}
		if err := tx.First(&batch, batchID).Error; err != nil {
			return fmt.Errorf("reload batch %d: %w", batchID, err)
		}

		return audit.WriteLog(tx, audit.LogOptions{
			UserID:      actorID,
			EntityType:  EntityBatch,
			EntityID:    batchID,
			Action:      models.AuditActionCancel,
			Description: fmt.Sprintf("Batch %q cancelled", batch.Name),
			Before:      before,
			After:       batch,
		})
	})
	if err != nil {
		return nil, err
	}

	metrics.BatchesCancelled.Inc()
	return &batch, nil
}

// RecomputeStatus re-derives the batch status from its items. Safe to call any number of times.
func (s *Service) RecomputeStatus(ctx context.Context, batchID uint) (*models.CycleCountBatch, error) {
	var (
		batch     models.CycleCountBatch
		completed bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := lockBatch(tx, batchID); err != nil {
			return err
		}
		var err error
		completed, err = s.recomputeStatus(tx, batchID)
		if err != nil {
			return err
		}
		return tx.First(&batch, batchID).Error
	})
	if err != nil {
		return nil, err
	}
	if completed {
		s.batchCompleted(ctx, batch)
	}
	return &batch, nil
}

// recomputeStatus completes an in_progress batch once nothing is pending.
// The caller holds the batch row lock. Reports whether this call completed it.
func (s *Service) recomputeStatus(tx *gorm.DB, batchID uint) (bool, error) {
	var total, pending int64
	if err := tx.Model(&models.CycleCountItem{}).Where("batch_id = ?", batchID).Count(&total).Error; err != nil {
		return false, fmt.Errorf("count items of batch %d: %w", batchID, err)
	}
	if err := tx.Model(&models.CycleCountItem{}).
		Where("batch_id = ? AND status = ?", batchID, models.ItemPending).
		Count(&pending).Error; err != nil {
		return false, fmt.Errorf("count pending items of batch %d: %w", batchID, err)
	}
	if total == 0 || pending > 0 {
		return false, nil
	}

	now := s.now()
	res := tx.Model(&models.CycleCountBatch{}).
		Where("id = ? AND status = ?", batchID, models.BatchInProgress).
		Updates(map[string]any{
			"status":       models.BatchCompleted,
			"completed_at": now,
			"updated_at":   now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("complete batch %d: %w", batchID, res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *Service) batchCompleted(ctx context.Context, batch models.CycleCountBatch) {
	metrics.BatchesCompleted.Inc()
	s.emit(ctx, EventBatchCompleted, batch.ID, &batch.CreatedBy, fmt.Sprintf("Batch %q is complete", batch.Name))
}

// lockBatch takes the batch row lock. Every write path locks the batch before any
// of its item rows, so counts in one batch commit one at a time.
func lockBatch(tx *gorm.DB, batchID uint) (models.CycleCountBatch, error) {
	return findByID[models.CycleCountBatch](tx.Clauses(clause.Locking{Strength: "UPDATE"}), EntityBatch, batchID)
}

// AssignItems assigns pending items of a batch to a counter and returns how many were assigned.
func (s *Service) AssignItems(ctx context.Context, actorID, batchID uint, in AssignRequest) (int64, error) {
	if err := validateStruct(in); err != nil {
		return 0, err
	}
	if err := s.authorize(ctx, actorID, models.CapManageBatches); err != nil {
		return 0, err
	}
	if err := s.ensureUser(s.db.WithContext(ctx), in.UserID); err != nil {
		return 0, err
	}

	var (
		batch    models.CycleCountBatch
		assigned int64
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		batch, err = lockBatch(tx, batchID)
		if err != nil {
			return err
		}
		if batch.Status != models.BatchPending && batch.Status != models.BatchInProgress {
			return conflictf("batch %d is %s, its items can no longer be assigned", batchID, batch.Status)
		}

		q := tx.Model(&models.CycleCountItem{}).Where("batch_id = ? AND status = ?", batchID, models.ItemPending)
		if len(in.ItemIDs) > 0 {
			if err := checkBatchItems(tx, batchID, in.ItemIDs); err != nil {
				return err
			}
			q = q.Where("id IN ?", in.ItemIDs)
		}

		res := q.Updates(map[string]any{"assigned_to": in.UserID, "updated_at": s.now()})
		if res.Error != nil {
			return fmt.Errorf("assign items of batch %d: %w", batchID, res.Error)
		}
		assigned = res.RowsAffected
		if assigned == 0 {
			return nil
		}

		return audit.WriteLog(tx, audit.LogOptions{
			UserID:      actorID,
			EntityType:  EntityBatch,
			EntityID:    batchID,
			Action:      models.AuditActionUpdate,
			Description: fmt.Sprintf("%d items assigned to user %d", assigned, in.UserID),
			After:       in,
		})
	})
	if err != nil {
		return 0, err
	}

	if assigned > 0 {
		s.emit(ctx, EventBatchAssigned, batchID, &in.UserID,
			fmt.Sprintf("%d items in batch %q were assigned to you", assigned, batch.Name))
	}
	return assigned, nil
}

// checkBatchItems makes sure every id is a pending item of the batch.
func checkBatchItems(tx *gorm.DB, batchID uint, ids []uint) error {
	var items []models.CycleCountItem
	if err := tx.Where("batch_id = ? AND id IN ?", batchID, ids).Find(&items).Error; err != nil {
		return fmt.Errorf("load items of batch %d: %w", batchID, err)
	}
	found := make(map[uint]models.CycleCountItem, len(items))
	for _, it := range items {
		found[it.ID] = it
	}
	for _, id := range ids {
		it, ok := found[id]
		if !ok {
			return NotFoundError{Entity: EntityItem, ID: id}
		}
		if it.Status != models.ItemPending {
			return conflictf("item %d is already %s", id, it.Status)
		}
	}
	return nil
}

// AddItem appends one catalog record to an in_progress batch.
func (s *Service) AddItem(ctx context.Context, actorID, batchID uint, in AddItemRequest) (*models.CycleCountItem, error) {
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, actorID, models.CapManageBatches); err != nil {
		return nil, err
	}
	if in.AssignedTo != nil {
		if err := s.ensureUser(s.db.WithContext(ctx), *in.AssignedTo); err != nil {
			return nil, err
		}
	}

	ref := models.ItemRef{Type: in.ItemType, ID: in.ItemID}
	entry, err := s.catalog.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}

	item := models.CycleCountItem{
		BatchID:          batchID,
		ItemType:         ref.Type,
		ItemID:           ref.ID,
		ItemName:         entry.Name,
		ExpectedQuantity: entry.Quantity,
		ExpectedLocation: entry.Location,
		AssignedTo:       in.AssignedTo,
		Status:           models.ItemPending,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		batch, err := lockBatch(tx, batchID)
		if err != nil {
			return err
		}
		if batch.Status != models.BatchInProgress {
			return conflictf("batch %d is %s, items can only be added while it is in_progress", batchID, batch.Status)
		}

		var dup int64
		if err := tx.Model(&models.CycleCountItem{}).
			Where("batch_id = ? AND item_type = ? AND item_id = ?", batchID, ref.Type, ref.ID).
			Count(&dup).Error; err != nil {
			return fmt.Errorf("check duplicate item: %w", err)
		}
		if dup > 0 {
			return conflictf("%s is already part of batch %d", ref, batchID)
		}

		if err := tx.Create(&item).Error; err != nil {
			return fmt.Errorf("add item to batch %d: %w", batchID, err)
		}
		return audit.WriteLog(tx, audit.LogOptions{
			UserID:      actorID,
			EntityType:  EntityItem,
			EntityID:    item.ID,
			Action:      models.AuditActionCreate,
			Description: fmt.Sprintf("%s added to batch %q", ref, batch.Name),
			After:       item,
		})
	})
	if err != nil {
		return nil, err
	}

	metrics.ItemsGenerated.WithLabelValues("manual").Inc()
	if in.AssignedTo != nil {
		s.emit(ctx, EventBatchAssigned, batchID, in.AssignedTo, fmt.Sprintf("%s was assigned to you", ref))
	}
	return &item, nil
}

func (s *Service) GetBatch(ctx context.Context, id uint) (*models.CycleCountBatch, error) {
	batch, err := findByID[models.CycleCountBatch](s.db.WithContext(ctx), EntityBatch, id)
	if err != nil {
		return nil, err
	}
	return &batch, nil
}

func (s *Service) ListBatches(ctx context.Context, f BatchFilter) ([]models.CycleCountBatch, error) {
	q := s.db.WithContext(ctx).Order("id ASC")
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.ScheduleID != nil {
		q = q.Where("schedule_id = ?", *f.ScheduleID)
	}
	var batches []models.CycleCountBatch
	if err := q.Find(&batches).Error; err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	return batches, nil
}

func (s *Service) ListItems(ctx context.Context, batchID uint, f ItemFilter) ([]models.CycleCountItem, error) {
	db := s.db.WithContext(ctx)
	if _, err := findByID[models.CycleCountBatch](db, EntityBatch, batchID); err != nil {
		return nil, err
	}

	q := db.Where("batch_id = ?", batchID).Order("id ASC")
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.AssignedTo != nil {
		q = q.Where("assigned_to = ?", *f.AssignedTo)
	}
	var items []models.CycleCountItem
	if err := q.Find(&items).Error; err != nil {
		return nil, fmt.Errorf("list items of batch %d: %w", batchID, err)
	}
	return items, nil
}

func (s *Service) GetItem(ctx context.Context, id uint) (*models.CycleCountItem, error) {
	item, err := findByID[models.CycleCountItem](s.db.WithContext(ctx), EntityItem, id)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Service) BatchProgress(ctx context.Context, batchID uint) (*BatchProgress, error) {
	db := s.db.WithContext(ctx)
	batch, err := findByID[models.CycleCountBatch](db, EntityBatch, batchID)
	if err != nil {
		return nil, err
	}

	var rows []struct {
		Status models.ItemStatus
		N      int64
	}
	if err := db.Model(&models.CycleCountItem{}).
		Select("status, count(*) AS n").
		Where("batch_id = ?", batchID).
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("count items of batch %d: %w", batchID, err)
	}

	p := &BatchProgress{BatchID: batchID, Status: batch.Status}
	for _, r := range rows {
		p.Total += r.N
		switch r.Status {
		case models.ItemPending:
			p.Pending = r.N
		case models.ItemCounted:
			p.Counted = r.N
		case models.ItemSkipped:
			p.Skipped = r.N
		}
	}

	if err := db.Model(&models.CycleCountResult{}).
		Joins("JOIN cycle_count_items ON cycle_count_items.id = cycle_count_results.item_id").
		Where("cycle_count_items.batch_id = ? AND cycle_count_results.has_discrepancy = ?", batchID, true).
		Count(&p.Discrepancies).Error; err != nil {
		return nil, fmt.Errorf("count discrepancies of batch %d: %w", batchID, err)
	}
	return p, nil
}
