package cyclecount

import (
	"context"
	"fmt"
	"strings"

	"inventory-backend/internal/audit"
	"inventory-backend/internal/models"

	"gorm.io/gorm"
)

type NewSchedule struct {
	Name        string                `json:"name" validate:"required,max=100"`
	Description string                `json:"description" validate:"max=255"`
	Frequency   models.CountFrequency `json:"frequency" validate:"required,valid"`
	Method      models.SamplingMethod `json:"method" validate:"required,valid"`
	CreatedBy   uint                  `json:"created_by" validate:"required"`
}

// ScheduleUpdate is a partial update; nil fields are left alone.
type ScheduleUpdate struct {
	Name        *string                `json:"name" validate:"omitempty,max=100"`
	Description *string                `json:"description" validate:"omitempty,max=255"`
	Frequency   *models.CountFrequency `json:"frequency" validate:"omitempty,valid"`
	Method      *models.SamplingMethod `json:"method" validate:"omitempty,valid"`
	IsActive    *bool                  `json:"is_active"`
}

func (s *Service) CreateSchedule(ctx context.Context, in NewSchedule) (*models.CycleCountSchedule, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, in.CreatedBy, models.CapManageSchedules); err != nil {
		return nil, err
	}

	schedule := models.CycleCountSchedule{
		Name:        in.Name,
		Description: in.Description,
		Frequency:   in.Frequency,
		Method:      in.Method,
		CreatedBy:   in.CreatedBy,
		IsActive:    true,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&schedule).Error; err != nil {
			return fmt.Errorf("create schedule: %w", err)
		}
		return audit.WriteLog(tx, audit.LogOptions{
			UserID:      in.CreatedBy,
			EntityType:  EntitySchedule,
			EntityID:    schedule.ID,
			Action:      models.AuditActionCreate,
			Description: fmt.Sprintf("Schedule %q created (%s, %s)", schedule.Name, schedule.Frequency, schedule.Method),
			After:       schedule,
		})
	})
	if err != nil {
		return nil, err
	}
	return &schedule, nil
}

func (s *Service) UpdateSchedule(ctx context.Context, actorID, id uint, in ScheduleUpdate) (*models.CycleCountSchedule, error) {
	if in.Name != nil {
		trimmed := strings.TrimSpace(*in.Name)
		if trimmed == "" {
			return nil, ValidationError{Field: "name", Message: "must not be empty"}
		}
		in.Name = &trimmed
	}
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, actorID, models.CapManageSchedules); err != nil {
		return nil, err
	}

	var schedule models.CycleCountSchedule
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		schedule, err = findByID[models.CycleCountSchedule](tx, EntitySchedule, id)
		if err != nil {
			return err
		}
		before := schedule

		updates := map[string]any{}
		if in.Name != nil {
			updates["name"] = *in.Name
		}
		if in.Description != nil {
			updates["description"] = *in.Description
		}
		if in.Frequency != nil {
			updates["frequency"] = *in.Frequency
		}
		if in.Method != nil && *in.Method != schedule.Method {
			var batches int64
			if err := tx.Model(&models.CycleCountBatch{}).Where("schedule_id = ?", id).Count(&batches).Error; err != nil {
				return fmt.Errorf("count batches of schedule %d: %w", id, err)
			}
			if batches > 0 {
				return conflictf("schedule %d is referenced by %d batches, its method cannot change", id, batches)
			}
			updates["method"] = *in.Method
		}
		if in.IsActive != nil {
			updates["is_active"] = *in.IsActive
		}
		if len(updates) == 0 {
			return nil
		}

		if err := tx.Model(&schedule).Updates(updates).Error; err != nil {
			return fmt.Errorf("update schedule %d: %w", id, err)
		}
		if err := tx.First(&schedule, id).Error; err != nil {
			return fmt.Errorf("reload schedule %d: %w", id, err)
		}

		return audit.WriteLog(tx, audit.LogOptions{
			UserID:      actorID,
			EntityType:  EntitySchedule,
			EntityID:    schedule.ID,
			Action:      models.AuditActionUpdate,
			Description: fmt.Sprintf("Schedule %q updated", schedule.Name),
			Before:      before,
			After:       schedule,
		})
	})
	if err != nil {
		return nil, err
	}
	return &schedule, nil
}

// ListSchedules returns schedules in creation order.
func (s *Service) ListSchedules(ctx context.Context, activeOnly bool) ([]models.CycleCountSchedule, error) {
	q := s.db.WithContext(ctx).Order("id ASC")
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	var schedules []models.CycleCountSchedule
	if err := q.Find(&schedules).Error; err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	return schedules, nil
}

func (s *Service) GetSchedule(ctx context.Context, id uint) (*models.CycleCountSchedule, error) {
	schedule, err := findByID[models.CycleCountSchedule](s.db.WithContext(ctx), EntitySchedule, id)
	if err != nil {
		return nil, err
	}
	return &schedule, nil
}

// DeleteSchedule removes a schedule no batch points at. Referenced schedules must be deactivated instead.
func (s *Service) DeleteSchedule(ctx context.Context, actorID, id uint) error {
	if err := s.authorize(ctx, actorID, models.CapManageSchedules); err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		schedule, err := findByID[models.CycleCountSchedule](tx, EntitySchedule, id)
		if err != nil {
			return err
		}

		var batches int64
		if err := tx.Model(&models.CycleCountBatch{}).Where("schedule_id = ?", id).Count(&batches).Error; err != nil {
			return fmt.Errorf("count batches of schedule %d: %w", id, err)
		}
		if batches > 0 {
			return conflictf("schedule %d is referenced by %d batches, deactivate it instead", id, batches)
		}

		if err := tx.Delete(&models.CycleCountSchedule{}, id).Error; err != nil {
			return fmt.Errorf("delete schedule %d: %w", id, err)
		}
		return audit.WriteLog(tx, audit.LogOptions{
			UserID:      actorID,
			EntityType:  EntitySchedule,
			EntityID:    id,
			Action:      models.AuditActionDelete,
			Description: fmt.Sprintf("Schedule %q deleted", schedule.Name),
			Before:      schedule,
		})
	})
}

// ListScheduleBatches returns the batches created from a schedule, oldest first.
func (s *Service) ListScheduleBatches(ctx context.Context, scheduleID uint) ([]models.CycleCountBatch, error) {
	db := s.db.WithContext(ctx)
	if _, err := findByID[models.CycleCountSchedule](db, EntitySchedule, scheduleID); err != nil {
		return nil, err
	}
	var batches []models.CycleCountBatch
	if err := db.Where("schedule_id = ?", scheduleID).Order("id ASC").Find(&batches).Error; err != nil {
		return nil, fmt.Errorf("list batches of schedule %d: %w", scheduleID, err)
	}
	return batches, nil
}
