package audit

import (
	"encoding/json"
	"fmt"

	"inventory-backend/internal/models"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type LogOptions struct {
	UserID      uint
	UserName    string
	EntityType  string
	EntityID    uint
	Action      models.AuditAction
	Description string
	Before      any
	After       any
}

// WriteLog appends an audit row using tx, so the row commits or rolls back with the change it describes.
func WriteLog(tx *gorm.DB, opts LogOptions) error {
	before, err := toJSON(opts.Before)
	if err != nil {
		return fmt.Errorf("audit before data: %w", err)
	}
	after, err := toJSON(opts.After)
	if err != nil {
		return fmt.Errorf("audit after data: %w", err)
	}

	userName := opts.UserName
	if userName == "" && opts.UserID != 0 {
		var user models.User
		if err := tx.Select("name").First(&user, opts.UserID).Error; err == nil {
			userName = user.Name
		}
	}

	entry := models.AuditLog{
		UserID:      opts.UserID,
		UserName:    userName,
		EntityType:  opts.EntityType,
		EntityID:    opts.EntityID,
		Action:      opts.Action,
		Description: opts.Description,
		BeforeData:  before,
		AfterData:   after,
	}
	if err := tx.Create(&entry).Error; err != nil {
		return fmt.Errorf("audit log could not be saved: %w", err)
	}
	return nil
}

// jsonb wants the literal null rather than an empty string
func toJSON(v any) (datatypes.JSON, error) {
	if v == nil {
		return datatypes.JSON("null"), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}
