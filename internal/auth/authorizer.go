package auth

import (
	"context"
	"errors"
	"fmt"

	"inventory-backend/internal/models"

	"gorm.io/gorm"
)

// RoleCapabilities maps each role to what it may do in the cycle count workflow.
var RoleCapabilities = map[models.UserRole][]models.Capability{
	models.RoleAdmin: {
		models.CapManageSchedules,
		models.CapManageBatches,
		models.CapSubmitCounts,
		models.CapApproveAdjustments,
	},
	models.RoleManager: {
		models.CapManageBatches,
		models.CapSubmitCounts,
		models.CapApproveAdjustments,
	},
	models.RoleCounter: {
		models.CapSubmitCounts,
	},
}

func RoleHas(role models.UserRole, capability models.Capability) bool {
	for _, c := range RoleCapabilities[role] {
		if c == capability {
			return true
		}
	}
	return false
}

// RoleAuthorizer answers capability checks from the user's stored role,
// so a role change applies before the user's token expires.
type RoleAuthorizer struct {
	db *gorm.DB
}

func NewRoleAuthorizer(db *gorm.DB) *RoleAuthorizer {
	return &RoleAuthorizer{db: db}
}

func (a *RoleAuthorizer) HasPermission(ctx context.Context, userID uint, capability models.Capability) (bool, error) {
	var user models.User
	err := a.db.WithContext(ctx).Select("id", "role", "is_active").First(&user, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load user %d: %w", userID, err)
	}
	if !user.IsActive {
		return false, nil
	}
	return RoleHas(user.Role, capability), nil
}
