package auth

import (
	"fmt"
	"strings"

	"inventory-backend/internal/audit"
	"inventory-backend/internal/models"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type CreateUserRequest struct {
	Name     string          `json:"name"`
	Email    string          `json:"email"`
	Password string          `json:"password"`
	Role     models.UserRole `json:"role"`
}

type userView struct {
	ID       uint            `json:"id"`
	Name     string          `json:"name"`
	Email    string          `json:"email"`
	Role     models.UserRole `json:"role"`
	IsActive bool            `json:"is_active"`
}

func viewOf(u models.User) userView {
	return userView{ID: u.ID, Name: u.Name, Email: u.Email, Role: u.Role, IsActive: u.IsActive}
}

// ----------------------------------------
// POST /api/admin/users
// ----------------------------------------

// CreateUserHandler adds a manager or counter account. Admins come only from register-admin.
func CreateUserHandler(db *gorm.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actorID, err := CurrentUserID(c)
		if err != nil {
			return err
		}

		var body CreateUserRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}

		body.Email = strings.ToLower(strings.TrimSpace(body.Email))
		body.Name = strings.TrimSpace(body.Name)
		if body.Name == "" || body.Email == "" || body.Password == "" {
			return fiber.NewError(fiber.StatusBadRequest, "name, email and password are required")
		}
		if len(body.Password) < 8 {
			return fiber.NewError(fiber.StatusBadRequest, "password must be at least 8 characters")
		}
		if body.Role != models.RoleManager && body.Role != models.RoleCounter {
			return fiber.NewError(fiber.StatusBadRequest, "role must be manager or counter")
		}

		var exist int64
		if err := db.Model(&models.User{}).Where("email = ?", body.Email).Count(&exist).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "users could not be checked")
		}
		if exist > 0 {
			return fiber.NewError(fiber.StatusConflict, "email is already registered")
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(body.Password), bcrypt.DefaultCost)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "password could not be hashed")
		}

		user := models.User{
			Name:         body.Name,
			Email:        body.Email,
			PasswordHash: string(hash),
			Role:         body.Role,
			IsActive:     true,
		}
		err = db.Transaction(func(tx *gorm.DB) error {
			if err := tx.Create(&user).Error; err != nil {
				return err
			}
			return audit.WriteLog(tx, audit.LogOptions{
				UserID:      actorID,
				EntityType:  "user",
				EntityID:    user.ID,
				Action:      models.AuditActionCreate,
				Description: fmt.Sprintf("User %s created as %s", user.Email, user.Role),
				After:       viewOf(user),
			})
		})
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "user could not be created")
		}

		return c.Status(fiber.StatusCreated).JSON(viewOf(user))
	}
}

// GET /api/admin/users
func ListUsersHandler(db *gorm.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		q := db.Order("id ASC")
		if role := c.Query("role"); role != "" {
			q = q.Where("role = ?", role)
		}

		var users []models.User
		if err := q.Find(&users).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "users could not be listed")
		}

		out := make([]userView, 0, len(users))
		for _, u := range users {
			out = append(out, viewOf(u))
		}
		return c.JSON(out)
	}
}
