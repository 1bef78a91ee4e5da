package catalog

import (
	"errors"
	"strings"
	"time"

	"inventory-backend/internal/audit"
	"inventory-backend/internal/auth"
	"inventory-backend/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type CreateToolRequest struct {
	ToolNumber   string           `json:"tool_number"`
	SerialNumber string           `json:"serial_number"`
	Description  string           `json:"description"`
	Category     string           `json:"category"`
	Location     string           `json:"location"`
	Quantity     *decimal.Decimal `json:"quantity"` // defaults to 1
	UnitValue    decimal.Decimal  `json:"unit_value"`
}

// UpdateToolRequest is also how an approved adjustment is applied to a tool.
type UpdateToolRequest struct {
	Description *string            `json:"description"`
	Category    *string            `json:"category"`
	Location    *string            `json:"location"`
	Quantity    *decimal.Decimal   `json:"quantity"`
	UnitValue   *decimal.Decimal   `json:"unit_value"`
	Status      *models.ToolStatus `json:"status"`
}

type CreateChemicalRequest struct {
	PartNumber     string          `json:"part_number"`
	LotNumber      string          `json:"lot_number"`
	Description    string          `json:"description"`
	Manufacturer   string          `json:"manufacturer"`
	Category       string          `json:"category"`
	Location       string          `json:"location"`
	Quantity       decimal.Decimal `json:"quantity"`
	Unit           string          `json:"unit"`
	UnitCost       decimal.Decimal `json:"unit_cost"`
	ExpirationDate string          `json:"expiration_date"` // "2026-12-31"
}

type UpdateChemicalRequest struct {
	Description *string          `json:"description"`
	Category    *string          `json:"category"`
	Location    *string          `json:"location"`
	Quantity    *decimal.Decimal `json:"quantity"`
	UnitCost    *decimal.Decimal `json:"unit_cost"`
}

func validToolStatus(s models.ToolStatus) bool {
	switch s {
	case models.ToolAvailable, models.ToolCheckedOut, models.ToolMaintenance, models.ToolRetired:
		return true
	}
	return false
}

// -------------------------
// Tools
// -------------------------

// GET /api/catalog/tools?category=&location=&status=
func ListToolsHandler(db *gorm.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		dbq := db.WithContext(c.UserContext()).Model(&models.Tool{})

		if v := strings.TrimSpace(c.Query("category")); v != "" {
			dbq = dbq.Where("LOWER(category) = LOWER(?)", v)
		}
		if v := strings.TrimSpace(c.Query("location")); v != "" {
			dbq = dbq.Where("LOWER(location) = LOWER(?)", v)
		}
		if v := c.Query("status"); v != "" {
			dbq = dbq.Where("status = ?", v)
		}

		var tools []models.Tool
		if err := dbq.Order("tool_number asc").Find(&tools).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "tools could not be listed")
		}
		return c.JSON(tools)
	}
}

// POST /api/catalog/tools (admin)
func CreateToolHandler(db *gorm.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, err := auth.CurrentUserID(c)
		if err != nil {
			return err
		}

		var body CreateToolRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}

		body.ToolNumber = strings.TrimSpace(body.ToolNumber)
		body.Description = strings.TrimSpace(body.Description)
		if body.ToolNumber == "" || body.Description == "" {
			return fiber.NewError(fiber.StatusBadRequest, "tool_number and description are required")
		}

		qty := decimal.NewFromInt(1)
		if body.Quantity != nil {
			qty = *body.Quantity
		}
		if qty.IsNegative() || body.UnitValue.IsNegative() {
			return fiber.NewError(fiber.StatusBadRequest, "quantity and unit_value must not be negative")
		}

		tool := models.Tool{
			ToolNumber:   body.ToolNumber,
			SerialNumber: strings.TrimSpace(body.SerialNumber),
			Description:  body.Description,
			Category:     strings.TrimSpace(body.Category),
			Location:     strings.TrimSpace(body.Location),
			Quantity:     qty,
			UnitValue:    body.UnitValue,
			Status:       models.ToolAvailable,
		}

		err = db.WithContext(c.UserContext()).Transaction(func(tx *gorm.DB) error {
			var dup int64
			if err := tx.Model(&models.Tool{}).Where("tool_number = ?", tool.ToolNumber).Count(&dup).Error; err != nil {
				return err
			}
			if dup > 0 {
				return fiber.NewError(fiber.StatusConflict, "a tool with this tool_number already exists")
			}
			if err := tx.Create(&tool).Error; err != nil {
				return err
			}
			return audit.WriteLog(tx, audit.LogOptions{
				UserID:      userID,
				EntityType:  "tool",
				EntityID:    tool.ID,
				Action:      models.AuditActionCreate,
				Description: "Tool " + tool.ToolNumber + " created",
				After:       tool,
			})
		})
		if err != nil {
			return catalogError(err, "tool could not be created")
		}

		return c.Status(fiber.StatusCreated).JSON(tool)
	}
}

// PUT /api/catalog/tools/:id (admin)
func UpdateToolHandler(db *gorm.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, err := auth.CurrentUserID(c)
		if err != nil {
			return err
		}
		id, err := c.ParamsInt("id")
		if err != nil || id <= 0 {
			return fiber.NewError(fiber.StatusBadRequest, "invalid id")
		}

		var body UpdateToolRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		if body.Status != nil && !validToolStatus(*body.Status) {
			return fiber.NewError(fiber.StatusBadRequest, "invalid status")
		}
		if (body.Quantity != nil && body.Quantity.IsNegative()) || (body.UnitValue != nil && body.UnitValue.IsNegative()) {
			return fiber.NewError(fiber.StatusBadRequest, "quantity and unit_value must not be negative")
		}

		var tool models.Tool
		err = db.WithContext(c.UserContext()).Transaction(func(tx *gorm.DB) error {
			if err := tx.First(&tool, id).Error; err != nil {
				return err
			}
			before := tool

			if body.Description != nil {
				tool.Description = strings.TrimSpace(*body.Description)
			}
			if body.Category != nil {
				tool.Category = strings.TrimSpace(*body.Category)
			}
			if body.Location != nil {
				tool.Location = strings.TrimSpace(*body.Location)
			}
			if body.Quantity != nil {
				tool.Quantity = *body.Quantity
			}
			if body.UnitValue != nil {
				tool.UnitValue = *body.UnitValue
			}
			if body.Status != nil {
				tool.Status = *body.Status
			}

			if err := tx.Save(&tool).Error; err != nil {
				return err
			}
			return audit.WriteLog(tx, audit.LogOptions{
				UserID:      userID,
				EntityType:  "tool",
				EntityID:    tool.ID,
				Action:      models.AuditActionUpdate,
				Description: "Tool " + tool.ToolNumber + " updated",
				Before:      before,
				After:       tool,
			})
		})
		if err != nil {
			return catalogError(err, "tool could not be updated")
		}

		return c.JSON(tool)
	}
}

// -------------------------
// Chemicals
// -------------------------

// GET /api/catalog/chemicals?category=&location=
func ListChemicalsHandler(db *gorm.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		dbq := db.WithContext(c.UserContext()).Model(&models.Chemical{})

		if v := strings.TrimSpace(c.Query("category")); v != "" {
			dbq = dbq.Where("LOWER(category) = LOWER(?)", v)
		}
		if v := strings.TrimSpace(c.Query("location")); v != "" {
			dbq = dbq.Where("LOWER(location) = LOWER(?)", v)
		}

		var chems []models.Chemical
		if err := dbq.Order("part_number asc, id asc").Find(&chems).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "chemicals could not be listed")
		}
		return c.JSON(chems)
	}
}

// POST /api/catalog/chemicals (admin)
func CreateChemicalHandler(db *gorm.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, err := auth.CurrentUserID(c)
		if err != nil {
			return err
		}

		var body CreateChemicalRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}

		body.PartNumber = strings.TrimSpace(body.PartNumber)
		body.Description = strings.TrimSpace(body.Description)
		body.Unit = strings.TrimSpace(body.Unit)
		if body.PartNumber == "" || body.Description == "" || body.Unit == "" {
			return fiber.NewError(fiber.StatusBadRequest, "part_number, description and unit are required")
		}
		if body.Quantity.IsNegative() || body.UnitCost.IsNegative() {
			return fiber.NewError(fiber.StatusBadRequest, "quantity and unit_cost must not be negative")
		}

		var expires *time.Time
		if body.ExpirationDate != "" {
			d, err := time.Parse("2006-01-02", body.ExpirationDate)
			if err != nil {
				return fiber.NewError(fiber.StatusBadRequest, "expiration_date must be YYYY-MM-DD")
			}
			expires = &d
		}

		chem := models.Chemical{
			PartNumber:     body.PartNumber,
			LotNumber:      strings.TrimSpace(body.LotNumber),
			Description:    body.Description,
			Manufacturer:   strings.TrimSpace(body.Manufacturer),
			Category:       strings.TrimSpace(body.Category),
			Location:       strings.TrimSpace(body.Location),
			Quantity:       body.Quantity,
			Unit:           body.Unit,
			UnitCost:       body.UnitCost,
			ExpirationDate: expires,
		}

		err = db.WithContext(c.UserContext()).Transaction(func(tx *gorm.DB) error {
			if err := tx.Create(&chem).Error; err != nil {
				return err
			}
			return audit.WriteLog(tx, audit.LogOptions{
				UserID:      userID,
				EntityType:  "chemical",
				EntityID:    chem.ID,
				Action:      models.AuditActionCreate,
				Description: "Chemical " + chem.PartNumber + " created",
				After:       chem,
			})
		})
		if err != nil {
			return catalogError(err, "chemical could not be created")
		}

		return c.Status(fiber.StatusCreated).JSON(chem)
	}
}

// PUT /api/catalog/chemicals/:id (admin)
func UpdateChemicalHandler(db *gorm.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, err := auth.CurrentUserID(c)
		if err != nil {
			return err
		}
		id, err := c.ParamsInt("id")
		if err != nil || id <= 0 {
			return fiber.NewError(fiber.StatusBadRequest, "invalid id")
		}

		var body UpdateChemicalRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		if (body.Quantity != nil && body.Quantity.IsNegative()) || (body.UnitCost != nil && body.UnitCost.IsNegative()) {
			return fiber.NewError(fiber.StatusBadRequest, "quantity and unit_cost must not be negative")
		}

		var chem models.Chemical
		err = db.WithContext(c.UserContext()).Transaction(func(tx *gorm.DB) error {
			if err := tx.First(&chem, id).Error; err != nil {
				return err
			}
			before := chem

			if body.Description != nil {
				chem.Description = strings.TrimSpace(*body.Description)
			}
			if body.Category != nil {
				chem.Category = strings.TrimSpace(*body.Category)
			}
			if body.Location != nil {
				chem.Location = strings.TrimSpace(*body.Location)
			}
			if body.Quantity != nil {
				chem.Quantity = *body.Quantity
			}
			if body.UnitCost != nil {
				chem.UnitCost = *body.UnitCost
			}

			if err := tx.Save(&chem).Error; err != nil {
				return err
			}
			return audit.WriteLog(tx, audit.LogOptions{
				UserID:      userID,
				EntityType:  "chemical",
				EntityID:    chem.ID,
				Action:      models.AuditActionUpdate,
				Description: "Chemical " + chem.PartNumber + " updated",
				Before:      before,
				After:       chem,
			})
		})
		if err != nil {
			return catalogError(err, "chemical could not be updated")
		}

		return c.JSON(chem)
	}
}

func catalogError(err error, fallback string) error {
	var ferr *fiber.Error
	if errors.As(err, &ferr) {
		return ferr
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fiber.NewError(fiber.StatusNotFound, "record not found")
	}
	return fiber.NewError(fiber.StatusInternalServerError, fallback)
}
