package cyclecount

import (
	"errors"
	"sort"
	"strings"

	"inventory-backend/internal/auth"
	"inventory-backend/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

type CancelBatchRequest struct {
	Reason string `json:"reason"`
}

type SubmitCountRequest struct {
	ActualQuantity *decimal.Decimal     `json:"actual_quantity"`
	ActualLocation string               `json:"actual_location"`
	Condition      models.ItemCondition `json:"condition"`
	Notes          string               `json:"notes"`
}

type SkipItemRequest struct {
	Reason string `json:"reason"`
}

type ApproveAdjustmentRequest struct {
	AdjustmentType models.AdjustmentType `json:"adjustment_type"`
	OldValue       *string               `json:"old_value"`
	NewValue       *string               `json:"new_value"`
	Notes          string                `json:"notes"`
}

// RegisterRoutes mounts the cycle count API on r. r must already run the JWT middleware.
func RegisterRoutes(r fiber.Router, svc *Service) {
	cc := r.Group("/cycle-counts")

	cc.Post("/schedules", CreateScheduleHandler(svc))
	cc.Get("/schedules", ListSchedulesHandler(svc))
	cc.Get("/schedules/:id", GetScheduleHandler(svc))
	cc.Put("/schedules/:id", UpdateScheduleHandler(svc))
	cc.Delete("/schedules/:id", DeleteScheduleHandler(svc))
	cc.Get("/schedules/:id/batches", ListScheduleBatchesHandler(svc))

	cc.Post("/batches", CreateBatchHandler(svc))
	cc.Get("/batches", ListBatchesHandler(svc))
	cc.Get("/batches/:id", GetBatchHandler(svc))
	cc.Post("/batches/:id/generate", GenerateItemsHandler(svc))
	cc.Post("/batches/:id/cancel", CancelBatchHandler(svc))
	cc.Post("/batches/:id/assign", AssignItemsHandler(svc))
	cc.Post("/batches/:id/items", AddItemHandler(svc))
	cc.Post("/batches/:id/recompute", RecomputeStatusHandler(svc))
	cc.Get("/batches/:id/items", ListBatchItemsHandler(svc))
	cc.Get("/batches/:id/progress", BatchProgressHandler(svc))
	cc.Post("/batches/:id/counts/import", ImportCountSheetHandler(svc))

	cc.Get("/items/:id", GetItemHandler(svc))
	cc.Post("/items/:id/count", SubmitCountHandler(svc))
	cc.Post("/items/:id/skip", SkipItemHandler(svc))
	cc.Get("/items/:id/results", ListItemResultsHandler(svc))

	cc.Get("/results/:id", GetResultHandler(svc))
	cc.Get("/results/:id/adjustments", ListAdjustmentsHandler(svc))
	cc.Post("/results/:id/adjustments", ApproveAdjustmentHandler(svc))
}

// -------------------------
// Helpers
// -------------------------

// httpError maps core errors onto HTTP statuses. Anything unrecognised goes to the app ErrorHandler as a 500.
func httpError(err error) error {
	var (
		verr ValidationError
		nerr NotFoundError
		cerr ConflictError
		aerr AuthorizationError
		ferr *fiber.Error
	)
	switch {
	case errors.As(err, &verr):
		return fiber.NewError(fiber.StatusBadRequest, verr.Error())
	case errors.As(err, &nerr):
		return fiber.NewError(fiber.StatusNotFound, nerr.Error())
	case errors.As(err, &cerr):
		return fiber.NewError(fiber.StatusConflict, cerr.Error())
	case errors.As(err, &aerr):
		return fiber.NewError(fiber.StatusForbidden, aerr.Error())
	case errors.As(err, &ferr):
		return ferr
	}
	return err
}

func paramID(c *fiber.Ctx) (uint, error) {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "invalid id")
	}
	return uint(id), nil
}

func queryUint(c *fiber.Ctx, key string) (*uint, error) {
	if c.Query(key) == "" {
		return nil, nil
	}
	v := c.QueryInt(key, -1)
	if v <= 0 {
		return nil, fiber.NewError(fiber.StatusBadRequest, "invalid "+key)
	}
	u := uint(v)
	return &u, nil
}

// -------------------------
// Schedules
// -------------------------

// POST /api/cycle-counts/schedules
func CreateScheduleHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actorID, err := auth.CurrentUserID(c)
		if err != nil {
			return err
		}

		var body NewSchedule
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		body.CreatedBy = actorID

		schedule, err := svc.CreateSchedule(c.UserContext(), body)
		if err != nil {
			return httpError(err)
		}
		return c.Status(fiber.StatusCreated).JSON(schedule)
	}
}

// GET /api/cycle-counts/schedules?active_only=false
func ListSchedulesHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		schedules, err := svc.ListSchedules(c.UserContext(), c.QueryBool("active_only", true))
		if err != nil {
			return httpError(err)
		}
		return c.JSON(schedules)
	}
}

func GetScheduleHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := paramID(c)
		if err != nil {
			return err
		}
		schedule, err := svc.GetSchedule(c.UserContext(), id)
		if err != nil {
			return httpError(err)
		}
		return c.JSON(schedule)
	}
}

// PUT /api/cycle-counts/schedules/:id
func UpdateScheduleHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actorID, err := auth.CurrentUserID(c)
		if err != nil {
			return err
		}
		id, err := paramID(c)
		if err != nil {
			return err
		}

		var body ScheduleUpdate
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}

		schedule, err := svc.UpdateSchedule(c.UserContext(), actorID, id, body)
		if err != nil {
			return httpError(err)
		}
		return c.JSON(schedule)
	}
}

// DELETE /api/cycle-counts/schedules/:id
func DeleteScheduleHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actorID, err := auth.CurrentUserID(c)
		if err != nil {
			return err
		}
		id, err := paramID(c)
		if err != nil {
			return err
		}

		if err := svc.DeleteSchedule(c.UserContext(), actorID, id); err != nil {
			return httpError(err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

func ListScheduleBatchesHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := paramID(c)
		if err != nil {
			return err
		}
		batches, err := svc.ListScheduleBatches(c.UserContext(), id)
		if err != nil {
			return httpError(err)
		}
		return c.JSON(batches)
	}
}

// -------------------------
// Batches
// -------------------------

// POST /api/cycle-counts/batches
func CreateBatchHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actorID, err := auth.CurrentUserID(c)
		if err != nil {
			return err
		}

		var body NewBatch
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		body.CreatedBy = actorID

		batch, err := svc.CreateBatch(c.UserContext(), body)
		if err != nil {
			return httpError(err)
		}
		return c.Status(fiber.StatusCreated).JSON(batch)
	}
}

// GET /api/cycle-counts/batches?status=&schedule_id=
func ListBatchesHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		scheduleID, err := queryUint(c, "schedule_id")
		if err != nil {
			return err
		}
		batches, err := svc.ListBatches(c.UserContext(), BatchFilter{
			Status:     models.BatchStatus(c.Query("status")),
			ScheduleID: scheduleID,
		})
		if err != nil {
			return httpError(err)
		}
		return c.JSON(batches)
	}
}

func GetBatchHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := paramID(c)
		if err != nil {
			return err
		}
		batch, err := svc.GetBatch(c.UserContext(), id)
		if err != nil {
			return httpError(err)
		}
		return c.JSON(batch)
	}
}

// POST /api/cycle-counts/batches/:id/generate
func GenerateItemsHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actorID, err := auth.CurrentUserID(c)
		if err != nil {
			return err
		}
		id, err := paramID(c)
		if err != nil {
			return err
		}

		var body GenerateParams
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}

		batch, items, err := svc.GenerateItems(c.UserContext(), actorID, id, body)
		if err != nil {
			return httpError(err)
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"batch": batch,
			"items": items,
		})
	}
}

// POST /api/cycle-counts/batches/:id/cancel
func CancelBatchHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actorID, err := auth.CurrentUserID(c)
		if err != nil {
			return err
		}
		id, err := paramID(c)
		if err != nil {
			return err
		}

		var body CancelBatchRequest
		if len(c.Body()) > 0 {
			if err := c.BodyParser(&body); err != nil {
				return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
			}
		}

		batch, err := svc.CancelBatch(c.UserContext(), actorID, id, body.Reason)
		if err != nil {
			return httpError(err)
		}
		return c.JSON(batch)
	}
}

// POST /api/cycle-counts/batches/:id/assign
func AssignItemsHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actorID, err := auth.CurrentUserID(c)
		if err != nil {
			return err
		}
		id, err := paramID(c)
		if err != nil {
			return err
		}

		var body AssignRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}

		n, err := svc.AssignItems(c.UserContext(), actorID, id, body)
		if err != nil {
			return httpError(err)
		}
		return c.JSON(fiber.Map{"assigned": n})
	}
}

// POST /api/cycle-counts/batches/:id/items
func AddItemHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actorID, err := auth.CurrentUserID(c)
		if err != nil {
			return err
		}
		id, err := paramID(c)
		if err != nil {
			return err
		}

		var body AddItemRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}

		item, err := svc.AddItem(c.UserContext(), actorID, id, body)
		if err != nil {
			return httpError(err)
		}
		return c.Status(fiber.StatusCreated).JSON(item)
	}
}

func RecomputeStatusHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := paramID(c)
		if err != nil {
			return err
		}
		batch, err := svc.RecomputeStatus(c.UserContext(), id)
		if err != nil {
			return httpError(err)
		}
		return c.JSON(batch)
	}
}

// GET /api/cycle-counts/batches/:id/items?status=&assigned_to=
func ListBatchItemsHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := paramID(c)
		if err != nil {
			return err
		}
		assignedTo, err := queryUint(c, "assigned_to")
		if err != nil {
			return err
		}

		items, err := svc.ListItems(c.UserContext(), id, ItemFilter{
			Status:     models.ItemStatus(c.Query("status")),
			AssignedTo: assignedTo,
		})
		if err != nil {
			return httpError(err)
		}
		return c.JSON(items)
	}
}

func BatchProgressHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := paramID(c)
		if err != nil {
			return err
		}
		progress, err := svc.BatchProgress(c.UserContext(), id)
		if err != nil {
			return httpError(err)
		}
		return c.JSON(progress)
	}
}

// POST /api/cycle-counts/batches/:id/counts/import (multipart, field "file", .xlsx)
func ImportCountSheetHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actorID, err := auth.CurrentUserID(c)
		if err != nil {
			return err
		}
		id, err := paramID(c)
		if err != nil {
			return err
		}

		fileHeader, err := c.FormFile("file")
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "file is required")
		}
		if !strings.HasSuffix(strings.ToLower(fileHeader.Filename), ".xlsx") {
			return fiber.NewError(fiber.StatusBadRequest, "only .xlsx files can be imported")
		}
		file, err := fileHeader.Open()
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "file could not be opened")
		}
		defer file.Close()

		rows, unreadable, err := ParseCountSheet(file)
		if err != nil {
			return httpError(err)
		}

		report, err := svc.ImportCounts(c.UserContext(), actorID, id, rows)
		if err != nil {
			return httpError(err)
		}
		report.Failed = append(report.Failed, unreadable...)
		sort.SliceStable(report.Failed, func(i, j int) bool { return report.Failed[i].Row < report.Failed[j].Row })
		return c.JSON(report)
	}
}

// -------------------------
// Items & results
// -------------------------

func GetItemHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := paramID(c)
		if err != nil {
			return err
		}
		item, err := svc.GetItem(c.UserContext(), id)
		if err != nil {
			return httpError(err)
		}
		return c.JSON(item)
	}
}

// POST /api/cycle-counts/items/:id/count
func SubmitCountHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actorID, err := auth.CurrentUserID(c)
		if err != nil {
			return err
		}
		id, err := paramID(c)
		if err != nil {
			return err
		}

		var body SubmitCountRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}

		result, err := svc.SubmitCount(c.UserContext(), CountSubmission{
			ItemID:         id,
			CountedBy:      actorID,
			ActualQuantity: body.ActualQuantity,
			ActualLocation: body.ActualLocation,
			Condition:      body.Condition,
			Notes:          body.Notes,
		})
		if err != nil {
			return httpError(err)
		}
		return c.Status(fiber.StatusCreated).JSON(result)
	}
}

// POST /api/cycle-counts/items/:id/skip
func SkipItemHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actorID, err := auth.CurrentUserID(c)
		if err != nil {
			return err
		}
		id, err := paramID(c)
		if err != nil {
			return err
		}

		var body SkipItemRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}

		item, err := svc.SkipItem(c.UserContext(), actorID, id, body.Reason)
		if err != nil {
			return httpError(err)
		}
		return c.JSON(item)
	}
}

func ListItemResultsHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := paramID(c)
		if err != nil {
			return err
		}
		results, err := svc.ListItemResults(c.UserContext(), id)
		if err != nil {
			return httpError(err)
		}
		return c.JSON(results)
	}
}

// GET /api/cycle-counts/results/:id
// The response carries the latest adjustment, if any, next to the result.
func GetResultHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := paramID(c)
		if err != nil {
			return err
		}
		result, err := svc.GetResult(c.UserContext(), id)
		if err != nil {
			return httpError(err)
		}

		latest, err := svc.LatestAdjustment(c.UserContext(), id)
		var nerr NotFoundError
		if err != nil && !errors.As(err, &nerr) {
			return httpError(err)
		}
		return c.JSON(fiber.Map{
			"result":            result,
			"latest_adjustment": latest,
		})
	}
}

// -------------------------
// Adjustments
// -------------------------

func ListAdjustmentsHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := paramID(c)
		if err != nil {
			return err
		}
		adjustments, err := svc.ListAdjustments(c.UserContext(), id)
		if err != nil {
			return httpError(err)
		}
		return c.JSON(adjustments)
	}
}

// POST /api/cycle-counts/results/:id/adjustments
func ApproveAdjustmentHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actorID, err := auth.CurrentUserID(c)
		if err != nil {
			return err
		}
		id, err := paramID(c)
		if err != nil {
			return err
		}

		var body ApproveAdjustmentRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}

		adjustment, err := svc.ApproveAdjustment(c.UserContext(), AdjustmentRequest{
			ResultID:       id,
			ApprovedBy:     actorID,
			AdjustmentType: body.AdjustmentType,
			OldValue:       body.OldValue,
			NewValue:       body.NewValue,
			Notes:          body.Notes,
		})
		if err != nil {
			return httpError(err)
		}
		return c.Status(fiber.StatusCreated).JSON(adjustment)
	}
}
