package cyclecount

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"inventory-backend/internal/auth"
	"inventory-backend/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-that-is-long-enough-123"

func newTestApp(f *fixture) *fiber.App {
	app := fiber.New()
	api := app.Group("/api", auth.JWTMiddleware(testSecret))
	RegisterRoutes(api, f.svc)
	return app
}

func tokenFor(t *testing.T, f *fixture, userID uint) string {
	t.Helper()
	var u models.User
	require.NoError(t, f.db.First(&u, userID).Error)
	token, err := auth.GenerateToken(testSecret, &u)
	require.NoError(t, err)
	return token
}

func call(t *testing.T, app *fiber.App, method, path, token string, body any, out any) int {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHandlersRequireToken(t *testing.T) {
	f := newFixture(t)
	app := newTestApp(f)

	assert.Equal(t, http.StatusUnauthorized, call(t, app, http.MethodGet, "/api/cycle-counts/schedules", "", nil, nil))
	assert.Equal(t, http.StatusUnauthorized, call(t, app, http.MethodGet, "/api/cycle-counts/schedules", "not-a-jwt", nil, nil))
}

func TestScheduleHandlersStatusMapping(t *testing.T) {
	f := newFixture(t)
	app := newTestApp(f)
	admin := tokenFor(t, f, f.admin)
	manager := tokenFor(t, f, f.manager)

	body := map[string]any{"name": "Monthly tools", "frequency": "monthly", "method": "random"}
	assert.Equal(t, http.StatusForbidden, call(t, app, http.MethodPost, "/api/cycle-counts/schedules", manager, body, nil))

	var created models.CycleCountSchedule
	require.Equal(t, http.StatusCreated, call(t, app, http.MethodPost, "/api/cycle-counts/schedules", admin, body, &created))
	assert.Equal(t, f.admin, created.CreatedBy)

	bad := map[string]any{"name": "Hourly", "frequency": "hourly", "method": "random"}
	assert.Equal(t, http.StatusBadRequest, call(t, app, http.MethodPost, "/api/cycle-counts/schedules", admin, bad, nil))

	assert.Equal(t, http.StatusNotFound, call(t, app, http.MethodGet, "/api/cycle-counts/schedules/999", manager, nil, nil))
	assert.Equal(t, http.StatusBadRequest, call(t, app, http.MethodGet, "/api/cycle-counts/schedules/abc", manager, nil, nil))

	var listed []models.CycleCountSchedule
	require.Equal(t, http.StatusOK, call(t, app, http.MethodGet, "/api/cycle-counts/schedules", manager, nil, &listed))
	assert.Len(t, listed, 1)

	path := fmt.Sprintf("/api/cycle-counts/schedules/%d", created.ID)
	assert.Equal(t, http.StatusNoContent, call(t, app, http.MethodDelete, path, admin, nil, nil))
}

func TestCountingThroughHandlers(t *testing.T) {
	f := newFixture(t)
	app := newTestApp(f)
	manager := tokenFor(t, f, f.manager)
	counter := tokenFor(t, f, f.counter)

	var batch models.CycleCountBatch
	require.Equal(t, http.StatusCreated, call(t, app, http.MethodPost, "/api/cycle-counts/batches", manager,
		map[string]any{"name": "Spot check"}, &batch))
	assert.Equal(t, f.manager, batch.CreatedBy)

	generatePath := fmt.Sprintf("/api/cycle-counts/batches/%d/generate", batch.ID)
	genBody := map[string]any{"method": "category", "category": "sealants"}
	assert.Equal(t, http.StatusForbidden, call(t, app, http.MethodPost, generatePath, counter, genBody, nil))

	var generated struct {
		Batch models.CycleCountBatch  `json:"batch"`
		Items []models.CycleCountItem `json:"items"`
	}
	require.Equal(t, http.StatusCreated, call(t, app, http.MethodPost, generatePath, manager, genBody, &generated))
	require.Len(t, generated.Items, 5)
	assert.Equal(t, models.BatchInProgress, generated.Batch.Status)
	assert.Equal(t, http.StatusConflict, call(t, app, http.MethodPost, generatePath, manager, genBody, nil))

	item := generated.Items[0]
	countPath := fmt.Sprintf("/api/cycle-counts/items/%d/count", item.ID)

	assert.Equal(t, http.StatusBadRequest, call(t, app, http.MethodPost, countPath, counter,
		map[string]any{"actual_quantity": "-1"}, nil))
	// no quantity at all is not a count of zero
	assert.Equal(t, http.StatusBadRequest, call(t, app, http.MethodPost, countPath, counter,
		map[string]any{"actual_location": "Cabinet 1", "condition": "good"}, nil))
	assert.Equal(t, http.StatusBadRequest, call(t, app, http.MethodPost, countPath, counter,
		map[string]any{"actual_quantity": nil}, nil))
	pending, err := f.svc.GetItem(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ItemPending, pending.Status)

	var result models.CycleCountResult
	require.Equal(t, http.StatusCreated, call(t, app, http.MethodPost, countPath, counter,
		map[string]any{"actual_quantity": "0", "notes": "empty shelf"}, &result))
	assert.Equal(t, f.counter, result.CountedBy)
	assert.Equal(t, models.DiscrepancyMissing, result.DiscrepancyType)

	assert.Equal(t, http.StatusConflict, call(t, app, http.MethodPost, countPath, counter,
		map[string]any{"actual_quantity": "2"}, nil))

	adjustPath := fmt.Sprintf("/api/cycle-counts/results/%d/adjustments", result.ID)
	assert.Equal(t, http.StatusForbidden, call(t, app, http.MethodPost, adjustPath, counter,
		map[string]any{"adjustment_type": "status"}, nil))

	var adj models.CycleCountAdjustment
	require.Equal(t, http.StatusCreated, call(t, app, http.MethodPost, adjustPath, manager,
		map[string]any{"adjustment_type": "status"}, &adj))
	assert.Equal(t, "missing", adj.NewValue)

	var detail struct {
		Result           models.CycleCountResult      `json:"result"`
		LatestAdjustment *models.CycleCountAdjustment `json:"latest_adjustment"`
	}
	require.Equal(t, http.StatusOK, call(t, app, http.MethodGet, fmt.Sprintf("/api/cycle-counts/results/%d", result.ID), manager, nil, &detail))
	require.NotNil(t, detail.LatestAdjustment)
	assert.Equal(t, adj.ID, detail.LatestAdjustment.ID)

	skipPath := fmt.Sprintf("/api/cycle-counts/items/%d/skip", generated.Items[1].ID)
	assert.Equal(t, http.StatusBadRequest, call(t, app, http.MethodPost, skipPath, counter, map[string]any{"reason": ""}, nil))
	assert.Equal(t, http.StatusOK, call(t, app, http.MethodPost, skipPath, counter, map[string]any{"reason": "expired, disposed"}, nil))

	var progress BatchProgress
	require.Equal(t, http.StatusOK, call(t, app, http.MethodGet, fmt.Sprintf("/api/cycle-counts/batches/%d/progress", batch.ID), counter, nil, &progress))
	assert.EqualValues(t, 5, progress.Total)
	assert.EqualValues(t, 3, progress.Pending)

	cancelPath := fmt.Sprintf("/api/cycle-counts/batches/%d/cancel", batch.ID)
	var cancelled models.CycleCountBatch
	require.Equal(t, http.StatusOK, call(t, app, http.MethodPost, cancelPath, manager, map[string]any{"reason": "auditor visit"}, &cancelled))
	assert.Equal(t, models.BatchCancelled, cancelled.Status)
	assert.Equal(t, http.StatusConflict, call(t, app, http.MethodPost, cancelPath, manager, nil, nil))
}
