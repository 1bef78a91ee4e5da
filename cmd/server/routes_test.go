package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"inventory-backend/internal/auth"
	"inventory-backend/internal/catalog"
	"inventory-backend/internal/config"
	"inventory-backend/internal/cyclecount"
	"inventory-backend/internal/database/dbtest"
	"inventory-backend/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testServer(t *testing.T) (*fiber.App, *config.Config, func(role models.UserRole) string) {
	t.Helper()
	db := dbtest.Open(t)
	logg := logrus.New()
	logg.SetOutput(io.Discard)

	cfg := &config.Config{
		JWTSecret:      "server-test-secret-0123456789abcd",
		CORSOrigins:    "http://localhost:5173",
		MetricsEnabled: true,
		ABC:            config.DefaultABC(),
	}
	svc := cyclecount.NewService(db, catalog.NewStore(db), auth.NewRoleAuthorizer(db), logg, cyclecount.WithABC(cfg.ABC))
	app := newApp(cfg, db, logg, svc)

	tokenFor := func(role models.UserRole) string {
		u := models.User{Name: string(role), Email: string(role) + "@example.com", PasswordHash: "x", Role: role, IsActive: true}
		require.NoError(t, db.Create(&u).Error)
		token, err := auth.GenerateToken(cfg.JWTSecret, &u)
		require.NoError(t, err)
		return token
	}
	return app, cfg, tokenFor
}

func get(t *testing.T, app *fiber.App, path, token string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func TestHealthAndMetrics(t *testing.T) {
	app, _, _ := testServer(t)

	resp := get(t, app, "/health", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "OK", string(body))

	resp = get(t, app, "/metrics", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestProtectedRoutes(t *testing.T) {
	app, _, tokenFor := testServer(t)
	counter := tokenFor(models.RoleCounter)
	manager := tokenFor(models.RoleManager)

	assert.Equal(t, http.StatusUnauthorized, get(t, app, "/api/cycle-counts/batches", "").StatusCode)
	assert.Equal(t, http.StatusOK, get(t, app, "/api/cycle-counts/batches", counter).StatusCode)
	assert.Equal(t, http.StatusOK, get(t, app, "/api/catalog/tools", counter).StatusCode)

	assert.Equal(t, http.StatusForbidden, get(t, app, "/api/audit-logs", counter).StatusCode)
	assert.Equal(t, http.StatusOK, get(t, app, "/api/audit-logs", manager).StatusCode)

	req := httptest.NewRequest(http.MethodPost, "/api/admin/catalog/tools", nil)
	req.Header.Set("Authorization", "Bearer "+manager)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	assert.Equal(t, http.StatusNotFound, get(t, app, "/api/cycle-counts/batches/55", counter).StatusCode)
}

func send(t *testing.T, app *fiber.App, method, path, token string, body any, out any) int {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	if out != nil && resp.StatusCode < 300 {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func login(t *testing.T, app *fiber.App, email, password string) string {
	t.Helper()
	var out struct {
		Token string `json:"token"`
	}
	require.Equal(t, http.StatusOK, send(t, app, http.MethodPost, "/api/auth/login", "",
		map[string]string{"email": email, "password": password}, &out))
	return out.Token
}

// Staff accounts created over the API can run a count and approve its adjustment.
func TestAdminCreatesStaffAndApprovalWorksOverHTTP(t *testing.T) {
	app, _, tokenFor := testServer(t)

	require.Equal(t, http.StatusCreated, send(t, app, http.MethodPost, "/api/auth/register-admin", "",
		map[string]string{"name": "Ada", "email": "ada@example.com", "password": "admin-pass-1"}, nil))
	admin := login(t, app, "ada@example.com", "admin-pass-1")

	newUser := func(name, email string, role models.UserRole) int {
		return send(t, app, http.MethodPost, "/api/admin/users", admin,
			map[string]any{"name": name, "email": email, "password": "staff-pass-1", "role": role}, nil)
	}
	assert.Equal(t, http.StatusCreated, newUser("Mia Manager", "mia@example.com", models.RoleManager))
	assert.Equal(t, http.StatusCreated, newUser("Cal Counter", "cal@example.com", models.RoleCounter))
	assert.Equal(t, http.StatusConflict, newUser("Cal Again", "CAL@example.com", models.RoleCounter))
	assert.Equal(t, http.StatusBadRequest, newUser("Root", "root@example.com", models.RoleAdmin))
	assert.Equal(t, http.StatusBadRequest, newUser("", "blank@example.com", models.RoleCounter))

	outsider := tokenFor(models.RoleManager)
	assert.Equal(t, http.StatusForbidden, send(t, app, http.MethodPost, "/api/admin/users", outsider,
		map[string]any{"name": "Sneaky", "email": "s@example.com", "password": "staff-pass-1", "role": "counter"}, nil))

	var staff []map[string]any
	require.Equal(t, http.StatusOK, send(t, app, http.MethodGet, "/api/admin/users?role=counter", admin, nil, &staff))
	require.Len(t, staff, 1)
	assert.Equal(t, "cal@example.com", staff[0]["email"])
	assert.NotContains(t, staff[0], "PasswordHash")

	manager := login(t, app, "mia@example.com", "staff-pass-1")
	counter := login(t, app, "cal@example.com", "staff-pass-1")

	require.Equal(t, http.StatusCreated, send(t, app, http.MethodPost, "/api/admin/catalog/tools", admin,
		map[string]any{"tool_number": "T-1", "description": "Rivet gun", "location": "Bay 3", "quantity": "2", "unit_value": "150"}, nil))

	var batch models.CycleCountBatch
	require.Equal(t, http.StatusCreated, send(t, app, http.MethodPost, "/api/cycle-counts/batches", manager,
		map[string]any{"name": "Bay 3 sweep"}, &batch))
	var generated struct {
		Items []models.CycleCountItem `json:"items"`
	}
	require.Equal(t, http.StatusCreated, send(t, app, http.MethodPost, fmt.Sprintf("/api/cycle-counts/batches/%d/generate", batch.ID), manager,
		map[string]any{"method": "location", "location": "Bay 3"}, &generated))
	require.Len(t, generated.Items, 1)

	var result models.CycleCountResult
	require.Equal(t, http.StatusCreated, send(t, app, http.MethodPost, fmt.Sprintf("/api/cycle-counts/items/%d/count", generated.Items[0].ID), counter,
		map[string]any{"actual_quantity": "1"}, &result))
	require.True(t, result.HasDiscrepancy)

	var adj models.CycleCountAdjustment
	require.Equal(t, http.StatusCreated, send(t, app, http.MethodPost, fmt.Sprintf("/api/cycle-counts/results/%d/adjustments", result.ID), manager,
		map[string]any{"adjustment_type": "quantity"}, &adj))
	assert.Equal(t, "1", adj.NewValue)

	var logs []map[string]any
	require.Equal(t, http.StatusOK, send(t, app, http.MethodGet, "/api/audit-logs?entity_type=user", admin, nil, &logs))
	require.Len(t, logs, 2)
	assert.NotContains(t, fmt.Sprint(logs), "staff-pass-1")
}
