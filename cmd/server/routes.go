package main

import (
	"strings"

	"inventory-backend/internal/audit"
	"inventory-backend/internal/auth"
	"inventory-backend/internal/catalog"
	"inventory-backend/internal/config"
	"inventory-backend/internal/cyclecount"
	"inventory-backend/internal/models"
	"inventory-backend/internal/ratelimit"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

func newApp(cfg *config.Config, db *gorm.DB, logg *logrus.Logger, svc *cyclecount.Service) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			if e, ok := err.(*fiber.Error); ok {
				return c.Status(e.Code).JSON(fiber.Map{
					"error": e.Message,
				})
			}
			config.LogError(logg, "server", c.Route().Path, c.Method()+" "+c.OriginalURL(), nil, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "unexpected server error",
			})
		},
	})

	corsOrigins := strings.Split(cfg.CORSOrigins, ",")
	for i := range corsOrigins {
		corsOrigins[i] = strings.TrimSpace(corsOrigins[i])
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(corsOrigins, ","),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.SendString("OK")
	})
	if cfg.MetricsEnabled {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	}

	api := app.Group("/api", ratelimit.Middleware())

	// Public auth
	api.Post("/auth/register-admin", auth.RegisterAdminHandler(db))
	api.Post("/auth/login", auth.LoginHandler(db, cfg.JWTSecret))

	// Protected
	protected := api.Group("")
	protected.Use(auth.JWTMiddleware(cfg.JWTSecret))

	protected.Get("/auth/me", auth.MeHandler(db))

	// Catalog
	protected.Get("/catalog/tools", catalog.ListToolsHandler(db))
	protected.Get("/catalog/chemicals", catalog.ListChemicalsHandler(db))

	adminRoutes := protected.Group("/admin")
	adminRoutes.Use(auth.RequireRole(models.RoleAdmin))
	adminRoutes.Post("/users", auth.CreateUserHandler(db))
	adminRoutes.Get("/users", auth.ListUsersHandler(db))
	adminRoutes.Post("/catalog/tools", catalog.CreateToolHandler(db))
	adminRoutes.Put("/catalog/tools/:id", catalog.UpdateToolHandler(db))
	adminRoutes.Post("/catalog/chemicals", catalog.CreateChemicalHandler(db))
	adminRoutes.Put("/catalog/chemicals/:id", catalog.UpdateChemicalHandler(db))

	// Cycle counts
	cyclecount.RegisterRoutes(protected, svc)

	// Audit logs
	protected.Get("/audit-logs", auth.RequireRole(models.RoleAdmin, models.RoleManager), audit.ListAuditLogsHandler(db))

	return app
}
