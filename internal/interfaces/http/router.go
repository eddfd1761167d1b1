package http

import (
	"os"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/jhoicas/warehouse-monitor/internal/application/usecase"
	"github.com/jhoicas/warehouse-monitor/pkg/config"
	"github.com/jhoicas/warehouse-monitor/pkg/logger"
)

// RouterDeps dependencias para el router.
type RouterDeps struct {
	AppName string
	HTTP    config.HTTPConfig
	Query   *usecase.QueryUseCase
	// IngestState estado del circuit breaker de ingesta para /health; nil si no hay consumidores.
	IngestState func() string
	Log         *logger.Logger
}

// NewApp construye la app Fiber con middlewares, /health, Swagger (si existe el archivo) y rutas de la API.
func NewApp(deps RouterDeps) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:      deps.AppName,
		ReadTimeout:  time.Second * 10,
		WriteTimeout: time.Second * 10,
		IdleTimeout:  time.Second * 60,
	})
	app.Use(recover.New())

	if deps.HTTP.RateLimitRPS > 0 {
		app.Use(NewRateLimiter(deps.HTTP.RateLimitRPS, deps.HTTP.RateLimitBurst).Middleware())
	}

	// Swagger UI: http://localhost:<port>/docs
	if f := deps.HTTP.SwaggerFile; f != "" {
		if _, err := os.Stat(f); err == nil {
			app.Use(swagger.New(swagger.Config{
				BasePath: "/",
				FilePath: f,
				Path:     "docs",
				Title:    "Warehouse Monitor API",
			}))
		}
	}

	app.Get("/health", func(c *fiber.Ctx) error {
		body := fiber.Map{"status": "ok", "service": deps.AppName}
		if deps.IngestState != nil {
			body["ingest_breaker"] = deps.IngestState()
		}
		return c.JSON(body)
	})

	Router(app, deps)
	return app
}

// Router registra las rutas de la API.
func Router(app *fiber.App, deps RouterDeps) {
	api := app.Group("/api")
	h := NewQueryHandler(deps.Query, deps.Log)

	api.Get("/movements/:movement_id", h.GetMovement)
	api.Get("/warehouses/:warehouse_id/products/:product_id", h.GetStock)
}
