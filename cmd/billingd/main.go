package main

import (
	"fmt"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/finpilot/billing/internal/pkg/cache"
	"github.com/finpilot/billing/internal/pkg/database"
	"github.com/finpilot/billing/internal/pkg/env"
	"github.com/finpilot/billing/internal/pkg/metrics/counter"
	"github.com/finpilot/billing/internal/pkg/router"
	"github.com/finpilot/billing/internal/pkg/statistics"
)

func main() {
	app := NewApplication()
	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4100")))
	log.Fatal(err)
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	app := fiber.New(fiber.Config{
		AppName: "billingd",
		// Webhook payloads are small; keep the body limit tight.
		BodyLimit: 1 << 20,
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// fiber metrics plus billing aggregates, both behind basic auth
	metricsAuth := basicauth.New(basicauth.Config{
		Users: map[string]string{
			"admin": env.GetEnv("METRICS_PASSWORD", "test"),
		},
	})
	app.Get("/metrics", metricsAuth, monitor.New())
	app.Get("/metrics/billing", metricsAuth, func(c *fiber.Ctx) error {
		webhooks, err := counter.Snapshot()
		if err != nil {
			log.Printf("metrics: webhook counter snapshot failed: %v", err)
			webhooks = nil
		}
		return c.JSON(fiber.Map{
			"statistics": statistics.GetStatistics(),
			"webhooks":   webhooks,
		})
	})

	// ROUTER
	router.InstallRouter(app)

	return app
}
