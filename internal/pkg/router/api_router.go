package router

import (
	"github.com/finpilot/billing/app/controllers"
	"github.com/finpilot/billing/internal/pkg/constants"
	"github.com/finpilot/billing/internal/pkg/middleware"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group(constants.APIRoute, limiter.New())
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	v1 := api.Group(constants.APIv1Route, middleware.BearerAuthMiddleware())
	v1.Post("/billing/checkout", controllers.HandleCreateCheckout)
	v1.Post("/billing/portal", controllers.HandleCreatePortal)
	v1.Get("/billing/usage", controllers.HandleGetUsage)
	v1.Post("/billing/usage/:feature", controllers.HandleRecordUsage)
	v1.Get("/billing/history", controllers.HandleGetBillingHistory)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
