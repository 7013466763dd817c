package router

import (
	"github.com/finpilot/billing/app/controllers"
	"github.com/finpilot/billing/internal/pkg/constants"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

type HttpRouter struct {
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	// Webhook endpoints carry no bearer auth; signature verification is
	// the gate. No rate limiter here: providers batch redeliveries and
	// throttling them causes retry storms.
	app.Post(constants.StripeWebhookRoute, controllers.HandleStripeWebhook)
	app.Post(constants.PaddleWebhookRoute, controllers.HandlePaddleWebhook)

	// Public cross-product checkout redirect, rate limited.
	app.Get(constants.CheckoutRedirectRoute, limiter.New(), controllers.HandleCheckoutRedirect)
}

func NewHttpRouter() *HttpRouter {
	return &HttpRouter{}
}
