package controllers

import (
	"context"
	"errors"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/finpilot/billing/internal/pkg/billing"
	"github.com/finpilot/billing/internal/pkg/middleware"
)

const checkoutDeadline = 20 * time.Second

var validate = validator.New()

type checkoutRequestBody struct {
	Plan       string `json:"plan" validate:"required"`
	Product    string `json:"product"`
	Country    string `json:"country"`
	SuccessURL string `json:"success_url" validate:"required,url"`
	CancelURL  string `json:"cancel_url" validate:"omitempty,url"`
	OrgID      string `json:"org_id"`
}

// HandleCreateCheckout builds a checkout session for the authenticated
// subscriber. The subscriber id comes from the bearer session only.
func HandleCreateCheckout(c *fiber.Ctx) error {
	sub, ok := middleware.AuthenticatedSubscriber(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	var body checkoutRequestBody
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_body"})
	}
	if err := validate.Struct(body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_body", "message": err.Error()})
	}

	ctx, cancel := context.WithTimeout(context.Background(), checkoutDeadline)
	defer cancel()

	result, err := checkoutOrchestrator().CreateCheckout(ctx, billing.CheckoutRequest{
		SubscriberID: sub.ID,
		PlanSlug:     body.Plan,
		Product:      body.Product,
		CountryCode:  body.Country,
		SuccessURL:   body.SuccessURL,
		CancelURL:    body.CancelURL,
		OrgID:        body.OrgID,
	})
	if err != nil {
		return respondCheckoutError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(result)
}

// HandleCheckoutRedirect is the public, unauthenticated checkout entry
// used by cross-product redirects. It validates the return URL host
// against the allow-list before doing anything else and answers with a
// 302 to the provider checkout page.
func HandleCheckoutRedirect(c *fiber.Ctx) error {
	plan := strings.TrimSpace(c.Query("plan"))
	returnURL := strings.TrimSpace(c.Query("return_url"))
	rawUserID := strings.TrimSpace(c.Query("user_id"))
	product := strings.TrimSpace(c.Query("product"))

	if plan == "" || returnURL == "" || rawUserID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing_parameters"})
	}
	userID, err := strconv.ParseUint(rawUserID, 10, 64)
	if err != nil || userID == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_user_id"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), checkoutDeadline)
	defer cancel()

	result, err := checkoutOrchestrator().CreatePublicCheckout(ctx, billing.CheckoutRequest{
		SubscriberID: uint(userID),
		PlanSlug:     plan,
		Product:      product,
		CountryCode:  c.Get("CF-IPCountry"),
		SuccessURL:   returnURL,
	})
	if err != nil {
		return respondCheckoutError(c, err)
	}

	// The provider URL is returned verbatim; never rewritten.
	return c.Redirect(result.CheckoutURL, fiber.StatusFound)
}

type portalRequestBody struct {
	ReturnURL string `json:"return_url" validate:"required,url"`
}

// HandleCreatePortal builds a provider billing portal session for the
// authenticated subscriber.
func HandleCreatePortal(c *fiber.Ctx) error {
	sub, ok := middleware.AuthenticatedSubscriber(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	var body portalRequestBody
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_body"})
	}
	if err := validate.Struct(body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_body", "message": err.Error()})
	}

	ctx, cancel := context.WithTimeout(context.Background(), checkoutDeadline)
	defer cancel()

	portalURL, err := checkoutOrchestrator().CreatePortal(ctx, sub.ID, body.ReturnURL)
	if err != nil {
		return respondCheckoutError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"portal_url": portalURL})
}

func respondCheckoutError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, billing.ErrUnknownPlan):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unknown_plan"})
	case errors.Is(err, billing.ErrAlreadySubscribed):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "already_subscribed"})
	case errors.Is(err, billing.ErrUntrustedRedirect):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "untrusted_redirect"})
	case errors.Is(err, billing.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found"})
	case errors.Is(err, billing.ErrProviderUnavailable):
		log.Printf("checkout: provider unavailable: %v", err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "provider_unavailable"})
	default:
		log.Printf("checkout: internal error: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}
}
