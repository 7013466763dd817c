package controllers

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/finpilot/billing/internal/pkg/billing"
	"github.com/finpilot/billing/internal/pkg/database"
	"github.com/finpilot/billing/internal/pkg/middleware"
	"github.com/finpilot/billing/internal/pkg/usage"
)

const usageDeadline = 10 * time.Second

// HandleGetUsage returns today's per-feature counters and caps for the
// authenticated subscriber.
func HandleGetUsage(c *fiber.Ctx) error {
	sub, ok := middleware.AuthenticatedSubscriber(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), usageDeadline)
	defer cancel()

	meter := usage.NewMeter(database.GetDB())
	features, err := meter.Usage(ctx, sub.ID)
	if err != nil {
		log.Printf("usage: lookup failed for subscriber %d: %v", sub.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"plan":     sub.Plan,
		"features": features,
	})
}

// HandleRecordUsage meters one feature invocation for the authenticated
// subscriber: atomic increment-and-compare, 429 when over the cap.
func HandleRecordUsage(c *fiber.Ctx) error {
	sub, ok := middleware.AuthenticatedSubscriber(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	feature := strings.TrimSpace(c.Params("feature"))
	if feature == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing_feature"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), usageDeadline)
	defer cancel()

	meter := usage.NewMeter(database.GetDB())
	allowed, err := meter.RecordAndCheck(ctx, sub.ID, feature)
	if err != nil {
		if errors.Is(err, usage.ErrSubscriberNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found"})
		}
		log.Printf("usage: record failed for subscriber %d feature %s: %v", sub.ID, feature, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}
	if !allowed {
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "usage_limit_exceeded"})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"recorded": true})
}

// HandleGetBillingHistory returns the subscriber's recent ledger entries.
func HandleGetBillingHistory(c *fiber.Ctx) error {
	sub, ok := middleware.AuthenticatedSubscriber(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	limit := c.QueryInt("limit", 50)

	repo := billing.NewRepository(database.GetDB())
	events, err := repo.ListBillingEvents(sub.ID, limit)
	if err != nil {
		log.Printf("billing: history lookup failed for subscriber %d: %v", sub.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"events": events})
}
