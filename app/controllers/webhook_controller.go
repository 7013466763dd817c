package controllers

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/finpilot/billing/internal/pkg/billing"
	"github.com/finpilot/billing/internal/pkg/metrics/counter"
)

// Providers retry on non-2xx and on received:false, so handlers finish
// within this deadline and translate transient failures explicitly
// instead of hanging or leaking errors.
const webhookDeadline = 15 * time.Second

// HandleStripeWebhook ingests direct-processor events.
func HandleStripeWebhook(c *fiber.Ctx) error {
	provider := billing.NewStripeProvider(billing.NewStripeConfigFromEnv())
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := strings.TrimSpace(c.Get("Stripe-Signature"))

	event, err := provider.ParseWebhookEvent(rawBody, signature)
	return respondWebhook(c, event, err, "stripe")
}

// HandlePaddleWebhook ingests federated-broker events.
func HandlePaddleWebhook(c *fiber.Ctx) error {
	client := billing.NewPaddleClientFromEnv()
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := strings.TrimSpace(c.Get("Paddle-Signature"))

	event, err := client.ParseWebhookEvent(rawBody, signature)
	return respondWebhook(c, event, err, "paddle")
}

func respondWebhook(c *fiber.Ctx, event *billing.NormalizedEvent, parseErr error, providerName string) error {
	if err := counter.AddWebhookReceived(providerName); err != nil {
		log.Printf("webhook: failed to count %s delivery: %v", providerName, err)
	}

	if parseErr != nil {
		// Bad signatures and malformed payloads are permanent: a retry
		// delivers the same bytes, so acknowledge and log instead of
		// inviting a retry storm.
		log.Printf("webhook: dropping %s delivery: %v", providerName, parseErr)
		if err := counter.AddWebhookDropped(providerName, "parse_failed"); err != nil {
			log.Printf("webhook: failed to count dropped %s delivery: %v", providerName, err)
		}
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"received": true})
	}
	if event == nil {
		// Event type we do not handle.
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"received": true})
	}

	ctx, cancel := context.WithTimeout(context.Background(), webhookDeadline)
	defer cancel()

	if err := webhookProcessor().Process(ctx, event); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			log.Printf("webhook: %s event %s timed out", providerName, event.EventID)
		} else {
			log.Printf("webhook: %s event %s failed: %v", providerName, event.EventID, err)
		}
		// Transient internal failure: ask the provider to redeliver.
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"received": false, "error": "processing_failed"})
	}

	if err := counter.AddWebhookProcessed(providerName, event.Kind); err != nil {
		log.Printf("webhook: failed to count processed %s event: %v", providerName, err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"received": true})
}
