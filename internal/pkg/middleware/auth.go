package middleware

import (
	"errors"
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/finpilot/billing/app/models"
	"github.com/finpilot/billing/internal/pkg/database"
)

const subscriberLocalsKey = "SUBSCRIBER"

// BearerAuthMiddleware authenticates requests carrying a subscriber API
// token. The authenticated subscriber is the only identity downstream
// handlers may act on; body fields never override it.
func BearerAuthMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := extractBearerToken(c)
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing bearer token"})
		}

		db := database.GetDB()
		if db == nil {
			log.Print("auth middleware: database unavailable")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Database unavailable"})
		}

		hash := models.HashAPIToken(token)
		var sub models.Subscriber
		if err := db.Where("api_token_hash = ?", hash).First(&sub).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid token"})
			}
			log.Printf("auth middleware: token lookup failed: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Token verification failed"})
		}

		c.Locals(subscriberLocalsKey, sub)
		return c.Next()
	}
}

// AuthenticatedSubscriber returns the subscriber set by the auth
// middleware, or false when the request is unauthenticated.
func AuthenticatedSubscriber(c *fiber.Ctx) (models.Subscriber, bool) {
	sub, ok := c.Locals(subscriberLocalsKey).(models.Subscriber)
	return sub, ok
}

func extractBearerToken(c *fiber.Ctx) string {
	header := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
	if header == "" {
		return ""
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
