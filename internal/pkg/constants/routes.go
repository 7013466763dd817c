package constants

// Static route constants
const (
	StripeWebhookRoute = "/webhooks/stripe"
	PaddleWebhookRoute = "/webhooks/paddle"

	// Public cross-product checkout redirect.
	CheckoutRedirectRoute = "/billing/checkout"

	APIRoute   = "/api"
	APIv1Route = "/v1"
)
