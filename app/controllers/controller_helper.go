package controllers

import (
	"github.com/finpilot/billing/internal/pkg/billing"
	"github.com/finpilot/billing/internal/pkg/database"
	"github.com/finpilot/billing/internal/pkg/identity"
)

// billingProviders builds the provider clients from environment config.
func billingProviders() billing.Providers {
	return billing.Providers{
		billing.ProviderStripe: billing.NewStripeProvider(billing.NewStripeConfigFromEnv()),
		billing.ProviderPaddle: billing.NewPaddleClientFromEnv(),
	}
}

func checkoutOrchestrator() *billing.CheckoutOrchestrator {
	return billing.NewCheckoutOrchestrator(
		billing.NewRepository(database.GetDB()),
		billingProviders(),
		billing.AllowedHostsFromEnv(),
	)
}

func webhookProcessor() *billing.WebhookProcessor {
	return billing.NewWebhookProcessor(
		billing.NewRepository(database.GetDB()),
		identity.NewDispatcherFromEnv(),
		billing.NewReplayGuard(),
	)
}
