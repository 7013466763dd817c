package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/finpilot/billing/app/models"
	"github.com/finpilot/billing/internal/pkg/env"
)

const defaultPaddleAPIBaseURL = "https://api.paddle.com"

// PaddleClient talks to the federated billing broker. The broker routes
// to its own upstream processors by geography, so this client never sees
// card-level detail, only customers, transactions and subscriptions.
type PaddleClient struct {
	APIKey        string
	WebhookSecret string
	APIBaseURL    string
	PriceIDs      map[string]string

	HTTPClient *http.Client
}

func NewPaddleClientFromEnv() *PaddleClient {
	return &PaddleClient{
		APIKey:        strings.TrimSpace(env.GetEnv("PADDLE_API_KEY", "")),
		WebhookSecret: strings.TrimSpace(env.GetEnv("PADDLE_WEBHOOK_SECRET", "")),
		APIBaseURL:    strings.TrimRight(env.GetEnv("PADDLE_API_BASE_URL", defaultPaddleAPIBaseURL), "/"),
		PriceIDs: map[string]string{
			"plus_monthly": strings.TrimSpace(env.GetEnv("PADDLE_PRICE_PLUS_MONTHLY", "")),
			"plus_yearly":  strings.TrimSpace(env.GetEnv("PADDLE_PRICE_PLUS_YEARLY", "")),
			"max_monthly":  strings.TrimSpace(env.GetEnv("PADDLE_PRICE_MAX_MONTHLY", "")),
			"max_yearly":   strings.TrimSpace(env.GetEnv("PADDLE_PRICE_MAX_YEARLY", "")),
		},
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (c *PaddleClient) Name() string {
	return models.BillingProviderPaddle
}

func (c *PaddleClient) EnsureCustomer(ctx context.Context, email, name string, subscriberID uint) (string, error) {
	body := map[string]interface{}{
		"email": email,
		"name":  name,
		"custom_data": map[string]string{
			"subscriber_id": strconv.FormatUint(uint64(subscriberID), 10),
		},
	}

	var out struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := c.doRequest(ctx, http.MethodPost, "/customers", body, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.Data.ID) == "" {
		return "", errors.New("paddle customer response missing id")
	}
	return out.Data.ID, nil
}

func (c *PaddleClient) CreateCheckoutSession(ctx context.Context, in CheckoutParams) (string, error) {
	priceID, ok := c.PriceIDs[strings.ToLower(in.PlanSlug)]
	if !ok || priceID == "" {
		return "", fmt.Errorf("paddle: no price configured for plan %q", in.PlanSlug)
	}

	body := map[string]interface{}{
		"items": []map[string]interface{}{
			{"price_id": priceID, "quantity": 1},
		},
		"customer_id": in.CustomerID,
		"custom_data": map[string]string{
			"subscriber_id": strconv.FormatUint(uint64(in.SubscriberID), 10),
			"plan":          in.PlanSlug,
			"product":       in.Product,
			"org_id":        in.OrgID,
		},
		"checkout": map[string]interface{}{
			"url": in.SuccessURL,
		},
	}

	var out struct {
		Data struct {
			Checkout struct {
				URL string `json:"url"`
			} `json:"checkout"`
		} `json:"data"`
	}
	if err := c.doRequest(ctx, http.MethodPost, "/transactions", body, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.Data.Checkout.URL) == "" {
		return "", errors.New("paddle transaction response missing checkout url")
	}
	return out.Data.Checkout.URL, nil
}

func (c *PaddleClient) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	var out struct {
		Data struct {
			URLs struct {
				General struct {
					Overview string `json:"overview"`
				} `json:"general"`
			} `json:"urls"`
		} `json:"data"`
	}
	path := "/customers/" + customerID + "/portal-sessions"
	if err := c.doRequest(ctx, http.MethodPost, path, map[string]interface{}{}, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.Data.URLs.General.Overview) == "" {
		return "", errors.New("paddle portal session response missing url")
	}
	return out.Data.URLs.General.Overview, nil
}

func (c *PaddleClient) CancelSubscription(ctx context.Context, subscriptionID string) error {
	path := "/subscriptions/" + subscriptionID + "/cancel"
	body := map[string]interface{}{"effective_from": "immediately"}
	return c.doRequest(ctx, http.MethodPost, path, body, nil)
}

func (c *PaddleClient) doRequest(ctx context.Context, method, path string, body, out interface{}) error {
	if strings.TrimSpace(c.APIKey) == "" {
		return errors.New("PADDLE_API_KEY is not configured")
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.APIBaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("paddle %s %s failed: status=%d body=%s", method, path, resp.StatusCode, string(respBody))
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

// ParseWebhookEvent verifies the Paddle-Signature header and normalizes
// the event. A nil event with nil error means the event type is not one
// the processor handles.
func (c *PaddleClient) ParseWebhookEvent(payload []byte, signatureHeader string) (*NormalizedEvent, error) {
	if !VerifyPaddleWebhookSignature(payload, signatureHeader, c.WebhookSecret) {
		return nil, ErrInvalidSignature
	}

	var raw struct {
		EventID   string `json:"event_id"`
		EventType string `json:"event_type"`
		Data      struct {
			ID             string            `json:"id"`
			CustomerID     string            `json:"customer_id"`
			SubscriptionID string            `json:"subscription_id"`
			CustomData     map[string]string `json:"custom_data"`
			CurrencyCode   string            `json:"currency_code"`
			Items          []struct {
				Price struct {
					ID        string `json:"id"`
					UnitPrice struct {
						Amount       string `json:"amount"`
						CurrencyCode string `json:"currency_code"`
					} `json:"unit_price"`
				} `json:"price"`
			} `json:"items"`
			CurrentBillingPeriod struct {
				StartsAt string `json:"starts_at"`
				EndsAt   string `json:"ends_at"`
			} `json:"current_billing_period"`
			Details struct {
				Totals struct {
					Total string `json:"total"`
				} `json:"totals"`
			} `json:"details"`
			Action string `json:"action"`
			Totals struct {
				Total string `json:"total"`
			} `json:"totals"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("paddle: bad webhook payload: %w", err)
	}
	if strings.TrimSpace(raw.EventID) == "" {
		return nil, errors.New("paddle webhook payload missing event_id")
	}

	out := &NormalizedEvent{
		Provider:   models.BillingProviderPaddle,
		EventID:    raw.EventID,
		CustomerID: raw.Data.CustomerID,
		Currency:   strings.ToLower(raw.Data.CurrencyCode),
		RawJSON:    string(payload),
	}
	if cd := raw.Data.CustomData; cd != nil {
		out.PlanSlug = cd["plan"]
		out.OrgID = cd["org_id"]
		out.Product = cd["product"]
		if id, err := strconv.ParseUint(cd["subscriber_id"], 10, 64); err == nil {
			out.SubscriberID = uint(id)
		}
	}

	switch raw.EventType {
	case "subscription.created", "subscription.updated", "subscription.canceled":
		out.SubscriptionID = raw.Data.ID
		if t, err := time.Parse(time.RFC3339, raw.Data.CurrentBillingPeriod.StartsAt); err == nil {
			t = t.UTC()
			out.PeriodStart = &t
		}
		if t, err := time.Parse(time.RFC3339, raw.Data.CurrentBillingPeriod.EndsAt); err == nil {
			t = t.UTC()
			out.PeriodEnd = &t
		}
		if len(raw.Data.Items) > 0 {
			price := raw.Data.Items[0].Price
			out.Amount = paddleAmount(price.UnitPrice.Amount)
			if cc := price.UnitPrice.CurrencyCode; cc != "" {
				out.Currency = strings.ToLower(cc)
			}
			if out.PlanSlug == "" {
				out.PlanSlug = c.planSlugForPrice(price.ID)
			}
		}
		switch raw.EventType {
		case "subscription.created":
			out.Kind = models.BillingEventCreated
		case "subscription.updated":
			out.Kind = models.BillingEventUpdated
		default:
			out.Kind = models.BillingEventCancelled
			out.Amount = decimal.Zero
		}

	case "transaction.completed":
		out.SubscriptionID = raw.Data.SubscriptionID
		out.Amount = paddleAmount(raw.Data.Details.Totals.Total)
		if out.SubscriptionID == "" {
			// One-off checkout: no subscription object yet, the custom
			// data is the only subscriber linkage.
			out.Kind = models.BillingEventCheckoutCompleted
		} else {
			out.Kind = models.BillingEventPaymentSucceeded
		}

	case "transaction.payment_failed":
		out.SubscriptionID = raw.Data.SubscriptionID
		out.Kind = models.BillingEventPaymentFailed
		out.Amount = paddleAmount(raw.Data.Details.Totals.Total)

	case "adjustment.created":
		if raw.Data.Action != "refund" {
			return nil, nil
		}
		out.Kind = models.BillingEventRefunded
		out.Amount = paddleAmount(raw.Data.Totals.Total)

	default:
		return nil, nil
	}

	return out, nil
}

func (c *PaddleClient) planSlugForPrice(priceID string) string {
	for slug, id := range c.PriceIDs {
		if id != "" && id == priceID {
			return slug
		}
	}
	return ""
}

// paddleAmount parses a broker amount string in minor units ("1099").
func paddleAmount(raw string) decimal.Decimal {
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return decimal.Zero
	}
	return decimal.New(n, -2)
}
