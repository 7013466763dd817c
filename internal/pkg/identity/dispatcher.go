// Package identity propagates billing tier changes to external identity
// systems. Every call here is best-effort: failures are logged and
// swallowed so webhook and checkout latency never depends on a third
// party's identity service.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/finpilot/billing/internal/pkg/billing"
	"github.com/finpilot/billing/internal/pkg/env"
)

const (
	requestTimeout = 10 * time.Second
	maxAttempts    = 2
)

// Dispatcher pushes role upgrades and tier-change notifications out.
type Dispatcher struct {
	RoleEndpoint   string
	ServiceToken   string
	NotifyEndpoint string
	NotifySecret   string
	ProductRoles   map[string]string

	HTTPClient *http.Client
}

func NewDispatcherFromEnv() *Dispatcher {
	return &Dispatcher{
		RoleEndpoint:   strings.TrimSpace(env.GetEnv("IDENTITY_ROLE_ENDPOINT", "")),
		ServiceToken:   strings.TrimSpace(env.GetEnv("IDENTITY_SERVICE_TOKEN", "")),
		NotifyEndpoint: strings.TrimSpace(env.GetEnv("TIER_NOTIFY_ENDPOINT", "")),
		NotifySecret:   strings.TrimSpace(env.GetEnv("TIER_NOTIFY_SECRET", "")),
		ProductRoles:   productRolesFromEnv(),
		HTTPClient: &http.Client{
			Timeout: requestTimeout,
		},
	}
}

// productRolesFromEnv parses "product:role,product:role" pairs. The map
// is read-only after startup.
func productRolesFromEnv() map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(env.GetEnv("IDENTITY_PRODUCT_ROLES", ""), ",") {
		product, role, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok {
			continue
		}
		product = strings.ToLower(strings.TrimSpace(product))
		role = strings.TrimSpace(role)
		if product != "" && role != "" {
			out[product] = role
		}
	}
	return out
}

// DispatchRoleUpgrade tells the identity service to grant the role mapped
// to a product. Unknown products are a no-op; errors are logged only.
func (d *Dispatcher) DispatchRoleUpgrade(externalUserID, product string) {
	role, ok := d.ProductRoles[strings.ToLower(strings.TrimSpace(product))]
	if !ok {
		return
	}
	if d.RoleEndpoint == "" || d.ServiceToken == "" {
		log.Printf("identity: role endpoint not configured, skipping role %q for %s", role, externalUserID)
		return
	}

	body, _ := json.Marshal(map[string]string{"add_role": role})
	url := strings.TrimRight(d.RoleEndpoint, "/") + "/" + externalUserID

	err := d.post(url, body, func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+d.ServiceToken)
	})
	if err != nil {
		log.Printf("identity: role upgrade %q for %s failed: %v", role, externalUserID, err)
	}
}

// NotifyTierChange posts a signed tier-change notification to the
// companion system. The receiver verifies the HMAC before trusting it.
func (d *Dispatcher) NotifyTierChange(email, plan string) {
	if d.NotifyEndpoint == "" || d.NotifySecret == "" {
		return
	}

	body, _ := json.Marshal(map[string]string{
		"email": email,
		"plan":  plan,
	})
	signature := billing.SignPayload(body, d.NotifySecret)

	err := d.post(d.NotifyEndpoint, body, func(req *http.Request) {
		req.Header.Set("X-Signature", signature)
	})
	if err != nil {
		log.Printf("identity: tier change notification for %s failed: %v", email, err)
	}
}

func (d *Dispatcher) post(url string, body []byte, decorate func(*http.Request)) error {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = d.postOnce(url, body, decorate)
		if lastErr == nil {
			return nil
		}
		if attempt < maxAttempts {
			time.Sleep(time.Duration(attempt) * time.Second)
		}
	}
	return lastErr
}

func (d *Dispatcher) postOnce(url string, body []byte, decorate func(*http.Request)) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	decorate(req)

	resp, err := d.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("status=%d body=%s", resp.StatusCode, string(respBody))
	}
	return nil
}
