package billing

import "errors"

var (
	// ErrProviderUnavailable marks a transient provider API failure; the
	// caller may retry.
	ErrProviderUnavailable = errors.New("payment provider unavailable")

	// ErrAlreadySubscribed rejects a checkout for a plan at or below the
	// subscriber's current tier.
	ErrAlreadySubscribed = errors.New("already subscribed at or above requested plan")

	// ErrUnknownPlan rejects a checkout whose plan slug maps to no known
	// plan. Caller input error, not a tier conflict.
	ErrUnknownPlan = errors.New("unknown plan slug")

	// ErrUntrustedRedirect rejects a return URL whose host is not on the
	// allow-list. Security rejection, no side effects.
	ErrUntrustedRedirect = errors.New("return url host is not trusted")

	// ErrInvalidSignature marks a webhook payload that failed signature
	// verification. The event is dropped; it will never become valid.
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// ErrUnmappedCustomer means no subscriber maps to the event's customer
	// id. Logged and dropped, never surfaced to the webhook response.
	ErrUnmappedCustomer = errors.New("no subscriber for provider customer id")

	// ErrNotFound is returned for direct subscriber-scoped operations on a
	// missing subscriber.
	ErrNotFound = errors.New("subscriber not found")
)
