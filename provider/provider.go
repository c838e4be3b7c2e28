// Package provider defines the read-only payment-provider collaborator.
//
// The engine only ever reads subscription, checkout-session and product
// objects to resolve plans and workspaces. It never initiates charges or
// portal sessions.
package provider

import (
	"context"
	"errors"
)

// ErrNotFound is returned when the provider has no object with the given id.
var ErrNotFound = errors.New("provider: object not found")

// Subscription is the provider's view of a recurring subscription,
// expanded to include its price and product references.
type Subscription struct {
	ID         string            `json:"id"`
	CustomerID string            `json:"customer_id"`
	Status     string            `json:"status"`
	PriceID    string            `json:"price_id"`
	ProductID  string            `json:"product_id"`
	Interval   string            `json:"interval"` // raw recurring interval: month, year, week, ...
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// CheckoutSession is the provider's view of a completed checkout.
type CheckoutSession struct {
	ID             string            `json:"id"`
	Mode           string            `json:"mode"`           // "subscription", "payment", ...
	PaymentStatus  string            `json:"payment_status"` // "paid", "unpaid", ...
	CustomerID     string            `json:"customer_id"`
	SubscriptionID string            `json:"subscription_id"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// PaidSubscription reports whether the session completed a paid
// subscription checkout.
func (s *CheckoutSession) PaidSubscription() bool {
	return s.Mode == "subscription" && s.PaymentStatus == "paid" && s.SubscriptionID != ""
}

// Product is the provider's product object. Its metadata may advertise the
// canonical plan tier.
type Product struct {
	ID       string            `json:"id"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Provider retrieves billing objects by id.
type Provider interface {
	Subscription(ctx context.Context, subscriptionID string) (*Subscription, error)
	CheckoutSession(ctx context.Context, sessionID string) (*CheckoutSession, error)
	Product(ctx context.Context, productID string) (*Product, error)
}
