package provider

import (
	"context"
	"sync"
)

// Fake is an in-memory Provider for tests and local development.
type Fake struct {
	mu            sync.RWMutex
	subscriptions map[string]*Subscription
	sessions      map[string]*CheckoutSession
	products      map[string]*Product
}

// NewFake creates an empty fake provider.
func NewFake() *Fake {
	return &Fake{
		subscriptions: make(map[string]*Subscription),
		sessions:      make(map[string]*CheckoutSession),
		products:      make(map[string]*Product),
	}
}

// PutSubscription registers a subscription object.
func (f *Fake) PutSubscription(s *Subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscriptions[s.ID] = s
}

// PutCheckoutSession registers a checkout session object.
func (f *Fake) PutCheckoutSession(s *CheckoutSession) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[s.ID] = s
}

// PutProduct registers a product object.
func (f *Fake) PutProduct(p *Product) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.products[p.ID] = p
}

// Subscription implements Provider.
func (f *Fake) Subscription(_ context.Context, subscriptionID string) (*Subscription, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	s, ok := f.subscriptions[subscriptionID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

// CheckoutSession implements Provider.
func (f *Fake) CheckoutSession(_ context.Context, sessionID string) (*CheckoutSession, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	s, ok := f.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

// Product implements Provider.
func (f *Fake) Product(_ context.Context, productID string) (*Product, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	p, ok := f.products[productID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}
