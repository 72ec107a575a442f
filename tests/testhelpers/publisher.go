// Package testhelpers provides shared fakes for storage telemetry tests.
package testhelpers

import (
	"context"
	"sync"

	"github.com/polisai/polis-docmeter/pkg/domain"
)

// CapturingPublisher collects published notifications for assertions in tests.
// When Err is set, notifications are still captured and Err is returned;
// when Panic is set, Publish panics with it after capturing.
type CapturingPublisher struct {
	mu     sync.Mutex
	events []domain.Notification
	Err    error
	Panic  any
}

// NewCapturingPublisher creates an empty capturing publisher.
func NewCapturingPublisher() *CapturingPublisher { return &CapturingPublisher{} }

// Publish implements domain.Publisher.
func (c *CapturingPublisher) Publish(_ context.Context, n domain.Notification) error {
	c.mu.Lock()
	c.events = append(c.events, n)
	err, p := c.Err, c.Panic
	c.mu.Unlock()

	if p != nil {
		panic(p)
	}
	return err
}

// Events returns a copy of the captured notifications.
func (c *CapturingPublisher) Events() []domain.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.Notification, len(c.events))
	copy(out, c.events)
	return out
}

// StorageMetrics returns the captured storage request metrics notifications.
func (c *CapturingPublisher) StorageMetrics() []domain.StorageRequestMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []domain.StorageRequestMetrics
	for _, n := range c.events {
		if m, ok := n.(domain.StorageRequestMetrics); ok {
			out = append(out, m)
		}
	}
	return out
}

// Reset drops captured notifications.
func (c *CapturingPublisher) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = nil
}

// StaticAccessor always resolves to Context, which may be nil.
type StaticAccessor struct {
	Context *domain.RequestContext
}

// RequestContext implements domain.RequestContextAccessor.
func (a StaticAccessor) RequestContext(context.Context) *domain.RequestContext {
	return a.Context
}
