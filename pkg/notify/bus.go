// Package notify provides an in-process publish/subscribe bus for domain
// notifications.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/polisai/polis-docmeter/pkg/domain"
)

// ErrNoNotification is returned when Publish is called with a nil notification.
var ErrNoNotification = errors.New("notification is required")

// Handler consumes notifications published on a Bus.
type Handler interface {
	Handle(ctx context.Context, n domain.Notification) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, n domain.Notification) error

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, n domain.Notification) error {
	return f(ctx, n)
}

// Bus delivers each notification synchronously to every subscribed handler in
// subscription order. A failing handler does not prevent delivery to the
// remaining ones; all failures are joined into the returned error.
type Bus struct {
	mu       sync.RWMutex
	handlers []subscription
}

type subscription struct {
	name    string
	handler Handler
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers handler under name, used to attribute failures.
func (b *Bus) Subscribe(name string, handler Handler) {
	if handler == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, subscription{name: name, handler: handler})
}

// Len returns the number of subscribed handlers.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers)
}

// Publish implements domain.Publisher.
func (b *Bus) Publish(ctx context.Context, n domain.Notification) error {
	if n == nil {
		return ErrNoNotification
	}

	b.mu.RLock()
	handlers := make([]subscription, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	var errs []error
	for _, sub := range handlers {
		if err := deliver(ctx, sub, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func deliver(ctx context.Context, sub subscription, n domain.Notification) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber %s panicked handling %s: %v", sub.name, n.NotificationName(), r)
		}
	}()

	if err := sub.handler.Handle(ctx, n); err != nil {
		return fmt.Errorf("subscriber %s handling %s: %w", sub.name, n.NotificationName(), err)
	}
	return nil
}
