package domain

import "context"

// Notification is an event delivered through a Publisher.
type Notification interface {
	NotificationName() string
}

// StorageRequestMetrics describes the cost of a single document store call.
// One instance is published per call and never retained afterwards.
type StorageRequestMetrics struct {
	AuditEventType        string
	ResourceType          string
	TotalRequestCharge    float64
	CollectionSizeUsageKB *int64
	ThrottledCount        *int
	RequestCount          int
}

// NotificationName implements Notification.
func (StorageRequestMetrics) NotificationName() string { return "storage.request.metrics" }

// Throttled reports whether the call was rate limited by the backend.
func (m StorageRequestMetrics) Throttled() bool {
	return m.ThrottledCount != nil && *m.ThrottledCount > 0
}

// Publisher delivers notifications to zero or more subscribers.
type Publisher interface {
	// Publish delivers the notification synchronously. Subscriber failures
	// are reported through the returned error.
	Publish(ctx context.Context, n Notification) error
}
