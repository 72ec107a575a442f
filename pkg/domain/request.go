package domain

import "context"

// RequestContext holds the mutable state of a single inbound request that the
// storage layer contributes to. It is created by the request pipeline and only
// read or written by storage components.
type RequestContext struct {
	requestID       string
	resourceType    string
	auditEventType  string
	ResponseHeaders *Headers
}

// NewRequestContext creates the per-request state for a request acting on
// resourceType and audited as auditEventType.
func NewRequestContext(requestID, resourceType, auditEventType string) *RequestContext {
	return &RequestContext{
		requestID:       requestID,
		resourceType:    resourceType,
		auditEventType:  auditEventType,
		ResponseHeaders: NewHeaders(),
	}
}

// RequestID returns the correlation identifier of the request.
func (c *RequestContext) RequestID() string { return c.requestID }

// ResourceType returns the type of resource the request acts on.
func (c *RequestContext) ResourceType() string { return c.resourceType }

// AuditEventType returns the audit classification of the request.
func (c *RequestContext) AuditEventType() string { return c.auditEventType }

type requestContextKey struct{}

// WithRequestContext returns a copy of ctx carrying rc as the active request scope.
func WithRequestContext(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey{}, rc)
}

// RequestContextFrom returns the active request scope carried by ctx, or nil.
func RequestContextFrom(ctx context.Context) *RequestContext {
	if ctx == nil {
		return nil
	}
	rc, _ := ctx.Value(requestContextKey{}).(*RequestContext)
	return rc
}

// RequestContextAccessor resolves the active request scope for a call. A nil
// result means no request scope is active.
type RequestContextAccessor interface {
	RequestContext(ctx context.Context) *RequestContext
}

// ContextAccessor resolves the request scope from the context.Context value
// installed by WithRequestContext.
type ContextAccessor struct{}

// RequestContext implements RequestContextAccessor.
func (ContextAccessor) RequestContext(ctx context.Context) *RequestContext {
	return RequestContextFrom(ctx)
}
