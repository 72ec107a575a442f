package docstore

import "net/http"

// StatusTooManyRequests is the status a backend reports when it throttles a call.
const StatusTooManyRequests = http.StatusTooManyRequests

// Response is the closed set of successful backend response shapes. Each
// variant carries only the fields the backend reports for that kind of call.
type Response interface {
	isResponse()
}

// ItemResponse is returned by point operations on a single document.
type ItemResponse struct {
	SessionToken     string
	RequestCharge    float64
	CollectionSizeKB int64
	StatusCode       int
	Document         *Document
}

// FeedResponse is returned by paged listings. Feed pages carry no status.
type FeedResponse struct {
	SessionToken      string
	RequestCharge     float64
	CollectionSizeKB  int64
	Documents         []Document
	ContinuationToken string
}

// ProcedureResponse is returned by stored procedure executions. The backend
// does not report collection usage for procedures.
type ProcedureResponse struct {
	SessionToken  string
	RequestCharge float64
	StatusCode    int
	Result        any
}

func (ItemResponse) isResponse()      {}
func (FeedResponse) isResponse()      {}
func (ProcedureResponse) isResponse() {}

// Document is a stored JSON document.
type Document struct {
	ID           string         `json:"id"`
	ResourceType string         `json:"resourceType"`
	ETag         string         `json:"_etag,omitempty"`
	Body         map[string]any `json:"body,omitempty"`
}
