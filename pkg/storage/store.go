// Package storage exposes resource persistence to the request pipeline. Every
// backend call it issues is metered into the active request scope, and backend
// failures are translated into domain errors.
package storage

import (
	"context"

	"github.com/polisai/polis-docmeter/pkg/docstore"
)

// Page is one page of a resource listing.
type Page struct {
	Documents         []docstore.Document
	ContinuationToken string
}

// DocumentStore exposes persistence operations for resources.
type DocumentStore interface {
	Get(ctx context.Context, resourceType, id string) (*docstore.Document, error)
	Upsert(ctx context.Context, doc docstore.Document) (*docstore.Document, bool, error)
	Delete(ctx context.Context, resourceType, id string) error
	List(ctx context.Context, resourceType, continuation string, maxItems int) (Page, error)
	DeleteAll(ctx context.Context, resourceType string) (int, error)
}
