package docstore

import "context"

// Backend is the document store client used by the storage layer.
type Backend interface {
	ReadItem(ctx context.Context, resourceType, id string) (ItemResponse, error)
	UpsertItem(ctx context.Context, doc Document) (ItemResponse, error)
	DeleteItem(ctx context.Context, resourceType, id string) (ItemResponse, error)
	// QueryItems lists one page of documents of resourceType, resuming at
	// continuation when it is non-empty.
	QueryItems(ctx context.Context, resourceType, continuation string, maxItems int) (FeedResponse, error)
	ExecuteProcedure(ctx context.Context, resourceType, name string, args ...any) (ProcedureResponse, error)
}
