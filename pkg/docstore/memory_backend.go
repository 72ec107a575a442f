package docstore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/polisai/polis-docmeter/internal/governance"
)

// ProcedureBulkDelete removes every document of the target resource type.
const ProcedureBulkDelete = "bulkDelete"

// ChargeSchedule lists the request units charged per operation.
type ChargeSchedule struct {
	Read         float64 `yaml:"read"`
	Write        float64 `yaml:"write"`
	Delete       float64 `yaml:"delete"`
	QueryBase    float64 `yaml:"query_base"`
	QueryPerItem float64 `yaml:"query_per_item"`
	Procedure    float64 `yaml:"procedure"`
	Throttled    float64 `yaml:"throttled"`
	Failed       float64 `yaml:"failed"`
}

// DefaultChargeSchedule returns the charges used when none are configured.
func DefaultChargeSchedule() ChargeSchedule {
	return ChargeSchedule{
		Read:         1,
		Write:        5.71,
		Delete:       5.71,
		QueryBase:    2.5,
		QueryPerItem: 0.25,
		Procedure:    10,
		Throttled:    0.5,
		Failed:       1,
	}
}

// MemoryBackendConfig configures a MemoryBackend.
type MemoryBackendConfig struct {
	Charges  ChargeSchedule
	PageSize int
	// Limits throttles calls per resource type; governance.WildcardKey
	// applies to every type without its own entry.
	Limits map[string]governance.RateLimiterConfig
}

// MemoryBackend is an in-memory implementation of Backend.
type MemoryBackend struct {
	mu          sync.RWMutex
	collections map[string]map[string]storedDocument
	lsn         int64
	charges     ChargeSchedule
	pageSize    int
	limiter     *governance.RateLimiter
}

type storedDocument struct {
	doc  Document
	size int
}

// NewMemoryBackend creates a new MemoryBackend.
func NewMemoryBackend(cfg MemoryBackendConfig) *MemoryBackend {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	return &MemoryBackend{
		collections: make(map[string]map[string]storedDocument),
		charges:     cfg.Charges,
		pageSize:    cfg.PageSize,
		limiter:     governance.NewRateLimiter(cfg.Limits),
	}
}

// Reconfigure replaces the throttling limits without resetting bucket state.
func (b *MemoryBackend) Reconfigure(limits map[string]governance.RateLimiterConfig) {
	b.limiter.Configure(limits)
}

// LimitStats reports the throttling buckets per partition.
func (b *MemoryBackend) LimitStats() map[string]governance.RateLimitStats {
	return b.limiter.Stats()
}

// ReadItem returns a single document.
func (b *MemoryBackend) ReadItem(ctx context.Context, resourceType, id string) (ItemResponse, error) {
	if err := b.admit(ctx, resourceType); err != nil {
		return ItemResponse{}, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	stored, ok := b.collections[resourceType][id]
	if !ok {
		return ItemResponse{}, b.notFound(resourceType, id)
	}

	doc := stored.doc
	return ItemResponse{
		SessionToken:     b.sessionTokenLocked(),
		RequestCharge:    b.charges.Read,
		CollectionSizeKB: b.collectionSizeLocked(),
		StatusCode:       http.StatusOK,
		Document:         &doc,
	}, nil
}

// UpsertItem creates or replaces a document.
func (b *MemoryBackend) UpsertItem(ctx context.Context, doc Document) (ItemResponse, error) {
	if err := b.admit(ctx, doc.ResourceType); err != nil {
		return ItemResponse{}, err
	}
	if doc.ID == "" || doc.ResourceType == "" {
		return ItemResponse{}, &ClientError{
			StatusCode:    http.StatusBadRequest,
			RequestCharge: b.charges.Failed,
			Message:       "document id and resource type are required",
			ActivityID:    uuid.NewString(),
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.lsn++
	doc.ETag = strconv.Quote(strconv.FormatInt(b.lsn, 10))

	payload, err := json.Marshal(doc)
	if err != nil {
		return ItemResponse{}, fmt.Errorf("encode document: %w", err)
	}

	collection, ok := b.collections[doc.ResourceType]
	if !ok {
		collection = make(map[string]storedDocument)
		b.collections[doc.ResourceType] = collection
	}

	status := http.StatusCreated
	if _, exists := collection[doc.ID]; exists {
		status = http.StatusOK
	}
	collection[doc.ID] = storedDocument{doc: doc, size: len(payload)}

	stored := doc
	return ItemResponse{
		SessionToken:     b.sessionTokenLocked(),
		RequestCharge:    b.charges.Write,
		CollectionSizeKB: b.collectionSizeLocked(),
		StatusCode:       status,
		Document:         &stored,
	}, nil
}

// DeleteItem removes a document.
func (b *MemoryBackend) DeleteItem(ctx context.Context, resourceType, id string) (ItemResponse, error) {
	if err := b.admit(ctx, resourceType); err != nil {
		return ItemResponse{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.collections[resourceType][id]; !ok {
		return ItemResponse{}, b.notFound(resourceType, id)
	}
	delete(b.collections[resourceType], id)
	b.lsn++

	return ItemResponse{
		SessionToken:     b.sessionTokenLocked(),
		RequestCharge:    b.charges.Delete,
		CollectionSizeKB: b.collectionSizeLocked(),
		StatusCode:       http.StatusNoContent,
	}, nil
}

// QueryItems returns one page of documents ordered by id.
func (b *MemoryBackend) QueryItems(ctx context.Context, resourceType, continuation string, maxItems int) (FeedResponse, error) {
	if err := b.admit(ctx, resourceType); err != nil {
		return FeedResponse{}, err
	}

	offset := 0
	if continuation != "" {
		var err error
		offset, err = decodeContinuation(continuation)
		if err != nil {
			return FeedResponse{}, &ClientError{
				StatusCode:    http.StatusBadRequest,
				RequestCharge: b.charges.Failed,
				Message:       fmt.Sprintf("Invalid Continuation Token %q: %v", continuation, err),
				ActivityID:    uuid.NewString(),
			}
		}
	}
	if maxItems <= 0 || maxItems > b.pageSize {
		maxItems = b.pageSize
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	collection := b.collections[resourceType]
	ids := make([]string, 0, len(collection))
	for id := range collection {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	if offset > len(ids) {
		offset = len(ids)
	}
	end := offset + maxItems
	if end > len(ids) {
		end = len(ids)
	}

	docs := make([]Document, 0, end-offset)
	for _, id := range ids[offset:end] {
		docs = append(docs, collection[id].doc)
	}

	next := ""
	if end < len(ids) {
		next = encodeContinuation(end)
	}

	return FeedResponse{
		SessionToken:      b.sessionTokenLocked(),
		RequestCharge:     b.charges.QueryBase + float64(len(docs))*b.charges.QueryPerItem,
		CollectionSizeKB:  b.collectionSizeLocked(),
		Documents:         docs,
		ContinuationToken: next,
	}, nil
}

// ExecuteProcedure runs a named stored procedure scoped to resourceType.
func (b *MemoryBackend) ExecuteProcedure(ctx context.Context, resourceType, name string, _ ...any) (ProcedureResponse, error) {
	if err := b.admit(ctx, resourceType); err != nil {
		return ProcedureResponse{}, err
	}

	switch name {
	case ProcedureBulkDelete:
		b.mu.Lock()
		defer b.mu.Unlock()

		removed := len(b.collections[resourceType])
		delete(b.collections, resourceType)
		b.lsn++

		return ProcedureResponse{
			SessionToken:  b.sessionTokenLocked(),
			RequestCharge: b.charges.Procedure,
			StatusCode:    http.StatusOK,
			Result:        removed,
		}, nil
	default:
		return ProcedureResponse{}, &ClientError{
			StatusCode:    http.StatusNotFound,
			RequestCharge: b.charges.Failed,
			Message:       fmt.Sprintf("stored procedure %q does not exist", name),
			ActivityID:    uuid.NewString(),
		}
	}
}

// admit rejects the call when the context is done or the partition is throttled.
func (b *MemoryBackend) admit(ctx context.Context, resourceType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ok, wait := b.limiter.Reserve(resourceType); !ok {
		return &ClientError{
			StatusCode:    StatusTooManyRequests,
			RequestCharge: b.charges.Throttled,
			RetryAfter:    wait,
			Message:       "Request rate is large. More Request Units may be needed, so no changes were made.",
			ActivityID:    uuid.NewString(),
		}
	}
	return nil
}

func (b *MemoryBackend) notFound(resourceType, id string) error {
	return &ClientError{
		StatusCode:    http.StatusNotFound,
		RequestCharge: b.charges.Failed,
		Message:       fmt.Sprintf("%s/%s does not exist", resourceType, id),
		ActivityID:    uuid.NewString(),
	}
}

func (b *MemoryBackend) sessionTokenLocked() string {
	return "0:" + strconv.FormatInt(b.lsn, 10)
}

func (b *MemoryBackend) collectionSizeLocked() int64 {
	total := 0
	for _, collection := range b.collections {
		for _, stored := range collection {
			total += stored.size
		}
	}
	return int64((total + 1023) / 1024)
}

const continuationPrefix = "offset:"

func encodeContinuation(offset int) string {
	return base64.RawURLEncoding.EncodeToString([]byte(continuationPrefix + strconv.Itoa(offset)))
}

func decodeContinuation(token string) (int, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return 0, fmt.Errorf("decode: %w", err)
	}
	value, ok := strings.CutPrefix(string(raw), continuationPrefix)
	if !ok {
		return 0, fmt.Errorf("unexpected token format")
	}
	offset, err := strconv.Atoi(value)
	if err != nil || offset < 0 {
		return 0, fmt.Errorf("invalid offset %q", value)
	}
	return offset, nil
}
