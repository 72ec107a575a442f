package storage

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/polisai/polis-docmeter/pkg/docstore"
	"github.com/polisai/polis-docmeter/pkg/domain"
	"github.com/polisai/polis-docmeter/pkg/faults"
	"github.com/polisai/polis-docmeter/pkg/metrics"
)

// MeteredStore implements DocumentStore on top of a docstore.Backend.
type MeteredStore struct {
	backend    docstore.Backend
	metrics    *metrics.Processor
	classifier *faults.Classifier
	logger     *slog.Logger
}

// NewMeteredStore wires a backend to the metrics processor and fault classifier.
func NewMeteredStore(backend docstore.Backend, processor *metrics.Processor, classifier *faults.Classifier, logger *slog.Logger) (*MeteredStore, error) {
	if backend == nil || processor == nil || classifier == nil {
		return nil, fmt.Errorf("metered store: backend, metrics processor and classifier are required: %w", domain.ErrConfigInvalid)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MeteredStore{
		backend:    backend,
		metrics:    processor,
		classifier: classifier,
		logger:     logger,
	}, nil
}

// Get reads a single resource.
func (s *MeteredStore) Get(ctx context.Context, resourceType, id string) (*docstore.Document, error) {
	resp, err := s.backend.ReadItem(ctx, resourceType, id)
	if err != nil {
		return nil, s.fail(ctx, "read", resourceType, id, err)
	}
	s.metrics.RecordResponse(ctx, resp)
	return resp.Document, nil
}

// Upsert creates or replaces a resource. The boolean reports whether the
// resource was created.
func (s *MeteredStore) Upsert(ctx context.Context, doc docstore.Document) (*docstore.Document, bool, error) {
	resp, err := s.backend.UpsertItem(ctx, doc)
	if err != nil {
		return nil, false, s.fail(ctx, "upsert", doc.ResourceType, doc.ID, err)
	}
	s.metrics.RecordResponse(ctx, resp)
	return resp.Document, resp.StatusCode == http.StatusCreated, nil
}

// Delete removes a resource.
func (s *MeteredStore) Delete(ctx context.Context, resourceType, id string) error {
	resp, err := s.backend.DeleteItem(ctx, resourceType, id)
	if err != nil {
		return s.fail(ctx, "delete", resourceType, id, err)
	}
	s.metrics.RecordResponse(ctx, resp)
	return nil
}

// List returns one page of resources of resourceType.
func (s *MeteredStore) List(ctx context.Context, resourceType, continuation string, maxItems int) (Page, error) {
	resp, err := s.backend.QueryItems(ctx, resourceType, continuation, maxItems)
	if err != nil {
		return Page{}, s.fail(ctx, "list", resourceType, "", err)
	}
	s.metrics.RecordResponse(ctx, resp)
	return Page{Documents: resp.Documents, ContinuationToken: resp.ContinuationToken}, nil
}

// DeleteAll removes every resource of resourceType through the bulk delete
// stored procedure and returns how many were removed.
func (s *MeteredStore) DeleteAll(ctx context.Context, resourceType string) (int, error) {
	resp, err := s.backend.ExecuteProcedure(ctx, resourceType, docstore.ProcedureBulkDelete)
	if err != nil {
		return 0, s.fail(ctx, "bulk delete", resourceType, "", err)
	}
	s.metrics.RecordResponse(ctx, resp)

	removed, _ := resp.Result.(int)
	return removed, nil
}

// fail classifies a backend error. Unclassified not-found errors are mapped to
// domain.ErrNotFound; everything else propagates as classified.
func (s *MeteredStore) fail(ctx context.Context, op, resourceType, id string, err error) error {
	classified := s.classifier.Classify(ctx, err)

	if ce, ok := docstore.AsClientError(classified); ok && ce.StatusCode == http.StatusNotFound {
		return &domain.DomainError{
			Err:     domain.ErrNotFound,
			Code:    "NOT_FOUND",
			Message: fmt.Sprintf("%s %s/%s: %s", op, resourceType, id, domain.ErrNotFound),
			Details: map[string]any{"activity_id": ce.ActivityID},
		}
	}

	if classified == err {
		s.logger.Debug("document store call failed",
			"operation", op,
			"resource_type", resourceType,
			"id", id,
			"error", err,
		)
		return fmt.Errorf("%s %s: %w", op, resourceType, err)
	}
	return classified
}
