package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/polisai/polis-docmeter/pkg/docstore"
	"github.com/polisai/polis-docmeter/pkg/domain"
	"github.com/polisai/polis-docmeter/pkg/storage"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"
)

const (
	// HeaderContinuation carries the token for the next page of a listing.
	HeaderContinuation = "x-ms-continuation"

	queryContinuation = "ct"
	queryCount        = "_count"
	maxBodyBytes      = 1 << 20
)

// Config holds configuration for creating a Handler.
type Config struct {
	Store  storage.DocumentStore
	Logger *slog.Logger
	// MaxItemCount caps the page size a client may request with _count.
	MaxItemCount int
}

// Handler serves the document API.
type Handler struct {
	store        storage.DocumentStore
	logger       *slog.Logger
	maxItemCount int
	mux          *http.ServeMux
}

// NewHandler constructs the document API handler.
func NewHandler(cfg Config) (*Handler, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("api: document store is required: %w", domain.ErrConfigInvalid)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxItemCount <= 0 {
		cfg.MaxItemCount = 1000
	}

	h := &Handler{
		store:        cfg.Store,
		logger:       logger,
		maxItemCount: cfg.MaxItemCount,
		mux:          http.NewServeMux(),
	}

	h.mux.Handle("GET /{type}/{id}", scoped(InteractionRead, logger, h.read))
	h.mux.Handle("PUT /{type}/{id}", scoped(InteractionUpdate, logger, h.upsert))
	h.mux.Handle("DELETE /{type}/{id}", scoped(InteractionDelete, logger, h.remove))
	h.mux.Handle("GET /{type}", scoped(InteractionSearchType, logger, h.list))
	h.mux.Handle("POST /{type}/$bulk-delete", scoped(InteractionBulkDelete, logger, h.bulkDelete))

	return h, nil
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// Instrumented wraps the handler with OpenTelemetry HTTP server instrumentation.
func (h *Handler) Instrumented() http.Handler {
	return otelhttp.NewHandler(h, "docmeter.data")
}

func (h *Handler) read(w http.ResponseWriter, r *http.Request) {
	doc, err := h.store.Get(r.Context(), r.PathValue("type"), r.PathValue("id"))
	if err != nil {
		h.writeError(r.Context(), w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, doc)
}

func (h *Handler) upsert(w http.ResponseWriter, r *http.Request) {
	resourceType, id := r.PathValue("type"), r.PathValue("id")

	var body map[string]any
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
		h.writeProblem(r.Context(), w, http.StatusBadRequest, "INVALID_BODY", "request body must be a JSON object")
		return
	}
	if bodyID, ok := body["id"].(string); ok && bodyID != id {
		h.writeProblem(r.Context(), w, http.StatusBadRequest, "ID_MISMATCH",
			fmt.Sprintf("body id %q does not match resource id %q", bodyID, id))
		return
	}
	delete(body, "id")

	doc, created, err := h.store.Upsert(r.Context(), docstore.Document{
		ID:           id,
		ResourceType: resourceType,
		Body:         body,
	})
	if err != nil {
		h.writeError(r.Context(), w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	h.writeJSON(w, status, doc)
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Delete(r.Context(), r.PathValue("type"), r.PathValue("id")); err != nil {
		h.writeError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type listResponse struct {
	Items []docstore.Document `json:"items"`
	Count int                 `json:"count"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	maxItems := 0
	if raw := r.URL.Query().Get(queryCount); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.writeProblem(r.Context(), w, http.StatusBadRequest, "INVALID_COUNT", "_count must be a positive integer")
			return
		}
		maxItems = min(n, h.maxItemCount)
	}

	page, err := h.store.List(r.Context(), r.PathValue("type"), r.URL.Query().Get(queryContinuation), maxItems)
	if err != nil {
		h.writeError(r.Context(), w, err)
		return
	}

	if page.ContinuationToken != "" {
		w.Header().Set(HeaderContinuation, page.ContinuationToken)
	}
	items := page.Documents
	if items == nil {
		items = []docstore.Document{}
	}
	h.writeJSON(w, http.StatusOK, listResponse{Items: items, Count: len(items)})
}

func (h *Handler) bulkDelete(w http.ResponseWriter, r *http.Request) {
	removed, err := h.store.DeleteAll(r.Context(), r.PathValue("type"))
	if err != nil {
		h.writeError(r.Context(), w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int{"deleted": removed})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

// writeError maps a store error onto an HTTP status and error body.
func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	var rateLimited *domain.RateLimitedError
	switch {
	case errors.As(err, &rateLimited):
		w.Header().Set("Retry-After", retryAfterSeconds(rateLimited.RetryAfter.Seconds()))
		h.writeProblem(ctx, w, http.StatusTooManyRequests, "RATE_LIMITED", rateLimited.Error())
	case domain.IsInvalidInput(err):
		h.writeProblem(ctx, w, http.StatusBadRequest, "INVALID_INPUT", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		h.writeProblem(ctx, w, http.StatusNotFound, "NOT_FOUND", err.Error())
	default:
		if ce, ok := docstore.AsClientError(err); ok && ce.StatusCode >= 400 && ce.StatusCode < 500 {
			h.writeProblem(ctx, w, ce.StatusCode, "BAD_REQUEST", ce.Message)
			return
		}
		h.logger.Error("request failed", "error", err)
		h.writeProblem(ctx, w, http.StatusInternalServerError, "INTERNAL", "internal server error")
	}
}

func (h *Handler) writeProblem(ctx context.Context, w http.ResponseWriter, status int, code, message string) {
	resp := domain.ErrorResponse{Code: code, Message: message}
	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		resp.TraceID = sc.TraceID().String()
	}
	h.writeJSON(w, status, resp)
}

func retryAfterSeconds(seconds float64) string {
	return strconv.Itoa(int(math.Max(1, math.Ceil(seconds))))
}
