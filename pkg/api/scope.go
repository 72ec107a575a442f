package api

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/polisai/polis-docmeter/pkg/domain"
)

// HeaderRequestID carries the request identifier on requests and responses.
const HeaderRequestID = "X-Request-ID"

// Interaction names recorded as the audit event type of a request.
const (
	InteractionRead       = "read"
	InteractionUpdate     = "update"
	InteractionDelete     = "delete"
	InteractionSearchType = "search-type"
	InteractionBulkDelete = "bulk-delete"
)

// scoped opens a RequestContext for the duration of next. The resource type
// comes from the {type} path value.
func scoped(interaction string, logger *slog.Logger, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}

		rc := domain.NewRequestContext(requestID, r.PathValue("type"), interaction)
		rc.ResponseHeaders.Set(HeaderRequestID, requestID)

		logger.Debug("request scope opened",
			"request_id", requestID,
			"resource_type", rc.ResourceType(),
			"interaction", interaction,
		)

		next(&headerWriter{ResponseWriter: w, rc: rc}, r.WithContext(domain.WithRequestContext(r.Context(), rc)))
	})
}

// headerWriter copies the request context's response headers, in order, onto
// the response the first time the status line is written.
type headerWriter struct {
	http.ResponseWriter
	rc          *domain.RequestContext
	wroteHeader bool
}

func (w *headerWriter) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true

	h := w.ResponseWriter.Header()
	w.rc.ResponseHeaders.Range(func(key, value string) bool {
		h.Set(key, value)
		return true
	})
	w.ResponseWriter.WriteHeader(code)
}

func (w *headerWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

func (w *headerWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
