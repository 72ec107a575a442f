// Package docstore models the document store backend the service persists
// resources to: the three response shapes a backend call can produce, the
// client error raised on failure, and an in-memory Backend that emulates
// request charges, session tokens, paging and throttling.
package docstore
