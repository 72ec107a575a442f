// Package domain defines the core types shared by the storage telemetry
// components: the per-request context, its ordered response headers, the
// storage metrics notification and the domain errors surfaced to callers.
//
// The package depends only on the standard library. Infrastructure packages
// (docstore, metrics, faults, telemetry, api) depend on it, never the other
// way around.
package domain
