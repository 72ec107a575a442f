// Package governance provides the throughput controls the in-memory document
// backend uses to emulate request-unit throttling. Limits can be reconfigured
// at runtime without discarding the state of existing buckets.
package governance
