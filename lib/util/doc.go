// Package util provides small generic building blocks used across dLink.
//
// The package contains:
//   - mapheap: a keyed min-heap, used by the connection pool to order idle connections by expiry
//   - mpsc: an unbounded lock-free Multi-Producer Single-Consumer queue, used by the
//     event dispatcher as the per-key task queue
//   - statistics: summary statistics and latency percentiles for the perf tooling
package util
