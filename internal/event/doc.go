// Package event defines the canonical market event shared across the
// capture pipeline.
//
// Conventions:
//   - Timestamps: int64 microseconds since Unix epoch
//   - Sequence: venue-assigned, monotonically increasing per (symbol, venue);
//     primary key for ordering and deduplication
//   - Two events with equal sequence are the same event regardless of payload
package event
