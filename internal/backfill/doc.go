// Package backfill retrieves historical event ranges to fill detected
// gaps.
//
// One Fetcher runs per venue. All gap requests against a venue share a
// single token-bucket rate limiter sized to the venue's published
// limit, so queueing, not failure, is the default behavior under load.
// Transient HTTP failures retry with jittered exponential backoff;
// exhausting retries stalls the gap onto a slower cadence instead of
// failing the process. Ranges the source can no longer produce are
// marked irreparable.
package backfill
