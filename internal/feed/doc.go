// Package feed ingests live market events from venue streaming APIs.
//
// Each configured (symbol, venue) pair gets one Ingestor running an
// explicit connection state machine (connecting → live → backing-off →
// closed). Backoff state is data on the cursor, not control flow. The
// ingestor is the only writer of its cursor; everything downstream
// receives events over a buffer.
package feed
