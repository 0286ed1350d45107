// Package queue provides the bounded-ish handoff buffer used between
// pipeline stages (ingestor → reconciler, backfill → reconciler,
// reconciler → writer).
//
// The buffer grows instead of blocking the producer: a stalled writer
// must never stall the websocket read loop, or the venue disconnects us.
package queue
